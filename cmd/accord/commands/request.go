package commands

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/printer"
	"github.com/aiwatching/accord/pkg/protocol"
)

var (
	requestID       string
	requestTo       string
	requestType     string
	requestScope    string
	requestPriority string
	requestContract string
	requestWhat     string
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage outgoing work requests",
}

var requestNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create an outgoing request record",
	Long: `Create a request record in the local outgoing queue. The next
'accord sync' (or daemon tick) delivers it to the target owner's hub inbox.

The record body is created with the required sections (What, Proposed
Change, Why, Impact); edit the file to fill them in before syncing.

Examples:
  accord request new --id req-webhook-retry --to payments --type addition \
    --what "Add retry semantics to the webhook delivery endpoint"

  accord request new --id req-drop-v1 --to billing --type deprecation \
    --priority high --contract contracts/billing/api.md`,
	RunE: runRequestNew,
}

func init() {
	requestNewCmd.Flags().StringVar(&requestID, "id", "", "Unique request slug (required)")
	requestNewCmd.Flags().StringVar(&requestTo, "to", "", "Target owner (required)")
	requestNewCmd.Flags().StringVar(&requestType, "type", "addition", "Request type: addition, change, deprecation, bug-report, question, other, command")
	requestNewCmd.Flags().StringVar(&requestScope, "scope", "external", "Request scope: external or internal")
	requestNewCmd.Flags().StringVar(&requestPriority, "priority", "medium", "Priority: low, medium, high, critical")
	requestNewCmd.Flags().StringVar(&requestContract, "contract", "", "Replica-relative path of the related contract")
	requestNewCmd.Flags().StringVar(&requestWhat, "what", "", "Short description for the What section")
	requestNewCmd.MarkFlagRequired("id")
	requestNewCmd.MarkFlagRequired("to")
	requestCmd.AddCommand(requestNewCmd)
	rootCmd.AddCommand(requestCmd)
}

func runRequestNew(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	if ws.store.IsArchived(requestID) {
		printer.Warning("Id %s exists in the archive; this will be treated as a reopened request\n", requestID)
	}

	now := time.Now().UTC().Truncate(time.Second)
	req := &protocol.Request{
		ID:              requestID,
		From:            ws.cfg.Owner,
		To:              requestTo,
		Scope:           protocol.Scope(requestScope),
		Type:            protocol.RequestType(requestType),
		Priority:        protocol.Priority(requestPriority),
		Status:          protocol.StatusPending,
		Created:         now,
		Updated:         now,
		RelatedContract: requestContract,
	}

	what := requestWhat
	if what == "" {
		what = "_Describe the capability you need._"
	}
	req.AppendSection(protocol.SectionWhat, what)
	req.AppendSection(protocol.SectionProposedChange, "_Describe the change you propose._")
	req.AppendSection(protocol.SectionWhy, "_Explain why this is needed now._")
	req.AppendSection(protocol.SectionImpact, "_Who and what is affected._")

	if err := req.Validate(); err != nil {
		return printer.Error("Invalid request", err.Error(), nil)
	}

	if err := ws.store.SaveInbox(req); err != nil {
		return printer.Error("Failed to write request", err.Error(), nil)
	}

	path := ws.store.Layout().RequestFile(req.To, req.ID)
	printer.Success("Created request %s for %s\n", req.ID, req.To)
	printer.Info("\nEdit the body sections, then deliver it:\n")
	printer.Info("  %s\n", path)
	printer.Info("  accord sync\n")
	return nil
}
