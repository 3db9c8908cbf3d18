package commands

import (
	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/printer"
	"github.com/aiwatching/accord/internal/state"
	"github.com/aiwatching/accord/pkg/protocol"
)

var requeueNote string

var requeueCmd = &cobra.Command{
	Use:   "requeue <request-id>",
	Short: "Send an in-progress request back to pending",
	Long: `Return an in-progress request to pending, typically because its
requirements changed after the daemon claimed it. The attempts counter
is reset: prior worker failures no longer predict anything about the
revised work.`,
	Args: cobra.ExactArgs(1),
	RunE: runRequeue,
}

func init() {
	requeueCmd.Flags().StringVar(&requeueNote, "note", "", "Optional note appended to the request body")
	rootCmd.AddCommand(requeueCmd)
}

func runRequeue(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	id := args[0]
	req, err := ws.store.Load(ws.store.Layout().RequestFile(ws.cfg.Owner, id))
	if err != nil {
		return printer.Error("Request not found", err.Error(), []string{
			"Only requests in your own inbox can be requeued",
		})
	}

	if err := state.NewAttended().Requeue(req); err != nil {
		return printer.Error("Cannot requeue request", err.Error(), nil)
	}

	if requeueNote != "" {
		req.AppendSection(protocol.SectionProposedChange, requeueNote)
	}

	if err := ws.store.SaveInbox(req); err != nil {
		return printer.Error("Failed to save request", err.Error(), nil)
	}

	printer.Success("Requeued %s\n", req.ID)
	printer.Info("It needs a fresh 'accord approve' before the daemon picks it up again\n")
	return nil
}
