package commands

import (
	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/printer"
	"github.com/aiwatching/accord/internal/state"
)

var rejectReason string

var rejectCmd = &cobra.Command{
	Use:   "reject <request-id>",
	Short: "Reject a pending request addressed to this owner",
	Long: `Reject a pending request in this owner's inbox. The reason is recorded
in the request body and travels back to the requester on the next sync;
the record is archived, not deleted.`,
	Args: cobra.ExactArgs(1),
	RunE: runReject,
}

func init() {
	rejectCmd.Flags().StringVar(&rejectReason, "reason", "", "Why the request is being rejected (required)")
	rejectCmd.MarkFlagRequired("reason")
	rootCmd.AddCommand(rejectCmd)
}

func runReject(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	id := args[0]
	req, err := ws.store.Load(ws.store.Layout().RequestFile(ws.cfg.Owner, id))
	if err != nil {
		return printer.Error("Request not found", err.Error(), []string{
			"Only requests in your own inbox can be rejected",
		})
	}

	if err := state.NewAttended().Reject(req, rejectReason); err != nil {
		return printer.Error("Cannot reject request", err.Error(), nil)
	}

	if err := ws.store.Archive(req); err != nil {
		return printer.Error("Failed to archive request", err.Error(), nil)
	}

	printer.Success("Rejected %s\n", req.ID)
	printer.Info("The rejection reaches the requester on the next sync\n")
	return nil
}
