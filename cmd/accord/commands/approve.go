package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/printer"
	"github.com/aiwatching/accord/internal/registry"
	"github.com/aiwatching/accord/internal/state"
)

var approveCmd = &cobra.Command{
	Use:   "approve <request-id>",
	Short: "Approve a pending request addressed to this owner",
	Long: `Approve a pending request in this owner's inbox, releasing it for the
daemon to claim on its next tick.

Only the target owner of a request can approve it.`,
	Args: cobra.ExactArgs(1),
	RunE: runApprove,
}

func init() {
	rootCmd.AddCommand(approveCmd)
}

func runApprove(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	id := args[0]
	req, err := ws.store.Load(ws.store.Layout().RequestFile(ws.cfg.Owner, id))
	if err != nil {
		return printer.Error("Request not found", err.Error(), []string{
			"Only requests in your own inbox can be approved",
			"Run 'accord sync' first if the request was created elsewhere",
		})
	}

	if err := state.NewAttended().Approve(req); err != nil {
		return printer.Error("Cannot approve request", err.Error(), nil)
	}

	// Approval reserves the related contract: it is annotated proposed under
	// this request until the completed transition clears it. A contract the
	// request will newly create does not exist yet and is skipped.
	if rel := req.RelatedContract; rel != "" && registry.PathOwner(rel) == ws.cfg.Owner {
		if _, err := os.Stat(ws.store.Layout().Abs(rel)); err == nil {
			if err := ws.registry.Annotate(rel, req.ID); err != nil {
				return printer.Error("Cannot reserve related contract", err.Error(), []string{
					"Another in-flight request already proposes changes to this contract",
					"Resolve that request first, then approve again",
				})
			}
		}
	}

	if err := ws.store.SaveInbox(req); err != nil {
		return printer.Error("Failed to save request", err.Error(), nil)
	}

	printer.Success("Approved %s\n", req.ID)
	printer.Info("The daemon will claim it on its next tick (or run 'accord sync' to publish now)\n")
	return nil
}
