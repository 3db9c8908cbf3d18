package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/printer"
	"github.com/aiwatching/accord/pkg/protocol"
)

var withdrawCmd = &cobra.Command{
	Use:   "withdraw <request-id>",
	Short: "Withdraw a pending request this owner created",
	Long: `Withdraw a pending outgoing request before the target owner acts on it.

Withdrawal deletes the record from the local replica and from the hub
clone if it was already delivered there. Once the target owner has
pulled the request, it can no longer be withdrawn - ask them to reject
it instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runWithdraw,
}

func init() {
	rootCmd.AddCommand(withdrawCmd)
}

func runWithdraw(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	id := args[0]
	req, _, err := ws.store.Find(id)
	if err != nil {
		return printer.Error("Request not found", err.Error(), nil)
	}

	if req.From != ws.cfg.Owner {
		return printer.Error("Cannot withdraw request",
			"only the requester can withdraw a request; "+id+" was created by "+req.From,
			[]string{"If you are the target owner, use 'accord reject' instead"})
	}

	if err := ws.store.Withdraw(req); err != nil {
		return printer.Error("Cannot withdraw request", err.Error(), nil)
	}

	// Retract the hub copy too, while it is still sitting undelivered in the
	// target's hub inbox. The deletion is published by the next sync.
	hubLayout := protocol.NewLayout(ws.cfg.HubRoot(ws.root))
	if err := os.Remove(hubLayout.RequestFile(req.To, req.ID)); err != nil && !os.IsNotExist(err) {
		printer.Warning("Could not remove hub copy: %v\n", err)
	}

	printer.Success("Withdrew %s\n", req.ID)
	printer.Info("Run 'accord sync' to publish the withdrawal\n")
	return nil
}
