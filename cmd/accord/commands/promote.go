package commands

import (
	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/printer"
)

var promoteCmd = &cobra.Command{
	Use:   "promote <contract-path>",
	Short: "Promote a draft contract to stable",
	Long: `Promote one of this owner's contracts from draft to stable, marking it
safe for other owners to build against.

The path is relative to the replica root, e.g.:
  accord promote contracts/payments/charge-api.md`,
	Args: cobra.ExactArgs(1),
	RunE: runPromote,
}

func init() {
	rootCmd.AddCommand(promoteCmd)
}

func runPromote(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	rel := args[0]
	if err := ws.registry.Promote(rel); err != nil {
		return printer.Error("Cannot promote contract", err.Error(), []string{
			"Only your own contracts can be promoted",
			"Only draft contracts are eligible; a proposed contract must be finalized first",
		})
	}

	printer.Success("Promoted %s to stable\n", rel)
	printer.Info("Run 'accord sync' to publish it\n")
	return nil
}
