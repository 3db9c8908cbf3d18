package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/git"
	"github.com/aiwatching/accord/internal/printer"
	"github.com/aiwatching/accord/internal/scaffold"
)

var (
	initOwner        string
	initHub          string
	initOrchestrator string
	initForce        bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the accord replica layout in this repository",
	Long: `Initialize the .accord replica layout and a starter accord.yml.

Must run from the root of a git repository - coordination state travels
with the repository history.

Examples:
  accord init --owner payments --hub ../accord-hub --orchestrator platform
  accord init --owner billing --hub ../accord-hub --orchestrator platform --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initOwner, "owner", "", "This repository's owner identity (required)")
	initCmd.Flags().StringVar(&initHub, "hub", "", "Path to the hub clone (required)")
	initCmd.Flags().StringVar(&initOrchestrator, "orchestrator", "", "Owner whose inbox receives escalations (required)")
	initCmd.Flags().BoolVar(&initForce, "force", false, "Reinitialize over an existing configuration")
	initCmd.MarkFlagRequired("owner")
	initCmd.MarkFlagRequired("hub")
	initCmd.MarkFlagRequired("orchestrator")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	if err := git.ValidateContext(context.Background(), cwd); err != nil {
		return printer.Error("Cannot initialize here", err.Error(), nil)
	}

	if err := scaffold.Initialize(cwd, initOwner, initHub, initOrchestrator, initForce); err != nil {
		return printer.Error("Initialization failed", err.Error(), nil)
	}

	printer.Success("Initialized accord for owner '%s'\n", initOwner)
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Commit accord.yml and the .accord/ directory\n")
	printer.Info("  2. Write your registry entry: .accord/registry/%s.md\n", initOwner)
	printer.Info("  3. Create a request: accord request new --to <owner> ...\n")
	return nil
}
