package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/cascade"
	"github.com/aiwatching/accord/internal/printer"
)

var notifyDepsCmd = &cobra.Command{
	Use:   "notify-deps",
	Short: "Check watched contracts and file change notifications",
	Long: `Compare the contracts this owner depends on against the hashes seen
last time, and file a low-priority notification request into this
owner's own inbox for each contract that changed.

The daemon runs the same check on every tick; this command exists for
one-off runs and for repositories that do not run the daemon.`,
	RunE: runNotifyDeps,
}

func init() {
	rootCmd.AddCommand(notifyDepsCmd)
}

func runNotifyDeps(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	notifier := cascade.New(ws.cfg.Owner, ws.store, ws.registry)
	created, err := notifier.NotifyDependencies()
	if err != nil {
		return printer.Error("Dependency check failed", err.Error(), nil)
	}

	if len(created) == 0 {
		printer.Info("No watched contracts changed\n")
		return nil
	}

	printer.Success("Filed %d notification(s): %s\n", len(created), strings.Join(created, ", "))
	return nil
}
