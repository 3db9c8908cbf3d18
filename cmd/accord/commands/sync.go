package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/git"
	"github.com/aiwatching/accord/internal/printer"
	"github.com/aiwatching/accord/internal/syncer"
)

var (
	syncPullOnly bool
	syncPushOnly bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile this replica with the hub",
	Long: `Pull the latest hub state into this replica, then publish local truth
back out: this owner's inbox records, outgoing requests, archive
entries, contracts and registry entry.

If the hub push is rejected it is retried with a rebase; a rebase that
hits a content conflict stops the sync and leaves the conflict for a
human to resolve in the hub clone.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncPullOnly, "pull-only", false, "Only pull hub state, publish nothing")
	syncCmd.Flags().BoolVar(&syncPushOnly, "push-only", false, "Only publish local truth, pull nothing")
	syncCmd.MarkFlagsMutuallyExclusive("pull-only", "push-only")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	ctx := context.Background()
	hubRoot := ws.cfg.HubRoot(ws.root)
	engine := syncer.New(ws.cfg.Owner, ws.root, hubRoot, &git.CLI{Dir: hubRoot})

	if !syncPushOnly {
		printer.Step("Pulling hub state\n")
		result, err := engine.Pull(ctx)
		if err != nil {
			return syncFailure("Pull failed", err)
		}
		printer.Info("  accepted %d, discarded %d, mirrored %d\n",
			result.Accepted, result.Discarded, result.Mirrored)
	}

	if !syncPullOnly {
		printer.Step("Publishing local truth\n")
		result, err := engine.Push(ctx)
		if err != nil {
			return syncFailure("Push failed", err)
		}
		printer.Info("  delivered %d, updated %d, archived %d, settled %d\n",
			result.Delivered, result.Updated, result.Archived, result.Settled)
		if result.Published {
			printer.Info("  hub commit pushed\n")
		} else {
			printer.Info("  hub already up to date\n")
		}
	}

	printer.Success("Sync complete\n")
	return nil
}

// syncFailure translates sync errors into actionable CLI output.
func syncFailure(title string, err error) error {
	if syncer.IsConflictError(err) {
		return printer.Error(title, err.Error(), []string{
			"Resolve the conflict in the hub clone by hand",
			"Then run 'accord sync' again",
		})
	}
	if syncer.IsSyncError(err) {
		return printer.Error(title, err.Error(), []string{
			"Check connectivity to the hub remote",
			"Run 'accord sync' again once the hub is reachable",
		})
	}
	return printer.Error(title, err.Error(), nil)
}
