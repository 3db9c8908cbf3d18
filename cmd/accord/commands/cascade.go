package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/cascade"
	"github.com/aiwatching/accord/internal/printer"
)

var cascadeTargets []string

var cascadeCmd = &cobra.Command{
	Use:   "cascade <parent-request-id>",
	Short: "Fan a request out to downstream owners",
	Long: `Create child requests for each target owner, linked to the parent by
the parent/child fields. Child ids are derived from the parent id, so
running cascade twice with the same targets creates nothing new.

Example:
  accord cascade req-api-v2 --targets billing,notifications`,
	Args: cobra.ExactArgs(1),
	RunE: runCascade,
}

func init() {
	cascadeCmd.Flags().StringSliceVar(&cascadeTargets, "targets", nil, "Comma-separated owners to fan out to (required)")
	cascadeCmd.MarkFlagRequired("targets")
	rootCmd.AddCommand(cascadeCmd)
}

func runCascade(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	id := args[0]
	parent, _, err := ws.store.Find(id)
	if err != nil {
		return printer.Error("Parent request not found", err.Error(), nil)
	}

	notifier := cascade.New(ws.cfg.Owner, ws.store, ws.registry)
	created, err := notifier.Fanout(parent, cascadeTargets)
	if err != nil {
		return printer.Error("Cascade failed", err.Error(), nil)
	}

	if len(created) == 0 {
		printer.Info("All targets already have a child request, nothing created\n")
		return nil
	}

	printer.Success("Created %d child request(s): %s\n", len(created), strings.Join(created, ", "))
	printer.Info("Run 'accord sync' to deliver them\n")
	return nil
}
