package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/aiwatching/accord/internal/listing"
	"github.com/aiwatching/accord/internal/printer"
	"github.com/aiwatching/accord/pkg/protocol"
)

var (
	listStatus   string
	listFrom     string
	listTo       string
	listArchived bool
	listJSONL    bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List request records in this replica",
	Long: `List the request records visible in this replica: every owner's inbox,
or the archive with --archived.

Output is a table by default; --jsonl emits line-delimited JSON for
piping into jq or other tools.

Examples:
  accord list
  accord list --status pending --to payments
  accord list --archived --jsonl | jq -r .id`,
	RunE: runList,
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status (pending, approved, in-progress, completed, rejected, failed)")
	listCmd.Flags().StringVar(&listFrom, "from", "", "Filter by requesting owner")
	listCmd.Flags().StringVar(&listTo, "to", "", "Filter by target owner")
	listCmd.Flags().BoolVar(&listArchived, "archived", false, "List the archive instead of the live inboxes")
	listCmd.Flags().BoolVar(&listJSONL, "jsonl", false, "Emit line-delimited JSON instead of a table")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace()
	if err != nil {
		return printer.Error("Not an accord repository", err.Error(), nil)
	}

	filter := listing.Filter{
		Status:   protocol.Status(listStatus),
		From:     listFrom,
		To:       listTo,
		Archived: listArchived,
	}

	requests, skipped, err := listing.Gather(ws.store, filter)
	if err != nil {
		return printer.Error("Failed to list requests", err.Error(), nil)
	}

	if listJSONL {
		return listing.FormatJSONL(os.Stdout, requests)
	}

	listing.FormatTable(os.Stdout, requests, skipped)
	return nil
}
