package listing

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/aiwatching/accord/pkg/protocol"
)

// FormatTable writes requests as a formatted table to the provided writer.
// Returns the number of rows written.
func FormatTable(w io.Writer, requests []*protocol.Request, skipped int) int {
	if len(requests) == 0 {
		fmt.Fprintln(w, "No requests found")
		return 0
	}

	fmt.Fprintf(w, "%-24s %-12s %-12s %-9s %-12s %-12s %s\n",
		"ID", "STATUS", "TYPE", "PRI", "FROM", "TO", "AGE")
	fmt.Fprintf(w, "%-24s %-12s %-12s %-9s %-12s %-12s %s\n",
		"------------------------", "------------", "------------", "---------", "------------", "------------", "--------")

	for _, req := range requests {
		fmt.Fprintf(w, "%-24s %-12s %-12s %-9s %-12s %-12s %s\n",
			clip(req.ID, 24),
			string(req.Status),
			string(req.Type),
			string(req.Priority),
			clip(req.From, 12),
			clip(req.To, 12),
			formatAge(req.Updated),
		)
	}

	noun := "request"
	if len(requests) != 1 {
		noun = "requests"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(requests), noun)

	if skipped > 0 {
		fmt.Fprintf(w, "(%d malformed records skipped)\n", skipped)
	}

	return len(requests)
}

// row is the JSONL projection of a request. The record's canonical form is
// the YAML front-matter file; this shape exists only for piping into jq.
type row struct {
	ID              string `json:"id"`
	From            string `json:"from"`
	To              string `json:"to"`
	Scope           string `json:"scope"`
	Type            string `json:"type"`
	Priority        string `json:"priority"`
	Status          string `json:"status"`
	Created         string `json:"created"`
	Updated         string `json:"updated"`
	RelatedContract string `json:"related_contract,omitempty"`
	ParentRequest   string `json:"parent_request,omitempty"`
	Attempts        int    `json:"attempts,omitempty"`
}

// FormatJSONL writes requests as line-delimited JSON, one object per line.
func FormatJSONL(w io.Writer, requests []*protocol.Request) error {
	for _, req := range requests {
		data, err := json.Marshal(row{
			ID:              req.ID,
			From:            req.From,
			To:              req.To,
			Scope:           string(req.Scope),
			Type:            string(req.Type),
			Priority:        string(req.Priority),
			Status:          string(req.Status),
			Created:         req.Created.Format(time.RFC3339),
			Updated:         req.Updated.Format(time.RFC3339),
			RelatedContract: req.RelatedContract,
			ParentRequest:   req.ParentRequest,
			Attempts:        req.Attempts,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal request %s: %w", req.ID, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func clip(s string, max int) string {
	if len(s) > max {
		return s[:max-1] + "…"
	}
	return s
}

// formatAge renders how long ago a timestamp was, compactly.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	age := time.Since(t)
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
