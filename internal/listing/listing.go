// Package listing gathers and formats request records for the CLI.
package listing

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aiwatching/accord/internal/store"
	"github.com/aiwatching/accord/pkg/protocol"
)

// Filter narrows the gathered records. Zero values match everything.
type Filter struct {
	// Status keeps only records with this lifecycle status.
	Status protocol.Status

	// From keeps only records created by this owner.
	From string

	// To keeps only records addressed to this owner.
	To string

	// Archived includes the archive instead of the live inboxes.
	Archived bool
}

// Gather collects requests from every inbox (or from the archive when the
// filter asks for it), applies the filter, and returns them sorted by last
// update, newest first. Malformed records are counted, not fatal.
func Gather(s *store.Store, filter Filter) ([]*protocol.Request, int, error) {
	var requests []*protocol.Request
	skipped := 0

	if filter.Archived {
		archived, n, err := gatherArchive(s)
		if err != nil {
			return nil, 0, err
		}
		requests, skipped = archived, n
	} else {
		owners, err := s.Owners()
		if err != nil {
			return nil, 0, err
		}
		for _, owner := range owners {
			reqs, parseErrs := s.ScanInbox(owner)
			requests = append(requests, reqs...)
			skipped += len(parseErrs)
		}
	}

	var kept []*protocol.Request
	for _, req := range requests {
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.From != "" && req.From != filter.From {
			continue
		}
		if filter.To != "" && req.To != filter.To {
			continue
		}
		kept = append(kept, req)
	}

	sort.Slice(kept, func(i, j int) bool {
		if !kept[i].Updated.Equal(kept[j].Updated) {
			return kept[i].Updated.After(kept[j].Updated)
		}
		return kept[i].ID < kept[j].ID
	})

	return kept, skipped, nil
}

func gatherArchive(s *store.Store) ([]*protocol.Request, int, error) {
	dir := s.Layout().ArchiveDir()

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to read archive: %w", err)
	}

	var requests []*protocol.Request
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), protocol.RecordExt) {
			continue
		}
		req, err := s.Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			skipped++
			continue
		}
		requests = append(requests, req)
	}

	return requests, skipped, nil
}
