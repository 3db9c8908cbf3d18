package syncer

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aiwatching/accord/pkg/protocol"
)

// PushResult summarizes what a push exported to the hub.
type PushResult struct {
	// Delivered counts outgoing requests delivered to hub inboxes.
	Delivered int

	// Updated counts inbox records whose local mutations were exported.
	Updated int

	// Archived counts records copied into the hub archive.
	Archived int

	// CleanedUp counts stale hub inbox copies removed after archival.
	CleanedUp int

	// Settled counts outgoing requests resolved because the target owner
	// archived them on the hub.
	Settled int

	// Published is true when a commit was created (there was something new).
	Published bool
}

// Push copies local truth outward and publishes it: the owner's contracts
// and registry entry into their hub namespaces, queued outgoing requests
// into target hub inboxes, local inbox mutations onto the hub copies, and
// archived records into the hub archive (removing any stale hub inbox copy
// so completed work is never re-delivered). The commit is then pushed with
// bounded conflict retry.
func (e *Engine) Push(ctx context.Context) (*PushResult, error) {
	result := &PushResult{}

	if err := e.pushOwned(); err != nil {
		return nil, err
	}

	if err := e.pushRequests(result); err != nil {
		return nil, err
	}

	if err := e.pushArchive(result); err != nil {
		return nil, err
	}

	published, err := e.publish(ctx, fmt.Sprintf("accord: sync from %s", e.owner))
	if err != nil {
		return nil, err
	}

	result.Published = published
	return result, nil
}

// pushOwned exports the local owner's authoritative contract and registry
// files into the hub's owner namespace.
func (e *Engine) pushOwned() error {
	hubLayout := e.hub.Layout()
	localLayout := e.local.Layout()

	if _, err := copyTree(
		localLayout.OwnerContractsDir(e.owner),
		hubLayout.OwnerContractsDir(e.owner),
	); err != nil {
		return fmt.Errorf("failed to export contracts: %w", err)
	}

	src := localLayout.RegistryFile(e.owner)
	if _, err := os.Stat(src); err == nil {
		if err := copyFile(src, hubLayout.RegistryFile(e.owner)); err != nil {
			return fmt.Errorf("failed to export registry entry: %w", err)
		}
	}

	return nil
}

// pushRequests exports request records. Two cases with different write
// rules:
//
//   - records addressed to the local owner (our inbox): we are authoritative
//     for their status, so the hub copy is overwritten
//   - records addressed to others (our outgoing queue): delivered only when
//     the hub has no copy in the target inbox or the archive - after
//     delivery the target owner is authoritative, and archived ids must not
//     be re-delivered. An id the hub has archived is settled locally
//     instead: the outcome lands in the local archive and the queued copy
//     is removed
func (e *Engine) pushRequests(result *PushResult) error {
	owners, err := e.local.Owners()
	if err != nil {
		return err
	}

	for _, owner := range owners {
		requests, parseErrs := e.local.ScanInbox(owner)
		if len(parseErrs) > 0 {
			return fmt.Errorf("refusing to push malformed local record: %w", parseErrs[0])
		}

		for _, req := range requests {
			hubPath := e.hub.Layout().RequestFile(owner, req.ID)

			if owner == e.owner {
				if err := e.hub.Save(hubPath, req); err != nil {
					return fmt.Errorf("failed to export inbox record %s: %w", req.ID, err)
				}
				result.Updated++
				continue
			}

			if e.hub.IsArchived(req.ID) {
				if err := e.settleOutgoing(owner, req.ID); err != nil {
					return err
				}
				result.Settled++
				continue
			}
			if _, err := os.Stat(hubPath); err == nil {
				continue
			}
			if err := e.hub.Save(hubPath, req); err != nil {
				return fmt.Errorf("failed to deliver request %s: %w", req.ID, err)
			}
			result.Delivered++
		}
	}

	return nil
}

// settleOutgoing resolves a delivered outgoing request whose outcome the
// target owner has archived on the hub: the terminal record is copied into
// the local archive and the queued copy is removed, so the request stops
// showing as pending in the local inbox listing.
func (e *Engine) settleOutgoing(target, id string) error {
	if !e.local.IsArchived(id) {
		if err := copyFile(
			e.hub.Layout().ArchiveFile(id),
			e.local.Layout().ArchiveFile(id),
		); err != nil {
			return fmt.Errorf("failed to archive outcome of %s: %w", id, err)
		}
	}

	if err := os.Remove(e.local.Layout().RequestFile(target, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove settled copy of %s: %w", id, err)
	}

	return nil
}

// pushArchive copies locally archived records into the hub archive and
// removes any now-stale copy left in the hub inbox. Both halves are
// idempotent, so an interrupted push can simply run again.
func (e *Engine) pushArchive(result *PushResult) error {
	localArchive := e.local.Layout().ArchiveDir()

	entries, err := os.ReadDir(localArchive)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read local archive: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), protocol.RecordExt) {
			continue
		}
		id := protocol.RequestID(entry.Name())

		if !e.hub.IsArchived(id) {
			if err := copyFile(
				filepath.Join(localArchive, entry.Name()),
				e.hub.Layout().ArchiveFile(id),
			); err != nil {
				return fmt.Errorf("failed to archive %s on hub: %w", id, err)
			}
			result.Archived++
		}

		// Stale inbox cleanup: the terminal record must not be re-delivered
		stale := e.hub.Layout().RequestFile(e.owner, id)
		if err := os.Remove(stale); err == nil {
			result.CleanedUp++
		} else if !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale hub inbox copy of %s: %w", id, err)
		}
	}

	return nil
}

// subdirs lists immediate subdirectory names, tolerating a missing parent.
func subdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// copyTree copies every regular file under src into dst, preserving the
// relative structure. Returns the number of files copied.
func copyTree(src, dst string) (int, error) {
	copied := 0

	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == src {
				return filepath.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if err := copyFile(path, filepath.Join(dst, rel)); err != nil {
			return err
		}
		copied++
		return nil
	})

	return copied, err
}

// copyFile copies one file, creating parent directories. The write is
// temp-then-rename so a crash never leaves a half-written record.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}

// registryOwner extracts the owner from a registry file name.
func registryOwner(name string) string {
	if !strings.HasSuffix(name, protocol.RecordExt) {
		return ""
	}
	return strings.TrimSuffix(name, protocol.RecordExt)
}
