package syncer

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
)

// PullResult summarizes what a pull brought into the local replica.
type PullResult struct {
	// Accepted counts records imported into the local inbox.
	Accepted int

	// Discarded counts stale duplicates dropped under the reopen rule.
	Discarded int

	// Mirrored counts contract and registry files refreshed from the hub.
	Mirrored int
}

// Pull fetches the latest hub history and merges remote state inward:
// records addressed to the local owner into the local inbox (honoring the
// reopen rule), and other owners' contracts and registry entries into local
// mirrors. The local owner's own authoritative files are never touched.
func (e *Engine) Pull(ctx context.Context) (*PullResult, error) {
	// Rebase rather than ff-only: the clone may hold commits not yet
	// published by an earlier push attempt.
	if err := e.runner.PullRebase(ctx); err != nil {
		conflicts, confErr := e.runner.Conflicts(ctx)
		if confErr == nil && len(conflicts) > 0 {
			if abortErr := e.runner.AbortRebase(ctx); abortErr != nil {
				return nil, fmt.Errorf("pull conflict and abort failed: %w", abortErr)
			}
			return nil, &ConflictError{Paths: conflicts}
		}
		return nil, fmt.Errorf("failed to pull hub history: %w", err)
	}

	result := &PullResult{}

	if err := e.pullInbox(result); err != nil {
		return nil, err
	}

	if err := e.pullMirrors(result); err != nil {
		return nil, err
	}

	return result, nil
}

// pullInbox imports hub records addressed to the local owner.
func (e *Engine) pullInbox(result *PullResult) error {
	requests, parseErrs := e.hub.ScanInbox(e.owner)
	for _, err := range parseErrs {
		// A malformed hub record halts that record only, not the pull
		log.Printf("[WARN] Skipping malformed hub record: %v", err)
	}

	for _, req := range requests {
		accepted, err := e.local.AcceptPulled(req)
		if err != nil {
			return fmt.Errorf("failed to import request %s: %w", req.ID, err)
		}
		if accepted {
			log.Printf("[INFO] Imported request into inbox: id=%s from=%s type=%s", req.ID, req.From, req.Type)
			result.Accepted++
		} else if e.local.IsArchived(req.ID) {
			result.Discarded++
		}
	}

	return nil
}

// pullMirrors refreshes local mirrors of other owners' contracts and
// registry entries. The hub is authoritative for everyone but the local
// owner, so mirrored files are overwritten unconditionally.
func (e *Engine) pullMirrors(result *PullResult) error {
	hubLayout := e.hub.Layout()
	localLayout := e.local.Layout()

	// Contracts: contracts/<owner>/** for every other owner
	owners, err := subdirs(hubLayout.ContractsDir())
	if err != nil {
		return err
	}
	for _, owner := range owners {
		if owner == e.owner {
			continue
		}
		n, err := copyTree(hubLayout.OwnerContractsDir(owner), localLayout.OwnerContractsDir(owner))
		if err != nil {
			return fmt.Errorf("failed to mirror contracts for %s: %w", owner, err)
		}
		result.Mirrored += n
	}

	// Registry: registry/<owner>.md for every other owner
	entries, err := os.ReadDir(hubLayout.RegistryDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read hub registry: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		owner := registryOwner(entry.Name())
		if owner == "" || owner == e.owner {
			continue
		}
		if err := copyFile(
			filepath.Join(hubLayout.RegistryDir(), entry.Name()),
			filepath.Join(localLayout.RegistryDir(), entry.Name()),
		); err != nil {
			return fmt.Errorf("failed to mirror registry entry %s: %w", entry.Name(), err)
		}
		result.Mirrored++
	}

	return nil
}
