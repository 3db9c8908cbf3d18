// Package syncer reconciles a local replica with the shared hub replica.
//
// Reconciliation is never a two-way merge of one file. The direction is
// fixed: everything the local owner produces (its inbox mutations, outgoing
// requests, contracts, registry entry, archive) is copied outward to the
// hub; everything other owners are authoritative for (their contracts and
// registry entries, records addressed to the local owner) is copied inward.
//
// Publishing to the hub races with other owners. A rejected push
// is recovered by rebasing onto the updated remote and retrying, a bounded
// number of times. Conflicts inside a single record - two owners editing the
// same file - are never auto-resolved; they surface as a ConflictError for a
// human.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/aiwatching/accord/internal/git"
	"github.com/aiwatching/accord/internal/store"
	"github.com/aiwatching/accord/pkg/protocol"
)

// publishAttempts bounds the push/rebase/retry loop.
const publishAttempts = 3

// publishRetryDelay is the pause between publish attempts.
const publishRetryDelay = 500 * time.Millisecond

// ConflictError represents a concurrent edit of the same record, surfaced
// verbatim for manual resolution. It halts processing of the affected
// records only, never the daemon.
type ConflictError struct {
	// Paths are the unmerged record paths, relative to the hub clone.
	Paths []string
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrent edits need manual resolution in the hub clone: %s",
		strings.Join(e.Paths, ", "))
}

// IsConflictError returns true if the error is a same-record conflict.
// Uses errors.As to handle wrapped errors.
func IsConflictError(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// SyncError represents a publish that failed after exhausting the retry
// bound. Fatal for the tick, not for the daemon.
type SyncError struct {
	// Attempts is how many publish attempts were made.
	Attempts int

	// Err is the last underlying failure.
	Err error
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	return fmt.Sprintf("publish failed after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap returns the last underlying failure.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsSyncError returns true if the error is an exhausted publish.
// Uses errors.As to handle wrapped errors.
func IsSyncError(err error) bool {
	var se *SyncError
	return errors.As(err, &se)
}

// Engine reconciles one local replica against one hub clone.
type Engine struct {
	owner string

	local *store.Store
	hub   *store.Store

	runner git.Runner

	// RetryDelay between publish attempts; overridable in tests.
	RetryDelay time.Duration
}

// New creates a sync engine for the local owner. localRoot and hubRoot are
// the repository roots (the directories containing each .accord tree);
// runner operates on the hub clone.
func New(owner, localRoot, hubRoot string, runner git.Runner) *Engine {
	return &Engine{
		owner:      owner,
		local:      store.New(protocol.NewLayout(localRoot)),
		hub:        store.New(protocol.NewLayout(hubRoot)),
		runner:     runner,
		RetryDelay: publishRetryDelay,
	}
}

// LocalStore returns the store over the local replica.
func (e *Engine) LocalStore() *store.Store {
	return e.local
}

// HubStore returns the store over the hub clone.
func (e *Engine) HubStore() *store.Store {
	return e.hub
}

// publish commits staged hub changes and pushes them, recovering from
// rejected pushes by rebasing and retrying up to the attempt bound.
// Returns false when there was nothing to commit.
func (e *Engine) publish(ctx context.Context, message string) (bool, error) {
	if err := e.runner.AddAll(ctx); err != nil {
		return false, fmt.Errorf("failed to stage hub changes: %w", err)
	}

	committed, err := e.runner.Commit(ctx, message)
	if err != nil {
		return false, fmt.Errorf("failed to commit hub changes: %w", err)
	}
	if !committed {
		return false, nil
	}

	attempts := 0
	operation := func() error {
		attempts++

		pushErr := e.runner.Push(ctx)
		if pushErr == nil {
			return nil
		}

		// The remote moved on. Rebase our commit onto it and try again.
		if rebaseErr := e.runner.PullRebase(ctx); rebaseErr != nil {
			conflicts, confErr := e.runner.Conflicts(ctx)
			if confErr == nil && len(conflicts) > 0 {
				// Same-record edit: abort and hand it to a human
				if abortErr := e.runner.AbortRebase(ctx); abortErr != nil {
					return backoff.Permanent(fmt.Errorf("rebase conflict and abort failed: %w", abortErr))
				}
				return backoff.Permanent(&ConflictError{Paths: conflicts})
			}
			return fmt.Errorf("rebase failed: %w", rebaseErr)
		}

		return fmt.Errorf("push rejected: %w", pushErr)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.RetryDelay), publishAttempts-1),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		if IsConflictError(err) {
			return false, err
		}
		return false, &SyncError{Attempts: attempts, Err: err}
	}

	return true, nil
}
