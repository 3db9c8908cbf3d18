// Package daemon implements the autonomous dispatch loop: discover
// actionable records in the local inbox, hand them to the external worker,
// and drive them through the state machine with bounded retries and
// escalation.
//
// One daemon serves one service repository and processes one record at a
// time, strictly sequentially. Fleet-wide parallelism is one daemon per
// service; serialization across daemons comes entirely from version-control
// commit ordering and push-conflict retry - there is no shared memory and no
// cross-daemon lock.
package daemon

import (
	"context"
	"log"
	"time"

	"github.com/aiwatching/accord/internal/cascade"
	"github.com/aiwatching/accord/internal/config"
	"github.com/aiwatching/accord/internal/git"
	"github.com/aiwatching/accord/internal/registry"
	"github.com/aiwatching/accord/internal/state"
	"github.com/aiwatching/accord/internal/store"
	"github.com/aiwatching/accord/internal/syncer"
	"github.com/aiwatching/accord/pkg/protocol"
)

// Engine is one daemon instance: all of its state is explicit here, so a
// supervisor can run it under a cancellable context instead of tracking a
// process-level PID file.
type Engine struct {
	cfg      *config.Config
	repoRoot string

	sync     *syncer.Engine
	store    *store.Store
	registry *registry.Registry
	machine  *state.Machine
	notifier *cascade.Notifier
}

// New creates a daemon engine for the repository at repoRoot. The runner
// operates on the hub clone named by the config.
func New(cfg *config.Config, repoRoot string, runner git.Runner) *Engine {
	sync := syncer.New(cfg.Owner, repoRoot, cfg.HubRoot(repoRoot), runner)
	st := sync.LocalStore()
	reg := registry.New(st.Layout(), cfg.Owner)

	return &Engine{
		cfg:      cfg,
		repoRoot: repoRoot,
		sync:     sync,
		store:    st,
		registry: reg,
		machine:  state.NewUnattended(),
		notifier: cascade.New(cfg.Owner, st, reg),
	}
}

// Run executes ticks on the configured interval until the context is
// cancelled. A failed tick is logged and the loop waits for the next one;
// only cancellation stops the daemon.
func (e *Engine) Run(ctx context.Context) error {
	interval := time.Duration(e.cfg.Daemon.Interval)
	log.Printf("[INFO] Dispatch daemon starting: owner=%s interval=%s retry_bound=%d",
		e.cfg.Owner, interval, e.cfg.Daemon.RetryBound)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Tick(ctx); err != nil {
			log.Printf("[ERROR] Tick failed, waiting for next interval: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Printf("[INFO] Shutdown signal received, dispatch loop exiting")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one full dispatch cycle: pull, dependency notifications, process
// actionable inbox records, push.
func (e *Engine) Tick(ctx context.Context) error {
	pulled, err := e.sync.Pull(ctx)
	if err != nil {
		// A repository-level conflict needs a human; later records are not
		// processed against stale state
		return err
	}
	if pulled.Accepted > 0 || pulled.Discarded > 0 {
		log.Printf("[INFO] Pull complete: accepted=%d discarded=%d mirrored=%d",
			pulled.Accepted, pulled.Discarded, pulled.Mirrored)
	}

	if notified, err := e.notifier.NotifyDependencies(); err != nil {
		log.Printf("[WARN] Dependency notification failed: %v", err)
	} else if len(notified) > 0 {
		log.Printf("[INFO] Created %d dependency notification(s)", len(notified))
	}

	requests, parseErrs := e.store.ScanInbox(e.cfg.Owner)
	for _, perr := range parseErrs {
		// A malformed record halts that record only
		log.Printf("[ERROR] Skipping malformed inbox record: %v", perr)
	}

	for _, req := range requests {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch {
		case req.Type == protocol.TypeCommand && req.Status == protocol.StatusPending:
			e.runCommand(ctx, req)
		case req.Status == protocol.StatusApproved:
			e.dispatch(ctx, req)
		case req.Status == protocol.StatusPending && req.Attempts > 0:
			// Requeued after a retryable worker failure; approval carried over
			e.dispatch(ctx, req)
		}
	}

	if _, err := e.sync.Push(ctx); err != nil {
		// Fatal for the tick, not for the daemon
		return err
	}

	return nil
}
