// Package state implements the request lifecycle state machine.
//
// The machine is pure logic over a Request's status field: each method
// checks the source status (and any transition-specific guard), then
// rewrites status and the updated timestamp in place. An illegal transition
// returns a StateError and leaves the record untouched - it is the caller's
// job not to persist a record whose transition failed.
//
// Edges:
//
//	pending     -> approved     (attended decision by the target owner)
//	pending     -> rejected     (attended, requires a non-empty reason)
//	approved    -> in-progress  (daemon claim)
//	pending     -> in-progress  (command fast path only)
//	in-progress -> completed    (requires the related contract annotation cleared)
//	in-progress -> pending      (requeue: requirements changed, or worker retry)
//	in-progress -> failed       (worker failures reached the retry bound)
//
// completed, rejected and failed are terminal and trigger archival.
package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/aiwatching/accord/pkg/protocol"
)

// StateError represents a transition attempted from an invalid source state
// or with a failed guard. The record is guaranteed unchanged.
type StateError struct {
	// RequestID identifies the affected record.
	RequestID string

	// From is the record's status when the transition was attempted.
	From protocol.Status

	// To is the status the transition was trying to reach.
	To protocol.Status

	// Reason describes why the transition was refused.
	Reason string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for request %s: %s",
		e.From, e.To, e.RequestID, e.Reason)
}

// IsStateError returns true if the error is a transition error.
// Uses errors.As to handle wrapped errors.
func IsStateError(err error) bool {
	var se *StateError
	return errors.As(err, &se)
}

// Machine applies lifecycle transitions to requests.
//
// Attended marks whether a human is driving the machine. The daemon runs an
// unattended machine, which refuses approve/reject - those decisions belong
// to the target owner, never to an automated process.
type Machine struct {
	// Attended is true when a human operator drives the transitions.
	Attended bool

	// Now supplies timestamps for the updated field. Defaults to time.Now.
	Now func() time.Time
}

// NewAttended returns a machine for human-driven transitions (CLI).
func NewAttended() *Machine {
	return &Machine{Attended: true, Now: time.Now}
}

// NewUnattended returns a machine for daemon-driven transitions.
func NewUnattended() *Machine {
	return &Machine{Attended: false, Now: time.Now}
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Machine) apply(req *protocol.Request, to protocol.Status) {
	req.Status = to
	req.Updated = m.now().UTC().Truncate(time.Second)
}

// Approve moves a pending request to approved. Attended only.
func (m *Machine) Approve(req *protocol.Request) error {
	if !m.Attended {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusApproved,
			Reason:    "approval requires an attended decision by the target owner",
		}
	}

	if req.Status != protocol.StatusPending {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusApproved,
			Reason:    "only pending requests can be approved",
		}
	}

	m.apply(req, protocol.StatusApproved)
	return nil
}

// Reject moves a pending request to rejected and records the reason in the
// body. Attended only; the reason must be non-empty.
func (m *Machine) Reject(req *protocol.Request, reason string) error {
	if !m.Attended {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusRejected,
			Reason:    "rejection requires an attended decision by the target owner",
		}
	}

	if req.Status != protocol.StatusPending {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusRejected,
			Reason:    "only pending requests can be rejected",
		}
	}

	if reason == "" {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusRejected,
			Reason:    "a non-empty rejection reason is required",
		}
	}

	req.AppendSection(protocol.SectionRejectionReason, reason)
	m.apply(req, protocol.StatusRejected)
	return nil
}

// Claim moves a request to in-progress so the daemon can execute it.
// Ordinary requests must be approved first; command requests skip approval
// and are claimed straight from pending.
func (m *Machine) Claim(req *protocol.Request) error {
	switch {
	case req.Type == protocol.TypeCommand && req.Status == protocol.StatusPending:
		// Fast path: commands bypass human approval entirely
	case req.Status == protocol.StatusApproved:
	case req.Status == protocol.StatusPending && req.Attempts > 0:
		// Worker retry: the approval decision already happened before the
		// first claim; a requeued record does not need a second one
	default:
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusInProgress,
			Reason:    "only approved requests (or pending commands) can be claimed",
		}
	}

	m.apply(req, protocol.StatusInProgress)
	return nil
}

// Complete moves an in-progress request to completed. The related contract's
// proposed annotation must already be cleared (contractCleared reports that);
// the transition is refused otherwise.
func (m *Machine) Complete(req *protocol.Request, contractCleared bool) error {
	if req.Status != protocol.StatusInProgress {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusCompleted,
			Reason:    "only in-progress requests can be completed",
		}
	}

	if req.RelatedContract != "" && !contractCleared {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusCompleted,
			Reason:    fmt.Sprintf("related contract %s has not been updated", req.RelatedContract),
		}
	}

	m.apply(req, protocol.StatusCompleted)
	return nil
}

// Requeue moves an in-progress request back to pending.
//
// Two callers, two attempt policies: the daemon requeues after a retryable
// worker failure and preserves the attempts counter; a human requeues via
// the CLI when requirements changed, which resets attempts to zero (prior
// failures no longer predict anything).
func (m *Machine) Requeue(req *protocol.Request) error {
	if req.Status != protocol.StatusInProgress {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusPending,
			Reason:    "only in-progress requests can be requeued",
		}
	}

	if m.Attended {
		req.Attempts = 0
	}

	m.apply(req, protocol.StatusPending)
	return nil
}

// Fail moves an in-progress request to failed. Only reachable once the
// worker invocation failures have reached the configured retry bound.
func (m *Machine) Fail(req *protocol.Request, bound int) error {
	if req.Status != protocol.StatusInProgress {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusFailed,
			Reason:    "only in-progress requests can fail",
		}
	}

	if req.Attempts < bound {
		return &StateError{
			RequestID: req.ID,
			From:      req.Status,
			To:        protocol.StatusFailed,
			Reason:    fmt.Sprintf("attempts %d below retry bound %d", req.Attempts, bound),
		}
	}

	m.apply(req, protocol.StatusFailed)
	return nil
}
