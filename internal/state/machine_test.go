package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwatching/accord/pkg/protocol"
)

func newRequest(status protocol.Status) *protocol.Request {
	now := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	return &protocol.Request{
		ID:       "req-test",
		From:     "billing",
		To:       "payments",
		Scope:    protocol.ScopeExternal,
		Type:     protocol.TypeAddition,
		Priority: protocol.PriorityMedium,
		Status:   status,
		Created:  now,
		Updated:  now,
	}
}

func fixedMachine(attended bool) *Machine {
	return &Machine{
		Attended: attended,
		Now:      func() time.Time { return time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC) },
	}
}

func TestApprove(t *testing.T) {
	m := fixedMachine(true)
	req := newRequest(protocol.StatusPending)

	require.NoError(t, m.Approve(req))
	assert.Equal(t, protocol.StatusApproved, req.Status)
	assert.Equal(t, time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC), req.Updated)
}

func TestApprove_RequiresAttended(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusPending)

	err := m.Approve(req)
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Equal(t, protocol.StatusPending, req.Status, "record must be untouched after a refused transition")
}

func TestApprove_OnlyFromPending(t *testing.T) {
	m := fixedMachine(true)
	for _, status := range []protocol.Status{
		protocol.StatusApproved, protocol.StatusInProgress,
		protocol.StatusCompleted, protocol.StatusRejected, protocol.StatusFailed,
	} {
		req := newRequest(status)
		err := m.Approve(req)
		assert.True(t, IsStateError(err), "approve from %s should be refused", status)
		assert.Equal(t, status, req.Status)
	}
}

func TestReject(t *testing.T) {
	m := fixedMachine(true)
	req := newRequest(protocol.StatusPending)

	require.NoError(t, m.Reject(req, "duplicate of req-other"))
	assert.Equal(t, protocol.StatusRejected, req.Status)
	assert.Equal(t, "duplicate of req-other", req.Section(protocol.SectionRejectionReason))
}

func TestReject_RequiresReason(t *testing.T) {
	m := fixedMachine(true)
	req := newRequest(protocol.StatusPending)

	err := m.Reject(req, "")
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Equal(t, protocol.StatusPending, req.Status)
}

func TestReject_RequiresAttended(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusPending)

	err := m.Reject(req, "reason")
	require.Error(t, err)
	assert.Equal(t, protocol.StatusPending, req.Status)
}

func TestClaim_Approved(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusApproved)

	require.NoError(t, m.Claim(req))
	assert.Equal(t, protocol.StatusInProgress, req.Status)
}

func TestClaim_PendingCommand(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusPending)
	req.Type = protocol.TypeCommand

	require.NoError(t, m.Claim(req))
	assert.Equal(t, protocol.StatusInProgress, req.Status)
}

func TestClaim_PendingRetry(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusPending)
	req.Attempts = 1

	require.NoError(t, m.Claim(req))
	assert.Equal(t, protocol.StatusInProgress, req.Status)
}

func TestClaim_RefusesFreshPending(t *testing.T) {
	// A pending non-command with no prior attempts has never been approved
	m := fixedMachine(false)
	req := newRequest(protocol.StatusPending)

	err := m.Claim(req)
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Equal(t, protocol.StatusPending, req.Status)
}

func TestComplete(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusInProgress)

	require.NoError(t, m.Complete(req, true))
	assert.Equal(t, protocol.StatusCompleted, req.Status)
}

func TestComplete_ContractFirst(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusInProgress)
	req.RelatedContract = "contracts/payments/charge-api.md"

	err := m.Complete(req, false)
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Equal(t, protocol.StatusInProgress, req.Status)

	require.NoError(t, m.Complete(req, true))
	assert.Equal(t, protocol.StatusCompleted, req.Status)
}

func TestComplete_NoContractIgnoresFlag(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusInProgress)

	require.NoError(t, m.Complete(req, false))
	assert.Equal(t, protocol.StatusCompleted, req.Status)
}

func TestRequeue_AttendedResetsAttempts(t *testing.T) {
	m := fixedMachine(true)
	req := newRequest(protocol.StatusInProgress)
	req.Attempts = 2

	require.NoError(t, m.Requeue(req))
	assert.Equal(t, protocol.StatusPending, req.Status)
	assert.Equal(t, 0, req.Attempts)
}

func TestRequeue_UnattendedPreservesAttempts(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusInProgress)
	req.Attempts = 2

	require.NoError(t, m.Requeue(req))
	assert.Equal(t, protocol.StatusPending, req.Status)
	assert.Equal(t, 2, req.Attempts)
}

func TestFail(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusInProgress)
	req.Attempts = 3

	require.NoError(t, m.Fail(req, 3))
	assert.Equal(t, protocol.StatusFailed, req.Status)
}

func TestFail_BelowBound(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusInProgress)
	req.Attempts = 2

	err := m.Fail(req, 3)
	require.Error(t, err)
	assert.True(t, IsStateError(err))
	assert.Equal(t, protocol.StatusInProgress, req.Status)
}

func TestFail_OnlyFromInProgress(t *testing.T) {
	m := fixedMachine(false)
	req := newRequest(protocol.StatusPending)
	req.Attempts = 3

	err := m.Fail(req, 3)
	require.Error(t, err)
	assert.Equal(t, protocol.StatusPending, req.Status)
}
