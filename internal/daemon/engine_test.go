package daemon

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwatching/accord/internal/config"
	"github.com/aiwatching/accord/internal/syncer"
	"github.com/aiwatching/accord/pkg/protocol"
)

// noopRunner satisfies the git surface without a repository; the hub clone
// in these tests is a plain directory.
type noopRunner struct{}

func (noopRunner) Pull(ctx context.Context) error        { return nil }
func (noopRunner) AddAll(ctx context.Context) error      { return nil }
func (noopRunner) Push(ctx context.Context) error        { return nil }
func (noopRunner) PullRebase(ctx context.Context) error  { return nil }
func (noopRunner) AbortRebase(ctx context.Context) error { return nil }

func (noopRunner) Commit(ctx context.Context, message string) (bool, error) { return true, nil }
func (noopRunner) Conflicts(ctx context.Context) ([]string, error)          { return nil, nil }

func newTestEngine(t *testing.T, workerCommand []string, retryBound int) *Engine {
	t.Helper()

	cfg := &config.Config{
		Version:      "1.0",
		Owner:        "payments",
		Hub:          t.TempDir(),
		Orchestrator: "platform",
		Daemon: &config.DaemonConfig{
			Interval:      config.Duration(time.Second),
			WorkerTimeout: config.Duration(5 * time.Second),
			RetryBound:    retryBound,
			Command:       workerCommand,
		},
	}

	return New(cfg, t.TempDir(), noopRunner{})
}

func saveRequest(t *testing.T, e *Engine, req *protocol.Request) {
	t.Helper()
	require.NoError(t, e.store.SaveInbox(req))
}

func inboxRequest(id string, reqType protocol.RequestType, status protocol.Status) *protocol.Request {
	now := time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)
	req := &protocol.Request{
		ID:       id,
		From:     "billing",
		To:       "payments",
		Scope:    protocol.ScopeExternal,
		Type:     reqType,
		Priority: protocol.PriorityMedium,
		Status:   status,
		Created:  now,
		Updated:  now,
	}
	req.AppendSection(protocol.SectionWhat, "Test work item.")
	req.AppendSection(protocol.SectionProposedChange, "Do the thing.")
	req.AppendSection(protocol.SectionWhy, "Testing.")
	req.AppendSection(protocol.SectionImpact, "None.")
	return req
}

func TestTick_DispatchesApprovedRequest(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null && echo done"}, 3)
	saveRequest(t, e, inboxRequest("req-work", protocol.TypeAddition, protocol.StatusApproved))

	require.NoError(t, e.Tick(context.Background()))

	assert.True(t, e.store.IsArchived("req-work"))
	archived, err := e.store.LoadArchived("req-work")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCompleted, archived.Status)
}

func TestTick_IgnoresFreshPending(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null"}, 3)
	saveRequest(t, e, inboxRequest("req-wait", protocol.TypeAddition, protocol.StatusPending))

	require.NoError(t, e.Tick(context.Background()))

	req, _, err := e.store.Find("req-wait")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, req.Status, "unapproved work must wait for a human")
}

func TestTick_CommandFastPath(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null"}, 3)

	cmd := inboxRequest("req-cmd", protocol.TypeCommand, protocol.StatusPending)
	cmd.Body = ""
	cmd.AppendSection(protocol.SectionWhat, "Run a local mutation.")
	cmd.AppendSection(protocol.SectionProposedChange, "```\necho fast-path-output\n```")
	cmd.AppendSection(protocol.SectionWhy, "Testing.")
	cmd.AppendSection(protocol.SectionImpact, "None.")
	saveRequest(t, e, cmd)

	require.NoError(t, e.Tick(context.Background()))

	archived, err := e.store.LoadArchived("req-cmd")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCompleted, archived.Status, "commands complete within one tick")
	assert.Contains(t, archived.Section(protocol.SectionResult), "fast-path-output")
}

func TestTick_CommandFailureIsNotRetried(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null"}, 3)

	cmd := inboxRequest("req-cmd", protocol.TypeCommand, protocol.StatusPending)
	cmd.Body = ""
	cmd.AppendSection(protocol.SectionWhat, "Run a failing mutation.")
	cmd.AppendSection(protocol.SectionProposedChange, "```\nexit 7\n```")
	cmd.AppendSection(protocol.SectionWhy, "Testing.")
	cmd.AppendSection(protocol.SectionImpact, "None.")
	saveRequest(t, e, cmd)

	require.NoError(t, e.Tick(context.Background()))

	archived, err := e.store.LoadArchived("req-cmd")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFailed, archived.Status)
	assert.Contains(t, archived.Section(protocol.SectionResult), "Command failed")

	// Commands do not escalate
	_, err = e.store.Load(e.store.Layout().RequestFile("platform", "escalate-req-cmd"))
	assert.Error(t, err)
}

func TestTick_CommandClearsContractAnnotation(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null"}, 3)

	contract := &protocol.Contract{
		Owner:      "payments",
		Format:     protocol.FormatSchema,
		Status:     protocol.ContractProposed,
		ProposedBy: "req-cmd",
		Body:       "# Charge API\n",
	}
	require.NoError(t, e.registry.SaveContract("contracts/payments/charge-api.md", contract))

	cmd := inboxRequest("req-cmd", protocol.TypeCommand, protocol.StatusPending)
	cmd.RelatedContract = "contracts/payments/charge-api.md"
	cmd.Body = ""
	cmd.AppendSection(protocol.SectionWhat, "Regenerate the contract.")
	cmd.AppendSection(protocol.SectionProposedChange, "```\necho regenerated\n```")
	cmd.AppendSection(protocol.SectionWhy, "Testing.")
	cmd.AppendSection(protocol.SectionImpact, "None.")
	saveRequest(t, e, cmd)

	require.NoError(t, e.Tick(context.Background()))

	archived, err := e.store.LoadArchived("req-cmd")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCompleted, archived.Status)

	updated, err := e.registry.LoadContract("contracts/payments/charge-api.md")
	require.NoError(t, err)
	assert.Equal(t, protocol.ContractDraft, updated.Status)
	assert.Empty(t, updated.ProposedBy)
}

func TestTick_CommandContendedContractFailsTerminally(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null"}, 3)

	// Proposed under a different request: completion is refused, and the
	// command must end up failed and archived rather than stuck in-progress
	contract := &protocol.Contract{
		Owner:      "payments",
		Format:     protocol.FormatSchema,
		Status:     protocol.ContractProposed,
		ProposedBy: "req-other",
		Body:       "# Charge API\n",
	}
	require.NoError(t, e.registry.SaveContract("contracts/payments/charge-api.md", contract))

	cmd := inboxRequest("req-cmd", protocol.TypeCommand, protocol.StatusPending)
	cmd.RelatedContract = "contracts/payments/charge-api.md"
	cmd.Body = ""
	cmd.AppendSection(protocol.SectionWhat, "Regenerate the contract.")
	cmd.AppendSection(protocol.SectionProposedChange, "```\necho regenerated\n```")
	cmd.AppendSection(protocol.SectionWhy, "Testing.")
	cmd.AppendSection(protocol.SectionImpact, "None.")
	saveRequest(t, e, cmd)

	require.NoError(t, e.Tick(context.Background()))

	archived, err := e.store.LoadArchived("req-cmd")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFailed, archived.Status)
	assert.Contains(t, archived.Section(protocol.SectionResult), "charge-api.md")

	// A later tick sees an empty inbox, not a wedged record
	inbox, _ := e.store.ScanInbox("payments")
	assert.Empty(t, inbox)
}

func TestDispatch_WorkerFailureRequeues(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null && exit 1"}, 3)
	saveRequest(t, e, inboxRequest("req-flaky", protocol.TypeAddition, protocol.StatusApproved))

	require.NoError(t, e.Tick(context.Background()))

	req, _, err := e.store.Find("req-flaky")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, req.Status)
	assert.Equal(t, 1, req.Attempts)
	assert.False(t, e.store.IsArchived("req-flaky"))
}

func TestDispatch_RetryBoundEscalatesOnce(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null && exit 1"}, 2)
	saveRequest(t, e, inboxRequest("req-doomed", protocol.TypeAddition, protocol.StatusApproved))

	// First tick: attempt 1, requeued. Second tick: attempt 2 hits the bound.
	require.NoError(t, e.Tick(context.Background()))
	require.NoError(t, e.Tick(context.Background()))

	archived, err := e.store.LoadArchived("req-doomed")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusFailed, archived.Status)
	assert.Equal(t, 2, archived.Attempts)
	assert.Contains(t, archived.Section(protocol.SectionResult), "failed after 2 attempts")

	escalation, err := e.store.Load(e.store.Layout().RequestFile("platform", "escalate-req-doomed"))
	require.NoError(t, err)
	assert.Equal(t, protocol.PriorityCritical, escalation.Priority)
	assert.Equal(t, protocol.TypeQuestion, escalation.Type)
	assert.Equal(t, "req-doomed", escalation.OriginatedFrom)

	// A repeated escalation attempt for the same failure collapses into the
	// existing record
	require.NoError(t, e.escalate(archived, assert.AnError))
	requests, parseErrs := e.store.ScanInbox("platform")
	assert.Empty(t, parseErrs)
	assert.Len(t, requests, 1)
}

func TestFinalize_ContractFirstInvariant(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null"}, 3)

	// The contract is proposed under a different request, so finalization for
	// this one must be refused and completion held back
	contract := &protocol.Contract{
		Owner:      "payments",
		Format:     protocol.FormatSchema,
		Status:     protocol.ContractProposed,
		ProposedBy: "req-other",
		Body:       "# Charge API\n",
	}
	require.NoError(t, e.registry.SaveContract("contracts/payments/charge-api.md", contract))

	req := inboxRequest("req-blocked", protocol.TypeChange, protocol.StatusApproved)
	req.RelatedContract = "contracts/payments/charge-api.md"
	saveRequest(t, e, req)

	require.NoError(t, e.Tick(context.Background()))

	current, _, err := e.store.Find("req-blocked")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusPending, current.Status, "refused completion advances the retry budget")
	assert.Equal(t, 1, current.Attempts)
	assert.False(t, e.store.IsArchived("req-blocked"))
}

func TestFinalize_ClearsContractAnnotation(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null"}, 3)

	contract := &protocol.Contract{
		Owner:      "payments",
		Format:     protocol.FormatSchema,
		Status:     protocol.ContractProposed,
		ProposedBy: "req-upgrade",
		Body:       "# Charge API\n",
	}
	require.NoError(t, e.registry.SaveContract("contracts/payments/charge-api.md", contract))

	req := inboxRequest("req-upgrade", protocol.TypeChange, protocol.StatusApproved)
	req.RelatedContract = "contracts/payments/charge-api.md"
	saveRequest(t, e, req)

	require.NoError(t, e.Tick(context.Background()))

	archived, err := e.store.LoadArchived("req-upgrade")
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCompleted, archived.Status)

	updated, err := e.registry.LoadContract("contracts/payments/charge-api.md")
	require.NoError(t, err)
	assert.Equal(t, protocol.ContractDraft, updated.Status)
	assert.Empty(t, updated.ProposedBy)
}

func TestInvokeWorker_PayloadOnStdin(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat"}, 3)

	stdout, err := e.invokeWorker(context.Background(), "req-x", "payload text")
	require.NoError(t, err)
	assert.Equal(t, "payload text", stdout)
}

func TestInvokeWorker_Timeout(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "sleep 5"}, 3)
	e.cfg.Daemon.WorkerTimeout = config.Duration(50 * time.Millisecond)

	_, err := e.invokeWorker(context.Background(), "req-slow", "")
	require.Error(t, err)
	assert.True(t, IsWorkerTimeout(err))
}

func TestInvokeWorker_NonZeroExit(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "echo oops >&2; exit 3"}, 3)

	_, err := e.invokeWorker(context.Background(), "req-x", "")
	require.Error(t, err)
	assert.True(t, IsWorkerFailure(err))

	var wf *WorkerFailure
	require.ErrorAs(t, err, &wf)
	assert.Equal(t, 3, wf.ExitCode)
	assert.Contains(t, wf.Stderr, "oops")
}

func TestLifecycle_CompletedWorkIsNeverRedelivered(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat > /dev/null && echo done"}, 3)
	saveRequest(t, e, inboxRequest("req-001", protocol.TypeAddition, protocol.StatusApproved))

	require.NoError(t, e.Tick(context.Background()))
	require.True(t, e.store.IsArchived("req-001"))

	// The hub holds the archive copy and no live inbox copy
	hub := e.sync.HubStore()
	assert.True(t, hub.IsArchived("req-001"))
	_, err := hub.Load(hub.Layout().RequestFile("payments", "req-001"))
	assert.Error(t, err)

	// A fresh replica of the same owner pulling from this hub sees the
	// archived id and imports nothing
	second := syncer.New("payments", t.TempDir(), e.cfg.HubRoot(e.repoRoot), noopRunner{})
	result, err := second.Pull(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Accepted)
}

func TestBuildPayload(t *testing.T) {
	e := newTestEngine(t, []string{"sh", "-c", "cat"}, 3)

	require.NoError(t, e.registry.SaveEntry(&protocol.RegistryEntry{
		Owner:          "payments",
		Responsibility: "Money movement",
	}))
	require.NoError(t, os.MkdirAll(e.store.Layout().OwnerContractsDir("payments"), 0755))
	require.NoError(t, os.WriteFile(
		e.store.Layout().Abs("contracts/payments/charge-api.md"),
		[]byte("contract text"), 0644))

	req := inboxRequest("req-payload", protocol.TypeChange, protocol.StatusApproved)
	req.RelatedContract = "contracts/payments/charge-api.md"

	payload, err := e.buildPayload(req)
	require.NoError(t, err)
	assert.Contains(t, payload, "# REQUEST")
	assert.Contains(t, payload, "id: req-payload")
	assert.Contains(t, payload, "# REGISTRY")
	assert.Contains(t, payload, "Money movement")
	assert.Contains(t, payload, "# CONTRACT")
	assert.Contains(t, payload, "contract text")
}
