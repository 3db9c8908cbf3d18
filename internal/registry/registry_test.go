package registry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aiwatching/accord/pkg/protocol"
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New(protocol.NewLayout(t.TempDir()), "payments")
	r.Now = func() time.Time { return time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC) }
	return r
}

func draftContract() *protocol.Contract {
	return &protocol.Contract{
		Owner:  "payments",
		Format: protocol.FormatSchema,
		Status: protocol.ContractDraft,
		Body:   "# Charge API\n\nPOST /charges\n",
	}
}

func TestPathOwner(t *testing.T) {
	assert.Equal(t, "payments", PathOwner("contracts/payments/charge-api.md"))
	assert.Equal(t, "payments", PathOwner("contracts/payments/internal/ledger.md"))
	assert.Equal(t, "billing", PathOwner("registry/billing.md"))
	assert.Equal(t, "", PathOwner("archive/req-x.md"))
	assert.Equal(t, "", PathOwner("accord.yml"))
}

func TestSaveAndLoadContract(t *testing.T) {
	r := newRegistry(t)

	require.NoError(t, r.SaveContract("contracts/payments/charge-api.md", draftContract()))

	loaded, err := r.LoadContract("contracts/payments/charge-api.md")
	require.NoError(t, err)
	assert.Equal(t, protocol.ContractDraft, loaded.Status)
	assert.Equal(t, time.Date(2026, 1, 3, 12, 0, 0, 0, time.UTC), loaded.Updated, "save stamps updated")
}

func TestSaveContract_RefusesForeignNamespace(t *testing.T) {
	r := newRegistry(t)

	c := draftContract()
	c.Owner = "billing"
	err := r.SaveContract("contracts/billing/invoice-api.md", c)
	require.Error(t, err)
	assert.True(t, IsOwnershipError(err))
}

func TestAnnotate(t *testing.T) {
	r := newRegistry(t)
	rel := "contracts/payments/charge-api.md"
	require.NoError(t, r.SaveContract(rel, draftContract()))

	require.NoError(t, r.Annotate(rel, "req-charge-idem"))

	c, err := r.LoadContract(rel)
	require.NoError(t, err)
	assert.Equal(t, protocol.ContractProposed, c.Status)
	assert.Equal(t, "req-charge-idem", c.ProposedBy)
}

func TestAnnotate_SameRequestIsNoop(t *testing.T) {
	r := newRegistry(t)
	rel := "contracts/payments/charge-api.md"
	require.NoError(t, r.SaveContract(rel, draftContract()))
	require.NoError(t, r.Annotate(rel, "req-charge-idem"))

	require.NoError(t, r.Annotate(rel, "req-charge-idem"))
}

func TestAnnotate_RefusesContention(t *testing.T) {
	r := newRegistry(t)
	rel := "contracts/payments/charge-api.md"
	require.NoError(t, r.SaveContract(rel, draftContract()))
	require.NoError(t, r.Annotate(rel, "req-first"))

	err := r.Annotate(rel, "req-second")
	require.Error(t, err)

	c, _ := r.LoadContract(rel)
	assert.Equal(t, "req-first", c.ProposedBy, "first annotation must survive")
}

func TestFinalize(t *testing.T) {
	r := newRegistry(t)
	rel := "contracts/payments/charge-api.md"
	require.NoError(t, r.SaveContract(rel, draftContract()))
	require.NoError(t, r.Annotate(rel, "req-charge-idem"))

	require.NoError(t, r.Finalize(rel, "req-charge-idem"))

	c, err := r.LoadContract(rel)
	require.NoError(t, err)
	assert.Equal(t, protocol.ContractDraft, c.Status, "finalized contract waits for human promotion")
	assert.Empty(t, c.ProposedBy)
}

func TestFinalize_IdempotentWhenNotProposed(t *testing.T) {
	r := newRegistry(t)
	rel := "contracts/payments/charge-api.md"
	require.NoError(t, r.SaveContract(rel, draftContract()))

	// A retried completion finalizes an already-finalized entry
	require.NoError(t, r.Finalize(rel, "req-charge-idem"))
}

func TestFinalize_RefusesDifferentRequest(t *testing.T) {
	r := newRegistry(t)
	rel := "contracts/payments/charge-api.md"
	require.NoError(t, r.SaveContract(rel, draftContract()))
	require.NoError(t, r.Annotate(rel, "req-first"))

	err := r.Finalize(rel, "req-second")
	require.Error(t, err)

	c, _ := r.LoadContract(rel)
	assert.Equal(t, protocol.ContractProposed, c.Status)
}

func TestPromote(t *testing.T) {
	r := newRegistry(t)
	rel := "contracts/payments/charge-api.md"
	require.NoError(t, r.SaveContract(rel, draftContract()))

	require.NoError(t, r.Promote(rel))

	c, err := r.LoadContract(rel)
	require.NoError(t, err)
	assert.Equal(t, protocol.ContractStable, c.Status)
}

func TestPromote_OnlyDraft(t *testing.T) {
	r := newRegistry(t)
	rel := "contracts/payments/charge-api.md"
	require.NoError(t, r.SaveContract(rel, draftContract()))
	require.NoError(t, r.Annotate(rel, "req-x"))

	assert.Error(t, r.Promote(rel), "a proposed contract must be finalized before promotion")

	require.NoError(t, r.Finalize(rel, "req-x"))
	require.NoError(t, r.Promote(rel))
	assert.Error(t, r.Promote(rel), "stable is not re-promotable")
}

func TestRegistryEntries(t *testing.T) {
	r := newRegistry(t)

	entry, err := r.LoadEntry("payments")
	require.NoError(t, err)
	assert.Nil(t, entry, "absent entry loads as nil without error")

	require.NoError(t, r.SaveEntry(&protocol.RegistryEntry{
		Owner:          "payments",
		Responsibility: "Money movement",
		Dependencies: []protocol.Dependency{
			{Owner: "ledger", Contract: "contracts/ledger/postings.md"},
		},
	}))

	entry, err = r.LoadEntry("payments")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Money movement", entry.Responsibility)
	assert.Len(t, entry.Dependencies, 1)
}

func TestSaveEntry_RefusesForeignOwner(t *testing.T) {
	r := newRegistry(t)

	err := r.SaveEntry(&protocol.RegistryEntry{
		Owner:          "billing",
		Responsibility: "Invoicing",
	})
	require.Error(t, err)
	assert.True(t, IsOwnershipError(err))
}
