// Package registry tracks per-owner contract files and registry entries.
//
// It enforces the single-writer rule: a replica may only mutate contracts
// and registry entries inside its own owner namespace. Everything else in
// the replica is a mirror maintained by the sync engine, and any attempt to
// write to it is an OwnershipError.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aiwatching/accord/pkg/protocol"
)

// OwnershipError represents a write attempted outside the local owner's
// namespace. Non-retryable; mirrored copies must only change via sync.
type OwnershipError struct {
	// Path is the replica-relative path of the refused write.
	Path string

	// Owner is the namespace the path belongs to.
	Owner string

	// LocalOwner is the owner this replica is allowed to write for.
	LocalOwner string
}

// Error implements the error interface.
func (e *OwnershipError) Error() string {
	return fmt.Sprintf("cannot write %s: owned by %q, this replica writes only for %q (mirrors change via sync)",
		e.Path, e.Owner, e.LocalOwner)
}

// IsOwnershipError returns true if the error is an ownership violation.
// Uses errors.As to handle wrapped errors.
func IsOwnershipError(err error) bool {
	var oe *OwnershipError
	return errors.As(err, &oe)
}

// Registry provides contract and registry-entry access for one replica.
type Registry struct {
	layout protocol.Layout
	owner  string

	// Now supplies timestamps for contract mutations. Defaults to time.Now.
	Now func() time.Time
}

// New creates a registry over a replica layout, writing only for owner.
func New(layout protocol.Layout, owner string) *Registry {
	return &Registry{layout: layout, owner: owner, Now: time.Now}
}

// PathOwner extracts the owning namespace from a replica-relative path like
// "contracts/payments/api.md" or "registry/payments.md". Returns "" when the
// path is not inside an owner namespace.
func PathOwner(rel string) string {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 2 {
		return ""
	}
	switch parts[0] {
	case "contracts":
		return parts[1]
	case "registry":
		return strings.TrimSuffix(parts[1], protocol.RecordExt)
	}
	return ""
}

// checkOwnership refuses writes outside the local owner's namespace.
func (r *Registry) checkOwnership(rel string) error {
	owner := PathOwner(rel)
	if owner != r.owner {
		return &OwnershipError{Path: rel, Owner: owner, LocalOwner: r.owner}
	}
	return nil
}

// LoadContract reads a contract by its replica-relative path. Reads are
// allowed anywhere - mirrors exist to be read.
func (r *Registry) LoadContract(rel string) (*protocol.Contract, error) {
	raw, err := os.ReadFile(r.layout.Abs(rel))
	if err != nil {
		return nil, fmt.Errorf("failed to read contract %s: %w", rel, err)
	}

	c, err := protocol.ParseContract(raw)
	if err != nil {
		var pe *protocol.ParseError
		if errors.As(err, &pe) {
			pe.Path = rel
		}
		return nil, err
	}

	return c, nil
}

// SaveContract writes a contract at its replica-relative path, stamping
// updated. Refused outside the local owner's namespace.
func (r *Registry) SaveContract(rel string, c *protocol.Contract) error {
	if err := r.checkOwnership(rel); err != nil {
		return err
	}

	c.Updated = r.Now().UTC().Truncate(time.Second)

	data, err := protocol.MarshalContract(c)
	if err != nil {
		return err
	}

	path := r.layout.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create contract directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write contract %s: %w", rel, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace contract %s: %w", rel, err)
	}

	return nil
}

// Annotate marks a contract entry proposed under the given request id.
//
// Refused when the entry is already proposed under a different request - two
// in-flight requests must not contend for one contract entry. Annotating
// again under the same request id is a no-op.
func (r *Registry) Annotate(rel, requestID string) error {
	c, err := r.LoadContract(rel)
	if err != nil {
		return err
	}

	if c.Status == protocol.ContractProposed {
		if c.ProposedBy == requestID {
			return nil
		}
		return fmt.Errorf("contract %s is already proposed under request %s", rel, c.ProposedBy)
	}

	c.Status = protocol.ContractProposed
	c.ProposedBy = requestID
	return r.SaveContract(rel, c)
}

// Finalize clears the proposed annotation for a contract entry. Only called
// as part of the owning request's completed transition; the entry returns to
// draft and waits for human promotion to stable.
//
// Idempotent: finalizing an entry that carries no annotation is a no-op, so
// a retried completion does not fail here.
func (r *Registry) Finalize(rel, requestID string) error {
	c, err := r.LoadContract(rel)
	if err != nil {
		return err
	}

	if c.Status != protocol.ContractProposed {
		return nil
	}

	if c.ProposedBy != requestID {
		return fmt.Errorf("contract %s is proposed under request %s, not %s", rel, c.ProposedBy, requestID)
	}

	c.Status = protocol.ContractDraft
	c.ProposedBy = ""
	return r.SaveContract(rel, c)
}

// Promote moves a draft contract entry to stable. This is a human-only
// operation - the daemon has no code path that reaches it.
func (r *Registry) Promote(rel string) error {
	c, err := r.LoadContract(rel)
	if err != nil {
		return err
	}

	if c.Status != protocol.ContractDraft {
		return fmt.Errorf("only draft contracts can be promoted, %s is %s", rel, c.Status)
	}

	c.Status = protocol.ContractStable
	return r.SaveContract(rel, c)
}

// LoadEntry reads an owner's registry entry. Returns nil without error when
// the owner has no entry yet.
func (r *Registry) LoadEntry(owner string) (*protocol.RegistryEntry, error) {
	raw, err := os.ReadFile(r.layout.RegistryFile(owner))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read registry entry for %s: %w", owner, err)
	}

	entry, err := protocol.ParseRegistryEntry(raw)
	if err != nil {
		var pe *protocol.ParseError
		if errors.As(err, &pe) {
			pe.Path = r.layout.Rel(r.layout.RegistryFile(owner))
		}
		return nil, err
	}

	return entry, nil
}

// SaveEntry writes the local owner's registry entry. Refused for any other
// owner's entry.
func (r *Registry) SaveEntry(entry *protocol.RegistryEntry) error {
	rel := r.layout.Rel(r.layout.RegistryFile(entry.Owner))
	if err := r.checkOwnership(rel); err != nil {
		return err
	}

	data, err := protocol.MarshalRegistryEntry(entry)
	if err != nil {
		return err
	}

	path := r.layout.RegistryFile(entry.Owner)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry entry: %w", err)
	}

	return nil
}
