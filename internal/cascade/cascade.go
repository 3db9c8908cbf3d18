// Package cascade derives secondary records from primary record changes:
// change notifications along declared dependency edges, and fan-out child
// requests for a parent addressed at multiple owners.
package cascade

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/aiwatching/accord/internal/registry"
	"github.com/aiwatching/accord/internal/store"
	"github.com/aiwatching/accord/pkg/protocol"
)

// dependencyStateFile records, per watched contract path, the content hash
// at the last notification. Local-only state: it lives outside the synced
// collections and never leaves the replica.
const dependencyStateFile = "state/dependencies.yml"

// Notifier synthesizes notification and child records for one replica.
type Notifier struct {
	owner    string
	store    *store.Store
	registry *registry.Registry

	// Now supplies timestamps for synthesized records. Defaults to time.Now.
	Now func() time.Time
}

// New creates a notifier for the local owner.
func New(owner string, st *store.Store, reg *registry.Registry) *Notifier {
	return &Notifier{owner: owner, store: st, registry: reg, Now: time.Now}
}

func (n *Notifier) now() time.Time {
	if n.Now != nil {
		return n.Now().UTC().Truncate(time.Second)
	}
	return time.Now().UTC().Truncate(time.Second)
}

// NotifyDependencies walks the local owner's declared dependency edges and
// synthesizes a low-weight notification request for every watched contract
// whose content changed since the recorded reference point.
//
// Idempotent: an unchanged contract produces nothing, and the reference
// point moves forward as soon as the notification is written, so one change
// notifies exactly once. The first sighting of a contract only records the
// reference point - there is no "changed since" before that.
//
// Returns the ids of the notification records created.
func (n *Notifier) NotifyDependencies() ([]string, error) {
	entry, err := n.registry.LoadEntry(n.owner)
	if err != nil {
		return nil, err
	}
	if entry == nil || len(entry.Dependencies) == 0 {
		return nil, nil
	}

	hashes, err := n.loadDependencyState()
	if err != nil {
		return nil, err
	}

	var created []string
	for _, dep := range entry.Dependencies {
		raw, err := os.ReadFile(n.store.Layout().Abs(dep.Contract))
		if err != nil {
			if os.IsNotExist(err) {
				// Mirror not pulled yet; nothing to compare against
				continue
			}
			return nil, fmt.Errorf("failed to read watched contract %s: %w", dep.Contract, err)
		}

		sum := sha256.Sum256(raw)
		hash := hex.EncodeToString(sum[:])

		previous, seen := hashes[dep.Contract]
		if !seen {
			hashes[dep.Contract] = hash
			continue
		}
		if previous == hash {
			continue
		}

		id, err := n.createNotification(dep)
		if err != nil {
			return nil, err
		}
		hashes[dep.Contract] = hash
		created = append(created, id)
		log.Printf("[INFO] Dependency change detected: contract=%s owner=%s notification=%s",
			dep.Contract, dep.Owner, id)
	}

	if err := n.saveDependencyState(hashes); err != nil {
		return nil, err
	}

	return created, nil
}

// createNotification writes a notification request into the local owner's
// own inbox describing a changed upstream contract.
func (n *Notifier) createNotification(dep protocol.Dependency) (string, error) {
	now := n.now()
	req := &protocol.Request{
		ID:              fmt.Sprintf("notify-%s-%s", dep.Owner, uuid.New().String()[:8]),
		From:            dep.Owner,
		To:              n.owner,
		Scope:           protocol.ScopeExternal,
		Type:            protocol.TypeOther,
		Priority:        protocol.PriorityLow,
		Status:          protocol.StatusPending,
		Created:         now,
		Updated:         now,
		RelatedContract: dep.Contract,
	}

	req.AppendSection(protocol.SectionWhat,
		fmt.Sprintf("The contract `%s` owned by `%s` has changed since it was last reviewed.", dep.Contract, dep.Owner))
	req.AppendSection(protocol.SectionProposedChange,
		"Review the updated contract and adjust this service's integration if needed.")
	req.AppendSection(protocol.SectionWhy,
		fmt.Sprintf("`%s` declares a dependency on this contract in its registry entry.", n.owner))
	req.AppendSection(protocol.SectionImpact,
		"Integration against the previous contract revision may no longer hold.")

	if err := n.store.SaveInbox(req); err != nil {
		return "", fmt.Errorf("failed to write notification record: %w", err)
	}
	return req.ID, nil
}

// Fanout synthesizes one child request per target owner for a cascade
// parent. Each child back-references the parent; the parent's child_requests
// list gains every child id with no duplicates and without disturbing
// existing entries. Children land in the local outgoing queue, to be
// delivered by the next push.
//
// Returns the child ids in target order.
func (n *Notifier) Fanout(parent *protocol.Request, targets []string) ([]string, error) {
	if len(targets) == 0 {
		return nil, fmt.Errorf("cascade needs at least one target owner")
	}

	existing := make(map[string]bool, len(parent.ChildRequests))
	for _, id := range parent.ChildRequests {
		existing[id] = true
	}

	now := n.now()
	var children []string

	for _, target := range targets {
		childID := fmt.Sprintf("%s-%s", parent.ID, target)

		child := &protocol.Request{
			ID:            childID,
			From:          n.owner,
			To:            target,
			Scope:         parent.Scope,
			Type:          parent.Type,
			Priority:      parent.Priority,
			Status:        protocol.StatusPending,
			Created:       now,
			Updated:       now,
			ParentRequest: parent.ID,
			Body:          parent.Body,
		}

		if err := n.store.SaveInbox(child); err != nil {
			return nil, fmt.Errorf("failed to write child request %s: %w", childID, err)
		}

		children = append(children, childID)
		if !existing[childID] {
			parent.ChildRequests = append(parent.ChildRequests, childID)
			existing[childID] = true
		}
	}

	parent.Updated = now
	if err := n.store.SaveInbox(parent); err != nil {
		return nil, fmt.Errorf("failed to update cascade parent %s: %w", parent.ID, err)
	}

	return children, nil
}

// loadDependencyState reads the per-contract reference hashes.
func (n *Notifier) loadDependencyState() (map[string]string, error) {
	path := filepath.Join(n.store.Layout().Root, dependencyStateFile)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read dependency state: %w", err)
	}

	hashes := map[string]string{}
	if err := yaml.Unmarshal(raw, &hashes); err != nil {
		return nil, fmt.Errorf("failed to parse dependency state: %w", err)
	}
	return hashes, nil
}

// saveDependencyState writes the per-contract reference hashes.
func (n *Notifier) saveDependencyState(hashes map[string]string) error {
	path := filepath.Join(n.store.Layout().Root, dependencyStateFile)

	data, err := yaml.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("failed to marshal dependency state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write dependency state: %w", err)
	}
	return nil
}
