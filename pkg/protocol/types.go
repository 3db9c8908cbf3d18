package protocol

import (
	"fmt"
	"time"
)

// Request represents a unit of cross-boundary work: one owner asking another
// owner for a capability it does not have. Requests live in the target
// owner's inbox while active and move to the archive on reaching a terminal
// status (they are never deleted).
type Request struct {
	ID              string      `yaml:"id"`                         // Unique human-meaningful slug (e.g. "req-billing-webhook")
	From            string      `yaml:"from"`                       // Requesting owner
	To              string      `yaml:"to"`                         // Target owner (only this owner may mutate status/body)
	Scope           Scope       `yaml:"scope"`                      // external (service boundary) or internal (module boundary)
	Type            RequestType `yaml:"type"`                       // What kind of change is being asked for
	Priority        Priority    `yaml:"priority"`                   // low, medium, high or critical
	Status          Status      `yaml:"status"`                     // Current lifecycle state
	Created         time.Time   `yaml:"created"`                    // When the request was first written
	Updated         time.Time   `yaml:"updated"`                    // Stamped on every status rewrite
	RelatedContract string      `yaml:"related_contract,omitempty"` // Replica-relative path of the contract this request targets
	ParentRequest   string      `yaml:"parent_request,omitempty"`   // Cascade parent (a child always has exactly one)
	ChildRequests   []string    `yaml:"child_requests,omitempty"`   // Cascade children, appended to as fan-out happens
	Attempts        int         `yaml:"attempts,omitempty"`         // Worker invocation failures so far
	OriginatedFrom  string      `yaml:"originated_from,omitempty"`  // For escalation records: the failed request's id

	// Body is the free-form markdown after the front-matter block.
	// Required sections: What, Proposed Change, Why, Impact.
	Body string `yaml:"-"`
}

// Status defines the lifecycle state of a request.
// Legal transitions are enforced by the state machine, not here.
type Status string

const (
	// StatusPending indicates the request awaits a decision by the target owner
	StatusPending Status = "pending"

	// StatusApproved indicates the target owner has accepted the request
	StatusApproved Status = "approved"

	// StatusInProgress indicates a daemon has claimed the request for execution
	StatusInProgress Status = "in-progress"

	// StatusCompleted indicates the work is done and the related contract updated
	StatusCompleted Status = "completed"

	// StatusRejected indicates the target owner declined, with a recorded reason
	StatusRejected Status = "rejected"

	// StatusFailed indicates worker execution failed past the retry bound
	StatusFailed Status = "failed"
)

// Terminal reports whether the status ends the request's lifecycle.
// Terminal records are archived, never deleted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusFailed:
		return true
	}
	return false
}

// RequestType categorizes what a request asks for.
type RequestType string

const (
	// TypeAddition asks for a new capability
	TypeAddition RequestType = "addition"

	// TypeChange asks for a modification to an existing capability
	TypeChange RequestType = "change"

	// TypeDeprecation asks for a capability to be retired
	TypeDeprecation RequestType = "deprecation"

	// TypeBugReport reports broken behaviour in an existing capability
	TypeBugReport RequestType = "bug-report"

	// TypeQuestion asks for information; also used for escalation records
	TypeQuestion RequestType = "question"

	// TypeOther covers anything the enumeration misses
	TypeOther RequestType = "other"

	// TypeCommand is the fast path: executed synchronously by the daemon
	// within one tick, bypassing human approval entirely
	TypeCommand RequestType = "command"
)

// Scope distinguishes service-level from module-level coordination.
type Scope string

const (
	// ScopeExternal crosses a service boundary (hub-mediated)
	ScopeExternal Scope = "external"

	// ScopeInternal crosses a module boundary within one repository
	ScopeInternal Scope = "internal"
)

// Priority orders requests for human attention. The daemon itself processes
// strictly sequentially and does not reorder by priority.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Contract represents the declared capability surface of one owner.
// Exactly one writable copy exists (in the owning repository); every other
// copy is a derived mirror and must never be edited directly.
type Contract struct {
	Owner   string         `yaml:"owner"`                 // Owning service or module
	Format  ContractFormat `yaml:"format"`                // schema (service-level) or signature (module-level)
	Status  ContractStatus `yaml:"status"`                // Current lifecycle state
	Updated time.Time      `yaml:"updated"`               // Stamped on every mutation at the owning copy
	ProposedBy string      `yaml:"proposed_by,omitempty"` // Request id this entry is proposed under, while unresolved

	// Body is the contract content itself. The protocol treats it as opaque
	// text - only the front-matter lifecycle fields matter here.
	Body string `yaml:"-"`
}

// ContractFormat defines the contract's format class.
type ContractFormat string

const (
	// FormatSchema is a structured schema for service-level boundaries
	FormatSchema ContractFormat = "schema"

	// FormatSignature is free-form text with signatures for module-level boundaries
	FormatSignature ContractFormat = "signature"
)

// ContractStatus defines the lifecycle state of a contract entry.
type ContractStatus string

const (
	// ContractDraft is the initial state for scanned or hand-written entries
	ContractDraft ContractStatus = "draft"

	// ContractStable is reachable only by human review, never by the daemon
	ContractStable ContractStatus = "stable"

	// ContractProposed marks an entry pending an unresolved linked request
	ContractProposed ContractStatus = "proposed"

	// ContractDeprecated marks an entry scheduled for removal
	ContractDeprecated ContractStatus = "deprecated"
)

// RegistryEntry is the static description of one owner: its responsibility,
// capabilities and declared dependencies. The protocol only reads it - for
// routing decisions and for the dependency notifier.
type RegistryEntry struct {
	Owner          string       `yaml:"owner"`
	Responsibility string       `yaml:"responsibility"`
	Capabilities   []string     `yaml:"capabilities,omitempty"`
	Dependencies   []Dependency `yaml:"dependencies,omitempty"`

	// Body holds free-form description text.
	Body string `yaml:"-"`
}

// Dependency declares that the entry's owner depends on a named contract
// owned by someone else. The dependency notifier watches these edges.
type Dependency struct {
	Owner    string `yaml:"owner"`    // The contract's owner
	Contract string `yaml:"contract"` // Replica-relative contract path
}

// Validate checks if the Request has valid field values.
// Returns an error if any validation fails.
func (r *Request) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("request id cannot be empty")
	}

	if r.From == "" {
		return fmt.Errorf("request 'from' owner cannot be empty")
	}

	if r.To == "" {
		return fmt.Errorf("request 'to' owner cannot be empty")
	}

	if err := r.Scope.Validate(); err != nil {
		return fmt.Errorf("invalid scope: %w", err)
	}

	if err := r.Type.Validate(); err != nil {
		return fmt.Errorf("invalid type: %w", err)
	}

	if err := r.Priority.Validate(); err != nil {
		return fmt.Errorf("invalid priority: %w", err)
	}

	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if r.Created.IsZero() {
		return fmt.Errorf("created timestamp cannot be zero")
	}

	// A child never points at itself and a request never lists itself as child
	if r.ParentRequest == r.ID && r.ID != "" {
		return fmt.Errorf("request %s cannot be its own parent", r.ID)
	}
	for _, child := range r.ChildRequests {
		if child == r.ID {
			return fmt.Errorf("request %s cannot be its own child", r.ID)
		}
	}

	if r.Attempts < 0 {
		return fmt.Errorf("attempts cannot be negative, got %d", r.Attempts)
	}

	return nil
}

// Validate checks if the Status is a valid enum value.
func (s Status) Validate() error {
	switch s {
	case StatusPending, StatusApproved, StatusInProgress,
		StatusCompleted, StatusRejected, StatusFailed:
		return nil
	default:
		return fmt.Errorf("unknown status: %q", s)
	}
}

// Validate checks if the RequestType is a valid enum value.
func (t RequestType) Validate() error {
	switch t {
	case TypeAddition, TypeChange, TypeDeprecation, TypeBugReport,
		TypeQuestion, TypeOther, TypeCommand:
		return nil
	default:
		return fmt.Errorf("unknown request type: %q", t)
	}
}

// Validate checks if the Scope is a valid enum value.
func (s Scope) Validate() error {
	switch s {
	case ScopeExternal, ScopeInternal:
		return nil
	default:
		return fmt.Errorf("unknown scope: %q", s)
	}
}

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return nil
	default:
		return fmt.Errorf("unknown priority: %q", p)
	}
}

// Validate checks if the Contract has valid field values.
func (c *Contract) Validate() error {
	if c.Owner == "" {
		return fmt.Errorf("contract owner cannot be empty")
	}

	if err := c.Format.Validate(); err != nil {
		return fmt.Errorf("invalid format: %w", err)
	}

	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	// The proposed annotation and the proposed status travel together
	if c.Status == ContractProposed && c.ProposedBy == "" {
		return fmt.Errorf("proposed contract must carry a proposed_by request id")
	}
	if c.Status != ContractProposed && c.ProposedBy != "" {
		return fmt.Errorf("proposed_by set but status is %q, not %q", c.Status, ContractProposed)
	}

	return nil
}

// Validate checks if the ContractFormat is a valid enum value.
func (f ContractFormat) Validate() error {
	switch f {
	case FormatSchema, FormatSignature:
		return nil
	default:
		return fmt.Errorf("unknown contract format: %q", f)
	}
}

// Validate checks if the ContractStatus is a valid enum value.
func (s ContractStatus) Validate() error {
	switch s {
	case ContractDraft, ContractStable, ContractProposed, ContractDeprecated:
		return nil
	default:
		return fmt.Errorf("unknown contract status: %q", s)
	}
}

// Validate checks if the RegistryEntry has valid field values.
func (e *RegistryEntry) Validate() error {
	if e.Owner == "" {
		return fmt.Errorf("registry entry owner cannot be empty")
	}

	if e.Responsibility == "" {
		return fmt.Errorf("registry entry responsibility cannot be empty")
	}

	for i, dep := range e.Dependencies {
		if dep.Owner == "" {
			return fmt.Errorf("dependency at index %d: owner cannot be empty", i)
		}
		if dep.Contract == "" {
			return fmt.Errorf("dependency at index %d: contract path cannot be empty", i)
		}
	}

	return nil
}
