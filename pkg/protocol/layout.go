package protocol

import (
	"path/filepath"
	"strings"
)

// DirName is the replica directory at the root of every participating
// repository, including the hub.
const DirName = ".accord"

// RecordExt is the file extension for all records.
const RecordExt = ".md"

// Layout describes where records live inside one replica. All methods return
// paths rooted at Root (the .accord directory itself).
//
// The tree:
//
//	requests/<owner>/<id>.md   - inbox, keyed by target owner
//	archive/<id>.md            - terminal records, flat
//	contracts/<owner>/...      - contract files, with an internal/
//	                             sub-collection for module-level entries
//	registry/<owner>.md        - one registry entry per owner
type Layout struct {
	Root string
}

// NewLayout returns the Layout for a repository root (the directory that
// contains the .accord tree).
func NewLayout(repoRoot string) Layout {
	return Layout{Root: filepath.Join(repoRoot, DirName)}
}

// RequestsDir returns the directory holding all inboxes.
func (l Layout) RequestsDir() string {
	return filepath.Join(l.Root, "requests")
}

// InboxDir returns the inbox directory for a target owner.
func (l Layout) InboxDir(owner string) string {
	return filepath.Join(l.Root, "requests", owner)
}

// RequestFile returns the path of a request in an owner's inbox.
func (l Layout) RequestFile(owner, id string) string {
	return filepath.Join(l.InboxDir(owner), id+RecordExt)
}

// ArchiveDir returns the archive directory.
func (l Layout) ArchiveDir() string {
	return filepath.Join(l.Root, "archive")
}

// ArchiveFile returns the path of an archived request.
func (l Layout) ArchiveFile(id string) string {
	return filepath.Join(l.ArchiveDir(), id+RecordExt)
}

// ContractsDir returns the top-level contracts directory.
func (l Layout) ContractsDir() string {
	return filepath.Join(l.Root, "contracts")
}

// OwnerContractsDir returns the contract directory for one owner.
func (l Layout) OwnerContractsDir(owner string) string {
	return filepath.Join(l.Root, "contracts", owner)
}

// InternalContractsDir returns the module-level contract sub-collection
// for one owner.
func (l Layout) InternalContractsDir(owner string) string {
	return filepath.Join(l.OwnerContractsDir(owner), "internal")
}

// ContractFile returns the path of a named contract for an owner.
// Module-level (internal scope) contracts live under internal/.
func (l Layout) ContractFile(owner, name string, scope Scope) string {
	if scope == ScopeInternal {
		return filepath.Join(l.InternalContractsDir(owner), name+RecordExt)
	}
	return filepath.Join(l.OwnerContractsDir(owner), name+RecordExt)
}

// RegistryDir returns the registry directory.
func (l Layout) RegistryDir() string {
	return filepath.Join(l.Root, "registry")
}

// RegistryFile returns the path of an owner's registry entry.
func (l Layout) RegistryFile(owner string) string {
	return filepath.Join(l.RegistryDir(), owner+RecordExt)
}

// Rel converts an absolute path under the layout to a replica-relative path
// (the form stored in related_contract fields), or returns the input
// unchanged if it is not under Root.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// Abs converts a replica-relative path back to an absolute path under Root.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// RequestID extracts the record id from a request or archive file path.
func RequestID(path string) string {
	return strings.TrimSuffix(filepath.Base(path), RecordExt)
}
