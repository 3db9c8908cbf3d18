// Package store provides read/write access to request records inside one
// replica. It owns the file-level concerns: atomic writes, inbox scanning,
// idempotent archival, and the reopen rule for pulled records.
//
// The store never interprets statuses beyond the reopen/archival rules;
// lifecycle logic lives in the state machine.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aiwatching/accord/pkg/protocol"
)

// ErrNotFound is returned when a request id cannot be located in any inbox
// or in the archive.
var ErrNotFound = errors.New("request not found")

// Store reads and writes request records under one replica layout.
type Store struct {
	layout protocol.Layout
}

// New creates a store over the given replica layout.
func New(layout protocol.Layout) *Store {
	return &Store{layout: layout}
}

// Layout returns the replica layout the store operates on.
func (s *Store) Layout() protocol.Layout {
	return s.layout
}

// Load reads and parses the request at an absolute path.
func (s *Store) Load(path string) (*protocol.Request, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read record: %w", err)
	}

	req, err := protocol.ParseRequest(raw)
	if err != nil {
		var pe *protocol.ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}

	return req, nil
}

// Save writes a request to an absolute path atomically (temp file + rename),
// creating parent directories as needed.
func (s *Store) Save(path string, req *protocol.Request) error {
	data, err := protocol.MarshalRequest(req)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create record directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace record: %w", err)
	}

	return nil
}

// SaveInbox writes a request into its target owner's inbox.
func (s *Store) SaveInbox(req *protocol.Request) error {
	return s.Save(s.layout.RequestFile(req.To, req.ID), req)
}

// ScanInbox returns all requests in one owner's inbox, sorted by id so scan
// order is deterministic across ticks and machines. Malformed records are
// skipped with the collected parse errors returned alongside the good ones.
func (s *Store) ScanInbox(owner string) ([]*protocol.Request, []error) {
	dir := s.layout.InboxDir(owner)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("failed to read inbox %s: %w", dir, err)}
	}

	var requests []*protocol.Request
	var parseErrs []error

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), protocol.RecordExt) {
			continue
		}

		req, err := s.Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			parseErrs = append(parseErrs, err)
			continue
		}
		requests = append(requests, req)
	}

	sort.Slice(requests, func(i, j int) bool { return requests[i].ID < requests[j].ID })
	return requests, parseErrs
}

// Owners lists every owner that currently has an inbox directory.
func (s *Store) Owners() ([]string, error) {
	entries, err := os.ReadDir(s.layout.RequestsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read requests directory: %w", err)
	}

	var owners []string
	for _, entry := range entries {
		if entry.IsDir() {
			owners = append(owners, entry.Name())
		}
	}
	sort.Strings(owners)
	return owners, nil
}

// Find locates a request by id across all inboxes. Returns the request and
// the owner whose inbox holds it.
func (s *Store) Find(id string) (*protocol.Request, string, error) {
	owners, err := s.Owners()
	if err != nil {
		return nil, "", err
	}

	for _, owner := range owners {
		path := s.layout.RequestFile(owner, id)
		req, err := s.Load(path)
		if err == nil {
			return req, owner, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, "", err
		}
	}

	return nil, "", fmt.Errorf("%w: %s", ErrNotFound, id)
}

// IsArchived reports whether a record with this id exists in the archive.
func (s *Store) IsArchived(id string) bool {
	_, err := os.Stat(s.layout.ArchiveFile(id))
	return err == nil
}

// LoadArchived reads a request from the archive.
func (s *Store) LoadArchived(id string) (*protocol.Request, error) {
	return s.Load(s.layout.ArchiveFile(id))
}

// Archive moves a terminal request from its inbox to the archive.
//
// Idempotent: if the record is already archived (by this process on an
// earlier attempt, or by the external worker itself) the archive copy is
// left alone and only a stale inbox copy, if any, is removed. A record is
// never deleted - the archive copy always survives.
func (s *Store) Archive(req *protocol.Request) error {
	if !req.Status.Terminal() {
		return fmt.Errorf("refusing to archive request %s with non-terminal status %s", req.ID, req.Status)
	}

	archivePath := s.layout.ArchiveFile(req.ID)
	inboxPath := s.layout.RequestFile(req.To, req.ID)

	if !s.IsArchived(req.ID) {
		if err := s.Save(archivePath, req); err != nil {
			return fmt.Errorf("failed to write archive copy: %w", err)
		}
	}

	if err := os.Remove(inboxPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove inbox copy of %s: %w", req.ID, err)
	}

	return nil
}

// Withdraw deletes a pending outgoing request from the target owner's inbox
// in this replica. Withdrawal is the one permitted deletion: the requester
// pulling back work nobody has started.
func (s *Store) Withdraw(req *protocol.Request) error {
	if req.Status != protocol.StatusPending {
		return fmt.Errorf("only pending requests can be withdrawn, %s is %s", req.ID, req.Status)
	}

	path := s.layout.RequestFile(req.To, req.ID)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, req.ID)
		}
		return fmt.Errorf("failed to withdraw request %s: %w", req.ID, err)
	}

	return nil
}

// AcceptPulled decides whether a record pulled from the hub belongs in the
// local inbox, applying the reopen rule:
//
//   - id already present in the inbox: keep the local copy (skip)
//   - id present in the archive, pulled copy pending: a reopened request -
//     accepted as new work, attempts reset, archive copy untouched
//   - id present in the archive, pulled copy not pending: a stale duplicate
//     of completed work - discarded
//   - otherwise: accepted
//
// Returns true when the record was written into the inbox.
func (s *Store) AcceptPulled(req *protocol.Request) (bool, error) {
	inboxPath := s.layout.RequestFile(req.To, req.ID)

	if _, err := os.Stat(inboxPath); err == nil {
		return false, nil
	}

	if s.IsArchived(req.ID) {
		if req.Status != protocol.StatusPending {
			return false, nil
		}
		// Reopened: the archived copy is history, this is new work
		req.Attempts = 0
	}

	if err := s.Save(inboxPath, req); err != nil {
		return false, err
	}
	return true, nil
}
