// Package approval lets an operator outside the monitored process resolve
// permission requests. Each request is a JSON file in a directory; the
// monitor writes it when a session pauses and watches for the operator's
// decision.
package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no request exists for an id.
var ErrNotFound = errors.New("approval: request not found")

// ErrResolved is returned when deciding a request that is no longer pending.
var ErrResolved = errors.New("approval: request already resolved")

// validID matches alphanumeric, dash, underscore, and dot characters only.
var validID = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateID rejects ids that could cause path traversal.
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("id must not be empty")
	}
	if strings.Contains(id, "..") {
		return fmt.Errorf("id must not contain '..'")
	}
	if !validID.MatchString(id) {
		return fmt.Errorf("id contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status represents the state of a permission request.
type Status string

const (
	StatusPending Status = "pending"
	StatusGranted Status = "granted"
	StatusDenied  Status = "denied"
)

// Request is one permission request and its resolution.
type Request struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Condition  string     `json:"condition"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
}

// Store manages request files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create approval directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default request directory.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "monmon-pending")
	}
	return filepath.Join(home, ".monmon", "pending")
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Create writes a new pending request under a generated id.
func (s *Store) Create(sessionID, condition string) (*Request, error) {
	r := Request{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Condition: condition,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.writeAtomic(s.path(r.ID), r); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}
	return &r, nil
}

// Grant marks a pending request as granted.
func (s *Store) Grant(id, by string) error {
	return s.resolve(id, StatusGranted, by)
}

// Deny marks a pending request as denied.
func (s *Store) Deny(id, by string) error {
	return s.resolve(id, StatusDenied, by)
}

func (s *Store) resolve(id string, status Status, by string) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid request id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.read(id)
	if err != nil {
		return err
	}
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s is %s", ErrResolved, id, r.Status)
	}

	r.Status = status
	r.ResolvedBy = by
	now := time.Now().UTC()
	r.ResolvedAt = &now

	return s.writeAtomic(s.path(id), *r)
}

// Get returns the request with the given id.
func (s *Store) Get(id string) (*Request, error) {
	if err := validateID(id); err != nil {
		return nil, fmt.Errorf("invalid request id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

// List returns all requests, oldest first.
func (s *Store) List() ([]Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var requests []Request
	for _, e := range entries {
		if e.IsDir() || !isRequestFile(e.Name()) {
			continue
		}
		r, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		requests = append(requests, *r)
	}

	sort.Slice(requests, func(i, j int) bool {
		return requests[i].CreatedAt.Before(requests[j].CreatedAt)
	})
	return requests, nil
}

// Pending returns the requests still awaiting a decision, oldest first.
func (s *Store) Pending() ([]Request, error) {
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	var pending []Request
	for _, r := range all {
		if r.Status == StatusPending {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

// Cleanup removes all request files in the store.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *Store) read(id string) (*Request, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode request %s: %w", id, err)
	}
	return &r, nil
}

func (s *Store) writeAtomic(path string, r Request) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

// isRequestFile returns true for .json files (not .tmp partial writes).
func isRequestFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".tmp")
}

// idFromPath returns the request id encoded in a request file path.
func idFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}
