// Package store holds the ephemeral workflow state that correlates
// independently-arriving Slack events into one reimbursement transaction.
// Entries are keyed by request ID; a secondary index maps a user ID to the
// request currently waiting for that user's file upload. Everything lives in
// memory only: an in-flight request is lost on restart by design.
package store

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/henry-yukit-rp/dhuBot/internal/domain"
)

// Store is the correlation store. All mutations are applied atomically under
// one mutex so handlers are safe to invoke concurrently.
type Store struct {
	mu      sync.Mutex
	entries map[string]*domain.PendingRequest
	byUser  map[string]string // user ID -> request ID waiting for a file
	logger  *slog.Logger
}

// New creates an empty Store.
func New(logger *slog.Logger) *Store {
	return &Store{
		entries: make(map[string]*domain.PendingRequest),
		byUser:  make(map[string]string),
		logger:  logger,
	}
}

// NewRequestID returns a fresh opaque correlation key.
func NewRequestID() string { return uuid.NewString() }

// Put inserts or replaces an entry under its request ID.
func (s *Store) Put(req domain.PendingRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := req
	s.entries[req.ID] = &r
}

// Get returns a copy of the entry for the given request ID. A miss is a
// normal outcome, not an error.
func (s *Store) Get(id string) (domain.PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[id]
	if !ok {
		return domain.PendingRequest{}, false
	}
	return *r, true
}

// GetByUser returns a copy of the request currently waiting for a file from
// the given user.
func (s *Store) GetByUser(userID string) (domain.PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byUser[userID]
	if !ok {
		return domain.PendingRequest{}, false
	}
	r, ok := s.entries[id]
	if !ok {
		// Index pointing at a removed entry; heal it.
		delete(s.byUser, userID)
		return domain.PendingRequest{}, false
	}
	return *r, true
}

// Advance performs a compare-and-set state transition: the mutation is
// applied only if the entry exists and is currently in the from state. The
// returned copy reflects the mutated entry. Callers use this to claim a
// transition exclusively when events race.
func (s *Store) Advance(id string, from, to domain.State, mutate func(*domain.PendingRequest)) (domain.PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[id]
	if !ok || r.State != from {
		return domain.PendingRequest{}, false
	}
	if mutate != nil {
		mutate(r)
	}
	r.State = to
	return *r, true
}

// Take atomically removes and returns the entry, clearing any user index that
// points at it. A consuming operation pairs Take with the terminal side
// effect so no dangling entry survives.
func (s *Store) Take(id string) (domain.PendingRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[id]
	if !ok {
		return domain.PendingRequest{}, false
	}
	delete(s.entries, id)
	if s.byUser[r.UserID] == id {
		delete(s.byUser, r.UserID)
	}
	return *r, true
}

// Delete removes the entry if present, clearing any user index pointing at
// it. Deleting a missing key is a no-op.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[id]
	if !ok {
		return
	}
	delete(s.entries, id)
	if s.byUser[r.UserID] == id {
		delete(s.byUser, r.UserID)
	}
}

// BindUser marks the entry as the user's active waiting-for-file slot. If a
// different request already held the slot it is evicted from the store and
// returned so the caller can release its resources (replace-with-cleanup
// policy; the slot is never silently merged).
func (s *Store) BindUser(userID, id string) (evicted domain.PendingRequest, hadPrevious bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byUser[userID]; ok && prev != id {
		if r, ok := s.entries[prev]; ok {
			evicted = *r
			hadPrevious = true
			delete(s.entries, prev)
			s.logger.Info("replaced pending file-upload slot",
				"user", userID,
				"evicted_request", prev,
				"request", id,
			)
		}
	}
	s.byUser[userID] = id
	return evicted, hadPrevious
}

// MigrateKey atomically re-keys an entry under a freshly generated request ID
// and releases the user's waiting-for-file slot. The old key and the new key
// are never simultaneously live. Returns the new ID.
func (s *Store) MigrateKey(oldID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[oldID]
	if !ok {
		return "", false
	}
	newID := uuid.NewString()
	delete(s.entries, oldID)
	if s.byUser[r.UserID] == oldID {
		delete(s.byUser, r.UserID)
	}
	r.ID = newID
	s.entries[newID] = r
	return newID, true
}

// Len returns the number of live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
