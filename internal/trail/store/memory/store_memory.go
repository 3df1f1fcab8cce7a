// Package memory holds the in-memory trail store used in development and as
// a test fixture.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"auditoria/internal/trail"
	id "auditoria/pkg/domain"
)

// Store is an in-memory trail.Store and trail.OutboxSource.
type Store struct {
	mu          sync.RWMutex
	entries     []trail.Entry
	unpublished map[uuid.UUID]bool
}

func New() *Store {
	return &Store{unpublished: make(map[uuid.UUID]bool)}
}

func (s *Store) Append(_ context.Context, entry trail.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.entries = append(s.entries, entry)
	s.unpublished[entry.ID] = true
	return nil
}

func (s *Store) ListByAudit(_ context.Context, auditID id.AuditID) ([]trail.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []trail.Entry
	for _, e := range s.entries {
		if e.AuditID == auditID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) NextBatch(_ context.Context, limit int) ([]trail.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []trail.Entry
	for _, e := range s.entries {
		if len(out) == limit {
			break
		}
		if s.unpublished[e.ID] {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, ids []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entryID := range ids {
		delete(s.unpublished, entryID)
	}
	return nil
}
