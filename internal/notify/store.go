package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	id "auditoria/pkg/domain"
)

// RecordStore persists delivery evidence.
type RecordStore interface {
	Save(ctx context.Context, record *Record) error
	ListByAudit(ctx context.Context, auditID id.AuditID) ([]*Record, error)
}

// MemoryRecordStore keeps records in-process.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[id.AuditID][]*Record
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[id.AuditID][]*Record)}
}

func (s *MemoryRecordStore) Save(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}
	cp := *record
	s.records[record.AuditID] = append(s.records[record.AuditID], &cp)
	return nil
}

func (s *MemoryRecordStore) ListByAudit(_ context.Context, auditID id.AuditID) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, 0, len(s.records[auditID]))
	for _, r := range s.records[auditID] {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}
