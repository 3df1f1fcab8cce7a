package documents

import (
	"context"
	"sync"
	"time"

	id "auditoria/pkg/domain"
	"auditoria/pkg/platform/sentinel"
)

// MemoryStore is the in-memory document registry adapter.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[id.AuditID][]*Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[id.AuditID][]*Document)}
}

func (s *MemoryStore) Register(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID.IsNil() {
		doc.ID = id.NewDocumentID()
	}
	version := 1
	for _, existing := range s.docs[doc.AuditID] {
		if existing.SectionID == doc.SectionID && existing.Version >= version {
			version = existing.Version + 1
		}
	}
	doc.Version = version
	if doc.AnalysisState == "" {
		doc.AnalysisState = AnalysisPending
	}
	doc.CreatedAt = time.Now()

	cp := *doc
	s.docs[doc.AuditID] = append(s.docs[doc.AuditID], &cp)
	return nil
}

func (s *MemoryStore) ListByAudit(_ context.Context, auditID id.AuditID) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Document, 0, len(s.docs[auditID]))
	for _, d := range s.docs[auditID] {
		cp := *d
		out = append(out, &cp)
	}
	return out, nil
}

func (s *MemoryStore) DistinctSections(_ context.Context, auditID id.AuditID) ([]id.SectionID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[id.SectionID]bool)
	var out []id.SectionID
	for _, d := range s.docs[auditID] {
		if d.Deleted || seen[d.SectionID] {
			continue
		}
		seen[d.SectionID] = true
		out = append(out, d.SectionID)
	}
	return out, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, documentID id.DocumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, docs := range s.docs {
		for _, d := range docs {
			if d.ID == documentID {
				d.Deleted = true
				return nil
			}
		}
	}
	return sentinel.ErrNotFound
}
