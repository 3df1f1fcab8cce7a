// Package memory is the in-memory audit repository adapter. It backs unit
// tests and dependency-free development runs; the postgres adapter is the
// production backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"auditoria/internal/audits"
	"auditoria/internal/audits/store"
	"auditoria/internal/calendar"
	"auditoria/internal/trail"
	id "auditoria/pkg/domain"
	"auditoria/pkg/platform/sentinel"
)

// Store implements store.Store with a mutex-guarded map. The single lock
// makes every write path atomic with its trail append, mirroring the
// transaction the postgres adapter uses.
type Store struct {
	mu          sync.RWMutex
	audits      map[id.AuditID]*audits.Audit
	assignments map[id.AuditID][]*audits.Assignment
	trail       trail.Store
}

func New(trailStore trail.Store) *Store {
	return &Store{
		audits:      make(map[id.AuditID]*audits.Audit),
		assignments: make(map[id.AuditID][]*audits.Assignment),
		trail:       trailStore,
	}
}

func (s *Store) Create(_ context.Context, audit *audits.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.audits {
		if existing.SiteID == audit.SiteID && existing.Period == audit.Period {
			return sentinel.ErrDuplicate
		}
	}
	if audit.ID.IsNil() {
		audit.ID = id.NewAuditID()
	}
	now := time.Now()
	audit.CreatedAt = now
	audit.UpdatedAt = now
	cp := *audit
	s.audits[audit.ID] = &cp
	return nil
}

func (s *Store) FindByID(_ context.Context, auditID id.AuditID) (*audits.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(auditID)
}

func (s *Store) FindBySiteAndPeriod(_ context.Context, siteID id.SiteID, period audits.Period) (*audits.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.audits {
		if a.SiteID == siteID && a.Period == period {
			cp := *a
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) ListBySite(_ context.Context, siteID id.SiteID) ([]*audits.Audit, error) {
	return s.list(func(a *audits.Audit) bool { return a.SiteID == siteID })
}

func (s *Store) ListByAuditor(_ context.Context, auditorID id.ActorID) ([]*audits.Audit, error) {
	return s.list(func(a *audits.Audit) bool { return a.AuditorID == auditorID })
}

func (s *Store) ListByState(_ context.Context, states ...audits.State) ([]*audits.Audit, error) {
	return s.list(func(a *audits.Audit) bool { return stateIn(a.State, states) })
}

func (s *Store) ListByDeadline(_ context.Context, day calendar.Day, states ...audits.State) ([]*audits.Audit, error) {
	return s.list(func(a *audits.Audit) bool {
		return a.UploadDeadline == day && stateIn(a.State, states)
	})
}

func (s *Store) ListExpiringWithin(_ context.Context, from calendar.Day, days int, states ...audits.State) ([]*audits.Audit, error) {
	return s.list(func(a *audits.Audit) bool {
		offset := from.DaysUntil(a.UploadDeadline)
		return offset >= 0 && offset <= days && stateIn(a.State, states)
	})
}

func (s *Store) UpdateState(ctx context.Context, auditID id.AuditID, change store.StateChange, entry trail.Entry) (*audits.Audit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	audit, ok := s.audits[auditID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if audit.State != change.From {
		return nil, sentinel.ErrConflict
	}

	audit.State = change.To
	if change.FinalScore != nil {
		score := *change.FinalScore
		audit.FinalScore = &score
	}
	if change.Remarks != "" {
		audit.Remarks = change.Remarks
	}
	audit.UpdatedAt = time.Now()

	if err := s.trail.Append(ctx, entry); err != nil {
		return nil, err
	}
	cp := *audit
	return &cp, nil
}

func (s *Store) AssignAuditor(ctx context.Context, assignment audits.Assignment, entry trail.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	audit, ok := s.audits[assignment.AuditID]
	if !ok {
		return sentinel.ErrNotFound
	}

	for _, existing := range s.assignments[assignment.AuditID] {
		if existing.Status == audits.AssignmentActive {
			existing.Status = audits.AssignmentCancelled
		}
	}

	if assignment.ID.IsNil() {
		assignment.ID = id.NewAssignmentID()
	}
	assignment.Status = audits.AssignmentActive
	assignment.CreatedAt = time.Now()
	cp := assignment
	s.assignments[assignment.AuditID] = append(s.assignments[assignment.AuditID], &cp)

	audit.AuditorID = assignment.AuditorID
	audit.UpdatedAt = time.Now()

	return s.trail.Append(ctx, entry)
}

func (s *Store) ActiveAssignment(_ context.Context, auditID id.AuditID) (*audits.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.assignments[auditID] {
		if a.Status == audits.AssignmentActive {
			cp := *a
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *Store) ListAssignments(_ context.Context, auditID id.AuditID) ([]*audits.Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*audits.Assignment, 0, len(s.assignments[auditID]))
	for _, a := range s.assignments[auditID] {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) SetVisitDate(ctx context.Context, auditID id.AuditID, kind store.VisitKind, day calendar.Day, entry trail.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	audit, ok := s.audits[auditID]
	if !ok {
		return sentinel.ErrNotFound
	}
	switch kind {
	case store.VisitScheduled:
		audit.ScheduledVisit = day
	case store.VisitActual:
		audit.ActualVisit = day
	}
	audit.UpdatedAt = time.Now()

	return s.trail.Append(ctx, entry)
}

func (s *Store) findLocked(auditID id.AuditID) (*audits.Audit, error) {
	audit, ok := s.audits[auditID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *audit
	return &cp, nil
}

func (s *Store) list(match func(*audits.Audit) bool) ([]*audits.Audit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*audits.Audit
	for _, a := range s.audits {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// stateIn matches the postgres adapter's `state = ANY($1)` semantics: an
// empty list matches nothing.
func stateIn(state audits.State, states []audits.State) bool {
	for _, s := range states {
		if s == state {
			return true
		}
	}
	return false
}
