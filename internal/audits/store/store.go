// Package store defines the audit repository boundary. Two adapters exist —
// memory and postgres — and the business logic is identical against either;
// engine-specific query syntax never leaves the adapter.
package store

import (
	"context"

	"auditoria/internal/audits"
	"auditoria/internal/calendar"
	"auditoria/internal/trail"
	id "auditoria/pkg/domain"
)

// StateChange is the unit of optimistic-concurrency mutation: the update
// applies only while the stored state still equals From.
type StateChange struct {
	From       audits.State
	To         audits.State
	FinalScore *int
	Remarks    string
}

// VisitKind selects which visit date a write touches.
type VisitKind string

const (
	VisitScheduled VisitKind = "scheduled"
	VisitActual    VisitKind = "actual"
)

// Store is the audit repository. Every write path commits atomically with
// its trail entry. Adapters return pkg/platform/sentinel errors:
// ErrNotFound, ErrConflict (CAS miss), ErrDuplicate ((site, period) taken).
type Store interface {
	Create(ctx context.Context, audit *audits.Audit) error
	FindByID(ctx context.Context, auditID id.AuditID) (*audits.Audit, error)
	FindBySiteAndPeriod(ctx context.Context, siteID id.SiteID, period audits.Period) (*audits.Audit, error)

	ListBySite(ctx context.Context, siteID id.SiteID) ([]*audits.Audit, error)
	ListByAuditor(ctx context.Context, auditorID id.ActorID) ([]*audits.Audit, error)
	ListByState(ctx context.Context, states ...audits.State) ([]*audits.Audit, error)

	// ListByDeadline returns audits whose upload deadline equals day
	// exactly, restricted to the given states.
	ListByDeadline(ctx context.Context, day calendar.Day, states ...audits.State) ([]*audits.Audit, error)

	// ListExpiringWithin returns audits whose deadline falls inside
	// [from, from+days], restricted to the given states.
	ListExpiringWithin(ctx context.Context, from calendar.Day, days int, states ...audits.State) ([]*audits.Audit, error)

	// UpdateState is the compare-and-swap transition write: it applies
	// only while the stored state equals change.From and appends the
	// trail entry in the same transaction. ErrConflict means a concurrent
	// writer won and the caller must refetch.
	UpdateState(ctx context.Context, auditID id.AuditID, change StateChange, entry trail.Entry) (*audits.Audit, error)

	// AssignAuditor supersedes the currently active assignment (if any),
	// stores the new one, points the audit at the auditor, and appends
	// the trail entry, all in one transaction.
	AssignAuditor(ctx context.Context, assignment audits.Assignment, entry trail.Entry) error
	ActiveAssignment(ctx context.Context, auditID id.AuditID) (*audits.Assignment, error)
	ListAssignments(ctx context.Context, auditID id.AuditID) ([]*audits.Assignment, error)

	// SetVisitDate records a scheduled or actual visit date with its
	// trail entry in one transaction.
	SetVisitDate(ctx context.Context, auditID id.AuditID, kind VisitKind, day calendar.Day, entry trail.Entry) error
}
