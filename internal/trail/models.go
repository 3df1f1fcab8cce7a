// Package trail is the audit-trail platform: every state mutation appends an
// entry in the same transaction as the mutation itself, and an outbox
// publisher drains committed entries to Kafka for downstream consumers.
package trail

import (
	"time"

	"github.com/google/uuid"

	id "auditoria/pkg/domain"
)

// Category classifies trail entries by their primary purpose. This enables
// different retention policies and routing downstream.
type Category string

const (
	// CategoryLifecycle covers state-machine transitions.
	CategoryLifecycle Category = "lifecycle"
	// CategoryAssignment covers auditor assignment and visit scheduling.
	CategoryAssignment Category = "assignment"
	// CategoryScheduling covers reminder/escalation tick activity.
	CategoryScheduling Category = "scheduling"
)

// Entry is one immutable audit-trail record. Keep it transport-agnostic so
// stores and sinks can fan out.
type Entry struct {
	ID        uuid.UUID
	Category  Category
	AuditID   id.AuditID
	ActorID   id.ActorID
	Action    string
	FromState string
	ToState   string
	// Override marks admin transitions that skipped intermediate states.
	// These are distinctly logged so reviewers can find every bypass.
	Override  bool
	Detail    string
	RequestID string
	At        time.Time
}

// Actions recorded on the trail.
const (
	ActionStateChanged    = "state_changed"
	ActionAuditorAssigned = "auditor_assigned"
	ActionVisitScheduled  = "visit_scheduled"
	ActionVisitRecorded   = "visit_recorded"
	ActionTickCompleted   = "tick_completed"
)
