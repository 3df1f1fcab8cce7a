// Package notify turns committed audit facts into outbound messages:
// deadline reminders, escalations, and state-change notices. Delivery runs
// through the dispatch queue so transient transport failures retry instead
// of blocking the caller.
package notify

import (
	"time"

	"github.com/google/uuid"

	"auditoria/internal/audits"
	"auditoria/internal/calendar"
	id "auditoria/pkg/domain"
)

// Kind distinguishes the message families.
type Kind string

const (
	KindReminder     Kind = "reminder"
	KindEscalation   Kind = "escalation"
	KindStateChanged Kind = "state_changed"
)

// Job type names registered on the dispatch queue, one per kind.
const (
	JobReminder     = "notify.reminder"
	JobEscalation   = "notify.escalation"
	JobStateChanged = "notify.state_changed"
)

// Recipient is a resolved delivery target.
type Recipient struct {
	ID    id.ActorID `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email"`
	Role  string     `json:"role"` // "provider" or "auditor"
}

// Message is a rendered notification ready for a sender.
type Message struct {
	Subject string
	Body    string
}

// Record is the persisted evidence that a notification went out.
type Record struct {
	ID        uuid.UUID
	AuditID   id.AuditID
	Kind      Kind
	Recipient Recipient
	Subject   string
	SentAt    time.Time
}

// DeadlinePayload carries a reminder or escalation through the queue.
type DeadlinePayload struct {
	AuditID   id.AuditID   `json:"audit_id"`
	SiteID    id.SiteID    `json:"site_id"`
	Recipient Recipient    `json:"recipient"`
	Deadline  calendar.Day `json:"deadline"`
	DaysLeft  int          `json:"days_left"`
}

// StateChangedPayload carries a lifecycle notice through the queue.
type StateChangedPayload struct {
	AuditID   id.AuditID   `json:"audit_id"`
	SiteID    id.SiteID    `json:"site_id"`
	Recipient Recipient    `json:"recipient"`
	From      audits.State `json:"from"`
	To        audits.State `json:"to"`
	Override  bool         `json:"override"`
}
