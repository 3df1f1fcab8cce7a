// Package audits holds the audit aggregate and its lifecycle state machine
// types. Mutation goes through the service; audits are never hard-deleted —
// the terminal state is cerrada.
package audits

import (
	"fmt"
	"time"

	"auditoria/internal/calendar"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
)

// State is one step of the strictly ordered audit lifecycle.
type State string

const (
	StateProgramada          State = "programada"
	StateEnCarga             State = "en_carga"
	StatePendienteEvaluacion State = "pendiente_evaluacion"
	StateEvaluada            State = "evaluada"
	StateCerrada             State = "cerrada"
)

// stateOrder fixes the lifecycle ordering. Transitions advance exactly one
// step unless an admin override is distinctly logged.
var stateOrder = map[State]int{
	StateProgramada:          0,
	StateEnCarga:             1,
	StatePendienteEvaluacion: 2,
	StateEvaluada:            3,
	StateCerrada:             4,
}

// Valid reports whether s is a known lifecycle state.
func (s State) Valid() bool {
	_, ok := stateOrder[s]
	return ok
}

// Order returns the position of s in the lifecycle; unknown states are -1.
func (s State) Order() int {
	if pos, ok := stateOrder[s]; ok {
		return pos
	}
	return -1
}

// IsTerminal reports whether s ends the lifecycle.
func (s State) IsTerminal() bool { return s == StateCerrada }

// ParseState validates a state received at a trust boundary.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.Valid() {
		return "", dErrors.Newf(dErrors.CodeValidation, "unknown state %q", raw)
	}
	return s, nil
}

// UploadStates are the states the reminder scheduler targets: the deadline
// is still actionable for the provider.
func UploadStates() []State {
	return []State{StateProgramada, StateEnCarga}
}

// Period is the year-month an audit covers. (site, period) is unique.
type Period struct {
	Year  int
	Month time.Month
}

// ParsePeriod parses the canonical YYYY-MM form.
func ParsePeriod(raw string) (Period, error) {
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return Period{}, dErrors.Newf(dErrors.CodeValidation, "malformed period %q, want YYYY-MM", raw)
	}
	return Period{Year: t.Year(), Month: t.Month()}, nil
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, p.Month)
}

// IsZero reports whether p is unset.
func (p Period) IsZero() bool { return p == Period{} }

// Audit is one compliance-review cycle for a site within a period.
type Audit struct {
	ID             id.AuditID
	SiteID         id.SiteID
	Period         Period
	StartDate      calendar.Day
	UploadDeadline calendar.Day
	ScheduledVisit calendar.Day // zero when not yet scheduled
	ActualVisit    calendar.Day // zero until the visit happens
	AuditorID      id.ActorID   // nil until assigned
	State          State
	FinalScore     *int // 0-100, set at close
	Remarks        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DeadlinePassed reports whether the upload window has closed: uploads are
// accepted through the whole deadline day in the organization timezone.
func (a *Audit) DeadlinePassed(now time.Time, loc *time.Location) bool {
	return !now.Before(a.UploadDeadline.EndIn(loc))
}

// InUploadWindow reports whether the audit still accepts provider uploads.
func (a *Audit) InUploadWindow(now time.Time, loc *time.Location) bool {
	return (a.State == StateProgramada || a.State == StateEnCarga) &&
		!a.DeadlinePassed(now, loc)
}

// AssignmentStatus tracks whether an auditor binding is current.
type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "active"
	AssignmentCompleted AssignmentStatus = "completed"
	AssignmentCancelled AssignmentStatus = "cancelled"
)

// AssignmentPriority orders an auditor's workload; it carries no scheduling
// semantics inside this service.
type AssignmentPriority string

const (
	AssignmentPriorityLow    AssignmentPriority = "low"
	AssignmentPriorityNormal AssignmentPriority = "normal"
	AssignmentPriorityHigh   AssignmentPriority = "high"
)

// Assignment binds an audit to an auditor. One active assignment per audit;
// superseded ones stay for history.
type Assignment struct {
	ID        id.AssignmentID
	AuditID   id.AuditID
	AuditorID id.ActorID
	VisitDate calendar.Day
	Priority  AssignmentPriority
	Status    AssignmentStatus
	CreatedAt time.Time
}

// ValidateScore enforces the 0-100 range for final scores.
func ValidateScore(score *int) error {
	if score == nil {
		return nil
	}
	if *score < 0 || *score > 100 {
		return dErrors.Newf(dErrors.CodeValidation, "final score %d out of range 0-100", *score)
	}
	return nil
}
