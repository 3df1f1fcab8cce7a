// Package service enforces the audit lifecycle: legal transitions, actor
// permission checks, optimistic concurrency, and the atomic trail append.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"auditoria/internal/audits"
	"auditoria/internal/audits/store"
	"auditoria/internal/calendar"
	"auditoria/internal/trail"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/platform/sentinel"
	"auditoria/pkg/requestcontext"
)

// Service is the audit state machine plus the write paths that share its
// trail discipline (assignment, visit dates).
type Service struct {
	store     store.Store
	events    audits.EventPublisher
	log       *slog.Logger
	loc       *time.Location
	autoStart bool
}

// New wires the state machine. autoStart controls whether the first
// qualifying document upload moves programada to en_carga implicitly.
func New(st store.Store, events audits.EventPublisher, log *slog.Logger, loc *time.Location, autoStart bool) (*Service, error) {
	if st == nil {
		return nil, errors.New("audit store is required")
	}
	if events == nil {
		return nil, errors.New("event publisher is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{store: st, events: events, log: log, loc: loc, autoStart: autoStart}, nil
}

// TransitionRequest carries everything a caller states about a transition.
// ExpectedState is the optimistic-concurrency token: when set, the
// transition only applies while the stored state still matches; when empty
// the freshly fetched state is used.
type TransitionRequest struct {
	Target        audits.State
	ExpectedState audits.State
	Remarks       string
	FinalScore    *int
}

// Transition advances an audit through the lifecycle on behalf of actor.
// Errors report which rule was violated: CodeNotFound, CodeForbidden,
// CodeInvalidTransition, CodeConflict, or CodeValidation.
func (s *Service) Transition(ctx context.Context, auditID id.AuditID, actor id.Actor, req TransitionRequest) (*audits.Audit, error) {
	if !req.Target.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown target state %q", req.Target)
	}
	if req.ExpectedState != "" && !req.ExpectedState.Valid() {
		return nil, dErrors.Newf(dErrors.CodeValidation, "unknown expected state %q", req.ExpectedState)
	}
	if err := audits.ValidateScore(req.FinalScore); err != nil {
		return nil, err
	}
	if req.FinalScore != nil && req.Target != audits.StateCerrada {
		return nil, dErrors.New(dErrors.CodeValidation, "final score only applies when closing an audit")
	}

	audit, err := s.store.FindByID(ctx, auditID)
	if err != nil {
		return nil, translateStoreErr(err, auditID)
	}

	from := req.ExpectedState
	if from == "" {
		from = audit.State
	}

	override, err := s.checkTransition(ctx, audit, from, req.Target, actor)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	entry := trail.Entry{
		Category:  trail.CategoryLifecycle,
		AuditID:   auditID,
		ActorID:   actor.ID,
		Action:    trail.ActionStateChanged,
		FromState: string(from),
		ToState:   string(req.Target),
		Override:  override,
		Detail:    req.Remarks,
		RequestID: requestcontext.RequestID(ctx),
		At:        now,
	}

	updated, err := s.store.UpdateState(ctx, auditID, store.StateChange{
		From:       from,
		To:         req.Target,
		FinalScore: req.FinalScore,
		Remarks:    req.Remarks,
	}, entry)
	if err != nil {
		return nil, translateStoreErr(err, auditID)
	}

	if override {
		s.log.Warn("admin override transition",
			"audit_id", auditID.String(),
			"from", string(from),
			"to", string(req.Target),
			"actor_id", actor.ID.String(),
		)
	}

	s.events.Publish(ctx, audits.LifecycleEvent{
		AuditID:  updated.ID,
		SiteID:   updated.SiteID,
		From:     from,
		To:       updated.State,
		ActorID:  actor.ID,
		Override: override,
		At:       now,
	})
	return updated, nil
}

// checkTransition validates reachability and actor permissions, returning
// whether the move is an admin override (a forward skip).
func (s *Service) checkTransition(ctx context.Context, audit *audits.Audit, from, target audits.State, actor id.Actor) (bool, error) {
	step := target.Order() - from.Order()
	switch {
	case step == 1:
		// Normal single-step advance.
	case step > 1:
		if !actor.IsAdmin() {
			return false, dErrors.Newf(dErrors.CodeInvalidTransition,
				"%s is not reachable from %s without an admin override", target, from)
		}
		// Skipping intermediate states is legal for admins only and is
		// distinctly logged on the trail.
		return true, nil
	default:
		return false, dErrors.Newf(dErrors.CodeInvalidTransition,
			"%s is not reachable from %s", target, from)
	}

	switch target {
	case audits.StateEnCarga:
		// Explicit start of the upload window is administrative; the
		// implicit path goes through NoteDocumentUploaded.
		if !actor.IsAdmin() {
			return false, dErrors.New(dErrors.CodeForbidden, "starting the upload window requires the admin capability")
		}
	case audits.StatePendienteEvaluacion:
		if !actor.IsAdmin() && !actor.Has(id.CapabilityProvider) {
			return false, dErrors.New(dErrors.CodeForbidden, "marking submission complete requires the provider or admin capability")
		}
	case audits.StateEvaluada:
		if err := s.checkEvaluator(ctx, audit, actor); err != nil {
			return false, err
		}
	case audits.StateCerrada:
		if !actor.IsAdmin() {
			return false, dErrors.New(dErrors.CodeForbidden, "closing an audit requires the admin capability")
		}
	}
	return false, nil
}

// checkEvaluator enforces the evaluada rule: auditor capability plus an
// active assignment to this audit, unless the actor is an admin.
func (s *Service) checkEvaluator(ctx context.Context, audit *audits.Audit, actor id.Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	if !actor.Has(id.CapabilityAuditor) {
		return dErrors.New(dErrors.CodeForbidden, "evaluating requires the auditor capability")
	}
	assignment, err := s.store.ActiveAssignment(ctx, audit.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeForbidden, "no active assignment to this audit")
	}
	if err != nil {
		return dErrors.Wrap(dErrors.CodeInternal, "load active assignment", err)
	}
	if assignment.AuditorID != actor.ID {
		return dErrors.New(dErrors.CodeForbidden, "audit is assigned to a different auditor")
	}
	return nil
}

// NoteDocumentUploaded is the implicit transition hook: called by the
// document registry after a successful upload. When auto-start is enabled
// and the upload window is open, programada moves to en_carga. Losing the
// CAS race to another upload is not an error.
func (s *Service) NoteDocumentUploaded(ctx context.Context, auditID id.AuditID, uploader id.ActorID) error {
	if !s.autoStart {
		return nil
	}
	audit, err := s.store.FindByID(ctx, auditID)
	if err != nil {
		return translateStoreErr(err, auditID)
	}
	now := requestcontext.Now(ctx)
	if audit.State != audits.StateProgramada || audit.DeadlinePassed(now, s.loc) {
		return nil
	}

	entry := trail.Entry{
		Category:  trail.CategoryLifecycle,
		AuditID:   auditID,
		ActorID:   uploader,
		Action:    trail.ActionStateChanged,
		FromState: string(audits.StateProgramada),
		ToState:   string(audits.StateEnCarga),
		Detail:    "first document upload",
		RequestID: requestcontext.RequestID(ctx),
		At:        now,
	}
	updated, err := s.store.UpdateState(ctx, auditID, store.StateChange{
		From: audits.StateProgramada,
		To:   audits.StateEnCarga,
	}, entry)
	if errors.Is(err, sentinel.ErrConflict) {
		return nil
	}
	if err != nil {
		return translateStoreErr(err, auditID)
	}

	s.events.Publish(ctx, audits.LifecycleEvent{
		AuditID: updated.ID,
		SiteID:  updated.SiteID,
		From:    audits.StateProgramada,
		To:      updated.State,
		ActorID: uploader,
		At:      now,
	})
	return nil
}

// CloseExpiredUploadWindows advances every en_carga audit whose upload
// deadline has passed to pendiente_evaluacion. The scheduler drives this;
// the trail entry carries no acting user. Per-audit failures are logged
// and counted rather than aborting the sweep, and losing the CAS race to
// a concurrent explicit transition is not an error.
func (s *Service) CloseExpiredUploadWindows(ctx context.Context) (moved, failed int, err error) {
	candidates, err := s.store.ListByState(ctx, audits.StateEnCarga)
	if err != nil {
		return 0, 0, dErrors.Wrap(dErrors.CodeInternal, "list audits in en_carga", err)
	}

	now := requestcontext.Now(ctx)
	for _, audit := range candidates {
		if !audit.DeadlinePassed(now, s.loc) {
			continue
		}

		entry := trail.Entry{
			Category:  trail.CategoryLifecycle,
			AuditID:   audit.ID,
			Action:    trail.ActionStateChanged,
			FromState: string(audits.StateEnCarga),
			ToState:   string(audits.StatePendienteEvaluacion),
			Detail:    "upload window closed",
			RequestID: requestcontext.RequestID(ctx),
			At:        now,
		}
		updated, err := s.store.UpdateState(ctx, audit.ID, store.StateChange{
			From: audits.StateEnCarga,
			To:   audits.StatePendienteEvaluacion,
		}, entry)
		if errors.Is(err, sentinel.ErrConflict) {
			continue
		}
		if err != nil {
			failed++
			s.log.Error("deadline sweep failed for audit",
				"audit_id", audit.ID.String(), "err", err)
			continue
		}

		s.events.Publish(ctx, audits.LifecycleEvent{
			AuditID: updated.ID,
			SiteID:  updated.SiteID,
			From:    audits.StateEnCarga,
			To:      updated.State,
			At:      now,
		})
		moved++
	}
	return moved, failed, nil
}

// CreateParams describe a new audit generated for a site and period.
type CreateParams struct {
	SiteID         id.SiteID
	Period         audits.Period
	StartDate      calendar.Day
	UploadDeadline calendar.Day
}

// Create registers a new audit in programada. Admin only; (site, period)
// uniqueness is enforced by the repository.
func (s *Service) Create(ctx context.Context, actor id.Actor, params CreateParams) (*audits.Audit, error) {
	if !actor.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "creating audits requires the admin capability")
	}
	if params.SiteID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "site id is required")
	}
	if params.Period.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "period is required")
	}
	if params.UploadDeadline.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "upload deadline is required")
	}
	if !params.StartDate.IsZero() && params.UploadDeadline.Before(params.StartDate) {
		return nil, dErrors.New(dErrors.CodeValidation, "upload deadline precedes start date")
	}

	audit := &audits.Audit{
		SiteID:         params.SiteID,
		Period:         params.Period,
		StartDate:      params.StartDate,
		UploadDeadline: params.UploadDeadline,
		State:          audits.StateProgramada,
	}
	if err := s.store.Create(ctx, audit); err != nil {
		if errors.Is(err, sentinel.ErrDuplicate) {
			return nil, dErrors.Newf(dErrors.CodeConflict,
				"an audit already exists for site %s and period %s", params.SiteID, params.Period)
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "create audit", err)
	}
	return audit, nil
}

// AssignAuditor binds an auditor to the audit, superseding any active
// assignment. Admin only.
func (s *Service) AssignAuditor(ctx context.Context, actor id.Actor, auditID id.AuditID, auditorID id.ActorID, visitDate calendar.Day, priority audits.AssignmentPriority) error {
	if !actor.IsAdmin() {
		return dErrors.New(dErrors.CodeForbidden, "assigning auditors requires the admin capability")
	}
	if auditorID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "auditor id is required")
	}
	if priority == "" {
		priority = audits.AssignmentPriorityNormal
	}

	entry := trail.Entry{
		Category:  trail.CategoryAssignment,
		AuditID:   auditID,
		ActorID:   actor.ID,
		Action:    trail.ActionAuditorAssigned,
		Detail:    "auditor " + auditorID.String(),
		RequestID: requestcontext.RequestID(ctx),
		At:        requestcontext.Now(ctx),
	}
	err := s.store.AssignAuditor(ctx, audits.Assignment{
		AuditID:   auditID,
		AuditorID: auditorID,
		VisitDate: visitDate,
		Priority:  priority,
	}, entry)
	if err != nil {
		return translateStoreErr(err, auditID)
	}
	return nil
}

// SetVisitDate records the scheduled or actual visit. Admins always may;
// the assigned auditor may for their own audits.
func (s *Service) SetVisitDate(ctx context.Context, actor id.Actor, auditID id.AuditID, kind store.VisitKind, day calendar.Day) error {
	if day.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "visit date is required")
	}
	if !actor.IsAdmin() {
		assignment, err := s.store.ActiveAssignment(ctx, auditID)
		if errors.Is(err, sentinel.ErrNotFound) || (err == nil && assignment.AuditorID != actor.ID) {
			return dErrors.New(dErrors.CodeForbidden, "visit dates may be set by admins or the assigned auditor")
		}
		if err != nil {
			return dErrors.Wrap(dErrors.CodeInternal, "load active assignment", err)
		}
	}

	action := trail.ActionVisitScheduled
	if kind == store.VisitActual {
		action = trail.ActionVisitRecorded
	}
	entry := trail.Entry{
		Category:  trail.CategoryAssignment,
		AuditID:   auditID,
		ActorID:   actor.ID,
		Action:    action,
		Detail:    day.String(),
		RequestID: requestcontext.RequestID(ctx),
		At:        requestcontext.Now(ctx),
	}
	if err := s.store.SetVisitDate(ctx, auditID, kind, day, entry); err != nil {
		return translateStoreErr(err, auditID)
	}
	return nil
}

// Get loads one audit.
func (s *Service) Get(ctx context.Context, auditID id.AuditID) (*audits.Audit, error) {
	audit, err := s.store.FindByID(ctx, auditID)
	if err != nil {
		return nil, translateStoreErr(err, auditID)
	}
	return audit, nil
}

// ListFilter narrows List. Exactly one criterion applies; they are checked
// in field order.
type ListFilter struct {
	SiteID    id.SiteID
	AuditorID id.ActorID
	State     audits.State
}

// List returns audits matching the filter, or every audit when the filter
// is empty.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*audits.Audit, error) {
	switch {
	case !filter.SiteID.IsNil():
		return s.store.ListBySite(ctx, filter.SiteID)
	case !filter.AuditorID.IsNil():
		return s.store.ListByAuditor(ctx, filter.AuditorID)
	case filter.State != "":
		if !filter.State.Valid() {
			return nil, dErrors.Newf(dErrors.CodeValidation, "unknown state %q", filter.State)
		}
		return s.store.ListByState(ctx, filter.State)
	default:
		return s.store.ListByState(ctx,
			audits.StateProgramada, audits.StateEnCarga, audits.StatePendienteEvaluacion,
			audits.StateEvaluada, audits.StateCerrada)
	}
}

// ListExpiring returns audits still in their upload window whose deadline
// falls within the next days calendar days.
func (s *Service) ListExpiring(ctx context.Context, days int) ([]*audits.Audit, error) {
	if days < 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "days must not be negative")
	}
	today := calendar.DayOf(requestcontext.Now(ctx), s.loc)
	return s.store.ListExpiringWithin(ctx, today, days, audits.UploadStates()...)
}

// Assignments returns the full assignment history for an audit, newest
// first as stored.
func (s *Service) Assignments(ctx context.Context, auditID id.AuditID) ([]*audits.Assignment, error) {
	list, err := s.store.ListAssignments(ctx, auditID)
	if err != nil {
		return nil, translateStoreErr(err, auditID)
	}
	return list, nil
}

func translateStoreErr(err error, auditID id.AuditID) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.Newf(dErrors.CodeNotFound, "audit %s not found", auditID)
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "audit state changed concurrently; refetch and retry")
	default:
		return dErrors.Wrap(dErrors.CodeInternal, "audit store", err)
	}
}
