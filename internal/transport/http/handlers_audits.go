package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"auditoria/internal/audits"
	auditservice "auditoria/internal/audits/service"
	auditstore "auditoria/internal/audits/store"
	"auditoria/internal/calendar"
	"auditoria/internal/progress"
	"auditoria/internal/trail"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/platform/httputil"
	"auditoria/pkg/requestcontext"
)

// AuditService is the lifecycle surface the handler delegates to.
type AuditService interface {
	Create(ctx context.Context, actor id.Actor, params auditservice.CreateParams) (*audits.Audit, error)
	Get(ctx context.Context, auditID id.AuditID) (*audits.Audit, error)
	List(ctx context.Context, filter auditservice.ListFilter) ([]*audits.Audit, error)
	ListExpiring(ctx context.Context, days int) ([]*audits.Audit, error)
	Transition(ctx context.Context, auditID id.AuditID, actor id.Actor, req auditservice.TransitionRequest) (*audits.Audit, error)
	AssignAuditor(ctx context.Context, actor id.Actor, auditID id.AuditID, auditorID id.ActorID, visitDate calendar.Day, priority audits.AssignmentPriority) error
	Assignments(ctx context.Context, auditID id.AuditID) ([]*audits.Assignment, error)
	SetVisitDate(ctx context.Context, actor id.Actor, auditID id.AuditID, kind auditstore.VisitKind, day calendar.Day) error
}

// TrailReader lists the immutable history of one audit.
type TrailReader interface {
	ListByAudit(ctx context.Context, auditID id.AuditID) ([]trail.Entry, error)
}

// ProgressTracker computes the completion view.
type ProgressTracker interface {
	Compute(ctx context.Context, auditID id.AuditID) (*progress.Progress, error)
}

// AuditsHandler serves the audit lifecycle endpoints.
type AuditsHandler struct {
	service  AuditService
	trail    TrailReader
	progress ProgressTracker
	log      *slog.Logger
}

func NewAuditsHandler(service AuditService, trailReader TrailReader, tracker ProgressTracker, log *slog.Logger) *AuditsHandler {
	return &AuditsHandler{service: service, trail: trailReader, progress: tracker, log: log}
}

// Register mounts the audit routes.
func (h *AuditsHandler) Register(r chi.Router) {
	r.Route("/audits", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/expiring", h.handleExpiring)
		r.Route("/{auditID}", func(r chi.Router) {
			r.Get("/", h.handleGet)
			r.Post("/transition", h.handleTransition)
			r.Get("/progress", h.handleProgress)
			r.Get("/trail", h.handleTrail)
			r.Post("/assignment", h.handleAssign)
			r.Get("/assignments", h.handleAssignments)
			r.Put("/visits/{kind}", h.handleSetVisit)
		})
	})
}

type createAuditRequest struct {
	SiteID         string `json:"site_id"`
	Period         string `json:"period"`
	StartDate      string `json:"start_date,omitempty"`
	UploadDeadline string `json:"upload_deadline"`
}

func (h *AuditsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestcontext.Actor(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return
	}

	var req createAuditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	siteID, err := id.ParseSiteID(req.SiteID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	period, err := audits.ParsePeriod(req.Period)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	params := auditservice.CreateParams{SiteID: siteID, Period: period}
	if req.StartDate != "" {
		if params.StartDate, err = calendar.ParseDay(req.StartDate); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "malformed start_date, want YYYY-MM-DD"))
			return
		}
	}
	if req.UploadDeadline != "" {
		if params.UploadDeadline, err = calendar.ParseDay(req.UploadDeadline); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "malformed upload_deadline, want YYYY-MM-DD"))
			return
		}
	}

	audit, err := h.service.Create(r.Context(), actor, params)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, auditToResponse(audit))
}

func (h *AuditsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	var filter auditservice.ListFilter
	query := r.URL.Query()

	if raw := query.Get("site_id"); raw != "" {
		siteID, err := id.ParseSiteID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.SiteID = siteID
	}
	if raw := query.Get("auditor_id"); raw != "" {
		auditorID, err := id.ParseActorID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.AuditorID = auditorID
	}
	if raw := query.Get("state"); raw != "" {
		state, err := audits.ParseState(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.State = state
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, auditsToResponse(list))
}

func (h *AuditsHandler) handleExpiring(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "days must be an integer"))
			return
		}
		days = parsed
	}
	list, err := h.service.ListExpiring(r.Context(), days)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, auditsToResponse(list))
}

func (h *AuditsHandler) handleGet(w http.ResponseWriter, r *http.Request) {
	auditID, err := pathAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	audit, err := h.service.Get(r.Context(), auditID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, auditToResponse(audit))
}

type transitionRequest struct {
	Target        string `json:"target"`
	ExpectedState string `json:"expected_state,omitempty"`
	Remarks       string `json:"remarks,omitempty"`
	FinalScore    *int   `json:"final_score,omitempty"`
}

func (h *AuditsHandler) handleTransition(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestcontext.Actor(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return
	}
	auditID, err := pathAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	audit, err := h.service.Transition(r.Context(), auditID, actor, auditservice.TransitionRequest{
		Target:        audits.State(req.Target),
		ExpectedState: audits.State(req.ExpectedState),
		Remarks:       req.Remarks,
		FinalScore:    req.FinalScore,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, auditToResponse(audit))
}

func (h *AuditsHandler) handleProgress(w http.ResponseWriter, r *http.Request) {
	auditID, err := pathAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	report, err := h.progress.Compute(r.Context(), auditID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *AuditsHandler) handleTrail(w http.ResponseWriter, r *http.Request) {
	auditID, err := pathAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	entries, err := h.trail.ListByAudit(r.Context(), auditID)
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "list trail", err))
		return
	}
	out := make([]trailEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, trailEntryToResponse(entry))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type assignRequest struct {
	AuditorID string `json:"auditor_id"`
	VisitDate string `json:"visit_date,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

func (h *AuditsHandler) handleAssign(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestcontext.Actor(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return
	}
	auditID, err := pathAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	auditorID, err := id.ParseActorID(req.AuditorID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	var visitDate calendar.Day
	if req.VisitDate != "" {
		if visitDate, err = calendar.ParseDay(req.VisitDate); err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "malformed visit_date, want YYYY-MM-DD"))
			return
		}
	}

	err = h.service.AssignAuditor(r.Context(), actor, auditID, auditorID, visitDate,
		audits.AssignmentPriority(req.Priority))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AuditsHandler) handleAssignments(w http.ResponseWriter, r *http.Request) {
	auditID, err := pathAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.service.Assignments(r.Context(), auditID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]assignmentResponse, 0, len(list))
	for _, assignment := range list {
		out = append(out, assignmentToResponse(assignment))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type visitRequest struct {
	Date string `json:"date"`
}

func (h *AuditsHandler) handleSetVisit(w http.ResponseWriter, r *http.Request) {
	actor, ok := requestcontext.Actor(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return
	}
	auditID, err := pathAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	var kind auditstore.VisitKind
	switch chi.URLParam(r, "kind") {
	case "scheduled":
		kind = auditstore.VisitScheduled
	case "actual":
		kind = auditstore.VisitActual
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "visit kind must be scheduled or actual"))
		return
	}

	var req visitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	day, err := calendar.ParseDay(req.Date)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "malformed date, want YYYY-MM-DD"))
		return
	}

	if err := h.service.SetVisitDate(r.Context(), actor, auditID, kind, day); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathAuditID(r *http.Request) (id.AuditID, error) {
	return id.ParseAuditID(chi.URLParam(r, "auditID"))
}

type auditResponse struct {
	ID             string `json:"id"`
	SiteID         string `json:"site_id"`
	Period         string `json:"period"`
	StartDate      string `json:"start_date,omitempty"`
	UploadDeadline string `json:"upload_deadline"`
	ScheduledVisit string `json:"scheduled_visit,omitempty"`
	ActualVisit    string `json:"actual_visit,omitempty"`
	AuditorID      string `json:"auditor_id,omitempty"`
	State          string `json:"state"`
	FinalScore     *int   `json:"final_score,omitempty"`
	Remarks        string `json:"remarks,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func auditToResponse(audit *audits.Audit) auditResponse {
	resp := auditResponse{
		ID:             audit.ID.String(),
		SiteID:         audit.SiteID.String(),
		Period:         audit.Period.String(),
		UploadDeadline: audit.UploadDeadline.String(),
		State:          string(audit.State),
		FinalScore:     audit.FinalScore,
		Remarks:        audit.Remarks,
		CreatedAt:      audit.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      audit.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !audit.StartDate.IsZero() {
		resp.StartDate = audit.StartDate.String()
	}
	if !audit.ScheduledVisit.IsZero() {
		resp.ScheduledVisit = audit.ScheduledVisit.String()
	}
	if !audit.ActualVisit.IsZero() {
		resp.ActualVisit = audit.ActualVisit.String()
	}
	if !audit.AuditorID.IsNil() {
		resp.AuditorID = audit.AuditorID.String()
	}
	return resp
}

func auditsToResponse(list []*audits.Audit) []auditResponse {
	out := make([]auditResponse, 0, len(list))
	for _, audit := range list {
		out = append(out, auditToResponse(audit))
	}
	return out
}

type assignmentResponse struct {
	ID        string `json:"id"`
	AuditID   string `json:"audit_id"`
	AuditorID string `json:"auditor_id"`
	VisitDate string `json:"visit_date,omitempty"`
	Priority  string `json:"priority"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

func assignmentToResponse(a *audits.Assignment) assignmentResponse {
	resp := assignmentResponse{
		ID:        a.ID.String(),
		AuditID:   a.AuditID.String(),
		AuditorID: a.AuditorID.String(),
		Priority:  string(a.Priority),
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !a.VisitDate.IsZero() {
		resp.VisitDate = a.VisitDate.String()
	}
	return resp
}

type trailEntryResponse struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
	Override  bool   `json:"override,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	At        string `json:"at"`
}

func trailEntryToResponse(entry trail.Entry) trailEntryResponse {
	return trailEntryResponse{
		ID:        entry.ID.String(),
		Category:  string(entry.Category),
		ActorID:   entry.ActorID.String(),
		Action:    entry.Action,
		FromState: entry.FromState,
		ToState:   entry.ToState,
		Override:  entry.Override,
		Detail:    entry.Detail,
		RequestID: entry.RequestID,
		At:        entry.At.UTC().Format(time.RFC3339),
	}
}
