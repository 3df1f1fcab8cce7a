package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"auditoria/internal/dispatch"
	"auditoria/internal/scheduler"
	"auditoria/internal/sections"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/platform/httputil"
	"auditoria/pkg/requestcontext"
)

// TickRunner triggers one scheduler tick by name.
type TickRunner interface {
	RunTick(ctx context.Context, tick string) (scheduler.TickSummary, error)
}

// DeadLetterSource exposes jobs that exhausted their retries.
type DeadLetterSource interface {
	DeadLetters() []dispatch.Job
}

// OpsHandler serves the operator surface: manual ticks, failed deliveries,
// and the section catalog.
type OpsHandler struct {
	ticks    TickRunner
	dispatch DeadLetterSource
	catalog  sections.Catalog
	log      *slog.Logger
}

func NewOpsHandler(ticks TickRunner, deadLetters DeadLetterSource, catalog sections.Catalog, log *slog.Logger) *OpsHandler {
	return &OpsHandler{ticks: ticks, dispatch: deadLetters, catalog: catalog, log: log}
}

// Register mounts the operator routes. All of them are admin-only.
func (h *OpsHandler) Register(r chi.Router) {
	r.Post("/scheduler/ticks/{tick}/run", h.handleRunTick)
	r.Get("/dispatch/failures", h.handleFailures)
	r.Get("/sections", h.handleSections)
}

func (h *OpsHandler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor, ok := requestcontext.Actor(r.Context())
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated actor"))
		return false
	}
	if !actor.IsAdmin() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "operator endpoints require the admin capability"))
		return false
	}
	return true
}

func (h *OpsHandler) handleRunTick(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	tick := chi.URLParam(r, "tick")
	summary, err := h.ticks.RunTick(r.Context(), tick)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.log.Info("manual tick triggered",
		"tick", tick, "enqueued", summary.Enqueued, "duplicates", summary.Duplicates)
	httputil.WriteJSON(w, http.StatusOK, summary)
}

type failedJobResponse struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Priority  string `json:"priority"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error"`
	Enqueued  string `json:"enqueued_at"`
}

func (h *OpsHandler) handleFailures(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	dead := h.dispatch.DeadLetters()
	out := make([]failedJobResponse, 0, len(dead))
	for _, job := range dead {
		out = append(out, failedJobResponse{
			ID:        job.ID.String(),
			Type:      job.Type,
			Priority:  string(job.Priority),
			Attempts:  job.Attempts,
			LastError: job.LastError,
			Enqueued:  job.EnqueuedAt.UTC().Format(time.RFC3339),
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type sectionResponse struct {
	ID             string   `json:"id"`
	Code           string   `json:"code"`
	Name           string   `json:"name"`
	Mandatory      bool     `json:"mandatory"`
	Order          int      `json:"order"`
	AllowedFormats []string `json:"allowed_formats"`
	MaxSizeMB      int      `json:"max_size_mb"`
}

func (h *OpsHandler) handleSections(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.List(r.Context())
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInternal, "list sections", err))
		return
	}
	out := make([]sectionResponse, 0, len(list))
	for _, section := range list {
		out = append(out, sectionResponse{
			ID:             section.ID.String(),
			Code:           section.Code,
			Name:           section.Name,
			Mandatory:      section.Mandatory,
			Order:          section.Order,
			AllowedFormats: section.AllowedFormats,
			MaxSizeMB:      section.MaxSizeMB,
		})
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
