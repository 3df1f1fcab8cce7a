package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"auditoria/internal/documents"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/platform/httputil"
	"auditoria/pkg/requestcontext"
)

// DocumentService is the registry surface the handler delegates to.
type DocumentService interface {
	Register(ctx context.Context, actor id.Actor, params documents.RegisterParams) (*documents.Document, error)
	List(ctx context.Context, auditID id.AuditID) ([]*documents.Document, error)
}

// DocumentsHandler serves the document registry endpoints.
type DocumentsHandler struct {
	service DocumentService
	log     *slog.Logger
}

func NewDocumentsHandler(service DocumentService, log *slog.Logger) *DocumentsHandler {
	return &DocumentsHandler{service: service, log: log}
}

// Register mounts the document routes under /audits/{auditID}.
func (h *DocumentsHandler) Register(r chi.Router) {
	r.Route("/audits/{auditID}/documents", func(r chi.Router) {
		r.Post("/", h.handleRegister)
		r.Get("/", h.handleList)
	})
}

type registerDocumentRequest struct {
	SectionID   string `json:"section_id"`
	StoragePath string `json:"storage_path"`
	ContentHash string `json:"content_hash,omitempty"`
}

func (h *DocumentsHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
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

	var req registerDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	sectionID, err := id.ParseSectionID(req.SectionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	doc, err := h.service.Register(r.Context(), actor, documents.RegisterParams{
		AuditID:     auditID,
		SectionID:   sectionID,
		StoragePath: req.StoragePath,
		ContentHash: req.ContentHash,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, documentToResponse(doc))
}

func (h *DocumentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	auditID, err := pathAuditID(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	docs, err := h.service.List(r.Context(), auditID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentToResponse(doc))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

type documentResponse struct {
	ID            string `json:"id"`
	AuditID       string `json:"audit_id"`
	SectionID     string `json:"section_id"`
	UploaderID    string `json:"uploader_id"`
	StoragePath   string `json:"storage_path"`
	ContentHash   string `json:"content_hash,omitempty"`
	Version       int    `json:"version"`
	AnalysisState string `json:"analysis_state"`
	Deleted       bool   `json:"deleted,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func documentToResponse(doc *documents.Document) documentResponse {
	return documentResponse{
		ID:            doc.ID.String(),
		AuditID:       doc.AuditID.String(),
		SectionID:     doc.SectionID.String(),
		UploaderID:    doc.UploaderID.String(),
		StoragePath:   doc.StoragePath,
		ContentHash:   doc.ContentHash,
		Version:       doc.Version,
		AnalysisState: string(doc.AnalysisState),
		Deleted:       doc.Deleted,
		CreatedAt:     doc.CreatedAt.UTC().Format(time.RFC3339),
	}
}
