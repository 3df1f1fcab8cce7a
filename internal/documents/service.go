package documents

import (
	"context"
	"errors"
	"log/slog"

	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
)

// Lifecycle is the slice of the audit state machine the registry needs: the
// implicit first-upload transition hook.
type Lifecycle interface {
	NoteDocumentUploaded(ctx context.Context, auditID id.AuditID, uploader id.ActorID) error
}

// Service registers uploads and feeds the implicit lifecycle trigger.
type Service struct {
	store     Store
	lifecycle Lifecycle
	log       *slog.Logger
}

func NewService(store Store, lifecycle Lifecycle, log *slog.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("document store is required")
	}
	if lifecycle == nil {
		return nil, errors.New("lifecycle hook is required")
	}
	return &Service{store: store, lifecycle: lifecycle, log: log}, nil
}

// RegisterParams describe one upload already accepted by the external
// document storage.
type RegisterParams struct {
	AuditID     id.AuditID
	SectionID   id.SectionID
	StoragePath string
	ContentHash string
}

// Register records a new document version and notifies the state machine.
// Uploading requires the provider or admin capability.
func (s *Service) Register(ctx context.Context, actor id.Actor, params RegisterParams) (*Document, error) {
	if !actor.Has(id.CapabilityProvider) && !actor.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "uploading documents requires the provider capability")
	}
	if params.AuditID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "audit id is required")
	}
	if params.SectionID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "section id is required")
	}
	if params.StoragePath == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "storage path is required")
	}

	doc := &Document{
		AuditID:     params.AuditID,
		SectionID:   params.SectionID,
		UploaderID:  actor.ID,
		StoragePath: params.StoragePath,
		ContentHash: params.ContentHash,
	}
	if err := s.store.Register(ctx, doc); err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "register document", err)
	}

	// The lifecycle hook decides whether this upload opens the window;
	// a failure there does not undo the registration.
	if err := s.lifecycle.NoteDocumentUploaded(ctx, params.AuditID, actor.ID); err != nil {
		s.log.Error("upload lifecycle hook failed",
			"audit_id", params.AuditID.String(), "err", err)
	}
	return doc, nil
}

// List returns every registered version for an audit.
func (s *Service) List(ctx context.Context, auditID id.AuditID) ([]*Document, error) {
	docs, err := s.store.ListByAudit(ctx, auditID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "list documents", err)
	}
	return docs, nil
}
