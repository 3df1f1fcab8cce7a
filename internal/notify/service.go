package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"auditoria/internal/audits"
	"auditoria/internal/dispatch"
	id "auditoria/pkg/domain"
)

// AuditReader is the audit lookup used for the pre-send eligibility check.
type AuditReader interface {
	FindByID(ctx context.Context, auditID id.AuditID) (*audits.Audit, error)
}

// Service owns the dispatch handlers for every notification kind. Reminders
// and escalations re-check the audit right before sending: a message about a
// window that already closed is dropped, not delivered.
type Service struct {
	audits   AuditReader
	renderer Renderer
	sender   Sender
	records  RecordStore
	log      *slog.Logger
}

func NewService(auditReader AuditReader, renderer Renderer, sender Sender, records RecordStore, log *slog.Logger) (*Service, error) {
	if auditReader == nil || renderer == nil || sender == nil || records == nil {
		return nil, errors.New("audit reader, renderer, sender and record store are required")
	}
	return &Service{audits: auditReader, renderer: renderer, sender: sender, records: records, log: log}, nil
}

// RegisterHandlers binds the notification job types on the queue.
func (s *Service) RegisterHandlers(queue *dispatch.Queue) {
	queue.RegisterHandler(JobReminder, s.handleDeadline(KindReminder))
	queue.RegisterHandler(JobEscalation, s.handleDeadline(KindEscalation))
	queue.RegisterHandler(JobStateChanged, s.handleStateChanged)
}

func (s *Service) handleDeadline(kind Kind) dispatch.HandlerFunc {
	return func(ctx context.Context, job *dispatch.Job) error {
		var payload DeadlinePayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", kind, err)
		}

		audit, err := s.audits.FindByID(ctx, payload.AuditID)
		if err != nil {
			return fmt.Errorf("load audit for %s: %w", kind, err)
		}
		if !uploadState(audit.State) {
			// The window closed between scheduling and delivery.
			s.log.Info("dropping stale deadline notification",
				"kind", string(kind), "audit_id", payload.AuditID.String(),
				"state", string(audit.State))
			return nil
		}

		return s.deliver(ctx, kind, payload.AuditID, payload.Recipient, payload)
	}
}

func (s *Service) handleStateChanged(ctx context.Context, job *dispatch.Job) error {
	var payload StateChangedPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("decode state_changed payload: %w", err)
	}
	return s.deliver(ctx, KindStateChanged, payload.AuditID, payload.Recipient, payload)
}

func (s *Service) deliver(ctx context.Context, kind Kind, auditID id.AuditID, to Recipient, data any) error {
	msg, err := s.renderer.Render(kind, data)
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, to, msg); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	record := &Record{
		AuditID:   auditID,
		Kind:      kind,
		Recipient: to,
		Subject:   msg.Subject,
		SentAt:    time.Now().UTC(),
	}
	if err := s.records.Save(ctx, record); err != nil {
		// The message is out; a record write failure must not trigger a
		// duplicate send on retry.
		s.log.Error("failed to persist notification record",
			"audit_id", auditID.String(), "kind", string(kind), "err", err)
	}
	return nil
}

func uploadState(state audits.State) bool {
	for _, s := range audits.UploadStates() {
		if s == state {
			return true
		}
	}
	return false
}
