package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"auditoria/internal/audits"
	"auditoria/internal/dispatch"
	"auditoria/pkg/platform/sentinel"
)

// Consumer drains the lifecycle event bus and fans each committed
// transition out to one state-change job per interested recipient.
type Consumer struct {
	bus       *audits.EventBus
	audits    AuditReader
	directory Directory
	queue     *dispatch.Queue
	log       *slog.Logger
}

func NewConsumer(bus *audits.EventBus, auditReader AuditReader, directory Directory, queue *dispatch.Queue, log *slog.Logger) (*Consumer, error) {
	if bus == nil || auditReader == nil || directory == nil || queue == nil {
		return nil, errors.New("bus, audit reader, directory and queue are required")
	}
	return &Consumer{bus: bus, audits: auditReader, directory: directory, queue: queue, log: log}, nil
}

// Run consumes events until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-c.bus.Events():
			if err := c.handle(ctx, event); err != nil {
				c.log.Error("failed to fan out lifecycle event",
					"audit_id", event.AuditID.String(),
					"to", string(event.To), "err", err)
			}
		}
	}
}

func (c *Consumer) handle(ctx context.Context, event audits.LifecycleEvent) error {
	recipients, err := c.recipients(ctx, event)
	if err != nil {
		return err
	}
	for _, recipient := range recipients {
		payload := StateChangedPayload{
			AuditID:   event.AuditID,
			SiteID:    event.SiteID,
			Recipient: recipient,
			From:      event.From,
			To:        event.To,
			Override:  event.Override,
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode state_changed payload: %w", err)
		}
		key := fmt.Sprintf("state_changed:%s:%s:%s:%s",
			event.AuditID, event.From, event.To, recipient.ID)
		if _, err := c.queue.Enqueue(ctx, dispatch.Job{
			Type:           JobStateChanged,
			Payload:        raw,
			Priority:       dispatch.PriorityNormal,
			IdempotencyKey: key,
		}); err != nil {
			return err
		}
	}
	return nil
}

// recipients is the site's provider contacts plus the assigned auditor, if
// the audit has one with a known contact card.
func (c *Consumer) recipients(ctx context.Context, event audits.LifecycleEvent) ([]Recipient, error) {
	out, err := c.directory.SiteContacts(ctx, event.SiteID)
	if err != nil {
		return nil, fmt.Errorf("resolve site contacts: %w", err)
	}

	audit, err := c.audits.FindByID(ctx, event.AuditID)
	if err != nil {
		return nil, fmt.Errorf("load audit: %w", err)
	}
	if !audit.AuditorID.IsNil() {
		auditor, err := c.directory.AuditorContact(ctx, audit.AuditorID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			c.log.Warn("assigned auditor has no contact card",
				"audit_id", event.AuditID.String(),
				"auditor_id", audit.AuditorID.String())
		case err != nil:
			return nil, fmt.Errorf("resolve auditor contact: %w", err)
		default:
			out = append(out, *auditor)
		}
	}
	return out, nil
}
