package trail

import (
	"context"

	"github.com/google/uuid"

	id "auditoria/pkg/domain"
)

// Store persists trail entries. Append participates in an ambient SQL
// transaction when one is present on the context, which is how state
// mutation and trail write become one atomic unit.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	ListByAudit(ctx context.Context, auditID id.AuditID) ([]Entry, error)
}

// OutboxSource exposes committed-but-unpublished entries to the Kafka
// publisher. Both store adapters implement it.
type OutboxSource interface {
	NextBatch(ctx context.Context, limit int) ([]Entry, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID) error
}
