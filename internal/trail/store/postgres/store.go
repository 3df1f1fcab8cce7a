// Package postgres persists trail entries in the relational backend. The
// trail table doubles as the outbox: rows start unpublished and the Kafka
// publisher marks them once delivered.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"auditoria/internal/trail"
	id "auditoria/pkg/domain"
	txcontext "auditoria/pkg/platform/tx"
)

// Store implements trail.Store and trail.OutboxSource on database/sql.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer returns the ambient transaction when the caller opened one, so the
// trail append commits or rolls back with the state mutation.
func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *Store) Append(ctx context.Context, entry trail.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO trail_entries
			(id, category, audit_id, actor_id, action, from_state, to_state, override, detail, request_id, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID,
		string(entry.Category),
		uuid.UUID(entry.AuditID),
		uuid.UUID(entry.ActorID),
		entry.Action,
		entry.FromState,
		entry.ToState,
		entry.Override,
		entry.Detail,
		entry.RequestID,
		entry.At,
	)
	if err != nil {
		return fmt.Errorf("append trail entry: %w", err)
	}
	return nil
}

func (s *Store) ListByAudit(ctx context.Context, auditID id.AuditID) ([]trail.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, audit_id, actor_id, action, from_state, to_state, override, detail, request_id, at
		FROM trail_entries
		WHERE audit_id = $1
		ORDER BY at`,
		uuid.UUID(auditID),
	)
	if err != nil {
		return nil, fmt.Errorf("list trail entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) NextBatch(ctx context.Context, limit int) ([]trail.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, category, audit_id, actor_id, action, from_state, to_state, override, detail, request_id, at
		FROM trail_entries
		WHERE published_at IS NULL
		ORDER BY at
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("next outbox batch: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE trail_entries SET published_at = now()
		WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]trail.Entry, error) {
	var out []trail.Entry
	for rows.Next() {
		var (
			e        trail.Entry
			category string
			auditID  uuid.UUID
			actorID  uuid.UUID
		)
		if err := rows.Scan(&e.ID, &category, &auditID, &actorID, &e.Action,
			&e.FromState, &e.ToState, &e.Override, &e.Detail, &e.RequestID, &e.At); err != nil {
			return nil, fmt.Errorf("scan trail entry: %w", err)
		}
		e.Category = trail.Category(category)
		e.AuditID = id.AuditID(auditID)
		e.ActorID = id.ActorID(actorID)
		out = append(out, e)
	}
	return out, rows.Err()
}
