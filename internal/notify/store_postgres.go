package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	id "auditoria/pkg/domain"
)

// PostgresRecordStore persists delivery evidence in notification_records.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Save(ctx context.Context, record *Record) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_records
			(id, audit_id, kind, recipient_id, recipient_name, recipient_email, recipient_role, subject, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		record.ID,
		uuid.UUID(record.AuditID),
		string(record.Kind),
		uuid.UUID(record.Recipient.ID),
		record.Recipient.Name,
		record.Recipient.Email,
		record.Recipient.Role,
		record.Subject,
		record.SentAt,
	)
	return err
}

func (s *PostgresRecordStore) ListByAudit(ctx context.Context, auditID id.AuditID) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_id, kind, recipient_id, recipient_name, recipient_email, recipient_role, subject, sent_at
		FROM notification_records
		WHERE audit_id = $1
		ORDER BY sent_at`, uuid.UUID(auditID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var recordAuditID, recipientID uuid.UUID
		var kind string
		if err := rows.Scan(&r.ID, &recordAuditID, &kind,
			&recipientID, &r.Recipient.Name, &r.Recipient.Email, &r.Recipient.Role,
			&r.Subject, &r.SentAt); err != nil {
			return nil, err
		}
		r.AuditID = id.AuditID(recordAuditID)
		r.Recipient.ID = id.ActorID(recipientID)
		r.Kind = Kind(kind)
		out = append(out, &r)
	}
	return out, rows.Err()
}
