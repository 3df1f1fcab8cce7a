package documents

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "auditoria/pkg/domain"
	"auditoria/pkg/platform/sentinel"
)

// PostgresStore is the relational document registry adapter.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Register(ctx context.Context, doc *Document) error {
	if doc.ID.IsNil() {
		doc.ID = id.NewDocumentID()
	}
	if doc.AnalysisState == "" {
		doc.AnalysisState = AnalysisPending
	}
	doc.CreatedAt = time.Now()

	// Version assignment and insert run in one statement so concurrent
	// uploads for the same section never collide on a version number.
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO documents
			(id, audit_id, section_id, uploader_id, storage_path, content_hash,
			 version, analysis_state, deleted, created_at)
		SELECT $1, $2, $3, $4, $5, $6,
		       COALESCE(MAX(version), 0) + 1, $7, false, $8
		FROM documents
		WHERE audit_id = $2 AND section_id = $3
		RETURNING version`,
		uuid.UUID(doc.ID),
		uuid.UUID(doc.AuditID),
		uuid.UUID(doc.SectionID),
		uuid.UUID(doc.UploaderID),
		doc.StoragePath,
		doc.ContentHash,
		string(doc.AnalysisState),
		doc.CreatedAt,
	).Scan(&doc.Version)
	if err != nil {
		return fmt.Errorf("register document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAudit(ctx context.Context, auditID id.AuditID) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, audit_id, section_id, uploader_id, storage_path, content_hash,
		       version, analysis_state, deleted, created_at
		FROM documents
		WHERE audit_id = $1
		ORDER BY created_at`,
		uuid.UUID(auditID))
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		var (
			d                           Document
			docID, aID, sectionID, upID uuid.UUID
			state                       string
		)
		if err := rows.Scan(&docID, &aID, &sectionID, &upID, &d.StoragePath,
			&d.ContentHash, &d.Version, &state, &d.Deleted, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.ID = id.DocumentID(docID)
		d.AuditID = id.AuditID(aID)
		d.SectionID = id.SectionID(sectionID)
		d.UploaderID = id.ActorID(upID)
		d.AnalysisState = AnalysisState(state)
		out = append(out, &d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DistinctSections(ctx context.Context, auditID id.AuditID) ([]id.SectionID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT section_id FROM documents
		WHERE audit_id = $1 AND NOT deleted`,
		uuid.UUID(auditID))
	if err != nil {
		return nil, fmt.Errorf("distinct sections: %w", err)
	}
	defer rows.Close()

	var out []id.SectionID
	for rows.Next() {
		var sectionID uuid.UUID
		if err := rows.Scan(&sectionID); err != nil {
			return nil, fmt.Errorf("scan section id: %w", err)
		}
		out = append(out, id.SectionID(sectionID))
	}
	return out, rows.Err()
}

func (s *PostgresStore) SoftDelete(ctx context.Context, documentID id.DocumentID) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET deleted = true WHERE id = $1`, uuid.UUID(documentID))
	if err != nil {
		return fmt.Errorf("soft delete document: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
