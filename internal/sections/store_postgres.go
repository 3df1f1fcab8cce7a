package sections

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "auditoria/pkg/domain"
)

// PostgresCatalog reads the catalog from the relational backend.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

func (c *PostgresCatalog) List(ctx context.Context) ([]Section, error) {
	return c.query(ctx, `
		SELECT id, code, name, mandatory, ord, allowed_formats, max_size_mb
		FROM sections ORDER BY ord`)
}

func (c *PostgresCatalog) ListMandatory(ctx context.Context) ([]Section, error) {
	return c.query(ctx, `
		SELECT id, code, name, mandatory, ord, allowed_formats, max_size_mb
		FROM sections WHERE mandatory ORDER BY ord`)
}

func (c *PostgresCatalog) query(ctx context.Context, q string) ([]Section, error) {
	rows, err := c.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	var out []Section
	for rows.Next() {
		var (
			s         Section
			sectionID uuid.UUID
			formats   pq.StringArray
		)
		if err := rows.Scan(&sectionID, &s.Code, &s.Name, &s.Mandatory, &s.Order, &formats, &s.MaxSizeMB); err != nil {
			return nil, fmt.Errorf("scan section: %w", err)
		}
		s.ID = id.SectionID(sectionID)
		s.AllowedFormats = formats
		out = append(out, s)
	}
	return out, rows.Err()
}
