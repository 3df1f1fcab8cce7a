package notify

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"github.com/google/uuid"

	id "auditoria/pkg/domain"
	"auditoria/pkg/platform/sentinel"
)

// Directory resolves who should receive messages about an audit.
type Directory interface {
	// SiteContacts returns the provider-side contacts registered for a site.
	SiteContacts(ctx context.Context, siteID id.SiteID) ([]Recipient, error)
	// AuditorContact resolves the contact card of an auditor.
	AuditorContact(ctx context.Context, auditorID id.ActorID) (*Recipient, error)
}

// MemoryDirectory is the in-process adapter.
type MemoryDirectory struct {
	mu       sync.RWMutex
	sites    map[id.SiteID][]Recipient
	auditors map[id.ActorID]Recipient
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		sites:    make(map[id.SiteID][]Recipient),
		auditors: make(map[id.ActorID]Recipient),
	}
}

func (d *MemoryDirectory) AddSiteContact(siteID id.SiteID, r Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r.Role = "provider"
	d.sites[siteID] = append(d.sites[siteID], r)
}

func (d *MemoryDirectory) AddAuditor(r Recipient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r.Role = "auditor"
	d.auditors[r.ID] = r
}

func (d *MemoryDirectory) SiteContacts(_ context.Context, siteID id.SiteID) ([]Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Recipient(nil), d.sites[siteID]...), nil
}

func (d *MemoryDirectory) AuditorContact(_ context.Context, auditorID id.ActorID) (*Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.auditors[auditorID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &r, nil
}

// PostgresDirectory reads contacts from the site_contacts and auditors
// tables.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) SiteContacts(ctx context.Context, siteID id.SiteID) ([]Recipient, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT actor_id, name, email
		FROM site_contacts
		WHERE site_id = $1
		ORDER BY name`, uuid.UUID(siteID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		var actorID uuid.UUID
		if err := rows.Scan(&actorID, &r.Name, &r.Email); err != nil {
			return nil, err
		}
		r.ID = id.ActorID(actorID)
		r.Role = "provider"
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) AuditorContact(ctx context.Context, auditorID id.ActorID) (*Recipient, error) {
	var r Recipient
	var actorID uuid.UUID
	err := d.db.QueryRowContext(ctx, `
		SELECT actor_id, name, email
		FROM auditors
		WHERE actor_id = $1`, uuid.UUID(auditorID)).Scan(&actorID, &r.Name, &r.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.ID = id.ActorID(actorID)
	r.Role = "auditor"
	return &r, nil
}
