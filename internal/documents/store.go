package documents

import (
	"context"

	id "auditoria/pkg/domain"
)

// Store persists the document registry. Adapters return sentinel errors for
// missing documents.
type Store interface {
	// Register stores a new version; the adapter assigns Version as one
	// past the highest existing version for the (audit, section) pair.
	Register(ctx context.Context, doc *Document) error
	ListByAudit(ctx context.Context, auditID id.AuditID) ([]*Document, error)
	// DistinctSections returns the section ids holding at least one
	// non-deleted document for the audit.
	DistinctSections(ctx context.Context, auditID id.AuditID) ([]id.SectionID, error)
	SoftDelete(ctx context.Context, documentID id.DocumentID) error
}
