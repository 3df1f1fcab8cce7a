// Package domain holds the typed identifiers shared across features. Wrapping
// uuid.UUID in distinct types keeps audit, site, and actor references from
// being swapped at call sites.
package domain

import (
	"github.com/google/uuid"

	dErrors "auditoria/pkg/domain-errors"
)

type (
	// AuditID identifies one compliance-review cycle.
	AuditID uuid.UUID
	// SiteID identifies a provider site.
	SiteID uuid.UUID
	// SectionID identifies a catalog section.
	SectionID uuid.UUID
	// DocumentID identifies one uploaded document version.
	DocumentID uuid.UUID
	// AssignmentID identifies an auditor-to-audit binding.
	AssignmentID uuid.UUID
	// ActorID identifies the acting user (provider contact, auditor, admin).
	ActorID uuid.UUID
)

// NewAuditID generates a fresh audit identifier.
func NewAuditID() AuditID { return AuditID(uuid.New()) }

// NewSiteID generates a fresh site identifier.
func NewSiteID() SiteID { return SiteID(uuid.New()) }

// NewSectionID generates a fresh section identifier.
func NewSectionID() SectionID { return SectionID(uuid.New()) }

// NewDocumentID generates a fresh document identifier.
func NewDocumentID() DocumentID { return DocumentID(uuid.New()) }

// NewAssignmentID generates a fresh assignment identifier.
func NewAssignmentID() AssignmentID { return AssignmentID(uuid.New()) }

// NewActorID generates a fresh actor identifier.
func NewActorID() ActorID { return ActorID(uuid.New()) }

func (id AuditID) String() string      { return uuid.UUID(id).String() }
func (id SiteID) String() string       { return uuid.UUID(id).String() }
func (id SectionID) String() string    { return uuid.UUID(id).String() }
func (id DocumentID) String() string   { return uuid.UUID(id).String() }
func (id AssignmentID) String() string { return uuid.UUID(id).String() }
func (id ActorID) String() string      { return uuid.UUID(id).String() }

func (id AuditID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id SiteID) IsNil() bool       { return uuid.UUID(id) == uuid.Nil }
func (id SectionID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id AssignmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// parseUUID enforces the trust-boundary invariant: IDs must be valid,
// non-empty, non-nil UUIDs.
func parseUUID(raw, kind string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s id must not be empty", kind)
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s id is not a valid uuid", kind)
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeValidation, "%s id must not be the nil uuid", kind)
	}
	return parsed, nil
}

// ParseAuditID parses an audit identifier from its canonical string form.
func ParseAuditID(raw string) (AuditID, error) {
	parsed, err := parseUUID(raw, "audit")
	return AuditID(parsed), err
}

// ParseSiteID parses a site identifier from its canonical string form.
func ParseSiteID(raw string) (SiteID, error) {
	parsed, err := parseUUID(raw, "site")
	return SiteID(parsed), err
}

// ParseSectionID parses a section identifier from its canonical string form.
func ParseSectionID(raw string) (SectionID, error) {
	parsed, err := parseUUID(raw, "section")
	return SectionID(parsed), err
}

// ParseDocumentID parses a document identifier from its canonical string form.
func ParseDocumentID(raw string) (DocumentID, error) {
	parsed, err := parseUUID(raw, "document")
	return DocumentID(parsed), err
}

// ParseAssignmentID parses an assignment identifier from its canonical string form.
func ParseAssignmentID(raw string) (AssignmentID, error) {
	parsed, err := parseUUID(raw, "assignment")
	return AssignmentID(parsed), err
}

// ParseActorID parses an actor identifier from its canonical string form.
func ParseActorID(raw string) (ActorID, error) {
	parsed, err := parseUUID(raw, "actor")
	return ActorID(parsed), err
}
