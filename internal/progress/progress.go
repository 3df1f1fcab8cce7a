// Package progress derives the document-collection completion view for an
// audit from the section catalog and the document registry.
package progress

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"auditoria/internal/audits"
	"auditoria/internal/sections"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/platform/sentinel"
	"auditoria/pkg/requestcontext"
)

// AuditReader is the audit lookup the tracker needs.
type AuditReader interface {
	FindByID(ctx context.Context, auditID id.AuditID) (*audits.Audit, error)
}

// DocumentReader reports which sections already hold at least one live
// document for an audit.
type DocumentReader interface {
	DistinctSections(ctx context.Context, auditID id.AuditID) ([]id.SectionID, error)
}

// SectionStatus is the per-section line of the progress report.
type SectionStatus struct {
	Section  sections.Section `json:"section"`
	Complete bool             `json:"complete"`
}

// Progress summarizes how far along the document collection is.
type Progress struct {
	AuditID           id.AuditID      `json:"audit_id"`
	State             audits.State    `json:"state"`
	SectionsTotal     int             `json:"sections_total"`
	SectionsCompleted int             `json:"sections_completed"`
	Percentage        int             `json:"percentage"`
	RequiresAttention bool            `json:"requires_attention"`
	EmptyCatalog      bool            `json:"empty_catalog,omitempty"`
	Sections          []SectionStatus `json:"sections"`
}

// Tracker computes progress reports.
type Tracker struct {
	audits  AuditReader
	catalog sections.Catalog
	docs    DocumentReader
	log     *slog.Logger
	loc     *time.Location
}

func NewTracker(auditReader AuditReader, catalog sections.Catalog, docs DocumentReader, log *slog.Logger, loc *time.Location) (*Tracker, error) {
	if auditReader == nil || catalog == nil || docs == nil {
		return nil, errors.New("audit reader, catalog and document reader are required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{audits: auditReader, catalog: catalog, docs: docs, log: log, loc: loc}, nil
}

// Compute builds the progress report for one audit. Only mandatory sections
// count toward the percentage; an empty catalog yields 0% and flags the
// report instead of dividing.
func (t *Tracker) Compute(ctx context.Context, auditID id.AuditID) (*Progress, error) {
	audit, err := t.audits.FindByID(ctx, auditID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "audit not found")
		}
		return nil, dErrors.Wrap(dErrors.CodeInternal, "load audit", err)
	}

	mandatory, err := t.catalog.ListMandatory(ctx)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "load section catalog", err)
	}
	covered, err := t.docs.DistinctSections(ctx, auditID)
	if err != nil {
		return nil, dErrors.Wrap(dErrors.CodeInternal, "load document sections", err)
	}

	coveredSet := make(map[id.SectionID]struct{}, len(covered))
	for _, sectionID := range covered {
		coveredSet[sectionID] = struct{}{}
	}

	report := &Progress{
		AuditID:       auditID,
		State:         audit.State,
		SectionsTotal: len(mandatory),
		Sections:      make([]SectionStatus, 0, len(mandatory)),
	}
	for _, section := range mandatory {
		_, done := coveredSet[section.ID]
		if done {
			report.SectionsCompleted++
		}
		report.Sections = append(report.Sections, SectionStatus{Section: section, Complete: done})
	}

	if report.SectionsTotal == 0 {
		report.EmptyCatalog = true
		t.log.Warn("progress computed against an empty section catalog",
			"audit_id", auditID.String())
	} else {
		report.Percentage = int(math.Round(
			float64(report.SectionsCompleted) / float64(report.SectionsTotal) * 100))
	}

	now := requestcontext.Now(ctx)
	report.RequiresAttention = audit.State == audits.StatePendienteEvaluacion ||
		(audit.State == audits.StateEnCarga && audit.DeadlinePassed(now, t.loc))

	return report, nil
}
