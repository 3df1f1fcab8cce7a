// Package documents is the document-repository capability the progress
// tracker and the implicit lifecycle trigger consume. Storage and versioning
// mechanics live in the external document store; this package tracks the
// per-audit registry.
package documents

import (
	"time"

	id "auditoria/pkg/domain"
)

// AnalysisState tracks the downstream processing of an upload.
type AnalysisState string

const (
	AnalysisPending   AnalysisState = "pendiente"
	AnalysisProcessed AnalysisState = "procesado"
	AnalysisFailed    AnalysisState = "error"
)

// Document is one uploaded version. New uploads for the same (audit,
// section) create new versions rather than overwriting.
type Document struct {
	ID            id.DocumentID
	AuditID       id.AuditID
	SectionID     id.SectionID
	UploaderID    id.ActorID
	StoragePath   string
	ContentHash   string
	Version       int
	AnalysisState AnalysisState
	Deleted       bool
	CreatedAt     time.Time
}
