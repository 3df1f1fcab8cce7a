package progress

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"auditoria/internal/audits"
	"auditoria/internal/calendar"
	"auditoria/internal/sections"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/platform/sentinel"
	"auditoria/pkg/requestcontext"
)

type fakeAuditReader struct {
	audits map[id.AuditID]*audits.Audit
}

func (f *fakeAuditReader) FindByID(_ context.Context, auditID id.AuditID) (*audits.Audit, error) {
	audit, ok := f.audits[auditID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return audit, nil
}

type fakeDocReader struct {
	sections map[id.AuditID][]id.SectionID
}

func (f *fakeDocReader) DistinctSections(_ context.Context, auditID id.AuditID) ([]id.SectionID, error) {
	return f.sections[auditID], nil
}

type TrackerSuite struct {
	suite.Suite

	reader  *fakeAuditReader
	catalog *sections.MemoryCatalog
	docs    *fakeDocReader
	tracker *Tracker
	audit   *audits.Audit
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) SetupTest() {
	s.audit = &audits.Audit{
		ID:             id.NewAuditID(),
		SiteID:         id.NewSiteID(),
		State:          audits.StateEnCarga,
		UploadDeadline: calendar.MustParseDay("2025-06-10"),
	}
	s.reader = &fakeAuditReader{audits: map[id.AuditID]*audits.Audit{s.audit.ID: s.audit}}
	s.catalog = sections.NewMemoryCatalog(sections.DefaultSections())
	s.docs = &fakeDocReader{sections: map[id.AuditID][]id.SectionID{}}

	tracker, err := NewTracker(s.reader, s.catalog, s.docs, slog.Default(), time.UTC)
	s.Require().NoError(err)
	s.tracker = tracker
}

// ctxAt pins the request clock so deadline checks are deterministic.
func ctxAt(day string) context.Context {
	t := calendar.MustParseDay(day).StartIn(time.UTC)
	return requestcontext.WithTime(context.Background(), t)
}

func (s *TrackerSuite) mandatoryIDs() []id.SectionID {
	list, err := s.catalog.ListMandatory(context.Background())
	s.Require().NoError(err)
	ids := make([]id.SectionID, 0, len(list))
	for _, section := range list {
		ids = append(ids, section.ID)
	}
	return ids
}

func (s *TrackerSuite) TestPartialCoverageRoundsPercentage() {
	mandatory := s.mandatoryIDs()
	s.Require().Len(mandatory, 12)

	s.docs.sections[s.audit.ID] = mandatory[:5]

	report, err := s.tracker.Compute(ctxAt("2025-06-01"), s.audit.ID)
	s.Require().NoError(err)
	s.Equal(12, report.SectionsTotal)
	s.Equal(5, report.SectionsCompleted)
	// 5/12 = 41.66..., rounds to 42.
	s.Equal(42, report.Percentage)
	s.False(report.RequiresAttention)
	s.False(report.EmptyCatalog)
}

func (s *TrackerSuite) TestFullCoverageIsExactlyHundred() {
	s.docs.sections[s.audit.ID] = s.mandatoryIDs()

	report, err := s.tracker.Compute(ctxAt("2025-06-01"), s.audit.ID)
	s.Require().NoError(err)
	s.Equal(100, report.Percentage)
	s.Equal(report.SectionsTotal, report.SectionsCompleted)
}

func (s *TrackerSuite) TestOptionalSectionsDoNotCount() {
	all, err := s.catalog.List(context.Background())
	s.Require().NoError(err)
	var optional []id.SectionID
	for _, section := range all {
		if !section.Mandatory {
			optional = append(optional, section.ID)
		}
	}
	s.Require().NotEmpty(optional)

	s.docs.sections[s.audit.ID] = optional

	report, err := s.tracker.Compute(ctxAt("2025-06-01"), s.audit.ID)
	s.Require().NoError(err)
	s.Zero(report.SectionsCompleted)
	s.Zero(report.Percentage)
}

func (s *TrackerSuite) TestEmptyCatalogNeverDivides() {
	s.catalog.Replace(nil)

	report, err := s.tracker.Compute(ctxAt("2025-06-01"), s.audit.ID)
	s.Require().NoError(err)
	s.Zero(report.SectionsTotal)
	s.Zero(report.Percentage)
	s.True(report.EmptyCatalog)
}

func (s *TrackerSuite) TestAttentionWhenPendingEvaluation() {
	s.audit.State = audits.StatePendienteEvaluacion

	report, err := s.tracker.Compute(ctxAt("2025-06-01"), s.audit.ID)
	s.Require().NoError(err)
	s.True(report.RequiresAttention)
}

func (s *TrackerSuite) TestAttentionWhenUploadingPastDeadline() {
	report, err := s.tracker.Compute(ctxAt("2025-06-11"), s.audit.ID)
	s.Require().NoError(err)
	s.True(report.RequiresAttention)

	// The deadline day itself still counts as inside the window.
	report, err = s.tracker.Compute(ctxAt("2025-06-10"), s.audit.ID)
	s.Require().NoError(err)
	s.False(report.RequiresAttention)
}

func (s *TrackerSuite) TestUnknownAuditIsNotFound() {
	_, err := s.tracker.Compute(ctxAt("2025-06-01"), id.NewAuditID())
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
