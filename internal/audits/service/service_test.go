package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"auditoria/internal/audits"
	"auditoria/internal/audits/store"
	auditmem "auditoria/internal/audits/store/memory"
	"auditoria/internal/calendar"
	"auditoria/internal/trail"
	trailmem "auditoria/internal/trail/store/memory"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/requestcontext"
)

type collectingBus struct {
	mu     sync.Mutex
	events []audits.LifecycleEvent
}

func (b *collectingBus) Publish(_ context.Context, event audits.LifecycleEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *collectingBus) all() []audits.LifecycleEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]audits.LifecycleEvent(nil), b.events...)
}

type StateMachineSuite struct {
	suite.Suite
	trail   *trailmem.Store
	store   *auditmem.Store
	bus     *collectingBus
	service *Service

	admin    id.Actor
	auditor  id.Actor
	provider id.Actor
}

func TestStateMachineSuite(t *testing.T) {
	suite.Run(t, new(StateMachineSuite))
}

func (s *StateMachineSuite) SetupTest() {
	s.trail = trailmem.New()
	s.store = auditmem.New(s.trail)
	s.bus = &collectingBus{}

	var err error
	s.service, err = New(s.store, s.bus, slog.Default(), time.UTC, true)
	s.Require().NoError(err)

	s.admin = id.Actor{ID: id.NewActorID(), Capabilities: []id.Capability{id.CapabilityAdmin}}
	s.auditor = id.Actor{ID: id.NewActorID(), Capabilities: []id.Capability{id.CapabilityAuditor}}
	s.provider = id.Actor{ID: id.NewActorID(), Capabilities: []id.Capability{id.CapabilityProvider}}
}

// seed creates an audit in the given state with a far-future deadline.
func (s *StateMachineSuite) seed(state audits.State) *audits.Audit {
	return s.seedWithDeadline(state, "2025-06-10")
}

func (s *StateMachineSuite) seedWithDeadline(state audits.State, deadline string) *audits.Audit {
	audit := &audits.Audit{
		SiteID:         id.NewSiteID(),
		Period:         audits.Period{Year: 2025, Month: time.June},
		StartDate:      calendar.MustParseDay("2025-06-01"),
		UploadDeadline: calendar.MustParseDay(deadline),
		State:          state,
	}
	s.Require().NoError(s.store.Create(context.Background(), audit))
	return audit
}

func (s *StateMachineSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := New(nil, s.bus, slog.Default(), time.UTC, true)
		s.Error(err)
	})

	s.Run("nil publisher returns error", func() {
		_, err := New(s.store, nil, slog.Default(), time.UTC, true)
		s.Error(err)
	})
}

func (s *StateMachineSuite) TestTransition_SingleStepAdvance() {
	audit := s.seed(audits.StateProgramada)

	updated, err := s.service.Transition(context.Background(), audit.ID, s.admin, TransitionRequest{
		Target: audits.StateEnCarga,
	})
	s.Require().NoError(err)
	s.Equal(audits.StateEnCarga, updated.State)

	entries, err := s.trail.ListByAudit(context.Background(), audit.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(trail.ActionStateChanged, entries[0].Action)
	s.Equal("programada", entries[0].FromState)
	s.Equal("en_carga", entries[0].ToState)
	s.False(entries[0].Override)

	events := s.bus.all()
	s.Require().Len(events, 1)
	s.Equal(audits.StateEnCarga, events[0].To)
}

func (s *StateMachineSuite) TestTransition_UnknownAuditIsNotFound() {
	_, err := s.service.Transition(context.Background(), id.NewAuditID(), s.admin, TransitionRequest{
		Target: audits.StateEnCarga,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *StateMachineSuite) TestTransition_NoSkippingWithoutAdmin() {
	audit := s.seed(audits.StateProgramada)

	_, err := s.service.Transition(context.Background(), audit.ID, s.provider, TransitionRequest{
		Target: audits.StatePendienteEvaluacion,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	// No trail entry and no event for a rejected transition.
	entries, listErr := s.trail.ListByAudit(context.Background(), audit.ID)
	s.Require().NoError(listErr)
	s.Empty(entries)
	s.Empty(s.bus.all())
}

func (s *StateMachineSuite) TestTransition_AdminOverrideSkipIsLogged() {
	audit := s.seed(audits.StateProgramada)

	updated, err := s.service.Transition(context.Background(), audit.ID, s.admin, TransitionRequest{
		Target: audits.StatePendienteEvaluacion,
	})
	s.Require().NoError(err)
	s.Equal(audits.StatePendienteEvaluacion, updated.State)

	entries, err := s.trail.ListByAudit(context.Background(), audit.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.True(entries[0].Override, "skips must be distinctly logged")
}

func (s *StateMachineSuite) TestTransition_BackwardIsInvalidEvenForAdmin() {
	audit := s.seed(audits.StateEvaluada)

	_, err := s.service.Transition(context.Background(), audit.ID, s.admin, TransitionRequest{
		Target: audits.StateEnCarga,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

// Scenario B: an actor with neither an assignment nor the admin capability
// cannot evaluate.
func (s *StateMachineSuite) TestTransition_EvaluateWithoutAssignmentForbidden() {
	audit := s.seed(audits.StatePendienteEvaluacion)

	_, err := s.service.Transition(context.Background(), audit.ID, s.auditor, TransitionRequest{
		Target: audits.StateEvaluada,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *StateMachineSuite) TestTransition_AssignedAuditorMayEvaluate() {
	audit := s.seed(audits.StatePendienteEvaluacion)
	s.Require().NoError(s.service.AssignAuditor(context.Background(), s.admin,
		audit.ID, s.auditor.ID, calendar.MustParseDay("2025-06-15"), audits.AssignmentPriorityHigh))

	updated, err := s.service.Transition(context.Background(), audit.ID, s.auditor, TransitionRequest{
		Target: audits.StateEvaluada,
	})
	s.Require().NoError(err)
	s.Equal(audits.StateEvaluada, updated.State)
}

func (s *StateMachineSuite) TestTransition_DifferentAuditorForbidden() {
	audit := s.seed(audits.StatePendienteEvaluacion)
	other := id.NewActorID()
	s.Require().NoError(s.service.AssignAuditor(context.Background(), s.admin,
		audit.ID, other, calendar.Day{}, ""))

	_, err := s.service.Transition(context.Background(), audit.ID, s.auditor, TransitionRequest{
		Target: audits.StateEvaluada,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

// Scenario C: out-of-range final score on close.
func (s *StateMachineSuite) TestTransition_ScoreOutOfRange() {
	audit := s.seed(audits.StateEvaluada)
	score := 101

	_, err := s.service.Transition(context.Background(), audit.ID, s.admin, TransitionRequest{
		Target:     audits.StateCerrada,
		FinalScore: &score,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *StateMachineSuite) TestTransition_CloseWithScoreAndRemarks() {
	audit := s.seed(audits.StateEvaluada)
	score := 87

	updated, err := s.service.Transition(context.Background(), audit.ID, s.admin, TransitionRequest{
		Target:     audits.StateCerrada,
		FinalScore: &score,
		Remarks:    "observations resolved",
	})
	s.Require().NoError(err)
	s.Equal(audits.StateCerrada, updated.State)
	s.Require().NotNil(updated.FinalScore)
	s.Equal(87, *updated.FinalScore)
	s.Equal("observations resolved", updated.Remarks)
}

func (s *StateMachineSuite) TestTransition_CloseRequiresAdmin() {
	audit := s.seed(audits.StateEvaluada)

	_, err := s.service.Transition(context.Background(), audit.ID, s.auditor, TransitionRequest{
		Target: audits.StateCerrada,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

// Two concurrent transitions with the same expected starting state: exactly
// one succeeds, the other reports Conflict.
func (s *StateMachineSuite) TestTransition_ConcurrentCallsYieldOneConflict() {
	audit := s.seed(audits.StateProgramada)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.service.Transition(context.Background(), audit.ID, s.admin, TransitionRequest{
				Target:        audits.StateEnCarga,
				ExpectedState: audits.StateProgramada,
			})
			results[i] = err
		}(i)
	}
	wg.Wait()

	var successes, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case dErrors.HasCode(err, dErrors.CodeConflict):
			conflicts++
		default:
			s.Failf("unexpected error", "%v", err)
		}
	}
	s.Equal(1, successes)
	s.Equal(1, conflicts)
}

func (s *StateMachineSuite) TestTransition_StaleExpectedStateConflicts() {
	audit := s.seed(audits.StateEnCarga)

	_, err := s.service.Transition(context.Background(), audit.ID, s.admin, TransitionRequest{
		Target:        audits.StateEnCarga,
		ExpectedState: audits.StateProgramada,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *StateMachineSuite) TestNoteDocumentUploaded_AutoStart() {
	audit := s.seed(audits.StateProgramada)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2025, time.June, 5, 10, 0, 0, 0, time.UTC))

	s.Require().NoError(s.service.NoteDocumentUploaded(ctx, audit.ID, s.provider.ID))

	got, err := s.service.Get(ctx, audit.ID)
	s.Require().NoError(err)
	s.Equal(audits.StateEnCarga, got.State)

	// A second upload is a no-op, not a conflict.
	s.Require().NoError(s.service.NoteDocumentUploaded(ctx, audit.ID, s.provider.ID))
	s.Len(s.bus.all(), 1)
}

func (s *StateMachineSuite) TestNoteDocumentUploaded_AfterDeadlineNoop() {
	audit := s.seed(audits.StateProgramada)
	ctx := requestcontext.WithTime(context.Background(), time.Date(2025, time.June, 11, 0, 0, 1, 0, time.UTC))

	s.Require().NoError(s.service.NoteDocumentUploaded(ctx, audit.ID, s.provider.ID))

	got, err := s.service.Get(ctx, audit.ID)
	s.Require().NoError(err)
	s.Equal(audits.StateProgramada, got.State)
}

func (s *StateMachineSuite) TestNoteDocumentUploaded_DisabledConfig() {
	disabled, err := New(s.store, s.bus, slog.Default(), time.UTC, false)
	s.Require().NoError(err)
	audit := s.seed(audits.StateProgramada)

	s.Require().NoError(disabled.NoteDocumentUploaded(context.Background(), audit.ID, s.provider.ID))

	got, err := s.service.Get(context.Background(), audit.ID)
	s.Require().NoError(err)
	s.Equal(audits.StateProgramada, got.State)
}

func (s *StateMachineSuite) TestCloseExpiredUploadWindows_MovesPastDeadlineAudits() {
	expired := s.seedWithDeadline(audits.StateEnCarga, "2025-06-10")
	stillOpen := s.seedWithDeadline(audits.StateEnCarga, "2025-06-20")
	notStarted := s.seedWithDeadline(audits.StateProgramada, "2025-06-10")
	ctx := requestcontext.WithTime(context.Background(), time.Date(2025, time.June, 15, 9, 0, 0, 0, time.UTC))

	moved, failed, err := s.service.CloseExpiredUploadWindows(ctx)
	s.Require().NoError(err)
	s.Equal(1, moved)
	s.Zero(failed)

	got, err := s.service.Get(ctx, expired.ID)
	s.Require().NoError(err)
	s.Equal(audits.StatePendienteEvaluacion, got.State)

	got, err = s.service.Get(ctx, stillOpen.ID)
	s.Require().NoError(err)
	s.Equal(audits.StateEnCarga, got.State)

	got, err = s.service.Get(ctx, notStarted.ID)
	s.Require().NoError(err)
	s.Equal(audits.StateProgramada, got.State)

	// Trail-logged with no acting user, and announced on the bus.
	entries, err := s.trail.ListByAudit(ctx, expired.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(string(audits.StatePendienteEvaluacion), entries[0].ToState)
	s.True(entries[0].ActorID.IsNil())

	events := s.bus.all()
	s.Require().Len(events, 1)
	s.Equal(expired.ID, events[0].AuditID)
	s.Equal(audits.StatePendienteEvaluacion, events[0].To)

	// A second sweep finds nothing left to move.
	moved, failed, err = s.service.CloseExpiredUploadWindows(ctx)
	s.Require().NoError(err)
	s.Zero(moved)
	s.Zero(failed)
	s.Len(s.bus.all(), 1)
}

func (s *StateMachineSuite) TestCloseExpiredUploadWindows_DeadlineDayStillOpen() {
	audit := s.seedWithDeadline(audits.StateEnCarga, "2025-06-10")
	ctx := requestcontext.WithTime(context.Background(), time.Date(2025, time.June, 10, 23, 0, 0, 0, time.UTC))

	moved, _, err := s.service.CloseExpiredUploadWindows(ctx)
	s.Require().NoError(err)
	s.Zero(moved)

	got, err := s.service.Get(ctx, audit.ID)
	s.Require().NoError(err)
	s.Equal(audits.StateEnCarga, got.State)
}

func (s *StateMachineSuite) TestCreate_DuplicateSitePeriodConflicts() {
	siteID := id.NewSiteID()
	params := CreateParams{
		SiteID:         siteID,
		Period:         audits.Period{Year: 2025, Month: time.July},
		UploadDeadline: calendar.MustParseDay("2025-07-15"),
	}
	_, err := s.service.Create(context.Background(), s.admin, params)
	s.Require().NoError(err)

	_, err = s.service.Create(context.Background(), s.admin, params)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *StateMachineSuite) TestCreate_RequiresAdmin() {
	_, err := s.service.Create(context.Background(), s.provider, CreateParams{
		SiteID:         id.NewSiteID(),
		Period:         audits.Period{Year: 2025, Month: time.July},
		UploadDeadline: calendar.MustParseDay("2025-07-15"),
	})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *StateMachineSuite) TestAssignAuditor_SupersedesActive() {
	audit := s.seed(audits.StateProgramada)
	first := id.NewActorID()
	second := id.NewActorID()

	s.Require().NoError(s.service.AssignAuditor(context.Background(), s.admin, audit.ID, first, calendar.Day{}, ""))
	s.Require().NoError(s.service.AssignAuditor(context.Background(), s.admin, audit.ID, second, calendar.Day{}, ""))

	active, err := s.store.ActiveAssignment(context.Background(), audit.ID)
	s.Require().NoError(err)
	s.Equal(second, active.AuditorID)

	all, err := s.store.ListAssignments(context.Background(), audit.ID)
	s.Require().NoError(err)
	s.Len(all, 2, "history accumulates")
}

func (s *StateMachineSuite) TestSetVisitDate_Permissions() {
	audit := s.seed(audits.StateProgramada)
	day := calendar.MustParseDay("2025-06-20")

	err := s.service.SetVisitDate(context.Background(), s.auditor, audit.ID, store.VisitScheduled, day)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	s.Require().NoError(s.service.AssignAuditor(context.Background(), s.admin, audit.ID, s.auditor.ID, calendar.Day{}, ""))
	s.Require().NoError(s.service.SetVisitDate(context.Background(), s.auditor, audit.ID, store.VisitScheduled, day))

	got, err := s.service.Get(context.Background(), audit.ID)
	s.Require().NoError(err)
	s.Equal(day, got.ScheduledVisit)
}
