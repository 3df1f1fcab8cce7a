package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"auditoria/internal/audits"
	"auditoria/internal/calendar"
	"auditoria/internal/dispatch"
	"auditoria/internal/notify"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type fakeSource struct {
	audits []*audits.Audit
}

func (f *fakeSource) matches(audit *audits.Audit, states []audits.State) bool {
	for _, s := range states {
		if audit.State == s {
			return true
		}
	}
	return len(states) == 0
}

func (f *fakeSource) ListByDeadline(_ context.Context, day calendar.Day, states ...audits.State) ([]*audits.Audit, error) {
	var out []*audits.Audit
	for _, audit := range f.audits {
		if audit.UploadDeadline == day && f.matches(audit, states) {
			out = append(out, audit)
		}
	}
	return out, nil
}

func (f *fakeSource) ListExpiringWithin(_ context.Context, from calendar.Day, days int, states ...audits.State) ([]*audits.Audit, error) {
	var out []*audits.Audit
	to := from.AddDays(days)
	for _, audit := range f.audits {
		deadline := audit.UploadDeadline
		if !deadline.Before(from) && !deadline.After(to) && f.matches(audit, states) {
			out = append(out, audit)
		}
	}
	return out, nil
}

type fakeCloser struct {
	moved  int
	failed int
	calls  int
}

func (f *fakeCloser) CloseExpiredUploadWindows(context.Context) (int, int, error) {
	f.calls++
	return f.moved, f.failed, nil
}

type SchedulerSuite struct {
	suite.Suite

	source    *fakeSource
	closer    *fakeCloser
	directory *notify.MemoryDirectory
	queue     *dispatch.Queue
	clock     *fakeClock
	scheduler *Scheduler
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.source = &fakeSource{}
	s.closer = &fakeCloser{}
	s.directory = notify.NewMemoryDirectory()

	queue, err := dispatch.NewQueue(dispatch.NewMemoryKeyStore(), dispatch.Config{}, nil, slog.Default())
	s.Require().NoError(err)
	// Handlers run elsewhere; the suite only inspects what gets enqueued.
	queue.RegisterHandler(notify.JobReminder, func(context.Context, *dispatch.Job) error { return nil })
	queue.RegisterHandler(notify.JobEscalation, func(context.Context, *dispatch.Job) error { return nil })
	s.queue = queue

	s.clock = &fakeClock{now: time.Date(2025, 6, 3, 8, 0, 0, 0, time.UTC)}
	scheduler, err := New(s.source, s.closer, s.directory, queue, Config{}, time.UTC, s.clock, nil, slog.Default())
	s.Require().NoError(err)
	s.scheduler = scheduler
}

func (s *SchedulerSuite) addAudit(deadline string, state audits.State, contacts int) *audits.Audit {
	audit := &audits.Audit{
		ID:             id.NewAuditID(),
		SiteID:         id.NewSiteID(),
		State:          state,
		UploadDeadline: calendar.MustParseDay(deadline),
	}
	s.source.audits = append(s.source.audits, audit)
	for i := 0; i < contacts; i++ {
		s.directory.AddSiteContact(audit.SiteID, notify.Recipient{
			ID: id.NewActorID(), Name: "Contacto", Email: "contacto@sitio.co",
		})
	}
	return audit
}

func (s *SchedulerSuite) TestReminderTickEnqueuesOncePerRecipient() {
	s.addAudit("2025-06-10", audits.StateEnCarga, 2)

	summary, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Equal(1, summary.Candidates)
	s.Equal(2, summary.Enqueued)
	s.Zero(summary.Duplicates)
	s.Equal(2, s.queue.Depth())

	// Re-running the same tick on the same day enqueues nothing new.
	summary, err = s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Zero(summary.Enqueued)
	s.Equal(2, summary.Duplicates)
	s.Equal(2, s.queue.Depth())
}

func (s *SchedulerSuite) TestReminderOffsetsCoverSevenThreeOne() {
	s.addAudit("2025-06-10", audits.StateEnCarga, 1) // 7 days out
	s.addAudit("2025-06-06", audits.StateProgramada, 1) // 3 days out
	s.addAudit("2025-06-04", audits.StateEnCarga, 1) // 1 day out
	s.addAudit("2025-06-05", audits.StateEnCarga, 1) // off-offset, skipped

	summary, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Equal(3, summary.Candidates)
	s.Equal(3, summary.Enqueued)
}

func (s *SchedulerSuite) TestReminderSkipsAuditsPastUpload() {
	s.addAudit("2025-06-10", audits.StatePendienteEvaluacion, 1)
	s.addAudit("2025-06-10", audits.StateCerrada, 1)

	summary, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Zero(summary.Candidates)
	s.Zero(s.queue.Depth())
}

func (s *SchedulerSuite) TestNextDayTickSendsAgain() {
	s.addAudit("2025-06-10", audits.StateEnCarga, 1)

	_, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Equal(1, s.queue.Depth())

	// A week-offset send today and a 3-day send four days later are
	// distinct keys.
	s.clock.now = s.clock.now.AddDate(0, 0, 4)
	summary, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Equal(1, summary.Enqueued)
	s.Equal(2, s.queue.Depth())
}

func (s *SchedulerSuite) TestEscalationTickTargetsImminentDeadlines() {
	s.addAudit("2025-06-03", audits.StateEnCarga, 1) // today
	s.addAudit("2025-06-04", audits.StateEnCarga, 1) // tomorrow
	s.addAudit("2025-06-06", audits.StateEnCarga, 1) // out of range

	summary, err := s.scheduler.RunTick(context.Background(), TickEscalation)
	s.Require().NoError(err)
	s.Equal(2, summary.Candidates)
	s.Equal(2, summary.Enqueued)

	jobs := s.drainJobs()
	s.Require().Len(jobs, 2)
	for _, job := range jobs {
		s.Equal(notify.JobEscalation, job.Type)
		s.Equal(dispatch.PriorityHigh, job.Priority)

		var payload notify.DeadlinePayload
		s.Require().NoError(json.Unmarshal(job.Payload, &payload))
		s.LessOrEqual(payload.DaysLeft, 1)
	}
}

func (s *SchedulerSuite) TestEscalationKeysAreDistinctFromReminders() {
	s.addAudit("2025-06-04", audits.StateEnCarga, 1) // 1-day reminder AND escalation

	reminder, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Equal(1, reminder.Enqueued)

	escalation, err := s.scheduler.RunTick(context.Background(), TickEscalation)
	s.Require().NoError(err)
	s.Equal(1, escalation.Enqueued)
	s.Zero(escalation.Duplicates)
}

func (s *SchedulerSuite) TestReminderFansOutToAssignedAuditor() {
	audit := s.addAudit("2025-06-10", audits.StateEnCarga, 1)
	audit.AuditorID = id.NewActorID()
	s.directory.AddAuditor(notify.Recipient{
		ID: audit.AuditorID, Name: "Inés", Email: "ines@auditoria.co",
	})

	summary, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Equal(2, summary.Enqueued)

	jobs := s.drainJobs()
	s.Require().Len(jobs, 2)
	roles := make(map[string]bool)
	for _, job := range jobs {
		var payload notify.DeadlinePayload
		s.Require().NoError(json.Unmarshal(job.Payload, &payload))
		roles[payload.Recipient.Role] = true
	}
	s.True(roles["provider"])
	s.True(roles["auditor"])

	// The auditor's send dedupes on re-run like any other recipient's.
	summary, err = s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Zero(summary.Enqueued)
	s.Equal(2, summary.Duplicates)
}

func (s *SchedulerSuite) TestAssignedAuditorWithoutContactCardIsSkipped() {
	audit := s.addAudit("2025-06-10", audits.StateEnCarga, 1)
	audit.AuditorID = id.NewActorID() // no card registered

	summary, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Equal(1, summary.Enqueued)
	s.Zero(summary.Failures)
}

func (s *SchedulerSuite) TestDeadlineTickClosesExpiredWindows() {
	s.closer.moved = 2
	s.closer.failed = 1

	summary, err := s.scheduler.RunTick(context.Background(), TickDeadline)
	s.Require().NoError(err)
	s.Equal(TickDeadline, summary.Tick)
	s.Equal(2, summary.Transitions)
	s.Equal(1, summary.Failures)
	s.Equal(1, s.closer.calls)
	s.Zero(s.queue.Depth())
}

func (s *SchedulerSuite) TestSiteWithoutContactsIsLoggedNotFatal() {
	s.addAudit("2025-06-10", audits.StateEnCarga, 0)
	good := s.addAudit("2025-06-10", audits.StateEnCarga, 1)

	summary, err := s.scheduler.RunTick(context.Background(), TickReminder)
	s.Require().NoError(err)
	s.Equal(2, summary.Candidates)
	s.Equal(1, summary.Enqueued)
	s.Zero(summary.Failures)

	jobs := s.drainJobs()
	s.Require().Len(jobs, 1)
	var payload notify.DeadlinePayload
	s.Require().NoError(json.Unmarshal(jobs[0].Payload, &payload))
	s.Equal(good.ID, payload.AuditID)
}

func (s *SchedulerSuite) TestUnknownTickIsRejected() {
	_, err := s.scheduler.RunTick(context.Background(), "defrag")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

// drainJobs processes everything ready and returns the jobs in the order
// the workers would take them.
func (s *SchedulerSuite) drainJobs() []dispatch.Job {
	var captured []dispatch.Job
	capture := func(_ context.Context, job *dispatch.Job) error {
		captured = append(captured, *job)
		return nil
	}
	s.queue.RegisterHandler(notify.JobReminder, capture)
	s.queue.RegisterHandler(notify.JobEscalation, capture)
	s.queue.ProcessAvailable(context.Background())
	return captured
}
