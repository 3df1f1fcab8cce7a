// Package scheduler drives time-based work: daily deadline reminders at
// fixed day offsets, a faster escalation sweep for audits whose upload
// window closes within a day, and the deadline tick that moves past-deadline
// audits on to evaluation. Notification ticks are idempotent per calendar
// day, so running one twice never doubles the sends.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"auditoria/internal/audits"
	"auditoria/internal/calendar"
	"auditoria/internal/dispatch"
	"auditoria/internal/notify"
	"auditoria/internal/scheduler/metrics"
	id "auditoria/pkg/domain"
	dErrors "auditoria/pkg/domain-errors"
	"auditoria/pkg/platform/sentinel"
	"auditoria/pkg/requestcontext"
)

// Tick names accepted by RunTick and reported in summaries.
const (
	TickReminder   = "reminder"
	TickEscalation = "escalation"
	TickDeadline   = "deadline"
)

// ReminderOffsets are the calendar-day distances at which a reminder goes
// out before the upload deadline.
var ReminderOffsets = []int{7, 3, 1}

// Clock abstracts time so ticks are testable at fixed instants.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall-clock implementation.
func SystemClock() Clock { return systemClock{} }

// AuditSource is the slice of the audit repository the scheduler reads.
type AuditSource interface {
	ListByDeadline(ctx context.Context, day calendar.Day, states ...audits.State) ([]*audits.Audit, error)
	ListExpiringWithin(ctx context.Context, from calendar.Day, days int, states ...audits.State) ([]*audits.Audit, error)
}

// WindowCloser applies the deadline-driven transition: en_carga audits
// whose upload window has closed move on to evaluation. The audit service
// implements it.
type WindowCloser interface {
	CloseExpiredUploadWindows(ctx context.Context) (moved, failed int, err error)
}

// Config holds the tick cadence.
type Config struct {
	ReminderInterval   time.Duration
	EscalationInterval time.Duration
	DeadlineInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.ReminderInterval <= 0 {
		c.ReminderInterval = 24 * time.Hour
	}
	if c.EscalationInterval <= 0 {
		c.EscalationInterval = 4 * time.Hour
	}
	if c.DeadlineInterval <= 0 {
		c.DeadlineInterval = time.Hour
	}
	return c
}

// TickSummary reports what one tick did.
type TickSummary struct {
	Tick        string       `json:"tick"`
	RanAt       time.Time    `json:"ran_at"`
	Day         calendar.Day `json:"day"`
	Candidates  int          `json:"candidates"`
	Enqueued    int          `json:"enqueued"`
	Duplicates  int          `json:"duplicates"`
	Failures    int          `json:"failures"`
	Transitions int          `json:"transitions,omitempty"`
}

// Scheduler owns the periodic ticks.
type Scheduler struct {
	source    AuditSource
	closer    WindowCloser
	directory notify.Directory
	queue     *dispatch.Queue
	cfg       Config
	loc       *time.Location
	clock     Clock
	metrics   *metrics.Metrics
	log       *slog.Logger
}

func New(source AuditSource, closer WindowCloser, directory notify.Directory, queue *dispatch.Queue, cfg Config, loc *time.Location, clock Clock, m *metrics.Metrics, log *slog.Logger) (*Scheduler, error) {
	if source == nil || closer == nil || directory == nil || queue == nil {
		return nil, errors.New("audit source, window closer, directory and queue are required")
	}
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = SystemClock()
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Scheduler{
		source:    source,
		closer:    closer,
		directory: directory,
		queue:     queue,
		cfg:       cfg.withDefaults(),
		loc:       loc,
		clock:     clock,
		metrics:   m,
		log:       log,
	}, nil
}

// Run drives the ticks on their intervals until the context is canceled.
// Each tick also fires once at startup so a restart never skips a day.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop(ctx, TickReminder, s.cfg.ReminderInterval) })
	g.Go(func() error { return s.loop(ctx, TickEscalation, s.cfg.EscalationInterval) })
	g.Go(func() error { return s.loop(ctx, TickDeadline, s.cfg.DeadlineInterval) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("scheduler: %w", err)
	}
	return nil
}

func (s *Scheduler) loop(ctx context.Context, tick string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if summary, err := s.RunTick(ctx, tick); err != nil {
			s.log.Error("tick failed", "tick", tick, "err", err)
		} else {
			s.log.Info("tick completed",
				"tick", tick, "day", summary.Day.String(),
				"candidates", summary.Candidates, "enqueued", summary.Enqueued,
				"duplicates", summary.Duplicates, "failures", summary.Failures)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunTick executes one named tick immediately. It backs the operator
// endpoint as well as the periodic loops.
func (s *Scheduler) RunTick(ctx context.Context, tick string) (TickSummary, error) {
	switch tick {
	case TickReminder:
		return s.runReminderTick(ctx)
	case TickEscalation:
		return s.runEscalationTick(ctx)
	case TickDeadline:
		return s.runDeadlineTick(ctx)
	default:
		return TickSummary{}, dErrors.Newf(dErrors.CodeValidation, "unknown tick %q", tick)
	}
}

func (s *Scheduler) runReminderTick(ctx context.Context) (TickSummary, error) {
	now := s.clock.Now()
	today := calendar.DayOf(now, s.loc)
	summary := TickSummary{Tick: TickReminder, RanAt: now, Day: today}
	s.metrics.IncrementTicks(TickReminder)

	for _, offset := range ReminderOffsets {
		target := today.AddDays(offset)
		candidates, err := s.source.ListByDeadline(ctx, target, audits.UploadStates()...)
		if err != nil {
			return summary, fmt.Errorf("list audits with deadline %s: %w", target, err)
		}
		summary.Candidates += len(candidates)

		for _, audit := range candidates {
			if err := s.enqueueDeadline(ctx, audit, offset, today, &summary); err != nil {
				summary.Failures++
				s.metrics.IncrementAuditFailures(TickReminder)
				s.log.Error("reminder fan-out failed for audit",
					"audit_id", audit.ID.String(), "offset", offset, "err", err)
			}
		}
	}
	s.metrics.AddJobsEnqueued(TickReminder, summary.Enqueued)
	return summary, nil
}

func (s *Scheduler) runEscalationTick(ctx context.Context) (TickSummary, error) {
	now := s.clock.Now()
	today := calendar.DayOf(now, s.loc)
	summary := TickSummary{Tick: TickEscalation, RanAt: now, Day: today}
	s.metrics.IncrementTicks(TickEscalation)

	// Deadline today or tomorrow: the window closes within roughly a day.
	candidates, err := s.source.ListExpiringWithin(ctx, today, 1, audits.UploadStates()...)
	if err != nil {
		return summary, fmt.Errorf("list expiring audits: %w", err)
	}
	summary.Candidates = len(candidates)

	for _, audit := range candidates {
		daysLeft := today.DaysUntil(audit.UploadDeadline)
		if err := s.enqueueDeadline(ctx, audit, daysLeft, today, &summary); err != nil {
			summary.Failures++
			s.metrics.IncrementAuditFailures(TickEscalation)
			s.log.Error("escalation fan-out failed for audit",
				"audit_id", audit.ID.String(), "err", err)
		}
	}
	s.metrics.AddJobsEnqueued(TickEscalation, summary.Enqueued)
	return summary, nil
}

// runDeadlineTick applies the deadline-driven transition: every en_carga
// audit whose upload window has closed moves to pendiente_evaluacion, so
// evaluation opens even when the provider never marks submission complete.
func (s *Scheduler) runDeadlineTick(ctx context.Context) (TickSummary, error) {
	now := s.clock.Now()
	today := calendar.DayOf(now, s.loc)
	summary := TickSummary{Tick: TickDeadline, RanAt: now, Day: today}
	s.metrics.IncrementTicks(TickDeadline)

	// The service reads the request time for its deadline check, so the
	// tick pins it to the scheduler's clock.
	moved, failed, err := s.closer.CloseExpiredUploadWindows(requestcontext.WithTime(ctx, now))
	if err != nil {
		return summary, fmt.Errorf("close expired upload windows: %w", err)
	}
	summary.Transitions = moved
	summary.Failures = failed
	for i := 0; i < failed; i++ {
		s.metrics.IncrementAuditFailures(TickDeadline)
	}
	return summary, nil
}

// enqueueDeadline fans one audit out to its site contacts and, when one is
// assigned, the auditor. The idempotency key includes the send day, so the
// same tick re-run enqueues nothing while the next day's tick starts fresh.
func (s *Scheduler) enqueueDeadline(ctx context.Context, audit *audits.Audit, daysLeft int, today calendar.Day, summary *TickSummary) error {
	escalation := summary.Tick == TickEscalation

	recipients, err := s.directory.SiteContacts(ctx, audit.SiteID)
	if err != nil {
		return fmt.Errorf("resolve site contacts: %w", err)
	}
	if !audit.AuditorID.IsNil() {
		auditor, err := s.directory.AuditorContact(ctx, audit.AuditorID)
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			s.log.Warn("assigned auditor has no contact card",
				"audit_id", audit.ID.String(),
				"auditor_id", audit.AuditorID.String())
		case err != nil:
			return fmt.Errorf("resolve auditor contact: %w", err)
		default:
			recipients = append(recipients, *auditor)
		}
	}
	if len(recipients) == 0 {
		s.log.Warn("no recipients for audit deadline",
			"site_id", audit.SiteID.String(), "audit_id", audit.ID.String())
		return nil
	}

	for _, recipient := range recipients {
		payload, err := json.Marshal(notify.DeadlinePayload{
			AuditID:   audit.ID,
			SiteID:    audit.SiteID,
			Recipient: recipient,
			Deadline:  audit.UploadDeadline,
			DaysLeft:  daysLeft,
		})
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}

		job := dispatch.Job{
			Payload:        payload,
			IdempotencyKey: deadlineKey(summary.Tick, audit.ID, daysLeft, recipient.ID, today),
		}
		if escalation {
			job.Type = notify.JobEscalation
			job.Priority = dispatch.PriorityHigh
		} else {
			job.Type = notify.JobReminder
			job.Priority = dispatch.PriorityNormal
		}

		enqueued, err := s.queue.Enqueue(ctx, job)
		if err != nil {
			return fmt.Errorf("enqueue for %s: %w", recipient.Email, err)
		}
		if enqueued {
			summary.Enqueued++
		} else {
			summary.Duplicates++
		}
	}
	return nil
}

func deadlineKey(tick string, auditID id.AuditID, daysLeft int, recipientID id.ActorID, day calendar.Day) string {
	return fmt.Sprintf("%s:%s:%d:%s:%s", tick, auditID, daysLeft, recipientID, day)
}
