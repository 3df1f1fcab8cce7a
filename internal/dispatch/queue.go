package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"auditoria/internal/dispatch/metrics"
	dErrors "auditoria/pkg/domain-errors"
)

// HandlerFunc processes one job attempt. Returning an error schedules a
// retry until the job's attempt budget runs out.
type HandlerFunc func(ctx context.Context, job *Job) error

// Config tunes retry and dedupe behavior.
type Config struct {
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	IdempotencyTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Minute
	}
	if c.IdempotencyTTL <= 0 {
		c.IdempotencyTTL = 48 * time.Hour
	}
	return c
}

// Queue is the in-process delivery queue. Jobs are drained strictly by
// priority, then by enqueue order within a priority.
type Queue struct {
	mu       sync.Mutex
	pending  []*Job
	dead     []*Job
	handlers map[string]HandlerFunc

	keys    KeyStore
	cfg     Config
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
	wake    chan struct{}
}

func NewQueue(keys KeyStore, cfg Config, m *metrics.Metrics, log *slog.Logger) (*Queue, error) {
	if keys == nil {
		return nil, errors.New("key store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Queue{
		handlers: make(map[string]HandlerFunc),
		keys:     keys,
		cfg:      cfg.withDefaults(),
		metrics:  m,
		log:      log,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}, nil
}

// RegisterHandler binds a job type to its handler. Jobs enqueued for an
// unregistered type are rejected at enqueue time.
func (q *Queue) RegisterHandler(jobType string, fn HandlerFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = fn
}

// Enqueue accepts a job. It returns false without error when the job's
// idempotency key is already reserved, meaning an equivalent job was
// enqueued within the dedupe window.
func (q *Queue) Enqueue(ctx context.Context, job Job) (bool, error) {
	if job.Type == "" {
		return false, dErrors.New(dErrors.CodeValidation, "job type is required")
	}
	if job.Priority == "" {
		job.Priority = PriorityNormal
	}
	if !job.Priority.Valid() {
		return false, dErrors.Newf(dErrors.CodeValidation, "unknown priority %q", job.Priority)
	}

	q.mu.Lock()
	_, known := q.handlers[job.Type]
	q.mu.Unlock()
	if !known {
		return false, dErrors.Newf(dErrors.CodeValidation, "no handler registered for job type %q", job.Type)
	}

	if job.IdempotencyKey != "" {
		reserved, err := q.keys.Reserve(ctx, job.IdempotencyKey, q.cfg.IdempotencyTTL)
		if err != nil {
			return false, dErrors.Wrap(dErrors.CodeInternal, "reserve idempotency key", err)
		}
		if !reserved {
			q.metrics.IncrementDuplicates(job.Type)
			return false, nil
		}
	}

	job.ID = uuid.New()
	job.EnqueuedAt = q.now()
	job.Attempts = 0
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = q.cfg.MaxAttempts
	}
	if job.NotBefore.IsZero() {
		job.NotBefore = job.EnqueuedAt
	}

	q.mu.Lock()
	q.pending = append(q.pending, &job)
	depth := len(q.pending)
	q.mu.Unlock()

	q.metrics.IncrementEnqueued(job.Type)
	q.metrics.SetQueueDepth(depth)
	q.signal()
	return true, nil
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes and returns the best ready job: highest priority first, then
// oldest enqueue time. Returns nil when nothing is ready.
func (q *Queue) pop(now time.Time) *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	best := -1
	for i, job := range q.pending {
		if !job.ready(now) {
			continue
		}
		if best == -1 {
			best = i
			continue
		}
		cur := q.pending[best]
		if job.Priority.rank() > cur.Priority.rank() ||
			(job.Priority.rank() == cur.Priority.rank() && job.EnqueuedAt.Before(cur.EnqueuedAt)) {
			best = i
		}
	}
	if best == -1 {
		return nil
	}
	job := q.pending[best]
	q.pending = append(q.pending[:best], q.pending[best+1:]...)
	q.metrics.SetQueueDepth(len(q.pending))
	return job
}

func (q *Queue) execute(ctx context.Context, job *Job) {
	q.mu.Lock()
	handler := q.handlers[job.Type]
	q.mu.Unlock()

	job.Attempts++
	start := q.now()
	err := handler(ctx, job)
	q.metrics.ObserveHandlerLatency(job.Type, q.now().Sub(start))

	if err == nil {
		q.metrics.IncrementProcessed(job.Type, "delivered")
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		q.mu.Lock()
		q.dead = append(q.dead, job)
		q.mu.Unlock()
		q.metrics.IncrementProcessed(job.Type, "exhausted")
		q.metrics.IncrementDeadLetter(job.Type)
		// The dedupe window only protects deliveries that succeeded; free
		// the key so an operator-triggered re-run can resend.
		if job.IdempotencyKey != "" {
			if err := q.keys.Release(ctx, job.IdempotencyKey); err != nil {
				q.log.Warn("release idempotency key for exhausted job",
					"job_id", job.ID.String(), "key", job.IdempotencyKey, "err", err)
			}
		}
		q.log.Error("job exhausted its retry budget",
			"job_id", job.ID.String(), "type", job.Type,
			"attempts", job.Attempts, "err", err)
		return
	}

	delay := q.backoff(job.Attempts)
	job.NotBefore = q.now().Add(delay)
	q.mu.Lock()
	q.pending = append(q.pending, job)
	depth := len(q.pending)
	q.mu.Unlock()
	q.metrics.IncrementProcessed(job.Type, "retried")
	q.metrics.SetQueueDepth(depth)
	q.log.Warn("job attempt failed, retrying",
		"job_id", job.ID.String(), "type", job.Type,
		"attempt", job.Attempts, "retry_in", delay.String(), "err", err)
}

// backoff doubles per attempt from the base, capped.
func (q *Queue) backoff(attempts int) time.Duration {
	delay := q.cfg.BackoffBase
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= q.cfg.BackoffCap {
			return q.cfg.BackoffCap
		}
	}
	if delay > q.cfg.BackoffCap {
		return q.cfg.BackoffCap
	}
	return delay
}

// ProcessAvailable synchronously drains every job that is ready at the
// moment of the call. Retries scheduled during the drain are left for a
// later pass. It returns the number of attempts made.
func (q *Queue) ProcessAvailable(ctx context.Context) int {
	now := q.now()
	attempts := 0
	for {
		job := q.pop(now)
		if job == nil {
			return attempts
		}
		q.execute(ctx, job)
		attempts++
	}
}

// Run drives the queue with a pool of workers until the context is
// canceled. Shutdown is clean: a worker finishes its in-flight job first.
func (q *Queue) Run(ctx context.Context, workers int) error {
	if workers <= 0 {
		workers = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return q.work(ctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("dispatch workers: %w", err)
	}
	return nil
}

func (q *Queue) work(ctx context.Context) error {
	// Polling covers jobs whose NotBefore arrives without a new enqueue.
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if job := q.pop(q.now()); job != nil {
			q.execute(ctx, job)
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		case <-ticker.C:
		}
	}
}

// Depth reports how many jobs are waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// DeadLetters returns a snapshot of jobs that exhausted their retries, for
// the operator surface.
func (q *Queue) DeadLetters() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Job, 0, len(q.dead))
	for _, job := range q.dead {
		out = append(out, *job)
	}
	return out
}
