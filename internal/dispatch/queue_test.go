package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	dErrors "auditoria/pkg/domain-errors"
)

type QueueSuite struct {
	suite.Suite

	queue *Queue
	clock time.Time
}

func TestQueueSuite(t *testing.T) {
	suite.Run(t, new(QueueSuite))
}

func (s *QueueSuite) SetupTest() {
	queue, err := NewQueue(NewMemoryKeyStore(), Config{
		MaxAttempts: 3,
		BackoffBase: 30 * time.Second,
		BackoffCap:  5 * time.Minute,
	}, nil, slog.Default())
	s.Require().NoError(err)
	s.queue = queue

	s.clock = time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	s.queue.now = func() time.Time { return s.clock }
}

func (s *QueueSuite) advance(d time.Duration) {
	s.clock = s.clock.Add(d)
}

func (s *QueueSuite) TestEnqueueRequiresRegisteredHandler() {
	_, err := s.queue.Enqueue(context.Background(), Job{Type: "nobody-home"})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *QueueSuite) TestIdempotencyKeyDeduplicates() {
	s.queue.RegisterHandler("reminder", func(context.Context, *Job) error { return nil })

	ok, err := s.queue.Enqueue(context.Background(), Job{Type: "reminder", IdempotencyKey: "reminder:a:7:x"})
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.queue.Enqueue(context.Background(), Job{Type: "reminder", IdempotencyKey: "reminder:a:7:x"})
	s.Require().NoError(err)
	s.False(ok)
	s.Equal(1, s.queue.Depth())
}

func (s *QueueSuite) TestHighPriorityDrainsFirst() {
	var order []string
	s.queue.RegisterHandler("note", func(_ context.Context, job *Job) error {
		var tag string
		s.Require().NoError(json.Unmarshal(job.Payload, &tag))
		order = append(order, tag)
		return nil
	})

	enqueue := func(tag string, p Priority) {
		payload, _ := json.Marshal(tag)
		ok, err := s.queue.Enqueue(context.Background(), Job{Type: "note", Priority: p, Payload: payload})
		s.Require().NoError(err)
		s.Require().True(ok)
	}
	enqueue("low", PriorityLow)
	enqueue("normal-1", PriorityNormal)
	enqueue("high", PriorityHigh)
	enqueue("normal-2", PriorityNormal)

	s.Equal(4, s.queue.ProcessAvailable(context.Background()))
	s.Equal([]string{"high", "normal-1", "normal-2", "low"}, order)
}

func (s *QueueSuite) TestRetryBacksOffExponentially() {
	attempts := 0
	s.queue.RegisterHandler("flaky", func(context.Context, *Job) error {
		attempts++
		if attempts < 3 {
			return errors.New("transport down")
		}
		return nil
	})

	ok, err := s.queue.Enqueue(context.Background(), Job{Type: "flaky"})
	s.Require().NoError(err)
	s.Require().True(ok)

	// First attempt fails; retry is not ready until base backoff elapses.
	s.Equal(1, s.queue.ProcessAvailable(context.Background()))
	s.Equal(0, s.queue.ProcessAvailable(context.Background()))

	s.advance(30 * time.Second)
	s.Equal(1, s.queue.ProcessAvailable(context.Background()))

	// Second failure doubles the wait.
	s.advance(30 * time.Second)
	s.Equal(0, s.queue.ProcessAvailable(context.Background()))
	s.advance(30 * time.Second)
	s.Equal(1, s.queue.ProcessAvailable(context.Background()))

	s.Equal(3, attempts)
	s.Empty(s.queue.DeadLetters())
	s.Zero(s.queue.Depth())
}

func (s *QueueSuite) TestExhaustedJobMovesToDeadLetters() {
	s.queue.RegisterHandler("doomed", func(context.Context, *Job) error {
		return errors.New("recipient unreachable")
	})

	ok, err := s.queue.Enqueue(context.Background(), Job{Type: "doomed", MaxAttempts: 2})
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Equal(1, s.queue.ProcessAvailable(context.Background()))
	s.advance(time.Minute)
	s.Equal(1, s.queue.ProcessAvailable(context.Background()))

	dead := s.queue.DeadLetters()
	s.Require().Len(dead, 1)
	s.Equal("doomed", dead[0].Type)
	s.Equal(2, dead[0].Attempts)
	s.Equal("recipient unreachable", dead[0].LastError)
	s.Zero(s.queue.Depth())
}

func (s *QueueSuite) TestExhaustedJobFreesItsIdempotencyKey() {
	s.queue.RegisterHandler("doomed", func(context.Context, *Job) error {
		return errors.New("recipient unreachable")
	})

	ok, err := s.queue.Enqueue(context.Background(), Job{
		Type: "doomed", IdempotencyKey: "reminder:a:7:x", MaxAttempts: 1,
	})
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Equal(1, s.queue.ProcessAvailable(context.Background()))
	s.Require().Len(s.queue.DeadLetters(), 1)

	// Only a successful delivery burns the key; after a dead-letter the
	// same send may be enqueued again.
	ok, err = s.queue.Enqueue(context.Background(), Job{
		Type: "doomed", IdempotencyKey: "reminder:a:7:x", MaxAttempts: 1,
	})
	s.Require().NoError(err)
	s.True(ok)
}

func (s *QueueSuite) TestBackoffIsCapped() {
	s.Equal(30*time.Second, s.queue.backoff(1))
	s.Equal(time.Minute, s.queue.backoff(2))
	s.Equal(2*time.Minute, s.queue.backoff(3))
	s.Equal(4*time.Minute, s.queue.backoff(4))
	s.Equal(5*time.Minute, s.queue.backoff(5))
	s.Equal(5*time.Minute, s.queue.backoff(20))
}

func (s *QueueSuite) TestNotBeforeDelaysDelivery() {
	delivered := 0
	s.queue.RegisterHandler("scheduled", func(context.Context, *Job) error {
		delivered++
		return nil
	})

	ok, err := s.queue.Enqueue(context.Background(), Job{
		Type:      "scheduled",
		NotBefore: s.clock.Add(time.Hour),
	})
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Equal(0, s.queue.ProcessAvailable(context.Background()))
	s.advance(time.Hour)
	s.Equal(1, s.queue.ProcessAvailable(context.Background()))
	s.Equal(1, delivered)
}

func TestRunDrainsAndStopsOnCancel(t *testing.T) {
	queue, err := NewQueue(NewMemoryKeyStore(), Config{}, nil, slog.Default())
	require.NoError(t, err)

	done := make(chan struct{})
	queue.RegisterHandler("ping", func(context.Context, *Job) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- queue.Run(ctx, 2) }()

	ok, err := queue.Enqueue(ctx, Job{Type: "ping"})
	require.NoError(t, err)
	require.True(t, ok)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not processed")
	}

	cancel()
	select {
	case err := <-finished:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestMemoryKeyStoreExpiry(t *testing.T) {
	store := NewMemoryKeyStore()
	clock := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	ok, err := store.Reserve(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = store.Reserve(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	require.False(t, ok)

	clock = clock.Add(2 * time.Hour)
	ok, err = store.Reserve(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Release(context.Background(), "k"))
	ok, err = store.Reserve(context.Background(), "k", time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
}
