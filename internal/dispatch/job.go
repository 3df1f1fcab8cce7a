// Package dispatch is the in-process notification delivery queue: priority
// ordering, capped exponential retry, idempotent enqueue, and a dead-letter
// list for jobs that exhausted their attempts.
package dispatch

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority orders ready jobs. Higher priorities are always drained first.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
}

func (p Priority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

func (p Priority) rank() int { return priorityRank[p] }

// Job is one unit of deliverable work. Payload is opaque to the queue; the
// registered handler for Type decodes it.
type Job struct {
	ID             uuid.UUID       `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	Priority       Priority        `json:"priority"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Attempts       int             `json:"attempts"`
	MaxAttempts    int             `json:"max_attempts"`
	NotBefore      time.Time       `json:"not_before"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	LastError      string          `json:"last_error,omitempty"`
}

func (j *Job) ready(now time.Time) bool {
	return !now.Before(j.NotBefore)
}
