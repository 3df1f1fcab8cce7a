package notify

import (
	"context"
	"log/slog"
	"sync"
)

// Sender delivers a rendered message to one recipient. Implementations must
// treat transient transport failures as errors so the queue retries.
type Sender interface {
	Send(ctx context.Context, to Recipient, msg Message) error
}

// LogSender writes deliveries to the log. Default when no mail transport is
// configured, and the sender used in development.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, to Recipient, msg Message) error {
	s.log.Info("notification delivered",
		"recipient", to.Email, "role", to.Role, "subject", msg.Subject)
	return nil
}

// CapturingSender records every send. Test double.
type CapturingSender struct {
	mu    sync.Mutex
	Err   error
	sends []Delivery
}

// Delivery is one captured send.
type Delivery struct {
	To      Recipient
	Message Message
}

func (s *CapturingSender) Send(_ context.Context, to Recipient, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.sends = append(s.sends, Delivery{To: to, Message: msg})
	return nil
}

func (s *CapturingSender) Sent() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.sends...)
}
