package trail

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"

	trailmetrics "auditoria/internal/trail/metrics"
)

// producer is the slice of kgo.Client the publisher needs; tests substitute
// a fake.
type producer interface {
	ProduceSync(ctx context.Context, records ...*kgo.Record) kgo.ProduceResults
}

// Publisher drains the trail outbox to a Kafka topic. Entries stay in the
// local store until the produce succeeds, so a crash between commit and
// publish re-delivers rather than loses.
type Publisher struct {
	client    producer
	source    OutboxSource
	topic     string
	batchSize int
	interval  time.Duration
	metrics   *trailmetrics.Metrics
	log       *slog.Logger
}

// NewPublisher connects to the brokers and ensures the topic exists.
func NewPublisher(brokers []string, topic string, source OutboxSource, m *trailmetrics.Metrics, log *slog.Logger) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := admin.CreateTopic(ctx, 1, 1, nil, topic); err != nil {
		// Already-exists is fine; anything else is surfaced at wiring time.
		log.Warn("create trail topic", "topic", topic, "err", err)
	}

	return &Publisher{
		client:    client,
		source:    source,
		topic:     topic,
		batchSize: 100,
		interval:  5 * time.Second,
		metrics:   m,
		log:       log,
	}, nil
}

// newPublisherWith wires an existing producer; used by tests.
func newPublisherWith(client producer, topic string, source OutboxSource, log *slog.Logger) *Publisher {
	return &Publisher{
		client:    client,
		source:    source,
		topic:     topic,
		batchSize: 100,
		interval:  5 * time.Second,
		log:       log,
	}
}

// Run drains the outbox until ctx is cancelled.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.drainOnce(ctx); err != nil {
				p.metrics.IncrementDrainErrors()
				p.log.Error("trail outbox drain failed", "err", err)
			}
		}
	}
}

// wirePayload is the JSON structure published per entry.
type wirePayload struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	AuditID   string `json:"audit_id"`
	ActorID   string `json:"actor_id,omitempty"`
	Action    string `json:"action"`
	FromState string `json:"from_state,omitempty"`
	ToState   string `json:"to_state,omitempty"`
	Override  bool   `json:"override,omitempty"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	At        string `json:"at"`
}

func (p *Publisher) drainOnce(ctx context.Context) error {
	entries, err := p.source.NextBatch(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("outbox batch: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	records := make([]*kgo.Record, 0, len(entries))
	for _, entry := range entries {
		payload := wirePayload{
			ID:        entry.ID.String(),
			Category:  string(entry.Category),
			AuditID:   entry.AuditID.String(),
			Action:    entry.Action,
			FromState: entry.FromState,
			ToState:   entry.ToState,
			Override:  entry.Override,
			Detail:    entry.Detail,
			RequestID: entry.RequestID,
			At:        entry.At.Format(time.RFC3339Nano),
		}
		if !entry.ActorID.IsNil() {
			payload.ActorID = entry.ActorID.String()
		}
		value, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal trail payload: %w", err)
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			// Key by audit so per-audit entries stay ordered in one partition.
			Key:   []byte(entry.AuditID.String()),
			Value: value,
		})
	}

	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce trail batch: %w", err)
	}

	ids := make([]uuid.UUID, len(entries))
	for i, entry := range entries {
		ids[i] = entry.ID
		p.metrics.IncrementPublished(string(entry.Category))
	}
	p.metrics.SetLastBatchSize(len(entries))
	return p.source.MarkPublished(ctx, ids)
}
