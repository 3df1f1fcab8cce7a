package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures process-level configuration. Values come from environment
// variables so main stays lean; development defaults keep a bare `go run`
// working without external services.
type Config struct {
	Addr          string
	JWTSigningKey string

	// Timezone is the organization timezone used for calendar-day
	// arithmetic. Reminder offsets are computed in this zone, never in
	// raw wall-clock time.
	Timezone string

	// UploadAutoStarts controls whether the first qualifying document
	// upload before the deadline transitions programada -> en_carga.
	// The explicit administrative action works regardless.
	UploadAutoStarts bool

	HTTP      HTTPConfig
	DB        DBConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Scheduler SchedulerConfig
	Dispatch  DispatchConfig
}

// HTTPConfig tunes the listener timeouts.
type HTTPConfig struct {
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// DBConfig selects the relational backend. Driver picks the SQL driver the
// adapter is composed with ("pq" or "pgx"); the store code is identical for
// both.
type DBConfig struct {
	Driver string
	DSN    string
}

// RedisConfig configures the idempotency-key store. An empty URL disables
// Redis and the queue falls back to the in-memory key store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the audit-trail outbox publisher. Empty brokers
// disable publishing; trail entries still persist locally.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// SchedulerConfig sets the recurring tick cadences. The reminder tick runs
// daily; the escalation tick runs at a finer interval and only looks at the
// next 24 hours; the deadline tick closes expired upload windows.
type SchedulerConfig struct {
	ReminderInterval   time.Duration
	EscalationInterval time.Duration
	DeadlineInterval   time.Duration
}

// DispatchConfig bounds the queue worker pool and retry policy.
type DispatchConfig struct {
	Workers     int
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:             envOr("AUDITORIA_ADDR", ":8080"),
		JWTSigningKey:    envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Timezone:         envOr("ORG_TIMEZONE", "America/Bogota"),
		UploadAutoStarts: envOr("UPLOAD_AUTO_STARTS", "true") == "true",
		HTTP: HTTPConfig{
			ReadHeaderTimeout: envDuration("HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			IdleTimeout:       envDuration("HTTP_IDLE_TIMEOUT", time.Minute),
		},
		DB: DBConfig{
			Driver: envOr("DB_DRIVER", "pgx"),
			DSN:    os.Getenv("DB_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
			Topic:   envOr("KAFKA_TRAIL_TOPIC", "auditoria.trail"),
		},
		Scheduler: SchedulerConfig{
			ReminderInterval:   envDuration("SCHEDULER_REMINDER_INTERVAL", 24*time.Hour),
			EscalationInterval: envDuration("SCHEDULER_ESCALATION_INTERVAL", 4*time.Hour),
			DeadlineInterval:   envDuration("SCHEDULER_DEADLINE_INTERVAL", time.Hour),
		},
		Dispatch: DispatchConfig{
			Workers:     envInt("DISPATCH_WORKERS", 4),
			MaxAttempts: envInt("DISPATCH_MAX_ATTEMPTS", 5),
			BackoffBase: envDuration("DISPATCH_BACKOFF_BASE", 30*time.Second),
			BackoffCap:  envDuration("DISPATCH_BACKOFF_CAP", 30*time.Minute),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
