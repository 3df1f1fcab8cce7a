// Command server wires the audit service: stores (postgres or in-memory),
// the dispatch queue and its workers, the reminder scheduler, the lifecycle
// consumer, the trail outbox publisher, and the HTTP router. Business logic
// lives in the internal packages; this file only composes.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"auditoria/internal/audits"
	auditservice "auditoria/internal/audits/service"
	auditstore "auditoria/internal/audits/store"
	auditmemory "auditoria/internal/audits/store/memory"
	auditpostgres "auditoria/internal/audits/store/postgres"
	"auditoria/internal/dispatch"
	dispatchmetrics "auditoria/internal/dispatch/metrics"
	"auditoria/internal/documents"
	"auditoria/internal/notify"
	"auditoria/internal/platform/config"
	"auditoria/internal/platform/httpserver"
	"auditoria/internal/platform/logger"
	platformpostgres "auditoria/internal/platform/postgres"
	platformredis "auditoria/internal/platform/redis"
	"auditoria/internal/progress"
	"auditoria/internal/scheduler"
	schedulermetrics "auditoria/internal/scheduler/metrics"
	"auditoria/internal/sections"
	"auditoria/internal/trail"
	trailmetrics "auditoria/internal/trail/metrics"
	trailmemory "auditoria/internal/trail/store/memory"
	trailpostgres "auditoria/internal/trail/store/postgres"
	httptransport "auditoria/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Error("invalid organization timezone", "tz", cfg.Timezone, "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Relational backend: postgres when a DSN is configured, in-memory
	// otherwise. The store code is the same for pgx and pq.
	var (
		trailStore   trail.Store
		outboxSource trail.OutboxSource
		auditRepo    auditstore.Store
		docStore     documents.Store
		catalog      sections.Catalog
		directory    notify.Directory
		records      notify.RecordStore
		health       = map[string]httptransport.HealthChecker{}
	)
	if cfg.DB.DSN != "" {
		db, err := platformpostgres.Open(cfg.DB)
		if err != nil {
			log.Error("open database", "driver", cfg.DB.Driver, "err", err)
			os.Exit(1)
		}
		defer db.Close()

		pgTrail := trailpostgres.New(db)
		trailStore, outboxSource = pgTrail, pgTrail
		auditRepo = auditpostgres.New(db, pgTrail)
		docStore = documents.NewPostgresStore(db)
		catalog = sections.NewPostgresCatalog(db)
		directory = notify.NewPostgresDirectory(db)
		records = notify.NewPostgresRecordStore(db)
		health["database"] = pingChecker{db.PingContext}
		log.Info("using relational backend", "driver", cfg.DB.Driver)
	} else {
		memTrail := trailmemory.New()
		trailStore, outboxSource = memTrail, memTrail
		auditRepo = auditmemory.New(memTrail)
		docStore = documents.NewMemoryStore()
		catalog = sections.NewMemoryCatalog(sections.DefaultSections())
		directory = notify.NewMemoryDirectory()
		records = notify.NewMemoryRecordStore()
		log.Warn("no DB_DSN configured, using in-memory stores")
	}

	// Idempotency keys: Redis when configured, per-process otherwise.
	var keys dispatch.KeyStore = dispatch.NewMemoryKeyStore()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connect", "err", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		keys = dispatch.NewRedisKeyStore(redisClient)
		health["redis"] = redisClient
		log.Info("using redis idempotency keys")
	}

	queue, err := dispatch.NewQueue(keys, dispatch.Config{
		MaxAttempts: cfg.Dispatch.MaxAttempts,
		BackoffBase: cfg.Dispatch.BackoffBase,
		BackoffCap:  cfg.Dispatch.BackoffCap,
	}, dispatchmetrics.New(), log)
	if err != nil {
		log.Error("build dispatch queue", "err", err)
		os.Exit(1)
	}

	bus := audits.NewEventBus(256, func() {
		log.Warn("lifecycle event dropped, consumer lagging")
	})

	auditSvc, err := auditservice.New(auditRepo, bus, log, loc, cfg.UploadAutoStarts)
	if err != nil {
		log.Error("build audit service", "err", err)
		os.Exit(1)
	}
	docSvc, err := documents.NewService(docStore, auditSvc, log)
	if err != nil {
		log.Error("build document service", "err", err)
		os.Exit(1)
	}
	tracker, err := progress.NewTracker(auditRepo, catalog, docStore, log, loc)
	if err != nil {
		log.Error("build progress tracker", "err", err)
		os.Exit(1)
	}

	notifySvc, err := notify.NewService(auditRepo, notify.NewTemplateRenderer(),
		notify.NewLogSender(log), records, log)
	if err != nil {
		log.Error("build notify service", "err", err)
		os.Exit(1)
	}
	notifySvc.RegisterHandlers(queue)

	consumer, err := notify.NewConsumer(bus, auditRepo, directory, queue, log)
	if err != nil {
		log.Error("build lifecycle consumer", "err", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(auditRepo, auditSvc, directory, queue, scheduler.Config{
		ReminderInterval:   cfg.Scheduler.ReminderInterval,
		EscalationInterval: cfg.Scheduler.EscalationInterval,
		DeadlineInterval:   cfg.Scheduler.DeadlineInterval,
	}, loc, scheduler.SystemClock(), schedulermetrics.New(), log)
	if err != nil {
		log.Error("build scheduler", "err", err)
		os.Exit(1)
	}

	router := httptransport.NewRouter(httptransport.RouterConfig{
		Logger:     log,
		SigningKey: cfg.JWTSigningKey,
		Audits:     httptransport.NewAuditsHandler(auditSvc, trailStore, tracker, log),
		Documents:  httptransport.NewDocumentsHandler(docSvc, log),
		Ops:        httptransport.NewOpsHandler(sched, queue, catalog, log),
		Health:     health,
	})
	srv := httpserver.New(cfg.Addr, router, httpserver.Config{
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return queue.Run(ctx, cfg.Dispatch.Workers) })
	g.Go(func() error { return consumer.Run(ctx) })
	g.Go(func() error { return sched.Run(ctx) })

	if len(cfg.Kafka.Brokers) > 0 {
		publisher, err := trail.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, outboxSource, trailmetrics.New(), log)
		if err != nil {
			log.Error("trail publisher", "err", err)
			os.Exit(1)
		}
		g.Go(func() error {
			err := publisher.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
		log.Info("trail outbox publisher enabled", "topic", cfg.Kafka.Topic)
	}

	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

// pingChecker adapts a PingContext func to the health interface.
type pingChecker struct {
	ping func(ctx context.Context) error
}

func (p pingChecker) Health(ctx context.Context) error { return p.ping(ctx) }
