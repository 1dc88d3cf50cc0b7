// Command server runs the consent platform: the HTTP API, the projection
// consumers, the audit worker, and the expiry sweeper in one process. Wiring
// lives here; behavior lives in the internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"openconsent/internal/consent/cache"
	consentmetrics "openconsent/internal/consent/metrics"
	"openconsent/internal/consent/publisher"
	"openconsent/internal/consent/service"
	"openconsent/internal/eventstore"
	"openconsent/internal/participant"
	"openconsent/internal/participant/httpclient"
	"openconsent/internal/platform/config"
	"openconsent/internal/platform/crypto"
	"openconsent/internal/platform/httpserver"
	"openconsent/internal/platform/kafka"
	"openconsent/internal/platform/kafka/consumer"
	"openconsent/internal/platform/logger"
	platformpostgres "openconsent/internal/platform/postgres"
	platformredis "openconsent/internal/platform/redis"
	"openconsent/internal/projection"
	projectionmetrics "openconsent/internal/projection/metrics"
	"openconsent/internal/sweeper"
	sweepermetrics "openconsent/internal/sweeper/metrics"
	httptransport "openconsent/internal/transport/http"
	"openconsent/pkg/platform/audit"
	auditpostgres "openconsent/pkg/platform/audit/store/postgres"
	auditworker "openconsent/pkg/platform/audit/worker"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := platformpostgres.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := eventstore.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	if err := projection.EnsureViewSchema(ctx, pool); err != nil {
		return err
	}
	if err := sweeper.EnsureLeaseSchema(ctx, pool); err != nil {
		return err
	}

	// The audit trail keeps its own database/sql connection so its writes
	// never contend with the pgx pool.
	auditDB, err := sql.Open("postgres", cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	defer auditDB.Close()
	auditStore := auditpostgres.New(auditDB)
	if err := auditStore.EnsureSchema(ctx); err != nil {
		return err
	}
	auditPub := audit.NewPublisher(256, log)

	var cipher eventstore.Cipher
	if cfg.Crypto.EventKeyHex == "" {
		log.Warn("event payload encryption disabled, set OPENCONSENT_EVENT_KEY in production")
		cipher = crypto.Noop{}
	} else {
		cipher, err = crypto.NewBox(cfg.Crypto.EventKeyHex)
		if err != nil {
			return err
		}
	}

	store := eventstore.NewPostgres(pool, cipher, log)
	repo := eventstore.NewConsentRepository(store, log)

	var consentCache cache.Cache = cache.Noop{}
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		consentCache = cache.NewRedis(redisClient, cfg.Consent.CacheTTLMin, log)
	} else {
		log.Warn("redis not configured, consent reads always replay the event store")
	}

	var directory participant.Directory
	if cfg.Participant.DirectoryURL != "" {
		directory, err = httpclient.New(cfg.Participant, log)
		if err != nil {
			return err
		}
	} else {
		log.Warn("participant directory not configured, using in-memory directory")
		directory = participant.NewMemoryDirectory()
	}

	var bus publisher.Publisher = publisher.Noop{}
	kafkaEnabled := len(cfg.Kafka.Brokers) > 0
	if kafkaEnabled {
		if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers,
			cfg.Kafka.EventsTopic, cfg.Kafka.RevocationsTopic); err != nil {
			return err
		}
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers, log)
		if err != nil {
			return err
		}
		defer producer.Close()
		bus = publisher.NewKafka(producer, cfg.Kafka.EventsTopic, cfg.Kafka.RevocationsTopic, log)
	} else {
		log.Warn("kafka not configured, event publication disabled")
	}

	svc := service.New(service.Deps{
		Repository: repo,
		Store:      store,
		Directory:  directory,
		Cache:      consentCache,
		Bus:        bus,
		Audit:      auditPub,
		Metrics:    consentmetrics.New(prometheus.DefaultRegisterer),
		Logger:     log,
		UsageCap:   cfg.Consent.UsageCap,
	})

	viewStore := projection.NewPostgres(pool)
	projector := projection.New(viewStore, store, auditPub,
		projectionmetrics.New(prometheus.DefaultRegisterer), log)

	sweep := sweeper.New(viewStore, svc, sweeper.NewPostgresLease(pool), sweeper.Config{
		Interval:   cfg.Sweeper.Interval,
		LeaseTTL:   cfg.Sweeper.LeaseDuration,
		BatchSize:  cfg.Sweeper.BatchSize,
		InstanceID: cfg.Sweeper.InstanceID,
	}, sweepermetrics.New(prometheus.DefaultRegisterer), log)

	handler := httptransport.NewHandler(svc, viewStore, projector, log)
	router := httptransport.NewRouter(handler, healthChecks(pool, redisClient))
	srv := httpserver.New(cfg.Server.Addr, router)

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return auditworker.NewWorker(auditStore, auditPub.Inbox(), log).Run(ctx)
	})
	group.Go(func() error {
		return projector.Run(ctx)
	})
	group.Go(func() error {
		return sweep.Run(ctx)
	})

	if kafkaEnabled {
		eventHandler := projection.NewEventHandler(projector, log)

		// Revocations get their own group so they are never queued behind
		// the ordinary event stream.
		eventsConsumer, err := consumer.New(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup,
			[]string{cfg.Kafka.EventsTopic}, eventHandler, log)
		if err != nil {
			return err
		}
		revocationsConsumer, err := consumer.New(cfg.Kafka.Brokers,
			cfg.Kafka.ConsumerGroup+"-revocations",
			[]string{cfg.Kafka.RevocationsTopic}, eventHandler, log)
		if err != nil {
			return err
		}
		group.Go(func() error {
			defer eventsConsumer.Close()
			return eventsConsumer.Run(ctx)
		})
		group.Go(func() error {
			defer revocationsConsumer.Close()
			return revocationsConsumer.Run(ctx)
		})
	}

	group.Go(func() error {
		log.Info("starting consent server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func healthChecks(pool *pgxpool.Pool, redisClient *platformredis.Client) map[string]httptransport.Health {
	checks := map[string]httptransport.Health{
		"postgres": func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx)
		},
	}
	if redisClient != nil {
		checks["redis"] = func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return redisClient.Health(ctx)
		}
	}
	return checks
}
