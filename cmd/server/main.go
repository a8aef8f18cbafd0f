// Command server runs the civic signal prioritization API.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	identityhandler "signalos/internal/identity/handler"
	identityservice "signalos/internal/identity/service"
	identitystore "signalos/internal/identity/store"
	"signalos/internal/identity/token"
	"signalos/internal/platform/config"
	"signalos/internal/platform/httpserver"
	"signalos/internal/platform/logger"
	platformmetrics "signalos/internal/platform/metrics"
	"signalos/internal/platform/middleware"
	"signalos/internal/platform/postgres"
	platformredis "signalos/internal/platform/redis"
	"signalos/internal/platform/tracing"
	"signalos/internal/ratelimit"
	signalhandler "signalos/internal/signal/handler"
	signalmetrics "signalos/internal/signal/metrics"
	signalservice "signalos/internal/signal/service"
	signalstore "signalos/internal/signal/store"
	"signalos/pkg/platform/audit"
	auditpublisher "signalos/pkg/platform/audit/publisher"
	auditmemory "signalos/pkg/platform/audit/store/memory"
	auditpostgres "signalos/pkg/platform/audit/store/postgres"
	auditworker "signalos/pkg/platform/audit/worker"
)

func main() {
	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.New(slog.LevelInfo)

	shutdownTracing, err := tracing.Setup(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	// Persistence: PostgreSQL when a DSN is configured, in-memory otherwise.
	var (
		signals signalservice.SignalStore
		votes   signalservice.VoteStore
		history signalservice.StatusHistoryStore
		users   identityservice.UserStore
		txr     signalservice.TxRunner
		audits  audit.Store
	)

	var relay *auditworker.Relay
	if cfg.Postgres.DSN != "" {
		db, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := signalstore.Migrate(ctx, db); err != nil {
			return err
		}

		signals = signalstore.NewPostgresSignalStore(db)
		votes = signalstore.NewPostgresVoteStore(db)
		history = signalstore.NewPostgresStatusHistoryStore(db)
		users = identitystore.NewPostgresUserStore(db)
		txr = signalstore.NewSQLTxRunner(db)
		audits = auditpostgres.New(db)

		if len(cfg.Kafka.Brokers) > 0 {
			kafkaClient, err := kgo.NewClient(
				kgo.SeedBrokers(cfg.Kafka.Brokers...),
				kgo.DefaultProduceTopic(cfg.Kafka.AuditTopic),
			)
			if err != nil {
				return err
			}
			defer kafkaClient.Close()
			relay = auditworker.NewRelay(db, kafkaClient, cfg.Kafka.AuditTopic,
				auditworker.WithLogger(log))
		}
		log.InfoContext(ctx, "using postgres stores", "audit_relay", relay != nil)
	} else {
		signals = signalstore.NewMemorySignalStore()
		votes = signalstore.NewMemoryVoteStore()
		history = signalstore.NewMemoryStatusHistoryStore()
		users = identitystore.NewMemoryUserStore()
		txr = signalstore.NewMemoryTxRunner()
		audits = auditmemory.NewInMemoryStore()
		log.InfoContext(ctx, "using in-memory stores")
	}

	// Rate limiting: Redis when configured, per-process fallback otherwise.
	var limiter ratelimit.Limiter
	if cfg.Redis.URL != "" {
		redisClient, err := platformredis.New(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient.Client, cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window)
	} else {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimit.MaxAttempts, cfg.RateLimit.Window)
	}

	tokens := token.NewService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.TTL)
	identity := identityservice.New(users, tokens, identityservice.WithLogger(log))

	core, err := signalservice.New(signals, votes, history, identity, txr,
		signalservice.WithLogger(log),
		signalservice.WithMetrics(signalmetrics.New()),
		signalservice.WithAuditPublisher(auditpublisher.New(audits, auditpublisher.WithLogger(log))),
	)
	if err != nil {
		return err
	}

	httpMetrics := platformmetrics.New()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(log))
	r.Use(middleware.Logger(log))
	r.Use(httpMetrics.Latency)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		identityhandler.New(identity, log).Register(r)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(token.NewValidator(tokens), log))
			signalhandler.New(core, limiter, log).Register(r)
		})
	})

	srv := httpserver.New(cfg.Server.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.InfoContext(gctx, "http server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if relay != nil {
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}
