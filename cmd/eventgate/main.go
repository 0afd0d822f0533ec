package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/eventgate/internal/config"
	"github.com/baechuer/eventgate/internal/consumer"
	"github.com/baechuer/eventgate/internal/pkg/logger"
	"github.com/baechuer/eventgate/internal/queue"
	"github.com/baechuer/eventgate/internal/service"
	"github.com/baechuer/eventgate/internal/sink"
	"github.com/baechuer/eventgate/internal/sink/rabbitmq"
	"github.com/baechuer/eventgate/internal/store"
	"github.com/baechuer/eventgate/internal/store/postgres"
	redisstore "github.com/baechuer/eventgate/internal/store/redis"
	"github.com/baechuer/eventgate/internal/store/sqlite"
	"github.com/baechuer/eventgate/internal/transport/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}
	logger.Init()
	log := logger.Logger.With().
		Str("service", "eventgate").
		Str("env", cfg.AppEnv).
		Logger()

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Dedup ledger ----
	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store open failed")
	}
	defer st.Close()

	{
		initCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		defer cancel()

		if err := st.Init(initCtx); err != nil {
			log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("store init failed")
		}
		log.Info().Str("driver", cfg.StoreDriver).Msg("store ready")
	}

	// ---- Queue ----
	q := queue.New(cfg.QueueCapacity)

	// ---- Sink ----
	snk, err := openSink(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("kind", cfg.SinkKind).Msg("sink open failed")
	}
	defer snk.Close()

	// ---- Consumer ----
	con := consumer.New(q, st, snk)
	con.Start(rootCtx)

	// ---- Application service ----
	svc := service.New(q, st, con)
	if cfg.CleanupEnabled {
		svc.StartJanitor(rootCtx, cfg.CleanupEvery, cfg.CleanupMaxAge)
		log.Info().
			Dur("interval", cfg.CleanupEvery).
			Dur("max_age", cfg.CleanupMaxAge).
			Msg("dedup cleanup scheduled")
	}

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:   rest.NewHandler(svc),
		RLEnabled: cfg.RLEnabled,
		RLLimit:   cfg.RLLimit,
		RLWindow:  cfg.RLWindow,
	})

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	// Stop taking requests first so in-flight publishes finish. Anything
	// still queued is abandoned uncommitted; at-least-once publishers
	// resend it on the next run.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	con.Stop()
	log.Info().Msg("shutdown complete")
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return postgres.Open(cfg.DBDSN)
	case config.DriverRedis:
		return redisstore.Open(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB), nil
	default:
		return sqlite.New(cfg.SQLitePath)
	}
}

func openSink(cfg *config.Config) (sink.Sink, error) {
	if cfg.SinkKind == config.SinkAMQP {
		return rabbitmq.NewForwarder(cfg.RabbitURL, cfg.RabbitExchange)
	}
	return sink.NewLogSink(), nil
}
