// tta-agent — HTTP сервис, который принимает run и выполняет pipeline шагов.
//
// Процесс:
//   - Поднимает HTTP API (/run_agent, /run/{id}, /runs, /status, /metrics)
//   - Выполняет runs в оркестраторе внутри процесса
//   - Публикует run.finished в RabbitMQ, если задан RABBITMQ_URL
//   - Удаляет старые завершённые runs по расписанию
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/tta-agent/internal/api"
	"github.com/shaiso/tta-agent/internal/clock"
	"github.com/shaiso/tta-agent/internal/config"
	"github.com/shaiso/tta-agent/internal/mq"
	"github.com/shaiso/tta-agent/internal/orchestrator"
	"github.com/shaiso/tta-agent/internal/repo"
	"github.com/shaiso/tta-agent/internal/retention"
	"github.com/shaiso/tta-agent/internal/steps"
	"github.com/shaiso/tta-agent/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	// Инициализируем structured logging
	logger := telemetry.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting tta-agent",
		"version", cfg.Version,
		"commit", cfg.CommitSHA,
		"store", cfg.Store,
		"pipeline", cfg.Pipeline,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("tta-agent failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	startTime := time.Now().UTC()

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// Хранилище
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// RabbitMQ
	var notifier orchestrator.Notifier
	if cfg.RabbitMQURL == "" {
		logger.Info("RABBITMQ_URL not set, run.finished events disabled")
	} else {
		conn, err := mq.NewConnection(cfg.RabbitMQURL, cfg.ServiceName, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, run.finished events disabled", "error", err)
		} else {
			defer conn.Close()
			logger.Info("RabbitMQ connected")

			// Создаём топологию
			if err := mq.SetupTopology(ctx, conn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			} else {
				logger.Debug("topology ready", "topology", mq.TopologyInfo())
			}
			notifier = mq.NewPublisher(conn, logger)
		}
	}

	// Шаги и оркестратор
	registry, err := steps.DefaultRegistry(steps.Options{RemoteAgentURL: cfg.RemoteAgentURL})
	if err != nil {
		return fmt.Errorf("build step registry: %w", err)
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Store:       store,
		Registry:    registry,
		Pipeline:    cfg.Pipeline,
		Clock:       clock.Real{},
		IDGenerator: clock.UUIDGenerator{},
		Notifier:    notifier,
		Metrics:     metrics,
		StepTimeout: cfg.StepTimeout,
		Async:       cfg.Async,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	janitor, err := retention.New(retention.Config{
		Store:    store,
		TTL:      cfg.RetentionTTL,
		Schedule: cfg.RetentionSchedule,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("create retention janitor: %w", err)
	}

	// HTTP API
	handler := api.NewHandler(api.Config{
		Runner: orch,
		Info: api.ServiceInfo{
			Service:   cfg.ServiceName,
			Version:   cfg.Version,
			CommitSHA: cfg.CommitSHA,
			StartTime: startTime,
			Pipeline:  orch.Pipeline(),
		},
		Metrics:        metrics,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Logger:         logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return janitor.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		// Graceful shutdown с таймаутом
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown error", "error", err)
		}
		if err := orch.Shutdown(shutdownCtx); err != nil {
			logger.Warn("orchestrator shutdown incomplete", "error", err, "active_runs", orch.ActiveRuns())
		}
		return nil
	})

	return g.Wait()
}

// openStore выбирает хранилище по STORE.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Store, func(), error) {
	if cfg.Store != config.StorePostgres {
		logger.Info("using in-memory run store")
		return repo.NewMemoryStore(), func() {}, nil
	}

	pool, err := repo.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info("connected to database")

	store := repo.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return store, pool.Close, nil
}
