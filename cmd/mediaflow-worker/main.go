// Mediaflow Worker — выполняет flow jobs.
//
// Worker:
//   - Получает готовые jobs из RabbitMQ (или polling, если брокер недоступен)
//   - Выполняет step jobs через HTTP-сервисы шагов
//   - Агрегирует результаты в parent job по политике частичного успеха
//   - Ведёт статус задачи в таблице tasks
//   - Реализует retry с exponential backoff
//
// Workers масштабируются горизонтально.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/mediaflow/internal/config"
	"github.com/shaiso/mediaflow/internal/mq"
	"github.com/shaiso/mediaflow/internal/orchestrator"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/repo"
	"github.com/shaiso/mediaflow/internal/status"
	"github.com/shaiso/mediaflow/internal/steps"
	"github.com/shaiso/mediaflow/internal/telemetry"
	"github.com/shaiso/mediaflow/internal/worker"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("mediaflow-worker")
	logger.Info("starting mediaflow-worker")

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	flows, err := cfg.FlowDefinitions()
	if err != nil {
		logger.Error("invalid flow definitions", "error", err)
		os.Exit(1)
	}

	processors, err := steps.NewHTTPRegistry(cfg.StepRoutes())
	if err != nil {
		logger.Error("invalid step routes", "error", err)
		os.Exit(1)
	}
	logger.Info("step processors registered",
		"count", processors.Count(),
		"steps", processors.Types(),
	)

	// Шаги без маршрута упадут при первом запуске.
	for _, f := range orchestrator.SortedFlows(flows) {
		for _, st := range f.Steps {
			if !processors.Has(st) {
				logger.Warn("flow step has no processor", "flow", f.Name, "step_type", st)
			}
		}
	}

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx, repo.PoolConfig{
		DSN:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	jobRepo := repo.NewJobRepo(pool)
	taskRepo := repo.NewTaskRepo(pool)

	// RabbitMQ
	var notifier queue.Notifier
	mqConn, err := mq.Dial(mq.Config{URL: cfg.RabbitMQ.URL, Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		} else {
			logger.Info("topology ready", "topology", mq.TopologyInfo())
		}
		notifier = mq.NewPublisher(mqConn, logger)
	}

	reporter := status.New(status.Config{
		Store:   taskRepo,
		Timeout: time.Duration(cfg.Worker.ReportTimeoutSec) * time.Second,
		Logger:  logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		Store:              jobRepo,
		Processors:         processors,
		Reporter:           reporter,
		Flows:              flows,
		Logger:             logger,
		MaxConflictRetries: cfg.Worker.MaxConflictRetries,
	})

	w := worker.New(worker.Config{
		Store:        jobRepo,
		Processor:    orch,
		Notifier:     notifier,
		Conn:         mqConn,
		PollInterval: time.Duration(cfg.Worker.PollIntervalSec) * time.Second,
		BatchSize:    cfg.Worker.BatchSize,
		Concurrency:  cfg.Worker.Concurrency,
		Logger:       logger,
	})

	if err := w.Start(ctx); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Worker.Port)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	w.Stop()
	logger.Info("mediaflow-worker stopped")
}
