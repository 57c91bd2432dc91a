// Mediaflow API — HTTP API для создания задач и просмотра их статуса.
//
// API:
//   - Создаёт task record и ставит flow в очередь
//   - Отдаёт статус задачи и её jobs
//   - Отдаёт список доступных flows
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/mediaflow/internal/api"
	"github.com/shaiso/mediaflow/internal/config"
	"github.com/shaiso/mediaflow/internal/mq"
	"github.com/shaiso/mediaflow/internal/orchestrator"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/repo"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger("mediaflow-api")
	logger.Info("starting mediaflow-api")

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Подключаемся к базе данных
	pool, err := repo.NewPool(ctx, repo.PoolConfig{
		DSN:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	jobRepo := repo.NewJobRepo(pool)
	taskRepo := repo.NewTaskRepo(pool)

	// RabbitMQ: без брокера jobs подберёт polling worker'ов
	var notifier queue.Notifier
	mqConn, err := mq.Dial(mq.Config{URL: cfg.RabbitMQ.URL, Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, jobs will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}
		notifier = mq.NewPublisher(mqConn, logger)
	}

	producer := orchestrator.NewProducer(orchestrator.ProducerConfig{
		Store:    jobRepo,
		Notifier: notifier,
		Flows:    flows,
		Logger:   logger,
	})

	handler := api.NewHandler(api.Config{
		Tasks:    taskRepo,
		Jobs:     jobRepo,
		Producer: producer,
		Logger:   logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	handler.RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", cfg.API.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
