// Mediaflow Sweeper — периодическое обслуживание очереди jobs.
//
// Sweeper:
//   - Переводит parent jobs, все дети которых завершены, в waiting
//   - Возвращает в waiting jobs, зависшие в active после падения worker'а
//   - Публикует уведомления о восстановленных jobs
//
// Одновременно работает один экземпляр (file lock).
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

	"github.com/shaiso/mediaflow/internal/config"
	"github.com/shaiso/mediaflow/internal/mq"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/repo"
	"github.com/shaiso/mediaflow/internal/sweeper"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

func main() {
	logger := telemetry.SetupLogger("mediaflow-sweeper")
	logger.Info("starting mediaflow-sweeper")

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := repo.NewPool(ctx, repo.PoolConfig{
		DSN:      cfg.Database.URL,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repo.Migrate(ctx, pool); err != nil {
		logger.Error("failed to migrate schema", "error", err)
		os.Exit(1)
	}

	var notifier queue.Notifier
	mqConn, err := mq.Dial(mq.Config{URL: cfg.RabbitMQ.URL, Logger: logger})
	if err != nil {
		logger.Warn("RabbitMQ not available, repaired jobs will be picked up by polling", "error", err)
	} else {
		defer mqConn.Close()
		notifier = mq.NewPublisher(mqConn, logger)
	}

	sw := sweeper.New(sweeper.Config{
		Store:      repo.NewJobRepo(pool),
		Notifier:   notifier,
		StaleAfter: time.Duration(cfg.Sweeper.StaleAfterSec) * time.Second,
		Logger:     logger,
	})

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Sweeper.Port)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	err = sw.Run(ctx, sweeper.RunOptions{
		Schedule: cfg.Sweeper.Schedule,
		LockPath: cfg.Sweeper.LockPath,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sweeper stopped with error", "error", err)
		os.Exit(1)
	}

	logger.Info("mediaflow-sweeper stopped")
}
