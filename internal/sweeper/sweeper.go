package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

// Значения по умолчанию.
const (
	DefaultSchedule   = "@every 1m"
	DefaultStaleAfter = 10 * time.Minute
)

// Sweeper — периодическое обслуживание очереди.
type Sweeper struct {
	store      queue.Store
	notifier   queue.Notifier
	staleAfter time.Duration
	logger     *slog.Logger
}

// Config — конфигурация Sweeper.
type Config struct {
	Store queue.Store

	// Notifier, если задан, получает ID каждого восстановленного job.
	Notifier queue.Notifier

	// StaleAfter — через сколько active job считается брошенным (default: 10m).
	StaleAfter time.Duration

	Logger *slog.Logger
}

// New создаёт новый Sweeper.
func New(cfg Config) *Sweeper {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Report — итог одного прохода.
type Report struct {
	RepairedParents []uuid.UUID
	RequeuedJobs    []uuid.UUID
}

// Tick выполняет один проход обслуживания.
//
// 1. Parents, чьи дети завершены, но переход в waiting был потерян
// 2. Active jobs, брошенные остановленным worker'ом
// 3. Уведомление worker'ов о восстановленных jobs
//
// Ошибка одного шага не отменяет остальные.
func (s *Sweeper) Tick(ctx context.Context) (Report, error) {
	var report Report
	var errs []error

	// 1. Зависшие parents
	repaired, err := s.store.RepairStalledParents(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("repair stalled parents: %w", err))
	}
	report.RepairedParents = repaired
	telemetry.SweeperRepairs.WithLabelValues("parent_resolved").Add(float64(len(repaired)))

	// 2. Брошенные active jobs
	requeued, err := s.store.RequeueStale(ctx, s.staleAfter)
	if err != nil {
		errs = append(errs, fmt.Errorf("requeue stale jobs: %w", err))
	}
	report.RequeuedJobs = requeued
	telemetry.SweeperRepairs.WithLabelValues("stale_requeued").Add(float64(len(requeued)))

	// 3. Уведомления
	s.notify(ctx, repaired)
	s.notify(ctx, requeued)

	if len(repaired) > 0 || len(requeued) > 0 {
		s.logger.Info("sweeper repaired jobs",
			"parents_resolved", len(repaired),
			"stale_requeued", len(requeued),
		)
	}

	return report, errors.Join(errs...)
}

func (s *Sweeper) notify(ctx context.Context, ids []uuid.UUID) {
	if s.notifier == nil {
		return
	}
	for _, id := range ids {
		if err := s.notifier.NotifyReady(ctx, id); err != nil {
			// Не фатально: job подберёт polling worker'а
			s.logger.Warn("failed to notify ready job",
				"job_id", id,
				"error", err,
			)
		}
	}
}
