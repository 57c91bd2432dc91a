package sweeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
)

// ErrAlreadyRunning — lock-файл занят другим экземпляром sweeper'а.
var ErrAlreadyRunning = errors.New("another sweeper instance is already running")

// cronParser — парсер расписаний. Поддерживает дескрипторы (@every 1m).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule проверяет cron-выражение или дескриптор.
func ValidateSchedule(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid sweeper schedule %q: %w", expr, err)
	}
	return nil
}

// NextRun возвращает время следующего прохода после from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

// RunOptions — параметры Run.
type RunOptions struct {
	// Schedule — cron-выражение (default: DefaultSchedule).
	Schedule string

	// LockPath — файл блокировки. Пусто — без блокировки.
	LockPath string
}

// Run выполняет Tick по расписанию до отмены ctx.
//
// Если задан LockPath, одновременно работает только один экземпляр:
// второй получает ErrAlreadyRunning.
func (s *Sweeper) Run(ctx context.Context, opts RunOptions) error {
	expr := opts.Schedule
	if expr == "" {
		expr = DefaultSchedule
	}
	next, err := NextRun(expr, time.Now())
	if err != nil {
		return err
	}

	// 1. Single-instance lock
	if opts.LockPath != "" {
		lock := flock.New(opts.LockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, opts.LockPath)
		}
		defer lock.Unlock()
	}

	// 2. Cron
	c := cron.New(cron.WithParser(cronParser))
	if _, err := c.AddFunc(expr, func() {
		if _, err := s.Tick(ctx); err != nil {
			s.logger.Error("sweeper tick failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule sweeper: %w", err)
	}

	s.logger.Info("sweeper started",
		"schedule", expr,
		"next_run", next,
		"stale_after", s.staleAfter,
	)
	c.Start()

	<-ctx.Done()

	// Ждём завершения текущего прохода
	<-c.Stop().Done()
	s.logger.Info("sweeper stopped")
	return nil
}
