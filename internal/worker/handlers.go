package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/mq"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

// handleJobReady обрабатывает сообщение job.ready.
func (w *Worker) handleJobReady(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.JobReadyPayload](&delivery.Message)
	if err != nil {
		return fmt.Errorf("%w: parse job.ready payload: %v", mq.ErrReject, err)
	}

	w.logger.Debug("received job.ready event", "job_id", payload.JobID)

	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-w.sem }()

	if err := w.processJob(ctx, payload.JobID); err != nil {
		// Job уже взят другим worker'ом или удалён — сообщение просто подтверждаем.
		if errors.Is(err, ErrJobNotReady) {
			w.logger.Debug("job not processed", "job_id", payload.JobID, "reason", err)
			return nil
		}
		return err
	}

	return nil
}

// processJob берёт job в работу и выполняет его до финального состояния.
//
//  1. MarkActive — только один worker получает job
//  2. Событие active, вызов Process
//  3. Ошибка ниже потолка попыток → RecordFailedAttempt, событие failed,
//     ожидание backoff, снова active
//  4. Ошибка на последней попытке или неповторяемая → MarkFailed, событие failed
//  5. Успех → MarkCompleted с возвращённым значением, событие completed
//  6. Для дочернего job — пересчёт детей parent и уведомление о готовности
func (w *Worker) processJob(ctx context.Context, jobID uuid.UUID) error {
	job, err := w.store.MarkActive(ctx, jobID)
	if err != nil {
		if errors.Is(err, queue.ErrJobNotWaiting) || errors.Is(err, queue.ErrJobNotFound) {
			return fmt.Errorf("%w: %v", ErrJobNotReady, err)
		}
		return fmt.Errorf("mark job active: %w", err)
	}

	kind := jobKind(job)
	logger := telemetry.WithJobID(w.logger, job.ID)
	logger.Info("job started",
		"kind", kind,
		"name", job.Name,
		"task_id", job.TaskID,
		"attempts_made", job.AttemptsMade,
	)

	for {
		w.fire(ctx, queue.EventActive, job, nil)

		start := time.Now()
		value, procErr := w.processor.Process(ctx, job)
		telemetry.JobDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

		if procErr == nil {
			raw, err := marshalReturnValue(value)
			if err != nil {
				procErr = queue.Unrecoverable(err)
			} else {
				job, err = w.store.MarkCompleted(ctx, job.ID, raw)
				if err != nil {
					return fmt.Errorf("mark job completed: %w", err)
				}

				telemetry.JobsProcessed.WithLabelValues(kind, "completed").Inc()
				logger.Info("job completed", "kind", kind, "attempts_made", job.AttemptsMade)
				w.fire(ctx, queue.EventCompleted, job, nil)
				break
			}
		}

		if ctx.Err() != nil {
			// Worker останавливается: job остаётся active, его вернёт sweeper.
			return ctx.Err()
		}

		if job.AttemptsMade+1 >= job.MaxAttempts() || queue.IsUnrecoverable(procErr) {
			job, err = w.store.MarkFailed(ctx, job.ID, procErr.Error())
			if err != nil {
				return fmt.Errorf("mark job failed: %w", err)
			}

			telemetry.JobsProcessed.WithLabelValues(kind, "failed").Inc()
			logger.Warn("job failed",
				"kind", kind,
				"attempts_made", job.AttemptsMade,
				"unrecoverable", queue.IsUnrecoverable(procErr),
				"error", procErr,
			)
			w.fire(ctx, queue.EventFailed, job, procErr)
			break
		}

		job, err = w.store.RecordFailedAttempt(ctx, job.ID, procErr.Error())
		if err != nil {
			return fmt.Errorf("record failed attempt: %w", err)
		}
		w.fire(ctx, queue.EventFailed, job, procErr)

		delay := calculateBackoff(job.AttemptsMade, job.Retry)
		logger.Debug("retrying job",
			"attempts_made", job.AttemptsMade,
			"max_attempts", job.MaxAttempts(),
			"delay", delay,
			"error", procErr,
		)

		if err := w.sleep(ctx, delay); err != nil {
			return err
		}
	}

	if job.ParentID != nil {
		w.resolveParent(ctx, *job.ParentID)
	}

	return nil
}

// resolveParent пересчитывает детей и будит parent, если он готов.
// Ошибки только логируются: parent подхватит polling или sweeper.
func (w *Worker) resolveParent(ctx context.Context, parentID uuid.UUID) {
	ready, err := w.store.ResolveChild(ctx, parentID)
	if err != nil {
		w.logger.Error("failed to resolve parent", "parent_job_id", parentID, "error", err)
		return
	}
	if !ready {
		return
	}

	w.logger.Debug("parent job ready", "parent_job_id", parentID)

	if w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyReady(ctx, parentID); err != nil {
		w.logger.Warn("failed to notify parent ready",
			"parent_job_id", parentID,
			"error", err,
		)
	}
}

// fire вызывает обработчик события, если он есть.
func (w *Worker) fire(ctx context.Context, event queue.Event, job *domain.Job, err error) {
	if h, ok := w.handlers[event]; ok && h != nil {
		h(ctx, job, err)
	}
}

func marshalReturnValue(value any) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal return value: %w", err)
	}
	return raw, nil
}

func jobKind(job *domain.Job) string {
	if job.IsParent() {
		return "parent"
	}
	return "step"
}

// calculateBackoff вычисляет задержку перед следующей попыткой.
// attempt — номер неудачной попытки, начиная с 1.
func calculateBackoff(attempt int, policy domain.RetryPolicy) time.Duration {
	initialDelay := time.Duration(policy.InitialDelayMs) * time.Millisecond
	if initialDelay <= 0 {
		initialDelay = domain.DefaultInitialDelayMs * time.Millisecond
	}

	maxDelay := time.Duration(policy.MaxDelayMs) * time.Millisecond
	if maxDelay <= 0 {
		maxDelay = domain.DefaultMaxDelayMs * time.Millisecond
	}

	var delay time.Duration
	switch policy.Backoff {
	case "exponential":
		// delay = initialDelay * 2^(attempt-1)
		delay = initialDelay
		for i := 1; i < attempt; i++ {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
				break
			}
		}
	default:
		// "fixed" или неизвестный — используем initialDelay
		delay = initialDelay
	}

	return min(delay, maxDelay)
}
