package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

// Handlers возвращает таблицу обработчиков событий очереди.
//
// Worker вызывает обработчик после каждого перехода job. Обработчики
// ведут кэш stepResults и отчёт о прогрессе; их ошибки только логируются.
func (o *Orchestrator) Handlers() map[queue.Event]queue.EventHandler {
	return map[queue.Event]queue.EventHandler{
		queue.EventActive:    o.onActive,
		queue.EventCompleted: o.onCompleted,
		queue.EventFailed:    o.onFailed,
	}
}

func (o *Orchestrator) onActive(ctx context.Context, job *domain.Job, _ error) {
	if job.IsParent() {
		o.onParentActive(ctx, job)
		return
	}
	o.onStepActive(ctx, job)
}

func (o *Orchestrator) onCompleted(ctx context.Context, job *domain.Job, _ error) {
	if job.IsParent() {
		o.onParentCompleted(ctx, job)
		return
	}
	o.onStepCompleted(ctx, job)
}

func (o *Orchestrator) onFailed(ctx context.Context, job *domain.Job, err error) {
	if job.IsParent() {
		o.onParentFailed(ctx, job, err)
		return
	}
	o.onStepFailed(ctx, job, err)
}

// --- Step hooks ---

// onStepActive помечает шаг running. Completed запись не перезаписывается.
func (o *Orchestrator) onStepActive(ctx context.Context, job *domain.Job) {
	data, err := decodeStepData(job)
	if err != nil || data.StepType == "" {
		return
	}

	now := o.now()
	running := domain.StepResult{
		StepType:  data.StepType,
		Status:    domain.StepStatusRunning,
		Attempts:  job.AttemptsMade + 1,
		StartedAt: timePtr(now),
	}

	updated, err := o.updateParentData(ctx, data.ParentJobID, func(d *domain.ParentJobData) bool {
		changed := engine.MergeStepResult(d.StepResults, running)
		if d.StartedAt == nil {
			d.StartedAt = timePtr(now)
			changed = true
		}
		return changed
	})
	if err != nil {
		o.logHookError("active", job, err)
		return
	}

	o.reportRunning(ctx, updated, false)
}

// onStepCompleted сливает возвращённый StepResult в кэш.
func (o *Orchestrator) onStepCompleted(ctx context.Context, job *domain.Job) {
	result, ok := decodeStepResult(job.ReturnValue)
	if !ok {
		return
	}

	telemetry.StepResults.WithLabelValues(string(result.StepType), string(result.Status)).Inc()

	data, err := decodeStepData(job)
	if err != nil {
		o.logHookError("completed", job, err)
		return
	}

	updated, err := o.updateParentData(ctx, data.ParentJobID, func(d *domain.ParentJobData) bool {
		return engine.MergeStepResult(d.StepResults, result)
	})
	if err != nil {
		o.logHookError("completed", job, err)
		return
	}

	o.reportRunning(ctx, updated, true)
}

// onStepFailed обрабатывает неудачную попытку шага.
//
// Пока попытки не исчерпаны, задача остаётся RUNNING. После последней
// попытки в кэш пишется failed запись; задачу целиком это не роняет.
func (o *Orchestrator) onStepFailed(ctx context.Context, job *domain.Job, jobErr error) {
	data, err := decodeStepData(job)
	if err != nil || data.StepType == "" {
		return
	}

	if !job.RetriesExhausted() && !queue.IsUnrecoverable(jobErr) {
		o.reporter.UpdateStatus(ctx, data.TaskID, domain.TaskStatusRunning)
		return
	}

	reason := job.FailedReason
	if jobErr != nil {
		reason = jobErr.Error()
	}
	if reason == "" {
		reason = reasonChildFailed
	}

	completedAt := job.FinishedOn
	if completedAt == nil {
		completedAt = timePtr(o.now())
	}

	failed := domain.StepResult{
		StepType:    data.StepType,
		Status:      domain.StepStatusFailed,
		Error:       reason,
		Attempts:    job.AttemptsMade,
		StartedAt:   job.ProcessedOn,
		CompletedAt: completedAt,
	}

	telemetry.StepResults.WithLabelValues(string(data.StepType), string(domain.StepStatusFailed)).Inc()

	updated, err := o.updateParentData(ctx, data.ParentJobID, func(d *domain.ParentJobData) bool {
		return engine.MergeStepResult(d.StepResults, failed)
	})
	if err != nil {
		o.logHookError("failed", job, err)
		return
	}

	o.reportRunning(ctx, updated, true)
}

// reportRunning отправляет RUNNING с прогрессом и частичным результатом.
func (o *Orchestrator) reportRunning(ctx context.Context, d *domain.ParentJobData, withErrors bool) {
	running := domain.TaskStatusRunning
	tr := engine.BuildTaskResult(d.StepResults, d.StartedAt, nil)

	upd := domain.TaskUpdate{
		Status:   &running,
		Progress: intPtr(engine.Progress(d.EnabledSteps, d.StepResults)),
		Result:   &tr,
	}
	if withErrors {
		upd.ErrorLog = strPtr(engine.AggregateErrorLogs(d.StepResults))
	}

	o.reporter.UpdateTask(ctx, d.TaskID, upd)
}

// --- Parent hooks ---

func (o *Orchestrator) onParentActive(ctx context.Context, job *domain.Job) {
	data, err := decodeParentData(job)
	if err != nil {
		o.logHookError("active", job, err)
		return
	}
	o.reporter.UpdateStatus(ctx, data.TaskID, domain.TaskStatusRunning)
}

func (o *Orchestrator) onParentCompleted(_ context.Context, job *domain.Job) {
	data, err := decodeParentData(job)
	if err != nil {
		o.logHookError("completed", job, err)
		return
	}

	telemetry.FlowOutcomes.WithLabelValues(data.Flow, "success").Inc()
	o.logger.Info("parent job completed",
		"job_id", job.ID,
		"task_id", data.TaskID,
		"flow", data.Flow,
	)
}

// onParentFailed — задача получает FAILED только после последней попытки parent.
func (o *Orchestrator) onParentFailed(ctx context.Context, job *domain.Job, jobErr error) {
	data, err := decodeParentData(job)
	if err != nil {
		o.logHookError("failed", job, err)
		return
	}

	if !job.RetriesExhausted() && !queue.IsUnrecoverable(jobErr) {
		o.reporter.UpdateStatus(ctx, data.TaskID, domain.TaskStatusRunning)
		return
	}

	// Берём актуальный кэш: данные job могли устареть.
	if fresh, err := o.store.GetJob(ctx, job.ID); err == nil {
		if d, err := decodeParentData(fresh); err == nil {
			data = d
		}
	}

	reason := job.FailedReason
	if jobErr != nil {
		reason = jobErr.Error()
	}

	now := o.now()
	errorLog := engine.AppendErrorLog(engine.AggregateErrorLogs(data.StepResults), domain.ErrorLogEntry{
		Timestamp: now.UTC(),
		Step:      "parent",
		Error:     reason,
		Context: map[string]any{
			"flow":     data.Flow,
			"attempts": job.AttemptsMade,
		},
	})

	failed := domain.TaskStatusFailed
	tr := engine.BuildTaskResult(data.StepResults, data.StartedAt, timePtr(now))
	o.reporter.UpdateTask(ctx, data.TaskID, domain.TaskUpdate{
		Status:   &failed,
		Progress: intPtr(engine.Progress(data.EnabledSteps, data.StepResults)),
		Result:   &tr,
		ErrorLog: &errorLog,
	})

	telemetry.FlowOutcomes.WithLabelValues(data.Flow, "failed").Inc()
	o.logger.Warn("parent job failed",
		"job_id", job.ID,
		"task_id", data.TaskID,
		"flow", data.Flow,
		"error", reason,
	)
}

func (o *Orchestrator) logHookError(event string, job *domain.Job, err error) {
	o.logger.Error("event handler failed",
		"event", event,
		"job_id", job.ID,
		"error", err,
	)
}

// --- Parent data ---

// updateParentData применяет mutate к данным parent job через compare-and-swap.
//
// mutate возвращает false, если менять нечего: тогда запись не выполняется.
// При конфликте версии данные перечитываются и mutate вызывается заново.
func (o *Orchestrator) updateParentData(
	ctx context.Context,
	parentID uuid.UUID,
	mutate func(*domain.ParentJobData) bool,
) (*domain.ParentJobData, error) {
	for attempt := 0; attempt <= o.maxConflictRetries; attempt++ {
		parent, err := o.store.GetJob(ctx, parentID)
		if err != nil {
			return nil, fmt.Errorf("get parent job: %w", err)
		}

		data, err := decodeParentData(parent)
		if err != nil {
			return nil, err
		}

		if !mutate(data) {
			return data, nil
		}

		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal parent data: %w", err)
		}

		_, err = o.store.UpdateData(ctx, parentID, raw, parent.Version)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, queue.ErrVersionConflict) {
			return nil, fmt.Errorf("update parent data: %w", err)
		}

		telemetry.ParentDataConflicts.Inc()
		o.logger.Debug("parent data version conflict, retrying",
			"parent_job_id", parentID,
			"attempt", attempt+1,
		)
	}

	return nil, fmt.Errorf("%w: %s", ErrParentDataConflict, parentID)
}
