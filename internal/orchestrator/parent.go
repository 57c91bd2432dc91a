package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

// Тексты синтезированных ошибок сверки.
const (
	reasonNoResult      = "step completed without result"
	reasonNeverFinished = "step did not report a result"
	reasonNeverStarted  = "step was never scheduled"
	reasonChildFailed   = "step job failed"
)

// processParent собирает результаты детей и решает итог задачи.
//
// Вызывается очередью только после того, как все дети завершены.
func (o *Orchestrator) processParent(ctx context.Context, job *domain.Job) (any, error) {
	logger := telemetry.WithJobID(o.logger, job.ID)

	data, err := decodeParentData(job)
	if err != nil {
		return nil, queue.Unrecoverable(err)
	}
	logger = telemetry.WithTaskID(logger, data.TaskID)

	flow, err := o.flow(data.Flow)
	if err != nil {
		return nil, queue.Unrecoverable(err)
	}

	if err := engine.ValidateStepResults(data.StepResults); err != nil {
		return nil, queue.Unrecoverable(fmt.Errorf("%w: parent %s: %v", ErrInvalidJobData, job.ID, err))
	}

	// 1. Результаты завершённых детей
	values, err := o.store.ChildrenValues(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("get children values: %w", err)
	}

	collected := maps.Clone(data.StepResults)
	for childID, raw := range values {
		r, ok := decodeStepResult(raw)
		if !ok {
			continue
		}
		if err := engine.ValidateStepResult(r); err != nil {
			logger.Warn("ignoring invalid step result", "child_job_id", childID, "error", err)
			continue
		}
		engine.MergeStepResult(collected, r)
	}

	// 2. Сверка с историей детей этого parent
	synthesized, err := o.reconcile(ctx, job, data.EnabledSteps, collected)
	if err != nil {
		return nil, err
	}

	for step, r := range synthesized {
		logger.Warn("synthesized failed step result",
			"step_type", step,
			"error", r.Error,
		)
	}

	// 3. Сохранение в кэш parent job
	updated, err := o.updateParentData(ctx, job.ID, func(d *domain.ParentJobData) bool {
		changed := engine.MergeStepResults(d.StepResults, collected)
		for step, r := range synthesized {
			if cur, ok := d.StepResults[step]; ok && cur.Status.IsTerminal() {
				continue
			}
			d.StepResults[step] = r
			changed = true
		}
		return changed
	})
	if err != nil {
		return nil, err
	}

	results := updated.StepResults

	// 4. Политика частичного успеха
	decision := flow.policy()(updated.EnabledSteps, results)
	if !decision.Accept {
		logger.Warn("flow rejected by partial-success policy",
			"flow", flow.Name,
			"failed_steps", decision.Failed,
		)
		return nil, queue.Unrecoverable(&engine.AggregationError{
			Flow:        flow.Name,
			FailedSteps: decision.Failed,
		})
	}

	// 5. Финальный отчёт
	taskResult := engine.BuildTaskResult(results, updated.StartedAt, timePtr(o.now()))

	success := domain.TaskStatusSuccess
	o.reporter.UpdateTask(ctx, updated.TaskID, domain.TaskUpdate{
		Status:   &success,
		Progress: intPtr(100),
		Result:   &taskResult,
		ErrorLog: strPtr(engine.AggregateErrorLogs(results)),
	})

	logger.Info("flow completed",
		"flow", flow.Name,
		"completed_steps", decision.Successful,
		"failed_steps", decision.Failed,
	)

	return taskResult, nil
}

// reconcile находит шаги, которые не оставили терминального результата.
//
// Смотрит только детей этого parent в completed/failed. Для упавшего
// job без результата берутся FailedReason и время из очереди. Включённые
// шаги без job получают запись "step was never scheduled".
func (o *Orchestrator) reconcile(
	ctx context.Context,
	parent *domain.Job,
	enabled []domain.StepType,
	results map[domain.StepType]domain.StepResult,
) (map[domain.StepType]domain.StepResult, error) {
	children, err := o.store.ListChildren(ctx, parent.ID, domain.JobStateCompleted, domain.JobStateFailed)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	synthesized := make(map[domain.StepType]domain.StepResult)
	terminal := func(step domain.StepType) bool {
		if r, ok := results[step]; ok && r.Status.IsTerminal() {
			return true
		}
		_, ok := synthesized[step]
		return ok
	}

	seen := make(map[domain.StepType]bool)
	for _, child := range children {
		data, err := decodeStepData(child)
		if err != nil || data.StepType == "" {
			continue
		}
		seen[data.StepType] = true

		if terminal(data.StepType) {
			continue
		}

		reason := reasonNoResult
		if child.State == domain.JobStateFailed {
			reason = child.FailedReason
			if reason == "" {
				reason = reasonChildFailed
			}
		}

		completedAt := child.FinishedOn
		if completedAt == nil {
			completedAt = timePtr(o.now())
		}

		synthesized[data.StepType] = domain.StepResult{
			StepType:    data.StepType,
			Status:      domain.StepStatusFailed,
			Error:       reason,
			Attempts:    child.AttemptsMade,
			StartedAt:   child.ProcessedOn,
			CompletedAt: completedAt,
		}
	}

	for _, step := range enabled {
		if terminal(step) {
			continue
		}

		reason := reasonNeverStarted
		if _, ok := results[step]; ok || seen[step] {
			reason = reasonNeverFinished
		}

		synthesized[step] = domain.StepResult{
			StepType:    step,
			Status:      domain.StepStatusFailed,
			Error:       reason,
			CompletedAt: timePtr(o.now()),
		}
	}

	return synthesized, nil
}

// decodeStepResult разбирает ReturnValue step job.
// Маркеры и пустые значения пропускаются.
func decodeStepResult(raw json.RawMessage) (domain.StepResult, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return domain.StepResult{}, false
	}
	var r domain.StepResult
	if err := json.Unmarshal(raw, &r); err != nil || r.StepType == "" {
		return domain.StepResult{}, false
	}
	return r, true
}
