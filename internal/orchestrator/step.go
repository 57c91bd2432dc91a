package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/steps"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

// processStep выполняет один шаг.
//
// Если в кэше parent job для шага уже лежит completed результат,
// процессор не вызывается: результат возвращается без изменений.
// Так повтор step job после сбоя воркера не выполняет работу заново.
func (o *Orchestrator) processStep(ctx context.Context, job *domain.Job, data *domain.StepJobData) (any, error) {
	logger := telemetry.WithStepType(telemetry.WithJobID(o.logger, job.ID), data.StepType)

	// 1. Кэш результатов parent job
	_, parentData, err := o.loadParent(ctx, job)
	if err != nil {
		return nil, err
	}

	if cached, ok := parentData.StepResults[data.StepType]; ok && cached.IsCompleted() {
		telemetry.StepCacheHits.WithLabelValues(string(data.StepType)).Inc()
		logger.Info("step already completed, returning cached result")
		return cached, nil
	}

	// 2. Процессор из таблицы маршрутизации
	processor, err := o.processors.Get(data.StepType)
	if err != nil {
		return nil, queue.Unrecoverable(err)
	}

	flow, _ := o.flow(parentData.Flow)

	// 3. Выполнение
	startedAt := o.now()
	attempt := job.AttemptsMade + 1

	jc := steps.JobContext{
		TaskID:      data.TaskID,
		WorkspaceID: data.WorkspaceID,
		JobID:       job.ID,
		ParentJobID: data.ParentJobID,
		StepType:    data.StepType,
		Attempt:     attempt,
		Config:      data.Config,
		Entities:    steps.NewEntityCache(),
		Logger:      logger,
	}

	logger.Debug("running step", "attempt", attempt, "max_attempts", job.MaxAttempts())

	output, procErr := processor.Process(ctx, data.Input, jc)
	completedAt := o.now()

	if procErr != nil {
		result := domain.StepResult{
			StepType:    data.StepType,
			Status:      domain.StepStatusFailed,
			Error:       procErr.Error(),
			Attempts:    attempt,
			StartedAt:   timePtr(startedAt),
			CompletedAt: timePtr(completedAt),
		}

		final := attempt >= job.MaxAttempts() || queue.IsUnrecoverable(procErr)
		if flow.IsIndependent(data.StepType) && final {
			// Независимый шаг не роняет job: итог решает политика.
			logger.Warn("independent step failed",
				"attempt", attempt,
				"error", procErr,
			)
			return result, nil
		}

		logger.Warn("step attempt failed",
			"attempt", attempt,
			"max_attempts", job.MaxAttempts(),
			"error", procErr,
		)
		return result, procErr
	}

	// 4. Успех
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, queue.Unrecoverable(fmt.Errorf("marshal %s output: %w", data.StepType, err))
	}

	logger.Info("step completed",
		"attempt", attempt,
		"duration", completedAt.Sub(startedAt),
		"entities", jc.Entities.Len(),
	)

	return domain.StepResult{
		StepType:    data.StepType,
		Status:      domain.StepStatusCompleted,
		Output:      raw,
		Attempts:    attempt,
		StartedAt:   timePtr(startedAt),
		CompletedAt: timePtr(completedAt),
	}, nil
}
