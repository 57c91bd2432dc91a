package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/queue"
	"github.com/shaiso/mediaflow/internal/status"
	"github.com/shaiso/mediaflow/internal/steps"
)

const defaultMaxConflictRetries = 10

// Orchestrator — обработчик jobs flow.
//
// Собирается из конфигурации: хранилище jobs, таблица процессоров,
// reporter и набор flow. Конкретные flow отличаются только данными.
type Orchestrator struct {
	store      queue.Store
	processors *steps.Registry
	reporter   status.Reporter
	flows      map[string]FlowDefinition
	logger     *slog.Logger
	now        func() time.Time

	maxConflictRetries int
}

// Config — конфигурация Orchestrator.
type Config struct {
	Store      queue.Store
	Processors *steps.Registry
	Reporter   status.Reporter

	// Flows — определения flow по имени (default: DefaultFlows()).
	Flows map[string]FlowDefinition

	Logger *slog.Logger

	// Clock — источник времени (default: time.Now).
	Clock func() time.Time

	// MaxConflictRetries — сколько раз повторять CAS при конфликте версий (default: 10).
	MaxConflictRetries int
}

// New создаёт Orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	flows := cfg.Flows
	if flows == nil {
		flows = DefaultFlows()
	}

	processors := cfg.Processors
	if processors == nil {
		processors = steps.NewRegistry()
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	retries := cfg.MaxConflictRetries
	if retries <= 0 {
		retries = defaultMaxConflictRetries
	}

	return &Orchestrator{
		store:              cfg.Store,
		processors:         processors,
		reporter:           cfg.Reporter,
		flows:              flows,
		logger:             logger,
		now:                clock,
		maxConflictRetries: retries,
	}
}

// Flows возвращает определения flow.
func (o *Orchestrator) Flows() map[string]FlowDefinition {
	return o.flows
}

// Process обрабатывает job.
//
// Маршрутизация:
//   - job без родителя — parent, обработка результатов детей;
//   - дочерний job с пустым stepType — служебный маркер, пропускается;
//   - остальные — выполнение шага.
//
// Возвращаемое значение сохраняется очередью как ReturnValue job.
func (o *Orchestrator) Process(ctx context.Context, job *domain.Job) (any, error) {
	if job.IsParent() {
		return o.processParent(ctx, job)
	}

	data, err := decodeStepData(job)
	if err != nil {
		return nil, queue.Unrecoverable(err)
	}

	if data.StepType == "" {
		o.logger.Debug("skipping marker job",
			"job_id", job.ID,
			"parent_job_id", data.ParentJobID,
		)
		return nil, nil
	}

	return o.processStep(ctx, job, data)
}

// flow возвращает определение flow по имени.
func (o *Orchestrator) flow(name string) (FlowDefinition, error) {
	f, ok := o.flows[name]
	if !ok {
		return FlowDefinition{}, fmt.Errorf("%w: %s", ErrUnknownFlow, name)
	}
	return f, nil
}

// loadParent читает parent job и разбирает его данные.
func (o *Orchestrator) loadParent(ctx context.Context, job *domain.Job) (*domain.Job, *domain.ParentJobData, error) {
	if job.ParentID == nil {
		return nil, nil, fmt.Errorf("%w: job %s has no parent", ErrInvalidJobData, job.ID)
	}

	parent, err := o.store.GetJob(ctx, *job.ParentID)
	if err != nil {
		return nil, nil, fmt.Errorf("get parent job: %w", err)
	}

	data, err := decodeParentData(parent)
	if err != nil {
		return nil, nil, err
	}

	return parent, data, nil
}

// decodeParentData разбирает ParentJobData.
func decodeParentData(job *domain.Job) (*domain.ParentJobData, error) {
	var data domain.ParentJobData
	if err := json.Unmarshal(job.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: parent %s: %v", ErrInvalidJobData, job.ID, err)
	}
	if data.StepResults == nil {
		data.StepResults = make(map[domain.StepType]domain.StepResult)
	}
	return &data, nil
}

// decodeStepData разбирает StepJobData.
func decodeStepData(job *domain.Job) (*domain.StepJobData, error) {
	var data domain.StepJobData
	if len(job.Data) == 0 {
		return &data, nil
	}
	if err := json.Unmarshal(job.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: step %s: %v", ErrInvalidJobData, job.ID, err)
	}
	return &data, nil
}

// timePtr возвращает указатель на копию времени в UTC.
func timePtr(t time.Time) *time.Time {
	t = t.UTC()
	return &t
}

func intPtr(v int) *int {
	return &v
}

func strPtr(s string) *string {
	return &s
}
