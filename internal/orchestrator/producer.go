package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
	"github.com/shaiso/mediaflow/internal/queue"
)

// EnqueueRequest — запрос на запуск flow для задачи.
type EnqueueRequest struct {
	TaskID      uuid.UUID
	WorkspaceID string
	Flow        string

	// EnabledSteps — подмножество шагов flow. Пусто — все шаги.
	EnabledSteps []domain.StepType

	// Config — конфигурация вызывающей стороны, доступна процессорам.
	Config map[string]any

	// Inputs — входные данные задачи, доступны шаблонам input.
	Inputs map[string]any
}

// Producer создаёт flow jobs для новых задач.
type Producer struct {
	store    queue.Store
	notifier queue.Notifier
	flows    map[string]FlowDefinition
	logger   *slog.Logger
}

// ProducerConfig — конфигурация Producer.
type ProducerConfig struct {
	Store queue.Store

	// Notifier, если задан, получает ID каждого готового step job.
	Notifier queue.Notifier

	// Flows — определения flow (default: DefaultFlows()).
	Flows map[string]FlowDefinition

	Logger *slog.Logger
}

// NewProducer создаёт Producer.
func NewProducer(cfg ProducerConfig) *Producer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	flows := cfg.Flows
	if flows == nil {
		flows = DefaultFlows()
	}

	return &Producer{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		flows:    flows,
		logger:   logger,
	}
}

// Flows возвращает определения flow, известные Producer.
func (p *Producer) Flows() map[string]FlowDefinition {
	return p.flows
}

// Resolve проверяет запрос и возвращает flow и итоговый набор шагов.
// Пустой EnabledSteps означает все шаги flow.
func (p *Producer) Resolve(req EnqueueRequest) (FlowDefinition, []domain.StepType, error) {
	flow, ok := p.flows[req.Flow]
	if !ok {
		return FlowDefinition{}, nil, fmt.Errorf("%w: %s", ErrUnknownFlow, req.Flow)
	}

	enabled := req.EnabledSteps
	if len(enabled) == 0 {
		enabled = slices.Clone(flow.Steps)
	}
	for _, s := range enabled {
		if !flow.HasStep(s) {
			return FlowDefinition{}, nil, fmt.Errorf("%w: %s in %s", ErrStepNotInFlow, s, flow.Name)
		}
	}
	if err := engine.ValidateSteps(enabled); err != nil {
		return FlowDefinition{}, nil, err
	}
	return flow, enabled, nil
}

// Enqueue создаёт parent job и по одному step job на включённый шаг.
// Возвращает ID parent job.
func (p *Producer) Enqueue(ctx context.Context, req EnqueueRequest) (uuid.UUID, error) {
	flow, enabled, err := p.Resolve(req)
	if err != nil {
		return uuid.Nil, err
	}

	// 1. Parent job
	parentData, err := json.Marshal(domain.ParentJobData{
		TaskID:       req.TaskID,
		WorkspaceID:  req.WorkspaceID,
		Flow:         flow.Name,
		EnabledSteps: enabled,
		StepResults:  map[domain.StepType]domain.StepResult{},
		Config:       req.Config,
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal parent data: %w", err)
	}

	parent := &domain.Job{
		ID:     uuid.New(),
		TaskID: req.TaskID,
		Name:   flow.Name,
		Data:   parentData,
		Retry:  flow.Retry,
	}

	// 2. Step jobs
	ref := engine.TaskRef{ID: req.TaskID, WorkspaceID: req.WorkspaceID, Flow: flow.Name}
	children := make([]*domain.Job, 0, len(enabled))
	for _, step := range enabled {
		input, err := engine.RenderInput(flow.StepInputs[step], engine.NewInputContext(ref, step, req.Inputs))
		if err != nil {
			return uuid.Nil, err
		}

		data, err := json.Marshal(domain.StepJobData{
			TaskID:      req.TaskID,
			WorkspaceID: req.WorkspaceID,
			ParentJobID: parent.ID,
			StepType:    step,
			Input:       input,
			Config:      req.Config,
		})
		if err != nil {
			return uuid.Nil, fmt.Errorf("marshal step data: %w", err)
		}

		children = append(children, &domain.Job{
			ID:       uuid.New(),
			ParentID: &parent.ID,
			TaskID:   req.TaskID,
			Name:     string(step),
			Data:     data,
			Retry:    flow.Retry,
		})
	}

	// 3. Атомарное добавление
	if err := p.store.AddFlow(ctx, queue.Flow{Parent: parent, Children: children}); err != nil {
		return uuid.Nil, fmt.Errorf("add flow: %w", err)
	}

	p.logger.Info("flow enqueued",
		"task_id", req.TaskID,
		"parent_job_id", parent.ID,
		"flow", flow.Name,
		"steps", enabled,
	)

	// 4. Уведомления. Job без уведомления подберёт polling worker'а.
	if p.notifier != nil {
		for _, c := range children {
			if err := p.notifier.NotifyReady(ctx, c.ID); err != nil {
				p.logger.Warn("failed to notify ready job",
					"job_id", c.ID,
					"error", err,
				)
			}
		}
	}

	return parent.ID, nil
}
