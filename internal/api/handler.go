package api

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/orchestrator"
)

// TaskStore — хранилище task records. Реализуется repo.TaskRepo
// и status.MemoryTaskStore.
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	List(ctx context.Context, f domain.TaskFilter) ([]domain.Task, error)
	UpdateTask(ctx context.Context, id uuid.UUID, upd domain.TaskUpdate) error
}

// JobLister — выборка jobs задачи. Реализуется queue.Store.
type JobLister interface {
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Job, error)
}

// Enqueuer запускает flow для задачи. Реализуется orchestrator.Producer.
type Enqueuer interface {
	Resolve(req orchestrator.EnqueueRequest) (orchestrator.FlowDefinition, []domain.StepType, error)
	Enqueue(ctx context.Context, req orchestrator.EnqueueRequest) (uuid.UUID, error)
	Flows() map[string]orchestrator.FlowDefinition
}

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	tasks    TaskStore
	jobs     JobLister
	producer Enqueuer
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Tasks    TaskStore
	Jobs     JobLister
	Producer Enqueuer
	Logger   *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		tasks:    cfg.Tasks,
		jobs:     cfg.Jobs,
		producer: cfg.Producer,
		logger:   logger,
	}
}
