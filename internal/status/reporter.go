package status

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

const defaultTimeout = 3 * time.Second

// Reporter — контракт записи статуса в task record.
//
// Все вызовы best-effort: ошибка записи логируется и не возвращается,
// чтобы недоступность хранилища задач не вызывала повторов jobs.
type Reporter interface {
	UpdateStatus(ctx context.Context, taskID uuid.UUID, status domain.TaskStatus)
	UpdateTask(ctx context.Context, taskID uuid.UUID, upd domain.TaskUpdate)
}

// TaskStore — узкий интерфейс хранилища задач.
// Реализуется repo.TaskRepo и MemoryTaskStore.
type TaskStore interface {
	UpdateTask(ctx context.Context, id uuid.UUID, upd domain.TaskUpdate) error
}

// TaskReporter — Reporter поверх TaskStore.
type TaskReporter struct {
	store   TaskStore
	timeout time.Duration
	logger  *slog.Logger
}

// Config — конфигурация TaskReporter.
type Config struct {
	Store TaskStore

	// Timeout — ограничение на одну запись (default: 3s).
	Timeout time.Duration

	Logger *slog.Logger
}

// New создаёт TaskReporter.
func New(cfg Config) *TaskReporter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TaskReporter{
		store:   cfg.Store,
		timeout: timeout,
		logger:  logger,
	}
}

// UpdateStatus записывает только статус задачи.
func (r *TaskReporter) UpdateStatus(ctx context.Context, taskID uuid.UUID, status domain.TaskStatus) {
	r.UpdateTask(ctx, taskID, domain.TaskUpdate{Status: &status})
}

// UpdateTask записывает частичное обновление задачи.
//
// Progress ограничивается диапазоном [0,100]. Пустой ErrorLog
// означает "нет лога" и не записывается.
func (r *TaskReporter) UpdateTask(ctx context.Context, taskID uuid.UUID, upd domain.TaskUpdate) {
	upd = Normalize(upd)
	if upd.IsEmpty() {
		return
	}

	// Запись не должна зависеть от отмены контекста job.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.store.UpdateTask(writeCtx, taskID, upd); err != nil {
		telemetry.StatusReportFailures.Inc()
		r.logger.Warn("failed to report task status",
			"task_id", taskID,
			"status", statusString(upd.Status),
			"error", err,
		)
		return
	}

	r.logger.Debug("task status reported",
		"task_id", taskID,
		"status", statusString(upd.Status),
	)
}

// Normalize приводит обновление к допустимому виду.
func Normalize(upd domain.TaskUpdate) domain.TaskUpdate {
	if upd.Progress != nil {
		p := ClampProgress(*upd.Progress)
		upd.Progress = &p
	}
	if upd.ErrorLog != nil && *upd.ErrorLog == "" {
		upd.ErrorLog = nil
	}
	return upd
}

// ClampProgress ограничивает прогресс диапазоном [0,100].
func ClampProgress(p int) int {
	return min(max(p, 0), 100)
}

func statusString(s *domain.TaskStatus) string {
	if s == nil {
		return ""
	}
	return string(*s)
}
