package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

// Event — событие жизненного цикла job.
type Event string

const (
	// EventActive — job взят в работу (в том числе каждая повторная попытка).
	EventActive Event = "active"

	// EventCompleted — job завершился успешно, ReturnValue записан.
	EventCompleted Event = "completed"

	// EventFailed — попытка job завершилась ошибкой.
	// job.RetriesExhausted() отличает последнюю попытку от промежуточной.
	EventFailed Event = "failed"
)

// EventHandler — обработчик события.
// err задан только для EventFailed.
type EventHandler func(ctx context.Context, job *domain.Job, err error)

// Flow — parent job и его дочерние jobs, добавляемые атомарно.
type Flow struct {
	Parent   *domain.Job
	Children []*domain.Job
}

// Validate проверяет, что дети ссылаются на parent.
func (f Flow) Validate() error {
	if f.Parent == nil {
		return fmt.Errorf("%w: parent is nil", ErrInvalidFlow)
	}
	if f.Parent.ParentID != nil {
		return fmt.Errorf("%w: parent %s has a parent", ErrInvalidFlow, f.Parent.ID)
	}
	for _, c := range f.Children {
		if c.ParentID == nil || *c.ParentID != f.Parent.ID {
			return fmt.Errorf("%w: child %s does not reference parent %s", ErrInvalidFlow, c.ID, f.Parent.ID)
		}
		if c.TaskID != f.Parent.TaskID {
			return fmt.Errorf("%w: child %s belongs to another task", ErrInvalidFlow, c.ID)
		}
	}
	return nil
}

// Store — хранилище jobs, поверх которого работает оркестратор.
//
// Parent job добавляется в состоянии waiting-children и переходит
// в waiting, только когда все его дети в completed или failed.
//
// Реализации: repo.JobRepo (PostgreSQL) и MemoryStore.
type Store interface {
	// AddFlow атомарно сохраняет parent и детей.
	AddFlow(ctx context.Context, flow Flow) error

	// GetJob возвращает job по ID.
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// UpdateData заменяет данные job, если версия совпадает с expectedVersion.
	// Возвращает новую версию или ErrVersionConflict.
	UpdateData(ctx context.Context, id uuid.UUID, data json.RawMessage, expectedVersion int64) (int64, error)

	// MarkActive берёт waiting job в работу. Для остальных состояний — ErrJobNotWaiting.
	MarkActive(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// RecordFailedAttempt учитывает неудачную попытку; job остаётся active.
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, reason string) (*domain.Job, error)

	// MarkCompleted завершает job с возвращённым значением.
	MarkCompleted(ctx context.Context, id uuid.UUID, returnValue json.RawMessage) (*domain.Job, error)

	// MarkFailed окончательно переводит job в failed.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (*domain.Job, error)

	// ResolveChild пересчитывает незавершённых детей parent.
	// Возвращает true, если parent только что перешёл в waiting.
	ResolveChild(ctx context.Context, parentID uuid.UUID) (bool, error)

	// ChildrenValues возвращает ReturnValue завершённых детей по их ID.
	ChildrenValues(ctx context.Context, parentID uuid.UUID) (map[uuid.UUID]json.RawMessage, error)

	// ListChildren возвращает детей parent в указанных состояниях (все, если не указаны).
	ListChildren(ctx context.Context, parentID uuid.UUID, states ...domain.JobState) ([]*domain.Job, error)

	// ListWaiting возвращает до limit jobs в состоянии waiting, старые первыми.
	ListWaiting(ctx context.Context, limit int) ([]*domain.Job, error)

	// ListByTask возвращает все jobs задачи.
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]*domain.Job, error)

	// RepairStalledParents переводит в waiting parents, все дети которых завершены.
	RepairStalledParents(ctx context.Context) ([]uuid.UUID, error)

	// RequeueStale возвращает в waiting active jobs, начатые раньше olderThan назад.
	RequeueStale(ctx context.Context, olderThan time.Duration) ([]uuid.UUID, error)
}

// Notifier сообщает worker'ам, что job готов к выполнению.
// Реализуется mq.Publisher.
type Notifier interface {
	NotifyReady(ctx context.Context, jobID uuid.UUID) error
}

// NotifierFunc — адаптер функции к Notifier.
type NotifierFunc func(ctx context.Context, jobID uuid.UUID) error

// NotifyReady реализует Notifier.
func (f NotifierFunc) NotifyReady(ctx context.Context, jobID uuid.UUID) error {
	return f(ctx, jobID)
}
