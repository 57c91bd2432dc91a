package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — запись о задаче, которую наблюдает вызывающая сторона.
//
// Task принадлежит внешнему хранилищу. Оркестратор никогда не читает
// и не пишет её напрямую — только через status.Reporter.
type Task struct {
	// ID — уникальный идентификатор задачи.
	ID uuid.UUID `json:"id"`

	// WorkspaceID — рабочее пространство, которому принадлежит задача.
	WorkspaceID string `json:"workspace_id"`

	// Flow — имя flow, который выполняет задачу (например, "label-detection").
	Flow string `json:"flow"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// Progress — прогресс в процентах, всегда в диапазоне [0,100].
	Progress int `json:"progress"`

	// Result — агрегированный результат шагов.
	Result *TaskResult `json:"result,omitempty"`

	// ErrorLog — JSON-массив ErrorLogEntry. Пустая строка — ошибок нет.
	ErrorLog string `json:"error_log,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewTask создаёт задачу в статусе QUEUED.
func NewTask(workspaceID, flow string) *Task {
	now := time.Now()
	return &Task{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Flow:        flow,
		Status:      TaskStatusQueued,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsFinished возвращает true, если задача завершена.
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// TaskUpdate — частичное обновление Task.
// Nil-поля не изменяются.
type TaskUpdate struct {
	Status   *TaskStatus
	Progress *int
	Result   *TaskResult
	ErrorLog *string
}

// IsEmpty возвращает true, если обновлять нечего.
func (u TaskUpdate) IsEmpty() bool {
	return u.Status == nil && u.Progress == nil && u.Result == nil && u.ErrorLog == nil
}

// Apply применяет обновление к задаче.
func (u TaskUpdate) Apply(t *Task) {
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	if u.Result != nil {
		t.Result = u.Result
	}
	if u.ErrorLog != nil {
		t.ErrorLog = *u.ErrorLog
	}
	t.UpdatedAt = time.Now()
}

// TaskFilter — параметры выборки задач.
type TaskFilter struct {
	WorkspaceID string
	Status      TaskStatus
	Limit       int
	Offset      int
}

// Match проверяет, подходит ли задача под фильтр (без учёта Limit/Offset).
func (f TaskFilter) Match(t *Task) bool {
	if f.WorkspaceID != "" && t.WorkspaceID != f.WorkspaceID {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	return true
}
