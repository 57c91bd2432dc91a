package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Значения RetryPolicy по умолчанию.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialDelayMs = 1000
	DefaultMaxDelayMs     = 30000
)

// Job — единица работы в очереди.
//
// Parent job представляет выполнение задачи целиком и порождает
// дочерние step jobs. Step job выполняет один шаг и возвращает StepResult.
type Job struct {
	// ID — уникальный идентификатор job.
	ID uuid.UUID `json:"id"`

	// ParentID — родительский job. Nil для parent job.
	ParentID *uuid.UUID `json:"parent_id,omitempty"`

	// TaskID — задача, к которой относится job.
	TaskID uuid.UUID `json:"task_id"`

	// Name — имя flow для parent job, тип шага для step job.
	Name string `json:"name"`

	// Data — ParentJobData или StepJobData в JSON.
	Data json.RawMessage `json:"data"`

	// State — состояние в очереди.
	State JobState `json:"state"`

	// AttemptsMade — количество завершённых попыток.
	AttemptsMade int `json:"attempts_made"`

	// Retry — политика повторов этого job.
	Retry RetryPolicy `json:"retry"`

	// ReturnValue — значение, возвращённое обработчиком (для step job — StepResult).
	ReturnValue json.RawMessage `json:"return_value,omitempty"`

	// FailedReason — текст последней ошибки.
	FailedReason string `json:"failed_reason,omitempty"`

	// PendingChildren — сколько дочерних jobs ещё не завершено.
	PendingChildren int `json:"pending_children"`

	// Version — версия Data для compare-and-swap обновлений.
	Version int64 `json:"version"`

	CreatedAt   time.Time  `json:"created_at"`
	ProcessedOn *time.Time `json:"processed_on,omitempty"`
	FinishedOn  *time.Time `json:"finished_on,omitempty"`
}

// IsParent возвращает true, если у job нет родителя.
func (j *Job) IsParent() bool {
	return j.ParentID == nil
}

// MaxAttempts возвращает потолок попыток с учётом значения по умолчанию.
func (j *Job) MaxAttempts() int {
	return j.Retry.Attempts()
}

// RetriesExhausted возвращает true, если job больше не будет повторяться:
// попытки исчерпаны или job уже переведён в failed.
func (j *Job) RetriesExhausted() bool {
	return j.State == JobStateFailed || j.AttemptsMade >= j.MaxAttempts()
}

// RetryPolicy — политика повторных попыток.
type RetryPolicy struct {
	// MaxAttempts — максимальное количество попыток (включая первую).
	MaxAttempts int `json:"max_attempts,omitempty" toml:"max_attempts"`

	// Backoff — стратегия задержки: "fixed", "exponential".
	Backoff string `json:"backoff,omitempty" toml:"backoff"`

	// InitialDelayMs — начальная задержка в миллисекундах.
	InitialDelayMs int `json:"initial_delay_ms,omitempty" toml:"initial_delay_ms"`

	// MaxDelayMs — максимальная задержка в миллисекундах.
	MaxDelayMs int `json:"max_delay_ms,omitempty" toml:"max_delay_ms"`
}

// Attempts возвращает MaxAttempts или значение по умолчанию.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

// DefaultRetryPolicy возвращает политику по умолчанию: 3 попытки, exponential.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		Backoff:        "exponential",
		InitialDelayMs: DefaultInitialDelayMs,
		MaxDelayMs:     DefaultMaxDelayMs,
	}
}
