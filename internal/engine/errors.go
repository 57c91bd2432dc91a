package engine

import (
	"errors"
	"strings"

	"github.com/shaiso/mediaflow/internal/domain"
)

// Ошибки валидации StepResult и определений flow.
var (
	// ErrEmptyStepType — у шага нет типа.
	ErrEmptyStepType = errors.New("step has empty type")

	// ErrDuplicateStepType — шаг указан в flow несколько раз.
	ErrDuplicateStepType = errors.New("duplicate step type")

	// ErrUnknownStepStatus — неизвестный статус шага.
	ErrUnknownStepStatus = errors.New("unknown step status")

	// ErrMissingStepError — failed-результат без текста ошибки.
	ErrMissingStepError = errors.New("failed step has no error")

	// ErrUnexpectedStepError — completed-результат с текстом ошибки.
	ErrUnexpectedStepError = errors.New("completed step has error")

	// ErrInvalidTiming — completedAt раньше startedAt.
	ErrInvalidTiming = errors.New("step completed before it started")

	// ErrStepTypeMismatch — ключ в map не совпадает с StepResult.StepType.
	ErrStepTypeMismatch = errors.New("step result keyed under different step type")
)

// Ошибки политики частичного успеха.
var (
	// ErrEmptySteps — flow не содержит шагов.
	ErrEmptySteps = errors.New("flow has no steps")

	// ErrUnknownPolicy — неизвестное имя политики.
	ErrUnknownPolicy = errors.New("unknown partial-success policy")
)

// Ошибки шаблонов input.
var (
	ErrTemplateParse  = errors.New("template parse error")
	ErrTemplateRender = errors.New("template render error")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	StepType domain.StepType // шаг, где произошла ошибка
	Field    string          // поле, вызвавшее ошибку
	Message  string          // описание ошибки
	Err      error           // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.StepType != "" {
		return "step " + string(e.StepType) + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(stepType domain.StepType, field, message string, err error) *ValidationError {
	return &ValidationError{
		StepType: stepType,
		Field:    field,
		Message:  message,
		Err:      err,
	}
}

// AggregationError — политика отклонила задачу.
//
// Возвращается из обработки parent job, чтобы очередь пометила
// его failed, а задача получила статус FAILED.
type AggregationError struct {
	Flow        string
	FailedSteps []domain.StepType
}

// Error перечисляет все упавшие шаги.
func (e *AggregationError) Error() string {
	names := make([]string, len(e.FailedSteps))
	for i, s := range e.FailedSteps {
		names[i] = string(s)
	}
	msg := "rejected by partial-success policy, failed steps: " + strings.Join(names, ", ")
	if e.Flow != "" {
		msg = e.Flow + ": " + msg
	}
	return msg
}
