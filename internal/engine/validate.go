package engine

import (
	"fmt"

	"github.com/shaiso/mediaflow/internal/domain"
)

// ValidateStepResult проверяет инварианты одного StepResult.
//
// Проверяет:
// - Наличие типа шага
// - Известный статус
// - failed содержит ошибку, completed — нет
// - completedAt не раньше startedAt
func ValidateStepResult(r domain.StepResult) error {
	if r.StepType == "" {
		return NewValidationError("", "stepType", "step has empty type", ErrEmptyStepType)
	}

	if !r.Status.IsValid() {
		return NewValidationError(r.StepType, "status",
			fmt.Sprintf("unknown status %q", r.Status), ErrUnknownStepStatus)
	}

	switch r.Status {
	case domain.StepStatusFailed:
		if r.Error == "" {
			return NewValidationError(r.StepType, "error",
				"failed step has no error", ErrMissingStepError)
		}
	case domain.StepStatusCompleted:
		if r.Error != "" {
			return NewValidationError(r.StepType, "error",
				"completed step has error", ErrUnexpectedStepError)
		}
	}

	if r.StartedAt != nil && r.CompletedAt != nil && r.CompletedAt.Before(*r.StartedAt) {
		return NewValidationError(r.StepType, "completedAt",
			"completedAt is before startedAt", ErrInvalidTiming)
	}

	return nil
}

// ValidateStepResults проверяет все записи map и соответствие ключей.
func ValidateStepResults(results map[domain.StepType]domain.StepResult) error {
	for key, r := range results {
		if r.StepType != key {
			return NewValidationError(key, "stepType",
				fmt.Sprintf("result for %s keyed under %s", r.StepType, key), ErrStepTypeMismatch)
		}
		if err := ValidateStepResult(r); err != nil {
			return err
		}
	}
	return nil
}

// ValidateSteps проверяет список шагов flow: непустой, без пустых и дублей.
func ValidateSteps(steps []domain.StepType) error {
	if len(steps) == 0 {
		return ErrEmptySteps
	}

	seen := make(map[domain.StepType]bool, len(steps))
	for _, s := range steps {
		if s == "" {
			return NewValidationError("", "steps", "step has empty type", ErrEmptyStepType)
		}
		if seen[s] {
			return NewValidationError(s, "steps",
				fmt.Sprintf("duplicate step type: %s", s), ErrDuplicateStepType)
		}
		seen[s] = true
	}

	return nil
}
