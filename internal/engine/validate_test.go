package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/mediaflow/internal/domain"
)

func TestValidateStepResult(t *testing.T) {
	tests := []struct {
		name    string
		result  domain.StepResult
		wantErr error
	}{
		{"valid completed", completed("A", 0, 1), nil},
		{"valid failed", failed("A", "x", 0, 1), nil},
		{"valid running", running("A", 0), nil},
		{"empty type", domain.StepResult{Status: domain.StepStatusRunning}, ErrEmptyStepType},
		{"unknown status", domain.StepResult{StepType: "A", Status: "paused"}, ErrUnknownStepStatus},
		{"failed without error", domain.StepResult{StepType: "A", Status: domain.StepStatusFailed}, ErrMissingStepError},
		{"completed with error", domain.StepResult{StepType: "A", Status: domain.StepStatusCompleted, Error: "x"}, ErrUnexpectedStepError},
		{"completed before started", completed("A", 5, 1), ErrInvalidTiming},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStepResult(tt.result)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateStepResults_KeyMismatch(t *testing.T) {
	results := map[domain.StepType]domain.StepResult{
		"B": completed("A", 0, 1),
	}
	if err := ValidateStepResults(results); !errors.Is(err, ErrStepTypeMismatch) {
		t.Errorf("expected ErrStepTypeMismatch, got %v", err)
	}
}

func TestValidateSteps(t *testing.T) {
	if err := ValidateSteps([]domain.StepType{"A", "B"}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateSteps(nil); !errors.Is(err, ErrEmptySteps) {
		t.Errorf("expected ErrEmptySteps, got %v", err)
	}
	if err := ValidateSteps([]domain.StepType{"A", ""}); !errors.Is(err, ErrEmptyStepType) {
		t.Errorf("expected ErrEmptyStepType, got %v", err)
	}
	if err := ValidateSteps([]domain.StepType{"A", "A"}); !errors.Is(err, ErrDuplicateStepType) {
		t.Errorf("expected ErrDuplicateStepType, got %v", err)
	}
}
