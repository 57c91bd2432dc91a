package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/shaiso/mediaflow/internal/domain"
)

func TestAnySucceeded_Threshold(t *testing.T) {
	enabled := []domain.StepType{"A", "B", "C"}

	tests := []struct {
		name      string
		results   map[domain.StepType]domain.StepResult
		accept    bool
		succeeded int
	}{
		{
			name:    "no results at all",
			results: map[domain.StepType]domain.StepResult{},
			accept:  false,
		},
		{
			name: "all failed",
			results: map[domain.StepType]domain.StepResult{
				"A": failed("A", "x", 0, 1),
				"B": failed("B", "x", 0, 1),
				"C": failed("C", "x", 0, 1),
			},
			accept: false,
		},
		{
			name: "one completed",
			results: map[domain.StepType]domain.StepResult{
				"A": completed("A", 0, 1),
				"B": failed("B", "x", 0, 1),
			},
			accept:    true,
			succeeded: 1,
		},
		{
			name: "all completed",
			results: map[domain.StepType]domain.StepResult{
				"A": completed("A", 0, 1),
				"B": completed("B", 0, 1),
				"C": completed("C", 0, 1),
			},
			accept:    true,
			succeeded: 3,
		},
		{
			name: "running is not success",
			results: map[domain.StepType]domain.StepResult{
				"A": running("A", 0),
			},
			accept: false,
		},
		{
			name: "completed step that is not enabled does not count",
			results: map[domain.StepType]domain.StepResult{
				"Z": completed("Z", 0, 1),
			},
			accept: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := AnySucceeded(enabled, tt.results)
			if d.Accept != tt.accept {
				t.Errorf("accept = %v, want %v", d.Accept, tt.accept)
			}
			if len(d.Successful) != tt.succeeded {
				t.Errorf("successful = %v, want %d", d.Successful, tt.succeeded)
			}
			if len(d.Successful)+len(d.Failed) != len(enabled) {
				t.Errorf("every enabled step must be classified: %+v", d)
			}
		})
	}
}

func TestAnySucceeded_MissingStepCountsAsFailed(t *testing.T) {
	enabled := []domain.StepType{domain.StepLabel, domain.StepFace}
	results := map[domain.StepType]domain.StepResult{
		domain.StepLabel: completed(domain.StepLabel, 0, 1),
	}

	d := AnySucceeded(enabled, results)
	if !reflect.DeepEqual(d.Failed, []domain.StepType{domain.StepFace}) {
		t.Errorf("unscheduled step should be failed, got %v", d.Failed)
	}
}

func TestAllSucceeded(t *testing.T) {
	enabled := []domain.StepType{domain.StepProbe, domain.StepTranscode}

	ok := AllSucceeded(enabled, map[domain.StepType]domain.StepResult{
		domain.StepProbe:     completed(domain.StepProbe, 0, 1),
		domain.StepTranscode: completed(domain.StepTranscode, 1, 2),
	})
	if !ok.Accept {
		t.Error("all completed should be accepted")
	}

	partial := AllSucceeded(enabled, map[domain.StepType]domain.StepResult{
		domain.StepProbe: completed(domain.StepProbe, 0, 1),
	})
	if partial.Accept {
		t.Error("missing step should reject")
	}

	if AllSucceeded(nil, nil).Accept {
		t.Error("empty enabled set should reject")
	}
}

func TestPolicyByName(t *testing.T) {
	for _, name := range []string{"", PolicyAnySuccess, PolicyAllSuccess} {
		if _, err := PolicyByName(name); err != nil {
			t.Errorf("PolicyByName(%q): %v", name, err)
		}
	}

	_, err := PolicyByName("majority")
	if !errors.Is(err, ErrUnknownPolicy) {
		t.Errorf("expected ErrUnknownPolicy, got %v", err)
	}
}

func TestAggregationError_ListsSteps(t *testing.T) {
	err := &AggregationError{
		Flow:        "label-detection",
		FailedSteps: []domain.StepType{domain.StepLabel, domain.StepFace, domain.StepSpeech},
	}

	msg := err.Error()
	for _, s := range []string{"LABEL", "FACE", "SPEECH", "label-detection"} {
		if !strings.Contains(msg, s) {
			t.Errorf("message %q should contain %s", msg, s)
		}
	}
}
