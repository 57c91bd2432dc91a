package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

func TestLogLevel(t *testing.T) {
	tests := []struct {
		env  string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.env)
			if got := LogLevel(); got != tt.want {
				t.Errorf("LogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewLogger_JSONWithIDs(t *testing.T) {
	var buf bytes.Buffer
	taskID := uuid.New()

	logger := NewLogger(&buf, "", slog.LevelInfo)
	logger = WithStepType(WithTaskID(logger, taskID), domain.StepLabel)
	logger.Info("step started")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["task_id"] != taskID.String() {
		t.Errorf("task_id = %v, want %s", rec["task_id"], taskID)
	}
	if rec["step_type"] != "LABEL" {
		t.Errorf("step_type = %v, want LABEL", rec["step_type"])
	}
}

func TestNewLogger_TextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, "TEXT", slog.LevelWarn)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info record should be filtered")
	}
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("expected text record, got %q", out)
	}
}

func TestFromContext(t *testing.T) {
	if FromContext(context.Background()) != slog.Default() {
		t.Error("expected default logger for empty context")
	}

	logger := Discard()
	ctx := WithLogger(context.Background(), logger)
	if FromContext(ctx) != logger {
		t.Error("expected logger from context")
	}
}
