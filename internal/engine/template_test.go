package engine

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

func testInputContext() *InputContext {
	return NewInputContext(TaskRef{
		ID:          uuid.MustParse("6f1c8f4e-8d5a-4a55-9c1a-0c2b3d4e5f60"),
		WorkspaceID: "ws-1",
		Flow:        "label-detection",
	}, domain.StepLabel, map[string]any{
		"source_uri": "gs://bucket/video.mp4",
		"language":   "",
		"count":      42,
	})
}

func TestNewInputContext_NilInputs(t *testing.T) {
	ctx := NewInputContext(TaskRef{}, domain.StepFace, nil)
	if ctx.Inputs == nil {
		t.Error("Inputs should not be nil")
	}
}

func TestRender(t *testing.T) {
	ctx := testInputContext()

	tests := []struct {
		name     string
		template string
		expected string
	}{
		{"plain text", "Plain text", "Plain text"},
		{"input", "{{ .Inputs.source_uri }}", "gs://bucket/video.mp4"},
		{"number input", "n={{ .Inputs.count }}", "n=42"},
		{"task fields", "{{ .Task.WorkspaceID }}/{{ .Task.Flow }}", "ws-1/label-detection"},
		{"step", "{{ .Step }}", "LABEL"},
		{"upper", "{{ .Task.Flow | upper }}", "LABEL-DETECTION"},
		{"default for empty", `{{ .Inputs.language | default "en-US" }}`, "en-US"},
		{"default for missing", `{{ .Inputs.nope | default "x" }}`, "x"},
		{"json", `{{ json .Inputs.count }}`, "42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.template, ctx)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestRender_InvalidTemplate(t *testing.T) {
	_, err := Render("{{ .Inputs.x ", testInputContext())
	if !errors.Is(err, ErrTemplateParse) {
		t.Errorf("expected ErrTemplateParse, got %v", err)
	}
}

func TestRenderValue_Nested(t *testing.T) {
	ctx := testInputContext()

	got, err := RenderValue(map[string]any{
		"video": map[string]any{"uri": "{{ .Inputs.source_uri }}"},
		"tags":  []any{"{{ .Task.Flow }}", 7},
		"exact": true,
	}, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m := got.(map[string]any)
	if m["video"].(map[string]any)["uri"] != "gs://bucket/video.mp4" {
		t.Errorf("nested map not rendered: %v", m["video"])
	}
	tags := m["tags"].([]any)
	if tags[0] != "label-detection" || tags[1] != 7 {
		t.Errorf("slice not rendered: %v", tags)
	}
	if m["exact"] != true {
		t.Error("bool should pass through")
	}
}

func TestRenderInput_MergesTaskInputs(t *testing.T) {
	ctx := testInputContext()

	got, err := RenderInput(map[string]any{
		"features": []string{"{{ .Step }}_DETECTION"},
		"count":    "{{ .Inputs.count }}",
	}, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got["source_uri"] != "gs://bucket/video.mp4" {
		t.Error("task inputs should be copied")
	}
	if got["count"] != "42" {
		t.Errorf("template should override input, got %v", got["count"])
	}
	if f := got["features"].([]any); f[0] != "LABEL_DETECTION" {
		t.Errorf("features = %v", f)
	}
}
