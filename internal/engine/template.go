package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

// InputContext — контекст рендеринга input для step job.
//
// Доступен в шаблонах как:
//   - {{ .Task.ID }}, {{ .Task.WorkspaceID }}, {{ .Task.Flow }}
//   - {{ .Step }}
//   - {{ .Inputs.source_uri }}
type InputContext struct {
	Task   TaskRef         `json:"task"`
	Step   domain.StepType `json:"step"`
	Inputs map[string]any  `json:"inputs"`
}

// TaskRef — идентификация задачи внутри шаблона.
type TaskRef struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID string    `json:"workspaceId"`
	Flow        string    `json:"flow"`
}

// NewInputContext создаёт контекст для шага.
func NewInputContext(task TaskRef, step domain.StepType, inputs map[string]any) *InputContext {
	if inputs == nil {
		inputs = make(map[string]any)
	}
	return &InputContext{
		Task:   task,
		Step:   step,
		Inputs: inputs,
	}
}

var templateFuncs = template.FuncMap{
	"json": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return string(b)
	},

	// default — значение по умолчанию для пустого аргумента
	"default": func(def, val any) any {
		if val == nil {
			return def
		}
		if s, ok := val.(string); ok && s == "" {
			return def
		}
		return val
	},

	"lower": strings.ToLower,
	"upper": strings.ToUpper,
	"trim":  strings.TrimSpace,
}

// Render рендерит строковый шаблон.
//
//	{{ .Inputs.source_uri }}
//	{{ .Inputs.language | default "en-US" }}
func Render(tmpl string, ctx *InputContext) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil
	}

	t, err := template.New("").Option("missingkey=zero").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateParse, err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTemplateRender, err)
	}

	return buf.String(), nil
}

// RenderValue рендерит произвольное значение.
// Рекурсивно обрабатывает map и slice, остальные типы возвращает как есть.
func RenderValue(value any, ctx *InputContext) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil

	case string:
		return Render(v, ctx)

	case map[string]any:
		result := make(map[string]any, len(v))
		for key, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			result[key] = rendered
		}
		return result, nil

	case []any:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := RenderValue(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	case []string:
		result := make([]any, len(v))
		for i, val := range v {
			rendered, err := Render(val, ctx)
			if err != nil {
				return nil, err
			}
			result[i] = rendered
		}
		return result, nil

	default:
		return value, nil
	}
}

// RenderInput строит input шага из шаблона flow.
//
// Ключи Inputs задачи, которых нет в шаблоне, копируются как есть:
// шаблон только добавляет и переопределяет поля.
func RenderInput(tmpl map[string]any, ctx *InputContext) (map[string]any, error) {
	result := make(map[string]any, len(ctx.Inputs)+len(tmpl))
	for k, v := range ctx.Inputs {
		result[k] = v
	}

	for key, val := range tmpl {
		rendered, err := RenderValue(val, ctx)
		if err != nil {
			return nil, fmt.Errorf("step %s input %s: %w", ctx.Step, key, err)
		}
		result[key] = rendered
	}

	return result, nil
}
