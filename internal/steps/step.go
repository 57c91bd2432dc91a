package steps

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

// Ошибки шагов.
var (
	// ErrUnknownStepType — тип шага не зарегистрирован в таблице маршрутизации.
	ErrUnknownStepType = errors.New("unknown step type")

	// ErrInvalidConfig — невалидная конфигурация шага.
	ErrInvalidConfig = errors.New("invalid step config")

	// ErrStepCancelled — выполнение шага отменено.
	ErrStepCancelled = errors.New("step execution cancelled")
)

// Processor — исполнитель одного типа шага.
//
// input — только конфигурация, без состояния выполнения. Возвращаемое
// значение должно сериализоваться в JSON: оно попадает в StepResult.Output.
// Процессор не знает про parent job, кэш результатов и повторы.
type Processor interface {
	Process(ctx context.Context, input map[string]any, jc JobContext) (any, error)
}

// ProcessorFunc — адаптер функции к Processor.
type ProcessorFunc func(ctx context.Context, input map[string]any, jc JobContext) (any, error)

// Process реализует Processor.
func (f ProcessorFunc) Process(ctx context.Context, input map[string]any, jc JobContext) (any, error) {
	return f(ctx, input, jc)
}

// JobContext — контекст выполнения шага.
type JobContext struct {
	TaskID      uuid.UUID
	WorkspaceID string
	JobID       uuid.UUID
	ParentJobID uuid.UUID
	StepType    domain.StepType

	// Attempt — номер текущей попытки, начиная с 1.
	Attempt int

	// Config — конфигурация вызывающей стороны из StepJobData.
	Config map[string]any

	// Entities — кэш дедупликации сущностей, живёт одно выполнение шага.
	Entities *EntityCache

	Logger *slog.Logger
}

// GetConfigString извлекает строковое значение из конфига.
func GetConfigString(config map[string]any, key string) string {
	if v, ok := config[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// GetConfigInt извлекает числовое значение из конфига.
func GetConfigInt(config map[string]any, key string) int {
	if v, ok := config[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case int64:
			return int(n)
		case float64:
			return int(n)
		}
	}
	return 0
}

// GetConfigBool извлекает булево значение из конфига.
func GetConfigBool(config map[string]any, key string, defaultVal bool) bool {
	if v, ok := config[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}

// GetConfigMapString извлекает map[string]string из конфига.
func GetConfigMapString(config map[string]any, key string) map[string]string {
	if v, ok := config[key]; ok {
		switch m := v.(type) {
		case map[string]string:
			return m
		case map[string]any:
			result := make(map[string]string)
			for k, val := range m {
				if s, ok := val.(string); ok {
					result[k] = s
				}
			}
			return result
		}
	}
	return nil
}
