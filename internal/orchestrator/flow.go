package orchestrator

import (
	"fmt"
	"slices"
	"sort"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
)

// Имена flow по умолчанию.
const (
	FlowLabelDetection = "label-detection"
	FlowTranscode      = "transcode"
)

// FlowDefinition — конфигурация flow. Конкретные flow отличаются
// только этими данными, а не кодом.
type FlowDefinition struct {
	Name string

	// Steps — все шаги flow. Задача может включить подмножество.
	Steps []domain.StepType

	// Policy решает итог задачи. Nil — engine.AnySucceeded.
	Policy engine.Policy

	// PolicyName — имя политики для отображения.
	PolicyName string

	// IndependentSteps — шаги, чья ошибка на последней попытке
	// возвращается как failed StepResult, не роняя step job.
	IndependentSteps map[domain.StepType]bool

	// Retry — политика повторов для parent и step jobs.
	Retry domain.RetryPolicy

	// StepInputs — шаблоны input по типу шага (см. engine.RenderInput).
	StepInputs map[domain.StepType]map[string]any
}

// Validate проверяет определение flow.
func (f FlowDefinition) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidFlow)
	}
	if err := engine.ValidateSteps(f.Steps); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidFlow, f.Name, err)
	}
	for s := range f.IndependentSteps {
		if !f.HasStep(s) {
			return fmt.Errorf("%w: %s: independent step %s is not in flow", ErrInvalidFlow, f.Name, s)
		}
	}
	for s := range f.StepInputs {
		if !f.HasStep(s) {
			return fmt.Errorf("%w: %s: input template for unknown step %s", ErrInvalidFlow, f.Name, s)
		}
	}
	return nil
}

// HasStep проверяет, входит ли шаг во flow.
func (f FlowDefinition) HasStep(s domain.StepType) bool {
	return slices.Contains(f.Steps, s)
}

// IsIndependent возвращает true, если шаг может упасть независимо.
func (f FlowDefinition) IsIndependent(s domain.StepType) bool {
	return f.IndependentSteps[s]
}

// policy возвращает политику с учётом значения по умолчанию.
func (f FlowDefinition) policy() engine.Policy {
	if f.Policy == nil {
		return engine.AnySucceeded
	}
	return f.Policy
}

// DefaultFlows возвращает встроенные flow.
//
// label-detection — пять независимых детекторов, успех при хотя бы
// одном завершённом. transcode — строгий конвейер, нужны все шаги.
func DefaultFlows() map[string]FlowDefinition {
	labelSteps := []domain.StepType{
		domain.StepLabel,
		domain.StepShot,
		domain.StepFace,
		domain.StepSpeech,
		domain.StepText,
	}
	independent := make(map[domain.StepType]bool, len(labelSteps))
	for _, s := range labelSteps {
		independent[s] = true
	}

	return map[string]FlowDefinition{
		FlowLabelDetection: {
			Name:             FlowLabelDetection,
			Steps:            labelSteps,
			Policy:           engine.AnySucceeded,
			PolicyName:       engine.PolicyAnySuccess,
			IndependentSteps: independent,
			Retry:            domain.DefaultRetryPolicy(),
		},
		FlowTranscode: {
			Name: FlowTranscode,
			Steps: []domain.StepType{
				domain.StepProbe,
				domain.StepTranscode,
				domain.StepThumbnail,
			},
			Policy:     engine.AllSucceeded,
			PolicyName: engine.PolicyAllSuccess,
			Retry:      domain.DefaultRetryPolicy(),
		},
	}
}

// SortedFlows возвращает flow, отсортированные по имени.
func SortedFlows(flows map[string]FlowDefinition) []FlowDefinition {
	result := make([]FlowDefinition, 0, len(flows))
	for _, f := range flows {
		result = append(result, f)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
