package engine

import (
	"fmt"

	"github.com/shaiso/mediaflow/internal/domain"
)

// Имена политик для конфигурации.
const (
	PolicyAnySuccess = "any-success"
	PolicyAllSuccess = "all-success"
)

// Decision — решение политики частичного успеха.
type Decision struct {
	// Accept — задача считается успешной.
	Accept bool

	// Successful — включённые шаги с результатом completed.
	Successful []domain.StepType

	// Failed — включённые шаги без completed, в том числе без результата вовсе.
	Failed []domain.StepType
}

// Policy решает, является ли набор результатов шагов успехом задачи.
type Policy func(enabled []domain.StepType, results map[domain.StepType]domain.StepResult) Decision

// AnySucceeded — политика flow label-detection.
//
// Шаги независимы: задача успешна, если завершился хотя бы один
// включённый шаг, и отклоняется, только если упали все.
// Включённый шаг без результата считается упавшим.
func AnySucceeded(enabled []domain.StepType, results map[domain.StepType]domain.StepResult) Decision {
	d := partition(enabled, results)
	d.Accept = len(d.Successful) > 0
	return d
}

// AllSucceeded — политика строгого конвейера: успешны все включённые шаги.
func AllSucceeded(enabled []domain.StepType, results map[domain.StepType]domain.StepResult) Decision {
	d := partition(enabled, results)
	d.Accept = len(enabled) > 0 && len(d.Failed) == 0
	return d
}

// PolicyByName возвращает политику по имени из конфигурации.
// Пустое имя — AnySucceeded.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", PolicyAnySuccess:
		return AnySucceeded, nil
	case PolicyAllSuccess:
		return AllSucceeded, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
}

// partition делит включённые шаги на успешные и упавшие в порядке enabled.
func partition(enabled []domain.StepType, results map[domain.StepType]domain.StepResult) Decision {
	d := Decision{
		Successful: []domain.StepType{},
		Failed:     []domain.StepType{},
	}

	seen := make(map[domain.StepType]bool, len(enabled))
	for _, s := range enabled {
		if seen[s] {
			continue
		}
		seen[s] = true

		if r, ok := results[s]; ok && r.IsCompleted() {
			d.Successful = append(d.Successful, s)
		} else {
			d.Failed = append(d.Failed, s)
		}
	}

	return d
}
