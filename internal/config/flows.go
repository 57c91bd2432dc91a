package config

import (
	"fmt"
	"time"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
	"github.com/shaiso/mediaflow/internal/orchestrator"
	"github.com/shaiso/mediaflow/internal/steps"
)

// FlowDefinitions строит определения flow из [[flows]].
// Без [[flows]] возвращает orchestrator.DefaultFlows().
func (c *Config) FlowDefinitions() (map[string]orchestrator.FlowDefinition, error) {
	if len(c.Flows) == 0 {
		return orchestrator.DefaultFlows(), nil
	}

	flows := make(map[string]orchestrator.FlowDefinition, len(c.Flows))
	for _, fc := range c.Flows {
		if _, dup := flows[fc.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate flow %q", ErrInvalidConfig, fc.Name)
		}

		def, err := fc.definition()
		if err != nil {
			return nil, fmt.Errorf("%w: flow %q: %w", ErrInvalidConfig, fc.Name, err)
		}
		flows[fc.Name] = def
	}
	return flows, nil
}

func (fc FlowConfig) definition() (orchestrator.FlowDefinition, error) {
	policy, err := engine.PolicyByName(fc.Policy)
	if err != nil {
		return orchestrator.FlowDefinition{}, err
	}

	policyName := fc.Policy
	if policyName == "" {
		policyName = engine.PolicyAnySuccess
	}

	retry := fc.Retry
	if retry == (domain.RetryPolicy{}) {
		retry = domain.DefaultRetryPolicy()
	}

	def := orchestrator.FlowDefinition{
		Name:       fc.Name,
		Steps:      toStepTypes(fc.Steps),
		Policy:     policy,
		PolicyName: policyName,
		Retry:      retry,
	}

	if len(fc.IndependentSteps) > 0 {
		def.IndependentSteps = make(map[domain.StepType]bool, len(fc.IndependentSteps))
		for _, s := range fc.IndependentSteps {
			def.IndependentSteps[domain.StepType(s)] = true
		}
	}

	if len(fc.Inputs) > 0 {
		def.StepInputs = make(map[domain.StepType]map[string]any, len(fc.Inputs))
		for s, tmpl := range fc.Inputs {
			def.StepInputs[domain.StepType(s)] = tmpl
		}
	}

	if err := def.Validate(); err != nil {
		return orchestrator.FlowDefinition{}, err
	}
	return def, nil
}

// StepRoutes возвращает таблицу маршрутизации для steps.NewHTTPRegistry.
func (c *Config) StepRoutes() map[domain.StepType]steps.HTTPConfig {
	routes := make(map[domain.StepType]steps.HTTPConfig, len(c.Steps))
	for stepType, s := range c.Steps {
		routes[domain.StepType(stepType)] = steps.HTTPConfig{
			Endpoint:      s.Endpoint,
			Method:        s.Method,
			Headers:       s.Headers,
			Timeout:       time.Duration(s.TimeoutSec) * time.Second,
			DedupEntities: s.DedupEntities,
		}
	}
	return routes
}

func toStepTypes(names []string) []domain.StepType {
	result := make([]domain.StepType, len(names))
	for i, n := range names {
		result[i] = domain.StepType(n)
	}
	return result
}
