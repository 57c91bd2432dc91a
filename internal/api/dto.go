package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
	"github.com/shaiso/mediaflow/internal/orchestrator"
)

// Task DTOs

// CreateTaskRequest — запрос на создание задачи.
type CreateTaskRequest struct {
	WorkspaceID string         `json:"workspace_id"`
	Flow        string         `json:"flow"`
	Steps       []string       `json:"steps,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// TaskResponse — ответ с задачей.
type TaskResponse struct {
	ID          uuid.UUID              `json:"id"`
	WorkspaceID string                 `json:"workspace_id"`
	Flow        string                 `json:"flow"`
	Status      domain.TaskStatus      `json:"status"`
	Progress    int                    `json:"progress"`
	Result      *domain.TaskResult     `json:"result,omitempty"`
	Errors      []domain.ErrorLogEntry `json:"errors,omitempty"`
	ParentJobID *uuid.UUID             `json:"parent_job_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
// Нечитаемый error log отдаётся одной записью с исходным текстом.
func TaskFromDomain(t domain.Task) TaskResponse {
	resp := TaskResponse{
		ID:          t.ID,
		WorkspaceID: t.WorkspaceID,
		Flow:        t.Flow,
		Status:      t.Status,
		Progress:    t.Progress,
		Result:      t.Result,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}

	if t.ErrorLog != "" {
		entries, err := engine.ParseErrorLog(t.ErrorLog)
		if err != nil {
			entries = []domain.ErrorLogEntry{{Timestamp: t.UpdatedAt, Step: "unknown", Error: t.ErrorLog}}
		}
		resp.Errors = entries
	}

	return resp
}

// Job DTOs

// JobResponse — ответ с job.
type JobResponse struct {
	ID           uuid.UUID       `json:"id"`
	ParentID     *uuid.UUID      `json:"parent_id,omitempty"`
	Name         string          `json:"name"`
	State        domain.JobState `json:"state"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	FailedReason string          `json:"failed_reason,omitempty"`
	ReturnValue  json.RawMessage `json:"return_value,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ProcessedOn  *time.Time      `json:"processed_on,omitempty"`
	FinishedOn   *time.Time      `json:"finished_on,omitempty"`
}

// JobFromDomain конвертирует domain.Job в JobResponse.
func JobFromDomain(j *domain.Job) JobResponse {
	return JobResponse{
		ID:           j.ID,
		ParentID:     j.ParentID,
		Name:         j.Name,
		State:        j.State,
		AttemptsMade: j.AttemptsMade,
		MaxAttempts:  j.MaxAttempts(),
		FailedReason: j.FailedReason,
		ReturnValue:  j.ReturnValue,
		CreatedAt:    j.CreatedAt,
		ProcessedOn:  j.ProcessedOn,
		FinishedOn:   j.FinishedOn,
	}
}

// Flow DTOs

// FlowResponse — ответ с определением flow.
type FlowResponse struct {
	Name             string             `json:"name"`
	Steps            []domain.StepType  `json:"steps"`
	Policy           string             `json:"policy"`
	IndependentSteps []domain.StepType  `json:"independent_steps,omitempty"`
	Retry            domain.RetryPolicy `json:"retry"`
}

// FlowFromDefinition конвертирует orchestrator.FlowDefinition в FlowResponse.
func FlowFromDefinition(f orchestrator.FlowDefinition) FlowResponse {
	var independent []domain.StepType
	for _, s := range f.Steps {
		if f.IsIndependent(s) {
			independent = append(independent, s)
		}
	}

	policy := f.PolicyName
	if policy == "" {
		policy = engine.PolicyAnySuccess
	}

	return FlowResponse{
		Name:             f.Name,
		Steps:            f.Steps,
		Policy:           policy,
		IndependentSteps: independent,
		Retry:            f.Retry,
	}
}
