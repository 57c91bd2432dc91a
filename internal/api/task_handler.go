package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/engine"
	"github.com/shaiso/mediaflow/internal/orchestrator"
	"github.com/shaiso/mediaflow/internal/telemetry"
)

// Ограничения выборки списка задач.
const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListTasks возвращает список задач с фильтрацией.
// GET /api/v1/tasks?workspace_id=...&status=...&limit=...&offset=...
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.TaskFilter{
		WorkspaceID: q.Get("workspace_id"),
		Status:      domain.TaskStatus(q.Get("status")),
		Limit:       queryInt(q.Get("limit"), defaultListLimit),
		Offset:      queryInt(q.Get("offset"), 0),
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		BadRequest(w, "invalid status")
		return
	}
	if filter.Limit <= 0 || filter.Limit > maxListLimit {
		filter.Limit = defaultListLimit
	}

	tasks, err := h.tasks.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]TaskResponse, len(tasks))
	for i, t := range tasks {
		result[i] = TaskFromDomain(t)
	}

	List(w, result, len(result))
}

// CreateTask создаёт задачу в статусе QUEUED и запускает flow.
// POST /api/v1/tasks
func (h *Handler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.WorkspaceID == "" {
		BadRequest(w, "workspace_id is required")
		return
	}
	if req.Flow == "" {
		BadRequest(w, "flow is required")
		return
	}

	enqueue := orchestrator.EnqueueRequest{
		WorkspaceID:  req.WorkspaceID,
		Flow:         req.Flow,
		EnabledSteps: make([]domain.StepType, len(req.Steps)),
		Config:       req.Config,
		Inputs:       req.Inputs,
	}
	for i, s := range req.Steps {
		enqueue.EnabledSteps[i] = domain.StepType(s)
	}

	// 1. Проверяем flow и шаги до создания задачи
	if _, _, err := h.producer.Resolve(enqueue); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnknownFlow):
			InvalidFlow(w, err.Error(), map[string]any{"available_flows": h.flowNames()})
		case errors.Is(err, orchestrator.ErrStepNotInFlow):
			flow := h.producer.Flows()[req.Flow]
			InvalidFlow(w, err.Error(), map[string]any{"flow_steps": flow.Steps})
		case errors.Is(err, engine.ErrDuplicateStepType),
			errors.Is(err, engine.ErrEmptyStepType),
			errors.Is(err, engine.ErrEmptySteps):
			InvalidFlow(w, err.Error(), nil)
		default:
			InternalError(w, h.logger, err)
		}
		return
	}

	// 2. Task record
	task := domain.NewTask(req.WorkspaceID, req.Flow)
	if err := h.tasks.Create(r.Context(), task); HandleRepoError(w, h.logger, err, "") {
		return
	}

	// 3. Jobs
	enqueue.TaskID = task.ID
	parentID, err := h.producer.Enqueue(r.Context(), enqueue)
	if err != nil {
		h.failTask(r, task, err)
		InternalError(w, h.logger, err)
		return
	}

	telemetry.FromContext(r.Context()).Info("task created",
		"task_id", task.ID,
		"workspace_id", task.WorkspaceID,
		"flow", task.Flow,
		"parent_job_id", parentID,
	)

	resp := TaskFromDomain(*task)
	resp.ParentJobID = &parentID
	Created(w, resp)
}

// failTask помечает задачу FAILED, если flow не удалось поставить в очередь.
func (h *Handler) failTask(r *http.Request, task *domain.Task, cause error) {
	failed := domain.TaskStatusFailed
	errorLog := engine.AppendErrorLog("", domain.ErrorLogEntry{
		Timestamp: task.CreatedAt.UTC(),
		Step:      "enqueue",
		Error:     cause.Error(),
	})

	err := h.tasks.UpdateTask(r.Context(), task.ID, domain.TaskUpdate{
		Status:   &failed,
		ErrorLog: &errorLog,
	})
	if err != nil {
		telemetry.FromContext(r.Context()).Error("failed to mark task failed",
			"task_id", task.ID,
			"error", err,
		)
	}
}

// GetTask возвращает задачу по ID.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	task, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(*task))
}

// ListTaskJobs возвращает jobs задачи: parent и step jobs.
// GET /api/v1/tasks/{id}/jobs
func (h *Handler) ListTaskJobs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	// Проверяем, что задача существует
	_, err = h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	jobs, err := h.jobs.ListByTask(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]JobResponse, len(jobs))
	for i, j := range jobs {
		result[i] = JobFromDomain(j)
	}

	List(w, result, len(result))
}

// queryInt парсит query-параметр с дефолтным значением.
func queryInt(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return n
}
