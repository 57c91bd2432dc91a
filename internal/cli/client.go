package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// TaskResponse — задача из API.
type TaskResponse struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspace_id"`
	Flow        string          `json:"flow"`
	Status      string          `json:"status"`
	Progress    int             `json:"progress"`
	Result      *TaskResult     `json:"result,omitempty"`
	Errors      []ErrorLogEntry `json:"errors,omitempty"`
	ParentJobID string          `json:"parent_job_id,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

// TaskResult — агрегированный результат шагов.
type TaskResult struct {
	Steps          map[string]StepResult `json:"steps"`
	CompletedSteps []string              `json:"completedSteps"`
	FailedSteps    []string              `json:"failedSteps"`
	CurrentStep    string                `json:"currentStep,omitempty"`
}

// StepResult — результат одного шага.
type StepResult struct {
	StepType    string `json:"stepType"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
	StartedAt   string `json:"startedAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// ErrorLogEntry — запись лога ошибок задачи.
type ErrorLogEntry struct {
	Timestamp string `json:"timestamp"`
	Step      string `json:"step"`
	Error     string `json:"error"`
}

// JobResponse — job из API.
type JobResponse struct {
	ID           string `json:"id"`
	ParentID     string `json:"parent_id,omitempty"`
	Name         string `json:"name"`
	State        string `json:"state"`
	AttemptsMade int    `json:"attempts_made"`
	MaxAttempts  int    `json:"max_attempts"`
	FailedReason string `json:"failed_reason,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// FlowResponse — определение flow из API.
type FlowResponse struct {
	Name             string   `json:"name"`
	Steps            []string `json:"steps"`
	Policy           string   `json:"policy"`
	IndependentSteps []string `json:"independent_steps,omitempty"`
	Retry            struct {
		MaxAttempts int    `json:"max_attempts,omitempty"`
		Backoff     string `json:"backoff,omitempty"`
	} `json:"retry"`
}

// --- Request types ---

// CreateTaskRequest — создание задачи.
type CreateTaskRequest struct {
	WorkspaceID string         `json:"workspace_id"`
	Flow        string         `json:"flow"`
	Steps       []string       `json:"steps,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
	Inputs      map[string]any `json:"inputs,omitempty"`
}

// ListTasksOpts — параметры фильтрации задач.
type ListTasksOpts struct {
	WorkspaceID string
	Status      string
	Limit       int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для mediaflow API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Flows ---

// ListFlows возвращает все flows.
func (c *Client) ListFlows() ([]FlowResponse, error) {
	var flows []FlowResponse
	err := c.list("/api/v1/flows", nil, &flows)
	return flows, err
}

// --- Tasks ---

// CreateTask создаёт задачу и запускает flow.
func (c *Client) CreateTask(req CreateTaskRequest) (*TaskResponse, error) {
	var task TaskResponse
	err := c.post("/api/v1/tasks", req, &task)
	return &task, err
}

// GetTask возвращает задачу по ID.
func (c *Client) GetTask(id string) (*TaskResponse, error) {
	var task TaskResponse
	err := c.get("/api/v1/tasks/"+url.PathEscape(id), &task)
	return &task, err
}

// ListTasks возвращает задачи с фильтрацией.
func (c *Client) ListTasks(opts ListTasksOpts) ([]TaskResponse, error) {
	params := url.Values{}
	if opts.WorkspaceID != "" {
		params.Set("workspace_id", opts.WorkspaceID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", strconv.Itoa(opts.Limit))
	}

	var tasks []TaskResponse
	err := c.list("/api/v1/tasks", params, &tasks)
	return tasks, err
}

// ListTaskJobs возвращает jobs задачи.
func (c *Client) ListTaskJobs(taskID string) ([]JobResponse, error) {
	var jobs []JobResponse
	err := c.list("/api/v1/tasks/"+url.PathEscape(taskID)+"/jobs", nil, &jobs)
	return jobs, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	msg := fmt.Sprintf("%s: %s", er.Error.Code, er.Error.Message)
	if len(er.Error.Details) == 0 {
		return errors.New(msg)
	}

	keys := make([]string, 0, len(er.Error.Details))
	for k := range er.Error.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, er.Error.Details[k])
	}
	return fmt.Errorf("%s (%s)", msg, strings.Join(parts, ", "))
}
