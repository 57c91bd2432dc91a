package steps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/queue"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи JobContext.Config, переопределяющие маршрут для одной задачи.
const (
	ConfigHeaders       = "headers"        // map: дополнительные заголовки
	ConfigTimeoutSec    = "timeout_sec"    // int: таймаут запроса, не больше таймаута маршрута
	ConfigDedupEntities = "dedup_entities" // bool: дедупликация entities
	ConfigRequestID     = "request_id"     // string: X-Request-ID (default: ID job)
)

// HTTPConfig — настройки HTTPProcessor из таблицы маршрутизации.
type HTTPConfig struct {
	// Endpoint — URL внешнего сервиса шага (обязательно).
	Endpoint string

	// Method — HTTP метод. Default: POST.
	Method string

	// Headers — дополнительные заголовки запроса.
	Headers map[string]string

	// Timeout — таймаут одного запроса. Default: 30s.
	Timeout time.Duration

	// DedupEntities — дедуплицировать поле "entities" ответа через EntityCache.
	DedupEntities bool
}

// HTTPProcessor — процессор, делегирующий шаг внешнему сервису.
//
// Детекция меток, лиц, речи, транскодирование и т.п. выполняются
// отдельными сервисами. Процессор отправляет им JSON:
//
//	{
//	    "taskId": "...",
//	    "workspaceId": "...",
//	    "jobId": "...",
//	    "stepType": "LABEL",
//	    "attempt": 1,
//	    "input": {...},
//	    "config": {...}
//	}
//
// и возвращает разобранное тело ответа как output шага.
// Ответ 4xx (кроме 408 и 429) не повторяется.
//
// Ключи Config* в конфигурации задачи переопределяют заголовки,
// таймаут и дедупликацию маршрута.
type HTTPProcessor struct {
	cfg    HTTPConfig
	client *http.Client
}

// stepRequest — тело запроса к сервису шага.
type stepRequest struct {
	TaskID      uuid.UUID       `json:"taskId"`
	WorkspaceID string          `json:"workspaceId"`
	JobID       uuid.UUID       `json:"jobId"`
	StepType    domain.StepType `json:"stepType"`
	Attempt     int             `json:"attempt"`
	Input       map[string]any  `json:"input"`
	Config      map[string]any  `json:"config,omitempty"`
}

// NewHTTPProcessor создаёт HTTPProcessor.
func NewHTTPProcessor(cfg HTTPConfig) (*HTTPProcessor, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint is required", ErrInvalidConfig)
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	cfg.Method = strings.ToUpper(cfg.Method)
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	return &HTTPProcessor{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Process реализует Processor.
func (p *HTTPProcessor) Process(ctx context.Context, input map[string]any, jc JobContext) (any, error) {
	if input == nil {
		input = make(map[string]any)
	}

	body, err := json.Marshal(stepRequest{
		TaskID:      jc.TaskID,
		WorkspaceID: jc.WorkspaceID,
		JobID:       jc.JobID,
		StepType:    jc.StepType,
		Attempt:     jc.Attempt,
		Input:       input,
		Config:      jc.Config,
	})
	if err != nil {
		return nil, queue.Unrecoverable(fmt.Errorf("%w: marshal request: %v", ErrInvalidConfig, err))
	}

	reqCtx := ctx
	if sec := GetConfigInt(jc.Config, ConfigTimeoutSec); sec > 0 {
		if timeout := time.Duration(sec) * time.Second; timeout < p.cfg.Timeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	req, err := http.NewRequestWithContext(reqCtx, p.cfg.Method, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, queue.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range p.cfg.Headers {
		req.Header.Set(key, value)
	}
	for key, value := range GetConfigMapString(jc.Config, ConfigHeaders) {
		req.Header.Set(key, value)
	}

	requestID := GetConfigString(jc.Config, ConfigRequestID)
	if requestID == "" {
		requestID = jc.JobID.String()
	}
	req.Header.Set("X-Request-ID", requestID)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrStepCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       truncate(string(respBody), 200),
		}
		if !httpErr.Retryable() {
			return nil, queue.Unrecoverable(httpErr)
		}
		return nil, httpErr
	}

	output := parseBody(resp, respBody)

	if GetConfigBool(jc.Config, ConfigDedupEntities, p.cfg.DedupEntities) && jc.Entities != nil {
		if m, ok := output.(map[string]any); ok {
			if err := dedupEntities(m, jc.Entities); err != nil {
				return nil, err
			}
		}
	}

	return output, nil
}

// parseBody разбирает JSON ответ, иначе возвращает строку.
func parseBody(resp *http.Response, body []byte) any {
	if len(body) == 0 {
		return map[string]any{}
	}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			return parsed
		}
	}
	return string(body)
}

// dedupEntities заменяет output["entities"] уникальным списком.
func dedupEntities(output map[string]any, cache *EntityCache) error {
	raw, ok := output["entities"]
	if !ok {
		return nil
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	var entities []Entity
	if err := json.Unmarshal(b, &entities); err != nil {
		return fmt.Errorf("decode entities: %w", err)
	}

	output["entities"] = cache.Dedup(entities)
	return nil
}

// HTTPError — ответ сервиса шага с кодом >= 400.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

// Error реализует интерфейс error.
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable возвращает true для 5xx, 408 и 429.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode >= 500 ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests
}

// IsHTTPError проверяет, является ли ошибка HTTP ошибкой.
func IsHTTPError(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
