package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// StepType — тип шага, ключ таблицы маршрутизации процессоров.
type StepType string

// Шаги flow label-detection.
const (
	StepLabel  StepType = "LABEL"
	StepShot   StepType = "SHOT"
	StepFace   StepType = "FACE"
	StepSpeech StepType = "SPEECH"
	StepText   StepType = "TEXT"
)

// Шаги flow transcode.
const (
	StepProbe     StepType = "PROBE"
	StepTranscode StepType = "TRANSCODE"
	StepThumbnail StepType = "THUMBNAIL"
)

// StepResult — результат одного выполнения шага.
//
// Неизменяем после completed. Запись failed может быть заменена
// running только новой попыткой (StartedAt позже CompletedAt).
type StepResult struct {
	StepType StepType   `json:"stepType"`
	Status   StepStatus `json:"status"`

	// Output — произвольный сериализуемый результат процессора.
	Output json.RawMessage `json:"output,omitempty"`

	// Error — текст ошибки для failed.
	Error string `json:"error,omitempty"`

	// Attempts — сколько попыток было сделано к моменту записи.
	Attempts int `json:"attempts,omitempty"`

	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// IsCompleted возвращает true для успешно завершённого шага.
func (r StepResult) IsCompleted() bool {
	return r.Status == StepStatusCompleted
}

// IsFailed возвращает true для упавшего шага.
func (r StepResult) IsFailed() bool {
	return r.Status == StepStatusFailed
}

// TaskResult — агрегированный результат задачи.
// Строится только engine.BuildTaskResult, вручную не создаётся.
type TaskResult struct {
	Steps          map[StepType]StepResult `json:"steps"`
	CompletedSteps []StepType              `json:"completedSteps"`
	FailedSteps    []StepType              `json:"failedSteps"`
	CurrentStep    StepType                `json:"currentStep,omitempty"`
	StartedAt      *time.Time              `json:"startedAt,omitempty"`
	CompletedAt    *time.Time              `json:"completedAt,omitempty"`
}

// ParentJobData — данные parent job.
//
// Содержит только конфигурацию и кэш результатов шагов.
// Артефакты выполнения (файлы, буферы) здесь не хранятся.
type ParentJobData struct {
	TaskID       uuid.UUID  `json:"taskId"`
	WorkspaceID  string     `json:"workspaceId"`
	Flow         string     `json:"flow"`
	EnabledSteps []StepType `json:"enabledSteps"`

	// StepResults растёт монотонно между повторами.
	StepResults map[StepType]StepResult `json:"stepResults"`

	// Config — конфигурация вызывающей стороны.
	Config map[string]any `json:"config,omitempty"`

	StartedAt *time.Time `json:"startedAt,omitempty"`
}

// StepJobData — данные step job.
// Job с пустым StepType — служебный маркер зависимости очереди.
type StepJobData struct {
	TaskID      uuid.UUID      `json:"taskId"`
	WorkspaceID string         `json:"workspaceId"`
	ParentJobID uuid.UUID      `json:"parentJobId"`
	StepType    StepType       `json:"stepType,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Config      map[string]any `json:"config,omitempty"`
}

// ErrorLogEntry — одна запись лога ошибок задачи.
type ErrorLogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Step      string         `json:"step"`
	Error     string         `json:"error"`
	Stack     string         `json:"stack,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}
