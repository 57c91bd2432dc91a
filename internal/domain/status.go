package domain

// TaskStatus — статус задачи, видимый вызывающей стороне.
//
// Жизненный цикл:
//
//	QUEUED → RUNNING → SUCCESS
//	                 ↘ FAILED
type TaskStatus string

const (
	// TaskStatusQueued — задача создана, flow ещё не начал выполняться.
	TaskStatusQueued TaskStatus = "QUEUED"

	// TaskStatusRunning — хотя бы один job flow в работе.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSuccess — политика частичного успеха приняла результат.
	TaskStatusSuccess TaskStatus = "SUCCESS"

	// TaskStatusFailed — flow завершился с ошибкой.
	TaskStatusFailed TaskStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSuccess, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// IsValid проверяет, что статус известен.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusSuccess, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// JobState — состояние job в очереди.
//
// Жизненный цикл:
//
//	waiting-children → waiting → active → completed
//	                                    ↘ failed
//
// Parent job создаётся в waiting-children и переходит в waiting,
// когда все дочерние jobs достигли финального состояния.
type JobState string

const (
	// JobStateWaiting — job готов к выполнению.
	JobStateWaiting JobState = "waiting"

	// JobStateWaitingChildren — parent job ждёт завершения дочерних jobs.
	JobStateWaitingChildren JobState = "waiting-children"

	// JobStateActive — job выполняется воркером.
	JobStateActive JobState = "active"

	// JobStateCompleted — job успешно завершён.
	JobStateCompleted JobState = "completed"

	// JobStateFailed — job завершился с ошибкой после всех попыток.
	JobStateFailed JobState = "failed"
)

// IsTerminal возвращает true, если состояние финальное.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed:
		return true
	default:
		return false
	}
}

// StepStatus — статус выполнения одного шага.
//
// Жизненный цикл:
//
//	(none) → running → completed
//	                 ↘ failed (retry → обратно в running)
type StepStatus string

const (
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// IsTerminal возвращает true для completed и failed.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// IsValid проверяет, что статус известен.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepStatusRunning, StepStatusCompleted, StepStatusFailed:
		return true
	default:
		return false
	}
}
