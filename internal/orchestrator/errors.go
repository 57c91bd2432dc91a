package orchestrator

import "errors"

// Ошибки оркестратора.
var (
	// ErrUnknownFlow — flow не описан в конфигурации.
	ErrUnknownFlow = errors.New("unknown flow")

	// ErrStepNotInFlow — включённый шаг не входит в flow.
	ErrStepNotInFlow = errors.New("step is not part of flow")

	// ErrInvalidFlow — определение flow не прошло валидацию.
	ErrInvalidFlow = errors.New("invalid flow definition")

	// ErrInvalidJobData — данные job не разбираются.
	ErrInvalidJobData = errors.New("invalid job data")

	// ErrParentDataConflict — данные parent job не удалось обновить
	// за отведённое число попыток compare-and-swap.
	ErrParentDataConflict = errors.New("parent job data update kept conflicting")
)
