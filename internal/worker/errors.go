package worker

import "errors"

// Ошибки воркера.
var (
	// ErrJobNotReady — job не найден или уже не в состоянии waiting.
	ErrJobNotReady = errors.New("job is not ready")
)
