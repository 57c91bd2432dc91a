package queue

import "errors"

// Ошибки очереди.
var (
	// ErrJobNotFound — job не найден.
	ErrJobNotFound = errors.New("job not found")

	// ErrVersionConflict — данные job изменились с момента чтения.
	ErrVersionConflict = errors.New("job data version conflict")

	// ErrJobNotWaiting — job нельзя взять в работу: он не в состоянии waiting.
	ErrJobNotWaiting = errors.New("job is not waiting")

	// ErrJobNotActive — job не в состоянии active.
	ErrJobNotActive = errors.New("job is not active")

	// ErrInvalidFlow — flow собран неверно.
	ErrInvalidFlow = errors.New("invalid flow")
)

// unrecoverableError помечает ошибку, после которой job не повторяется.
type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string {
	return e.err.Error()
}

func (e *unrecoverableError) Unwrap() error {
	return e.err
}

// Unrecoverable оборачивает ошибку так, что worker сразу переводит job в failed.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable проверяет, помечена ли ошибка как неповторяемая.
func IsUnrecoverable(err error) bool {
	var u *unrecoverableError
	return errors.As(err, &u)
}
