package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/shaiso/mediaflow/internal/domain"
)

// LogLevel определяет уровень логирования из LOG_LEVEL (регистр не важен).
// Возможные значения: DEBUG, INFO, WARN, ERROR. По умолчанию: INFO.
func LogLevel() slog.Level {
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger инициализирует глобальный логгер сервиса.
//
// Формат вывода определяется переменной LOG_FORMAT:
//   - "json" (по умолчанию) — JSON формат для production
//   - "text" — человекочитаемый формат для разработки
//
// Каждая запись содержит атрибут service.
func SetupLogger(service string) *slog.Logger {
	logger := NewLogger(os.Stdout, os.Getenv("LOG_FORMAT"), LogLevel()).With("service", service)
	slog.SetDefault(logger)
	return logger
}

// NewLogger создаёт логгер с заданным форматом и уровнем.
func NewLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

type ctxKey struct{}

// WithLogger добавляет логгер в контекст.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext извлекает логгер из контекста.
// Если логгер не найден, возвращает глобальный.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// WithTaskID возвращает логгер с добавленным task_id.
func WithTaskID(logger *slog.Logger, taskID uuid.UUID) *slog.Logger {
	return logger.With("task_id", taskID.String())
}

// WithJobID возвращает логгер с добавленным job_id.
func WithJobID(logger *slog.Logger, jobID uuid.UUID) *slog.Logger {
	return logger.With("job_id", jobID.String())
}

// WithStepType возвращает логгер с добавленным step_type.
func WithStepType(logger *slog.Logger, stepType domain.StepType) *slog.Logger {
	return logger.With("step_type", string(stepType))
}

// Discard возвращает логгер, который ничего не пишет.
// Используется в тестах и как значение по умолчанию в Config.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
