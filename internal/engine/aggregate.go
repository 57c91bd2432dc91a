package engine

import (
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/shaiso/mediaflow/internal/domain"
)

// BuildTaskResult строит TaskResult из map результатов шагов.
//
// completed и failed попадают в соответствующие списки (отсортированные
// по типу шага, чтобы результат не зависел от порядка слияния),
// running проходят в Steps без изменений. CurrentStep — running-шаг,
// начавшийся позже остальных.
func BuildTaskResult(results map[domain.StepType]domain.StepResult, startedAt, completedAt *time.Time) domain.TaskResult {
	tr := domain.TaskResult{
		Steps:          make(map[domain.StepType]domain.StepResult, len(results)),
		CompletedSteps: []domain.StepType{},
		FailedSteps:    []domain.StepType{},
		StartedAt:      startedAt,
		CompletedAt:    completedAt,
	}

	var current *domain.StepResult
	for _, stepType := range slices.Sorted(maps.Keys(results)) {
		r := results[stepType]
		tr.Steps[stepType] = r

		switch r.Status {
		case domain.StepStatusCompleted:
			tr.CompletedSteps = append(tr.CompletedSteps, stepType)
		case domain.StepStatusFailed:
			tr.FailedSteps = append(tr.FailedSteps, stepType)
		case domain.StepStatusRunning:
			if current == nil || after(r.StartedAt, current.StartedAt) {
				current = &r
			}
		}
	}

	if current != nil {
		tr.CurrentStep = current.StepType
	}

	return tr
}

// MergeStepResult сливает результат в map. Возвращает true, если map изменилась.
//
// Слияние идемпотентно и не зависит от порядка:
//   - completed неизменяем и вытесняет всё остальное;
//   - failed вытесняет running той же или более поздней попытки;
//   - running вытесняет failed только если начался после его завершения (новая попытка);
//   - из двух записей одного статуса остаётся более поздняя.
func MergeStepResult(results map[domain.StepType]domain.StepResult, next domain.StepResult) bool {
	cur, ok := results[next.StepType]
	if !ok || supersedes(cur, next) {
		results[next.StepType] = next
		return true
	}
	return false
}

// MergeStepResults сливает все записи src в dst.
func MergeStepResults(dst, src map[domain.StepType]domain.StepResult) bool {
	changed := false
	for _, stepType := range slices.Sorted(maps.Keys(src)) {
		if MergeStepResult(dst, src[stepType]) {
			changed = true
		}
	}
	return changed
}

func supersedes(cur, next domain.StepResult) bool {
	switch cur.Status {
	case domain.StepStatusCompleted:
		return false

	case domain.StepStatusFailed:
		switch next.Status {
		case domain.StepStatusCompleted:
			return true
		case domain.StepStatusFailed:
			return after(next.CompletedAt, cur.CompletedAt)
		case domain.StepStatusRunning:
			return after(next.StartedAt, cur.CompletedAt)
		}

	case domain.StepStatusRunning:
		switch next.Status {
		case domain.StepStatusCompleted:
			return true
		case domain.StepStatusFailed:
			// failed предыдущей попытки не должен затирать новую.
			return next.CompletedAt == nil || cur.StartedAt == nil || !next.CompletedAt.Before(*cur.StartedAt)
		case domain.StepStatusRunning:
			return after(next.StartedAt, cur.StartedAt)
		}
	}

	return !cur.Status.IsValid() && next.Status.IsValid()
}

// after возвращает true, если оба времени заданы и a строго позже b.
func after(a, b *time.Time) bool {
	return a != nil && b != nil && a.After(*b)
}

// AggregateErrorLogs собирает по одной записи на каждый failed-шаг с непустой ошибкой.
//
// Записи упорядочены по времени возникновения. Если ошибок нет,
// возвращает пустую строку — это "нет лога", а не поле для отчёта.
func AggregateErrorLogs(results map[domain.StepType]domain.StepResult) string {
	entries := make([]domain.ErrorLogEntry, 0)
	for _, r := range results {
		if !r.IsFailed() || r.Error == "" {
			continue
		}
		entries = append(entries, errorLogEntry(r))
	}

	if len(entries) == 0 {
		return ""
	}

	sortEntries(entries)
	return marshalEntries(entries)
}

// AppendErrorLog добавляет запись к существующему логу ошибок.
// Нечитаемый прежний лог сохраняется как отдельная запись.
func AppendErrorLog(log string, entry domain.ErrorLogEntry) string {
	entries, err := ParseErrorLog(log)
	if err != nil {
		entries = []domain.ErrorLogEntry{{
			Timestamp: entry.Timestamp,
			Step:      "unknown",
			Error:     log,
		}}
	}
	entries = append(entries, entry)
	return marshalEntries(entries)
}

// ParseErrorLog разбирает лог ошибок. Пустая строка — пустой лог.
func ParseErrorLog(log string) ([]domain.ErrorLogEntry, error) {
	if log == "" {
		return nil, nil
	}
	var entries []domain.ErrorLogEntry
	if err := json.Unmarshal([]byte(log), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Progress возвращает долю завершённых (completed или failed) включённых шагов в процентах.
func Progress(enabled []domain.StepType, results map[domain.StepType]domain.StepResult) int {
	if len(enabled) == 0 {
		return 0
	}

	done := 0
	for _, s := range enabled {
		if r, ok := results[s]; ok && r.Status.IsTerminal() {
			done++
		}
	}

	return done * 100 / len(enabled)
}

func errorLogEntry(r domain.StepResult) domain.ErrorLogEntry {
	entry := domain.ErrorLogEntry{
		Step:  string(r.StepType),
		Error: r.Error,
	}

	switch {
	case r.CompletedAt != nil:
		entry.Timestamp = *r.CompletedAt
	case r.StartedAt != nil:
		entry.Timestamp = *r.StartedAt
	}

	ctx := make(map[string]any)
	if r.Attempts > 0 {
		ctx["attempts"] = r.Attempts
	}
	if r.StartedAt != nil {
		ctx["startedAt"] = r.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if len(ctx) > 0 {
		entry.Context = ctx
	}

	return entry
}

func sortEntries(entries []domain.ErrorLogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
			return entries[i].Timestamp.Before(entries[j].Timestamp)
		}
		return entries[i].Step < entries[j].Step
	})
}

func marshalEntries(entries []domain.ErrorLogEntry) string {
	data, err := json.Marshal(entries)
	if err != nil {
		return ""
	}
	return string(data)
}
