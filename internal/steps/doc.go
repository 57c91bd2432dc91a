// Package steps содержит процессоры шагов и таблицу маршрутизации.
//
// # Processor
//
// Каждый тип шага (LABEL, FACE, TRANSCODE, ...) обслуживается одним
// Processor:
//
//	type Processor interface {
//	    Process(ctx context.Context, input map[string]any, jc JobContext) (any, error)
//	}
//
// input — конфигурация шага, JobContext — идентификаторы задачи и job,
// номер попытки и EntityCache. Результат сериализуется в StepResult.Output.
// Процессор ничего не знает об оркестрации: кэш результатов, повторы и
// отчёт о статусе делает orchestrator.
//
// # Registry
//
// Registry — статическая таблица тип шага → Processor:
//
//	registry, err := steps.NewHTTPRegistry(cfg.StepRoutes())
//	p, err := registry.Get(domain.StepLabel)
//	if errors.Is(err, steps.ErrUnknownStepType) {
//	    // ошибка программиста, шаг не повторяется
//	}
//
// # HTTPProcessor
//
// Конкретные вычисления выполняют внешние сервисы. HTTPProcessor
// отправляет им input шага и возвращает тело ответа. Ответы 5xx, 408 и
// 429 повторяются очередью, остальные 4xx помечаются queue.Unrecoverable.
//
// # EntityCache
//
// Детекторы часто возвращают одну метку несколько раз. При
// dedup_entities HTTPProcessor пропускает поле "entities" ответа через
// EntityCache из JobContext. Кэш создаётся на одно выполнение шага.
//
// # Файлы пакета
//
//   - step.go     — Processor, JobContext, ошибки, хелперы конфига
//   - registry.go — Registry
//   - http.go     — HTTPProcessor
//   - entity.go   — EntityCache
package steps
