// Package telemetry — логирование и метрики сервисов mediaflow.
//
//   - logging.go — slog (LOG_LEVEL, LOG_FORMAT), логгер в контексте запроса,
//     атрибуты task_id / job_id / step_type
//   - metrics.go — Prometheus: результаты шагов, попадания в кэш, CAS-конфликты,
//     итоги flow, сбои записи статуса, jobs worker'а, ремонт sweeper'а, запросы API
//
// Метрики отдаются на /metrics каждого бинарника.
package telemetry
