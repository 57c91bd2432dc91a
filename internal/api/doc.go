// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go      — Handler и узкие интерфейсы зависимостей
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — middleware (logging, metrics, recovery)
//   - response.go     — унифицированные JSON-ответы и обработка ошибок
//   - dto.go          — Data Transfer Objects (request/response)
//   - task_handler.go — обработчики для /tasks
//   - flow_handler.go — обработчики для /flows
//
// POST /api/v1/tasks создаёт task record в статусе QUEUED и ставит
// flow в очередь. Дальше статус задачи ведёт только оркестратор.
package api
