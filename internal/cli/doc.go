// Package cli реализует инструмент командной строки mediaflow.
//
// # Обзор
//
// CLI — клиентская утилита для взаимодействия с mediaflow API.
// Работает через HTTP, не импортирует внутренние пакеты системы.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для API. Инкапсулирует все HTTP-запросы,
// парсинг ответов (DataResponse, ListResponse, ErrorResponse)
// и обработку ошибок.
//
//	client := cli.NewClient("http://localhost:8080")
//	task, err := client.GetTask(id)
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (go-pretty) — по умолчанию; рамки только если stdout терминал
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: mediaflow task list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - task: create, list, show, jobs
//   - flow: list
//
// Каждая группа создаётся через фабричную функцию (NewTaskCmd, NewFlowCmd),
// принимающую clientFn и outputFn — замыкания для ленивого создания
// Client и Output после парсинга PersistentFlags.
package cli
