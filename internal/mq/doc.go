// Package mq — транспорт уведомлений о готовых jobs поверх RabbitMQ.
//
// Структура:
//   - connection.go — соединение с автоматическим переподключением
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация job.ready (реализует queue.Notifier)
//   - consumer.go   — потребление с ack/nack и DLQ
//
// Сообщения не несут состояния: источник истины — таблица jobs.
// Потерянное уведомление подбирает polling worker'а.
package mq
