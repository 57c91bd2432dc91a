// Package worker выполняет jobs очереди.
//
// # Обзор
//
// Worker — stateless компонент. Он получает уведомления job.ready
// из RabbitMQ и периодически забирает waiting jobs из БД. Каждый job
// выполняется через JobProcessor (orchestrator.Orchestrator), а события
// жизненного цикла передаются в его таблицу обработчиков.
//
//	w := worker.New(worker.Config{
//	    Store:     jobRepo,
//	    Processor: orch,
//	    Notifier:  publisher,
//	    Conn:      mqConn,
//	    Logger:    logger,
//	})
//
//	if err := w.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Stop()
//
// # Повторы
//
// Повторы выполняются в процессе, а не через requeue в RabbitMQ:
// после неудачной попытки worker учитывает её в БД, ждёт backoff
// и снова вызывает Process с событием active.
//
// Стратегии backoff:
//   - "exponential": delay = initialDelay * 2^(attempt-1), не больше maxDelay
//   - "fixed": delay = initialDelay
//
// Ошибка, помеченная queue.Unrecoverable, не повторяется.
//
// # Parent jobs
//
// После финального перехода дочернего job worker вызывает
// Store.ResolveChild. Когда последний ребёнок завершён, parent
// переходит в waiting и публикуется job.ready для него.
package worker
