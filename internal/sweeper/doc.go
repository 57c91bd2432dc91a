// Package sweeper обслуживает очередь jobs по расписанию.
//
// Tick восстанавливает то, что worker мог потерять при сбое:
//   - parent в waiting-children, все дети которого уже завершены;
//   - active job, который остановленный worker не довёл до конца.
//
// Восстановленные jobs возвращаются в waiting и публикуются в RabbitMQ.
//
// Использование:
//
//	sw := sweeper.New(sweeper.Config{
//	    Store:    jobRepo,
//	    Notifier: publisher, // опционально
//	    Logger:   logger,
//	})
//
//	err := sw.Run(ctx, sweeper.RunOptions{
//	    Schedule: "@every 1m",
//	    LockPath: "/tmp/mediaflow-sweeper.lock",
//	})
package sweeper
