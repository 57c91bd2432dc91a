package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/mediaflow/internal/domain"
	"github.com/shaiso/mediaflow/internal/mq"
	"github.com/shaiso/mediaflow/internal/queue"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultConcurrency  = 4
)

// JobProcessor — обработчик jobs и таблица его событий.
// Реализуется orchestrator.Orchestrator.
type JobProcessor interface {
	Process(ctx context.Context, job *domain.Job) (any, error)
	Handlers() map[queue.Event]queue.EventHandler
}

// Worker выполняет jobs очереди.
//
// Worker — stateless компонент, который:
//   - Получает job.ready из RabbitMQ (event-driven)
//   - Периодически забирает waiting jobs из БД (polling fallback)
//   - Выполняет job через JobProcessor с повторами и backoff
//   - Вызывает обработчики active/completed/failed
//   - Пересчитывает детей parent и будит его, когда все завершены
//
// Несколько worker'ов безопасно потребляют одну очередь: job берёт
// в работу тот, чей MarkActive прошёл первым.
type Worker struct {
	store     queue.Store
	processor JobProcessor
	handlers  map[queue.Event]queue.EventHandler
	notifier  queue.Notifier

	conn     *mq.Connection
	consumer *mq.Consumer

	pollInterval time.Duration
	batchSize    int
	sem          chan struct{}

	// sleep ждёт задержку backoff. Подменяется в тестах.
	sleep func(ctx context.Context, d time.Duration) error

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	Store     queue.Store
	Processor JobProcessor

	// Notifier будит parent, когда его дети завершены (опционально).
	Notifier queue.Notifier

	// Conn — соединение RabbitMQ. Nil — только polling.
	Conn *mq.Connection

	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // jobs за один poll (default: 50)
	Concurrency  int           // jobs в работе одновременно (default: 4)

	Logger *slog.Logger
}

// New создаёт Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handlers map[queue.Event]queue.EventHandler
	if cfg.Processor != nil {
		handlers = cfg.Processor.Handlers()
	}

	return &Worker{
		store:        cfg.Store,
		processor:    cfg.Processor,
		handlers:     handlers,
		notifier:     cfg.Notifier,
		conn:         cfg.Conn,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		sem:          make(chan struct{}, concurrency),
		sleep:        sleepContext,
		logger:       logger,
	}
}

// Start запускает Worker.
//
// Запускает consumer jobs.ready (если есть соединение) и polling.
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
		"concurrency", cap(w.sem),
	)

	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    mq.QueueJobsReady,
			Handler:  w.handleJobReady,
			Prefetch: cap(w.sem),
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("job consumer error", "error", err)
			}
		}()
	} else {
		w.logger.Warn("no RabbitMQ connection, running in polling-only mode")
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker и ждёт завершения jobs в работе.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу: подхватываем jobs, созданные пока worker был выключен.
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll забирает пачку waiting jobs и выполняет их параллельно.
func (w *Worker) poll(ctx context.Context) {
	jobs, err := w.store.ListWaiting(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list waiting jobs", "error", err)
		return
	}

	if len(jobs) == 0 {
		return
	}

	w.logger.Debug("poll found waiting jobs", "count", len(jobs))

	var wg sync.WaitGroup
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case w.sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-w.sem }()

			if err := w.processJob(ctx, job.ID); err != nil && !errors.Is(err, ErrJobNotReady) {
				w.logger.Error("failed to process job from poll",
					"job_id", job.ID,
					"error", err,
				)
			}
		}()
	}
	wg.Wait()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
