package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/shaiso/mediaflow/internal/sweeper"
)

// Validate проверяет конфигурацию и возвращает все найденные ошибки.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Database.URL == "" {
		add("database.url is required")
	}
	if c.RabbitMQ.URL == "" {
		add("rabbitmq.url is required")
	}

	for name, port := range map[string]int{
		"api.port":     c.API.Port,
		"worker.port":  c.Worker.Port,
		"sweeper.port": c.Sweeper.Port,
	} {
		if port <= 0 || port > 65535 {
			add("%s must be in 1..65535, got %d", name, port)
		}
	}

	if c.Worker.Concurrency <= 0 {
		add("worker.concurrency must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		add("worker.batch_size must be positive")
	}
	if c.Worker.PollIntervalSec <= 0 {
		add("worker.poll_interval_sec must be positive")
	}
	if c.Worker.MaxConflictRetries < 0 {
		add("worker.max_conflict_retries must not be negative")
	}

	if err := sweeper.ValidateSchedule(c.Sweeper.Schedule); err != nil {
		add("%v", err)
	}
	if c.Sweeper.StaleAfterSec <= 0 {
		add("sweeper.stale_after_sec must be positive")
	}

	for stepType, s := range c.Steps {
		if err := validateEndpoint(s.Endpoint); err != nil {
			add("steps.%s.endpoint: %v", stepType, err)
		}
		if s.TimeoutSec < 0 {
			add("steps.%s.timeout_sec must not be negative", stepType)
		}
	}

	if _, err := c.FlowDefinitions(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateEndpoint(endpoint string) error {
	if endpoint == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
