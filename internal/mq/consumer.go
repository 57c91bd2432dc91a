package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrReject — сообщение не может быть обработано никогда.
// Обработчик оборачивает её, чтобы отправить сообщение сразу в DLQ.
var ErrReject = errors.New("message rejected")

// Handler — функция обработки сообщения.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	Message Message
	Raw     amqp.Delivery
}

// Consumer потребляет сообщения из очереди RabbitMQ.
//
// Сообщения обрабатываются параллельно, до Prefetch одновременно.
// Ошибка обработчика возвращает сообщение в очередь один раз;
// повторная доставка с ошибкой уходит в DLQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	Queue   Queue
	Handler Handler

	// Prefetch — сообщений в работе одновременно (default: 1).
	Prefetch int
}

// NewConsumer создаёт Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Run потребляет сообщения до отмены ctx, переживая переподключения.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		ch, deliveries, err := c.subscribe()
		if err != nil {
			c.logger.Error("failed to setup consume", "queue", c.queue, "error", err)
		} else {
			c.logger.Info("consumer started", "queue", c.queue)
			err = c.drain(ctx, deliveries)
			ch.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", c.queue, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.conn.ReconnectNotify():
			c.logger.Info("reconnected, restarting consumer", "queue", c.queue)
		}
	}
}

func (c *Consumer) subscribe() (*amqp.Channel, <-chan amqp.Delivery, error) {
	ch, err := c.conn.OpenChannel()
	if err != nil {
		return nil, nil, err
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue),
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, nil, fmt.Errorf("consume: %w", err)
	}

	return ch, deliveries, nil
}

// drain раздаёт сообщения обработчикам, не больше prefetch одновременно.
// Перед возвратом ждёт обработчики, которые ещё в работе.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	sem := make(chan struct{}, c.prefetch)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-deliveries:
			if !ok {
				return errors.New("deliveries channel closed")
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				raw.Nack(false, true)
				return ctx.Err()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				c.handle(ctx, raw)
			}()
		}
	}
}

// handle обрабатывает одно сообщение и подтверждает его.
func (c *Consumer) handle(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message",
			"queue", c.queue,
			"error", err,
			"body", string(raw.Body),
		)
		raw.Nack(false, false)
		return
	}

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	if err == nil {
		raw.Ack(false)
		return
	}

	requeue := !raw.Redelivered && !errors.Is(err, ErrReject)
	c.logger.Error("handler failed",
		"queue", c.queue,
		"message_id", msg.ID,
		"type", msg.Type,
		"requeue", requeue,
		"error", err,
	)
	raw.Nack(false, requeue)
}

// ParsePayload разбирает payload сообщения в тип T.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("marshal payload: %w", err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("unmarshal payload: %w", err)
	}

	return result, nil
}
