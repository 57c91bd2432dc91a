package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// MessageTypeJobReady — job готов к выполнению.
const MessageTypeJobReady MessageType = "job.ready"

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// JobReadyPayload — payload сообщения job.ready.
//
// Несёт только ID: состояние job читается из БД, сообщение
// лишь будит worker.
type JobReadyPayload struct {
	JobID uuid.UUID `json:"job_id"`
}

// Publisher публикует сообщения в RabbitMQ.
// Реализует queue.Notifier.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Publish публикует сообщение в exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),
			string(routingKey),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Type:         string(msg.Type),
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// NotifyReady публикует job.ready. Потребитель: worker.
func (p *Publisher) NotifyReady(ctx context.Context, jobID uuid.UUID) error {
	return p.Publish(ctx, ExchangeJobs, RoutingKeyReady, NewJobReadyMessage(jobID))
}

// NewJobReadyMessage собирает сообщение job.ready.
func NewJobReadyMessage(jobID uuid.UUID) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobReady,
		Payload:   JobReadyPayload{JobID: jobID},
		Timestamp: time.Now().UTC(),
	}
}
