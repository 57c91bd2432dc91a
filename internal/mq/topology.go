package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeJobs Exchange = "mediaflow.jobs"
	ExchangeDLQ  Exchange = "mediaflow.dlq"
)

// Queues — имена очередей.
const (
	QueueJobsReady Queue = "jobs.ready"
	QueueDLQJobs   Queue = "dlq.jobs"
)

// Routing keys.
const (
	RoutingKeyReady   RoutingKey = "ready"
	RoutingKeyDLQJobs RoutingKey = "jobs"
)

// binding — очередь, привязанная к обменнику.
type binding struct {
	queue      Queue
	exchange   Exchange
	routingKey RoutingKey
	args       amqp.Table
}

// topology описывает все очереди mediaflow.
//
// jobs.ready получает уведомления о готовых jobs. Сообщения, отклонённые
// без requeue, уходят в dlq.jobs.
var topology = []binding{
	{
		queue:      QueueJobsReady,
		exchange:   ExchangeJobs,
		routingKey: RoutingKeyReady,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
		},
	},
	{
		queue:      QueueDLQJobs,
		exchange:   ExchangeDLQ,
		routingKey: RoutingKeyDLQJobs,
	},
}

// SetupTopology объявляет обменники, очереди и привязки. Идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeJobs, ExchangeDLQ} {
			err := ch.ExchangeDeclare(
				string(ex), // name
				"direct",   // type
				true,       // durable
				false,      // auto-deleted
				false,      // internal
				false,      // no-wait
				nil,        // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range topology {
			_, err := ch.QueueDeclare(
				string(b.queue), // name
				true,            // durable
				false,           // delete when unused
				false,           // exclusive
				false,           // no-wait
				b.args,          // arguments
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}

			if err := ch.QueueBind(string(b.queue), string(b.routingKey), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  mediaflow RabbitMQ topology:

    mediaflow.jobs (direct)
    └── jobs.ready [routing: ready]
            Consumer: mediaflow-worker
            DLQ: dlq.jobs

    mediaflow.dlq (direct)
    └── dlq.jobs [routing: jobs]
            Manual processing
  `
}
