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
	ExchangeRuns Exchange = "tta.runs"
	ExchangeDLQ  Exchange = "tta.dlq"
)

// Queues — имена очередей.
const (
	QueueRunsFinished Queue = "runs.finished"
	QueueDLQRuns      Queue = "dlq.runs"
)

// Routing keys.
const (
	RoutingKeyFinished RoutingKey = "finished"
	RoutingKeyDLQRuns  RoutingKey = "runs"
)

// SetupTopology объявляет exchanges, очереди и привязки.
// Операции идемпотентны, вызывать можно при каждом старте.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeRuns, ExchangeDLQ} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // type
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// runs.finished — отклонённые события уходят в DLQ
		{QueueRunsFinished, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQRuns),
		}},

		// dlq.runs — сама DLQ очередь
		{QueueDLQRuns, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}
	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueRunsFinished, RoutingKeyFinished, ExchangeRuns},
		{QueueDLQRuns, RoutingKeyDLQRuns, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}
	return nil
}

// DeclareTapQueue создаёт временную эксклюзивную очередь, привязанную к
// событиям run.finished. Очередь удаляется, когда закрывается соединение.
// Используется для наблюдения за событиями без конкуренции с
// постоянными потребителями runs.finished.
func DeclareTapQueue(ctx context.Context, conn *Connection) (Queue, error) {
	var name Queue
	err := conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclare(
			"",    // name (server-generated)
			false, // durable
			true,  // delete when unused
			true,  // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare tap queue: %w", err)
		}
		if err := ch.QueueBind(q.Name, string(RoutingKeyFinished), string(ExchangeRuns), false, nil); err != nil {
			return fmt.Errorf("bind tap queue: %w", err)
		}
		name = Queue(q.Name)
		return nil
	})
	return name, err
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  tta RabbitMQ Topology:

    tta.runs (direct)
    └── runs.finished [routing: finished]
            Consumer: tta-cli events
            DLQ: dlq.runs

    tta.dlq (direct)
    └── dlq.runs [routing: runs]
            Manual processing
  `
}
