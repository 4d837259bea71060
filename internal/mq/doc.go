// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация событий о runs
//   - consumer.go   — потребление событий из очередей
//
// Типы сообщений:
//   - run.finished — run дошёл до финального статуса, payload — trace
//
// Exchanges:
//   - tta.runs — события runs
//   - tta.dlq  — dead letter queue
package mq
