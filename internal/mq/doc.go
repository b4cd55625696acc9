// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.requested    — заявка на прогон flow
//   - run.completed    — прогон завершён
//
// Exchanges:
//   - fdl.runs         — события прогонов
//   - fdl.dlq          — dead letter queue
package mq
