// Package rabbitmq implements the broker interfaces on top of amqp091-go.
//
// It provides:
//   - ConnectionManager: a broker.Connection that reconnects with exponential
//     backoff and reports state changes to listeners
//   - DeclareTopology: durable exchange, queue and binding declaration
//   - Consumer: a manually acknowledged queue consumer feeding a handler
package rabbitmq
