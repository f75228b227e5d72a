// Package broker declares the broker operations the event bus depends on.
//
// The method sets mirror *amqp091.Channel so that a live channel satisfies
// Channel directly and tests can substitute fakes.
package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection hands out channels on a broker connection
type Connection interface {
	// Channel opens a new channel
	Channel(ctx context.Context) (Channel, error)

	// IsClosed reports whether the connection is unusable
	IsClosed() bool
}

// Channel is the subset of *amqp091.Channel used by the bus
type Channel interface {
	Acknowledger

	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Acknowledger positively acknowledges deliveries
type Acknowledger interface {
	Ack(tag uint64, multiple bool) error
}

// Closer is implemented by connections the bus owns and must close
type Closer interface {
	Close() error
}
