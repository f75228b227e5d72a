package filters

import (
	"context"

	"github.com/glimte/mmate-eventbus/broker"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

type fakeConnection struct {
	mock.Mock
}

func (c *fakeConnection) Channel(ctx context.Context) (broker.Channel, error) {
	args := c.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(broker.Channel), args.Error(1)
}

func (c *fakeConnection) IsClosed() bool {
	return c.Called().Bool(0)
}

type fakeChannel struct {
	mock.Mock
}

func (m *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	return amqp.Queue{Name: name}, m.Called(name, durable, autoDelete, exclusive, noWait, args).Error(0)
}

func (m *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	return m.Called(name, key, exchange, noWait, args).Error(0)
}

func (m *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	return m.Called(prefetchCount, prefetchSize, global).Error(0)
}

func (m *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	mockArgs := m.Called(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
	if mockArgs.Get(0) == nil {
		return nil, mockArgs.Error(1)
	}
	return mockArgs.Get(0).(chan amqp.Delivery), mockArgs.Error(1)
}

func (m *fakeChannel) Cancel(consumer string, noWait bool) error {
	return m.Called(consumer, noWait).Error(0)
}

func (m *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *fakeChannel) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *fakeChannel) Close() error {
	return m.Called().Error(0)
}

type fakeAcker struct {
	mock.Mock
}

func (a *fakeAcker) Ack(tag uint64, multiple bool) error {
	return a.Called(tag, multiple).Error(0)
}
