package rabbitmq

import (
	"errors"
	"testing"

	"github.com/glimte/mmate-eventbus/routing"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTopology() routing.Topology {
	var topology routing.Topology
	topology.AddExchange(routing.Exchange{Name: "orders", Kind: routing.KindTopic})
	topology.AddQueue(routing.Queue{Name: "orders.billing", Exchange: "orders", RoutingKey: "order.*"})
	return topology
}

func TestDeclareTopology(t *testing.T) {
	t.Run("declares durable exchanges, queues and bindings", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", "orders", "topic", true, false, false, false, amqp.Table(nil)).Return(nil)
		ch.On("QueueDeclare", "orders.billing", true, false, false, false, amqp.Table(nil)).Return(nil)
		ch.On("QueueBind", "orders.billing", "order.*", "orders", false, amqp.Table(nil)).Return(nil)

		require.NoError(t, DeclareTopology(ch, testTopology()))
		ch.AssertExpectations(t)
	})

	t.Run("rejects invalid topology before touching the broker", func(t *testing.T) {
		ch := &mockChannel{}
		var topology routing.Topology
		topology.AddQueue(routing.Queue{Name: "q", Exchange: "missing"})

		err := DeclareTopology(ch, topology)

		assert.True(t, errors.Is(err, ErrInvalidTopology))
		ch.AssertNotCalled(t, "QueueDeclare")
	})

	t.Run("wraps exchange failures", func(t *testing.T) {
		ch := &mockChannel{}
		cause := errors.New("precondition failed")
		ch.On("ExchangeDeclare", "orders", "topic", true, false, false, false, amqp.Table(nil)).Return(cause)

		err := DeclareTopology(ch, testTopology())

		var topologyErr *TopologyError
		require.ErrorAs(t, err, &topologyErr)
		assert.Equal(t, "exchange", topologyErr.Component)
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("wraps binding failures", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("ExchangeDeclare", "orders", "topic", true, false, false, false, amqp.Table(nil)).Return(nil)
		ch.On("QueueDeclare", "orders.billing", true, false, false, false, amqp.Table(nil)).Return(nil)
		ch.On("QueueBind", "orders.billing", "order.*", "orders", false, amqp.Table(nil)).Return(errors.New("no exchange"))

		err := DeclareTopology(ch, testTopology())

		var topologyErr *TopologyError
		require.ErrorAs(t, err, &topologyErr)
		assert.Equal(t, "binding", topologyErr.Component)
	})
}
