package rabbitmq

import (
	"fmt"
	"time"

	"github.com/glimte/mmate-eventbus/broker"
	"github.com/glimte/mmate-eventbus/routing"
)

// DeclareTopology declares every exchange, then every queue and its binding.
// Exchanges and queues are durable and never auto-deleted.
func DeclareTopology(ch broker.Channel, topology routing.Topology) error {
	if err := topology.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTopology, err)
	}

	for _, exchange := range topology.Exchanges {
		if err := declareExchange(ch, exchange); err != nil {
			return err
		}
	}

	for _, queue := range topology.Queues {
		if err := declareQueue(ch, queue); err != nil {
			return err
		}
		if err := bindQueue(ch, queue); err != nil {
			return err
		}
	}

	return nil
}

func declareExchange(ch broker.Channel, exchange routing.Exchange) error {
	err := ch.ExchangeDeclare(
		exchange.Name,
		exchange.Kind,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return &TopologyError{
			Component: "exchange",
			Name:      exchange.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

func declareQueue(ch broker.Channel, queue routing.Queue) error {
	_, err := ch.QueueDeclare(
		queue.Name,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return &TopologyError{
			Component: "queue",
			Name:      queue.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}

func bindQueue(ch broker.Channel, queue routing.Queue) error {
	if err := ch.QueueBind(queue.Name, queue.RoutingKey, queue.Exchange, false, nil); err != nil {
		return &TopologyError{
			Component: "binding",
			Name:      fmt.Sprintf("%s->%s", queue.Exchange, queue.Name),
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}
