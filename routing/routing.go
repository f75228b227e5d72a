// Package routing holds the broker topology consumed by the bus: exchanges,
// queue bindings and per-message publish routes.
package routing

import (
	"fmt"
)

// Exchange kinds understood by RabbitMQ
const (
	KindDirect  = "direct"
	KindTopic   = "topic"
	KindFanout  = "fanout"
	KindHeaders = "headers"
)

// Route is the publish destination of a message type
type Route struct {
	Exchange   string
	RoutingKey string
}

// IsZero reports whether the route is unset
func (r Route) IsZero() bool {
	return r.Exchange == "" && r.RoutingKey == ""
}

// String returns exchange/routingKey
func (r Route) String() string {
	return fmt.Sprintf("%s/%s", r.Exchange, r.RoutingKey)
}

// Exchange defines an exchange to be declared
type Exchange struct {
	Name string
	Kind string
}

// Queue defines a durable queue and its binding to an exchange
type Queue struct {
	Name       string
	Exchange   string
	RoutingKey string
}

// Topology represents the declarations performed at start-up
type Topology struct {
	Exchanges []Exchange
	Queues    []Queue
}

// AddExchange appends an exchange declaration
func (t *Topology) AddExchange(exchange Exchange) {
	t.Exchanges = append(t.Exchanges, exchange)
}

// AddQueue appends a queue declaration unless a queue with the same name is
// already declared. Returns false when the queue was skipped.
func (t *Topology) AddQueue(queue Queue) bool {
	for _, q := range t.Queues {
		if q.Name == queue.Name {
			return false
		}
	}
	t.Queues = append(t.Queues, queue)
	return true
}

// Validate checks that every declaration is named and every queue binds to a
// declared exchange
func (t Topology) Validate() error {
	exchanges := make(map[string]struct{}, len(t.Exchanges))
	for _, ex := range t.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("exchange name cannot be empty")
		}
		switch ex.Kind {
		case KindDirect, KindTopic, KindFanout, KindHeaders:
		default:
			return fmt.Errorf("exchange %s has unsupported kind %q", ex.Name, ex.Kind)
		}
		exchanges[ex.Name] = struct{}{}
	}

	for _, q := range t.Queues {
		if q.Name == "" {
			return fmt.Errorf("queue name cannot be empty")
		}
		if _, ok := exchanges[q.Exchange]; !ok {
			return fmt.Errorf("queue %s binds to undeclared exchange %s", q.Name, q.Exchange)
		}
	}

	return nil
}
