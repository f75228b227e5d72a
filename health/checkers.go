package health

import (
	"context"
	"time"

	"github.com/glimte/mmate-eventbus/broker"
)

// ConnectionChecker reports unhealthy while the broker connection is closed
type ConnectionChecker struct {
	conn broker.Connection
}

// NewConnectionChecker creates a connection checker
func NewConnectionChecker(conn broker.Connection) *ConnectionChecker {
	return &ConnectionChecker{conn: conn}
}

func (c *ConnectionChecker) Name() string {
	return "rabbitmq"
}

func (c *ConnectionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "connection is open",
		Timestamp: start,
	}
	if c.conn.IsClosed() {
		result.Status = StatusUnhealthy
		result.Message = "connection is closed"
	}
	result.Duration = time.Since(start)
	return result
}

// Consumer is implemented by *eventbus.Bus
type Consumer interface {
	Consuming() bool
}

// ConsumerChecker reports degraded while the bus is not consuming. Publishing
// still works in that state.
type ConsumerChecker struct {
	consumer Consumer
}

// NewConsumerChecker creates a consumer checker
func NewConsumerChecker(consumer Consumer) *ConsumerChecker {
	return &ConsumerChecker{consumer: consumer}
}

func (c *ConsumerChecker) Name() string {
	return "consumer"
}

func (c *ConsumerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Status:    StatusHealthy,
		Message:   "consuming",
		Timestamp: start,
	}
	if !c.consumer.Consuming() {
		result.Status = StatusDegraded
		result.Message = "not consuming"
	}
	result.Duration = time.Since(start)
	return result
}
