package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/glimte/mmate-eventbus/broker"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageHandler processes incoming messages. Acknowledgment is the handler's
// responsibility; the consumer never acks or nacks.
type MessageHandler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer runs one consume loop per queue on a shared channel
type Consumer struct {
	ch        broker.Channel
	tagPrefix string
	logger    *slog.Logger

	mu     sync.Mutex
	active map[string]*consumerInfo
	closed bool

	idle     chan struct{}
	idleOnce sync.Once
}

// ConsumerOption configures the consumer
type ConsumerOption func(*Consumer)

// WithConsumerTag sets the prefix of the per-queue consumer tags
func WithConsumerTag(prefix string) ConsumerOption {
	return func(c *Consumer) {
		c.tagPrefix = prefix
	}
}

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) {
		c.logger = logger
	}
}

// NewConsumer creates a consumer on ch. The channel's QoS must already be set.
func NewConsumer(ch broker.Channel, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		ch:        ch,
		tagPrefix: "eventbus",
		logger:    slog.Default(),
		active:    make(map[string]*consumerInfo),
		idle:      make(chan struct{}),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

type consumerInfo struct {
	queue       string
	consumerTag string
	cancel      context.CancelFunc
	done        chan struct{}
}

// Subscribe starts consuming queue with manual acknowledgment
func (c *Consumer) Subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tag := fmt.Sprintf("%s-%s", c.tagPrefix, queue)

	if c.closed {
		return &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "subscribe", Err: ErrConsumerClosed, Timestamp: time.Now()}
	}
	if _, ok := c.active[queue]; ok {
		return &ConsumerError{Queue: queue, ConsumerTag: tag, Op: "subscribe", Err: fmt.Errorf("queue already consumed"), Timestamp: time.Now()}
	}

	deliveries, err := c.ch.Consume(
		queue,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: tag,
			Op:          "consume",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}

	consumerCtx, cancel := context.WithCancel(ctx)
	info := &consumerInfo{
		queue:       queue,
		consumerTag: tag,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	c.active[queue] = info

	go c.processMessages(consumerCtx, info, deliveries, handler)

	c.logger.Info("subscribed to queue",
		"queue", queue,
		"consumerTag", tag,
	)

	return nil
}

// processMessages runs until ctx is cancelled or the delivery channel closes.
// Handler errors are logged and never stop the loop.
func (c *Consumer) processMessages(ctx context.Context, info *consumerInfo, deliveries <-chan amqp.Delivery, handler MessageHandler) {
	defer func() {
		close(info.done)
		c.mu.Lock()
		if c.active[info.queue] == info {
			delete(c.active, info.queue)
		}
		remaining := len(c.active)
		c.mu.Unlock()
		c.logger.Info("consumer stopped", "queue", info.queue)
		if remaining == 0 {
			c.markIdle()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("delivery channel closed", "queue", info.queue)
				return
			}

			if err := handler(ctx, delivery); err != nil {
				c.logger.Error("failed to handle message",
					"error", err,
					"queue", info.queue,
					"deliveryTag", delivery.DeliveryTag,
					"messageId", delivery.MessageId,
				)
			}
		}
	}
}

func (c *Consumer) markIdle() {
	c.idleOnce.Do(func() { close(c.idle) })
}

// Idle is closed once no consume loop is left, either because every delivery
// channel closed, the subscribe context was cancelled, or Close was called. It
// stays open while the consumer has never subscribed.
func (c *Consumer) Idle() <-chan struct{} {
	return c.idle
}

// Unsubscribe cancels the broker consumer of queue and waits for its loop to
// exit
func (c *Consumer) Unsubscribe(queue string) error {
	c.mu.Lock()
	info, ok := c.active[queue]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("no active consumer for queue: %s", queue)
	}

	err := c.ch.Cancel(info.consumerTag, false)
	info.cancel()
	<-info.done

	if err != nil {
		return &ConsumerError{
			Queue:       queue,
			ConsumerTag: info.consumerTag,
			Op:          "cancel",
			Err:         err,
			Timestamp:   time.Now(),
		}
	}
	return nil
}

// Close stops every consume loop. Subscribe fails afterwards.
func (c *Consumer) Close() error {
	c.mu.Lock()
	c.closed = true
	queues := make([]string, 0, len(c.active))
	for q := range c.active {
		queues = append(queues, q)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, queue := range queues {
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			if err := c.Unsubscribe(queue); err != nil {
				c.logger.Debug("failed to unsubscribe", "queue", queue, "error", err)
			}
		}(queue)
	}
	wg.Wait()
	c.markIdle()

	return nil
}

// ActiveQueues returns the consumed queues in name order
func (c *Consumer) ActiveQueues() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	queues := make([]string, 0, len(c.active))
	for q := range c.active {
		queues = append(queues, q)
	}
	slices.Sort(queues)
	return queues
}
