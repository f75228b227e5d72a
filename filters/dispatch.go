package filters

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/glimte/mmate-eventbus/broker"
	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
)

// HandlerSource looks up the handlers of a payload type
type HandlerSource interface {
	Handlers(key registry.TypeKey) []registry.Handler
}

// Dispatcher is the terminal of consume pipelines. It calls every handler of
// the concrete payload type in registration order and acknowledges the delivery once
// all of them succeeded. The first failing handler stops dispatch and leaves
// the message unacknowledged.
type Dispatcher struct {
	handlers HandlerSource
	acker    broker.Acknowledger
	logger   *slog.Logger
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher acknowledging through acker
func NewDispatcher(handlers HandlerSource, acker broker.Acknowledger, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		handlers: handlers,
		acker:    acker,
		logger:   slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// Invoke implements pipeline.Filter. It never calls next.
func (d *Dispatcher) Invoke(ctx context.Context, pc *pipeline.Context, _ pipeline.Next) error {
	// A consume filter may have replaced the payload with another type
	// without supplying its descriptor.
	key := pc.Descriptor().Key()
	if payloadKey := pc.PayloadKey(); !payloadKey.IsZero() && payloadKey != key {
		key = payloadKey
	}

	payload := pc.Payload()
	handlers := d.handlers.Handlers(key)
	for i, h := range handlers {
		if err := h.Invoke(ctx, payload); err != nil {
			return &HandlerError{
				EventName: pc.EventName(),
				Handler:   h.Name,
				Index:     i,
				Err:       err,
			}
		}
	}

	tag, ok := pc.DeliveryTag()
	if !ok {
		return nil
	}
	if err := d.acker.Ack(tag, false); err != nil {
		return fmt.Errorf("ack delivery %d of %s: %w", tag, pc.EventName(), err)
	}

	d.logger.DebugContext(ctx, "message dispatched",
		"eventName", pc.EventName(),
		"deliveryTag", tag,
		"handlers", len(handlers),
	)
	return nil
}

// Name implements pipeline.Named
func (d *Dispatcher) Name() string {
	return "Dispatcher"
}
