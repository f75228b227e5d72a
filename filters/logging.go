package filters

import (
	"context"
	"log/slog"
	"time"

	"github.com/glimte/mmate-eventbus/pipeline"
)

// Direction tells observation filters which side of the bus they run on
type Direction string

const (
	DirectionPublish Direction = "publish"
	DirectionConsume Direction = "consume"
)

// Logging logs every message passing through and the outcome of the rest of
// the pipeline
type Logging struct {
	logger    *slog.Logger
	direction Direction
}

// NewLogging creates a logging filter
func NewLogging(logger *slog.Logger, direction Direction) *Logging {
	if logger == nil {
		logger = slog.Default()
	}

	return &Logging{logger: logger, direction: direction}
}

// Invoke implements pipeline.Filter
func (l *Logging) Invoke(ctx context.Context, pc *pipeline.Context, next pipeline.Next) error {
	start := time.Now()
	attrs := l.attrs(pc)

	l.logger.DebugContext(ctx, "processing message", attrs...)

	err := next(ctx, pc)
	duration := time.Since(start)

	if err != nil {
		l.logger.ErrorContext(ctx, "message processing failed",
			append(attrs, "duration", duration, "error", err)...)
	} else {
		l.logger.DebugContext(ctx, "message processed",
			append(attrs, "duration", duration)...)
	}

	return err
}

func (l *Logging) attrs(pc *pipeline.Context) []any {
	attrs := []any{
		"direction", string(l.direction),
		"eventName", pc.EventName(),
		"correlationId", pc.Headers().CorrelationID(),
	}
	if tag, ok := pc.DeliveryTag(); ok {
		attrs = append(attrs, "deliveryTag", tag)
	}
	if route := pc.Route(); !route.IsZero() {
		attrs = append(attrs, "exchange", route.Exchange, "routingKey", route.RoutingKey)
	}
	return attrs
}

// Name implements pipeline.Named
func (l *Logging) Name() string {
	return "Logging"
}
