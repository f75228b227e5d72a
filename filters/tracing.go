package filters

import (
	"context"

	"github.com/glimte/mmate-eventbus/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/glimte/mmate-eventbus"

// HeaderCarrier adapts message headers to propagation.TextMapCarrier
type HeaderCarrier struct {
	Headers *pipeline.Headers
}

var _ propagation.TextMapCarrier = HeaderCarrier{}

// Get implements propagation.TextMapCarrier
func (c HeaderCarrier) Get(key string) string {
	return c.Headers.GetString(key)
}

// Set implements propagation.TextMapCarrier
func (c HeaderCarrier) Set(key, value string) {
	c.Headers.Set(key, value)
}

// Keys implements propagation.TextMapCarrier
func (c HeaderCarrier) Keys() []string {
	keys := make([]string, 0, c.Headers.Len())
	c.Headers.Range(func(name string, _ any) bool {
		keys = append(keys, name)
		return true
	})
	return keys
}

// Tracing wraps the rest of the pipeline in a span. On publish it injects the
// span context into the message headers; on consume it continues the trace
// found there.
type Tracing struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	direction  Direction
}

// TracingOption configures a Tracing filter
type TracingOption func(*Tracing)

// WithPropagator replaces the W3C trace-context and baggage propagator
func WithPropagator(p propagation.TextMapPropagator) TracingOption {
	return func(t *Tracing) {
		t.propagator = p
	}
}

// NewTracing creates a tracing filter. A nil provider uses the global one.
func NewTracing(provider trace.TracerProvider, direction Direction, options ...TracingOption) *Tracing {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}

	t := &Tracing{
		tracer: provider.Tracer(tracerName),
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
		direction: direction,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Invoke implements pipeline.Filter
func (t *Tracing) Invoke(ctx context.Context, pc *pipeline.Context, next pipeline.Next) error {
	carrier := HeaderCarrier{Headers: pc.Headers()}

	kind := trace.SpanKindProducer
	if t.direction == DirectionConsume {
		kind = trace.SpanKindConsumer
		ctx = t.propagator.Extract(ctx, carrier)
	}

	ctx, span := t.tracer.Start(ctx, pc.EventName()+" "+string(t.direction),
		trace.WithSpanKind(kind),
		trace.WithAttributes(t.attributes(pc)...),
	)
	defer span.End()

	if t.direction == DirectionPublish {
		t.propagator.Inject(ctx, carrier)
	}

	err := next(ctx, pc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *Tracing) attributes(pc *pipeline.Context) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.operation.type", string(t.direction)),
		attribute.String("messaging.eventbus.event_name", pc.EventName()),
	}
	if id := pc.Headers().CorrelationID(); id != "" {
		attrs = append(attrs, attribute.String("messaging.message.conversation_id", id))
	}
	if route := pc.Route(); !route.IsZero() {
		attrs = append(attrs,
			attribute.String("messaging.destination.name", route.Exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", route.RoutingKey),
		)
	}
	if tag, ok := pc.DeliveryTag(); ok {
		attrs = append(attrs, attribute.Int64("messaging.rabbitmq.message.delivery_tag", int64(tag)))
	}
	return attrs
}

// Name implements pipeline.Named
func (t *Tracing) Name() string {
	return "Tracing"
}
