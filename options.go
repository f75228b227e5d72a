package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/mmate-eventbus/contracts"
	"github.com/glimte/mmate-eventbus/filters"
	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
	"github.com/glimte/mmate-eventbus/routing"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// busConfig collects options. Registrations are deferred until every option
// has run so that WithEventName applies regardless of option order.
type busConfig struct {
	logger         *slog.Logger
	names          map[registry.TypeKey]string
	actions        []func(b *Bus) error
	envelope       filters.EnvelopeConfig
	prefetchCount  int
	consumerTag    string
	metrics        prometheus.Registerer
	tracing        trace.TracerProvider
	tracingEnabled bool
	messageLogging bool
	reconnectDelay time.Duration
	maxRetries     int
}

func defaultConfig() *busConfig {
	return &busConfig{
		logger:        slog.Default(),
		names:         make(map[registry.TypeKey]string),
		prefetchCount: 10,
		consumerTag:   "eventbus",
		maxRetries:    -1,
	}
}

// describe builds the descriptor of T using the configured event name
func describe[T any](b *Bus) registry.Descriptor {
	return registry.Describe[T](b.config.names[registry.KeyOf[T]()])
}

// Option configures the bus
type Option func(*busConfig)

func (cfg *busConfig) later(action func(b *Bus) error) {
	cfg.actions = append(cfg.actions, action)
}

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *busConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithEventName overrides the event name of T, which defaults to the Go type
// name
func WithEventName[T any](name string) Option {
	return func(cfg *busConfig) {
		cfg.names[registry.KeyOf[T]()] = name
	}
}

// ExchangeOption configures an exchange declared with WithExchange
type ExchangeOption func(b *Bus, exchange string) error

// WithExchange declares a durable exchange, the queues bound to it and the
// event types published through it
func WithExchange(name, kind string, options ...ExchangeOption) Option {
	return func(cfg *busConfig) {
		cfg.later(func(b *Bus) error {
			b.topology.AddExchange(routing.Exchange{Name: name, Kind: kind})
			for _, opt := range options {
				if err := opt(b, name); err != nil {
					return fmt.Errorf("exchange %s: %w", name, err)
				}
			}
			return nil
		})
	}
}

// BindQueue declares a durable queue bound to the exchange. Queues already
// declared by another binding are skipped.
func BindQueue(queue, routingKey string) ExchangeOption {
	return func(b *Bus, exchange string) error {
		if !b.topology.AddQueue(routing.Queue{Name: queue, Exchange: exchange, RoutingKey: routingKey}) {
			b.logger.Warn("queue already declared, skipping binding",
				"queue", queue,
				"exchange", exchange,
				"routingKey", routingKey,
			)
		}
		return nil
	}
}

// Route publishes events of type T to the exchange with routingKey
func Route[T any](routingKey string) ExchangeOption {
	return func(b *Bus, exchange string) error {
		desc := describe[T](b)
		if err := b.registry.Register(desc); err != nil {
			return err
		}
		if previous, ok := b.routes[desc.Key()]; ok {
			b.logger.Warn("route redefined, last definition wins",
				"eventName", desc.Name(),
				"previous", previous.String(),
			)
		} else {
			b.routeOrder = append(b.routeOrder, desc.Key())
		}
		b.routes[desc.Key()] = routing.Route{Exchange: exchange, RoutingKey: routingKey}
		return nil
	}
}

// Subscribe registers handler for events of type T arriving on queue
func Subscribe[T any](queue string, handler contracts.Handler[T]) Option {
	return func(cfg *busConfig) {
		cfg.later(func(b *Bus) error {
			desc := describe[T](b)
			if err := b.registry.Subscribe(queue, desc); err != nil {
				return err
			}
			return b.registry.AddHandler(desc, registry.HandlerOf[T]("", handler))
		})
	}
}

// SubscribeFunc registers fn for events of type T arriving on queue
func SubscribeFunc[T any](queue string, fn func(ctx context.Context, event T) error) Option {
	return Subscribe[T](queue, contracts.HandlerFunc[T](fn))
}

// WithPublishFilter appends filters run for every published event
func WithPublishFilter(fs ...pipeline.Filter) Option {
	return addFilters(filters.PublishFilter, fs)
}

// WithConsumeFilter appends filters run for every consumed event
func WithConsumeFilter(fs ...pipeline.Filter) Option {
	return addFilters(filters.ConsumeFilter, fs)
}

func addFilters(c filters.Capability, fs []pipeline.Filter) Option {
	return func(cfg *busConfig) {
		cfg.later(func(b *Bus) error {
			for _, f := range fs {
				if err := b.resolver.AddDefault(c, f); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// WithTypedPublishFilter appends a filter run only when publishing T
func WithTypedPublishFilter[T any](name string, fn pipeline.TypedFunc[T]) Option {
	return func(cfg *busConfig) {
		cfg.later(func(b *Bus) error {
			return b.resolver.AddClosed(filters.PublishFilter, registry.KeyOf[T](), pipeline.Typed[T](name, fn))
		})
	}
}

// WithTypedConsumeFilter appends a filter run only when consuming T
func WithTypedConsumeFilter[T any](name string, fn pipeline.TypedFunc[T]) Option {
	return func(cfg *busConfig) {
		cfg.later(func(b *Bus) error {
			return b.resolver.AddClosed(filters.ConsumeFilter, registry.KeyOf[T](), pipeline.Typed[T](name, fn))
		})
	}
}

// WithPublishFilterTemplate appends a template instantiated for every
// published event type
func WithPublishFilterTemplate(tmpl filters.Template) Option {
	return func(cfg *busConfig) {
		cfg.later(func(b *Bus) error {
			return b.resolver.AddOpen(filters.PublishFilter, tmpl)
		})
	}
}

// WithConsumeFilterTemplate appends a template instantiated for every
// consumed event type
func WithConsumeFilterTemplate(tmpl filters.Template) Option {
	return func(cfg *busConfig) {
		cfg.later(func(b *Bus) error {
			return b.resolver.AddOpen(filters.ConsumeFilter, tmpl)
		})
	}
}

// WithSerializer replaces the default serializer
func WithSerializer(f pipeline.Filter) Option {
	return setSlot(filters.Serializer, func(r *filters.Resolver) error {
		return r.SetDefault(filters.Serializer, f)
	})
}

// WithSerializerFor replaces the serializer of T
func WithSerializerFor[T any](f pipeline.Filter) Option {
	return setSlot(filters.Serializer, func(r *filters.Resolver) error {
		return r.SetClosed(filters.Serializer, registry.KeyOf[T](), f)
	})
}

// WithSerializerTemplate sets the serializer template used for types without
// their own serializer
func WithSerializerTemplate(tmpl filters.Template) Option {
	return setSlot(filters.Serializer, func(r *filters.Resolver) error {
		return r.SetOpen(filters.Serializer, tmpl)
	})
}

// WithDeserializer replaces the default deserializer
func WithDeserializer(f pipeline.Filter) Option {
	return setSlot(filters.Deserializer, func(r *filters.Resolver) error {
		return r.SetDefault(filters.Deserializer, f)
	})
}

// WithDeserializerFor replaces the deserializer of T
func WithDeserializerFor[T any](f pipeline.Filter) Option {
	return setSlot(filters.Deserializer, func(r *filters.Resolver) error {
		return r.SetClosed(filters.Deserializer, registry.KeyOf[T](), f)
	})
}

// WithDeserializerTemplate sets the deserializer template used for types
// without their own deserializer
func WithDeserializerTemplate(tmpl filters.Template) Option {
	return setSlot(filters.Deserializer, func(r *filters.Resolver) error {
		return r.SetOpen(filters.Deserializer, tmpl)
	})
}

func setSlot(c filters.Capability, set func(r *filters.Resolver) error) Option {
	return func(cfg *busConfig) {
		cfg.later(func(b *Bus) error {
			if err := set(b.resolver); err != nil {
				return fmt.Errorf("%s: %w", c, err)
			}
			return nil
		})
	}
}

// WithEnvelope wraps published payloads in contracts.Envelope and expects
// consumed payloads to be wrapped the same way
func WithEnvelope(version, source string) Option {
	return func(cfg *busConfig) {
		cfg.envelope = filters.EnvelopeConfig{Enabled: true, Version: version, Source: source}
	}
}

// WithPrefetchCount sets the consumer channel QoS
func WithPrefetchCount(count int) Option {
	return func(cfg *busConfig) {
		cfg.prefetchCount = count
	}
}

// WithConsumerTag sets the prefix of consumer tags
func WithConsumerTag(prefix string) Option {
	return func(cfg *busConfig) {
		cfg.consumerTag = prefix
	}
}

// WithMetrics records Prometheus metrics for every message
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(cfg *busConfig) {
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		cfg.metrics = registerer
	}
}

// WithTracing wraps every message in an OpenTelemetry span and propagates
// trace context through message headers. A nil provider uses the global one.
func WithTracing(provider trace.TracerProvider) Option {
	return func(cfg *busConfig) {
		cfg.tracing = provider
		cfg.tracingEnabled = true
	}
}

// WithMessageLogging logs every message at debug level and failures at error
// level
func WithMessageLogging() Option {
	return func(cfg *busConfig) {
		cfg.messageLogging = true
	}
}

// WithReconnect configures reconnection of connections created by Dial
func WithReconnect(delay time.Duration, maxRetries int) Option {
	return func(cfg *busConfig) {
		cfg.reconnectDelay = delay
		cfg.maxRetries = maxRetries
	}
}
