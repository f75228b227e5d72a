// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventbus publishes and consumes typed events over RabbitMQ. Every
// message flows through a pipeline of filters assembled once, when the bus is
// created, from the registered event types and the configured filters.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/glimte/mmate-eventbus/broker"
	"github.com/glimte/mmate-eventbus/filters"
	"github.com/glimte/mmate-eventbus/internal/rabbitmq"
	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
	"github.com/glimte/mmate-eventbus/routing"
	amqp "github.com/rabbitmq/amqp091-go"
)

const fallbackPipeline = "consume:fallback"

// Bus is the event bus. Create one with New or Dial.
type Bus struct {
	conn   broker.Connection
	owned  broker.Closer
	config *busConfig
	logger *slog.Logger

	registry   *registry.Registry
	resolver   *filters.Resolver
	topology   routing.Topology
	routes     map[registry.TypeKey]routing.Route
	routeOrder []registry.TypeKey
	metrics    *filters.Metrics

	publish  map[registry.TypeKey]*pipeline.Pipeline
	consume  map[string]*pipeline.Pipeline
	fallback *pipeline.Pipeline

	mu       sync.Mutex
	consumer *rabbitmq.Consumer
	cancel   context.CancelFunc
	closed   bool

	chMu      sync.RWMutex
	ch        broker.Channel
	consuming atomic.Bool
}

// New creates a bus on an existing connection. The connection is not closed by
// Close.
func New(conn broker.Connection, options ...Option) (*Bus, error) {
	if conn == nil {
		return nil, fmt.Errorf("eventbus: connection cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range options {
		opt(cfg)
	}

	b := &Bus{
		conn:     conn,
		config:   cfg,
		logger:   cfg.logger,
		registry: registry.New(registry.WithLogger(cfg.logger)),
		resolver: filters.NewResolver(),
		routes:   make(map[registry.TypeKey]routing.Route),
		publish:  make(map[registry.TypeKey]*pipeline.Pipeline),
		consume:  make(map[string]*pipeline.Pipeline),
	}

	if err := b.installObservers(); err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}
	for _, action := range cfg.actions {
		if err := action(b); err != nil {
			return nil, fmt.Errorf("eventbus: %w", err)
		}
	}
	if err := b.installDefaults(); err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}

	b.registry.Freeze()
	b.resolver.Freeze()

	if err := b.assemble(); err != nil {
		return nil, fmt.Errorf("eventbus: %w", err)
	}

	b.logger.Info("event bus created",
		"events", len(b.consume),
		"routes", len(b.publish),
		"queues", len(b.registry.ResolveQueueSubscriptions()),
	)
	return b, nil
}

// Dial connects to RabbitMQ and creates a bus owning the connection
func Dial(url string, options ...Option) (*Bus, error) {
	return DialContext(context.Background(), url, options...)
}

// DialContext is Dial with a context bounding the initial connection attempt
func DialContext(ctx context.Context, url string, options ...Option) (*Bus, error) {
	cfg := defaultConfig()
	for _, opt := range options {
		opt(cfg)
	}

	connOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(cfg.logger),
		rabbitmq.WithMaxRetries(cfg.maxRetries),
	}
	if cfg.reconnectDelay > 0 {
		connOpts = append(connOpts, rabbitmq.WithReconnectDelay(cfg.reconnectDelay))
	}

	cm := rabbitmq.NewConnectionManager(url, connOpts...)
	if err := cm.Connect(ctx); err != nil {
		return nil, fmt.Errorf("eventbus: connect to %s: %w", rabbitmq.SanitizeURL(url), err)
	}

	b, err := New(cm, options...)
	if err != nil {
		_ = cm.Close()
		return nil, err
	}
	b.owned = cm
	return b, nil
}

// installObservers registers the built-in observation filters ahead of any
// user filter so they wrap the whole pipeline
func (b *Bus) installObservers() error {
	cfg := b.config

	add := func(publish, consume pipeline.Filter) error {
		if err := b.resolver.AddDefault(filters.PublishFilter, publish); err != nil {
			return err
		}
		return b.resolver.AddDefault(filters.ConsumeFilter, consume)
	}

	if cfg.tracingEnabled {
		err := add(
			filters.NewTracing(cfg.tracing, filters.DirectionPublish),
			filters.NewTracing(cfg.tracing, filters.DirectionConsume),
		)
		if err != nil {
			return err
		}
	}

	if cfg.metrics != nil {
		m, err := filters.NewMetrics(cfg.metrics)
		if err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		b.metrics = m
		if err := add(m.Filter(filters.DirectionPublish), m.Filter(filters.DirectionConsume)); err != nil {
			return err
		}
	}

	if cfg.messageLogging {
		err := add(
			filters.NewLogging(b.logger, filters.DirectionPublish),
			filters.NewLogging(b.logger, filters.DirectionConsume),
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// installDefaults fills the serializer and deserializer slots the options left
// empty with the JSON implementations
func (b *Bus) installDefaults() error {
	serializerOpts := []filters.SerializerOption{
		filters.WithSerializerEnvelope(b.config.envelope),
	}
	deserializerOpts := []filters.DeserializerOption{
		filters.WithEnvelopedPayloads(b.config.envelope.Enabled),
		filters.WithDeserializerLogger(b.logger),
	}
	if b.metrics != nil {
		deserializerOpts = append(deserializerOpts, filters.WithDropObserver(b.metrics.ObserveDrop))
	}

	r := b.resolver
	if !r.HasDefault(filters.Serializer) && !r.HasOpen(filters.Serializer) {
		if err := r.SetOpen(filters.Serializer, filters.JSONSerializerTemplate(serializerOpts...)); err != nil {
			return err
		}
	}
	if !r.HasDefault(filters.Serializer) {
		if err := r.SetDefault(filters.Serializer, filters.NewJSONSerializer(serializerOpts...)); err != nil {
			return err
		}
	}

	if !r.HasDefault(filters.Deserializer) && !r.HasOpen(filters.Deserializer) {
		tmpl := filters.JSONDeserializerTemplate(b.registry, deserializerOpts...)
		if err := r.SetOpen(filters.Deserializer, tmpl); err != nil {
			return err
		}
	}
	if !r.HasDefault(filters.Deserializer) {
		d := filters.NewJSONDeserializer(b.registry, deserializerOpts...)
		if err := r.SetDefault(filters.Deserializer, d); err != nil {
			return err
		}
	}

	return nil
}

// assemble builds every pipeline. Runs once, after registry and resolver are
// frozen.
func (b *Bus) assemble() error {
	publisher := filters.NewPublisher(b.conn, filters.WithPublisherLogger(b.logger))
	dispatcher := filters.NewDispatcher(b.registry, b, filters.WithDispatcherLogger(b.logger))

	for _, key := range b.routeOrder {
		desc, err := b.registry.ResolveKey(key)
		if err != nil {
			return fmt.Errorf("route for %s: %w", key, err)
		}
		publishFilters, err := b.resolver.ResolveAll(filters.PublishFilter, desc)
		if err != nil {
			return err
		}
		serializer, err := b.resolver.Resolve(filters.Serializer, desc)
		if err != nil {
			return err
		}

		p, err := pipeline.NewBuilder("publish:" + desc.Name()).
			Expect(desc.Key()).
			Use(publishFilters...).
			Use(producing(serializer, registry.KeyOf[[]byte]())).
			Terminal(publisher).
			Build()
		if err != nil {
			return err
		}
		b.publish[key] = p
	}

	for _, desc := range b.registry.Descriptors() {
		deserializer, err := b.resolver.Resolve(filters.Deserializer, desc)
		if err != nil {
			return err
		}
		consumeFilters, err := b.resolver.ResolveAll(filters.ConsumeFilter, desc)
		if err != nil {
			return err
		}

		p, err := pipeline.NewBuilder("consume:" + desc.Name()).
			Expect(registry.KeyOf[[]byte]()).
			First(producing(deserializer, registry.TypeKey{})).
			Use(consumeFilters...).
			Terminal(dispatcher).
			Build()
		if err != nil {
			return err
		}
		b.consume[desc.Name()] = p
	}

	deserializer, err := b.resolver.ResolveDefault(filters.Deserializer)
	if err != nil {
		return err
	}
	b.fallback, err = pipeline.NewBuilder(fallbackPipeline).
		Expect(registry.KeyOf[[]byte]()).
		First(deserializer).
		Terminal(dispatcher).
		Build()
	return err
}

// producing makes a serializer slot filter that does not declare its output
// type report out. A zero out marks the output as known only at runtime.
func producing(f pipeline.Filter, out registry.TypeKey) pipeline.Filter {
	if _, ok := f.(pipeline.Transformer); ok {
		return f
	}
	return &slotFilter{Filter: f, out: out}
}

type slotFilter struct {
	pipeline.Filter
	out registry.TypeKey
}

func (s *slotFilter) Name() string {
	return pipeline.NameOf(s.Filter)
}

func (s *slotFilter) Consumes() registry.TypeKey {
	if d, ok := s.Filter.(pipeline.TypeDeclarer); ok {
		return d.Consumes()
	}
	return registry.TypeKey{}
}

func (s *slotFilter) Produces() registry.TypeKey {
	return s.out
}

// Start declares the topology and begins consuming every subscribed queue. On
// failure the bus is left not consuming and may be started again. Cancelling
// ctx stops the consumers. Once every consume loop has stopped, whether by
// cancellation or because the broker closed the deliveries, the bus reports
// not consuming and Start may be called again.
func (b *Bus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if b.consumer != nil {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if b.conn.IsClosed() {
		b.logger.Warn("connection is not open, not consuming")
		return ErrNotConnected
	}

	ch, err := b.conn.Channel(ctx)
	if err != nil {
		return b.startFailed("open consumer channel", nil, err)
	}
	if err := ch.Qos(b.config.prefetchCount, 0, false); err != nil {
		return b.startFailed("set prefetch count", ch, err)
	}
	if err := rabbitmq.DeclareTopology(ch, b.topology); err != nil {
		return b.startFailed("declare topology", ch, err)
	}

	// Deliveries may arrive as soon as the first queue is subscribed, so the
	// channel must be visible to Ack before that.
	b.setChannel(ch)

	consumerCtx, cancel := context.WithCancel(ctx)
	consumer := rabbitmq.NewConsumer(ch,
		rabbitmq.WithConsumerTag(b.config.consumerTag),
		rabbitmq.WithConsumerLogger(b.logger),
	)

	queues := b.registry.ResolveQueueSubscriptions()
	for _, queue := range queues {
		if err := consumer.Subscribe(consumerCtx, queue, b.HandleDelivery); err != nil {
			cancel()
			_ = consumer.Close()
			b.setChannel(nil)
			return b.startFailed("subscribe to "+queue, ch, err)
		}
	}

	b.consumer = consumer
	b.cancel = cancel
	b.consuming.Store(true)
	go b.watch(consumer)

	b.logger.Info("event bus consuming", "queues", queues)
	return nil
}

// watch resets the bus to not consuming when every consume loop of consumer
// has stopped. Close resets the bus itself, in which case b.consumer no longer
// matches.
func (b *Bus) watch(consumer *rabbitmq.Consumer) {
	<-consumer.Idle()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.consumer != consumer {
		return
	}
	b.cancel()
	b.consumer = nil
	b.cancel = nil
	_ = consumer.Close()

	b.chMu.Lock()
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			b.logger.Debug("failed to close consumer channel", "error", err)
		}
		b.ch = nil
	}
	b.chMu.Unlock()
	b.consuming.Store(false)

	b.logger.Warn("event bus stopped consuming")
}

func (b *Bus) startFailed(step string, ch broker.Channel, err error) error {
	b.logger.Error("failed to start consuming",
		"step", step,
		"error", err,
	)
	if ch != nil {
		if closeErr := ch.Close(); closeErr != nil {
			b.logger.Warn("failed to close consumer channel", "error", closeErr)
		}
	}
	return fmt.Errorf("eventbus: %s: %w", step, err)
}

func (b *Bus) setChannel(ch broker.Channel) {
	b.chMu.Lock()
	b.ch = ch
	b.chMu.Unlock()
}

// HandleDelivery runs a delivery through the consume pipeline of its event
// name. Messages with a missing or unknown name go through the fallback
// pipeline, which drops them.
func (b *Bus) HandleDelivery(ctx context.Context, d amqp.Delivery) error {
	headers := pipeline.HeadersFrom(d.Headers)
	if headers.CorrelationID() == "" && d.CorrelationId != "" {
		headers.SetCorrelationID(d.CorrelationId)
	}

	pc := pipeline.NewConsumeContext(d.Body, headers, d.DeliveryTag)

	p := b.fallback
	if named, ok := b.consume[strings.TrimSpace(pc.EventName())]; ok {
		p = named
	}
	return p.Execute(ctx, pc)
}

// Ack acknowledges deliveries on the consumer channel
func (b *Bus) Ack(tag uint64, multiple bool) error {
	b.chMu.RLock()
	ch := b.ch
	b.chMu.RUnlock()

	if ch == nil {
		return ErrConsumerNotStarted
	}
	return ch.Ack(tag, multiple)
}

// Consuming reports whether the consume loops started by Start are running
func (b *Bus) Consuming() bool {
	return b.consuming.Load()
}

// Close stops the consumers and closes the consumer channel. A connection
// created by Dial is closed too.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.consuming.Store(false)

	var errs []error
	if b.consumer != nil {
		b.cancel()
		if err := b.consumer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumers: %w", err))
		}
		b.consumer = nil
	}

	b.chMu.Lock()
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close consumer channel: %w", err))
		}
		b.ch = nil
	}
	b.chMu.Unlock()

	if b.owned != nil {
		if err := b.owned.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}

	b.logger.Info("event bus closed")
	return errors.Join(errs...)
}

// Pipelines returns the stage names of every assembled pipeline keyed by
// pipeline name
func (b *Bus) Pipelines() map[string][]string {
	result := make(map[string][]string, len(b.publish)+len(b.consume)+1)
	for _, p := range b.publish {
		result[p.Name()] = p.Stages()
	}
	for _, p := range b.consume {
		result[p.Name()] = p.Stages()
	}
	result[b.fallback.Name()] = b.fallback.Stages()
	return result
}

// Topology returns the exchanges and queues declared by Start
func (b *Bus) Topology() routing.Topology {
	return routing.Topology{
		Exchanges: append([]routing.Exchange(nil), b.topology.Exchanges...),
		Queues:    append([]routing.Queue(nil), b.topology.Queues...),
	}
}
