package eventbus

import (
	"context"

	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
)

type publishConfig struct {
	headers       map[string]any
	correlationID string
}

// PublishOption configures a single publish
type PublishOption func(*publishConfig)

// WithHeaders adds message headers
func WithHeaders(headers map[string]any) PublishOption {
	return func(cfg *publishConfig) {
		if cfg.headers == nil {
			cfg.headers = make(map[string]any, len(headers))
		}
		for k, v := range headers {
			cfg.headers[k] = v
		}
	}
}

// WithCorrelationID sets the correlation id. One is generated when omitted.
func WithCorrelationID(id string) PublishOption {
	return func(cfg *publishConfig) {
		cfg.correlationID = id
	}
}

// Publish sends event through the publish pipeline of T. A *RoutingError is
// returned without sending anything when T has no route.
func Publish[T any](ctx context.Context, bus *Bus, event T, options ...PublishOption) error {
	key := registry.KeyOf[T]()
	p, ok := bus.publish[key]
	if !ok {
		return &RoutingError{Type: key}
	}

	cfg := &publishConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	headers := pipeline.HeadersFrom(cfg.headers)
	if cfg.correlationID != "" {
		headers.SetCorrelationID(cfg.correlationID)
	}

	desc, err := bus.registry.ResolveKey(key)
	if err != nil {
		return err
	}

	pc := pipeline.NewPublishContext(event, desc, bus.routes[key], headers)
	return p.Execute(ctx, pc)
}
