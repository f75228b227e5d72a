package filters

import (
	"context"
	"fmt"

	"github.com/glimte/mmate-eventbus/contracts"
	"github.com/glimte/mmate-eventbus/internal/jsoncodec"
	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
	"github.com/google/uuid"
)

// EnvelopeConfig enables wrapping payloads in contracts.Envelope
type EnvelopeConfig struct {
	Enabled bool
	Version string
	Source  string
}

// MarshalFunc encodes v
type MarshalFunc func(v any) ([]byte, error)

// JSONSerializer encodes the payload as JSON and continues with the encoded
// bytes. It makes sure every message carries a correlation-id header.
type JSONSerializer struct {
	bound    registry.Descriptor
	envelope EnvelopeConfig
	marshal  MarshalFunc
}

// SerializerOption configures a JSONSerializer
type SerializerOption func(*JSONSerializer)

// WithSerializerEnvelope wraps every payload in an envelope before encoding
func WithSerializerEnvelope(cfg EnvelopeConfig) SerializerOption {
	return func(s *JSONSerializer) {
		s.envelope = cfg
	}
}

// WithMarshal replaces the JSON encoder
func WithMarshal(marshal MarshalFunc) SerializerOption {
	return func(s *JSONSerializer) {
		s.marshal = marshal
	}
}

// NewJSONSerializer creates a serializer that accepts any payload
func NewJSONSerializer(options ...SerializerOption) *JSONSerializer {
	s := &JSONSerializer{marshal: jsoncodec.Marshal}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// JSONSerializerTemplate returns a Template producing serializers bound to
// one event type
func JSONSerializerTemplate(options ...SerializerOption) Template {
	return func(desc registry.Descriptor) pipeline.Filter {
		s := NewJSONSerializer(options...)
		s.bound = desc
		return s
	}
}

// Invoke implements pipeline.Filter
func (s *JSONSerializer) Invoke(ctx context.Context, pc *pipeline.Context, next pipeline.Next) error {
	desc := pc.Descriptor()
	if !s.bound.IsZero() {
		desc = s.bound
	}

	headers := pc.Headers()
	correlationID := headers.CorrelationID()
	if correlationID == "" {
		correlationID = uuid.NewString()
		headers.SetCorrelationID(correlationID)
	}

	payload := pc.Payload()
	if s.envelope.Enabled {
		meta := contracts.EnvelopeMetadata{
			Version: s.envelope.Version,
			Source:  s.envelope.Source,
		}
		if id, err := uuid.Parse(correlationID); err == nil {
			meta.CorrelationID = id
		}
		if id, err := uuid.Parse(headers.GetString(pipeline.HeaderCausationID)); err == nil {
			meta.CausationID = id
		}

		wrapped, err := desc.Wrap(payload, meta)
		if err != nil {
			return fmt.Errorf("serialize %s: %w", pc.EventName(), err)
		}
		payload = wrapped
	}

	data, err := s.marshal(payload)
	if err != nil {
		return fmt.Errorf("serialize %s: %w", pc.EventName(), err)
	}

	return next(ctx, pc.Replace(data, registry.Descriptor{}))
}

// Name implements pipeline.Named
func (s *JSONSerializer) Name() string {
	return "JSONSerializer"
}

// Consumes implements pipeline.TypeDeclarer. Unbound serializers accept any
// payload.
func (s *JSONSerializer) Consumes() registry.TypeKey {
	return s.bound.Key()
}

// Produces implements pipeline.Transformer
func (s *JSONSerializer) Produces() registry.TypeKey {
	return registry.KeyOf[[]byte]()
}
