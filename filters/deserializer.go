package filters

import (
	"context"
	"log/slog"
	"strings"

	"github.com/glimte/mmate-eventbus/contracts"
	"github.com/glimte/mmate-eventbus/internal/jsoncodec"
	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
	"github.com/google/uuid"
)

// Reasons passed to a DropObserver
const (
	DropMissingEventName = "missing_event_name"
	DropUnknownEventName = "unknown_event_name"
	DropTypeConflict     = "type_conflict"
	DropEmptyPayload     = "empty_payload"
)

// EventSource resolves event names to descriptors
type EventSource interface {
	Resolve(eventName string) (registry.Descriptor, error)
}

// DropObserver is told about every message the deserializer drops
type DropObserver func(eventName, reason string)

// JSONDeserializer decodes the raw body into the type registered for the
// message's event-name header. Messages without a resolvable name or with an
// empty body are logged and dropped without error; the pipeline stops there
// and the message is not acknowledged.
type JSONDeserializer struct {
	events    EventSource
	bound     registry.Descriptor
	enveloped bool
	unmarshal registry.UnmarshalFunc
	onDrop    DropObserver
	logger    *slog.Logger
}

// DeserializerOption configures a JSONDeserializer
type DeserializerOption func(*JSONDeserializer)

// WithEnvelopedPayloads expects bodies wrapped in contracts.Envelope
func WithEnvelopedPayloads(enabled bool) DeserializerOption {
	return func(d *JSONDeserializer) {
		d.enveloped = enabled
	}
}

// WithUnmarshal replaces the JSON decoder
func WithUnmarshal(unmarshal registry.UnmarshalFunc) DeserializerOption {
	return func(d *JSONDeserializer) {
		d.unmarshal = unmarshal
	}
}

// WithDropObserver registers a callback for dropped messages
func WithDropObserver(observer DropObserver) DeserializerOption {
	return func(d *JSONDeserializer) {
		d.onDrop = observer
	}
}

// WithDeserializerLogger sets the logger
func WithDeserializerLogger(logger *slog.Logger) DeserializerOption {
	return func(d *JSONDeserializer) {
		d.logger = logger
	}
}

// NewJSONDeserializer creates a deserializer resolving names through events
func NewJSONDeserializer(events EventSource, options ...DeserializerOption) *JSONDeserializer {
	d := &JSONDeserializer{
		events:    events,
		unmarshal: jsoncodec.Unmarshal,
		logger:    slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// JSONDeserializerTemplate returns a Template producing deserializers bound
// to one event type
func JSONDeserializerTemplate(events EventSource, options ...DeserializerOption) Template {
	return func(desc registry.Descriptor) pipeline.Filter {
		d := NewJSONDeserializer(events, options...)
		d.bound = desc
		return d
	}
}

// Invoke implements pipeline.Filter
func (d *JSONDeserializer) Invoke(ctx context.Context, pc *pipeline.Context, next pipeline.Next) error {
	body, ok := pc.Payload().([]byte)
	if !ok {
		return &pipeline.TypeMismatchError{
			Stage:    d.Name(),
			Expected: registry.KeyOf[[]byte](),
			Actual:   pc.PayloadKey(),
		}
	}

	eventName := strings.TrimSpace(pc.EventName())
	if eventName == "" {
		d.drop(ctx, pc, eventName, DropMissingEventName, "message does not carry an event-name header, ignoring")
		return nil
	}

	desc, err := d.events.Resolve(eventName)
	if err != nil {
		d.drop(ctx, pc, eventName, DropUnknownEventName, "unable to resolve event type, ignoring")
		return nil
	}
	if !d.bound.IsZero() && d.bound.Key() != desc.Key() {
		d.drop(ctx, pc, eventName, DropTypeConflict, "event name resolves to a different type than the pipeline, ignoring")
		return nil
	}

	var (
		payload any
		decoded bool
	)
	if d.enveloped {
		var meta contracts.EnvelopeMetadata
		payload, meta, decoded, err = desc.DecodeEnvelope(body, d.unmarshal)
		if err == nil && decoded && meta.CorrelationID != uuid.Nil && pc.Headers().CorrelationID() == "" {
			pc.Headers().SetCorrelationID(meta.CorrelationID.String())
		}
	} else {
		payload, decoded, err = desc.Decode(body, d.unmarshal)
	}
	if err != nil {
		return &DecodeError{EventName: eventName, Type: desc.Key(), Err: err}
	}
	if !decoded {
		d.drop(ctx, pc, eventName, DropEmptyPayload, "message deserialization returned no value, ignoring")
		return nil
	}

	return next(ctx, pc.Replace(payload, desc))
}

func (d *JSONDeserializer) drop(ctx context.Context, pc *pipeline.Context, eventName, reason, msg string) {
	tag, _ := pc.DeliveryTag()
	d.logger.WarnContext(ctx, msg,
		"eventName", eventName,
		"deliveryTag", tag,
		"reason", reason,
	)
	if d.onDrop != nil {
		d.onDrop(eventName, reason)
	}
}

// Name implements pipeline.Named
func (d *JSONDeserializer) Name() string {
	return "JSONDeserializer"
}

// Consumes implements pipeline.TypeDeclarer
func (d *JSONDeserializer) Consumes() registry.TypeKey {
	return registry.KeyOf[[]byte]()
}

// Produces implements pipeline.Transformer. Unbound deserializers produce a
// type only known per message.
func (d *JSONDeserializer) Produces() registry.TypeKey {
	return d.bound.Key()
}
