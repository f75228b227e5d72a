package pipeline

import (
	"github.com/glimte/mmate-eventbus/registry"
	"github.com/glimte/mmate-eventbus/routing"
)

// Context is the unit of work flowing through a pipeline
type Context struct {
	payload        any
	headers        *Headers
	descriptor     registry.Descriptor
	eventName      string
	deliveryTag    uint64
	hasDeliveryTag bool
	route          routing.Route
}

// NewPublishContext creates the context for an outbound event. The event-name
// header is set from the descriptor.
func NewPublishContext(payload any, desc registry.Descriptor, route routing.Route, headers *Headers) *Context {
	if headers == nil {
		headers = NewHeaders()
	}
	headers.SetEventName(desc.Name())

	return &Context{
		payload:    payload,
		headers:    headers,
		descriptor: desc,
		eventName:  desc.Name(),
		route:      route,
	}
}

// NewConsumeContext creates the context for an inbound message body. The
// payload is the raw body until a deserializer replaces it.
func NewConsumeContext(body []byte, headers *Headers, deliveryTag uint64) *Context {
	if headers == nil {
		headers = NewHeaders()
	}

	return &Context{
		payload:        body,
		headers:        headers,
		eventName:      headers.EventName(),
		deliveryTag:    deliveryTag,
		hasDeliveryTag: true,
	}
}

// Payload returns the current payload
func (c *Context) Payload() any {
	return c.payload
}

// PayloadKey returns the TypeKey of the current payload
func (c *Context) PayloadKey() registry.TypeKey {
	return registry.KeyOfValue(c.payload)
}

// Headers returns the shared header collection
func (c *Context) Headers() *Headers {
	return c.headers
}

// Descriptor returns the descriptor of the event. It is zero on the consume
// side until the payload has been decoded.
func (c *Context) Descriptor() registry.Descriptor {
	return c.descriptor
}

// EventName returns the event name the context was created with
func (c *Context) EventName() string {
	return c.eventName
}

// DeliveryTag returns the broker delivery tag of an inbound message
func (c *Context) DeliveryTag() (uint64, bool) {
	return c.deliveryTag, c.hasDeliveryTag
}

// Route returns the publish route. It is zero on the consume side.
func (c *Context) Route() routing.Route {
	return c.route
}

// Replace returns a context carrying payload and desc that shares headers,
// event name, delivery tag and route with c. A zero desc keeps the current
// descriptor.
func (c *Context) Replace(payload any, desc registry.Descriptor) *Context {
	next := *c
	next.payload = payload
	if !desc.IsZero() {
		next.descriptor = desc
	}
	return &next
}

// TypedContext is a view of a Context whose payload is known to be a T
type TypedContext[T any] struct {
	base *Context
}

// Narrow returns a typed view of pc. It fails with a *TypeMismatchError when the
// payload is not a T.
func Narrow[T any](pc *Context) (*TypedContext[T], error) {
	if _, ok := pc.payload.(T); !ok {
		return nil, &TypeMismatchError{
			Expected: registry.KeyOf[T](),
			Actual:   pc.PayloadKey(),
		}
	}
	return &TypedContext[T]{base: pc}, nil
}

// Payload returns the typed payload
func (t *TypedContext[T]) Payload() T {
	return t.base.payload.(T)
}

// SetPayload replaces the payload on the underlying context
func (t *TypedContext[T]) SetPayload(v T) {
	t.base.payload = v
}

// Headers returns the shared header collection
func (t *TypedContext[T]) Headers() *Headers {
	return t.base.headers
}

// Base returns the underlying context
func (t *TypedContext[T]) Base() *Context {
	return t.base
}
