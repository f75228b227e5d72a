package pipeline

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Header names understood by the bus
const (
	HeaderEventName     = "event-name"
	HeaderCorrelationID = "correlation-id"
	HeaderCausationID   = "causation-id"
)

// Headers is the mutable header collection of a single message. Contexts derived
// from one another share the same *Headers, so a write made by one filter is
// seen by every later filter.
type Headers struct {
	values map[string]any
}

// NewHeaders creates an empty header collection
func NewHeaders() *Headers {
	return &Headers{values: make(map[string]any)}
}

// HeadersFrom copies table into a new header collection
func HeadersFrom(table map[string]any) *Headers {
	h := &Headers{values: make(map[string]any, len(table))}
	for k, v := range table {
		h.values[k] = v
	}
	return h
}

// Get returns the value stored under name
func (h *Headers) Get(name string) (any, bool) {
	v, ok := h.values[name]
	return v, ok
}

// GetString returns the value under name as a string. Byte slices are
// converted; other types are formatted with %v.
func (h *Headers) GetString(name string) string {
	v, ok := h.values[name]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

// Set stores value under name
func (h *Headers) Set(name string, value any) {
	h.values[name] = value
}

// Del removes name
func (h *Headers) Del(name string) {
	delete(h.values, name)
}

// Len returns the number of headers
func (h *Headers) Len() int {
	return len(h.values)
}

// Range calls fn for each header until fn returns false
func (h *Headers) Range(fn func(name string, value any) bool) {
	for k, v := range h.values {
		if !fn(k, v) {
			return
		}
	}
}

// EventName returns the event-name header
func (h *Headers) EventName() string {
	return h.GetString(HeaderEventName)
}

// SetEventName sets the event-name header
func (h *Headers) SetEventName(name string) {
	h.values[HeaderEventName] = name
}

// CorrelationID returns the correlation-id header
func (h *Headers) CorrelationID() string {
	return h.GetString(HeaderCorrelationID)
}

// SetCorrelationID sets the correlation-id header
func (h *Headers) SetCorrelationID(id string) {
	h.values[HeaderCorrelationID] = id
}

// Table copies the headers into an AMQP table
func (h *Headers) Table() amqp.Table {
	table := make(amqp.Table, len(h.values))
	for k, v := range h.values {
		table[k] = v
	}
	return table
}
