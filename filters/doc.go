// Package filters provides the stock pipeline stages of the event bus and the
// Resolver that selects them per event type.
//
// Publish pipelines end in a Publisher, consume pipelines start with a
// deserializer and end in a Dispatcher. Serializers and deserializers are
// resolved per event type: a filter registered for the exact type wins over
// an open Template, which wins over the default.
package filters
