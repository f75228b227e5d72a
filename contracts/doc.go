// Package contracts provides the application-facing types of the event bus.
//
// This package defines:
//   - IntegrationEvent: Optional base for events exchanged between services
//   - Envelope: Wire wrapper placed around a payload when envelopes are enabled
//   - Handler: Strongly-typed event handler invoked by the dispatch stage
//
// Payload types themselves are plain Go structs; the bus never requires them to
// implement an interface.
package contracts
