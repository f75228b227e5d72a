// Package registry provides the event-type registry of the bus.
//
// The registry holds two immutable mappings built once at start-up:
//   - event name -> Descriptor, used on every inbound message
//   - TypeKey -> handler list, used by the dispatch stage
//
// A Descriptor is a small value carrying the event name, a comparable TypeKey
// and decode/wrap functions captured when the descriptor was created for a
// concrete Go type. Dispatch selects handlers by the TypeKey of the payload
// that reaches it, so a consume filter that substitutes the payload routes the
// message to the handlers of the new type.
//
// Registration happens only while the bus is being assembled. After Freeze,
// every mutation fails with ErrFrozen and lookups are safe for concurrent use
// without locking.
package registry
