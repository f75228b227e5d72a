// Package pipeline implements the message context and the filter chain that
// carries a message between application code and the broker.
//
// A Pipeline is an ordered list of filters ending in exactly one terminal. Each
// filter receives the current Context and a continuation; it may pass the same
// Context on, continue with a replacement Context holding a different payload,
// or return without continuing to stop processing.
package pipeline
