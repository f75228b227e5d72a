package contracts

import (
	"github.com/google/uuid"
)

// Envelope wraps a payload for transport when envelopes are enabled on the bus
type Envelope[T any] struct {
	Payload T                `json:"payload"`
	Meta    EnvelopeMetadata `json:"meta"`
}

// EnvelopeMetadata describes where an enveloped payload came from
type EnvelopeMetadata struct {
	Version       string    `json:"version"`
	Source        string    `json:"source"`
	CorrelationID uuid.UUID `json:"correlationId"`
	CausationID   uuid.UUID `json:"causationId"`
}

// NewEnvelope wraps payload with the given metadata
func NewEnvelope[T any](payload T, meta EnvelopeMetadata) Envelope[T] {
	return Envelope[T]{
		Payload: payload,
		Meta:    meta,
	}
}

// GetPayload returns the wrapped payload as an untyped value
func (e Envelope[T]) GetPayload() any {
	return e.Payload
}

// GetMeta returns the envelope metadata
func (e Envelope[T]) GetMeta() EnvelopeMetadata {
	return e.Meta
}
