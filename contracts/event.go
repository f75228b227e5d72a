package contracts

import (
	"time"

	"github.com/google/uuid"
)

// IntegrationEvent provides identity and creation time for events that cross
// service boundaries. Embed it in payload structs.
type IntegrationEvent struct {
	ID        uuid.UUID `json:"id"`
	CreatedOn time.Time `json:"createdOn"`
}

// NewIntegrationEvent creates an event base with a fresh ID and the current UTC time
func NewIntegrationEvent() IntegrationEvent {
	return IntegrationEvent{
		ID:        uuid.New(),
		CreatedOn: time.Now().UTC(),
	}
}

// GetID returns the event ID
func (e IntegrationEvent) GetID() uuid.UUID {
	return e.ID
}

// GetCreatedOn returns the creation time
func (e IntegrationEvent) GetCreatedOn() time.Time {
	return e.CreatedOn
}
