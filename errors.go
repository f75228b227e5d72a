package eventbus

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-eventbus/registry"
)

var (
	// ErrRoutingNotConfigured matches every *RoutingError
	ErrRoutingNotConfigured = errors.New("eventbus: no route configured for event type")

	// ErrConsumerNotStarted is returned by Ack before Start or after Close
	ErrConsumerNotStarted = errors.New("eventbus: consumer not started")

	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("eventbus: already consuming")

	// ErrClosed is returned by Start after Close
	ErrClosed = errors.New("eventbus: bus is closed")

	// ErrNotConnected is returned by Start while the broker connection is down.
	// Nothing is declared or consumed.
	ErrNotConnected = errors.New("eventbus: broker connection is not open")
)

// RoutingError reports a publish of a type that has no route. Nothing is sent.
type RoutingError struct {
	Type registry.TypeKey
}

func (e *RoutingError) Error() string {
	return fmt.Sprintf("no route configured for %s; declare one with Route inside WithExchange", e.Type)
}

func (e *RoutingError) Is(target error) bool {
	return target == ErrRoutingNotConfigured
}
