package filters

import (
	"errors"
	"fmt"

	"github.com/glimte/mmate-eventbus/registry"
)

var (
	// ErrFilterNotFound matches every *FilterNotFoundError
	ErrFilterNotFound = errors.New("filters: no filter registered")

	// ErrResolverFrozen is returned when the resolver is modified after assembly
	ErrResolverFrozen = errors.New("filters: resolver is frozen")

	// ErrWrongSlotKind is returned when a single-slot operation is used on a
	// collection capability or the other way round
	ErrWrongSlotKind = errors.New("filters: operation does not apply to capability")

	// ErrDecodeFailed matches every *DecodeError
	ErrDecodeFailed = errors.New("filters: message decode failed")

	// ErrHandlerFailure matches every *HandlerError
	ErrHandlerFailure = errors.New("filters: handler failed")

	// ErrPublishFailed matches every *PublishError
	ErrPublishFailed = errors.New("filters: publish failed")
)

// FilterNotFoundError reports that no tier of the resolver can supply a filter
type FilterNotFoundError struct {
	Capability Capability
	EventName  string
	Type       registry.TypeKey
}

func (e *FilterNotFoundError) Error() string {
	return fmt.Sprintf("no %s registered for %s(%s)", e.Capability, e.EventName, e.Type)
}

func (e *FilterNotFoundError) Is(target error) bool {
	return target == ErrFilterNotFound
}

// DecodeError reports a message body that could not be decoded into its
// registered type
type DecodeError struct {
	EventName string
	Type      registry.TypeKey
	Err       error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s into %s: %v", e.EventName, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecodeFailed
}

// HandlerError reports the first handler that failed for a message
type HandlerError struct {
	EventName string
	Handler   string
	Index     int
	Err       error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %d (%s) for %s failed: %v", e.Index, e.Handler, e.EventName, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandlerFailure
}

// PublishError reports a failure in the publisher terminal
type PublishError struct {
	Op         string
	EventName  string
	Exchange   string
	RoutingKey string
	Err        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s to %s/%s: %s: %v", e.EventName, e.Exchange, e.RoutingKey, e.Op, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

func (e *PublishError) Is(target error) bool {
	return target == ErrPublishFailed
}
