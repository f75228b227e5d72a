package contracts

import (
	"context"
)

// Handler handles events of a single payload type
type Handler[T any] interface {
	Handle(ctx context.Context, event T) error
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc[T any] func(ctx context.Context, event T) error

// Handle implements Handler
func (f HandlerFunc[T]) Handle(ctx context.Context, event T) error {
	return f(ctx, event)
}
