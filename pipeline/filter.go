package pipeline

import (
	"context"
	"fmt"

	"github.com/glimte/mmate-eventbus/registry"
)

// Next continues processing with the given context
type Next func(ctx context.Context, pc *Context) error

// Filter is a single pipeline stage
type Filter interface {
	// Invoke processes pc and decides whether to call next
	Invoke(ctx context.Context, pc *Context, next Next) error
}

// FilterFunc is a function adapter for Filter
type FilterFunc func(ctx context.Context, pc *Context, next Next) error

// Invoke implements Filter
func (f FilterFunc) Invoke(ctx context.Context, pc *Context, next Next) error {
	return f(ctx, pc, next)
}

// Named is implemented by filters that report a diagnostic name
type Named interface {
	Name() string
}

// TypeDeclarer is implemented by filters that only accept one payload type
type TypeDeclarer interface {
	Consumes() registry.TypeKey
}

// Transformer is implemented by filters that continue with a payload of a
// different type. A zero key means the produced type is only known at runtime.
type Transformer interface {
	Produces() registry.TypeKey
}

// NameOf returns the diagnostic name of f
func NameOf(f Filter) string {
	if n, ok := f.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", f)
}

// TypedFunc is the function form of a filter over payloads of type T
type TypedFunc[T any] func(ctx context.Context, tc *TypedContext[T], next Next) error

type typedFilter[T any] struct {
	name string
	fn   TypedFunc[T]
}

// Typed adapts fn into a Filter that narrows the payload to T before calling
// fn. The filter declares T as its consumed type so that Build can reject it
// when placed after a stage producing something else.
func Typed[T any](name string, fn TypedFunc[T]) Filter {
	return &typedFilter[T]{name: name, fn: fn}
}

func (f *typedFilter[T]) Invoke(ctx context.Context, pc *Context, next Next) error {
	tc, err := Narrow[T](pc)
	if err != nil {
		if mismatch, ok := err.(*TypeMismatchError); ok {
			mismatch.Stage = f.name
		}
		return err
	}
	return f.fn(ctx, tc, next)
}

func (f *typedFilter[T]) Name() string {
	return f.name
}

func (f *typedFilter[T]) Consumes() registry.TypeKey {
	return registry.KeyOf[T]()
}
