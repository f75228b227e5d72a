package pipeline

import (
	"context"

	"github.com/glimte/mmate-eventbus/registry"
)

// Builder assembles a Pipeline
type Builder struct {
	name      string
	first     Filter
	filters   []Filter
	terminals []Filter
	expect    registry.TypeKey
}

// NewBuilder creates a builder for a pipeline with the given diagnostic name
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// First sets the structural first stage, such as the deserializer of a
// consume pipeline. It runs before every filter added with Use.
func (b *Builder) First(f Filter) *Builder {
	b.first = f
	return b
}

// Use appends filters
func (b *Builder) Use(filters ...Filter) *Builder {
	for _, f := range filters {
		if f != nil {
			b.filters = append(b.filters, f)
		}
	}
	return b
}

// Terminal sets the final stage
func (b *Builder) Terminal(f Filter) *Builder {
	if f != nil {
		b.terminals = append(b.terminals, f)
	}
	return b
}

// Expect declares the payload type entering the pipeline, enabling type checks
// at Build
func (b *Builder) Expect(key registry.TypeKey) *Builder {
	b.expect = key
	return b
}

// Build validates the stage list and links the chain
func (b *Builder) Build() (*Pipeline, error) {
	switch {
	case len(b.terminals) == 0:
		return nil, ErrNoTerminal
	case len(b.terminals) > 1:
		return nil, ErrMultipleTerminals
	}

	stages := make([]Filter, 0, len(b.filters)+2)
	if b.first != nil {
		stages = append(stages, b.first)
	}
	stages = append(stages, b.filters...)
	stages = append(stages, b.terminals[0])

	if err := b.check(stages); err != nil {
		return nil, err
	}

	p := &Pipeline{
		name:   b.name,
		stages: stages,
	}
	p.entry = link(stages)
	return p, nil
}

// check walks the stages tracking the payload type known to flow into each one
func (b *Builder) check(stages []Filter) error {
	flowing := b.expect
	for _, f := range stages {
		if d, ok := f.(TypeDeclarer); ok && !flowing.IsZero() {
			if want := d.Consumes(); !want.IsZero() && want != flowing {
				return &TypeMismatchError{
					Pipeline: b.name,
					Stage:    NameOf(f),
					Expected: want,
					Actual:   flowing,
				}
			}
		}
		if t, ok := f.(Transformer); ok {
			flowing = t.Produces()
		}
	}
	return nil
}

// link builds the chain in reverse order so that each stage receives the next
// one as its continuation
func link(stages []Filter) Next {
	next := Next(func(context.Context, *Context) error { return nil })
	for i := len(stages) - 1; i >= 0; i-- {
		filter := stages[i]
		current := next
		next = func(ctx context.Context, pc *Context) error {
			return filter.Invoke(ctx, pc, current)
		}
	}
	return next
}

// Pipeline is an immutable, linked chain of filters. It is safe for concurrent
// use as long as its filters are.
type Pipeline struct {
	name   string
	stages []Filter
	entry  Next
}

// Execute runs pc through the pipeline. Errors from any stage abort processing
// and are returned unchanged.
func (p *Pipeline) Execute(ctx context.Context, pc *Context) error {
	return p.entry(ctx, pc)
}

// Name returns the diagnostic name
func (p *Pipeline) Name() string {
	return p.name
}

// Stages returns the stage names in execution order
func (p *Pipeline) Stages() []string {
	names := make([]string, len(p.stages))
	for i, f := range p.stages {
		names[i] = NameOf(f)
	}
	return names
}
