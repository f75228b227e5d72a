package filters

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/glimte/mmate-eventbus/pipeline"
	"github.com/glimte/mmate-eventbus/registry"
)

// Capability names a role a filter can play in a pipeline
type Capability int

const (
	Serializer Capability = iota
	Deserializer
	ConsumeFilter
	PublishFilter
)

func (c Capability) String() string {
	switch c {
	case Serializer:
		return "serializer"
	case Deserializer:
		return "deserializer"
	case ConsumeFilter:
		return "consume filter"
	case PublishFilter:
		return "publish filter"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// Collection reports whether the capability holds an ordered list of filters
// rather than a single one
func (c Capability) Collection() bool {
	return c == ConsumeFilter || c == PublishFilter
}

// Template builds a filter for a concrete event type. Returning nil means the
// template does not apply to desc.
type Template func(desc registry.Descriptor) pipeline.Filter

type tiers struct {
	defaults []pipeline.Filter
	open     []Template
	closed   map[registry.TypeKey][]pipeline.Filter
}

// Resolver stores filter registrations in three tiers: closed filters bound
// to one event type, open templates and defaults. Writes happen during
// assembly; after Freeze the resolver is read-only and needs no locking.
type Resolver struct {
	mu     sync.Mutex
	frozen atomic.Bool
	byCap  map[Capability]*tiers
}

// NewResolver creates an empty resolver
func NewResolver() *Resolver {
	return &Resolver{byCap: make(map[Capability]*tiers)}
}

func (r *Resolver) tiers(c Capability) *tiers {
	t, ok := r.byCap[c]
	if !ok {
		t = &tiers{closed: make(map[registry.TypeKey][]pipeline.Filter)}
		r.byCap[c] = t
	}
	return t
}

// mutate runs fn under the write lock after validating the slot kind
func (r *Resolver) mutate(c Capability, collection bool, fn func(t *tiers)) error {
	if c.Collection() != collection {
		return fmt.Errorf("%w: %s", ErrWrongSlotKind, c)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrResolverFrozen
	}
	fn(r.tiers(c))
	return nil
}

// SetDefault replaces the default filter of a single-slot capability
func (r *Resolver) SetDefault(c Capability, f pipeline.Filter) error {
	if f == nil {
		return fmt.Errorf("filters: %s cannot be nil", c)
	}
	return r.mutate(c, false, func(t *tiers) {
		t.defaults = []pipeline.Filter{f}
	})
}

// SetOpen replaces the open template of a single-slot capability
func (r *Resolver) SetOpen(c Capability, tmpl Template) error {
	if tmpl == nil {
		return fmt.Errorf("filters: %s template cannot be nil", c)
	}
	return r.mutate(c, false, func(t *tiers) {
		t.open = []Template{tmpl}
	})
}

// SetClosed replaces the filter of a single-slot capability for one type
func (r *Resolver) SetClosed(c Capability, key registry.TypeKey, f pipeline.Filter) error {
	if f == nil {
		return fmt.Errorf("filters: %s cannot be nil", c)
	}
	return r.mutate(c, false, func(t *tiers) {
		t.closed[key] = []pipeline.Filter{f}
	})
}

// AddDefault appends a filter applied to every event type
func (r *Resolver) AddDefault(c Capability, f pipeline.Filter) error {
	if f == nil {
		return fmt.Errorf("filters: %s cannot be nil", c)
	}
	return r.mutate(c, true, func(t *tiers) {
		t.defaults = append(t.defaults, f)
	})
}

// AddOpen appends a template instantiated for every event type
func (r *Resolver) AddOpen(c Capability, tmpl Template) error {
	if tmpl == nil {
		return fmt.Errorf("filters: %s template cannot be nil", c)
	}
	return r.mutate(c, true, func(t *tiers) {
		t.open = append(t.open, tmpl)
	})
}

// AddClosed appends a filter applied to one event type
func (r *Resolver) AddClosed(c Capability, key registry.TypeKey, f pipeline.Filter) error {
	if f == nil {
		return fmt.Errorf("filters: %s cannot be nil", c)
	}
	return r.mutate(c, true, func(t *tiers) {
		t.closed[key] = append(t.closed[key], f)
	})
}

// RemoveDefault drops every default registration of c
func (r *Resolver) RemoveDefault(c Capability) error {
	return r.mutate(c, c.Collection(), func(t *tiers) {
		t.defaults = nil
	})
}

// RemoveOpen drops every open template of c
func (r *Resolver) RemoveOpen(c Capability) error {
	return r.mutate(c, c.Collection(), func(t *tiers) {
		t.open = nil
	})
}

// RemoveClosed drops the closed registrations of c for one type
func (r *Resolver) RemoveClosed(c Capability, key registry.TypeKey) error {
	return r.mutate(c, c.Collection(), func(t *tiers) {
		delete(t.closed, key)
	})
}

// HasDefault reports whether c has a default registration
func (r *Resolver) HasDefault(c Capability) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byCap[c]
	return ok && len(t.defaults) > 0
}

// HasOpen reports whether c has an open template
func (r *Resolver) HasOpen(c Capability) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byCap[c]
	return ok && len(t.open) > 0
}

// Freeze makes the resolver read-only
func (r *Resolver) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Resolve returns the most specific filter of a single-slot capability for
// desc: the closed filter, else the open template instantiated for desc, else
// the default.
func (r *Resolver) Resolve(c Capability, desc registry.Descriptor) (pipeline.Filter, error) {
	if c.Collection() {
		return nil, fmt.Errorf("%w: %s", ErrWrongSlotKind, c)
	}

	t := r.snapshot(c)
	if t != nil {
		if closed := t.closed[desc.Key()]; len(closed) > 0 {
			return closed[0], nil
		}
		for _, tmpl := range t.open {
			if f := tmpl(desc); f != nil {
				return f, nil
			}
		}
		if len(t.defaults) > 0 {
			return t.defaults[0], nil
		}
	}

	return nil, &FilterNotFoundError{Capability: c, EventName: desc.Name(), Type: desc.Key()}
}

// ResolveDefault returns the default filter of a single-slot capability
func (r *Resolver) ResolveDefault(c Capability) (pipeline.Filter, error) {
	if c.Collection() {
		return nil, fmt.Errorf("%w: %s", ErrWrongSlotKind, c)
	}
	if t := r.snapshot(c); t != nil && len(t.defaults) > 0 {
		return t.defaults[0], nil
	}
	return nil, &FilterNotFoundError{Capability: c}
}

// ResolveAll returns the filters of a collection capability that apply to
// desc: defaults, then open instantiations, then closed filters, each in
// registration order
func (r *Resolver) ResolveAll(c Capability, desc registry.Descriptor) ([]pipeline.Filter, error) {
	if !c.Collection() {
		return nil, fmt.Errorf("%w: %s", ErrWrongSlotKind, c)
	}

	t := r.snapshot(c)
	if t == nil {
		return nil, nil
	}

	result := make([]pipeline.Filter, 0, len(t.defaults)+len(t.open)+len(t.closed[desc.Key()]))
	result = append(result, t.defaults...)
	for _, tmpl := range t.open {
		if f := tmpl(desc); f != nil {
			result = append(result, f)
		}
	}
	result = append(result, t.closed[desc.Key()]...)
	return result, nil
}

// snapshot returns the tiers of c. Reads after Freeze skip the lock.
func (r *Resolver) snapshot(c Capability) *tiers {
	if r.frozen.Load() {
		return r.byCap[c]
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byCap[c]
}
