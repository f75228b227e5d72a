package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/glimte/mmate-eventbus/contracts"
)

var (
	// ErrNotFound is returned when an event name or type is not registered
	ErrNotFound = errors.New("registry: event type not registered")

	// ErrFrozen is returned when the registry is modified after assembly
	ErrFrozen = errors.New("registry: registry is frozen")
)

// Handler is the untyped form of a contracts.Handler stored in the handler table
type Handler struct {
	Name   string
	Invoke func(ctx context.Context, payload any) error
}

// HandlerOf adapts a typed handler for storage in the registry
func HandlerOf[T any](name string, h contracts.Handler[T]) Handler {
	key := KeyOf[T]()
	if name == "" {
		name = fmt.Sprintf("%T", h)
	}
	return Handler{
		Name: name,
		Invoke: func(ctx context.Context, payload any) error {
			event, ok := payload.(T)
			if !ok {
				return fmt.Errorf("handler %s expects %s, got %T", name, key, payload)
			}
			return h.Handle(ctx, event)
		},
	}
}

// Subscription records that a queue expects an event
type Subscription struct {
	Queue     string
	EventName string
}

// Registry maps event names to descriptors and descriptors to handlers.
//
// When two descriptors register the same event name the last registration
// wins and a warning is logged. The earlier type stays resolvable by key, so
// it can still be published, but inbound messages carrying the name decode to
// the later type and the earlier type's handlers are never called.
type Registry struct {
	mu            sync.Mutex
	frozen        atomic.Bool
	byName        map[string]Descriptor
	byKey         map[TypeKey]Descriptor
	order         []TypeKey
	handlers      map[TypeKey][]Handler
	subscriptions []Subscription
	logger        *slog.Logger
}

// Option configures the Registry
type Option func(*Registry)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates an empty registry
func New(options ...Option) *Registry {
	r := &Registry{
		byName:   make(map[string]Descriptor),
		byKey:    make(map[TypeKey]Descriptor),
		handlers: make(map[TypeKey][]Handler),
		logger:   slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Register adds a descriptor. Registering the same name for the same type again
// is a no-op.
func (r *Registry) Register(desc Descriptor) error {
	if desc.IsZero() {
		return fmt.Errorf("registry: descriptor cannot be empty")
	}
	if desc.Name() == "" {
		return fmt.Errorf("registry: event name cannot be empty for %s", desc.Key())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrFrozen
	}

	r.register(desc)
	return nil
}

// register must be called with r.mu held
func (r *Registry) register(desc Descriptor) {
	if existing, ok := r.byName[desc.Name()]; ok {
		if existing.Key() == desc.Key() {
			return
		}
		r.logger.Warn("event name registered twice, last registration wins",
			"eventName", desc.Name(),
			"previousType", existing.Key().String(),
			"type", desc.Key().String(),
		)
	}

	if previous, ok := r.byKey[desc.Key()]; ok {
		if owner, ok := r.byName[previous.Name()]; ok && owner.Key() == desc.Key() {
			delete(r.byName, previous.Name())
		}
	} else {
		r.order = append(r.order, desc.Key())
	}

	r.byName[desc.Name()] = desc
	r.byKey[desc.Key()] = desc
}

// Subscribe registers desc and records that queue consumes it
func (r *Registry) Subscribe(queue string, desc Descriptor) error {
	if queue == "" {
		return fmt.Errorf("registry: queue name cannot be empty")
	}
	if err := r.Register(desc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrFrozen
	}

	r.subscriptions = append(r.subscriptions, Subscription{Queue: queue, EventName: desc.Name()})
	return nil
}

// AddHandler registers desc and appends a handler for it
func (r *Registry) AddHandler(desc Descriptor, handler Handler) error {
	if handler.Invoke == nil {
		return fmt.Errorf("registry: handler cannot be nil")
	}
	if err := r.Register(desc); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen.Load() {
		return ErrFrozen
	}

	r.handlers[desc.Key()] = append(r.handlers[desc.Key()], handler)
	return nil
}

// Freeze makes the registry read-only
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Frozen reports whether Freeze has been called
func (r *Registry) Frozen() bool {
	return r.frozen.Load()
}

// Resolve returns the descriptor registered for an event name
func (r *Registry) Resolve(eventName string) (Descriptor, error) {
	desc, ok := r.byName[eventName]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrNotFound, eventName)
	}
	return desc, nil
}

// ResolveKey returns the descriptor registered for a payload type
func (r *Registry) ResolveKey(key TypeKey) (Descriptor, error) {
	desc, ok := r.byKey[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return desc, nil
}

// Descriptors returns the descriptors inbound event names resolve to, in
// registration order. A type whose name was taken over is left out.
func (r *Registry) Descriptors() []Descriptor {
	result := make([]Descriptor, 0, len(r.order))
	for _, key := range r.order {
		desc := r.byKey[key]
		if owner, ok := r.byName[desc.Name()]; ok && owner.Key() == key {
			result = append(result, desc)
		}
	}
	return result
}

// Handlers returns the handlers registered for a payload type in registration
// order. The returned slice must not be modified.
func (r *Registry) Handlers(key TypeKey) []Handler {
	return slices.Clip(r.handlers[key])
}

// Subscriptions returns every queue subscription in registration order
func (r *Registry) Subscriptions() []Subscription {
	return slices.Clone(r.subscriptions)
}

// ResolveQueueSubscriptions returns the distinct queue names to consume, in the
// order they were first subscribed
func (r *Registry) ResolveQueueSubscriptions() []string {
	seen := make(map[string]struct{}, len(r.subscriptions))
	queues := make([]string, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		if _, ok := seen[sub.Queue]; ok {
			continue
		}
		seen[sub.Queue] = struct{}{}
		queues = append(queues, sub.Queue)
	}
	return queues
}
