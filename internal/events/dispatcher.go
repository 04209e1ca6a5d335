package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Kind names a domain event.
type Kind string

// Event is anything the Dispatcher can route.
type Event interface {
	Kind() Kind
}

// Handler reacts to one event.
type Handler func(ctx context.Context, evt Event) error

// HandlerError records which handler failed for which event.
type HandlerError struct {
	Kind    Kind
	Handler string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler %s: %v", e.Kind, e.Handler, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

type subscription struct {
	name   string
	handle Handler
}

// Dispatcher routes events to handlers in registration order. Every handler
// sees the event even when an earlier one fails; failures come back joined.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Kind][]subscription
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[Kind][]subscription)}
}

// Subscribe registers h for kind under a name used in error reports.
func (d *Dispatcher) Subscribe(kind Kind, name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[kind] = append(d.handlers[kind], subscription{name: name, handle: h})
}

// Handlers lists handler names for kind in dispatch order.
func (d *Dispatcher) Handlers(kind Kind) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers[kind]))
	for _, s := range d.handlers[kind] {
		names = append(names, s.name)
	}
	return names
}

// Emit delivers evt to its handlers and joins their failures.
func (d *Dispatcher) Emit(ctx context.Context, evt Event) error {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	subs := append([]subscription(nil), d.handlers[evt.Kind()]...)
	d.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := s.handle(ctx, evt); err != nil {
			errs = append(errs, &HandlerError{Kind: evt.Kind(), Handler: s.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

// On registers a handler typed to the concrete event E.
func On[E Event](d *Dispatcher, name string, fn func(context.Context, E) error) {
	var zero E
	d.Subscribe(zero.Kind(), name, func(ctx context.Context, evt Event) error {
		typed, ok := evt.(E)
		if !ok {
			return fmt.Errorf("unexpected event type %T", evt)
		}
		return fn(ctx, typed)
	})
}
