// Package events defines the Gateway's internal event taxonomy and a
// small in-process publish/subscribe bus. Registry mutations, scope
// reloads, and health transitions are published here so that other
// components (the Tool Index, the admin API's audit trail, the
// `/health` summary) can react without being wired directly into the
// service that caused the change.
package events

import (
	"sync"
)

// Kind identifies a class of Gateway event.
type Kind string

const (
	KindServiceRegistered Kind = "service-registered"
	KindServiceRemoved    Kind = "service-removed"
	KindServiceToggled    Kind = "service-toggled"
	KindServiceEdited     Kind = "service-edited"
	KindScopeReload       Kind = "scope-reload"
	KindHealthChanged     Kind = "health-changed"
	KindInventoryUpdated  Kind = "inventory-updated"
)

// Event is one published occurrence. Path identifies the affected
// ServiceRecord when applicable (empty for scope-reload); Detail
// carries a kind-specific payload (e.g. the new health.Status string,
// or the actor who performed an admin mutation).
type Event struct {
	Kind   Kind
	Path   string
	Detail string
}

// Handler receives published events. Handlers run synchronously on the
// publishing goroutine's call to Publish and must not block for long;
// slow work should be handed off to a new goroutine by the handler
// itself.
type Handler func(Event)

// Bus is a minimal in-process event bus: subscribers register a
// Handler for a Kind and are invoked, in subscription order, whenever
// that Kind is published, supporting an arbitrary number of subscribers
// per event kind rather than a single fixed sink.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// Subscribe registers fn to be called for every event of the given
// kind. Returns an unsubscribe function.
func (b *Bus) Subscribe(kind Kind, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[kind] = append(b.handlers[kind], fn)
	idx := len(b.handlers[kind]) - 1

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		handlers := b.handlers[kind]
		if idx < len(handlers) {
			handlers[idx] = nil
		}
	}
}

// Publish invokes every subscriber registered for ev.Kind.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[ev.Kind]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(ev)
		}
	}
}
