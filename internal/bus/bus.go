// Package bus is the in-process invalidation bus. Publishers announce that a
// cache partition (or everything) changed; subscribed caches drop or refresh
// their entries in response.
package bus

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Scope says how much of the cached state an event covers.
type Scope string

const (
	// ScopePartition covers one partition of one cache family.
	ScopePartition Scope = "partition"
	// ScopeOwner covers every cached partition of one owner, in every family.
	ScopeOwner Scope = "owner"
	// ScopeAll covers every cached partition of every family.
	ScopeAll Scope = "all"
)

// Event describes a change that may make cached entries stale.
type Event struct {
	ID           string
	Scope        Scope
	Family       string
	PartitionKey string
	// Owner is the owner whose partitions a scope-owner event covers.
	Owner string
	// Origin names the subscriber that already applied the change itself.
	// That subscriber skips the event; everyone else handles it.
	Origin string
	Reason string
}

// Partition builds an event covering one partition.
func Partition(family, key, origin, reason string) Event {
	return Event{
		ID:           uuid.New().String(),
		Scope:        ScopePartition,
		Family:       family,
		PartitionKey: key,
		Origin:       origin,
		Reason:       reason,
	}
}

// Owner builds an event covering every partition of owner.
func Owner(owner, reason string) Event {
	return Event{ID: uuid.New().String(), Scope: ScopeOwner, Owner: owner, Reason: reason}
}

// All builds an event covering every partition.
func All(reason string) Event {
	return Event{ID: uuid.New().String(), Scope: ScopeAll, Reason: reason}
}

// Handler receives invalidation events.
type Handler interface {
	HandleInvalidation(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// HandleInvalidation calls f(ctx, event).
func (f HandlerFunc) HandleInvalidation(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus fans events out synchronously to its subscribers.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]subscription
	nextID   uint64
	logger   *slog.Logger
}

type subscription struct {
	id      uint64
	handler Handler
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		handlers: make(map[string]subscription),
		logger:   logger.With("component", "invalidation_bus"),
	}
}

// Subscribe registers handler under name, replacing any handler already
// registered with that name. The returned func unsubscribes it.
func (b *Bus) Subscribe(name string, handler Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = subscription{id: id, handler: handler}
	b.logger.Debug("registered invalidation handler", "name", name, "handler_count", len(b.handlers))

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.handlers[name]; ok && sub.id == id {
			delete(b.handlers, name)
		}
	}
}

// Subscribers returns the registered handler names in sorted order.
func (b *Bus) Subscribers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Publish delivers event to every subscriber before returning. A failing
// handler does not stop delivery to the others; the first error is returned.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	b.mu.RLock()
	names := make([]string, 0, len(b.handlers))
	for name := range b.handlers {
		names = append(names, name)
	}
	handlers := make(map[string]Handler, len(b.handlers))
	for name, sub := range b.handlers {
		handlers[name] = sub.handler
	}
	b.mu.RUnlock()
	sort.Strings(names)

	b.logger.Debug("publishing invalidation",
		"event_id", event.ID,
		"scope", event.Scope,
		"family", event.Family,
		"partition", event.PartitionKey,
		"owner", event.Owner,
		"origin", event.Origin,
		"reason", event.Reason,
		"handler_count", len(names))

	var firstErr error
	for _, name := range names {
		if err := handlers[name].HandleInvalidation(ctx, event); err != nil {
			b.logger.Error("handler failed to process invalidation",
				"error", err,
				"handler", name,
				"event_id", event.ID,
				"scope", event.Scope)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
