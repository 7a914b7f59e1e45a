// Package events carries email lifecycle events from the components that
// observe them to in-process listeners and to external webhook endpoints.
package events

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

// ErrUnknownEventType is returned by ParseEventType for names outside the
// EmailEventType enumeration.
var ErrUnknownEventType = errors.New("unknown event type")

// ParseEventType validates an event type name. Matching is
// case-insensitive.
func ParseEventType(s string) (domain.EmailEventType, error) {
	t := domain.EmailEventType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
	}
	return t, nil
}

// Listener receives published events. Handle runs on the publisher's
// goroutine, so slow listeners should hand work off.
type Listener interface {
	Handle(ctx context.Context, ev domain.EmailEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev domain.EmailEvent)

// Handle calls f.
func (f ListenerFunc) Handle(ctx context.Context, ev domain.EmailEvent) { f(ctx, ev) }

// ListenerID identifies a subscription on a Bus.
type ListenerID uint64

// Bus fans events out to registered listeners in subscription order.
// Construct one per process (or per test) with NewBus and Close it on
// shutdown.
type Bus struct {
	mu        sync.RWMutex
	listeners map[ListenerID]Listener
	next      ListenerID
	closed    bool
}

// NewBus returns an empty, open bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[ListenerID]Listener)}
}

// Subscribe registers l and returns its id. Subscribing to a closed bus
// returns 0 and registers nothing.
func (b *Bus) Subscribe(l Listener) ListenerID {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.next++
	b.listeners[b.next] = l
	return b.next
}

// Unsubscribe removes a listener. It reports whether the id was registered.
func (b *Bus) Unsubscribe(id ListenerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[id]; !ok {
		return false
	}
	delete(b.listeners, id)
	return true
}

// Len returns the number of registered listeners.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Publish delivers ev to every listener. A listener that panics is logged
// and skipped. Publishing on a closed bus does nothing.
func (b *Bus) Publish(ctx context.Context, ev domain.EmailEvent) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	ids := make([]ListenerID, 0, len(b.listeners))
	for id := range b.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	snapshot := make([]Listener, len(ids))
	for i, id := range ids {
		snapshot[i] = b.listeners[id]
	}
	b.mu.RUnlock()

	for _, l := range snapshot {
		deliver(ctx, l, ev)
	}
}

func deliver(ctx context.Context, l Listener, ev domain.EmailEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event listener panicked", "event_type", string(ev.Type), "event_id", ev.ID, "panic", fmt.Sprint(r))
		}
	}()
	l.Handle(ctx, ev)
}

// Close drops every listener. Further Publish and Subscribe calls are
// no-ops.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.listeners = make(map[ListenerID]Listener)
}
