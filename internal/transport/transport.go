// Package transport delivers rendered messages through a named provider.
package transport

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// ErrUnknownTransport is returned when no transport is registered under a
// name.
var ErrUnknownTransport = errors.New("unknown transport")

// Transport sends one rendered message and returns the provider's message
// id.
type Transport interface {
	Name() string
	Send(ctx context.Context, p domain.MessagePayload) (string, error)
}

// Registry maps transport names to implementations.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Transport
}

// NewRegistry returns a registry holding ts.
func NewRegistry(ts ...Transport) *Registry {
	r := &Registry{m: make(map[string]Transport)}
	for _, t := range ts {
		r.Register(t)
	}
	return r
}

// Register adds or replaces t under t.Name().
func (r *Registry) Register(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[t.Name()] = t
}

// Get returns the transport registered under name.
func (r *Registry) Get(name string) (Transport, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.m[name]
	return t, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.m))
	for n := range r.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
