package events

import (
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("webhook subscription not found")
	ErrInvalidWebhook       = errors.New("invalid webhook subscription")
)

// Subscription is a registered webhook endpoint. The event type set is
// fixed at creation; the active flag may be flipped at any time and is read
// on every dispatch.
type Subscription struct {
	ID        string
	Config    domain.WebhookConfig
	CreatedAt time.Time

	eventTypes []domain.EmailEventType
	active     atomic.Bool
}

// EventTypes returns a copy of the subscribed event types.
func (s *Subscription) EventTypes() []domain.EmailEventType {
	out := make([]domain.EmailEventType, len(s.eventTypes))
	copy(out, s.eventTypes)
	return out
}

// Active reports whether the subscription currently receives events.
func (s *Subscription) Active() bool { return s.active.Load() }

// SetActive enables or disables delivery without re-registering.
func (s *Subscription) SetActive(active bool) { s.active.Store(active) }

// Accepts reports whether the subscription is active and subscribed to t.
func (s *Subscription) Accepts(t domain.EmailEventType) bool {
	if !s.Active() {
		return false
	}
	for _, et := range s.eventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// SubscriptionView is the JSON shape of a subscription. The secret is
// never echoed.
type SubscriptionView struct {
	ID         string                  `json:"id"`
	URL        string                  `json:"url"`
	HasSecret  bool                    `json:"has_secret"`
	EventTypes []domain.EmailEventType `json:"event_types"`
	Active     bool                    `json:"active"`
	CreatedAt  time.Time               `json:"created_at"`
}

// View returns the API representation of s.
func (s *Subscription) View() SubscriptionView {
	return SubscriptionView{
		ID:         s.ID,
		URL:        s.Config.URL,
		HasSecret:  s.Config.Secret != "",
		EventTypes: s.EventTypes(),
		Active:     s.Active(),
		CreatedAt:  s.CreatedAt,
	}
}

// WebhookRegistry holds webhook subscriptions. It is an explicit object so
// each server (and each test) owns its own set.
type WebhookRegistry struct {
	mu    sync.RWMutex
	subs  map[string]*Subscription
	order []string
	now   func() time.Time
}

// NewWebhookRegistry returns an empty registry.
func NewWebhookRegistry() *WebhookRegistry {
	return &WebhookRegistry{subs: make(map[string]*Subscription), now: time.Now}
}

// Add registers a webhook. The URL must be absolute http(s) and at least
// one known event type is required; duplicates are collapsed.
func (r *WebhookRegistry) Add(cfg domain.WebhookConfig, types []domain.EmailEventType, active bool) (*Subscription, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: url must be absolute http(s)", ErrInvalidWebhook)
	}
	if len(types) == 0 {
		return nil, fmt.Errorf("%w: at least one event type is required", ErrInvalidWebhook)
	}
	seen := make(map[domain.EmailEventType]bool, len(types))
	var deduped []domain.EmailEventType
	for _, t := range types {
		if !t.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, t)
		}
		if !seen[t] {
			seen[t] = true
			deduped = append(deduped, t)
		}
	}

	sub := &Subscription{
		ID:         uuid.New().String(),
		Config:     cfg,
		CreatedAt:  r.now().UTC(),
		eventTypes: deduped,
	}
	sub.SetActive(active)

	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.order = append(r.order, sub.ID)
	r.mu.Unlock()
	return sub, nil
}

// Get returns the subscription with id, if any.
func (r *WebhookRegistry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.subs[id]
	return s, ok
}

// Remove unregisters a subscription.
func (r *WebhookRegistry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[id]; !ok {
		return ErrSubscriptionNotFound
	}
	delete(r.subs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetActive toggles a subscription by id.
func (r *WebhookRegistry) SetActive(id string, active bool) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrSubscriptionNotFound
	}
	s.SetActive(active)
	return nil
}

// List returns every subscription in registration order.
func (r *WebhookRegistry) List() []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Subscription, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.subs[id])
	}
	return out
}

// Matching returns the active subscriptions that accept t.
func (r *WebhookRegistry) Matching(t domain.EmailEventType) []*Subscription {
	var out []*Subscription
	for _, s := range r.List() {
		if s.Accepts(t) {
			out = append(out, s)
		}
	}
	return out
}

// EventTypes returns the union of event types over active subscriptions,
// in enumeration order. It is computed from current state on every call.
func (r *WebhookRegistry) EventTypes() []domain.EmailEventType {
	present := make(map[domain.EmailEventType]bool)
	for _, s := range r.List() {
		if !s.Active() {
			continue
		}
		for _, t := range s.eventTypes {
			present[t] = true
		}
	}
	out := make([]domain.EmailEventType, 0, len(present))
	for _, t := range domain.AllEventTypes {
		if present[t] {
			out = append(out, t)
		}
	}
	return out
}
