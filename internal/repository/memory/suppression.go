package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository in memory.
type SuppressionRepo struct {
	mu           sync.RWMutex
	lists        map[string]*domain.List
	subscribers  map[string]*domain.Subscriber // "listID\x00email"
	unsubscribes []domain.UnsubscribeRecord
	bounces      []domain.BounceRecord
}

// NewSuppressionRepo returns an empty repository.
func NewSuppressionRepo() *SuppressionRepo {
	return &SuppressionRepo{
		lists:       make(map[string]*domain.List),
		subscribers: make(map[string]*domain.Subscriber),
	}
}

func subscriberKey(listID, email string) string { return listID + "\x00" + email }

func (r *SuppressionRepo) CreateList(_ context.Context, l *domain.List) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *l
	r.lists[l.ID] = &cp
	return nil
}

func (r *SuppressionRepo) GetList(_ context.Context, id string) (*domain.List, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lists[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (r *SuppressionRepo) Lists(_ context.Context) ([]domain.List, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.List, 0, len(r.lists))
	for _, l := range r.lists {
		out = append(out, *l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *SuppressionRepo) unsubscribedLocked(email, listID string) bool {
	for _, u := range r.unsubscribes {
		if u.Email != email {
			continue
		}
		if u.ListID == "" || (listID != "" && u.ListID == listID) {
			return true
		}
	}
	return false
}

// AddSubscriber checks suppression, inserts and bumps the counter under one
// lock.
func (r *SuppressionRepo) AddSubscriber(_ context.Context, sub *domain.Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lists[sub.ListID]
	if !ok {
		return suppression.ErrListNotFound
	}
	if r.unsubscribedLocked(sub.Email, sub.ListID) {
		return suppression.ErrSuppressedEmail
	}
	k := subscriberKey(sub.ListID, sub.Email)
	if existing, ok := r.subscribers[k]; ok && existing.Status == domain.SubscriberActive {
		return suppression.ErrDuplicateSubscriber
	}
	cp := *sub
	r.subscribers[k] = &cp
	l.SubscriberCount++
	return nil
}

func (r *SuppressionRepo) Unsubscribe(_ context.Context, rec *domain.UnsubscribeRecord) (*domain.UnsubscribeRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.unsubscribes {
		if u.Email == rec.Email && u.ListID == rec.ListID {
			cp := u
			return &cp, nil
		}
	}
	r.unsubscribes = append(r.unsubscribes, *rec)
	for _, s := range r.subscribers {
		if s.Email == rec.Email && (rec.ListID == "" || s.ListID == rec.ListID) {
			s.Status = domain.SubscriberUnsubscribed
		}
	}
	cp := *rec
	return &cp, nil
}

func (r *SuppressionRepo) IsUnsubscribed(_ context.Context, email, listID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unsubscribedLocked(email, listID), nil
}

func (r *SuppressionRepo) Unsubscribes(_ context.Context, f suppression.UnsubscribeFilter) ([]domain.UnsubscribeRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []domain.UnsubscribeRecord
	for i := len(r.unsubscribes) - 1; i >= 0; i-- {
		u := r.unsubscribes[i]
		if f.Email != "" && u.Email != f.Email {
			continue
		}
		if f.ListID != "" && u.ListID != f.ListID {
			continue
		}
		if f.Reason != "" && string(u.Reason) != f.Reason {
			continue
		}
		matched = append(matched, u)
	}
	return paginate(matched, f.Limit, f.Offset), len(matched), nil
}

func (r *SuppressionRepo) RecordBounce(_ context.Context, b *domain.BounceRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bounces = append(r.bounces, *b)
	return nil
}

func (r *SuppressionRepo) BounceCount(_ context.Context, email string, typ domain.BounceType, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, b := range r.bounces {
		if b.Email == email && (typ == "" || b.Type == typ) && !b.ReceivedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// paginate applies limit/offset; limit 0 returns everything after offset.
func paginate[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
