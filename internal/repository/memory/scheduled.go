package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/scheduler"
)

// ScheduledRepo implements scheduler.Repository in memory.
type ScheduledRepo struct {
	mu   sync.Mutex
	msgs map[string]*domain.ScheduledMessage
}

// NewScheduledRepo returns an empty repository.
func NewScheduledRepo() *ScheduledRepo {
	return &ScheduledRepo{msgs: make(map[string]*domain.ScheduledMessage)}
}

func (r *ScheduledRepo) Create(_ context.Context, m *domain.ScheduledMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *m
	r.msgs[m.ID] = &cp
	return nil
}

func (r *ScheduledRepo) Get(_ context.Context, id string) (*domain.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

// All returns every stored message ordered by creation time.
func (r *ScheduledRepo) All() []domain.ScheduledMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ScheduledMessage, 0, len(r.msgs))
	for _, m := range r.msgs {
		out = append(out, *m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *ScheduledRepo) ListDue(_ context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.ScheduledMessage
	for _, m := range r.msgs {
		if m.Status == domain.MessagePending && !m.NextRunAt.After(now) {
			due = append(due, *m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *ScheduledRepo) Claim(_ context.Context, id string, now time.Time) (*domain.ScheduledMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok || m.Status != domain.MessagePending || m.NextRunAt.After(now) {
		return nil, nil
	}
	m.Status = domain.MessageProcessing
	claimed := now
	m.ClaimedAt = &claimed
	m.UpdatedAt = now
	cp := *m
	return &cp, nil
}

func (r *ScheduledRepo) Update(_ context.Context, m *domain.ScheduledMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.msgs[m.ID]; !ok {
		return scheduler.ErrNotFound
	}
	cp := *m
	r.msgs[m.ID] = &cp
	return nil
}

func (r *ScheduledRepo) ReleaseStale(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, m := range r.msgs {
		if m.Status == domain.MessageProcessing && m.ClaimedAt != nil && m.ClaimedAt.Before(cutoff) {
			m.Status = domain.MessagePending
			m.Attempts++
			m.ClaimedAt = nil
			if m.LastError == "" {
				m.LastError = "claim expired"
			}
			n++
		}
	}
	return n, nil
}

func (r *ScheduledRepo) Cancel(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.msgs[id]
	if !ok {
		return scheduler.ErrNotFound
	}
	if m.Status != domain.MessagePending {
		return scheduler.ErrNotCancellable
	}
	m.Status = domain.MessageCancelled
	m.UpdatedAt = now
	return nil
}

// FailedRepo implements scheduler.FailedStore in memory.
type FailedRepo struct {
	mu     sync.RWMutex
	failed []domain.FailedMessage
}

// NewFailedRepo returns an empty dead-letter store.
func NewFailedRepo() *FailedRepo { return &FailedRepo{} }

func (r *FailedRepo) Save(_ context.Context, f *domain.FailedMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, *f)
	return nil
}

func (r *FailedRepo) List(_ context.Context, transportName string, limit, offset int) ([]domain.FailedMessage, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []domain.FailedMessage
	for _, f := range r.failed {
		if transportName == "" || f.TransportName == transportName {
			matched = append(matched, f)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].FailedAt.After(matched[j].FailedAt) })
	return paginate(matched, limit, offset), len(matched), nil
}
