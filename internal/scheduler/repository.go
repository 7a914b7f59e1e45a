package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// Sentinel errors for the scheduler.
var (
	ErrNotFound        = errors.New("scheduled message not found")
	ErrNotCancellable  = errors.New("scheduled message is no longer pending")
	ErrInvalidSchedule = errors.New("invalid schedule")
	ErrInvalidMessage  = errors.New("invalid message")
	ErrTemplate        = errors.New("template error")
)

// Repository persists scheduled messages. Claim is the only concurrency
// guard: it must be a conditional update on the stored status.
type Repository interface {
	// Create inserts a new message.
	Create(ctx context.Context, m *domain.ScheduledMessage) error

	// Get returns the message, or (nil, nil) when it does not exist.
	Get(ctx context.Context, id string) (*domain.ScheduledMessage, error)

	// ListDue returns pending messages with NextRunAt <= now, oldest
	// NextRunAt first, at most limit rows.
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error)

	// Claim moves a message from pending to processing and stamps
	// ClaimedAt, but only while it is still pending and due at now. It
	// returns the claimed row as stored, or nil when another invocation
	// won the race or already rescheduled the message.
	Claim(ctx context.Context, id string, now time.Time) (*domain.ScheduledMessage, error)

	// Update writes the outcome of processing a claimed message: status,
	// attempts, next run, last error, occurrence and sent time.
	Update(ctx context.Context, m *domain.ScheduledMessage) error

	// ReleaseStale returns messages stuck in processing since before cutoff
	// to pending, counting the abandoned run as an attempt.
	ReleaseStale(ctx context.Context, cutoff time.Time) (int, error)

	// Cancel moves a pending message to cancelled. It returns ErrNotFound
	// or ErrNotCancellable when the transition is impossible.
	Cancel(ctx context.Context, id string, now time.Time) error
}

// FailedStore persists dead-lettered messages.
type FailedStore interface {
	Save(ctx context.Context, f *domain.FailedMessage) error

	// List returns failed messages for transportName (all transports when
	// empty), newest FailedAt first, and the total matching count.
	List(ctx context.Context, transportName string, limit, offset int) ([]domain.FailedMessage, int, error)
}
