package suppression

import (
	"context"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// Repository defines the data access contract for lists, subscribers and
// the unsubscribe set.
type Repository interface {
	// CreateList persists a new list.
	CreateList(ctx context.Context, l *domain.List) error

	// GetList returns the list, or (nil, nil) when it does not exist.
	GetList(ctx context.Context, id string) (*domain.List, error)

	// Lists returns every list ordered by creation time.
	Lists(ctx context.Context) ([]domain.List, error)

	// AddSubscriber inserts the subscriber and increments the list's
	// SubscriberCount as one atomic step, conditional on no unsubscribe
	// record covering (email, listID). It returns ErrListNotFound,
	// ErrSuppressedEmail or ErrDuplicateSubscriber without mutating
	// anything when the insert is refused.
	AddSubscriber(ctx context.Context, sub *domain.Subscriber) error

	// Unsubscribe stores the record and marks matching subscribers as
	// unsubscribed. If an equivalent record (same email and list scope)
	// already exists it is returned unchanged.
	Unsubscribe(ctx context.Context, rec *domain.UnsubscribeRecord) (*domain.UnsubscribeRecord, error)

	// IsUnsubscribed reports whether a global record exists for email, or a
	// record scoped to listID when listID is not empty.
	IsUnsubscribed(ctx context.Context, email, listID string) (bool, error)

	// Unsubscribes returns records matching the filter and the total count
	// ignoring pagination. Limit 0 returns every match.
	Unsubscribes(ctx context.Context, filter UnsubscribeFilter) ([]domain.UnsubscribeRecord, int, error)

	// RecordBounce appends to the bounce history.
	RecordBounce(ctx context.Context, b *domain.BounceRecord) error

	// BounceCount returns how many bounces of the given type were recorded
	// for email at or after since. An empty type counts every bounce.
	BounceCount(ctx context.Context, email string, typ domain.BounceType, since time.Time) (int, error)
}

// UnsubscribeFilter controls pagination and filtering for unsubscribe
// listings.
type UnsubscribeFilter struct {
	Email  string
	ListID string
	Reason string
	Limit  int
	Offset int
}
