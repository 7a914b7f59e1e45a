package domain

import "time"

// SubscriberStatus enumerates the states a subscriber can be in.
type SubscriberStatus string

const (
	SubscriberActive       SubscriberStatus = "active"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
)

// Subscriber represents a single email recipient within a mailing list.
type Subscriber struct {
	ID           string           `json:"id" db:"id"`
	ListID       string           `json:"list_id" db:"list_id"`
	Email        string           `json:"email" db:"email"`
	Status       SubscriberStatus `json:"status" db:"status"`
	SubscribedAt time.Time        `json:"subscribed_at" db:"subscribed_at"`
}

// List represents a mailing list that holds subscribers. SubscriberCount is
// maintained incrementally on each successful add.
type List struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	Description     string    `json:"description" db:"description"`
	SubscriberCount int       `json:"subscriber_count" db:"subscriber_count"`
	Active          bool      `json:"active" db:"active"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
