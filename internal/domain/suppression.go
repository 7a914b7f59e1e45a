package domain

import "time"

// UnsubscribeReason enumerates why an email was unsubscribed or suppressed.
type UnsubscribeReason string

const (
	ReasonUserRequest UnsubscribeReason = "user_request"
	ReasonHardBounce  UnsubscribeReason = "hard_bounce"
	ReasonSoftBounce  UnsubscribeReason = "soft_bounce_escalation"
	ReasonComplaint   UnsubscribeReason = "spam_complaint"
	ReasonManual      UnsubscribeReason = "manual"
)

// UnsubscribeRecord is one entry in the unsubscribe set. An empty ListID
// means the address is unsubscribed from every list.
type UnsubscribeRecord struct {
	ID             string            `json:"id" db:"id"`
	Email          string            `json:"email" db:"email"`
	ListID         string            `json:"list_id,omitempty" db:"list_id"`
	Reason         UnsubscribeReason `json:"reason" db:"reason"`
	UnsubscribedAt time.Time         `json:"unsubscribed_at" db:"unsubscribed_at"`
}

// Global reports whether the record applies to all lists.
func (r UnsubscribeRecord) Global() bool { return r.ListID == "" }
