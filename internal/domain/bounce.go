package domain

import "time"

// BounceType is the severity of a bounce.
type BounceType string

const (
	BounceHard    BounceType = "hard"
	BounceSoft    BounceType = "soft"
	BounceUnknown BounceType = "unknown"
)

// BounceCategory is the enumerated reason behind a bounce.
type BounceCategory string

const (
	CategoryMailboxNotFound  BounceCategory = "mailbox_not_found"
	CategoryMailboxFull      BounceCategory = "mailbox_full"
	CategorySpamBlock        BounceCategory = "spam_block"
	CategoryPolicyReject     BounceCategory = "policy_reject"
	CategoryThrottled        BounceCategory = "throttled"
	CategoryTemporaryFailure BounceCategory = "temporary_failure"
	CategoryUnknown          BounceCategory = "unknown"
)

// Transient reports whether the category describes a condition expected to
// clear on its own.
func (c BounceCategory) Transient() bool {
	switch c {
	case CategoryMailboxFull, CategoryThrottled, CategoryTemporaryFailure:
		return true
	}
	return false
}

// BounceClassification is the classifier's verdict for one bounce.
type BounceClassification struct {
	Type           BounceType     `json:"type"`
	Category       BounceCategory `json:"category"`
	Retryable      bool           `json:"retryable"`
	ShouldSuppress bool           `json:"should_suppress"`
}

// Bounce wraps a classification with the message it came from.
type Bounce struct {
	Recipient      string               `json:"recipient"`
	Classification BounceClassification `json:"classification"`
	StatusCode     string               `json:"status_code,omitempty"`
	Diagnostic     string               `json:"diagnostic,omitempty"`
	MessageID      string               `json:"message_id,omitempty"`
	RawHeaders     map[string][]string  `json:"raw_headers,omitempty"`
	RawBody        string               `json:"raw_body,omitempty"`
	Sender         string               `json:"sender,omitempty"`
	ReceivedAt     time.Time            `json:"received_at"`
}

// BounceRecord is the persisted history entry for a bounce.
type BounceRecord struct {
	ID         string         `json:"id" db:"id"`
	Email      string         `json:"email" db:"email"`
	Type       BounceType     `json:"type" db:"bounce_type"`
	Category   BounceCategory `json:"category" db:"category"`
	StatusCode string         `json:"status_code,omitempty" db:"status_code"`
	Diagnostic string         `json:"diagnostic,omitempty" db:"diagnostic"`
	ReceivedAt time.Time      `json:"received_at" db:"received_at"`
}
