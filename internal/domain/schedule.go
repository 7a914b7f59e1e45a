package domain

import "time"

// ScheduleKind selects how a scheduled message computes its next run.
type ScheduleKind string

const (
	ScheduleCron      ScheduleKind = "cron"
	ScheduleInterval  ScheduleKind = "interval"
	ScheduleOnce      ScheduleKind = "once"
	ScheduleRecurring ScheduleKind = "recurring"
)

// Valid reports whether k is a known schedule kind.
func (k ScheduleKind) Valid() bool {
	switch k {
	case ScheduleCron, ScheduleInterval, ScheduleOnce, ScheduleRecurring:
		return true
	}
	return false
}

// Repeats reports whether a successful send derives a follow-up occurrence.
func (k ScheduleKind) Repeats() bool { return k != ScheduleOnce }

// MessageStatus enumerates the lifecycle states of a scheduled message.
type MessageStatus string

const (
	MessagePending      MessageStatus = "pending"
	MessageProcessing   MessageStatus = "processing"
	MessageSent         MessageStatus = "sent"
	MessageFailed       MessageStatus = "failed"
	MessageDeadLettered MessageStatus = "dead-lettered"
	MessageCancelled    MessageStatus = "cancelled"
)

// MessagePayload is the content handed to a transport. Subject and bodies
// may contain liquid markup rendered against Data before sending.
type MessagePayload struct {
	From     string            `json:"from"`
	To       []string          `json:"to"`
	ReplyTo  string            `json:"reply_to,omitempty"`
	Subject  string            `json:"subject"`
	HTMLBody string            `json:"html_body,omitempty"`
	TextBody string            `json:"text_body,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
	Data     map[string]any    `json:"data,omitempty"`
}

// ScheduledMessage is one occurrence of a scheduled send.
type ScheduledMessage struct {
	ID             string         `json:"id" db:"id"`
	ParentID       string         `json:"parent_id,omitempty" db:"parent_id"`
	TransportName  string         `json:"transport_name" db:"transport_name"`
	Payload        MessagePayload `json:"payload" db:"payload"`
	ScheduleKind   ScheduleKind   `json:"schedule_kind" db:"schedule_kind"`
	ScheduleSpec   string         `json:"schedule_spec" db:"schedule_spec"`
	Timezone       string         `json:"timezone" db:"timezone"`
	NextRunAt      time.Time      `json:"next_run_at" db:"next_run_at"`
	Status         MessageStatus  `json:"status" db:"status"`
	Attempts       int            `json:"attempts" db:"attempts"`
	LastError      string         `json:"last_error,omitempty" db:"last_error"`
	Occurrence     int            `json:"occurrence" db:"occurrence"`
	MaxOccurrences int            `json:"max_occurrences,omitempty" db:"max_occurrences"`
	ClaimedAt      *time.Time     `json:"claimed_at,omitempty" db:"claimed_at"`
	SentAt         *time.Time     `json:"sent_at,omitempty" db:"sent_at"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// FailedMessage is the dead-letter record of a message that exhausted its
// attempts.
type FailedMessage struct {
	ID              string         `json:"id" db:"id"`
	MessageID       string         `json:"message_id" db:"message_id"`
	TransportName   string         `json:"transport_name" db:"transport_name"`
	Attempts        int            `json:"attempts" db:"attempts"`
	LastError       string         `json:"last_error" db:"last_error"`
	OriginalPayload MessagePayload `json:"original_payload" db:"original_payload"`
	FailedAt        time.Time      `json:"failed_at" db:"failed_at"`
}
