package domain

import "time"

// MailMessage is a stored mailbox message as captured in a backup.
type MailMessage struct {
	MessageID  string            `json:"message_id"`
	From       string            `json:"from"`
	To         []string          `json:"to"`
	Subject    string            `json:"subject"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
	ReceivedAt time.Time         `json:"received_at"`
}

// Backup is a named snapshot of mailbox messages.
type Backup struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Messages  []MailMessage `json:"messages"`
	CreatedAt time.Time     `json:"created_at"`
}
