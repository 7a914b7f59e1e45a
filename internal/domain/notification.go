package domain

import "time"

// DSNAction is the per-recipient Action field of a delivery status
// notification (RFC 3464 section 2.3.3).
type DSNAction string

const (
	ActionDelivered DSNAction = "delivered"
	ActionFailed    DSNAction = "failed"
	ActionDelayed   DSNAction = "delayed"
	ActionRelayed   DSNAction = "relayed"
	ActionExpanded  DSNAction = "expanded"
)

// Valid reports whether a is one of the RFC 3464 action values.
func (a DSNAction) Valid() bool {
	switch a {
	case ActionDelivered, ActionFailed, ActionDelayed, ActionRelayed, ActionExpanded:
		return true
	}
	return false
}

// StatusCode is an RFC 3463 enhanced status code split into its parts.
// Subject and Detail may hold more than one digit ("5.1.10").
type StatusCode struct {
	Class   string `json:"class"`
	Subject string `json:"subject"`
	Detail  string `json:"detail"`
}

// String renders the dotted form, or "" for a zero code.
func (s StatusCode) String() string {
	if s.Class == "" {
		return ""
	}
	return s.Class + "." + s.Subject + "." + s.Detail
}

// DeliveryStatusNotification is a parsed DSN for a single recipient.
type DeliveryStatusNotification struct {
	MessageID      string     `json:"message_id"`
	FinalRecipient string     `json:"final_recipient"`
	Action         DSNAction  `json:"action"`
	Status         StatusCode `json:"status"`
	DiagnosticCode string     `json:"diagnostic_code,omitempty"`
	ReportingMTA   string     `json:"reporting_mta,omitempty"`
	ReceivedAt     time.Time  `json:"received_at"`
}

// Severity is the delivery outcome tier derived from a status class.
type Severity string

const (
	SeverityPermanent Severity = "permanent"
	SeverityTemporary Severity = "temporary"
	SeveritySuccess   Severity = "success"
)

// DispositionType is the disposition-type of an MDN (RFC 3798 section 3.2.6).
type DispositionType string

const (
	DispositionDisplayed       DispositionType = "displayed"
	DispositionDeleted         DispositionType = "deleted"
	DispositionDispatched      DispositionType = "dispatched"
	DispositionProcessed       DispositionType = "processed"
	DispositionAutomaticAction DispositionType = "automatic-action"
	DispositionManualAction    DispositionType = "manual-action"
)

// DispositionMode is the sending-mode of an MDN.
type DispositionMode string

const (
	ModeSentAutomatically DispositionMode = "MDN-sent-automatically"
	ModeSentManually      DispositionMode = "MDN-sent-manually"
)

// Disposition is the parsed Disposition field of an MDN.
type Disposition struct {
	Type DispositionType `json:"type"`
	Mode DispositionMode `json:"mode"`
}

// MessageDispositionNotification is a parsed MDN (read/processing receipt).
// Recipient fields are kept verbatim, address-type prefix included.
type MessageDispositionNotification struct {
	MessageID         string      `json:"message_id"`
	OriginalMessageID string      `json:"original_message_id"`
	OriginalRecipient string      `json:"original_recipient"`
	FinalRecipient    string      `json:"final_recipient"`
	Disposition       Disposition `json:"disposition"`
	ReceivedAt        time.Time   `json:"received_at"`
}

// ComplaintReport is an Abuse Reporting Format (RFC 5965) feedback report.
type ComplaintReport struct {
	Recipient      string    `json:"recipient"`
	FeedbackType   string    `json:"feedback_type"`
	ReportedDomain string    `json:"reported_domain,omitempty"`
	SourceIP       string    `json:"source_ip,omitempty"`
	MessageID      string    `json:"message_id,omitempty"`
	ReceivedAt     time.Time `json:"received_at"`
}
