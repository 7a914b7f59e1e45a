package domain

import "time"

// EmailEventType is the closed set of lifecycle events published on the bus.
type EmailEventType string

const (
	EventMessageScheduled       EmailEventType = "MESSAGE_SCHEDULED"
	EventMessageSent            EmailEventType = "MESSAGE_SENT"
	EventMessageDelivered       EmailEventType = "MESSAGE_DELIVERED"
	EventMessageDelayed         EmailEventType = "MESSAGE_DELAYED"
	EventMessageBounced         EmailEventType = "MESSAGE_BOUNCED"
	EventMessageComplained      EmailEventType = "MESSAGE_COMPLAINED"
	EventMessageOpened          EmailEventType = "MESSAGE_OPENED"
	EventMessageFailed          EmailEventType = "MESSAGE_FAILED"
	EventMessageDeadLettered    EmailEventType = "MESSAGE_DEAD_LETTERED"
	EventSubscriberAdded        EmailEventType = "SUBSCRIBER_ADDED"
	EventSubscriberUnsubscribed EmailEventType = "SUBSCRIBER_UNSUBSCRIBED"
)

// AllEventTypes lists every EmailEventType in declaration order.
var AllEventTypes = []EmailEventType{
	EventMessageScheduled,
	EventMessageSent,
	EventMessageDelivered,
	EventMessageDelayed,
	EventMessageBounced,
	EventMessageComplained,
	EventMessageOpened,
	EventMessageFailed,
	EventMessageDeadLettered,
	EventSubscriberAdded,
	EventSubscriberUnsubscribed,
}

// Valid reports whether t belongs to the enumeration.
func (t EmailEventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EmailEvent is a single lifecycle event.
type EmailEvent struct {
	ID         string         `json:"id"`
	Type       EmailEventType `json:"type"`
	Recipient  string         `json:"recipient,omitempty"`
	MessageID  string         `json:"message_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// WebhookConfig is the delivery target of a webhook subscription.
type WebhookConfig struct {
	URL    string `json:"url"`
	Secret string `json:"secret,omitempty"`
}

// DeliveryAttempt records one HTTP attempt to deliver an event to a webhook.
type DeliveryAttempt struct {
	ID             string         `json:"id" dynamodbav:"ID"`
	SubscriptionID string         `json:"subscription_id" dynamodbav:"SubscriptionID"`
	EventID        string         `json:"event_id" dynamodbav:"EventID"`
	EventType      EmailEventType `json:"event_type" dynamodbav:"EventType"`
	URL            string         `json:"url" dynamodbav:"URL"`
	Attempt        int            `json:"attempt" dynamodbav:"Attempt"`
	StatusCode     int            `json:"status_code,omitempty" dynamodbav:"StatusCode"`
	Success        bool           `json:"success" dynamodbav:"Success"`
	Error          string         `json:"error,omitempty" dynamodbav:"Error"`
	DurationMS     int64          `json:"duration_ms" dynamodbav:"DurationMS"`
	AttemptedAt    time.Time      `json:"attempted_at" dynamodbav:"AttemptedAt"`
}
