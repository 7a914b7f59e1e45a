// Package inbound routes raw messages arriving at the bounce mailbox through
// the notification parser, the bounce classifier and the suppression
// manager, and publishes the resulting lifecycle events.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadmap-mailflow/internal/bounce"
	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/notification"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

// ErrMalformedMessage is returned when the raw bytes are not an RFC 5322
// message.
var ErrMalformedMessage = errors.New("malformed message")

// Kind says what an inbound message turned out to be.
type Kind string

const (
	KindReadReceipt Kind = "read_receipt"
	KindDisposition Kind = "disposition"
	KindComplaint   Kind = "complaint"
	KindDelivered   Kind = "delivered"
	KindDelayed     Kind = "delayed"
	KindBounce      Kind = "bounce"
	KindIgnored     Kind = "ignored"
)

// Result is the outcome of processing one message.
type Result struct {
	Kind       Kind                                   `json:"kind"`
	DSN        *domain.DeliveryStatusNotification     `json:"dsn,omitempty"`
	MDN        *domain.MessageDispositionNotification `json:"mdn,omitempty"`
	Bounce     *domain.Bounce                         `json:"bounce,omitempty"`
	Complaint  *domain.ComplaintReport                `json:"complaint,omitempty"`
	Suppressed bool                                   `json:"suppressed"`
}

// Suppressor is the part of the suppression manager the pipeline drives.
type Suppressor interface {
	Unsubscribe(ctx context.Context, email, listID string, reason domain.UnsubscribeReason) (*domain.UnsubscribeRecord, error)
	ApplyBounce(ctx context.Context, b *domain.Bounce) (*domain.UnsubscribeRecord, error)
}

// Publisher receives the events the pipeline emits.
type Publisher interface {
	Publish(ctx context.Context, ev domain.EmailEvent)
}

// Processor is safe for concurrent use.
type Processor struct {
	parser     *notification.Parser
	classifier *bounce.Classifier
	suppressor Suppressor
	publisher  Publisher
	now        func() time.Time
}

// NewProcessor wires the pipeline. publisher may be nil.
func NewProcessor(suppressor Suppressor, publisher Publisher) *Processor {
	return &Processor{
		parser:     notification.New(),
		classifier: bounce.New(),
		suppressor: suppressor,
		publisher:  publisher,
		now:        time.Now,
	}
}

// Process handles one raw message. sender is the address the original mail
// was sent from; it is never taken as the bounced recipient.
func (p *Processor) Process(ctx context.Context, raw []byte, sender string) (*Result, error) {
	h, body, err := notification.ParseMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch {
	case notification.IsMDN(h):
		return p.handleMDN(ctx, h, body), nil
	case notification.IsFeedbackReport(h):
		return p.handleComplaint(ctx, h, body)
	case notification.IsDSN(h):
		dsn := p.parser.ProcessDSN(h, body)
		if dsn != nil {
			switch dsn.Action {
			case domain.ActionDelivered, domain.ActionRelayed, domain.ActionExpanded:
				p.publish(ctx, domain.EventMessageDelivered, dsn.FinalRecipient, dsn.MessageID, dsnPayload(dsn))
				return &Result{Kind: KindDelivered, DSN: dsn}, nil
			case domain.ActionDelayed:
				p.publish(ctx, domain.EventMessageDelayed, dsn.FinalRecipient, dsn.MessageID, dsnPayload(dsn))
				return &Result{Kind: KindDelayed, DSN: dsn}, nil
			}
		}
		res, err := p.handleBounce(ctx, h, body, sender)
		if res != nil {
			res.DSN = dsn
		}
		return res, err
	case looksLikeBounce(h):
		return p.handleBounce(ctx, h, body, sender)
	}
	return &Result{Kind: KindIgnored}, nil
}

func (p *Processor) handleMDN(ctx context.Context, h *notification.Headers, body string) *Result {
	mdn := p.parser.ProcessMDN(h, body)
	if mdn == nil {
		return &Result{Kind: KindIgnored}
	}
	if !notification.IsReadReceipt(mdn) {
		return &Result{Kind: KindDisposition, MDN: mdn}
	}
	recipient := notification.StripAddressType(mdn.FinalRecipient)
	p.publish(ctx, domain.EventMessageOpened, recipient, mdn.OriginalMessageID, map[string]any{
		"disposition_type": string(mdn.Disposition.Type),
		"disposition_mode": string(mdn.Disposition.Mode),
	})
	return &Result{Kind: KindReadReceipt, MDN: mdn}
}

func (p *Processor) handleComplaint(ctx context.Context, h *notification.Headers, body string) (*Result, error) {
	report := p.parser.ProcessFeedbackReport(h, body)
	if report == nil {
		return &Result{Kind: KindIgnored}, nil
	}
	rec, err := p.suppressor.Unsubscribe(ctx, report.Recipient, "", domain.ReasonComplaint)
	if err != nil {
		return nil, fmt.Errorf("suppress complainant: %w", err)
	}
	logger.Warn("inbound: spam complaint", "email", report.Recipient,
		"feedback_type", report.FeedbackType, "reported_domain", report.ReportedDomain)
	p.publish(ctx, domain.EventMessageComplained, report.Recipient, report.MessageID, map[string]any{
		"feedback_type":   report.FeedbackType,
		"reported_domain": report.ReportedDomain,
		"source_ip":       report.SourceIP,
	})
	return &Result{Kind: KindComplaint, Complaint: report, Suppressed: rec != nil}, nil
}

func (p *Processor) handleBounce(ctx context.Context, h *notification.Headers, body, sender string) (*Result, error) {
	b := p.classifier.Process(h, body, sender)
	if b == nil {
		return &Result{Kind: KindIgnored}, nil
	}
	rec, err := p.suppressor.ApplyBounce(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("apply bounce: %w", err)
	}
	p.publish(ctx, domain.EventMessageBounced, b.Recipient, b.MessageID, map[string]any{
		"bounce_type": string(b.Classification.Type),
		"category":    string(b.Classification.Category),
		"status_code": b.StatusCode,
		"retryable":   b.Classification.Retryable,
		"suppressed":  rec != nil,
	})
	return &Result{Kind: KindBounce, Bounce: b, Suppressed: rec != nil}, nil
}

// looksLikeBounce catches non-standard bounces that arrive without a
// delivery-status report.
func looksLikeBounce(h *notification.Headers) bool {
	if h.Has("X-Failed-Recipients") {
		return true
	}
	from := strings.ToLower(h.Get("From"))
	if strings.Contains(from, "mailer-daemon") || strings.Contains(from, "postmaster") {
		return true
	}
	subject := strings.ToLower(h.Get("Subject"))
	for _, s := range []string{"undeliver", "delivery status notification", "returned mail", "delivery failure", "mail delivery failed"} {
		if strings.Contains(subject, s) {
			return true
		}
	}
	return false
}

func dsnPayload(dsn *domain.DeliveryStatusNotification) map[string]any {
	return map[string]any{
		"action":        string(dsn.Action),
		"status":        dsn.Status.String(),
		"reporting_mta": dsn.ReportingMTA,
	}
}

func (p *Processor) publish(ctx context.Context, typ domain.EmailEventType, recipient, messageID string, payload map[string]any) {
	if p.publisher == nil {
		return
	}
	p.publisher.Publish(ctx, domain.EmailEvent{
		ID:         uuid.New().String(),
		Type:       typ,
		Recipient:  strings.ToLower(recipient),
		MessageID:  messageID,
		Payload:    payload,
		OccurredAt: p.now().UTC(),
	})
}
