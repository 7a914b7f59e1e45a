package notification

import (
	"net/mail"
	"strings"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// ProcessFeedbackReport extracts an abuse complaint from an ARF
// (RFC 5965) report. Yahoo, Outlook and AOL feedback loops forward
// complaints in this shape.
func (p *Parser) ProcessFeedbackReport(h *Headers, body string) *domain.ComplaintReport {
	if !IsFeedbackReport(h) {
		return nil
	}
	fields := bodyFields(body)

	recipient := StripAddressType(firstNonEmpty(
		fields["original-rcpt-to"],
		fields["removal-recipient"],
	))
	if recipient == "" {
		// Fall back to the To of the embedded original message.
		if addr, err := mail.ParseAddress(fields["to"]); err == nil {
			recipient = addr.Address
		}
	}
	if recipient == "" {
		return nil
	}

	feedbackType := strings.ToLower(fields["feedback-type"])
	if feedbackType == "" {
		feedbackType = "abuse"
	}

	return &domain.ComplaintReport{
		Recipient:      strings.ToLower(recipient),
		FeedbackType:   feedbackType,
		ReportedDomain: fields["reported-domain"],
		SourceIP:       fields["source-ip"],
		MessageID:      strings.Trim(fields["message-id"], "<>"),
		ReceivedAt:     p.now(),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
