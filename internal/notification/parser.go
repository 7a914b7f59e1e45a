// Package notification parses delivery status notifications (RFC 3464),
// message disposition notifications (RFC 3798) and abuse feedback reports
// (RFC 5965) into typed records.
//
// Every Process function returns nil when the message is not of the
// requested kind. That is the normal "not applicable" outcome, not an error.
package notification

import (
	"strings"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

const (
	reportType     = "multipart/report"
	reportDSN      = "report-type=delivery-status"
	reportMDN      = "report-type=disposition-notification"
	reportFeedback = "report-type=feedback-report"
	contentTypeKey = "Content-Type"
	dispositionKey = "Disposition"
)

// Parser turns header/body pairs into notification records. The zero value
// is not usable; use New.
type Parser struct {
	now func() time.Time
}

// New returns a Parser stamping records with the wall clock.
func New() *Parser {
	return &Parser{now: time.Now}
}

// NewWithClock returns a Parser stamping records with now().
func NewWithClock(now func() time.Time) *Parser {
	return &Parser{now: now}
}

var defaultParser = New()

func isReport(h *Headers, kind string) bool {
	ct := strings.ToLower(h.Get(contentTypeKey))
	if !strings.Contains(ct, reportType) {
		return false
	}
	// Tolerate quoting and spacing around the parameter value.
	ct = strings.NewReplacer(`"`, "", " ", "").Replace(ct)
	return strings.Contains(ct, kind)
}

// IsDSN reports whether the headers describe a delivery status notification.
func IsDSN(h *Headers) bool { return isReport(h, reportDSN) }

// IsMDN reports whether the headers describe a disposition notification.
func IsMDN(h *Headers) bool { return isReport(h, reportMDN) }

// IsFeedbackReport reports whether the headers describe an ARF complaint.
func IsFeedbackReport(h *Headers) bool { return isReport(h, reportFeedback) }

// ProcessDSN parses a DSN using the default parser.
func ProcessDSN(h *Headers, body string) *domain.DeliveryStatusNotification {
	return defaultParser.ProcessDSN(h, body)
}

// ProcessMDN parses an MDN using the default parser.
func ProcessMDN(h *Headers, body string) *domain.MessageDispositionNotification {
	return defaultParser.ProcessMDN(h, body)
}

// ProcessFeedbackReport parses an ARF report using the default parser.
func ProcessFeedbackReport(h *Headers, body string) *domain.ComplaintReport {
	return defaultParser.ProcessFeedbackReport(h, body)
}

// ProcessDSN extracts the per-recipient fields of a DSN. Fields are read
// from the headers first and then from the machine-readable body part.
func (p *Parser) ProcessDSN(h *Headers, body string) *domain.DeliveryStatusNotification {
	if !IsDSN(h) {
		return nil
	}
	fields := bodyFields(body)

	// The report's own Message-ID is the last resort; the body usually
	// carries the headers of the message that bounced.
	msgID := lookup(h, fields, "Original-Message-ID")
	if msgID == "" {
		msgID = firstNonEmpty(fields["message-id"], h.Get("Message-ID"))
	}

	return &domain.DeliveryStatusNotification{
		MessageID:      strings.Trim(msgID, "<>"),
		FinalRecipient: StripAddressType(lookup(h, fields, "Final-Recipient", "Original-Recipient")),
		Action:         domain.DSNAction(strings.ToLower(lookup(h, fields, "Action"))),
		Status:         ParseStatus(lookup(h, fields, "Status")),
		DiagnosticCode: lookup(h, fields, "Diagnostic-Code"),
		ReportingMTA:   StripAddressType(lookup(h, fields, "Reporting-MTA")),
		ReceivedAt:     p.now(),
	}
}

// ParseStatus splits a dotted RFC 3463 code ("5.1.1") into its parts. Any
// trailing comment ("5.1.1 (bad mailbox)") is ignored. Input that is not a
// triplet yields a code with only Class set (possibly empty).
func ParseStatus(s string) domain.StatusCode {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " \t("); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		if len(s) > 0 && isDigits(s[:1]) {
			return domain.StatusCode{Class: s[:1]}
		}
		return domain.StatusCode{}
	}
	for _, part := range parts {
		if part == "" || !isDigits(part) {
			return domain.StatusCode{}
		}
	}
	return domain.StatusCode{Class: parts[0], Subject: parts[1], Detail: parts[2]}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// ClassifySeverity maps a DSN's status class to a severity tier. Unknown or
// missing classes are treated as temporary so they are never silently
// considered resolved.
func ClassifySeverity(dsn *domain.DeliveryStatusNotification) domain.Severity {
	if dsn == nil {
		return domain.SeverityTemporary
	}
	switch dsn.Status.Class {
	case "5":
		return domain.SeverityPermanent
	case "4":
		return domain.SeverityTemporary
	case "2":
		return domain.SeveritySuccess
	default:
		return domain.SeverityTemporary
	}
}

// ProcessMDN extracts an MDN. Recipient fields keep their address-type
// prefix as received.
func (p *Parser) ProcessMDN(h *Headers, body string) *domain.MessageDispositionNotification {
	if !IsMDN(h) {
		return nil
	}
	fields := bodyFields(body)

	return &domain.MessageDispositionNotification{
		MessageID:         strings.Trim(h.Get("Message-ID"), "<>"),
		OriginalMessageID: strings.Trim(lookup(h, fields, "Original-Message-ID"), "<>"),
		OriginalRecipient: lookup(h, fields, "Original-Recipient"),
		FinalRecipient:    lookup(h, fields, "Final-Recipient"),
		Disposition:       ParseDisposition(lookup(h, fields, dispositionKey)),
		ReceivedAt:        p.now(),
	}
}

// ParseDisposition parses "action-mode/sending-mode; type[/modifiers]".
// When no disposition type follows the semicolon the action mode
// (automatic-action or manual-action) is reported as the type.
func ParseDisposition(s string) domain.Disposition {
	s = strings.TrimSpace(s)
	if s == "" {
		return domain.Disposition{}
	}
	modePart, typePart, _ := strings.Cut(s, ";")

	actionMode, sendingMode, hasSlash := strings.Cut(strings.TrimSpace(modePart), "/")
	actionMode = strings.Trim(strings.TrimSpace(actionMode), "[]")
	sendingMode = strings.Trim(strings.TrimSpace(sendingMode), "[]")
	if !hasSlash && strings.HasPrefix(strings.ToLower(actionMode), "mdn-sent-") {
		sendingMode, actionMode = actionMode, ""
	}

	dispType := strings.TrimSpace(typePart)
	if i := strings.IndexAny(dispType, "/ \t"); i >= 0 {
		dispType = dispType[:i]
	}
	dispType = strings.ToLower(dispType)
	if dispType == "" {
		dispType = strings.ToLower(actionMode)
	}

	return domain.Disposition{
		Type: domain.DispositionType(dispType),
		Mode: canonicalMode(sendingMode),
	}
}

func canonicalMode(mode string) domain.DispositionMode {
	switch strings.ToLower(mode) {
	case strings.ToLower(string(domain.ModeSentAutomatically)):
		return domain.ModeSentAutomatically
	case strings.ToLower(string(domain.ModeSentManually)):
		return domain.ModeSentManually
	}
	return domain.DispositionMode(mode)
}

// IsReadReceipt reports whether an MDN confirms the message was seen:
// a displayed or dispatched disposition, or an automatic action sent
// automatically.
func IsReadReceipt(mdn *domain.MessageDispositionNotification) bool {
	if mdn == nil {
		return false
	}
	switch mdn.Disposition.Type {
	case domain.DispositionDisplayed, domain.DispositionDispatched:
		return true
	case domain.DispositionAutomaticAction:
		return mdn.Disposition.Mode == domain.ModeSentAutomatically
	}
	return false
}
