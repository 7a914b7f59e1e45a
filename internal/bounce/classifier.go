// Package bounce classifies bounced mail as hard, soft or unknown.
//
// The classifier is a pure mapping from a received message to a
// domain.Bounce. Persisting the result and suppressing the recipient is
// left to the caller (see service/suppression).
package bounce

import (
	"regexp"
	"strings"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/notification"
)

var addressPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)

type rule struct {
	phrases  []string
	typ      domain.BounceType
	category domain.BounceCategory
}

// Rules are checked in order; the first match wins.
var bodyRules = []rule{
	{
		phrases:  []string{"user not found", "no such user", "unknown user", "user unknown"},
		typ:      domain.BounceHard,
		category: domain.CategoryMailboxNotFound,
	},
	{
		phrases:  []string{"mailbox full", "quota exceeded", "over quota", "insufficient storage"},
		typ:      domain.BounceSoft,
		category: domain.CategoryMailboxFull,
	},
	{
		phrases:  []string{"blocked", "spam"},
		typ:      domain.BounceHard,
		category: domain.CategorySpamBlock,
	},
}

// Classifier turns bounce messages into classified bounces.
type Classifier struct {
	parser *notification.Parser
	now    func() time.Time
}

// New returns a Classifier using the wall clock.
func New() *Classifier {
	return NewWithClock(time.Now)
}

// NewWithClock returns a Classifier stamping bounces with now().
func NewWithClock(now func() time.Time) *Classifier {
	return &Classifier{parser: notification.NewWithClock(now), now: now}
}

// Process classifies a received message. It returns nil when no recipient
// can be determined, since there is nothing to act on.
func (c *Classifier) Process(h *notification.Headers, body, sender string) *domain.Bounce {
	b := &domain.Bounce{
		RawHeaders: h.Map(),
		RawBody:    body,
		Sender:     sender,
		ReceivedAt: c.now(),
	}

	var classified bool
	if dsn := c.parser.ProcessDSN(h, body); dsn != nil {
		b.Recipient = dsn.FinalRecipient
		b.MessageID = dsn.MessageID
		b.StatusCode = dsn.Status.String()
		b.Diagnostic = dsn.DiagnosticCode
		b.Classification, classified = ClassifyStatus(dsn.Status, dsn.DiagnosticCode+"\n"+body)
	}
	if !classified {
		b.Classification = ClassifyText(body)
	}

	if b.Recipient == "" {
		b.Recipient = findRecipient(h, body, sender)
	}
	if b.Recipient == "" {
		return nil
	}
	b.Recipient = strings.ToLower(b.Recipient)
	return b
}

// ClassifyStatus derives a classification from an enhanced status code.
// The second result is false when the class is neither 4 nor 5, in which
// case the caller falls back to text heuristics. text refines the
// category when the code alone is ambiguous.
func ClassifyStatus(code domain.StatusCode, text string) (domain.BounceClassification, bool) {
	var typ domain.BounceType
	switch code.Class {
	case "5":
		typ = domain.BounceHard
	case "4":
		typ = domain.BounceSoft
	default:
		return domain.BounceClassification{}, false
	}

	category := statusCategory(code, text)
	if category == domain.CategoryUnknown {
		if m, ok := matchRules(text); ok {
			category = m.category
		}
	}
	if typ == domain.BounceSoft && category == domain.CategoryUnknown {
		category = domain.CategoryTemporaryFailure
	}
	return classification(typ, category), true
}

func statusCategory(code domain.StatusCode, text string) domain.BounceCategory {
	lower := strings.ToLower(text)
	switch {
	case code.Subject == "1":
		return domain.CategoryMailboxNotFound
	case code.Subject == "2" && code.Detail == "2":
		return domain.CategoryMailboxFull
	case code.Subject == "7":
		if code.Class == "4" {
			return domain.CategoryThrottled
		}
		if strings.Contains(lower, "spam") || strings.Contains(lower, "blocked") || strings.Contains(lower, "blacklist") {
			return domain.CategorySpamBlock
		}
		return domain.CategoryPolicyReject
	case code.Class == "4" && code.Subject == "4":
		return domain.CategoryTemporaryFailure
	}
	return domain.CategoryUnknown
}

// ClassifyText applies the free-text heuristics used for bounces that
// carry no structured status.
func ClassifyText(body string) domain.BounceClassification {
	if m, ok := matchRules(body); ok {
		return classification(m.typ, m.category)
	}
	return classification(domain.BounceUnknown, domain.CategoryUnknown)
}

func matchRules(text string) (rule, bool) {
	lower := strings.ToLower(text)
	for _, r := range bodyRules {
		for _, p := range r.phrases {
			if strings.Contains(lower, p) {
				return r, true
			}
		}
	}
	return rule{}, false
}

func classification(typ domain.BounceType, category domain.BounceCategory) domain.BounceClassification {
	return domain.BounceClassification{
		Type:           typ,
		Category:       category,
		Retryable:      typ == domain.BounceSoft && category.Transient(),
		ShouldSuppress: typ == domain.BounceHard,
	}
}

// findRecipient looks at X-Failed-Recipients first, then the first address
// in the body that is neither the sender nor a system mailbox.
func findRecipient(h *notification.Headers, body, sender string) string {
	if v := h.Get("X-Failed-Recipients"); v != "" {
		if addr := addressPattern.FindString(v); addr != "" {
			return addr
		}
	}
	for _, addr := range addressPattern.FindAllString(body, -1) {
		if !ignoredAddress(addr, sender) {
			return addr
		}
	}
	return ""
}

func ignoredAddress(addr, sender string) bool {
	lower := strings.ToLower(addr)
	if sender != "" && lower == strings.ToLower(strings.Trim(sender, "<> ")) {
		return true
	}
	return strings.HasPrefix(lower, "mailer-daemon@") || strings.HasPrefix(lower, "postmaster@")
}
