package suppression

import (
	"context"
	"fmt"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

// Publisher receives subscriber lifecycle events. events.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev domain.EmailEvent)
}

// EscalationPolicy decides whether repeated soft bounces should suppress an
// address. softBounces counts the bounces recorded inside the policy's
// Window, the one just applied included.
type EscalationPolicy interface {
	Window() time.Duration
	ShouldEscalate(ctx context.Context, email string, softBounces int) bool
}

// Service implements list and suppression business logic. It is safe for
// concurrent use.
type Service struct {
	repo       Repository
	signer     TokenSigner
	escalation EscalationPolicy
	publisher  Publisher
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithSigner sets the unsubscribe token signer.
func WithSigner(s TokenSigner) Option { return func(svc *Service) { svc.signer = s } }

// WithEscalationPolicy enables soft-bounce escalation.
func WithEscalationPolicy(p EscalationPolicy) Option {
	return func(svc *Service) { svc.escalation = p }
}

// WithPublisher routes SUBSCRIBER_* events to p.
func WithPublisher(p Publisher) Option { return func(svc *Service) { svc.publisher = p } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(svc *Service) { svc.now = now } }

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{repo: repo, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeEmail lowercases and trims an address and strips display names.
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidEmail, email)
	}
	return strings.ToLower(addr.Address), nil
}

// CreateList creates a new, active list with no subscribers.
func (s *Service) CreateList(ctx context.Context, name, description string) (*domain.List, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidList
	}
	l := &domain.List{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Active:      true,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreateList(ctx, l); err != nil {
		return nil, fmt.Errorf("create list: %w", err)
	}
	return l, nil
}

// GetList returns the list or nil when it does not exist.
func (s *Service) GetList(ctx context.Context, id string) (*domain.List, error) {
	return s.repo.GetList(ctx, id)
}

// Lists returns every list.
func (s *Service) Lists(ctx context.Context) ([]domain.List, error) {
	return s.repo.Lists(ctx)
}

// AddSubscriber adds email to a list. It fails with ErrSuppressedEmail when
// the address is unsubscribed from the list or globally, and with
// ErrDuplicateSubscriber when it is already on the list. Neither failure
// changes the list's SubscriberCount.
func (s *Service) AddSubscriber(ctx context.Context, listID, email string) (*domain.Subscriber, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	unsubscribed, err := s.repo.IsUnsubscribed(ctx, email, listID)
	if err != nil {
		return nil, fmt.Errorf("check unsubscribe: %w", err)
	}
	if unsubscribed {
		return nil, ErrSuppressedEmail
	}

	sub := &domain.Subscriber{
		ID:           uuid.New().String(),
		ListID:       listID,
		Email:        email,
		Status:       domain.SubscriberActive,
		SubscribedAt: s.now().UTC(),
	}
	// The repository repeats the suppression check inside the insert so a
	// concurrent Unsubscribe cannot slip between the two.
	if err := s.repo.AddSubscriber(ctx, sub); err != nil {
		return nil, err
	}

	s.publish(ctx, domain.EventSubscriberAdded, email, map[string]any{"list_id": listID})
	return sub, nil
}

// Unsubscribe records that email no longer wants mail from listID, or from
// every list when listID is empty. Repeated calls return the first record.
func (s *Service) Unsubscribe(ctx context.Context, email, listID string, reason domain.UnsubscribeReason) (*domain.UnsubscribeRecord, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = domain.ReasonUserRequest
	}

	rec, err := s.repo.Unsubscribe(ctx, &domain.UnsubscribeRecord{
		ID:             uuid.New().String(),
		Email:          email,
		ListID:         listID,
		Reason:         reason,
		UnsubscribedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("unsubscribe: %w", err)
	}

	logger.Info("email unsubscribed", "email", email, "list_id", listID, "reason", string(rec.Reason))
	s.publish(ctx, domain.EventSubscriberUnsubscribed, email, map[string]any{
		"list_id": listID,
		"reason":  string(rec.Reason),
	})
	return rec, nil
}

// IsUnsubscribed reports whether email is unsubscribed from listID, counting
// global records. With an empty listID only global records count.
func (s *Service) IsUnsubscribed(ctx context.Context, email, listID string) (bool, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return false, err
	}
	return s.repo.IsUnsubscribed(ctx, email, listID)
}

// GenerateUnsubscribeURL builds the link placed in outgoing mail:
// {baseURL}/api/emails/unsubscribe?email=...&token=...
func (s *Service) GenerateUnsubscribeURL(email, listID, baseURL string) (string, error) {
	if s.signer == nil {
		return "", ErrNoSigner
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return "", err
	}
	token, err := s.signer.Sign(email, listID)
	if err != nil {
		return "", fmt.Errorf("sign unsubscribe token: %w", err)
	}

	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	return strings.TrimRight(baseURL, "/") + "/api/emails/unsubscribe?" + q.Encode(), nil
}

// UnsubscribeWithToken verifies a token produced by GenerateUnsubscribeURL
// and unsubscribes the address from the list it was issued for.
func (s *Service) UnsubscribeWithToken(ctx context.Context, email, token string, reason domain.UnsubscribeReason) (*domain.UnsubscribeRecord, error) {
	if s.signer == nil {
		return nil, ErrNoSigner
	}
	email, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	listID, err := s.signer.Verify(email, token)
	if err != nil {
		return nil, err
	}
	return s.Unsubscribe(ctx, email, listID, reason)
}

// ApplyBounce records a classified bounce and suppresses the recipient
// globally when the bounce is hard, or when the escalation policy says a
// run of soft bounces should be treated as one. It returns the unsubscribe
// record created, or nil when the address stays subscribed.
func (s *Service) ApplyBounce(ctx context.Context, b *domain.Bounce) (*domain.UnsubscribeRecord, error) {
	if b == nil {
		return nil, nil
	}
	email, err := NormalizeEmail(b.Recipient)
	if err != nil {
		return nil, err
	}

	rec := &domain.BounceRecord{
		ID:         uuid.New().String(),
		Email:      email,
		Type:       b.Classification.Type,
		Category:   b.Classification.Category,
		StatusCode: b.StatusCode,
		Diagnostic: b.Diagnostic,
		ReceivedAt: b.ReceivedAt,
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = s.now().UTC()
	}
	if err := s.repo.RecordBounce(ctx, rec); err != nil {
		return nil, fmt.Errorf("record bounce: %w", err)
	}

	switch {
	case b.Classification.ShouldSuppress:
		return s.Unsubscribe(ctx, email, "", domain.ReasonHardBounce)

	case b.Classification.Type == domain.BounceSoft && s.escalation != nil:
		since := s.now().Add(-s.escalation.Window())
		n, err := s.repo.BounceCount(ctx, email, domain.BounceSoft, since)
		if err != nil {
			return nil, fmt.Errorf("count bounces: %w", err)
		}
		if s.escalation.ShouldEscalate(ctx, email, n) {
			logger.Warn("soft bounces escalated to suppression", "email", email, "count", n)
			return s.Unsubscribe(ctx, email, "", domain.ReasonSoftBounce)
		}
	}
	return nil, nil
}

// HasBounced reports whether any bounce was ever recorded for email.
func (s *Service) HasBounced(ctx context.Context, email string) (bool, error) {
	email, err := NormalizeEmail(email)
	if err != nil {
		return false, err
	}
	n, err := s.repo.BounceCount(ctx, email, "", time.Time{})
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Unsubscribes returns unsubscribe records matching the given filter.
func (s *Service) Unsubscribes(ctx context.Context, filter UnsubscribeFilter) ([]domain.UnsubscribeRecord, int, error) {
	if filter.Email != "" {
		if e, err := NormalizeEmail(filter.Email); err == nil {
			filter.Email = e
		}
	}
	return s.repo.Unsubscribes(ctx, filter)
}

// Stats returns aggregate counts for the dashboard.
type Stats struct {
	Lists        int            `json:"lists"`
	Subscribers  int            `json:"subscribers"`
	Unsubscribes int            `json:"unsubscribes"`
	Global       int            `json:"global"`
	ByReason     map[string]int `json:"by_reason"`
	Last24Hours  int            `json:"last_24_hours"`
}

// GetStats computes list and unsubscribe statistics.
func (s *Service) GetStats(ctx context.Context) (*Stats, error) {
	lists, err := s.repo.Lists(ctx)
	if err != nil {
		return nil, err
	}
	records, total, err := s.repo.Unsubscribes(ctx, UnsubscribeFilter{Limit: 0})
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		Lists:        len(lists),
		Unsubscribes: total,
		ByReason:     make(map[string]int),
	}
	for _, l := range lists {
		stats.Subscribers += l.SubscriberCount
	}
	cutoff := s.now().Add(-24 * time.Hour)
	for _, r := range records {
		stats.ByReason[string(r.Reason)]++
		if r.Global() {
			stats.Global++
		}
		if r.UnsubscribedAt.After(cutoff) {
			stats.Last24Hours++
		}
	}
	return stats, nil
}

func (s *Service) publish(ctx context.Context, typ domain.EmailEventType, email string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, domain.EmailEvent{
		ID:         uuid.New().String(),
		Type:       typ,
		Recipient:  email,
		Payload:    payload,
		OccurredAt: s.now().UTC(),
	})
}
