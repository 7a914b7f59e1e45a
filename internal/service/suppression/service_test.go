package suppression

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/domain"
)

// mockRepo is an in-memory repository for testing.
type mockRepo struct {
	mu           sync.RWMutex
	lists        map[string]*domain.List
	subscribers  map[string]*domain.Subscriber // keyed by "listID:email"
	unsubscribes []domain.UnsubscribeRecord
	bounces      []domain.BounceRecord
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		lists:       make(map[string]*domain.List),
		subscribers: make(map[string]*domain.Subscriber),
	}
}

func (m *mockRepo) CreateList(_ context.Context, l *domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.lists[l.ID] = &cp
	return nil
}

func (m *mockRepo) GetList(_ context.Context, id string) (*domain.List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lists[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (m *mockRepo) Lists(_ context.Context) ([]domain.List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.List
	for _, l := range m.lists {
		out = append(out, *l)
	}
	return out, nil
}

func (m *mockRepo) unsubscribedLocked(email, listID string) bool {
	for _, r := range m.unsubscribes {
		if r.Email == email && (r.ListID == "" || (listID != "" && r.ListID == listID)) {
			return true
		}
	}
	return false
}

func (m *mockRepo) AddSubscriber(_ context.Context, sub *domain.Subscriber) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[sub.ListID]
	if !ok {
		return ErrListNotFound
	}
	if m.unsubscribedLocked(sub.Email, sub.ListID) {
		return ErrSuppressedEmail
	}
	k := sub.ListID + ":" + sub.Email
	if existing, ok := m.subscribers[k]; ok && existing.Status == domain.SubscriberActive {
		return ErrDuplicateSubscriber
	}
	cp := *sub
	m.subscribers[k] = &cp
	l.SubscriberCount++
	return nil
}

func (m *mockRepo) Unsubscribe(_ context.Context, rec *domain.UnsubscribeRecord) (*domain.UnsubscribeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.unsubscribes {
		if r.Email == rec.Email && r.ListID == rec.ListID {
			cp := r
			return &cp, nil
		}
	}
	m.unsubscribes = append(m.unsubscribes, *rec)
	for _, s := range m.subscribers {
		if s.Email == rec.Email && (rec.ListID == "" || s.ListID == rec.ListID) {
			s.Status = domain.SubscriberUnsubscribed
		}
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRepo) IsUnsubscribed(_ context.Context, email, listID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unsubscribedLocked(email, listID), nil
}

func (m *mockRepo) Unsubscribes(_ context.Context, f UnsubscribeFilter) ([]domain.UnsubscribeRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.UnsubscribeRecord
	for _, r := range m.unsubscribes {
		if f.Email != "" && r.Email != f.Email {
			continue
		}
		if f.Reason != "" && string(r.Reason) != f.Reason {
			continue
		}
		result = append(result, r)
	}
	return result, len(result), nil
}

func (m *mockRepo) RecordBounce(_ context.Context, b *domain.BounceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bounces = append(m.bounces, *b)
	return nil
}

func (m *mockRepo) BounceCount(_ context.Context, email string, typ domain.BounceType, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, b := range m.bounces {
		if b.Email == email && (typ == "" || b.Type == typ) && !b.ReceivedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.EmailEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev domain.EmailEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

type thresholdPolicy struct{ threshold int }

func (p thresholdPolicy) Window() time.Duration { return 7 * 24 * time.Hour }

func (p thresholdPolicy) ShouldEscalate(_ context.Context, _ string, n int) bool {
	return n >= p.threshold
}

func newTestService(t *testing.T, opts ...Option) (*Service, *domain.List) {
	t.Helper()
	svc := NewService(newMockRepo(), opts...)
	l, err := svc.CreateList(context.Background(), "Newsletter", "weekly digest")
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	return svc, l
}

func TestCreateList_StartsEmpty(t *testing.T) {
	svc, l := newTestService(t)

	got, err := svc.GetList(context.Background(), l.ID)
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	if got == nil || got.Name != "Newsletter" || got.SubscriberCount != 0 || !got.Active {
		t.Errorf("unexpected list: %+v", got)
	}
}

func TestCreateList_RequiresName(t *testing.T) {
	svc := NewService(newMockRepo())
	if _, err := svc.CreateList(context.Background(), "  ", ""); err == nil {
		t.Error("expected error for blank name")
	}
}

func TestGetList_MissingIsNil(t *testing.T) {
	svc := NewService(newMockRepo())
	got, err := svc.GetList(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetList(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestAddSubscriber_IncrementsCount(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	sub, err := svc.AddSubscriber(ctx, l.ID, "  Reader@Example.COM ")
	if err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	if sub.Email != "reader@example.com" || sub.Status != domain.SubscriberActive {
		t.Errorf("unexpected subscriber: %+v", sub)
	}

	got, _ := svc.GetList(ctx, l.ID)
	if got.SubscriberCount != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got.SubscriberCount)
	}
}

func TestAddSubscriber_Duplicate(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddSubscriber(ctx, l.ID, "a@example.com"); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := svc.AddSubscriber(ctx, l.ID, "A@example.com")
	if !errors.Is(err, ErrDuplicateSubscriber) {
		t.Fatalf("second add err = %v, want ErrDuplicateSubscriber", err)
	}
	got, _ := svc.GetList(ctx, l.ID)
	if got.SubscriberCount != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got.SubscriberCount)
	}
}

func TestAddSubscriber_UnknownList(t *testing.T) {
	svc := NewService(newMockRepo())
	_, err := svc.AddSubscriber(context.Background(), "missing", "a@example.com")
	if !errors.Is(err, ErrListNotFound) {
		t.Errorf("err = %v, want ErrListNotFound", err)
	}
}

func TestAddSubscriber_InvalidEmail(t *testing.T) {
	svc, l := newTestService(t)
	_, err := svc.AddSubscriber(context.Background(), l.ID, "not-an-email")
	if !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("err = %v, want ErrInvalidEmail", err)
	}
}

func TestAddSubscriber_AfterListUnsubscribe(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Unsubscribe(ctx, "gone@example.com", l.ID, ""); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	ok, err := svc.IsUnsubscribed(ctx, "gone@example.com", l.ID)
	if err != nil || !ok {
		t.Fatalf("IsUnsubscribed = %v, %v; want true", ok, err)
	}

	_, err = svc.AddSubscriber(ctx, l.ID, "gone@example.com")
	if !errors.Is(err, ErrSuppressedEmail) {
		t.Fatalf("err = %v, want ErrSuppressedEmail", err)
	}
	got, _ := svc.GetList(ctx, l.ID)
	if got.SubscriberCount != 0 {
		t.Errorf("SubscriberCount = %d, want 0 after refused add", got.SubscriberCount)
	}

	// A list-scoped unsubscribe leaves other lists alone.
	other, _ := svc.CreateList(ctx, "Promotions", "")
	if _, err := svc.AddSubscriber(ctx, other.ID, "gone@example.com"); err != nil {
		t.Errorf("add to other list: %v", err)
	}
}

func TestUnsubscribe_GlobalCoversEveryList(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	if _, err := svc.AddSubscriber(ctx, l.ID, "global@example.com"); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	rec, err := svc.Unsubscribe(ctx, "global@example.com", "", "")
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if !rec.Global() || rec.Reason != domain.ReasonUserRequest {
		t.Errorf("unexpected record: %+v", rec)
	}

	ok, _ := svc.IsUnsubscribed(ctx, "global@example.com", "")
	if !ok {
		t.Error("expected global unsubscribe to be visible without a list id")
	}
	ok, _ = svc.IsUnsubscribed(ctx, "global@example.com", l.ID)
	if !ok {
		t.Error("expected global unsubscribe to cover existing list")
	}

	later, _ := svc.CreateList(ctx, "Created Later", "")
	if _, err := svc.AddSubscriber(ctx, later.ID, "global@example.com"); !errors.Is(err, ErrSuppressedEmail) {
		t.Errorf("add to later list err = %v, want ErrSuppressedEmail", err)
	}
}

func TestUnsubscribe_ListScopedIsNotGlobal(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	svc.Unsubscribe(ctx, "scoped@example.com", l.ID, domain.ReasonManual)
	ok, _ := svc.IsUnsubscribed(ctx, "scoped@example.com", "")
	if ok {
		t.Error("list-scoped unsubscribe should not be reported globally")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Unsubscribe(ctx, "twice@example.com", "", domain.ReasonManual)
	second, _ := svc.Unsubscribe(ctx, "twice@example.com", "", domain.ReasonUserRequest)
	if first.ID != second.ID || second.Reason != domain.ReasonManual {
		t.Errorf("expected the first record back, got %+v", second)
	}
	_, total, _ := svc.Unsubscribes(ctx, UnsubscribeFilter{})
	if total != 1 {
		t.Errorf("total = %d, want 1", total)
	}
}

func TestAddSubscriber_ConcurrentAddsCountOnce(t *testing.T) {
	svc, l := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.AddSubscriber(ctx, l.ID, "race@example.com"); err == nil {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	if succeeded.Load() != 1 {
		t.Errorf("successful adds = %d, want 1", succeeded.Load())
	}
	got, _ := svc.GetList(ctx, l.ID)
	if got.SubscriberCount != 1 {
		t.Errorf("SubscriberCount = %d, want 1", got.SubscriberCount)
	}
}

func TestGenerateUnsubscribeURL(t *testing.T) {
	signer := NewHMACSigner("test-key", 0)
	svc, l := newTestService(t, WithSigner(signer))

	link, err := svc.GenerateUnsubscribeURL("Reader@Example.com", l.ID, "https://app.leadmap.io/")
	if err != nil {
		t.Fatalf("GenerateUnsubscribeURL: %v", err)
	}
	if !strings.HasPrefix(link, "https://app.leadmap.io/api/emails/unsubscribe?") {
		t.Fatalf("unexpected link: %s", link)
	}

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("email") != "reader@example.com" {
		t.Errorf("email param = %q", q.Get("email"))
	}
	if q.Get("token") == "" {
		t.Fatal("missing token param")
	}

	listID, err := signer.Verify(q.Get("email"), q.Get("token"))
	if err != nil || listID != l.ID {
		t.Errorf("Verify = %q, %v; want %q", listID, err, l.ID)
	}
}

func TestGenerateUnsubscribeURL_NoSigner(t *testing.T) {
	svc, l := newTestService(t)
	if _, err := svc.GenerateUnsubscribeURL("a@example.com", l.ID, "https://x"); !errors.Is(err, ErrNoSigner) {
		t.Errorf("err = %v, want ErrNoSigner", err)
	}
}

func TestUnsubscribeWithToken(t *testing.T) {
	svc, l := newTestService(t, WithSigner(NewHMACSigner("test-key", 0)))
	ctx := context.Background()

	link, _ := svc.GenerateUnsubscribeURL("reader@example.com", l.ID, "https://x")
	u, _ := url.Parse(link)

	rec, err := svc.UnsubscribeWithToken(ctx, "reader@example.com", u.Query().Get("token"), "")
	if err != nil {
		t.Fatalf("UnsubscribeWithToken: %v", err)
	}
	if rec.ListID != l.ID {
		t.Errorf("ListID = %q, want %q", rec.ListID, l.ID)
	}

	// A token issued for one address is useless for another.
	_, err = svc.UnsubscribeWithToken(ctx, "other@example.com", u.Query().Get("token"), "")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("err = %v, want ErrInvalidToken", err)
	}
}

func TestHMACSigner_Expiry(t *testing.T) {
	s := NewHMACSigner("k", time.Hour)
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	token, err := s.Sign("a@example.com", "")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := s.Verify("a@example.com", token); err != nil {
		t.Fatalf("fresh token rejected: %v", err)
	}

	s.now = func() time.Time { return issued.Add(2 * time.Hour) }
	if _, err := s.Verify("a@example.com", token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expired token err = %v, want ErrInvalidToken", err)
	}
	if _, err := s.Verify("a@example.com", "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("garbage token err = %v, want ErrInvalidToken", err)
	}
}

func hardBounce(email string) *domain.Bounce {
	return &domain.Bounce{
		Recipient: email,
		Classification: domain.BounceClassification{
			Type:           domain.BounceHard,
			Category:       domain.CategoryMailboxNotFound,
			ShouldSuppress: true,
		},
		StatusCode: "5.1.1",
	}
}

func softBounce(email string) *domain.Bounce {
	return &domain.Bounce{
		Recipient: email,
		Classification: domain.BounceClassification{
			Type:      domain.BounceSoft,
			Category:  domain.CategoryMailboxFull,
			Retryable: true,
		},
	}
}

func TestApplyBounce_HardSuppressesGlobally(t *testing.T) {
	pub := &recordingPublisher{}
	svc, l := newTestService(t, WithPublisher(pub))
	ctx := context.Background()

	rec, err := svc.ApplyBounce(ctx, hardBounce("Dead@Example.com"))
	if err != nil {
		t.Fatalf("ApplyBounce: %v", err)
	}
	if rec == nil || !rec.Global() || rec.Reason != domain.ReasonHardBounce {
		t.Fatalf("unexpected record: %+v", rec)
	}

	bounced, _ := svc.HasBounced(ctx, "dead@example.com")
	if !bounced {
		t.Error("expected HasBounced to be true")
	}
	if _, err := svc.AddSubscriber(ctx, l.ID, "dead@example.com"); !errors.Is(err, ErrSuppressedEmail) {
		t.Errorf("err = %v, want ErrSuppressedEmail", err)
	}

	if len(pub.events) != 1 || pub.events[0].Type != domain.EventSubscriberUnsubscribed {
		t.Errorf("events = %+v", pub.events)
	}
}

func TestApplyBounce_SoftWithoutPolicyOnlyRecords(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec, err := svc.ApplyBounce(ctx, softBounce("full@example.com"))
		if err != nil || rec != nil {
			t.Fatalf("ApplyBounce = %+v, %v; want nil, nil", rec, err)
		}
	}
	ok, _ := svc.IsUnsubscribed(ctx, "full@example.com", "")
	if ok {
		t.Error("soft bounces must not suppress without an escalation policy")
	}
	bounced, _ := svc.HasBounced(ctx, "full@example.com")
	if !bounced {
		t.Error("expected bounce history to be recorded")
	}
}

func TestApplyBounce_SoftEscalation(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	svc, _ := newTestService(t,
		WithEscalationPolicy(thresholdPolicy{threshold: 3}),
		WithClock(func() time.Time { return now }),
	)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b := softBounce("flaky@example.com")
		b.ReceivedAt = now
		if rec, _ := svc.ApplyBounce(ctx, b); rec != nil {
			t.Fatalf("escalated early on bounce %d", i+1)
		}
	}
	b := softBounce("flaky@example.com")
	b.ReceivedAt = now
	rec, err := svc.ApplyBounce(ctx, b)
	if err != nil {
		t.Fatalf("ApplyBounce: %v", err)
	}
	if rec == nil || rec.Reason != domain.ReasonSoftBounce {
		t.Fatalf("expected soft bounce escalation, got %+v", rec)
	}
}

func TestApplyBounce_Nil(t *testing.T) {
	svc, _ := newTestService(t)
	if rec, err := svc.ApplyBounce(context.Background(), nil); rec != nil || err != nil {
		t.Errorf("ApplyBounce(nil) = %v, %v", rec, err)
	}
}

func TestAddSubscriber_PublishesEvent(t *testing.T) {
	pub := &recordingPublisher{}
	svc, l := newTestService(t, WithPublisher(pub))

	if _, err := svc.AddSubscriber(context.Background(), l.ID, "new@example.com"); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	if len(pub.events) != 1 {
		t.Fatalf("events = %d, want 1", len(pub.events))
	}
	ev := pub.events[0]
	if ev.Type != domain.EventSubscriberAdded || ev.Recipient != "new@example.com" || ev.Payload["list_id"] != l.ID {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestGetStats(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	svc, l := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	svc.AddSubscriber(ctx, l.ID, "a@example.com")
	svc.AddSubscriber(ctx, l.ID, "b@example.com")
	svc.Unsubscribe(ctx, "a@example.com", l.ID, domain.ReasonUserRequest)
	svc.ApplyBounce(ctx, hardBounce("c@example.com"))

	stats, err := svc.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Lists != 1 || stats.Subscribers != 2 {
		t.Errorf("lists/subscribers = %d/%d, want 1/2", stats.Lists, stats.Subscribers)
	}
	if stats.Unsubscribes != 2 || stats.Global != 1 || stats.Last24Hours != 2 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	reasons := make([]string, 0, len(stats.ByReason))
	for r := range stats.ByReason {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)
	if strings.Join(reasons, ",") != "hard_bounce,user_request" {
		t.Errorf("reasons = %v", reasons)
	}
}

func TestThresholdPolicy(t *testing.T) {
	if p := NewThresholdPolicy(0, time.Hour); p != nil {
		t.Fatalf("NewThresholdPolicy(0) = %+v, want nil", p)
	}
	p := NewThresholdPolicy(3, 72*time.Hour)
	if p.Window() != 72*time.Hour {
		t.Errorf("Window() = %v", p.Window())
	}
	ctx := context.Background()
	if p.ShouldEscalate(ctx, "a@example.com", 2) {
		t.Error("escalated below the limit")
	}
	if !p.ShouldEscalate(ctx, "a@example.com", 3) {
		t.Error("did not escalate at the limit")
	}
}
