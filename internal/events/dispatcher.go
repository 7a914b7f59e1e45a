package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/backoff"
	"github.com/ignite/leadmap-mailflow/internal/pkg/httpretry"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

const (
	HeaderEvent     = "X-Webhook-Event"
	HeaderSignature = "X-Webhook-Signature"
	HeaderID        = "X-Webhook-ID"
)

// Sign returns the signature header value for body: "sha256=" followed by
// the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Dispatcher delivers events to matching webhook subscriptions. It is a
// Listener: subscribe it to a Bus and every published event is POSTed to
// each active subscription that accepts its type. Deliveries run on their
// own goroutines so Publish never waits on the network.
type Dispatcher struct {
	registry   *WebhookRegistry
	recorder   AttemptRecorder
	doer       httpretry.HTTPDoer
	maxRetries int
	policy     backoff.Policy
	timeout    time.Duration
	now        func() time.Time

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(doer httpretry.HTTPDoer) DispatcherOption {
	return func(d *Dispatcher) { d.doer = doer }
}

// WithRetry sets the retry budget and the backoff policy between attempts.
func WithRetry(maxRetries int, policy backoff.Policy) DispatcherOption {
	return func(d *Dispatcher) {
		d.maxRetries = maxRetries
		d.policy = policy
	}
}

// WithDeliveryTimeout bounds one delivery, retries included.
func WithDeliveryTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher returns a dispatcher for registry. recorder may be nil.
func NewDispatcher(registry *WebhookRegistry, recorder AttemptRecorder, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		recorder:   recorder,
		doer:       &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
		policy:     backoff.Default(),
		timeout:    2 * time.Hour,
		now:        time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Handle implements Listener.
func (d *Dispatcher) Handle(ctx context.Context, ev domain.EmailEvent) {
	subs := d.registry.Matching(ev.Type)
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		logger.Error("webhook: marshal event", "event_id", ev.ID, "error", err)
		return
	}

	// Deliveries outlive the publisher's request.
	base := context.WithoutCancel(ctx)
	for _, sub := range subs {
		d.wg.Add(1)
		go func(sub *Subscription) {
			defer d.wg.Done()
			d.deliver(base, sub, ev, body)
		}(sub)
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) deliver(ctx context.Context, sub *Subscription, ev domain.EmailEvent, body []byte) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Config.URL, bytes.NewReader(body))
	if err != nil {
		d.record(ctx, sub, ev, 1, 0, err, 0)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(ev.Type))
	req.Header.Set(HeaderID, ev.ID)
	if sub.Config.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(sub.Config.Secret, body))
	}

	client := httpretry.NewRetryClient(d.doer, d.maxRetries, d.policy).
		WithObserver(func(attempt, status int, err error, elapsed time.Duration) {
			d.record(ctx, sub, ev, attempt, status, err, elapsed)
		})

	resp, err := client.Do(req)
	if err != nil {
		logger.Warn("webhook: delivery failed",
			"subscription_id", sub.ID, "event_type", string(ev.Type), "error", err)
		return
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if !success(resp.StatusCode) {
		logger.Warn("webhook: endpoint rejected event",
			"subscription_id", sub.ID, "event_type", string(ev.Type), "status", resp.StatusCode)
	}
}

func success(status int) bool { return status >= 200 && status < 300 }

func (d *Dispatcher) record(ctx context.Context, sub *Subscription, ev domain.EmailEvent, attempt, status int, err error, elapsed time.Duration) {
	if d.recorder == nil {
		return
	}
	a := domain.DeliveryAttempt{
		ID:             uuid.New().String(),
		SubscriptionID: sub.ID,
		EventID:        ev.ID,
		EventType:      ev.Type,
		URL:            sub.Config.URL,
		Attempt:        attempt,
		StatusCode:     status,
		Success:        err == nil && success(status),
		DurationMS:     elapsed.Milliseconds(),
		AttemptedAt:    d.now().UTC(),
	}
	switch {
	case err != nil:
		a.Error = err.Error()
	case !a.Success:
		a.Error = fmt.Sprintf("unexpected status %d", status)
	}
	if rerr := d.recorder.Record(ctx, a); rerr != nil {
		logger.Warn("webhook: record attempt", "subscription_id", sub.ID, "error", rerr)
	}
}
