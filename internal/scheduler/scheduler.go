// Package scheduler sends scheduled messages when they fall due.
//
// The scheduler has no timer of its own. An external trigger (the cron
// endpoint) calls ProcessDueMessages once a minute; each call claims a
// bounded batch with a compare-and-swap on the stored status, sends it, and
// records the outcome. Overlapping calls are safe because a message can
// only be claimed once.
//
// Message lifecycle:
//
//	pending -> processing -> sent
//	                      -> pending (retry, NextRunAt pushed back)
//	                      -> dead-lettered (attempts exhausted)
//
// Repeating kinds (interval, cron, recurring) derive a fresh pending record
// for the next occurrence after each successful send.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/backoff"
	"github.com/ignite/leadmap-mailflow/internal/pkg/distlock"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
	"github.com/ignite/leadmap-mailflow/internal/transport"
)

const (
	DefaultBatchSize    = 100
	DefaultMaxAttempts  = 5
	DefaultClaimTimeout = 5 * time.Minute
	DefaultSendTimeout  = 30 * time.Second

	releaseLockKey = "scheduler:release-stale"
)

// Publisher receives MESSAGE_* lifecycle events. events.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, ev domain.EmailEvent)
}

// Scheduler processes due messages. It is safe for concurrent use.
type Scheduler struct {
	repo       Repository
	failed     FailedStore
	transports *transport.Registry
	renderer   *Renderer
	publisher  Publisher
	locks      distlock.Factory

	policy       backoff.Policy
	maxAttempts  int
	claimTimeout time.Duration
	sendTimeout  time.Duration
	now          func() time.Time
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPublisher routes lifecycle events to p.
func WithPublisher(p Publisher) Option { return func(s *Scheduler) { s.publisher = p } }

// WithBackoff sets the retry policy.
func WithBackoff(p backoff.Policy) Option { return func(s *Scheduler) { s.policy = p } }

// WithMaxAttempts sets how many failed sends dead-letter a message.
func WithMaxAttempts(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClaimTimeout sets how long a message may stay in processing before
// it is considered abandoned.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithSendTimeout bounds a single transport send.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.sendTimeout = d
		}
	}
}

// WithLocks guards the stale-claim sweep with a distributed lock so only one
// instance runs it per tick.
func WithLocks(f distlock.Factory) Option { return func(s *Scheduler) { s.locks = f } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New returns a scheduler over repo, sending through transports and
// dead-lettering into failed.
func New(repo Repository, failed FailedStore, transports *transport.Registry, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:         repo,
		failed:       failed,
		transports:   transports,
		renderer:     NewRenderer(),
		policy:       backoff.Default(),
		maxAttempts:  DefaultMaxAttempts,
		claimTimeout: DefaultClaimTimeout,
		sendTimeout:  DefaultSendTimeout,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MaxAttempts returns the configured attempt budget.
func (s *Scheduler) MaxAttempts() int { return s.maxAttempts }

// ScheduleRequest describes a message to schedule.
type ScheduleRequest struct {
	TransportName  string                `json:"transport_name"`
	Payload        domain.MessagePayload `json:"payload"`
	Kind           domain.ScheduleKind   `json:"schedule_kind"`
	Spec           string                `json:"schedule_spec"`
	Timezone       string                `json:"timezone"`
	StartAt        *time.Time            `json:"start_at,omitempty"`
	MaxOccurrences int                   `json:"max_occurrences,omitempty"`
}

// Schedule validates req and stores a pending message. The first run is
// StartAt when given; otherwise now for once, and the first computed run
// for the repeating kinds.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (*domain.ScheduledMessage, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: kind %q", ErrInvalidSchedule, req.Kind)
	}
	if _, ok := s.transports.Get(req.TransportName); !ok {
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownTransport, req.TransportName)
	}
	if len(req.Payload.To) == 0 || strings.TrimSpace(req.Payload.From) == "" {
		return nil, fmt.Errorf("%w: from and at least one recipient are required", ErrInvalidMessage)
	}
	if req.MaxOccurrences < 0 {
		return nil, fmt.Errorf("%w: max_occurrences must not be negative", ErrInvalidSchedule)
	}
	if _, err := LoadLocation(req.Timezone); err != nil {
		return nil, err
	}
	if err := s.renderer.Validate(req.Payload); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var first time.Time
	if req.Kind == domain.ScheduleOnce {
		first = now
	} else {
		next, _, err := NextRun(req.Kind, req.Spec, req.Timezone, now)
		if err != nil {
			return nil, err
		}
		first = next
	}
	if req.StartAt != nil {
		first = req.StartAt.UTC()
	}

	tz := req.Timezone
	if tz == "" {
		tz = "UTC"
	}
	m := &domain.ScheduledMessage{
		ID:             uuid.New().String(),
		TransportName:  req.TransportName,
		Payload:        req.Payload,
		ScheduleKind:   req.Kind,
		ScheduleSpec:   req.Spec,
		Timezone:       tz,
		NextRunAt:      first,
		Status:         domain.MessagePending,
		MaxOccurrences: req.MaxOccurrences,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create scheduled message: %w", err)
	}

	s.publish(ctx, domain.EventMessageScheduled, m, map[string]any{
		"next_run_at": m.NextRunAt,
		"kind":        string(m.ScheduleKind),
	})
	return m, nil
}

// Get returns a scheduled message, or nil when it does not exist.
func (s *Scheduler) Get(ctx context.Context, id string) (*domain.ScheduledMessage, error) {
	return s.repo.Get(ctx, id)
}

// Cancel stops a pending message from being sent.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	return s.repo.Cancel(ctx, id, s.now().UTC())
}

// FailedMessages lists the dead-letter store for transportName.
func (s *Scheduler) FailedMessages(ctx context.Context, transportName string, limit, offset int) ([]domain.FailedMessage, int, error) {
	return s.failed.List(ctx, transportName, limit, offset)
}

// ProcessDueMessages claims and sends up to batchSize due messages and
// returns how many it claimed. Send failures are handled per message and
// never abort the batch; only a failure to list due messages is returned.
// When ctx expires no further messages are claimed.
func (s *Scheduler) ProcessDueMessages(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	s.releaseStale(ctx)

	due, err := s.repo.ListDue(ctx, s.now().UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due messages: %w", err)
	}

	processed := 0
	for i := range due {
		if ctx.Err() != nil {
			logger.Warn("scheduler: budget exhausted, leaving remaining messages",
				"processed", processed, "remaining", len(due)-i)
			break
		}
		id := due[i].ID
		m, err := s.repo.Claim(ctx, id, s.now().UTC())
		if err != nil {
			logger.Error("scheduler: claim failed", "message_id", id, "error", err)
			continue
		}
		if m == nil {
			continue
		}
		processed++
		s.process(ctx, m)
	}
	return processed, nil
}

func (s *Scheduler) releaseStale(ctx context.Context) {
	if s.locks == nil {
		s.sweepStale(ctx)
		return
	}
	_, err := distlock.Run(ctx, s.locks(releaseLockKey, time.Minute), func(ctx context.Context) error {
		s.sweepStale(ctx)
		return nil
	})
	if err != nil {
		logger.Warn("scheduler: stale sweep lock", "error", err)
	}
}

func (s *Scheduler) sweepStale(ctx context.Context) {
	n, err := s.repo.ReleaseStale(ctx, s.now().UTC().Add(-s.claimTimeout))
	if err != nil {
		logger.Error("scheduler: release stale claims", "error", err)
		return
	}
	if n > 0 {
		logger.Info("scheduler: released stale claims", "count", n)
	}
}

func (s *Scheduler) process(ctx context.Context, m *domain.ScheduledMessage) {
	// A message whose earlier runs were abandoned may already be out of
	// attempts.
	if m.Attempts >= s.maxAttempts {
		reason := m.LastError
		if reason == "" {
			reason = "max attempts exceeded"
		}
		s.deadLetter(ctx, m, reason)
		return
	}

	providerID, err := s.send(ctx, m)
	if err != nil {
		s.fail(ctx, m, err)
		return
	}
	s.succeed(ctx, m, providerID)
}

func (s *Scheduler) send(ctx context.Context, m *domain.ScheduledMessage) (string, error) {
	t, ok := s.transports.Get(m.TransportName)
	if !ok {
		return "", fmt.Errorf("%w: %q", transport.ErrUnknownTransport, m.TransportName)
	}
	payload, err := s.renderer.Render(m.Payload)
	if err != nil {
		return "", err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	return t.Send(sendCtx, payload)
}

func (s *Scheduler) succeed(ctx context.Context, m *domain.ScheduledMessage, providerID string) {
	now := s.now().UTC()
	m.Status = domain.MessageSent
	m.SentAt = &now
	m.LastError = ""
	m.Occurrence++
	m.UpdatedAt = now
	// Persisting must not be cut short by the trigger's deadline once the
	// message has gone out.
	wctx := context.WithoutCancel(ctx)
	if err := s.repo.Update(wctx, m); err != nil {
		logger.Error("scheduler: mark sent", "message_id", m.ID, "error", err)
		return
	}

	s.publish(ctx, domain.EventMessageSent, m, map[string]any{
		"transport":           m.TransportName,
		"provider_message_id": providerID,
		"occurrence":          m.Occurrence,
	})

	next, err := s.successor(m, now)
	if err != nil {
		logger.Error("scheduler: compute next occurrence", "message_id", m.ID, "error", err)
		return
	}
	if next == nil {
		return
	}
	if err := s.repo.Create(wctx, next); err != nil {
		logger.Error("scheduler: create next occurrence", "message_id", m.ID, "error", err)
	}
}

// successor returns the pending record for the next occurrence of a
// repeating message, or nil when the schedule is exhausted.
func (s *Scheduler) successor(m *domain.ScheduledMessage, now time.Time) (*domain.ScheduledMessage, error) {
	if !m.ScheduleKind.Repeats() {
		return nil, nil
	}
	if m.ScheduleKind == domain.ScheduleRecurring && m.MaxOccurrences > 0 && m.Occurrence >= m.MaxOccurrences {
		return nil, nil
	}
	nextRun, ok, err := NextRun(m.ScheduleKind, m.ScheduleSpec, m.Timezone, now)
	if err != nil || !ok {
		return nil, err
	}

	parent := m.ParentID
	if parent == "" {
		parent = m.ID
	}
	return &domain.ScheduledMessage{
		ID:             uuid.New().String(),
		ParentID:       parent,
		TransportName:  m.TransportName,
		Payload:        m.Payload,
		ScheduleKind:   m.ScheduleKind,
		ScheduleSpec:   m.ScheduleSpec,
		Timezone:       m.Timezone,
		NextRunAt:      nextRun,
		Status:         domain.MessagePending,
		Occurrence:     m.Occurrence,
		MaxOccurrences: m.MaxOccurrences,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (s *Scheduler) fail(ctx context.Context, m *domain.ScheduledMessage, sendErr error) {
	m.Attempts++
	m.LastError = sendErr.Error()
	if m.Attempts >= s.maxAttempts {
		s.deadLetter(ctx, m, m.LastError)
		return
	}

	now := s.now().UTC()
	m.Status = domain.MessagePending
	m.NextRunAt = now.Add(s.policy.Delay(m.Attempts - 1))
	m.ClaimedAt = nil
	m.UpdatedAt = now
	if err := s.repo.Update(context.WithoutCancel(ctx), m); err != nil {
		logger.Error("scheduler: reschedule failed message", "message_id", m.ID, "error", err)
		return
	}

	logger.Warn("scheduler: send failed, will retry",
		"message_id", m.ID, "attempt", m.Attempts, "next_run_at", m.NextRunAt.Format(time.RFC3339), "error", sendErr)
	s.publish(ctx, domain.EventMessageFailed, m, map[string]any{
		"attempt":     m.Attempts,
		"error":       m.LastError,
		"next_run_at": m.NextRunAt,
	})
}

func (s *Scheduler) deadLetter(ctx context.Context, m *domain.ScheduledMessage, reason string) {
	now := s.now().UTC()
	m.Status = domain.MessageDeadLettered
	m.LastError = reason
	m.ClaimedAt = nil
	m.UpdatedAt = now

	wctx := context.WithoutCancel(ctx)
	if err := s.repo.Update(wctx, m); err != nil {
		logger.Error("scheduler: mark dead-lettered", "message_id", m.ID, "error", err)
		return
	}
	failed := &domain.FailedMessage{
		ID:              uuid.New().String(),
		MessageID:       m.ID,
		TransportName:   m.TransportName,
		Attempts:        m.Attempts,
		LastError:       reason,
		OriginalPayload: m.Payload,
		FailedAt:        now,
	}
	if err := s.failed.Save(wctx, failed); err != nil {
		logger.Error("scheduler: store failed message", "message_id", m.ID, "error", err)
	}

	logger.Error("scheduler: message dead-lettered",
		"message_id", m.ID, "transport", m.TransportName, "attempts", m.Attempts, "error", reason)
	s.publish(ctx, domain.EventMessageDeadLettered, m, map[string]any{
		"attempts":  m.Attempts,
		"error":     reason,
		"transport": m.TransportName,
	})
}

func (s *Scheduler) publish(ctx context.Context, typ domain.EmailEventType, m *domain.ScheduledMessage, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	recipient := ""
	if len(m.Payload.To) > 0 {
		recipient = m.Payload.To[0]
	}
	s.publisher.Publish(ctx, domain.EmailEvent{
		ID:         uuid.New().String(),
		Type:       typ,
		Recipient:  recipient,
		MessageID:  m.ID,
		Payload:    payload,
		OccurredAt: s.now().UTC(),
	})
}

// IsClientError reports whether err came from invalid caller input rather
// than infrastructure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidSchedule) || errors.Is(err, ErrInvalidMessage) ||
		errors.Is(err, ErrTemplate) || errors.Is(err, transport.ErrUnknownTransport)
}
