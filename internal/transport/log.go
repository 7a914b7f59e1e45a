package transport

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

// LogTransport logs messages instead of sending them. It is the default in
// development and keeps the payloads it has seen.
type LogTransport struct {
	name string

	mu   sync.Mutex
	sent []domain.MessagePayload
}

// NewLogTransport returns a LogTransport registered as name ("log" when
// empty).
func NewLogTransport(name string) *LogTransport {
	if name == "" {
		name = "log"
	}
	return &LogTransport{name: name}
}

// Name implements Transport.
func (t *LogTransport) Name() string { return t.name }

// Send implements Transport.
func (t *LogTransport) Send(_ context.Context, p domain.MessagePayload) (string, error) {
	id := uuid.New().String()
	t.mu.Lock()
	t.sent = append(t.sent, p)
	t.mu.Unlock()

	logger.Info("log transport: message", "transport", t.name, "message_id", id,
		"recipient", strings.Join(p.To, ","), "subject", p.Subject)
	return id, nil
}

// Sent returns a copy of every payload sent so far.
func (t *LogTransport) Sent() []domain.MessagePayload {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.MessagePayload(nil), t.sent...)
}
