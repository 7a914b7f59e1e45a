// Package backup snapshots mailbox messages and moves them in and out of
// portable JSON.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

var (
	// ErrNotFound is returned by destructive operations on an unknown id.
	ErrNotFound = errors.New("backup not found")
	// ErrInvalidBackup is returned when imported JSON is not a backup.
	ErrInvalidBackup = errors.New("invalid backup document")
)

// Store persists backups. Get returns (nil, nil) for an unknown id.
type Store interface {
	Put(ctx context.Context, b *domain.Backup) error
	Get(ctx context.Context, id string) (*domain.Backup, error)
	Delete(ctx context.Context, id string) error
}

// Service creates, exports, imports and restores backups.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService returns a backup service over store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// CreateBackup stores a snapshot of msgs under a new id.
func (s *Service) CreateBackup(ctx context.Context, name string, msgs []domain.MailMessage) (*domain.Backup, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "backup-" + s.now().UTC().Format("20060102-150405")
	}
	b := &domain.Backup{
		ID:        uuid.New().String(),
		Name:      name,
		Messages:  append([]domain.MailMessage{}, msgs...),
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Put(ctx, b); err != nil {
		return nil, fmt.Errorf("store backup: %w", err)
	}
	logger.Info("backup created", "backup_id", b.ID, "messages", len(b.Messages))
	return b, nil
}

// GetBackup returns the backup, or nil when it does not exist.
func (s *Service) GetBackup(ctx context.Context, id string) (*domain.Backup, error) {
	return s.store.Get(ctx, id)
}

// ExportToJSON renders the backup as an indented JSON document.
func (s *Service) ExportToJSON(ctx context.Context, id string) ([]byte, error) {
	b, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(b, "", "  ")
}

// ImportFromJSON stores the backup described by data under a fresh id. The
// original id and name are not reused so an import never overwrites.
func (s *Service) ImportFromJSON(ctx context.Context, data []byte) (*domain.Backup, error) {
	var in domain.Backup
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}
	if in.Messages == nil {
		return nil, fmt.Errorf("%w: missing messages", ErrInvalidBackup)
	}
	name := in.Name
	if name != "" {
		name += " (imported)"
	}
	return s.CreateBackup(ctx, name, in.Messages)
}

// RestoreBackup returns the messages held by the backup.
func (s *Service) RestoreBackup(ctx context.Context, id string) ([]domain.MailMessage, error) {
	b, err := s.mustGet(ctx, id)
	if err != nil {
		return nil, err
	}
	logger.Info("backup restored", "backup_id", id, "messages", len(b.Messages))
	return b.Messages, nil
}

// DeleteBackup removes the backup.
func (s *Service) DeleteBackup(ctx context.Context, id string) error {
	if _, err := s.mustGet(ctx, id); err != nil {
		return err
	}
	return s.store.Delete(ctx, id)
}

func (s *Service) mustGet(ctx context.Context, id string) (*domain.Backup, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load backup: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, nil
}
