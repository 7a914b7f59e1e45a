package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/scheduler"
)

// ScheduledRepo implements scheduler.Repository against PostgreSQL. The
// payload is stored as JSONB.
type ScheduledRepo struct{ db *sql.DB }

// NewScheduledRepo creates a Postgres-backed scheduled message repository.
func NewScheduledRepo(db *sql.DB) *ScheduledRepo { return &ScheduledRepo{db: db} }

const scheduledColumns = `id, parent_id, transport_name, payload, schedule_kind, schedule_spec,
	timezone, next_run_at, status, attempts, last_error, occurrence, max_occurrences,
	claimed_at, sent_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScheduled(s rowScanner) (*domain.ScheduledMessage, error) {
	var (
		m         domain.ScheduledMessage
		payload   []byte
		claimedAt sql.NullTime
		sentAt    sql.NullTime
	)
	if err := s.Scan(
		&m.ID, &m.ParentID, &m.TransportName, &payload, &m.ScheduleKind, &m.ScheduleSpec,
		&m.Timezone, &m.NextRunAt, &m.Status, &m.Attempts, &m.LastError, &m.Occurrence, &m.MaxOccurrences,
		&claimedAt, &sentAt, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &m.Payload); err != nil {
		return nil, fmt.Errorf("decode payload for %s: %w", m.ID, err)
	}
	if claimedAt.Valid {
		t := claimedAt.Time
		m.ClaimedAt = &t
	}
	if sentAt.Valid {
		t := sentAt.Time
		m.SentAt = &t
	}
	return &m, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *ScheduledRepo) Create(ctx context.Context, m *domain.ScheduledMessage) error {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scheduled_messages (`+scheduledColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, m.ID, m.ParentID, m.TransportName, payload, m.ScheduleKind, m.ScheduleSpec,
		m.Timezone, m.NextRunAt, m.Status, m.Attempts, m.LastError, m.Occurrence, m.MaxOccurrences,
		nullTime(m.ClaimedAt), nullTime(m.SentAt), m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert scheduled message: %w", err)
	}
	return nil
}

func (r *ScheduledRepo) Get(ctx context.Context, id string) (*domain.ScheduledMessage, error) {
	m, err := scanScheduled(r.db.QueryRowContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_messages WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled message: %w", err)
	}
	return m, nil
}

func (r *ScheduledRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduledColumns+`
		FROM scheduled_messages
		WHERE status = 'pending' AND next_run_at <= $1
		ORDER BY next_run_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ScheduledMessage
	for rows.Next() {
		m, err := scanScheduled(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// Claim is a conditional update: only one caller gets the row back, and a
// message rescheduled into the future by another invocation is not due.
func (r *ScheduledRepo) Claim(ctx context.Context, id string, now time.Time) (*domain.ScheduledMessage, error) {
	m, err := scanScheduled(r.db.QueryRowContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'processing', claimed_at = $2, updated_at = $2
		WHERE id = $1 AND status = 'pending' AND next_run_at <= $2
		RETURNING `+scheduledColumns, id, now))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}
	return m, nil
}

func (r *ScheduledRepo) Update(ctx context.Context, m *domain.ScheduledMessage) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = $2, attempts = $3, next_run_at = $4, last_error = $5,
		    occurrence = $6, claimed_at = $7, sent_at = $8, updated_at = $9
		WHERE id = $1
	`, m.ID, m.Status, m.Attempts, m.NextRunAt, m.LastError,
		m.Occurrence, nullTime(m.ClaimedAt), nullTime(m.SentAt), m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update scheduled message: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return scheduler.ErrNotFound
	}
	return nil
}

func (r *ScheduledRepo) ReleaseStale(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages
		SET status = 'pending',
		    attempts = attempts + 1,
		    claimed_at = NULL,
		    last_error = COALESCE(NULLIF(last_error, ''), 'claim expired'),
		    updated_at = NOW()
		WHERE status = 'processing' AND claimed_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *ScheduledRepo) Cancel(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE scheduled_messages SET status = 'cancelled', updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now)
	if err != nil {
		return fmt.Errorf("cancel message: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM scheduled_messages WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check message: %w", err)
	}
	if !exists {
		return scheduler.ErrNotFound
	}
	return scheduler.ErrNotCancellable
}

// FailedRepo implements scheduler.FailedStore against PostgreSQL.
type FailedRepo struct{ db *sql.DB }

// NewFailedRepo creates a Postgres-backed dead-letter store.
func NewFailedRepo(db *sql.DB) *FailedRepo { return &FailedRepo{db: db} }

func (r *FailedRepo) Save(ctx context.Context, f *domain.FailedMessage) error {
	payload, err := json.Marshal(f.OriginalPayload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO failed_messages (id, message_id, transport_name, attempts, last_error, original_payload, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, f.ID, f.MessageID, f.TransportName, f.Attempts, f.LastError, payload, f.FailedAt)
	if err != nil {
		return fmt.Errorf("insert failed message: %w", err)
	}
	return nil
}

func (r *FailedRepo) List(ctx context.Context, transportName string, limit, offset int) ([]domain.FailedMessage, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM failed_messages WHERE ($1 = '' OR transport_name = $1)`, transportName,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count failed messages: %w", err)
	}
	if limit <= 0 {
		limit = total
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, transport_name, attempts, last_error, original_payload, failed_at
		FROM failed_messages
		WHERE ($1 = '' OR transport_name = $1)
		ORDER BY failed_at DESC
		LIMIT $2 OFFSET $3
	`, transportName, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list failed messages: %w", err)
	}
	defer rows.Close()

	out := []domain.FailedMessage{}
	for rows.Next() {
		var (
			f       domain.FailedMessage
			payload []byte
		)
		if err := rows.Scan(&f.ID, &f.MessageID, &f.TransportName, &f.Attempts, &f.LastError, &payload, &f.FailedAt); err != nil {
			return nil, 0, fmt.Errorf("scan failed message: %w", err)
		}
		if err := json.Unmarshal(payload, &f.OriginalPayload); err != nil {
			return nil, 0, fmt.Errorf("decode payload for %s: %w", f.ID, err)
		}
		out = append(out, f)
	}
	return out, total, rows.Err()
}
