package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
// Global unsubscribes are stored with an empty list_id.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

func (r *SuppressionRepo) CreateList(ctx context.Context, l *domain.List) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailing_lists (id, name, description, subscriber_count, active, created_at)
		VALUES ($1, $2, $3, 0, $4, $5)
	`, l.ID, l.Name, l.Description, l.Active, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) GetList(ctx context.Context, id string) (*domain.List, error) {
	l := &domain.List{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(description,''), subscriber_count, active, created_at
		FROM mailing_lists
		WHERE id = $1
	`, id).Scan(&l.ID, &l.Name, &l.Description, &l.SubscriberCount, &l.Active, &l.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get list: %w", err)
	}
	return l, nil
}

func (r *SuppressionRepo) Lists(ctx context.Context) ([]domain.List, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(description,''), subscriber_count, active, created_at
		FROM mailing_lists
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list lists: %w", err)
	}
	defer rows.Close()

	out := []domain.List{}
	for rows.Next() {
		var l domain.List
		if err := rows.Scan(&l.ID, &l.Name, &l.Description, &l.SubscriberCount, &l.Active, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan list: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// lockAddress takes a transaction-scoped advisory lock on the address.
// AddSubscriber and Unsubscribe both take it first, so an add can never
// commit an active subscriber behind an unsubscribe it did not see.
func lockAddress(ctx context.Context, tx *sql.Tx, email string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, email); err != nil {
		return fmt.Errorf("lock address: %w", err)
	}
	return nil
}

// AddSubscriber runs the suppression check, insert and counter bump in one
// transaction under the address lock. The list row is locked for the
// counter update.
func (r *SuppressionRepo) AddSubscriber(ctx context.Context, sub *domain.Subscriber) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin add subscriber: %w", err)
	}
	defer tx.Rollback()

	if err := lockAddress(ctx, tx, sub.Email); err != nil {
		return err
	}

	var listID string
	err = tx.QueryRowContext(ctx, `SELECT id FROM mailing_lists WHERE id = $1 FOR UPDATE`, sub.ListID).Scan(&listID)
	if errors.Is(err, sql.ErrNoRows) {
		return suppression.ErrListNotFound
	}
	if err != nil {
		return fmt.Errorf("lock list: %w", err)
	}

	var suppressed bool
	if err := tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM mailing_unsubscribes
			WHERE email = $1 AND (list_id = '' OR list_id = $2)
		)
	`, sub.Email, sub.ListID).Scan(&suppressed); err != nil {
		return fmt.Errorf("check unsubscribes: %w", err)
	}
	if suppressed {
		return suppression.ErrSuppressedEmail
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO mailing_subscribers (id, list_id, email, status, subscribed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (list_id, email) DO NOTHING
	`, sub.ID, sub.ListID, sub.Email, sub.Status, sub.SubscribedAt)
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return suppression.ErrDuplicateSubscriber
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE mailing_lists SET subscriber_count = subscriber_count + 1 WHERE id = $1`,
		sub.ListID,
	); err != nil {
		return fmt.Errorf("increment subscriber count: %w", err)
	}
	return tx.Commit()
}

func (r *SuppressionRepo) Unsubscribe(ctx context.Context, rec *domain.UnsubscribeRecord) (*domain.UnsubscribeRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin unsubscribe: %w", err)
	}
	defer tx.Rollback()

	if err := lockAddress(ctx, tx, rec.Email); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO mailing_unsubscribes (id, email, list_id, reason, unsubscribed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (email, list_id) DO NOTHING
	`, rec.ID, rec.Email, rec.ListID, rec.Reason, rec.UnsubscribedAt)
	if err != nil {
		return nil, fmt.Errorf("insert unsubscribe: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing := &domain.UnsubscribeRecord{}
		if err := tx.QueryRowContext(ctx, `
			SELECT id, email, list_id, reason, unsubscribed_at
			FROM mailing_unsubscribes
			WHERE email = $1 AND list_id = $2
		`, rec.Email, rec.ListID).Scan(
			&existing.ID, &existing.Email, &existing.ListID, &existing.Reason, &existing.UnsubscribedAt,
		); err != nil {
			return nil, fmt.Errorf("load existing unsubscribe: %w", err)
		}
		return existing, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE mailing_subscribers SET status = 'unsubscribed'
		WHERE email = $1 AND ($2 = '' OR list_id = $2)
	`, rec.Email, rec.ListID); err != nil {
		return nil, fmt.Errorf("mark subscribers unsubscribed: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit unsubscribe: %w", err)
	}
	out := *rec
	return &out, nil
}

func (r *SuppressionRepo) IsUnsubscribed(ctx context.Context, email, listID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM mailing_unsubscribes
			WHERE email = $1 AND (list_id = '' OR ($2 <> '' AND list_id = $2))
		)
	`, email, listID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check unsubscribed: %w", err)
	}
	return exists, nil
}

func (r *SuppressionRepo) Unsubscribes(ctx context.Context, f suppression.UnsubscribeFilter) ([]domain.UnsubscribeRecord, int, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	idx := 1
	if f.Email != "" {
		where += fmt.Sprintf(" AND email = $%d", idx)
		args = append(args, f.Email)
		idx++
	}
	if f.ListID != "" {
		where += fmt.Sprintf(" AND list_id = $%d", idx)
		args = append(args, f.ListID)
		idx++
	}
	if f.Reason != "" {
		where += fmt.Sprintf(" AND reason = $%d", idx)
		args = append(args, f.Reason)
		idx++
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mailing_unsubscribes`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count unsubscribes: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = total
	}
	q := `SELECT id, email, list_id, reason, unsubscribed_at FROM mailing_unsubscribes` + where +
		fmt.Sprintf(" ORDER BY unsubscribed_at DESC LIMIT $%d OFFSET $%d", idx, idx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list unsubscribes: %w", err)
	}
	defer rows.Close()

	out := []domain.UnsubscribeRecord{}
	for rows.Next() {
		var u domain.UnsubscribeRecord
		if err := rows.Scan(&u.ID, &u.Email, &u.ListID, &u.Reason, &u.UnsubscribedAt); err != nil {
			return nil, 0, fmt.Errorf("scan unsubscribe: %w", err)
		}
		out = append(out, u)
	}
	return out, total, rows.Err()
}

func (r *SuppressionRepo) RecordBounce(ctx context.Context, b *domain.BounceRecord) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mailing_bounces (id, email, bounce_type, category, status_code, diagnostic, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.Email, b.Type, b.Category, b.StatusCode, b.Diagnostic, b.ReceivedAt)
	if err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) BounceCount(ctx context.Context, email string, typ domain.BounceType, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mailing_bounces
		WHERE email = $1 AND ($2 = '' OR bounce_type = $2) AND received_at >= $3
	`, email, string(typ), since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bounces: %w", err)
	}
	return n, nil
}
