package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/leadmap-mailflow/internal/domain"
	"github.com/ignite/leadmap-mailflow/internal/scheduler"
	"github.com/ignite/leadmap-mailflow/internal/service/suppression"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func expectationsMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// =============================================================================
// SUBSCRIBERS
// =============================================================================

func expectAddressLock(mock sqlmock.Sqlmock, email string) {
	mock.ExpectExec("SELECT pg_advisory_xact_lock\\(hashtext\\(\\$1\\)\\)").WithArgs(email).
		WillReturnResult(sqlmock.NewResult(0, 0))
}

func newSubscriber() *domain.Subscriber {
	return &domain.Subscriber{
		ID: "sub-1", ListID: "list-1", Email: "ada@example.com",
		Status: domain.SubscriberActive, SubscribedAt: time.Now(),
	}
}

func TestAddSubscriber_CommitsInsertAndCounter(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	expectAddressLock(mock, "ada@example.com")
	mock.ExpectQuery("SELECT id FROM mailing_lists").WithArgs("list-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("list-1"))
	mock.ExpectQuery("FROM mailing_unsubscribes").WithArgs("ada@example.com", "list-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO mailing_subscribers").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE mailing_lists SET subscriber_count").WithArgs("list-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := NewSuppressionRepo(db).AddSubscriber(context.Background(), newSubscriber()); err != nil {
		t.Fatalf("AddSubscriber: %v", err)
	}
	expectationsMet(t, mock)
}

func TestAddSubscriber_SuppressedRollsBack(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	expectAddressLock(mock, "ada@example.com")
	mock.ExpectQuery("SELECT id FROM mailing_lists").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("list-1"))
	mock.ExpectQuery("FROM mailing_unsubscribes").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	err := NewSuppressionRepo(db).AddSubscriber(context.Background(), newSubscriber())
	if !errors.Is(err, suppression.ErrSuppressedEmail) {
		t.Fatalf("err = %v, want ErrSuppressedEmail", err)
	}
	expectationsMet(t, mock)
}

func TestAddSubscriber_Duplicate(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	expectAddressLock(mock, "ada@example.com")
	mock.ExpectQuery("SELECT id FROM mailing_lists").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("list-1"))
	mock.ExpectQuery("FROM mailing_unsubscribes").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("INSERT INTO mailing_subscribers").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := NewSuppressionRepo(db).AddSubscriber(context.Background(), newSubscriber())
	if !errors.Is(err, suppression.ErrDuplicateSubscriber) {
		t.Fatalf("err = %v, want ErrDuplicateSubscriber", err)
	}
	expectationsMet(t, mock)
}

func TestAddSubscriber_MissingList(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	expectAddressLock(mock, "ada@example.com")
	mock.ExpectQuery("SELECT id FROM mailing_lists").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	err := NewSuppressionRepo(db).AddSubscriber(context.Background(), newSubscriber())
	if !errors.Is(err, suppression.ErrListNotFound) {
		t.Fatalf("err = %v, want ErrListNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestUnsubscribe_ExistingRecordReturned(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	expectAddressLock(mock, "ada@example.com")
	mock.ExpectExec("INSERT INTO mailing_unsubscribes").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM mailing_unsubscribes").WithArgs("ada@example.com", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "list_id", "reason", "unsubscribed_at"}).
			AddRow("u-0", "ada@example.com", "", "hard_bounce", earlier))
	mock.ExpectCommit()

	got, err := NewSuppressionRepo(db).Unsubscribe(context.Background(), &domain.UnsubscribeRecord{
		ID: "u-1", Email: "ada@example.com", Reason: domain.ReasonUserRequest, UnsubscribedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if got.ID != "u-0" || got.Reason != domain.ReasonHardBounce {
		t.Errorf("got %+v, want existing record u-0", got)
	}
	expectationsMet(t, mock)
}

func TestUnsubscribe_NewRecordMarksSubscribers(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	expectAddressLock(mock, "ada@example.com")
	mock.ExpectExec("INSERT INTO mailing_unsubscribes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE mailing_subscribers SET status").WithArgs("ada@example.com", "list-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := NewSuppressionRepo(db).Unsubscribe(context.Background(), &domain.UnsubscribeRecord{
		ID: "u-1", Email: "ada@example.com", ListID: "list-1", Reason: domain.ReasonUserRequest,
	})
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if got.ID != "u-1" {
		t.Errorf("ID = %q, want u-1", got.ID)
	}
	expectationsMet(t, mock)
}

func TestAddAndUnsubscribe_ShareAddressLock(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewSuppressionRepo(db)

	mock.ExpectBegin()
	expectAddressLock(mock, "grace@example.com")
	mock.ExpectQuery("SELECT id FROM mailing_lists").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	mock.ExpectBegin()
	expectAddressLock(mock, "grace@example.com")
	mock.ExpectExec("INSERT INTO mailing_unsubscribes").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE mailing_subscribers SET status").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	sub := newSubscriber()
	sub.Email = "grace@example.com"
	if err := repo.AddSubscriber(context.Background(), sub); !errors.Is(err, suppression.ErrListNotFound) {
		t.Fatalf("AddSubscriber err = %v, want ErrListNotFound", err)
	}
	if _, err := repo.Unsubscribe(context.Background(), &domain.UnsubscribeRecord{
		ID: "u-2", Email: "grace@example.com", Reason: domain.ReasonUserRequest,
	}); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	expectationsMet(t, mock)
}

func TestAddSubscriber_LockFailureAborts(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("pg_advisory_xact_lock").WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	err := NewSuppressionRepo(db).AddSubscriber(context.Background(), newSubscriber())
	if err == nil {
		t.Fatal("expected error when the address lock fails")
	}
	expectationsMet(t, mock)
}

func TestUnsubscribes_FiltersAndPaginates(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM mailing_unsubscribes WHERE 1=1 AND reason = \\$1").
		WithArgs("spam_complaint").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectQuery("ORDER BY unsubscribed_at DESC LIMIT \\$2 OFFSET \\$3").
		WithArgs("spam_complaint", 2, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "list_id", "reason", "unsubscribed_at"}).
			AddRow("u-3", "c@example.com", "", "spam_complaint", time.Now()).
			AddRow("u-2", "b@example.com", "", "spam_complaint", time.Now()))

	recs, total, err := NewSuppressionRepo(db).Unsubscribes(context.Background(),
		suppression.UnsubscribeFilter{Reason: "spam_complaint", Limit: 2})
	if err != nil {
		t.Fatalf("Unsubscribes: %v", err)
	}
	if total != 3 || len(recs) != 2 {
		t.Errorf("total=%d len=%d, want 3 and 2", total, len(recs))
	}
	expectationsMet(t, mock)
}

func TestBounceCount(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	since := time.Now().Add(-72 * time.Hour)
	mock.ExpectQuery("FROM mailing_bounces").WithArgs("ada@example.com", "soft", since).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := NewSuppressionRepo(db).BounceCount(context.Background(), "ada@example.com", domain.BounceSoft, since)
	if err != nil || n != 4 {
		t.Fatalf("BounceCount = %d, %v; want 4", n, err)
	}
	expectationsMet(t, mock)
}

// =============================================================================
// SCHEDULED MESSAGES
// =============================================================================

var scheduledCols = []string{"id", "parent_id", "transport_name", "payload", "schedule_kind", "schedule_spec",
	"timezone", "next_run_at", "status", "attempts", "last_error", "occurrence", "max_occurrences",
	"claimed_at", "sent_at", "created_at", "updated_at"}

func TestClaim(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	payload, _ := json.Marshal(domain.MessagePayload{From: "a@example.com", To: []string{"b@example.com"}})
	claimQuery := "WHERE id = \\$1 AND status = 'pending' AND next_run_at <= \\$2\\s+RETURNING"
	mock.ExpectQuery(claimQuery).WithArgs("m-1", now).
		WillReturnRows(sqlmock.NewRows(scheduledCols).AddRow(
			"m-1", "", "ses", payload, "once", "", "UTC", now.Add(-time.Minute), "processing", 2, "timeout", 0, 0,
			now, nil, now, now,
		))
	mock.ExpectQuery(claimQuery).WithArgs("m-1", now).WillReturnRows(sqlmock.NewRows(scheduledCols))

	repo := NewScheduledRepo(db)
	m, err := repo.Claim(context.Background(), "m-1", now)
	if err != nil || m == nil {
		t.Fatalf("first Claim = %v, %v; want the row", m, err)
	}
	if m.Status != domain.MessageProcessing || m.Attempts != 2 || m.ClaimedAt == nil {
		t.Errorf("claimed row = %+v, want the stored processing row", m)
	}
	m, err = repo.Claim(context.Background(), "m-1", now)
	if err != nil || m != nil {
		t.Fatalf("second Claim = %v, %v; want nil", m, err)
	}
	expectationsMet(t, mock)
}

func TestListDue_DecodesPayload(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	now := time.Now().UTC()
	payload, _ := json.Marshal(domain.MessagePayload{From: "a@example.com", To: []string{"b@example.com"}, Subject: "Hi"})
	mock.ExpectQuery("WHERE status = 'pending' AND next_run_at <= \\$1").WithArgs(now, 100).
		WillReturnRows(sqlmock.NewRows(scheduledCols).AddRow(
			"m-1", "", "ses", payload, "once", "", "UTC", now, "pending", 0, "", 0, 0, nil, nil, now, now,
		))

	due, err := NewScheduledRepo(db).ListDue(context.Background(), now, 100)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("len = %d, want 1", len(due))
	}
	if due[0].Payload.Subject != "Hi" || due[0].ClaimedAt != nil {
		t.Errorf("unexpected message %+v", due[0])
	}
	expectationsMet(t, mock)
}

func TestCancel_Outcomes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()
	repo := NewScheduledRepo(db)
	now := time.Now()

	mock.ExpectExec("SET status = 'cancelled'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("sent-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	if err := repo.Cancel(context.Background(), "sent-1", now); !errors.Is(err, scheduler.ErrNotCancellable) {
		t.Errorf("err = %v, want ErrNotCancellable", err)
	}

	mock.ExpectExec("SET status = 'cancelled'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	if err := repo.Cancel(context.Background(), "missing", now); !errors.Is(err, scheduler.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	expectationsMet(t, mock)
}

func TestReleaseStale(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	cutoff := time.Now().Add(-5 * time.Minute)
	mock.ExpectExec("WHERE status = 'processing' AND claimed_at < \\$1").WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := NewScheduledRepo(db).ReleaseStale(context.Background(), cutoff)
	if err != nil || n != 3 {
		t.Fatalf("ReleaseStale = %d, %v; want 3", n, err)
	}
	expectationsMet(t, mock)
}

func TestFailedRepo_List(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	payload, _ := json.Marshal(domain.MessagePayload{Subject: "Weekly digest"})
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM failed_messages").WithArgs("ses").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery("ORDER BY failed_at DESC").WithArgs("ses", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "message_id", "transport_name", "attempts", "last_error", "original_payload", "failed_at"}).
			AddRow("f-1", "m-1", "ses", 5, "throttled", payload, time.Now()))

	msgs, total, err := NewFailedRepo(db).List(context.Background(), "ses", 50, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(msgs) != 1 || msgs[0].OriginalPayload.Subject != "Weekly digest" {
		t.Errorf("unexpected result total=%d msgs=%+v", total, msgs)
	}
	expectationsMet(t, mock)
}
