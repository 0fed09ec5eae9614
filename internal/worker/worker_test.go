package worker

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"locamove/internal/database"
	"locamove/internal/models"

	"github.com/rs/zerolog"
)

func TestProcessTaskSuccess(t *testing.T) {
	db := newTestDB(t)
	payments := &fakePayments{}
	worker := NewRefundWorker(db, payments, nil, RetryPolicy{}, nil)

	booking := &models.Booking{ID: 1, Reference: "bk-1"}

	ctx := context.Background()
	if err := worker.EnqueueRefund(ctx, booking, 450); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != "completed" {
		t.Fatalf("expected status=completed, got %s", status)
	}
	if retryCount != 0 {
		t.Fatalf("expected retry_count=0, got %d", retryCount)
	}
	if nextRetry.Valid {
		t.Fatalf("expected next_retry_at NULL on success")
	}
	if payments.calls != 1 {
		t.Fatalf("expected refund call, got %d", payments.calls)
	}
	if payments.lastRef != "bk-1" || payments.lastAmount != 450 {
		t.Fatalf("unexpected refund args: %s %v", payments.lastRef, payments.lastAmount)
	}
}

func TestProcessTaskRetry(t *testing.T) {
	db := newTestDB(t)
	payments := &fakePayments{err: errors.New("boom")}
	worker := NewRefundWorker(db, payments, nil, RetryPolicy{MaxRetries: 3, InitialDelay: time.Second}, nil)

	booking := &models.Booking{ID: 2, Reference: "bk-2"}

	ctx := context.Background()
	if err := worker.EnqueueRefund(ctx, booking, 100); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	task, ok := worker.tryLocalQueue()
	if !ok {
		t.Fatalf("expected task in local queue")
	}
	worker.processTask(ctx, &task)

	status, retryCount, nextRetry := loadTaskStatus(t, db, task.ID)
	if status != "retry" {
		t.Fatalf("expected status=retry, got %s", status)
	}
	if retryCount != 1 {
		t.Fatalf("expected retry_count=1, got %d", retryCount)
	}
	if !nextRetry.Valid || nextRetry.Time.Before(time.Now()) {
		t.Fatalf("expected next_retry_at in future, got %v", nextRetry)
	}
}

func TestProcessTaskFail(t *testing.T) {
	db := newTestDB(t)
	payments := &fakePayments{err: errors.New("fatal")}
	worker := NewRefundWorker(db, payments, nil, RetryPolicy{MaxRetries: 1}, nil)

	booking := &models.Booking{ID: 3, Reference: "bk-3"}

	ctx := context.Background()
	worker.EnqueueRefund(ctx, booking, 50)
	task, _ := worker.tryLocalQueue()
	worker.processTask(ctx, &task)

	status, _, _ := loadTaskStatus(t, db, task.ID)
	if status != "failed" {
		t.Fatalf("expected status=failed, got %s", status)
	}
}

func TestRefundWorker_HandleTask(t *testing.T) {
	db := newTestDB(t)
	payments := &fakePayments{}
	worker := NewRefundWorker(db, payments, nil, RetryPolicy{MaxRetries: 3}, nil)

	ctx := context.Background()

	t.Run("IssueRefund", func(t *testing.T) {
		err := worker.handleTask(ctx, TaskIssueRefund, refundPayload{BookingID: 1, Reference: "bk-1", Amount: 90})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if payments.calls != 1 {
			t.Fatalf("expected 1 refund call, got %d", payments.calls)
		}
	})

	t.Run("MissingReference", func(t *testing.T) {
		err := worker.handleTask(ctx, TaskIssueRefund, refundPayload{BookingID: 1, Amount: 90})
		if err == nil {
			t.Fatalf("expected error for missing reference")
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		err := worker.handleTask(ctx, "mystery", refundPayload{})
		if err == nil {
			t.Fatalf("expected error for unknown task type")
		}
	})
}

func TestRetryPolicyNextDelay(t *testing.T) {
	policy := RetryPolicy{InitialDelay: time.Second, BackoffFactor: 2, MaxDelay: 5 * time.Second}
	d1 := policy.NextDelay(1)
	d2 := policy.NextDelay(2)
	d3 := policy.NextDelay(5)

	if d1 != time.Second {
		t.Fatalf("attempt1 expected 1s, got %s", d1)
	}
	if d2 != 2*time.Second {
		t.Fatalf("attempt2 expected 2s, got %s", d2)
	}
	if d3 != 5*time.Second {
		t.Fatalf("attempt5 expected capped 5s, got %s", d3)
	}
}

func TestRefundWorker_EnqueueRefund(t *testing.T) {
	db := newTestDB(t)
	payments := &fakePayments{}
	worker := NewRefundWorker(db, payments, nil, RetryPolicy{}, nil)

	ctx := context.Background()
	booking := &models.Booking{ID: 1, Reference: "bk-1"}

	t.Run("ValidTask", func(t *testing.T) {
		err := worker.EnqueueRefund(ctx, booking, 200)
		if err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	})

	t.Run("MissingBooking", func(t *testing.T) {
		err := worker.EnqueueRefund(ctx, nil, 200)
		if err == nil {
			t.Fatalf("expected error for missing booking")
		}
	})

	t.Run("NonPositiveAmount", func(t *testing.T) {
		err := worker.EnqueueRefund(ctx, booking, 0)
		if err == nil {
			t.Fatalf("expected error for zero amount")
		}
	})
}

func TestRefundWorker_DecodePayload(t *testing.T) {
	worker := NewRefundWorker(nil, nil, nil, RetryPolicy{}, nil)

	t.Run("ValidPayload", func(t *testing.T) {
		payload := `{"booking_id":123,"reference":"bk-123","amount":90}`
		decoded, err := worker.decodePayload(payload)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.BookingID != 123 || decoded.Reference != "bk-123" || decoded.Amount != 90 {
			t.Fatalf("unexpected decoded payload: %+v", decoded)
		}
	})

	t.Run("InvalidPayload", func(t *testing.T) {
		payload := `invalid json`
		_, err := worker.decodePayload(payload)
		if err == nil {
			t.Fatalf("expected error for invalid json")
		}
	})
}

// Helpers

type fakePayments struct {
	err        error
	calls      int
	lastRef    string
	lastAmount float64
}

func (f *fakePayments) IssueRefund(ctx context.Context, reference string, amount float64) error {
	f.calls++
	f.lastRef = reference
	f.lastAmount = amount
	return f.err
}

func newTestDB(t *testing.T) *database.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "worker.db")
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	db, err := database.NewDB(path, &logger)
	if err != nil {
		t.Fatalf("new db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func loadTaskStatus(t *testing.T, db *database.DB, id int64) (status string, retryCount int, nextRetry sql.NullTime) {
	t.Helper()
	row := db.QueryRowContext(context.Background(), `SELECT status, retry_count, next_retry_at FROM refund_queue WHERE id = ?`, id)
	if err := row.Scan(&status, &retryCount, &nextRetry); err != nil {
		t.Fatalf("scan task: %v", err)
	}
	return status, retryCount, nextRetry
}
