package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"locamove/internal/database"
	"locamove/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	TaskIssueRefund = "issue_refund"
)

// refundPayload is persisted in RefundTask.Payload as JSON.
type refundPayload struct {
	BookingID int64   `json:"booking_id"`
	Reference string  `json:"reference"`
	Amount    float64 `json:"amount"`
}

// PaymentClient pushes refund payouts to the payment gateway.
type PaymentClient interface {
	IssueRefund(ctx context.Context, bookingReference string, amount float64) error
}

type RefundWorker struct {
	db            *database.DB
	payments      PaymentClient
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.RefundTask
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *log.Logger
}

// NewRefundWorker builds a worker with sane defaults.
func NewRefundWorker(db *database.DB, payments PaymentClient, redisClient *redis.Client, retry RetryPolicy, logger *log.Logger) *RefundWorker {
	if logger == nil {
		logger = log.Default()
	}

	return &RefundWorker{
		db:            db,
		payments:      payments,
		redis:         redisClient,
		retryPolicy:   retry.normalized(),
		queue:         make(chan models.RefundTask, models.WorkerQueueSize),
		redisQueueKey: "refunds:queue",
		deadLetterKey: "refunds:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// EnqueueRefund persists the payout task to DB and schedules it via redis or
// the in-memory queue.
func (w *RefundWorker) EnqueueRefund(ctx context.Context, booking *models.Booking, amount float64) error {
	if booking == nil || booking.ID == 0 {
		return errors.New("booking id is required")
	}
	if amount <= 0 {
		return errors.New("refund amount must be positive")
	}

	payload := refundPayload{
		BookingID: booking.ID,
		Reference: booking.Reference,
		Amount:    amount,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	task := models.RefundTask{
		TaskType:  TaskIssueRefund,
		BookingID: booking.ID,
		Payload:   string(payloadBytes),
		Status:    "pending",
		CreatedAt: time.Now(),
	}

	if err := w.db.CreateRefundTask(ctx, &task); err != nil {
		return fmt.Errorf("persist refund task: %w", err)
	}

	// Try redis first for durability.
	if w.redis != nil {
		if err := w.pushRedis(ctx, task); err != nil {
			w.logger.Printf("refund_worker: redis push failed, fallback to memory queue: %v", err)
		} else {
			return nil
		}
	}

	// Fallback to in-memory queue if redis missing or failed.
	select {
	case w.queue <- task:
	default:
		w.logger.Printf("refund_worker: in-memory queue full, task %d dropped to polling", task.ID)
	}

	return nil
}

// Start launches main loop; stops when ctx is done.
func (w *RefundWorker) Start(ctx context.Context) {
	w.logger.Printf("refund_worker: started")
	defer w.logger.Printf("refund_worker: stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if t, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &t)
			continue
		}

		if t, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &t)
			continue
		}

		tasks, err := w.db.GetPendingRefundTasks(ctx, w.batchSize)
		if err != nil {
			w.logger.Printf("refund_worker: fetch pending: %v", err)
			time.Sleep(w.pollInterval)
			continue
		}
		if len(tasks) == 0 {
			time.Sleep(w.pollInterval)
			continue
		}

		for i := range tasks {
			w.processTask(ctx, &tasks[i])
		}
	}
}

func (w *RefundWorker) tryLocalQueue() (models.RefundTask, bool) {
	select {
	case t := <-w.queue:
		return t, true
	default:
		return models.RefundTask{}, false
	}
}

func (w *RefundWorker) tryRedis(ctx context.Context) (models.RefundTask, bool) {
	if w.redis == nil {
		return models.RefundTask{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
			return models.RefundTask{}, false
		}
		w.logger.Printf("refund_worker: redis BRPOP error: %v", err)
		return models.RefundTask{}, false
	}
	if len(res) != 2 {
		return models.RefundTask{}, false
	}
	var task models.RefundTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		w.logger.Printf("refund_worker: decode redis task: %v", err)
		return models.RefundTask{}, false
	}
	return task, true
}

func (w *RefundWorker) processTask(ctx context.Context, task *models.RefundTask) {
	payload, err := w.decodePayload(task.Payload)
	if err != nil {
		w.failTask(ctx, task, fmt.Errorf("decode payload: %w", err))
		return
	}

	if err := w.handleTask(ctx, task.TaskType, payload); err != nil {
		w.retryOrFail(ctx, task, err)
		return
	}

	if err := w.db.UpdateRefundTaskStatus(ctx, task.ID, "completed", "", nil); err != nil {
		w.logger.Printf("refund_worker: mark completed %d: %v", task.ID, err)
	}
}

func (w *RefundWorker) handleTask(ctx context.Context, taskType string, payload refundPayload) error {
	switch taskType {
	case TaskIssueRefund:
		if payload.Reference == "" {
			return errors.New("booking reference missing")
		}
		if payload.Amount <= 0 {
			return errors.New("refund amount missing")
		}
		return w.payments.IssueRefund(ctx, payload.Reference, payload.Amount)
	default:
		return fmt.Errorf("unknown task type: %s", taskType)
	}
}

func (w *RefundWorker) retryOrFail(ctx context.Context, task *models.RefundTask, cause error) {
	attempt := task.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		if err := w.db.UpdateRefundTaskStatus(ctx, task.ID, "failed", cause.Error(), nil); err != nil {
			w.logger.Printf("refund_worker: mark failed %d: %v", task.ID, err)
		}
		w.pushDeadLetter(ctx, task)
		return
	}

	nextDelay := w.retryPolicy.NextDelay(attempt)
	nextTime := time.Now().Add(nextDelay)
	if err := w.db.UpdateRefundTaskStatus(ctx, task.ID, "retry", cause.Error(), &nextTime); err != nil {
		w.logger.Printf("refund_worker: mark retry %d: %v", task.ID, err)
	}
}

func (w *RefundWorker) failTask(ctx context.Context, task *models.RefundTask, err error) {
	if err := w.db.UpdateRefundTaskStatus(ctx, task.ID, "failed", err.Error(), nil); err != nil {
		w.logger.Printf("refund_worker: mark failed %d: %v", task.ID, err)
	}
	w.pushDeadLetter(ctx, task)
}

func (w *RefundWorker) decodePayload(raw string) (refundPayload, error) {
	var payload refundPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func (w *RefundWorker) pushRedis(ctx context.Context, task models.RefundTask) error {
	if w.redis == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *RefundWorker) pushDeadLetter(ctx context.Context, task *models.RefundTask) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(task)
	if err != nil {
		w.logger.Printf("refund_worker: encode deadletter %d: %v", task.ID, err)
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Printf("refund_worker: deadletter push %d: %v", task.ID, err)
	}
}
