package pricing

import (
	"errors"
	"math"
	"time"

	"locamove/internal/models"
)

// CancellationLeadTime is the minimum gap between the cancellation request
// and the booking start. At or under this lead time cancellation is refused.
const CancellationLeadTime = 24 * time.Hour

var (
	// ErrNotCancellable is returned when the booking starts too soon.
	ErrNotCancellable = errors.New("booking starts in less than 24 hours")

	// ErrInvalidTransition is returned when the booking status does not
	// allow cancellation at all.
	ErrInvalidTransition = errors.New("booking status does not allow cancellation")
)

// Decision is the outcome of a cancellation evaluation.
type Decision struct {
	Eligible      bool    `json:"eligible"`
	DaysLeft      int64   `json:"days_left"`
	RefundPercent float64 `json:"refund_percent"`
}

// EvaluateCancellation decides whether a booking may be cancelled now and at
// which refund tier. Only pending and confirmed bookings qualify, and both
// are held to the same 24-hour lead time. The evaluation does not mutate
// anything; calling it twice with the same clock yields the same decision.
func EvaluateCancellation(status string, now, target time.Time) (Decision, error) {
	switch status {
	case models.StatusPending, models.StatusConfirmed:
	default:
		return Decision{}, ErrInvalidTransition
	}

	until := target.Sub(now)
	if until <= CancellationLeadTime {
		return Decision{}, ErrNotCancellable
	}

	daysLeft := int64(math.Ceil(until.Hours() / 24))
	return Decision{
		Eligible:      true,
		DaysLeft:      daysLeft,
		RefundPercent: RefundPercent(daysLeft),
	}, nil
}

// RefundPercent maps whole days of notice to the refund tier.
// More than 7 days returns 90, more than 3 days 50, anything else 0.
func RefundPercent(daysLeft int64) float64 {
	switch {
	case daysLeft > 7:
		return 90
	case daysLeft > 3:
		return 50
	default:
		return 0
	}
}

// RefundAmount applies a refund tier to the booking total.
func RefundAmount(total, percent float64) float64 {
	return total * percent / 100
}
