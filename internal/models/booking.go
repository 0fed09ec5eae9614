package models

import "time"

type Booking struct {
	ID          int64      `json:"id"`
	Reference   string     `json:"reference"`
	UserID      int64      `json:"user_id"`
	UserName    string     `json:"user_name"`
	Phone       string     `json:"phone"`
	CatalogID   int64      `json:"catalog_id"`
	CatalogName string     `json:"catalog_name"`
	CatalogKind string     `json:"catalog_kind"` // vehicle, moving, equipment
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"` // nil for single-visit orders

	// BaseRate is snapshotted from the catalog at creation time.
	// Later rate card changes never reprice an existing booking.
	BaseRate float64  `json:"base_rate"`
	Options  []string `json:"options,omitempty"`
	Discount float64  `json:"discount"`

	// Derived pricing. Written only as a whole by the pricing engine.
	DurationUnits int64   `json:"duration_units"`
	Subtotal      float64 `json:"subtotal"`
	OptionsPrice  float64 `json:"options_price"`
	TotalAmount   float64 `json:"total_amount"`

	Status       string     `json:"status"` // pending, confirmed, in_progress, completed, cancelled, rejected
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	RefundAmount float64    `json:"refund_amount"`

	Comment   string    `json:"comment"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// IsTerminal reports whether the booking reached a final status. Terminal
// bookings reject any pricing or date mutation.
func (b *Booking) IsTerminal() bool {
	switch b.Status {
	case StatusCancelled, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// CancellationTarget is the date the cancellation lead time is measured
// against: the rental start, which for single-visit orders is the visit date.
func (b *Booking) CancellationTarget() time.Time {
	return b.StartDate
}
