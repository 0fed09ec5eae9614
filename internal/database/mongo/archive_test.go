package mongo

import (
	"testing"
	"time"

	"locamove/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestBookingDocRoundTrip(t *testing.T) {
	end := time.Date(2026, 9, 13, 0, 0, 0, 0, time.UTC)
	cancelled := time.Date(2026, 9, 5, 10, 0, 0, 0, time.UTC)
	booking := &models.Booking{
		ID:            42,
		Reference:     "bk-42",
		UserID:        7,
		UserName:      "Alice",
		CatalogID:     1,
		CatalogName:   "Cargo Van",
		CatalogKind:   models.KindVehicle,
		StartDate:     time.Date(2026, 9, 10, 0, 0, 0, 0, time.UTC),
		EndDate:       &end,
		BaseRate:      100,
		Options:       []string{"gps", "insurance"},
		DurationUnits: 3,
		Subtotal:      300,
		OptionsPrice:  69,
		TotalAmount:   369,
		Status:        models.StatusCancelled,
		CancelledAt:   &cancelled,
		CancelReason:  "plans changed",
		RefundAmount:  332.1,
	}

	doc := toBookingDoc(booking)
	assert.Equal(t, "bk-42", doc.Reference)
	assert.False(t, doc.ArchivedAt.IsZero())

	got := fromBookingDoc(doc)
	assert.Equal(t, booking.ID, got.ID)
	assert.Equal(t, booking.Options, got.Options)
	assert.Equal(t, booking.TotalAmount, got.TotalAmount)
	assert.Equal(t, booking.RefundAmount, got.RefundAmount)
	assert.Equal(t, booking.CancelledAt, got.CancelledAt)
	assert.Equal(t, booking.EndDate, got.EndDate)
}
