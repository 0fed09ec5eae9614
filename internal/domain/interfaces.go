package domain

import (
	"context"
	"time"

	"locamove/internal/models"
)

type Repository interface {
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	CreateBookingWithLock(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatusWithVersion(ctx context.Context, id int64, version int64, status string) error
	UpdateBookingPricingWithVersion(ctx context.Context, booking *models.Booking, version int64) error
	CancelBookingWithVersion(ctx context.Context, id int64, version int64, cancelledAt time.Time, reason string, refundAmount float64) error
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
	CheckAvailability(ctx context.Context, catalogID int64, start time.Time, end *time.Time) (bool, error)
	GetBookedCount(ctx context.Context, catalogID int64, start time.Time, end *time.Time) (int, error)
	GetCatalog() []models.CatalogItem
	GetCatalogItem(id int64) (models.CatalogItem, bool)
	SetCatalog(items []models.CatalogItem)
}

// QuoteRepository caches computed price previews and carries the per-client
// request counter.
type QuoteRepository interface {
	GetQuote(ctx context.Context, key string) (*models.Quote, error)
	SetQuote(ctx context.Context, quote *models.Quote) error
	ClearQuote(ctx context.Context, key string) error
	CheckRateLimit(ctx context.Context, clientKey string, limit int, window time.Duration) (bool, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// PaymentClient issues refund payouts. The gateway integration lives behind
// this interface; the service only schedules work against it.
type PaymentClient interface {
	IssueRefund(ctx context.Context, bookingReference string, amount float64) error
}

type RefundWorker interface {
	EnqueueRefund(ctx context.Context, booking *models.Booking, amount float64) error
}

type BookingService interface {
	ValidateBookingDates(start time.Time, end *time.Time) error
	Quote(ctx context.Context, catalogID int64, start time.Time, end *time.Time, options []string, discount float64) (*models.Quote, error)
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error)
	RescheduleBooking(ctx context.Context, bookingID, version int64, start time.Time, end *time.Time) (*models.Booking, error)
	ChangeBookingOptions(ctx context.Context, bookingID, version int64, options []string) (*models.Booking, error)
	ApplyDiscount(ctx context.Context, bookingID, version int64, discount float64) (*models.Booking, error)
	ConfirmBooking(ctx context.Context, bookingID, version int64) error
	StartBooking(ctx context.Context, bookingID, version int64) error
	CompleteBooking(ctx context.Context, bookingID, version int64) error
	RejectBooking(ctx context.Context, bookingID, version int64) error
	RequestCancellation(ctx context.Context, bookingID, version int64, reason string) (*models.Booking, error)
	Catalog() []models.CatalogItem
	Availability(ctx context.Context, catalogID int64, start time.Time, end *time.Time) (*models.Availability, error)
}
