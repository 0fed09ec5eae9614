package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"locamove/internal/config"
	"locamove/internal/database"
	"locamove/internal/domain"
	"locamove/internal/events"
	"locamove/internal/metrics"
	"locamove/internal/models"
	"locamove/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrBookingFinalized  = errors.New("booking is in a terminal status")
	ErrNegativeDiscount  = errors.New("discount must not be negative")
)

type BookingService struct {
	repo           domain.Repository
	rules          *pricing.RuleSet
	eventBus       domain.EventPublisher
	refundWorker   domain.RefundWorker
	quotes         domain.QuoteRepository
	maxBookingDays int
	minAdvance     time.Duration
	logger         *zerolog.Logger
}

func NewBookingService(repo domain.Repository, rules *pricing.RuleSet, eventBus domain.EventPublisher, refundWorker domain.RefundWorker, quotes domain.QuoteRepository, cfg config.BookingConfig, logger *zerolog.Logger) *BookingService {
	maxBookingDays := cfg.MaxBookingDays
	if maxBookingDays <= 0 {
		maxBookingDays = 365
	}
	return &BookingService{
		repo:           repo,
		rules:          rules,
		eventBus:       eventBus,
		refundWorker:   refundWorker,
		quotes:         quotes,
		maxBookingDays: maxBookingDays,
		minAdvance:     time.Duration(cfg.MinBookingAdvanceHours) * time.Hour,
		logger:         logger,
	}
}

func (s *BookingService) ValidateBookingDates(start time.Time, end *time.Time) error {
	// Начало брони строго в будущем, плюс настроенный минимальный запас
	if !start.After(time.Now().Add(s.minAdvance)) {
		return database.ErrPastDate
	}

	// Проверяем максимальную дату
	maxDate := time.Now().AddDate(0, 0, s.maxBookingDays)
	if start.After(maxDate) {
		return database.ErrDateTooFar
	}
	if end != nil && end.After(maxDate.AddDate(0, 0, 1)) {
		return database.ErrDateTooFar
	}

	// Конец периода должен быть строго позже начала
	if _, err := pricing.DurationUnits(start, end); err != nil {
		return err
	}

	return nil
}

// Quote computes a price preview without creating a booking. Results are
// cached by the request parameters so repeated previews skip recomputation.
func (s *BookingService) Quote(ctx context.Context, catalogID int64, start time.Time, end *time.Time, options []string, discount float64) (*models.Quote, error) {
	if discount < 0 {
		return nil, ErrNegativeDiscount
	}

	item, ok := s.repo.GetCatalogItem(catalogID)
	if !ok {
		return nil, fmt.Errorf("catalog item %d: %w", catalogID, database.ErrNotFound)
	}

	key := quoteCacheKey(catalogID, start, end, options, discount)
	if s.quotes != nil {
		cached, err := s.quotes.GetQuote(ctx, key)
		if err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("quote cache read error")
		} else if cached != nil {
			return cached, nil
		}
	}

	breakdown, err := s.rules.Compute(item.Kind, start, end, item.DailyRate, options, discount)
	if err != nil {
		return nil, err
	}

	quote := &models.Quote{
		Key:           key,
		CatalogKind:   item.Kind,
		DurationUnits: breakdown.DurationUnits,
		Subtotal:      breakdown.Subtotal,
		OptionsPrice:  breakdown.OptionsPrice,
		Discount:      breakdown.Discount,
		TotalAmount:   breakdown.Total,
		ComputedAt:    time.Now().UTC(),
	}

	if s.quotes != nil {
		if err := s.quotes.SetQuote(ctx, quote); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("quote cache write error")
		}
	}

	return quote, nil
}

func (s *BookingService) CreateBooking(ctx context.Context, booking *models.Booking) error {
	if err := s.ValidateBookingDates(booking.StartDate, booking.EndDate); err != nil {
		return err
	}
	if booking.Discount < 0 {
		return ErrNegativeDiscount
	}

	item, ok := s.repo.GetCatalogItem(booking.CatalogID)
	if !ok {
		return fmt.Errorf("catalog item %d: %w", booking.CatalogID, database.ErrNotFound)
	}
	if !item.IsActive {
		return database.ErrNotAvailable
	}

	// Снимок тарифа на момент создания; дальнейшие изменения каталога
	// заявку не трогают
	booking.CatalogName = item.Name
	booking.CatalogKind = item.Kind
	booking.BaseRate = item.DailyRate

	breakdown, err := s.rules.Compute(item.Kind, booking.StartDate, booking.EndDate, booking.BaseRate, booking.Options, booking.Discount)
	if err != nil {
		return err
	}
	applyBreakdown(booking, breakdown)

	if booking.Reference == "" {
		booking.Reference = uuid.NewString()
	}
	booking.Status = models.StatusPending

	if err := s.repo.CreateBookingWithLock(ctx, booking); err != nil {
		return err
	}

	metrics.IncBookingCreated(booking.CatalogKind)
	s.publishEvent(events.EventBookingCreated, booking, 0, 0)

	return nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.repo.GetBooking(ctx, id)
}

func (s *BookingService) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	return s.repo.GetBookingByReference(ctx, reference)
}

func (s *BookingService) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	return s.repo.GetBookingsByDateRange(ctx, start, end)
}

func (s *BookingService) GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	return s.repo.GetUserBookings(ctx, userID)
}

// RescheduleBooking moves the booking period and recomputes the totals from
// the stored base rate snapshot.
func (s *BookingService) RescheduleBooking(ctx context.Context, bookingID, version int64, start time.Time, end *time.Time) (*models.Booking, error) {
	booking, err := s.editableBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if err := s.ValidateBookingDates(start, end); err != nil {
		return nil, err
	}

	booking.StartDate = start
	booking.EndDate = end
	if err := s.reprice(ctx, booking, version, "reschedule"); err != nil {
		return nil, err
	}

	s.publishEvent(events.EventBookingRescheduled, booking, 0, 0)
	return booking, nil
}

// ChangeBookingOptions replaces the option set and recomputes the totals.
func (s *BookingService) ChangeBookingOptions(ctx context.Context, bookingID, version int64, options []string) (*models.Booking, error) {
	booking, err := s.editableBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	booking.Options = options
	if err := s.reprice(ctx, booking, version, "options"); err != nil {
		return nil, err
	}

	s.publishEvent(events.EventBookingRepriced, booking, 0, 0)
	return booking, nil
}

// ApplyDiscount sets an absolute discount amount and recomputes the totals.
func (s *BookingService) ApplyDiscount(ctx context.Context, bookingID, version int64, discount float64) (*models.Booking, error) {
	if discount < 0 {
		return nil, ErrNegativeDiscount
	}

	booking, err := s.editableBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	booking.Discount = discount
	if err := s.reprice(ctx, booking, version, "discount"); err != nil {
		return nil, err
	}

	s.publishEvent(events.EventBookingRepriced, booking, 0, 0)
	return booking, nil
}

func (s *BookingService) ConfirmBooking(ctx context.Context, bookingID, version int64) error {
	return s.transition(ctx, bookingID, version, models.StatusPending, models.StatusConfirmed, events.EventBookingConfirmed)
}

func (s *BookingService) StartBooking(ctx context.Context, bookingID, version int64) error {
	return s.transition(ctx, bookingID, version, models.StatusConfirmed, models.StatusInProgress, events.EventBookingStarted)
}

func (s *BookingService) CompleteBooking(ctx context.Context, bookingID, version int64) error {
	return s.transition(ctx, bookingID, version, models.StatusInProgress, models.StatusCompleted, events.EventBookingCompleted)
}

func (s *BookingService) RejectBooking(ctx context.Context, bookingID, version int64) error {
	return s.transition(ctx, bookingID, version, models.StatusPending, models.StatusRejected, events.EventBookingRejected)
}

// RequestCancellation evaluates the cancellation policy against the booking
// start, persists the cancelled state and schedules the refund payout when
// one is due.
func (s *BookingService) RequestCancellation(ctx context.Context, bookingID, version int64, reason string) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	decision, err := pricing.EvaluateCancellation(booking.Status, now, booking.CancellationTarget())
	if err != nil {
		return nil, err
	}

	refund := pricing.RefundAmount(booking.TotalAmount, decision.RefundPercent)

	cancelledAt := now.UTC()
	if err := s.repo.CancelBookingWithVersion(ctx, bookingID, version, cancelledAt, reason, refund); err != nil {
		return nil, err
	}

	booking.Status = models.StatusCancelled
	booking.CancelledAt = &cancelledAt
	booking.CancelReason = reason
	booking.RefundAmount = refund
	booking.Version = version + 1

	metrics.IncCancellation(strconv.FormatFloat(decision.RefundPercent, 'f', -1, 64))
	s.publishEvent(events.EventBookingCancelled, booking, refund, decision.RefundPercent)

	if refund > 0 && s.refundWorker != nil {
		if err := s.refundWorker.EnqueueRefund(ctx, booking, refund); err != nil {
			s.logger.Error().Err(err).Int64("booking_id", booking.ID).Msg("refund enqueue error")
		}
	}

	return booking, nil
}

func (s *BookingService) Catalog() []models.CatalogItem {
	return s.repo.GetCatalog()
}

// Availability reports how many units of a catalog item remain free over the
// period. Open-ended periods count every booking overlapping the start.
func (s *BookingService) Availability(ctx context.Context, catalogID int64, start time.Time, end *time.Time) (*models.Availability, error) {
	item, ok := s.repo.GetCatalogItem(catalogID)
	if !ok {
		return nil, fmt.Errorf("catalog item %d: %w", catalogID, database.ErrNotFound)
	}

	booked, err := s.repo.GetBookedCount(ctx, catalogID, start, end)
	if err != nil {
		return nil, err
	}

	available := item.TotalQuantity - int64(booked)
	if available < 0 {
		available = 0
	}

	return &models.Availability{
		Date:      start,
		CatalogID: catalogID,
		Booked:    int64(booked),
		Available: available,
	}, nil
}

// editableBooking loads a booking and rejects edits to terminal ones.
func (s *BookingService) editableBooking(ctx context.Context, bookingID int64) (*models.Booking, error) {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if booking.IsTerminal() {
		return nil, ErrBookingFinalized
	}
	return booking, nil
}

// reprice recomputes the derived amounts from the stored rate snapshot and
// persists them under optimistic locking.
func (s *BookingService) reprice(ctx context.Context, booking *models.Booking, version int64, trigger string) error {
	breakdown, err := s.rules.Compute(booking.CatalogKind, booking.StartDate, booking.EndDate, booking.BaseRate, booking.Options, booking.Discount)
	if err != nil {
		return err
	}
	applyBreakdown(booking, breakdown)

	if err := s.repo.UpdateBookingPricingWithVersion(ctx, booking, version); err != nil {
		return err
	}

	metrics.IncRecompute(trigger)
	return nil
}

func (s *BookingService) transition(ctx context.Context, bookingID, version int64, from, to, eventType string) error {
	booking, err := s.repo.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if booking.Status != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, booking.Status, to)
	}

	if err := s.repo.UpdateBookingStatusWithVersion(ctx, bookingID, version, to); err != nil {
		return err
	}

	booking.Status = to
	booking.Version = version + 1
	s.publishEvent(eventType, booking, 0, 0)

	return nil
}

func applyBreakdown(booking *models.Booking, breakdown pricing.Breakdown) {
	booking.DurationUnits = breakdown.DurationUnits
	booking.Subtotal = breakdown.Subtotal
	booking.OptionsPrice = breakdown.OptionsPrice
	booking.TotalAmount = breakdown.Total
}

func quoteCacheKey(catalogID int64, start time.Time, end *time.Time, options []string, discount float64) string {
	endPart := "open"
	if end != nil {
		endPart = end.UTC().Format(time.RFC3339)
	}

	sorted := append([]string(nil), options...)
	sort.Strings(sorted)

	return fmt.Sprintf("%d:%s:%s:%s:%.2f",
		catalogID, start.UTC().Format(time.RFC3339), endPart, strings.Join(sorted, ","), discount)
}

func (s *BookingService) publishEvent(eventType string, booking *models.Booking, refundAmount, refundPercent float64) {
	if s.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     booking.ID,
		Reference:     booking.Reference,
		UserID:        booking.UserID,
		CatalogID:     booking.CatalogID,
		CatalogName:   booking.CatalogName,
		CatalogKind:   booking.CatalogKind,
		Status:        booking.Status,
		StartDate:     booking.StartDate,
		EndDate:       booking.EndDate,
		TotalAmount:   booking.TotalAmount,
		RefundAmount:  refundAmount,
		RefundPercent: refundPercent,
		CancelReason:  booking.CancelReason,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", booking.ID).Msg("publish event error")
	}
}
