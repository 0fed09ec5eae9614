package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"locamove/internal/models"
)

const bookingColumns = `id, reference, user_id, user_name, phone, catalog_id, catalog_name,
                 catalog_kind, start_date, end_date, base_rate, options, discount,
                 duration_units, subtotal, options_price, total_amount, status,
                 cancelled_at, cancel_reason, refund_amount, comment, created_at,
                 updated_at, version`

// effectiveEnd возвращает конец периода: для заказов без даты окончания
// считаем одни сутки от начала
func effectiveEnd(start time.Time, end *time.Time) time.Time {
	if end != nil {
		return *end
	}
	return start.Add(24 * time.Hour)
}

func (db *DB) CheckAvailability(ctx context.Context, catalogID int64, start time.Time, end *time.Time) (bool, error) {
	bookedCount, err := db.GetBookedCount(ctx, catalogID, start, end)
	if err != nil {
		return false, fmt.Errorf("failed to check availability: %w", err)
	}

	item, ok := db.GetCatalogItem(catalogID)
	if !ok {
		return false, fmt.Errorf("catalog item not found in cache: %d", catalogID)
	}

	return bookedCount < int(item.TotalQuantity), nil
}

// GetBookedCount считает брони, пересекающиеся с запрошенным периодом
func (db *DB) GetBookedCount(ctx context.Context, catalogID int64, start time.Time, end *time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM bookings
              WHERE catalog_id = ? AND status NOT IN (?, ?)
              AND start_date < ? AND COALESCE(end_date, datetime(start_date, '+1 day')) > ?`
	var count int
	err := db.QueryRowContext(ctx, query, catalogID,
		models.StatusCancelled, models.StatusRejected,
		effectiveEnd(start, end), start).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get booked count: %w", err)
	}
	return count, nil
}

// CreateBookingWithLock создает бронь с проверкой доступности внутри транзакции
func (db *DB) CreateBookingWithLock(ctx context.Context, booking *models.Booking) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// 1. Check availability inside transaction
	var bookedCount int
	queryCount := `SELECT COUNT(*) FROM bookings
                   WHERE catalog_id = ? AND status NOT IN (?, ?)
                   AND start_date < ? AND COALESCE(end_date, datetime(start_date, '+1 day')) > ?`
	err = tx.QueryRowContext(ctx, queryCount, booking.CatalogID,
		models.StatusCancelled, models.StatusRejected,
		effectiveEnd(booking.StartDate, booking.EndDate), booking.StartDate).Scan(&bookedCount)
	if err != nil {
		return fmt.Errorf("failed to check availability in tx: %w", err)
	}

	item, ok := db.GetCatalogItem(booking.CatalogID)
	if !ok {
		return fmt.Errorf("catalog item not found in cache: %d", booking.CatalogID)
	}

	if bookedCount >= int(item.TotalQuantity) {
		return ErrNotAvailable
	}

	// 2. Create booking
	optionsJSON, err := json.Marshal(booking.Options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}

	queryInsert := `INSERT INTO bookings (
				reference, user_id, user_name, phone, catalog_id, catalog_name, catalog_kind,
				start_date, end_date, base_rate, options, discount,
				duration_units, subtotal, options_price, total_amount,
				status, refund_amount, comment, created_at, updated_at, version
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := tx.ExecContext(ctx, queryInsert,
		booking.Reference,
		booking.UserID,
		booking.UserName,
		booking.Phone,
		booking.CatalogID,
		booking.CatalogName,
		booking.CatalogKind,
		booking.StartDate,
		nullTime(booking.EndDate),
		booking.BaseRate,
		string(optionsJSON),
		booking.Discount,
		booking.DurationUnits,
		booking.Subtotal,
		booking.OptionsPrice,
		booking.TotalAmount,
		booking.Status,
		booking.RefundAmount,
		booking.Comment,
		now,
		now,
		1,
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking in tx: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id in tx: %w", err)
	}
	booking.ID = id
	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1

	return tx.Commit()
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (db *DB) GetBookingByReference(ctx context.Context, reference string) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE reference = ?`
	booking, err := scanBooking(db.QueryRowContext(ctx, query, reference))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking by reference: %w", err)
	}
	return booking, nil
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query, status, time.Now(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

// UpdateBookingPricingWithVersion записывает входы и производные цены брони
// целиком, с контролем версии
func (db *DB) UpdateBookingPricingWithVersion(ctx context.Context, booking *models.Booking, fromVersion int64) error {
	optionsJSON, err := json.Marshal(booking.Options)
	if err != nil {
		return fmt.Errorf("failed to encode options: %w", err)
	}

	query := `UPDATE bookings SET
				start_date = ?, end_date = ?, options = ?, discount = ?,
				duration_units = ?, subtotal = ?, options_price = ?, total_amount = ?,
				version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query,
		booking.StartDate,
		nullTime(booking.EndDate),
		string(optionsJSON),
		booking.Discount,
		booking.DurationUnits,
		booking.Subtotal,
		booking.OptionsPrice,
		booking.TotalAmount,
		time.Now(),
		booking.ID,
		fromVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update booking pricing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	booking.Version = fromVersion + 1
	return nil
}

// CancelBookingWithVersion переводит бронь в cancelled и фиксирует возврат
func (db *DB) CancelBookingWithVersion(ctx context.Context, id, fromVersion int64, cancelledAt time.Time, reason string, refundAmount float64) error {
	query := `UPDATE bookings SET
				status = ?, cancelled_at = ?, cancel_reason = ?, refund_amount = ?,
				version = version + 1, updated_at = ?
			  WHERE id = ? AND version = ?`
	result, err := db.ExecContext(ctx, query,
		models.StatusCancelled, cancelledAt, reason, refundAmount, time.Now(), id, fromVersion)
	if err != nil {
		return fmt.Errorf("failed to cancel booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (db *DB) GetBookingsByDateRange(ctx context.Context, startDate, endDate time.Time) ([]*models.Booking, error) {
	query := `SELECT ` + bookingColumns + `
              FROM bookings WHERE start_date >= ? AND start_date <= ? ORDER BY start_date ASC`
	rows, err := db.QueryContext(ctx, query, startDate, endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to get bookings by date range: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

func (db *DB) GetUserBookings(ctx context.Context, userID int64) ([]*models.Booking, error) {
	// Get bookings for the last 2 weeks and future ones
	twoWeeksAgo := time.Now().AddDate(0, 0, -14)
	query := `SELECT ` + bookingColumns + `
              FROM bookings WHERE user_id = ? AND start_date >= ? ORDER BY start_date DESC`
	rows, err := db.QueryContext(ctx, query, userID, twoWeeksAgo)
	if err != nil {
		return nil, fmt.Errorf("failed to get user bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.Booking, error) {
	b := &models.Booking{}
	var (
		endDate      sql.NullTime
		cancelledAt  sql.NullTime
		cancelReason sql.NullString
		comment      sql.NullString
		optionsJSON  string
	)
	err := row.Scan(
		&b.ID, &b.Reference, &b.UserID, &b.UserName, &b.Phone,
		&b.CatalogID, &b.CatalogName, &b.CatalogKind,
		&b.StartDate, &endDate, &b.BaseRate, &optionsJSON, &b.Discount,
		&b.DurationUnits, &b.Subtotal, &b.OptionsPrice, &b.TotalAmount,
		&b.Status, &cancelledAt, &cancelReason, &b.RefundAmount,
		&comment, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}

	if endDate.Valid {
		t := endDate.Time
		b.EndDate = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	b.CancelReason = cancelReason.String
	b.Comment = comment.String

	if err := json.Unmarshal([]byte(optionsJSON), &b.Options); err != nil {
		return nil, fmt.Errorf("failed to decode options %q: %w", optionsJSON, err)
	}
	return b, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
