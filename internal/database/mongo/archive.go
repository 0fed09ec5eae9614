package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"locamove/internal/models"
)

const ColArchive = "booking_archive"

var ErrNotFound = errors.New("archived booking not found")

// BookingArchive keeps finished bookings in mongo for long-term reporting.
// The sqlite store stays authoritative; the archive is written once a
// booking reaches a terminal status.
type BookingArchive struct {
	coll      *mongodrv.Collection
	opTimeout time.Duration
}

type bookingDoc struct {
	Reference     string     `bson:"_id"`
	BookingID     int64      `bson:"booking_id"`
	UserID        int64      `bson:"user_id"`
	UserName      string     `bson:"user_name"`
	Phone         string     `bson:"phone"`
	CatalogID     int64      `bson:"catalog_id"`
	CatalogName   string     `bson:"catalog_name"`
	CatalogKind   string     `bson:"catalog_kind"`
	StartDate     time.Time  `bson:"start_date"`
	EndDate       *time.Time `bson:"end_date,omitempty"`
	BaseRate      float64    `bson:"base_rate"`
	Options       []string   `bson:"options,omitempty"`
	Discount      float64    `bson:"discount"`
	DurationUnits int64      `bson:"duration_units"`
	Subtotal      float64    `bson:"subtotal"`
	OptionsPrice  float64    `bson:"options_price"`
	TotalAmount   float64    `bson:"total_amount"`
	Status        string     `bson:"status"`
	CancelledAt   *time.Time `bson:"cancelled_at,omitempty"`
	CancelReason  string     `bson:"cancel_reason,omitempty"`
	RefundAmount  float64    `bson:"refund_amount"`
	Comment       string     `bson:"comment,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	ArchivedAt    time.Time  `bson:"archived_at"`
}

func NewBookingArchive(db *mongodrv.Database, opTimeout time.Duration) *BookingArchive {
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &BookingArchive{
		coll:      db.Collection(ColArchive),
		opTimeout: opTimeout,
	}
}

// Archive upserts the booking by reference, so replayed events stay idempotent.
func (a *BookingArchive) Archive(ctx context.Context, booking *models.Booking) error {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	doc := toBookingDoc(booking)
	filter := bson.M{"_id": doc.Reference}
	update := bson.M{"$set": doc}

	_, err := a.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("archive.upsert: %w", err)
	}
	return nil
}

func (a *BookingArchive) Get(ctx context.Context, reference string) (*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	var doc bookingDoc
	err := a.coll.FindOne(ctx, bson.M{"_id": reference}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongodrv.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("archive.findOne: %w", err)
	}
	return fromBookingDoc(doc), nil
}

func (a *BookingArchive) ListByUser(ctx context.Context, userID int64) ([]*models.Booking, error) {
	ctx, cancel := context.WithTimeout(ctx, a.opTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.M{"start_date": -1})
	cursor, err := a.coll.Find(ctx, bson.M{"user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("archive.find: %w", err)
	}
	defer cursor.Close(ctx)

	var bookings []*models.Booking
	for cursor.Next(ctx) {
		var doc bookingDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("archive.decode: %w", err)
		}
		bookings = append(bookings, fromBookingDoc(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("archive.cursor: %w", err)
	}
	return bookings, nil
}

func toBookingDoc(b *models.Booking) bookingDoc {
	return bookingDoc{
		Reference:     b.Reference,
		BookingID:     b.ID,
		UserID:        b.UserID,
		UserName:      b.UserName,
		Phone:         b.Phone,
		CatalogID:     b.CatalogID,
		CatalogName:   b.CatalogName,
		CatalogKind:   b.CatalogKind,
		StartDate:     b.StartDate,
		EndDate:       b.EndDate,
		BaseRate:      b.BaseRate,
		Options:       b.Options,
		Discount:      b.Discount,
		DurationUnits: b.DurationUnits,
		Subtotal:      b.Subtotal,
		OptionsPrice:  b.OptionsPrice,
		TotalAmount:   b.TotalAmount,
		Status:        b.Status,
		CancelledAt:   b.CancelledAt,
		CancelReason:  b.CancelReason,
		RefundAmount:  b.RefundAmount,
		Comment:       b.Comment,
		CreatedAt:     b.CreatedAt,
		ArchivedAt:    time.Now().UTC(),
	}
}

func fromBookingDoc(d bookingDoc) *models.Booking {
	return &models.Booking{
		ID:            d.BookingID,
		Reference:     d.Reference,
		UserID:        d.UserID,
		UserName:      d.UserName,
		Phone:         d.Phone,
		CatalogID:     d.CatalogID,
		CatalogName:   d.CatalogName,
		CatalogKind:   d.CatalogKind,
		StartDate:     d.StartDate,
		EndDate:       d.EndDate,
		BaseRate:      d.BaseRate,
		Options:       d.Options,
		Discount:      d.Discount,
		DurationUnits: d.DurationUnits,
		Subtotal:      d.Subtotal,
		OptionsPrice:  d.OptionsPrice,
		TotalAmount:   d.TotalAmount,
		Status:        d.Status,
		CancelledAt:   d.CancelledAt,
		CancelReason:  d.CancelReason,
		RefundAmount:  d.RefundAmount,
		Comment:       d.Comment,
		CreatedAt:     d.CreatedAt,
	}
}
