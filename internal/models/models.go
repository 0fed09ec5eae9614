package models

import "time"

// Quote is a cached price preview. It mirrors the derived booking pricing
// without being attached to a persisted booking.
type Quote struct {
	Key           string    `json:"key"`
	CatalogKind   string    `json:"catalog_kind"`
	DurationUnits int64     `json:"duration_units"`
	Subtotal      float64   `json:"subtotal"`
	OptionsPrice  float64   `json:"options_price"`
	Discount      float64   `json:"discount"`
	TotalAmount   float64   `json:"total_amount"`
	ComputedAt    time.Time `json:"computed_at"`
}

type Availability struct {
	Date      time.Time `json:"date"`
	CatalogID int64     `json:"catalog_id"`
	Booked    int64     `json:"booked"`
	Available int64     `json:"available"`
}
