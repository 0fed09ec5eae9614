package models

import "time"

type CatalogItem struct {
	ID            int64     `yaml:"id" json:"id"`
	Name          string    `yaml:"name" json:"name"`
	Kind          string    `yaml:"kind" json:"kind"`
	Description   string    `yaml:"description" json:"description,omitempty"`
	DailyRate     float64   `yaml:"daily_rate" json:"daily_rate"`
	Deposit       float64   `yaml:"deposit" json:"deposit,omitempty"`
	TotalQuantity int64     `yaml:"total_quantity" json:"total_quantity"`
	SortOrder     int64     `yaml:"sort_order" json:"sort_order"`
	IsActive      bool      `yaml:"is_active" json:"is_active"`
	CreatedAt     time.Time `yaml:"created_at" json:"created_at"`
	UpdatedAt     time.Time `yaml:"updated_at" json:"updated_at"`
}
