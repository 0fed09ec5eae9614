package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrUnknownOption is returned when an option kind has no surcharge rule
	// in the table for the booking's catalog kind.
	ErrUnknownOption = errors.New("unknown option kind")

	// ErrInvalidPeriod is returned when the rental period ends before it starts.
	ErrInvalidPeriod = errors.New("end date must be after start date")
)

// Surcharge modes. PerUnit multiplies by duration units, Fixed applies once.
const (
	PerUnit = "per_unit"
	Fixed   = "fixed"
)

// SurchargeRule prices a single option kind.
type SurchargeRule struct {
	Mode   string  `yaml:"mode" json:"mode"`
	Amount float64 `yaml:"amount" json:"amount"`
}

// RuleTable maps option kinds to their surcharge rules for one catalog kind.
type RuleTable map[string]SurchargeRule

// Breakdown is the full derived pricing of a booking. Callers overwrite the
// stored pricing wholesale with it; fields are never patched individually.
type Breakdown struct {
	DurationUnits int64   `json:"duration_units"`
	Subtotal      float64 `json:"subtotal"`
	OptionsPrice  float64 `json:"options_price"`
	Discount      float64 `json:"discount"`
	Total         float64 `json:"total"`
}

// DurationUnits returns the number of billable units for a period.
// A unit is a started 24-hour span; partial units round up. A nil end date
// means a single-visit order and bills one unit.
func DurationUnits(start time.Time, end *time.Time) (int64, error) {
	if end == nil {
		return 1, nil
	}
	if !end.After(start) {
		return 0, ErrInvalidPeriod
	}

	units := int64(math.Ceil(end.Sub(start).Hours() / 24))
	if units < 1 {
		units = 1
	}
	return units, nil
}

// Compute derives the complete price breakdown for a period.
//
// Option kinds are treated as a set: duplicates in the input count once.
// An option kind absent from the table aborts the whole computation with
// ErrUnknownOption; no partial breakdown is returned.
//
// The total is not clamped at zero. A discount larger than the charges
// yields a negative total, which the caller surfaces as-is.
func Compute(start time.Time, end *time.Time, baseRate float64, options []string, discount float64, table RuleTable) (Breakdown, error) {
	units, err := DurationUnits(start, end)
	if err != nil {
		return Breakdown{}, err
	}

	subtotal := baseRate * float64(units)

	seen := make(map[string]bool, len(options))
	var optionsPrice float64
	for _, kind := range options {
		if seen[kind] {
			continue
		}
		seen[kind] = true

		rule, ok := table[kind]
		if !ok {
			return Breakdown{}, fmt.Errorf("%w: %s", ErrUnknownOption, kind)
		}

		switch rule.Mode {
		case PerUnit:
			optionsPrice += rule.Amount * float64(units)
		default:
			optionsPrice += rule.Amount
		}
	}

	return Breakdown{
		DurationUnits: units,
		Subtotal:      subtotal,
		OptionsPrice:  optionsPrice,
		Discount:      discount,
		Total:         subtotal + optionsPrice - discount,
	}, nil
}
