package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRuleSet(t *testing.T) *RuleSet {
	t.Helper()
	rs, err := NewRuleSet(DefaultRules())
	require.NoError(t, err)
	return rs
}

func datePtr(t time.Time) *time.Time { return &t }

func TestDurationUnits(t *testing.T) {
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("WholeDays", func(t *testing.T) {
		units, err := DurationUnits(start, datePtr(start.Add(72*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, int64(3), units)
	})

	t.Run("PartialDayRoundsUp", func(t *testing.T) {
		units, err := DurationUnits(start, datePtr(start.Add(73*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, int64(4), units)
	})

	t.Run("ShortPeriodBillsOneUnit", func(t *testing.T) {
		units, err := DurationUnits(start, datePtr(start.Add(2*time.Hour)))
		require.NoError(t, err)
		assert.Equal(t, int64(1), units)
	})

	t.Run("NilEndIsSingleVisit", func(t *testing.T) {
		units, err := DurationUnits(start, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(1), units)
	})

	t.Run("EndBeforeStart", func(t *testing.T) {
		_, err := DurationUnits(start, datePtr(start.Add(-time.Hour)))
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	})

	t.Run("EndEqualsStart", func(t *testing.T) {
		_, err := DurationUnits(start, datePtr(start))
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	})
}

func TestCompute_Vehicle(t *testing.T) {
	rs := mustRuleSet(t)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	end := datePtr(start.Add(72 * time.Hour))

	t.Run("PerUnitOptionsScaleWithDuration", func(t *testing.T) {
		b, err := rs.Compute("vehicle", start, end, 100, []string{"insurance", "gps"}, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(3), b.DurationUnits)
		assert.Equal(t, 300.0, b.Subtotal)
		assert.Equal(t, 69.0, b.OptionsPrice) // (15 + 8) x 3
		assert.Equal(t, 369.0, b.Total)
	})

	t.Run("FixedOptionAppliesOnce", func(t *testing.T) {
		b, err := rs.Compute("vehicle", start, end, 100, []string{"child_seat"}, 0)
		require.NoError(t, err)
		assert.Equal(t, 25.0, b.OptionsPrice)
		assert.Equal(t, 325.0, b.Total)
	})

	t.Run("DuplicateOptionsCountOnce", func(t *testing.T) {
		b, err := rs.Compute("vehicle", start, end, 100, []string{"gps", "gps", "gps"}, 0)
		require.NoError(t, err)
		assert.Equal(t, 24.0, b.OptionsPrice)
	})

	t.Run("DiscountSubtractedWithoutClamp", func(t *testing.T) {
		b, err := rs.Compute("vehicle", start, end, 100, nil, 500)
		require.NoError(t, err)
		assert.Equal(t, -200.0, b.Total)
	})
}

func TestCompute_Moving(t *testing.T) {
	rs := mustRuleSet(t)
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	end := datePtr(start.Add(48 * time.Hour))

	// Moving surcharges are flat fees regardless of duration.
	b, err := rs.Compute("moving", start, end, 250, []string{"packing", "unpacking", "insurance"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.DurationUnits)
	assert.Equal(t, 500.0, b.Subtotal)
	assert.Equal(t, 400.0, b.OptionsPrice) // 200 + 150 + 50
	assert.Equal(t, 900.0, b.Total)
}

func TestCompute_Equipment_SingleVisit(t *testing.T) {
	rs := mustRuleSet(t)
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

	b, err := rs.Compute("equipment", start, nil, 60, []string{"delivery", "setup"}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.DurationUnits)
	assert.Equal(t, 60.0, b.Subtotal)
	assert.Equal(t, 90.0, b.OptionsPrice)
	assert.Equal(t, 150.0, b.Total)
}

func TestCompute_UnknownOptionAborts(t *testing.T) {
	rs := mustRuleSet(t)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	end := datePtr(start.Add(24 * time.Hour))

	b, err := rs.Compute("vehicle", start, end, 100, []string{"insurance", "jetpack"}, 0)
	assert.ErrorIs(t, err, ErrUnknownOption)
	assert.Equal(t, Breakdown{}, b)
}

func TestCompute_UnknownCatalogKind(t *testing.T) {
	rs := mustRuleSet(t)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

	_, err := rs.Compute("spaceship", start, nil, 100, nil, 0)
	assert.ErrorIs(t, err, ErrUnknownCatalogKind)
}

func TestCompute_Idempotent(t *testing.T) {
	rs := mustRuleSet(t)
	start := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	end := datePtr(start.Add(120 * time.Hour))

	first, err := rs.Compute("vehicle", start, end, 80, []string{"insurance", "unlimited_mileage"}, 40)
	require.NoError(t, err)
	second, err := rs.Compute("vehicle", start, end, 80, []string{"insurance", "unlimited_mileage"}, 40)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestNewRuleSet_Validation(t *testing.T) {
	t.Run("DuplicateKindRejected", func(t *testing.T) {
		_, err := NewRuleSet(map[string][]OptionRule{
			"vehicle": {
				{Kind: "insurance", Mode: PerUnit, Amount: 15},
				{Kind: "insurance", Mode: Fixed, Amount: 15},
			},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate option kind")
	})

	t.Run("EmptyKindRejected", func(t *testing.T) {
		_, err := NewRuleSet(map[string][]OptionRule{
			"vehicle": {{Mode: Fixed, Amount: 10}},
		})
		assert.Error(t, err)
	})

	t.Run("InvalidModeRejected", func(t *testing.T) {
		_, err := NewRuleSet(map[string][]OptionRule{
			"vehicle": {{Kind: "insurance", Mode: "hourly", Amount: 10}},
		})
		assert.Error(t, err)
	})

	t.Run("EmptyModeDefaultsToFixed", func(t *testing.T) {
		rs, err := NewRuleSet(map[string][]OptionRule{
			"vehicle": {{Kind: "insurance", Amount: 10}},
		})
		require.NoError(t, err)
		table, err := rs.Table("vehicle")
		require.NoError(t, err)
		assert.Equal(t, Fixed, table["insurance"].Mode)
	})
}
