package pricing

import (
	"errors"
	"fmt"
	"time"
)

// ErrUnknownCatalogKind is returned when no rule table exists for a catalog kind.
var ErrUnknownCatalogKind = errors.New("unknown catalog kind")

// OptionRule is the config-file shape of one surcharge rule.
type OptionRule struct {
	Kind   string  `yaml:"kind"`
	Mode   string  `yaml:"mode"`
	Amount float64 `yaml:"amount"`
}

// RuleSet holds one rule table per catalog kind.
type RuleSet struct {
	tables map[string]RuleTable
}

// NewRuleSet builds rule tables from config. A kind listed twice within one
// catalog kind is rejected outright instead of being summed twice at compute
// time, so a copy-paste in the rate card fails the boot instead of the invoice.
func NewRuleSet(rules map[string][]OptionRule) (*RuleSet, error) {
	tables := make(map[string]RuleTable, len(rules))
	for catalogKind, list := range rules {
		table := make(RuleTable, len(list))
		for _, r := range list {
			if r.Kind == "" {
				return nil, fmt.Errorf("catalog kind %s: option rule with empty kind", catalogKind)
			}
			if _, dup := table[r.Kind]; dup {
				return nil, fmt.Errorf("catalog kind %s: duplicate option kind %s", catalogKind, r.Kind)
			}
			mode := r.Mode
			if mode == "" {
				mode = Fixed
			}
			if mode != PerUnit && mode != Fixed {
				return nil, fmt.Errorf("catalog kind %s: option %s: invalid mode %s", catalogKind, r.Kind, r.Mode)
			}
			table[r.Kind] = SurchargeRule{Mode: mode, Amount: r.Amount}
		}
		tables[catalogKind] = table
	}
	return &RuleSet{tables: tables}, nil
}

// Table returns the rule table for a catalog kind.
func (s *RuleSet) Table(catalogKind string) (RuleTable, error) {
	table, ok := s.tables[catalogKind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCatalogKind, catalogKind)
	}
	return table, nil
}

// Compute resolves the table for the catalog kind and prices the period.
func (s *RuleSet) Compute(catalogKind string, start time.Time, end *time.Time, baseRate float64, options []string, discount float64) (Breakdown, error) {
	table, err := s.Table(catalogKind)
	if err != nil {
		return Breakdown{}, err
	}
	return Compute(start, end, baseRate, options, discount, table)
}

// DefaultRuleSet builds the rule tables for the built-in rate card. The card
// is static and known-good, so a build failure is a programming error.
func DefaultRuleSet() *RuleSet {
	rs, err := NewRuleSet(DefaultRules())
	if err != nil {
		panic(err)
	}
	return rs
}

// DefaultRules returns the production rate card used when the config does not
// override surcharges.
func DefaultRules() map[string][]OptionRule {
	return map[string][]OptionRule{
		"vehicle": {
			{Kind: "insurance", Mode: PerUnit, Amount: 15},
			{Kind: "gps", Mode: PerUnit, Amount: 8},
			{Kind: "additional_driver", Mode: PerUnit, Amount: 10},
			{Kind: "unlimited_mileage", Mode: PerUnit, Amount: 12},
			{Kind: "child_seat", Mode: Fixed, Amount: 25},
		},
		"moving": {
			{Kind: "insurance", Mode: Fixed, Amount: 50},
			{Kind: "packing", Mode: Fixed, Amount: 200},
			{Kind: "unpacking", Mode: Fixed, Amount: 150},
			{Kind: "furniture", Mode: Fixed, Amount: 100},
			{Kind: "delivery", Mode: Fixed, Amount: 80},
			{Kind: "setup", Mode: Fixed, Amount: 120},
			{Kind: "moving_kit", Mode: Fixed, Amount: 75},
		},
		"equipment": {
			{Kind: "delivery", Mode: Fixed, Amount: 50},
			{Kind: "pickup", Mode: Fixed, Amount: 50},
			{Kind: "setup", Mode: Fixed, Amount: 40},
			{Kind: "packing", Mode: Fixed, Amount: 200},
			{Kind: "unpacking", Mode: Fixed, Amount: 150},
			{Kind: "furniture", Mode: Fixed, Amount: 100},
		},
	}
}
