// Package measure provides fixed two-decimal-place value types for the
// physical dimensions and scores the berth planner reasons about: lengths,
// draft and tonnage in Meters/Tonnes, and the 0-100 compatibility Score.
// All three stay on shopspring/decimal throughout — unlike the teacher's
// Money type, which drops to float64 and by its own admission can produce
// incorrect results due to float precision, these never do.
package measure

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Meters is a length/draft/beam/air-draft value in meters.
type Meters struct {
	value decimal.Decimal
}

// Tonnes is a gross-tonnage or cargo-volume value.
type Tonnes struct {
	value decimal.Decimal
}

// Score is a 0-100 compatibility score, or a weighted sub-score of one.
type Score struct {
	value decimal.Decimal
}

func NewMeters(f float64) Meters { return Meters{value: decimal.NewFromFloat(f).Round(2)} }
func NewTonnes(f float64) Tonnes { return Tonnes{value: decimal.NewFromFloat(f).Round(2)} }
func NewScore(f float64) Score   { return Score{value: decimal.NewFromFloat(f).Round(2)} }

func ParseMeters(s string) (Meters, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Meters{}, fmt.Errorf("invalid meters: %w", err)
	}
	return Meters{value: d.Round(2)}, nil
}

// Meters arithmetic

func (m Meters) Add(o Meters) Meters { return Meters{value: m.value.Add(o.value).Round(2)} }
func (m Meters) Sub(o Meters) Meters { return Meters{value: m.value.Sub(o.value).Round(2)} }

// Margin computes (cap - dim) / cap, the same per-axis margin the scoring
// engine's physicalFit sub-score computes on plain floats.
func (m Meters) Margin(dim Meters) float64 {
	if m.value.IsZero() {
		return 0
	}
	f, _ := m.value.Sub(dim.value).Div(m.value).Float64()
	return f
}

func (m Meters) Cmp(o Meters) int    { return m.value.Cmp(o.value) }
func (m Meters) GTE(o Meters) bool   { return m.value.Cmp(o.value) >= 0 }
func (m Meters) LTE(o Meters) bool   { return m.value.Cmp(o.value) <= 0 }
func (m Meters) Float64() float64    { f, _ := m.value.Float64(); return f }
func (m Meters) String() string      { return m.value.StringFixed(2) }
func (m Meters) IsZero() bool        { return m.value.IsZero() }

// Tonnes arithmetic

func (t Tonnes) Add(o Tonnes) Tonnes { return Tonnes{value: t.value.Add(o.value).Round(2)} }
func (t Tonnes) Cmp(o Tonnes) int    { return t.value.Cmp(o.value) }
func (t Tonnes) GTE(o Tonnes) bool   { return t.value.Cmp(o.value) >= 0 }
func (t Tonnes) Float64() float64    { f, _ := t.value.Float64(); return f }
func (t Tonnes) String() string      { return t.value.StringFixed(2) }

// Score arithmetic

func (s Score) Add(o Score) Score { return Score{value: s.value.Add(o.value).Round(2)} }
func (s Score) Mul(weight float64) Score {
	return Score{value: s.value.Mul(decimal.NewFromFloat(weight)).Round(2)}
}
func (s Score) Cmp(o Score) int   { return s.value.Cmp(o.value) }
func (s Score) Float64() float64  { f, _ := s.value.Float64(); return f }
func (s Score) String() string    { return s.value.StringFixed(2) }

// WithinTolerance reports whether two scores differ by no more than delta —
// with delta 0.5, the same rule as the suggestion ranker's "equal
// totalScore within 0.5" tie check (scoring.WithinTieTolerance).
func (s Score) WithinTolerance(o Score, delta float64) bool {
	diff := s.value.Sub(o.value).Abs()
	return diff.LessThanOrEqual(decimal.NewFromFloat(delta))
}

// Clamp01To100 clamps a raw float into the valid [0,100] score range.
func Clamp01To100(f float64) Score {
	if f < 0 {
		f = 0
	}
	if f > 100 {
		f = 100
	}
	return NewScore(f)
}
