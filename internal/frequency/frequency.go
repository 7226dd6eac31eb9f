// Package frequency converts declared task recurrence into comparable
// hours and decides whether two schedules agree within tolerance.
package frequency

import (
	"math"

	"github.com/mailbradsimmscom/maintenance-agent-sub000/internal/model"
)

// Kind distinguishes the three outcomes of normalization.
type Kind int

const (
	// KindUnknown means the data is insufficient to compare. Two unknown
	// frequencies are never treated as equal.
	KindUnknown Kind = iota
	// KindHours is a real normalized interval in hours.
	KindHours
	// KindCondition is the sentinel for condition-based and
	// event-triggered tasks. It compares equal only to itself and is
	// distinct from both zero hours and missing data.
	KindCondition
)

// Normalized is a derived, recomputed-on-demand comparison value.
type Normalized struct {
	Kind  Kind
	Hours float64
	// Strict marks an unknown-basis schedule; a basis mismatch is itself
	// a yellow flag, so comparison tightens to 5%.
	Strict bool
}

// Unit conversion ratios to hours. Months use 30.4 days.
const (
	hoursPerDay   = 24
	hoursPerWeek  = 168
	hoursPerMonth = 730
	hoursPerYear  = 8760
)

var unitHours = map[model.FrequencyUnit]float64{
	model.UnitHours:  1,
	model.UnitDays:   hoursPerDay,
	model.UnitWeeks:  hoursPerWeek,
	model.UnitMonths: hoursPerMonth,
	model.UnitYears:  hoursPerYear,
}

// Normalize converts a task's declared recurrence into a Normalized
// value. Condition-based and event-triggered tasks map to the sentinel
// regardless of any declared value. Calendar and usage schedules convert
// through fixed ratios; unknown-basis schedules convert too but compare
// strictly. Anything else is unknown.
func Normalize(t model.Task) Normalized {
	switch t.FrequencyBasis {
	case model.BasisCondition, model.BasisEvent:
		return Normalized{Kind: KindCondition}
	case model.BasisCalendar, model.BasisUsage, model.BasisUnknown:
		if t.FrequencyUnit == model.UnitConditionBased {
			return Normalized{Kind: KindCondition}
		}
		if t.FrequencyValue == nil {
			return Normalized{Kind: KindUnknown}
		}
		ratio, ok := unitHours[t.FrequencyUnit]
		if !ok {
			// cycles and any unrecognized unit are not convertible
			return Normalized{Kind: KindUnknown}
		}
		return Normalized{
			Kind:   KindHours,
			Hours:  *t.FrequencyValue * ratio,
			Strict: t.FrequencyBasis == model.BasisUnknown,
		}
	default:
		return Normalized{Kind: KindUnknown}
	}
}

// Similar reports whether two normalized schedules agree.
//
//   - both condition sentinel: true
//   - either unknown: false (missing data is never evidence of a match)
//   - otherwise: relative difference within a magnitude-banded tolerance
func Similar(a, b Normalized) bool {
	if a.Kind == KindCondition && b.Kind == KindCondition {
		return true
	}
	if a.Kind != KindHours || b.Kind != KindHours {
		return false
	}
	tol := defaultTolerance(a, b)
	return SimilarHours(a.Hours, b.Hours, tol)
}

// SimilarHours compares two hour intervals with an explicit tolerance on
// the relative difference |a-b| / mean(a,b).
func SimilarHours(a, b, tolerance float64) bool {
	if a < 0 || b < 0 {
		return false
	}
	if a == b {
		return true
	}
	mean := (a + b) / 2
	if mean == 0 {
		return false
	}
	return math.Abs(a-b)/mean <= tolerance
}

// defaultTolerance bands the tolerance by interval magnitude: daily
// checks need tight agreement, while multi-year intervals differ by
// rounding between manuals. An unknown-basis side forces 5%.
func defaultTolerance(a, b Normalized) float64 {
	if a.Strict || b.Strict {
		return 0.05
	}
	mean := (a.Hours + b.Hours) / 2
	switch {
	case mean <= 100:
		return 0.10
	case mean <= 1000:
		return 0.15
	default:
		return 0.20
	}
}
