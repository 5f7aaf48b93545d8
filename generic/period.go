package generic

import (
	"math"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PERIOD - A closed range of calendar days
// =============================================================================

// Period is the closed range [Start, End]. A zero End means open-ended.
//
// Examples:
//   - Course run: 2025-01-06 to 2025-12-19
//   - Rule validity window: 2025-01-01 to (open)
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if the day is within [Start, End].
// Zero bounds are unbounded on that side.
func (p Period) Contains(d Date) bool {
	if !p.Start.IsZero() && d.Before(p.Start) {
		return false
	}
	if !p.End.IsZero() && d.After(p.End) {
		return false
	}
	return true
}

// Ended reports whether the period has a finite end strictly before asOf.
func (p Period) Ended(asOf Date) bool {
	return !p.End.IsZero() && p.End.Before(asOf)
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// BILLING CYCLE - How often a course fee is charged
// =============================================================================

type BillingCycle string

const (
	CycleMonthly    BillingCycle = "monthly"
	CycleQuarterly  BillingCycle = "quarterly"
	CycleBiannually BillingCycle = "biannually"
	CycleYearly     BillingCycle = "yearly"
)

// Valid reports whether c is a known billing cycle.
func (c BillingCycle) Valid() bool {
	return c.Months() > 0
}

// Months is the cycle length in calendar months.
func (c BillingCycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleBiannually:
		return 6
	case CycleYearly:
		return 12
	default:
		return 0
	}
}

// DueInDays is the fixed number of days after billing that a charge falls due.
// These are day counts, not calendar months.
func (c BillingCycle) DueInDays() int {
	switch c {
	case CycleMonthly:
		return 30
	case CycleQuarterly:
		return 90
	case CycleBiannually:
		return 180
	case CycleYearly:
		return 365
	default:
		return 30
	}
}

// DueDate returns the due date of a charge billed on the given day.
func (c BillingCycle) DueDate(billed Date) Date {
	return billed.AddDays(c.DueInDays())
}

// =============================================================================
// BILLING SCHEDULE - Projections over a course run
// =============================================================================

// DurationMonths approximates the length of a period in 30-day months,
// rounding up. Open-ended or inverted periods have no duration.
func (p Period) DurationMonths() int {
	if p.Start.IsZero() || p.End.IsZero() {
		return 0
	}
	days := DaysBetween(p.Start, p.End)
	if days <= 0 {
		return 0
	}
	return int(math.Ceil(float64(days) / 30))
}

// CyclesIn returns how many billing cycles are needed to cover the period.
func (c BillingCycle) CyclesIn(p Period) int {
	months := p.DurationMonths()
	if months == 0 || c.Months() == 0 {
		return 0
	}
	return (months + c.Months() - 1) / c.Months()
}

// ProjectedTotal is the fee per cycle multiplied by the cycles in the period.
// Returns zero when the period is open-ended.
func (c BillingCycle) ProjectedTotal(fee decimal.Decimal, p Period) decimal.Decimal {
	return fee.Mul(decimal.NewFromInt(int64(c.CyclesIn(p))))
}

// NextPaymentDate advances the anchor by whole cycles until it is strictly
// after asOf. An anchor already in the future is returned unchanged.
func (c BillingCycle) NextPaymentDate(anchor, asOf Date) Date {
	months := c.Months()
	if months == 0 || anchor.IsZero() {
		return anchor
	}
	next := anchor
	for n := 1; !next.After(asOf); n++ {
		// Always step from the anchor so month-end days don't drift.
		next = anchor.AddMonths(n * months)
	}
	return next
}
