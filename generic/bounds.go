package generic

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BOUNDS - Optional inclusive ranges used by matching criteria
// =============================================================================

// IntRange is an inclusive range where a nil bound means unbounded.
// A bound of zero is a real constraint, not "unset".
type IntRange struct {
	Min *int
	Max *int
}

// Contains reports whether v lies within the range.
func (r IntRange) Contains(v int) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v > *r.Max {
		return false
	}
	return true
}

// Validate rejects ranges whose minimum exceeds their maximum.
func (r IntRange) Validate() error {
	if r.Min != nil && r.Max != nil && *r.Min > *r.Max {
		return fmt.Errorf("min %d greater than max %d", *r.Min, *r.Max)
	}
	return nil
}

// DecimalRange is IntRange for money.
type DecimalRange struct {
	Min *decimal.Decimal
	Max *decimal.Decimal
}

func (r DecimalRange) Contains(v decimal.Decimal) bool {
	if r.Min != nil && v.LessThan(*r.Min) {
		return false
	}
	if r.Max != nil && v.GreaterThan(*r.Max) {
		return false
	}
	return true
}

func (r DecimalRange) Validate() error {
	if r.Min != nil && r.Max != nil && r.Min.GreaterThan(*r.Max) {
		return fmt.Errorf("min %s greater than max %s", r.Min.String(), r.Max.String())
	}
	return nil
}

// Matches reports whether want is unset or equal to got.
func Matches[T comparable](want *T, got T) bool {
	return want == nil || *want == got
}

// IntPtr and DecimalPtr build optional bounds inline.
func IntPtr(v int) *int { return &v }

func DecimalPtr(v decimal.Decimal) *decimal.Decimal { return &v }
