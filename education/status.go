package education

import (
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// PAYMENT STATUS - Derived on every read, never stored
// =============================================================================

type PaymentStatus string

const (
	// PaymentScheduled: everything billed so far is paid, more charges are expected.
	PaymentScheduled PaymentStatus = "scheduled"
	// PaymentOutstanding: at least one charge still needs paying.
	PaymentOutstanding PaymentStatus = "outstanding"
	// PaymentFullyPaid: nothing more will be billed for the course.
	PaymentFullyPaid PaymentStatus = "fully_paid"
)

// DerivePaymentStatus summarizes the charges of one enrollment.
//
//   - any unpaid charge                     -> outstanding
//   - no charges yet                        -> scheduled
//   - all paid and the course run has ended -> fully_paid
//   - all paid and the amount paid reaches the projected total fee
//     for the course run                    -> fully_paid
//   - otherwise                             -> scheduled
//
// The projected total is only known for courses with both run dates; a
// course without an end date stays scheduled until it gets one.
func DerivePaymentStatus(charges []CourseCharge, course Course, asOf generic.Date) PaymentStatus {
	if len(charges) == 0 {
		return PaymentScheduled
	}
	paid := decimal.Zero
	for _, c := range charges {
		if c.Status != ChargePaid {
			return PaymentOutstanding
		}
		paid = paid.Add(c.AmountPaid)
	}

	if course.Run().Ended(asOf) {
		return PaymentFullyPaid
	}
	projected := ProjectedTotalFee(course)
	if projected.IsPositive() && paid.GreaterThanOrEqual(projected) {
		return PaymentFullyPaid
	}
	return PaymentScheduled
}

// ProjectedTotalFee is the fee for every billing cycle of the course run.
func ProjectedTotalFee(course Course) decimal.Decimal {
	return course.BillingCycle.ProjectedTotal(course.Fee, course.Run())
}
