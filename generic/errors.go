/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - rejected before any mutation happens
  2. Not-found errors  - a referenced document does not exist
  3. Partial failures  - a multi-step operation stopped midway (see ExecutionError)
  4. Store errors      - backend failures, passed through wrapped

USAGE:
  if errors.Is(err, generic.ErrInsufficientBalance) {
      // show the shortfall to the account holder
  }

  var short *generic.InsufficientBalanceError
  if errors.As(err, &short) {
      log.Info().Str("shortfall", short.Shortfall().String()).Msg("payment rejected")
  }

SEE ALSO:
  - api/handlers.go: maps these errors to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by stores when a document id does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrAccountNotFound is returned when a referenced account holder doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCourseNotFound is returned when a referenced course doesn't exist.
	ErrCourseNotFound = errors.New("course not found")

	// ErrChargeNotFound is returned when a referenced course charge doesn't exist.
	ErrChargeNotFound = errors.New("course charge not found")

	// ErrRuleNotFound is returned when a referenced top-up rule doesn't exist.
	ErrRuleNotFound = errors.New("top-up rule not found")

	// ErrScheduleNotFound is returned when a referenced top-up schedule doesn't exist.
	ErrScheduleNotFound = errors.New("top-up schedule not found")

	// ErrInsufficientBalance is returned when a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for negative, zero or malformed amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrMissingPaymentMethod is returned when external money is used without a method.
	ErrMissingPaymentMethod = errors.New("external payment method required")

	// ErrInvalidPaymentMethod is returned for an external method outside the allowed set.
	ErrInvalidPaymentMethod = errors.New("invalid external payment method")

	// ErrUnderpayment is returned when the payment split does not cover the amount due.
	ErrUnderpayment = errors.New("payment does not cover amount due")

	// ErrChargeAlreadyPaid is returned when paying a charge that is already settled.
	ErrChargeAlreadyPaid = errors.New("course charge already paid")

	// ErrNothingToPay is returned by pay-all when the account has no unpaid charges.
	ErrNothingToPay = errors.New("no unpaid charges")

	// ErrScheduleNotExecutable is returned when a schedule is not in the scheduled state.
	ErrScheduleNotExecutable = errors.New("schedule is not executable")

	// ErrScheduleLocked is returned when another execution holds the schedule lock.
	ErrScheduleLocked = errors.New("schedule execution already in progress")

	// ErrRuleInactive is returned when scheduling against an inactive rule.
	ErrRuleInactive = errors.New("top-up rule is not active")

	// ErrAccountClosed is returned when operating on a closed account.
	ErrAccountClosed = errors.New("account is closed")

	// ErrInvalidNRIC is returned for a national id that is not 9 characters.
	ErrInvalidNRIC = errors.New("invalid NRIC")

	// ErrDuplicateNRIC is returned when an account already exists for the NRIC.
	ErrDuplicateNRIC = errors.New("account already exists for NRIC")

	// ErrAlreadyEnrolled is returned when enrolling an account twice in a course.
	ErrAlreadyEnrolled = errors.New("account already enrolled in course")

	// ErrLedgerAppend is returned when a balance was written but its ledger
	// transaction could not be recorded.
	ErrLedgerAppend = errors.New("balance changed without ledger entry")

	// ErrForbidden is returned when the session may not act on the target.
	ErrForbidden = errors.New("operation not permitted for session")

	// ErrInvalidRule is returned for rule criteria that can never match.
	ErrInvalidRule = errors.New("invalid top-up rule")

	// ErrInvalidSchedule is returned when a schedule has no usable date or time.
	ErrInvalidSchedule = errors.New("invalid schedule date or time")

	// ErrInvalidCourse is returned for a course that cannot be billed.
	ErrInvalidCourse = errors.New("invalid course")

	// ErrCourseInactive is returned when enrolling in an inactive course.
	ErrCourseInactive = errors.New("course is not active")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s, shortfall %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2), e.Shortfall().StringFixed(2))
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// UnderpaymentError reports how far a payment split falls short of the amount due.
type UnderpaymentError struct {
	Due     decimal.Decimal
	Offered decimal.Decimal
}

func (e *UnderpaymentError) Error() string {
	return fmt.Sprintf("full payment required: due %s, offered %s",
		e.Due.StringFixed(2), e.Offered.StringFixed(2))
}

func (e *UnderpaymentError) Unwrap() error {
	return ErrUnderpayment
}

// ExecutionError wraps a failure that happened after some steps were already
// applied. Nothing is rolled back; Applied says how many steps went through.
type ExecutionError struct {
	Operation string
	Applied   int
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed after %d applied step(s): %v", e.Operation, e.Applied, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrMissingPaymentMethod) ||
		errors.Is(err, ErrInvalidPaymentMethod) ||
		errors.Is(err, ErrUnderpayment) ||
		errors.Is(err, ErrChargeAlreadyPaid) ||
		errors.Is(err, ErrNothingToPay) ||
		errors.Is(err, ErrRuleInactive) ||
		errors.Is(err, ErrAccountClosed) ||
		errors.Is(err, ErrInvalidNRIC) ||
		errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrInvalidSchedule) ||
		errors.Is(err, ErrCourseInactive) ||
		errors.Is(err, ErrInvalidCourse)
}

// IsConflict returns true if the error reflects the current state of a
// document rather than bad input.
func IsConflict(err error) bool {
	return errors.Is(err, ErrScheduleNotExecutable) ||
		errors.Is(err, ErrScheduleLocked) ||
		errors.Is(err, ErrDuplicateNRIC) ||
		errors.Is(err, ErrAlreadyEnrolled)
}

// IsNotFound returns true if the error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCourseNotFound) ||
		errors.Is(err, ErrChargeNotFound) ||
		errors.Is(err, ErrRuleNotFound) ||
		errors.Is(err, ErrScheduleNotFound)
}
