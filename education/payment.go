package education

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// PAYMENT METHODS AND SPLITS
// =============================================================================

// PaymentMethod is how money from outside the account was paid.
type PaymentMethod string

const (
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodPayNow       PaymentMethod = "paynow"
	MethodBankTransfer PaymentMethod = "bank_transfer"

	// MethodAccountBalance is recorded when the account balance alone paid.
	MethodAccountBalance PaymentMethod = "account_balance"
)

// ExternalMethods lists the methods accepted for external money.
var ExternalMethods = []PaymentMethod{MethodCreditCard, MethodPayNow, MethodBankTransfer}

// ValidExternal reports whether m is accepted for external money.
func (m PaymentMethod) ValidExternal() bool {
	for _, v := range ExternalMethods {
		if m == v {
			return true
		}
	}
	return false
}

// Label is the display name used in transaction descriptions.
func (m PaymentMethod) Label() string {
	switch m {
	case MethodCreditCard:
		return "Credit Card"
	case MethodPayNow:
		return "PayNow"
	case MethodBankTransfer:
		return "Bank Transfer"
	case MethodAccountBalance:
		return "Account Balance"
	}
	return string(m)
}

// PaymentSplit says how much of a payment comes from the account balance
// and how much from an external method.
type PaymentSplit struct {
	BalanceAmount  decimal.Decimal `json:"balanceAmount"`
	ExternalAmount decimal.Decimal `json:"externalAmount"`
	ExternalMethod PaymentMethod   `json:"externalMethod,omitempty"`
}

// Total is the sum of both parts.
func (s PaymentSplit) Total() decimal.Decimal {
	return s.BalanceAmount.Add(s.ExternalAmount)
}

// RecordedMethod is the value stored on a paid charge:
// "account_balance", the external method, or "account_balance+<method>".
func (s PaymentSplit) RecordedMethod() string {
	switch {
	case s.BalanceAmount.IsPositive() && s.ExternalAmount.IsPositive():
		return string(MethodAccountBalance) + "+" + string(s.ExternalMethod)
	case s.ExternalAmount.IsPositive():
		return string(s.ExternalMethod)
	default:
		return string(MethodAccountBalance)
	}
}

// validate checks the split against the amount due and the available balance.
func (s PaymentSplit) validate(accountID string, due, available decimal.Decimal) error {
	if s.BalanceAmount.IsNegative() || s.ExternalAmount.IsNegative() {
		return fmt.Errorf("payment amounts must not be negative: %w", generic.ErrInvalidAmount)
	}
	if s.ExternalAmount.IsPositive() {
		if s.ExternalMethod == "" {
			return generic.ErrMissingPaymentMethod
		}
		if !s.ExternalMethod.ValidExternal() {
			return fmt.Errorf("%q: %w", s.ExternalMethod, generic.ErrInvalidPaymentMethod)
		}
	}
	if s.Total().LessThan(due) {
		return &generic.UnderpaymentError{Due: due, Offered: s.Total()}
	}
	if s.BalanceAmount.GreaterThan(available) {
		return &generic.InsufficientBalanceError{AccountID: accountID, Available: available, Requested: s.BalanceAmount}
	}
	return nil
}

// =============================================================================
// PAYMENT RESULT
// =============================================================================

// ChargeSettlement is one charge paid in full.
type ChargeSettlement struct {
	ChargeID      string          `json:"chargeId"`
	CourseName    string          `json:"courseName"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId"`
}

// PaymentResult lists every write a payment made. When a payment fails
// midway it is returned with the steps applied so far.
type PaymentResult struct {
	AccountID            string             `json:"accountId"`
	PaymentMethod        string             `json:"paymentMethod"`
	ExternalCredited     decimal.Decimal    `json:"externalCredited"`
	PaymentTransactionID string             `json:"paymentTransactionId,omitempty"`
	Settled              []ChargeSettlement `json:"settled"`
	BalanceBefore        decimal.Decimal    `json:"balanceBefore"`
	BalanceAfter         decimal.Decimal    `json:"balanceAfter"`
	// LedgerMissing lists balance changes that were applied without their
	// transaction: "payment" for the external credit, or a charge id for
	// its debit.
	LedgerMissing []string `json:"ledgerMissing,omitempty"`
}

// TotalSettled sums the settled charge amounts.
func (r PaymentResult) TotalSettled() decimal.Decimal {
	total := decimal.Zero
	for _, s := range r.Settled {
		total = total.Add(s.Amount)
	}
	return total
}

// =============================================================================
// PAY
// =============================================================================

// Pay settles one charge in full.
//
// Every check runs before the first write. The external part, if any, is
// first credited to the account as a payment transaction; then the amount
// due is debited as a course_fee transaction referencing the charge; then
// the charge is marked paid. The net balance change is external - due.
func (e *Engine) Pay(ctx context.Context, sess Session, chargeID string, split PaymentSplit) (PaymentResult, error) {
	charge, err := e.store.charge(ctx, chargeID)
	if err != nil {
		return PaymentResult{}, err
	}
	if err := requireAccess(sess, charge.AccountID); err != nil {
		return PaymentResult{}, err
	}
	if !charge.Status.Unpaid() || !charge.Due().IsPositive() {
		return PaymentResult{}, fmt.Errorf("charge %s: %w", chargeID, generic.ErrChargeAlreadyPaid)
	}
	acc, err := e.payableAccount(ctx, charge.AccountID)
	if err != nil {
		return PaymentResult{}, err
	}
	if err := split.validate(acc.ID, charge.Due(), acc.Balance); err != nil {
		return PaymentResult{}, err
	}

	return e.settle(ctx, sess, acc, []CourseCharge{*charge}, split)
}

// PayAll settles every unpaid charge of an account with one split. The
// split must cover the sum of the amounts due. External money is credited
// once, then the charges are debited and marked paid one at a time, oldest
// due date first.
func (e *Engine) PayAll(ctx context.Context, sess Session, accountID string, split PaymentSplit) (PaymentResult, error) {
	if err := requireAccess(sess, accountID); err != nil {
		return PaymentResult{}, err
	}
	acc, err := e.payableAccount(ctx, accountID)
	if err != nil {
		return PaymentResult{}, err
	}
	charges, err := e.UnpaidCharges(ctx, accountID)
	if err != nil {
		return PaymentResult{}, err
	}
	if len(charges) == 0 {
		return PaymentResult{}, fmt.Errorf("account %s: %w", accountID, generic.ErrNothingToPay)
	}

	total := decimal.Zero
	for _, c := range charges {
		total = total.Add(c.Due())
	}
	if err := split.validate(acc.ID, total, acc.Balance); err != nil {
		return PaymentResult{}, err
	}

	return e.settle(ctx, sess, acc, charges, split)
}

func (e *Engine) payableAccount(ctx context.Context, accountID string) (*AccountHolder, error) {
	acc, err := e.store.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.Status == AccountClosed {
		return nil, fmt.Errorf("%s: %w", accountID, generic.ErrAccountClosed)
	}
	return acc, nil
}

// settle performs the writes of a validated payment.
func (e *Engine) settle(ctx context.Context, sess Session, acc *AccountHolder, charges []CourseCharge, split PaymentSplit) (PaymentResult, error) {
	result := PaymentResult{
		AccountID:        acc.ID,
		PaymentMethod:    split.RecordedMethod(),
		ExternalCredited: decimal.Zero,
		BalanceBefore:    acc.Balance,
		BalanceAfter:     acc.Balance,
	}
	steps := 0
	fail := func(err error) (PaymentResult, error) {
		if fresh, ferr := e.store.Accounts.GetByID(ctx, acc.ID); ferr == nil && fresh != nil {
			result.BalanceAfter = fresh.Balance
		}
		log.Error().Err(err).Str("account_id", acc.ID).Int("applied", steps).Msg("payment failed midway")
		return result, &generic.ExecutionError{Operation: "payment for " + acc.ID, Applied: steps, Err: err}
	}

	if split.ExternalAmount.IsPositive() {
		tx, err := e.adjustBalance(ctx, acc.ID, split.ExternalAmount, generic.Transaction{
			Type:        generic.TxPayment,
			Description: "External payment received via " + split.ExternalMethod.Label(),
			Status:      generic.TxStatusCompleted,
			Reference:   referenceFor(charges),
		})
		if err != nil {
			if errors.Is(err, generic.ErrLedgerAppend) {
				steps++
				result.ExternalCredited = split.ExternalAmount
				result.LedgerMissing = append(result.LedgerMissing, "payment")
			}
			return fail(err)
		}
		steps++
		result.ExternalCredited = split.ExternalAmount
		result.PaymentTransactionID = tx.ID
	}

	paidDate := e.today()
	for _, charge := range charges {
		due := charge.Due()
		tx, err := e.adjustBalance(ctx, acc.ID, due.Neg(), generic.Transaction{
			Type:        generic.TxCourseFee,
			Description: "Course fee payment: " + charge.CourseName,
			Status:      generic.TxStatusCompleted,
			Reference:   charge.ID,
		})
		if err != nil {
			if errors.Is(err, generic.ErrLedgerAppend) {
				steps++
				result.LedgerMissing = append(result.LedgerMissing, charge.ID)
			}
			return fail(err)
		}
		steps++

		err = e.store.Charges.Update(ctx, charge.ID, generic.Patch{
			"status":        ChargePaid,
			"amountPaid":    charge.Amount,
			"paidDate":      paidDate,
			"paymentMethod": result.PaymentMethod,
		})
		if err != nil {
			return fail(err)
		}
		steps++
		result.Settled = append(result.Settled, ChargeSettlement{
			ChargeID:      charge.ID,
			CourseName:    charge.CourseName,
			Amount:        due,
			TransactionID: tx.ID,
		})
	}

	if fresh, err := e.store.Accounts.GetByID(ctx, acc.ID); err == nil && fresh != nil {
		result.BalanceAfter = fresh.Balance
	}
	log.Info().
		Str("account_id", acc.ID).
		Str("actor", sess.ActorID).
		Int("charges", len(result.Settled)).
		Str("settled", result.TotalSettled().String()).
		Str("external", result.ExternalCredited.String()).
		Str("method", result.PaymentMethod).
		Msg("charges paid")
	return result, nil
}

// referenceFor ties an external payment to the charge it pays, or leaves
// it unreferenced when it covers several charges.
func referenceFor(charges []CourseCharge) string {
	if len(charges) == 1 {
		return charges[0].ID
	}
	return ""
}
