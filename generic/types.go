/*
Package generic provides the domain-agnostic building blocks of the engine.

PURPOSE:
  This package contains the pieces that do not know anything about courses,
  top-up rules or account holders: money arithmetic, calendar dates, the
  document store contract, typed collections on top of it, the append-only
  transaction ledger and billing-cycle periods. The education package builds
  the program rules on top of these.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal amounts (never float64) for balances, fees and payments
  - Transaction: an append-only ledger entry recording a balance change
  - TransactionType / TransactionStatus: ledger vocabularies

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere money is involved
  2. Append-only: transactions are written once, corrections are new entries
  3. Signed amounts: positive = credit to the account, negative = debit
  4. Traceability: every transaction carries a reference (charge or schedule id)

USAGE:
  tx := generic.Transaction{
      AccountID: "acc-123",
      Type:      generic.TxTopUp,
      Amount:    generic.NewMoney(500),
      Reference: scheduleID,
  }
  stored, err := ledger.Append(ctx, tx)

SEE ALSO:
  - store.go: Document store contract
  - ledger.go: Transaction persistence on top of a collection
  - balance.go: Statements computed from transactions
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// NewMoney converts a float literal into a decimal amount. Intended for
// constants and tests; runtime values should come from strings or decimals.
func NewMoney(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value).Round(2)
}

// MustParseMoney parses a decimal string, returning zero on malformed input.
func MustParseMoney(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// MinMoney returns the smaller of two amounts.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// SumMoney adds up a list of amounts.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// TRANSACTION - Append-only ledger entry
// =============================================================================

type TransactionType string

const (
	TxTopUp     TransactionType = "top_up"     // Government top-up (individual or batch)
	TxCourseFee TransactionType = "course_fee" // Course charge settled from balance
	TxPayment   TransactionType = "payment"    // External money received into the account
	TxRefund    TransactionType = "refund"     // Money returned to the account
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxTopUp, TxCourseFee, TxPayment, TxRefund:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TxStatusCompleted TransactionStatus = "completed"
	TxStatusPending   TransactionStatus = "pending"
	TxStatusFailed    TransactionStatus = "failed"
)

// Transaction is a single signed balance change for one account.
// Amount > 0 credits the account, Amount < 0 debits it.
type Transaction struct {
	ID          string            `json:"id"`
	AccountID   string            `json:"accountId"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Description string            `json:"description,omitempty"`
	Status      TransactionStatus `json:"status"`
	Reference   string            `json:"reference,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// IsCredit reports whether the transaction increases the balance.
func (t Transaction) IsCredit() bool { return t.Amount.IsPositive() }

// IsDebit reports whether the transaction decreases the balance.
func (t Transaction) IsDebit() bool { return t.Amount.IsNegative() }
