/*
ledger.go - Append-only transaction log

PURPOSE:
  The Ledger records every change made to an account balance. The balance
  itself is stored on the account document for fast reads; the ledger is
  the audit trail that explains how it got there.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. SIGNED: credits are positive, debits negative, never zero
  3. TRACEABLE: top-ups reference their schedule, fees reference their charge
  4. RECONCILABLE: sum(amounts) == current balance - opening balance

CORRECTIONS:
  A mistake is never edited away. A refund transaction with the opposite
  sign is appended, and both stay in the ledger.

EXAMPLE FLOW:
  1. Batch top-up:          top_up     +500  (reference = schedule id)
  2. Pay $450 with $250 by PayNow:
                            payment    +250
                            course_fee -450  (reference = charge id)
  Net change: +300, which is exactly balance - opening balance.

SEE ALSO:
  - store.go: Low-level persistence interface
  - balance.go: Statements built from the ledger
*/
package generic

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// TransactionsCollection is the collection name used for ledger entries.
const TransactionsCollection = "transactions"

// =============================================================================
// LEDGER - Append-only transaction log
// =============================================================================

// Ledger is the audit trail for balance changes.
type Ledger struct {
	txs *Collection[Transaction]
}

func NewLedger(txs *Collection[Transaction]) *Ledger {
	return &Ledger{txs: txs}
}

// Append validates and stores a transaction, returning it with its id.
// This is the ONLY write operation.
func (l *Ledger) Append(ctx context.Context, tx Transaction) (Transaction, error) {
	if tx.AccountID == "" {
		return Transaction{}, fmt.Errorf("transaction without account: %w", ErrAccountNotFound)
	}
	if !tx.Type.Valid() {
		return Transaction{}, fmt.Errorf("unknown transaction type %q", tx.Type)
	}
	if tx.Amount.IsZero() {
		return Transaction{}, fmt.Errorf("zero %s transaction: %w", tx.Type, ErrInvalidAmount)
	}
	if tx.Status == "" {
		tx.Status = TxStatusCompleted
	}
	tx.ID = ""
	return l.txs.Create(ctx, tx)
}

// ForAccount returns the account's transactions, newest first.
func (l *Ledger) ForAccount(ctx context.Context, accountID string) ([]Transaction, error) {
	return l.txs.GetByField(ctx, "accountId", accountID)
}

// ByReference returns the transactions written for a charge or schedule.
func (l *Ledger) ByReference(ctx context.Context, reference string) ([]Transaction, error) {
	return l.txs.GetByField(ctx, "reference", reference)
}

// All returns every transaction, newest first.
func (l *Ledger) All(ctx context.Context) ([]Transaction, error) {
	return l.txs.GetAll(ctx)
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconciliation compares the ledger against the stored balance.
type Reconciliation struct {
	AccountID string          `json:"accountId"`
	Opening   decimal.Decimal `json:"opening"`
	Current   decimal.Decimal `json:"current"`
	Sum       decimal.Decimal `json:"ledgerSum"`
	Drift     decimal.Decimal `json:"drift"`
	Balanced  bool            `json:"balanced"`
}

// Reconcile sums the completed transactions of an account and checks them
// against current - opening. Drift is the unexplained difference.
func (l *Ledger) Reconcile(ctx context.Context, accountID string, opening, current decimal.Decimal) (Reconciliation, error) {
	txs, err := l.ForAccount(ctx, accountID)
	if err != nil {
		return Reconciliation{}, err
	}
	sum := decimal.Zero
	for _, tx := range txs {
		if tx.Status == TxStatusCompleted {
			sum = sum.Add(tx.Amount)
		}
	}
	drift := current.Sub(opening).Sub(sum)
	return Reconciliation{
		AccountID: accountID,
		Opening:   opening,
		Current:   current,
		Sum:       sum,
		Drift:     drift,
		Balanced:  drift.IsZero(),
	}, nil
}
