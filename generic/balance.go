/*
balance.go - Account statements computed from the ledger

PURPOSE:
  Summarizes an account's transactions over a period: what came in, what
  went out, broken down by transaction type. This is the read model behind
  the account statement screens of both portals.

STATEMENT COMPONENTS:
  Credits:  Sum of positive amounts (top-ups, external payments, refunds)
  Debits:   Sum of negative amounts as a positive figure (course fees)
  Net:      Credits - Debits
  ByType:   Signed total per transaction type

EXAMPLE:
  top_up +500, payment +250, course_fee -450

  Credits = 750, Debits = 450, Net = 300
  ByType  = {top_up: 500, payment: 250, course_fee: -450}

SEE ALSO:
  - ledger.go: Source of the transactions
*/
package generic

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// STATEMENT - Credits and debits over a period
// =============================================================================

// Statement is the aggregate of an account's completed transactions.
type Statement struct {
	AccountID string                              `json:"accountId"`
	Period    Period                              `json:"-"`
	Credits   decimal.Decimal                     `json:"credits"`
	Debits    decimal.Decimal                     `json:"debits"`
	ByType    map[TransactionType]decimal.Decimal `json:"byType"`
	Count     int                                 `json:"count"`
}

// Net returns credits minus debits.
func (s Statement) Net() decimal.Decimal {
	return s.Credits.Sub(s.Debits)
}

// BuildStatement aggregates completed transactions whose creation day
// falls within the period. Pending and failed entries are ignored.
func BuildStatement(accountID string, period Period, txs []Transaction) Statement {
	st := Statement{
		AccountID: accountID,
		Period:    period,
		Credits:   decimal.Zero,
		Debits:    decimal.Zero,
		ByType:    map[TransactionType]decimal.Decimal{},
	}
	for _, tx := range txs {
		if tx.AccountID != accountID || tx.Status != TxStatusCompleted {
			continue
		}
		if !period.Contains(DateOf(tx.CreatedAt)) {
			continue
		}
		st.Count++
		if tx.IsCredit() {
			st.Credits = st.Credits.Add(tx.Amount)
		} else {
			st.Debits = st.Debits.Add(tx.Amount.Neg())
		}
		st.ByType[tx.Type] = st.ByType[tx.Type].Add(tx.Amount)
	}
	return st
}

// MonthPeriod returns the calendar month containing t.
func MonthPeriod(t time.Time) Period {
	start := NewDate(t.Year(), t.Month(), 1)
	return Period{Start: start, End: start.AddMonths(1).AddDays(-1)}
}
