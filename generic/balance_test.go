package generic

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func tx(typ TransactionType, amount string, day string, status TransactionStatus) Transaction {
	return Transaction{
		AccountID: "acc-1",
		Type:      typ,
		Amount:    decimal.RequireFromString(amount),
		Status:    status,
		CreatedAt: MustParseDate(day).Time.Add(10 * time.Hour),
	}
}

func TestBuildStatement(t *testing.T) {
	// GIVEN: A top-up, a split payment and entries outside the month
	txs := []Transaction{
		tx(TxTopUp, "500", "2025-06-02", TxStatusCompleted),
		tx(TxPayment, "250", "2025-06-10", TxStatusCompleted),
		tx(TxCourseFee, "-450", "2025-06-10", TxStatusCompleted),
		tx(TxTopUp, "1000", "2025-05-31", TxStatusCompleted),
		tx(TxPayment, "99", "2025-06-11", TxStatusFailed),
	}
	other := tx(TxTopUp, "700", "2025-06-03", TxStatusCompleted)
	other.AccountID = "acc-2"
	txs = append(txs, other)

	// WHEN: Building the June statement
	st := BuildStatement("acc-1", MonthPeriod(MustParseDate("2025-06-15").Time), txs)

	// THEN: Only completed June entries of the account count
	assert.Equal(t, 3, st.Count)
	assert.True(t, decimal.NewFromInt(750).Equal(st.Credits))
	assert.True(t, decimal.NewFromInt(450).Equal(st.Debits))
	assert.True(t, decimal.NewFromInt(300).Equal(st.Net()))
	assert.True(t, decimal.NewFromInt(-450).Equal(st.ByType[TxCourseFee]))
}

func TestErrorClassification(t *testing.T) {
	insufficient := &InsufficientBalanceError{
		AccountID: "acc-1",
		Available: decimal.NewFromInt(300),
		Requested: decimal.NewFromInt(450),
	}
	assert.True(t, decimal.NewFromInt(150).Equal(insufficient.Shortfall()))
	assert.ErrorIs(t, insufficient, ErrInsufficientBalance)
	assert.True(t, IsClientError(fmt.Errorf("pay: %w", insufficient)))

	under := &UnderpaymentError{Due: decimal.NewFromInt(450), Offered: decimal.NewFromInt(400)}
	assert.ErrorIs(t, under, ErrUnderpayment)
	assert.Contains(t, under.Error(), "450.00")

	assert.True(t, IsConflict(fmt.Errorf("run: %w", ErrScheduleNotExecutable)))
	assert.True(t, IsNotFound(fmt.Errorf("get: %w", ErrChargeNotFound)))
	assert.False(t, IsClientError(errors.New("disk full")))

	exec := &ExecutionError{Operation: "batch top-up", Applied: 2, Err: ErrScheduleLocked}
	var target *ExecutionError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", exec), &target))
	assert.Equal(t, 2, target.Applied)
	assert.ErrorIs(t, exec, ErrScheduleLocked)
}
