package education_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/generic"
	"github.com/tranminhhien3124027717/agile-moe/lock"
)

// =============================================================================
// EXECUTE
// =============================================================================

func TestExecute_Batch_CreditsEligibleAccounts(t *testing.T) {
	// GIVEN: Three accounts, two of them under 21
	// WHEN: A $200 batch schedule for "Youth Grant" (max age 20) runs
	// THEN: Both young accounts get $200, each with a top_up transaction
	//       referencing the schedule, and the schedule completes 2/2

	f := newFixture(t)
	young1 := f.addAccount(t, "Alice", "2008-03-01", "100")
	young2 := f.addAccount(t, "Bob", "2010-09-30", "0")
	old := f.addAccount(t, "Carol", "1990-01-01", "50")
	rule := f.addRule(t, education.TopUpRule{Name: "Youth Grant", MaxAge: generic.IntPtr(20), Amount: money("200")})

	created, err := f.engine.ScheduleBatch(f.ctx, admin, []string{rule.ID}, education.ScheduleOptions{Date: asOf, Time: "08:00"})
	require.NoError(t, err)
	require.Len(t, created, 1)
	schedID := created[0].Schedule.ID
	assert.Equal(t, 2, created[0].Schedule.EligibleCount)

	result, err := f.engine.Execute(f.ctx, admin, schedID)
	require.NoError(t, err)

	assert.Equal(t, education.ScheduleCompleted, result.Status)
	assert.Equal(t, 2, result.EligibleCount)
	assert.Equal(t, 2, result.ProcessedCount)
	assertMoney(t, "400", result.TotalCredited())

	assertMoney(t, "300", f.account(t, young1.ID).Balance)
	assertMoney(t, "200", f.account(t, young2.ID).Balance)
	assertMoney(t, "50", f.account(t, old.ID).Balance)

	txs, err := f.store.Ledger.ByReference(f.ctx, schedID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, generic.TxTopUp, tx.Type)
		assert.Equal(t, "Batch top-up: Youth Grant", tx.Description)
		assertMoney(t, "200", tx.Amount)
	}

	stored := f.schedule(t, schedID)
	assert.Equal(t, education.ScheduleCompleted, stored.Status)
	assert.Equal(t, 2, stored.ProcessedCount)
	require.NotNil(t, stored.ExecutedDate)
	f.assertReconciled(t, young1.ID)
	f.assertReconciled(t, young2.ID)
}

func TestExecute_Batch_EligibilityRecomputedAtExecution(t *testing.T) {
	// GIVEN: A batch schedule created when one account was eligible
	// WHEN: A second eligible account is opened before execution
	// THEN: Both are credited

	f := newFixture(t)
	f.addAccount(t, "Alice", "2008-03-01", "0")
	rule := f.addRule(t, education.TopUpRule{Name: "All", Amount: money("10")})
	created, err := f.engine.ScheduleBatch(f.ctx, admin, []string{rule.ID}, education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)
	assert.Equal(t, 1, created[0].Schedule.EligibleCount)

	f.addAccount(t, "Bob", "2009-03-01", "0")
	result, err := f.engine.Execute(f.ctx, admin, created[0].Schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProcessedCount)
}

func TestExecute_Individual(t *testing.T) {
	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "20")

	created, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("75.50"), education.ScheduleOptions{
		Date:    asOf,
		Remarks: "Hardship support",
	})
	require.NoError(t, err)
	result, err := f.engine.Execute(f.ctx, admin, created.Schedule.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.EligibleCount)
	assert.Equal(t, 1, result.ProcessedCount)
	assertMoney(t, "95.50", f.account(t, acc.ID).Balance)

	txs, err := f.store.Ledger.ByReference(f.ctx, created.Schedule.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "Individual top-up: Hardship support", txs[0].Description)
	f.assertReconciled(t, acc.ID)
}

func TestExecute_Individual_MissingAccountCompletesWithNothingCredited(t *testing.T) {
	// GIVEN: An individual schedule whose account was deleted after scheduling
	// WHEN: It runs
	// THEN: No error, processed 0, schedule completed

	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")
	created, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("10"), education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)
	require.NoError(t, f.store.Accounts.Delete(f.ctx, acc.ID))

	result, err := f.engine.Execute(f.ctx, admin, created.Schedule.ID)
	require.NoError(t, err)

	assert.Equal(t, 0, result.ProcessedCount)
	assert.Equal(t, education.ScheduleCompleted, f.schedule(t, created.Schedule.ID).Status)
	txs, err := f.store.Ledger.All(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestExecute_OnlyScheduledIsExecutable(t *testing.T) {
	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")
	created, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("10"), education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)

	_, err = f.engine.Execute(f.ctx, admin, created.Schedule.ID)
	require.NoError(t, err)

	// Second run must not double-credit.
	_, err = f.engine.Execute(f.ctx, admin, created.Schedule.ID)
	assert.ErrorIs(t, err, generic.ErrScheduleNotExecutable)
	assertMoney(t, "10", f.account(t, acc.ID).Balance)
}

func TestExecute_MissingRuleFailsSchedule(t *testing.T) {
	// GIVEN: A batch schedule whose rule has been deleted
	// WHEN: It runs
	// THEN: Schedule is failed with an "Error: " remark and an ExecutionError is returned

	f := newFixture(t)
	f.addAccount(t, "Alice", "2008-03-01", "0")
	rule := f.addRule(t, education.TopUpRule{Name: "Temp", Amount: money("10")})
	created, err := f.engine.ScheduleBatch(f.ctx, admin, []string{rule.ID}, education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteRule(f.ctx, admin, rule.ID))

	result, err := f.engine.Execute(f.ctx, admin, created[0].Schedule.ID)

	var execErr *generic.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.ErrorIs(t, err, generic.ErrRuleNotFound)
	assert.Equal(t, 0, execErr.Applied)
	assert.Equal(t, education.ScheduleFailed, result.Status)

	stored := f.schedule(t, created[0].Schedule.ID)
	assert.Equal(t, education.ScheduleFailed, stored.Status)
	assert.Contains(t, stored.Remarks, "Error: ")
}

func TestExecute_Batch_LedgerFailureMidLoopKeepsEarlierCredits(t *testing.T) {
	// GIVEN: Three eligible accounts and a $100 batch schedule
	// WHEN: The second top_up transaction cannot be written
	// THEN: The first credit stays, the second balance change is counted
	//       and flagged as missing its ledger entry, the third account is
	//       untouched, and the schedule is failed with the counts so far

	f, ds := newFaultyFixture(t)
	accounts := []education.AccountHolder{
		f.addAccount(t, "Alice", "2008-03-01", "0"),
		f.addAccount(t, "Bob", "2009-03-01", "0"),
		f.addAccount(t, "Carol", "2010-03-01", "0"),
	}
	rule := f.addRule(t, education.TopUpRule{Name: "Flat Grant", Amount: money("100")})
	created, err := f.engine.ScheduleBatch(f.ctx, admin, []string{rule.ID}, education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)
	schedID := created[0].Schedule.ID

	ds.failOn("insert", generic.TransactionsCollection, 2)
	result, err := f.engine.Execute(f.ctx, admin, schedID)

	var execErr *generic.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.ErrorIs(t, err, generic.ErrLedgerAppend)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 2, execErr.Applied)

	assert.Equal(t, education.ScheduleFailed, result.Status)
	assert.Equal(t, 3, result.EligibleCount)
	assert.Equal(t, 2, result.ProcessedCount)
	require.Len(t, result.Outcomes, 2)
	assert.NotEmpty(t, result.Outcomes[0].TransactionID)
	assert.False(t, result.Outcomes[0].LedgerMissing)
	assert.True(t, result.Outcomes[1].LedgerMissing)
	assert.True(t, result.Outcomes[1].Credited())
	assert.NotEmpty(t, result.Outcomes[1].Error)
	assertMoney(t, "200", result.TotalCredited())

	stored := f.schedule(t, schedID)
	assert.Equal(t, education.ScheduleFailed, stored.Status)
	assert.Contains(t, stored.Remarks, "Error: ")
	assert.Equal(t, 2, stored.ProcessedCount)
	assert.Equal(t, 3, stored.EligibleCount)

	total := money("0")
	for _, acc := range accounts {
		total = total.Add(f.account(t, acc.ID).Balance)
	}
	assertMoney(t, "200", total)

	f.assertReconciled(t, result.Outcomes[0].AccountID)
	missing := f.account(t, result.Outcomes[1].AccountID)
	rec, err := f.store.Ledger.Reconcile(f.ctx, missing.ID, money("0"), missing.Balance)
	require.NoError(t, err)
	assert.False(t, rec.Balanced)
	assertMoney(t, "100", rec.Drift.Abs())

	txs, err := f.store.Ledger.ByReference(f.ctx, schedID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestExecute_Batch_BalanceWriteFailureStopsBeforeCrediting(t *testing.T) {
	// GIVEN: Three eligible accounts and a $100 batch schedule
	// WHEN: Writing the second account balance fails
	// THEN: Only the first account is credited and counted

	f, ds := newFaultyFixture(t)
	for _, name := range []string{"Alice", "Bob", "Carol"} {
		f.addAccount(t, name, "2008-03-01", "0")
	}
	rule := f.addRule(t, education.TopUpRule{Name: "Flat Grant", Amount: money("100")})
	created, err := f.engine.ScheduleBatch(f.ctx, admin, []string{rule.ID}, education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)

	ds.failOn("patch", education.AccountHoldersCollection, 2)
	result, err := f.engine.Execute(f.ctx, admin, created[0].Schedule.ID)

	var execErr *generic.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.NotErrorIs(t, err, generic.ErrLedgerAppend)
	assert.Equal(t, 1, execErr.Applied)
	assert.Equal(t, 1, result.ProcessedCount)
	require.Len(t, result.Outcomes, 2)
	assert.False(t, result.Outcomes[1].Credited())
	assertMoney(t, "100", result.TotalCredited())

	stored := f.schedule(t, created[0].Schedule.ID)
	assert.Equal(t, education.ScheduleFailed, stored.Status)
	assert.Equal(t, 1, stored.ProcessedCount)

	txs, err := f.store.Ledger.All(f.ctx)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
}

func TestExecute_AccountHolderForbidden(t *testing.T) {
	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")
	created, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("10"), education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)

	_, err = f.engine.Execute(f.ctx, holder(acc.ID), created.Schedule.ID)
	assert.ErrorIs(t, err, generic.ErrForbidden)
	assert.Equal(t, education.ScheduleScheduled, f.schedule(t, created.Schedule.ID).Status)
}

func TestExecute_LockedScheduleIsRejected(t *testing.T) {
	// GIVEN: Another runner holds the execution lock for a schedule
	// WHEN: Execute is called
	// THEN: ErrScheduleLocked, nothing changes

	locker := lock.NewLocal()
	f := newFixture(t, education.WithLocker(locker))
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")
	created, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("10"), education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)

	release, err := locker.Acquire(context.Background(), "schedule:"+created.Schedule.ID, time.Minute)
	require.NoError(t, err)
	defer release()

	_, err = f.engine.Execute(f.ctx, admin, created.Schedule.ID)
	assert.ErrorIs(t, err, generic.ErrScheduleLocked)
	assertMoney(t, "0", f.account(t, acc.ID).Balance)
}

// =============================================================================
// SCHEDULING
// =============================================================================

func TestScheduleBatch_OneSchedulePerRule(t *testing.T) {
	f := newFixture(t)
	f.addAccount(t, "Alice", "2008-03-01", "0")
	r1 := f.addRule(t, education.TopUpRule{Name: "A", Amount: money("10")})
	r2 := f.addRule(t, education.TopUpRule{Name: "B", Amount: money("20")})

	created, err := f.engine.ScheduleBatch(f.ctx, admin, []string{r1.ID, r2.ID}, education.ScheduleOptions{Date: asOf.AddDays(7)})
	require.NoError(t, err)

	require.Len(t, created, 2)
	assert.Equal(t, "A", created[0].Schedule.RuleName)
	assertMoney(t, "20", created[1].Schedule.Amount)
	assert.Equal(t, "09:00", created[0].Schedule.ScheduledTime)
	assert.Equal(t, "Part of batch with 2 rules", created[1].Schedule.Remarks)
	assert.Nil(t, created[0].Execution)
}

func TestScheduleBatch_RejectsInactiveOrExpiredRule(t *testing.T) {
	f := newFixture(t)
	inactive := f.addRule(t, education.TopUpRule{Name: "Off", Amount: money("10"), Status: education.RuleInactive})
	expired := f.addRule(t, education.TopUpRule{Name: "Old", Amount: money("10"), ValidTo: generic.MustParseDate("2024-12-31")})

	_, err := f.engine.ScheduleBatch(f.ctx, admin, []string{inactive.ID}, education.ScheduleOptions{Date: asOf})
	assert.ErrorIs(t, err, generic.ErrRuleInactive)

	_, err = f.engine.ScheduleBatch(f.ctx, admin, []string{expired.ID}, education.ScheduleOptions{Date: asOf})
	assert.ErrorIs(t, err, generic.ErrRuleInactive)

	all, err := f.store.Schedules.GetAll(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestScheduleIndividual_ImmediateRunsNow(t *testing.T) {
	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")

	res, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("30"), education.ScheduleOptions{Immediate: true})
	require.NoError(t, err)

	require.NotNil(t, res.Execution)
	assert.Equal(t, education.ScheduleCompleted, res.Schedule.Status)
	assert.Equal(t, "10:00", res.Schedule.ScheduledTime)
	assert.Equal(t, asOf.String(), res.Schedule.ScheduledDate.String())
	assertMoney(t, "30", f.account(t, acc.ID).Balance)
}

func TestScheduleIndividual_Validation(t *testing.T) {
	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")

	_, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("0"), education.ScheduleOptions{Date: asOf})
	assert.ErrorIs(t, err, generic.ErrInvalidAmount)

	_, err = f.engine.ScheduleIndividual(f.ctx, admin, "nope", money("5"), education.ScheduleOptions{Date: asOf})
	assert.ErrorIs(t, err, generic.ErrAccountNotFound)

	_, err = f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("5"), education.ScheduleOptions{})
	assert.ErrorIs(t, err, generic.ErrInvalidSchedule)

	_, err = f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("5"), education.ScheduleOptions{Date: asOf, Time: "25:99"})
	assert.ErrorIs(t, err, generic.ErrInvalidSchedule)
}

func TestCancel_MarksFailedAndBlocksExecution(t *testing.T) {
	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")
	created, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("10"), education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(f.ctx, admin, created.Schedule.ID))

	stored := f.schedule(t, created.Schedule.ID)
	assert.Equal(t, education.ScheduleFailed, stored.Status)
	assert.Equal(t, "Cancelled by admin", stored.Remarks)

	_, err = f.engine.Execute(f.ctx, admin, created.Schedule.ID)
	assert.ErrorIs(t, err, generic.ErrScheduleNotExecutable)
	assert.ErrorIs(t, f.engine.Cancel(f.ctx, admin, created.Schedule.ID), generic.ErrScheduleNotExecutable)
}

func TestCancel_ClosesOutStuckProcessingSchedule(t *testing.T) {
	// GIVEN: A batch schedule left in processing after one credit was applied
	// WHEN: An admin cancels it
	// THEN: It is failed, the remark and processed count reflect the
	//       applied credit, and the credit stays

	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")
	rule := f.addRule(t, education.TopUpRule{Name: "Flat Grant", Amount: money("100")})
	created, err := f.engine.ScheduleBatch(f.ctx, admin, []string{rule.ID}, education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)
	schedID := created[0].Schedule.ID

	require.NoError(t, f.store.Schedules.Update(f.ctx, schedID, generic.Patch{"status": education.ScheduleProcessing}))
	require.NoError(t, f.store.Accounts.Update(f.ctx, acc.ID, generic.Patch{"balance": money("100")}))
	_, err = f.store.Ledger.Append(f.ctx, generic.Transaction{
		AccountID: acc.ID,
		Type:      generic.TxTopUp,
		Amount:    money("100"),
		Reference: schedID,
	})
	require.NoError(t, err)

	require.NoError(t, f.engine.Cancel(f.ctx, admin, schedID))

	stored := f.schedule(t, schedID)
	assert.Equal(t, education.ScheduleFailed, stored.Status)
	assert.Equal(t, "Cancelled by admin while processing; 1 credits applied", stored.Remarks)
	assert.Equal(t, 1, stored.ProcessedCount)
	assertMoney(t, "100", f.account(t, acc.ID).Balance)

	_, err = f.engine.Execute(f.ctx, admin, schedID)
	assert.ErrorIs(t, err, generic.ErrScheduleNotExecutable)
}

func TestCancel_RunningScheduleIsLocked(t *testing.T) {
	// GIVEN: A runner holds the execution lock of a processing schedule
	// WHEN: An admin cancels it
	// THEN: ErrScheduleLocked and the schedule is unchanged

	locker := lock.NewLocal()
	f := newFixture(t, education.WithLocker(locker))
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")
	created, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("10"), education.ScheduleOptions{Date: asOf})
	require.NoError(t, err)
	require.NoError(t, f.store.Schedules.Update(f.ctx, created.Schedule.ID, generic.Patch{"status": education.ScheduleProcessing}))

	release, err := locker.Acquire(context.Background(), "schedule:"+created.Schedule.ID, time.Minute)
	require.NoError(t, err)
	defer release()

	assert.ErrorIs(t, f.engine.Cancel(f.ctx, admin, created.Schedule.ID), generic.ErrScheduleLocked)
	assert.Equal(t, education.ScheduleProcessing, f.schedule(t, created.Schedule.ID).Status)
}

func TestRunDue_ExecutesOnlyDueSchedules(t *testing.T) {
	// GIVEN: One schedule due this morning and one due next week
	// WHEN: The runner fires at 10:00
	// THEN: Only the first executes

	f := newFixture(t)
	acc := f.addAccount(t, "Alice", "2008-03-01", "0")
	due, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("10"), education.ScheduleOptions{Date: asOf, Time: "09:30"})
	require.NoError(t, err)
	later, err := f.engine.ScheduleIndividual(f.ctx, admin, acc.ID, money("99"), education.ScheduleOptions{Date: asOf.AddDays(7)})
	require.NoError(t, err)

	results, err := f.engine.RunDue(f.ctx)
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, due.Schedule.ID, results[0].ScheduleID)
	assert.Equal(t, education.ScheduleScheduled, f.schedule(t, later.Schedule.ID).Status)
	assertMoney(t, "10", f.account(t, acc.ID).Balance)
}
