package education

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// EXECUTION RESULT
// =============================================================================

// AccountOutcome is the effect of a top-up on one account.
type AccountOutcome struct {
	AccountID     string          `json:"accountId"`
	AccountName   string          `json:"accountName,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	TransactionID string          `json:"transactionId,omitempty"`
	Error         string          `json:"error,omitempty"`
	// LedgerMissing marks a credit written to the balance whose top_up
	// transaction could not be recorded.
	LedgerMissing bool `json:"ledgerMissing,omitempty"`
}

// Credited reports whether the account balance was actually credited.
func (o AccountOutcome) Credited() bool { return o.Error == "" || o.LedgerMissing }

// ExecutionResult describes what an Execute call applied. It is returned
// even when execution fails, and then lists the credits made before the
// failure. Those credits are not rolled back.
type ExecutionResult struct {
	ScheduleID     string           `json:"scheduleId"`
	Type           ScheduleType     `json:"type"`
	Status         ScheduleStatus   `json:"status"`
	EligibleCount  int              `json:"eligibleCount"`
	ProcessedCount int              `json:"processedCount"`
	Outcomes       []AccountOutcome `json:"outcomes"`
	ExecutedAt     *time.Time       `json:"executedAt,omitempty"`
	Remarks        string           `json:"remarks,omitempty"`
}

// TotalCredited sums the amounts of successful outcomes.
func (r ExecutionResult) TotalCredited() decimal.Decimal {
	total := decimal.Zero
	for _, o := range r.Outcomes {
		if o.Credited() {
			total = total.Add(o.Amount)
		}
	}
	return total
}

// =============================================================================
// EXECUTE
// =============================================================================

// Execute runs a top-up schedule that is in the scheduled state.
//
// The schedule moves to processing, the credits are applied one account at
// a time, and the schedule ends completed with its counts recorded. If a
// credit fails the schedule is marked failed with the error as its remark,
// and the error is returned together with the partial result.
func (e *Engine) Execute(ctx context.Context, sess Session, scheduleID string) (ExecutionResult, error) {
	result := ExecutionResult{ScheduleID: scheduleID}
	if err := requireStaff(sess); err != nil {
		return result, err
	}

	release, err := e.locker.Acquire(ctx, "schedule:"+scheduleID, e.lockTTL)
	if err != nil {
		return result, err
	}
	defer release()

	schedule, err := e.store.schedule(ctx, scheduleID)
	if err != nil {
		return result, err
	}
	result.Type = schedule.Type
	result.Status = schedule.Status
	if schedule.Status != ScheduleScheduled {
		return result, fmt.Errorf("schedule %s is %s: %w", scheduleID, schedule.Status, generic.ErrScheduleNotExecutable)
	}

	if err := e.store.Schedules.Update(ctx, scheduleID, generic.Patch{"status": ScheduleProcessing}); err != nil {
		return result, err
	}
	result.Status = ScheduleProcessing

	logger := log.With().
		Str("schedule_id", scheduleID).
		Str("type", string(schedule.Type)).
		Str("actor", sess.ActorID).
		Logger()
	logger.Info().Str("amount", schedule.Amount.String()).Msg("executing top-up schedule")

	switch schedule.Type {
	case ScheduleIndividual:
		err = e.executeIndividual(ctx, schedule, &result)
	case ScheduleBatch:
		err = e.executeBatch(ctx, schedule, &result)
	default:
		err = fmt.Errorf("unknown schedule type %q", schedule.Type)
	}

	if err != nil {
		return e.failSchedule(ctx, result, err)
	}

	executed := e.now().UTC()
	patch := generic.Patch{
		"status":         ScheduleCompleted,
		"executedDate":   executed,
		"eligibleCount":  result.EligibleCount,
		"processedCount": result.ProcessedCount,
	}
	if result.Remarks != "" {
		patch["remarks"] = result.Remarks
	}
	if err := e.store.Schedules.Update(ctx, scheduleID, patch); err != nil {
		return e.failSchedule(ctx, result, err)
	}

	result.Status = ScheduleCompleted
	result.ExecutedAt = &executed
	logger.Info().
		Int("eligible", result.EligibleCount).
		Int("processed", result.ProcessedCount).
		Str("total", result.TotalCredited().String()).
		Msg("top-up schedule completed")
	return result, nil
}

func (e *Engine) executeIndividual(ctx context.Context, schedule *TopUpSchedule, result *ExecutionResult) error {
	acc, err := e.store.Accounts.GetByID(ctx, schedule.AccountID)
	if err != nil {
		return err
	}
	if acc == nil {
		result.Remarks = "Account not found; nothing credited"
		log.Warn().Str("schedule_id", schedule.ID).Str("account_id", schedule.AccountID).
			Msg("individual top-up target missing")
		return nil
	}
	if acc.Status == AccountClosed {
		result.Remarks = "Account closed; nothing credited"
		return nil
	}

	result.EligibleCount = 1
	remarks := schedule.Remarks
	if remarks == "" {
		remarks = "Manual top-up"
	}
	return e.credit(ctx, *acc, schedule, "Individual top-up: "+remarks, result)
}

func (e *Engine) executeBatch(ctx context.Context, schedule *TopUpSchedule, result *ExecutionResult) error {
	rule, err := e.store.rule(ctx, schedule.RuleID)
	if err != nil {
		return err
	}
	accounts, err := e.store.Accounts.GetAll(ctx)
	if err != nil {
		return err
	}

	eligible := EligibleAccounts(accounts, *rule, e.today())
	result.EligibleCount = len(eligible)

	for _, acc := range eligible {
		if err := e.credit(ctx, acc, schedule, "Batch top-up: "+rule.Name, result); err != nil {
			return err
		}
	}
	return nil
}

// credit applies one schedule credit and records the outcome.
func (e *Engine) credit(ctx context.Context, acc AccountHolder, schedule *TopUpSchedule, description string, result *ExecutionResult) error {
	tx, err := e.adjustBalance(ctx, acc.ID, schedule.Amount, generic.Transaction{
		Type:        generic.TxTopUp,
		Description: description,
		Status:      generic.TxStatusCompleted,
		Reference:   schedule.ID,
	})
	outcome := AccountOutcome{AccountID: acc.ID, AccountName: acc.Name, Amount: schedule.Amount}
	if err != nil {
		outcome.Error = err.Error()
		if errors.Is(err, generic.ErrLedgerAppend) {
			outcome.LedgerMissing = true
			result.ProcessedCount++
		}
		result.Outcomes = append(result.Outcomes, outcome)
		return err
	}
	outcome.TransactionID = tx.ID
	result.Outcomes = append(result.Outcomes, outcome)
	result.ProcessedCount++
	return nil
}

func (e *Engine) failSchedule(ctx context.Context, result ExecutionResult, cause error) (ExecutionResult, error) {
	result.Status = ScheduleFailed
	result.Remarks = "Error: " + cause.Error()
	patch := generic.Patch{
		"status":         ScheduleFailed,
		"remarks":        result.Remarks,
		"eligibleCount":  result.EligibleCount,
		"processedCount": result.ProcessedCount,
	}
	if err := e.store.Schedules.Update(ctx, result.ScheduleID, patch); err != nil {
		log.Error().Err(err).Str("schedule_id", result.ScheduleID).Msg("could not mark schedule failed")
	}
	log.Error().Err(cause).
		Str("schedule_id", result.ScheduleID).
		Int("processed", result.ProcessedCount).
		Msg("top-up schedule failed")
	return result, &generic.ExecutionError{Operation: "top-up " + result.ScheduleID, Applied: result.ProcessedCount, Err: cause}
}

// =============================================================================
// SCHEDULING
// =============================================================================

// ScheduleOptions says when a new schedule runs. Immediate schedules are
// stamped with the current date and time and executed straight away.
type ScheduleOptions struct {
	Date      generic.Date
	Time      string
	Immediate bool
	Remarks   string
}

func (o ScheduleOptions) when(now time.Time) (generic.Date, string) {
	if o.Immediate {
		return generic.DateOf(now), now.UTC().Format("15:04")
	}
	t := o.Time
	if t == "" {
		t = "09:00"
	}
	return o.Date, t
}

func validTime(hhmm string) bool {
	_, err := time.Parse("15:04", hhmm)
	return err == nil
}

// ScheduleResult is one created schedule and, if it ran immediately, the
// result of executing it.
type ScheduleResult struct {
	Schedule  TopUpSchedule    `json:"schedule"`
	Execution *ExecutionResult `json:"execution,omitempty"`
}

// ScheduleBatch creates one batch schedule per rule. Each rule must exist,
// be active and be valid on the scheduled date. The eligible count is a
// preview computed now; execution recomputes it.
func (e *Engine) ScheduleBatch(ctx context.Context, sess Session, ruleIDs []string, opts ScheduleOptions) ([]ScheduleResult, error) {
	if err := requireStaff(sess); err != nil {
		return nil, err
	}
	if len(ruleIDs) == 0 {
		return nil, fmt.Errorf("no rules selected: %w", generic.ErrInvalidRule)
	}
	date, at := opts.when(e.now())
	if date.IsZero() {
		return nil, fmt.Errorf("schedule date is required: %w", generic.ErrInvalidSchedule)
	}
	if !validTime(at) {
		return nil, fmt.Errorf("schedule time %q: %w", at, generic.ErrInvalidSchedule)
	}

	rules := make([]*TopUpRule, 0, len(ruleIDs))
	for _, id := range ruleIDs {
		rule, err := e.store.rule(ctx, id)
		if err != nil {
			return nil, err
		}
		if rule.Status != RuleActive {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, generic.ErrRuleInactive)
		}
		if !rule.Validity().Contains(date) {
			return nil, fmt.Errorf("rule %s not valid on %s: %w", rule.Name, date, generic.ErrRuleInactive)
		}
		rules = append(rules, rule)
	}

	accounts, err := e.store.Accounts.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	remarks := opts.Remarks
	if remarks == "" && len(rules) > 1 {
		remarks = fmt.Sprintf("Part of batch with %d rules", len(rules))
	}

	var results []ScheduleResult
	for _, rule := range rules {
		schedule, err := e.store.Schedules.Create(ctx, TopUpSchedule{
			Type:          ScheduleBatch,
			ScheduledDate: date,
			ScheduledTime: at,
			Status:        ScheduleScheduled,
			Amount:        rule.Amount,
			RuleID:        rule.ID,
			RuleName:      rule.Name,
			EligibleCount: len(EligibleAccounts(accounts, *rule, date)),
			Remarks:       remarks,
		})
		if err != nil {
			return results, err
		}
		results = append(results, ScheduleResult{Schedule: schedule})
	}

	if opts.Immediate {
		return e.runCreated(ctx, sess, results)
	}
	return results, nil
}

// ScheduleIndividual creates a top-up of amount for one account.
func (e *Engine) ScheduleIndividual(ctx context.Context, sess Session, accountID string, amount decimal.Decimal, opts ScheduleOptions) (ScheduleResult, error) {
	if err := requireStaff(sess); err != nil {
		return ScheduleResult{}, err
	}
	if !amount.IsPositive() {
		return ScheduleResult{}, fmt.Errorf("top-up amount %s: %w", amount, generic.ErrInvalidAmount)
	}
	acc, err := e.store.account(ctx, accountID)
	if err != nil {
		return ScheduleResult{}, err
	}
	if acc.Status == AccountClosed {
		return ScheduleResult{}, fmt.Errorf("%s: %w", accountID, generic.ErrAccountClosed)
	}
	date, at := opts.when(e.now())
	if date.IsZero() {
		return ScheduleResult{}, fmt.Errorf("schedule date is required: %w", generic.ErrInvalidSchedule)
	}
	if !validTime(at) {
		return ScheduleResult{}, fmt.Errorf("schedule time %q: %w", at, generic.ErrInvalidSchedule)
	}

	schedule, err := e.store.Schedules.Create(ctx, TopUpSchedule{
		Type:          ScheduleIndividual,
		ScheduledDate: date,
		ScheduledTime: at,
		Status:        ScheduleScheduled,
		Amount:        amount,
		AccountID:     acc.ID,
		AccountName:   acc.Name,
		Remarks:       opts.Remarks,
	})
	if err != nil {
		return ScheduleResult{}, err
	}

	results := []ScheduleResult{{Schedule: schedule}}
	if opts.Immediate {
		results, err = e.runCreated(ctx, sess, results)
	}
	return results[0], err
}

// runCreated executes freshly created schedules in order, stopping at the
// first failure. Every result is refreshed from the store.
func (e *Engine) runCreated(ctx context.Context, sess Session, results []ScheduleResult) ([]ScheduleResult, error) {
	var firstErr error
	for i := range results {
		if firstErr != nil {
			break
		}
		exec, err := e.Execute(ctx, sess, results[i].Schedule.ID)
		results[i].Execution = &exec
		if err != nil {
			firstErr = err
		}
		if fresh, ferr := e.store.Schedules.GetByID(ctx, results[i].Schedule.ID); ferr == nil && fresh != nil {
			results[i].Schedule = *fresh
		}
	}
	return results, firstErr
}

// Cancel stops a schedule that has not run yet. The schedule is kept and
// marked failed with a remark.
//
// A schedule stuck in processing (its runner died mid-run) can also be
// cancelled, but only while no runner holds its execution lock. Credits
// it already applied stay and are listed by the ledger under the
// schedule id.
func (e *Engine) Cancel(ctx context.Context, sess Session, scheduleID string) error {
	if err := requireStaff(sess); err != nil {
		return err
	}
	release, err := e.locker.Acquire(ctx, "schedule:"+scheduleID, e.lockTTL)
	if err != nil {
		return err
	}
	defer release()

	schedule, err := e.store.schedule(ctx, scheduleID)
	if err != nil {
		return err
	}

	remarks := "Cancelled by admin"
	patch := generic.Patch{"status": ScheduleFailed}
	switch schedule.Status {
	case ScheduleScheduled:
	case ScheduleProcessing:
		applied, err := e.store.Ledger.ByReference(ctx, scheduleID)
		if err != nil {
			return err
		}
		remarks = fmt.Sprintf("Cancelled by admin while processing; %d credits applied", len(applied))
		patch["processedCount"] = len(applied)
	default:
		return fmt.Errorf("schedule %s is %s: %w", scheduleID, schedule.Status, generic.ErrScheduleNotExecutable)
	}
	patch["remarks"] = remarks

	log.Info().
		Str("schedule_id", scheduleID).
		Str("from", string(schedule.Status)).
		Str("actor", sess.ActorID).
		Msg("top-up schedule cancelled")
	return e.store.Schedules.Update(ctx, scheduleID, patch)
}

// DueSchedules returns scheduled schedules whose time has come, oldest first.
func (e *Engine) DueSchedules(ctx context.Context) ([]TopUpSchedule, error) {
	all, err := e.store.Schedules.GetByField(ctx, "status", string(ScheduleScheduled))
	if err != nil {
		return nil, err
	}
	now := e.now().UTC()
	var due []TopUpSchedule
	for _, s := range all {
		if !s.DueAt().After(now) {
			due = append(due, s)
		}
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].DueAt().Before(due[j].DueAt()) })
	return due, nil
}

// RunDue executes every due schedule with the system session. A failing
// schedule does not stop the others; schedules locked by another runner
// are skipped.
func (e *Engine) RunDue(ctx context.Context) ([]ExecutionResult, error) {
	due, err := e.DueSchedules(ctx)
	if err != nil {
		return nil, err
	}

	var results []ExecutionResult
	var errs []error
	for _, s := range due {
		res, err := e.Execute(ctx, SystemSession, s.ID)
		if errors.Is(err, generic.ErrScheduleLocked) || errors.Is(err, generic.ErrScheduleNotExecutable) {
			continue
		}
		results = append(results, res)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return results, errors.Join(errs...)
}
