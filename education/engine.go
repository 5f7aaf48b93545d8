/*
engine.go - The education account engine

PURPOSE:
  Engine is the single entry point for every operation that changes money:
  top-up scheduling and execution, charge payments, enrollment billing and
  account lifecycle. Read-only derivations (eligibility, payment status)
  are plain functions and need no engine.

EXECUTION MODEL:
  Each operation is a sequence of independent document writes. There is no
  transaction spanning them: a failure midway leaves the earlier writes in
  place. Operations that touch several documents return a result value that
  lists what was applied, so callers can see partial progress instead of a
  bare error.

  Validation always runs before the first write. An operation that fails
  validation has changed nothing.

SESSIONS:
  Every call takes an explicit Session. Staff sessions (admin, system) may
  act on any account; an account holder may only act on their own account.

CONCURRENCY:
  Schedule execution takes a lock keyed by schedule id (see package lock),
  so two runners cannot execute the same schedule at once. Nothing else is
  locked.

SEE ALSO:
  - topup.go: Scheduling and executing top-ups
  - payment.go: Paying course charges
  - enrollment.go: Enrollments, billing and overdue sweeps
  - accounts.go: Account lifecycle and statements
*/
package education

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/generic"
	"github.com/tranminhhien3124027717/agile-moe/lock"
)

// Engine runs the education account program against a Store.
type Engine struct {
	store   *Store
	locker  lock.Locker
	now     func() time.Time
	lockTTL time.Duration
}

type Option func(*Engine)

// WithClock overrides the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocker sets the lock used around schedule execution.
func WithLocker(l lock.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithLockTTL bounds how long an execution lock is held if never released.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.lockTTL = ttl }
}

func NewEngine(store *Store, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		locker:  lock.NewLocal(),
		now:     time.Now,
		lockTTL: 10 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the engine's store for read-only queries.
func (e *Engine) Store() *Store { return e.store }

// Now returns the engine clock reading.
func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) today() generic.Date {
	return generic.DateOf(e.now())
}

func requireStaff(sess Session) error {
	if !sess.IsStaff() {
		return fmt.Errorf("%s %q: %w", sess.Role, sess.ActorID, generic.ErrForbidden)
	}
	return nil
}

func requireAccess(sess Session, accountID string) error {
	if !sess.CanActOn(accountID) {
		return fmt.Errorf("%s %q on account %s: %w", sess.Role, sess.ActorID, accountID, generic.ErrForbidden)
	}
	return nil
}

// adjustBalance re-reads the account, applies delta to its balance and
// records the matching ledger transaction. The balance is written first.
// An error wrapping generic.ErrLedgerAppend means the balance change was
// applied but has no transaction; any other error means nothing changed.
func (e *Engine) adjustBalance(ctx context.Context, accountID string, delta decimal.Decimal, tx generic.Transaction) (generic.Transaction, error) {
	acc, err := e.store.account(ctx, accountID)
	if err != nil {
		return generic.Transaction{}, err
	}
	newBalance := acc.Balance.Add(delta)
	if err := e.store.Accounts.Update(ctx, accountID, generic.Patch{"balance": newBalance}); err != nil {
		return generic.Transaction{}, err
	}

	tx.AccountID = accountID
	tx.Amount = delta
	stored, err := e.store.Ledger.Append(ctx, tx)
	if err != nil {
		log.Error().Err(err).
			Str("account_id", accountID).
			Str("amount", delta.String()).
			Str("type", string(tx.Type)).
			Msg("balance changed but ledger append failed")
		return generic.Transaction{}, fmt.Errorf("record %s transaction: %w: %w", tx.Type, generic.ErrLedgerAppend, err)
	}
	return stored, nil
}
