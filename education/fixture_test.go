package education_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/generic"
	"github.com/tranminhhien3124027717/agile-moe/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// testNow is a Sunday morning in mid June.
var testNow = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

var admin = education.Session{ActorID: "admin-1", Role: education.RoleAdmin}

func holder(accountID string) education.Session {
	return education.Session{ActorID: accountID, Role: education.RoleAccountHolder}
}

type fixture struct {
	ctx    context.Context
	store  *education.Store
	engine *education.Engine
}

func newFixture(t *testing.T, opts ...education.Option) *fixture {
	t.Helper()
	return newFixtureOn(t, store.NewMemory(), opts...)
}

// newFaultyFixture returns a fixture whose store can be told to fail.
func newFaultyFixture(t *testing.T, opts ...education.Option) (*fixture, *faultyStore) {
	t.Helper()
	ds := &faultyStore{DocumentStore: store.NewMemory()}
	return newFixtureOn(t, ds, opts...), ds
}

func newFixtureOn(t *testing.T, ds generic.DocumentStore, opts ...education.Option) *fixture {
	t.Helper()
	clock := func() time.Time { return testNow }
	s := education.NewStoreWithClock(ds, clock)
	return &fixture{
		ctx:    context.Background(),
		store:  s,
		engine: education.NewEngine(s, append([]education.Option{education.WithClock(clock)}, opts...)...),
	}
}

func money(s string) decimal.Decimal {
	return generic.MustParseMoney(s)
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.True(t, money(want).Equal(got), append([]interface{}{"want %s, got %s", want, got.String()}, msgAndArgs...)...)
}

// addAccount stores an active account with the given balance. If the
// balance is positive an opening top-up is written so the ledger
// reconciles.
func (f *fixture) addAccount(t *testing.T, name string, dob string, balance string, edit ...func(*education.AccountHolder)) education.AccountHolder {
	t.Helper()
	acc := education.AccountHolder{
		NRIC:        "S" + name[:1] + "000000A",
		Name:        name,
		DateOfBirth: generic.MustParseDate(dob),
		Balance:     money(balance),
		Status:      education.AccountActive,
		InSchool:    education.InSchool,
	}
	for _, fn := range edit {
		fn(&acc)
	}
	created, err := f.store.Accounts.Create(f.ctx, acc)
	require.NoError(t, err)
	if created.Balance.IsPositive() {
		_, err = f.store.Ledger.Append(f.ctx, generic.Transaction{
			AccountID:   created.ID,
			Type:        generic.TxTopUp,
			Amount:      created.Balance,
			Description: "Opening balance",
		})
		require.NoError(t, err)
	}
	return created
}

func (f *fixture) addCourse(t *testing.T, name, fee string, cycle generic.BillingCycle, start, end string) education.Course {
	t.Helper()
	c, err := f.store.Courses.Create(f.ctx, education.Course{
		Name:           name,
		Provider:       "Test Polytechnic",
		BillingCycle:   cycle,
		Fee:            money(fee),
		Status:         education.CourseActive,
		CourseRunStart: generic.MustParseDate(start),
		CourseRunEnd:   generic.MustParseDate(end),
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) addCharge(t *testing.T, acc education.AccountHolder, course education.Course, amount, due string) education.CourseCharge {
	t.Helper()
	c, err := f.store.Charges.Create(f.ctx, education.CourseCharge{
		AccountID:  acc.ID,
		CourseID:   course.ID,
		CourseName: course.Name,
		Amount:     money(amount),
		AmountPaid: decimal.Zero,
		DueDate:    generic.MustParseDate(due),
		Status:     education.ChargeOutstanding,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) addRule(t *testing.T, rule education.TopUpRule) education.TopUpRule {
	t.Helper()
	if rule.Status == "" {
		rule.Status = education.RuleActive
	}
	r, err := f.store.Rules.Create(f.ctx, rule)
	require.NoError(t, err)
	return r
}

func (f *fixture) account(t *testing.T, id string) education.AccountHolder {
	t.Helper()
	acc, err := f.store.Accounts.GetByID(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, acc)
	return *acc
}

func (f *fixture) schedule(t *testing.T, id string) education.TopUpSchedule {
	t.Helper()
	s, err := f.store.Schedules.GetByID(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, s)
	return *s
}

func (f *fixture) charge(t *testing.T, id string) education.CourseCharge {
	t.Helper()
	c, err := f.store.Charges.GetByID(f.ctx, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return *c
}

// assertReconciled checks that the ledger explains the account balance.
func (f *fixture) assertReconciled(t *testing.T, accountID string) {
	t.Helper()
	acc := f.account(t, accountID)
	rec, err := f.store.Ledger.Reconcile(f.ctx, accountID, decimal.Zero, acc.Balance)
	require.NoError(t, err)
	assert.True(t, rec.Balanced, "ledger drift %s", rec.Drift)
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

var errDiskFull = errors.New("disk full")

// faultyStore fails the nth Insert or Patch on one collection, counted
// from the call to failOn. Everything else passes through.
type faultyStore struct {
	generic.DocumentStore

	mu         sync.Mutex
	op         string
	collection string
	remaining  int
}

func (s *faultyStore) failOn(op, collection string, nth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.op, s.collection, s.remaining = op, collection, nth
}

func (s *faultyStore) trip(op, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.op != op || s.collection != collection || s.remaining == 0 {
		return nil
	}
	s.remaining--
	if s.remaining == 0 {
		return errDiskFull
	}
	return nil
}

func (s *faultyStore) Insert(ctx context.Context, collection string, doc generic.RawDocument) error {
	if err := s.trip("insert", collection); err != nil {
		return err
	}
	return s.DocumentStore.Insert(ctx, collection, doc)
}

func (s *faultyStore) Patch(ctx context.Context, collection, id string, fields map[string]json.RawMessage) error {
	if err := s.trip("patch", collection); err != nil {
		return err
	}
	return s.DocumentStore.Patch(ctx, collection, id, fields)
}
