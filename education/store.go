package education

import (
	"context"
	"fmt"
	"time"

	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// Collection names, one per entity type.
const (
	AccountHoldersCollection = "account_holders"
	CoursesCollection        = "courses"
	EnrollmentsCollection    = "enrollments"
	ChargesCollection        = "course_charges"
	RulesCollection          = "top_up_rules"
	SchedulesCollection      = "top_up_schedules"
	NricCollection           = "nric_registry"
)

// Store groups the typed collections the program works with. It holds no
// state of its own; everything lives in the underlying DocumentStore.
type Store struct {
	raw generic.DocumentStore

	Accounts     *generic.Collection[AccountHolder]
	Courses      *generic.Collection[Course]
	Enrollments  *generic.Collection[Enrollment]
	Charges      *generic.Collection[CourseCharge]
	Transactions *generic.Collection[generic.Transaction]
	Rules        *generic.Collection[TopUpRule]
	Schedules    *generic.Collection[TopUpSchedule]
	Nric         *generic.Collection[NricRecord]

	Ledger *generic.Ledger
}

func NewStore(ds generic.DocumentStore) *Store {
	return NewStoreWithClock(ds, time.Now)
}

// NewStoreWithClock stamps createdAt/updatedAt using now.
func NewStoreWithClock(ds generic.DocumentStore, now func() time.Time) *Store {
	txs := generic.NewCollection[generic.Transaction](ds, generic.TransactionsCollection).WithClock(now)
	return &Store{
		raw:          ds,
		Accounts:     generic.NewCollection[AccountHolder](ds, AccountHoldersCollection).WithClock(now),
		Courses:      generic.NewCollection[Course](ds, CoursesCollection).WithClock(now),
		Enrollments:  generic.NewCollection[Enrollment](ds, EnrollmentsCollection).WithClock(now),
		Charges:      generic.NewCollection[CourseCharge](ds, ChargesCollection).WithClock(now),
		Transactions: txs,
		Rules:        generic.NewCollection[TopUpRule](ds, RulesCollection).WithClock(now),
		Schedules:    generic.NewCollection[TopUpSchedule](ds, SchedulesCollection).WithClock(now),
		Nric:         generic.NewCollection[NricRecord](ds, NricCollection).WithClock(now),
		Ledger:       generic.NewLedger(txs),
	}
}

// Reset deletes all program data.
func (s *Store) Reset(ctx context.Context) error {
	return s.raw.Reset(ctx)
}

// Raw exposes the underlying document store.
func (s *Store) Raw() generic.DocumentStore {
	return s.raw
}

// =============================================================================
// LOOKUPS THAT MAP "MISSING" TO DOMAIN ERRORS
// =============================================================================

func (s *Store) account(ctx context.Context, id string) (*AccountHolder, error) {
	acc, err := s.Accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		return nil, fmt.Errorf("%s: %w", id, generic.ErrAccountNotFound)
	}
	return acc, nil
}

func (s *Store) course(ctx context.Context, id string) (*Course, error) {
	c, err := s.Courses.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%s: %w", id, generic.ErrCourseNotFound)
	}
	return c, nil
}

func (s *Store) charge(ctx context.Context, id string) (*CourseCharge, error) {
	c, err := s.Charges.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("%s: %w", id, generic.ErrChargeNotFound)
	}
	return c, nil
}

func (s *Store) rule(ctx context.Context, id string) (*TopUpRule, error) {
	r, err := s.Rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%s: %w", id, generic.ErrRuleNotFound)
	}
	return r, nil
}

func (s *Store) schedule(ctx context.Context, id string) (*TopUpSchedule, error) {
	sc, err := s.Schedules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return nil, fmt.Errorf("%s: %w", id, generic.ErrScheduleNotFound)
	}
	return sc, nil
}
