// Package education implements the education-savings-account program on
// top of the generic engine: account holders and their balances, courses and
// their charges, and rule-driven government top-ups.
package education

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// ACCOUNT HOLDER
// =============================================================================

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountClosed   AccountStatus = "closed"
	AccountPending  AccountStatus = "pending"
)

type InSchoolStatus string

const (
	InSchool    InSchoolStatus = "in_school"
	NotInSchool InSchoolStatus = "not_in_school"
)

type EducationLevel string

const (
	LevelPrimary       EducationLevel = "primary"
	LevelSecondary     EducationLevel = "secondary"
	LevelPostSecondary EducationLevel = "post_secondary"
	LevelTertiary      EducationLevel = "tertiary"
	LevelPostgraduate  EducationLevel = "postgraduate"
)

type ContinuingLearningStatus string

const (
	LearningActive    ContinuingLearningStatus = "active"
	LearningInactive  ContinuingLearningStatus = "inactive"
	LearningCompleted ContinuingLearningStatus = "completed"
)

// AccountHolder is a citizen with an education account. Balance is changed
// only by top-ups and charge payments, and every change has a matching
// ledger transaction.
type AccountHolder struct {
	ID                 string                   `json:"id"`
	NRIC               string                   `json:"nric"`
	Name               string                   `json:"name"`
	DateOfBirth        generic.Date             `json:"dateOfBirth"`
	Email              string                   `json:"email"`
	Phone              string                   `json:"phone,omitempty"`
	ResidentialAddress string                   `json:"residentialAddress,omitempty"`
	MailingAddress     string                   `json:"mailingAddress,omitempty"`
	Balance            decimal.Decimal          `json:"balance"`
	Status             AccountStatus            `json:"status"`
	InSchool           InSchoolStatus           `json:"inSchool"`
	EducationLevel     EducationLevel           `json:"educationLevel,omitempty"`
	ContinuingLearning ContinuingLearningStatus `json:"continuingLearning,omitempty"`
	CreatedAt          time.Time                `json:"createdAt"`
	UpdatedAt          time.Time                `json:"updatedAt"`
	ClosedAt           *time.Time               `json:"closedAt,omitempty"`
}

// Age returns the holder's age in completed years on the given day.
func (a AccountHolder) Age(asOf generic.Date) int {
	return generic.AgeOn(a.DateOfBirth, asOf)
}

// =============================================================================
// COURSE AND ENROLLMENT
// =============================================================================

type CourseStatus string

const (
	CourseActive   CourseStatus = "active"
	CourseInactive CourseStatus = "inactive"
)

// Course is a fee-paying program. Fee is charged once per billing cycle.
type Course struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	Provider       string               `json:"provider"`
	BillingCycle   generic.BillingCycle `json:"billingCycle"`
	Fee            decimal.Decimal      `json:"fee"`
	Description    string               `json:"description,omitempty"`
	Status         CourseStatus         `json:"status"`
	CourseRunStart generic.Date         `json:"courseRunStart"`
	CourseRunEnd   generic.Date         `json:"courseRunEnd"`
	IntakeSize     int                  `json:"intakeSize,omitempty"`
	MainLocation   string               `json:"mainLocation,omitempty"`
	ModeOfTraining string               `json:"modeOfTraining,omitempty"`
	RegisterBy     generic.Date         `json:"registerBy"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// Run returns the course run as a period. A missing end is open-ended.
func (c Course) Run() generic.Period {
	return generic.Period{Start: c.CourseRunStart, End: c.CourseRunEnd}
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentWithdrawn EnrollmentStatus = "withdrawn"
)

type Enrollment struct {
	ID             string           `json:"id"`
	AccountID      string           `json:"accountId"`
	CourseID       string           `json:"courseId"`
	EnrollmentDate generic.Date     `json:"enrollmentDate"`
	Status         EnrollmentStatus `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// =============================================================================
// COURSE CHARGE
// =============================================================================

type ChargeStatus string

const (
	ChargeOutstanding   ChargeStatus = "outstanding"
	ChargePending       ChargeStatus = "pending"
	ChargeOverdue       ChargeStatus = "overdue"
	ChargePartiallyPaid ChargeStatus = "partially_paid"
	ChargePaid          ChargeStatus = "paid"
)

// chargeClear is an older spelling of paid still found in stored data.
const chargeClear = "clear"

// Normalize maps the clear alias to paid.
func (s ChargeStatus) Normalize() ChargeStatus {
	if s == chargeClear {
		return ChargePaid
	}
	return s
}

// MarshalJSON always writes the canonical status.
func (s ChargeStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s.Normalize()))
}

// UnmarshalJSON accepts "clear" as a synonym of paid.
func (s *ChargeStatus) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*s = ChargeStatus(v).Normalize()
	return nil
}

// Unpaid reports whether the charge still needs payment.
func (s ChargeStatus) Unpaid() bool {
	switch s {
	case ChargeOutstanding, ChargePending, ChargeOverdue, ChargePartiallyPaid:
		return true
	}
	return false
}

// CourseCharge is the fee for one billing cycle of one enrollment.
// AmountPaid never decreases and never exceeds Amount.
type CourseCharge struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"accountId"`
	CourseID      string          `json:"courseId"`
	CourseName    string          `json:"courseName"`
	Amount        decimal.Decimal `json:"amount"`
	AmountPaid    decimal.Decimal `json:"amountPaid"`
	DueDate       generic.Date    `json:"dueDate"`
	Status        ChargeStatus    `json:"status"`
	PaidDate      generic.Date    `json:"paidDate"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Due is the amount still owed on the charge.
func (c CourseCharge) Due() decimal.Decimal {
	due := c.Amount.Sub(c.AmountPaid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}

// =============================================================================
// TOP-UP RULE AND SCHEDULE
// =============================================================================

type RuleStatus string

const (
	RuleActive   RuleStatus = "active"
	RuleInactive RuleStatus = "inactive"
)

// TopUpRule selects accounts for a batch top-up. Nil criteria are not
// checked; zero values are real bounds.
type TopUpRule struct {
	ID                 string                    `json:"id"`
	Name               string                    `json:"name"`
	MinAge             *int                      `json:"minAge,omitempty"`
	MaxAge             *int                      `json:"maxAge,omitempty"`
	MinBalance         *decimal.Decimal          `json:"minBalance,omitempty"`
	MaxBalance         *decimal.Decimal          `json:"maxBalance,omitempty"`
	InSchool           *InSchoolStatus           `json:"inSchool,omitempty"`
	EducationLevel     *EducationLevel           `json:"educationLevel,omitempty"`
	ContinuingLearning *ContinuingLearningStatus `json:"continuingLearning,omitempty"`
	Amount             decimal.Decimal           `json:"amount"`
	Status             RuleStatus                `json:"status"`
	ValidFrom          generic.Date              `json:"validFrom"`
	ValidTo            generic.Date              `json:"validTo"`
	CreatedAt          time.Time                 `json:"createdAt"`
	UpdatedAt          time.Time                 `json:"updatedAt"`
}

// AgeRange and BalanceRange expose the bounds as generic ranges.
func (r TopUpRule) AgeRange() generic.IntRange {
	return generic.IntRange{Min: r.MinAge, Max: r.MaxAge}
}

func (r TopUpRule) BalanceRange() generic.DecimalRange {
	return generic.DecimalRange{Min: r.MinBalance, Max: r.MaxBalance}
}

// Validity returns the window in which the rule may be scheduled.
func (r TopUpRule) Validity() generic.Period {
	return generic.Period{Start: r.ValidFrom, End: r.ValidTo}
}

type ScheduleType string

const (
	ScheduleBatch      ScheduleType = "batch"
	ScheduleIndividual ScheduleType = "individual"
)

type ScheduleStatus string

const (
	ScheduleScheduled  ScheduleStatus = "scheduled"
	ScheduleProcessing ScheduleStatus = "processing"
	ScheduleCompleted  ScheduleStatus = "completed"
	ScheduleFailed     ScheduleStatus = "failed"
	ScheduleCanceled   ScheduleStatus = "canceled"
)

// TopUpSchedule is a planned top-up: batch (by rule) or individual (one account).
type TopUpSchedule struct {
	ID             string          `json:"id"`
	Type           ScheduleType    `json:"type"`
	ScheduledDate  generic.Date    `json:"scheduledDate"`
	ScheduledTime  string          `json:"scheduledTime,omitempty"` // "15:04"
	ExecutedDate   *time.Time      `json:"executedDate,omitempty"`
	Status         ScheduleStatus  `json:"status"`
	Amount         decimal.Decimal `json:"amount"`
	RuleID         string          `json:"ruleId,omitempty"`
	RuleName       string          `json:"ruleName,omitempty"`
	AccountID      string          `json:"accountId,omitempty"`
	AccountName    string          `json:"accountName,omitempty"`
	EligibleCount  int             `json:"eligibleCount"`
	ProcessedCount int             `json:"processedCount"`
	Remarks        string          `json:"remarks,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// DueAt returns the instant the schedule should run. A missing or
// malformed time means the start of the scheduled day.
func (s TopUpSchedule) DueAt() time.Time {
	due := s.ScheduledDate.Time
	if s.ScheduledTime == "" {
		return due
	}
	t, err := time.Parse("15:04", s.ScheduledTime)
	if err != nil {
		return due
	}
	return due.Add(time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute)
}

// =============================================================================
// NRIC REGISTRY
// =============================================================================

// NricRecord is a national registry entry used to pre-fill new accounts.
type NricRecord struct {
	ID          string       `json:"id"`
	NRIC        string       `json:"nric"`
	FullName    string       `json:"fullName"`
	DateOfBirth generic.Date `json:"dateOfBirth"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// =============================================================================
// SESSION
// =============================================================================

type Role string

const (
	RoleAdmin         Role = "admin"
	RoleAccountHolder Role = "account_holder"
	RoleSystem        Role = "system"
)

// Session identifies who is calling the engine. For account holders the
// ActorID is their account id.
type Session struct {
	ActorID string
	Role    Role
}

// SystemSession is used by background jobs.
var SystemSession = Session{ActorID: "system", Role: RoleSystem}

// IsStaff reports whether the session may run administrative operations.
func (s Session) IsStaff() bool {
	return s.Role == RoleAdmin || s.Role == RoleSystem
}

// CanActOn reports whether the session may act on the given account.
func (s Session) CanActOn(accountID string) bool {
	return s.IsStaff() || (s.Role == RoleAccountHolder && s.ActorID != "" && s.ActorID == accountID)
}
