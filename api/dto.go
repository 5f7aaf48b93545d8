/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request types carry
  validation tags; the handlers run them through validateRequest before
  anything reaches the engine. Responses mostly reuse the education types,
  which already carry their JSON names.

NAMING CONVENTION:
  - *Request: Request body types from clients
  - *DTO: Response types that are not education types
  - *Response: Complex response wrappers

VALIDATION:
  go-playground/validator with json tag names in error details. Custom tags:
    nric            9 characters after trimming
    billing_cycle   monthly | quarterly | biannually | yearly
    payment_method  credit_card | paynow | bank_transfer
  Rules that depend on stored data (balance, amount due, rule validity)
  are checked by the engine, not here.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON, the body of rule requests
*/
package api

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateAccountRequest opens an education account.
type CreateAccountRequest struct {
	NRIC               string `json:"nric" validate:"required,nric"`
	Name               string `json:"name" validate:"required,max=200"`
	DateOfBirth        string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	Email              string `json:"email" validate:"omitempty,email"`
	Phone              string `json:"phone"`
	ResidentialAddress string `json:"residentialAddress"`
	MailingAddress     string `json:"mailingAddress"`
	InSchool           string `json:"inSchool" validate:"omitempty,oneof=in_school not_in_school"`
	EducationLevel     string `json:"educationLevel" validate:"omitempty,oneof=primary secondary post_secondary tertiary postgraduate"`
	ContinuingLearning string `json:"continuingLearning" validate:"omitempty,oneof=active inactive completed"`
}

func (r CreateAccountRequest) toNewAccount() education.NewAccount {
	dob, _ := generic.ParseDate(r.DateOfBirth)
	return education.NewAccount{
		NRIC:               r.NRIC,
		Name:               strings.TrimSpace(r.Name),
		DateOfBirth:        dob,
		Email:              r.Email,
		Phone:              r.Phone,
		ResidentialAddress: r.ResidentialAddress,
		MailingAddress:     r.MailingAddress,
		InSchool:           education.InSchoolStatus(r.InSchool),
		EducationLevel:     education.EducationLevel(r.EducationLevel),
		ContinuingLearning: education.ContinuingLearningStatus(r.ContinuingLearning),
	}
}

// UpdateAccountRequest changes profile fields. Only fields present in the
// body are written; which of them a session may change is the engine's call.
type UpdateAccountRequest struct {
	Name               *string `json:"name" validate:"omitempty,min=1,max=200"`
	Email              *string `json:"email" validate:"omitempty,email"`
	Phone              *string `json:"phone"`
	ResidentialAddress *string `json:"residentialAddress"`
	MailingAddress     *string `json:"mailingAddress"`
	DateOfBirth        *string `json:"dateOfBirth" validate:"omitempty,datetime=2006-01-02"`
	InSchool           *string `json:"inSchool" validate:"omitempty,oneof=in_school not_in_school"`
	EducationLevel     *string `json:"educationLevel" validate:"omitempty,oneof=primary secondary post_secondary tertiary postgraduate"`
	ContinuingLearning *string `json:"continuingLearning" validate:"omitempty,oneof=active inactive completed"`
	Status             *string `json:"status" validate:"omitempty,oneof=active inactive pending closed"`
}

func (r UpdateAccountRequest) toPatch() generic.Patch {
	patch := generic.Patch{}
	set := func(key string, v *string) {
		if v != nil {
			patch[key] = *v
		}
	}
	set("name", r.Name)
	set("email", r.Email)
	set("phone", r.Phone)
	set("residentialAddress", r.ResidentialAddress)
	set("mailingAddress", r.MailingAddress)
	set("dateOfBirth", r.DateOfBirth)
	set("inSchool", r.InSchool)
	set("educationLevel", r.EducationLevel)
	set("continuingLearning", r.ContinuingLearning)
	set("status", r.Status)
	return patch
}

// CreateCourseRequest adds a course to the catalogue.
type CreateCourseRequest struct {
	Name           string          `json:"name" validate:"required"`
	Provider       string          `json:"provider" validate:"required"`
	BillingCycle   string          `json:"billingCycle" validate:"required,billing_cycle"`
	Fee            decimal.Decimal `json:"fee"`
	Description    string          `json:"description"`
	CourseRunStart string          `json:"courseRunStart" validate:"omitempty,datetime=2006-01-02"`
	CourseRunEnd   string          `json:"courseRunEnd" validate:"omitempty,datetime=2006-01-02"`
	IntakeSize     int             `json:"intakeSize" validate:"gte=0"`
	MainLocation   string          `json:"mainLocation"`
	ModeOfTraining string          `json:"modeOfTraining"`
	RegisterBy     string          `json:"registerBy" validate:"omitempty,datetime=2006-01-02"`
}

func (r CreateCourseRequest) toCourse() education.Course {
	start, _ := generic.ParseDate(r.CourseRunStart)
	end, _ := generic.ParseDate(r.CourseRunEnd)
	registerBy, _ := generic.ParseDate(r.RegisterBy)
	return education.Course{
		Name:           r.Name,
		Provider:       r.Provider,
		BillingCycle:   generic.BillingCycle(r.BillingCycle),
		Fee:            r.Fee,
		Description:    r.Description,
		CourseRunStart: start,
		CourseRunEnd:   end,
		IntakeSize:     r.IntakeSize,
		MainLocation:   r.MainLocation,
		ModeOfTraining: r.ModeOfTraining,
		RegisterBy:     registerBy,
	}
}

// CourseStatusRequest activates or deactivates a course.
type CourseStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive"`
}

// EnrollRequest enrolls an account in a course.
type EnrollRequest struct {
	AccountID string `json:"accountId" validate:"required"`
	CourseID  string `json:"courseId" validate:"required"`
}

// PaymentRequest is the balance/external split of a payment.
type PaymentRequest struct {
	BalanceAmount  decimal.Decimal `json:"balanceAmount"`
	ExternalAmount decimal.Decimal `json:"externalAmount"`
	ExternalMethod string          `json:"externalMethod" validate:"omitempty,payment_method"`
}

func (r PaymentRequest) toSplit() education.PaymentSplit {
	return education.PaymentSplit{
		BalanceAmount:  r.BalanceAmount,
		ExternalAmount: r.ExternalAmount,
		ExternalMethod: education.PaymentMethod(r.ExternalMethod),
	}
}

// BatchScheduleRequest schedules one batch top-up per rule.
type BatchScheduleRequest struct {
	RuleIDs       []string `json:"ruleIds" validate:"required,min=1,dive,required"`
	ScheduledDate string   `json:"scheduledDate" validate:"omitempty,datetime=2006-01-02"`
	ScheduledTime string   `json:"scheduledTime" validate:"omitempty,datetime=15:04"`
	Immediate     bool     `json:"immediate"`
	Remarks       string   `json:"remarks"`
}

// IndividualScheduleRequest schedules a top-up for one account.
type IndividualScheduleRequest struct {
	AccountID     string          `json:"accountId" validate:"required"`
	Amount        decimal.Decimal `json:"amount"`
	ScheduledDate string          `json:"scheduledDate" validate:"omitempty,datetime=2006-01-02"`
	ScheduledTime string          `json:"scheduledTime" validate:"omitempty,datetime=15:04"`
	Immediate     bool            `json:"immediate"`
	Remarks       string          `json:"remarks"`
}

func scheduleOptions(date, at string, immediate bool, remarks string) education.ScheduleOptions {
	d, _ := generic.ParseDate(date)
	return education.ScheduleOptions{Date: d, Time: at, Immediate: immediate, Remarks: remarks}
}

// LoadScenarioRequest selects a demo scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// AccountDetailDTO is the admin view of one student.
type AccountDetailDTO struct {
	Account        education.AccountHolder       `json:"account"`
	Age            int                           `json:"age"`
	Enrollments    []education.EnrollmentSummary `json:"enrollments"`
	UnpaidCharges  []education.CourseCharge      `json:"unpaidCharges"`
	OutstandingDue decimal.Decimal               `json:"outstandingDue"`
}

// DashboardDTO is the account holder's e-service landing page.
type DashboardDTO struct {
	Account        education.AccountHolder       `json:"account"`
	Enrollments    []education.EnrollmentSummary `json:"enrollments"`
	UnpaidCharges  []education.CourseCharge      `json:"unpaidCharges"`
	OutstandingDue decimal.Decimal               `json:"outstandingDue"`
	Recent         []generic.Transaction         `json:"recentTransactions"`
}

// SweepResultDTO lists charges the overdue sweep changed.
type SweepResultDTO struct {
	Updated []string `json:"updated"`
	Count   int      `json:"count"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// VALIDATION
// =============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Use JSON tag names in error details
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("nric", func(fl validator.FieldLevel) bool {
		_, err := education.NormalizeNRIC(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("billing_cycle", func(fl validator.FieldLevel) bool {
		return generic.BillingCycle(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		return education.PaymentMethod(fl.Field().String()).ValidExternal()
	})
	return v
}

// validateRequest returns a map of field errors, or nil.
func validateRequest(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"_": err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		name := fe.Field()
		switch fe.Tag() {
		case "required":
			fields[name] = "This field is required"
		case "email":
			fields[name] = "Invalid email format"
		case "datetime":
			fields[name] = "Must match " + fe.Param()
		case "oneof":
			fields[name] = "Must be one of: " + fe.Param()
		case "min", "max", "gte", "lte":
			fields[name] = "Out of range (" + fe.Tag() + " " + fe.Param() + ")"
		case "nric":
			fields[name] = "NRIC must be 9 characters"
		case "billing_cycle":
			fields[name] = "Must be monthly, quarterly, biannually or yearly"
		case "payment_method":
			fields[name] = "Must be credit_card, paynow or bank_transfer"
		default:
			fields[name] = "Invalid value"
		}
	}
	return fields
}

// monthParam parses "2006-01" into the statement period for that month.
// An empty value means the current month.
func monthParam(value string, now time.Time) (generic.Period, error) {
	if value == "" {
		return generic.MonthPeriod(now), nil
	}
	t, err := time.Parse("2006-01", value)
	if err != nil {
		return generic.Period{}, err
	}
	return generic.MonthPeriod(t), nil
}
