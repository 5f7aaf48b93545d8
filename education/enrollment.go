package education

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// ENROLLMENT
// =============================================================================

// EnrollResult is the enrollment and the first charge created for it.
type EnrollResult struct {
	Enrollment Enrollment    `json:"enrollment"`
	Charge     *CourseCharge `json:"charge,omitempty"`
}

// Enroll adds an account to an active course and bills the first cycle.
// The charge is the course fee, due one cycle after today. If creating the
// charge fails the enrollment stays and the error is returned with it.
func (e *Engine) Enroll(ctx context.Context, sess Session, accountID, courseID string) (EnrollResult, error) {
	if err := requireStaff(sess); err != nil {
		return EnrollResult{}, err
	}
	acc, err := e.store.account(ctx, accountID)
	if err != nil {
		return EnrollResult{}, err
	}
	if acc.Status == AccountClosed {
		return EnrollResult{}, fmt.Errorf("%s: %w", accountID, generic.ErrAccountClosed)
	}
	course, err := e.store.course(ctx, courseID)
	if err != nil {
		return EnrollResult{}, err
	}
	if course.Status != CourseActive {
		return EnrollResult{}, fmt.Errorf("course %s is %s: %w", course.Name, course.Status, generic.ErrCourseInactive)
	}

	existing, err := e.store.Enrollments.GetByField(ctx, "accountId", accountID)
	if err != nil {
		return EnrollResult{}, err
	}
	for _, en := range existing {
		if en.CourseID == courseID && en.Status == EnrollmentActive {
			return EnrollResult{}, fmt.Errorf("%s in %s: %w", accountID, course.Name, generic.ErrAlreadyEnrolled)
		}
	}

	today := e.today()
	enrollment, err := e.store.Enrollments.Create(ctx, Enrollment{
		AccountID:      accountID,
		CourseID:       courseID,
		EnrollmentDate: today,
		Status:         EnrollmentActive,
	})
	if err != nil {
		return EnrollResult{}, err
	}
	result := EnrollResult{Enrollment: enrollment}

	charge, err := e.store.Charges.Create(ctx, CourseCharge{
		AccountID:  accountID,
		CourseID:   courseID,
		CourseName: course.Name,
		Amount:     course.Fee,
		AmountPaid: decimal.Zero,
		DueDate:    course.BillingCycle.DueDate(today),
		Status:     ChargeOutstanding,
	})
	if err != nil {
		log.Error().Err(err).Str("enrollment_id", enrollment.ID).Msg("enrolled but first charge not created")
		return result, &generic.ExecutionError{Operation: "enrollment " + enrollment.ID, Applied: 1, Err: err}
	}
	result.Charge = &charge

	log.Info().
		Str("account_id", accountID).
		Str("course_id", courseID).
		Str("charge_id", charge.ID).
		Str("due", charge.DueDate.String()).
		Msg("account enrolled")
	return result, nil
}

// Unenroll marks an enrollment withdrawn. Charges already billed are kept
// and the account may enroll in the course again.
func (e *Engine) Unenroll(ctx context.Context, sess Session, enrollmentID string) error {
	if err := requireStaff(sess); err != nil {
		return err
	}
	en, err := e.store.Enrollments.GetByID(ctx, enrollmentID)
	if err != nil {
		return err
	}
	if en == nil {
		return fmt.Errorf("enrollment %s: %w", enrollmentID, generic.ErrNotFound)
	}
	if en.Status == EnrollmentWithdrawn {
		return nil
	}
	log.Info().Str("enrollment_id", enrollmentID).Str("account_id", en.AccountID).Msg("enrollment withdrawn")
	return e.store.Enrollments.Update(ctx, enrollmentID, generic.Patch{"status": EnrollmentWithdrawn})
}

// =============================================================================
// CHARGES
// =============================================================================

// UnpaidCharges returns the account's unpaid charges, earliest due first.
func (e *Engine) UnpaidCharges(ctx context.Context, accountID string) ([]CourseCharge, error) {
	charges, err := e.store.Charges.GetByField(ctx, "accountId", accountID)
	if err != nil {
		return nil, err
	}
	var unpaid []CourseCharge
	for _, c := range charges {
		if c.Status.Unpaid() {
			unpaid = append(unpaid, c)
		}
	}
	sort.SliceStable(unpaid, func(i, j int) bool { return unpaid[i].DueDate.Before(unpaid[j].DueDate) })
	return unpaid, nil
}

// ChargesByStatus returns the charges in a status, newest first. Asking for
// paid also returns charges stored under the clear alias.
func (e *Engine) ChargesByStatus(ctx context.Context, status ChargeStatus) ([]CourseCharge, error) {
	status = status.Normalize()
	charges, err := e.store.Charges.GetByField(ctx, "status", string(status))
	if err != nil || status != ChargePaid {
		return charges, err
	}
	cleared, err := e.store.Charges.GetByField(ctx, "status", chargeClear)
	if err != nil {
		return nil, err
	}
	if len(cleared) == 0 {
		return charges, nil
	}
	charges = append(charges, cleared...)
	sort.SliceStable(charges, func(i, j int) bool { return charges[i].CreatedAt.After(charges[j].CreatedAt) })
	return charges, nil
}

// SweepOverdue marks outstanding and pending charges past their due date
// as overdue and returns the ids it changed.
func (e *Engine) SweepOverdue(ctx context.Context) ([]string, error) {
	charges, err := e.store.Charges.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	today := e.today()
	var changed []string
	for _, c := range charges {
		if c.Status != ChargeOutstanding && c.Status != ChargePending {
			continue
		}
		if c.DueDate.IsZero() || !c.DueDate.Before(today) {
			continue
		}
		if err := e.store.Charges.Update(ctx, c.ID, generic.Patch{"status": ChargeOverdue}); err != nil {
			return changed, err
		}
		changed = append(changed, c.ID)
	}
	if len(changed) > 0 {
		log.Info().Int("charges", len(changed)).Msg("charges marked overdue")
	}
	return changed, nil
}

// =============================================================================
// SUMMARIES
// =============================================================================

// EnrollmentSummary is the read model behind both portals' course lists.
type EnrollmentSummary struct {
	Enrollment      Enrollment      `json:"enrollment"`
	Course          Course          `json:"course"`
	TotalFee        decimal.Decimal `json:"totalFee"`
	TotalCollected  decimal.Decimal `json:"totalCollected"`
	Outstanding     decimal.Decimal `json:"outstanding"`
	ProjectedTotal  decimal.Decimal `json:"projectedTotal"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	NextPaymentDate generic.Date    `json:"nextPaymentDate"`
	Charges         []CourseCharge  `json:"charges"`
}

// EnrollmentSummaries builds a summary per enrollment of the account.
// Enrollments whose course no longer exists are skipped.
func (e *Engine) EnrollmentSummaries(ctx context.Context, sess Session, accountID string) ([]EnrollmentSummary, error) {
	if err := requireAccess(sess, accountID); err != nil {
		return nil, err
	}
	enrollments, err := e.store.Enrollments.GetByField(ctx, "accountId", accountID)
	if err != nil {
		return nil, err
	}
	charges, err := e.store.Charges.GetByField(ctx, "accountId", accountID)
	if err != nil {
		return nil, err
	}

	today := e.today()
	var out []EnrollmentSummary
	for _, en := range enrollments {
		course, err := e.store.Courses.GetByID(ctx, en.CourseID)
		if err != nil {
			return nil, err
		}
		if course == nil {
			continue
		}
		out = append(out, Summarize(en, *course, charges, today))
	}
	return out, nil
}

// Summarize computes one enrollment summary from the account's charges.
func Summarize(en Enrollment, course Course, accountCharges []CourseCharge, asOf generic.Date) EnrollmentSummary {
	s := EnrollmentSummary{
		Enrollment:      en,
		Course:          course,
		TotalFee:        decimal.Zero,
		TotalCollected:  decimal.Zero,
		Outstanding:     decimal.Zero,
		ProjectedTotal:  ProjectedTotalFee(course),
		NextPaymentDate: course.BillingCycle.NextPaymentDate(en.EnrollmentDate, asOf),
	}
	for _, c := range accountCharges {
		if c.CourseID != course.ID {
			continue
		}
		s.Charges = append(s.Charges, c)
		s.TotalFee = s.TotalFee.Add(c.Amount)
		if c.Status == ChargePaid {
			s.TotalCollected = s.TotalCollected.Add(c.Amount)
		} else {
			s.Outstanding = s.Outstanding.Add(c.Due())
		}
	}
	s.PaymentStatus = DerivePaymentStatus(s.Charges, course, asOf)
	return s
}
