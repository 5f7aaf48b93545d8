package education

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// ValidateCourse checks the fields billing depends on.
func ValidateCourse(c Course) error {
	if !c.Fee.IsPositive() {
		return fmt.Errorf("course fee must be positive: %w", generic.ErrInvalidAmount)
	}
	if !c.BillingCycle.Valid() {
		return fmt.Errorf("billing cycle %q: %w", c.BillingCycle, generic.ErrInvalidCourse)
	}
	if !c.CourseRunStart.IsZero() && !c.CourseRunEnd.IsZero() && c.CourseRunEnd.Before(c.CourseRunStart) {
		return fmt.Errorf("course run ends before it starts: %w", generic.ErrInvalidCourse)
	}
	return nil
}

// CreateCourse stores a new course. An empty status means active.
func (e *Engine) CreateCourse(ctx context.Context, sess Session, c Course) (Course, error) {
	if err := requireStaff(sess); err != nil {
		return Course{}, err
	}
	if err := ValidateCourse(c); err != nil {
		return Course{}, err
	}
	if c.Status == "" {
		c.Status = CourseActive
	}
	created, err := e.store.Courses.Create(ctx, c)
	if err != nil {
		return Course{}, err
	}
	log.Info().Str("course_id", created.ID).Str("name", created.Name).Msg("course created")
	return created, nil
}

// SetCourseStatus activates or deactivates a course. Existing enrollments
// and charges are not touched.
func (e *Engine) SetCourseStatus(ctx context.Context, sess Session, courseID string, status CourseStatus) error {
	if err := requireStaff(sess); err != nil {
		return err
	}
	if status != CourseActive && status != CourseInactive {
		return fmt.Errorf("course status %q: %w", status, generic.ErrInvalidCourse)
	}
	if _, err := e.store.course(ctx, courseID); err != nil {
		return err
	}
	return e.store.Courses.Update(ctx, courseID, generic.Patch{"status": status})
}
