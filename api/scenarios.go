/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Populates the store with realistic programme data for demos and manual
	testing. Each scenario creates registry entries, accounts, courses,
	charges, rules and schedules that show specific features.

AVAILABLE SCENARIOS:

	demo:           Five students, nine courses, charges in every payment
	                state, the standard rules and a top-up history
	payment-split:  One student whose balance cannot cover the next fee,
	                so the charge must be paid partly from outside
	batch-topup:    Students plus the standard rules and a batch top-up
	                that is due now

HOW SCENARIOS WORK:
 1. Reset the store (clear all collections)
 2. Write the NRIC registry and accounts, each funded by an opening top-up
 3. Create courses, enrollments and charges dated relative to today
 4. Create rules from the factory presets for the current year
 5. Add schedules: completed history, upcoming and canceled

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "demo"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - factory/presets.go: Rule JSON definitions
  - cmd/server/main.go: SEED_ON_START
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/factory"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "demo",
		Name:        "Programme Demo",
		Description: "Five students, nine courses, charges in every payment state and a top-up history",
	},
	{
		ID:          "payment-split",
		Name:        "Payment Split",
		Description: "Balance of $300 against a $450 fee: pay the rest by card or PayNow",
	},
	{
		ID:          "batch-topup",
		Name:        "Batch Top-up",
		Description: "Standard rules with a batch top-up due now, ready to execute",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}
	if err := h.Seed(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.store().Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Seed resets the store and loads the named scenario.
func (h *Handler) Seed(ctx context.Context, scenarioID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store().Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	h.currentScenario = ""

	s := &seeder{store: h.store(), engine: h.Engine, rules: h.Rules, now: h.Engine.Now()}
	var err error
	switch scenarioID {
	case "demo":
		err = s.loadDemo(ctx)
	case "payment-split":
		err = s.loadPaymentSplit(ctx)
	case "batch-topup":
		err = s.loadBatchTopUp(ctx)
	default:
		return fmt.Errorf("unknown scenario %q", scenarioID)
	}
	if err != nil {
		return err
	}

	h.currentScenario = scenarioID
	log.Info().Str("scenario", scenarioID).Msg("scenario loaded")
	return nil
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// SEED DATA
// =============================================================================

var registry = []struct{ nric, name, dob string }{
	{"S9001234A", "Tan Wei Ming", "1998-03-15"},
	{"S9205678B", "Lee Xin Yi", "2000-07-22"},
	{"S8809012C", "Muhammad Rizwan", "1988-11-08"},
	{"S9503456D", "Priya Nair", "2003-02-14"},
	{"S9107890E", "Chen Jia Hui", "1999-09-30"},
	{"S9612345F", "Wong Kai Xuan", "2004-05-18"},
	{"S9306789G", "Nurul Aisyah", "2001-12-03"},
	{"S8701234H", "Lim Jun Jie", "1987-06-25"},
	{"S9408765I", "Rajesh Kumar", "2002-08-11"},
	{"S9804321J", "Ong Mei Ling", "2006-01-27"},
	{"S8912345K", "Ahmad Faizal", "1989-04-19"},
	{"S9709876L", "Goh Shu Fen", "2005-10-06"},
	{"S9201357M", "Siti Rahimah", "2000-03-29"},
	{"S9502468N", "Koh Zhi Hao", "2003-07-14"},
	{"S8803579P", "Deepa Krishnan", "1988-12-21"},
	{"S9604680Q", "Teo Wen Jun", "2004-09-02"},
}

var demoAccounts = []education.AccountHolder{
	{
		NRIC: "S9001234A", Name: "Dave Dao", DateOfBirth: generic.MustParseDate("1998-03-15"),
		Email: "dave.dao@email.com", Phone: "+65 9123 4567",
		ResidentialAddress: "Blk 123 Ang Mo Kio Ave 3 #08-456 Singapore 560123",
		Balance:            generic.MustParseMoney("5000"),
		InSchool:           education.InSchool, EducationLevel: education.LevelTertiary,
		ContinuingLearning: education.LearningActive,
	},
	{
		NRIC: "S9205678B", Name: "Eric Nguyen", DateOfBirth: generic.MustParseDate("2000-07-22"),
		Email: "eric.nguyen@email.com", Phone: "+65 9234 5678",
		ResidentialAddress: "Blk 45 Tampines St 42 #05-112 Singapore 520045",
		Balance:            generic.MustParseMoney("3500"),
		InSchool:           education.InSchool, EducationLevel: education.LevelPostSecondary,
		ContinuingLearning: education.LearningActive,
	},
	{
		NRIC: "S8809012C", Name: "Tim Nguyen", DateOfBirth: generic.MustParseDate("1988-11-08"),
		Email: "tim.nguyen@email.com", Phone: "+65 9345 6789",
		ResidentialAddress: "10 Jurong West St 91 #12-34 Singapore 640010",
		Balance:            generic.MustParseMoney("8000"),
		InSchool:           education.NotInSchool, EducationLevel: education.LevelTertiary,
		ContinuingLearning: education.LearningInactive,
	},
	{
		NRIC: "S9503456D", Name: "Tracy Tran", DateOfBirth: generic.MustParseDate("2003-02-14"),
		Email: "tracy.tran@email.com", Phone: "+65 9456 7890",
		ResidentialAddress: "Blk 789 Woodlands Dr 60 #03-221 Singapore 730789",
		Balance:            generic.MustParseMoney("2000"),
		InSchool:           education.InSchool, EducationLevel: education.LevelTertiary,
		ContinuingLearning: education.LearningActive,
	},
	{
		NRIC: "S9107890E", Name: "Kyan Le", DateOfBirth: generic.MustParseDate("1999-09-30"),
		Email: "kyan.le@email.com", Phone: "+65 9567 8901",
		ResidentialAddress: "25 Bedok North Ave 1 #07-88 Singapore 460025",
		Balance:            generic.MustParseMoney("6500"),
		InSchool:           education.InSchool, EducationLevel: education.LevelPostgraduate,
		ContinuingLearning: education.LearningActive,
	},
}

var demoCourses = []struct {
	name, provider, cycle, fee, start, end, location, mode string
}{
	{"Diploma in Information Technology", "Ngee Ann Polytechnic", "monthly", "450", "2025-04-01", "2027-03-31", "Clementi", "Full-time"},
	{"Diploma in Business Administration", "Singapore Polytechnic", "monthly", "380", "2025-05-01", "2027-04-30", "Dover", "Full-time"},
	{"Certificate in Data Analytics", "SkillsFuture Singapore", "quarterly", "1200", "2025-06-01", "2025-12-31", "Online", "Part-time"},
	{"Bachelor of Engineering (Computer)", "National University of Singapore", "monthly", "650", "2025-08-01", "2029-05-31", "Kent Ridge", "Full-time"},
	{"Advanced Certificate in Digital Marketing", "Temasek Polytechnic", "monthly", "320", "2025-03-01", "2025-09-30", "Tampines", "Part-time"},
	{"Diploma in Cybersecurity", "Nanyang Polytechnic", "monthly", "480", "2025-04-15", "2027-04-14", "Ang Mo Kio", "Full-time"},
	{"Professional Certificate in AI and Machine Learning", "SkillsFuture Singapore", "quarterly", "1500", "2025-07-01", "2026-01-31", "Online", "Part-time"},
	{"Diploma in Financial Services", "Republic Polytechnic", "monthly", "420", "2025-05-15", "2027-05-14", "Woodlands", "Full-time"},
	{"Certificate in Web Development", "SkillsFuture Singapore", "monthly", "300", "2025-01-01", "2025-12-31", "Online", "Part-time"},
}

// =============================================================================
// SEEDER
// =============================================================================

// seeder writes scenario data. Accounts are written directly with their
// opening balance and a matching top-up, so statements reconcile.
type seeder struct {
	store  *education.Store
	engine *education.Engine
	rules  *factory.RuleFactory
	now    time.Time
}

// monthDay is the given day of the month offset from the current one.
func (s *seeder) monthDay(offset, day int) generic.Date {
	return generic.DateOf(time.Date(s.now.Year(), s.now.Month()+time.Month(offset), day, 0, 0, 0, 0, time.UTC))
}

func (s *seeder) today() generic.Date {
	return generic.DateOf(s.now)
}

func (s *seeder) registry(ctx context.Context) error {
	for _, rec := range registry {
		if _, err := s.store.Nric.Create(ctx, education.NricRecord{
			NRIC:        rec.nric,
			FullName:    rec.name,
			DateOfBirth: generic.MustParseDate(rec.dob),
		}); err != nil {
			return fmt.Errorf("registry %s: %w", rec.nric, err)
		}
	}
	return nil
}

func (s *seeder) account(ctx context.Context, acc education.AccountHolder, reference string) (education.AccountHolder, error) {
	acc.Status = education.AccountActive
	created, err := s.store.Accounts.Create(ctx, acc)
	if err != nil {
		return education.AccountHolder{}, fmt.Errorf("account %s: %w", acc.Name, err)
	}
	if created.Balance.IsPositive() {
		if _, err := s.store.Ledger.Append(ctx, generic.Transaction{
			AccountID:   created.ID,
			Type:        generic.TxTopUp,
			Amount:      created.Balance,
			Description: "Initial account funding",
			Reference:   reference,
		}); err != nil {
			return education.AccountHolder{}, fmt.Errorf("opening balance for %s: %w", acc.Name, err)
		}
	}
	return created, nil
}

func (s *seeder) accounts(ctx context.Context, list []education.AccountHolder) ([]education.AccountHolder, error) {
	out := make([]education.AccountHolder, 0, len(list))
	for i, acc := range list {
		created, err := s.account(ctx, acc, fmt.Sprintf("INIT-%03d", i+1))
		if err != nil {
			return nil, err
		}
		out = append(out, created)
	}
	return out, nil
}

func (s *seeder) courses(ctx context.Context) ([]education.Course, error) {
	out := make([]education.Course, 0, len(demoCourses))
	for _, c := range demoCourses {
		start := generic.MustParseDate(c.start)
		created, err := s.engine.CreateCourse(ctx, education.SystemSession, education.Course{
			Name:           c.name,
			Provider:       c.provider,
			BillingCycle:   generic.BillingCycle(c.cycle),
			Fee:            generic.MustParseMoney(c.fee),
			CourseRunStart: start,
			CourseRunEnd:   generic.MustParseDate(c.end),
			RegisterBy:     start.AddDays(-14),
			IntakeSize:     40,
			MainLocation:   c.location,
			ModeOfTraining: c.mode,
		})
		if err != nil {
			return nil, fmt.Errorf("course %s: %w", c.name, err)
		}
		out = append(out, created)
	}
	return out, nil
}

func (s *seeder) enroll(ctx context.Context, acc education.AccountHolder, course education.Course, status education.EnrollmentStatus) error {
	_, err := s.store.Enrollments.Create(ctx, education.Enrollment{
		AccountID:      acc.ID,
		CourseID:       course.ID,
		EnrollmentDate: course.CourseRunStart,
		Status:         status,
	})
	if err != nil {
		return fmt.Errorf("enroll %s in %s: %w", acc.Name, course.Name, err)
	}
	return nil
}

// charge stores a charge. A charge marked paid was settled in full from
// the balance before the scenario starts.
func (s *seeder) charge(ctx context.Context, acc education.AccountHolder, course education.Course, due generic.Date, status education.ChargeStatus, method string) error {
	c := education.CourseCharge{
		AccountID:  acc.ID,
		CourseID:   course.ID,
		CourseName: course.Name,
		Amount:     course.Fee,
		AmountPaid: decimal.Zero,
		DueDate:    due,
		Status:     status,
	}
	if status == education.ChargePaid {
		c.AmountPaid = course.Fee
		c.PaidDate = due.AddDays(-3)
		c.PaymentMethod = method
	}
	if _, err := s.store.Charges.Create(ctx, c); err != nil {
		return fmt.Errorf("charge %s for %s: %w", course.Name, acc.Name, err)
	}
	return nil
}

func (s *seeder) standardRules(ctx context.Context) ([]education.TopUpRule, error) {
	parsed, err := s.rules.ParseRules(factory.StandardRulesJSON(s.now.Year()))
	if err != nil {
		return nil, fmt.Errorf("parse standard rules: %w", err)
	}
	out := make([]education.TopUpRule, 0, len(parsed))
	for _, rule := range parsed {
		created, err := s.engine.CreateRule(ctx, education.SystemSession, rule)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.Name, err)
		}
		out = append(out, created)
	}
	return out, nil
}

func (s *seeder) schedule(ctx context.Context, sched education.TopUpSchedule) error {
	if _, err := s.store.Schedules.Create(ctx, sched); err != nil {
		return fmt.Errorf("schedule %s: %w", sched.Remarks, err)
	}
	return nil
}

// batch builds a batch schedule for a rule, counting the accounts eligible
// on the scheduled date.
func (s *seeder) batch(accounts []education.AccountHolder, rule education.TopUpRule, on generic.Date, status education.ScheduleStatus, remarks string) education.TopUpSchedule {
	eligible := len(education.EligibleAccounts(accounts, rule, on))
	sched := education.TopUpSchedule{
		Type:          education.ScheduleBatch,
		ScheduledDate: on,
		ScheduledTime: "09:00",
		Status:        status,
		Amount:        rule.Amount,
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		EligibleCount: eligible,
		Remarks:       remarks,
	}
	if status == education.ScheduleCompleted {
		executed := on.Time.Add(9 * time.Hour)
		sched.ExecutedDate = &executed
		sched.ProcessedCount = eligible
	}
	return sched
}

func (s *seeder) individual(acc education.AccountHolder, amount string, on generic.Date, status education.ScheduleStatus, remarks string) education.TopUpSchedule {
	sched := education.TopUpSchedule{
		Type:          education.ScheduleIndividual,
		ScheduledDate: on,
		ScheduledTime: "10:00",
		Status:        status,
		Amount:        generic.MustParseMoney(amount),
		AccountID:     acc.ID,
		AccountName:   acc.Name,
		EligibleCount: 1,
		Remarks:       remarks,
	}
	if status == education.ScheduleCompleted {
		executed := on.Time.Add(10 * time.Hour)
		sched.ExecutedDate = &executed
		sched.ProcessedCount = 1
	}
	return sched
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (s *seeder) loadDemo(ctx context.Context) error {
	if err := s.registry(ctx); err != nil {
		return err
	}
	accs, err := s.accounts(ctx, demoAccounts)
	if err != nil {
		return err
	}
	dave, eric, tim, tracy, kyan := accs[0], accs[1], accs[2], accs[3], accs[4]

	courses, err := s.courses(ctx)
	if err != nil {
		return err
	}

	enrollments := []struct {
		acc    education.AccountHolder
		course int
		status education.EnrollmentStatus
	}{
		{dave, 0, education.EnrollmentActive},
		{dave, 5, education.EnrollmentActive},
		{dave, 6, education.EnrollmentActive},
		{eric, 1, education.EnrollmentActive},
		{eric, 4, education.EnrollmentActive},
		{tracy, 3, education.EnrollmentActive},
		{tracy, 0, education.EnrollmentActive},
		{tracy, 8, education.EnrollmentCompleted},
		{kyan, 7, education.EnrollmentActive},
		{kyan, 2, education.EnrollmentActive},
	}
	for _, e := range enrollments {
		if err := s.enroll(ctx, e.acc, courses[e.course], e.status); err != nil {
			return err
		}
	}

	charges := []struct {
		acc    education.AccountHolder
		course int
		due    generic.Date
		status education.ChargeStatus
		method string
	}{
		// Dave: settled history, the current month outstanding
		{dave, 0, s.monthDay(-2, 5), education.ChargePaid, "account_balance"},
		{dave, 0, s.monthDay(-1, 5), education.ChargePaid, "account_balance"},
		{dave, 0, s.monthDay(0, 25), education.ChargeOutstanding, ""},
		{dave, 5, s.monthDay(-1, 15), education.ChargePaid, "account_balance"},
		{dave, 5, s.monthDay(0, 28), education.ChargePending, ""},
		{dave, 6, s.monthDay(1, 1), education.ChargePending, ""},
		// Eric: one fee missed last month
		{eric, 1, s.monthDay(-1, 1), education.ChargePaid, "account_balance"},
		{eric, 1, s.monthDay(0, 1), education.ChargeOutstanding, ""},
		{eric, 4, s.monthDay(0, 20), education.ChargePending, ""},
		// Tracy: outstanding, scheduled and fully paid courses
		{tracy, 3, s.monthDay(-1, 1), education.ChargeOutstanding, ""},
		{tracy, 3, s.monthDay(0, 1), education.ChargeOutstanding, ""},
		{tracy, 0, s.monthDay(-1, 5), education.ChargePaid, "account_balance"},
		{tracy, 0, s.monthDay(0, 25), education.ChargePending, ""},
		{tracy, 8, s.monthDay(-2, 1), education.ChargePaid, "account_balance"},
		{tracy, 8, s.monthDay(-1, 1), education.ChargePaid, "account_balance"},
		// Kyan: all settled except the next quarter
		{kyan, 7, s.monthDay(-1, 15), education.ChargePaid, "account_balance"},
		{kyan, 7, s.monthDay(0, 15), education.ChargePaid, "account_balance"},
		{kyan, 2, s.monthDay(1, 1), education.ChargePending, ""},
	}
	for _, c := range charges {
		if err := s.charge(ctx, c.acc, courses[c.course], c.due, c.status, c.method); err != nil {
			return err
		}
	}
	// Past-due charges become overdue the same way the nightly job would.
	if _, err := s.engine.SweepOverdue(ctx); err != nil {
		return fmt.Errorf("sweep overdue: %w", err)
	}

	rules, err := s.standardRules(ctx)
	if err != nil {
		return err
	}
	tertiary, postSecondary, skillUpgrade, lowBalance := rules[0], rules[1], rules[2], rules[3]

	schedules := []education.TopUpSchedule{
		s.batch(accs, tertiary, s.monthDay(-5, 15), education.ScheduleCompleted, "Annual tertiary support"),
		s.batch(accs, postSecondary, s.monthDay(-3, 1), education.ScheduleCompleted, "Quarterly post-secondary top-up"),
		s.batch(accs, skillUpgrade, s.monthDay(-2, 10), education.ScheduleCompleted, "Skill upgrade grant"),
		s.individual(tim, "500", s.monthDay(-1, 20), education.ScheduleCompleted, "Manual adjustment"),
		s.batch(accs, postSecondary, s.monthDay(1, 1), education.ScheduleScheduled, "Next quarterly top-up"),
		s.batch(accs, lowBalance, s.monthDay(1, 20), education.ScheduleScheduled, "Low balance support"),
		s.individual(tracy, "800", s.monthDay(1, 25), education.ScheduleScheduled, "Hardship assistance"),
		s.individual(eric, "300", s.monthDay(2, 5), education.ScheduleScheduled, "Course materials support"),
		s.batch(accs, skillUpgrade, s.monthDay(-1, 15), education.ScheduleCanceled, "Superseded by revised grant"),
		s.individual(kyan, "250", s.monthDay(-1, 10), education.ScheduleCanceled, "Duplicate request"),
	}
	for _, sched := range schedules {
		if err := s.schedule(ctx, sched); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) loadPaymentSplit(ctx context.Context) error {
	if err := s.registry(ctx); err != nil {
		return err
	}
	acc := demoAccounts[0]
	acc.Balance = generic.MustParseMoney("300")
	dave, err := s.account(ctx, acc, "INIT-001")
	if err != nil {
		return err
	}
	courses, err := s.courses(ctx)
	if err != nil {
		return err
	}
	it := courses[0]
	if err := s.enroll(ctx, dave, it, education.EnrollmentActive); err != nil {
		return err
	}
	if err := s.charge(ctx, dave, it, s.monthDay(-1, 5), education.ChargePaid, "account_balance"); err != nil {
		return err
	}
	return s.charge(ctx, dave, it, s.today().AddDays(7), education.ChargeOutstanding, "")
}

func (s *seeder) loadBatchTopUp(ctx context.Context) error {
	if err := s.registry(ctx); err != nil {
		return err
	}
	accs, err := s.accounts(ctx, demoAccounts)
	if err != nil {
		return err
	}
	rules, err := s.standardRules(ctx)
	if err != nil {
		return err
	}
	due := s.batch(accs, rules[0], s.today(), education.ScheduleScheduled, "Annual tertiary support")
	due.ScheduledTime = ""
	return s.schedule(ctx, due)
}
