/*
handlers.go - HTTP API handlers for the education account program

PURPOSE:
  Exposes the education engine via REST API. Handles HTTP request/response,
  JSON serialization and request validation, and delegates to the engine.

ENDPOINTS (admin portal, /api/admin):
  Accounts:
    GET    /accounts                     List accounts (?status=)
    POST   /accounts                     Open an account
    GET    /accounts/{id}                Student detail with enrollments and dues
    PATCH  /accounts/{id}                Update profile fields
    POST   /accounts/{id}/close          Close the account
    GET    /accounts/{id}/charges        Every charge of the account
    GET    /accounts/{id}/transactions   Ledger, newest first
    GET    /accounts/{id}/statement      Monthly statement (?month=2006-01)
    GET    /nric/{nric}                  Registry lookup for auto-fill

  Courses and billing:
    GET    /courses, POST /courses, GET /courses/{id}
    PUT    /courses/{id}/status
    GET    /courses/{id}/enrollments
    POST   /enrollments                  Enroll and bill the first cycle
    DELETE /enrollments/{id}
    GET    /charges                      (?status=)
    POST   /charges/{id}/pay             Pay on the holder's behalf
    POST   /charges/sweep-overdue

  Top-ups: see topups.go. E-service portal: see eservice.go.

SESSIONS:
  There is no authentication. The caller names itself with the X-Actor-ID
  and X-Actor-Role headers and the engine authorizes against that session.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, business rule rejections
  - 403: Session may not act on the target
  - 404: Referenced document not found
  - 409: Conflict (duplicate NRIC, schedule not executable or locked)
  - 500: Internal errors, and operations that failed after partial writes

SEE ALSO:
  - dto.go: Request/response data structures
  - topups.go: Rule and schedule handlers
  - eservice.go: Account holder handlers
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/factory"
	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// Session headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *education.Engine
	Rules  *factory.RuleFactory

	// Jobs is optional; job endpoints answer 503 without it.
	Jobs *Scheduler

	mu              sync.Mutex
	currentScenario string
}

func NewHandler(engine *education.Engine) *Handler {
	return &Handler{
		Engine: engine,
		Rules:  factory.NewRuleFactory(),
	}
}

func (h *Handler) store() *education.Store {
	return h.Engine.Store()
}

// =============================================================================
// SESSION
// =============================================================================

type sessionKey struct{}

// withSession reads the session headers into the request context. A
// missing role falls back to defaultRole; an empty default leaves it unset
// so staff-only operations are refused.
func withSession(defaultRole education.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := education.Session{
				ActorID: strings.TrimSpace(r.Header.Get(HeaderActorID)),
				Role:    education.Role(strings.TrimSpace(r.Header.Get(HeaderActorRole))),
			}
			if sess.Role == "" {
				sess.Role = defaultRole
			}
			ctx := context.WithValue(r.Context(), sessionKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionFrom(r *http.Request) education.Session {
	sess, _ := r.Context().Value(sessionKey{}).(education.Session)
	return sess
}

// staffOnly guards read endpoints that go straight to the store.
func staffOnly(w http.ResponseWriter, r *http.Request) bool {
	if !sessionFrom(r).IsStaff() {
		writeEngineError(w, generic.ErrForbidden, nil)
		return false
	}
	return true
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all accounts, optionally filtered by status.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	var (
		accounts []education.AccountHolder
		err      error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		accounts, err = h.store().Accounts.GetByField(r.Context(), "status", status)
	} else {
		accounts, err = h.store().Accounts.GetAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(accounts))
}

// CreateAccount opens a new account with a zero balance.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	acc, err := h.Engine.CreateAccount(r.Context(), sessionFrom(r), req.toNewAccount())
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

// GetAccount returns the student detail view.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := sessionFrom(r)
	id := chi.URLParam(r, "id")

	acc, err := h.Engine.Account(ctx, sess, id)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	summaries, err := h.Engine.EnrollmentSummaries(ctx, sess, id)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	unpaid, err := h.Engine.UnpaidCharges(ctx, id)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}

	writeJSON(w, http.StatusOK, AccountDetailDTO{
		Account:        acc,
		Age:            acc.Age(generic.DateOf(h.Engine.Now())),
		Enrollments:    nonNil(summaries),
		UnpaidCharges:  nonNil(unpaid),
		OutstandingDue: totalDue(unpaid),
	})
}

// UpdateAccount patches profile fields.
func (h *Handler) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	var req UpdateAccountRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	acc, err := h.Engine.UpdateAccount(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), req.toPatch())
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// CloseAccount marks an account closed.
func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.Engine.CloseAccount(r.Context(), sessionFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

// GetAccountCharges returns every charge of an account, paid ones included.
func (h *Handler) GetAccountCharges(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !sessionFrom(r).CanActOn(id) {
		writeEngineError(w, generic.ErrForbidden, nil)
		return
	}
	charges, err := h.store().Charges.GetByField(r.Context(), "accountId", id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(charges))
}

// GetTransactions returns the account's ledger, newest first.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	h.writeTransactions(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) writeTransactions(w http.ResponseWriter, r *http.Request, accountID string) {
	if !sessionFrom(r).CanActOn(accountID) {
		writeEngineError(w, generic.ErrForbidden, nil)
		return
	}
	txs, err := h.store().Ledger.ForAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(txs))
}

// GetStatement returns the monthly statement of an account.
func (h *Handler) GetStatement(w http.ResponseWriter, r *http.Request) {
	h.writeStatement(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) writeStatement(w http.ResponseWriter, r *http.Request, accountID string) {
	period, err := monthParam(r.URL.Query().Get("month"), h.Engine.Now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM", err)
		return
	}
	st, err := h.Engine.Statement(r.Context(), sessionFrom(r), accountID, period)
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// LookupNRIC returns the registry entry for an NRIC.
func (h *Handler) LookupNRIC(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	rec, err := h.Engine.LookupNRIC(r.Context(), chi.URLParam(r, "nric"))
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// =============================================================================
// COURSE HANDLERS
// =============================================================================

// ListCourses returns the catalogue, optionally filtered by status.
func (h *Handler) ListCourses(w http.ResponseWriter, r *http.Request) {
	var (
		courses []education.Course
		err     error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		courses, err = h.store().Courses.GetByField(r.Context(), "status", status)
	} else {
		courses, err = h.store().Courses.GetAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list courses", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(courses))
}

// CreateCourse adds a course.
func (h *Handler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	var req CreateCourseRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	course, err := h.Engine.CreateCourse(r.Context(), sessionFrom(r), req.toCourse())
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, course)
}

// GetCourse returns one course.
func (h *Handler) GetCourse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	course, err := h.store().Courses.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get course", err)
		return
	}
	if course == nil {
		writeEngineError(w, generic.ErrCourseNotFound, nil)
		return
	}
	writeJSON(w, http.StatusOK, course)
}

// SetCourseStatus activates or deactivates a course.
func (h *Handler) SetCourseStatus(w http.ResponseWriter, r *http.Request) {
	var req CourseStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	id := chi.URLParam(r, "id")
	if err := h.Engine.SetCourseStatus(r.Context(), sessionFrom(r), id, education.CourseStatus(req.Status)); err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": req.Status})
}

// GetCourseEnrollments lists the enrollments of a course.
func (h *Handler) GetCourseEnrollments(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	enrollments, err := h.store().Enrollments.GetByField(r.Context(), "courseId", chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list enrollments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(enrollments))
}

// =============================================================================
// ENROLLMENT AND CHARGE HANDLERS
// =============================================================================

// Enroll enrolls an account and bills the first cycle.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.Engine.Enroll(r.Context(), sessionFrom(r), req.AccountID, req.CourseID)
	if err != nil {
		writeEngineError(w, err, result)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// Unenroll withdraws an enrollment. Its charges stay on the account.
func (h *Handler) Unenroll(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Unenroll(r.Context(), sessionFrom(r), chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListCharges returns all charges, optionally filtered by status.
func (h *Handler) ListCharges(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	var (
		charges []education.CourseCharge
		err     error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		charges, err = h.Engine.ChargesByStatus(r.Context(), education.ChargeStatus(status))
	} else {
		charges, err = h.store().Charges.GetAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list charges", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(charges))
}

// PayCharge settles one charge with a balance/external split.
func (h *Handler) PayCharge(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	result, err := h.Engine.Pay(r.Context(), sessionFrom(r), chi.URLParam(r, "id"), req.toSplit())
	if err != nil {
		writeEngineError(w, err, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SweepOverdue marks past-due charges overdue.
func (h *Handler) SweepOverdue(w http.ResponseWriter, r *http.Request) {
	if !staffOnly(w, r) {
		return
	}
	updated, err := h.Engine.SweepOverdue(r.Context())
	if err != nil {
		writeEngineError(w, err, SweepResultDTO{Updated: nonNil(updated), Count: len(updated)})
		return
	}
	writeJSON(w, http.StatusOK, SweepResultDTO{Updated: nonNil(updated), Count: len(updated)})
}

// =============================================================================
// HELPERS
// =============================================================================

// decodeRequest decodes the JSON body into dst and validates it. On
// failure it writes the 400 response and returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if fields := validateRequest(dst); fields != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    "validation_failed",
			Details: fields,
		})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Int("status", status).Msg(message)
		}
	}
	writeJSON(w, status, resp)
}

// PartialFailureDTO is the body of a 500 for an operation that stopped
// after some of its writes went through.
type PartialFailureDTO struct {
	Applied int    `json:"applied"`
	Cause   string `json:"cause"`
	Result  any    `json:"result,omitempty"`
}

// writeEngineError maps engine errors to HTTP status codes. partial is the
// operation's result value, reported when writes were already applied.
func writeEngineError(w http.ResponseWriter, err error, partial any) {
	var execErr *generic.ExecutionError
	switch {
	case errors.As(err, &execErr):
		log.Error().Err(err).Int("applied", execErr.Applied).Msg("operation partially applied")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "partially_applied",
			Details: PartialFailureDTO{
				Applied: execErr.Applied,
				Cause:   execErr.Err.Error(),
				Result:  partial,
			},
		})
	case errors.Is(err, generic.ErrForbidden):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "forbidden"})
	case generic.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"})
	case generic.IsConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"})
	case generic.IsClientError(err):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: errorCode(err), Details: errorDetails(err)})
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, generic.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, generic.ErrUnderpayment):
		return "underpayment"
	case errors.Is(err, generic.ErrMissingPaymentMethod), errors.Is(err, generic.ErrInvalidPaymentMethod):
		return "payment_method"
	case errors.Is(err, generic.ErrChargeAlreadyPaid):
		return "already_paid"
	case errors.Is(err, generic.ErrAccountClosed):
		return "account_closed"
	}
	return "invalid_request"
}

// errorDetails exposes the amounts carried by structured payment errors.
func errorDetails(err error) any {
	var short *generic.InsufficientBalanceError
	if errors.As(err, &short) {
		return map[string]decimal.Decimal{
			"available": short.Available,
			"requested": short.Requested,
			"shortfall": short.Shortfall(),
		}
	}
	var under *generic.UnderpaymentError
	if errors.As(err, &under) {
		return map[string]decimal.Decimal{"due": under.Due, "offered": under.Offered}
	}
	return nil
}

func totalDue(charges []education.CourseCharge) decimal.Decimal {
	total := decimal.Zero
	for _, c := range charges {
		total = total.Add(c.Due())
	}
	return total
}

// nonNil makes empty lists encode as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
