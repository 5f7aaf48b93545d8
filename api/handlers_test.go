/*
handlers_test.go - HTTP tests for the admin and e-service routes

Tests for:
- Request validation and error mapping
- Session handling (staff headers, account holder defaults)
- Charge payment with a balance/external split
- Rule import and batch top-up execution
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tranminhhien3124027717/agile-moe/education"
	"github.com/tranminhhien3124027717/agile-moe/factory"
	"github.com/tranminhhien3124027717/agile-moe/generic"
	"github.com/tranminhhien3124027717/agile-moe/generic/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// testNow is mid June, inside every demo course run.
var testNow = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

var adminHeaders = map[string]string{HeaderActorID: "admin-1", HeaderActorRole: "admin"}

func holderHeaders(accountID string) map[string]string {
	return map[string]string{HeaderActorID: accountID}
}

type testServer struct {
	h      *Handler
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	clock := func() time.Time { return testNow }
	s := education.NewStoreWithClock(store.NewMemory(), clock)
	h := NewHandler(education.NewEngine(s, education.WithClock(clock)))
	return &testServer{h: h, router: NewRouter(h, []string{"*"})}
}

func (ts *testServer) seed(t *testing.T, scenarioID string) {
	t.Helper()
	require.NoError(t, ts.h.Seed(context.Background(), scenarioID))
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (ts *testServer) accountByNRIC(t *testing.T, nric string) education.AccountHolder {
	t.Helper()
	accs, err := ts.h.store().Accounts.GetByField(context.Background(), "nric", nric)
	require.NoError(t, err)
	require.Len(t, accs, 1)
	return accs[0]
}

func assertMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, generic.MustParseMoney(want).Equal(got), "want %s, got %s", want, got.String())
}

// =============================================================================
// SESSIONS AND VALIDATION
// =============================================================================

func TestAdminRoutes_RequireStaffRole(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: No session headers
	// WHEN: Listing accounts on the admin portal
	rec := ts.do(t, http.MethodGet, "/api/admin/accounts", nil, nil)

	// THEN: The request is refused
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decode[ErrorResponse](t, rec).Code)

	// AND: An account holder role is refused as well
	rec = ts.do(t, http.MethodGet, "/api/admin/accounts", nil,
		map[string]string{HeaderActorID: "acc-1", HeaderActorRole: "account_holder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestCreateAccount_ValidationFailed(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: A body with a malformed NRIC and no name
	body := map[string]string{"nric": "S12", "email": "not-an-email"}

	// WHEN: Creating the account
	rec := ts.do(t, http.MethodPost, "/api/admin/accounts", body, adminHeaders)

	// THEN: Every failing field is reported by its json name
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[struct {
		Code    string            `json:"code"`
		Details map[string]string `json:"details"`
	}](t, rec)
	assert.Equal(t, "validation_failed", resp.Code)
	assert.Contains(t, resp.Details, "nric")
	assert.Contains(t, resp.Details, "name")
	assert.Contains(t, resp.Details, "email")
}

func TestCreateAccount_UnknownField(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/admin/accounts",
		`{"nric":"S1234567A","name":"Ann","balance":"500"}`, adminHeaders)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAccount_OpensWithZeroBalance(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: A valid new account
	body := map[string]string{
		"nric":           "s1234567a",
		"name":           "Ann Tan",
		"dateOfBirth":    "2004-05-01",
		"email":          "ann@example.com",
		"inSchool":       "in_school",
		"educationLevel": "tertiary",
	}

	// WHEN: Creating it
	rec := ts.do(t, http.MethodPost, "/api/admin/accounts", body, adminHeaders)

	// THEN: It is active, empty and stored under the normalized NRIC
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	acc := decode[education.AccountHolder](t, rec)
	assert.Equal(t, "S1234567A", acc.NRIC)
	assert.Equal(t, education.AccountActive, acc.Status)
	assertMoney(t, "0", acc.Balance)

	// AND: A second account with the same NRIC conflicts
	rec = ts.do(t, http.MethodPost, "/api/admin/accounts", body, adminHeaders)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetAccount_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/admin/accounts/missing", nil, adminHeaders)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEservice_HolderSeesOnlyOwnAccount(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "demo")
	dave := ts.accountByNRIC(t, "S9001234A")
	eric := ts.accountByNRIC(t, "S9205678B")

	// WHEN: Dave opens his dashboard
	rec := ts.do(t, http.MethodGet, "/api/eservice/me", nil, holderHeaders(dave.ID))

	// THEN: He sees his own account and his unpaid charges
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	dash := decode[DashboardDTO](t, rec)
	assert.Equal(t, dave.ID, dash.Account.ID)
	assert.NotEmpty(t, dash.UnpaidCharges)
	assert.LessOrEqual(t, len(dash.Recent), recentTransactions)

	// AND: He cannot read Eric's charges through the admin route
	rec = ts.do(t, http.MethodGet, "/api/admin/accounts/"+eric.ID+"/charges", nil,
		map[string]string{HeaderActorID: dave.ID, HeaderActorRole: "account_holder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func unpaidCharge(t *testing.T, ts *testServer, accountID string) education.CourseCharge {
	t.Helper()
	unpaid, err := ts.h.Engine.UnpaidCharges(context.Background(), accountID)
	require.NoError(t, err)
	require.NotEmpty(t, unpaid)
	return unpaid[0]
}

func TestPayCharge_SplitBetweenBalanceAndPayNow(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "payment-split")
	dave := ts.accountByNRIC(t, "S9001234A")
	charge := unpaidCharge(t, ts, dave.ID)
	assertMoney(t, "450", charge.Due())

	// GIVEN: $300 from the balance and $150 by PayNow
	body := map[string]string{"balanceAmount": "300", "externalAmount": "150", "externalMethod": "paynow"}

	// WHEN: Dave pays the charge from the e-service portal
	rec := ts.do(t, http.MethodPost, "/api/eservice/me/charges/"+charge.ID+"/pay", body, holderHeaders(dave.ID))

	// THEN: The charge is settled and the balance is used up
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[education.PaymentResult](t, rec)
	assert.Equal(t, "account_balance+paynow", result.PaymentMethod)
	assertMoney(t, "150", result.ExternalCredited)
	assertMoney(t, "0", result.BalanceAfter)
	require.Len(t, result.Settled, 1)
	assertMoney(t, "450", result.Settled[0].Amount)

	paid, err := ts.h.store().Charges.GetByID(context.Background(), charge.ID)
	require.NoError(t, err)
	assert.Equal(t, education.ChargePaid, paid.Status)

	// AND: Paying again is refused
	rec = ts.do(t, http.MethodPost, "/api/eservice/me/charges/"+charge.ID+"/pay", body, holderHeaders(dave.ID))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "already_paid", decode[ErrorResponse](t, rec).Code)
}

func TestPayCharge_ClientErrors(t *testing.T) {
	tests := []struct {
		name string
		body map[string]string
		code string
	}{
		{
			name: "underpayment",
			body: map[string]string{"balanceAmount": "300", "externalAmount": "100", "externalMethod": "paynow"},
			code: "underpayment",
		},
		{
			name: "balance overdrawn",
			body: map[string]string{"balanceAmount": "450"},
			code: "insufficient_balance",
		},
		{
			name: "external without method",
			body: map[string]string{"balanceAmount": "300", "externalAmount": "150"},
			code: "payment_method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.seed(t, "payment-split")
			dave := ts.accountByNRIC(t, "S9001234A")
			charge := unpaidCharge(t, ts, dave.ID)

			rec := ts.do(t, http.MethodPost, "/api/eservice/me/charges/"+charge.ID+"/pay", tt.body, holderHeaders(dave.ID))

			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)

			// Nothing was written.
			acc, err := ts.h.store().Accounts.GetByID(context.Background(), dave.ID)
			require.NoError(t, err)
			assertMoney(t, "300", acc.Balance)
		})
	}
}

func TestListCharges_PaidFilterIncludesClearAlias(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "payment-split")
	ctx := context.Background()
	dave := ts.accountByNRIC(t, "S9001234A")

	paid, err := ts.h.store().Charges.GetByField(ctx, "status", string(education.ChargePaid))
	require.NoError(t, err)

	// GIVEN: A charge record written with the older "clear" status
	require.NoError(t, ts.h.store().Raw().Insert(ctx, education.ChargesCollection, generic.RawDocument{
		ID:   "legacy-1",
		Body: []byte(`{"id":"legacy-1","accountId":"` + dave.ID + `","amount":"120","amountPaid":"120","status":"clear"}`),
	}))

	// WHEN: Listing paid charges
	rec := ts.do(t, http.MethodGet, "/api/admin/charges?status=paid", nil, adminHeaders)

	// THEN: The aliased record is listed as paid
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	charges := decode[[]education.CourseCharge](t, rec)
	assert.Len(t, charges, len(paid)+1)
	found := false
	for _, c := range charges {
		assert.Equal(t, education.ChargePaid, c.Status)
		if c.ID == "legacy-1" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestPayCharge_InvalidMethodRejectedByValidator(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "payment-split")
	dave := ts.accountByNRIC(t, "S9001234A")
	charge := unpaidCharge(t, ts, dave.ID)

	rec := ts.do(t, http.MethodPost, "/api/eservice/me/charges/"+charge.ID+"/pay",
		map[string]string{"balanceAmount": "300", "externalAmount": "150", "externalMethod": "cash"}, holderHeaders(dave.ID))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode[ErrorResponse](t, rec).Code)
}

// =============================================================================
// RULES AND TOP-UPS
// =============================================================================

func TestImportRules(t *testing.T) {
	ts := newTestServer(t)

	// WHEN: Importing the standard rules
	rec := ts.do(t, http.MethodPost, "/api/admin/rules/import", factory.StandardRulesJSON(2025), adminHeaders)

	// THEN: All four are stored
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Len(t, decode[[]education.TopUpRule](t, rec), 4)

	rec = ts.do(t, http.MethodGet, "/api/admin/rules", nil, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]education.TopUpRule](t, rec), 4)
}

func TestImportRules_InvalidArrayStoresNothing(t *testing.T) {
	ts := newTestServer(t)

	// GIVEN: A valid rule followed by one without an amount
	body := `[{"name":"ok","amount":100,"valid_from":"2025-01-01","valid_to":"2025-12-31"},{"name":"bad"}]`

	rec := ts.do(t, http.MethodPost, "/api/admin/rules/import", body, adminHeaders)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rules, err := ts.h.store().Rules.GetAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestRuleRoundTripsThroughConfig(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/admin/rules", factory.TertiaryAnnualJSON(2025, 2000, 5000), adminHeaders)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[education.TopUpRule](t, rec)

	rec = ts.do(t, http.MethodGet, "/api/admin/rules/"+created.ID, nil, adminHeaders)

	require.Equal(t, http.StatusOK, rec.Code)
	dto := decode[RuleDTO](t, rec)
	assert.Equal(t, created.Name, dto.Config.Name)
	assert.Equal(t, created.ID, dto.Rule.ID)
}

func TestBatchTopUp_ExecuteCreditsEligibleAccounts(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "batch-topup")
	tracy := ts.accountByNRIC(t, "S9503456D")

	// GIVEN: The scheduled batch top-up
	rec := ts.do(t, http.MethodGet, "/api/admin/schedules?status=scheduled", nil, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	scheduled := decode[[]education.TopUpSchedule](t, rec)
	require.Len(t, scheduled, 1)

	// WHEN: Executing it
	rec = ts.do(t, http.MethodPost, "/api/admin/schedules/"+scheduled[0].ID+"/execute", nil, adminHeaders)

	// THEN: Only Tracy (22, tertiary, in school) is credited
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[education.ExecutionResult](t, rec)
	assert.Equal(t, education.ScheduleCompleted, result.Status)
	assert.Equal(t, 1, result.EligibleCount)
	assert.Equal(t, 1, result.ProcessedCount)

	acc, err := ts.h.store().Accounts.GetByID(context.Background(), tracy.ID)
	require.NoError(t, err)
	assertMoney(t, "4000", acc.Balance)

	// AND: The schedule detail lists the credit it wrote
	rec = ts.do(t, http.MethodGet, "/api/admin/schedules/"+scheduled[0].ID, nil, adminHeaders)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[ScheduleDetailDTO](t, rec)
	require.Len(t, detail.Transactions, 1)
	assert.Equal(t, tracy.ID, detail.Transactions[0].AccountID)

	// AND: A completed schedule cannot run twice
	rec = ts.do(t, http.MethodPost, "/api/admin/schedules/"+scheduled[0].ID+"/execute", nil, adminHeaders)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestScheduleIndividual_Immediate(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "payment-split")
	dave := ts.accountByNRIC(t, "S9001234A")

	rec := ts.do(t, http.MethodPost, "/api/admin/schedules/individual",
		map[string]any{"accountId": dave.ID, "amount": "200", "immediate": true, "remarks": "Hardship"}, adminHeaders)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[education.ScheduleResult](t, rec)
	require.NotNil(t, result.Execution)
	assert.Equal(t, education.ScheduleCompleted, result.Execution.Status)

	acc, err := ts.h.store().Accounts.GetByID(context.Background(), dave.ID)
	require.NoError(t, err)
	assertMoney(t, "500", acc.Balance)
}

func TestCancelSchedule(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "batch-topup")
	scheduled, err := ts.h.store().Schedules.GetByField(context.Background(), "status", string(education.ScheduleScheduled))
	require.NoError(t, err)
	require.Len(t, scheduled, 1)

	rec := ts.do(t, http.MethodPost, "/api/admin/schedules/"+scheduled[0].ID+"/cancel", nil, adminHeaders)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got, err := ts.h.store().Schedules.GetByID(context.Background(), scheduled[0].ID)
	require.NoError(t, err)
	assert.Equal(t, education.ScheduleFailed, got.Status)
	assert.True(t, strings.Contains(got.Remarks, "Cancelled"))
}
