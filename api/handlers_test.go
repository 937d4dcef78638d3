/*
handlers_test.go - HTTP tests for the API layer

Tests for:
- Error to status mapping (400, 404, 409, 422)
- Payroll period lifecycle over HTTP
- Leave accrual dry-run and rerun through the jobs endpoints
- Actor attribution in the audit trail
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testNow = time.Date(2025, time.March, 14, 8, 0, 0, 0, time.UTC)

type apiFixture struct {
	store  *sqlite.Store
	svc    *Services
	router http.Handler
}

// newAPIFixture wires every service over an in-memory store with one
// employee (emp-1, 22000/month, hired 2020).
func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.SaveEmployee(context.Background(), generic.Employee{
		ID:            "emp-1",
		Name:          "Ana Cruz",
		MonthlySalary: decimal.RequireFromString("22000"),
		HireDate:      generic.NewTimePoint(2020, time.January, 6),
		Status:        generic.EmploymentActive,
	}))

	svc := NewServices(store, Options{
		LeaveRate:       leave.DefaultRate,
		LeaseTTL:        time.Minute,
		RetentionDir:    t.TempDir(),
		RetentionMaxAge: 30 * 24 * time.Hour,
		Holder:          "test",
		Clock:           generic.FixedClock(testNow),
	})
	h := NewHandler(svc, nil)
	h.Scheduler = NewJobScheduler(svc, nil)
	return &apiFixture{store: store, svc: svc, router: NewRouter(h, nil)}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// =============================================================================
// STATUS MAPPING
// =============================================================================

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEmployees_CreateAndGet(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/employees", map[string]any{
		"id":             "emp-2",
		"name":           "Ben Reyes",
		"monthly_salary": "33000",
		"hire_date":      "2023-06-01",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/employees/emp-2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	emp := decodeBody[EmployeeDTO](t, rec)
	assert.Equal(t, "Ben Reyes", emp.Name)
	assert.Equal(t, "2023-06-01", emp.HireDate)
	assert.Equal(t, "active", emp.Status)

	list := decodeBody[[]EmployeeDTO](t, f.do(t, http.MethodGet, "/api/employees", nil))
	assert.Len(t, list, 2)
}

func TestEmployees_UnknownIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/employees/nobody", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmployees_ValidationIs422WithFields(t *testing.T) {
	// GIVEN: A body with an id but no name and no hire date
	// WHEN: Creating the employee
	// THEN: 422 listing both fields
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/employees", map[string]any{"id": "emp-9"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeBody[ErrorResponse](t, rec)
	fields := map[string]bool{}
	for _, fe := range resp.Fields {
		fields[fe.Field] = true
	}
	assert.True(t, fields["name"])
	assert.True(t, fields["hire_date"])
}

func TestMalformedJSONIs400(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/payroll/periods", `{"year": 2025,`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownRouteIs404(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/nothing-here", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// PAYROLL LIFECYCLE
// =============================================================================

func TestPayroll_PeriodLifecycleOverHTTP(t *testing.T) {
	// GIVEN: A fixed rice allowance and a draft period
	// WHEN: Processing, completing too early, finalizing, then completing
	// THEN: The early completion is a 409, the second succeeds, and deleting
	//       the completed period is a guard violation naming its status
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/allowances", map[string]any{
		"code":             "RICE",
		"name":             "Rice Subsidy",
		"calculation_type": "fixed",
		"default_amount":   "1500",
		"frequency":        "every_period",
		"is_active":        true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/payroll/periods", map[string]any{"year": 2025, "month": 3, "period_number": 1})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	period := decodeBody[payroll.Period](t, rec)
	base := "/api/payroll/periods/" + period.ID

	rec = f.do(t, http.MethodPost, base+"/process", map[string]any{"working_days": map[string]string{"emp-1": "11"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	bulk := decodeBody[payroll.BulkResult](t, rec)
	assert.Equal(t, 1, bulk.ProcessedCount)
	assert.Zero(t, bulk.FailedCount)

	items := decodeBody[[]payroll.Item](t, f.do(t, http.MethodGet, base+"/items", nil))
	require.Len(t, items, 1)
	assert.True(t, decimal.RequireFromString("12500").Equal(items[0].GrossPay), "basic 11000 plus rice 1500")

	rec = f.do(t, http.MethodPost, base+"/complete", nil)
	require.Equal(t, http.StatusConflict, rec.Code, "items not finalized")

	rec = f.do(t, http.MethodPost, base+"/items/finalize", ItemIDsRequest{})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payroll.SetResult{Requested: 1, Affected: 1}, decodeBody[payroll.SetResult](t, rec))

	rec = f.do(t, http.MethodPost, base+"/complete", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, payroll.PeriodCompleted, decodeBody[payroll.Period](t, rec).Status)

	rec = f.do(t, http.MethodDelete, base, nil)
	require.Equal(t, http.StatusConflict, rec.Code, "only draft periods can be deleted")
	guard := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "completed", guard.Current)
	assert.Equal(t, []string{"draft"}, guard.Allowed)
}

func TestPayroll_DuplicatePeriodIs409(t *testing.T) {
	f := newAPIFixture(t)
	body := map[string]any{"year": 2025, "month": 3, "period_number": 2}

	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/api/payroll/periods", body).Code)
	rec := f.do(t, http.MethodPost, "/api/payroll/periods", body)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAudit_AttributesActorHeader(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/payroll/periods",
		map[string]any{"year": 2025, "month": 4, "period_number": 1},
		ActorHeader, "hr-admin")
	require.Equal(t, http.StatusCreated, rec.Code)
	period := decodeBody[payroll.Period](t, rec)

	entries := decodeBody[[]AuditEntryDTO](t, f.do(t, http.MethodGet, "/api/audit?table=payroll_periods&record_id="+period.ID, nil))

	require.NotEmpty(t, entries)
	assert.Equal(t, "hr-admin", entries[0].ActorID)
	assert.Equal(t, string(generic.AuditCreate), entries[0].Action)
}

// =============================================================================
// LEAVE AND JOBS
// =============================================================================

func TestJobs_AccrualDryRunThenRun(t *testing.T) {
	// GIVEN: emp-1 with an empty 2025 balance
	// WHEN: Dry-running February, then running it twice
	// THEN: The dry-run writes nothing, the first run credits 1.25 + 1.25,
	//       the rerun skips emp-1
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/employees/emp-1/leave", map[string]any{"year": 2025, "vacation": "0", "sick": "0"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/jobs/accrual", map[string]any{"year": 2025, "month": 2, "dry_run": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decodeBody[leave.AccrualReport](t, rec)
	assert.True(t, preview.DryRun)
	assert.Equal(t, 1, preview.Succeeded)
	assert.True(t, decimal.RequireFromString("1.25").Equal(preview.ProjectedVacation))

	runs := decodeBody[[]leave.JobRun](t, f.do(t, http.MethodGet, "/api/jobs/runs?name="+leave.AccrualJobName, nil))
	assert.Empty(t, runs, "dry-run records nothing")

	rec = f.do(t, http.MethodPost, "/api/jobs/accrual", map[string]any{"year": 2025, "month": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[leave.AccrualReport](t, rec).Succeeded)

	rec = f.do(t, http.MethodPost, "/api/jobs/accrual", map[string]any{"year": 2025, "month": 2})
	require.Equal(t, http.StatusOK, rec.Code)
	rerun := decodeBody[leave.AccrualReport](t, rec)
	assert.Zero(t, rerun.Succeeded)
	assert.Equal(t, 1, rerun.Skipped)

	remaining := decodeBody[RemainingDTO](t, f.do(t, http.MethodGet, "/api/employees/emp-1/leave/remaining", nil))
	assert.True(t, decimal.RequireFromString("2.5").Equal(remaining.Remaining), remaining.Remaining.String())

	accruals := decodeBody[[]leave.Accrual](t, f.do(t, http.MethodGet, "/api/employees/emp-1/leave/accruals?year=2025", nil))
	assert.Len(t, accruals, 1)
}

func TestJobs_AccrualValidation(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/jobs/accrual", map[string]any{"year": 2025, "month": 13})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestJobs_LeaseHeldIs409(t *testing.T) {
	f := newAPIFixture(t)
	ok, err := f.store.Jobs().AcquireLease(context.Background(), leave.AccrualJobName, "other-runner", testNow, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	rec := f.do(t, http.MethodPost, "/api/jobs/accrual", map[string]any{"year": 2025, "month": 2})

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestJobs_UsageBeyondBalanceIs422(t *testing.T) {
	f := newAPIFixture(t)
	require.Equal(t, http.StatusCreated,
		f.do(t, http.MethodPost, "/api/employees/emp-1/leave", map[string]any{"year": 2025, "vacation": "1", "sick": "0"}).Code)

	rec := f.do(t, http.MethodPost, "/api/employees/emp-1/leave/usage", map[string]any{"year": 2025, "kind": "vacation", "days": "2"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestJobs_SchedulerEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/jobs/scheduler", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeBody[SchedulerStatus](t, rec).Running)

	rec = f.do(t, http.MethodPost, "/api/jobs/check", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decodeBody[CheckResult](t, rec)
	require.NotNil(t, res.Accrual, "February accrual is due on March 14")
	assert.Equal(t, time.February, res.Accrual.Month)
	assert.NotNil(t, res.Retention, "no sweep has run yet")
}
