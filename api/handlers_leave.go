package api

import (
	"net/http"

	"github.com/warp/payroll-engine/leave"
)

// Leave and job endpoints:
//
//	GET    /api/employees/{id}/leave                 Balances, newest year first
//	POST   /api/employees/{id}/leave                 Open a year's balance
//	POST   /api/employees/{id}/leave/usage           Record leave taken
//	GET    /api/employees/{id}/leave/remaining       Unused credits across years
//	GET    /api/employees/{id}/leave/accruals        ?year=
//	POST   /api/jobs/accrual                         Run (or dry-run) the monthly accrual
//	POST   /api/jobs/retention                       Run (or dry-run) the retention sweep
//	POST   /api/jobs/check                           Run the scheduler check now
//	GET    /api/jobs/runs                            ?name=&limit=
//	GET    /api/jobs/scheduler                       Scheduler state

// =============================================================================
// LEAVE HANDLERS
// =============================================================================

func (h *Handler) ListLeaveBalances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.Leave.ListBalances(r.Context(), employeeParam(r))
	if err != nil {
		h.fail(w, r, "Failed to list leave balances", err)
		return
	}
	if balances == nil {
		balances = []leave.Balance{}
	}
	writeJSON(w, http.StatusOK, balances)
}

// OpenLeaveBalance creates an employee's balance for a year with opening
// credits.
func (h *Handler) OpenLeaveBalance(w http.ResponseWriter, r *http.Request) {
	var req OpenBalanceRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Leave.OpenBalance(r.Context(), actorID(r), employeeParam(r), req.Year,
		leave.Rate{Vacation: req.Vacation, Sick: req.Sick})
	if err != nil {
		h.fail(w, r, "Failed to open leave balance", err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *Handler) RecordLeaveUsage(w http.ResponseWriter, r *http.Request) {
	var req UsageRequest
	if !decode(w, r, &req) {
		return
	}

	b, err := h.Leave.RecordUsage(r.Context(), actorID(r), employeeParam(r), req.Year, req.Kind, req.Days)
	if err != nil {
		h.fail(w, r, "Failed to record leave usage", err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *Handler) RemainingLeave(w http.ResponseWriter, r *http.Request) {
	empID := employeeParam(r)
	if _, err := h.Store.GetEmployee(r.Context(), empID); err != nil {
		h.fail(w, r, "Failed to get remaining credits", err)
		return
	}

	remaining, err := h.Leave.RemainingCredits(r.Context(), empID)
	if err != nil {
		h.fail(w, r, "Failed to get remaining credits", err)
		return
	}
	writeJSON(w, http.StatusOK, RemainingDTO{EmployeeID: string(empID), Remaining: remaining.Round(3)})
}

func (h *Handler) ListLeaveAccruals(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}

	accruals, err := h.Leave.ListAccruals(r.Context(), employeeParam(r), year)
	if err != nil {
		h.fail(w, r, "Failed to list accruals", err)
		return
	}
	if accruals == nil {
		accruals = []leave.Accrual{}
	}
	writeJSON(w, http.StatusOK, accruals)
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// RunAccrual runs the monthly accrual for the requested month. With dry_run
// the report shows what would be credited and nothing is written.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var req leave.AccrualRequest
	if !decode(w, r, &req) {
		return
	}

	report, err := h.Accrual.Run(r.Context(), req)
	if err != nil {
		h.fail(w, r, "Failed to run leave accrual", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) RunRetention(w http.ResponseWriter, r *http.Request) {
	var req RetentionRequest
	if !decode(w, r, &req) {
		return
	}

	report, err := h.Retention.Run(r.Context(), req.DryRun)
	if err != nil {
		h.fail(w, r, "Failed to run retention sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) ListJobRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	runs, err := h.Store.Jobs().ListRuns(r.Context(), r.URL.Query().Get("name"), limit)
	if err != nil {
		h.fail(w, r, "Failed to list job runs", err)
		return
	}
	if runs == nil {
		runs = []leave.JobRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// RunSchedulerCheck runs the due jobs now.
func (h *Handler) RunSchedulerCheck(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Scheduler not configured", nil)
		return
	}
	res, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.fail(w, r, "Scheduler check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusNotFound, "Scheduler not configured", nil)
		return
	}
	writeJSON(w, http.StatusOK, h.Scheduler.Status())
}
