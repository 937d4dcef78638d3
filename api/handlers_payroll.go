package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/payroll"
)

// Payroll endpoints:
//
//	GET    /api/payroll/periods                    ?year=&month=&status=&include_archived=
//	POST   /api/payroll/periods
//	GET    /api/payroll/periods/{id}
//	PUT    /api/payroll/periods/{id}
//	DELETE /api/payroll/periods/{id}
//	POST   /api/payroll/periods/{id}/start|complete|archive|cancel-revert
//	POST   /api/payroll/periods/{id}/attendance
//	GET    /api/payroll/periods/{id}/attendance
//	POST   /api/payroll/periods/{id}/process
//	POST   /api/payroll/periods/{id}/employees/{employeeID}/process
//	GET    /api/payroll/periods/{id}/items
//	POST   /api/payroll/periods/{id}/items/finalize|pay
//	GET    /api/payroll/items/{id}
//	POST   /api/payroll/items/{id}/recalculate|finalize|pay

// =============================================================================
// PERIOD HANDLERS
// =============================================================================

func (h *Handler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	month, err := queryInt(r, "month")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month", err)
		return
	}

	periods, err := h.Payroll.ListPeriods(r.Context(), payroll.PeriodFilter{
		Year:            year,
		Month:           time.Month(month),
		Status:          payroll.PeriodStatus(r.URL.Query().Get("status")),
		IncludeArchived: queryBool(r, "include_archived"),
	})
	if err != nil {
		h.fail(w, r, "Failed to list periods", err)
		return
	}
	writeJSON(w, http.StatusOK, periods)
}

func (h *Handler) CreatePeriod(w http.ResponseWriter, r *http.Request) {
	var in payroll.PeriodInput
	if !decode(w, r, &in) {
		return
	}

	p, err := h.Payroll.CreatePeriod(r.Context(), actorID(r), in)
	if err != nil {
		h.fail(w, r, "Failed to create period", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetPeriod(w http.ResponseWriter, r *http.Request) {
	p, err := h.Payroll.GetPeriod(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get period", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePeriod edits a draft period.
func (h *Handler) UpdatePeriod(w http.ResponseWriter, r *http.Request) {
	var in payroll.PeriodInput
	if !decode(w, r, &in) {
		return
	}

	p, err := h.Payroll.UpdatePeriod(r.Context(), actorID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, "Failed to update period", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePeriod removes a draft period.
func (h *Handler) DeletePeriod(w http.ResponseWriter, r *http.Request) {
	if err := h.Payroll.DeletePeriod(r.Context(), actorID(r), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, "Failed to delete period", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transitionPeriod adapts a period transition to a handler.
func (h *Handler) transitionPeriod(message string, op func(r *http.Request, actor, id string) (*payroll.Period, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := op(r, actorID(r), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, message, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func (h *Handler) StartProcessing() http.HandlerFunc {
	return h.transitionPeriod("Failed to start processing", func(r *http.Request, actor, id string) (*payroll.Period, error) {
		return h.Payroll.StartProcessing(r.Context(), actor, id)
	})
}

func (h *Handler) CompletePeriod() http.HandlerFunc {
	return h.transitionPeriod("Failed to complete period", func(r *http.Request, actor, id string) (*payroll.Period, error) {
		return h.Payroll.CompletePeriod(r.Context(), actor, id)
	})
}

func (h *Handler) ArchivePeriod() http.HandlerFunc {
	return h.transitionPeriod("Failed to archive period", func(r *http.Request, actor, id string) (*payroll.Period, error) {
		return h.Payroll.ArchivePeriod(r.Context(), actor, id)
	})
}

// CancelAndRevert returns a processing period to draft, deleting its items
// and attendance.
func (h *Handler) CancelAndRevert(w http.ResponseWriter, r *http.Request) {
	res, err := h.Payroll.CancelAndRevert(r.Context(), actorID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to cancel period", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// ATTENDANCE AND PROCESSING HANDLERS
// =============================================================================

func (h *Handler) ImportAttendance(w http.ResponseWriter, r *http.Request) {
	var req ImportAttendanceRequest
	if !decode(w, r, &req) {
		return
	}

	n, err := h.Payroll.ImportAttendance(r.Context(), actorID(r), chi.URLParam(r, "id"), req.Records)
	if err != nil {
		h.fail(w, r, "Failed to import attendance", err)
		return
	}
	writeJSON(w, http.StatusOK, ImportResponse{Imported: n})
}

func (h *Handler) ListAttendance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Payroll.GetPeriod(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to list attendance", err)
		return
	}

	records, err := h.Payroll.Store.ListAttendance(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to list attendance", err)
		return
	}
	if records == nil {
		records = []payroll.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ProcessBulk computes items for the listed employees, or every active
// employee when none are listed. Per-employee failures are reported in the
// body; the call itself succeeds.
func (h *Handler) ProcessBulk(w http.ResponseWriter, r *http.Request) {
	var req payroll.BulkRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Payroll.ProcessBulk(r.Context(), actorID(r), chi.URLParam(r, "id"), req)
	if err != nil {
		h.fail(w, r, "Failed to process period", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ProcessEmployee(w http.ResponseWriter, r *http.Request) {
	var req ProcessEmployeeRequest
	if !decode(w, r, &req) {
		return
	}
	empID := generic.EmployeeID(chi.URLParam(r, "employeeID"))

	item, err := h.Payroll.ProcessSingle(r.Context(), actorID(r), chi.URLParam(r, "id"), empID, req.WorkingDays)
	if err != nil {
		h.fail(w, r, "Failed to process employee", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) ListPayrollItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Payroll.GetPeriod(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to list items", err)
		return
	}

	items, err := h.Payroll.ListItems(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to list items", err)
		return
	}
	if items == nil {
		items = []payroll.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handler) GetPayrollItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Payroll.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// transitionPayrollItem adapts a single-item operation to a handler.
func (h *Handler) transitionPayrollItem(message string, op func(r *http.Request, actor, id string) (*payroll.Item, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := op(r, actorID(r), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, message, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (h *Handler) RecalculateItem() http.HandlerFunc {
	return h.transitionPayrollItem("Failed to recalculate item", func(r *http.Request, actor, id string) (*payroll.Item, error) {
		return h.Payroll.RecalculateItem(r.Context(), actor, id)
	})
}

func (h *Handler) FinalizePayrollItem() http.HandlerFunc {
	return h.transitionPayrollItem("Failed to finalize item", func(r *http.Request, actor, id string) (*payroll.Item, error) {
		return h.Payroll.FinalizeItem(r.Context(), actor, id)
	})
}

func (h *Handler) PayPayrollItem() http.HandlerFunc {
	return h.transitionPayrollItem("Failed to mark item paid", func(r *http.Request, actor, id string) (*payroll.Item, error) {
		return h.Payroll.MarkItemPaid(r.Context(), actor, id)
	})
}

// FinalizePayrollItems finalizes the listed draft items of a period, or all
// of them when none are listed.
func (h *Handler) FinalizePayrollItems(w http.ResponseWriter, r *http.Request) {
	var req ItemIDsRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Payroll.FinalizeItems(r.Context(), actorID(r), chi.URLParam(r, "id"), req.ItemIDs)
	if err != nil {
		h.fail(w, r, "Failed to finalize items", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PayPayrollItems marks the listed finalized items of a period paid.
func (h *Handler) PayPayrollItems(w http.ResponseWriter, r *http.Request) {
	var req ItemIDsRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Payroll.MarkItemsPaid(r.Context(), actorID(r), chi.URLParam(r, "id"), req.ItemIDs)
	if err != nil {
		h.fail(w, r, "Failed to mark items paid", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
