package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payroll-engine/benefits"
	"github.com/warp/payroll-engine/generic"
)

// Benefits endpoints:
//
//	GET    /api/benefits/types                    ?active=true
//	POST   /api/benefits/types
//	PUT    /api/benefits/types/{id}
//	GET    /api/benefits/cycles                   ?benefit_type_id=&year=&status=
//	POST   /api/benefits/cycles
//	GET    /api/benefits/cycles/{id}
//	POST   /api/benefits/cycles/{id}/process|finalize|release|cancel|refresh
//	GET    /api/benefits/cycles/{id}/items
//	POST   /api/benefits/cycles/{id}/items
//	POST   /api/benefits/cycles/{id}/items/approve|pay
//	GET    /api/benefits/items/{id}
//	GET    /api/benefits/items/{id}/adjustments
//	POST   /api/benefits/items/{id}/adjust|approve|pay|cancel
//	POST   /api/benefits/tlb/{employeeID}

// =============================================================================
// BENEFIT TYPE HANDLERS
// =============================================================================

func (h *Handler) ListBenefitTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Benefits.ListTypes(r.Context(), queryBool(r, "active"))
	if err != nil {
		h.fail(w, r, "Failed to list benefit types", err)
		return
	}
	if types == nil {
		types = []benefits.BenefitType{}
	}
	writeJSON(w, http.StatusOK, types)
}

// SaveBenefitType creates a type (POST) or updates one in place (PUT {id}).
func (h *Handler) SaveBenefitType(w http.ResponseWriter, r *http.Request) {
	var t benefits.BenefitType
	if !decode(w, r, &t) {
		return
	}
	status := http.StatusCreated
	if id := chi.URLParam(r, "id"); id != "" {
		if _, err := h.Benefits.GetType(r.Context(), id); err != nil {
			h.fail(w, r, "Failed to save benefit type", err)
			return
		}
		t.ID = id
		status = http.StatusOK
	}

	saved, err := h.Benefits.SaveType(r.Context(), actorID(r), t)
	if err != nil {
		h.fail(w, r, "Failed to save benefit type", err)
		return
	}
	writeJSON(w, status, saved)
}

// =============================================================================
// CYCLE HANDLERS
// =============================================================================

func (h *Handler) ListCycles(w http.ResponseWriter, r *http.Request) {
	year, err := queryInt(r, "year")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid year", err)
		return
	}
	q := r.URL.Query()

	cycles, err := h.Benefits.ListCycles(r.Context(), benefits.CycleFilter{
		BenefitTypeID: q.Get("benefit_type_id"),
		Year:          year,
		Status:        benefits.CycleStatus(q.Get("status")),
	})
	if err != nil {
		h.fail(w, r, "Failed to list cycles", err)
		return
	}
	if cycles == nil {
		cycles = []benefits.Cycle{}
	}
	writeJSON(w, http.StatusOK, cycles)
}

func (h *Handler) CreateCycle(w http.ResponseWriter, r *http.Request) {
	var in benefits.CycleInput
	if !decode(w, r, &in) {
		return
	}

	c, err := h.Benefits.CreateCycle(r.Context(), actorID(r), in)
	if err != nil {
		h.fail(w, r, "Failed to create cycle", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) GetCycle(w http.ResponseWriter, r *http.Request) {
	c, err := h.Benefits.GetCycle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ProcessCycle creates items for the listed employees, or every active
// employee when none are listed.
func (h *Handler) ProcessCycle(w http.ResponseWriter, r *http.Request) {
	var req ProcessCycleRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Benefits.ProcessCycle(r.Context(), actorID(r), chi.URLParam(r, "id"), req.EmployeeIDs)
	if err != nil {
		h.fail(w, r, "Failed to process cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// cycleOp adapts a cycle transition to a handler.
func (h *Handler) cycleOp(message string, op func(r *http.Request, actor, id string) (*benefits.Cycle, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := op(r, actorID(r), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, message, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func (h *Handler) FinalizeCycle() http.HandlerFunc {
	return h.cycleOp("Failed to finalize cycle", func(r *http.Request, actor, id string) (*benefits.Cycle, error) {
		return h.Benefits.FinalizeCycle(r.Context(), actor, id)
	})
}

func (h *Handler) ReleaseCycle() http.HandlerFunc {
	return h.cycleOp("Failed to release cycle", func(r *http.Request, actor, id string) (*benefits.Cycle, error) {
		return h.Benefits.ReleaseCycle(r.Context(), actor, id)
	})
}

// RefreshCycle recomputes the cycle's cached totals from its items.
func (h *Handler) RefreshCycle() http.HandlerFunc {
	return h.cycleOp("Failed to refresh cycle", func(r *http.Request, _, id string) (*benefits.Cycle, error) {
		return h.Benefits.RefreshTotals(r.Context(), id)
	})
}

// CancelCycle cancels the cycle and its open items.
func (h *Handler) CancelCycle(w http.ResponseWriter, r *http.Request) {
	c, n, err := h.Benefits.CancelCycle(r.Context(), actorID(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to cancel cycle", err)
		return
	}
	writeJSON(w, http.StatusOK, CancelCycleResponse{Cycle: c, ItemsCancelled: n})
}

// =============================================================================
// ITEM HANDLERS
// =============================================================================

func (h *Handler) ListBenefitItems(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.Benefits.GetCycle(r.Context(), id); err != nil {
		h.fail(w, r, "Failed to list items", err)
		return
	}

	items, err := h.Benefits.ListItems(r.Context(), id)
	if err != nil {
		h.fail(w, r, "Failed to list items", err)
		return
	}
	if items == nil {
		items = []benefits.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

// AddBenefitItem adds one employee to a processing cycle.
func (h *Handler) AddBenefitItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decode(w, r, &req) {
		return
	}
	if err := generic.ValidateStruct(req); err != nil {
		h.fail(w, r, "Failed to add item", err)
		return
	}

	item, err := h.Benefits.AddItem(r.Context(), actorID(r), chi.URLParam(r, "id"), req.EmployeeID)
	if err != nil {
		h.fail(w, r, "Failed to add item", err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handler) GetBenefitItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Benefits.GetItem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to get item", err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	adjs, err := h.Benefits.ListAdjustments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, "Failed to list adjustments", err)
		return
	}
	if adjs == nil {
		adjs = []benefits.Adjustment{}
	}
	writeJSON(w, http.StatusOK, adjs)
}

// AdjustItem applies an increase, decrease or override and returns the item
// with its new ledger row.
func (h *Handler) AdjustItem(w http.ResponseWriter, r *http.Request) {
	var in benefits.AdjustmentInput
	if !decode(w, r, &in) {
		return
	}

	item, adj, err := h.Benefits.AdjustItem(r.Context(), actorID(r), chi.URLParam(r, "id"), in)
	if err != nil {
		h.fail(w, r, "Failed to adjust item", err)
		return
	}
	writeJSON(w, http.StatusOK, AdjustItemResponse{Item: item, Adjustment: adj})
}

// benefitItemOp adapts a single-item transition to a handler.
func (h *Handler) benefitItemOp(message string, op func(r *http.Request, actor, id string) (*benefits.Item, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := op(r, actorID(r), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, message, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func (h *Handler) ApproveBenefitItem() http.HandlerFunc {
	return h.benefitItemOp("Failed to approve item", func(r *http.Request, actor, id string) (*benefits.Item, error) {
		return h.Benefits.ApproveItem(r.Context(), actor, id)
	})
}

func (h *Handler) PayBenefitItem() http.HandlerFunc {
	return h.benefitItemOp("Failed to mark item paid", func(r *http.Request, actor, id string) (*benefits.Item, error) {
		return h.Benefits.PayItem(r.Context(), actor, id)
	})
}

func (h *Handler) CancelBenefitItem() http.HandlerFunc {
	return h.benefitItemOp("Failed to cancel item", func(r *http.Request, actor, id string) (*benefits.Item, error) {
		return h.Benefits.CancelItem(r.Context(), actor, id)
	})
}

// BulkApprove approves the listed eligible pending items of a cycle, or all
// of them when none are listed.
func (h *Handler) BulkApprove(w http.ResponseWriter, r *http.Request) {
	var req ItemIDsRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Benefits.BulkApprove(r.Context(), actorID(r), chi.URLParam(r, "id"), req.ItemIDs)
	if err != nil {
		h.fail(w, r, "Failed to approve items", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// BulkMarkPaid marks the listed approved items of a cycle paid.
func (h *Handler) BulkMarkPaid(w http.ResponseWriter, r *http.Request) {
	var req ItemIDsRequest
	if !decode(w, r, &req) {
		return
	}

	res, err := h.Benefits.BulkMarkPaid(r.Context(), actorID(r), chi.URLParam(r, "id"), req.ItemIDs)
	if err != nil {
		h.fail(w, r, "Failed to mark items paid", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// TERMINAL LEAVE BENEFIT
// =============================================================================

// CalculateTLB computes the terminal leave benefit for an employee. The
// result is not persisted.
func (h *Handler) CalculateTLB(w http.ResponseWriter, r *http.Request) {
	var req TLBRequest
	if !decode(w, r, &req) {
		return
	}
	empID := generic.EmployeeID(chi.URLParam(r, "employeeID"))

	res, err := h.TLB.Calculate(r.Context(), empID, req.LeaveCredits)
	if err != nil {
		h.fail(w, r, "Failed to calculate terminal leave benefit", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
