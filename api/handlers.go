/*
handlers.go - HTTP API handlers for the payroll engine

PURPOSE:
  Exposes the payroll, benefits and leave services via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to the domain
  services. Handlers hold no state of their own.

ENDPOINTS:
  Directory:
    GET    /api/employees                     List employees
    POST   /api/employees                     Create or replace an employee
    GET    /api/employees/{id}                Get employee details
    GET    /api/employees/{id}/salary         Salary history
    POST   /api/employees/{id}/salary         Append a salary entry

  Rule catalog (kind = allowances | deductions):
    GET    /api/{kind}                        List types (?active=true)
    POST   /api/{kind}                        Create type
    PUT    /api/{kind}/{id}                   Update type
    GET    /api/employees/{id}/overrides      List overrides (?kind=)
    POST   /api/employees/{id}/overrides      Create override
    POST   /api/overrides/{id}/end            Close override

  Payroll (handlers_payroll.go), benefits (handlers_benefits.go),
  leave and jobs (handlers_leave.go).

  Audit:
    GET    /api/audit                         ?table=&record_id=&action=&limit=

REQUEST FLOW:
  1. Parse HTTP request
  2. Decode and validate the body
  3. Call the domain service
  4. Serialize response
  5. Map errors to statuses (fail)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed JSON or query parameters
  - 404: Resource not found
  - 409: Guard violation, duplicate, job lease held, lost compare-and-set
  - 422: Field validation failed (fields lists every failure)
  - 500: Internal errors (logged, details withheld)

ACTOR:
  Every write is attributed to the X-Actor-ID header, "api" when absent.
  There is no authentication layer.

SEE ALSO:
  - dto.go: Request/response data structures
  - services.go: Service wiring
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/rules"
	"github.com/warp/payroll-engine/store/sqlite"
)

// ActorHeader names the request header that attributes writes.
const ActorHeader = "X-Actor-ID"

const defaultActor = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	*Services

	// Scheduler is optional; when set its state is served at
	// /api/jobs/scheduler.
	Scheduler *JobScheduler
	Logger    *slog.Logger
}

// NewHandler creates a handler over the wired services.
func NewHandler(svc *Services, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{Services: svc, Logger: logger.With("component", "api")}
}

func actorID(r *http.Request) string {
	if a := r.Header.Get(ActorHeader); a != "" {
		return a
	}
	return defaultActor
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a service error to its status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, message string, err error) {
	var (
		ve *generic.ValidationError
		ge *generic.GuardError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   message,
			Details: ve.Error(),
			Fields:  ve.Fields,
		})
	case errors.As(err, &ge):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   message,
			Details: ge.Error(),
			Current: ge.Current,
			Allowed: ge.Allowed,
		})
	case generic.IsGuardViolation(err),
		errors.Is(err, generic.ErrDuplicate),
		errors.Is(err, generic.ErrAlreadyAccrued),
		generic.IsRetryable(err):
		writeError(w, http.StatusConflict, message, err)
	case generic.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	default:
		h.Logger.ErrorContext(r.Context(), message,
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, message, nil)
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// queryInt parses an optional integer query parameter; missing is 0.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("query parameter %s: %w", name, err)
	}
	return n, nil
}

func queryBool(r *http.Request, name string) bool {
	b, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return b
}

func employeeParam(r *http.Request) generic.EmployeeID {
	return generic.EmployeeID(chi.URLParam(r, "id"))
}

// =============================================================================
// EMPLOYEE HANDLERS
// =============================================================================

// ListEmployees returns all employees.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	employees, err := h.Store.ListEmployees(r.Context())
	if err != nil {
		h.fail(w, r, "Failed to list employees", err)
		return
	}

	dtos := make([]EmployeeDTO, len(employees))
	for i, e := range employees {
		dtos[i] = toEmployeeDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetEmployee returns a single employee.
func (h *Handler) GetEmployee(w http.ResponseWriter, r *http.Request) {
	emp, err := h.Store.GetEmployee(r.Context(), employeeParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get employee", err)
		return
	}
	writeJSON(w, http.StatusOK, toEmployeeDTO(*emp))
}

// CreateEmployee creates or replaces an employee.
func (h *Handler) CreateEmployee(w http.ResponseWriter, r *http.Request) {
	var req CreateEmployeeRequest
	if !decode(w, r, &req) {
		return
	}

	ve := &generic.ValidationError{}
	if err := generic.MergeValidation(ve, generic.ValidateStruct(req)); err != nil {
		h.fail(w, r, "Failed to create employee", err)
		return
	}
	if req.HireDate.IsZero() {
		ve.Add("hire_date", "required", "hire_date is required")
	}
	if req.MonthlySalary.IsNegative() {
		ve.Add("monthly_salary", "gte", "monthly_salary must not be negative")
	}
	if req.SeparationDate != nil && req.SeparationDate.Before(req.HireDate) {
		ve.Add("separation_date", "gtefield", "separation_date must not precede hire_date")
	}
	if err := ve.OrNil(); err != nil {
		h.fail(w, r, "Failed to create employee", err)
		return
	}

	emp := generic.Employee{
		ID:             generic.EmployeeID(req.ID),
		Name:           req.Name,
		Email:          req.Email,
		MonthlySalary:  req.MonthlySalary,
		HireDate:       req.HireDate,
		SeparationDate: req.SeparationDate,
		Status:         generic.EmploymentStatus(req.Status),
	}
	if emp.Status == "" {
		emp.Status = generic.EmploymentActive
	}
	if err := h.Store.SaveEmployee(r.Context(), emp); err != nil {
		h.fail(w, r, "Failed to create employee", err)
		return
	}

	writeJSON(w, http.StatusCreated, toEmployeeDTO(emp))
}

// SalaryHistory returns an employee's salary entries, oldest first.
func (h *Handler) SalaryHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.SalaryHistory(r.Context(), employeeParam(r))
	if err != nil {
		h.fail(w, r, "Failed to get salary history", err)
		return
	}

	dtos := make([]SalaryRequest, len(records))
	for i, rec := range records {
		dtos[i] = SalaryRequest{EffectiveDate: rec.EffectiveDate, MonthlySalary: rec.MonthlySalary}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// AddSalary appends a salary history entry for an existing employee.
func (h *Handler) AddSalary(w http.ResponseWriter, r *http.Request) {
	var req SalaryRequest
	if !decode(w, r, &req) {
		return
	}
	empID := employeeParam(r)
	if _, err := h.Store.GetEmployee(r.Context(), empID); err != nil {
		h.fail(w, r, "Failed to add salary", err)
		return
	}

	ve := &generic.ValidationError{}
	if req.EffectiveDate.IsZero() {
		ve.Add("effective_date", "required", "effective_date is required")
	}
	if !req.MonthlySalary.IsPositive() {
		ve.Add("monthly_salary", "gt", "monthly_salary must be positive")
	}
	if err := ve.OrNil(); err != nil {
		h.fail(w, r, "Failed to add salary", err)
		return
	}

	rec := generic.SalaryRecord{EmployeeID: empID, EffectiveDate: req.EffectiveDate, MonthlySalary: req.MonthlySalary}
	if err := h.Store.SaveSalary(r.Context(), rec); err != nil {
		h.fail(w, r, "Failed to add salary", err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// =============================================================================
// RULE CATALOG HANDLERS
// =============================================================================

// ListRuleTypes returns the handler listing one kind of rule type.
func (h *Handler) ListRuleTypes(kind rules.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		types, err := h.Rules.Store.ListTypes(r.Context(), kind, queryBool(r, "active"))
		if err != nil {
			h.fail(w, r, "Failed to list "+string(kind)+" types", err)
			return
		}
		writeJSON(w, http.StatusOK, types)
	}
}

// SaveRuleType returns the handler creating (POST) or updating (PUT {id})
// one kind of rule type.
func (h *Handler) SaveRuleType(kind rules.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t rules.RuleType
		if !decode(w, r, &t) {
			return
		}
		t.Kind = kind
		status := http.StatusCreated
		if id := chi.URLParam(r, "typeID"); id != "" {
			if _, err := h.Rules.Store.GetType(r.Context(), id); err != nil {
				h.fail(w, r, "Failed to save "+string(kind)+" type", err)
				return
			}
			t.ID = id
			status = http.StatusOK
		}

		saved, err := h.Rules.SaveType(r.Context(), actorID(r), t)
		if err != nil {
			h.fail(w, r, "Failed to save "+string(kind)+" type", err)
			return
		}
		writeJSON(w, status, saved)
	}
}

// ListOverrides returns an employee's overrides, optionally of one kind.
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	empID := employeeParam(r)
	kinds := []rules.Kind{rules.KindAllowance, rules.KindDeduction}
	if k := r.URL.Query().Get("kind"); k != "" {
		kinds = []rules.Kind{rules.Kind(k)}
	}

	out := []rules.Override{}
	for _, k := range kinds {
		list, err := h.Rules.Store.ListOverrides(r.Context(), empID, k)
		if err != nil {
			h.fail(w, r, "Failed to list overrides", err)
			return
		}
		out = append(out, list...)
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateOverride pins an employee's amount for a rule type.
func (h *Handler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var o rules.Override
	if !decode(w, r, &o) {
		return
	}
	o.EmployeeID = employeeParam(r)

	created, err := h.Rules.CreateOverride(r.Context(), actorID(r), o)
	if err != nil {
		h.fail(w, r, "Failed to create override", err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// EndOverride closes an override on the given date.
func (h *Handler) EndOverride(w http.ResponseWriter, r *http.Request) {
	var req EndOverrideRequest
	if !decode(w, r, &req) {
		return
	}

	o, err := h.Rules.EndOverride(r.Context(), actorID(r), chi.URLParam(r, "id"), req.EndDate)
	if err != nil {
		h.fail(w, r, "Failed to end override", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// =============================================================================
// AUDIT HANDLERS
// =============================================================================

// ListAudit returns audit entries, newest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	q := r.URL.Query()

	entries, err := h.Store.ListAudit(r.Context(), sqlite.AuditFilter{
		Table:    q.Get("table"),
		RecordID: q.Get("record_id"),
		Action:   generic.AuditAction(q.Get("action")),
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, r, "Failed to list audit entries", err)
		return
	}

	dtos := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toAuditDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health pings the database.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Database unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
