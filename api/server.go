/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for the admin frontend

ROUTE GROUPS:
  /api/employees/*      Directory, overrides, leave balances
  /api/allowances/*     Allowance types
  /api/deductions/*     Deduction types
  /api/overrides/*      Override lifecycle
  /api/payroll/*        Periods, attendance, items
  /api/benefits/*       Benefit types, cycles, items, TLB
  /api/jobs/*           Accrual, retention, run history, scheduler
  /api/audit            Audit trail
  /healthz              Liveness

SECURITY NOTE:
  No authentication middleware. Writes are attributed to X-Actor-ID.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/payroll-engine/rules"
)

// DefaultCORSOrigins are allowed when none are configured.
var DefaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	if len(corsOrigins) == 0 {
		corsOrigins = DefaultCORSOrigins
	}
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", ActorHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)

	r.Route("/api", func(r chi.Router) {
		// Directory, overrides and leave
		r.Route("/employees", func(r chi.Router) {
			r.Get("/", h.ListEmployees)
			r.Post("/", h.CreateEmployee)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetEmployee)
				r.Get("/salary", h.SalaryHistory)
				r.Post("/salary", h.AddSalary)
				r.Get("/overrides", h.ListOverrides)
				r.Post("/overrides", h.CreateOverride)
				r.Get("/leave", h.ListLeaveBalances)
				r.Post("/leave", h.OpenLeaveBalance)
				r.Post("/leave/usage", h.RecordLeaveUsage)
				r.Get("/leave/remaining", h.RemainingLeave)
				r.Get("/leave/accruals", h.ListLeaveAccruals)
			})
		})

		// Rule catalog
		for path, kind := range map[string]rules.Kind{
			"/allowances": rules.KindAllowance,
			"/deductions": rules.KindDeduction,
		} {
			r.Route(path, func(r chi.Router) {
				r.Get("/", h.ListRuleTypes(kind))
				r.Post("/", h.SaveRuleType(kind))
				r.Put("/{typeID}", h.SaveRuleType(kind))
			})
		}
		r.Post("/overrides/{id}/end", h.EndOverride)

		// Payroll
		r.Route("/payroll", func(r chi.Router) {
			r.Route("/periods", func(r chi.Router) {
				r.Get("/", h.ListPeriods)
				r.Post("/", h.CreatePeriod)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetPeriod)
					r.Put("/", h.UpdatePeriod)
					r.Delete("/", h.DeletePeriod)
					r.Post("/start", h.StartProcessing())
					r.Post("/complete", h.CompletePeriod())
					r.Post("/archive", h.ArchivePeriod())
					r.Post("/cancel-revert", h.CancelAndRevert)
					r.Get("/attendance", h.ListAttendance)
					r.Post("/attendance", h.ImportAttendance)
					r.Post("/process", h.ProcessBulk)
					r.Post("/employees/{employeeID}/process", h.ProcessEmployee)
					r.Get("/items", h.ListPayrollItems)
					r.Post("/items/finalize", h.FinalizePayrollItems)
					r.Post("/items/pay", h.PayPayrollItems)
				})
			})
			r.Route("/items/{id}", func(r chi.Router) {
				r.Get("/", h.GetPayrollItem)
				r.Post("/recalculate", h.RecalculateItem())
				r.Post("/finalize", h.FinalizePayrollItem())
				r.Post("/pay", h.PayPayrollItem())
			})
		})

		// Benefits
		r.Route("/benefits", func(r chi.Router) {
			r.Get("/types", h.ListBenefitTypes)
			r.Post("/types", h.SaveBenefitType)
			r.Put("/types/{id}", h.SaveBenefitType)

			r.Route("/cycles", func(r chi.Router) {
				r.Get("/", h.ListCycles)
				r.Post("/", h.CreateCycle)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetCycle)
					r.Post("/process", h.ProcessCycle)
					r.Post("/finalize", h.FinalizeCycle())
					r.Post("/release", h.ReleaseCycle())
					r.Post("/cancel", h.CancelCycle)
					r.Post("/refresh", h.RefreshCycle())
					r.Get("/items", h.ListBenefitItems)
					r.Post("/items", h.AddBenefitItem)
					r.Post("/items/approve", h.BulkApprove)
					r.Post("/items/pay", h.BulkMarkPaid)
				})
			})
			r.Route("/items/{id}", func(r chi.Router) {
				r.Get("/", h.GetBenefitItem)
				r.Get("/adjustments", h.ListAdjustments)
				r.Post("/adjust", h.AdjustItem)
				r.Post("/approve", h.ApproveBenefitItem())
				r.Post("/pay", h.PayBenefitItem())
				r.Post("/cancel", h.CancelBenefitItem())
			})
			r.Post("/tlb/{employeeID}", h.CalculateTLB)
		})

		// Jobs
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/accrual", h.RunAccrual)
			r.Post("/retention", h.RunRetention)
			r.Post("/check", h.RunSchedulerCheck)
			r.Get("/runs", h.ListJobRuns)
			r.Get("/scheduler", h.SchedulerStatus)
		})

		r.Get("/audit", h.ListAudit)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Route not found", nil)
	})

	return r
}
