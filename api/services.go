package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/benefits"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/factory"
	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/leave"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/rules"
	"github.com/warp/payroll-engine/store/sqlite"
)

// Options are the tunables the services are built with. Zero values fall
// back to each service's default.
type Options struct {
	DailyRateDivisor   int
	Tax                benefits.TaxPolicy
	TLBFactor          decimal.Decimal
	TLBReviewThreshold decimal.Decimal
	LeaveRate          leave.Rate
	LeaseTTL           time.Duration
	RetentionDir       string
	RetentionMaxAge    time.Duration
	Holder             string
	Logger             *slog.Logger
	Clock              generic.Clock
}

// Services is every engine service bound to one store. The HTTP handler, the
// scheduler and the jobs CLI share it.
type Services struct {
	Store     *sqlite.Store
	Rules     *rules.Catalog
	Payroll   *payroll.Service
	Benefits  *benefits.Service
	Leave     *leave.Service
	TLB       *benefits.TLBCalculator
	Accrual   *leave.AccrualJob
	Retention *leave.RetentionJob
}

// NewServices wires the services over store. The store is both the employee
// directory and the audit log.
func NewServices(store *sqlite.Store, o Options) *Services {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	divisor := o.DailyRateDivisor
	if divisor <= 0 {
		divisor = payroll.DefaultDivisor
	}

	lv := &leave.Service{
		Store:     store.Leave(),
		Directory: store,
		Audit:     store,
		Logger:    logger.With("component", "leave"),
		Clock:     o.Clock,
	}
	return &Services{
		Store: store,
		Rules: &rules.Catalog{
			Store:  store.Rules(),
			Audit:  store,
			Logger: logger.With("component", "rules"),
			Clock:  o.Clock,
		},
		Payroll: &payroll.Service{
			Store:      store.Payroll(),
			Directory:  store,
			Catalog:    store.Rules(),
			Calculator: payroll.NewCalculator(divisor),
			Audit:      store,
			Logger:     logger.With("component", "payroll"),
			Clock:      o.Clock,
		},
		Benefits: &benefits.Service{
			Store:     store.Benefits(),
			Directory: store,
			Tax:       o.Tax,
			Audit:     store,
			Logger:    logger.With("component", "benefits"),
			Clock:     o.Clock,
		},
		Leave: lv,
		TLB: &benefits.TLBCalculator{
			Directory:       store,
			Credits:         lv,
			Factor:          o.TLBFactor,
			ReviewThreshold: o.TLBReviewThreshold,
		},
		Accrual: &leave.AccrualJob{
			Service:  lv,
			Jobs:     store.Jobs(),
			Rate:     o.LeaveRate,
			LeaseTTL: o.LeaseTTL,
			Holder:   o.Holder,
			Logger:   logger.With("job", leave.AccrualJobName),
			Clock:    o.Clock,
		},
		Retention: &leave.RetentionJob{
			Jobs:     store.Jobs(),
			Dir:      o.RetentionDir,
			MaxAge:   o.RetentionMaxAge,
			LeaseTTL: o.LeaseTTL,
			Holder:   o.Holder,
			Audit:    store,
			Logger:   logger.With("job", leave.RetentionJobName),
			Clock:    o.Clock,
		},
	}
}

// OptionsFromConfig maps the loaded configuration onto service options.
// holder identifies this process in job leases.
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger, holder string) Options {
	var tax benefits.TaxPolicy = benefits.NoTax{}
	if cfg.Benefits.TaxRate.IsPositive() {
		tax = benefits.FlatRateTax{Rate: cfg.Benefits.TaxRate, ExemptAmount: cfg.Benefits.TaxExemptAmount}
	}
	return Options{
		DailyRateDivisor:   cfg.Payroll.DailyRateDivisor,
		Tax:                tax,
		TLBFactor:          cfg.Benefits.TLBFactor,
		TLBReviewThreshold: cfg.Benefits.TLBReviewThreshold,
		LeaveRate: leave.Rate{
			Vacation: cfg.Leave.MonthlyVacationCredit,
			Sick:     cfg.Leave.MonthlySickCredit,
		},
		LeaseTTL:        cfg.Leave.LeaseTTL,
		RetentionDir:    cfg.Scheduler.RetentionDir,
		RetentionMaxAge: cfg.Scheduler.RetentionMaxAge(),
		Holder:          holder,
		Logger:          logger,
	}
}

// SeedCatalog loads the catalog at path, or the built-in default when path
// is empty, and seeds it when the rule catalog holds no types yet. It
// returns nil when nothing was seeded.
func (s *Services) SeedCatalog(ctx context.Context, path string) (*factory.SeedReport, error) {
	existing, err := s.Rules.Store.ListTypes(ctx, "", false)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, nil
	}

	cat := factory.DefaultCatalog()
	if path != "" {
		if cat, err = factory.LoadFile(path); err != nil {
			return nil, fmt.Errorf("load catalog: %w", err)
		}
	}
	return factory.Seed(ctx, generic.SystemActor, cat, factory.Targets{
		Rules:     s.Rules,
		Benefits:  s.Benefits,
		Employees: s.Store,
		Leave:     s.Leave,
	})
}
