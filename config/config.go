/*
Package config loads the engine configuration.

LOAD ORDER (later wins):
  1. Default()
  2. YAML file (path from --config or PAYROLL_CONFIG)
  3. .env in the working directory, if present (does not override variables
     already set in the process environment)
  4. PAYROLL_* environment variables
  5. Command-line flags (applied by the caller after Load)

Validate runs after the caller has applied flags.

ENVIRONMENT:
  PAYROLL_CONFIG               path of the YAML file
  PAYROLL_PORT                 server.port
  PAYROLL_DB_PATH              database.path
  PAYROLL_LOG_LEVEL            log.level
  PAYROLL_LOG_FORMAT           log.format
  PAYROLL_CATALOG_FILE         catalog_file
  PAYROLL_TAX_RATE             benefits.tax_rate
  PAYROLL_SCHEDULER_ENABLED    scheduler.enabled
  PAYROLL_RETENTION_DIR        scheduler.retention_dir
  PAYROLL_RETENTION_DAYS       scheduler.retention_days

SEE ALSO:
  - logger.go: slog construction from the log section
  - cmd/server/main.go, cmd/jobs/main.go: flag overrides
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/payroll-engine/generic"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PAYROLL_"

type Config struct {
	Server      ServerConfig    `yaml:"server" json:"server"`
	Database    DatabaseConfig  `yaml:"database" json:"database"`
	Log         LogConfig       `yaml:"log" json:"log"`
	Payroll     PayrollConfig   `yaml:"payroll" json:"payroll"`
	Benefits    BenefitsConfig  `yaml:"benefits" json:"benefits"`
	Leave       LeaveConfig     `yaml:"leave" json:"leave"`
	Scheduler   SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	CatalogFile string          `yaml:"catalog_file" json:"catalog_file"`
}

type ServerConfig struct {
	Port        int      `yaml:"port" json:"port" validate:"gte=1,lte=65535"`
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`
}

type DatabaseConfig struct {
	// Path of the SQLite file, or ":memory:".
	Path string `yaml:"path" json:"path" validate:"required"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
}

type PayrollConfig struct {
	// DailyRateDivisor converts a monthly salary into a daily rate.
	DailyRateDivisor int `yaml:"daily_rate_divisor" json:"daily_rate_divisor" validate:"gte=1,lte=31"`
}

type BenefitsConfig struct {
	TaxRate            decimal.Decimal `yaml:"tax_rate" json:"tax_rate"`
	TaxExemptAmount    decimal.Decimal `yaml:"tax_exempt_amount" json:"tax_exempt_amount"`
	TLBFactor          decimal.Decimal `yaml:"tlb_factor" json:"tlb_factor"`
	TLBReviewThreshold decimal.Decimal `yaml:"tlb_review_threshold" json:"tlb_review_threshold"`
}

type LeaveConfig struct {
	MonthlyVacationCredit decimal.Decimal `yaml:"monthly_vacation_credit" json:"monthly_vacation_credit"`
	MonthlySickCredit     decimal.Decimal `yaml:"monthly_sick_credit" json:"monthly_sick_credit"`
	LeaseTTL              time.Duration   `yaml:"lease_ttl" json:"lease_ttl" validate:"gt=0"`
}

type SchedulerConfig struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`
	CheckInterval time.Duration `yaml:"check_interval" json:"check_interval" validate:"gt=0"`
	RetentionDays int           `yaml:"retention_days" json:"retention_days" validate:"gte=1"`
	RetentionDir  string        `yaml:"retention_dir" json:"retention_dir"`
}

// RetentionMaxAge is RetentionDays as a duration.
func (s SchedulerConfig) RetentionMaxAge() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// Default returns the configuration used when no file or variable sets a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Path: "payroll.db"},
		Log:      LogConfig{Level: "info", Format: "text"},
		Payroll:  PayrollConfig{DailyRateDivisor: 22},
		Benefits: BenefitsConfig{
			TaxRate:            decimal.Zero,
			TaxExemptAmount:    decimal.Zero,
			TLBFactor:          decimal.NewFromInt(1),
			TLBReviewThreshold: decimal.Zero,
		},
		Leave: LeaveConfig{
			MonthlyVacationCredit: decimal.RequireFromString("1.25"),
			MonthlySickCredit:     decimal.RequireFromString("1.25"),
			LeaseTTL:              30 * time.Minute,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: time.Hour,
			RetentionDays: 365,
			RetentionDir:  "./data/exports",
		},
	}
}

// Load builds the configuration from path (may be empty), .env and the
// environment. It does not validate; call Validate after applying flags.
func Load(path string) (*Config, error) {
	cfg := Default()

	// .env never overrides the real environment
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = os.Getenv(EnvPrefix + "CONFIG")
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(EnvPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	num("PORT", &c.Server.Port)
	str("DB_PATH", &c.Database.Path)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("CATALOG_FILE", &c.CatalogFile)
	str("RETENTION_DIR", &c.Scheduler.RetentionDir)
	num("RETENTION_DAYS", &c.Scheduler.RetentionDays)

	if v := os.Getenv(EnvPrefix + "TAX_RATE"); v != "" {
		d, err := decimal.NewFromString(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTAX_RATE: %w", EnvPrefix, err))
		} else {
			c.Benefits.TaxRate = d
		}
	}
	if v := os.Getenv(EnvPrefix + "SCHEDULER_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sSCHEDULER_ENABLED: %w", EnvPrefix, err))
		} else {
			c.Scheduler.Enabled = b
		}
	}
	return errors.Join(errs...)
}

// Validate checks tag rules and the decimal ranges the tags cannot express.
// Failures are a *generic.ValidationError.
func (c *Config) Validate() error {
	c.Log.Level = strings.ToLower(c.Log.Level)
	c.Log.Format = strings.ToLower(c.Log.Format)

	ve := &generic.ValidationError{}
	if err := generic.MergeValidation(ve, generic.ValidateStruct(c)); err != nil {
		return err
	}
	if c.Benefits.TaxRate.IsNegative() || c.Benefits.TaxRate.GreaterThan(decimal.NewFromInt(1)) {
		ve.Add("benefits.tax_rate", "range", "must be between 0 and 1")
	}
	if c.Benefits.TaxExemptAmount.IsNegative() {
		ve.Add("benefits.tax_exempt_amount", "gte", "must not be negative")
	}
	if !c.Benefits.TLBFactor.IsPositive() {
		ve.Add("benefits.tlb_factor", "gt", "must be greater than 0")
	}
	if c.Benefits.TLBReviewThreshold.IsNegative() {
		ve.Add("benefits.tlb_review_threshold", "gte", "must not be negative")
	}
	if c.Leave.MonthlyVacationCredit.IsNegative() {
		ve.Add("leave.monthly_vacation_credit", "gte", "must not be negative")
	}
	if c.Leave.MonthlySickCredit.IsNegative() {
		ve.Add("leave.monthly_sick_credit", "gte", "must not be negative")
	}
	return ve.OrNil()
}
