package config_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/generic"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payroll.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 22, cfg.Payroll.DailyRateDivisor)
	assert.Equal(t, 365*24*time.Hour, cfg.Scheduler.RetentionMaxAge())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	// GIVEN: A YAML file setting the port, tax rate and lease TTL
	// AND: PAYROLL_PORT set in the environment
	// WHEN: Loading
	// THEN: The file overrides defaults and the environment overrides the file
	path := writeConfig(t, `
server:
  port: 9000
database:
  path: /var/lib/payroll/payroll.db
benefits:
  tax_rate: 0.2
  tax_exempt_amount: "90000"
leave:
  lease_ttl: 10m
scheduler:
  enabled: false
`)
	t.Setenv("PAYROLL_PORT", "9100")
	t.Setenv("PAYROLL_LOG_FORMAT", "json")

	cfg, err := config.Load(path)

	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "/var/lib/payroll/payroll.db", cfg.Database.Path)
	assert.True(t, decimal.RequireFromString("0.2").Equal(cfg.Benefits.TaxRate))
	assert.True(t, decimal.NewFromInt(90000).Equal(cfg.Benefits.TaxExemptAmount))
	assert.Equal(t, 10*time.Minute, cfg.Leave.LeaseTTL)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.True(t, decimal.NewFromInt(1).Equal(cfg.Benefits.TLBFactor), "untouched default")
}

func TestLoad_PathFromEnvironment(t *testing.T) {
	path := writeConfig(t, "catalog_file: catalog.yaml\n")
	t.Setenv("PAYROLL_CONFIG", path)

	cfg, err := config.Load("")

	require.NoError(t, err)
	assert.Equal(t, "catalog.yaml", cfg.CatalogFile)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))

	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_BadEnvironmentValue(t *testing.T) {
	t.Setenv("PAYROLL_RETENTION_DAYS", "a year")

	_, err := config.Load("")

	assert.Error(t, err)
}

func TestValidate_ReportsEveryField(t *testing.T) {
	cfg := config.Default()
	cfg.Server.Port = 0
	cfg.Log.Level = "verbose"
	cfg.Benefits.TaxRate = decimal.RequireFromString("1.5")
	cfg.Benefits.TLBFactor = decimal.Zero

	err := cfg.Validate()

	var ve *generic.ValidationError
	require.True(t, errors.As(err, &ve))
	fields := make([]string, 0, len(ve.Fields))
	for _, f := range ve.Fields {
		fields = append(fields, f.Field)
	}
	assert.ElementsMatch(t, []string{"port", "level", "benefits.tax_rate", "benefits.tlb_factor"}, fields)
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})

	logger.Info("dropped")
	logger.Warn("kept", "period_id", "per-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "kept", rec["msg"])
	assert.Equal(t, "per-1", rec["period_id"])
}
