package api

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/benefits"
	"github.com/warp/payroll-engine/config"
)

func TestSeedCatalog_OnlyIntoEmptyCatalog(t *testing.T) {
	// GIVEN: A fresh database
	// WHEN: Seeding the default catalog twice
	// THEN: The first call writes every type, the second does nothing
	f := newAPIFixture(t)
	ctx := context.Background()

	report, err := f.svc.SeedCatalog(ctx, "")
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Positive(t, report.RuleTypes)
	assert.Positive(t, report.BenefitTypes)

	types, err := f.svc.Benefits.ListTypes(ctx, true)
	require.NoError(t, err)
	assert.Len(t, types, report.BenefitTypes)

	again, err := f.svc.SeedCatalog(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestSeedCatalog_MissingFile(t *testing.T) {
	f := newAPIFixture(t)

	_, err := f.svc.SeedCatalog(context.Background(), t.TempDir()+"/missing.yaml")

	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default()

	opts := OptionsFromConfig(cfg, nil, "host-1")
	assert.IsType(t, benefits.NoTax{}, opts.Tax, "zero rate withholds nothing")
	assert.Equal(t, 22, opts.DailyRateDivisor)
	assert.True(t, decimal.RequireFromString("1.25").Equal(opts.LeaveRate.Vacation))
	assert.Equal(t, cfg.Scheduler.RetentionMaxAge(), opts.RetentionMaxAge)
	assert.Equal(t, "host-1", opts.Holder)

	cfg.Benefits.TaxRate = decimal.RequireFromString("0.2")
	opts = OptionsFromConfig(cfg, nil, "host-1")
	assert.Equal(t, benefits.FlatRateTax{Rate: cfg.Benefits.TaxRate, ExemptAmount: cfg.Benefits.TaxExemptAmount}, opts.Tax)
}
