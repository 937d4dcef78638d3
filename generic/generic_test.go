package generic_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/generic"
)

// =============================================================================
// PAY WINDOW TESTS
// =============================================================================

func TestHalfMonth_Windows(t *testing.T) {
	first := generic.HalfMonth(2025, time.February, 1)
	assert.Equal(t, "2025-02-01", first.Start.String())
	assert.Equal(t, "2025-02-15", first.End.String())

	second := generic.HalfMonth(2025, time.February, 2)
	assert.Equal(t, "2025-02-16", second.Start.String())
	assert.Equal(t, "2025-02-28", second.End.String(), "second half runs to month end")

	leap := generic.HalfMonth(2024, time.February, 2)
	assert.Equal(t, "2024-02-29", leap.End.String())

	assert.False(t, generic.HalfMonth(2025, time.March, 3).Valid())
}

func TestPeriod_Workdays(t *testing.T) {
	// March 1-15 2025: Sat 1st, so 10 weekdays
	p := generic.HalfMonth(2025, time.March, 1)
	assert.Equal(t, 10, p.Workdays())
	assert.True(t, p.Contains(generic.NewTimePoint(2025, time.March, 15)))
	assert.False(t, p.Contains(generic.NewTimePoint(2025, time.March, 16)))
}

func TestMonthsOfService(t *testing.T) {
	hire := generic.NewTimePoint(2020, time.March, 15)

	assert.Equal(t, 0, generic.MonthsOfService(hire, generic.NewTimePoint(2020, time.April, 14)))
	assert.Equal(t, 1, generic.MonthsOfService(hire, generic.NewTimePoint(2020, time.April, 15)))
	assert.Equal(t, 57, generic.MonthsOfService(hire, generic.NewTimePoint(2024, time.December, 31)))
	assert.Equal(t, 0, generic.MonthsOfService(hire, generic.NewTimePoint(2019, time.January, 1)), "before hire")
}

func TestTimePoint_TextRoundTrip(t *testing.T) {
	var tp generic.TimePoint
	require.NoError(t, tp.UnmarshalText([]byte("2025-06-30")))
	out, err := tp.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2025-06-30", string(out))

	assert.Error(t, tp.UnmarshalText([]byte("30/06/2025")))
}

func TestMoney_RoundsToCentavos(t *testing.T) {
	assert.Equal(t, "909.09", generic.Money(decimal.RequireFromString("909.0909")).StringFixed(2))
	assert.Equal(t, "0.01", generic.Money(decimal.RequireFromString("0.005")).String())
}

// =============================================================================
// ERROR TAXONOMY TESTS
// =============================================================================

func TestErrors_Classification(t *testing.T) {
	guard := generic.Guard("payroll period", "pp-1", "finalize", "draft", "processing")
	assert.True(t, generic.IsGuardViolation(guard))
	assert.True(t, generic.IsClientError(guard))
	assert.Contains(t, guard.Error(), "allowed: processing")

	wrapped := fmt.Errorf("load: %w", fmt.Errorf("%w: emp-9", generic.ErrEmployeeNotFound))
	assert.True(t, generic.IsNotFound(wrapped))
	assert.True(t, errors.Is(wrapped, generic.ErrEmployeeNotFound))
	assert.False(t, errors.Is(wrapped, generic.ErrPeriodNotFound))

	dup := &generic.DuplicateError{Entity: "benefit item", Key: "cyc-1/emp-1"}
	assert.True(t, errors.Is(dup, generic.ErrDuplicate))

	assert.True(t, generic.IsRetryable(fmt.Errorf("x: %w", generic.ErrStaleState)))
}

type sampleInput struct {
	Name   string `json:"name" validate:"required"`
	Number int    `json:"period_number" validate:"oneof=1 2"`
}

func TestValidateStruct_UsesJSONFieldNames(t *testing.T) {
	err := generic.ValidateStruct(sampleInput{Number: 3})
	require.Error(t, err)

	var ve *generic.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Len(t, ve.Fields, 2)
	assert.Equal(t, "name", ve.Fields[0].Field)
	assert.Equal(t, "period_number", ve.Fields[1].Field)
	assert.True(t, errors.Is(err, generic.ErrValidation))

	assert.NoError(t, generic.ValidateStruct(sampleInput{Name: "ok", Number: 2}))
}

func TestUniqueIDs_KeepsFirstOccurrenceOrder(t *testing.T) {
	got := generic.UniqueIDs([]generic.EmployeeID{"b", "a", "b", "c", "a"})

	assert.Equal(t, []generic.EmployeeID{"b", "a", "c"}, got)
	assert.Nil(t, generic.UniqueIDs(nil))
}
