package api

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/leave"
)

func TestScheduler_RunNowCreditsPreviousMonthOnce(t *testing.T) {
	// GIVEN: emp-1 with a 2025 balance and a clock on March 14
	// WHEN: The scheduler checks twice
	// THEN: February is credited on the first check only, and the sweep runs
	//       once because the second check is inside RetentionEvery
	f := newAPIFixture(t)
	ctx := context.Background()
	_, err := f.svc.Leave.OpenBalance(ctx, "test", "emp-1", 2025, leave.Rate{})
	require.NoError(t, err)
	s := NewJobScheduler(f.svc, nil)

	first, err := s.RunNow(ctx)
	require.NoError(t, err)
	require.NotNil(t, first.Accrual)
	assert.Equal(t, 2025, first.Accrual.Year)
	assert.Equal(t, time.February, first.Accrual.Month)
	assert.Equal(t, 1, first.Accrual.Succeeded)
	assert.NotNil(t, first.Retention)

	second, err := s.RunNow(ctx)
	require.NoError(t, err)
	assert.Nil(t, second.Accrual, "february already completed")
	assert.Nil(t, second.Retention, "last sweep is recent")

	accruals, err := f.svc.Leave.ListAccruals(ctx, "emp-1", 2025)
	require.NoError(t, err)
	assert.Len(t, accruals, 1)
}

func TestScheduler_LeaseHeldElsewhereIsNotAnError(t *testing.T) {
	f := newAPIFixture(t)
	ctx := context.Background()
	ok, err := f.store.Jobs().AcquireLease(ctx, leave.AccrualJobName, "other-runner", testNow, time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	s := NewJobScheduler(f.svc, nil)

	res, err := s.RunNow(ctx)

	require.NoError(t, err)
	assert.Nil(t, res.Accrual)
}

func TestScheduler_RetentionSkippedWithoutMaxAge(t *testing.T) {
	f := newAPIFixture(t)
	s := NewJobScheduler(f.svc, nil)
	s.Retention = nil

	res, err := s.RunNow(context.Background())

	require.NoError(t, err)
	assert.Nil(t, res.Retention)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	f := newAPIFixture(t)
	s := NewJobScheduler(f.svc, nil)
	s.Enabled = false

	s.Start()
	defer s.Stop()

	assert.False(t, s.Status().Running)
}

func TestScheduler_StartRunsImmediatelyAndStops(t *testing.T) {
	f := newAPIFixture(t)
	s := NewJobScheduler(f.svc, nil)
	s.CheckInterval = time.Hour

	s.Start()
	require.Eventually(t, func() bool {
		return !s.Status().LastCheck.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	st := s.Status()
	assert.True(t, st.Running)
	assert.Equal(t, testNow.Add(time.Hour), st.NextCheck)

	s.Stop()
	assert.False(t, s.Status().Running)
}

func TestPreviousMonth(t *testing.T) {
	tests := []struct {
		now       time.Time
		wantYear  int
		wantMonth time.Month
	}{
		{time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC), 2025, time.February},
		{time.Date(2025, time.January, 31, 23, 0, 0, 0, time.UTC), 2024, time.December},
		{time.Date(2024, time.March, 31, 12, 0, 0, 0, time.UTC), 2024, time.February},
	}
	for _, tt := range tests {
		y, m := previousMonth(tt.now)
		assert.Equal(t, tt.wantYear, y, tt.now.String())
		assert.Equal(t, tt.wantMonth, m, tt.now.String())
	}
}
