package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodKeys(t *testing.T) {
	ts := time.Date(2024, 1, 15, 13, 45, 0, 0, time.UTC) // a Monday

	assert.Equal(t, "2024-01-15", DailyKey(ts))
	assert.Equal(t, "2024-W03", WeeklyKey(ts))
	assert.Equal(t, "2024-01", MonthlyKey(ts))
}

func TestWeeklyKey_YearBoundary(t *testing.T) {
	// Dec 31 2024 falls in ISO week 1 of 2025.
	ts := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2025-W01", WeeklyKey(ts))

	// Jan 1 2021 falls in ISO week 53 of 2020.
	ts = time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "2020-W53", WeeklyKey(ts))
}

func TestWeekDays(t *testing.T) {
	days, err := WeekDays("2024-W03")
	require.NoError(t, err)
	require.Len(t, days, 7)

	assert.Equal(t, "2024-01-15", days[0]) // Monday
	assert.Equal(t, "2024-01-21", days[6]) // Sunday

	// Every day of the week maps back to the same weekly key.
	for _, d := range days {
		day, err := ParseDailyKey(d)
		require.NoError(t, err)
		assert.Equal(t, "2024-W03", WeeklyKey(day))
	}
}

func TestWeekDays_Invalid(t *testing.T) {
	_, err := WeekDays("2024-03")
	assert.Error(t, err)

	_, err = WeekDays("2024-W60")
	assert.Error(t, err)
}

func TestMonthDays(t *testing.T) {
	days, err := MonthDays("2024-02")
	require.NoError(t, err)
	require.Len(t, days, 29) // leap year

	assert.Equal(t, "2024-02-01", days[0])
	assert.Equal(t, "2024-02-29", days[28])

	days, err = MonthDays("2023-02")
	require.NoError(t, err)
	assert.Len(t, days, 28)
}

func TestParseDailyKey(t *testing.T) {
	day, err := ParseDailyKey("2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), day)

	_, err = ParseDailyKey("15-01-2024")
	assert.Error(t, err)
}

func TestUsageEventDuration(t *testing.T) {
	var e UsageEvent
	assert.Equal(t, int64(0), e.Duration())

	d := int64(9000)
	e.DurationMs = &d
	assert.Equal(t, int64(9000), e.Duration())
}
