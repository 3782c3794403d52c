package model

import (
	"fmt"
	"time"
)

// Period key formats. Daily keys are calendar dates, weekly keys use ISO
// week numbering, monthly keys are year-month.
const (
	dailyKeyLayout   = "2006-01-02"
	monthlyKeyLayout = "2006-01"
)

// DailyKey returns the daily period key for a timestamp.
func DailyKey(t time.Time) string {
	return t.Format(dailyKeyLayout)
}

// WeeklyKey returns the ISO-week period key for a timestamp, e.g. "2024-W03".
func WeeklyKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

// MonthlyKey returns the monthly period key for a timestamp.
func MonthlyKey(t time.Time) string {
	return t.Format(monthlyKeyLayout)
}

// ParseDailyKey parses a daily period key back into a UTC date.
func ParseDailyKey(key string) (time.Time, error) {
	t, err := time.ParseInLocation(dailyKeyLayout, key, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid daily key %q: %w", key, err)
	}
	return t, nil
}

// WeekDays returns the seven daily keys covered by an ISO week key.
// Rollups sum the daily rows for these keys rather than incrementing.
func WeekDays(weekKey string) ([]string, error) {
	var year, week int
	if _, err := fmt.Sscanf(weekKey, "%d-W%d", &year, &week); err != nil {
		return nil, fmt.Errorf("invalid weekly key %q: %w", weekKey, err)
	}
	if week < 1 || week > 53 {
		return nil, fmt.Errorf("invalid weekly key %q: week out of range", weekKey)
	}

	// January 4th is always inside ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	monday := jan4.AddDate(0, 0, -(weekday-1)).AddDate(0, 0, (week-1)*7)

	days := make([]string, 7)
	for i := range days {
		days[i] = DailyKey(monday.AddDate(0, 0, i))
	}
	return days, nil
}

// MonthDays returns the daily keys covered by a monthly key.
func MonthDays(monthKey string) ([]string, error) {
	first, err := time.ParseInLocation(monthlyKeyLayout, monthKey, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid monthly key %q: %w", monthKey, err)
	}

	next := first.AddDate(0, 1, 0)
	var days []string
	for d := first; d.Before(next); d = d.AddDate(0, 0, 1) {
		days = append(days, DailyKey(d))
	}
	return days, nil
}
