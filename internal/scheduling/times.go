package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a provider-local wall-clock time at minute precision,
// always in "HH:MM" form. Slot matching is exact-value equality on this
// normalized form, so every time entering the engine goes through
// ParseTimeOfDay or NewTimeOfDay first.
type TimeOfDay string

// NewTimeOfDay builds a normalized time from hour and minute.
func NewTimeOfDay(hour, minute int) TimeOfDay {
	return TimeOfDay(fmt.Sprintf("%02d:%02d", hour, minute))
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS" and drops the seconds.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return "", &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid time %q, want HH:MM", s)}
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid hour in %q", s)}
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", &ValidationError{Field: "time", Reason: fmt.Sprintf("invalid minute in %q", s)}
	}

	return NewTimeOfDay(hour, minute), nil
}

// Hour returns the hour component. TimeOfDay values built by this
// package are always well formed; a zero value returns 0.
func (t TimeOfDay) Hour() int {
	if len(t) != 5 {
		return 0
	}
	h, _ := strconv.Atoi(string(t[:2]))
	return h
}

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int {
	if len(t) != 5 {
		return 0
	}
	h, _ := strconv.Atoi(string(t[:2]))
	m, _ := strconv.Atoi(string(t[3:]))
	return h*60 + m
}

const dateLayout = "2006-01-02"

// NormalizeDate truncates a timestamp to the provider-local calendar day.
// All times in the engine are naive; UTC is used as the neutral location.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses "YYYY-MM-DD" into a normalized calendar date. A
// trailing time or timezone suffix ("2025-03-01T10:00:00Z") is dropped.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, &ValidationError{Field: "date", Reason: fmt.Sprintf("invalid date %q, want YYYY-MM-DD", s)}
	}
	return NormalizeDate(d), nil
}

// FormatDate renders a normalized date back to "YYYY-MM-DD".
func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}
