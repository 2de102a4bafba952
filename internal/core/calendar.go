package core

import "time"

// HasCrossedMonthBoundary reports whether now falls in a different (year,
// month) pair than lastChecked. Both inputs are assumed normalized to the
// same zone by the caller; no timezone conversion happens here.
func HasCrossedMonthBoundary(lastChecked, now time.Time) bool {
	return lastChecked.Year() != now.Year() || lastChecked.Month() != now.Month()
}

// DaysInMonth returns the number of days in the given month.
func DaysInMonth(year int, month time.Month) int {
	// Day zero of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ResolveDayOfMonth resolves a day-of-month against a concrete month,
// clamping to the last valid day: day 31 in a 30-day month resolves to the
// 30th, day 29 in a non-leap February to the 28th. Every day-of-month
// recurrence and credit-card due day goes through this clamp.
func ResolveDayOfMonth(year int, month time.Month, day int) Date {
	if last := DaysInMonth(year, month); day > last {
		day = last
	}
	return NewDate(year, int(month), day)
}
