package store

import "time"

const dayMillis = 24 * 60 * 60 * 1000

// Range is a closed [Start, End] interval on attribution dates.
type Range struct {
	Start time.Time
	End   time.Time
}

// DayStart truncates t to its UTC midnight, the day bucket of t.
func DayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DayRange returns the closed range covering t's UTC day, ending on its last
// millisecond.
func DayRange(t time.Time) Range {
	start := DayStart(t)
	return Range{Start: start, End: start.Add(24*time.Hour - time.Millisecond)}
}

// MonthRange returns the half-open [start, end) bounds of a UTC calendar
// month, as used by RecordDaysInMonth.
func MonthRange(year int, month time.Month) (start, end time.Time) {
	start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

// MonthClosedRange returns the closed range covering a UTC calendar month,
// ending on its last millisecond, as used by the amount projections.
func MonthClosedRange(year int, month time.Month) Range {
	start, end := MonthRange(year, month)
	return Range{Start: start, End: end.Add(-time.Millisecond)}
}
