package dashboard

import "time"

// dateLayout is the date-only granularity used for cache bounds and
// query parameters.
const dateLayout = "2006-01-02"

// DateOnly truncates a timestamp to its YYYY-MM-DD representation.
func DateOnly(t time.Time) string {
	return t.Format(dateLayout)
}

// ParseDate parses a YYYY-MM-DD string into a midnight UTC timestamp.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// Midnight returns t truncated to the start of its calendar day.
func Midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns midnight of the most recent weekStart day at or
// before t.
func StartOfWeek(t time.Time, weekStart time.Weekday) time.Time {
	d := Midnight(t)
	offset := (int(d.Weekday()) - int(weekStart) + 7) % 7
	return d.AddDate(0, 0, -offset)
}

// StartOfMonth returns midnight of the first day of t's month.
func StartOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// WeekStarts returns n consecutive week-start dates in ascending order,
// the last being the week containing end.
func WeekStarts(n int, end time.Time, weekStart time.Weekday) []time.Time {
	starts := make([]time.Time, n)
	last := StartOfWeek(end, weekStart)
	for i := n - 1; i >= 0; i-- {
		starts[i] = last.AddDate(0, 0, -7*(n-1-i))
	}
	return starts
}

// MonthStarts returns n consecutive month-start dates in ascending
// order, the last being the month containing end.
func MonthStarts(n int, end time.Time) []time.Time {
	starts := make([]time.Time, n)
	last := StartOfMonth(end)
	for i := n - 1; i >= 0; i-- {
		starts[i] = last.AddDate(0, -(n - 1 - i), 0)
	}
	return starts
}
