// Package calendar provides timezone-aware calendar-day arithmetic. Reminder
// offsets are computed on calendar days in the organization timezone, never
// on raw wall-clock durations, so DST shifts cannot produce off-by-one sends.
package calendar

import (
	"fmt"
	"time"
)

// DayFormat is the canonical string form of a Day.
const DayFormat = "2006-01-02"

// Day is a calendar date with no time-of-day or zone attached. Arithmetic on
// Day is exact regardless of DST transitions in the originating zone.
type Day struct {
	Year  int
	Month time.Month
	Date  int
}

// DayOf returns the calendar day that t falls on in loc.
func DayOf(t time.Time, loc *time.Location) Day {
	y, m, d := t.In(loc).Date()
	return Day{Year: y, Month: m, Date: d}
}

// ParseDay parses the canonical YYYY-MM-DD form.
func ParseDay(raw string) (Day, error) {
	t, err := time.Parse(DayFormat, raw)
	if err != nil {
		return Day{}, fmt.Errorf("parse day %q: %w", raw, err)
	}
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Date: d}, nil
}

// MustParseDay is ParseDay for static inputs; it panics on malformed ones.
func MustParseDay(raw string) Day {
	d, err := ParseDay(raw)
	if err != nil {
		panic(err)
	}
	return d
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Date)
}

// IsZero reports whether d is the zero Day.
func (d Day) IsZero() bool {
	return d == Day{}
}

// AddDays returns the day n calendar days after d (negative n goes back).
// Normalization runs through time.Date in UTC, which has no DST, so the
// result is always exactly n days away.
func (d Day) AddDays(n int) Day {
	t := time.Date(d.Year, d.Month, d.Date+n, 0, 0, 0, 0, time.UTC)
	y, m, dd := t.Date()
	return Day{Year: y, Month: m, Date: dd}
}

// Before reports whether d is strictly earlier than other.
func (d Day) Before(other Day) bool {
	return d.startUTC().Before(other.startUTC())
}

// After reports whether d is strictly later than other.
func (d Day) After(other Day) bool {
	return other.Before(d)
}

// DaysUntil returns the signed number of calendar days from d to other.
func (d Day) DaysUntil(other Day) int {
	return int(other.startUTC().Sub(d.startUTC()) / (24 * time.Hour))
}

// StartIn returns midnight at the start of d in loc. During a DST gap the
// zone database resolves this to the first valid instant of the day.
func (d Day) StartIn(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, loc)
}

// EndIn returns the first instant of the following day in loc. The half-open
// interval [StartIn, EndIn) covers the whole calendar day.
func (d Day) EndIn(loc *time.Location) time.Time {
	next := d.AddDays(1)
	return time.Date(next.Year, next.Month, next.Date, 0, 0, 0, 0, loc)
}

func (d Day) startUTC() time.Time {
	return time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, time.UTC)
}
