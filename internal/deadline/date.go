package deadline

import (
	"fmt"
	"time"
)

// Date is a calendar day without a time component.
//
// The zero value is not a valid date; use NewDate or Extract.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const (
	isoLayout     = "2006-01-02"
	displayLayout = "02.01.2006"
)

// NewDate returns the date only if (year, month, day) names a real calendar day.
// Out-of-range parts are rejected, never normalized (31.04 is not 01.05).
func NewDate(year int, month time.Month, day int) (Date, bool) {
	if year < 1 || month < time.January || month > time.December || day < 1 {
		return Date{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day {
		return Date{}, false
	}
	return Date{Year: year, Month: month, Day: day}, true
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Today returns the current calendar day in loc (UTC if nil).
func Today(loc *time.Location) Date {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(time.Now().In(loc))
}

// ParseISO parses "YYYY-MM-DD".
func ParseISO(s string) (Date, error) {
	t, err := time.ParseInLocation(isoLayout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d == Date{} }

// Time returns midnight UTC of the day.
func (d Date) Time() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// Compare returns -1, 0 or +1 by calendar order.
func (d Date) Compare(o Date) int {
	switch {
	case d.Year != o.Year:
		return sign(d.Year - o.Year)
	case d.Month != o.Month:
		return sign(int(d.Month) - int(o.Month))
	default:
		return sign(d.Day - o.Day)
	}
}

func (d Date) Before(o Date) bool { return d.Compare(o) < 0 }
func (d Date) After(o Date) bool  { return d.Compare(o) > 0 }

// AddDays shifts the date by n calendar days.
func (d Date) AddDays(n int) Date {
	return DateOf(d.Time().AddDate(0, 0, n))
}

// String renders the ISO form used in dedup keys.
func (d Date) String() string { return d.Time().Format(isoLayout) }

// Display renders the dd.mm.yyyy form used in messages.
func (d Date) Display() string { return d.Time().Format(displayLayout) }

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	}
	return 0
}
