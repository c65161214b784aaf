// Package dates implements calendar-date arithmetic in a fixed logical calendar.
//
// A Date carries no time of day and no offset. It is derived from the wall-clock
// date an instant denotes in its own location and then frozen at UTC midnight,
// so later arithmetic cannot shift it across a day boundary.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Layout is the canonical stored form of a Date.
const Layout = "2006-01-02"

// ErrInvalidDate is returned for input that is not a canonical YYYY-MM-DD date.
var ErrInvalidDate = errors.New("invalid date")

var canonicalRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Date is a calendar day anchored at UTC midnight. The zero value means "no date".
type Date struct {
	t time.Time
}

// New returns the date y-m-d. Out-of-range values are normalised the way time.Date does.
func New(y int, m time.Month, d int) Date {
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// Parse parses a canonical YYYY-MM-DD string. Anything else is rejected.
func Parse(s string) (Date, error) {
	if !canonicalRe.MatchString(s) {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{t: t}, nil
}

// MustParse is Parse for literals in tests and tables.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseInstant accepts a canonical date, an RFC 3339 timestamp, or a floating
// "2006-01-02T15:04[:05]" wall-clock value and normalises it with ToCalendarDate.
// Timestamps with an offset keep the wall-clock date they were written with.
func ParseInstant(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if d, err := Parse(s); err == nil {
		return d, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04", "20060102T150405Z", "20060102T150405", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return ToCalendarDate(t), nil
		}
	}
	return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// ToCalendarDate takes the wall-clock date t denotes in its own location and
// freezes it as a Date. ToCalendarDate(x.Time()) == x for every Date x.
func ToCalendarDate(t time.Time) Date {
	y, m, d := t.Date()
	return New(y, m, d)
}

// FromCalendarDate returns local midnight of d in loc (UTC when loc is nil).
func FromCalendarDate(d Date, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
}

// Time returns the UTC-midnight instant backing d.
func (d Date) Time() time.Time { return d.t }

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool { return d.t.IsZero() }

func (d Date) Year() int             { return d.t.Year() }
func (d Date) Month() time.Month     { return d.t.Month() }
func (d Date) Day() int              { return d.t.Day() }
func (d Date) Weekday() time.Weekday { return d.t.Weekday() }

// String returns the canonical YYYY-MM-DD form, or "" for the zero Date.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(Layout)
}

// AddDays returns d shifted by n days.
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }

// AddMonths returns the first day of the month n months after d's month.
func (d Date) AddMonths(n int) Date {
	return New(d.Year(), d.Month()+time.Month(n), 1)
}

// AddYears returns d shifted by n years; Feb 29 becomes Mar 1 in common years.
func (d Date) AddYears(n int) Date { return Date{t: d.t.AddDate(n, 0, 0)} }

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }

// Compare returns -1, 0 or +1.
func (d Date) Compare(o Date) int { return d.t.Compare(o.t) }

// Min returns the earlier of a and b.
func Min(a, b Date) Date {
	if b.Before(a) {
		return b
	}
	return a
}

// DaysBetween returns the number of days from a to b (negative when b is before a).
func DaysBetween(a, b Date) int {
	return int(b.t.Sub(a.t) / (24 * time.Hour))
}

// DaysInMonth returns the number of days in month m of year y.
func DaysInMonth(y int, m time.Month) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// MarshalText implements encoding.TextMarshaler.
func (d Date) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler with the same strictness as Parse.
func (d *Date) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*d = Date{}
		return nil
	}
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
