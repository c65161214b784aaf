package dates

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidWeekday is returned for a first-day-of-week outside 0..6 or an unknown code.
var ErrInvalidWeekday = errors.New("invalid weekday")

var weekdayCodes = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// WeekdayOrder returns the seven weekdays starting at firstDayOfWeek (0 = Sunday).
// Every listing of weekdays should be derived from this order.
func WeekdayOrder(firstDayOfWeek int) ([7]time.Weekday, error) {
	var out [7]time.Weekday
	if firstDayOfWeek < 0 || firstDayOfWeek > 6 {
		return out, fmt.Errorf("%w: first day of week %d", ErrInvalidWeekday, firstDayOfWeek)
	}
	for i := range out {
		out[i] = time.Weekday((firstDayOfWeek + i) % 7)
	}
	return out, nil
}

// WeekdayCodes is WeekdayOrder rendered as two-letter RRULE codes.
func WeekdayCodes(firstDayOfWeek int) ([7]string, error) {
	var out [7]string
	order, err := WeekdayOrder(firstDayOfWeek)
	if err != nil {
		return out, err
	}
	for i, w := range order {
		out[i] = weekdayCodes[w]
	}
	return out, nil
}

// WeekdayCode returns the RRULE code ("SU".."SA") for w.
func WeekdayCode(w time.Weekday) string { return weekdayCodes[w%7] }

// ParseWeekdayCode parses a two-letter RRULE weekday code, case-insensitively.
func ParseWeekdayCode(s string) (time.Weekday, error) {
	up := strings.ToUpper(strings.TrimSpace(s))
	for i, c := range weekdayCodes {
		if c == up {
			return time.Weekday(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidWeekday, s)
}

// StartOfWeek returns the most recent day on or before d that falls on first.
func StartOfWeek(d Date, first time.Weekday) Date {
	back := (int(d.Weekday()) - int(first) + 7) % 7
	return d.AddDays(-back)
}
