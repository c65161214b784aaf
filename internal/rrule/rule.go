// Package rrule parses RRULE-style recurrence descriptions and expands them into
// calendar dates.
package rrule

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/starford/raido/internal/dates"
)

var (
	// ErrUnsupported marks a rule that parsed but uses a shape the generator cannot evaluate.
	ErrUnsupported = errors.New("rrule: unsupported rule")
	// ErrInvalidRule marks syntactically broken rule text.
	ErrInvalidRule = errors.New("rrule: invalid rule")
	// ErrNoOccurrences marks a valid rule that selects no date in a whole
	// calendar cycle, so it can never match again.
	ErrNoOccurrences = errors.New("rrule: rule matches no further date")
)

// Frequency is the FREQ part of a rule.
type Frequency int

const (
	Daily Frequency = iota + 1
	Weekly
	Monthly
	Yearly
)

func (f Frequency) String() string {
	switch f {
	case Daily:
		return "DAILY"
	case Weekly:
		return "WEEKLY"
	case Monthly:
		return "MONTHLY"
	case Yearly:
		return "YEARLY"
	}
	return "UNKNOWN"
}

// WeekdayNum is one BYDAY entry. N == 0 means every such weekday in the period;
// N > 0 is the Nth, N < 0 the Nth from the end.
type WeekdayNum struct {
	Weekday time.Weekday
	N       int
}

func (w WeekdayNum) String() string {
	if w.N == 0 {
		return dates.WeekdayCode(w.Weekday)
	}
	return strconv.Itoa(w.N) + dates.WeekdayCode(w.Weekday)
}

// Rule is an immutable, parsed recurrence description.
type Rule struct {
	Freq       Frequency
	Interval   int
	ByDay      []WeekdayNum
	ByMonthDay []int
	ByMonth    []time.Month
	BySetPos   []int
	Count      int
	Until      dates.Date
	WeekStart  time.Weekday
	// Anchor is the DTSTART embedded in the rule text, zero when absent.
	Anchor dates.Date
}

var unsupportedKeys = map[string]bool{
	"BYHOUR":    true,
	"BYMINUTE":  true,
	"BYSECOND":  true,
	"BYWEEKNO":  true,
	"BYYEARDAY": true,
	"BYEASTER":  true,
}

// Parse parses rule text such as "FREQ=MONTHLY;BYDAY=2MO" or the task form
// "DTSTART:20250109;FREQ=DAILY;INTERVAL=1". An "RRULE:" prefix and newline
// separated DTSTART/RRULE lines are accepted.
func Parse(text string) (*Rule, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}

	r := &Rule{Interval: 1, WeekStart: time.Monday}
	parts := strings.FieldsFunc(text, func(c rune) bool { return c == ';' || c == '\n' || c == '\r' })

	for i := 0; i < len(parts); i++ {
		part := strings.TrimSpace(parts[i])
		if part == "" {
			continue
		}
		upper := strings.ToUpper(part)

		if strings.HasPrefix(upper, "DTSTART") {
			// DTSTART;VALUE=DATE:20250101 arrives split on ';'.
			for !strings.Contains(part, ":") && i+1 < len(parts) {
				i++
				part = parts[i]
			}
			idx := strings.LastIndex(part, ":")
			if idx < 0 {
				return nil, fmt.Errorf("%w: DTSTART without value", ErrInvalidRule)
			}
			d, err := parseRuleDate(part[idx+1:])
			if err != nil {
				return nil, fmt.Errorf("%w: DTSTART: %v", ErrInvalidRule, err)
			}
			r.Anchor = d
			continue
		}
		if strings.HasPrefix(upper, "EXDATE") || strings.HasPrefix(upper, "RDATE") {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, strings.SplitN(upper, ":", 2)[0])
		}
		upper = strings.TrimPrefix(upper, "RRULE:")

		key, value, ok := strings.Cut(upper, "=")
		if !ok {
			return nil, fmt.Errorf("%w: malformed token %q", ErrInvalidRule, part)
		}
		if err := r.set(key, value); err != nil {
			return nil, err
		}
	}

	if r.Freq == 0 {
		return nil, fmt.Errorf("%w: FREQ is required", ErrInvalidRule)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Rule) set(key, value string) error {
	if unsupportedKeys[key] {
		return fmt.Errorf("%w: %s", ErrUnsupported, key)
	}
	switch key {
	case "FREQ":
		switch value {
		case "DAILY":
			r.Freq = Daily
		case "WEEKLY":
			r.Freq = Weekly
		case "MONTHLY":
			r.Freq = Monthly
		case "YEARLY":
			r.Freq = Yearly
		case "HOURLY", "MINUTELY", "SECONDLY":
			return fmt.Errorf("%w: FREQ=%s", ErrUnsupported, value)
		default:
			return fmt.Errorf("%w: FREQ=%s", ErrInvalidRule, value)
		}
	case "INTERVAL":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: INTERVAL=%s", ErrInvalidRule, value)
		}
		r.Interval = n
	case "COUNT":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: COUNT=%s", ErrInvalidRule, value)
		}
		r.Count = n
	case "UNTIL":
		d, err := parseRuleDate(value)
		if err != nil {
			return fmt.Errorf("%w: UNTIL: %v", ErrInvalidRule, err)
		}
		r.Until = d
	case "WKST":
		w, err := dates.ParseWeekdayCode(value)
		if err != nil {
			return fmt.Errorf("%w: WKST=%s", ErrInvalidRule, value)
		}
		r.WeekStart = w
	case "BYDAY":
		for _, item := range strings.Split(value, ",") {
			wn, err := parseWeekdayNum(item)
			if err != nil {
				return err
			}
			r.ByDay = append(r.ByDay, wn)
		}
	case "BYMONTHDAY":
		ns, err := parseInts(key, value)
		if err != nil {
			return err
		}
		r.ByMonthDay = ns
	case "BYMONTH":
		ns, err := parseInts(key, value)
		if err != nil {
			return err
		}
		for _, n := range ns {
			r.ByMonth = append(r.ByMonth, time.Month(n))
		}
	case "BYSETPOS":
		ns, err := parseInts(key, value)
		if err != nil {
			return err
		}
		r.BySetPos = ns
	default:
		return fmt.Errorf("%w: unrecognized token %s", ErrUnsupported, key)
	}
	return nil
}

// Validate checks value ranges and rejects shapes the generator does not evaluate.
func (r *Rule) Validate() error {
	if r.Freq < Daily || r.Freq > Yearly {
		return fmt.Errorf("%w: unknown frequency", ErrInvalidRule)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: INTERVAL must be positive", ErrInvalidRule)
	}
	if r.Count < 0 {
		return fmt.Errorf("%w: COUNT must be positive", ErrInvalidRule)
	}
	for _, d := range r.ByMonthDay {
		if d == 0 || d < -31 || d > 31 {
			return fmt.Errorf("%w: BYMONTHDAY=%d", ErrInvalidRule, d)
		}
	}
	for _, m := range r.ByMonth {
		if m < time.January || m > time.December {
			return fmt.Errorf("%w: BYMONTH=%d", ErrInvalidRule, m)
		}
	}
	for _, p := range r.BySetPos {
		if p == 0 || p < -366 || p > 366 {
			return fmt.Errorf("%w: BYSETPOS=%d", ErrInvalidRule, p)
		}
	}
	hasOrdinal := false
	for _, wn := range r.ByDay {
		if wn.N < -53 || wn.N > 53 {
			return fmt.Errorf("%w: BYDAY ordinal %d", ErrInvalidRule, wn.N)
		}
		if wn.N != 0 {
			hasOrdinal = true
		}
	}
	if hasOrdinal && (r.Freq == Daily || r.Freq == Weekly) {
		return fmt.Errorf("%w: BYDAY ordinal with FREQ=%s", ErrUnsupported, r.Freq)
	}
	// Ordinal BYDAY and BYSETPOS are two positional mechanisms; they are never
	// evaluated together.
	if hasOrdinal && len(r.BySetPos) > 0 {
		return fmt.Errorf("%w: BYDAY ordinal combined with BYSETPOS", ErrUnsupported)
	}
	return nil
}

// WithAnchor returns a copy of r carrying d as its DTSTART.
func (r *Rule) WithAnchor(d dates.Date) *Rule {
	c := r.clone()
	c.Anchor = d
	return c
}

func (r *Rule) clone() *Rule {
	c := *r
	c.ByDay = slices.Clone(r.ByDay)
	c.ByMonthDay = slices.Clone(r.ByMonthDay)
	c.ByMonth = slices.Clone(r.ByMonth)
	c.BySetPos = slices.Clone(r.BySetPos)
	return &c
}

// String renders the rule in the stored task form, DTSTART first when present.
func (r *Rule) String() string {
	var b strings.Builder
	if !r.Anchor.IsZero() {
		b.WriteString("DTSTART:")
		b.WriteString(r.Anchor.Time().Format("20060102"))
		b.WriteByte(';')
	}
	b.WriteString("FREQ=")
	b.WriteString(r.Freq.String())
	if r.Interval > 1 {
		fmt.Fprintf(&b, ";INTERVAL=%d", r.Interval)
	}
	if len(r.ByDay) > 0 {
		items := make([]string, len(r.ByDay))
		for i, wn := range r.ByDay {
			items[i] = wn.String()
		}
		b.WriteString(";BYDAY=" + strings.Join(items, ","))
	}
	if len(r.ByMonthDay) > 0 {
		b.WriteString(";BYMONTHDAY=" + joinInts(r.ByMonthDay))
	}
	if len(r.ByMonth) > 0 {
		ms := make([]int, len(r.ByMonth))
		for i, m := range r.ByMonth {
			ms[i] = int(m)
		}
		b.WriteString(";BYMONTH=" + joinInts(ms))
	}
	if len(r.BySetPos) > 0 {
		b.WriteString(";BYSETPOS=" + joinInts(r.BySetPos))
	}
	if r.Count > 0 {
		fmt.Fprintf(&b, ";COUNT=%d", r.Count)
	}
	if !r.Until.IsZero() {
		b.WriteString(";UNTIL=" + r.Until.Time().Format("20060102"))
	}
	if r.WeekStart != time.Monday {
		b.WriteString(";WKST=" + dates.WeekdayCode(r.WeekStart))
	}
	return b.String()
}

func parseWeekdayNum(s string) (WeekdayNum, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return WeekdayNum{}, fmt.Errorf("%w: BYDAY=%q", ErrInvalidRule, s)
	}
	code := s[len(s)-2:]
	w, err := dates.ParseWeekdayCode(code)
	if err != nil {
		return WeekdayNum{}, fmt.Errorf("%w: BYDAY=%q", ErrInvalidRule, s)
	}
	wn := WeekdayNum{Weekday: w}
	if prefix := s[:len(s)-2]; prefix != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(prefix, "+"))
		if err != nil || n == 0 {
			return WeekdayNum{}, fmt.Errorf("%w: BYDAY=%q", ErrInvalidRule, s)
		}
		wn.N = n
	}
	return wn, nil
}

func parseInts(key, value string) ([]int, error) {
	var out []int
	for _, item := range strings.Split(value, ",") {
		n, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(item), "+"))
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%s", ErrInvalidRule, key, value)
		}
		out = append(out, n)
	}
	return out, nil
}

// parseRuleDate accepts 20250109, 20250109T000000Z and 2025-01-09.
func parseRuleDate(s string) (dates.Date, error) {
	s = strings.TrimSpace(s)
	if len(s) >= 8 && !strings.Contains(s[:8], "-") {
		return dates.Parse(s[0:4] + "-" + s[4:6] + "-" + s[6:8])
	}
	if len(s) >= 10 {
		return dates.Parse(s[:10])
	}
	return dates.Parse(s)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
