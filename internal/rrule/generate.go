package rrule

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/starford/raido/internal/dates"
)

// DefaultMaxInstances caps a single expansion when the caller passes no cap.
const DefaultMaxInstances = 1000

// calendarCycleYears is the length of the Gregorian cycle: weekdays, month
// lengths and leap days repeat after it. A rule that selects nothing for
// calendarCycleYears*INTERVAL years never selects anything again.
const calendarCycleYears = 400

// Options bound an expansion.
type Options struct {
	Window dates.Window
	// MaxInstances caps the number of yielded dates. Zero means DefaultMaxInstances,
	// a negative value disables the cap (the window still bounds the sequence).
	MaxInstances int
}

// Occurrences returns the ascending, duplicate-free dates of r that fall inside
// opts.Window. anchor is the series start (DTSTART); when zero, the rule's own
// anchor is used. The returned sequence is lazy and may be ranged over repeatedly.
//
// A sequence that runs into a full calendar cycle without a match ends with a
// single ErrNoOccurrences pair instead of stopping silently.
func Occurrences(r *Rule, anchor dates.Date, opts Options) (iter.Seq2[dates.Date, error], error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if anchor.IsZero() {
		anchor = r.Anchor
	}
	if anchor.IsZero() {
		return nil, fmt.Errorf("%w: no anchor date", ErrInvalidRule)
	}
	if err := opts.Window.Validate(); err != nil {
		return nil, err
	}
	limit := opts.MaxInstances
	if limit == 0 {
		limit = DefaultMaxInstances
	}

	g := &generator{rule: r, anchor: anchor}
	return func(yield func(dates.Date, error) bool) {
		g.run(opts.Window, limit, yield)
	}, nil
}

type generator struct {
	rule   *Rule
	anchor dates.Date
}

func (g *generator) run(w dates.Window, limit int, yield func(dates.Date, error) bool) {
	r := g.rule
	period := g.periodStart(g.anchor)

	// Without COUNT nothing before the window matters, so jump straight to the
	// last interval-aligned period at or before the window start.
	if r.Count == 0 && g.anchor.Before(w.Start) {
		if k := g.periodsBetween(period, g.periodStart(w.Start)); k > 0 {
			period = g.advance(period, k-k%r.Interval)
		}
	}

	emitted, yielded := 0, 0
	lastMatch := period
	for {
		if period.After(w.End) {
			return
		}
		if !r.Until.IsZero() && period.After(r.Until) {
			return
		}

		cands := g.candidates(period)
		if len(r.BySetPos) > 0 {
			cands = applySetPos(cands, r.BySetPos)
		}
		if len(cands) > 0 {
			lastMatch = period
		} else if period.After(lastMatch.AddYears(calendarCycleYears * r.Interval)) {
			yield(dates.Date{}, fmt.Errorf("%w after %s", ErrNoOccurrences, lastMatch))
			return
		}

		for _, c := range cands {
			if c.Before(g.anchor) {
				continue
			}
			if !r.Until.IsZero() && c.After(r.Until) {
				return
			}
			if c.After(w.End) {
				return
			}
			emitted++
			if r.Count > 0 && emitted > r.Count {
				return
			}
			if c.Before(w.Start) {
				continue
			}
			if !yield(c, nil) {
				return
			}
			yielded++
			if limit > 0 && yielded >= limit {
				return
			}
		}

		period = g.advance(period, r.Interval)
	}
}

func (g *generator) periodStart(d dates.Date) dates.Date {
	switch g.rule.Freq {
	case Weekly:
		return dates.StartOfWeek(d, g.rule.WeekStart)
	case Monthly:
		return dates.New(d.Year(), d.Month(), 1)
	case Yearly:
		return dates.New(d.Year(), time.January, 1)
	}
	return d
}

func (g *generator) advance(period dates.Date, n int) dates.Date {
	switch g.rule.Freq {
	case Weekly:
		return period.AddDays(7 * n)
	case Monthly:
		return period.AddMonths(n)
	case Yearly:
		return dates.New(period.Year()+n, time.January, 1)
	}
	return period.AddDays(n)
}

func (g *generator) periodsBetween(a, b dates.Date) int {
	switch g.rule.Freq {
	case Weekly:
		return dates.DaysBetween(a, b) / 7
	case Monthly:
		return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
	case Yearly:
		return b.Year() - a.Year()
	}
	return dates.DaysBetween(a, b)
}

// candidates enumerates every date the rule selects inside one period, sorted
// and deduplicated, before BYSETPOS and the series bounds are applied.
func (g *generator) candidates(period dates.Date) []dates.Date {
	r := g.rule
	var out []dates.Date

	switch r.Freq {
	case Daily:
		if g.matchesFilters(period) {
			out = append(out, period)
		}

	case Weekly:
		for i := 0; i < 7; i++ {
			d := period.AddDays(i)
			if len(r.ByDay) == 0 && d.Weekday() != g.anchor.Weekday() {
				continue
			}
			if g.matchesFilters(d) {
				out = append(out, d)
			}
		}

	case Monthly:
		if len(r.ByMonth) > 0 && !slices.Contains(r.ByMonth, period.Month()) {
			return nil
		}
		out = g.monthCandidates(period.Year(), period.Month())

	case Yearly:
		out = g.yearCandidates(period.Year())
	}

	slices.SortFunc(out, func(a, b dates.Date) int { return a.Compare(b) })
	return slices.CompactFunc(out, func(a, b dates.Date) bool { return a.Equal(b) })
}

// matchesFilters applies BYMONTH, BYMONTHDAY and plain BYDAY as limits.
func (g *generator) matchesFilters(d dates.Date) bool {
	r := g.rule
	if len(r.ByMonth) > 0 && !slices.Contains(r.ByMonth, d.Month()) {
		return false
	}
	if len(r.ByMonthDay) > 0 && !matchesMonthDay(d, r.ByMonthDay) {
		return false
	}
	if len(r.ByDay) > 0 {
		ok := false
		for _, wn := range r.ByDay {
			if wn.Weekday == d.Weekday() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

func (g *generator) monthCandidates(y int, m time.Month) []dates.Date {
	r := g.rule
	var out []dates.Date
	switch {
	case len(r.ByMonthDay) > 0:
		n := dates.DaysInMonth(y, m)
		for _, md := range r.ByMonthDay {
			day := md
			if md < 0 {
				day = n + md + 1
			}
			if day < 1 || day > n {
				continue
			}
			d := dates.New(y, m, day)
			if len(r.ByDay) == 0 || matchesByDayInMonth(d, r.ByDay) {
				out = append(out, d)
			}
		}
	case len(r.ByDay) > 0:
		first := dates.New(y, m, 1)
		last := dates.New(y, m, dates.DaysInMonth(y, m))
		for _, wn := range r.ByDay {
			out = append(out, weekdaysInRange(first, last, wn)...)
		}
	default:
		if day := g.anchor.Day(); day <= dates.DaysInMonth(y, m) {
			out = append(out, dates.New(y, m, day))
		}
	}
	return out
}

func (g *generator) yearCandidates(y int) []dates.Date {
	r := g.rule
	var out []dates.Date
	switch {
	case len(r.ByMonth) > 0:
		for _, m := range r.ByMonth {
			if len(r.ByMonthDay) == 0 && len(r.ByDay) == 0 {
				if day := g.anchor.Day(); day <= dates.DaysInMonth(y, m) {
					out = append(out, dates.New(y, m, day))
				}
				continue
			}
			out = append(out, g.monthCandidates(y, m)...)
		}
	case len(r.ByMonthDay) > 0:
		for m := time.January; m <= time.December; m++ {
			out = append(out, g.monthCandidates(y, m)...)
		}
	case len(r.ByDay) > 0:
		first := dates.New(y, time.January, 1)
		last := dates.New(y, time.December, 31)
		for _, wn := range r.ByDay {
			out = append(out, weekdaysInRange(first, last, wn)...)
		}
	default:
		m, day := g.anchor.Month(), g.anchor.Day()
		if day <= dates.DaysInMonth(y, m) {
			out = append(out, dates.New(y, m, day))
		}
	}
	return out
}

// weekdaysInRange returns every wn.Weekday in [first, last], or only the
// wn.N-th one (counted from the end when negative).
func weekdaysInRange(first, last dates.Date, wn WeekdayNum) []dates.Date {
	var all []dates.Date
	offset := (int(wn.Weekday) - int(first.Weekday()) + 7) % 7
	for d := first.AddDays(offset); !d.After(last); d = d.AddDays(7) {
		all = append(all, d)
	}
	if wn.N == 0 {
		return all
	}
	idx := wn.N - 1
	if wn.N < 0 {
		idx = len(all) + wn.N
	}
	if idx < 0 || idx >= len(all) {
		return nil
	}
	return []dates.Date{all[idx]}
}

func matchesByDayInMonth(d dates.Date, byDay []WeekdayNum) bool {
	for _, wn := range byDay {
		if wn.Weekday != d.Weekday() {
			continue
		}
		if wn.N == 0 {
			return true
		}
		first := dates.New(d.Year(), d.Month(), 1)
		last := dates.New(d.Year(), d.Month(), dates.DaysInMonth(d.Year(), d.Month()))
		if hit := weekdaysInRange(first, last, wn); len(hit) == 1 && hit[0].Equal(d) {
			return true
		}
	}
	return false
}

func matchesMonthDay(d dates.Date, byMonthDay []int) bool {
	n := dates.DaysInMonth(d.Year(), d.Month())
	for _, md := range byMonthDay {
		if md == d.Day() || (md < 0 && n+md+1 == d.Day()) {
			return true
		}
	}
	return false
}

// applySetPos selects 1-based positions (negative from the end) out of the
// period's full candidate set.
func applySetPos(cands []dates.Date, pos []int) []dates.Date {
	if len(cands) == 0 {
		return nil
	}
	var out []dates.Date
	for _, p := range pos {
		idx := p - 1
		if p < 0 {
			idx = len(cands) + p
		}
		if idx >= 0 && idx < len(cands) {
			out = append(out, cands[idx])
		}
	}
	slices.SortFunc(out, func(a, b dates.Date) int { return a.Compare(b) })
	return slices.CompactFunc(out, func(a, b dates.Date) bool { return a.Equal(b) })
}
