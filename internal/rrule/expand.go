package rrule

import (
	"errors"

	"github.com/starford/raido/internal/dates"
)

// Status is the outcome of an expansion. An empty date list is only ever
// reported with Expanded when the window simply holds no occurrence; an
// unevaluable rule or one that stopped matching is Unsupported or Failed.
type Status int

const (
	Expanded Status = iota
	Unsupported
	Failed
)

func (s Status) String() string {
	switch s {
	case Expanded:
		return "expanded"
	case Unsupported:
		return "unsupported"
	}
	return "failed"
}

// Expansion is the tri-state result of Expand.
type Expansion struct {
	Status Status
	Dates  []dates.Date
	Err    error
}

// Expand parses text and collects its occurrences inside opts.Window.
func Expand(text string, anchor dates.Date, opts Options) Expansion {
	r, err := Parse(text)
	if err != nil {
		return failure(err)
	}
	return ExpandRule(r, anchor, opts)
}

// ExpandRule is Expand for an already parsed rule.
func ExpandRule(r *Rule, anchor dates.Date, opts Options) Expansion {
	seq, err := Occurrences(r, anchor, opts)
	if err != nil {
		return failure(err)
	}
	out := Expansion{Status: Expanded, Dates: []dates.Date{}}
	for d, err := range seq {
		if err != nil {
			return failure(err)
		}
		out.Dates = append(out.Dates, d)
	}
	return out
}

func failure(err error) Expansion {
	if errors.Is(err, ErrUnsupported) {
		return Expansion{Status: Unsupported, Err: err}
	}
	return Expansion{Status: Failed, Err: err}
}

// searchHorizonYears bounds open-ended lookups such as Next.
const searchHorizonYears = 100

// Horizon returns the open-ended lookup window starting at from.
func Horizon(from dates.Date) dates.Window {
	return dates.Window{Start: from, End: from.AddYears(searchHorizonYears)}
}

// Next returns the first occurrence of r strictly after after.
func Next(r *Rule, anchor, after dates.Date) (dates.Date, bool, error) {
	seq, err := Occurrences(r, anchor, Options{Window: Horizon(after.AddDays(1)), MaxInstances: 1})
	if err != nil {
		return dates.Date{}, false, err
	}
	for d, err := range seq {
		if err != nil {
			return dates.Date{}, false, err
		}
		return d, true, nil
	}
	return dates.Date{}, false, nil
}
