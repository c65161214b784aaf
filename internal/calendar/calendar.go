// Package calendar expands events of subscribed calendars into dated
// occurrences. Fetching the feeds is someone else's job; this package starts
// from events that are already parsed.
package calendar

import (
	"cmp"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/starford/raido/internal/dates"
	"github.com/starford/raido/internal/rrule"
)

// Event is a read-only calendar entry. Start and End accept anything
// dates.ParseInstant does; End is optional and inclusive.
type Event struct {
	UID         string   `yaml:"uid" json:"uid"`
	Title       string   `yaml:"title" json:"title"`
	Start       string   `yaml:"start" json:"start"`
	End         string   `yaml:"end,omitempty" json:"end,omitempty"`
	AllDay      bool     `yaml:"all_day,omitempty" json:"all_day,omitempty"`
	RRule       string   `yaml:"rrule,omitempty" json:"rrule,omitempty"`
	ExDates     []string `yaml:"exdates,omitempty" json:"exdates,omitempty"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
}

// Subscription is one parsed feed.
type Subscription struct {
	Name   string  `yaml:"name" json:"name"`
	Color  string  `yaml:"color,omitempty" json:"color,omitempty"`
	Events []Event `yaml:"events" json:"events"`
}

// LoadFile reads a subscription snapshot in YAML form.
func LoadFile(path string) (*Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("calendar: read %s: %w", path, err)
	}
	var sub Subscription
	if err := yaml.Unmarshal(data, &sub); err != nil {
		return nil, fmt.Errorf("calendar: parse %s: %w", path, err)
	}
	if sub.Name == "" {
		sub.Name = path
	}
	return &sub, nil
}

// Occurrence is one dated appearance of an event.
type Occurrence struct {
	Event Event
	// Date is the day the occurrence starts; zero when the event's own start
	// could not be read.
	Date dates.Date
	End  dates.Date
	// Base is set when the recurrence could not be expanded and the event is
	// shown once, unexpanded, at its own start. Status and Err say why.
	Base   bool
	Status rrule.Status
	Err    error
}

// Options bound an expansion.
type Options struct {
	Window       dates.Window
	MaxInstances int
}

// Expand returns every occurrence of events inside the window, ordered by date
// and then UID. A recurring event whose rule cannot be evaluated is never
// dropped: it yields its base occurrence regardless of the window.
func Expand(events []Event, opts Options) ([]Occurrence, error) {
	if err := opts.Window.Validate(); err != nil {
		return nil, fmt.Errorf("calendar: %w", err)
	}
	var out []Occurrence
	for _, e := range events {
		out = append(out, expandEvent(e, opts)...)
	}
	slices.SortStableFunc(out, func(a, b Occurrence) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.Event.UID, b.Event.UID)
	})
	return out, nil
}

func expandEvent(e Event, opts Options) []Occurrence {
	start, err := dates.ParseInstant(e.Start)
	if err != nil {
		return []Occurrence{{Event: e, Base: true, Status: rrule.Failed, Err: fmt.Errorf("calendar: start of %s: %w", e.UID, err)}}
	}
	span := 0
	if e.End != "" {
		if end, err := dates.ParseInstant(e.End); err == nil && end.After(start) {
			span = dates.DaysBetween(start, end)
		}
	}

	if e.RRule == "" {
		end := start.AddDays(span)
		if end.Before(opts.Window.Start) || start.After(opts.Window.End) {
			return nil
		}
		return []Occurrence{{Event: e, Date: start, End: end}}
	}

	// An occurrence starting up to span days before the window still overlaps it.
	w := opts.Window
	w.Start = w.Start.AddDays(-span)
	exp := rrule.Expand(e.RRule, start, rrule.Options{Window: w, MaxInstances: opts.MaxInstances})
	if exp.Status != rrule.Expanded {
		return []Occurrence{{
			Event:  e,
			Date:   start,
			End:    start.AddDays(span),
			Base:   true,
			Status: exp.Status,
			Err:    exp.Err,
		}}
	}

	excluded := make(map[string]struct{}, len(e.ExDates))
	for _, s := range e.ExDates {
		if d, err := dates.ParseInstant(s); err == nil {
			excluded[d.String()] = struct{}{}
		}
	}
	out := make([]Occurrence, 0, len(exp.Dates))
	for _, d := range exp.Dates {
		if _, skip := excluded[d.String()]; skip {
			continue
		}
		out = append(out, Occurrence{Event: e, Date: d, End: d.AddDays(span), Status: rrule.Expanded})
	}
	return out
}
