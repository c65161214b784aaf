// Package ledger computes per-date status of recurring tasks from their sparse
// completed/skipped instance sets and applies complete/skip actions.
//
// Every function is pure: it reads the task it is given and returns a modified
// clone. Callers always pass the date they mean; nothing here knows "today".
package ledger

import (
	"errors"
	"fmt"
	"slices"

	"github.com/starford/raido/internal/dates"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/rrule"
)

// ErrNotRecurring is returned by operations that only make sense for a task
// with a recurrence rule.
var ErrNotRecurring = errors.New("ledger: task is not recurring")

// DefaultCompletedStatus is written to a task whose series has ended or that
// is not recurring, when Options names no completed status.
const DefaultCompletedStatus = "done"

// Status is the effective state of one task instance.
type Status string

const (
	Open    Status = "open"
	Done    Status = "done"
	Skipped Status = "skipped"
)

// Kind selects the instance set an action writes to.
type Kind string

const (
	KindComplete Kind = "complete"
	KindSkip     Kind = "skip"
)

// ParseKind validates a kind coming from an outer surface.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindComplete, KindSkip:
		return Kind(s), nil
	}
	return "", fmt.Errorf("ledger: unknown instance kind %q", s)
}

// Options carry the settings that affect completion.
type Options struct {
	// DoneStatus is written when a task is completed for good. When empty the
	// first of CompletedStatuses is used, then DefaultCompletedStatus.
	DoneStatus string
	// CompletedStatuses lists the statuses that count as done.
	CompletedStatuses []string
}

func (o Options) doneStatus() string {
	switch {
	case o.DoneStatus != "":
		return o.DoneStatus
	case len(o.CompletedStatuses) > 0:
		return o.CompletedStatuses[0]
	}
	return DefaultCompletedStatus
}

// IsCompletedStatus reports whether status counts as done.
func (o Options) IsCompletedStatus(status string) bool {
	if status == "" {
		return false
	}
	return status == o.doneStatus() || slices.Contains(o.CompletedStatuses, status)
}

// EffectiveStatus returns the state of t's instance on d: done when d is a
// completed instance, skipped when it is a skipped one, open otherwise.
func EffectiveStatus(t *models.Task, d dates.Date) Status {
	key := d.String()
	switch {
	case slices.Contains(t.CompleteInstances, key):
		return Done
	case slices.Contains(t.SkippedInstances, key):
		return Skipped
	}
	return Open
}

// StatusOn is EffectiveStatus extended to non-recurring tasks, whose state on
// any date follows their status field.
func StatusOn(t *models.Task, d dates.Date, opts Options) Status {
	if t.IsRecurring() {
		return EffectiveStatus(t, d)
	}
	if opts.IsCompletedStatus(t.Status) {
		return Done
	}
	return Open
}

// series is the parsed recurrence of a task together with its dated fields.
type series struct {
	rule      *rrule.Rule
	anchor    dates.Date
	scheduled dates.Date
	due       dates.Date
}

func load(t *models.Task) (*series, error) {
	if !t.IsRecurring() {
		return nil, ErrNotRecurring
	}
	r, err := rrule.Parse(t.Recurrence)
	if err != nil {
		return nil, fmt.Errorf("ledger: recurrence of %s: %w", t.Path, err)
	}
	s := &series{rule: r}
	if t.Scheduled != "" {
		if s.scheduled, err = dates.Parse(t.Scheduled); err != nil {
			return nil, fmt.Errorf("ledger: scheduled of %s: %w", t.Path, err)
		}
	}
	if t.Due != "" {
		if s.due, err = dates.Parse(t.Due); err != nil {
			return nil, fmt.Errorf("ledger: due of %s: %w", t.Path, err)
		}
	}
	s.anchor = r.Anchor
	if s.anchor.IsZero() {
		s.anchor = s.scheduled
	}
	return s, nil
}

// NextUncompletedOccurrence walks t's occurrences from min(scheduled, ref) and
// returns the first one that is neither completed nor skipped. ok is false when
// the series has no such occurrence left.
func NextUncompletedOccurrence(t *models.Task, ref dates.Date) (next dates.Date, ok bool, err error) {
	s, err := load(t)
	if err != nil {
		return dates.Date{}, false, err
	}
	return s.nextUncompleted(t, ref)
}

func (s *series) nextUncompleted(t *models.Task, ref dates.Date) (dates.Date, bool, error) {
	from := ref
	if !s.scheduled.IsZero() {
		from = dates.Min(s.scheduled, ref)
	}
	anchor := s.anchor
	if anchor.IsZero() {
		anchor = ref
	}
	seq, err := rrule.Occurrences(s.rule, anchor, rrule.Options{Window: rrule.Horizon(from), MaxInstances: -1})
	if err != nil {
		return dates.Date{}, false, fmt.Errorf("ledger: occurrences of %s: %w", t.Path, err)
	}
	for d, err := range seq {
		if err != nil {
			return dates.Date{}, false, fmt.Errorf("ledger: occurrences of %s: %w", t.Path, err)
		}
		if EffectiveStatus(t, d) == Open {
			return d, true, nil
		}
	}
	return dates.Date{}, false, nil
}

// nextAfterCompletion is the completion-anchored successor: the rule is
// re-anchored at the completion date and the first free occurrence after it wins.
func (s *series) nextAfterCompletion(t *models.Task, completed dates.Date) (dates.Date, bool, error) {
	r := s.rule.WithAnchor(completed)
	after := completed
	for range rrule.DefaultMaxInstances {
		d, ok, err := rrule.Next(r, completed, after)
		if err != nil || !ok {
			return dates.Date{}, false, err
		}
		if EffectiveStatus(t, d) == Open {
			return d, true, nil
		}
		after = d
	}
	return dates.Date{}, false, nil
}

// Result describes what an action did.
type Result struct {
	Task *models.Task
	// Instance is the date recorded in the instance set.
	Instance dates.Date
	// Next is the new scheduled date; zero when the series has ended.
	Next dates.Date
}

// Complete marks the current instance of t done relative to ref and advances
// the task one step.
//
// The instance recorded is the task's scheduled date whenever one is set, so an
// overdue instance is completed against the day it was due, not against ref.
// The scheduled date then moves to the next uncompleted occurrence, which for a
// single missed day is ref itself. A non-recurring task is simply closed.
func Complete(t *models.Task, ref dates.Date, opts Options) (Result, error) {
	if !t.IsRecurring() {
		out := t.Clone()
		out.Status = opts.doneStatus()
		out.CompletedDate = ref.String()
		return Result{Task: out, Instance: ref}, nil
	}
	return advance(t, ref, KindComplete, opts)
}

// Skip is Complete writing to the skipped set. It is only defined for
// recurring tasks.
func Skip(t *models.Task, ref dates.Date, opts Options) (Result, error) {
	return advance(t, ref, KindSkip, opts)
}

func advance(t *models.Task, ref dates.Date, kind Kind, opts Options) (Result, error) {
	s, err := load(t)
	if err != nil {
		return Result{}, err
	}
	target := ref
	if !s.scheduled.IsZero() {
		target = s.scheduled
	}

	out := t.Clone()
	record(out, target, kind)

	var next dates.Date
	var ok bool
	if t.RecurrenceAnchor == models.AnchorCompletion {
		next, ok, err = s.nextAfterCompletion(out, ref)
	} else {
		next, ok, err = s.nextUncompleted(out, ref)
	}
	if err != nil {
		return Result{}, err
	}
	if !ok {
		out.Status = opts.doneStatus()
		out.CompletedDate = ref.String()
		return Result{Task: out, Instance: target}, nil
	}
	s.reschedule(out, next)
	return Result{Task: out, Instance: target, Next: next}, nil
}

// reschedule moves scheduled to next and shifts due by the same number of days.
func (s *series) reschedule(t *models.Task, next dates.Date) {
	if !s.due.IsZero() && !s.scheduled.IsZero() {
		t.Due = s.due.AddDays(dates.DaysBetween(s.scheduled, next)).String()
	}
	t.Scheduled = next.String()
}

// ToggleInstance flips the state of t's instance on d within the kind's set
// (removing it from the other set when it is added) and re-derives the
// scheduled date relative to ref.
//
// TODO: per-instance sub-item state (instance date -> completed checklist ids)
// once the note format grows a field for it; checklists are still shared by
// every occurrence.
func ToggleInstance(t *models.Task, d dates.Date, kind Kind, ref dates.Date) (Result, error) {
	s, err := load(t)
	if err != nil {
		return Result{}, err
	}
	out := t.Clone()
	current := EffectiveStatus(out, d)
	if (kind == KindComplete && current == Done) || (kind == KindSkip && current == Skipped) {
		forget(out, d)
	} else {
		record(out, d, kind)
	}

	next, ok, err := s.nextUncompleted(out, ref)
	if err != nil {
		return Result{}, err
	}
	res := Result{Task: out, Instance: d}
	if ok {
		s.reschedule(out, next)
		res.Next = next
	}
	return res, nil
}

// record adds d to the kind's set and removes it from the other, keeping the
// two sets disjoint and sorted.
func record(t *models.Task, d dates.Date, kind Kind) {
	key := d.String()
	forget(t, d)
	if kind == KindSkip {
		t.SkippedInstances = insertSorted(t.SkippedInstances, key)
		return
	}
	t.CompleteInstances = insertSorted(t.CompleteInstances, key)
}

func forget(t *models.Task, d dates.Date) {
	key := d.String()
	t.CompleteInstances = slices.DeleteFunc(t.CompleteInstances, func(s string) bool { return s == key })
	t.SkippedInstances = slices.DeleteFunc(t.SkippedInstances, func(s string) bool { return s == key })
}

func insertSorted(set []string, key string) []string {
	if slices.Contains(set, key) {
		return set
	}
	set = append(set, key)
	slices.Sort(set)
	return set
}
