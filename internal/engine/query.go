package engine

import (
	"errors"
	"fmt"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/calendar"
	"github.com/starford/raido/internal/dates"
	"github.com/starford/raido/internal/ledger"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/rrule"
)

// Relations is everything the cache knows about one task.
type Relations struct {
	Path      string   `json:"path"`
	Blockers  []string `json:"blockers"`
	Blocked   []string `json:"blocked"`
	Subtasks  []string `json:"subtasks"`
	Projects  []string `json:"projects"`
	IsBlocked bool     `json:"is_blocked"`
}

// ParseDate parses a query date. Anything but YYYY-MM-DD is invalid input.
func ParseDate(s string) (dates.Date, error) {
	d, err := dates.Parse(s)
	if err != nil {
		return dates.Date{}, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	return d, nil
}

// ParseWindow parses an inclusive query window.
func ParseWindow(start, end string) (dates.Window, error) {
	w, err := dates.ParseWindow(start, end)
	if err != nil {
		return dates.Window{}, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	return w, nil
}

// Task returns a copy of the indexed task at path.
func (e *Engine) Task(path string) (*models.Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.taskLocked(path)
}

func (e *Engine) taskLocked(path string) (*models.Task, error) {
	t, ok := e.cache.Task(path)
	if !ok {
		return nil, fmt.Errorf("engine: task %s: %w", path, apperr.ErrNotFound)
	}
	return t, nil
}

// Tasks returns every indexed task ordered by path.
func (e *Engine) Tasks() []*models.Task {
	e.mu.RLock()
	defer e.mu.RUnlock()
	paths := e.cache.Paths()
	out := make([]*models.Task, 0, len(paths))
	for _, p := range paths {
		if t, ok := e.cache.Task(p); ok {
			out = append(out, t)
		}
	}
	return out
}

// ResolveID maps a stable task id to its current path.
func (e *Engine) ResolveID(id string) (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.cache.ResolveID(id)
	if !ok {
		return "", fmt.Errorf("engine: task id %s: %w", id, apperr.ErrNotFound)
	}
	return p, nil
}

// EffectiveStatus returns the status of the task at path on date.
func (e *Engine) EffectiveStatus(path, date string) (ledger.Status, error) {
	d, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, err := e.taskLocked(path)
	if err != nil {
		return "", err
	}
	return ledger.StatusOn(t, d, e.settings.ledgerOptions()), nil
}

// NextUncompletedOccurrence returns the first occurrence of the task at path,
// from min(scheduled, ref), that is neither completed nor skipped. ok is false
// once the series is exhausted.
func (e *Engine) NextUncompletedOccurrence(path, ref string) (next dates.Date, ok bool, err error) {
	d, err := ParseDate(ref)
	if err != nil {
		return dates.Date{}, false, err
	}
	e.mu.RLock()
	t, err := e.taskLocked(path)
	e.mu.RUnlock()
	if err != nil {
		return dates.Date{}, false, err
	}
	next, ok, err = ledger.NextUncompletedOccurrence(t, d)
	if err != nil {
		return dates.Date{}, false, ledgerError(err)
	}
	return next, ok, nil
}

// ledgerError classifies ledger failures for the outer surfaces. Unsupported
// rules keep rrule.ErrUnsupported so they stay distinguishable.
func ledgerError(err error) error {
	switch {
	case errors.Is(err, rrule.ErrUnsupported):
		return err
	case errors.Is(err, ledger.ErrNotRecurring), errors.Is(err, rrule.ErrInvalidRule), errors.Is(err, dates.ErrInvalidDate):
		return fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	return err
}

// Blockers returns the tasks blocking path.
func (e *Engine) Blockers(path string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Blockers(path)
}

// Blocked returns the tasks path blocks.
func (e *Engine) Blocked(path string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.Blocked(path)
}

// SubtasksOf returns the tasks that name path as their project.
func (e *Engine) SubtasksOf(path string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.SubtasksOf(path)
}

// ProjectsOf returns the projects path belongs to.
func (e *Engine) ProjectsOf(path string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.ProjectsOf(path)
}

// IsBlocked reports whether any blocker of path is still open.
func (e *Engine) IsBlocked(path string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isBlockedLocked(path)
}

func (e *Engine) isBlockedLocked(path string) bool {
	opts := e.settings.ledgerOptions()
	for _, b := range e.cache.Blockers(path) {
		if t, ok := e.cache.Task(b); ok && !opts.IsCompletedStatus(t.Status) {
			return true
		}
	}
	return false
}

// Relations returns all relations of path in one consistent read.
func (e *Engine) Relations(path string) (Relations, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.cache.Has(path) {
		return Relations{}, fmt.Errorf("engine: task %s: %w", path, apperr.ErrNotFound)
	}
	return Relations{
		Path:      path,
		Blockers:  e.cache.Blockers(path),
		Blocked:   e.cache.Blocked(path),
		Subtasks:  e.cache.SubtasksOf(path),
		Projects:  e.cache.ProjectsOf(path),
		IsBlocked: e.isBlockedLocked(path),
	}, nil
}

// BlockingOrder returns all tasks with every blocker before what it blocks.
func (e *Engine) BlockingOrder() ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cache.BlockingOrder()
}

// WeekdayOrder returns the two-letter weekday codes starting at the
// configured first day of the week. Every weekday listing derives from it.
func (e *Engine) WeekdayOrder() ([7]string, error) {
	return dates.WeekdayCodes(e.Settings().FirstDayOfWeek)
}

// ExpandOccurrences expands rule text inside window. anchor may be empty when
// the rule carries its own DTSTART. max <= 0 uses the configured cap.
func (e *Engine) ExpandOccurrences(rule, anchor string, window dates.Window, max int) (rrule.Expansion, error) {
	var a dates.Date
	if anchor != "" {
		var err error
		if a, err = ParseDate(anchor); err != nil {
			return rrule.Expansion{}, err
		}
	}
	if err := window.Validate(); err != nil {
		return rrule.Expansion{}, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	if max <= 0 {
		max = e.Settings().MaxInstances
	}
	exp := rrule.Expand(rule, a, rrule.Options{Window: window, MaxInstances: max})
	e.metrics.Expansion(exp.Status.String())
	return exp, nil
}

// ExpandCalendar expands the subscribed calendar events inside window.
func (e *Engine) ExpandCalendar(window dates.Window) ([]calendar.Occurrence, error) {
	e.mu.RLock()
	events := e.calendar
	max := e.settings.MaxInstances
	e.mu.RUnlock()

	occ, err := calendar.Expand(events, calendar.Options{Window: window, MaxInstances: max})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	for _, o := range occ {
		if o.Base {
			e.metrics.Expansion(o.Status.String())
		}
	}
	return occ, nil
}
