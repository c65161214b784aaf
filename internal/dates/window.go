package dates

import "fmt"

// Window is an inclusive range of calendar days.
type Window struct {
	Start Date
	End   Date
}

// NewWindow validates and returns the window [start, end].
func NewWindow(start, end Date) (Window, error) {
	w := Window{Start: start, End: end}
	return w, w.Validate()
}

// ParseWindow parses both bounds with Parse.
func ParseWindow(start, end string) (Window, error) {
	s, err := Parse(start)
	if err != nil {
		return Window{}, fmt.Errorf("window start: %w", err)
	}
	e, err := Parse(end)
	if err != nil {
		return Window{}, fmt.Errorf("window end: %w", err)
	}
	return NewWindow(s, e)
}

// Validate rejects zero bounds and windows whose end precedes their start.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("%w: window bounds are required", ErrInvalidDate)
	}
	if w.End.Before(w.Start) {
		return fmt.Errorf("%w: window end %s before start %s", ErrInvalidDate, w.End, w.Start)
	}
	return nil
}

// Contains reports whether d lies inside the window.
func (w Window) Contains(d Date) bool {
	return !d.Before(w.Start) && !d.After(w.End)
}
