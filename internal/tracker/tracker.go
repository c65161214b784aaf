// Package tracker keeps time-tracking sessions against tasks. Sessions hold a
// task path, so the tracker follows renames and deletes reported by the engine.
package tracker

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
)

// ErrNoActive is returned by Stop when nothing is being tracked.
var ErrNoActive = errors.New("tracker: no active session")

// Session is one tracked span of work on a task. End is zero while the
// session is active.
type Session struct {
	ID    string    `json:"id"`
	Path  string    `json:"path"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end,omitzero"`
}

// Duration returns the tracked time; an active session counts up to now.
func (s Session) Duration(now time.Time) time.Duration {
	if s.End.IsZero() {
		return now.Sub(s.Start)
	}
	return s.End.Sub(s.Start)
}

// Change kinds passed to OnChange listeners.
const (
	Started = "started"
	Stopped = "stopped"
)

// Tracker holds at most one active session plus the finished ones.
type Tracker struct {
	mu        sync.Mutex
	active    *Session
	sessions  []Session
	listeners []func(kind string, s Session)
	now       func() time.Time
	logger    *slog.Logger
}

type change struct {
	kind string
	s    Session
}

// New returns an empty tracker. A nil logger uses slog.Default.
func New(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{now: time.Now, logger: logger}
}

// Start begins tracking path at at. A session already running is stopped at
// the same instant.
func (t *Tracker) Start(path string, at time.Time) (Session, error) {
	if path == "" {
		return Session{}, fmt.Errorf("tracker: start: empty path: %w", apperr.ErrInvalidInput)
	}
	t.mu.Lock()
	var changes []change
	if t.active != nil {
		prev, err := t.stopLocked(at)
		if err != nil {
			t.mu.Unlock()
			return Session{}, err
		}
		changes = append(changes, change{Stopped, prev})
	}
	s := Session{ID: uuid.NewString(), Path: path, Start: at}
	t.active = &s
	changes = append(changes, change{Started, s})
	t.mu.Unlock()

	t.emit(changes...)
	return s, nil
}

// Stop ends the active session at at.
func (t *Tracker) Stop(at time.Time) (Session, error) {
	t.mu.Lock()
	s, err := t.stopLocked(at)
	t.mu.Unlock()
	if err != nil {
		return Session{}, err
	}
	t.emit(change{Stopped, s})
	return s, nil
}

// OnChange registers fn to run after a session starts or stops, outside the
// tracker lock.
func (t *Tracker) OnChange(fn func(kind string, s Session)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

func (t *Tracker) emit(changes ...change) {
	t.mu.Lock()
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()
	for _, c := range changes {
		for _, fn := range listeners {
			fn(c.kind, c.s)
		}
	}
}

func (t *Tracker) stopLocked(at time.Time) (Session, error) {
	if t.active == nil {
		return Session{}, ErrNoActive
	}
	if at.Before(t.active.Start) {
		return Session{}, fmt.Errorf("tracker: stop at %s is before start %s: %w",
			at.Format(time.RFC3339), t.active.Start.Format(time.RFC3339), apperr.ErrInvalidInput)
	}
	s := *t.active
	s.End = at
	t.sessions = append(t.sessions, s)
	t.active = nil
	return s, nil
}

// Active returns the running session.
func (t *Tracker) Active() (Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return Session{}, false
	}
	return *t.active, true
}

// Sessions returns every session on path, oldest first, the active one last.
func (t *Tracker) Sessions(path string) []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := []Session{}
	for _, s := range t.sessions {
		if s.Path == path {
			out = append(out, s)
		}
	}
	if t.active != nil && t.active.Path == path {
		out = append(out, *t.active)
	}
	return out
}

// HandleRename rewrites every stored reference to oldPath.
func (t *Tracker) HandleRename(oldPath, newPath string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for i := range t.sessions {
		if t.sessions[i].Path == oldPath {
			t.sessions[i].Path = newPath
			n++
		}
	}
	if t.active != nil && t.active.Path == oldPath {
		t.active.Path = newPath
		n++
	}
	if n > 0 {
		t.logger.Debug("tracker: followed rename",
			slog.String("from", oldPath),
			slog.String("to", newPath),
			slog.Int("sessions", n))
	}
}

// HandleDelete stops the active session when its task disappears. Finished
// sessions are kept as history.
func (t *Tracker) HandleDelete(path string) {
	t.mu.Lock()
	if t.active == nil || t.active.Path != path {
		t.mu.Unlock()
		return
	}
	now := t.now()
	if now.Before(t.active.Start) {
		now = t.active.Start
	}
	s, err := t.stopLocked(now)
	t.mu.Unlock()
	if err != nil {
		return
	}
	t.logger.Info("tracker: task deleted, session stopped", slog.String("path", path))
	t.emit(change{Stopped, s})
}
