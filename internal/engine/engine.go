// Package engine is the single entry point to task state: it applies note
// lifecycle events to the relationship cache, answers status and relationship
// queries, and performs complete/skip actions through a Writer.
//
// Mutation happens under one lock, one event (or one reindex chunk) at a time,
// so a reader never observes a half-applied event.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/starford/raido/internal/calendar"
	"github.com/starford/raido/internal/metrics"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/relcache"
)

// EventKind is the kind of a note lifecycle event.
type EventKind string

const (
	Created  EventKind = "created"
	Modified EventKind = "modified"
	Renamed  EventKind = "renamed"
	Deleted  EventKind = "deleted"
)

// Event is one notification from the note store. Task is the parsed metadata
// of the note at Path; it is nil for Deleted. OldPath is set for Renamed.
type Event struct {
	Kind    EventKind
	Path    string
	OldPath string
	Task    *models.Task
}

// Change is reported to change listeners after an event was applied.
type Change struct {
	Kind    EventKind `json:"kind"`
	Path    string    `json:"path"`
	OldPath string    `json:"old_path,omitempty"`
	// Related lists the tasks whose relations changed.
	Related []string `json:"related,omitempty"`
}

// Entry is one note handed to Reindex.
type Entry struct {
	Path string
	Task *models.Task
}

// Writer persists task changes back into the note.
type Writer interface {
	WriteTask(ctx context.Context, before, after *models.Task) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithWriter sets where Complete, Skip and friends persist their result.
// Without one, actions only change in-memory state.
func WithWriter(w Writer) Option {
	return func(e *Engine) { e.writer = w }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records engine activity.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithSettings sets the initial settings.
func WithSettings(s Settings) Option {
	return func(e *Engine) { e.settings = s.normalized() }
}

// Engine is the facade over the ledger, the relationship cache and the
// calendar expander.
type Engine struct {
	mu       sync.RWMutex
	settings Settings
	cache    *relcache.Cache
	// notes keeps every note's metadata, tasks or not, so the cache can be
	// rebuilt when the identification settings change.
	notes    map[string]*models.Task
	calendar []calendar.Event

	actionMu sync.Mutex
	writer   Writer
	logger   *slog.Logger
	metrics  *metrics.Metrics

	listenerMu sync.RWMutex
	onRename   []func(oldPath, newPath string)
	onDelete   []func(path string)
	onChange   []func(Change)
}

// New returns an empty engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		settings: DefaultSettings().normalized(),
		notes:    map[string]*models.Task{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.cache = relcache.New(e.settings.Identifier())
	return e
}

// OnRename registers fn to run after a rename was applied. Services that hold
// bare task paths use it to rewrite them.
func (e *Engine) OnRename(fn func(oldPath, newPath string)) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.onRename = append(e.onRename, fn)
}

// OnDelete registers fn to run after a delete was applied.
func (e *Engine) OnDelete(fn func(path string)) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.onDelete = append(e.onDelete, fn)
}

// OnChange registers fn to run after every applied event.
func (e *Engine) OnChange(fn func(Change)) {
	e.listenerMu.Lock()
	defer e.listenerMu.Unlock()
	e.onChange = append(e.onChange, fn)
}

// Apply applies one note lifecycle event. Listeners run after the state
// update is complete and outside the engine lock.
func (e *Engine) Apply(ev Event) error {
	if err := validateEvent(ev); err != nil {
		return err
	}
	e.mu.Lock()
	ch := e.applyLocked(ev)
	e.mu.Unlock()

	e.logger.Debug("engine: applied",
		slog.String("kind", string(ev.Kind)),
		slog.String("path", ev.Path),
		slog.Int("related", len(ch.Related)))
	e.notify(ch)
	return nil
}

func validateEvent(ev Event) error {
	if ev.Path == "" {
		return fmt.Errorf("engine: %s event without path", ev.Kind)
	}
	switch ev.Kind {
	case Created, Modified:
		if ev.Task == nil {
			return fmt.Errorf("engine: %s %s without metadata", ev.Kind, ev.Path)
		}
	case Renamed:
		if ev.OldPath == "" || ev.Task == nil {
			return fmt.Errorf("engine: rename to %s needs old path and metadata", ev.Path)
		}
	case Deleted:
	default:
		return fmt.Errorf("engine: unknown event kind %q", ev.Kind)
	}
	return nil
}

func (e *Engine) applyLocked(ev Event) Change {
	ch := Change{Kind: ev.Kind, Path: ev.Path, OldPath: ev.OldPath}
	switch ev.Kind {
	case Created, Modified:
		t := ev.Task.Clone()
		t.Path = ev.Path
		e.notes[ev.Path] = t
		ch.Related = e.cache.IndexFile(ev.Path, t)
	case Renamed:
		t := ev.Task.Clone()
		t.Path = ev.Path
		delete(e.notes, ev.OldPath)
		e.notes[ev.Path] = t
		ch.Related = e.cache.RenameFile(ev.OldPath, ev.Path, t)
	case Deleted:
		delete(e.notes, ev.Path)
		ch.Related = e.cache.RemoveFile(ev.Path)
	}
	e.metrics.EventApplied(string(ev.Kind))
	e.metrics.CacheNodes(e.cache.Len())
	return ch
}

func (e *Engine) notify(ch Change) {
	e.listenerMu.RLock()
	rename := e.onRename
	del := e.onDelete
	change := e.onChange
	e.listenerMu.RUnlock()

	switch ch.Kind {
	case Renamed:
		for _, fn := range rename {
			fn(ch.OldPath, ch.Path)
		}
	case Deleted:
		for _, fn := range del {
			fn(ch.Path)
		}
	}
	for _, fn := range change {
		fn(ch)
	}
}

// Reindex brings the engine in line with a full listing of the vault. Entries
// are applied in chunks; between chunks the lock is released and ctx is
// checked. On cancellation the processed paths keep their new state and the
// rest keep their old state. Notes missing from entries are removed only once
// every entry was applied.
func (e *Engine) Reindex(ctx context.Context, entries []Entry) error {
	start := time.Now()
	chunk := e.Settings().ReindexChunk

	seen := make(map[string]struct{}, len(entries))
	for i := 0; i < len(entries); i += chunk {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("engine: reindex: %w", err)
		}
		end := min(i+chunk, len(entries))

		e.mu.Lock()
		for _, en := range entries[i:end] {
			if en.Task == nil || en.Path == "" {
				continue
			}
			seen[en.Path] = struct{}{}
			e.applyLocked(Event{Kind: Modified, Path: en.Path, Task: en.Task})
		}
		e.mu.Unlock()
		runtime.Gosched()
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("engine: reindex: %w", err)
	}

	e.mu.Lock()
	var stale []string
	for p := range e.notes {
		if _, ok := seen[p]; !ok {
			stale = append(stale, p)
		}
	}
	for _, p := range stale {
		e.applyLocked(Event{Kind: Deleted, Path: p})
	}
	tasks := e.cache.Len()
	e.mu.Unlock()

	for _, p := range stale {
		e.notify(Change{Kind: Deleted, Path: p})
	}
	e.metrics.ReindexDone(time.Since(start))
	e.logger.Info("engine: reindexed",
		slog.Int("notes", len(entries)),
		slog.Int("tasks", tasks),
		slog.Int("removed", len(stale)),
		slog.Duration("took", time.Since(start)))
	return nil
}

// Settings returns the current settings.
func (e *Engine) Settings() Settings {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.settings
}

// UpdateSettings swaps the settings and rebuilds the cache. It reports false,
// and keeps the cache, when the new settings are equivalent to the current ones.
func (e *Engine) UpdateSettings(s Settings) (bool, error) {
	next, err := s.Fingerprint()
	if err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cur, err := e.settings.Fingerprint()
	if err != nil {
		return false, err
	}
	e.settings = s.normalized()
	if cur == next {
		return false, nil
	}
	e.cache = relcache.New(e.settings.Identifier())
	for p, t := range e.notes {
		e.cache.IndexFile(p, t)
	}
	e.metrics.CacheNodes(e.cache.Len())
	e.logger.Info("engine: settings changed, cache rebuilt", slog.Int("tasks", e.cache.Len()))
	return true, nil
}

// SetCalendar replaces the subscribed calendar events.
func (e *Engine) SetCalendar(subs []*calendar.Subscription) {
	var events []calendar.Event
	for _, s := range subs {
		events = append(events, s.Events...)
	}
	e.mu.Lock()
	e.calendar = events
	e.mu.Unlock()
}

// Check verifies the relationship cache invariants.
func (e *Engine) Check() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.cache.Check(); err != nil {
		return err
	}
	for p := range e.notes {
		if e.cache.Has(p) && !e.settings.Identifier().IsTask(e.notes[p]) {
			return fmt.Errorf("engine: cache holds %s, which is not a task", p)
		}
	}
	return nil
}
