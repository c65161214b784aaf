package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/dates"
	"github.com/starford/raido/internal/ledger"
	"github.com/starford/raido/internal/models"
)

// ActionResult is what a Complete, Skip or ToggleInstance did to a task.
type ActionResult struct {
	Task     *models.Task `json:"task"`
	Instance string       `json:"instance"`
	// Next is empty when the series has ended or the task does not recur.
	Next string `json:"next,omitempty"`
}

// Complete completes the current instance of the task at path relative to
// ref. An overdue instance is recorded on its scheduled date and the task
// advances by a single step.
func (e *Engine) Complete(ctx context.Context, path, ref string) (ActionResult, error) {
	return e.act(ctx, "complete", path, ref, ledger.Complete)
}

// Skip is Complete for the skipped set.
func (e *Engine) Skip(ctx context.Context, path, ref string) (ActionResult, error) {
	return e.act(ctx, "skip", path, ref, ledger.Skip)
}

// ToggleInstance flips the instance on date within the kind's set. today is
// the reference used to re-derive the scheduled date.
func (e *Engine) ToggleInstance(ctx context.Context, path, date, kind, today string) (ActionResult, error) {
	k, err := ledger.ParseKind(kind)
	if err != nil {
		return ActionResult{}, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
	}
	d, err := ParseDate(date)
	if err != nil {
		return ActionResult{}, err
	}
	return e.act(ctx, "toggle", path, today, func(t *models.Task, ref dates.Date, _ ledger.Options) (ledger.Result, error) {
		return ledger.ToggleInstance(t, d, k, ref)
	})
}

type actionFunc func(*models.Task, dates.Date, ledger.Options) (ledger.Result, error)

// act runs one ledger action end to end: read, compute, persist, apply.
// Actions are serialized so two writers never race on the same note.
func (e *Engine) act(ctx context.Context, name, path, ref string, fn actionFunc) (ActionResult, error) {
	d, err := ParseDate(ref)
	if err != nil {
		return ActionResult{}, err
	}

	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	before, err := e.Task(path)
	if err != nil {
		return ActionResult{}, err
	}
	res, err := fn(before, d, e.Settings().ledgerOptions())
	if err != nil {
		err = ledgerError(err)
		e.metrics.Write(name, err)
		return ActionResult{}, err
	}
	if err := e.persist(ctx, before, res.Task); err != nil {
		e.metrics.Write(name, err)
		return ActionResult{}, err
	}
	e.metrics.Write(name, nil)

	out := ActionResult{Task: res.Task, Instance: res.Instance.String()}
	if !res.Next.IsZero() {
		out.Next = res.Next.String()
	}
	e.logger.Info("engine: "+name,
		slog.String("path", path),
		slog.String("instance", out.Instance),
		slog.String("next", out.Next))
	return out, nil
}

// persist writes after through the Writer and applies it as a modification,
// so readers see the new state without waiting for the file watcher.
func (e *Engine) persist(ctx context.Context, before, after *models.Task) error {
	if e.writer != nil {
		if err := e.writer.WriteTask(ctx, before, after); err != nil {
			return fmt.Errorf("engine: write %s: %w", after.Path, err)
		}
	}
	return e.Apply(Event{Kind: Modified, Path: after.Path, Task: after})
}

// AssignID gives the task at path a stable id when it has none and returns
// the id. References by id keep resolving across renames.
func (e *Engine) AssignID(ctx context.Context, path string) (string, error) {
	e.actionMu.Lock()
	defer e.actionMu.Unlock()

	before, err := e.Task(path)
	if err != nil {
		return "", err
	}
	if before.ID != "" {
		return before.ID, nil
	}
	after := before.Clone()
	after.ID = uuid.NewString()
	err = e.persist(ctx, before, after)
	e.metrics.Write("assign_id", err)
	if err != nil {
		return "", err
	}
	return after.ID, nil
}
