package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/tracker"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(eng *engine.Engine, idx index.NoteIndex, trk *tracker.Tracker, authEnabled bool, token string, sseHandler http.Handler, opts ...Option) chi.Router {
	h := NewHandler(eng, idx, trk, opts...)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Queries.
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/status/*", h.TaskStatus)
	r.Get("/tasks/next/*", h.NextOccurrence)
	r.Get("/tasks/relations/*", h.TaskRelations)
	r.Get("/blocking-order", h.BlockingOrder)

	// Actions.
	r.Post("/tasks/complete/*", h.CompleteTask)
	r.Post("/tasks/skip/*", h.SkipTask)
	r.Post("/tasks/toggle/*", h.ToggleInstance)
	r.Post("/tasks/assign-id/*", h.AssignID)

	// Recurrence and calendar.
	r.Post("/recurrence/expand", h.ExpandRecurrence)
	r.Get("/calendar", h.Calendar)
	r.Get("/weekdays", h.Weekdays)

	r.Get("/search", h.Search)

	// Time tracking.
	r.Post("/tracker/start/*", h.StartTracking)
	r.Post("/tracker/stop", h.StopTracking)
	r.Get("/tracker/active", h.ActiveSession)
	r.Get("/tracker/sessions/*", h.Sessions)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
