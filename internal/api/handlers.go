package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/raido/internal/dates"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/rrule"
	"github.com/starford/raido/internal/tracker"
)

// Handler holds API route handlers.
type Handler struct {
	eng *engine.Engine
	idx index.NoteIndex
	trk *tracker.Tracker
	now func() time.Time

	lookahead int
}

// Option configures a Handler.
type Option func(*Handler)

// WithCalendarLookahead makes GET /calendar without a window cover today and
// the following days.
func WithCalendarLookahead(days int) Option {
	return func(h *Handler) { h.lookahead = days }
}

// NewHandler creates a new Handler.
func NewHandler(eng *engine.Engine, idx index.NoteIndex, trk *tracker.Tracker, opts ...Option) *Handler {
	h := &Handler{eng: eng, idx: idx, trk: trk, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// notePath extracts the task path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. tasks%2Fwater.md).
func notePath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func (h *Handler) today() string {
	return dates.ToCalendarDate(h.now()).String()
}

func requirePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	path := notePath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return "", false
	}
	return path, true
}

// ListTasks handles GET /api/tasks.
//
//	@Summary		List indexed tasks
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	TaskListResponse
//	@Security		BearerAuth
//	@Router			/tasks [get]
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := h.eng.Tasks()
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// TaskStatus handles GET /api/tasks/status/*.
//
//	@Summary		Effective status of a task on a date
//	@Tags			tasks
//	@Produce		json
//	@Param			path	path		string	true	"Task path"
//	@Param			date	query		string	false	"Date (YYYY-MM-DD), defaults to today"
//	@Success		200		{object}	StatusResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/status/{path} [get]
func (h *Handler) TaskStatus(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.today()
	}
	st, err := h.eng.EffectiveStatus(path, date)
	if err != nil {
		writeError(w, "task status", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Path: path, Date: date, Status: string(st)})
}

// NextOccurrence handles GET /api/tasks/next/*.
//
//	@Summary		Next uncompleted occurrence of a task
//	@Tags			tasks
//	@Produce		json
//	@Param			path	path		string	true	"Task path"
//	@Param			ref		query		string	false	"Reference date (YYYY-MM-DD), defaults to today"
//	@Success		200		{object}	NextResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/next/{path} [get]
func (h *Handler) NextOccurrence(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	ref := r.URL.Query().Get("ref")
	if ref == "" {
		ref = h.today()
	}
	next, found, err := h.eng.NextUncompletedOccurrence(path, ref)
	if err != nil {
		writeError(w, "next occurrence", err, slog.String("path", path))
		return
	}
	resp := NextResponse{Path: path, Ref: ref}
	if found {
		resp.Next = next.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// TaskRelations handles GET /api/tasks/relations/*.
//
//	@Summary		Blocking and project relations of a task
//	@Tags			tasks
//	@Produce		json
//	@Param			path	path		string	true	"Task path"
//	@Success		200		{object}	Relations
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/relations/{path} [get]
func (h *Handler) TaskRelations(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	rel, err := h.eng.Relations(path)
	if err != nil {
		writeError(w, "task relations", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, rel)
}

// CompleteTask handles POST /api/tasks/complete/*.
//
//	@Summary		Complete the current instance of a task
//	@Tags			actions
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Task path"
//	@Param			body	body		ActionRequest	false	"Reference date"
//	@Success		200		{object}	ActionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/complete/{path} [post]
func (h *Handler) CompleteTask(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "complete", h.eng.Complete)
}

// SkipTask handles POST /api/tasks/skip/*.
//
//	@Summary		Skip the current instance of a recurring task
//	@Tags			actions
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Task path"
//	@Param			body	body		ActionRequest	false	"Reference date"
//	@Success		200		{object}	ActionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/skip/{path} [post]
func (h *Handler) SkipTask(w http.ResponseWriter, r *http.Request) {
	h.action(w, r, "skip", h.eng.Skip)
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request, name string,
	fn func(ctx context.Context, path, ref string) (engine.ActionResult, error)) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req ActionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Date == "" {
		req.Date = h.today()
	}
	res, err := fn(r.Context(), path, req.Date)
	if err != nil {
		writeError(w, name, err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ToggleInstance handles POST /api/tasks/toggle/*.
//
//	@Summary		Toggle one instance of a recurring task
//	@Tags			actions
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Task path"
//	@Param			body	body		ToggleRequest	true	"Instance to toggle"
//	@Success		200		{object}	ActionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/toggle/{path} [post]
func (h *Handler) ToggleInstance(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req ToggleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Date == "" || req.Kind == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("date and kind are required"))
		return
	}
	if req.Today == "" {
		req.Today = h.today()
	}
	res, err := h.eng.ToggleInstance(r.Context(), path, req.Date, req.Kind, req.Today)
	if err != nil {
		writeError(w, "toggle", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// AssignID handles POST /api/tasks/assign-id/*.
//
//	@Summary		Give a task a stable id
//	@Tags			actions
//	@Produce		json
//	@Param			path	path		string	true	"Task path"
//	@Success		200		{object}	AssignIDResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/assign-id/{path} [post]
func (h *Handler) AssignID(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	id, err := h.eng.AssignID(r.Context(), path)
	if err != nil {
		writeError(w, "assign id", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, AssignIDResponse{Path: path, ID: id})
}

// BlockingOrder handles GET /api/blocking-order.
//
//	@Summary		Tasks ordered with blockers first
//	@Tags			tasks
//	@Produce		json
//	@Success		200	{object}	BlockingOrderResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/blocking-order [get]
func (h *Handler) BlockingOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.eng.BlockingOrder()
	if err != nil {
		writeError(w, "blocking order", err)
		return
	}
	if order == nil {
		order = []string{}
	}
	writeJSON(w, http.StatusOK, BlockingOrderResponse{Order: order})
}

// ExpandRecurrence handles POST /api/recurrence/expand.
//
//	@Summary		Expand a recurrence rule inside a window
//	@Tags			recurrence
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ExpandRequest	true	"Rule and window"
//	@Success		200		{object}	ExpandResponse
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	ExpandResponse
//	@Security		BearerAuth
//	@Router			/recurrence/expand [post]
func (h *Handler) ExpandRecurrence(w http.ResponseWriter, r *http.Request) {
	var req ExpandRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Rule == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("rule is required"))
		return
	}
	window, err := engine.ParseWindow(req.Start, req.End)
	if err != nil {
		writeError(w, "expand", err)
		return
	}
	exp, err := h.eng.ExpandOccurrences(req.Rule, req.Anchor, window, req.Max)
	if err != nil {
		writeError(w, "expand", err)
		return
	}

	resp := ExpandResponse{Status: exp.Status.String(), Dates: make([]string, 0, len(exp.Dates))}
	for _, d := range exp.Dates {
		resp.Dates = append(resp.Dates, d.String())
	}
	status := http.StatusOK
	if exp.Err != nil {
		resp.Error = exp.Err.Error()
		if exp.Status == rrule.Unsupported {
			status = http.StatusUnprocessableEntity
		}
	}
	writeJSON(w, status, resp)
}

// Calendar handles GET /api/calendar.
//
//	@Summary		Expanded calendar occurrences inside a window
//	@Tags			calendar
//	@Produce		json
//	@Param			start	query		string	false	"Window start (YYYY-MM-DD)"
//	@Param			end		query		string	false	"Window end (YYYY-MM-DD)"
//	@Success		200		{object}	CalendarResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/calendar [get]
func (h *Handler) Calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if start == "" && end == "" && h.lookahead > 0 {
		today := dates.ToCalendarDate(h.now())
		start, end = today.String(), today.AddDays(h.lookahead).String()
	}
	window, err := engine.ParseWindow(start, end)
	if err != nil {
		writeError(w, "calendar", err)
		return
	}
	occ, err := h.eng.ExpandCalendar(window)
	if err != nil {
		writeError(w, "calendar", err)
		return
	}
	out := make([]CalendarOccurrence, 0, len(occ))
	for _, o := range occ {
		co := CalendarOccurrence{
			UID:    o.Event.UID,
			Title:  o.Event.Title,
			Date:   o.Date.String(),
			End:    o.End.String(),
			AllDay: o.Event.AllDay,
			Base:   o.Base,
			Status: o.Status.String(),
		}
		if o.Err != nil {
			co.Error = o.Err.Error()
		}
		out = append(out, co)
	}
	writeJSON(w, http.StatusOK, CalendarResponse{Occurrences: out})
}

// Weekdays handles GET /api/weekdays.
//
//	@Summary		Weekday codes in display order
//	@Tags			calendar
//	@Produce		json
//	@Success		200	{object}	WeekdaysResponse
//	@Security		BearerAuth
//	@Router			/weekdays [get]
func (h *Handler) Weekdays(w http.ResponseWriter, r *http.Request) {
	codes, err := h.eng.WeekdayOrder()
	if err != nil {
		writeError(w, "weekdays", err)
		return
	}
	writeJSON(w, http.StatusOK, WeekdaysResponse{
		FirstDayOfWeek: h.eng.Settings().FirstDayOfWeek,
		Weekdays:       codes[:],
	})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.idx.Search(q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	out := make([]SearchResult, 0, len(results))
	for _, res := range results {
		_, taskErr := h.eng.Task(res.Path)
		out = append(out, SearchResult{SearchResult: res, IsTask: taskErr == nil})
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: out})
}

// StartTracking handles POST /api/tracker/start/*.
//
//	@Summary		Start tracking time on a task
//	@Tags			tracker
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string					true	"Task path"
//	@Param			body	body		StartTrackingRequest	false	"Start instant"
//	@Success		200		{object}	Session
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tracker/start/{path} [post]
func (h *Handler) StartTracking(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req StartTrackingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	at, ok := h.instant(w, req.At)
	if !ok {
		return
	}
	if _, err := h.eng.Task(path); err != nil {
		writeError(w, "start tracking", err, slog.String("path", path))
		return
	}
	s, err := h.trk.Start(path, at)
	if err != nil {
		writeError(w, "start tracking", err, slog.String("path", path))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// StopTracking handles POST /api/tracker/stop.
//
//	@Summary		Stop the active tracking session
//	@Tags			tracker
//	@Accept			json
//	@Produce		json
//	@Param			body	body		StartTrackingRequest	false	"Stop instant"
//	@Success		200		{object}	Session
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tracker/stop [post]
func (h *Handler) StopTracking(w http.ResponseWriter, r *http.Request) {
	var req StartTrackingRequest
	if !decodeBody(w, r, &req) {
		return
	}
	at, ok := h.instant(w, req.At)
	if !ok {
		return
	}
	s, err := h.trk.Stop(at)
	if err != nil {
		writeError(w, "stop tracking", err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// ActiveSession handles GET /api/tracker/active.
//
//	@Summary		The running tracking session
//	@Tags			tracker
//	@Produce		json
//	@Success		200	{object}	Session
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tracker/active [get]
func (h *Handler) ActiveSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.trk.Active()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("no active session"))
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// Sessions handles GET /api/tracker/sessions/*.
//
//	@Summary		Tracking sessions of a task
//	@Tags			tracker
//	@Produce		json
//	@Param			path	path		string	true	"Task path"
//	@Success		200		{object}	SessionsResponse
//	@Security		BearerAuth
//	@Router			/tracker/sessions/{path} [get]
func (h *Handler) Sessions(w http.ResponseWriter, r *http.Request) {
	path, ok := requirePath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, SessionsResponse{Sessions: h.trk.Sessions(path)})
}

// instant parses an RFC 3339 timestamp; empty means now.
func (h *Handler) instant(w http.ResponseWriter, s string) (time.Time, bool) {
	if s == "" {
		return h.now(), true
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("at must be an RFC 3339 timestamp"))
		return time.Time{}, false
	}
	return t, true
}
