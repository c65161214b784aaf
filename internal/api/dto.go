package api

import (
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/models"
	"github.com/starford/raido/internal/tracker"
)

// Task is the task response type (aliased from the domain layer).
type Task = models.Task

// TaskListResponse wraps the indexed tasks.
type TaskListResponse struct {
	Tasks []*Task `json:"tasks" validate:"required"`
	Total int     `json:"total" example:"42" validate:"required"`
}

// StatusResponse is the effective status of a task on one date.
type StatusResponse struct {
	Path   string `json:"path" example:"tasks/water.md" validate:"required"`
	Date   string `json:"date" example:"2025-01-10" validate:"required"`
	Status string `json:"status" example:"open" enums:"open,done,skipped" validate:"required"`
}

// NextResponse is the next uncompleted occurrence. Next is empty once the
// series has ended.
type NextResponse struct {
	Path string `json:"path" example:"tasks/water.md" validate:"required"`
	Ref  string `json:"ref" example:"2025-01-10" validate:"required"`
	Next string `json:"next,omitempty" example:"2025-01-10"`
}

// Relations is the relations response type (aliased from the domain layer).
type Relations = engine.Relations

// ActionRequest is the body of complete and skip. Date defaults to today.
type ActionRequest struct {
	Date string `json:"date,omitempty" example:"2025-01-10"`
}

// ToggleRequest is the body of toggle. Today defaults to the server date.
type ToggleRequest struct {
	Date  string `json:"date" example:"2025-01-08" validate:"required"`
	Kind  string `json:"kind" example:"complete" enums:"complete,skip" validate:"required"`
	Today string `json:"today,omitempty" example:"2025-01-10"`
}

// ActionResponse is the action result type (aliased from the domain layer).
type ActionResponse = engine.ActionResult

// AssignIDResponse carries a task's stable id.
type AssignIDResponse struct {
	Path string `json:"path" example:"tasks/water.md" validate:"required"`
	ID   string `json:"id" example:"0b9f5c1e-3f0e-4c39-9a53-5b0e3f5c7a11" validate:"required"`
}

// BlockingOrderResponse lists tasks with blockers first.
type BlockingOrderResponse struct {
	Order []string `json:"order" validate:"required"`
}

// ExpandRequest is the body of the recurrence expansion endpoint.
type ExpandRequest struct {
	Rule   string `json:"rule" example:"FREQ=MONTHLY;BYDAY=2MO" validate:"required"`
	Anchor string `json:"anchor,omitempty" example:"2025-01-01"`
	Start  string `json:"start" example:"2025-01-01" validate:"required"`
	End    string `json:"end" example:"2025-12-31" validate:"required"`
	Max    int    `json:"max,omitempty" example:"100"`
}

// ExpandResponse is the tri-state expansion result. Dates is empty, never
// null, when the rule expanded to nothing.
type ExpandResponse struct {
	Status string   `json:"status" example:"expanded" enums:"expanded,unsupported,failed" validate:"required"`
	Dates  []string `json:"dates" validate:"required"`
	Error  string   `json:"error,omitempty"`
}

// CalendarOccurrence is one expanded calendar event.
type CalendarOccurrence struct {
	UID    string `json:"uid" example:"standup@example.com" validate:"required"`
	Title  string `json:"title" example:"Standup"`
	Date   string `json:"date,omitempty" example:"2025-01-06"`
	End    string `json:"end,omitempty" example:"2025-01-06"`
	AllDay bool   `json:"all_day"`
	// Base marks an event whose rule could not be expanded.
	Base   bool   `json:"base"`
	Status string `json:"status" example:"expanded" validate:"required"`
	Error  string `json:"error,omitempty"`
}

// CalendarResponse wraps calendar occurrences.
type CalendarResponse struct {
	Occurrences []CalendarOccurrence `json:"occurrences" validate:"required"`
}

// WeekdaysResponse lists weekday codes in display order.
type WeekdaysResponse struct {
	FirstDayOfWeek int      `json:"first_day_of_week" example:"1" validate:"required"`
	Weekdays       []string `json:"weekdays" example:"MO,TU,WE,TH,FR,SA,SU" validate:"required"`
}

// SearchResult is a single search hit in the API response.
type SearchResult struct {
	index.SearchResult
	IsTask bool `json:"is_task"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// StartTrackingRequest is the body of the tracker start endpoint. At defaults
// to now.
type StartTrackingRequest struct {
	At string `json:"at,omitempty" example:"2025-01-10T09:00:00Z"`
}

// Session is the tracking session type (aliased from the domain layer).
type Session = tracker.Session

// SessionsResponse wraps the sessions of one task.
type SessionsResponse struct {
	Sessions []Session `json:"sessions" validate:"required"`
}
