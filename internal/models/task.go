// Package models defines the domain types for raido.
package models

import (
	"slices"
	"time"
)

// Recurrence anchor modes.
const (
	AnchorScheduled  = "scheduled"
	AnchorCompletion = "completion"
)

// Task is the task-relevant view of a vault note, as parsed from its frontmatter.
// Path is the note's identity; every date field holds a canonical YYYY-MM-DD string.
type Task struct {
	Path       string   `json:"path"`
	ID         string   `json:"id,omitempty"`
	Title      string   `json:"title,omitempty"`
	Status     string   `json:"status,omitempty"`
	Priority   string   `json:"priority,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Scheduled  string   `json:"scheduled,omitempty"`
	Due        string   `json:"due,omitempty"`
	Recurrence string   `json:"recurrence,omitempty"`
	// RecurrenceAnchor is AnchorScheduled (default) or AnchorCompletion.
	RecurrenceAnchor  string         `json:"recurrence_anchor,omitempty"`
	CompleteInstances []string       `json:"complete_instances,omitempty"`
	SkippedInstances  []string       `json:"skipped_instances,omitempty"`
	CompletedDate     string         `json:"completed_date,omitempty"`
	BlockedBy         []Reference    `json:"blocked_by,omitempty"`
	Projects          []string       `json:"projects,omitempty"`
	Properties        map[string]any `json:"properties,omitempty"`
}

// Reference is one blockedBy entry: a link to another note, optionally carrying
// the target's stable id and relationship details.
type Reference struct {
	Target  string `json:"target,omitempty"`
	UID     string `json:"uid,omitempty"`
	RelType string `json:"reltype,omitempty"`
	Gap     string `json:"gap,omitempty"`
}

// IsRecurring reports whether the task carries a recurrence rule.
func (t *Task) IsRecurring() bool { return t.Recurrence != "" }

// Clone returns a deep copy of t.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	c.Tags = slices.Clone(t.Tags)
	c.CompleteInstances = slices.Clone(t.CompleteInstances)
	c.SkippedInstances = slices.Clone(t.SkippedInstances)
	c.BlockedBy = slices.Clone(t.BlockedBy)
	c.Projects = slices.Clone(t.Projects)
	if t.Properties != nil {
		c.Properties = make(map[string]any, len(t.Properties))
		for k, v := range t.Properties {
			c.Properties[k] = v
		}
	}
	return &c
}

// NoteMetadata is a lightweight representation returned by list operations.
type NoteMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}
