package parser

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/starford/raido/internal/dates"
	"github.com/starford/raido/internal/models"
)

// FieldMap names the frontmatter properties task fields are stored under.
type FieldMap struct {
	ID                string `yaml:"id"`
	Title             string `yaml:"title"`
	Status            string `yaml:"status"`
	Priority          string `yaml:"priority"`
	Scheduled         string `yaml:"scheduled"`
	Due               string `yaml:"due"`
	Recurrence        string `yaml:"recurrence"`
	RecurrenceAnchor  string `yaml:"recurrence_anchor"`
	CompleteInstances string `yaml:"complete_instances"`
	SkippedInstances  string `yaml:"skipped_instances"`
	CompletedDate     string `yaml:"completed_date"`
	BlockedBy         string `yaml:"blocked_by"`
	Projects          string `yaml:"projects"`
}

// DefaultFields returns the property names used when none are configured.
func DefaultFields() FieldMap {
	return FieldMap{
		ID:                "id",
		Title:             "title",
		Status:            "status",
		Priority:          "priority",
		Scheduled:         "scheduled",
		Due:               "due",
		Recurrence:        "recurrence",
		RecurrenceAnchor:  "recurrence_anchor",
		CompleteInstances: "complete_instances",
		SkippedInstances:  "skipped_instances",
		CompletedDate:     "completedDate",
		BlockedBy:         "blockedBy",
		Projects:          "projects",
	}
}

// WithDefaults fills empty names from DefaultFields.
func (f FieldMap) WithDefaults() FieldMap {
	d := DefaultFields()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&f.ID, d.ID)
	fill(&f.Title, d.Title)
	fill(&f.Status, d.Status)
	fill(&f.Priority, d.Priority)
	fill(&f.Scheduled, d.Scheduled)
	fill(&f.Due, d.Due)
	fill(&f.Recurrence, d.Recurrence)
	fill(&f.RecurrenceAnchor, d.RecurrenceAnchor)
	fill(&f.CompleteInstances, d.CompleteInstances)
	fill(&f.SkippedInstances, d.SkippedInstances)
	fill(&f.CompletedDate, d.CompletedDate)
	fill(&f.BlockedBy, d.BlockedBy)
	fill(&f.Projects, d.Projects)
	return f
}

// Task maps the parsed note at notePath onto a models.Task. Dates are
// normalized to YYYY-MM-DD when they can be read; unreadable values are kept
// verbatim so the query layer can reject them.
func (r *Result) Task(notePath string, fields FieldMap) *models.Task {
	fm := r.Frontmatter
	t := &models.Task{
		Path:             notePath,
		ID:               scalar(fm[fields.ID]),
		Title:            r.Title,
		Status:           scalar(fm[fields.Status]),
		Priority:         scalar(fm[fields.Priority]),
		Tags:             r.Tags,
		Scheduled:        dateValue(fm[fields.Scheduled]),
		Due:              dateValue(fm[fields.Due]),
		Recurrence:       scalar(fm[fields.Recurrence]),
		RecurrenceAnchor: strings.ToLower(scalar(fm[fields.RecurrenceAnchor])),
		CompletedDate:    dateValue(fm[fields.CompletedDate]),
		Projects:         stringList(fm[fields.Projects]),
		BlockedBy:        references(fm[fields.BlockedBy]),
		Properties:       fm,
	}
	if t.Title == "" {
		if s := scalar(fm[fields.Title]); s != "" {
			t.Title = s
		} else {
			base := path.Base(notePath)
			t.Title = strings.TrimSuffix(base, path.Ext(base))
		}
	}
	for _, v := range stringList(fm[fields.CompleteInstances]) {
		t.CompleteInstances = append(t.CompleteInstances, normalizeDate(v))
	}
	for _, v := range stringList(fm[fields.SkippedInstances]) {
		t.SkippedInstances = append(t.SkippedInstances, normalizeDate(v))
	}
	return t
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return fmt.Sprint(v)
}

func dateValue(v any) string {
	if t, ok := v.(time.Time); ok {
		return dates.ToCalendarDate(t).String()
	}
	return normalizeDate(scalar(v))
}

func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	if d, err := dates.ParseInstant(s); err == nil {
		return d.String()
	}
	return s
}

// stringList reads a YAML value that is either a single scalar or a list.
func stringList(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if t, ok := item.(time.Time); ok {
				out = append(out, dates.ToCalendarDate(t).String())
				continue
			}
			if s := scalar(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	if s := scalar(v); s != "" {
		return []string{s}
	}
	return nil
}

// references reads blocking references: plain links, or objects carrying a
// link ("uid" or "target") plus optional id, reltype and gap.
func references(v any) []models.Reference {
	items, ok := v.([]any)
	if !ok {
		items = []any{v}
	}
	var out []models.Reference
	for _, item := range items {
		switch x := item.(type) {
		case nil:
		case map[string]any:
			ref := models.Reference{
				RelType: scalar(x["reltype"]),
				Gap:     scalar(x["gap"]),
				UID:     scalar(x["id"]),
				Target:  scalar(x["target"]),
			}
			if uid := scalar(x["uid"]); uid != "" {
				if isLink(uid) {
					ref.Target = uid
				} else if ref.UID == "" {
					ref.UID = uid
				}
			}
			if ref.Target != "" || ref.UID != "" {
				out = append(out, ref)
			}
		default:
			if s := scalar(x); s != "" {
				out = append(out, models.Reference{Target: s})
			}
		}
	}
	return out
}

func isLink(s string) bool {
	return strings.HasPrefix(s, "[[") || strings.HasPrefix(s, "[") || strings.Contains(s, "/") || strings.HasSuffix(s, ".md")
}
