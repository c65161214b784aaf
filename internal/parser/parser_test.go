package parser

import (
	"strings"
	"testing"
)

func TestParse_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\ntitle: Hello\ntags:\n  - go\n  - task/home\n---\n# Hello\nBody text #errand.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Title != "Hello" {
		t.Errorf("title = %q, want %q", r.Title, "Hello")
	}
	want := []string{"go", "task/home", "errand"}
	if strings.Join(r.Tags, ",") != strings.Join(want, ",") {
		t.Errorf("tags = %v, want %v", r.Tags, want)
	}
	if r.Body != "# Hello\nBody text #errand.\n" {
		t.Errorf("body = %q", r.Body)
	}
}

func TestParse_NoFrontmatter(t *testing.T) {
	input := []byte("# Just a heading\nSome text.\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter, got %v", r.Frontmatter)
	}
	if r.Title != "Just a heading" {
		t.Errorf("title = %q, want %q", r.Title, "Just a heading")
	}
}

func TestParse_InvalidYAMLFallback(t *testing.T) {
	input := []byte("---\n: invalid: yaml: {{{\n---\nBody\n")
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Invalid YAML falls back to treating everything as body.
	if r.Frontmatter != nil {
		t.Errorf("expected nil frontmatter on invalid YAML")
	}
}

func TestExtractTags_InlineAndFrontmatter(t *testing.T) {
	fm := map[string]any{
		"tags": []any{"alpha"},
	}
	body := "Some text #beta and #alpha again."
	tags := extractTags(body, fm)
	// alpha from FM, beta from body; alpha not duplicated.
	if len(tags) != 2 || tags[0] != "alpha" || tags[1] != "beta" {
		t.Errorf("tags = %v, want [alpha beta]", tags)
	}
}

func TestDeriveTitle_FrontmatterOverH1(t *testing.T) {
	fm := map[string]any{"title": "FM Title"}
	body := "# H1 Title\ntext"
	title := deriveTitle(fm, body)
	if title != "FM Title" {
		t.Errorf("title = %q, want %q", title, "FM Title")
	}
}

func TestDeriveTitle_H1Fallback(t *testing.T) {
	title := deriveTitle(nil, "some text\n# My Heading\nmore")
	if title != "My Heading" {
		t.Errorf("title = %q, want %q", title, "My Heading")
	}
}

func TestExtractTags_FrontmatterScalarAndHash(t *testing.T) {
	fm := map[string]any{"tags": "#task"}
	tags := extractTags("", fm)
	if len(tags) != 1 || tags[0] != "task" {
		t.Errorf("tags = %v, want [task]", tags)
	}
}

func TestResultTask(t *testing.T) {
	input := []byte(`---
title: Water plants
id: 0194c2
status: open
tags: [task]
scheduled: 2025-01-09
due: "2025-01-10T18:00:00+02:00"
recurrence: "DTSTART:20250101;FREQ=DAILY"
recurrence_anchor: Completion
complete_instances:
  - 2025-01-07
  - "2025-01-08"
blockedBy:
  - "[[Buy soil]]"
  - uid: "[[projects/Garden]]"
    reltype: FINISHTOSTART
    gap: P1D
  - id: 77aa
projects: "[[Home]]"
---
Body
`)
	r, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	task := r.Task("tasks/water.md", DefaultFields())

	if task.Title != "Water plants" || task.ID != "0194c2" || task.Status != "open" {
		t.Errorf("scalars = %q %q %q", task.Title, task.ID, task.Status)
	}
	if task.Scheduled != "2025-01-09" {
		t.Errorf("scheduled = %q", task.Scheduled)
	}
	if task.Due != "2025-01-10" {
		t.Errorf("due = %q, want wall-clock date 2025-01-10", task.Due)
	}
	if task.RecurrenceAnchor != "completion" {
		t.Errorf("recurrence anchor = %q", task.RecurrenceAnchor)
	}
	if len(task.CompleteInstances) != 2 || task.CompleteInstances[0] != "2025-01-07" || task.CompleteInstances[1] != "2025-01-08" {
		t.Errorf("complete instances = %v", task.CompleteInstances)
	}
	if len(task.BlockedBy) != 3 {
		t.Fatalf("blockedBy = %+v", task.BlockedBy)
	}
	if task.BlockedBy[0].Target != "[[Buy soil]]" {
		t.Errorf("blockedBy[0] = %+v", task.BlockedBy[0])
	}
	if task.BlockedBy[1].Target != "[[projects/Garden]]" || task.BlockedBy[1].RelType != "FINISHTOSTART" || task.BlockedBy[1].Gap != "P1D" {
		t.Errorf("blockedBy[1] = %+v", task.BlockedBy[1])
	}
	if task.BlockedBy[2].UID != "77aa" {
		t.Errorf("blockedBy[2] = %+v", task.BlockedBy[2])
	}
	if len(task.Projects) != 1 || task.Projects[0] != "[[Home]]" {
		t.Errorf("projects = %v", task.Projects)
	}
	if len(task.Tags) != 1 || task.Tags[0] != "task" {
		t.Errorf("tags = %v", task.Tags)
	}
}

func TestResultTask_TitleFallsBackToFilename(t *testing.T) {
	r, _ := Parse([]byte("no heading here"))
	task := r.Task("inbox/Call mom.md", DefaultFields())
	if task.Title != "Call mom" {
		t.Errorf("title = %q", task.Title)
	}
}

func TestResultTask_InvalidDateKeptVerbatim(t *testing.T) {
	r, _ := Parse([]byte("---\nscheduled: next tuesday\n---\n"))
	task := r.Task("a.md", DefaultFields())
	if task.Scheduled != "next tuesday" {
		t.Errorf("scheduled = %q", task.Scheduled)
	}
}

func TestFieldMapWithDefaults(t *testing.T) {
	f := FieldMap{Scheduled: "start"}.WithDefaults()
	if f.Scheduled != "start" || f.Due != "due" || f.BlockedBy != "blockedBy" {
		t.Errorf("fields = %+v", f)
	}
}

func TestUpdateFrontmatter(t *testing.T) {
	input := []byte("---\ntitle: Water # keep me\nstatus: open\nscheduled: 2025-01-09\n---\n# Water\nbody\n")
	out, err := UpdateFrontmatter(input, map[string]any{
		"scheduled":          "2025-01-10",
		"complete_instances": []string{"2025-01-09"},
		"status":             nil,
	})
	if err != nil {
		t.Fatalf("UpdateFrontmatter: %v", err)
	}
	r, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	task := r.Task("water.md", DefaultFields())
	if task.Scheduled != "2025-01-10" {
		t.Errorf("scheduled = %q", task.Scheduled)
	}
	if len(task.CompleteInstances) != 1 || task.CompleteInstances[0] != "2025-01-09" {
		t.Errorf("complete instances = %v", task.CompleteInstances)
	}
	if _, ok := r.Frontmatter["status"]; ok {
		t.Error("status should have been removed")
	}
	if r.Body != "# Water\nbody\n" {
		t.Errorf("body = %q", r.Body)
	}
	if !strings.Contains(string(out), "# keep me") {
		t.Errorf("comment lost:\n%s", out)
	}
	if strings.Index(string(out), "title") > strings.Index(string(out), "scheduled") {
		t.Errorf("existing key order changed:\n%s", out)
	}
}

func TestUpdateFrontmatter_NoFrontmatter(t *testing.T) {
	out, err := UpdateFrontmatter([]byte("# Plain\n"), map[string]any{"id": "abc"})
	if err != nil {
		t.Fatalf("UpdateFrontmatter: %v", err)
	}
	if string(out) != "---\nid: abc\n---\n# Plain\n" {
		t.Errorf("out = %q", out)
	}
}
