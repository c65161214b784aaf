package mcpserver

// TaskFormatContract describes how tasks are stored in the vault, for LLM
// consumers that read notes or call the action tools.
const TaskFormatContract = `# Raido Task Format

A task is a Markdown note whose YAML frontmatter marks it as a task. By
default that is the ` + "`" + `task` + "`" + ` tag; the server may be configured to use a
frontmatter property instead.

## Structure

` + "```" + `markdown
---
id: 0b9f5c1e-3f0e-4c39-9a53-5b0e3f5c7a11  # OPTIONAL – stable id, survives renames
tags: [task]                              # identifies the note as a task
status: open                              # open | done | any configured status
priority: high                            # OPTIONAL
scheduled: 2025-01-09                     # OPTIONAL – current instance (YYYY-MM-DD)
due: 2025-01-12                           # OPTIONAL
recurrence: FREQ=WEEKLY;BYDAY=MO,TH       # OPTIONAL – RFC 5545 RRULE, DTSTART allowed
recurrence_anchor: scheduled              # scheduled (default) | completion
complete_instances: [2025-01-06]          # dates already completed
skipped_instances: [2025-01-02]           # dates skipped
blockedBy:                                # OPTIONAL – tasks that must finish first
  - "[[prepare-soil]]"
  - uid: 7d0c...                          # or by stable id
    reltype: FINISHTOSTART
projects: ["[[garden]]"]                  # OPTIONAL – parent project notes
---

# Water the plants
` + "```" + `

## Rules

1. **Dates are calendar dates.** Always ` + "`" + `YYYY-MM-DD` + "`" + `, never with a time or offset.
2. **Do not edit instance lists by hand** when a tool can do it. ` + "`" + `complete_task` + "`" + `,
   ` + "`" + `skip_task` + "`" + ` and ` + "`" + `toggle_instance` + "`" + ` keep ` + "`" + `scheduled` + "`" + ` and the lists consistent.
3. **Overdue instances.** Completing a task whose scheduled date is in the past
   records that scheduled date and advances by one step, never to today.
4. **Unsupported rules** (for example ` + "`" + `FREQ=HOURLY` + "`" + `) are reported, never
   silently dropped. The task keeps its scheduled date.
5. **References** use wikilinks (` + "`" + `[[note]]` + "`" + ` or ` + "`" + `[[folder/note]]` + "`" + `) or a stable ` + "`" + `uid` + "`" + `.
   A reference to a note that is not a task is ignored.
6. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes.
`
