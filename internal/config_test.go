package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/raido/pkg/config"
)

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := AuthConfig{Mode: "disabled", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := AuthConfig{Mode: "", Token: ""}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_TokenModeEmptyToken(t *testing.T) {
	cfg := AuthConfig{Mode: "token", Token: ""}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("token mode with empty token should fail")
	}
	if !strings.Contains(err.Error(), "token is empty") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := AuthConfig{Mode: "magic", Token: "x"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
	s := cfg.Tasks.Settings()
	if s.Identification.Tag != "task" || s.FirstDayOfWeek != 1 {
		t.Errorf("settings = %+v", s)
	}
}

func TestTasksConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TasksConfig)
	}{
		{"unknown method", func(c *TasksConfig) { c.Identification.Method = "folder" }},
		{"property without name", func(c *TasksConfig) {
			c.Identification = IdentificationConfig{Method: "property", Value: "task"}
		}},
		{"tag method without tag", func(c *TasksConfig) { c.Identification.Tag = "" }},
		{"first day out of range", func(c *TasksConfig) { c.FirstDayOfWeek = 7 }},
		{"negative first day", func(c *TasksConfig) { c.FirstDayOfWeek = -1 }},
		{"no instance cap", func(c *TasksConfig) { c.MaxInstances = 0 }},
		{"no done status", func(c *TasksConfig) { c.DoneStatus = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(&cfg.Tasks)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadTasksSection(t *testing.T) {
	p := filepath.Join(t.TempDir(), "config.yaml")
	content := `
vault:
  path: /srv/vault
tasks:
  identification:
    method: property
    property: type
    value: task
  fields:
    scheduled: when
  completed_statuses: [done, cancelled]
  first_day_of_week: 0
calendar:
  subscriptions: [/srv/calendars/work.yaml]
events:
  relations_throttle: 500ms
`
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Tasks.Fields.Scheduled != "when" {
		t.Errorf("scheduled field = %q, want when", cfg.Tasks.Fields.Scheduled)
	}
	if cfg.Tasks.Fields.Due != "due" {
		t.Errorf("due field = %q, want the default to survive", cfg.Tasks.Fields.Due)
	}
	s := cfg.Tasks.Settings()
	if s.Identification.Method != "property" || s.FirstDayOfWeek != 0 || len(s.CompletedStatuses) != 2 {
		t.Errorf("settings = %+v", s)
	}
	if cfg.Events.RelationsThrottle != 500*time.Millisecond || cfg.Events.Heartbeat != 30*time.Second {
		t.Errorf("events = %+v", cfg.Events)
	}
	if cfg.SQLite.Path != "./raido.db" {
		t.Errorf("sqlite path = %q, want default", cfg.SQLite.Path)
	}
}

func TestEventsConfig_Validation(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Events.RelationsThrottle = time.Millisecond
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "events") {
		t.Errorf("err = %v, want events validation failure", err)
	}
	cfg = NewDefaultConfig()
	cfg.Events.Replay = -1
	if err := cfg.Validate(); err == nil {
		t.Error("negative replay should fail")
	}
}
