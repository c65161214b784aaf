package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/parser"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Vault    VaultConfig       `yaml:"vault"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Auth     AuthConfig        `yaml:"auth"`
	Tasks    TasksConfig       `yaml:"tasks"`
	Calendar CalendarConfig    `yaml:"calendar"`
	Events   EventsConfig      `yaml:"events"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Tasks.Validate(); err != nil {
		return fmt.Errorf("tasks: %w", err)
	}
	if err := c.Calendar.Validate(); err != nil {
		return fmt.Errorf("calendar: %w", err)
	}
	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events: %w", err)
	}
	return nil
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the Markdown vault directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds the snapshot database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// IdentificationConfig selects which notes are tasks.
type IdentificationConfig struct {
	Method   string `yaml:"method"`
	Tag      string `yaml:"tag"`
	Property string `yaml:"property"`
	Value    string `yaml:"value"`
}

// Validate validates the identification configuration.
func (c *IdentificationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Method, validation.Required, validation.In(engine.IdentifyByTag, engine.IdentifyByProperty)),
		validation.Field(&c.Tag, validation.When(c.Method == engine.IdentifyByTag, validation.Required)),
		validation.Field(&c.Property, validation.When(c.Method == engine.IdentifyByProperty, validation.Required)),
	)
}

// TasksConfig holds the task engine settings.
type TasksConfig struct {
	Identification    IdentificationConfig `yaml:"identification"`
	Fields            parser.FieldMap      `yaml:"fields"`
	DoneStatus        string               `yaml:"done_status"`
	CompletedStatuses []string             `yaml:"completed_statuses"`
	FirstDayOfWeek    int                  `yaml:"first_day_of_week"`
	MaxInstances      int                  `yaml:"max_instances"`
	ReindexChunk      int                  `yaml:"reindex_chunk"`
}

// Validate validates the tasks configuration.
func (c *TasksConfig) Validate() error {
	if err := c.Identification.Validate(); err != nil {
		return fmt.Errorf("identification: %w", err)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.DoneStatus, validation.Required),
		validation.Field(&c.FirstDayOfWeek, validation.Min(0), validation.Max(6)),
		validation.Field(&c.MaxInstances, validation.Required, validation.Min(1)),
		validation.Field(&c.ReindexChunk, validation.Required, validation.Min(1)),
	)
}

// Settings converts the section into engine settings.
func (c *TasksConfig) Settings() engine.Settings {
	return engine.Settings{
		Identification: engine.Identification{
			Method:   c.Identification.Method,
			Tag:      c.Identification.Tag,
			Property: c.Identification.Property,
			Value:    c.Identification.Value,
		},
		DoneStatus:        c.DoneStatus,
		CompletedStatuses: c.CompletedStatuses,
		FirstDayOfWeek:    c.FirstDayOfWeek,
		MaxInstances:      c.MaxInstances,
		ReindexChunk:      c.ReindexChunk,
	}
}

// CalendarConfig lists read-only calendar subscriptions. Each entry is a YAML
// snapshot of an already fetched feed. LookaheadDays sizes the calendar window
// used when a request does not name one.
type CalendarConfig struct {
	Subscriptions []string `yaml:"subscriptions"`
	LookaheadDays int      `yaml:"lookahead_days"`
}

// Validate validates the calendar configuration.
func (c *CalendarConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Subscriptions, validation.Each(validation.Required)),
		validation.Field(&c.LookaheadDays, validation.Min(0)),
	)
}

// EventsConfig tunes the /api/events stream.
type EventsConfig struct {
	RelationsThrottle time.Duration `yaml:"relations_throttle"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	Replay            int           `yaml:"replay"`
}

// Validate validates the event stream configuration.
func (c *EventsConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.RelationsThrottle, validation.Required, validation.Min(100*time.Millisecond)),
		validation.Field(&c.Heartbeat, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.Replay, validation.Min(0), validation.Max(4096)),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	s := engine.DefaultSettings()
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./raido.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Tasks: TasksConfig{
			Identification: IdentificationConfig{
				Method: s.Identification.Method,
				Tag:    s.Identification.Tag,
			},
			Fields:            parser.DefaultFields(),
			DoneStatus:        s.DoneStatus,
			CompletedStatuses: s.CompletedStatuses,
			FirstDayOfWeek:    s.FirstDayOfWeek,
			MaxInstances:      s.MaxInstances,
			ReindexChunk:      s.ReindexChunk,
		},
		Calendar: CalendarConfig{
			LookaheadDays: 60,
		},
		Events: EventsConfig{
			RelationsThrottle: 2 * time.Second,
			Heartbeat:         30 * time.Second,
			Replay:            64,
		},
	}
}
