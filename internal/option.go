package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	reload    func() (*Config, error)
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput redirects the JSON log stream. The MCP command needs stdout
// for the protocol and logs to stderr instead.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithReload sets how the serve command re-reads its configuration on SIGHUP.
// Only the task engine settings are applied live.
func WithReload(load func() (*Config, error)) Option {
	return func(a *application) {
		a.reload = load
	}
}
