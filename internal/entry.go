// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/api"
	"github.com/starford/raido/internal/calendar"
	"github.com/starford/raido/internal/engine"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/mcpserver"
	"github.com/starford/raido/internal/metrics"
	"github.com/starford/raido/internal/sse"
	"github.com/starford/raido/internal/storage"
	"github.com/starford/raido/internal/tracker"
)

// services are the components shared by the HTTP server and the MCP server.
type services struct {
	store   *storage.FS
	db      *index.DB
	metrics *metrics.Metrics
	engine  *engine.Engine
	indexer *index.Indexer
	tracker *tracker.Tracker
}

func (s *services) close() {
	_ = s.db.Close()
	_ = s.store.Close()
}

func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setup opens the vault and the snapshot, builds the engine and brings it up
// to date with the vault. The caller closes the services.
func (app *application) setup(ctx context.Context, logger *slog.Logger) (*services, error) {
	cfg := app.config

	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init index: %w", err)
	}

	m := metrics.New()
	eng := engine.New(
		engine.WithLogger(logger),
		engine.WithMetrics(m),
		engine.WithSettings(cfg.Tasks.Settings()),
		engine.WithWriter(engine.NewVaultWriter(store, cfg.Tasks.Fields)),
	)

	var subs []*calendar.Subscription
	for _, path := range cfg.Calendar.Subscriptions {
		sub, err := calendar.LoadFile(path)
		if err != nil {
			logger.Warn("calendar subscription skipped", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		subs = append(subs, sub)
	}
	eng.SetCalendar(subs)

	trk := tracker.New(logger)
	eng.OnRename(trk.HandleRename)
	eng.OnDelete(trk.HandleDelete)

	ix := index.NewIndexer(db, store, cfg.Tasks.Fields, eng, logger)
	if err := ix.Sync(ctx); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	return &services{store: store, db: db, metrics: m, engine: eng, indexer: ix, tracker: trk}, nil
}

func newLogger(app *application) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// Run starts the HTTP server and the vault watcher with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(app)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("task_identification", cfg.Tasks.Identification.Method),
		slog.Int("calendar_subscriptions", len(cfg.Calendar.Subscriptions)),
		slog.String("log_level", cfg.App.LogLevel.String()))

	svc, err := app.setup(ctx, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	broker := sse.NewBroker(
		sse.WithThrottle(cfg.Events.RelationsThrottle),
		sse.WithHeartbeat(cfg.Events.Heartbeat),
		sse.WithReplay(cfg.Events.Replay),
		sse.WithClientGauge(svc.metrics.SSEClients),
	)
	defer broker.Close()
	svc.engine.OnChange(func(ch engine.Change) {
		broker.PublishTaskChange(sse.TaskChange{
			Kind:    string(ch.Kind),
			Path:    ch.Path,
			OldPath: ch.OldPath,
			Related: ch.Related,
		})
	})
	svc.tracker.OnChange(func(kind string, s tracker.Session) {
		broker.Publish(sse.Event{Type: "tracker." + kind, Data: s})
	})

	apiRouter := api.NewRouter(svc.engine, svc.db, svc.tracker, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker,
		api.WithCalendarLookahead(cfg.Calendar.LookaheadDays))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := svc.engine.Check(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"degraded"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", svc.metrics.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	// File watcher feeding the engine.
	g.Go(func() error {
		if err := svc.indexer.Watch(gCtx, cfg.Vault.Path); err != nil {
			return fmt.Errorf("watcher: %w", err)
		}
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

	wait:
		for {
			select {
			case <-hup:
				app.reloadSettings(svc.engine, logger)
			case sig := <-quit:
				logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
				break wait
			case <-gCtx.Done():
				logger.Info("Context cancelled, initiating shutdown")
				break wait
			}
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Stops the watcher.
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

var errShutdown = errors.New("shutdown")

// reloadSettings re-reads the config and hands the task settings to the
// engine, which rebuilds its cache only if they actually changed. Other
// sections need a restart.
func (app *application) reloadSettings(eng *engine.Engine, logger *slog.Logger) {
	if app.reload == nil {
		return
	}
	cfg, err := app.reload()
	if err != nil {
		logger.Error("reload: config rejected", slog.String("error", err.Error()))
		return
	}
	if cfg.Tasks.Fields.WithDefaults() != app.config.Tasks.Fields.WithDefaults() {
		logger.Warn("reload: tasks.fields changed, restart to re-parse the vault")
	}
	changed, err := eng.UpdateSettings(cfg.Tasks.Settings())
	if err != nil {
		logger.Error("reload: apply settings", slog.String("error", err.Error()))
		return
	}
	logger.Info("reload: done", slog.Bool("settings_changed", changed))
}

// RunMCP serves the MCP tools on stdin/stdout. The vault is synced once and
// watched for changes while the session lasts.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	logger := newLogger(app)

	svc, err := app.setup(ctx, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := svc.indexer.Watch(watchCtx, app.config.Vault.Path); err != nil {
			logger.Error("watcher failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc.engine, svc.db, svc.store).ServeStdio()
}
