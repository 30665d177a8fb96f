// Package app wires all stagecue subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the HTTP server and the session janitor, and
// Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/tobfel/stagecue/internal/config"
	"github.com/tobfel/stagecue/internal/cuesheet"
	"github.com/tobfel/stagecue/internal/engine"
	"github.com/tobfel/stagecue/internal/health"
	"github.com/tobfel/stagecue/internal/observe"
	"github.com/tobfel/stagecue/internal/textnorm"
)

// shutdownGrace is how long the HTTP server gets to drain connections.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes and serves the stagecue API.
type App struct {
	cfg      *config.Config
	store    cuesheet.Store
	metrics  *observe.Metrics
	sessions *SessionManager
	server   *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a cue sheet store instead of building one from config.
func WithStore(s cuesheet.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects a metrics instance instead of using the default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring all subsystems together: the cue sheet store
// (Postgres and/or YAML files), the session manager with the configured
// engine defaults, and the HTTP surface (stream socket, health probes,
// Prometheus metrics).
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		IdleTimeout:           cfg.Sessions.IdleTimeout,
		CooldownSweepInterval: cfg.Engine.CooldownSweepInterval,
		Metrics:               a.metrics,
		EngineOpts:            engineOptions(cfg.Engine),
	})

	a.initServer()
	return a, nil
}

// engineOptions converts the engine config section into the options applied
// to every conversation engine.
func engineOptions(ec config.EngineConfig) []engine.Option {
	opts := []engine.Option{
		engine.WithFlags(textnorm.Flags{
			CaseSensitive: ec.CaseSensitive,
			KeepAccents:   ec.KeepAccents,
		}),
	}
	if ec.MaxSoundsPerMessage > 0 {
		opts = append(opts, engine.WithMaxSounds(ec.MaxSoundsPerMessage))
	}
	if ec.GlobalSoundCooldown > 0 {
		opts = append(opts, engine.WithGlobalSoundCooldown(ec.GlobalSoundCooldown))
	}
	if ec.BackgroundIdleRevert > 0 {
		opts = append(opts, engine.WithBackgroundIdleRevert(ec.BackgroundIdleRevert))
	}
	if ec.Fuzzy.Enabled {
		opts = append(opts, engine.WithFuzzyResolve(ec.Fuzzy.Threshold))
	}
	return opts
}

// initStore builds the cue sheet store from config unless one was injected.
// With a Postgres DSN, sheets live in Postgres and any YAML paths are
// imported on top; otherwise YAML paths fill an in-memory store.
func (a *App) initStore(ctx context.Context) error {
	if a.store == nil {
		if dsn := a.cfg.Sheets.PostgresDSN; dsn != "" {
			pool, err := pgxpool.New(ctx, dsn)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			a.closers = append(a.closers, func() error {
				pool.Close()
				return nil
			})

			pg := cuesheet.NewPostgresStore(pool)
			if err := pg.Migrate(ctx); err != nil {
				return err
			}
			a.store = cuesheet.NewGuardedStore(pg, nil)
			slog.Info("app: cue sheet store ready", "backend", "postgres")
		} else {
			a.store = cuesheet.NewMemStore()
			slog.Info("app: cue sheet store ready", "backend", "memory")
		}
	}

	for _, path := range a.cfg.Sheets.Paths {
		sheet, err := cuesheet.LoadSheetFile(path)
		if err != nil {
			return fmt.Errorf("load sheet %q: %w", path, err)
		}
		stored, err := a.store.Add(ctx, *sheet)
		if err != nil {
			return fmt.Errorf("import sheet %q: %w", path, err)
		}
		slog.Info("app: imported cue sheet",
			"path", path,
			"sheet_id", stored.ID,
			"name", stored.Meta.Name,
		)
	}

	return nil
}

// initServer assembles the HTTP mux and server.
func (a *App) initServer() {
	mux := http.NewServeMux()

	hh := health.New(health.Checker{
		Name: "sheets",
		Check: func(ctx context.Context) error {
			_, err := a.store.List(ctx)
			return err
		},
	})
	hh.Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("GET /v1/stream", NewStreamServer(a.sessions, a.store, a.metrics))

	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Store returns the cue sheet store.
func (a *App) Store() cuesheet.Store { return a.store }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Handler returns the root HTTP handler; exposed for httptest servers.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Run serves HTTP and runs the session janitor until ctx is cancelled, then
// drains the server. It returns ctx's error on a clean shutdown.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("app: listening",
			"addr", a.server.Addr,
			"tls", a.cfg.Server.TLS != nil,
		)
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return a.sessions.RunJanitor(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return a.server.Shutdown(drainCtx)
	})

	return g.Wait()
}

// Shutdown stops all sessions and closes the store resources. It respects
// the context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.sessions.Shutdown()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("app: closer error", "index", i, "error", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
