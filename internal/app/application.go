// Package app wires the coordination core, its store and its transports.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"
	"livesession/internal/api"
	"livesession/internal/clock"
	"livesession/internal/config"
	"livesession/internal/database"
	"livesession/internal/fanout"
	"livesession/internal/lifecycle"
	"livesession/internal/matchmaking"
	"livesession/internal/presence"
	"livesession/internal/websocket"
	pkgdatabase "livesession/pkg/database"
	"livesession/pkg/types"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	dbManager  *database.Manager
	sessions   *lifecycle.Manager
	registry   *websocket.Registry
	dispatcher *fanout.Dispatcher
	presence   *presence.Tracker
	matchmaker *matchmaking.Engine
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
	stopped  bool
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry → Fan-out → Lifecycle → Presence → Matchmaking → Transports
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// STEP 1: Initialize database manager (foundation layer); migrations run inside
	if dir := filepath.Dir(cfg.Database.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  cfg.Database.MigrationsPath,
	}
	dbManager, err := database.NewManager(dbConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 2: Registry doubles as the fan-out recipient directory
	registry := websocket.NewRegistry()
	realClock := clock.Real()
	dispatcher := fanout.NewDispatcher(registry, fanout.Config{
		Shards:    cfg.Fanout.Shards,
		QueueSize: cfg.Fanout.QueueSize,
	}, realClock)

	// STEP 3: Lifecycle manager restores live sessions and their countdowns
	sessions := lifecycle.NewManager(dbManager, dispatcher, lifecycle.Options{
		DefaultGracePeriod: cfg.Lifecycle.DefaultGracePeriod,
		Clock:              realClock,
	})
	if err := sessions.LoadSessions(context.Background()); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to load live sessions: %w", err)
	}

	// STEP 4: Presence and matchmaking publish through the same dispatcher
	tracker := presence.NewTracker(dispatcher, realClock, cfg.Presence.HeartbeatTimeout)
	matchmaker := matchmaking.NewEngine(sessions, dbManager, dbManager, dispatcher, realClock)

	wireSessionHooks(sessions, matchmaker, tracker, registry)

	// STEP 5: Transports
	wsHandler := websocket.NewHandler(registry, sessions, tracker, websocket.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		PongWait:     cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.BufferSize,
	})

	apiServer := api.NewServer(api.Dependencies{
		Sessions:    sessions,
		Presence:    tracker,
		Matchmaker:  matchmaker,
		Store:       dbManager,
		Registry:    registry,
		Fanout:      dispatcher,
		RateLimiter: api.NewRateLimiter(cfg.RateLimit.RequestsPerMinute, realClock),
		WebSocket:   wsHandler.HandleWebSocket,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		dbManager:  dbManager,
		sessions:   sessions,
		registry:   registry,
		dispatcher: dispatcher,
		presence:   tracker,
		matchmaker: matchmaker,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// wireSessionHooks releases per-session state when a session hard-locks or is deleted
// FUNCTIONAL DISCOVERY: A paused session that hard-locks keeps its pools so
// students can resume matching when the teacher resumes
func wireSessionHooks(sessions *lifecycle.Manager, matchmaker *matchmaking.Engine, tracker *presence.Tracker, registry *websocket.Registry) {
	sessions.OnHardLock(func(session *types.Session) {
		if session.Status != types.StatusEnded {
			slog.Info("Grace period elapsed", "session_id", session.ID, "status", session.Status)
			return
		}
		matchmaker.CloseSession(session.ID)
		tracker.RemoveSession(session.ID)
		slog.Info("Ended session hard-locked", "session_id", session.ID)
	})

	sessions.OnDelete(func(sessionID string) {
		matchmaker.CloseSession(sessionID)
		tracker.RemoveSession(sessionID)
		for _, conn := range registry.GetSessionConnections(sessionID) {
			_ = conn.Close()
		}
	})
}

// Start begins application execution
// Startup coordination ensures all components ready before serving:
// the dispatcher starts first, then the listener is bound synchronously
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	// STEP 1: Start fan-out workers (background delivery)
	if err := app.dispatcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start dispatcher: %w", err)
	}

	// STEP 2: Bind before returning so callers can connect immediately
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.dispatcher.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener
	app.serveErr = make(chan error, 1)

	go func() {
		err := app.httpServer.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
			return
		}
		app.serveErr <- nil
	}()

	slog.Info("Live session service started", "addr", listener.Addr().String())
	return nil
}

// Run starts the application and blocks until ctx is cancelled or the server fails
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return <-app.serveErr
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.config.HTTP.ShutdownTimeout)
		defer cancel()
		return app.Stop(shutdownCtx)
	})
	return g.Wait()
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Fan-out → Database
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	if app.stopped {
		app.mu.Unlock()
		return nil
	}
	app.stopped = true
	app.mu.Unlock()

	slog.Info("Shutting down live session service")

	var errs []error

	// STEP 1: Stop accepting new connections and close open sockets
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}
	for _, conn := range app.registry.AllConnections() {
		_ = conn.Close()
	}

	// STEP 2: Stop event delivery
	if err := app.dispatcher.Stop(); err != nil && !errors.Is(err, fanout.ErrDispatcherNotRunning) {
		errs = append(errs, fmt.Errorf("dispatcher shutdown: %w", err))
	}

	// STEP 3: Close database connections
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	slog.Info("Live session service shutdown complete")
	return errors.Join(errs...)
}

// GetAddr returns the bound address once started, otherwise the configured one
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler exposes the HTTP handler for in-process tests
func (app *Application) Handler() http.Handler {
	return app.apiServer
}
