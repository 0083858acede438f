package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/awslabs/visual-asset-management-system-sub003/history"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type AppConfig struct {
	Address              string
	ReadHeaderTimeout    time.Duration
	ShutdownTimeout      time.Duration
	ViewIdleTTL          time.Duration
	ViewEvictionInterval time.Duration
	Logger               *slog.Logger
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Address:              "127.0.0.1:8080",
		ReadHeaderTimeout:    5 * time.Second,
		ShutdownTimeout:      5 * time.Second,
		ViewIdleTTL:          10 * time.Minute,
		ViewEvictionInterval: time.Minute,
		Logger:               slog.Default(),
	}
}

type App struct {
	store   history.ContentStore
	echo    *echo.Echo
	config  AppConfig
	logger  *slog.Logger
	metrics history.AppMetrics

	mu       sync.Mutex
	listener net.Listener
	errCh    chan error
	started  bool

	// Per-asset views hold pagination tokens and selection state between
	// requests; idle entries are evicted in the background.
	viewMu sync.Mutex
	views  map[string]*viewEntry

	viewEvictCancel context.CancelFunc
	viewEvictDone   chan struct{}
}

type viewEntry struct {
	view       *history.AssetView
	lastAccess time.Time
}

func NewApp(store history.ContentStore, cfg AppConfig) *App {
	cfg = mergeWithDefaultAppConfig(cfg)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := history.AppMetrics(history.NoopAppMetrics{})
	if m := history.NewInMemAppMetrics(); m != nil {
		metrics = m
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(requestLoggerMiddleware(logger, metrics))

	app := &App{
		store:   store,
		echo:    e,
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		errCh:   make(chan error, 1),
		views:   make(map[string]*viewEntry),
	}
	app.registerRoutes()
	return app
}

func mergeWithDefaultAppConfig(cfg AppConfig) AppConfig {
	d := DefaultAppConfig()
	if cfg.Address != "" {
		d.Address = cfg.Address
	}
	if cfg.ReadHeaderTimeout > 0 {
		d.ReadHeaderTimeout = cfg.ReadHeaderTimeout
	}
	if cfg.ShutdownTimeout > 0 {
		d.ShutdownTimeout = cfg.ShutdownTimeout
	}
	if cfg.ViewIdleTTL > 0 {
		d.ViewIdleTTL = cfg.ViewIdleTTL
	}
	if cfg.ViewEvictionInterval > 0 {
		d.ViewEvictionInterval = cfg.ViewEvictionInterval
	}
	if cfg.Logger != nil {
		d.Logger = cfg.Logger
	}
	return d
}

func requestLoggerMiddleware(logger *slog.Logger, metrics history.AppMetrics) echo.MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = history.NoopAppMetrics{}
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			if status == 0 {
				status = http.StatusOK
			}
			latencyMS := time.Since(start).Milliseconds()
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			metrics.RecordRequest(c.Request().Method, path, status, latencyMS)
			attrs := []any{
				"method", c.Request().Method,
				"path", path,
				"status", status,
				"latency_ms", latencyMS,
				"remote_ip", c.RealIP(),
			}

			switch {
			case status >= http.StatusInternalServerError:
				logger.ErrorContext(c.Request().Context(), "http request", attrs...)
			case status >= http.StatusBadRequest:
				logger.WarnContext(c.Request().Context(), "http request", attrs...)
			default:
				logger.InfoContext(c.Request().Context(), "http request", attrs...)
			}
			return nil
		}
	}
}

// viewFor returns the cached view for assetRef, creating one on first use.
func (a *App) viewFor(assetRef string) (*history.AssetView, error) {
	a.viewMu.Lock()
	defer a.viewMu.Unlock()

	if entry, ok := a.views[assetRef]; ok {
		entry.lastAccess = time.Now()
		return entry.view, nil
	}

	view, err := history.NewAssetView(a.store, assetRef, history.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	a.views[assetRef] = &viewEntry{view: view, lastAccess: time.Now()}
	return view, nil
}

func (a *App) evictIdleViews() {
	cutoff := time.Now().Add(-a.config.ViewIdleTTL)

	a.viewMu.Lock()
	defer a.viewMu.Unlock()
	for ref, entry := range a.views {
		if entry.lastAccess.Before(cutoff) {
			delete(a.views, ref)
		}
	}
}

func (a *App) registerRoutes() {
	deps := Dependencies{
		Store:      a.store,
		ViewFor:    a.viewFor,
		Logger:     a.logger,
		AppMetrics: a.metrics,
	}
	Register(a.echo, deps)
}

func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("app already started")
	}

	a.startViewEvictionLoopLocked()

	ln, err := net.Listen("tcp", a.config.Address)
	if err != nil {
		a.stopViewEvictionLoopLocked()
		return err
	}
	a.listener = ln
	a.started = true

	srv := &http.Server{Handler: a.echo, ReadHeaderTimeout: a.config.ReadHeaderTimeout}
	a.echo.Server = srv

	go func() {
		err := a.echo.Server.Serve(ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		a.errCh <- err
	}()

	return nil
}

func (a *App) Address() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener == nil {
		return ""
	}
	addr := a.listener.Addr().String()
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	host = strings.TrimSpace(host)
	if host == "" || host == "::" || host == "0.0.0.0" || host == "[::]" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func (a *App) Wait() error {
	return <-a.errCh
}

func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	started := a.started
	a.started = false
	a.mu.Unlock()

	if !started {
		return nil
	}

	a.mu.Lock()
	a.stopViewEvictionLoopLocked()
	a.mu.Unlock()

	if ctx == nil {
		c, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
		defer cancel()
		ctx = c
	}

	if err := a.echo.Shutdown(ctx); err != nil {
		return err
	}
	return nil
}

func (a *App) startViewEvictionLoopLocked() {
	if a.config.ViewEvictionInterval <= 0 {
		return
	}
	if a.viewEvictCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.viewEvictCancel = cancel
	a.viewEvictDone = done
	interval := a.config.ViewEvictionInterval

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.evictIdleViews()
			}
		}
	}()
}

func (a *App) stopViewEvictionLoopLocked() {
	if a.viewEvictCancel == nil {
		return
	}
	cancel := a.viewEvictCancel
	done := a.viewEvictDone
	a.viewEvictCancel = nil
	a.viewEvictDone = nil
	cancel()
	if done != nil {
		<-done
	}
}
