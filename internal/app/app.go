// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initAuth     — Token Cache (UAA client-credentials exchange)
//  2. initRegistry — AI Core client + Deployment Registry
//  3. initServices — Prometheus metrics, async usage logger
//  4. initGateway  — Proxy Engine + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/aicore-gateway/internal/aicore"
	"github.com/nulpointcorp/aicore-gateway/internal/auth"
	"github.com/nulpointcorp/aicore-gateway/internal/config"
	"github.com/nulpointcorp/aicore-gateway/internal/logger"
	"github.com/nulpointcorp/aicore-gateway/internal/metrics"
	"github.com/nulpointcorp/aicore-gateway/internal/proxy"
	"github.com/nulpointcorp/aicore-gateway/internal/registry"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	tokens    *auth.Cache
	aicore    *aicore.Client
	registry  *registry.Registry
	prom      *metrics.Registry
	reqLogger *logger.Logger

	mgmt *proxy.ManagementRoutes
	gw   *proxy.Gateway
}

// New initialises all subsystems and returns a ready-to-run App.
// All resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"auth", a.initAuth},
		{"registry", a.initRegistry},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server, the Token Cache's background refresh loop,
// and the Deployment Registry's refresh loop, and blocks until ctx is
// cancelled or any of them fails. The Registry's initial synchronous
// refresh runs inside this call — a failure there is fatal, matching the
// fact that the gateway cannot resolve any model until at least one
// refresh has succeeded.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting gateway",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Int("models", len(a.cfg.Models)),
		slog.Int("refresh_interval_secs", a.cfg.RefreshIntervalSecs),
	)

	g, gctx := errgroup.WithContext(ctx)

	// StartWithRoutes only returns on a listener error, so it runs outside the
	// group; Run returns on cancellation without waiting for it.
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.gw.StartWithRoutes(addr, a.mgmt)
	}()

	g.Go(func() error {
		select {
		case err := <-serveErr:
			return err
		case <-gctx.Done():
			return nil
		}
	})

	g.Go(func() error {
		a.tokens.RunBackgroundRefresh(gctx)
		return nil
	})

	g.Go(func() error {
		return a.registry.RunRefreshLoop(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times, as long as the calls do not overlap.
func (a *App) Close() {
	if a.reqLogger != nil {
		if err := a.reqLogger.Close(); err != nil {
			a.log.Error("logger close error", slog.String("error", err.Error()))
		}
		a.reqLogger = nil
	}
}

// refreshInterval converts the configured seconds into a time.Duration,
// clamped to a sane minimum so a misconfigured value of 0 doesn't spin the
// Registry's refresh loop.
func refreshInterval(secs int) time.Duration {
	if secs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(secs) * time.Second
}
