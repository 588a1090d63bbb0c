package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/astracore/astracore/config"
	httpx "github.com/astracore/astracore/internal/http"
	"github.com/astracore/astracore/internal/observability/prom"
)

// HTTPServerConfig contains configuration for HTTP server.
type HTTPServerConfig struct {
	HTTP   config.HTTPConfig
	Core   *Core
	Logger *slog.Logger
}

// BuildHTTPHandler assembles the router and middleware chain.
func BuildHTTPHandler(cfg HTTPServerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var httpMetrics *prom.HTTPMetrics
	if cfg.Core.Prometheus != nil {
		httpMetrics = prom.NewHTTPMetrics(cfg.Core.Prometheus)
	}

	services := httpx.RouterServices{
		Sessions:     cfg.Core.Sessions,
		Authz:        cfg.Core.Authz,
		Metrics:      cfg.Core.Metrics,
		Prometheus:   cfg.Core.Prometheus,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Logger:       logger,
	}
	if cfg.Core.Health != nil {
		services.Health = cfg.Core.Health
	}
	router := httpx.NewRouter(services)

	// Order: Recover -> RequestID -> Logging -> Instrument -> Router
	h := router
	if httpMetrics != nil {
		h = httpMetrics.Instrument(h)
	}
	h = httpx.Logging(logger)(h)
	h = httpx.RequestID(h)
	h = httpx.Recover(logger)(h)
	return h
}

// RunHTTPServer serves until ctx is canceled, then shuts down gracefully.
func RunHTTPServer(ctx context.Context, cfg HTTPServerConfig) error {
	if cfg.Core == nil {
		return errors.New("http server requires the core")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	addr := cfg.HTTP.Addr
	// Guard against empty addr to avoid listening on Go default
	if addr == "" {
		addr = "127.0.0.1:8080"
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           BuildHTTPHandler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP server")

		timeout := cfg.HTTP.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})
	return g.Wait()
}
