package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/astracore/astracore/config"
	"github.com/astracore/astracore/internal/adapters/authroles"
	"github.com/astracore/astracore/internal/data"
	"github.com/astracore/astracore/internal/observability/metrics"
	"github.com/astracore/astracore/internal/observability/prom"
	"github.com/astracore/astracore/internal/observability/statsd"
	"github.com/astracore/astracore/internal/ports"
	"github.com/astracore/astracore/internal/service"
)

// CoreDeps contains the infrastructure the authorization core is built on.
type CoreDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
	// Provider overrides the configured auth provider (tests, embedding).
	Provider ports.AuthProvider
}

// Core holds the wired Session Store, Authorization Engine and their supporting pieces.
type Core struct {
	Sessions *service.SessionService
	Authz    *service.Authorizer
	Profiles *data.ProfileRepo
	Health   *data.HealthProbe
	Table    authroles.StaticSource

	Metrics    metrics.Sink
	Prometheus *prom.Sink

	statsd *statsd.Client
	logger *slog.Logger
}

// BuildObservability creates the configured metric sinks. Either result may be nil.
func BuildObservability(cfg config.ObservabilityConfig, logger *slog.Logger) (*prom.Sink, *statsd.Client) {
	obsLogger := logger.With("component", "observability")

	var promSink *prom.Sink
	if cfg.Prometheus.Enabled {
		promSink = prom.NewSink(cfg.Prometheus.Namespace, obsLogger)
	}

	var statsdClient *statsd.Client
	if cfg.Metrics.IsEnabled() {
		client, err := statsd.NewClient(statsd.Config{
			Enabled: true,
			Address: cfg.Metrics.StatsdAddress,
			Prefix:  cfg.Metrics.Prefix,
			Logger:  obsLogger,
		})
		if err != nil {
			obsLogger.Error("failed to initialise statsd client", "error", err)
		} else {
			statsdClient = client
		}
	}
	return promSink, statsdClient
}

// BuildCore wires the provider, session service, permission table, profile store and engine.
// It does not restore the persisted session; call Core.Start for that.
func BuildCore(ctx context.Context, deps CoreDeps) (*Core, error) {
	if deps.Config == nil {
		return nil, errors.New("core config is required")
	}
	if deps.DB == nil {
		return nil, errors.New("database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	promSink, statsdClient := BuildObservability(cfg.Observability, logger)
	var sink metrics.Sink
	switch {
	case promSink != nil && statsdClient != nil:
		sink = metrics.NewFanout(promSink, statsdClient)
	case promSink != nil:
		sink = promSink
	case statsdClient != nil:
		sink = statsdClient
	}

	provider := deps.Provider
	if provider == nil {
		authCfg := AuthConfig{Auth: cfg.Auth, RedisClient: deps.RedisClient, Logger: logger}
		var err error
		provider, err = BuildAuthProvider(ctx, authCfg, BuildSessionCache(authCfg))
		if err != nil {
			closeStatsd(statsdClient, logger)
			return nil, err
		}
	}

	table, err := authroles.Load(cfg.Authz.PermissionOverrides)
	if err != nil {
		closeStatsd(statsdClient, logger)
		return nil, fmt.Errorf("load permission table: %w", err)
	}
	if len(cfg.Authz.PermissionOverrides) > 0 {
		logger.Info("permission overrides applied", "count", len(cfg.Authz.PermissionOverrides))
	}

	telemetry := service.Telemetry{Logger: logger, Metrics: sink}
	sessions := service.NewSessionService(service.SessionServiceOptions{
		Provider: provider,
		Config: service.SessionConfig{
			RestoreTimeout:   cfg.Auth.RestoreTimeout,
			ResetRedirectURL: cfg.Auth.ResetRedirectURL,
		},
		Telemetry: telemetry,
	})

	profiles := data.NewProfileRepo(deps.DB)
	authz := service.NewAuthorizer(service.AuthorizerOptions{
		Sessions:    sessions,
		Profiles:    profiles,
		Permissions: table,
		Config: service.AuthorizerConfig{
			LoadTimeout: cfg.Authz.ProfileLoadTimeout,
			Strict:      cfg.Authz.Strict,
		},
		Telemetry: telemetry,
	})

	return &Core{
		Sessions:   sessions,
		Authz:      authz,
		Profiles:   profiles,
		Health:     &data.HealthProbe{DB: deps.DB},
		Table:      table,
		Metrics:    sink,
		Prometheus: promSink,
		statsd:     statsdClient,
		logger:     logger,
	}, nil
}

// Start restores any persisted session. A failed restore is logged and the core starts signed out.
func (c *Core) Start(ctx context.Context) {
	sess, err := c.Sessions.RestoreSession(ctx)
	switch {
	case err != nil:
		c.logger.WarnContext(ctx, "starting without a session", "error", err)
	case sess == nil:
		c.logger.InfoContext(ctx, "starting without a session")
	default:
		c.logger.InfoContext(ctx, "session restored at startup", "user_id", sess.Identity.UserID)
	}
}

// Close detaches the engine, stops provider watching and flushes metrics.
func (c *Core) Close() {
	c.Authz.Close()
	c.Sessions.Close()
	closeStatsd(c.statsd, c.logger)
}

func closeStatsd(client *statsd.Client, logger *slog.Logger) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		logger.Warn("close statsd client", "error", err)
	}
}
