package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/astracore/astracore/config"
	"github.com/astracore/astracore/internal/adapters/localauth"
	"github.com/astracore/astracore/internal/adapters/memory"
	"github.com/astracore/astracore/internal/adapters/oidc"
	redisadapter "github.com/astracore/astracore/internal/adapters/redis"
	"github.com/astracore/astracore/internal/ports"
)

// AuthConfig contains configuration for the session provider.
type AuthConfig struct {
	Auth        config.AuthConfig
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// BuildSessionCache returns the store the provider persists its session in.
// Redis is used when configured and reachable; otherwise the session lives only in memory.
//
//nolint:ireturn // the cache implementation is chosen at runtime.
func BuildSessionCache(cfg AuthConfig) ports.SessionCache {
	if cfg.Auth.SessionStore == "memory" || cfg.RedisClient == nil {
		if cfg.Logger != nil {
			cfg.Logger.Warn("session persistence disabled, sessions will not survive restarts",
				"session_store", cfg.Auth.SessionStore,
				"redis_configured", cfg.RedisClient != nil)
		}
		return memory.NewSessionCache()
	}
	return redisadapter.NewSessionCache(redisadapter.SessionCacheOptions{
		Client:       cfg.RedisClient,
		ClientKey:    cfg.Auth.ClientKey,
		RefreshGrace: 24 * time.Hour,
	})
}

// BuildAuthProvider creates the provider for the configured auth mode.
//
//nolint:ireturn // the provider implementation is chosen at runtime.
func BuildAuthProvider(ctx context.Context, cfg AuthConfig, cache ports.SessionCache) (ports.AuthProvider, error) {
	if cache == nil {
		return nil, errors.New("session cache is required")
	}
	switch cfg.Auth.Mode {
	case config.AuthModeLocal:
		return buildLocalProvider(cfg, cache)
	case config.AuthModeOAuth:
		return buildOAuthProvider(ctx, cfg, cache)
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Auth.Mode)
	}
}

func buildLocalProvider(cfg AuthConfig, cache ports.SessionCache) (*localauth.Provider, error) {
	local := cfg.Auth.Local
	accounts := make([]localauth.Account, 0, len(local.Accounts))
	for i, raw := range local.Accounts {
		acct, err := localauth.ParseAccount(raw)
		if err != nil {
			return nil, fmt.Errorf("local account %d: %w", i, err)
		}
		accounts = append(accounts, acct)
	}
	if len(accounts) == 0 && cfg.Logger != nil {
		cfg.Logger.Warn("local auth has no accounts configured, every sign-in will fail")
	}

	prov, err := localauth.NewProvider(localauth.Config{
		Accounts:    accounts,
		SigningKey:  []byte(local.SigningKey),
		Issuer:      local.Issuer,
		AccessTTL:   local.AccessTTL,
		RefreshTTL:  local.RefreshTTL,
		SignInRate:  rate.Limit(cfg.Auth.SignInRatePerMinute / 60),
		SignInBurst: cfg.Auth.SignInBurst,
		Cache:       cache,
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create local auth provider: %w", err)
	}
	return prov, nil
}

func buildOAuthProvider(ctx context.Context, cfg AuthConfig, cache ports.SessionCache) (*oidc.Provider, error) {
	oauth := cfg.Auth.OAuth
	if oauth.DiscoveryURL == "" || oauth.ClientID == "" {
		return nil, fmt.Errorf("oauth mode requires OAUTH_DISCOVERY_URL and OAUTH_CLIENT_ID (discovery_url_empty=%t client_id_empty=%t)",
			oauth.DiscoveryURL == "", oauth.ClientID == "")
	}

	prov, err := oidc.NewProvider(ctx, oidc.ProviderConfig{
		ClientID:      oauth.ClientID,
		ClientSecret:  oauth.ClientSecret,
		Scope:         oauth.Scope,
		DiscoveryURL:  oauth.DiscoveryURL,
		RecoverURL:    oauth.RecoverURL,
		RevocationURL: oauth.RevocationURL,
		Cache:         cache,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	return prov, nil
}
