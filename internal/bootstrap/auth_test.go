package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/astracore/astracore/config"
	"github.com/astracore/astracore/internal/adapters/localauth"
	"github.com/astracore/astracore/internal/adapters/memory"
	redisadapter "github.com/astracore/astracore/internal/adapters/redis"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildSessionCache(t *testing.T) {
	// The cache is built lazily; no connection is made here.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })

	tests := []struct {
		name      string
		store     string
		client    redis.UniversalClient
		wantRedis bool
	}{
		{"redis configured", "redis", client, true},
		{"memory requested", "memory", client, false},
		{"redis unavailable", "redis", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := BuildSessionCache(AuthConfig{
				Auth:        config.AuthConfig{SessionStore: tt.store, ClientKey: "default"},
				RedisClient: tt.client,
				Logger:      discardLogger(),
			})
			if tt.wantRedis {
				assert.IsType(t, &redisadapter.SessionCache{}, cache)
			} else {
				assert.IsType(t, &memory.SessionCache{}, cache)
			}
		})
	}
}

func localAuthConfig(t *testing.T, accounts ...string) config.AuthConfig {
	t.Helper()
	return config.AuthConfig{
		Mode:                config.AuthModeLocal,
		SignInRatePerMinute: 60,
		SignInBurst:         5,
		Local: config.LocalAuthConfig{
			Accounts:   accounts,
			SigningKey: strings.Repeat("k", 32),
			Issuer:     "astracore-test",
		},
	}
}

func TestBuildAuthProvider_Local(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := AuthConfig{
		Auth:   localAuthConfig(t, "owner@astracore.pro:"+string(hash)+":owner-1"),
		Logger: discardLogger(),
	}
	prov, err := BuildAuthProvider(context.Background(), cfg, memory.NewSessionCache())
	require.NoError(t, err)
	require.IsType(t, &localauth.Provider{}, prov)

	sess, err := prov.SignIn(context.Background(), "owner@astracore.pro", "pw")
	require.NoError(t, err)
	assert.Equal(t, "owner-1", sess.Identity.UserID)
}

func TestBuildAuthProvider_Errors(t *testing.T) {
	short := localAuthConfig(t)
	short.Local.SigningKey = "too-short"

	tests := []struct {
		name    string
		auth    config.AuthConfig
		wantErr string
	}{
		{"malformed account", localAuthConfig(t, "owner@astracore.pro"), "local account 0"},
		{"hash is not bcrypt", localAuthConfig(t, "owner@astracore.pro:plaintext"), "not bcrypt"},
		{"short signing key", short, "signing key"},
		{"oauth without discovery", config.AuthConfig{Mode: config.AuthModeOAuth, OAuth: config.OAuthConfig{ClientID: "astracore"}}, "OAUTH_DISCOVERY_URL"},
		{"unsupported mode", config.AuthConfig{Mode: "ldap"}, "unsupported auth mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildAuthProvider(context.Background(), AuthConfig{Auth: tt.auth, Logger: discardLogger()}, memory.NewSessionCache())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := BuildAuthProvider(context.Background(), AuthConfig{Auth: localAuthConfig(t)}, nil)
	assert.ErrorContains(t, err, "session cache is required")
}
