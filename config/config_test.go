package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestAppConfig_ParseAuthEnv(t *testing.T) {
	t.Setenv("AUTH_MODE", "OAuth")
	t.Setenv("OAUTH_CLIENT_ID", "app-client")
	t.Setenv("OAUTH_CLIENT_SECRET", "super-secret")
	t.Setenv("OAUTH_DISCOVERY_URL", "https://login.example.com/.well-known/openid-configuration")
	t.Setenv("OAUTH_RECOVER_URL", "https://login.example.com/recover")
	t.Setenv("LOCAL_AUTH_ACCOUNTS", "a@example.com:$2a$10$x;b@example.com:$2a$10$y:unconfirmed")
	t.Setenv("AUTH_RESTORE_TIMEOUT", "3s")
	t.Setenv("AUTH_CLIENT_KEY", "cli")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	expected := AuthConfig{
		Mode: AuthModeOAuth,
		OAuth: OAuthConfig{
			ClientID:     "app-client",
			ClientSecret: "super-secret",
			Scope:        "openid email",
			DiscoveryURL: "https://login.example.com/.well-known/openid-configuration",
			RecoverURL:   "https://login.example.com/recover",
		},
		Local: LocalAuthConfig{
			Accounts:   []string{"a@example.com:$2a$10$x", "b@example.com:$2a$10$y:unconfirmed"},
			Issuer:     "astracore-local",
			AccessTTL:  time.Hour,
			RefreshTTL: 720 * time.Hour,
		},
		SignInRatePerMinute: 10,
		SignInBurst:         5,
		RestoreTimeout:      3 * time.Second,
		ClientKey:           "cli",
		SessionStore:        "redis",
	}

	if !reflect.DeepEqual(cfg.Auth, expected) {
		t.Fatalf("unexpected auth configuration:\nexpected: %#v\ngot:      %#v", expected, cfg.Auth)
	}
}

func TestAuthMode_RejectsUnknown(t *testing.T) {
	t.Setenv("AUTH_MODE", "mock")

	var cfg AppConfig
	if err := env.Parse(&cfg); err == nil {
		t.Fatalf("expected invalid auth mode to fail parsing")
	}
}

func TestAppConfig_Sanitize(t *testing.T) {
	t.Setenv("NODE_ENV", "")
	cfg := AppConfig{
		HTTP: HTTPConfig{BaseURL: " https://app.example.com/ "},
		Auth: AuthConfig{SignInBurst: 0, SessionStore: " Memory ", ClientKey: " "},
	}

	cfg.Sanitize()

	if cfg.HTTP.BaseURL != "https://app.example.com" {
		t.Fatalf("expected base URL to be trimmed, got %q", cfg.HTTP.BaseURL)
	}
	if cfg.Auth.ResetRedirectURL != "https://app.example.com/reset-password" {
		t.Fatalf("unexpected reset redirect %q", cfg.Auth.ResetRedirectURL)
	}
	if cfg.Auth.RestoreTimeout != 5*time.Second {
		t.Fatalf("expected restore timeout default, got %s", cfg.Auth.RestoreTimeout)
	}
	if cfg.Auth.SignInBurst != 1 {
		t.Fatalf("expected burst clamped to 1, got %d", cfg.Auth.SignInBurst)
	}
	if cfg.Auth.SessionStore != "memory" {
		t.Fatalf("expected memory session store, got %q", cfg.Auth.SessionStore)
	}
	if cfg.Auth.ClientKey != "default" {
		t.Fatalf("expected default client key, got %q", cfg.Auth.ClientKey)
	}
	if cfg.Authz.Strict {
		t.Fatalf("strict mode should stay off outside dev")
	}
	if cfg.Authz.ProfileLoadTimeout != 10*time.Second {
		t.Fatalf("expected profile load timeout default, got %s", cfg.Authz.ProfileLoadTimeout)
	}
	if cfg.Observability.Prometheus.Namespace != "astracore" {
		t.Fatalf("expected default namespace, got %q", cfg.Observability.Prometheus.Namespace)
	}
}

func TestAppConfig_DevModeForcesStrict(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	var cfg AppConfig

	cfg.Sanitize()

	if !cfg.IsDev {
		t.Fatalf("expected NODE_ENV=development to enable dev mode")
	}
	if !cfg.Authz.Strict {
		t.Fatalf("expected strict authorization in dev mode")
	}
}

func TestAuthzConfig_ParseOverrides(t *testing.T) {
	t.Setenv("AUTHZ_PERMISSION_OVERRIDES", "EDIT_FLEET=owner|site_manager;EXPORT_DATA=")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}

	want := []string{"EDIT_FLEET=owner|site_manager", "EXPORT_DATA="}
	if !reflect.DeepEqual(cfg.Authz.PermissionOverrides, want) {
		t.Fatalf("unexpected overrides: %#v", cfg.Authz.PermissionOverrides)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " ",
	}

	cfg.Sanitize()

	if cfg.Enabled {
		t.Fatalf("expected enabled to be false when address is empty")
	}

	cfg = ObservabilityMetricsConfig{
		Enabled:       true,
		StatsdAddress: " statsd:1234 ",
	}

	cfg.Sanitize()

	if !cfg.IsEnabled() {
		t.Fatalf("expected metrics to remain enabled")
	}
	if cfg.StatsdAddress != "statsd:1234" {
		t.Fatalf("expected address to be trimmed, got %q", cfg.StatsdAddress)
	}
	if cfg.Prefix != "astracore" {
		t.Fatalf("expected default prefix, got %q", cfg.Prefix)
	}
}
