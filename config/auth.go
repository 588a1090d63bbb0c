package config

import (
	"fmt"
	"strings"
	"time"
)

// AuthMode represents the session provider backing the Session Store.
type AuthMode string

const (
	// AuthModeOAuth uses a hosted OAuth2/OIDC provider (password grant).
	AuthModeOAuth AuthMode = "oauth"
	// AuthModeLocal verifies credentials against accounts listed in configuration.
	AuthModeLocal AuthMode = "local"
)

// UnmarshalText implements encoding.TextUnmarshaler for AuthMode.
func (a *AuthMode) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	switch v {
	case "oauth", "local":
		*a = AuthMode(v)
		return nil
	default:
		return fmt.Errorf("invalid AuthMode: %q (valid options: oauth, local)", v)
	}
}

// OAuthConfig contains OAuth/OIDC configuration.
type OAuthConfig struct {
	ClientID      string `env:"CLIENT_ID"      envDefault:"astracore"`
	ClientSecret  string `env:"CLIENT_SECRET"`
	Scope         string `env:"SCOPE"          envDefault:"openid email"`
	DiscoveryURL  string `env:"DISCOVERY_URL"`
	RecoverURL    string `env:"RECOVER_URL"`
	RevocationURL string `env:"REVOCATION_URL"`
}

// LocalAuthConfig controls the config-driven provider used when AUTH_MODE=local.
type LocalAuthConfig struct {
	// Accounts are "email:bcrypt-hash[:unconfirmed][:user-id]" entries separated by ";".
	Accounts   []string      `env:"ACCOUNTS"    envSeparator:";"`
	SigningKey string        `env:"SIGNING_KEY"`
	Issuer     string        `env:"ISSUER"      envDefault:"astracore-local"`
	AccessTTL  time.Duration `env:"ACCESS_TTL"  envDefault:"1h"`
	RefreshTTL time.Duration `env:"REFRESH_TTL" envDefault:"720h"`
}

// AuthConfig groups all authentication-related configuration.
type AuthConfig struct {
	// Mode determines which authentication provider to use.
	Mode AuthMode `env:"AUTH_MODE" envDefault:"local"`

	// OAuth configuration (used when Mode=oauth).
	OAuth OAuthConfig `envPrefix:"OAUTH_"`

	// Local configuration (used when Mode=local).
	Local LocalAuthConfig `envPrefix:"LOCAL_AUTH_"`

	// ResetRedirectURL is where password-reset emails send the user.
	// Defaults to <APP_BASE_URL>/reset-password.
	ResetRedirectURL string `env:"AUTH_RESET_REDIRECT_URL"`

	// SignInRatePerMinute throttles sign-in attempts per email for the local provider.
	SignInRatePerMinute float64 `env:"AUTH_SIGN_IN_RATE_PER_MINUTE" envDefault:"10"`
	SignInBurst         int     `env:"AUTH_SIGN_IN_BURST"           envDefault:"5"`

	// RestoreTimeout bounds session restoration at startup.
	RestoreTimeout time.Duration `env:"AUTH_RESTORE_TIMEOUT" envDefault:"5s"`

	// ClientKey names the persisted session slot (one per server instance or CLI profile).
	ClientKey string `env:"AUTH_CLIENT_KEY" envDefault:"default"`

	// SessionStore selects where the provider session is persisted: redis or memory.
	SessionStore string `env:"AUTH_SESSION_STORE" envDefault:"redis"`
}

// Sanitize fills derived defaults.
func (c *AuthConfig) Sanitize(baseURL string) {
	c.ResetRedirectURL = strings.TrimSpace(c.ResetRedirectURL)
	if c.ResetRedirectURL == "" && baseURL != "" {
		c.ResetRedirectURL = strings.TrimRight(baseURL, "/") + "/reset-password"
	}
	if c.RestoreTimeout <= 0 {
		c.RestoreTimeout = 5 * time.Second
	}
	if c.SignInBurst < 1 {
		c.SignInBurst = 1
	}
	if c.SignInRatePerMinute < 0 {
		c.SignInRatePerMinute = 0
	}
	c.ClientKey = strings.TrimSpace(c.ClientKey)
	if c.ClientKey == "" {
		c.ClientKey = "default"
	}
	c.SessionStore = strings.ToLower(strings.TrimSpace(c.SessionStore))
	if c.SessionStore != "memory" {
		c.SessionStore = "redis"
	}
}

// AuthzConfig controls the Authorization Engine.
type AuthzConfig struct {
	// Strict panics on permission checks without a loaded table. Forced on in dev mode.
	Strict bool `env:"STRICT" envDefault:"false"`

	// PermissionOverrides replace default grants: "PERMISSION=role|role" separated by ";".
	PermissionOverrides []string `env:"PERMISSION_OVERRIDES" envSeparator:";"`

	// ProfileLoadTimeout bounds one profile fetch-or-create.
	ProfileLoadTimeout time.Duration `env:"PROFILE_LOAD_TIMEOUT" envDefault:"10s"`
}

// Sanitize applies guardrails to authorization settings.
func (c *AuthzConfig) Sanitize(isDev bool) {
	if isDev {
		c.Strict = true
	}
	if c.ProfileLoadTimeout <= 0 {
		c.ProfileLoadTimeout = 10 * time.Second
	}
}
