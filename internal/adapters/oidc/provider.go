package oidc

// Package oidc provides a hosted-provider AuthProvider: OAuth2 resource-owner password grant,
// refresh-token rotation and id_token verification through OIDC discovery.

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/astracore/astracore/internal/adapters/sessionwatch"
	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/ports"
)

// Provider implements ports.AuthProvider and ports.SessionWatcher against a hosted identity service.
type Provider struct {
	config        *oauth2.Config
	httpClient    *http.Client
	recoverURL    string
	revocationURL string
	cache         ports.SessionCache
	logger        *slog.Logger
	now           func() time.Time

	oidcProvider *gooidc.Provider
	verifier     *gooidc.IDTokenVerifier

	tracker *sessionwatch.Tracker
}

var (
	_ ports.AuthProvider   = (*Provider)(nil)
	_ ports.SessionWatcher = (*Provider)(nil)
)

// ProviderConfig holds configuration for the hosted provider.
type ProviderConfig struct {
	ClientID     string
	ClientSecret string
	Scope        string
	DiscoveryURL string
	// RecoverURL receives password-reset requests as JSON {"email", "redirect_to"}.
	RecoverURL string
	// RevocationURL overrides the discovered revocation_endpoint.
	RevocationURL string
	HTTPClient    *http.Client // Optional, defaults to a 30s-timeout client
	Cache         ports.SessionCache
	Logger        *slog.Logger
	Now           func() time.Time
}

// DiscoveryDocument represents the subset of the OIDC discovery document this provider reads.
type DiscoveryDocument struct {
	Issuer             string `json:"issuer"`
	TokenEndpoint      string `json:"token_endpoint"`
	UserinfoEndpoint   string `json:"userinfo_endpoint"`
	JwksURI            string `json:"jwks_uri"`
	RevocationEndpoint string `json:"revocation_endpoint,omitempty"`
}

// NewProvider performs discovery and returns a ready provider.
func NewProvider(ctx context.Context, config ProviderConfig) (*Provider, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}
	if config.Cache == nil {
		return nil, errors.New("session cache is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	p := &Provider{
		httpClient:    httpClient,
		recoverURL:    config.RecoverURL,
		revocationURL: config.RevocationURL,
		cache:         config.Cache,
		logger:        logger.With("component", "oidc"),
		now:           now,
	}
	p.tracker = sessionwatch.New(sessionwatch.Options{
		Cache:          config.Cache,
		Refresh:        p.refresh,
		RefreshTimeout: httpClient.Timeout,
		Logger:         p.logger,
		Now:            now,
	})

	ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}
	p.oidcProvider = op
	p.verifier = op.Verifier(&gooidc.Config{ClientID: config.ClientID, Now: now})

	if p.revocationURL == "" {
		var doc DiscoveryDocument
		if claimsErr := op.Claims(&doc); claimsErr == nil {
			p.revocationURL = doc.RevocationEndpoint
		}
	}

	scope := config.Scope
	if scope == "" {
		scope = "openid email"
	}
	// A fixed auth style keeps a rejected sign-in to exactly one token request.
	endpoint := op.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInHeader
	if config.ClientSecret == "" {
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	p.config = &oauth2.Config{
		ClientID:     config.ClientID,
		ClientSecret: config.ClientSecret,
		Scopes:       strings.Fields(scope),
		Endpoint:     endpoint,
	}
	return p, nil
}

// SignIn exchanges credentials for tokens with the password grant. It never retries.
func (p *Provider) SignIn(ctx context.Context, email, password string) (domainauth.Session, error) {
	ctx = p.clientContext(ctx)
	tok, err := p.config.PasswordCredentialsToken(ctx, domainauth.NormalizeEmail(email), password)
	if err != nil {
		return domainauth.Session{}, mapTokenError(err)
	}

	sess, err := p.sessionFromToken(ctx, tok, domainauth.Identity{})
	if err != nil {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrUnknown, err)
	}
	if err := p.tracker.Commit(ctx, sess); err != nil {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrUnknown, err)
	}
	return sess, nil
}

// Restore returns the persisted session, refreshing it first when it has expired.
func (p *Provider) Restore(ctx context.Context) (domainauth.Session, error) {
	sess, err := p.cache.Load(ctx)
	if err != nil {
		return domainauth.Session{}, err
	}
	if !sess.Expired(p.now()) {
		p.tracker.Track(sess)
		return sess, nil
	}
	if !sess.CanRefresh() {
		return domainauth.Session{}, errors.Join(domainauth.ErrNoSession, p.cache.Clear(ctx))
	}

	next, err := p.refresh(ctx, sess)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			// The provider rejected the refresh token; the stored session is dead.
			p.logger.InfoContext(ctx, "stored session rejected by provider", "error", err)
			return domainauth.Session{}, errors.Join(domainauth.ErrNoSession, p.cache.Clear(ctx))
		}
		return domainauth.Session{}, err
	}
	if err := p.tracker.Commit(ctx, next); err != nil {
		return domainauth.Session{}, err
	}
	return next, nil
}

// SignOut revokes the session's tokens when the provider supports it and clears the cache.
// The cache is cleared even when revocation fails.
func (p *Provider) SignOut(ctx context.Context, sess domainauth.Session) error {
	clearErr := p.tracker.Clear(ctx)
	var revokeErr error
	if p.revocationURL != "" {
		token, hint := sess.RefreshToken, "refresh_token"
		if token == "" {
			token, hint = sess.AccessToken, "access_token"
		}
		if token != "" {
			revokeErr = p.revoke(ctx, token, hint)
		}
	}
	return errors.Join(revokeErr, clearErr)
}

// ResetPassword asks the provider to email a reset link.
func (p *Provider) ResetPassword(ctx context.Context, in ports.ResetPasswordInput) error {
	if p.recoverURL == "" {
		return errors.New("password reset endpoint not configured")
	}
	email := domainauth.NormalizeEmail(in.Email)
	if email == "" {
		return errors.New("email is required")
	}
	body, err := json.Marshal(map[string]string{"email": email, "redirect_to": in.RedirectURL})
	if err != nil {
		return fmt.Errorf("marshal reset request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.recoverURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reset request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send reset request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return domainauth.NewAuthError(domainauth.AuthErrRateLimited, fmt.Errorf("reset request: %s", resp.Status))
	case resp.StatusCode >= 300:
		return fmt.Errorf("reset request: unexpected status %s", resp.Status)
	}
	return nil
}

// Watch registers fn for refresh and expiry events of the tracked session.
func (p *Provider) Watch(fn func(ports.SessionEvent)) func() {
	return p.tracker.Watch(fn)
}

func (p *Provider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

func (p *Provider) refresh(ctx context.Context, sess domainauth.Session) (domainauth.Session, error) {
	ctx = p.clientContext(ctx)
	src := p.config.TokenSource(ctx, &oauth2.Token{
		RefreshToken: sess.RefreshToken,
		Expiry:       p.now().Add(-time.Second),
	})
	tok, err := src.Token()
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("refresh session: %w", err)
	}
	next, err := p.sessionFromToken(ctx, tok, sess.Identity)
	if err != nil {
		return domainauth.Session{}, err
	}
	if next.RefreshToken == "" {
		next.RefreshToken = sess.RefreshToken
	}
	return next, nil
}

// sessionFromToken builds a Session. The identity comes from the verified id_token, then
// userinfo, then prev (refresh responses may omit the id_token).
func (p *Provider) sessionFromToken(
	ctx context.Context,
	tok *oauth2.Token,
	prev domainauth.Identity,
) (domainauth.Session, error) {
	id := prev
	if rawID, ok := tok.Extra("id_token").(string); ok && rawID != "" {
		idTok, err := p.verifier.Verify(ctx, rawID)
		if err != nil {
			return domainauth.Session{}, fmt.Errorf("verify id_token: %w", err)
		}
		var claims idTokenClaims
		if claimsErr := idTok.Claims(&claims); claimsErr != nil {
			return domainauth.Session{}, fmt.Errorf("parse id_token claims: %w", claimsErr)
		}
		id = domainauth.Identity{UserID: idTok.Subject, Email: domainauth.NormalizeEmail(claims.Email)}
	}
	if id.UserID == "" || id.Email == "" {
		filled, err := p.fillFromUserInfo(ctx, tok, id)
		if err != nil {
			return domainauth.Session{}, err
		}
		id = filled
	}
	if id.IsZero() {
		return domainauth.Session{}, errors.New("provider returned no subject")
	}

	issued := p.now()
	expires := tok.Expiry
	if expires.IsZero() {
		expires = issued.Add(time.Hour)
	}
	return domainauth.Session{
		Identity:     id,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		IssuedAt:     issued,
		ExpiresAt:    expires,
	}, nil
}

type idTokenClaims struct {
	Email string `json:"email"`
}

func (p *Provider) fillFromUserInfo(
	ctx context.Context,
	tok *oauth2.Token,
	id domainauth.Identity,
) (domainauth.Identity, error) {
	ui, err := p.oidcProvider.UserInfo(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		return id, fmt.Errorf("fetch user info: %w", err)
	}
	if id.UserID == "" {
		id.UserID = ui.Subject
	}
	if id.Email == "" {
		id.Email = domainauth.NormalizeEmail(ui.Email)
	}
	return id, nil
}

func (p *Provider) revoke(ctx context.Context, token, hint string) error {
	form := url.Values{"token": {token}, "token_type_hint": {hint}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.revocationURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build revoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(url.QueryEscape(p.config.ClientID), url.QueryEscape(p.config.ClientSecret))
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 300 {
		return fmt.Errorf("revoke token: unexpected status %s", resp.Status)
	}
	return nil
}
