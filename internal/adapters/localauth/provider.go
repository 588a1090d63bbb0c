package localauth

// Package localauth provides a config-driven AuthProvider: bcrypt-checked accounts,
// HS256 session tokens and per-email sign-in throttling.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/astracore/astracore/internal/adapters/sessionwatch"
	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/ports"
)

// Config controls the local provider behavior.
type Config struct {
	Accounts   []Account
	SigningKey []byte
	Issuer     string
	AccessTTL  time.Duration // default 1h when zero
	RefreshTTL time.Duration // default 30 days when zero; negative disables refresh

	// SignInRate and SignInBurst throttle attempts per email. Zero rate disables throttling.
	SignInRate  rate.Limit
	SignInBurst int

	Cache  ports.SessionCache
	Logger *slog.Logger
	Now    func() time.Time
}

// ResetRequest records a password reset the provider would have emailed.
type ResetRequest struct {
	Email       string
	RedirectURL string
	At          time.Time
}

// Provider implements ports.AuthProvider and ports.SessionWatcher without an external service.
type Provider struct {
	accounts   map[string]Account
	signer     tokenSigner
	accessTTL  time.Duration
	refreshTTL time.Duration
	cache      ports.SessionCache
	logger     *slog.Logger
	now        func() time.Time

	limitRate  rate.Limit
	limitBurst int

	tracker *sessionwatch.Tracker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	revoked  map[string]struct{}
	resets   []ResetRequest
}

var (
	_ ports.AuthProvider   = (*Provider)(nil)
	_ ports.SessionWatcher = (*Provider)(nil)
)

// dummyHash keeps unknown-email attempts as slow as wrong-password ones.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("astracore-dummy"), bcrypt.DefaultCost)

// NewProvider constructs a local provider from Config.
func NewProvider(cfg Config) (*Provider, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("local auth: signing key must be at least 32 bytes")
	}
	if cfg.Cache == nil {
		return nil, errors.New("local auth: session cache is required")
	}
	accounts := make(map[string]Account, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		a.Email = domainauth.NormalizeEmail(a.Email)
		if err := a.validate(); err != nil {
			return nil, err
		}
		if _, dup := accounts[a.Email]; dup {
			return nil, fmt.Errorf("local auth: duplicate account %s", a.Email)
		}
		accounts[a.Email] = a
	}

	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	refreshTTL := cfg.RefreshTTL
	if refreshTTL == 0 {
		refreshTTL = 30 * 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	issuer := cfg.Issuer
	if issuer == "" {
		issuer = "astracore-local"
	}
	burst := cfg.SignInBurst
	if burst <= 0 {
		burst = 5
	}

	p := &Provider{
		accounts:   accounts,
		signer:     tokenSigner{key: cfg.SigningKey, issuer: issuer, now: now},
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		cache:      cfg.Cache,
		logger:     logger.With("component", "localauth"),
		now:        now,
		limitRate:  cfg.SignInRate,
		limitBurst: burst,
		limiters:   make(map[string]*rate.Limiter),
		revoked:    make(map[string]struct{}),
	}
	p.tracker = sessionwatch.New(sessionwatch.Options{
		Cache:   cfg.Cache,
		Refresh: p.refresh,
		Logger:  p.logger,
		Now:     now,
	})
	return p, nil
}

// SignIn checks the password against the account's bcrypt hash and issues a session.
func (p *Provider) SignIn(ctx context.Context, email, password string) (domainauth.Session, error) {
	email = domainauth.NormalizeEmail(email)
	if !p.allow(email) {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrRateLimited, nil)
	}

	acct, ok := p.accounts[email]
	hash := dummyHash
	if ok {
		hash = []byte(acct.PasswordHash)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil || !ok {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrInvalidCredentials, nil)
	}
	if !acct.Confirmed {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrEmailUnconfirmed, nil)
	}

	sess, err := p.issue(acct.identity())
	if err != nil {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrUnknown, err)
	}
	if err := p.tracker.Commit(ctx, sess); err != nil {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrUnknown, err)
	}
	return sess, nil
}

// Restore loads the persisted session, refreshing it when the access token has expired.
func (p *Provider) Restore(ctx context.Context) (domainauth.Session, error) {
	sess, err := p.cache.Load(ctx)
	if err != nil {
		return domainauth.Session{}, err
	}

	_, verr := p.signer.parse(sess.AccessToken, tokenTypeAccess)
	switch {
	case verr == nil:
		p.tracker.Track(sess)
		return sess, nil
	case isExpired(verr) && sess.CanRefresh():
		refreshed, rerr := p.refresh(ctx, sess)
		if rerr != nil {
			p.logger.InfoContext(ctx, "stored session could not be refreshed", "error", rerr)
			return domainauth.Session{}, errors.Join(domainauth.ErrNoSession, p.cache.Clear(ctx))
		}
		if err := p.tracker.Commit(ctx, refreshed); err != nil {
			return domainauth.Session{}, err
		}
		return refreshed, nil
	default:
		p.logger.InfoContext(ctx, "discarding stored session", "error", verr)
		return domainauth.Session{}, errors.Join(domainauth.ErrNoSession, p.cache.Clear(ctx))
	}
}

// SignOut revokes the refresh token and removes the persisted session.
func (p *Provider) SignOut(ctx context.Context, sess domainauth.Session) error {
	if sess.CanRefresh() {
		if claims, err := p.signer.parse(sess.RefreshToken, tokenTypeRefresh); err == nil || isExpired(err) {
			p.mu.Lock()
			p.revoked[claims.ID] = struct{}{}
			p.mu.Unlock()
		}
	}
	return p.tracker.Clear(ctx)
}

// ResetPassword records the request for known, confirmed accounts. Unknown emails succeed
// silently so callers cannot probe which accounts exist.
func (p *Provider) ResetPassword(ctx context.Context, in ports.ResetPasswordInput) error {
	email := domainauth.NormalizeEmail(in.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if !p.allow(email) {
		return domainauth.NewAuthError(domainauth.AuthErrRateLimited, nil)
	}
	if _, ok := p.accounts[email]; !ok {
		p.logger.InfoContext(ctx, "password reset for unknown account ignored")
		return nil
	}
	p.mu.Lock()
	p.resets = append(p.resets, ResetRequest{Email: email, RedirectURL: in.RedirectURL, At: p.now()})
	p.mu.Unlock()
	p.logger.InfoContext(ctx, "password reset requested", "email", email, "redirect_url", in.RedirectURL)
	return nil
}

// ResetRequests returns the recorded reset requests.
func (p *Provider) ResetRequests() []ResetRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ResetRequest(nil), p.resets...)
}

// Watch registers fn for refresh and expiry events of the tracked session.
func (p *Provider) Watch(fn func(ports.SessionEvent)) func() {
	return p.tracker.Watch(fn)
}

func (p *Provider) issue(id domainauth.Identity) (domainauth.Session, error) {
	issued := p.now()
	access, err := p.signer.sign(tokenTypeAccess, id.UserID, id.Email, issued, p.accessTTL)
	if err != nil {
		return domainauth.Session{}, err
	}
	sess := domainauth.Session{
		Identity:    id,
		AccessToken: access,
		IssuedAt:    issued,
		ExpiresAt:   issued.Add(p.accessTTL),
	}
	if p.refreshTTL > 0 {
		refresh, rerr := p.signer.sign(tokenTypeRefresh, id.UserID, id.Email, issued, p.refreshTTL)
		if rerr != nil {
			return domainauth.Session{}, rerr
		}
		sess.RefreshToken = refresh
	}
	return sess, nil
}

func (p *Provider) refresh(_ context.Context, sess domainauth.Session) (domainauth.Session, error) {
	claims, err := p.signer.parse(sess.RefreshToken, tokenTypeRefresh)
	if err != nil {
		return domainauth.Session{}, fmt.Errorf("refresh token: %w", err)
	}
	p.mu.Lock()
	_, revoked := p.revoked[claims.ID]
	if !revoked {
		p.revoked[claims.ID] = struct{}{}
	}
	p.mu.Unlock()
	if revoked {
		return domainauth.Session{}, errors.New("refresh token revoked")
	}

	acct, ok := p.accounts[claims.Email]
	if !ok || acct.identity().UserID != claims.Subject {
		return domainauth.Session{}, errors.New("account no longer exists")
	}
	return p.issue(acct.identity())
}

func (p *Provider) allow(email string) bool {
	if p.limitRate == 0 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	lim, ok := p.limiters[email]
	if !ok {
		lim = rate.NewLimiter(p.limitRate, p.limitBurst)
		p.limiters[email] = lim
	}
	return lim.Allow()
}
