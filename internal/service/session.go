package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	apperrors "github.com/astracore/astracore/internal/errors"
	"github.com/astracore/astracore/internal/observability/metrics"
	"github.com/astracore/astracore/internal/ports"
)

// DefaultRestoreTimeout bounds RestoreSession when no timeout is configured.
const DefaultRestoreTimeout = 5 * time.Second

// ChangeReason says why the current identity changed.
type ChangeReason string

const (
	ReasonRestored  ChangeReason = "restored"
	ReasonSignedIn  ChangeReason = "signed_in"
	ReasonSignedOut ChangeReason = "signed_out"
	ReasonRefreshed ChangeReason = "refreshed"
	ReasonExpired   ChangeReason = "expired"
)

// SessionChange is delivered to subscribers whenever the current identity changes.
// A nil Identity means nobody is signed in.
type SessionChange struct {
	Identity *domainauth.Identity
	Reason   ChangeReason
}

// IdentityFeed is the read side of SessionService consumed by the Authorizer.
type IdentityFeed interface {
	Current() *domainauth.Identity
	Subscribe(fn func(SessionChange)) (unsubscribe func())
}

var _ IdentityFeed = (*SessionService)(nil)

// Telemetry groups optional logging and metrics dependencies.
type Telemetry struct {
	Logger  *slog.Logger
	Metrics metrics.Sink
}

// SessionConfig holds SessionService tunables.
type SessionConfig struct {
	RestoreTimeout   time.Duration
	ResetRedirectURL string
}

// SessionServiceOptions groups dependencies for SessionService.
type SessionServiceOptions struct {
	Provider  ports.AuthProvider
	Config    SessionConfig
	Telemetry Telemetry
}

// SessionService owns the process's single authenticated session and broadcasts identity changes.
type SessionService struct {
	provider ports.AuthProvider
	cfg      SessionConfig
	logger   *slog.Logger
	metrics  metrics.Sink

	// notifyMu orders state changes with their delivery; mu guards the fields below.
	notifyMu sync.Mutex
	mu       sync.RWMutex
	current  *domainauth.Session
	subs     map[int]func(SessionChange)
	nextSub  int
	unwatch  func()
}

// NewSessionService constructs a SessionService. When the provider implements
// ports.SessionWatcher its refresh and expiry events are forwarded to subscribers.
func NewSessionService(opts SessionServiceOptions) *SessionService {
	if opts.Provider == nil {
		panic("NewSessionService: Provider is required") //nolint:forbidigo // programming error at wiring time
	}
	cfg := opts.Config
	if cfg.RestoreTimeout <= 0 {
		cfg.RestoreTimeout = DefaultRestoreTimeout
	}
	logger := opts.Telemetry.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &SessionService{
		provider: opts.Provider,
		cfg:      cfg,
		logger:   logger.With("component", "session_service"),
		metrics:  opts.Telemetry.Metrics,
		subs:     make(map[int]func(SessionChange)),
	}
	if w, ok := opts.Provider.(ports.SessionWatcher); ok {
		s.unwatch = w.Watch(s.onProviderEvent)
	}
	return s
}

// Close stops forwarding provider events.
func (s *SessionService) Close() {
	s.mu.Lock()
	unwatch := s.unwatch
	s.unwatch = nil
	s.mu.Unlock()
	if unwatch != nil {
		unwatch()
	}
}

// RestoreSession asks the provider for an existing session. Provider failures are soft:
// the result is no session plus a non-nil error the caller may log and continue past.
// The outcome is always emitted to subscribers.
func (s *SessionService) RestoreSession(ctx context.Context) (*domainauth.Session, error) {
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, s.cfg.RestoreTimeout)
	defer cancel()

	sess, err := s.provider.Restore(rctx)
	switch {
	case err == nil && sess.Identity.IsZero():
		err = errors.New("provider returned a session without identity")
		fallthrough
	case err != nil && !errors.Is(err, domainauth.ErrNoSession):
		if rctx.Err() != nil && ctx.Err() == nil {
			err = apperrors.Wrap(err, apperrors.ErrCodeTimeout, "session restore timed out")
		}
		s.logger.WarnContext(ctx, "session restore failed, continuing signed out", "error", err)
		s.emitOp(metrics.SessionMetric{Op: "restore", Result: metrics.ResultError, Duration: time.Since(start), Err: err})
		s.set(nil, ReasonRestored)
		return nil, fmt.Errorf("restore session: %w", err)
	case err != nil:
		s.logger.InfoContext(ctx, "no session to restore")
		s.emitOp(metrics.SessionMetric{Op: "restore", Result: metrics.ResultNoop, Duration: time.Since(start)})
		s.set(nil, ReasonRestored)
		return nil, nil
	}

	s.logger.InfoContext(ctx, "session restored", "user_id", sess.Identity.UserID)
	s.emitOp(metrics.SessionMetric{Op: "restore", Result: metrics.ResultSuccess, Duration: time.Since(start)})
	s.set(&sess, ReasonRestored)
	out := sess
	return &out, nil
}

// SignIn verifies credentials with the provider. Rejections are *domainauth.AuthError;
// anything the provider does not classify is reported as AuthErrUnknown. Never retries.
func (s *SessionService) SignIn(ctx context.Context, email, password string) (domainauth.Identity, error) {
	email = domainauth.NormalizeEmail(email)
	if email == "" || password == "" {
		return domainauth.Identity{}, apperrors.Validation("email and password are required")
	}

	start := time.Now()
	sess, err := s.provider.SignIn(ctx, email, password)
	if err == nil && sess.Identity.IsZero() {
		err = errors.New("provider returned a session without identity")
	}
	if err != nil {
		if _, ok := domainauth.AuthErrorKindOf(err); !ok {
			err = domainauth.NewAuthError(domainauth.AuthErrUnknown, err)
		}
		kind, _ := domainauth.AuthErrorKindOf(err)
		s.logger.InfoContext(ctx, "sign-in rejected", "email", email, "kind", string(kind))
		s.emitOp(metrics.SessionMetric{Op: "sign_in", Result: metrics.ResultError, Duration: time.Since(start), Err: err})
		return domainauth.Identity{}, err
	}

	s.logger.InfoContext(ctx, "signed in", "email", email, "user_id", sess.Identity.UserID)
	s.emitOp(metrics.SessionMetric{Op: "sign_in", Result: metrics.ResultSuccess, Duration: time.Since(start)})
	s.set(&sess, ReasonSignedIn)
	return sess.Identity, nil
}

// SignOut invalidates the provider session and clears local state. Local state is
// cleared even when the provider call fails; that failure is still returned.
func (s *SessionService) SignOut(ctx context.Context) error {
	start := time.Now()
	s.mu.RLock()
	var sess domainauth.Session
	if s.current != nil {
		sess = *s.current
	}
	s.mu.RUnlock()

	err := s.provider.SignOut(ctx, sess)
	s.set(nil, ReasonSignedOut)

	if err != nil {
		s.logger.WarnContext(ctx, "provider sign-out failed, local session cleared", "error", err)
		s.emitOp(metrics.SessionMetric{Op: "sign_out", Result: metrics.ResultError, Duration: time.Since(start), Err: err})
		return fmt.Errorf("sign out: %w", err)
	}
	s.logger.InfoContext(ctx, "signed out", "user_id", sess.Identity.UserID)
	s.emitOp(metrics.SessionMetric{Op: "sign_out", Result: metrics.ResultSuccess, Duration: time.Since(start)})
	return nil
}

// ResetPassword triggers the provider's reset email. Local state is not touched.
func (s *SessionService) ResetPassword(ctx context.Context, email string) error {
	email = domainauth.NormalizeEmail(email)
	if email == "" {
		return apperrors.ValidationField("email", "email is required")
	}

	start := time.Now()
	err := s.provider.ResetPassword(ctx, ports.ResetPasswordInput{
		Email:       email,
		RedirectURL: s.cfg.ResetRedirectURL,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "password reset request failed", "email", email, "error", err)
		s.emitOp(metrics.SessionMetric{Op: "reset_password", Result: metrics.ResultError, Duration: time.Since(start), Err: err})
		return fmt.Errorf("reset password: %w", err)
	}
	s.logger.InfoContext(ctx, "password reset requested", "email", email)
	s.emitOp(metrics.SessionMetric{Op: "reset_password", Result: metrics.ResultSuccess, Duration: time.Since(start)})
	return nil
}

// Current returns the signed-in identity or nil.
func (s *SessionService) Current() *domainauth.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	id := s.current.Identity
	return &id
}

// Session returns a copy of the live session or nil.
func (s *SessionService) Session() *domainauth.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	sess := *s.current
	return &sess
}

// Subscribe registers fn for identity changes. Changes are delivered synchronously and in
// order; fn must not call SignIn, SignOut or RestoreSession.
func (s *SessionService) Subscribe(fn func(SessionChange)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// onProviderEvent applies a provider refresh or drop. Refreshes are accepted only for the
// user currently signed in, so a refresh that lands after sign-out cannot restore the session.
func (s *SessionService) onProviderEvent(ev ports.SessionEvent) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()

	if ev.Session == nil {
		if cur == nil {
			return
		}
		s.logger.Info("provider dropped session", "user_id", cur.Identity.UserID)
		s.emitOp(metrics.SessionMetric{Op: "provider_event", Result: metrics.ResultSuccess})
		s.apply(nil, ReasonExpired)
		return
	}
	if cur == nil || cur.Identity.UserID != ev.Session.Identity.UserID {
		s.logger.Info("ignoring provider refresh for a session that is not current",
			"user_id", ev.Session.Identity.UserID)
		s.emitOp(metrics.SessionMetric{Op: "provider_event", Result: metrics.ResultNoop})
		return
	}
	s.emitOp(metrics.SessionMetric{Op: "provider_event", Result: metrics.ResultSuccess})
	sess := *ev.Session
	s.apply(&sess, ReasonRefreshed)
}

// set installs sess and delivers the change.
func (s *SessionService) set(sess *domainauth.Session, reason ChangeReason) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.apply(sess, reason)
}

// apply requires notifyMu. Sign-outs while already signed out are not broadcast.
func (s *SessionService) apply(sess *domainauth.Session, reason ChangeReason) {
	s.mu.Lock()
	if sess == nil && s.current == nil && reason != ReasonRestored {
		s.mu.Unlock()
		return
	}
	s.current = sess
	fns := make([]func(SessionChange), 0, len(s.subs))
	for id := 0; id < s.nextSub; id++ {
		if fn, ok := s.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()

	change := SessionChange{Reason: reason}
	if sess != nil {
		id := sess.Identity
		change.Identity = &id
	}
	for _, fn := range fns {
		fn(change)
	}
}

func (s *SessionService) emitOp(m metrics.SessionMetric) {
	metrics.EmitSessionOp(s.metrics, m)
}
