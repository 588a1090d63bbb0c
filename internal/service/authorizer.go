package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	apperrors "github.com/astracore/astracore/internal/errors"
	"github.com/astracore/astracore/internal/observability/metrics"
	"github.com/astracore/astracore/internal/ports"
)

// DefaultProfileLoadTimeout bounds a single profile fetch-or-create.
const DefaultProfileLoadTimeout = 10 * time.Second

// Field limits for self-service profile edits.
const (
	maxNameLength   = 100
	maxPhoneLength  = 32
	maxAvatarLength = 2048
)

// AuthorizerConfig holds Authorizer tunables.
type AuthorizerConfig struct {
	LoadTimeout time.Duration
	// Strict panics when permissions are queried without a table instead of denying.
	Strict bool
	Now    func() time.Time
}

// AuthorizerOptions groups dependencies for Authorizer.
type AuthorizerOptions struct {
	Sessions    IdentityFeed
	Profiles    ports.ProfileStore
	Permissions ports.PermissionSource
	Config      AuthorizerConfig
	Telemetry   Telemetry
}

// AuthzSnapshot is a consistent view of the engine at one instant.
type AuthzSnapshot struct {
	State    domainauth.State
	Identity *domainauth.Identity
	Profile  *domainauth.Profile
	Err      error
}

// StateChange is delivered to Authorizer subscribers on every installed snapshot.
type StateChange struct {
	From domainauth.State
	AuthzSnapshot
}

type snapshot struct {
	gen      uint64
	state    domainauth.State
	identity *domainauth.Identity
	profile  *domainauth.Profile
	err      error
	since    time.Time
	// next is closed when this snapshot is replaced.
	next chan struct{}
}

// Authorizer turns the session's identity into a role-bearing profile and answers
// permission queries against a fixed table.
type Authorizer struct {
	profiles    ports.ProfileStore
	table       *domainauth.PermissionTable
	strict      bool
	loadTimeout time.Duration
	now         func() time.Time
	logger      *slog.Logger
	metrics     metrics.Sink

	snap  atomic.Pointer[snapshot]
	group singleflight.Group

	// mu serializes transitions and their delivery.
	mu      sync.Mutex
	subs    map[int]func(StateChange)
	nextSub int

	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewAuthorizer constructs an Authorizer and subscribes it to the session feed.
// The feed's current identity, if any, is loaded immediately.
func NewAuthorizer(opts AuthorizerOptions) *Authorizer {
	if opts.Sessions == nil {
		panic("NewAuthorizer: Sessions is required") //nolint:forbidigo // programming error at wiring time
	}
	if opts.Profiles == nil {
		panic("NewAuthorizer: Profiles is required") //nolint:forbidigo // programming error at wiring time
	}
	cfg := opts.Config
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = DefaultProfileLoadTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Telemetry.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var table *domainauth.PermissionTable
	if opts.Permissions != nil {
		table = opts.Permissions.Table()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Authorizer{
		profiles:    opts.Profiles,
		table:       table,
		strict:      cfg.Strict,
		loadTimeout: cfg.LoadTimeout,
		now:         cfg.Now,
		logger:      logger.With("component", "authorizer"),
		metrics:     opts.Telemetry.Metrics,
		subs:        make(map[int]func(StateChange)),
		ctx:         ctx,
		cancel:      cancel,
	}
	if table == nil {
		a.logger.Error("permission table not loaded, all permission checks will deny", "strict", cfg.Strict)
	}
	a.snap.Store(&snapshot{state: domainauth.StateUnauthenticated, since: cfg.Now(), next: make(chan struct{})})

	a.unsubscribe = opts.Sessions.Subscribe(a.handleChange)
	if id := opts.Sessions.Current(); id != nil {
		a.handleChange(SessionChange{Identity: id, Reason: ReasonRestored})
	}
	return a
}

// Close detaches from the session feed and waits for in-flight loads to finish.
func (a *Authorizer) Close() {
	a.mu.Lock()
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	a.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
	a.cancel()
	a.wg.Wait()
}

// State returns the current engine state.
func (a *Authorizer) State() domainauth.State { return a.snap.Load().state }

// Snapshot returns a consistent copy of state, identity, profile and error.
func (a *Authorizer) Snapshot() AuthzSnapshot { return a.snap.Load().view() }

// Profile returns a copy of the loaded profile, or nil unless Authorized.
func (a *Authorizer) Profile() *domainauth.Profile {
	s := a.snap.Load()
	if s.state != domainauth.StateAuthorized {
		return nil
	}
	return s.view().Profile
}

// HasPermission reports whether the current role holds p. It never blocks and
// denies in every state other than Authorized.
func (a *Authorizer) HasPermission(p domainauth.Permission) bool {
	return a.Explain(p).Allowed
}

// Explain returns the decision for p together with the reason for a denial.
func (a *Authorizer) Explain(p domainauth.Permission) domainauth.Decision {
	d := domainauth.Decision{Permission: p, Reason: domainauth.ReasonNotAuthorized}
	if a.table == nil {
		if a.strict {
			panic("authorizer: permission queried before the permission table was loaded") //nolint:forbidigo // strict mode fails fast
		}
		return d
	}
	s := a.snap.Load()
	if s.state != domainauth.StateAuthorized || s.profile == nil {
		return d
	}
	return a.table.Decide(s.profile.Role, p)
}

// Permissions lists every permission the current role holds, sorted. Empty unless Authorized.
func (a *Authorizer) Permissions() []domainauth.Permission {
	if a.table == nil {
		if a.strict {
			panic("authorizer: permission queried before the permission table was loaded") //nolint:forbidigo // strict mode fails fast
		}
		return nil
	}
	s := a.snap.Load()
	if s.state != domainauth.StateAuthorized || s.profile == nil {
		return nil
	}
	return a.table.Granted(s.profile.Role)
}

// Table returns the permission table in use.
func (a *Authorizer) Table() *domainauth.PermissionTable { return a.table }

// Subscribe registers fn for state changes. Changes are delivered synchronously and in order;
// fn must not call Reload or UpdateProfile.
func (a *Authorizer) Subscribe(fn func(StateChange)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.subs, id)
	}
}

// WaitSettled blocks until the engine leaves Loading or ctx is done.
func (a *Authorizer) WaitSettled(ctx context.Context) (domainauth.State, error) {
	for {
		s := a.snap.Load()
		if s.state != domainauth.StateLoading {
			return s.state, nil
		}
		select {
		case <-s.next:
		case <-ctx.Done():
			return s.state, ctx.Err()
		}
	}
}

// Reload refetches the profile for the current identity. It is the manual recovery path from Error.
func (a *Authorizer) Reload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.snap.Load()
	if cur.identity == nil {
		return domainauth.ErrNotAuthenticated
	}
	a.logger.InfoContext(ctx, "reloading profile", "user_id", cur.identity.UserID)
	a.beginLoadLocked(cur, *cur.identity)
	return nil
}

// UpdateProfile applies the self-service fields to the signed-in identity's profile.
// The in-memory profile is replaced on success and keeps its role; failures leave
// both the profile and the state untouched.
func (a *Authorizer) UpdateProfile(ctx context.Context, upd domainauth.ProfileUpdate) (domainauth.Profile, error) {
	s := a.snap.Load()
	if s.state != domainauth.StateAuthorized || s.identity == nil || s.profile == nil {
		return domainauth.Profile{}, domainauth.ErrNotAuthenticated
	}
	upd = upd.Normalize()
	if err := validateProfileUpdate(upd); err != nil {
		return domainauth.Profile{}, err
	}

	updated, err := a.profiles.Update(ctx, s.identity.UserID, upd)
	if err != nil {
		a.logger.WarnContext(ctx, "profile update failed", "user_id", s.identity.UserID, "error", err)
		return domainauth.Profile{}, fmt.Errorf("update profile: %w", err)
	}
	updated.Role = s.profile.Role

	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.snap.Load()
	if cur.gen == s.gen && cur.state == domainauth.StateAuthorized {
		p := updated
		a.installLocked(&snapshot{
			gen:      cur.gen,
			state:    domainauth.StateAuthorized,
			identity: cur.identity,
			profile:  &p,
			since:    cur.since,
		}, false)
	}
	a.logger.InfoContext(ctx, "profile updated", "user_id", s.identity.UserID)
	return updated, nil
}

func (a *Authorizer) handleChange(ch SessionChange) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cur := a.snap.Load()

	if ch.Identity == nil {
		if cur.state == domainauth.StateUnauthenticated {
			return
		}
		a.installLocked(&snapshot{gen: cur.gen + 1, state: domainauth.StateUnauthenticated, since: a.now()}, true)
		return
	}

	if cur.identity != nil && cur.identity.UserID == ch.Identity.UserID {
		switch {
		case cur.state == domainauth.StateLoading, cur.state == domainauth.StateAuthorized:
			return
		case cur.state == domainauth.StateError && ch.Reason == ReasonRefreshed:
			return
		}
	}
	a.beginLoadLocked(cur, *ch.Identity)
}

// beginLoadLocked moves to Loading under a new generation and starts the fetch.
func (a *Authorizer) beginLoadLocked(cur *snapshot, id domainauth.Identity) {
	gen := cur.gen + 1
	a.installLocked(&snapshot{gen: gen, state: domainauth.StateLoading, identity: &id, since: a.now()}, true)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.load(gen, id)
	}()
}

func (a *Authorizer) load(gen uint64, id domainauth.Identity) {
	ctx, cancel := context.WithTimeout(a.ctx, a.loadTimeout)
	defer cancel()

	profile, err := a.ensureProfile(ctx, id.UserID)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ctx.Err() != nil {
		return
	}
	cur := a.snap.Load()
	if cur.gen != gen {
		a.logger.Debug("discarding stale profile load", "user_id", id.UserID, "generation", gen, "current", cur.gen)
		return
	}
	if err != nil {
		a.logger.Error("profile load failed", "user_id", id.UserID, "error", err)
		a.installLocked(&snapshot{gen: gen, state: domainauth.StateError, identity: &id, err: err, since: a.now()}, true)
		return
	}
	a.logger.Info("authorized", "user_id", id.UserID, "role", string(profile.Role))
	a.installLocked(&snapshot{gen: gen, state: domainauth.StateAuthorized, identity: &id, profile: &profile, since: a.now()}, true)
}

// ensureProfile fetches the profile for userID, creating the default one on first sign-in.
// A conflicting concurrent create counts as success and is followed by a refetch.
func (a *Authorizer) ensureProfile(ctx context.Context, userID string) (domainauth.Profile, error) {
	v, err, _ := a.group.Do(userID, func() (any, error) {
		p, err := a.profiles.Fetch(ctx, userID)
		if err == nil {
			return p, nil
		}
		if !apperrors.IsNotFound(err) {
			return nil, fmt.Errorf("fetch profile: %w", err)
		}

		p, err = a.profiles.Create(ctx, domainauth.NewDefaultProfile(userID, a.now()))
		if err == nil {
			a.logger.Info("created default profile", "user_id", userID, "role", string(p.Role))
			return p, nil
		}
		if !apperrors.IsConflict(err) {
			return nil, fmt.Errorf("create default profile: %w", err)
		}

		p, err = a.profiles.Fetch(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("fetch profile after create conflict: %w", err)
		}
		return p, nil
	})
	if err != nil {
		return domainauth.Profile{}, err
	}
	p, ok := v.(domainauth.Profile)
	if !ok {
		return domainauth.Profile{}, errors.New("unexpected profile load result")
	}
	return p, nil
}

// installLocked swaps in next and notifies subscribers. Callers hold a.mu.
func (a *Authorizer) installLocked(next *snapshot, transition bool) {
	next.next = make(chan struct{})
	prev := a.snap.Swap(next)
	close(prev.next)

	if transition {
		metrics.EmitTransition(a.metrics, metrics.TransitionMetric{
			From:     prev.state,
			To:       next.state,
			Duration: next.since.Sub(prev.since),
			Err:      next.err,
		})
		a.logger.Debug("authorization state changed", "from", prev.state.String(), "to", next.state.String(), "generation", next.gen)
	}

	change := StateChange{From: prev.state, AuthzSnapshot: next.view()}
	for id := 0; id < a.nextSub; id++ {
		if fn, ok := a.subs[id]; ok {
			fn(change)
		}
	}
}

func (s *snapshot) view() AuthzSnapshot {
	out := AuthzSnapshot{State: s.state, Err: s.err}
	if s.identity != nil {
		id := *s.identity
		out.Identity = &id
	}
	if s.profile != nil {
		p := *s.profile
		out.Profile = &p
	}
	return out
}

func validateProfileUpdate(upd domainauth.ProfileUpdate) error {
	if upd.IsEmpty() {
		return apperrors.Validation("no profile fields to update")
	}
	if upd.FirstName != nil && utf8.RuneCountInString(*upd.FirstName) > maxNameLength {
		return apperrors.ValidationField("first_name", "first name is too long")
	}
	if upd.LastName != nil && utf8.RuneCountInString(*upd.LastName) > maxNameLength {
		return apperrors.ValidationField("last_name", "last name is too long")
	}
	if upd.Phone != nil && utf8.RuneCountInString(*upd.Phone) > maxPhoneLength {
		return apperrors.ValidationField("phone", "phone is too long")
	}
	if upd.AvatarURL != nil && *upd.AvatarURL != "" {
		if len(*upd.AvatarURL) > maxAvatarLength {
			return apperrors.ValidationField("avatar_url", "avatar URL is too long")
		}
		u, err := url.Parse(*upd.AvatarURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperrors.ValidationField("avatar_url", "avatar URL must be an absolute http(s) URL")
		}
	}
	return nil
}
