package auth

// Package auth contains simple hand-written test doubles for auth ports.
// These are lightweight and suitable for unit tests without codegen.

import (
	"context"
	"sync"
	"time"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	apperrors "github.com/astracore/astracore/internal/errors"
	"github.com/astracore/astracore/internal/ports"
)

// Ensure compile-time conformance to ports.
var (
	_ ports.AuthProvider     = (*MockAuthProvider)(nil)
	_ ports.SessionWatcher   = (*MockAuthProvider)(nil)
	_ ports.ProfileStore     = (*MemoryProfileStore)(nil)
	_ ports.PermissionSource = StaticPermissions{}
)

// MockAccount is a credential known to MockAuthProvider.
type MockAccount struct {
	Password    string
	UserID      string
	Unconfirmed bool
}

// MockAuthProvider simulates a hosted auth service. It keeps one persisted
// session, like a provider SDK backed by local storage.
type MockAuthProvider struct {
	RestoreFunc func(ctx context.Context) (domainauth.Session, error)
	SignInFunc  func(ctx context.Context, email, password string) (domainauth.Session, error)
	SignOutFunc func(ctx context.Context, sess domainauth.Session) error
	ResetFunc   func(ctx context.Context, in ports.ResetPasswordInput) error

	// Accounts is keyed by normalized email.
	Accounts   map[string]MockAccount
	SessionTTL time.Duration

	mu          sync.Mutex
	stored      *domainauth.Session
	watchers    map[int]func(ports.SessionEvent)
	nextWatch   int
	SignInCalls []string
	Resets      []ports.ResetPasswordInput
}

// NewMockAuthProvider creates a provider with a single confirmed account.
func NewMockAuthProvider() *MockAuthProvider {
	return &MockAuthProvider{
		Accounts: map[string]MockAccount{
			"mock.user@example.com": {Password: "secret", UserID: "mock-user-1"},
		},
		SessionTTL: time.Hour,
		watchers:   make(map[int]func(ports.SessionEvent)),
	}
}

func (m *MockAuthProvider) Restore(ctx context.Context) (domainauth.Session, error) {
	if m.RestoreFunc != nil {
		return m.RestoreFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		return domainauth.Session{}, domainauth.ErrNoSession
	}
	return *m.stored, nil
}

func (m *MockAuthProvider) SignIn(ctx context.Context, email, password string) (domainauth.Session, error) {
	m.mu.Lock()
	m.SignInCalls = append(m.SignInCalls, email)
	m.mu.Unlock()
	if m.SignInFunc != nil {
		return m.SignInFunc(ctx, email, password)
	}

	acct, ok := m.Accounts[email]
	if !ok || acct.Password != password {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrInvalidCredentials, nil)
	}
	if acct.Unconfirmed {
		return domainauth.Session{}, domainauth.NewAuthError(domainauth.AuthErrEmailUnconfirmed, nil)
	}
	sess := m.NewSession(domainauth.Identity{UserID: acct.UserID, Email: email})
	m.mu.Lock()
	m.stored = &sess
	m.mu.Unlock()
	return sess, nil
}

func (m *MockAuthProvider) SignOut(ctx context.Context, sess domainauth.Session) error {
	m.mu.Lock()
	m.stored = nil
	m.mu.Unlock()
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, sess)
	}
	return nil
}

func (m *MockAuthProvider) ResetPassword(ctx context.Context, in ports.ResetPasswordInput) error {
	m.mu.Lock()
	m.Resets = append(m.Resets, in)
	m.mu.Unlock()
	if m.ResetFunc != nil {
		return m.ResetFunc(ctx, in)
	}
	return nil
}

func (m *MockAuthProvider) Watch(fn func(ports.SessionEvent)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watchers == nil {
		m.watchers = make(map[int]func(ports.SessionEvent))
	}
	id := m.nextWatch
	m.nextWatch++
	m.watchers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

// Emit pushes a provider-originated event (refresh, expiry) to watchers and
// updates the persisted session accordingly.
func (m *MockAuthProvider) Emit(ev ports.SessionEvent) {
	m.mu.Lock()
	m.stored = ev.Session
	fns := make([]func(ports.SessionEvent), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Store replaces the persisted session, as if written by an earlier process.
func (m *MockAuthProvider) Store(sess *domainauth.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = sess
}

// Stored returns the persisted session, if any.
func (m *MockAuthProvider) Stored() *domainauth.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		return nil
	}
	cp := *m.stored
	return &cp
}

// NewSession builds a session for id using the configured TTL.
func (m *MockAuthProvider) NewSession(id domainauth.Identity) domainauth.Session {
	ttl := m.SessionTTL
	if ttl == 0 {
		ttl = time.Hour
	}
	now := time.Now()
	return domainauth.Session{
		Identity:     id,
		AccessToken:  "access-" + id.UserID,
		RefreshToken: "refresh-" + id.UserID,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
}

// MemoryProfileStore is an in-memory ProfileStore with hooks for injecting latency and failures.
type MemoryProfileStore struct {
	// BeforeFetch and BeforeCreate run before the default behavior; a non-nil error is returned as-is.
	BeforeFetch  func(ctx context.Context, userID string) error
	BeforeCreate func(ctx context.Context, p domainauth.Profile) error
	UpdateFunc   func(ctx context.Context, userID string, upd domainauth.ProfileUpdate) (domainauth.Profile, error)

	mu          sync.Mutex
	profiles    map[string]domainauth.Profile
	FetchCalls  int
	CreateCalls int
	UpdateCalls int
}

// NewMemoryProfileStore creates an empty store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[string]domainauth.Profile)}
}

// Put seeds or overwrites a profile.
func (s *MemoryProfileStore) Put(p domainauth.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// Get returns the stored profile without touching call counters.
func (s *MemoryProfileStore) Get(userID string) (domainauth.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	return p, ok
}

// Len returns the number of stored profiles.
func (s *MemoryProfileStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// Calls returns the fetch, create and update counters.
func (s *MemoryProfileStore) Calls() (fetch, create, update int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.FetchCalls, s.CreateCalls, s.UpdateCalls
}

func (s *MemoryProfileStore) Fetch(ctx context.Context, userID string) (domainauth.Profile, error) {
	s.mu.Lock()
	s.FetchCalls++
	s.mu.Unlock()
	if s.BeforeFetch != nil {
		if err := s.BeforeFetch(ctx, userID); err != nil {
			return domainauth.Profile{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domainauth.Profile{}, apperrors.NotFound("profile not found")
	}
	return p, nil
}

func (s *MemoryProfileStore) Create(ctx context.Context, p domainauth.Profile) (domainauth.Profile, error) {
	s.mu.Lock()
	s.CreateCalls++
	s.mu.Unlock()
	if s.BeforeCreate != nil {
		if err := s.BeforeCreate(ctx, p); err != nil {
			return domainauth.Profile{}, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.ID]; exists {
		return domainauth.Profile{}, apperrors.Conflict("profile already exists")
	}
	s.profiles[p.ID] = p
	return p, nil
}

func (s *MemoryProfileStore) Update(
	ctx context.Context,
	userID string,
	upd domainauth.ProfileUpdate,
) (domainauth.Profile, error) {
	s.mu.Lock()
	s.UpdateCalls++
	s.mu.Unlock()
	if s.UpdateFunc != nil {
		return s.UpdateFunc(ctx, userID, upd)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return domainauth.Profile{}, apperrors.NotFound("profile not found")
	}
	p = upd.Apply(p, time.Now())
	s.profiles[userID] = p
	return p, nil
}

// StaticPermissions serves a fixed table.
type StaticPermissions struct {
	T *domainauth.PermissionTable
}

func (s StaticPermissions) Table() *domainauth.PermissionTable { return s.T }
