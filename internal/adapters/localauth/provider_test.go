package localauth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"

	"github.com/astracore/astracore/internal/adapters/memory"
	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/ports"
)

var testKey = []byte(strings.Repeat("k", 32))

func mustHash(t *testing.T, pw string) string {
	t.Helper()
	h, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	require.NoError(t, err)
	return string(h)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestProvider(t *testing.T, mutate func(*Config)) (*Provider, *memory.SessionCache) {
	t.Helper()
	cache := memory.NewSessionCache()
	cfg := Config{
		Accounts: []Account{
			{Email: "Owner@Example.com", PasswordHash: mustHash(t, "secret"), Confirmed: true},
			{Email: "new@example.com", PasswordHash: mustHash(t, "secret"), Confirmed: false},
		},
		SigningKey: testKey,
		Cache:      cache,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := NewProvider(cfg)
	require.NoError(t, err)
	return p, cache
}

func TestProvider_SignIn(t *testing.T) {
	p, cache := newTestProvider(t, nil)
	ctx := context.Background()

	sess, err := p.SignIn(ctx, "  OWNER@example.com ", "secret")
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", sess.Identity.Email)
	assert.NotEmpty(t, sess.Identity.UserID)
	assert.NotEmpty(t, sess.AccessToken)
	assert.True(t, sess.CanRefresh())

	stored, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.AccessToken, stored.AccessToken)

	again, err := p.SignIn(ctx, "owner@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, sess.Identity.UserID, again.Identity.UserID, "user id is stable per email")
}

func TestProvider_SignInErrors(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		password string
		want     domainauth.AuthErrorKind
	}{
		{"wrong password", "owner@example.com", "nope", domainauth.AuthErrInvalidCredentials},
		{"unknown email", "ghost@example.com", "secret", domainauth.AuthErrInvalidCredentials},
		{"unconfirmed", "new@example.com", "secret", domainauth.AuthErrEmailUnconfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.SignIn(ctx, tt.email, tt.password)
			kind, ok := domainauth.AuthErrorKindOf(err)
			require.True(t, ok, "expected AuthError, got %v", err)
			assert.Equal(t, tt.want, kind)
		})
	}
}

func TestProvider_SignInRateLimited(t *testing.T) {
	p, _ := newTestProvider(t, func(c *Config) {
		c.SignInRate = rate.Every(time.Hour)
		c.SignInBurst = 2
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.SignIn(ctx, "owner@example.com", "bad")
		assert.ErrorIs(t, err, domainauth.ErrInvalidCredentials)
	}
	_, err := p.SignIn(ctx, "owner@example.com", "secret")
	assert.ErrorIs(t, err, domainauth.ErrRateLimited)

	// Other emails have their own bucket.
	_, err = p.SignIn(ctx, "new@example.com", "secret")
	assert.ErrorIs(t, err, domainauth.ErrEmailUnconfirmed)
}

func TestProvider_RestoreIdempotent(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	ctx := context.Background()

	_, err := p.Restore(ctx)
	require.ErrorIs(t, err, domainauth.ErrNoSession)

	sess, err := p.SignIn(ctx, "owner@example.com", "secret")
	require.NoError(t, err)

	first, err := p.Restore(ctx)
	require.NoError(t, err)
	second, err := p.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.Identity, first.Identity)
	assert.Equal(t, first, second)
}

func TestProvider_RestoreRefreshesExpiredAccessToken(t *testing.T) {
	clk := &clock{t: time.Now()}
	p, _ := newTestProvider(t, func(c *Config) {
		c.AccessTTL = time.Minute
		c.Now = clk.Now
	})
	ctx := context.Background()

	sess, err := p.SignIn(ctx, "owner@example.com", "secret")
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	restored, err := p.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess.Identity, restored.Identity)
	assert.NotEqual(t, sess.AccessToken, restored.AccessToken)
	assert.True(t, restored.ExpiresAt.After(clk.Now()))

	// The rotated-out refresh token cannot be used again.
	_, err = p.refresh(ctx, sess)
	assert.Error(t, err)
}

func TestProvider_RestoreWithoutRefreshDropsSession(t *testing.T) {
	clk := &clock{t: time.Now()}
	p, cache := newTestProvider(t, func(c *Config) {
		c.AccessTTL = time.Minute
		c.RefreshTTL = -1
		c.Now = clk.Now
	})
	ctx := context.Background()

	_, err := p.SignIn(ctx, "owner@example.com", "secret")
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = p.Restore(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestProvider_SignOutRevokesRefresh(t *testing.T) {
	p, cache := newTestProvider(t, nil)
	ctx := context.Background()

	sess, err := p.SignIn(ctx, "owner@example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, p.SignOut(ctx, sess))

	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
	_, err = p.refresh(ctx, sess)
	assert.Error(t, err)
}

func TestProvider_ResetPassword(t *testing.T) {
	p, _ := newTestProvider(t, nil)
	ctx := context.Background()

	require.NoError(t, p.ResetPassword(ctx, ports.ResetPasswordInput{
		Email:       " Owner@example.com",
		RedirectURL: "http://localhost:8080/reset-password",
	}))
	require.NoError(t, p.ResetPassword(ctx, ports.ResetPasswordInput{Email: "ghost@example.com"}))
	require.Error(t, p.ResetPassword(ctx, ports.ResetPasswordInput{}))

	reqs := p.ResetRequests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "owner@example.com", reqs[0].Email)
	assert.Equal(t, "http://localhost:8080/reset-password", reqs[0].RedirectURL)
}

func TestProvider_WatchEmitsRefreshOnExpiry(t *testing.T) {
	p, _ := newTestProvider(t, func(c *Config) { c.AccessTTL = 50 * time.Millisecond })

	events := make(chan ports.SessionEvent, 4)
	unsubscribe := p.Watch(func(ev ports.SessionEvent) { events <- ev })
	defer unsubscribe()

	sess, err := p.SignIn(context.Background(), "owner@example.com", "secret")
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.NotNil(t, ev.Session)
		assert.Equal(t, sess.Identity, ev.Session.Identity)
		assert.NotEqual(t, sess.AccessToken, ev.Session.AccessToken)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh event")
	}
}

func TestProvider_WatchEmitsNilWhenSessionEnds(t *testing.T) {
	p, _ := newTestProvider(t, func(c *Config) {
		c.AccessTTL = 50 * time.Millisecond
		c.RefreshTTL = -1
	})

	events := make(chan ports.SessionEvent, 4)
	unsubscribe := p.Watch(func(ev ports.SessionEvent) { events <- ev })
	defer unsubscribe()

	_, err := p.SignIn(context.Background(), "owner@example.com", "secret")
	require.NoError(t, err)

	select {
	case ev := <-events:
		assert.Nil(t, ev.Session)
	case <-time.After(2 * time.Second):
		t.Fatal("no expiry event")
	}
}

func TestNewProvider_Validation(t *testing.T) {
	cache := memory.NewSessionCache()
	_, err := NewProvider(Config{SigningKey: []byte("short"), Cache: cache})
	require.Error(t, err)

	_, err = NewProvider(Config{SigningKey: testKey})
	require.Error(t, err)

	_, err = NewProvider(Config{
		SigningKey: testKey,
		Cache:      cache,
		Accounts:   []Account{{Email: "a@example.com", PasswordHash: "plain"}},
	})
	require.Error(t, err)

	h := mustHash(t, "x")
	_, err = NewProvider(Config{
		SigningKey: testKey,
		Cache:      cache,
		Accounts: []Account{
			{Email: "a@example.com", PasswordHash: h},
			{Email: "A@example.com", PasswordHash: h},
		},
	})
	require.Error(t, err)
}

func TestParseAccount(t *testing.T) {
	h := mustHash(t, "pw")

	acct, err := ParseAccount("Boss@Example.com:" + h)
	require.NoError(t, err)
	assert.Equal(t, "boss@example.com", acct.Email)
	assert.True(t, acct.Confirmed)
	assert.Empty(t, acct.UserID)

	acct, err = ParseAccount("x@example.com:" + h + ":unconfirmed:user-7")
	require.NoError(t, err)
	assert.False(t, acct.Confirmed)
	assert.Equal(t, "user-7", acct.identity().UserID)

	_, err = ParseAccount("no-hash")
	assert.Error(t, err)
	_, err = ParseAccount("x@example.com:plaintext")
	assert.Error(t, err)
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("pw")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte("pw")))

	_, err = HashPassword("")
	assert.Error(t, err)
}

// slowSaveCache blocks the n-th Save until release is closed.
type slowSaveCache struct {
	*memory.SessionCache
	blockOn int32
	saves   atomic.Int32
	saving  chan struct{}
	release chan struct{}
}

func (c *slowSaveCache) Save(ctx context.Context, sess domainauth.Session) error {
	if c.saves.Add(1) == c.blockOn {
		close(c.saving)
		<-c.release
	}
	return c.SessionCache.Save(ctx, sess)
}

func TestProvider_SignOutDuringExpiryRefreshStaysSignedOut(t *testing.T) {
	cache := &slowSaveCache{
		SessionCache: memory.NewSessionCache(),
		blockOn:      2,
		saving:       make(chan struct{}),
		release:      make(chan struct{}),
	}
	p, _ := newTestProvider(t, func(c *Config) {
		c.AccessTTL = 50 * time.Millisecond
		c.Cache = cache
	})
	ctx := context.Background()

	sess, err := p.SignIn(ctx, "owner@example.com", "secret")
	require.NoError(t, err)
	select {
	case <-cache.saving:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry refresh did not run")
	}

	done := make(chan error, 1)
	go func() { done <- p.SignOut(ctx, sess) }()
	close(cache.release)
	require.NoError(t, <-done)

	assert.Nil(t, p.tracker.Current())
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
}
