package sessionwatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astracore/astracore/internal/adapters/memory"
	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/ports"
)

// gatedRefresh blocks every refresh until release is closed and then returns result.
type gatedRefresh struct {
	started chan domainauth.Session
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	result func(domainauth.Session) (domainauth.Session, error)
	ctxErr error
	hasDL  bool
}

func newGatedRefresh() *gatedRefresh {
	return &gatedRefresh{started: make(chan domainauth.Session, 1), release: make(chan struct{})}
}

func (g *gatedRefresh) refresh(ctx context.Context, sess domainauth.Session) (domainauth.Session, error) {
	_, hasDL := ctx.Deadline()
	g.started <- sess
	<-g.release
	g.mu.Lock()
	defer g.mu.Unlock()
	g.hasDL = hasDL
	g.ctxErr = ctx.Err()
	if g.result == nil {
		return refreshed(sess), nil
	}
	return g.result(sess)
}

func (g *gatedRefresh) setResult(fn func(domainauth.Session) (domainauth.Session, error)) {
	g.mu.Lock()
	g.result = fn
	g.mu.Unlock()
}

func (g *gatedRefresh) open() { g.once.Do(func() { close(g.release) }) }

func refreshed(sess domainauth.Session) domainauth.Session {
	sess.AccessToken += "-refreshed"
	sess.ExpiresAt = time.Now().Add(time.Hour)
	return sess
}

func session(user string, ttl time.Duration) domainauth.Session {
	now := time.Now()
	return domainauth.Session{
		Identity:     domainauth.Identity{UserID: user, Email: user + "@example.com"},
		AccessToken:  "access-" + user,
		RefreshToken: "refresh-" + user,
		IssuedAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
}

func newTracker(t *testing.T, refresh RefreshFunc) (*Tracker, *memory.SessionCache, chan ports.SessionEvent) {
	t.Helper()
	cache := memory.NewSessionCache()
	tr := New(Options{Cache: cache, Refresh: refresh, RefreshTimeout: 2 * time.Second})
	events := make(chan ports.SessionEvent, 4)
	unsubscribe := tr.Watch(func(ev ports.SessionEvent) { events <- ev })
	t.Cleanup(unsubscribe)
	return tr, cache, events
}

func waitStarted(t *testing.T, g *gatedRefresh) domainauth.Session {
	t.Helper()
	select {
	case sess := <-g.started:
		return sess
	case <-time.After(2 * time.Second):
		t.Fatal("refresh did not start")
		return domainauth.Session{}
	}
}

func assertNoEvent(t *testing.T, events <-chan ports.SessionEvent) {
	t.Helper()
	select {
	case ev := <-events:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNew_RequiresCache(t *testing.T) {
	assert.Panics(t, func() { New(Options{}) })
}

func TestTracker_CommitPersistsAndTracks(t *testing.T) {
	tr, cache, _ := newTracker(t, nil)
	ctx := context.Background()
	sess := session("u-1", time.Hour)

	require.NoError(t, tr.Commit(ctx, sess))
	stored, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sess, stored)
	require.NotNil(t, tr.Current())
	assert.Equal(t, sess, *tr.Current())

	require.NoError(t, tr.Clear(ctx))
	assert.Nil(t, tr.Current())
	_, err = cache.Load(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestTracker_ExpiryRefreshes(t *testing.T) {
	g := newGatedRefresh()
	g.open()
	tr, cache, events := newTracker(t, g.refresh)
	ctx := context.Background()
	sess := session("u-1", 20*time.Millisecond)
	require.NoError(t, tr.Commit(ctx, sess))

	select {
	case ev := <-events:
		require.NotNil(t, ev.Session)
		assert.Equal(t, "access-u-1-refreshed", ev.Session.AccessToken)
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh event")
	}
	stored, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-u-1-refreshed", stored.AccessToken)

	g.mu.Lock()
	defer g.mu.Unlock()
	assert.True(t, g.hasDL, "refresh must run with a deadline")
	assert.NoError(t, g.ctxErr)
}

func TestTracker_ExpiryWithoutRefreshTokenDrops(t *testing.T) {
	tr, cache, events := newTracker(t, nil)
	ctx := context.Background()
	sess := session("u-1", 20*time.Millisecond)
	sess.RefreshToken = ""
	require.NoError(t, tr.Commit(ctx, sess))

	select {
	case ev := <-events:
		assert.Nil(t, ev.Session)
	case <-time.After(2 * time.Second):
		t.Fatal("no expiry event")
	}
	assert.Nil(t, tr.Current())
	_, err := cache.Load(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestTracker_RefreshFinishingAfterClearIsDiscarded(t *testing.T) {
	g := newGatedRefresh()
	tr, cache, events := newTracker(t, g.refresh)
	t.Cleanup(g.open)
	ctx := context.Background()
	require.NoError(t, tr.Commit(ctx, session("u-1", 20*time.Millisecond)))

	waitStarted(t, g)
	require.NoError(t, tr.Clear(ctx))
	g.open()

	assertNoEvent(t, events)
	assert.Nil(t, tr.Current())
	_, err := cache.Load(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestTracker_FailedRefreshKeepsNewerSession(t *testing.T) {
	g := newGatedRefresh()
	g.setResult(func(domainauth.Session) (domainauth.Session, error) {
		return domainauth.Session{}, errors.New("network down")
	})
	tr, cache, events := newTracker(t, g.refresh)
	t.Cleanup(g.open)
	ctx := context.Background()
	require.NoError(t, tr.Commit(ctx, session("u-1", 20*time.Millisecond)))

	waitStarted(t, g)
	second := session("u-1", time.Hour)
	second.AccessToken = "access-second"
	require.NoError(t, tr.Commit(ctx, second))
	g.open()

	assertNoEvent(t, events)
	require.NotNil(t, tr.Current())
	assert.Equal(t, "access-second", tr.Current().AccessToken)
	stored, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-second", stored.AccessToken)
}

func TestTracker_UnsubscribedWatcherGetsNothing(t *testing.T) {
	tr := New(Options{Cache: memory.NewSessionCache()})
	var got int
	unsubscribe := tr.Watch(func(ports.SessionEvent) { got++ })
	unsubscribe()

	sess := session("u-1", 10*time.Millisecond)
	sess.RefreshToken = ""
	require.NoError(t, tr.Commit(context.Background(), sess))
	assert.Eventually(t, func() bool { return tr.Current() == nil }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, got)
}
