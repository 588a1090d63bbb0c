package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/testutil"
)

// setupTestRedis creates a Redis client for testing.
// Tests will be skipped if Redis is not available.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	return testutil.SetupTestRedis(t)
}

func testSession(expiresIn time.Duration) domainauth.Session {
	now := time.Now()
	return domainauth.Session{
		Identity:    domainauth.Identity{UserID: "user-123", Email: "user@example.com"},
		AccessToken: "access",
		IssuedAt:    now,
		ExpiresAt:   now.Add(expiresIn),
	}
}

func TestSessionCache_SaveAndLoad(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cache := NewSessionCache(SessionCacheOptions{Client: client, ClientKey: "server-a"})
	ctx := context.Background()

	session := testSession(30 * time.Minute)
	require.NoError(t, cache.Save(ctx, session))

	got, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.Identity, got.Identity)
	assert.Equal(t, session.AccessToken, got.AccessToken)
	assert.WithinDuration(t, session.ExpiresAt, got.ExpiresAt, time.Second)

	ttl := client.TTL(ctx, cache.Key()).Val()
	assert.Greater(t, ttl, 29*time.Minute)
}

func TestSessionCache_LoadMissing(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cache := NewSessionCache(SessionCacheOptions{Client: client})
	_, err := cache.Load(context.Background())
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestSessionCache_Clear(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cache := NewSessionCache(SessionCacheOptions{Client: client})
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, testSession(time.Hour)))
	require.NoError(t, cache.Clear(ctx))
	require.NoError(t, cache.Clear(ctx))

	_, err := cache.Load(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestSessionCache_TTLExpiration(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cache := NewSessionCache(SessionCacheOptions{Client: client})
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, testSession(100*time.Millisecond)))
	time.Sleep(200 * time.Millisecond)

	_, err := cache.Load(ctx)
	assert.ErrorIs(t, err, domainauth.ErrNoSession)
}

func TestSessionCache_RefreshGraceKeepsExpiredSession(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cache := NewSessionCache(SessionCacheOptions{Client: client, RefreshGrace: time.Hour})
	ctx := context.Background()

	sess := testSession(time.Minute)
	sess.RefreshToken = "refresh"
	require.NoError(t, cache.Save(ctx, sess))

	cache.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	got, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "refresh", got.RefreshToken)
}

func TestSessionCache_CustomPrefix(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cache := NewSessionCache(SessionCacheOptions{Client: client, Prefix: "test-prefix:", ClientKey: "cli"})
	ctx := context.Background()

	require.NoError(t, cache.Save(ctx, testSession(time.Hour)))
	assert.Equal(t, int64(1), client.Exists(ctx, "test-prefix:cli").Val())
}

func TestSessionCache_SaveRejectsInvalid(t *testing.T) {
	client := setupTestRedis(t)
	defer client.Close()

	cache := NewSessionCache(SessionCacheOptions{Client: client})
	ctx := context.Background()

	err := cache.Save(ctx, domainauth.Session{ExpiresAt: time.Now().Add(time.Hour)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session identity cannot be empty")

	err = cache.Save(ctx, testSession(-time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session is expired")
}
