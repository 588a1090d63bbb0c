package redis

// Package redis provides Redis-based adapters for astracore.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/ports"
)

// DefaultKeyPrefix namespaces session keys.
const DefaultKeyPrefix = "astracore:session:"

// SessionCache persists the single provider session of one client (a server
// instance or a CLI profile) so a restart can restore it.
type SessionCache struct {
	client redis.UniversalClient
	key    string
	// refreshGrace keeps refreshable sessions around past access-token expiry.
	refreshGrace time.Duration
	now          func() time.Time
}

var _ ports.SessionCache = (*SessionCache)(nil)

// SessionCacheOptions groups dependencies for NewSessionCache.
type SessionCacheOptions struct {
	Client       redis.UniversalClient
	Prefix       string
	ClientKey    string
	RefreshGrace time.Duration
}

// NewSessionCache creates a Redis-backed session cache.
func NewSessionCache(opts SessionCacheOptions) *SessionCache {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	clientKey := opts.ClientKey
	if clientKey == "" {
		clientKey = "default"
	}
	return &SessionCache{
		client:       opts.Client,
		key:          prefix + clientKey,
		refreshGrace: opts.RefreshGrace,
		now:          time.Now,
	}
}

// Key returns the Redis key this cache writes to.
func (c *SessionCache) Key() string { return c.key }

// Save stores sess. The key TTL follows ExpiresAt, extended by the refresh grace
// when the session carries a refresh token. A zero ExpiresAt is stored without TTL.
func (c *SessionCache) Save(ctx context.Context, sess domainauth.Session) error {
	if sess.Identity.IsZero() {
		return errors.New("session identity cannot be empty")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	var ttl time.Duration
	if !sess.ExpiresAt.IsZero() {
		ttl = sess.ExpiresAt.Sub(c.now())
		if sess.CanRefresh() {
			ttl += c.refreshGrace
		}
		if ttl <= 0 {
			return errors.New("session is expired")
		}
	}

	return c.client.Set(ctx, c.key, data, ttl).Err()
}

// Load returns the stored session or domainauth.ErrNoSession.
// Expired sessions without a refresh token are removed and reported as absent.
func (c *SessionCache) Load(ctx context.Context) (domainauth.Session, error) {
	data, err := c.client.Get(ctx, c.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, domainauth.ErrNoSession
		}
		return domainauth.Session{}, fmt.Errorf("redis get: %w", err)
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal(data, &sess); unmarshalErr != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	if sess.Expired(c.now()) && !sess.CanRefresh() {
		if clearErr := c.Clear(ctx); clearErr != nil {
			return domainauth.Session{}, fmt.Errorf("cleanup expired session: %w", clearErr)
		}
		return domainauth.Session{}, domainauth.ErrNoSession
	}

	return sess, nil
}

// Clear removes the stored session. Clearing an absent session is not an error.
func (c *SessionCache) Clear(ctx context.Context) error {
	return c.client.Del(ctx, c.key).Err()
}
