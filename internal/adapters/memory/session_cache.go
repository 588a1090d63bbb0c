// Package memory holds in-process adapters used when no external store is configured.
package memory

import (
	"context"
	"sync"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/ports"
)

// SessionCache keeps the session for the lifetime of the process only.
type SessionCache struct {
	mu   sync.Mutex
	sess *domainauth.Session
}

var _ ports.SessionCache = (*SessionCache)(nil)

// NewSessionCache returns an empty in-memory cache.
func NewSessionCache() *SessionCache { return &SessionCache{} }

func (c *SessionCache) Save(_ context.Context, sess domainauth.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = &sess
	return nil
}

func (c *SessionCache) Load(_ context.Context) (domainauth.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return domainauth.Session{}, domainauth.ErrNoSession
	}
	return *c.sess, nil
}

func (c *SessionCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sess = nil
	return nil
}
