// Package sessionwatch tracks a provider's live session: it persists it, refreshes it when the
// access token expires and tells watchers about refreshes and drops.
package sessionwatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/astracore/astracore/internal/domain/auth"
	"github.com/astracore/astracore/internal/ports"
)

// DefaultRefreshTimeout bounds a timer-driven refresh when Options.RefreshTimeout is zero.
const DefaultRefreshTimeout = 30 * time.Second

// RefreshFunc exchanges sess for a new session. It must not persist or track the result.
type RefreshFunc func(ctx context.Context, sess domainauth.Session) (domainauth.Session, error)

// Options configures a Tracker.
type Options struct {
	Cache          ports.SessionCache
	Refresh        RefreshFunc
	RefreshTimeout time.Duration
	Logger         *slog.Logger
	Now            func() time.Time
}

// Tracker owns the provider's current session and its persisted copy.
type Tracker struct {
	cache   ports.SessionCache
	refresh RefreshFunc
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// mu guards current, timer and writes to cache. Watchers run with mu held.
	mu      sync.Mutex
	current *domainauth.Session
	timer   *time.Timer

	wmu      sync.Mutex
	watchers map[int]func(ports.SessionEvent)
	nextID   int
}

var _ ports.SessionWatcher = (*Tracker)(nil)

// New returns a Tracker with no session.
func New(opts Options) *Tracker {
	if opts.Cache == nil {
		panic("sessionwatch.New: Cache is required") //nolint:forbidigo // programming error at wiring time
	}
	timeout := opts.RefreshTimeout
	if timeout <= 0 {
		timeout = DefaultRefreshTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		cache:    opts.Cache,
		refresh:  opts.Refresh,
		timeout:  timeout,
		logger:   logger,
		now:      now,
		watchers: make(map[int]func(ports.SessionEvent)),
	}
}

// Watch registers fn for refresh and expiry events. fn runs while the tracker is locked and
// must not call back into the provider.
func (t *Tracker) Watch(fn func(ports.SessionEvent)) func() {
	t.wmu.Lock()
	id := t.nextID
	t.nextID++
	t.watchers[id] = fn
	t.wmu.Unlock()
	return func() {
		t.wmu.Lock()
		delete(t.watchers, id)
		t.wmu.Unlock()
	}
}

// Current returns a copy of the tracked session or nil.
func (t *Tracker) Current() *domainauth.Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return nil
	}
	sess := *t.current
	return &sess
}

// Track adopts a session that is already persisted, such as one just loaded from the cache.
func (t *Tracker) Track(sess domainauth.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(&sess)
}

// Commit persists sess and adopts it. Nothing changes when the cache write fails.
func (t *Tracker) Commit(ctx context.Context, sess domainauth.Session) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.cache.Save(ctx, sess); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	t.setLocked(&sess)
	return nil
}

// Clear forgets the tracked session and removes the persisted copy.
// A refresh in flight for the forgotten session is discarded when it completes.
func (t *Tracker) Clear(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setLocked(nil)
	if err := t.cache.Clear(ctx); err != nil {
		return fmt.Errorf("clear persisted session: %w", err)
	}
	return nil
}

func (t *Tracker) setLocked(sess *domainauth.Session) {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.current = sess
	if sess == nil || sess.ExpiresAt.IsZero() {
		return
	}
	t.timer = time.AfterFunc(sess.ExpiresAt.Sub(t.now()), func() { t.expire(sess) })
}

// expire refreshes the session the timer was armed for. The outcome is applied only if that
// session is still current once the refresh returns.
func (t *Tracker) expire(armed *domainauth.Session) {
	t.mu.Lock()
	live := t.current == armed
	t.mu.Unlock()
	if !live {
		return
	}

	next, err := t.refreshArmed(*armed)

	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current != armed {
		t.logger.InfoContext(ctx, "discarding refresh result for a replaced session", "user_id", armed.Identity.UserID)
		return
	}
	if err == nil {
		if serr := t.cache.Save(ctx, *next); serr != nil {
			next, err = nil, fmt.Errorf("persist session: %w", serr)
		}
	}
	if err != nil {
		t.logger.InfoContext(ctx, "session expired", "user_id", armed.Identity.UserID, "error", err)
		t.setLocked(nil)
		if cerr := t.cache.Clear(ctx); cerr != nil {
			t.logger.WarnContext(ctx, "failed to clear expired session", "error", cerr)
		}
	} else {
		t.setLocked(next)
	}
	t.notifyLocked(ports.SessionEvent{Session: next})
}

func (t *Tracker) refreshArmed(sess domainauth.Session) (*domainauth.Session, error) {
	if !sess.CanRefresh() || t.refresh == nil {
		return nil, errors.New("session cannot be refreshed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()
	next, err := t.refresh(ctx, sess)
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (t *Tracker) notifyLocked(ev ports.SessionEvent) {
	t.wmu.Lock()
	fns := make([]func(ports.SessionEvent), 0, len(t.watchers))
	for _, fn := range t.watchers {
		fns = append(fns, fn)
	}
	t.wmu.Unlock()
	for _, fn := range fns {
		var copied ports.SessionEvent
		if ev.Session != nil {
			sess := *ev.Session
			copied.Session = &sess
		}
		fn(copied)
	}
}
