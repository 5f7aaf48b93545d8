// Package lock guards top-up schedule execution against concurrent runs.
//
// Executing the same schedule twice credits every account twice, so the
// engine takes a lock keyed by schedule id before it moves a schedule to
// processing. A held lock fails fast with generic.ErrScheduleLocked; there
// is no waiting or retry.
package lock

import (
	"context"
	"sync"
	"time"

	"github.com/tranminhhien3124027717/agile-moe/generic"
)

// Locker acquires named, expiring locks.
type Locker interface {
	// Acquire takes the lock or returns generic.ErrScheduleLocked.
	// The returned release func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// =============================================================================
// LOCAL - Single-process locks
// =============================================================================

// Local is an in-process Locker for single-instance deployments and tests.
type Local struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocal() *Local {
	return &Local{held: make(map[string]time.Time), clock: time.Now}
}

func (l *Local) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if expires, ok := l.held[key]; ok && now.Before(expires) {
		return nil, generic.ErrScheduleLocked
	}
	expires := now.Add(ttl)
	l.held[key] = expires

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			// Only drop our own hold; it may have expired and been re-taken.
			if l.held[key].Equal(expires) {
				delete(l.held, key)
			}
		})
	}, nil
}

// Noop never blocks. Used when locking is disabled.
type Noop struct{}

func (Noop) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}
