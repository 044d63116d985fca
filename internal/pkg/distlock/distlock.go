// Package distlock guards work that must run on a single process at a time,
// such as a live campaign dispatch.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// NewLock creates a distributed lock using the best available backend.
// If redisClient is non-nil, uses Redis (preferred for cross-host locking).
// Otherwise falls back to PostgreSQL advisory locks, and to an in-process
// lock when neither is configured.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	if db != nil {
		return NewPGAdvisoryLock(db, key)
	}
	return defaultLocal.lock(key)
}

// Factory builds per-key locks against fixed backends.
type Factory struct {
	redis *redis.Client
	db    *sql.DB
	ttl   time.Duration
}

// NewFactory returns a Factory. Either backend may be nil.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) *Factory {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Factory{redis: redisClient, db: db, ttl: ttl}
}

// Lock returns a fresh lock instance for key.
func (f *Factory) Lock(key string) DistLock {
	return NewLock(f.redis, f.db, key, f.ttl)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped.
// The lock is held on a dedicated connection so that unlock runs on the
// same session that locked.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// =============================================================================
// In-process lock (single binary, no shared backend)
// =============================================================================

type localRegistry struct {
	mu   sync.Mutex
	held map[string]bool
}

var defaultLocal = &localRegistry{held: make(map[string]bool)}

func (r *localRegistry) lock(key string) *LocalLock {
	return &LocalLock{reg: r, key: key}
}

// LocalLock is a DistLock that only excludes holders within this process.
type LocalLock struct {
	reg   *localRegistry
	key   string
	owned bool
}

// NewLocalLock returns an in-process lock for key.
func NewLocalLock(key string) *LocalLock { return defaultLocal.lock(key) }

// Acquire claims key if no other LocalLock in the process holds it.
func (l *LocalLock) Acquire(context.Context) (bool, error) {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if l.reg.held[l.key] {
		return false, nil
	}
	l.reg.held[l.key] = true
	l.owned = true
	return true, nil
}

// Release frees key if this instance holds it.
func (l *LocalLock) Release(context.Context) error {
	l.reg.mu.Lock()
	defer l.reg.mu.Unlock()
	if l.owned {
		delete(l.reg.held, l.key)
		l.owned = false
	}
	return nil
}
