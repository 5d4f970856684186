// Package distlock provides per-key mutual exclusion across worker processes.
// Dispatch uses one lock per channel so a channel's pending events are never
// selected by two workers at once.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotOwned is returned when extending or releasing a lock held by someone else.
var ErrNotOwned = errors.New("distlock: lock not owned")

// DistLock is a single named lock. An instance must not be shared between
// goroutines; ask the Provider for a fresh one instead.
type DistLock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance still owns it.
	Release(ctx context.Context) error
}

// Provider mints locks for keys under a common prefix. It prefers Redis,
// then Postgres advisory locks, then an in-process table.
type Provider struct {
	redis  *redis.Client
	db     *sql.DB
	prefix string
	ttl    time.Duration
	local  *localTable
}

// NewProvider returns a Provider. Both backends may be nil, in which case
// locks only exclude goroutines of the current process.
func NewProvider(redisClient *redis.Client, db *sql.DB, prefix string, ttl time.Duration) *Provider {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Provider{redis: redisClient, db: db, prefix: prefix, ttl: ttl, local: &localTable{held: map[string]struct{}{}}}
}

// For returns a new lock instance for key.
func (p *Provider) For(key string) DistLock {
	full := p.prefix + key
	switch {
	case p.redis != nil:
		return NewRedisLock(p.redis, full, p.ttl)
	case p.db != nil:
		return NewPGAdvisoryLock(p.db, full)
	default:
		return &localLock{table: p.local, key: full}
	}
}

// WithLock runs fn while holding l. It reports false without calling fn
// when the lock is held elsewhere.
func WithLock(ctx context.Context, l DistLock, fn func(context.Context) error) (bool, error) {
	ok, err := l.Acquire(ctx)
	if err != nil || !ok {
		return false, err
	}
	defer func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = l.Release(relCtx)
	}()
	return true, fn(ctx)
}

// PGAdvisoryLock uses pg_try_advisory_lock. Advisory locks are held by a
// session, so the instance pins one pooled connection from Acquire until
// Release.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

// NewPGAdvisoryLock derives a stable lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("distlock: pin connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, fmt.Errorf("distlock: advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return ErrNotOwned
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

type localTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

type localLock struct {
	table *localTable
	key   string
	owned bool
}

func (l *localLock) Acquire(context.Context) (bool, error) {
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if _, busy := l.table.held[l.key]; busy {
		return false, nil
	}
	l.table.held[l.key] = struct{}{}
	l.owned = true
	return true, nil
}

func (l *localLock) Release(context.Context) error {
	if !l.owned {
		return ErrNotOwned
	}
	l.table.mu.Lock()
	delete(l.table.held, l.key)
	l.table.mu.Unlock()
	l.owned = false
	return nil
}
