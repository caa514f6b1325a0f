// Package tenant implements the per-tenant concurrency semaphore: an
// atomic counter in Redis capped at the tenant's limit, acquired and
// released as Permits that are guaranteed to release on every exit
// path of their holder.
package tenant

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/crawlrs/crawlrs/internal/backlog"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
	"github.com/crawlrs/crawlrs/internal/worker"
)

// Permit represents one held unit of a tenant's concurrency budget.
// Release is idempotent-guarded: a second Release is a programming error
// the caller is expected to avoid, but Release defends against it with a sync.Once so a buggy
// defer-plus-explicit-release pair can't double-decrement the counter.
type Permit struct {
	tenant string
	sem    *Semaphore
	once   sync.Once
}

// Release returns the permit's unit of concurrency to the tenant's
// budget. Safe to call multiple times; only the first call has effect.
func (p *Permit) Release(ctx context.Context) {
	p.once.Do(func() {
		p.sem.release(ctx, p.tenant)
	})
}

// Semaphore enforces a per-tenant concurrency cap via an atomic Redis
// counter, looked up per request since limits can change while permits
// are outstanding.
type Semaphore struct {
	rdb    *redis.Client
	logger logging.Logger
}

// NewSemaphore wraps an existing Redis client.
func NewSemaphore(rdb *redis.Client) *Semaphore {
	return &Semaphore{rdb: rdb, logger: logging.NewComponentLogger("tenant-semaphore")}
}

func key(tenant string) string { return fmt.Sprintf("tenant:concurrency:%s", tenant) }

// acquireScript atomically increments the counter only if it is still
// below limit, returning the post-increment value or -1 on rejection.
// A Lua script is required because INCR+check is not atomic on its own.
var acquireScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if current >= limit then
	return -1
end
return redis.call("INCR", KEYS[1])
`)

// Acquire attempts to claim one unit of tenant's concurrency budget.
// Returns (permit, true, nil) on success, or (nil, false, nil) on a
// would-block outcome; the caller routes the task to the backlog
// instead of treating this as an error.
func (s *Semaphore) Acquire(ctx context.Context, tenantID string, limit int) (*Permit, bool, error) {
	res, err := acquireScript.Run(ctx, s.rdb, []string{key(tenantID)}, limit).Int()
	if err != nil {
		return nil, false, domainerrors.New(domainerrors.KindInternal, "tenant semaphore unavailable", err)
	}
	if res < 0 {
		return nil, false, nil
	}
	return &Permit{tenant: tenantID, sem: s}, true, nil
}

// AsBacklogProber adapts Acquire's concrete *Permit return to the
// backlog.Releaser interface the reaper depends on, keeping
// internal/backlog free of a dependency on this package.
type AsBacklogProber struct{ Sem *Semaphore }

func (p AsBacklogProber) Acquire(ctx context.Context, tenantID string, limit int) (backlog.Releaser, bool, error) {
	permit, ok, err := p.Sem.Acquire(ctx, tenantID, limit)
	if permit == nil {
		return nil, ok, err
	}
	return permit, ok, err
}

// AsPermitAcquirer adapts Acquire to the worker package's
// PermitAcquirer/Releaser interfaces, the same nil-interface-vs-nil-pointer
// trick as AsBacklogProber but for the worker pool's caller instead of the
// backlog reaper's.
type AsPermitAcquirer struct{ Sem *Semaphore }

func (p AsPermitAcquirer) Acquire(ctx context.Context, tenantID string, limit int) (worker.Releaser, bool, error) {
	permit, ok, err := p.Sem.Acquire(ctx, tenantID, limit)
	if permit == nil {
		return nil, ok, err
	}
	return permit, ok, err
}

func (s *Semaphore) release(ctx context.Context, tenantID string) {
	n, err := s.rdb.Decr(ctx, key(tenantID)).Result()
	if err != nil {
		s.logger.Error("releasing permit for tenant %s: %v", tenantID, err)
		return
	}
	if n < 0 {
		// Defensive floor: a decrement below zero means a permit was
		// double-released or the counter was reset externally; clamp it
		// back rather than let future Acquire calls undercount capacity.
		s.rdb.Set(ctx, key(tenantID), 0, 0)
	}
}

// InUse returns the current in-flight count for a tenant. Nothing in
// this module calls it; the backlog reaper probes headroom with Acquire.
func (s *Semaphore) InUse(ctx context.Context, tenantID string) (int, error) {
	n, err := s.rdb.Get(ctx, key(tenantID)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, domainerrors.New(domainerrors.KindInternal, "tenant semaphore unavailable", err)
	}
	return n, nil
}
