// Package taskstore provides postgres-backed and in-memory implementations
// of task.Store. The schema and claim-query shape are adapted from a
// prior internal/infra/task postgres store (its
// TryClaimTask/ClaimResumableTasks tests describe a NewPostgresStore(pool)
// constructor and a single-round-trip CAS claim, though its own
// non-test implementation was never present in the retrieved tree — the
// SQL below is authored from that test's contract plus SKIP LOCKED
// claiming; LeaseNext claims inside a two-statement transaction rather
// than in a single round trip).
package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
	"github.com/crawlrs/crawlrs/internal/logging"
	task "github.com/crawlrs/crawlrs/internal/domain/task"
)

// PostgresStore implements task.Store over a pgx connection pool accessed
// through sqlx for scanning convenience.
type PostgresStore struct {
	db     *sqlx.DB
	logger logging.Logger
}

// NewPostgresStore wraps an existing pgx pool. The pool is expected to be
// opened by the caller (cmd/crawlrs-server) from the configured connection
// string.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	db := sqlx.NewDb(stdlibOpener(pool), "pgx")
	return &PostgresStore{db: db, logger: logging.NewComponentLogger("taskstore")}
}

// EnsureSchema creates the tasks table and the indexes this requires:
// (status, priority desc) for dispatch, and a partial index on lease_holder
// for reaping.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	kind           TEXT NOT NULL,
	tenant         TEXT NOT NULL,
	priority       INTEGER NOT NULL DEFAULT 0,
	status         TEXT NOT NULL,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	payload        JSONB NOT NULL DEFAULT '{}',
	lease_holder   TEXT,
	lease_deadline TIMESTAMPTZ,
	parent_id      TEXT,
	crawl_id       TEXT,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at     TIMESTAMPTZ,
	completed_at   TIMESTAMPTZ,
	next_retry_at  TIMESTAMPTZ,
	result         JSONB,
	error          TEXT,
	webhook_url    TEXT
);
CREATE INDEX IF NOT EXISTS idx_tasks_dispatch ON tasks (status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_tasks_leased ON tasks (lease_holder) WHERE lease_deadline IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_tasks_retry ON tasks (status, next_retry_at) WHERE status = 'queued';
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *PostgresStore) Enqueue(ctx context.Context, t *task.Task) error {
	const q = `
INSERT INTO tasks (id, kind, tenant, priority, status, retry_count, max_retries,
	payload, parent_id, crawl_id, created_at, webhook_url)
VALUES (:id, :kind, :tenant, :priority, :status, :retry_count, :max_retries,
	:payload, :parent_id, :crawl_id, :created_at, :webhook_url)`
	row := taskRow{}
	row.fromDomain(t)
	if row.Status == "" {
		row.Status = string(task.StatusQueued)
	}
	_, err := s.db.NamedExecContext(ctx, q, row)
	return err
}

func (s *PostgresStore) Find(ctx context.Context, id string) (*task.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM tasks WHERE id = $1`, id)
	if err != nil {
		return nil, domainerrors.New(domainerrors.KindNotFound, "task not found", err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) Cancel(ctx context.Context, ids []string, force bool) error {
	if len(ids) == 0 {
		return nil
	}
	q := `UPDATE tasks SET status = 'cancelled', completed_at = now(), lease_holder = NULL, lease_deadline = NULL
WHERE id = ANY($1) AND status NOT IN ('completed', 'failed', 'cancelled')`
	if !force {
		q += ` AND status = 'queued'`
	}
	_, err := s.db.ExecContext(ctx, q, pqStringArray(ids))
	return err
}

func (s *PostgresStore) Query(ctx context.Context, ids []string, filters task.QueryFilters, includeResult bool) ([]*task.Task, error) {
	q := `SELECT * FROM tasks WHERE 1=1`
	args := []any{}
	n := 1
	if len(ids) > 0 {
		q += fmt.Sprintf(" AND id = ANY($%d)", n)
		args = append(args, pqStringArray(ids))
		n++
	}
	if len(filters.Statuses) > 0 {
		q += fmt.Sprintf(" AND status = ANY($%d)", n)
		args = append(args, pqStringSlice(filters.Statuses))
		n++
	}
	if len(filters.Kinds) > 0 {
		q += fmt.Sprintf(" AND kind = ANY($%d)", n)
		args = append(args, pqKindSlice(filters.Kinds))
		n++
	}
	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(rows))
	for _, r := range rows {
		t := r.toDomain()
		if !includeResult {
			t.Result = nil
		}
		out = append(out, t)
	}
	return out, nil
}

// LeaseNext claims at most one queued task inside one transaction: a
// SELECT ... FOR UPDATE SKIP LOCKED picks the row and an UPDATE leases
// it, so concurrent lease_next calls never block on each other. The
// claim is two statements, not a single round trip.
func (s *PostgresStore) LeaseNext(ctx context.Context, workerID string, kinds []task.Kind, now time.Time, leaseDuration time.Duration) (*task.Task, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var row taskRow
	q := `
SELECT * FROM tasks
WHERE status = 'queued' AND kind = ANY($1) AND (next_retry_at IS NULL OR next_retry_at <= $2)
ORDER BY priority DESC, created_at ASC
FOR UPDATE SKIP LOCKED
LIMIT 1`
	err = tx.GetContext(ctx, &row, q, pqKindSlice(kinds), now)
	if err != nil {
		return nil, nil // no eligible row; not an error
	}

	deadline := now.Add(leaseDuration)
	_, err = tx.ExecContext(ctx, `
UPDATE tasks SET status = 'active', lease_holder = $1, lease_deadline = $2, started_at = COALESCE(started_at, $3)
WHERE id = $4`, workerID, deadline, now, row.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	row.Status = string(task.StatusActive)
	row.LeaseHolder = &workerID
	row.LeaseDeadline = &deadline
	return row.toDomain(), nil
}

func (s *PostgresStore) ExtendLease(ctx context.Context, id, workerID string, deadline time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET lease_deadline = $1
WHERE id = $2 AND lease_holder = $3 AND status = 'active'`, deadline, id, workerID)
	if err != nil {
		return false, err
	}
	return rowsAffected(res) > 0, nil
}

func (s *PostgresStore) Complete(ctx context.Context, id, workerID string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = 'completed', result = $1, completed_at = now(), lease_holder = NULL, lease_deadline = NULL
WHERE id = $2 AND lease_holder = $3 AND status = 'active'`, result, id, workerID)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return domainerrors.New(domainerrors.KindLostLease, "lease lost before complete", nil)
	}
	return nil
}

const failTerminalSQL = `
UPDATE tasks SET status = 'failed', completed_at = now(), lease_holder = NULL, lease_deadline = NULL, error = $1
WHERE id = $2 AND lease_holder = $3 AND status = 'active'`

// Fail requeues with backoff when retry is true and the task still has
// retry budget left. When the retry UPDATE's WHERE clause excludes the
// row on retry_count >= max_retries, it falls through to the same
// terminal UPDATE the non-retry path uses, rather than assuming the
// lease was lost — only a terminal UPDATE affecting zero rows means
// that.
func (s *PostgresStore) Fail(ctx context.Context, id, workerID string, errCode string, retry bool, nextRetryAt time.Time) (bool, error) {
	if retry {
		res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = 'queued', retry_count = retry_count + 1, next_retry_at = $1,
	lease_holder = NULL, lease_deadline = NULL, error = $2
WHERE id = $3 AND lease_holder = $4 AND status = 'active' AND retry_count < max_retries`,
			nextRetryAt, errCode, id, workerID)
		if err != nil {
			return false, err
		}
		if rowsAffected(res) > 0 {
			return false, nil
		}
		// Retry budget exhausted (or the lease really was lost); the
		// terminal UPDATE below disambiguates the two.
	}

	res, err := s.db.ExecContext(ctx, failTerminalSQL, errCode, id, workerID)
	if err != nil {
		return false, err
	}
	if rowsAffected(res) == 0 {
		return false, domainerrors.New(domainerrors.KindLostLease, "lease lost before fail", nil)
	}
	return true, nil
}

// Requeue reverts an active task back to queued, releasing its lease.
// nextEligibleAt suppresses LeaseNext eligibility until that instant;
// nil clears any existing hold.
func (s *PostgresStore) Requeue(ctx context.Context, id, workerID string, nextEligibleAt *time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = 'queued', lease_holder = NULL, lease_deadline = NULL, next_retry_at = $1
WHERE id = $2 AND lease_holder = $3 AND status = 'active'`, nextEligibleAt, id, workerID)
	if err != nil {
		return err
	}
	if rowsAffected(res) == 0 {
		return domainerrors.New(domainerrors.KindLostLease, "lease lost before requeue", nil)
	}
	return nil
}

// PromoteFromBacklog clears a queued task's next_retry_at hold so
// LeaseNext can pick it up again.
func (s *PostgresStore) PromoteFromBacklog(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET next_retry_at = NULL WHERE id = $1 AND status = 'queued'`, id)
	if err != nil {
		return false, err
	}
	return rowsAffected(res) > 0, nil
}

func (s *PostgresStore) ReapExpiredLeases(ctx context.Context, now time.Time) ([]task.LeaseReaped, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
UPDATE tasks SET status = 'queued', lease_holder = NULL, lease_deadline = NULL
WHERE status = 'active' AND lease_deadline <= $1
RETURNING id`, now)
	if err != nil {
		return nil, err
	}
	out := make([]task.LeaseReaped, 0, len(ids))
	for _, id := range ids {
		out = append(out, task.LeaseReaped{TaskID: id})
	}
	return out, nil
}

func (s *PostgresStore) DueForRetry(ctx context.Context, now time.Time, limit int) ([]*task.Task, error) {
	var rows []taskRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT * FROM tasks WHERE status = 'queued' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
ORDER BY priority DESC, created_at ASC LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*task.Task, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}
