// Package crawlstore provides postgres-backed and in-memory
// implementations of crawl.Store, mirroring the structural split of
// internal/infra/taskstore for the crawl aggregate this defines
// alongside tasks.
package crawlstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	crawl "github.com/crawlrs/crawlrs/internal/domain/crawl"
	domainerrors "github.com/crawlrs/crawlrs/internal/errors"
)

// PostgresStore implements crawl.Store.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS crawls (
	id           TEXT PRIMARY KEY,
	tenant       TEXT NOT NULL,
	seed_url     TEXT NOT NULL,
	config       JSONB NOT NULL DEFAULT '{}',
	discovered   INTEGER NOT NULL DEFAULT 0,
	completed    INTEGER NOT NULL DEFAULT 0,
	failed       INTEGER NOT NULL DEFAULT 0,
	cancelled    INTEGER NOT NULL DEFAULT 0,
	in_flight    INTEGER NOT NULL DEFAULT 0,
	queued       INTEGER NOT NULL DEFAULT 0,
	status       TEXT NOT NULL DEFAULT 'processing',
	seed_task_id TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ,
	expires_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crawls_expiry ON crawls (status, expires_at) WHERE status = 'processing';
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

type crawlRow struct {
	ID          string     `db:"id"`
	Tenant      string     `db:"tenant"`
	SeedURL     string     `db:"seed_url"`
	Config      []byte     `db:"config"`
	Discovered  int        `db:"discovered"`
	Completed   int        `db:"completed"`
	Failed      int        `db:"failed"`
	Cancelled   int        `db:"cancelled"`
	InFlight    int        `db:"in_flight"`
	Queued      int        `db:"queued"`
	Status      string     `db:"status"`
	SeedTaskID  string     `db:"seed_task_id"`
	CreatedAt   time.Time  `db:"created_at"`
	CompletedAt *time.Time `db:"completed_at"`
	ExpiresAt   time.Time  `db:"expires_at"`
}

func (r *crawlRow) fromDomain(c *crawl.Crawl) error {
	cfg, err := json.Marshal(c.Config)
	if err != nil {
		return err
	}
	r.ID = c.ID
	r.Tenant = c.Tenant
	r.SeedURL = c.SeedURL
	r.Config = cfg
	r.Discovered = c.Counters.Discovered
	r.Completed = c.Counters.Completed
	r.Failed = c.Counters.Failed
	r.Cancelled = c.Counters.Cancelled
	r.InFlight = c.Counters.InFlight
	r.Queued = c.Counters.Queued
	r.Status = string(c.Status)
	r.SeedTaskID = c.SeedTaskID
	r.CreatedAt = c.CreatedAt
	r.CompletedAt = c.CompletedAt
	r.ExpiresAt = c.ExpiresAt
	return nil
}

func (r *crawlRow) toDomain() *crawl.Crawl {
	var cfg crawl.Config
	_ = json.Unmarshal(r.Config, &cfg)
	return &crawl.Crawl{
		ID:      r.ID,
		Tenant:  r.Tenant,
		SeedURL: r.SeedURL,
		Config:  cfg,
		Counters: crawl.Counters{
			Discovered: r.Discovered,
			Completed:  r.Completed,
			Failed:     r.Failed,
			Cancelled:  r.Cancelled,
			InFlight:   r.InFlight,
			Queued:     r.Queued,
		},
		Status:      crawl.Status(r.Status),
		SeedTaskID:  r.SeedTaskID,
		CreatedAt:   r.CreatedAt,
		CompletedAt: r.CompletedAt,
		ExpiresAt:   r.ExpiresAt,
	}
}

func (s *PostgresStore) Create(ctx context.Context, c *crawl.Crawl) error {
	var row crawlRow
	if err := row.fromDomain(c); err != nil {
		return err
	}
	const q = `
INSERT INTO crawls (id, tenant, seed_url, config, status, seed_task_id, created_at, expires_at)
VALUES (:id, :tenant, :seed_url, :config, :status, :seed_task_id, :created_at, :expires_at)`
	_, err := s.db.NamedExecContext(ctx, q, row)
	return err
}

func (s *PostgresStore) Find(ctx context.Context, id string) (*crawl.Crawl, error) {
	var row crawlRow
	if err := s.db.GetContext(ctx, &row, `SELECT * FROM crawls WHERE id = $1`, id); err != nil {
		return nil, domainerrors.New(domainerrors.KindNotFound, "crawl not found", err)
	}
	return row.toDomain(), nil
}

// IncrementCounters atomically bumps every counter column by its delta
// and returns the row post-update, in one round trip.
func (s *PostgresStore) IncrementCounters(ctx context.Context, id string, discovered, completed, failed, cancelled, inFlight, queued int) (*crawl.Crawl, error) {
	var row crawlRow
	err := s.db.GetContext(ctx, &row, `
UPDATE crawls SET
	discovered = discovered + $1,
	completed  = completed  + $2,
	failed     = failed     + $3,
	cancelled  = cancelled  + $4,
	in_flight  = in_flight  + $5,
	queued     = queued     + $6
WHERE id = $7
RETURNING *`, discovered, completed, failed, cancelled, inFlight, queued, id)
	if err != nil {
		return nil, err
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) TryComplete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE crawls SET status = 'completed', completed_at = now()
WHERE id = $1 AND status = 'processing' AND queued = 0 AND in_flight = 0`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) Cancel(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE crawls SET status = 'cancelled', completed_at = now()
WHERE id = $1 AND status = 'processing'`, id)
	return err
}

func (s *PostgresStore) Expire(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids, `
UPDATE crawls SET status = 'expired', completed_at = $1
WHERE status = 'processing' AND expires_at <= $1
RETURNING id`, now)
	return ids, err
}

// ListChildren reads directly from the tasks table's crawl_id column
// rather than maintaining a redundant join table — every crawl-seed and
// crawl-child task already carries its owning crawl id.
func (s *PostgresStore) ListChildren(ctx context.Context, crawlID string, page, limit int) ([]string, int, error) {
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT count(*) FROM tasks WHERE crawl_id = $1`, crawlID); err != nil {
		return nil, 0, err
	}
	var ids []string
	offset := (page - 1) * limit
	if offset < 0 {
		offset = 0
	}
	err := s.db.SelectContext(ctx, &ids, `
SELECT id FROM tasks WHERE crawl_id = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		crawlID, limit, offset)
	return ids, total, err
}
