package backlogstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/crawlrs/crawlrs/internal/backlog"
)

// PostgresStore implements backlog.Store over a dedicated table so the
// reaper can enumerate parked tasks without scanning the tasks table's
// full queued set.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS backlog_entries (
	task_id     TEXT PRIMARY KEY,
	tenant      TEXT NOT NULL,
	"limit"     INTEGER NOT NULL,
	admitted_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backlog_tenant ON backlog_entries (tenant);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *PostgresStore) Add(ctx context.Context, e backlog.Entry) error {
	const q = `
INSERT INTO backlog_entries (task_id, tenant, "limit", admitted_at, expires_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (task_id) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q, e.TaskID, e.Tenant, e.Limit, e.AdmittedAt, e.ExpiresAt)
	return err
}

func (s *PostgresStore) Remove(ctx context.Context, taskID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM backlog_entries WHERE task_id = $1`, taskID)
	return err
}

type backlogRow struct {
	TaskID     string    `db:"task_id"`
	Tenant     string    `db:"tenant"`
	Limit      int       `db:"limit"`
	AdmittedAt time.Time `db:"admitted_at"`
	ExpiresAt  time.Time `db:"expires_at"`
}

func (s *PostgresStore) All(ctx context.Context) ([]backlog.Entry, error) {
	var rows []backlogRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT task_id, tenant, "limit", admitted_at, expires_at FROM backlog_entries`); err != nil {
		return nil, err
	}
	out := make([]backlog.Entry, 0, len(rows))
	for _, r := range rows {
		out = append(out, backlog.Entry{
			TaskID:     r.TaskID,
			Tenant:     r.Tenant,
			Limit:      r.Limit,
			AdmittedAt: r.AdmittedAt,
			ExpiresAt:  r.ExpiresAt,
		})
	}
	return out, nil
}
