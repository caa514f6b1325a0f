package webhookstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	webhook "github.com/crawlrs/crawlrs/internal/domain/webhook"
)

// PostgresStore implements webhook.Store. Schema carries the
// (status, next_retry_at) partial index this requires.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS webhook_events (
	id            TEXT PRIMARY KEY,
	tenant        TEXT NOT NULL,
	event_type    TEXT NOT NULL,
	resource_id   TEXT NOT NULL,
	payload       JSONB NOT NULL DEFAULT '{}',
	target_url    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	retry_count   INTEGER NOT NULL DEFAULT 0,
	max_retries   INTEGER NOT NULL DEFAULT 5,
	next_retry_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	delivered_at  TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_webhook_pending ON webhook_events (status, next_retry_at) WHERE status = 'pending';
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, e *webhook.Event) error {
	const q = `
INSERT INTO webhook_events (id, tenant, event_type, resource_id, payload, target_url, status, retry_count, max_retries, next_retry_at, created_at)
VALUES (:id, :tenant, :event_type, :resource_id, :payload, :target_url, :status, :retry_count, :max_retries, :next_retry_at, :created_at)`
	if e.Status == "" {
		e.Status = webhook.StatusPending
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = webhook.DefaultMaxRetries
	}
	_, err := s.db.NamedExecContext(ctx, q, e)
	return err
}

func (s *PostgresStore) DuePending(ctx context.Context, now time.Time, limit int) ([]*webhook.Event, error) {
	var events []*webhook.Event
	err := s.db.SelectContext(ctx, &events, `
SELECT * FROM webhook_events WHERE status = 'pending' AND next_retry_at <= $1
ORDER BY created_at ASC LIMIT $2`, now, limit)
	return events, err
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webhook_events SET status = 'delivered', delivered_at = $1 WHERE id = $2`, deliveredAt, id)
	return err
}

func (s *PostgresStore) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE webhook_events SET
	status = CASE WHEN $1 > max_retries THEN 'dead' ELSE 'pending' END,
	retry_count = $1,
	next_retry_at = $2
WHERE id = $3`, retryCount, nextRetryAt, id)
	return err
}

func (s *PostgresStore) MarkDead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE webhook_events SET status = 'dead' WHERE id = $1`, id)
	return err
}
