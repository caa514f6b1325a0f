package taskstore

import (
	"database/sql"
	"database/sql/driver"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	task "github.com/crawlrs/crawlrs/internal/domain/task"
)

// taskRow is the flat, sqlx-scannable shape of a tasks row. Nullable
// lease/timestamp/result columns use pointers so sqlx maps NULL cleanly.
type taskRow struct {
	ID            string         `db:"id"`
	Kind          string         `db:"kind"`
	Tenant        string         `db:"tenant"`
	Priority      int            `db:"priority"`
	Status        string         `db:"status"`
	RetryCount    int            `db:"retry_count"`
	MaxRetries    int            `db:"max_retries"`
	Payload       []byte         `db:"payload"`
	LeaseHolder   *string        `db:"lease_holder"`
	LeaseDeadline *time.Time     `db:"lease_deadline"`
	ParentID      *string        `db:"parent_id"`
	CrawlID       *string        `db:"crawl_id"`
	CreatedAt     time.Time      `db:"created_at"`
	StartedAt     *time.Time     `db:"started_at"`
	CompletedAt   *time.Time     `db:"completed_at"`
	NextRetryAt   *time.Time     `db:"next_retry_at"`
	Result        []byte         `db:"result"`
	Error         string         `db:"error"`
	WebhookURL    string         `db:"webhook_url"`
}

func (r *taskRow) fromDomain(t *task.Task) {
	r.ID = t.ID
	r.Kind = string(t.Kind)
	r.Tenant = t.Tenant
	r.Priority = t.Priority
	r.Status = string(t.Status)
	r.RetryCount = t.RetryCount
	r.MaxRetries = t.MaxRetries
	r.Payload = []byte(t.Payload)
	r.LeaseHolder = t.LeaseHolder
	r.LeaseDeadline = t.LeaseDeadline
	r.ParentID = t.ParentID
	r.CrawlID = t.CrawlID
	r.CreatedAt = t.CreatedAt
	r.StartedAt = t.StartedAt
	r.CompletedAt = t.CompletedAt
	r.NextRetryAt = t.NextRetryAt
	r.Result = []byte(t.Result)
	r.Error = t.Error
	r.WebhookURL = t.WebhookURL
}

func (r *taskRow) toDomain() *task.Task {
	return &task.Task{
		ID:            r.ID,
		Kind:          task.Kind(r.Kind),
		Tenant:        r.Tenant,
		Priority:      r.Priority,
		Status:        task.Status(r.Status),
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		Payload:       r.Payload,
		LeaseHolder:   r.LeaseHolder,
		LeaseDeadline: r.LeaseDeadline,
		ParentID:      r.ParentID,
		CrawlID:       r.CrawlID,
		CreatedAt:     r.CreatedAt,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		NextRetryAt:   r.NextRetryAt,
		Result:        r.Result,
		Error:         r.Error,
		WebhookURL:    r.WebhookURL,
	}
}

// stdlibOpener adapts a pgxpool.Pool to a *sql.DB so sqlx can drive it; the
// pool remains the single real connection manager, sqlx is only used for
// its scanning and NamedExec convenience on top of it.
func stdlibOpener(pool *pgxpool.Pool) *sql.DB {
	return stdlib.OpenDBFromPool(pool)
}

type sqlResult = sql.Result

func rowsAffected(res sql.Result) int64 {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

// pqStringArray/pqStringSlice/pqKindSlice pass Go slices straight through
// as ANY($n) query args; pgx's native type mapping encodes []string and
// similar slice types as a Postgres array without needing a separate
// lib/pq-style Array() wrapper.
func pqStringArray(ss []string) driver.Valuer { return stringArray(ss) }
func pqStringSlice(ss []task.Status) driver.Valuer {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return stringArray(out)
}
func pqKindSlice(ks []task.Kind) driver.Valuer {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = string(k)
	}
	return stringArray(out)
}

type stringArray []string

func (a stringArray) Value() (driver.Value, error) { return []string(a), nil }
