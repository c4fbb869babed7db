// Package repository provides SQL-backed storage for the coordination hub.
// It runs against SQLite (single writer + read-only pool) or PostgreSQL via
// the shared db.Pool; every tool handler executes inside one transaction
// obtained from WithTransaction.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/caephub/caephub/internal/db"
	"github.com/caephub/caephub/internal/db/dialect"
)

// queries holds the row-level operations shared by Repository (autocommit)
// and Tx (transactional). All SQL goes through x so the same methods run
// inside or outside a transaction.
type queries struct {
	x      sqlx.ExtContext
	driver string
}

// Repository provides hub storage over a db.Pool.
type Repository struct {
	queries
	pool *db.Pool
}

// Tx exposes the row-level operations bound to one open transaction.
type Tx struct {
	queries
}

// New creates a repository over the pool and initializes the schema.
func New(pool *db.Pool) (*Repository, error) {
	r := &Repository{
		queries: queries{x: pool.Writer(), driver: pool.Writer().DriverName()},
		pool:    pool,
	}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

// WithTransaction runs fn inside a single transaction on the writer pool.
// The transaction is rolled back when fn returns an error and committed
// otherwise.
func (r *Repository) WithTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := r.pool.Writer().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Tx{queries{x: sqlTx, driver: r.driver}}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("rollback after %w: %v", err, rbErr)
		}
		return err
	}
	return sqlTx.Commit()
}

// Reader returns the read-only operations bound to the reader pool. Use it
// for queries outside a tool transaction (dashboards, janitor scans).
func (r *Repository) Reader() *Tx {
	return &Tx{queries{x: r.pool.Reader(), driver: r.pool.Reader().DriverName()}}
}

// Close releases the underlying pool.
func (r *Repository) Close() error {
	return r.pool.Close()
}

// initSchema creates the hub tables if they don't exist.
func (r *Repository) initSchema() error {
	serial := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if dialect.IsPostgres(r.driver) {
		serial = "BIGSERIAL PRIMARY KEY"
	}

	ddl := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL DEFAULT 'any',
		source TEXT NOT NULL DEFAULT '',
		registered_at BIGINT NOT NULL,
		last_seen_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id %s,
		from_agent TEXT NOT NULL,
		to_agent TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		codec TEXT NOT NULL DEFAULT 'none',
		metadata TEXT NOT NULL DEFAULT '',
		trace_id TEXT NOT NULL DEFAULT '',
		span_id TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS message_reads (
		message_id BIGINT NOT NULL,
		agent_id TEXT NOT NULL,
		read_at BIGINT NOT NULL,
		PRIMARY KEY (message_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS blobs (
		hash TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		codec TEXT NOT NULL DEFAULT 'none',
		declared_chars INTEGER NOT NULL DEFAULT 0,
		created_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id %s,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_by TEXT NOT NULL DEFAULT '',
		assigned_to TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'medium',
		namespace TEXT NOT NULL DEFAULT '',
		execution_mode TEXT NOT NULL DEFAULT 'any',
		consistency_mode TEXT NOT NULL DEFAULT 'relaxed',
		confidence DOUBLE PRECISION,
		verification_passed INTEGER,
		verified_by TEXT NOT NULL DEFAULT '',
		evidence_refs TEXT NOT NULL DEFAULT '[]',
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS task_deps (
		task_id BIGINT NOT NULL,
		depends_on BIGINT NOT NULL,
		PRIMARY KEY (task_id, depends_on)
	);

	CREATE TABLE IF NOT EXISTS claims (
		task_id BIGINT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		claimed_at BIGINT NOT NULL,
		lease_expires_at BIGINT NOT NULL,
		renew_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS task_artifacts (
		task_id BIGINT NOT NULL,
		artifact_id TEXT NOT NULL,
		attached_by TEXT NOT NULL DEFAULT '',
		attached_at BIGINT NOT NULL,
		PRIMARY KEY (task_id, artifact_id)
	);

	CREATE TABLE IF NOT EXISTS idempotency (
		agent_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		idem_key TEXT NOT NULL,
		result TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (agent_id, tool_name, idem_key)
	);

	CREATE TABLE IF NOT EXISTS poll_backoff (
		agent_id TEXT PRIMARY KEY,
		empty_polls INTEGER NOT NULL DEFAULT 0,
		updated_at BIGINT NOT NULL
	);
	`, serial, serial)

	for _, stmt := range splitStatements(ddl) {
		if _, err := r.x.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return r.initIndexes()
}

func (r *Repository) initIndexes() error {
	idx := `
	CREATE INDEX IF NOT EXISTS idx_messages_to_created ON messages(to_agent, created_at);
	CREATE INDEX IF NOT EXISTS idx_messages_from ON messages(from_agent);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_namespace ON tasks(namespace);
	CREATE INDEX IF NOT EXISTS idx_tasks_assigned_to ON tasks(assigned_to);
	CREATE INDEX IF NOT EXISTS idx_task_deps_depends_on ON task_deps(depends_on);
	CREATE INDEX IF NOT EXISTS idx_claims_expiry ON claims(lease_expires_at);
	CREATE INDEX IF NOT EXISTS idx_idempotency_created ON idempotency(created_at);
	`
	for _, stmt := range splitStatements(idx) {
		if _, err := r.x.ExecContext(context.Background(), stmt); err != nil {
			return err
		}
	}
	return nil
}

// splitStatements breaks a DDL block into single statements; the pgx driver
// rejects multi-statement Exec calls.
func splitStatements(block string) []string {
	var out []string
	for _, stmt := range strings.Split(block, ";") {
		if trimmed := strings.TrimSpace(stmt); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (q *queries) insertIgnore() (prefix, suffix string) {
	return dialect.InsertIgnore(q.driver)
}

func (q *queries) insertReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	return dialect.InsertReturningID(ctx, q.x, query, args...)
}
