package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// GetIdempotentResult looks up the cached first result for (agent, tool, key).
// Results older than the retention cutoff are treated as absent.
func (q *queries) GetIdempotentResult(ctx context.Context, agentID, tool, key string, cutoffMs int64) (string, bool, error) {
	var result string
	err := sqlx.GetContext(ctx, q.x, &result, q.x.Rebind(`
		SELECT result FROM idempotency
		WHERE agent_id = ? AND tool_name = ? AND idem_key = ? AND created_at > ?`),
		agentID, tool, key, cutoffMs)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return result, true, nil
}

// PutIdempotentResult stores the first result for (agent, tool, key). The
// write commits in the same transaction as the operation's effects; a losing
// concurrent writer is ignored so the first stored result stays authoritative.
func (q *queries) PutIdempotentResult(ctx context.Context, agentID, tool, key, result string, nowMs int64) error {
	prefix, suffix := q.insertIgnore()
	_, err := q.x.ExecContext(ctx, q.x.Rebind(
		prefix+` INTO idempotency (agent_id, tool_name, idem_key, result, created_at)
		VALUES (?, ?, ?, ?, ?)`+suffix),
		agentID, tool, key, result, nowMs)
	return err
}

// PruneIdempotency deletes cached results past the retention window.
func (q *queries) PruneIdempotency(ctx context.Context, cutoffMs int64) (int64, error) {
	res, err := q.x.ExecContext(ctx,
		q.x.Rebind(`DELETE FROM idempotency WHERE created_at <= ?`), cutoffMs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BumpEmptyPolls increments the per-agent consecutive-empty-poll counter and
// returns the new count.
func (q *queries) BumpEmptyPolls(ctx context.Context, agentID string, nowMs int64) (int, error) {
	res, err := q.x.ExecContext(ctx, q.x.Rebind(`
		UPDATE poll_backoff SET empty_polls = empty_polls + 1, updated_at = ? WHERE agent_id = ?`),
		nowMs, agentID)
	if err != nil {
		return 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := q.x.ExecContext(ctx, q.x.Rebind(`
			INSERT INTO poll_backoff (agent_id, empty_polls, updated_at) VALUES (?, 1, ?)`),
			agentID, nowMs); err != nil {
			return 0, err
		}
		return 1, nil
	}

	var count int
	err = sqlx.GetContext(ctx, q.x, &count,
		q.x.Rebind(`SELECT empty_polls FROM poll_backoff WHERE agent_id = ?`), agentID)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ResetEmptyPolls clears the counter after a successful claim.
func (q *queries) ResetEmptyPolls(ctx context.Context, agentID string, nowMs int64) error {
	_, err := q.x.ExecContext(ctx, q.x.Rebind(`
		UPDATE poll_backoff SET empty_polls = 0, updated_at = ? WHERE agent_id = ?`),
		nowMs, agentID)
	return err
}
