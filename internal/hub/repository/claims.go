package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/caephub/caephub/internal/hub/models"
)

// GetClaim returns the claim row for a task regardless of lease state, or nil.
func (q *queries) GetClaim(ctx context.Context, taskID int64) (*models.Claim, error) {
	var claim models.Claim
	err := sqlx.GetContext(ctx, q.x, &claim, q.x.Rebind(`
		SELECT task_id, agent_id, claimed_at, lease_expires_at, renew_count
		FROM claims WHERE task_id = ?`), taskID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &claim, nil
}

// InsertClaim records a new lease for a task.
func (q *queries) InsertClaim(ctx context.Context, claim *models.Claim) error {
	_, err := q.x.ExecContext(ctx, q.x.Rebind(`
		INSERT INTO claims (task_id, agent_id, claimed_at, lease_expires_at, renew_count)
		VALUES (?, ?, ?, ?, 0)`),
		claim.TaskID, claim.AgentID, claim.ClaimedAt, claim.LeaseExpiresAt)
	return err
}

// RenewClaim extends the lease of a live claim held by agentID.
// Returns false when no matching row was updated.
func (q *queries) RenewClaim(ctx context.Context, taskID int64, agentID string, newExpiryMs int64) (bool, error) {
	res, err := q.x.ExecContext(ctx, q.x.Rebind(`
		UPDATE claims SET lease_expires_at = ?, renew_count = renew_count + 1
		WHERE task_id = ? AND agent_id = ?`),
		newExpiryMs, taskID, agentID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteClaim removes the claim row for a task.
func (q *queries) DeleteClaim(ctx context.Context, taskID int64) error {
	_, err := q.x.ExecContext(ctx, q.x.Rebind(`DELETE FROM claims WHERE task_id = ?`), taskID)
	return err
}

// ListLiveClaims returns claims whose lease is still running, optionally
// filtered by task or agent.
func (q *queries) ListLiveClaims(ctx context.Context, taskID int64, agentID string, nowMs int64) ([]*models.Claim, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT task_id, agent_id, claimed_at, lease_expires_at, renew_count
		FROM claims WHERE lease_expires_at > ?`)
	args := []any{nowMs}
	if taskID > 0 {
		sb.WriteString(" AND task_id = ?")
		args = append(args, taskID)
	}
	if agentID != "" {
		sb.WriteString(" AND agent_id = ?")
		args = append(args, agentID)
	}
	sb.WriteString(" ORDER BY lease_expires_at ASC")

	var claims []*models.Claim
	if err := sqlx.SelectContext(ctx, q.x, &claims, q.x.Rebind(sb.String()), args...); err != nil {
		return nil, err
	}
	return claims, nil
}

// ExpiredClaims returns the claims whose lease has lapsed at nowMs.
func (q *queries) ExpiredClaims(ctx context.Context, nowMs int64) ([]*models.Claim, error) {
	var claims []*models.Claim
	err := sqlx.SelectContext(ctx, q.x, &claims, q.x.Rebind(`
		SELECT task_id, agent_id, claimed_at, lease_expires_at, renew_count
		FROM claims WHERE lease_expires_at <= ?`), nowMs)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
