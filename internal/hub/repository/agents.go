package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/hub/models"
)

type agentRow struct {
	ID           string `db:"id"`
	Mode         string `db:"mode"`
	Source       string `db:"source"`
	RegisteredAt int64  `db:"registered_at"`
	LastSeenAt   int64  `db:"last_seen_at"`
}

func (r agentRow) toModel() *models.Agent {
	return &models.Agent{
		ID: r.ID,
		RuntimeProfile: models.RuntimeProfile{
			Mode:   models.ExecutionMode(r.Mode),
			Source: r.Source,
		},
		RegisteredAt: r.RegisteredAt,
		LastSeenAt:   r.LastSeenAt,
	}
}

// RegisterAgent inserts or updates an agent's runtime profile.
func (q *queries) RegisterAgent(ctx context.Context, agent *models.Agent, nowMs int64) error {
	mode := agent.RuntimeProfile.Mode
	if mode == "" {
		mode = models.ModeAny
	}
	res, err := q.x.ExecContext(ctx, q.x.Rebind(`
		UPDATE agents SET mode = ?, source = ?, last_seen_at = ? WHERE id = ?`),
		string(mode), agent.RuntimeProfile.Source, nowMs, agent.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = q.x.ExecContext(ctx, q.x.Rebind(`
		INSERT INTO agents (id, mode, source, registered_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?)`),
		agent.ID, string(mode), agent.RuntimeProfile.Source, nowMs, nowMs)
	return err
}

// Heartbeat bumps last_seen_at; unknown agents are auto-registered with mode=any.
func (q *queries) Heartbeat(ctx context.Context, agentID string, nowMs int64) error {
	res, err := q.x.ExecContext(ctx,
		q.x.Rebind(`UPDATE agents SET last_seen_at = ? WHERE id = ?`), nowMs, agentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	_, err = q.x.ExecContext(ctx, q.x.Rebind(`
		INSERT INTO agents (id, mode, source, registered_at, last_seen_at)
		VALUES (?, 'any', '', ?, ?)`),
		agentID, nowMs, nowMs)
	return err
}

// GetAgent retrieves an agent by id.
func (q *queries) GetAgent(ctx context.Context, agentID string) (*models.Agent, error) {
	var row agentRow
	err := sqlx.GetContext(ctx, q.x, &row,
		q.x.Rebind(`SELECT id, mode, source, registered_at, last_seen_at FROM agents WHERE id = ?`),
		agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent", agentID)
	}
	if err != nil {
		return nil, err
	}
	return row.toModel(), nil
}

// ListAgents returns all registered agents ordered by last_seen_at descending.
func (q *queries) ListAgents(ctx context.Context) ([]*models.Agent, error) {
	var rows []agentRow
	err := sqlx.SelectContext(ctx, q.x, &rows,
		`SELECT id, mode, source, registered_at, last_seen_at FROM agents ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, err
	}
	agents := make([]*models.Agent, 0, len(rows))
	for _, row := range rows {
		agents = append(agents, row.toModel())
	}
	return agents, nil
}
