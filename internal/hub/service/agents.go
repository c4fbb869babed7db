package service

import (
	"context"

	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/events"
	"github.com/caephub/caephub/internal/hub/models"
	"github.com/caephub/caephub/internal/hub/repository"
)

// RegisterAgentRequest carries an agent registration.
type RegisterAgentRequest struct {
	AgentID        string `json:"agent_id"`
	Mode           string `json:"mode"`
	Source         string `json:"source"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RegisterAgentResult is the registration success payload.
type RegisterAgentResult struct {
	Agent *models.Agent `json:"agent"`
}

// RegisterAgent creates or updates an agent's runtime profile.
func (s *Service) RegisterAgent(ctx context.Context, req RegisterAgentRequest) *ToolResult {
	res := s.execute(ctx, "register_agent", "", req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			if req.AgentID == "" {
				return nil, apperrors.Validation("agent_id is required")
			}
			mode := models.ExecutionMode(req.Mode)
			if req.Mode == "" {
				mode = models.ModeAny
			}
			if !mode.Valid() {
				return nil, apperrors.Validation("mode must be one of: repo, isolated, any")
			}

			agent := &models.Agent{
				ID:             req.AgentID,
				RuntimeProfile: models.RuntimeProfile{Mode: mode, Source: req.Source},
			}
			if err := tx.RegisterAgent(ctx, agent, nowMs); err != nil {
				return nil, err
			}
			stored, err := tx.GetAgent(ctx, req.AgentID)
			if err != nil {
				return nil, err
			}
			return &RegisterAgentResult{Agent: stored}, nil
		})
	if res.OK() && !res.Replayed {
		s.publish(ctx, events.AgentRegistered, "", map[string]any{"agent_id": req.AgentID})
	}
	return res
}

// ListAgentsResult is the agent listing payload.
type ListAgentsResult struct {
	Agents []*models.Agent `json:"agents"`
	Count  int             `json:"count"`
}

// ListAgents returns all registered agents, most recently seen first.
func (s *Service) ListAgents(ctx context.Context) *ToolResult {
	return s.execute(ctx, "list_agents", "", "",
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			agents, err := tx.ListAgents(ctx)
			if err != nil {
				return nil, err
			}
			return &ListAgentsResult{Agents: agents, Count: len(agents)}, nil
		})
}
