package service

import (
	"context"
	"fmt"
	"strconv"

	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/events"
	"github.com/caephub/caephub/internal/hub/models"
	"github.com/caephub/caephub/internal/hub/repository"
	"github.com/caephub/caephub/internal/hub/shape"
)

// ClaimTaskRequest carries the arguments of the claim_task tool.
type ClaimTaskRequest struct {
	TaskID         int64  `json:"task_id"`
	AgentID        string `json:"agent_id"`
	LeaseSeconds   int    `json:"lease_seconds"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ClaimTaskResult is the claim_task / poll_and_claim success payload.
type ClaimTaskResult struct {
	Task  any           `json:"task"`
	Claim *models.Claim `json:"claim,omitempty"`
}

// ClaimTask grants a lease on a specific task to the requesting agent.
func (s *Service) ClaimTask(ctx context.Context, req ClaimTaskRequest) *ToolResult {
	res := s.execute(ctx, "claim_task", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			task, claim, err := s.claimTask(ctx, tx, req.TaskID, req.AgentID, req.LeaseSeconds, nowMs)
			if err != nil {
				return nil, err
			}
			return &ClaimTaskResult{Task: task, Claim: claim}, nil
		})
	if res.OK() && !res.Replayed {
		s.publish(ctx, events.TaskClaimed,
			events.BuildTaskSubject(strconv.FormatInt(req.TaskID, 10)),
			map[string]any{"task_id": req.TaskID, "agent_id": req.AgentID})
	}
	return res
}

// claimTask is the shared claim path used by claim_task and poll_and_claim.
// Expired claims encountered here are reclaimed in the same transaction.
func (s *Service) claimTask(ctx context.Context, tx *repository.Tx, taskID int64, agentID string, leaseSec int, nowMs int64) (*models.Task, *models.Claim, error) {
	if taskID <= 0 {
		return nil, nil, apperrors.Validation("task_id is required")
	}
	if agentID == "" {
		return nil, nil, apperrors.Validation("agent_id is required")
	}

	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task.Status != models.TaskPending && task.Status != models.TaskInProgress {
		return nil, nil, apperrors.Validation(
			fmt.Sprintf("task %d is %s and cannot be claimed", taskID, task.Status))
	}

	agent, err := tx.GetAgent(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	if !models.Compatible(agent.RuntimeProfile.Mode, task.ExecutionMode) {
		return nil, nil, apperrors.ProfileMismatch(
			string(agent.RuntimeProfile.Mode), string(task.ExecutionMode))
	}

	existing, err := tx.GetClaim(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	leaseMs := s.leaseMs(leaseSec)
	if existing.Live(nowMs) {
		if existing.AgentID != agentID {
			return nil, nil, apperrors.ClaimConflict(taskID, existing.AgentID)
		}
		// The holder re-claiming extends its lease.
		if _, err := tx.RenewClaim(ctx, taskID, agentID, nowMs+leaseMs); err != nil {
			return nil, nil, err
		}
		existing.LeaseExpiresAt = nowMs + leaseMs
		existing.RenewCount++
		return task, existing, nil
	}
	if existing != nil {
		if err := tx.DeleteClaim(ctx, taskID); err != nil {
			return nil, nil, err
		}
	}

	claim := &models.Claim{
		TaskID:         taskID,
		AgentID:        agentID,
		ClaimedAt:      nowMs,
		LeaseExpiresAt: nowMs + leaseMs,
	}
	if err := tx.InsertClaim(ctx, claim); err != nil {
		return nil, nil, err
	}

	prevStatus := task.Status
	task.AssignedTo = agentID
	task.Status = models.TaskInProgress
	if err := tx.UpdateTask(ctx, task, prevStatus, nowMs); err != nil {
		return nil, nil, err
	}

	s.metrics.ClaimsGranted.Inc()
	return task, claim, nil
}

// leaseMs resolves a requested lease duration against the configured bounds.
func (s *Service) leaseMs(leaseSec int) int64 {
	if leaseSec <= 0 {
		leaseSec = s.cfg.Coordination.DefaultLeaseSec
	}
	if leaseSec > s.cfg.Coordination.MaxLeaseSec {
		leaseSec = s.cfg.Coordination.MaxLeaseSec
	}
	return int64(leaseSec) * 1000
}

// RenewClaimRequest carries the arguments of the renew_task_claim tool.
type RenewClaimRequest struct {
	TaskID         int64  `json:"task_id"`
	AgentID        string `json:"agent_id"`
	LeaseSeconds   int    `json:"lease_seconds"`
	IdempotencyKey string `json:"idempotency_key"`
}

// RenewClaimResult is the renew_task_claim success payload.
type RenewClaimResult struct {
	Claim *models.Claim `json:"claim"`
}

// RenewClaim extends the lease the agent holds on a task.
func (s *Service) RenewClaim(ctx context.Context, req RenewClaimRequest) *ToolResult {
	res := s.execute(ctx, "renew_task_claim", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			claim, err := tx.GetClaim(ctx, req.TaskID)
			if err != nil {
				return nil, err
			}
			if claim == nil || claim.AgentID != req.AgentID {
				return nil, apperrors.ClaimNotHeld(req.TaskID, req.AgentID)
			}
			if !claim.Live(nowMs) {
				// The stale row is reclaimed; the caller must re-claim.
				if err := tx.DeleteClaim(ctx, req.TaskID); err != nil {
					return nil, err
				}
				return nil, apperrors.ClaimExpired(req.TaskID)
			}

			newExpiry := nowMs + s.leaseMs(req.LeaseSeconds)
			if _, err := tx.RenewClaim(ctx, req.TaskID, req.AgentID, newExpiry); err != nil {
				return nil, err
			}
			claim.LeaseExpiresAt = newExpiry
			claim.RenewCount++
			return &RenewClaimResult{Claim: claim}, nil
		})
	if res.OK() && !res.Replayed {
		s.publish(ctx, events.TaskClaimRenewed,
			events.BuildTaskSubject(strconv.FormatInt(req.TaskID, 10)),
			map[string]any{"task_id": req.TaskID, "agent_id": req.AgentID})
	}
	return res
}

// ReleaseClaimRequest carries the arguments of the release_task_claim tool.
// The optional update fields run through the same machinery as update_task.
type ReleaseClaimRequest struct {
	TaskID             int64    `json:"task_id"`
	AgentID            string   `json:"agent_id"`
	Status             string   `json:"status"`
	Confidence         *float64 `json:"confidence"`
	VerificationPassed *bool    `json:"verification_passed"`
	VerifiedBy         string   `json:"verified_by"`
	EvidenceRefs       []string `json:"evidence_refs"`
	IdempotencyKey     string   `json:"idempotency_key"`
}

// ReleaseClaimResult is the release_task_claim success payload.
type ReleaseClaimResult struct {
	Task *models.Task `json:"task"`
}

// ReleaseClaim gives a task back. The transition (including the done gate)
// runs first; on failure the transaction rolls back and the claim survives.
// With no explicit status the task reverts to pending, unassigned.
func (s *Service) ReleaseClaim(ctx context.Context, req ReleaseClaimRequest) *ToolResult {
	var finalStatus string
	res := s.execute(ctx, "release_task_claim", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			task, err := s.releaseClaim(ctx, tx, req, nowMs)
			if err != nil {
				return nil, err
			}
			finalStatus = string(task.Status)
			return &ReleaseClaimResult{Task: task}, nil
		})
	if res.OK() && !res.Replayed {
		s.publish(ctx, events.TaskClaimReleased,
			events.BuildTaskSubject(strconv.FormatInt(req.TaskID, 10)),
			map[string]any{
				"task_id":  req.TaskID,
				"agent_id": req.AgentID,
				"status":   finalStatus,
			})
	}
	return res
}

func (s *Service) releaseClaim(ctx context.Context, tx *repository.Tx, req ReleaseClaimRequest, nowMs int64) (*models.Task, error) {
	claim, err := tx.GetClaim(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	if claim == nil || claim.AgentID != req.AgentID {
		return nil, apperrors.ClaimNotHeld(req.TaskID, req.AgentID)
	}

	var task *models.Task
	if req.Status == "" {
		// Default release: back to the pool, unassigned. This is the un-claim
		// revert, not a graph transition.
		task, err = tx.GetTask(ctx, req.TaskID)
		if err != nil {
			return nil, err
		}
		prev := task.Status
		task.Status = models.TaskPending
		task.AssignedTo = ""
		if err := tx.UpdateTask(ctx, task, prev, nowMs); err != nil {
			return nil, err
		}
	} else {
		task, _, err = s.applyTaskUpdate(ctx, tx, UpdateTaskRequest{
			TaskID:             req.TaskID,
			AgentID:            req.AgentID,
			Status:             req.Status,
			Confidence:         req.Confidence,
			VerificationPassed: req.VerificationPassed,
			VerifiedBy:         req.VerifiedBy,
			EvidenceRefs:       req.EvidenceRefs,
		}, nowMs)
		if err != nil {
			return nil, err
		}
	}

	// Terminal transitions already removed the claim row.
	if !task.Status.Terminal() {
		if err := tx.DeleteClaim(ctx, req.TaskID); err != nil {
			return nil, err
		}
	}
	return task, nil
}

// ListClaimsRequest carries the arguments of the list_task_claims tool.
type ListClaimsRequest struct {
	AgentID        string `json:"agent_id"`
	TaskID         int64  `json:"task_id"`
	FilterAgent    string `json:"filter_agent"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ListClaimsResult is the list_task_claims success payload.
type ListClaimsResult struct {
	Claims []*models.Claim `json:"claims"`
	Count  int             `json:"count"`
}

// ListClaims returns all currently live claims, optionally filtered.
func (s *Service) ListClaims(ctx context.Context, req ListClaimsRequest) *ToolResult {
	return s.execute(ctx, "list_task_claims", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			claims, err := tx.ListLiveClaims(ctx, req.TaskID, req.FilterAgent, nowMs)
			if err != nil {
				return nil, err
			}
			return &ListClaimsResult{Claims: claims, Count: len(claims)}, nil
		})
}

// PollAndClaimRequest carries the arguments of the poll_and_claim tool.
type PollAndClaimRequest struct {
	AgentID        string `json:"agent_id"`
	LeaseSeconds   int    `json:"lease_seconds"`
	ResponseMode   string `json:"response_mode"`
	IdempotencyKey string `json:"idempotency_key"`
}

// PollAndClaimResult is the poll_and_claim success payload. Task is null when
// nothing was claimable; RetryAfterMs then hints the next poll delay.
type PollAndClaimResult struct {
	Task         any           `json:"task"`
	Claim        *models.Claim `json:"claim,omitempty"`
	RetryAfterMs int64         `json:"retry_after_ms,omitempty"`
}

// PollAndClaim picks the best claimable task for the agent's runtime profile
// and claims it atomically.
func (s *Service) PollAndClaim(ctx context.Context, req PollAndClaimRequest) *ToolResult {
	var claimedID int64
	res := s.execute(ctx, "poll_and_claim", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			result, err := s.pollAndClaim(ctx, tx, req, nowMs)
			if err == nil && result.Claim != nil {
				claimedID = result.Claim.TaskID
			}
			return result, err
		})
	if res.OK() && !res.Replayed && claimedID > 0 {
		s.publish(ctx, events.TaskClaimed,
			events.BuildTaskSubject(strconv.FormatInt(claimedID, 10)),
			map[string]any{"task_id": claimedID, "agent_id": req.AgentID, "polled": true})
	}
	return res
}

func (s *Service) pollAndClaim(ctx context.Context, tx *repository.Tx, req PollAndClaimRequest, nowMs int64) (*PollAndClaimResult, error) {
	if req.AgentID == "" {
		return nil, apperrors.Validation("agent_id is required")
	}
	mode, err := shape.ParseMode(req.ResponseMode)
	if err != nil {
		return nil, err
	}
	agent, err := tx.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}

	candidate, err := tx.PollCandidate(ctx, agent.RuntimeProfile.Mode, nowMs)
	if err != nil {
		return nil, err
	}
	if candidate == nil {
		count, err := tx.BumpEmptyPolls(ctx, req.AgentID, nowMs)
		if err != nil {
			return nil, err
		}
		s.metrics.EmptyPolls.Inc()
		return &PollAndClaimResult{RetryAfterMs: s.retryAfterMs(count)}, nil
	}

	task, claim, err := s.claimTask(ctx, tx, candidate.ID, req.AgentID, req.LeaseSeconds, nowMs)
	if err != nil {
		return nil, err
	}
	if err := tx.ResetEmptyPolls(ctx, req.AgentID, nowMs); err != nil {
		return nil, err
	}
	return &PollAndClaimResult{Task: shape.ShapedTask(task, mode), Claim: claim}, nil
}
