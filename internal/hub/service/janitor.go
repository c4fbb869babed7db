package service

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/caephub/caephub/internal/events"
	"github.com/caephub/caephub/internal/hub/models"
	"github.com/caephub/caephub/internal/hub/repository"
)

// StartJanitor runs the periodic sweep until ctx is cancelled. A zero
// interval disables the loop.
func (s *Service) StartJanitor(ctx context.Context) {
	interval := s.cfg.Coordination.JanitorInterval()
	if interval <= 0 {
		s.log.Info("janitor disabled")
		return
	}

	s.log.Info("janitor started", zap.Duration("interval", interval))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("janitor stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce reclaims expired claims (reverting their tasks to the pool) and
// prunes idempotency rows past retention.
func (s *Service) SweepOnce(ctx context.Context) {
	nowMs := s.now()

	var reclaimed []*models.Claim
	err := s.repo.WithTransaction(ctx, func(tx *repository.Tx) error {
		expired, err := tx.ExpiredClaims(ctx, nowMs)
		if err != nil {
			return err
		}
		for _, claim := range expired {
			if err := tx.DeleteClaim(ctx, claim.TaskID); err != nil {
				return err
			}
			task, err := tx.GetTask(ctx, claim.TaskID)
			if err != nil {
				// The task may be gone; the claim row alone is swept.
				continue
			}
			if task.Status == models.TaskInProgress && task.AssignedTo == claim.AgentID {
				task.Status = models.TaskPending
				task.AssignedTo = ""
				if err := tx.UpdateTask(ctx, task, models.TaskInProgress, nowMs); err != nil {
					return err
				}
			}
			reclaimed = append(reclaimed, claim)
		}

		cutoff := nowMs - s.cfg.Hub.IdempotencyRetentionDuration().Milliseconds()
		pruned, err := tx.PruneIdempotency(ctx, cutoff)
		if err != nil {
			return err
		}
		if pruned > 0 {
			s.log.Debug("pruned idempotency records", zap.Int64("count", pruned))
		}
		return nil
	})
	if err != nil {
		s.log.WithError(err).Warn("janitor sweep failed")
		return
	}

	for _, claim := range reclaimed {
		s.metrics.ClaimsExpired.Inc()
		s.publish(ctx, events.TaskClaimExpired,
			events.BuildTaskSubject(strconv.FormatInt(claim.TaskID, 10)),
			map[string]any{"task_id": claim.TaskID, "agent_id": claim.AgentID})
	}
	if len(reclaimed) > 0 {
		s.log.Info("reclaimed expired claims", zap.Int("count", len(reclaimed)))
	}
}
