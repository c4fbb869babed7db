package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/caephub/caephub/internal/artifacts"
	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/events"
	"github.com/caephub/caephub/internal/hub/models"
	"github.com/caephub/caephub/internal/hub/repository"
	"github.com/caephub/caephub/internal/hub/shape"
)

// maxConcurrentTickets bounds parallel ticket issuance per handoff.
const maxConcurrentTickets = 4

// GetTaskHandoffRequest carries the arguments of the get_task_handoff tool.
type GetTaskHandoffRequest struct {
	TaskID           int64  `json:"task_id"`
	AgentID          string `json:"agent_id"`
	ResponseMode     string `json:"response_mode"`
	IncludeDownloads bool   `json:"include_downloads"`
	DownloadTTLSec   int    `json:"download_ttl_sec"`
	IdempotencyKey   string `json:"idempotency_key"`
}

// HandoffArtifact annotates one attached artifact for the claimant.
type HandoffArtifact struct {
	ArtifactID string `json:"artifact_id"`
	AttachedBy string `json:"attached_by,omitempty"`
	AttachedAt int64  `json:"attached_at"`
	HasAccess  bool   `json:"has_access"`
	Ready      bool   `json:"ready"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

// GetTaskHandoffResult is the handoff packet for an agent taking over a task.
type GetTaskHandoffResult struct {
	Task                   any                 `json:"task"`
	DependsOn              []models.DepStatus  `json:"depends_on"`
	EvidenceRefs           []string            `json:"evidence_refs,omitempty"`
	Artifacts              []*HandoffArtifact  `json:"artifacts"`
	ArtifactDownloads      []*artifacts.Ticket `json:"artifact_downloads,omitempty"`
	ArtifactDownloadsError string              `json:"artifact_downloads_error,omitempty"`
}

// GetTaskHandoff assembles the compact takeover packet in one consistent
// read: the shaped task, dependency statuses, evidence, artifact annotations
// and, on request, bounded-concurrency download tickets. Ticket failures
// degrade to artifact_downloads_error; the rest of the packet still returns.
func (s *Service) GetTaskHandoff(ctx context.Context, req GetTaskHandoffRequest) *ToolResult {
	return s.execute(ctx, "get_task_handoff", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			return s.getTaskHandoff(ctx, tx, req)
		})
}

func (s *Service) getTaskHandoff(ctx context.Context, tx *repository.Tx, req GetTaskHandoffRequest) (*GetTaskHandoffResult, error) {
	if req.TaskID <= 0 {
		return nil, apperrors.Validation("task_id is required")
	}
	if req.AgentID == "" {
		return nil, apperrors.Validation("agent_id is required")
	}
	mode, err := shape.ParseMode(req.ResponseMode)
	if err != nil {
		return nil, err
	}

	task, err := tx.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	deps, err := tx.DepStatuses(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}
	links, err := tx.ListTaskArtifacts(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	packet := &GetTaskHandoffResult{
		Task:         shape.ShapedTask(task, mode),
		DependsOn:    deps,
		EvidenceRefs: task.EvidenceRefs,
		Artifacts:    make([]*HandoffArtifact, 0, len(links)),
	}

	var accessible []string
	for _, link := range links {
		entry := &HandoffArtifact{
			ArtifactID: link.ArtifactID,
			AttachedBy: link.AttachedBy,
			AttachedAt: link.AttachedAt,
			HasAccess:  s.artifacts.CanAccess(ctx, link.ArtifactID, req.AgentID),
		}
		if info := s.artifacts.Stat(ctx, link.ArtifactID); info != nil {
			entry.Ready = info.Ready
			entry.SizeBytes = info.SizeBytes
			entry.Digest = info.Digest
		}
		packet.Artifacts = append(packet.Artifacts, entry)
		if req.IncludeDownloads && entry.HasAccess {
			accessible = append(accessible, link.ArtifactID)
		}
	}

	if len(accessible) > 0 {
		packet.ArtifactDownloads, packet.ArtifactDownloadsError =
			s.issueTickets(ctx, accessible, req.AgentID, time.Duration(req.DownloadTTLSec)*time.Second)
	}
	return packet, nil
}

// issueTickets fetches download tickets concurrently, bounded. The first
// failure is reported; successful tickets are still returned, sorted by id.
func (s *Service) issueTickets(ctx context.Context, ids []string, agentID string, ttl time.Duration) ([]*artifacts.Ticket, string) {
	var (
		mu       sync.Mutex
		tickets  []*artifacts.Ticket
		issueErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentTickets)
	for _, id := range ids {
		g.Go(func() error {
			ticket, err := s.artifacts.IssueTicket(gctx, id, agentID, ttl)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if issueErr == nil {
					issueErr = err
				}
				return nil
			}
			tickets = append(tickets, ticket)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(tickets, func(i, j int) bool { return tickets[i].ArtifactID < tickets[j].ArtifactID })
	if issueErr != nil {
		return tickets, issueErr.Error()
	}
	return tickets, ""
}

// AttachArtifactRequest carries the arguments of the attach_task_artifact tool.
type AttachArtifactRequest struct {
	TaskID         int64  `json:"task_id"`
	AgentID        string `json:"agent_id"`
	ArtifactID     string `json:"artifact_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AttachArtifactResult is the attach_task_artifact success payload.
type AttachArtifactResult struct {
	Link    *models.ArtifactLink `json:"link"`
	Created bool                 `json:"created"`
}

// AttachArtifact links an artifact to a task and grants read access to the
// task's current assignee.
func (s *Service) AttachArtifact(ctx context.Context, req AttachArtifactRequest) *ToolResult {
	res := s.execute(ctx, "attach_task_artifact", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			return s.attachArtifact(ctx, tx, req, nowMs)
		})
	if res.OK() && !res.Replayed {
		s.publish(ctx, events.ArtifactAttached, "", map[string]any{
			"task_id":     req.TaskID,
			"artifact_id": req.ArtifactID,
			"agent_id":    req.AgentID,
		})
	}
	return res
}

func (s *Service) attachArtifact(ctx context.Context, tx *repository.Tx, req AttachArtifactRequest, nowMs int64) (*AttachArtifactResult, error) {
	if req.TaskID <= 0 {
		return nil, apperrors.Validation("task_id is required")
	}
	if req.AgentID == "" {
		return nil, apperrors.Validation("agent_id is required")
	}
	if req.ArtifactID == "" {
		return nil, apperrors.Validation("artifact_id is required")
	}
	if !s.artifacts.Exists(ctx, req.ArtifactID) {
		return nil, apperrors.NotFound("artifact", req.ArtifactID)
	}
	if !s.artifacts.CanAccess(ctx, req.ArtifactID, req.AgentID) {
		return nil, apperrors.ArtifactAccessDenied(req.ArtifactID, req.AgentID)
	}

	task, err := tx.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, err
	}

	link := &models.ArtifactLink{
		TaskID:     req.TaskID,
		ArtifactID: req.ArtifactID,
		AttachedBy: req.AgentID,
		AttachedAt: nowMs,
	}
	created, err := tx.AttachArtifact(ctx, link)
	if err != nil {
		return nil, err
	}
	if task.AssignedTo != "" {
		s.artifacts.Grant(ctx, req.ArtifactID, task.AssignedTo)
	}
	return &AttachArtifactResult{Link: link, Created: created}, nil
}

// ListArtifactsRequest carries the arguments of the list_task_artifacts tool.
type ListArtifactsRequest struct {
	TaskID         int64  `json:"task_id"`
	AgentID        string `json:"agent_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ListArtifactsResult is the list_task_artifacts success payload.
type ListArtifactsResult struct {
	Artifacts []*models.ArtifactLink `json:"artifacts"`
	Count     int                    `json:"count"`
}

// ListArtifacts returns a task's artifact links in attach order.
func (s *Service) ListArtifacts(ctx context.Context, req ListArtifactsRequest) *ToolResult {
	return s.execute(ctx, "list_task_artifacts", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			if req.TaskID <= 0 {
				return nil, apperrors.Validation("task_id is required")
			}
			if _, err := tx.GetTask(ctx, req.TaskID); err != nil {
				return nil, err
			}
			links, err := tx.ListTaskArtifacts(ctx, req.TaskID)
			if err != nil {
				return nil, err
			}
			return &ListArtifactsResult{Artifacts: links, Count: len(links)}, nil
		})
}
