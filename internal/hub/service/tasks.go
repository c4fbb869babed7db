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

// CreateTaskRequest carries the arguments of the create_task tool.
type CreateTaskRequest struct {
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	CreatedBy       string  `json:"created_by"`
	AssignedTo      string  `json:"assigned_to"`
	Priority        string  `json:"priority"`
	Namespace       string  `json:"namespace"`
	DependsOn       []int64 `json:"depends_on"`
	ExecutionMode   string  `json:"execution_mode"`
	ConsistencyMode string  `json:"consistency_mode"`
	IdempotencyKey  string  `json:"idempotency_key"`
}

// CreateTaskResult is the create_task success payload.
type CreateTaskResult struct {
	Task     *models.Task `json:"task"`
	Warnings []string     `json:"warnings,omitempty"`
}

// CreateTask inserts a task after dependency validation. Critical tasks
// default to strict consistency; orchestration-flavored text draws a
// non-blocking policy warning.
func (s *Service) CreateTask(ctx context.Context, req CreateTaskRequest) *ToolResult {
	var taskID int64
	res := s.execute(ctx, "create_task", req.CreatedBy, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			result, err := s.createTask(ctx, tx, req, nowMs)
			if err == nil {
				taskID = result.Task.ID
			}
			return result, err
		})
	if res.OK() && !res.Replayed {
		s.publish(ctx, events.TaskCreated, "", map[string]any{
			"task_id":    taskID,
			"created_by": req.CreatedBy,
		})
	}
	return res
}

func (s *Service) createTask(ctx context.Context, tx *repository.Tx, req CreateTaskRequest, nowMs int64) (*CreateTaskResult, error) {
	if req.Title == "" {
		return nil, apperrors.Validation("title is required")
	}
	if req.CreatedBy == "" {
		return nil, apperrors.Validation("created_by is required")
	}

	priority := models.TaskPriority(req.Priority)
	if req.Priority == "" {
		priority = models.PriorityMedium
	}
	if !priority.Valid() {
		return nil, apperrors.Validation("priority must be one of: low, medium, high, critical")
	}

	execMode := models.ExecutionMode(req.ExecutionMode)
	if req.ExecutionMode == "" {
		execMode = models.ModeAny
	}
	if !execMode.Valid() {
		return nil, apperrors.Validation("execution_mode must be one of: repo, isolated, any")
	}

	consistency := models.ConsistencyMode(req.ConsistencyMode)
	if req.ConsistencyMode == "" {
		consistency = models.ConsistencyRelaxed
		if priority == models.PriorityCritical {
			consistency = models.ConsistencyStrict
		}
	}
	if !consistency.Valid() {
		return nil, apperrors.Validation("consistency_mode must be relaxed or strict")
	}

	deps := dedupeIDs(req.DependsOn)
	missing, err := tx.MissingTasks(ctx, deps)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, apperrors.DependencyMissing(missing[0])
	}

	task := &models.Task{
		Title:           req.Title,
		Description:     req.Description,
		CreatedBy:       req.CreatedBy,
		AssignedTo:      req.AssignedTo,
		Status:          models.TaskPending,
		Priority:        priority,
		Namespace:       req.Namespace,
		DependsOn:       deps,
		ExecutionMode:   execMode,
		ConsistencyMode: consistency,
	}
	if err := tx.InsertTask(ctx, task, nowMs); err != nil {
		return nil, err
	}

	// With the new edges in place, the graph must not reach back to the task.
	if len(deps) > 0 {
		cyclic, err := tx.WouldCycle(ctx, task.ID, deps)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, apperrors.DependencyCycle(task.ID)
		}
	}

	result := &CreateTaskResult{Task: task}
	if req.Namespace == "" {
		if warning := s.policy.Screen(req.Title, req.Description); warning != "" {
			result.Warnings = append(result.Warnings, warning)
		}
	}
	s.metrics.TasksCreated.Inc()
	return result, nil
}

func dedupeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// UpdateTaskRequest carries the arguments of the update_task tool. Pointer
// fields distinguish "absent" from zero values.
type UpdateTaskRequest struct {
	TaskID             int64    `json:"task_id"`
	AgentID            string   `json:"agent_id"`
	Status             string   `json:"status"`
	Title              *string  `json:"title"`
	Description        *string  `json:"description"`
	Priority           string   `json:"priority"`
	AssignedTo         *string  `json:"assigned_to"`
	Confidence         *float64 `json:"confidence"`
	VerificationPassed *bool    `json:"verification_passed"`
	VerifiedBy         string   `json:"verified_by"`
	EvidenceRefs       []string `json:"evidence_refs"`
	IdempotencyKey     string   `json:"idempotency_key"`
}

// UpdateTaskResult is the update_task success payload.
type UpdateTaskResult struct {
	Task *models.Task `json:"task"`
}

// UpdateTask merges the provided fields into the task under the transition
// state machine and the done gate.
func (s *Service) UpdateTask(ctx context.Context, req UpdateTaskRequest) *ToolResult {
	var transition string
	res := s.execute(ctx, "update_task", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			task, changed, err := s.applyTaskUpdate(ctx, tx, req, nowMs)
			if err != nil {
				return nil, err
			}
			transition = changed
			return &UpdateTaskResult{Task: task}, nil
		})
	if res.OK() && !res.Replayed && transition != "" {
		s.publish(ctx, events.TaskStateChanged,
			events.BuildTaskSubject(strconv.FormatInt(req.TaskID, 10)),
			map[string]any{
				"task_id":  req.TaskID,
				"agent_id": req.AgentID,
				"status":   transition,
			})
	}
	return res
}

// applyTaskUpdate is the shared update-transition machinery used by
// update_task and release_task_claim. It returns the updated task and the new
// status when the status changed.
func (s *Service) applyTaskUpdate(ctx context.Context, tx *repository.Tx, req UpdateTaskRequest, nowMs int64) (*models.Task, string, error) {
	if req.TaskID <= 0 {
		return nil, "", apperrors.Validation("task_id is required")
	}
	if req.AgentID == "" {
		return nil, "", apperrors.Validation("agent_id is required")
	}

	task, err := tx.GetTask(ctx, req.TaskID)
	if err != nil {
		return nil, "", err
	}
	prevStatus := task.Status

	if req.Title != nil {
		if *req.Title == "" {
			return nil, "", apperrors.Validation("title must not be empty")
		}
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.Priority != "" {
		priority := models.TaskPriority(req.Priority)
		if !priority.Valid() {
			return nil, "", apperrors.Validation("priority must be one of: low, medium, high, critical")
		}
		task.Priority = priority
	}
	if req.Confidence != nil {
		if *req.Confidence < 0 || *req.Confidence > 1 {
			return nil, "", apperrors.Validation("confidence must be within [0, 1]")
		}
		task.Confidence = req.Confidence
	}
	if req.VerificationPassed != nil {
		task.VerificationPassed = req.VerificationPassed
	}
	if req.VerifiedBy != "" {
		task.VerifiedBy = req.VerifiedBy
	}
	if req.EvidenceRefs != nil {
		task.EvidenceRefs = req.EvidenceRefs
	}

	if req.AssignedTo != nil && *req.AssignedTo != task.AssignedTo {
		claim, err := tx.GetClaim(ctx, task.ID)
		if err != nil {
			return nil, "", err
		}
		if claim.Live(nowMs) && claim.AgentID != req.AgentID {
			return nil, "", apperrors.ClaimConflict(task.ID, claim.AgentID)
		}
		task.AssignedTo = *req.AssignedTo
	}

	statusChanged := ""
	if req.Status != "" {
		next := models.TaskStatus(req.Status)
		if !next.Valid() {
			return nil, "", apperrors.Validation("status must be one of: pending, in_progress, blocked, done, cancelled")
		}
		if !models.CanTransition(prevStatus, next) {
			return nil, "", apperrors.Validation(
				fmt.Sprintf("invalid transition %s -> %s for task %d", prevStatus, next, task.ID))
		}
		if next == models.TaskDone && prevStatus != models.TaskDone {
			if err := s.doneGate(task, req.AgentID); err != nil {
				return nil, "", err
			}
		}
		if next != prevStatus {
			statusChanged = string(next)
		}
		task.Status = next
	}

	if err := tx.UpdateTask(ctx, task, prevStatus, nowMs); err != nil {
		return nil, "", err
	}
	if task.Status.Terminal() && statusChanged != "" {
		if err := tx.DeleteClaim(ctx, task.ID); err != nil {
			return nil, "", err
		}
	}
	return task, statusChanged, nil
}

// doneGate validates the merged task fields for a transition into done.
func (s *Service) doneGate(task *models.Task, updater string) error {
	floor := s.cfg.Coordination.DoneConfidenceFloor
	if task.Confidence == nil {
		return apperrors.DoneGateFailed("confidence is required")
	}
	if *task.Confidence < floor {
		return apperrors.DoneGateFailed(
			fmt.Sprintf("confidence %.2f is below the floor %.2f", *task.Confidence, floor))
	}
	if task.VerificationPassed == nil || !*task.VerificationPassed {
		return apperrors.DoneGateFailed("verification_passed must be true")
	}
	if len(task.EvidenceRefs) == 0 {
		return apperrors.DoneGateFailed("evidence_refs must be a non-empty list")
	}
	for _, ref := range task.EvidenceRefs {
		if ref == "" {
			return apperrors.DoneGateFailed("evidence_refs must not contain empty strings")
		}
	}

	if task.ConsistencyMode == models.ConsistencyStrict {
		switch {
		case task.VerifiedBy == "":
			return apperrors.VerifierRequired("verified_by is required")
		case task.VerifiedBy == updater:
			return apperrors.VerifierRequired("verifier must differ from the updating agent")
		case task.VerifiedBy == task.CreatedBy:
			return apperrors.VerifierRequired("verifier must differ from the task creator")
		}
	}
	return nil
}

// ListTasksRequest carries the arguments of the list_tasks tool.
type ListTasksRequest struct {
	AgentID        string `json:"agent_id"`
	Status         string `json:"status"`
	Priority       string `json:"priority"`
	AssignedTo     string `json:"assigned_to"`
	CreatedBy      string `json:"created_by"`
	Namespace      string `json:"namespace"`
	Limit          int    `json:"limit"`
	Offset         int    `json:"offset"`
	SinceTS        int64  `json:"since_ts"`
	Cursor         string `json:"cursor"`
	ResponseMode   string `json:"response_mode"`
	Polling        bool   `json:"polling"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ListTasksResult is the list_tasks success payload (non-nano modes).
type ListTasksResult struct {
	Tasks      []any  `json:"tasks"`
	Count      int    `json:"count"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

// ListTasks returns a filtered, shaped task slice, symmetric to ReadMessages.
func (s *Service) ListTasks(ctx context.Context, req ListTasksRequest) *ToolResult {
	return s.execute(ctx, "list_tasks", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			return s.listTasks(ctx, tx, req)
		})
}

func (s *Service) listTasks(ctx context.Context, tx *repository.Tx, req ListTasksRequest) (any, error) {
	mode, err := shape.ParseMode(req.ResponseMode)
	if err != nil {
		return nil, err
	}

	query := repository.TaskQuery{
		Status:     req.Status,
		Priority:   req.Priority,
		AssignedTo: req.AssignedTo,
		CreatedBy:  req.CreatedBy,
		Namespace:  req.Namespace,
		Limit:      req.Limit,
		Offset:     req.Offset,
		SinceTS:    req.SinceTS,
	}
	if query.Limit <= 0 {
		query.Limit = defaultListLimit
	}
	if req.Cursor != "" {
		ts, id, err := ParseCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		query.CursorTS, query.CursorID, query.HasCursor = ts, id, true
	}
	if err := s.pollingGuard(mode, req.Polling, query.Delta()); err != nil {
		return nil, err
	}

	tasks, hasMore, err := tx.ListTasks(ctx, query)
	if err != nil {
		return nil, err
	}

	shaped := make([]any, 0, len(tasks))
	for _, task := range tasks {
		shaped = append(shaped, shape.ShapedTask(task, mode))
	}
	if mode == shape.ModeNano {
		return shape.NanoTasks(shaped, hasMore), nil
	}
	result := &ListTasksResult{Tasks: shaped, Count: len(shaped), HasMore: hasMore}
	if query.Delta() && len(tasks) > 0 {
		last := tasks[len(tasks)-1]
		result.NextCursor = FormatCursor(last.CreatedAt, last.ID)
	}
	return result, nil
}
