package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/hub/models"
)

type taskRow struct {
	ID                 int64           `db:"id"`
	Title              string          `db:"title"`
	Description        string          `db:"description"`
	CreatedBy          string          `db:"created_by"`
	AssignedTo         string          `db:"assigned_to"`
	Status             string          `db:"status"`
	Priority           string          `db:"priority"`
	Namespace          string          `db:"namespace"`
	ExecutionMode      string          `db:"execution_mode"`
	ConsistencyMode    string          `db:"consistency_mode"`
	Confidence         sql.NullFloat64 `db:"confidence"`
	VerificationPassed sql.NullInt64   `db:"verification_passed"`
	VerifiedBy         string          `db:"verified_by"`
	EvidenceRefs       string          `db:"evidence_refs"`
	CreatedAt          int64           `db:"created_at"`
	UpdatedAt          int64           `db:"updated_at"`
}

const taskColumns = `id, title, description, created_by, assigned_to, status, priority, namespace,
	execution_mode, consistency_mode, confidence, verification_passed, verified_by, evidence_refs,
	created_at, updated_at`

func (r taskRow) toModel() (*models.Task, error) {
	task := &models.Task{
		ID:              r.ID,
		Title:           r.Title,
		Description:     r.Description,
		CreatedBy:       r.CreatedBy,
		AssignedTo:      r.AssignedTo,
		Status:          models.TaskStatus(r.Status),
		Priority:        models.TaskPriority(r.Priority),
		Namespace:       r.Namespace,
		ExecutionMode:   models.ExecutionMode(r.ExecutionMode),
		ConsistencyMode: models.ConsistencyMode(r.ConsistencyMode),
		VerifiedBy:      r.VerifiedBy,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.Confidence.Valid {
		c := r.Confidence.Float64
		task.Confidence = &c
	}
	if r.VerificationPassed.Valid {
		v := r.VerificationPassed.Int64 == 1
		task.VerificationPassed = &v
	}
	if r.EvidenceRefs != "" && r.EvidenceRefs != "[]" {
		if err := json.Unmarshal([]byte(r.EvidenceRefs), &task.EvidenceRefs); err != nil {
			return nil, fmt.Errorf("failed to decode evidence refs for task %d: %w", r.ID, err)
		}
	}
	return task, nil
}

func marshalEvidence(refs []string) (string, error) {
	if len(refs) == 0 {
		return "[]", nil
	}
	out, err := json.Marshal(refs)
	if err != nil {
		return "", fmt.Errorf("failed to encode evidence refs: %w", err)
	}
	return string(out), nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBoolInt(v *bool) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	n := int64(0)
	if *v {
		n = 1
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

// InsertTask appends a task and its dependency edges. Callers validate the
// dependency set first (MissingTasks / WouldCycle). created_at is clamped
// against the task log head like messages.
func (q *queries) InsertTask(ctx context.Context, task *models.Task, nowMs int64) error {
	var head int64
	if err := sqlx.GetContext(ctx, q.x, &head,
		`SELECT COALESCE(MAX(created_at), 0) FROM tasks`); err != nil {
		return err
	}
	if nowMs < head {
		nowMs = head
	}

	evidence, err := marshalEvidence(task.EvidenceRefs)
	if err != nil {
		return err
	}

	id, err := q.insertReturningID(ctx, `
		INSERT INTO tasks (title, description, created_by, assigned_to, status, priority, namespace,
			execution_mode, consistency_mode, confidence, verification_passed, verified_by,
			evidence_refs, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Title, task.Description, task.CreatedBy, task.AssignedTo, string(task.Status),
		string(task.Priority), task.Namespace, string(task.ExecutionMode), string(task.ConsistencyMode),
		nullFloat(task.Confidence), nullBoolInt(task.VerificationPassed), task.VerifiedBy,
		evidence, nowMs, nowMs)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	task.ID = id
	task.CreatedAt = nowMs
	task.UpdatedAt = nowMs

	for _, dep := range task.DependsOn {
		if _, err := q.x.ExecContext(ctx,
			q.x.Rebind(`INSERT INTO task_deps (task_id, depends_on) VALUES (?, ?)`), id, dep); err != nil {
			return fmt.Errorf("insert task dependency: %w", err)
		}
	}
	return nil
}

// GetTask retrieves a task with its dependency ids.
func (q *queries) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, q.x, &row,
		q.x.Rebind(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	task, err := row.toModel()
	if err != nil {
		return nil, err
	}
	deps, err := q.loadDeps(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	task.DependsOn = deps[id]
	return task, nil
}

// UpdateTask persists a merged task row with check-and-set on the previous
// status, eliminating lost updates between concurrent transitions.
func (q *queries) UpdateTask(ctx context.Context, task *models.Task, expectStatus models.TaskStatus, nowMs int64) error {
	evidence, err := marshalEvidence(task.EvidenceRefs)
	if err != nil {
		return err
	}
	res, err := q.x.ExecContext(ctx, q.x.Rebind(`
		UPDATE tasks SET title = ?, description = ?, assigned_to = ?, status = ?, priority = ?,
			namespace = ?, execution_mode = ?, consistency_mode = ?, confidence = ?,
			verification_passed = ?, verified_by = ?, evidence_refs = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		task.Title, task.Description, task.AssignedTo, string(task.Status), string(task.Priority),
		task.Namespace, string(task.ExecutionMode), string(task.ConsistencyMode),
		nullFloat(task.Confidence), nullBoolInt(task.VerificationPassed), task.VerifiedBy,
		evidence, nowMs, task.ID, string(expectStatus))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.New(apperrors.ErrCodeValidationError,
			fmt.Sprintf("task %d changed concurrently", task.ID))
	}
	task.UpdatedAt = nowMs
	return nil
}

// MissingTasks returns the subset of ids that reference no existing task.
func (q *queries) MissingTasks(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM tasks WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var found []int64
	if err := sqlx.SelectContext(ctx, q.x, &found, q.x.Rebind(query), args...); err != nil {
		return nil, err
	}
	present := make(map[int64]bool, len(found))
	for _, id := range found {
		present[id] = true
	}
	var missing []int64
	for _, id := range ids {
		if !present[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// WouldCycle walks the dependency graph breadth-first from the proposed deps
// and reports whether taskID is reachable, i.e. the new edges would close a
// cycle.
func (q *queries) WouldCycle(ctx context.Context, taskID int64, deps []int64) (bool, error) {
	visited := make(map[int64]bool)
	frontier := append([]int64(nil), deps...)
	for len(frontier) > 0 {
		next := frontier
		frontier = nil
		for _, id := range next {
			if id == taskID {
				return true, nil
			}
			if visited[id] {
				continue
			}
			visited[id] = true
		}
		query, args, err := sqlx.In(`SELECT DISTINCT depends_on FROM task_deps WHERE task_id IN (?)`, next)
		if err != nil {
			return false, err
		}
		var reached []int64
		if err := sqlx.SelectContext(ctx, q.x, &reached, q.x.Rebind(query), args...); err != nil {
			return false, err
		}
		for _, id := range reached {
			if !visited[id] {
				frontier = append(frontier, id)
			}
		}
	}
	return false, nil
}

// DepStatuses resolves a task's dependencies to {id, status} pairs.
func (q *queries) DepStatuses(ctx context.Context, taskID int64) ([]models.DepStatus, error) {
	var rows []struct {
		ID     int64  `db:"id"`
		Status string `db:"status"`
	}
	err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(`
		SELECT t.id, t.status FROM task_deps d
		JOIN tasks t ON t.id = d.depends_on
		WHERE d.task_id = ?
		ORDER BY t.id`), taskID)
	if err != nil {
		return nil, err
	}
	out := make([]models.DepStatus, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.DepStatus{ID: row.ID, Status: models.TaskStatus(row.Status)})
	}
	return out, nil
}

func (q *queries) loadDeps(ctx context.Context, taskIDs []int64) (map[int64][]int64, error) {
	if len(taskIDs) == 0 {
		return map[int64][]int64{}, nil
	}
	query, args, err := sqlx.In(
		`SELECT task_id, depends_on FROM task_deps WHERE task_id IN (?) ORDER BY depends_on`, taskIDs)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		TaskID    int64 `db:"task_id"`
		DependsOn int64 `db:"depends_on"`
	}
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(query), args...); err != nil {
		return nil, err
	}
	deps := make(map[int64][]int64)
	for _, row := range rows {
		deps[row.TaskID] = append(deps[row.TaskID], row.DependsOn)
	}
	return deps, nil
}

// TaskQuery selects tasks with optional filters, symmetric to MessageQuery.
type TaskQuery struct {
	Status     string
	Priority   string
	AssignedTo string
	CreatedBy  string
	Namespace  string
	Limit      int
	Offset     int
	SinceTS    int64
	CursorTS   int64
	CursorID   int64
	HasCursor  bool
}

// Delta reports whether the query uses ascending delta ordering.
func (tq *TaskQuery) Delta() bool {
	return tq.HasCursor || tq.SinceTS > 0
}

// ListTasks returns up to tq.Limit tasks with dependency ids attached.
func (q *queries) ListTasks(ctx context.Context, tq TaskQuery) ([]*models.Task, bool, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`)
	var args []any

	for _, f := range []struct {
		clause string
		value  string
	}{
		{" AND status = ?", tq.Status},
		{" AND priority = ?", tq.Priority},
		{" AND assigned_to = ?", tq.AssignedTo},
		{" AND created_by = ?", tq.CreatedBy},
		{" AND namespace = ?", tq.Namespace},
	} {
		if f.value != "" {
			sb.WriteString(f.clause)
			args = append(args, f.value)
		}
	}

	if tq.HasCursor {
		sb.WriteString(" AND (created_at > ? OR (created_at = ? AND id > ?))")
		args = append(args, tq.CursorTS, tq.CursorTS, tq.CursorID)
	} else if tq.SinceTS > 0 {
		sb.WriteString(" AND created_at > ?")
		args = append(args, tq.SinceTS)
	}

	if tq.Delta() {
		sb.WriteString(" ORDER BY created_at ASC, id ASC")
	} else {
		sb.WriteString(" ORDER BY created_at DESC, id DESC")
	}

	limit := tq.Limit
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit+1)
	}
	if tq.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, tq.Offset)
	}

	var rows []taskRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(sb.String()), args...); err != nil {
		return nil, false, err
	}

	hasMore := false
	if limit > 0 && len(rows) > limit {
		hasMore = true
		rows = rows[:limit]
	}

	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	deps, err := q.loadDeps(ctx, ids)
	if err != nil {
		return nil, false, err
	}

	tasks := make([]*models.Task, 0, len(rows))
	for _, row := range rows {
		task, err := row.toModel()
		if err != nil {
			return nil, false, err
		}
		task.DependsOn = deps[task.ID]
		tasks = append(tasks, task)
	}
	return tasks, hasMore, nil
}

// PollCandidate selects the best claimable pending task for an agent profile:
// dependency-ready tasks rank above unready, then priority, then FIFO.
// Returns nil when no candidate exists.
func (q *queries) PollCandidate(ctx context.Context, agentMode models.ExecutionMode, nowMs int64) (*models.Task, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT ` + taskColumns + ` FROM tasks t
		WHERE t.status = 'pending'
		  AND NOT EXISTS (SELECT 1 FROM claims c WHERE c.task_id = t.id AND c.lease_expires_at > ?)`)
	args := []any{nowMs}

	if agentMode != models.ModeAny {
		sb.WriteString(" AND t.execution_mode IN ('any', ?)")
		args = append(args, string(agentMode))
	}

	sb.WriteString(`
		ORDER BY
		  (NOT EXISTS (
		    SELECT 1 FROM task_deps d JOIN tasks dt ON dt.id = d.depends_on
		    WHERE d.task_id = t.id AND dt.status != 'done'
		  )) DESC,
		  CASE t.priority WHEN 'critical' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END DESC,
		  t.created_at ASC, t.id ASC
		LIMIT 1`)

	var row taskRow
	err := sqlx.GetContext(ctx, q.x, &row, q.x.Rebind(sb.String()), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	task, err := row.toModel()
	if err != nil {
		return nil, err
	}
	deps, err := q.loadDeps(ctx, []int64{task.ID})
	if err != nil {
		return nil, err
	}
	task.DependsOn = deps[task.ID]
	return task, nil
}
