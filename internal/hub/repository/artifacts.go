package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/caephub/caephub/internal/hub/models"
)

// AttachArtifact links an artifact to a task. Re-attaching is a no-op;
// created reports whether a new link row was written.
func (q *queries) AttachArtifact(ctx context.Context, link *models.ArtifactLink) (bool, error) {
	prefix, suffix := q.insertIgnore()
	res, err := q.x.ExecContext(ctx, q.x.Rebind(
		prefix+` INTO task_artifacts (task_id, artifact_id, attached_by, attached_at)
		VALUES (?, ?, ?, ?)`+suffix),
		link.TaskID, link.ArtifactID, link.AttachedBy, link.AttachedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListTaskArtifacts returns the artifact links of a task in attach order.
func (q *queries) ListTaskArtifacts(ctx context.Context, taskID int64) ([]*models.ArtifactLink, error) {
	var links []*models.ArtifactLink
	err := sqlx.SelectContext(ctx, q.x, &links, q.x.Rebind(`
		SELECT task_id, artifact_id, attached_by, attached_at
		FROM task_artifacts WHERE task_id = ?
		ORDER BY attached_at ASC, artifact_id ASC`), taskID)
	if err != nil {
		return nil, err
	}
	return links, nil
}
