package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/hub/models"
)

// PutBlob inserts a content-addressed blob. Insertion is idempotent by hash:
// an existing row is left untouched and created=false is returned.
func (q *queries) PutBlob(ctx context.Context, blob *models.Blob, nowMs int64) (bool, error) {
	prefix, suffix := q.insertIgnore()
	res, err := q.x.ExecContext(ctx, q.x.Rebind(
		prefix+` INTO blobs (hash, value, codec, declared_chars, created_at) VALUES (?, ?, ?, ?, ?)`+suffix),
		blob.Hash, blob.Value, blob.Codec, blob.DeclaredChars, nowMs)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		blob.CreatedAt = nowMs
	}
	return n > 0, nil
}

// GetBlob retrieves a blob row by hash.
func (q *queries) GetBlob(ctx context.Context, hash string) (*models.Blob, error) {
	var blob models.Blob
	err := sqlx.GetContext(ctx, q.x, &blob,
		q.x.Rebind(`SELECT hash, value, codec, declared_chars, created_at FROM blobs WHERE hash = ?`),
		hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("blob", hash)
	}
	if err != nil {
		return nil, err
	}
	return &blob, nil
}
