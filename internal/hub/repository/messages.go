package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/caephub/caephub/internal/hub/models"
)

// MessageQuery selects messages addressed to one agent (direct + broadcast).
type MessageQuery struct {
	AgentID    string
	From       string // filter on sender
	UnreadOnly bool
	Limit      int
	Offset     int
	SinceTS    int64 // delta ordering when > 0
	CursorTS   int64 // delta ordering when HasCursor
	CursorID   int64
	HasCursor  bool
}

// Delta reports whether the query uses ascending delta ordering.
func (mq *MessageQuery) Delta() bool {
	return mq.HasCursor || mq.SinceTS > 0
}

type messageRow struct {
	ID        int64  `db:"id"`
	FromAgent string `db:"from_agent"`
	ToAgent   string `db:"to_agent"`
	Content   string `db:"content"`
	Codec     string `db:"codec"`
	Metadata  string `db:"metadata"`
	TraceID   string `db:"trace_id"`
	SpanID    string `db:"span_id"`
	CreatedAt int64  `db:"created_at"`
	ReadFlag  int    `db:"read_flag"`
}

func (r messageRow) toModel() *models.Message {
	return &models.Message{
		ID:        r.ID,
		FromAgent: r.FromAgent,
		ToAgent:   r.ToAgent,
		Content:   r.Content,
		Codec:     r.Codec,
		Metadata:  r.Metadata,
		TraceID:   r.TraceID,
		SpanID:    r.SpanID,
		CreatedAt: r.CreatedAt,
		Read:      r.ReadFlag == 1,
	}
}

// InsertMessage appends a message and returns it with id and created_at set.
// created_at is clamped against the log head so it never decreases, keeping
// the (created_at, id) order total under the single writer.
func (q *queries) InsertMessage(ctx context.Context, msg *models.Message, nowMs int64) error {
	var head int64
	if err := sqlx.GetContext(ctx, q.x, &head,
		`SELECT COALESCE(MAX(created_at), 0) FROM messages`); err != nil {
		return err
	}
	if nowMs < head {
		nowMs = head
	}

	id, err := q.insertReturningID(ctx, `
		INSERT INTO messages (from_agent, to_agent, content, codec, metadata, trace_id, span_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.FromAgent, msg.ToAgent, msg.Content, msg.Codec, msg.Metadata, msg.TraceID, msg.SpanID, nowMs)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = nowMs
	return nil
}

// ListMessages returns up to mq.Limit messages for the agent with per-agent
// read flags. Delta ordering over-fetches one row to compute hasMore.
func (q *queries) ListMessages(ctx context.Context, mq MessageQuery) ([]*models.Message, bool, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT m.id, m.from_agent, m.to_agent, m.content, m.codec, m.metadata,
		       m.trace_id, m.span_id, m.created_at,
		       CASE WHEN r.message_id IS NULL THEN 0 ELSE 1 END AS read_flag
		FROM messages m
		LEFT JOIN message_reads r ON r.message_id = m.id AND r.agent_id = ?
		WHERE (m.to_agent = ? OR m.to_agent = '')`)
	args := []any{mq.AgentID, mq.AgentID}

	if mq.From != "" {
		sb.WriteString(" AND m.from_agent = ?")
		args = append(args, mq.From)
	}
	if mq.UnreadOnly {
		sb.WriteString(" AND r.message_id IS NULL")
	}
	if mq.HasCursor {
		sb.WriteString(" AND (m.created_at > ? OR (m.created_at = ? AND m.id > ?))")
		args = append(args, mq.CursorTS, mq.CursorTS, mq.CursorID)
	} else if mq.SinceTS > 0 {
		sb.WriteString(" AND m.created_at > ?")
		args = append(args, mq.SinceTS)
	}

	if mq.Delta() {
		sb.WriteString(" ORDER BY m.created_at ASC, m.id ASC")
	} else {
		sb.WriteString(" ORDER BY m.created_at DESC, m.id DESC")
	}

	limit := mq.Limit
	if limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, limit+1)
	}
	if mq.Offset > 0 {
		sb.WriteString(" OFFSET ?")
		args = append(args, mq.Offset)
	}

	var rows []messageRow
	if err := sqlx.SelectContext(ctx, q.x, &rows, q.x.Rebind(sb.String()), args...); err != nil {
		return nil, false, err
	}

	hasMore := false
	if limit > 0 && len(rows) > limit {
		hasMore = true
		rows = rows[:limit]
	}
	msgs := make([]*models.Message, 0, len(rows))
	for _, row := range rows {
		msgs = append(msgs, row.toModel())
	}
	return msgs, hasMore, nil
}

// MarkMessagesRead materializes the per-agent read-mark for the given message
// ids. Re-reads are no-ops: the mark flips once, from unread to read.
func (q *queries) MarkMessagesRead(ctx context.Context, agentID string, ids []int64, nowMs int64) error {
	if len(ids) == 0 {
		return nil
	}
	prefix, suffix := q.insertIgnore()
	query := prefix + ` INTO message_reads (message_id, agent_id, read_at) VALUES (?, ?, ?)` + suffix
	for _, id := range ids {
		if _, err := q.x.ExecContext(ctx, q.x.Rebind(query), id, agentID, nowMs); err != nil {
			return err
		}
	}
	return nil
}
