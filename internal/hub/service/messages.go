package service

import (
	"context"

	"github.com/caephub/caephub/internal/codec"
	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/events"
	"github.com/caephub/caephub/internal/hub/models"
	"github.com/caephub/caephub/internal/hub/repository"
	"github.com/caephub/caephub/internal/hub/shape"
)

// SendMessageRequest carries the arguments of the send_message tool.
type SendMessageRequest struct {
	FromAgent      string `json:"from_agent"`
	ToAgent        string `json:"to_agent"`
	Content        string `json:"content"`
	Metadata       string `json:"metadata"`
	Codec          string `json:"codec"`
	TraceID        string `json:"trace_id"`
	SpanID         string `json:"span_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// SendMessageResult is the send_message success payload.
type SendMessageResult struct {
	Message  *models.Message `json:"message"`
	Codec    *codec.Result   `json:"codec,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// SendMessage appends a message to the log, applying the requested content
// codec and enforcing the configured size caps on the stored form.
func (s *Service) SendMessage(ctx context.Context, req SendMessageRequest) *ToolResult {
	res := s.execute(ctx, "send_message", req.FromAgent, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			return s.sendMessage(ctx, tx, req, nowMs)
		})
	if res.OK() && !res.Replayed {
		s.publish(ctx, events.MessageSent, messageSubject(req.ToAgent), map[string]any{
			"from_agent": req.FromAgent,
			"to_agent":   req.ToAgent,
		})
	}
	return res
}

// messageSubject scopes delivery events to the recipient; broadcasts publish
// on the bare event type.
func messageSubject(toAgent string) string {
	if toAgent == "" {
		return events.MessageSent
	}
	return events.BuildAgentMessageSubject(toAgent)
}

func (s *Service) sendMessage(ctx context.Context, tx *repository.Tx, req SendMessageRequest, nowMs int64) (*SendMessageResult, error) {
	if req.FromAgent == "" {
		return nil, apperrors.Validation("from_agent is required")
	}
	if req.Content == "" {
		return nil, apperrors.Validation("content is required")
	}
	mode := codec.Mode(req.Codec)
	if req.Codec == "" {
		mode = codec.ModeNone
	}
	if !codec.ValidMode(string(mode)) {
		return nil, apperrors.Validation("codec must be one of: none, whitespace, json, auto, lossless_auto")
	}

	metadata := req.Metadata
	if metadata != "" {
		// Metadata is always stored in normalized JSON form.
		norm := codec.Encode(metadata, codec.ModeJSON)
		metadata = norm.StoredValue
		if n := shape.Chars(metadata); n > s.cfg.Hub.MaxMessageMetadataChars {
			return nil, apperrors.MetadataTooLong(n, s.cfg.Hub.MaxMessageMetadataChars)
		}
	}

	enc := codec.Encode(req.Content, mode)
	if n := shape.Chars(enc.StoredValue); n > s.cfg.Hub.MaxMessageContentChars {
		return nil, apperrors.ContentTooLong(n, s.cfg.Hub.MaxMessageContentChars)
	}

	msg := &models.Message{
		FromAgent: req.FromAgent,
		ToAgent:   req.ToAgent,
		Content:   enc.StoredValue,
		Codec:     string(enc.CodecUsed),
		Metadata:  metadata,
		TraceID:   req.TraceID,
		SpanID:    req.SpanID,
	}
	if err := tx.InsertMessage(ctx, msg, nowMs); err != nil {
		return nil, err
	}

	s.metrics.MessagesStored.Inc()
	if saved := shape.Chars(req.Content) - shape.Chars(enc.StoredValue); saved > 0 {
		s.metrics.CodecSavedChars.Add(float64(saved))
	}
	result := &SendMessageResult{Message: msg}
	if enc.Applied {
		encCopy := enc
		result.Codec = &encCopy
	}
	return result, nil
}

// SendBlobMessageRequest carries the arguments of the send_blob_message tool.
type SendBlobMessageRequest struct {
	FromAgent string `json:"from_agent"`
	ToAgent   string `json:"to_agent"`
	Payload   string `json:"payload"`
	Codec     string `json:"codec"`
	// CompressionMode is an accepted alias for Codec kept for older clients.
	CompressionMode string `json:"compression_mode"`
	Metadata        string `json:"metadata"`
	TraceID         string `json:"trace_id"`
	SpanID          string `json:"span_id"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// SendBlobMessageResult is the send_blob_message success payload.
type SendBlobMessageResult struct {
	Message     *models.Message `json:"message"`
	BlobHash    string          `json:"blob_hash"`
	BlobCreated bool            `json:"blob_created"`
	Codec       *codec.Result   `json:"codec,omitempty"`
}

// SendBlobMessage stores a payload in the content-addressed blob store and
// sends a message whose content is the blob-ref envelope.
func (s *Service) SendBlobMessage(ctx context.Context, req SendBlobMessageRequest) *ToolResult {
	res := s.execute(ctx, "send_blob_message", req.FromAgent, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			return s.sendBlobMessage(ctx, tx, req, nowMs)
		})
	if res.OK() && !res.Replayed {
		s.publish(ctx, events.BlobStored, "", map[string]any{"from_agent": req.FromAgent})
		s.publish(ctx, events.MessageSent, messageSubject(req.ToAgent), map[string]any{
			"from_agent": req.FromAgent,
			"to_agent":   req.ToAgent,
			"blob":       true,
		})
	}
	return res
}

func (s *Service) sendBlobMessage(ctx context.Context, tx *repository.Tx, req SendBlobMessageRequest, nowMs int64) (*SendBlobMessageResult, error) {
	if req.FromAgent == "" {
		return nil, apperrors.Validation("from_agent is required")
	}
	if req.Payload == "" {
		return nil, apperrors.Validation("payload is required")
	}
	requested := req.Codec
	if requested == "" {
		requested = req.CompressionMode
	}
	mode := codec.Mode(requested)
	if requested == "" {
		mode = codec.ModeLosslessAuto
	}
	if !codec.ValidMode(string(mode)) {
		return nil, apperrors.Validation("codec must be one of: none, whitespace, json, auto, lossless_auto")
	}

	enc := codec.Encode(req.Payload, mode)
	if n := shape.Chars(enc.StoredValue); n > s.cfg.Hub.MaxProtocolBlobChars {
		return nil, apperrors.BlobTooLong(n, s.cfg.Hub.MaxProtocolBlobChars)
	}

	payloadChars := shape.Chars(req.Payload)
	hash := codec.HashHex(enc.StoredValue)
	blob := &models.Blob{
		Hash:          hash,
		Value:         enc.StoredValue,
		Codec:         string(enc.CodecUsed),
		DeclaredChars: payloadChars,
	}
	created, err := tx.PutBlob(ctx, blob, nowMs)
	if err != nil {
		return nil, err
	}
	if created {
		s.metrics.BlobsStored.Inc()
		if saved := payloadChars - shape.Chars(enc.StoredValue); saved > 0 {
			s.metrics.CodecSavedChars.Add(float64(saved))
		}
	}

	inner, err := s.sendMessage(ctx, tx, SendMessageRequest{
		FromAgent: req.FromAgent,
		ToAgent:   req.ToAgent,
		Content:   codec.MakeBlobRef(hash, payloadChars),
		Metadata:  req.Metadata,
		TraceID:   req.TraceID,
		SpanID:    req.SpanID,
	}, nowMs)
	if err != nil {
		return nil, err
	}

	encCopy := enc
	return &SendBlobMessageResult{
		Message:     inner.Message,
		BlobHash:    hash,
		BlobCreated: created,
		Codec:       &encCopy,
	}, nil
}

// ReadMessagesRequest carries the arguments of the read_messages tool.
type ReadMessagesRequest struct {
	AgentID         string `json:"agent_id"`
	From            string `json:"from"`
	UnreadOnly      bool   `json:"unread_only"`
	Limit           int    `json:"limit"`
	Offset          int    `json:"offset"`
	SinceTS         int64  `json:"since_ts"`
	Cursor          string `json:"cursor"`
	ResponseMode    string `json:"response_mode"`
	Polling         bool   `json:"polling"`
	ResolveBlobRefs bool   `json:"resolve_blob_refs"`
	IdempotencyKey  string `json:"idempotency_key"`
}

// ReadMessagesResult is the read_messages success payload (non-nano modes).
type ReadMessagesResult struct {
	Messages   []any  `json:"messages"`
	Count      int    `json:"count"`
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`
}

const defaultListLimit = 50

// ReadMessages returns the agent's inbox slice, marks the returned messages
// read, and shapes the result in the requested response mode.
func (s *Service) ReadMessages(ctx context.Context, req ReadMessagesRequest) *ToolResult {
	var marked int
	res := s.execute(ctx, "read_messages", req.AgentID, req.IdempotencyKey,
		func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error) {
			result, n, err := s.readMessages(ctx, tx, req, nowMs)
			marked = n
			return result, err
		})
	if res.OK() && !res.Replayed && marked > 0 {
		s.publish(ctx, events.MessageRead, "", map[string]any{
			"agent_id": req.AgentID,
			"count":    marked,
		})
	}
	return res
}

func (s *Service) readMessages(ctx context.Context, tx *repository.Tx, req ReadMessagesRequest, nowMs int64) (any, int, error) {
	if req.AgentID == "" {
		return nil, 0, apperrors.Validation("agent_id is required")
	}
	mode, err := shape.ParseMode(req.ResponseMode)
	if err != nil {
		return nil, 0, err
	}

	query := repository.MessageQuery{
		AgentID:    req.AgentID,
		From:       req.From,
		UnreadOnly: req.UnreadOnly,
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
			return nil, 0, err
		}
		query.CursorTS, query.CursorID, query.HasCursor = ts, id, true
	}
	if err := s.pollingGuard(mode, req.Polling, query.Delta()); err != nil {
		return nil, 0, err
	}

	msgs, hasMore, err := tx.ListMessages(ctx, query)
	if err != nil {
		return nil, 0, err
	}

	shaped := make([]any, 0, len(msgs))
	var unread []int64
	for _, msg := range msgs {
		if !msg.Read {
			unread = append(unread, msg.ID)
		}
		content, ref, resolved := s.resolveContent(ctx, tx, msg, req.ResolveBlobRefs)
		shaped = append(shaped, shape.ShapedMessage(msg, mode, content, ref, resolved))
	}
	// Read marks flip in the same transaction; the rows returned in this
	// response still report read=false.
	if err := tx.MarkMessagesRead(ctx, req.AgentID, unread, nowMs); err != nil {
		return nil, 0, err
	}

	if mode == shape.ModeNano {
		return shape.NanoMessages(shaped, hasMore), len(unread), nil
	}
	result := &ReadMessagesResult{Messages: shaped, Count: len(shaped), HasMore: hasMore}
	if query.Delta() && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		result.NextCursor = FormatCursor(last.CreatedAt, last.ID)
	}
	return result, len(unread), nil
}

// resolveContent returns the effective content of a message for shaping,
// expanding blob-ref envelopes when asked.
func (s *Service) resolveContent(ctx context.Context, tx *repository.Tx, msg *models.Message, resolve bool) (string, *shape.BlobRefInfo, string) {
	if !resolve {
		return msg.Content, nil, ""
	}
	ref := codec.ParseBlobRef(msg.Content)
	if ref == nil {
		return msg.Content, nil, ""
	}

	info := &shape.BlobRefInfo{Hash: ref.Hash, DeclaredChars: ref.DeclaredChars}
	blob, err := tx.GetBlob(ctx, ref.Hash)
	if err != nil {
		// Dangling refs shape as unresolved; the envelope itself is returned.
		return msg.Content, info, ""
	}
	dec := codec.Decode(blob.Value)
	info.Resolved = true
	info.Codec = blob.Codec
	info.IntegrityOK = dec.IntegrityOK
	return dec.Value, info, dec.Value
}
