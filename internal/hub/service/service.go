// Package service implements the coordination hub behind the tool surface.
// Every tool call runs through execute: idempotency gate, heartbeat on the
// acting agent, one repository transaction, envelope shaping, and an activity
// event after commit.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/caephub/caephub/internal/artifacts"
	"github.com/caephub/caephub/internal/common/config"
	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/common/logger"
	"github.com/caephub/caephub/internal/events/bus"
	"github.com/caephub/caephub/internal/hub/repository"
	"github.com/caephub/caephub/internal/hub/shape"
	"github.com/caephub/caephub/internal/metrics"
	"github.com/caephub/caephub/internal/policy"
	"github.com/caephub/caephub/internal/tracing"
)

const eventSource = "caephub"

// Service is the coordination hub service layer shared by all transports.
type Service struct {
	repo      *repository.Repository
	bus       bus.EventBus
	cfg       *config.Config
	log       *logger.Logger
	policy    *policy.Advisor
	artifacts artifacts.Registry
	metrics   *metrics.Metrics

	// now returns the current time in epoch ms; overridable in tests.
	now func() int64
}

// New creates the service.
func New(repo *repository.Repository, eventBus bus.EventBus, cfg *config.Config,
	log *logger.Logger, advisor *policy.Advisor, registry artifacts.Registry,
	m *metrics.Metrics) *Service {
	return &Service{
		repo:      repo,
		bus:       eventBus,
		cfg:       cfg,
		log:       log,
		policy:    advisor,
		artifacts: registry,
		metrics:   m,
		now:       func() int64 { return time.Now().UnixMilli() },
	}
}

// ToolResult is the transport-agnostic outcome of a tool call: the serialized
// response envelope plus the HTTP status HTTP transports should use.
type ToolResult struct {
	Status   int
	Body     json.RawMessage
	Replayed bool
}

// OK reports whether the call produced a success envelope.
func (r *ToolResult) OK() bool { return r.Status < http.StatusBadRequest }

// errTypedFailure forces a rollback for handler errors that still produce a
// cacheable envelope.
var errTypedFailure = errors.New("typed tool failure")

// execute runs a tool handler under the idempotency gate. The handler's
// effects, the heartbeat and the idempotency record commit in one transaction;
// typed errors roll the effects back but are cached and replayed like
// successes. Store failures abort the transaction and surface as INTERNAL.
func (s *Service) execute(ctx context.Context, tool, agentID, idemKey string,
	fn func(ctx context.Context, tx *repository.Tx, nowMs int64) (any, error)) *ToolResult {

	ctx, span := tracing.Tracer("hub.service").Start(ctx, tool)
	defer span.End()

	start := time.Now()
	s.metrics.ToolCalls.WithLabelValues(tool).Inc()
	defer func() {
		s.metrics.ToolDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
	}()

	nowMs := s.now()
	cutoffMs := nowMs - s.cfg.Hub.IdempotencyRetentionDuration().Milliseconds()

	var (
		body       []byte
		replayed   bool
		handlerErr error
	)
	txErr := s.repo.WithTransaction(ctx, func(tx *repository.Tx) error {
		if idemKey != "" {
			cached, hit, err := tx.GetIdempotentResult(ctx, agentID, tool, idemKey, cutoffMs)
			if err != nil {
				return err
			}
			if hit {
				body = []byte(cached)
				replayed = true
				return nil
			}
		}
		if agentID != "" {
			if err := tx.Heartbeat(ctx, agentID, nowMs); err != nil {
				return err
			}
		}

		result, err := fn(ctx, tx, nowMs)
		if err != nil {
			if apperrors.Code(err) == apperrors.ErrCodeInternal {
				return err
			}
			handlerErr = err
			return errTypedFailure
		}

		body, err = successEnvelope(result)
		if err != nil {
			return err
		}
		if idemKey != "" {
			return tx.PutIdempotentResult(ctx, agentID, tool, idemKey, string(body), nowMs)
		}
		return nil
	})

	switch {
	case txErr == nil && replayed:
		s.metrics.IdempotentHits.Inc()
		return &ToolResult{Status: replayStatus(body), Body: body, Replayed: true}

	case txErr == nil:
		return &ToolResult{Status: http.StatusOK, Body: body}

	case errors.Is(txErr, errTypedFailure):
		s.metrics.ToolErrors.WithLabelValues(tool, apperrors.Code(handlerErr)).Inc()
		body = errorEnvelope(handlerErr)
		// The rollback above discarded the heartbeat; a refused call still
		// proves the agent alive, so bump last_seen_at here. Typed failures
		// are first results too: cache them so a retry with the same key
		// replays the same refusal.
		if agentID != "" || idemKey != "" {
			if err := s.repo.WithTransaction(ctx, func(tx *repository.Tx) error {
				if agentID != "" {
					if err := tx.Heartbeat(ctx, agentID, nowMs); err != nil {
						return err
					}
				}
				if idemKey != "" {
					return tx.PutIdempotentResult(ctx, agentID, tool, idemKey, string(body), nowMs)
				}
				return nil
			}); err != nil {
				s.log.WithError(err).Warn("failed to record refused tool call",
					zap.String("tool", tool), zap.String("agent_id", agentID))
			}
		}
		return &ToolResult{Status: apperrors.GetHTTPStatus(handlerErr), Body: body}

	default:
		s.metrics.ToolErrors.WithLabelValues(tool, apperrors.ErrCodeInternal).Inc()
		s.log.WithError(txErr).Error("tool transaction failed",
			zap.String("tool", tool), zap.String("agent_id", agentID))
		wrapped := apperrors.Wrap(txErr, tool+" failed")
		return &ToolResult{Status: wrapped.HTTPStatus, Body: errorEnvelope(wrapped)}
	}
}

// successEnvelope wraps a handler result as {"success":true, ...fields}.
// Nano list results bypass the envelope entirely.
func successEnvelope(result any) ([]byte, error) {
	switch result.(type) {
	case *shape.NanoMessageList, *shape.NanoTaskList:
		return json.Marshal(result)
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("tool result must encode as an object: %w", err)
	}
	fields["success"] = true
	return json.Marshal(fields)
}

// ErrorResult builds a ToolResult for an error raised outside the gate, such
// as malformed tool arguments.
func ErrorResult(err error) *ToolResult {
	return &ToolResult{Status: apperrors.GetHTTPStatus(err), Body: errorEnvelope(err)}
}

// errorEnvelope builds the {"success":false, ...} envelope for a typed error.
func errorEnvelope(err error) []byte {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Internal(err.Error(), err)
	}
	body, _ := json.Marshal(map[string]any{
		"success":    false,
		"error_code": appErr.Code,
		"error":      appErr.Message,
	})
	return body
}

// replayStatus recovers the HTTP status of a cached envelope from its
// error_code; success envelopes (and bare nano lists) replay as 200.
func replayStatus(body []byte) int {
	var probe struct {
		Success *bool  `json:"success"`
		Code    string `json:"error_code"`
	}
	if err := json.Unmarshal(body, &probe); err != nil || probe.Success == nil || *probe.Success {
		return http.StatusOK
	}
	return apperrors.HTTPStatusForCode(probe.Code)
}

// publish emits an activity event after the transaction committed. Publish
// failures are logged, never surfaced: the event stream is observational.
func (s *Service) publish(ctx context.Context, eventType, subject string, data map[string]any) {
	if s.bus == nil {
		return
	}
	if subject == "" {
		subject = eventType
	}
	if err := s.bus.Publish(ctx, subject, bus.NewEvent(eventType, eventSource, data)); err != nil {
		s.log.WithError(err).Warn("failed to publish activity event",
			zap.String("event_type", eventType))
	}
}

// FormatCursor renders the delta cursor "<created_at_ms>:<id>".
func FormatCursor(createdAtMs, id int64) string {
	return strconv.FormatInt(createdAtMs, 10) + ":" + strconv.FormatInt(id, 10)
}

// ParseCursor parses a delta cursor produced by FormatCursor.
func ParseCursor(s string) (createdAtMs, id int64, err error) {
	ts, rest, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, apperrors.Validation("cursor must be \"<created_at_ms>:<id>\"")
	}
	createdAtMs, err = strconv.ParseInt(ts, 10, 64)
	if err == nil {
		id, err = strconv.ParseInt(rest, 10, 64)
	}
	if err != nil || createdAtMs < 0 || id < 0 {
		return 0, 0, apperrors.Validation("cursor must be \"<created_at_ms>:<id>\"")
	}
	return createdAtMs, id, nil
}

// retryAfterMs derives the jittered backoff hint from the consecutive
// empty-poll count: exponential growth from the configured floor, full jitter,
// capped at the configured ceiling.
func (s *Service) retryAfterMs(emptyPolls int) int64 {
	minMs := int64(s.cfg.Coordination.BackoffMinMs)
	maxMs := int64(s.cfg.Coordination.BackoffMaxMs)

	base := minMs
	for i := 1; i < emptyPolls && base < maxMs; i++ {
		base *= 2
	}
	if base > maxMs {
		base = maxMs
	}
	if base <= minMs {
		return minMs
	}
	return minMs + rand.Int63n(base-minMs+1)
}

// pollingGuard rejects full mode on polling-style reads.
func (s *Service) pollingGuard(mode shape.Mode, polling, delta bool) error {
	if !s.cfg.Hub.DisallowFullInPolling {
		return nil
	}
	if mode == shape.ModeFull && (polling || delta) {
		return apperrors.FullModeForbidden()
	}
	return nil
}
