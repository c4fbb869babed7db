// Package tools defines the coordination hub's tool surface once, shared by
// the MCP server and the HTTP API. Each tool pairs a declared parameter
// schema with a handler that decodes JSON arguments and dispatches to the
// service layer.
package tools

import (
	"context"
	"encoding/json"

	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/hub/service"
)

// ParamType enumerates the JSON schema types the tool surface uses.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
	TypeArray   ParamType = "array"
)

// Param describes one tool argument.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	Description string
}

// Handler decodes raw JSON arguments and runs the tool.
type Handler func(ctx context.Context, args json.RawMessage) *service.ToolResult

// Tool is one entry of the shared tool table.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handle      Handler
}

// handler adapts a typed service method to the raw-argument Handler shape.
func handler[T any](fn func(context.Context, T) *service.ToolResult) Handler {
	return func(ctx context.Context, args json.RawMessage) *service.ToolResult {
		var req T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &req); err != nil {
				return service.ErrorResult(apperrors.Validation("invalid tool arguments: " + err.Error()))
			}
		}
		return fn(ctx, req)
	}
}

// Common parameter fragments reused across tools.
var (
	paramIdempotencyKey = Param{Name: "idempotency_key", Type: TypeString,
		Description: "Replay key: a retry with the same key returns the first result verbatim"}
	paramResponseMode = Param{Name: "response_mode", Type: TypeString,
		Description: "Shaping mode: full, compact (default), tiny, or nano"}
	paramAgentID = Param{Name: "agent_id", Type: TypeString, Required: true,
		Description: "The acting agent's ID"}
	paramTaskID = Param{Name: "task_id", Type: TypeNumber, Required: true,
		Description: "The task ID"}
	paramLeaseSeconds = Param{Name: "lease_seconds", Type: TypeNumber,
		Description: "Requested lease duration in seconds (server default and cap apply)"}
)

// All returns the full tool table bound to the given service.
func All(svc *service.Service) []Tool {
	return []Tool{
		{
			Name:        "send_message",
			Description: "Send a message to another agent, or broadcast by omitting to_agent. Content may be compressed with a codec before storage.",
			Params: []Param{
				{Name: "from_agent", Type: TypeString, Required: true, Description: "Sender agent ID"},
				{Name: "to_agent", Type: TypeString, Description: "Recipient agent ID; empty means broadcast"},
				{Name: "content", Type: TypeString, Required: true, Description: "Message content"},
				{Name: "metadata", Type: TypeString, Description: "Optional JSON metadata string"},
				{Name: "codec", Type: TypeString, Description: "Content codec: none (default), whitespace, json, auto, lossless_auto"},
				{Name: "trace_id", Type: TypeString, Description: "Optional trace correlation ID"},
				{Name: "span_id", Type: TypeString, Description: "Optional span correlation ID"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.SendMessage),
		},
		{
			Name:        "send_blob_message",
			Description: "Store a large payload in the content-addressed blob store and send a message carrying its blob reference instead of the payload itself.",
			Params: []Param{
				{Name: "from_agent", Type: TypeString, Required: true, Description: "Sender agent ID"},
				{Name: "to_agent", Type: TypeString, Description: "Recipient agent ID; empty means broadcast"},
				{Name: "payload", Type: TypeString, Required: true, Description: "The payload to store"},
				{Name: "codec", Type: TypeString, Description: "Storage codec; defaults to lossless_auto"},
				{Name: "compression_mode", Type: TypeString, Description: "Alias for codec"},
				{Name: "metadata", Type: TypeString, Description: "Optional JSON metadata string"},
				{Name: "trace_id", Type: TypeString, Description: "Optional trace correlation ID"},
				{Name: "span_id", Type: TypeString, Description: "Optional span correlation ID"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.SendBlobMessage),
		},
		{
			Name:        "read_messages",
			Description: "Read the agent's inbox (direct plus broadcast), marking returned messages as read. Supports unread-only filtering, delta cursors and response shaping.",
			Params: []Param{
				paramAgentID,
				{Name: "from", Type: TypeString, Description: "Only messages from this sender"},
				{Name: "unread_only", Type: TypeBoolean, Description: "Only messages not yet read by this agent"},
				{Name: "limit", Type: TypeNumber, Description: "Page size; defaults to 50"},
				{Name: "offset", Type: TypeNumber, Description: "Offset for non-cursor paging"},
				{Name: "since_ts", Type: TypeNumber, Description: "Delta mode: only messages created after this epoch-ms timestamp"},
				{Name: "cursor", Type: TypeString, Description: "Delta cursor from a previous page's next_cursor"},
				paramResponseMode,
				{Name: "polling", Type: TypeBoolean, Description: "Declare this a polling read; full mode is then refused"},
				{Name: "resolve_blob_refs", Type: TypeBoolean, Description: "Expand blob references into their decoded payloads"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.ReadMessages),
		},
		{
			Name:        "create_task",
			Description: "Create a task. Dependencies must already exist and must not form a cycle. Critical tasks default to strict consistency.",
			Params: []Param{
				{Name: "title", Type: TypeString, Required: true, Description: "Task title"},
				{Name: "description", Type: TypeString, Description: "Task description"},
				{Name: "created_by", Type: TypeString, Required: true, Description: "Creating agent's ID"},
				{Name: "assigned_to", Type: TypeString, Description: "Optional initial assignee"},
				{Name: "priority", Type: TypeString, Description: "low, medium (default), high, critical"},
				{Name: "namespace", Type: TypeString, Description: "Optional namespace for scoping"},
				{Name: "depends_on", Type: TypeArray, Description: "IDs of tasks that must be done first"},
				{Name: "execution_mode", Type: TypeString, Description: "Required runtime: repo, isolated, any (default)"},
				{Name: "consistency_mode", Type: TypeString, Description: "relaxed or strict; defaults by priority"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.CreateTask),
		},
		{
			Name:        "update_task",
			Description: "Update task fields and optionally transition its status. Transitions into done must pass the completion gate.",
			Params: []Param{
				paramTaskID,
				paramAgentID,
				{Name: "status", Type: TypeString, Description: "New status: pending, in_progress, blocked, done, cancelled"},
				{Name: "title", Type: TypeString, Description: "New title"},
				{Name: "description", Type: TypeString, Description: "New description"},
				{Name: "priority", Type: TypeString, Description: "New priority"},
				{Name: "assigned_to", Type: TypeString, Description: "New assignee; refused while another agent holds a live claim"},
				{Name: "confidence", Type: TypeNumber, Description: "Completion confidence in [0, 1]"},
				{Name: "verification_passed", Type: TypeBoolean, Description: "Whether verification passed"},
				{Name: "verified_by", Type: TypeString, Description: "Verifying agent; strict tasks require an independent one"},
				{Name: "evidence_refs", Type: TypeArray, Description: "Evidence references backing completion"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.UpdateTask),
		},
		{
			Name:        "list_tasks",
			Description: "List tasks with filters, delta cursors and response shaping.",
			Params: []Param{
				{Name: "agent_id", Type: TypeString, Description: "The acting agent's ID"},
				{Name: "status", Type: TypeString, Description: "Filter by status"},
				{Name: "priority", Type: TypeString, Description: "Filter by priority"},
				{Name: "assigned_to", Type: TypeString, Description: "Filter by assignee"},
				{Name: "created_by", Type: TypeString, Description: "Filter by creator"},
				{Name: "namespace", Type: TypeString, Description: "Filter by namespace"},
				{Name: "limit", Type: TypeNumber, Description: "Page size; defaults to 50"},
				{Name: "offset", Type: TypeNumber, Description: "Offset for non-cursor paging"},
				{Name: "since_ts", Type: TypeNumber, Description: "Delta mode: only tasks created after this epoch-ms timestamp"},
				{Name: "cursor", Type: TypeString, Description: "Delta cursor from a previous page's next_cursor"},
				paramResponseMode,
				{Name: "polling", Type: TypeBoolean, Description: "Declare this a polling read; full mode is then refused"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.ListTasks),
		},
		{
			Name:        "poll_and_claim",
			Description: "Atomically pick and claim the best claimable task for this agent's runtime profile: dependency-ready tasks first, then by priority. Returns a null task plus retry_after_ms when nothing is claimable.",
			Params: []Param{
				paramAgentID,
				paramLeaseSeconds,
				paramResponseMode,
				paramIdempotencyKey,
			},
			Handle: handler(svc.PollAndClaim),
		},
		{
			Name:        "claim_task",
			Description: "Claim a specific task under a lease. Re-claiming a task you already hold extends the lease; claiming over another agent's live lease is refused.",
			Params: []Param{
				paramTaskID,
				paramAgentID,
				paramLeaseSeconds,
				paramIdempotencyKey,
			},
			Handle: handler(svc.ClaimTask),
		},
		{
			Name:        "renew_task_claim",
			Description: "Extend the lease on a task this agent holds. A lapsed lease cannot be renewed; re-claim instead.",
			Params: []Param{
				paramTaskID,
				paramAgentID,
				paramLeaseSeconds,
				paramIdempotencyKey,
			},
			Handle: handler(svc.RenewClaim),
		},
		{
			Name:        "release_task_claim",
			Description: "Release a held claim, optionally transitioning the task (the completion gate still applies). Without a status the task returns to the pool unassigned.",
			Params: []Param{
				paramTaskID,
				paramAgentID,
				{Name: "status", Type: TypeString, Description: "Optional final status for the task"},
				{Name: "confidence", Type: TypeNumber, Description: "Completion confidence in [0, 1]"},
				{Name: "verification_passed", Type: TypeBoolean, Description: "Whether verification passed"},
				{Name: "verified_by", Type: TypeString, Description: "Verifying agent"},
				{Name: "evidence_refs", Type: TypeArray, Description: "Evidence references backing completion"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.ReleaseClaim),
		},
		{
			Name:        "list_task_claims",
			Description: "List currently live claims, optionally filtered by task or holder.",
			Params: []Param{
				{Name: "agent_id", Type: TypeString, Description: "The acting agent's ID"},
				{Name: "task_id", Type: TypeNumber, Description: "Only the claim on this task"},
				{Name: "filter_agent", Type: TypeString, Description: "Only claims held by this agent"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.ListClaims),
		},
		{
			Name:        "attach_task_artifact",
			Description: "Attach a registered artifact to a task. The attaching agent must have access; the task's current assignee is granted access.",
			Params: []Param{
				paramTaskID,
				paramAgentID,
				{Name: "artifact_id", Type: TypeString, Required: true, Description: "The artifact to attach"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.AttachArtifact),
		},
		{
			Name:        "list_task_artifacts",
			Description: "List the artifacts attached to a task, in attach order.",
			Params: []Param{
				paramTaskID,
				{Name: "agent_id", Type: TypeString, Description: "The acting agent's ID"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.ListArtifacts),
		},
		{
			Name:        "get_task_handoff",
			Description: "Assemble the takeover packet for a task: the shaped task, dependency statuses, evidence, attached artifacts with access annotations, and optionally download tickets for the artifacts this agent can access.",
			Params: []Param{
				paramTaskID,
				paramAgentID,
				paramResponseMode,
				{Name: "include_downloads", Type: TypeBoolean, Description: "Issue download tickets for accessible artifacts"},
				{Name: "download_ttl_sec", Type: TypeNumber, Description: "Ticket validity in seconds"},
				paramIdempotencyKey,
			},
			Handle: handler(svc.GetTaskHandoff),
		},
	}
}
