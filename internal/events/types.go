// Package events provides event types and utilities for the caephub event system.
package events

// Event types for messages
const (
	MessageSent = "message.sent"
	MessageRead = "message.read"
)

// Event types for blobs
const (
	BlobStored = "blob.stored"
)

// Event types for tasks
const (
	TaskCreated      = "task.created"
	TaskUpdated      = "task.updated"
	TaskStateChanged = "task.state_changed"
)

// Event types for claims
const (
	TaskClaimed       = "task.claimed"
	TaskClaimRenewed  = "task.claim_renewed"
	TaskClaimReleased = "task.claim_released"
	TaskClaimExpired  = "task.claim_expired"
)

// Event types for artifacts
const (
	ArtifactAttached = "artifact.attached"
)

// Event types for agents
const (
	AgentRegistered = "agent.registered"
	AgentHeartbeat  = "agent.heartbeat"
)

// BuildAgentMessageSubject creates a message subject scoped to a recipient,
// letting an agent subscribe to its own inbox traffic.
func BuildAgentMessageSubject(agentID string) string {
	return MessageSent + "." + agentID
}

// BuildAgentMessageWildcardSubject creates a wildcard subscription for all
// message deliveries.
func BuildAgentMessageWildcardSubject() string {
	return MessageSent + ".*"
}

// BuildTaskSubject creates the event subject scoped to one task. All
// task-scoped events (state changes, claim activity) publish under it.
func BuildTaskSubject(taskID string) string {
	return "task.events." + taskID
}

// BuildTaskWildcardSubject creates a wildcard subscription covering the
// task-scoped events of every task.
func BuildTaskWildcardSubject() string {
	return "task.events.*"
}
