// Package models defines the persisted entities of the coordination hub.
package models

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskDone || s == TaskCancelled
}

// Valid reports whether s names a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskInProgress, TaskBlocked, TaskDone, TaskCancelled:
		return true
	}
	return false
}

// CanTransition reports whether the state graph admits from -> to.
//
//	pending ──► in_progress ──► done
//	    │           │
//	    ├──────────►├──► blocked ──► in_progress
//	    │           │
//	    └──► cancelled  (from any non-terminal)
func CanTransition(from, to TaskStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	if to == TaskCancelled {
		return true
	}
	switch from {
	case TaskPending:
		return to == TaskInProgress || to == TaskBlocked
	case TaskInProgress:
		return to == TaskDone || to == TaskBlocked
	case TaskBlocked:
		return to == TaskInProgress
	}
	return false
}

// TaskPriority orders tasks within a scheduling partition.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Valid reports whether p names a known priority.
func (p TaskPriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Rank returns the scheduling rank of a priority; higher runs first.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

// ExecutionMode constrains which runtime profiles may claim a task.
type ExecutionMode string

const (
	ModeRepo     ExecutionMode = "repo"
	ModeIsolated ExecutionMode = "isolated"
	ModeAny      ExecutionMode = "any"
)

// Valid reports whether m names a known execution mode.
func (m ExecutionMode) Valid() bool {
	return m == ModeRepo || m == ModeIsolated || m == ModeAny
}

// Compatible reports whether an agent running in agentMode may execute a task
// requiring taskMode. "any" on either side matches everything.
func Compatible(agentMode, taskMode ExecutionMode) bool {
	if agentMode == ModeAny || taskMode == ModeAny {
		return true
	}
	return agentMode == taskMode
}

// ConsistencyMode selects the done-gate strictness of a task.
type ConsistencyMode string

const (
	ConsistencyRelaxed ConsistencyMode = "relaxed"
	ConsistencyStrict  ConsistencyMode = "strict"
)

// Valid reports whether c names a known consistency mode.
func (c ConsistencyMode) Valid() bool {
	return c == ConsistencyRelaxed || c == ConsistencyStrict
}

// RuntimeProfile describes where and how an agent executes.
type RuntimeProfile struct {
	Mode   ExecutionMode `json:"mode"`
	Source string        `json:"source,omitempty"`
}

// Agent is an external autonomous process registered with the hub.
type Agent struct {
	ID             string         `json:"id" db:"id"`
	RuntimeProfile RuntimeProfile `json:"runtime_profile"`
	RegisteredAt   int64          `json:"registered_at" db:"registered_at"` // ms epoch
	LastSeenAt     int64          `json:"last_seen_at" db:"last_seen_at"`   // ms epoch
}

// Message is one row of the append-only message log.
// ToAgent is empty for broadcasts; Read is the per-recipient read-mark of the
// reading agent, materialized lazily for broadcasts.
type Message struct {
	ID        int64  `json:"id" db:"id"`
	FromAgent string `json:"from_agent" db:"from_agent"`
	ToAgent   string `json:"to_agent,omitempty" db:"to_agent"`
	Content   string `json:"content" db:"content"`
	Codec     string `json:"codec,omitempty" db:"codec"`
	Metadata  string `json:"metadata,omitempty" db:"metadata"`
	TraceID   string `json:"trace_id,omitempty" db:"trace_id"`
	SpanID    string `json:"span_id,omitempty" db:"span_id"`
	CreatedAt int64  `json:"created_at" db:"created_at"` // ms epoch
	Read      bool   `json:"read" db:"read"`
}

// Broadcast reports whether the message is addressed to every agent.
func (m *Message) Broadcast() bool { return m.ToAgent == "" }

// Blob is one content-addressed row of the protocol blob store.
type Blob struct {
	Hash          string `json:"hash" db:"hash"`
	Value         string `json:"value" db:"value"`
	Codec         string `json:"codec" db:"codec"`
	DeclaredChars int    `json:"declared_chars" db:"declared_chars"`
	CreatedAt     int64  `json:"created_at" db:"created_at"` // ms epoch
}

// Task is a unit of work coordinated through the claim/lease protocol.
type Task struct {
	ID                 int64           `json:"id" db:"id"`
	Title              string          `json:"title" db:"title"`
	Description        string          `json:"description,omitempty" db:"description"`
	CreatedBy          string          `json:"created_by" db:"created_by"`
	AssignedTo         string          `json:"assigned_to,omitempty" db:"assigned_to"`
	Status             TaskStatus      `json:"status" db:"status"`
	Priority           TaskPriority    `json:"priority" db:"priority"`
	Namespace          string          `json:"namespace,omitempty" db:"namespace"`
	DependsOn          []int64         `json:"depends_on,omitempty"`
	ExecutionMode      ExecutionMode   `json:"execution_mode" db:"execution_mode"`
	ConsistencyMode    ConsistencyMode `json:"consistency_mode" db:"consistency_mode"`
	Confidence         *float64        `json:"confidence,omitempty" db:"confidence"`
	VerificationPassed *bool           `json:"verification_passed,omitempty" db:"verification_passed"`
	VerifiedBy         string          `json:"verified_by,omitempty" db:"verified_by"`
	EvidenceRefs       []string        `json:"evidence_refs,omitempty"`
	CreatedAt          int64           `json:"created_at" db:"created_at"` // ms epoch
	UpdatedAt          int64           `json:"updated_at" db:"updated_at"` // ms epoch
}

// Claim is a time-bounded exclusive assignment of a task to an agent.
type Claim struct {
	TaskID         int64  `json:"task_id" db:"task_id"`
	AgentID        string `json:"agent_id" db:"agent_id"`
	ClaimedAt      int64  `json:"claimed_at" db:"claimed_at"`             // ms epoch
	LeaseExpiresAt int64  `json:"lease_expires_at" db:"lease_expires_at"` // ms epoch
	RenewCount     int    `json:"renew_count" db:"renew_count"`
}

// Live reports whether the claim lease is still running at nowMs.
func (c *Claim) Live(nowMs int64) bool {
	return c != nil && c.LeaseExpiresAt > nowMs
}

// ArtifactLink attaches an artifact to a task.
type ArtifactLink struct {
	TaskID     int64  `json:"task_id" db:"task_id"`
	ArtifactID string `json:"artifact_id" db:"artifact_id"`
	AttachedBy string `json:"attached_by" db:"attached_by"`
	AttachedAt int64  `json:"attached_at" db:"attached_at"` // ms epoch
}

// DepStatus pairs a dependency id with its current status for handoff packets.
type DepStatus struct {
	ID     int64      `json:"id"`
	Status TaskStatus `json:"status"`
}
