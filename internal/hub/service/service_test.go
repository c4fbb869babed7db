package service

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caephub/caephub/internal/artifacts"
	"github.com/caephub/caephub/internal/common/config"
	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/common/logger"
	"github.com/caephub/caephub/internal/db"
	"github.com/caephub/caephub/internal/events/bus"
	"github.com/caephub/caephub/internal/hub/repository"
	"github.com/caephub/caephub/internal/metrics"
	"github.com/caephub/caephub/internal/policy"
)

func testConfig() *config.Config {
	return &config.Config{
		Hub: config.HubConfig{
			MaxMessageContentChars:  1024,
			MaxMessageMetadataChars: 1024,
			MaxProtocolBlobChars:    32768,
			DisallowFullInPolling:   true,
			IdempotencyRetention:    86400,
		},
		Coordination: config.CoordinationConfig{
			DoneConfidenceFloor: 0.9,
			DefaultLeaseSec:     300,
			MaxLeaseSec:         3600,
			BackoffMinMs:        200,
			BackoffMaxMs:        12000,
		},
	}
}

func newTestService(t *testing.T) (*Service, *artifacts.LocalRegistry) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.db")
	writer, err := db.OpenSQLite(path)
	require.NoError(t, err)
	reader, err := db.OpenSQLiteReader(path, 0)
	require.NoError(t, err)
	repo, err := repository.New(db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	log := logger.Default()
	registry := artifacts.NewLocalRegistry("https://artifacts.test/dl")
	svc := New(repo, bus.NewMemoryEventBus(log), testConfig(), log,
		policy.NewAdvisor(), registry, metrics.New(prometheus.NewRegistry()))
	return svc, registry
}

func decodeBody(t *testing.T, res *ToolResult) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &body))
	return body
}

func requireSuccess(t *testing.T, res *ToolResult) map[string]any {
	t.Helper()
	body := decodeBody(t, res)
	require.Equal(t, true, body["success"], "expected success envelope, got %s", res.Body)
	return body
}

func requireError(t *testing.T, res *ToolResult, code string) map[string]any {
	t.Helper()
	body := decodeBody(t, res)
	require.Equal(t, false, body["success"], "expected error envelope, got %s", res.Body)
	require.Equal(t, code, body["error_code"])
	return body
}

func TestBlobMessageRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	payload := `{"report": "all systems nominal", "details": "repeated repeated repeated repeated"}`

	sent := requireSuccess(t, svc.SendBlobMessage(ctx, SendBlobMessageRequest{
		FromAgent: "alice", ToAgent: "bob", Payload: payload,
	}))
	hash, _ := sent["blob_hash"].(string)
	require.Len(t, hash, 64)

	read := requireSuccess(t, svc.ReadMessages(ctx, ReadMessagesRequest{
		AgentID: "bob", ResponseMode: "full", ResolveBlobRefs: true,
	}))
	msgs, _ := read["messages"].([]any)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)

	ref, _ := msg["blob_ref"].(map[string]any)
	require.NotNil(t, ref)
	assert.Equal(t, hash, ref["hash"])
	assert.Equal(t, true, ref["resolved"])
	assert.Equal(t, true, ref["integrity_ok"])
	assert.Equal(t, payload, msg["resolved_content"])
}

func TestPollingGuardRefusesFullMode(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res := svc.ReadMessages(ctx, ReadMessagesRequest{
		AgentID: "bob", ResponseMode: "full", Polling: true,
	})
	requireError(t, res, apperrors.ErrCodeFullModeForbidden)
	assert.Equal(t, http.StatusBadRequest, res.Status)

	// delta ordering counts as polling too
	requireError(t, svc.ListTasks(ctx, ListTasksRequest{
		AgentID: "bob", ResponseMode: "full", SinceTS: 1,
	}), apperrors.ErrCodeFullModeForbidden)

	// compact is always fine
	requireSuccess(t, svc.ReadMessages(ctx, ReadMessagesRequest{AgentID: "bob", Polling: true}))
}

func createTask(t *testing.T, svc *Service, req CreateTaskRequest) int64 {
	t.Helper()
	body := requireSuccess(t, svc.CreateTask(context.Background(), req))
	task := body["task"].(map[string]any)
	return int64(task["id"].(float64))
}

func TestDependencyReadyScheduling(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	blocker := createTask(t, svc, CreateTaskRequest{Title: "blocker", CreatedBy: "root", Priority: "low"})
	// park the blocker so it is not itself a candidate
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: blocker, AgentID: "parker"}))

	b := createTask(t, svc, CreateTaskRequest{
		Title: "B", CreatedBy: "root", Priority: "high", DependsOn: []int64{blocker},
	})
	c := createTask(t, svc, CreateTaskRequest{Title: "C", CreatedBy: "root", Priority: "medium"})
	d := createTask(t, svc, CreateTaskRequest{Title: "D", CreatedBy: "root", Priority: "high"})

	poll := func() int64 {
		body := requireSuccess(t, svc.PollAndClaim(ctx, PollAndClaimRequest{AgentID: "worker"}))
		claim, ok := body["claim"].(map[string]any)
		require.True(t, ok, "expected a claim, got %s", body)
		return int64(claim["task_id"].(float64))
	}

	// ready high > ready medium > unready high
	assert.Equal(t, d, poll())
	assert.Equal(t, c, poll())
	assert.Equal(t, b, poll())

	// nothing left: null task plus a bounded retry hint
	body := requireSuccess(t, svc.PollAndClaim(ctx, PollAndClaimRequest{AgentID: "worker"}))
	assert.Nil(t, body["task"])
	retry := int64(body["retry_after_ms"].(float64))
	assert.GreaterOrEqual(t, retry, int64(200))
	assert.LessOrEqual(t, retry, int64(12000))
}

func TestStrictDoneRequiresIndependentVerifier(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id := createTask(t, svc, CreateTaskRequest{
		Title: "critical fix", CreatedBy: "creator", Priority: "critical",
	})
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "worker"}))

	conf := 0.95
	passed := true
	done := UpdateTaskRequest{
		TaskID: id, AgentID: "worker", Status: "done",
		Confidence: &conf, VerificationPassed: &passed,
		EvidenceRefs: []string{"test-run-17"},
	}

	// critical implies strict: no verifier, no done
	requireError(t, svc.UpdateTask(ctx, done), apperrors.ErrCodeVerifierRequired)

	self := done
	self.VerifiedBy = "worker"
	requireError(t, svc.UpdateTask(ctx, self), apperrors.ErrCodeVerifierRequired)

	byCreator := done
	byCreator.VerifiedBy = "creator"
	requireError(t, svc.UpdateTask(ctx, byCreator), apperrors.ErrCodeVerifierRequired)

	independent := done
	independent.VerifiedBy = "reviewer"
	body := requireSuccess(t, svc.UpdateTask(ctx, independent))
	task := body["task"].(map[string]any)
	assert.Equal(t, "done", task["status"])

	// terminal transition removed the claim
	claims := requireSuccess(t, svc.ListClaims(ctx, ListClaimsRequest{AgentID: "worker"}))
	assert.Equal(t, float64(0), claims["count"])
}

func TestDoneGateFailures(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id := createTask(t, svc, CreateTaskRequest{Title: "t", CreatedBy: "c"})
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "w"}))

	lowConf := 0.5
	passed := true
	requireError(t, svc.UpdateTask(ctx, UpdateTaskRequest{
		TaskID: id, AgentID: "w", Status: "done",
		Confidence: &lowConf, VerificationPassed: &passed, EvidenceRefs: []string{"e"},
	}), apperrors.ErrCodeDoneGateFailed)

	conf := 0.95
	requireError(t, svc.UpdateTask(ctx, UpdateTaskRequest{
		TaskID: id, AgentID: "w", Status: "done",
		Confidence: &conf, VerificationPassed: &passed,
	}), apperrors.ErrCodeDoneGateFailed)

	requireSuccess(t, svc.UpdateTask(ctx, UpdateTaskRequest{
		TaskID: id, AgentID: "w", Status: "done",
		Confidence: &conf, VerificationPassed: &passed, EvidenceRefs: []string{"run-1"},
	}))
}

func TestIdempotentCreateReturnsOneTask(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first := requireSuccess(t, svc.CreateTask(ctx, CreateTaskRequest{
		Title: "only once", CreatedBy: "alice", IdempotencyKey: "create-42",
	}))
	// a retry with different arguments still replays the first result
	second := svc.CreateTask(ctx, CreateTaskRequest{
		Title: "something else entirely", CreatedBy: "alice", IdempotencyKey: "create-42",
	})
	assert.True(t, second.Replayed)
	assert.JSONEq(t, string(mustJSON(t, first)), string(second.Body))

	list := requireSuccess(t, svc.ListTasks(ctx, ListTasksRequest{AgentID: "alice"}))
	assert.Equal(t, float64(1), list["count"])
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestIdempotentErrorReplays(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	res := svc.CreateTask(ctx, CreateTaskRequest{
		Title: "x", CreatedBy: "a", DependsOn: []int64{999}, IdempotencyKey: "dep-err",
	})
	requireError(t, res, apperrors.ErrCodeDependencyMissing)

	replay := svc.CreateTask(ctx, CreateTaskRequest{
		Title: "x", CreatedBy: "a", DependsOn: []int64{999}, IdempotencyKey: "dep-err",
	})
	assert.True(t, replay.Replayed)
	requireError(t, replay, apperrors.ErrCodeDependencyMissing)
	assert.Equal(t, http.StatusBadRequest, replay.Status)
}

func TestProfileMismatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	requireSuccess(t, svc.RegisterAgent(ctx, RegisterAgentRequest{AgentID: "repo-bot", Mode: "repo"}))
	id := createTask(t, svc, CreateTaskRequest{
		Title: "sandboxed", CreatedBy: "root", ExecutionMode: "isolated", Priority: "critical",
	})

	// explicit claim: loud refusal
	requireError(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "repo-bot"}),
		apperrors.ErrCodeProfileMismatch)

	// poll: silent skip, backoff hint instead
	body := requireSuccess(t, svc.PollAndClaim(ctx, PollAndClaimRequest{AgentID: "repo-bot"}))
	assert.Nil(t, body["task"])
	assert.NotZero(t, body["retry_after_ms"])

	// an isolated agent picks it up
	requireSuccess(t, svc.RegisterAgent(ctx, RegisterAgentRequest{AgentID: "vm-bot", Mode: "isolated"}))
	got := requireSuccess(t, svc.PollAndClaim(ctx, PollAndClaimRequest{AgentID: "vm-bot"}))
	claim := got["claim"].(map[string]any)
	assert.Equal(t, float64(id), claim["task_id"])
}

func TestClaimConflictAndRelease(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id := createTask(t, svc, CreateTaskRequest{Title: "t", CreatedBy: "c"})
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "w1"}))

	requireError(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "w2"}),
		apperrors.ErrCodeClaimConflict)
	requireError(t, svc.ReleaseClaim(ctx, ReleaseClaimRequest{TaskID: id, AgentID: "w2"}),
		apperrors.ErrCodeClaimNotHeld)
	requireError(t, svc.RenewClaim(ctx, RenewClaimRequest{TaskID: id, AgentID: "w2"}),
		apperrors.ErrCodeClaimNotHeld)

	requireSuccess(t, svc.RenewClaim(ctx, RenewClaimRequest{TaskID: id, AgentID: "w1"}))

	// default release: back to the pool, unassigned
	body := requireSuccess(t, svc.ReleaseClaim(ctx, ReleaseClaimRequest{TaskID: id, AgentID: "w1"}))
	task := body["task"].(map[string]any)
	assert.Equal(t, "pending", task["status"])
	assert.Nil(t, task["assigned_to"])

	// w2 can claim now
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "w2"}))
}

func TestReleaseWithFailedGateKeepsClaim(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	id := createTask(t, svc, CreateTaskRequest{Title: "t", CreatedBy: "c"})
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "w1"}))

	// releasing straight to done without evidence fails the gate...
	conf := 0.99
	passed := true
	requireError(t, svc.ReleaseClaim(ctx, ReleaseClaimRequest{
		TaskID: id, AgentID: "w1", Status: "done",
		Confidence: &conf, VerificationPassed: &passed,
	}), apperrors.ErrCodeDoneGateFailed)

	// ...and the claim survives
	claims := requireSuccess(t, svc.ListClaims(ctx, ListClaimsRequest{AgentID: "w1"}))
	assert.Equal(t, float64(1), claims["count"])
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	clock := int64(1_000_000)
	svc.now = func() int64 { return clock }

	id := createTask(t, svc, CreateTaskRequest{Title: "t", CreatedBy: "c"})
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "slow", LeaseSeconds: 10}))

	clock += 11_000

	// renewing a lapsed lease fails and reclaims the row
	requireError(t, svc.RenewClaim(ctx, RenewClaimRequest{TaskID: id, AgentID: "slow"}),
		apperrors.ErrCodeClaimExpired)

	// another agent claims over the lapsed lease
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "fresh"}))
}

func TestRefusedCallStillHeartbeats(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	clock := int64(1_000_000)
	svc.now = func() int64 { return clock }

	requireSuccess(t, svc.RegisterAgent(ctx, RegisterAgentRequest{AgentID: "a"}))
	clock += 5_000

	// the refusal rolls back its transaction, but the agent was still heard
	requireError(t, svc.UpdateTask(ctx, UpdateTaskRequest{TaskID: 999, AgentID: "a"}),
		apperrors.ErrCodeNotFound)

	body := requireSuccess(t, svc.ListAgents(ctx))
	agents := body["agents"].([]any)
	require.Len(t, agents, 1)
	assert.Equal(t, float64(clock), agents[0].(map[string]any)["last_seen_at"])
}

func TestJanitorSweep(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	clock := int64(1_000_000)
	svc.now = func() int64 { return clock }

	id := createTask(t, svc, CreateTaskRequest{Title: "t", CreatedBy: "c"})
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "w", LeaseSeconds: 10}))

	clock += 60_000
	svc.SweepOnce(ctx)

	list := requireSuccess(t, svc.ListTasks(ctx, ListTasksRequest{AgentID: "x", Status: "pending"}))
	assert.Equal(t, float64(1), list["count"])
	claims := requireSuccess(t, svc.ListClaims(ctx, ListClaimsRequest{}))
	assert.Equal(t, float64(0), claims["count"])
}

func TestContentLimits(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	requireError(t, svc.SendMessage(ctx, SendMessageRequest{
		FromAgent: "a", ToAgent: "b", Content: string(long),
	}), apperrors.ErrCodeContentTooLong)

	// caps count chars, not bytes: 1024 two-byte runes fit exactly
	requireSuccess(t, svc.SendMessage(ctx, SendMessageRequest{
		FromAgent: "a", ToAgent: "b", Content: strings.Repeat("é", 1024),
	}))

	// lossless encoding can bring an oversized payload under the cap
	repetitive := ""
	for i := 0; i < 200; i++ {
		repetitive += "the same ten words over and over again yes "
	}
	requireSuccess(t, svc.SendMessage(ctx, SendMessageRequest{
		FromAgent: "a", ToAgent: "b", Content: repetitive, Codec: "lossless_auto",
	}))
}

func TestDependencyCycleRejected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := createTask(t, svc, CreateTaskRequest{Title: "a", CreatedBy: "c"})
	b := createTask(t, svc, CreateTaskRequest{Title: "b", CreatedBy: "c", DependsOn: []int64{a}})
	_ = b

	requireError(t, svc.CreateTask(ctx, CreateTaskRequest{
		Title: "ghost dep", CreatedBy: "c", DependsOn: []int64{12345},
	}), apperrors.ErrCodeDependencyMissing)
}

func TestPolicyAdvisoryWarning(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	body := requireSuccess(t, svc.CreateTask(ctx, CreateTaskRequest{
		Title: "orchestrate the release train", CreatedBy: "boss",
	}))
	warnings, _ := body["warnings"].([]any)
	require.Len(t, warnings, 1)

	// a namespace silences the advisory
	body = requireSuccess(t, svc.CreateTask(ctx, CreateTaskRequest{
		Title: "orchestrate the release train", CreatedBy: "boss", Namespace: "ops",
	}))
	assert.Nil(t, body["warnings"])
}

func TestHandoffPacket(t *testing.T) {
	svc, registry := newTestService(t)
	ctx := context.Background()

	dep := createTask(t, svc, CreateTaskRequest{Title: "dep", CreatedBy: "c"})
	id := createTask(t, svc, CreateTaskRequest{Title: "main", CreatedBy: "c", DependsOn: []int64{dep}})
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "w"}))

	registry.Register("build-log", 512, "cafe", "w")
	registry.Register("secret-dump", 64, "", "someone-else")
	requireSuccess(t, svc.AttachArtifact(ctx, AttachArtifactRequest{
		TaskID: id, AgentID: "w", ArtifactID: "build-log",
	}))

	body := requireSuccess(t, svc.GetTaskHandoff(ctx, GetTaskHandoffRequest{
		TaskID: id, AgentID: "w", IncludeDownloads: true,
	}))

	deps := body["depends_on"].([]any)
	require.Len(t, deps, 1)
	assert.Equal(t, "pending", deps[0].(map[string]any)["status"])

	arts := body["artifacts"].([]any)
	require.Len(t, arts, 1)
	art := arts[0].(map[string]any)
	assert.Equal(t, true, art["has_access"])
	assert.Equal(t, true, art["ready"])

	downloads := body["artifact_downloads"].([]any)
	require.Len(t, downloads, 1)
	assert.Contains(t, downloads[0].(map[string]any)["url"], "build-log")
	assert.Empty(t, body["artifact_downloads_error"])
}

func TestAttachArtifactACL(t *testing.T) {
	svc, registry := newTestService(t)
	ctx := context.Background()

	id := createTask(t, svc, CreateTaskRequest{Title: "t", CreatedBy: "c"})

	requireError(t, svc.AttachArtifact(ctx, AttachArtifactRequest{
		TaskID: id, AgentID: "w", ArtifactID: "nope",
	}), apperrors.ErrCodeNotFound)

	registry.Register("locked", 1, "", "owner")
	requireError(t, svc.AttachArtifact(ctx, AttachArtifactRequest{
		TaskID: id, AgentID: "w", ArtifactID: "locked",
	}), apperrors.ErrCodeArtifactAccessDenied)

	// attaching grants access to the assignee
	requireSuccess(t, svc.ClaimTask(ctx, ClaimTaskRequest{TaskID: id, AgentID: "assignee"}))
	registry.Register("shared", 1, "", "owner", "assignee")
	requireSuccess(t, svc.AttachArtifact(ctx, AttachArtifactRequest{
		TaskID: id, AgentID: "owner", ArtifactID: "shared",
	}))
	assert.True(t, registry.CanAccess(ctx, "shared", "assignee"))

	// attaching an unrestricted artifact never revokes anyone's access
	registry.Register("public", 1, "")
	requireSuccess(t, svc.AttachArtifact(ctx, AttachArtifactRequest{
		TaskID: id, AgentID: "w", ArtifactID: "public",
	}))
	assert.True(t, registry.CanAccess(ctx, "public", "w"))
	assert.True(t, registry.CanAccess(ctx, "public", "anyone"))
}

func TestNanoListEnvelope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	requireSuccess(t, svc.SendMessage(ctx, SendMessageRequest{
		FromAgent: "a", ToAgent: "b", Content: "ping",
	}))

	res := svc.ReadMessages(ctx, ReadMessagesRequest{AgentID: "b", ResponseMode: "nano"})
	body := decodeBody(t, res)
	// nano lists replace the success envelope entirely
	assert.NotContains(t, body, "success")
	assert.Contains(t, body, "m")
	assert.Equal(t, float64(1), body["n"])
	assert.Equal(t, float64(0), body["h"])
}

func TestReadMarksFlipOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	requireSuccess(t, svc.SendMessage(ctx, SendMessageRequest{
		FromAgent: "a", Content: "broadcast hello",
	}))

	first := requireSuccess(t, svc.ReadMessages(ctx, ReadMessagesRequest{AgentID: "bob"}))
	msg := first["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, false, msg["read"])

	second := requireSuccess(t, svc.ReadMessages(ctx, ReadMessagesRequest{AgentID: "bob"}))
	msg = second["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, true, msg["read"])

	// per-agent: carol's first read is still unread
	carol := requireSuccess(t, svc.ReadMessages(ctx, ReadMessagesRequest{AgentID: "carol"}))
	msg = carol["messages"].([]any)[0].(map[string]any)
	assert.Equal(t, false, msg["read"])

	unread := requireSuccess(t, svc.ReadMessages(ctx, ReadMessagesRequest{AgentID: "bob", UnreadOnly: true}))
	assert.Equal(t, float64(0), unread["count"])
}

func TestDeltaCursorPagination(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		requireSuccess(t, svc.SendMessage(ctx, SendMessageRequest{
			FromAgent: "a", ToAgent: "b", Content: "m",
		}))
	}

	page1 := requireSuccess(t, svc.ReadMessages(ctx, ReadMessagesRequest{
		AgentID: "b", SinceTS: 1, Limit: 3,
	}))
	assert.Equal(t, true, page1["has_more"])
	cursor, _ := page1["next_cursor"].(string)
	require.NotEmpty(t, cursor)

	page2 := requireSuccess(t, svc.ReadMessages(ctx, ReadMessagesRequest{
		AgentID: "b", Cursor: cursor, Limit: 3,
	}))
	assert.Equal(t, false, page2["has_more"])
	assert.Equal(t, float64(2), page2["count"])
}
