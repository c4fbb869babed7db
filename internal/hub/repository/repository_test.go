package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/caephub/caephub/internal/common/errors"
	"github.com/caephub/caephub/internal/db"
	"github.com/caephub/caephub/internal/hub/models"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hub.db")
	writer, err := db.OpenSQLite(path)
	require.NoError(t, err)
	reader, err := db.OpenSQLiteReader(path, 0)
	require.NoError(t, err)

	pool := db.NewPool(sqlx.NewDb(writer, "sqlite3"), sqlx.NewDb(reader, "sqlite3"))
	repo, err := New(pool)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestInsertAndListMessages(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i, to := range []string{"bob", "", "bob"} {
		msg := &models.Message{FromAgent: "alice", ToAgent: to, Content: "hello", Codec: "none"}
		require.NoError(t, repo.InsertMessage(ctx, msg, int64(1000+i)))
		assert.Equal(t, int64(i+1), msg.ID)
	}

	// bob sees his direct messages plus the broadcast, newest first
	msgs, hasMore, err := repo.ListMessages(ctx, MessageQuery{AgentID: "bob", Limit: 10})
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, msgs, 3)
	assert.Equal(t, int64(3), msgs[0].ID)
	assert.False(t, msgs[0].Read)

	// a third agent only sees the broadcast
	msgs, _, err = repo.ListMessages(ctx, MessageQuery{AgentID: "carol", Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Broadcast())
}

func TestInsertMessageClampsCreatedAt(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := &models.Message{FromAgent: "a", Content: "x", Codec: "none"}
	require.NoError(t, repo.InsertMessage(ctx, first, 5000))

	// wall clock moved backwards; created_at must not decrease
	second := &models.Message{FromAgent: "a", Content: "y", Codec: "none"}
	require.NoError(t, repo.InsertMessage(ctx, second, 4000))
	assert.Equal(t, int64(5000), second.CreatedAt)
	assert.Greater(t, second.ID, first.ID)
}

func TestReadMarksAndUnreadFilter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		msg := &models.Message{FromAgent: "a", ToAgent: "bob", Content: "m", Codec: "none"}
		require.NoError(t, repo.InsertMessage(ctx, msg, int64(100+i)))
	}

	require.NoError(t, repo.MarkMessagesRead(ctx, "bob", []int64{1, 2}, 200))
	// marking again is a no-op
	require.NoError(t, repo.MarkMessagesRead(ctx, "bob", []int64{2}, 300))

	msgs, _, err := repo.ListMessages(ctx, MessageQuery{AgentID: "bob", UnreadOnly: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(3), msgs[0].ID)

	// marks are per-agent: carol still sees nothing as read
	msgs, _, err = repo.ListMessages(ctx, MessageQuery{AgentID: "carol", Limit: 10})
	require.NoError(t, err)
	for _, m := range msgs {
		assert.False(t, m.Read)
	}
}

func TestListMessagesCursorPagination(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		msg := &models.Message{FromAgent: "a", ToAgent: "bob", Content: "m", Codec: "none"}
		require.NoError(t, repo.InsertMessage(ctx, msg, 1000)) // same timestamp, id breaks ties
	}

	msgs, hasMore, err := repo.ListMessages(ctx, MessageQuery{
		AgentID: "bob", Limit: 2, HasCursor: true, CursorTS: 1000, CursorID: 1,
	})
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(2), msgs[0].ID)
	assert.Equal(t, int64(3), msgs[1].ID)

	msgs, hasMore, err = repo.ListMessages(ctx, MessageQuery{
		AgentID: "bob", Limit: 10, HasCursor: true, CursorTS: 1000, CursorID: 3,
	})
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, msgs, 2)
	assert.Equal(t, int64(4), msgs[0].ID)
}

func TestBlobPutIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	blob := &models.Blob{Hash: "abc123", Value: "payload", Codec: "none", DeclaredChars: 7}
	created, err := repo.PutBlob(ctx, blob, 100)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &models.Blob{Hash: "abc123", Value: "different", Codec: "none", DeclaredChars: 9}
	created, err = repo.PutBlob(ctx, dup, 200)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := repo.GetBlob(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, "payload", got.Value)

	_, err = repo.GetBlob(ctx, "missing")
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.Code(err))
}

func TestTaskLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task := &models.Task{
		Title:           "build parser",
		Description:     "desc",
		CreatedBy:       "alice",
		Status:          models.TaskPending,
		Priority:        models.PriorityHigh,
		ExecutionMode:   models.ModeAny,
		ConsistencyMode: models.ConsistencyRelaxed,
	}
	require.NoError(t, repo.InsertTask(ctx, task, 1000))
	require.NotZero(t, task.ID)

	got, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "build parser", got.Title)
	assert.Equal(t, models.TaskPending, got.Status)

	got.Status = models.TaskInProgress
	got.AssignedTo = "bob"
	require.NoError(t, repo.UpdateTask(ctx, got, models.TaskPending, 2000))

	// stale check-and-set loses
	stale := *got
	stale.Status = models.TaskDone
	err = repo.UpdateTask(ctx, &stale, models.TaskPending, 3000)
	assert.Equal(t, apperrors.ErrCodeValidationError, apperrors.Code(err))
}

func TestTaskDependencies(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mk := func(title string, deps ...int64) *models.Task {
		task := &models.Task{
			Title: title, Status: models.TaskPending, Priority: models.PriorityMedium,
			ExecutionMode: models.ModeAny, ConsistencyMode: models.ConsistencyRelaxed,
			DependsOn: deps,
		}
		require.NoError(t, repo.InsertTask(ctx, task, 1000))
		return task
	}

	a := mk("a")
	b := mk("b", a.ID)
	c := mk("c", b.ID)

	missing, err := repo.MissingTasks(ctx, []int64{a.ID, 999})
	require.NoError(t, err)
	assert.Equal(t, []int64{999}, missing)

	// a -> c would close the cycle a <- b <- c
	cyclic, err := repo.WouldCycle(ctx, a.ID, []int64{c.ID})
	require.NoError(t, err)
	assert.True(t, cyclic)

	ok, err := repo.WouldCycle(ctx, c.ID, []int64{a.ID})
	require.NoError(t, err)
	assert.False(t, ok)

	statuses, err := repo.DepStatuses(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, b.ID, statuses[0].ID)
}

func TestPollCandidateRanking(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	mk := func(title string, prio models.TaskPriority, mode models.ExecutionMode, deps ...int64) *models.Task {
		task := &models.Task{
			Title: title, Status: models.TaskPending, Priority: prio,
			ExecutionMode: mode, ConsistencyMode: models.ConsistencyRelaxed, DependsOn: deps,
		}
		require.NoError(t, repo.InsertTask(ctx, task, 1000))
		return task
	}

	blocker := mk("blocker", models.PriorityLow, models.ModeAny)
	gated := mk("gated", models.PriorityCritical, models.ModeAny, blocker.ID)
	ready := mk("ready", models.PriorityHigh, models.ModeAny)

	// dependency-ready outranks the critical task gated on an unready dep;
	// among ready tasks priority decides
	got, err := repo.PollCandidate(ctx, models.ModeAny, 2000)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ready.ID, got.ID)
	assert.NotEqual(t, gated.ID, got.ID)

	// claimed tasks are skipped while the lease is live
	require.NoError(t, repo.InsertClaim(ctx, &models.Claim{
		TaskID: got.ID, AgentID: "w1", ClaimedAt: 2000, LeaseExpiresAt: 9000,
	}))
	next, err := repo.PollCandidate(ctx, models.ModeAny, 2500)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.NotEqual(t, got.ID, next.ID)

	// profile filter: a repo-only agent never sees isolated tasks
	iso := mk("isolated work", models.PriorityCritical, models.ModeIsolated)
	cand, err := repo.PollCandidate(ctx, models.ModeRepo, 3000)
	require.NoError(t, err)
	if cand != nil {
		assert.NotEqual(t, iso.ID, cand.ID)
	}
}

func TestClaimsLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task := &models.Task{
		Title: "t", Status: models.TaskPending, Priority: models.PriorityMedium,
		ExecutionMode: models.ModeAny, ConsistencyMode: models.ConsistencyRelaxed,
	}
	require.NoError(t, repo.InsertTask(ctx, task, 1000))

	claim := &models.Claim{TaskID: task.ID, AgentID: "w1", ClaimedAt: 1000, LeaseExpiresAt: 2000}
	require.NoError(t, repo.InsertClaim(ctx, claim))

	got, err := repo.GetClaim(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Live(1500))
	assert.False(t, got.Live(2000))

	renewed, err := repo.RenewClaim(ctx, task.ID, "w1", 5000)
	require.NoError(t, err)
	assert.True(t, renewed)

	renewed, err = repo.RenewClaim(ctx, task.ID, "other", 9000)
	require.NoError(t, err)
	assert.False(t, renewed)

	live, err := repo.ListLiveClaims(ctx, 0, "", 1500)
	require.NoError(t, err)
	assert.Len(t, live, 1)

	expired, err := repo.ExpiredClaims(ctx, 6000)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, int64(1), expired[0].RenewCount)

	require.NoError(t, repo.DeleteClaim(ctx, task.ID))
	got, err = repo.GetClaim(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIdempotencyFirstResultWins(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	_, ok, err := repo.GetIdempotentResult(ctx, "a", "send_message", "k1", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.PutIdempotentResult(ctx, "a", "send_message", "k1", `{"id":1}`, 1000))
	require.NoError(t, repo.PutIdempotentResult(ctx, "a", "send_message", "k1", `{"id":2}`, 2000))

	result, ok, err := repo.GetIdempotentResult(ctx, "a", "send_message", "k1", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"id":1}`, result)

	// scoped per (agent, tool, key)
	_, ok, err = repo.GetIdempotentResult(ctx, "b", "send_message", "k1", 0)
	require.NoError(t, err)
	assert.False(t, ok)

	// retention cutoff hides old entries, prune removes them
	_, ok, err = repo.GetIdempotentResult(ctx, "a", "send_message", "k1", 1500)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := repo.PruneIdempotency(ctx, 1500)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPollBackoffCounter(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		n, err := repo.BumpEmptyPolls(ctx, "w1", int64(want*100))
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	require.NoError(t, repo.ResetEmptyPolls(ctx, "w1", 400))
	n, err := repo.BumpEmptyPolls(ctx, "w1", 500)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAgentsHeartbeatAutoRegisters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Heartbeat(ctx, "ghost", 1000))
	agent, err := repo.GetAgent(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, models.ModeAny, agent.RuntimeProfile.Mode)

	require.NoError(t, repo.RegisterAgent(ctx, &models.Agent{
		ID:             "ghost",
		RuntimeProfile: models.RuntimeProfile{Mode: models.ModeRepo, Source: "git@host:repo"},
	}, 2000))
	agent, err = repo.GetAgent(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, models.ModeRepo, agent.RuntimeProfile.Mode)
	assert.Equal(t, int64(2000), agent.LastSeenAt)
	assert.Equal(t, int64(1000), agent.RegisteredAt)
}

func TestArtifactLinks(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	task := &models.Task{
		Title: "t", Status: models.TaskPending, Priority: models.PriorityMedium,
		ExecutionMode: models.ModeAny, ConsistencyMode: models.ConsistencyRelaxed,
	}
	require.NoError(t, repo.InsertTask(ctx, task, 1000))

	created, err := repo.AttachArtifact(ctx, &models.ArtifactLink{
		TaskID: task.ID, ArtifactID: "art-1", AttachedBy: "w1", AttachedAt: 1000,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.AttachArtifact(ctx, &models.ArtifactLink{
		TaskID: task.ID, ArtifactID: "art-1", AttachedBy: "w2", AttachedAt: 2000,
	})
	require.NoError(t, err)
	assert.False(t, created)

	links, err := repo.ListTaskArtifacts(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "w1", links[0].AttachedBy)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	err := repo.WithTransaction(ctx, func(tx *Tx) error {
		msg := &models.Message{FromAgent: "a", ToAgent: "b", Content: "x", Codec: "none"}
		if err := tx.InsertMessage(ctx, msg, 1000); err != nil {
			return err
		}
		return apperrors.Validation("boom")
	})
	assert.Equal(t, apperrors.ErrCodeValidationError, apperrors.Code(err))

	msgs, _, err := repo.ListMessages(ctx, MessageQuery{AgentID: "b", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
