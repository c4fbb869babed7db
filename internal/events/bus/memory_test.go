package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caephub/caephub/internal/common/logger"
)

func collector() (EventHandler, <-chan *Event) {
	ch := make(chan *Event, 16)
	return func(ctx context.Context, event *Event) error {
		ch <- event
		return nil
	}, ch
}

func waitEvent(t *testing.T, ch <-chan *Event) *Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, ch <-chan *Event) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusSubjectMatching(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	ctx := context.Background()

	exact, exactCh := collector()
	_, err := b.Subscribe("task.claimed", exact)
	require.NoError(t, err)

	star, starCh := collector()
	_, err = b.Subscribe("task.*", star)
	require.NoError(t, err)

	all, allCh := collector()
	_, err = b.Subscribe(">", all)
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "task.claimed",
		NewEvent("task.claimed", "test", map[string]interface{}{"task_id": int64(1)})))
	assert.Equal(t, "task.claimed", waitEvent(t, exactCh).Type)
	assert.Equal(t, "task.claimed", waitEvent(t, starCh).Type)
	assert.Equal(t, "task.claimed", waitEvent(t, allCh).Type)

	// `*` matches one token only; `>` matches the rest of the subject
	require.NoError(t, b.Publish(ctx, "message.sent.agent-1",
		NewEvent("message.sent", "test", nil)))
	assert.Equal(t, "message.sent", waitEvent(t, allCh).Type)
	assertNoEvent(t, exactCh)
	assertNoEvent(t, starCh)
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())
	ctx := context.Background()

	handler, ch := collector()
	sub, err := b.Subscribe(">", handler)
	require.NoError(t, err)
	require.True(t, sub.IsValid())

	require.NoError(t, b.Publish(ctx, "task.created", NewEvent("task.created", "test", nil)))
	waitEvent(t, ch)

	require.NoError(t, sub.Unsubscribe())
	assert.False(t, sub.IsValid())
	require.NoError(t, b.Publish(ctx, "task.created", NewEvent("task.created", "test", nil)))
	assertNoEvent(t, ch)
}

func TestMemoryBusClose(t *testing.T) {
	b := NewMemoryEventBus(logger.Default())

	handler, _ := collector()
	sub, err := b.Subscribe(">", handler)
	require.NoError(t, err)

	b.Close()
	assert.False(t, sub.IsValid())
	assert.Error(t, b.Publish(context.Background(), "task.created",
		NewEvent("task.created", "test", nil)))
	_, err = b.Subscribe(">", handler)
	assert.Error(t, err)
}
