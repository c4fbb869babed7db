package websocket

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caephub/caephub/internal/common/logger"
	"github.com/caephub/caephub/internal/events/bus"
)

func TestEventTaskID(t *testing.T) {
	id, ok := eventTaskID(bus.NewEvent("task.claimed", "test", map[string]interface{}{"task_id": int64(7)}))
	require.True(t, ok)
	assert.Equal(t, int64(7), id)

	// JSON round-trips land as float64
	id, ok = eventTaskID(bus.NewEvent("task.claimed", "test", map[string]interface{}{"task_id": float64(9)}))
	require.True(t, ok)
	assert.Equal(t, int64(9), id)

	id, ok = eventTaskID(bus.NewEvent("task.claimed", "test", map[string]interface{}{"task_id": "12"}))
	require.True(t, ok)
	assert.Equal(t, int64(12), id)

	_, ok = eventTaskID(bus.NewEvent("message.sent", "test", map[string]interface{}{"from_agent": "a"}))
	assert.False(t, ok)
}

func drain(c *Client) int {
	n := 0
	for {
		select {
		case <-c.send:
			n++
		default:
			return n
		}
	}
}

func TestDispatchFiltering(t *testing.T) {
	hub := NewHub(logger.Default())

	all := NewClient("all", nil, hub, logger.Default())
	filtered := NewClient("filtered", nil, hub, logger.Default())
	hub.clients[all] = true
	hub.clients[filtered] = true
	hub.SubscribeToTask(filtered, 7)

	// task-scoped event on the subscribed task reaches both
	hub.dispatch(bus.NewEvent("task.claimed", "test", map[string]interface{}{"task_id": int64(7)}))
	assert.Equal(t, 1, drain(all))
	assert.Equal(t, 1, drain(filtered))

	// other task: only the unfiltered client
	hub.dispatch(bus.NewEvent("task.claimed", "test", map[string]interface{}{"task_id": int64(8)}))
	assert.Equal(t, 1, drain(all))
	assert.Equal(t, 0, drain(filtered))

	// non-task event: only the unfiltered client
	hub.dispatch(bus.NewEvent("message.sent", "test", map[string]interface{}{"from_agent": "a"}))
	assert.Equal(t, 1, drain(all))
	assert.Equal(t, 0, drain(filtered))

	// unsubscribing restores the full stream
	hub.UnsubscribeFromTask(filtered, 7)
	hub.dispatch(bus.NewEvent("task.claimed", "test", map[string]interface{}{"task_id": int64(8)}))
	assert.Equal(t, 1, drain(filtered))
}
