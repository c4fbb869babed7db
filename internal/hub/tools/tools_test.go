package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caephub/caephub/internal/hub/service"
)

func TestTableIsComplete(t *testing.T) {
	table := All(&service.Service{})

	want := []string{
		"send_message", "send_blob_message", "read_messages",
		"create_task", "update_task", "list_tasks",
		"poll_and_claim", "claim_task", "renew_task_claim",
		"release_task_claim", "list_task_claims",
		"attach_task_artifact", "list_task_artifacts", "get_task_handoff",
	}
	require.Len(t, table, len(want))

	seen := map[string]bool{}
	for i, tool := range table {
		assert.Equal(t, want[i], tool.Name)
		assert.False(t, seen[tool.Name], "duplicate tool %s", tool.Name)
		seen[tool.Name] = true
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, tool.Handle)
		for _, p := range tool.Params {
			assert.NotEmpty(t, p.Name, "tool %s has an unnamed param", tool.Name)
			assert.NotEmpty(t, p.Description, "param %s.%s lacks a description", tool.Name, p.Name)
		}
	}
}

func TestHandlerRejectsMalformedArguments(t *testing.T) {
	h := handler(func(ctx context.Context, req service.SendMessageRequest) *service.ToolResult {
		t.Fatal("handler must not run on malformed arguments")
		return nil
	})

	res := h(context.Background(), json.RawMessage(`{"content": 42}`))
	assert.Equal(t, http.StatusBadRequest, res.Status)

	var body map[string]any
	require.NoError(t, json.Unmarshal(res.Body, &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "VALIDATION_ERROR", body["error_code"])
}
