package mcp

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"croncat/internal/deploy/deploytest"
	"croncat/internal/logging"
	"croncat/internal/node"
)

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]any) (string, bool) {
	t.Helper()
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	res, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text, res.IsError
}

func newServer(t *testing.T) *MCPServer {
	env := deploytest.New(t)
	n := node.New(env.App, env.Deployment, 5*time.Second, logging.Discard())
	return NewMCPServer(n, logging.Discard(), "test")
}

const onceTask = `{"interval":"once","actions":[{"msg":{"bank":{"send":{"to_address":"croncat1carol","amount":[{"denom":"ucron","amount":"10"}]}}}}]}`

func TestTaskTools(t *testing.T) {
	s := newServer(t)

	text, isErr := call(t, s.handleCreateTask, map[string]any{"owner": deploytest.Alice, "task": "{", "amount": 100_000})
	require.True(t, isErr)
	require.Contains(t, text, "invalid task JSON")

	text, isErr = call(t, s.handleCreateTask, map[string]any{"owner": deploytest.Alice, "task": onceTask, "amount": 100_000})
	require.False(t, isErr, text)
	require.Contains(t, text, "Task created")
	var hash string
	for _, line := range strings.Split(text, "\n") {
		if v, ok := strings.CutPrefix(line, "Hash: "); ok {
			hash = v
		}
	}
	require.NotEmpty(t, hash)

	text, isErr = call(t, s.handleListTasks, map[string]any{"owner": deploytest.Alice})
	require.False(t, isErr)
	require.Contains(t, text, "Found 1 tasks")
	require.Contains(t, text, hash)

	text, isErr = call(t, s.handleListTasks, map[string]any{"owner": deploytest.Bob})
	require.False(t, isErr)
	require.Equal(t, "No tasks found", text)

	text, isErr = call(t, s.handleGetTask, map[string]any{"task_hash": hash})
	require.False(t, isErr)
	require.Contains(t, text, `"owner_addr": "croncat1alice"`)

	text, isErr = call(t, s.handleRemoveTask, map[string]any{"owner": deploytest.Bob, "task_hash": hash})
	require.True(t, isErr)
	require.Contains(t, text, "remove task failed")

	text, isErr = call(t, s.handleRemoveTask, map[string]any{"owner": deploytest.Alice, "task_hash": hash})
	require.False(t, isErr)
	require.Equal(t, "Task removed: "+hash, text)

	_, isErr = call(t, s.handleGetTask, map[string]any{"task_hash": hash})
	require.True(t, isErr)
}

func TestAgentTools(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	text, isErr := call(t, s.handleAgentStatus, map[string]any{"agent": deploytest.Bob})
	require.False(t, isErr)
	require.Contains(t, text, "is not registered")

	_, err := s.node.Execute(ctx, "agents", deploytest.Bob, []byte(`{"register_agent":{}}`), nil)
	require.NoError(t, err)

	text, isErr = call(t, s.handleAgentStatus, map[string]any{"agent": deploytest.Bob})
	require.False(t, isErr)
	require.Contains(t, text, "Status: active")
	require.Contains(t, text, "Entitled now: 0 block, 0 cron")

	_, isErr = call(t, s.handleCreateTask, map[string]any{"owner": deploytest.Alice, "task": onceTask, "amount": 100_000})
	require.False(t, isErr)

	text, isErr = call(t, s.handleCurrentTask, nil)
	require.False(t, isErr)
	require.Contains(t, text, "No task is due")

	text, isErr = call(t, s.handleAdvanceBlocks, map[string]any{"count": 1})
	require.False(t, isErr)
	require.Contains(t, text, "Height: ")

	text, isErr = call(t, s.handleCurrentTask, nil)
	require.False(t, isErr)
	require.Contains(t, text, `"task_hash"`)

	text, isErr = call(t, s.handleProxyCall, map[string]any{"agent": deploytest.Alice})
	require.True(t, isErr)
	require.Contains(t, text, "agent not registered")

	text, isErr = call(t, s.handleProxyCall, map[string]any{"agent": deploytest.Bob})
	require.False(t, isErr, text)
	require.Contains(t, text, "Failed: false")
	require.Contains(t, text, "Lifecycle: task_ended")
}

func TestCronPreviewTool(t *testing.T) {
	s := newServer(t)

	text, isErr := call(t, s.handleCronPreview, map[string]any{"cron": "0 * * * *", "count": 2})
	require.False(t, isErr)
	require.Contains(t, text, "1. ")
	require.Contains(t, text, "2. ")
	require.NotContains(t, text, "3. ")

	text, isErr = call(t, s.handleCronPreview, map[string]any{"cron": "bogus"})
	require.True(t, isErr)
	require.Contains(t, text, "invalid cron expression")
}
