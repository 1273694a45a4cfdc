package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/node"
)

const defaultDenom = "ucron"

// MCPServer exposes task and agent operations of a running node as MCP tools.
type MCPServer struct {
	node    *node.Node
	logger  *slog.Logger
	version string
}

// NewMCPServer creates a new MCP server instance.
func NewMCPServer(n *node.Node, logger *slog.Logger, version string) *MCPServer {
	return &MCPServer{node: n, logger: logger, version: version}
}

func (s *MCPServer) build() *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"croncat",
		s.version,
		server.WithToolCapabilities(true),
	)
	s.registerTools(mcpServer)
	return mcpServer
}

// Run starts the MCP server using stdio transport.
func (s *MCPServer) Run() error {
	mcpServer := s.build()
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(mcpServer)
}

// HTTPHandler serves the same tools over streamable HTTP, for mounting at
// /mcp on the API router.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.build())
}

// registerTools registers all available MCP tools.
func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(mcp.NewTool("croncat_create_task",
		mcp.WithDescription("Create a CronCat task. The task is the create_task request as JSON: interval, boundary, stop_on_fail, actions, queries, transforms, cw20."),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Address creating and funding the task"),
		),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description(`Task request JSON, e.g. {"interval":{"block":10},"actions":[{"msg":{"bank":{"send":{"to_address":"croncat1...","amount":[{"denom":"ucron","amount":"5"}]}}}}]}`),
		),
		mcp.WithNumber("amount",
			mcp.Required(),
			mcp.Description("Native coins attached to the task"),
			mcp.Min(1),
		),
		mcp.WithString("denom",
			mcp.Description("Denom of the attached coins, default ucron"),
		),
	), s.handleCreateTask)

	mcpServer.AddTool(mcp.NewTool("croncat_list_tasks",
		mcp.WithDescription("List active tasks, optionally only those of one owner"),
		mcp.WithString("owner",
			mcp.Description("Owner address filter"),
		),
		mcp.WithNumber("from",
			mcp.Description("Start index when listing all tasks"),
			mcp.Min(0),
		),
		mcp.WithNumber("limit",
			mcp.Description("Number of tasks to return, default 20"),
			mcp.Min(1),
			mcp.Max(100),
		),
	), s.handleListTasks)

	mcpServer.AddTool(mcp.NewTool("croncat_get_task",
		mcp.WithDescription("Show a task by hash"),
		mcp.WithString("task_hash",
			mcp.Required(),
			mcp.Description("Task hash"),
		),
	), s.handleGetTask)

	mcpServer.AddTool(mcp.NewTool("croncat_remove_task",
		mcp.WithDescription("Remove a task and refund its remaining balance to the owner"),
		mcp.WithString("owner",
			mcp.Required(),
			mcp.Description("Task owner address"),
		),
		mcp.WithString("task_hash",
			mcp.Required(),
			mcp.Description("Task hash"),
		),
	), s.handleRemoveTask)

	mcpServer.AddTool(mcp.NewTool("croncat_current_task",
		mcp.WithDescription("Show the task an agent would execute at the current block"),
	), s.handleCurrentTask)

	mcpServer.AddTool(mcp.NewTool("croncat_proxy_call",
		mcp.WithDescription("Execute the next due task as an agent, or a specific evented task"),
		mcp.WithString("agent",
			mcp.Required(),
			mcp.Description("Registered agent address"),
		),
		mcp.WithString("task_hash",
			mcp.Description("Evented task hash (optional)"),
		),
	), s.handleProxyCall)

	mcpServer.AddTool(mcp.NewTool("croncat_agent_status",
		mcp.WithDescription("Show an agent's status, rewards and task share"),
		mcp.WithString("agent",
			mcp.Required(),
			mcp.Description("Agent address"),
		),
	), s.handleAgentStatus)

	mcpServer.AddTool(mcp.NewTool("croncat_advance_blocks",
		mcp.WithDescription("Produce empty blocks on the local chain"),
		mcp.WithNumber("count",
			mcp.Description("Number of blocks, default 1"),
			mcp.Min(1),
			mcp.Max(10000),
		),
		mcp.WithNumber("seconds_per_block",
			mcp.Description("Block time in seconds, default the node block time"),
			mcp.Min(0),
		),
	), s.handleAdvanceBlocks)

	mcpServer.AddTool(mcp.NewTool("croncat_cron_preview",
		mcp.WithDescription("Preview when a cron interval fires and which time slots it occupies"),
		mcp.WithString("cron",
			mcp.Required(),
			mcp.Description("5-field cron expression"),
		),
		mcp.WithNumber("count",
			mcp.Description("Number of fire times, default 5"),
			mcp.Min(1),
			mcp.Max(10),
		),
	), s.handleCronPreview)

	s.logger.Info("MCP tools registered", "count", 9)
}

func (s *MCPServer) handleCreateTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := mcp.ParseString(request, "owner", "")
	var req core.TaskRequest
	if err := json.Unmarshal([]byte(mcp.ParseString(request, "task", "")), &req); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid task JSON: %v", err)), nil
	}
	amount := mcp.ParseFloat64(request, "amount", 0)
	if amount < 1 {
		return mcp.NewToolResultError("amount must be at least 1"), nil
	}
	denom := mcp.ParseString(request, "denom", defaultDenom)

	hash, res, err := s.node.CreateTask(ctx, owner, req, []chain.Coin{chain.NewCoin(denom, uint64(amount))})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create task failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task created\nHash: %s\nInterval: %s\nHeight: %d",
		hash, req.Interval, res.Height)), nil
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := mcp.ParseString(request, "owner", "")
	from := uint64(mcp.ParseFloat64(request, "from", 0))
	limit := uint64(mcp.ParseFloat64(request, "limit", 20))

	tasks, err := s.node.Tasks(ctx, owner, from, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list tasks failed: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s\n", t.TaskHash)
		fmt.Fprintf(&b, "  Owner: %s\n", t.Owner)
		fmt.Fprintf(&b, "  Interval: %s\n", t.Interval)
		fmt.Fprintf(&b, "  Actions: %d\n", len(t.Actions))
		if t.Slot != nil {
			fmt.Fprintf(&b, "  Slot: %s %d\n", t.Slot.Type, t.Slot.Key)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	hash := mcp.ParseString(request, "task_hash", "")
	task, err := s.node.Task(ctx, hash)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get task failed: %v", err)), nil
	}
	return taskResult(task)
}

func (s *MCPServer) handleRemoveTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner := mcp.ParseString(request, "owner", "")
	hash := mcp.ParseString(request, "task_hash", "")
	if _, err := s.node.RemoveTask(ctx, owner, hash); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("remove task failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task removed: %s", hash)), nil
}

func (s *MCPServer) handleCurrentTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := s.node.CurrentTask(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("current task failed: %v", err)), nil
	}
	if task == nil {
		return mcp.NewToolResultText(fmt.Sprintf("No task is due at height %d", s.node.Block().Height)), nil
	}
	return taskResult(task)
}

func (s *MCPServer) handleProxyCall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent := mcp.ParseString(request, "agent", "")
	var hash *string
	if h := mcp.ParseString(request, "task_hash", ""); h != "" {
		hash = &h
	}
	res, err := s.node.ProxyCall(ctx, agent, hash)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("proxy call failed: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Proxy call committed at height %d\n", res.Height)
	if ev, ok := res.Event("wasm", "action", "proxy_call"); ok {
		executed, _ := ev.Attr("task_hash")
		fmt.Fprintf(&b, "Task: %s\n", executed)
	}
	for _, ev := range res.Events {
		if failed, ok := ev.Attr("failed"); ok {
			fmt.Fprintf(&b, "Failed: %s\n", failed)
		}
		if lifecycle, ok := ev.Attr("lifecycle"); ok {
			fmt.Fprintf(&b, "Lifecycle: %s\n", lifecycle)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleAgentStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent := mcp.ParseString(request, "agent", "")
	status, err := s.node.AgentStatus(ctx, agent)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("agent status failed: %v", err)), nil
	}
	if status.Agent == nil {
		return mcp.NewToolResultText(fmt.Sprintf("Agent %s is not registered", agent)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Agent: %s\n", agent)
	fmt.Fprintf(&b, "Status: %s\n", status.Agent.Status)
	fmt.Fprintf(&b, "Payable account: %s\n", status.Agent.PayableAccountID)
	fmt.Fprintf(&b, "Rewards: %s\n", status.Agent.Balance)
	fmt.Fprintf(&b, "Completed: %d block, %d cron\n", status.Agent.CompletedBlockTasks, status.Agent.CompletedCronTasks)
	if status.Tasks != nil {
		fmt.Fprintf(&b, "Entitled now: %d block, %d cron\n", status.Tasks.NumBlockTasks, status.Tasks.NumCronTasks)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleAdvanceBlocks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	count := uint64(mcp.ParseFloat64(request, "count", 1))
	perBlock := time.Duration(mcp.ParseFloat64(request, "seconds_per_block", 0) * float64(time.Second))
	block, err := s.node.Advance(ctx, count, perBlock)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("advance failed: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Height: %d\nTime: %s", block.Height, formatNanos(block.Time))), nil
}

func (s *MCPServer) handleCronPreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cronExpr := mcp.ParseString(request, "cron", "")
	count := int(mcp.ParseFloat64(request, "count", 5))

	preview, err := s.node.PreviewCron(ctx, cronExpr, count, time.Time{})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid cron expression: %v", err)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cron expression: %s\n", cronExpr)
	fmt.Fprintf(&b, "From block time: %s\n\n", formatNanos(s.node.Block().Time))
	b.WriteString("Next fire times:\n")
	for i, t := range preview.NextTimes {
		fmt.Fprintf(&b, "  %d. %s", i+1, t.Format(time.RFC3339))
		if i < len(preview.Slots) {
			fmt.Fprintf(&b, " (slot %d)", preview.Slots[i])
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func taskResult(task *core.TaskInfo) (*mcp.CallToolResult, error) {
	raw, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode task: %v", err)), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func formatNanos(ns uint64) string {
	return time.Unix(0, int64(ns)).UTC().Format(time.RFC3339)
}
