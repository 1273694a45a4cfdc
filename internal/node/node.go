// Package node serves a deployed croncat stack to the HTTP API and the MCP
// tools: generic execute and query by contract name plus the typed task and
// agent operations both surfaces expose.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/deploy"
	"croncat/internal/msgs"
)

var (
	ErrUnknownContract = errors.New("unknown contract")
	ErrTaskNotFound    = errors.New("task not found")
)

const maxAdvance = 10_000

// Node is a running host with its croncat deployment.
type Node struct {
	app       *chain.App
	d         *deploy.Deployment
	blockTime time.Duration
	logger    *slog.Logger
}

func New(app *chain.App, d *deploy.Deployment, blockTime time.Duration, logger *slog.Logger) *Node {
	return &Node{app: app, d: d, blockTime: blockTime, logger: logger}
}

func (n *Node) App() *chain.App                { return n.app }
func (n *Node) Deployment() *deploy.Deployment { return n.d }
func (n *Node) BlockTime() time.Duration       { return n.blockTime }

// Resolve maps a module name (factory, manager, tasks, agents) or a
// contract address to an address.
func (n *Node) Resolve(name string) (string, error) {
	if addr, ok := n.d.Addr(name); ok {
		return addr, nil
	}
	if strings.HasPrefix(name, chain.DefaultAddrPrefix+"1") {
		return name, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContract, name)
}

func (n *Node) Block() chain.BlockInfo { return n.app.Block() }

// Advance produces count empty blocks, perBlock apart. Zero values fall
// back to one block of the configured block time.
func (n *Node) Advance(ctx context.Context, count uint64, perBlock time.Duration) (chain.BlockInfo, error) {
	if count == 0 {
		count = 1
	}
	if count > maxAdvance {
		return chain.BlockInfo{}, fmt.Errorf("cannot advance more than %d blocks at once", maxAdvance)
	}
	if perBlock <= 0 {
		perBlock = n.blockTime
	}
	return n.app.AdvanceBlocks(ctx, count, perBlock)
}

func (n *Node) Balances(ctx context.Context, addr string) ([]chain.Coin, error) {
	coins, err := n.app.AllBalances(ctx, addr)
	if coins == nil {
		coins = []chain.Coin{}
	}
	return coins, err
}

// Execute sends msg to the named contract as sender.
func (n *Node) Execute(ctx context.Context, contract, sender string, msg json.RawMessage, funds []chain.Coin) (*chain.TxResult, error) {
	addr, err := n.Resolve(contract)
	if err != nil {
		return nil, err
	}
	res, err := n.app.Execute(ctx, sender, addr, msg, funds...)
	if err != nil {
		return nil, err
	}
	n.logger.Debug("tx committed", "contract", contract, "sender", sender, "height", res.Height)
	return res, nil
}

// Query runs a smart query against the named contract.
func (n *Node) Query(ctx context.Context, contract string, msg json.RawMessage) (json.RawMessage, error) {
	addr, err := n.Resolve(contract)
	if err != nil {
		return nil, err
	}
	return n.app.Query(ctx, addr, msg)
}

// Contracts lists the latest version of every registered contract.
func (n *Node) Contracts(ctx context.Context) ([]msgs.ContractMetadataInfo, error) {
	var out []msgs.ContractMetadataInfo
	err := n.app.QueryJSON(ctx, n.d.Factory, msgs.FactoryQueryMsg{LatestContracts: &msgs.Empty{}}, &out)
	return out, err
}

// CreateTask submits req for owner and returns the new task hash.
func (n *Node) CreateTask(ctx context.Context, owner string, req core.TaskRequest, funds []chain.Coin) (string, *chain.TxResult, error) {
	res, err := n.app.Execute(ctx, owner, n.d.Tasks, msgs.TasksExecuteMsg{CreateTask: &msgs.CreateTask{Task: req}}, funds...)
	if err != nil {
		return "", nil, err
	}
	ev, ok := res.Event("wasm", "action", "create_task")
	if !ok {
		return "", res, errors.New("create_task event missing")
	}
	hash, _ := ev.Attr("task_hash")
	n.logger.Info("task created", "task_hash", hash, "owner", owner, "height", res.Height)
	return hash, res, nil
}

// Tasks lists tasks, restricted to owner when it is set. Owner listings
// page by task hash, so from is ignored there.
func (n *Node) Tasks(ctx context.Context, owner string, from, limit uint64) ([]core.TaskInfo, error) {
	var q msgs.TasksQueryMsg
	if owner != "" {
		q.TasksByOwner = &msgs.TasksByOwner{OwnerAddr: owner, Limit: &limit}
	} else {
		q.Tasks = &msgs.PageQuery{FromIndex: &from, Limit: &limit}
	}
	var out []core.TaskInfo
	err := n.app.QueryJSON(ctx, n.d.Tasks, q, &out)
	return out, err
}

func (n *Node) Task(ctx context.Context, hash string) (*core.TaskInfo, error) {
	var res core.TaskResponse
	if err := n.app.QueryJSON(ctx, n.d.Tasks, msgs.TasksQueryMsg{Task: &msgs.TaskHashMsg{TaskHash: hash}}, &res); err != nil {
		return nil, err
	}
	if res.Task == nil {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, hash)
	}
	return res.Task, nil
}

// CurrentTask is the task an agent would get now, or nil.
func (n *Node) CurrentTask(ctx context.Context) (*core.TaskInfo, error) {
	var res core.TaskResponse
	err := n.app.QueryJSON(ctx, n.d.Tasks, msgs.TasksQueryMsg{CurrentTask: &msgs.Empty{}}, &res)
	return res.Task, err
}

func (n *Node) RemoveTask(ctx context.Context, owner, hash string) (*chain.TxResult, error) {
	return n.app.Execute(ctx, owner, n.d.Tasks, msgs.TasksExecuteMsg{RemoveTask: &msgs.TaskHashMsg{TaskHash: hash}})
}

// ProxyCall executes the next due task as agent, or the evented task hash.
func (n *Node) ProxyCall(ctx context.Context, agent string, hash *string) (*chain.TxResult, error) {
	res, err := n.app.Execute(ctx, agent, n.d.Manager, msgs.ManagerExecuteMsg{ProxyCall: &msgs.ProxyCall{TaskHash: hash}})
	if err != nil {
		return nil, err
	}
	if ev, ok := res.Event("wasm", "action", "proxy_call"); ok {
		executed, _ := ev.Attr("task_hash")
		n.logger.Info("task executed", "task_hash", executed, "agent", agent, "height", res.Height)
	}
	return res, nil
}

// AgentStatus is an agent's record and, when active, its task share.
type AgentStatus struct {
	Agent *msgs.AgentInfo      `json:"agent"`
	Tasks *msgs.AgentTaskStats `json:"tasks,omitempty"`
}

func (n *Node) AgentStatus(ctx context.Context, agent string) (AgentStatus, error) {
	var res msgs.AgentResponse
	if err := n.app.QueryJSON(ctx, n.d.Agents, msgs.AgentsQueryMsg{GetAgent: &msgs.AccountQuery{AccountID: agent}}, &res); err != nil {
		return AgentStatus{}, err
	}
	out := AgentStatus{Agent: res.Agent}
	if res.Agent == nil || res.Agent.Status != core.AgentActive {
		return out, nil
	}
	var tasks msgs.AgentTaskResponse
	if err := n.app.QueryJSON(ctx, n.d.Agents, msgs.AgentsQueryMsg{GetAgentTasks: &msgs.AccountQuery{AccountID: agent}}, &tasks); err != nil {
		return out, err
	}
	out.Tasks = &tasks.Stats
	return out, nil
}

// CronPreview is when a cron expression fires next and the time slots a
// task with that interval would occupy.
type CronPreview struct {
	NextTimes []time.Time `json:"next_times"`
	Slots     []uint64    `json:"slots"`
}

// PreviewCron evaluates expr from base, or from the current block time
// when base is zero.
func (n *Node) PreviewCron(ctx context.Context, expr string, count int, base time.Time) (CronPreview, error) {
	if count <= 0 || count > 10 {
		count = 5
	}
	schedule, err := core.ParseCron(expr)
	if err != nil {
		return CronPreview{}, err
	}
	if base.IsZero() {
		base = time.Unix(0, int64(n.app.Block().Time))
	}
	var cfg msgs.TasksConfig
	if err := n.app.QueryJSON(ctx, n.d.Tasks, msgs.TasksQueryMsg{Config: &msgs.Empty{}}, &cfg); err != nil {
		return CronPreview{}, err
	}
	slots, err := core.PreviewCronSlots(expr, uint64(base.UnixNano()), cfg.SlotGranularityTime, count)
	if err != nil {
		return CronPreview{}, err
	}
	return CronPreview{NextTimes: core.NextOccurrences(schedule, base, count), Slots: slots}, nil
}
