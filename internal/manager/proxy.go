package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
	"croncat/internal/valuepath"
)

// rescheduleReplyID sits above any action index.
const rescheduleReplyID uint64 = 1 << 32

// proxyCall runs the next task for the calling agent. Without a hash the
// agent gets the task due now; with one it triggers an evented task.
func (c *Contract) proxyCall(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, cfg msgs.ManagerConfig, hash *string) (*chain.Response, error) {
	if len(info.Funds) > 0 {
		return nil, fmt.Errorf("%w: proxy call takes no funds", core.ErrInvalidDenom)
	}
	tasks, agents, err := resolve(ctx, deps, cfg)
	if err != nil {
		return nil, err
	}
	agent := info.Sender

	var task core.TaskInfo
	if hash == nil {
		task, err = scheduledTask(ctx, deps, tasks, agents, agent)
	} else {
		task, err = eventedTask(ctx, deps, env, tasks, agents, agent, *hash)
	}
	if err != nil {
		return nil, err
	}

	res := chain.NewResponse().
		AddAttribute("action", "proxy_call").
		AddAttribute("agent_id", agent).
		AddAttribute("task_hash", task.TaskHash)

	if task.Boundary.IsExpired(env.Block) {
		deps.Logger.Info("task expired", "task_hash", task.TaskHash)
		return endTask(ctx, deps, cfg, tasks, task, res.AddAttribute("lifecycle", "task_ended"))
	}

	responses, ready, err := runQueries(ctx, deps, task.Task)
	if err != nil {
		return nil, err
	}
	exec := execution{TaskHash: task.TaskHash, Task: task.Task, Agent: agent}
	if !ready {
		if task.IsEvented() {
			return nil, fmt.Errorf("%w: query check returned false", core.ErrTaskNotReady)
		}
		// scheduled tasks still pay for the attempt and move on
		bal, err := taskBalances.Load(ctx, deps.Storage, task.TaskHash)
		if err != nil {
			return nil, err
		}
		fees, err := feeSpend(task.Task, cfg.NativeDenom)
		if err != nil {
			return nil, err
		}
		if !covers(bal, cfg.NativeDenom, fees) {
			return endTask(ctx, deps, cfg, tasks, task, res.AddAttribute("lifecycle", "task_ended"))
		}
		res.AddAttribute("query_check", "false")
		return c.finalize(ctx, deps, cfg, exec, res)
	}

	actions, err := applyTransforms(task.Task, responses)
	if err != nil {
		return nil, err
	}
	exec.Actions = actions

	need, err := feeSpend(task.Task, cfg.NativeDenom)
	if err != nil {
		return nil, err
	}
	for _, a := range actions {
		cost, err := core.CostOf(a.Msg)
		if err != nil {
			return nil, err
		}
		if err := need.add(cost); err != nil {
			return nil, err
		}
	}
	bal, err := taskBalances.Load(ctx, deps.Storage, task.TaskHash)
	if err != nil {
		return nil, err
	}
	if !covers(bal, cfg.NativeDenom, need) {
		deps.Logger.Info("task balance exhausted", "task_hash", task.TaskHash)
		return endTask(ctx, deps, cfg, tasks, task, res.AddAttribute("lifecycle", "task_ended"))
	}
	if len(actions) == 0 {
		return c.finalize(ctx, deps, cfg, exec, res)
	}
	if err := inflight.Save(ctx, deps.Storage, exec); err != nil {
		return nil, err
	}
	for i, a := range actions {
		res.AddSubMessage(chain.SubMsg{
			ID:       uint64(i),
			Msg:      a.Msg,
			GasLimit: a.GasLimit,
			ReplyOn:  chain.ReplyAlways,
		})
	}
	return res, nil
}

func scheduledTask(ctx context.Context, deps chain.Deps, tasks, agents, agent string) (core.TaskInfo, error) {
	var entitled msgs.AgentTaskResponse
	q := msgs.AgentsQueryMsg{GetAgentTasks: &msgs.AccountQuery{AccountID: agent}}
	if err := chain.QueryJSON(ctx, deps.Querier, agents, q, &entitled); err != nil {
		return core.TaskInfo{}, err
	}
	var resp core.TaskResponse
	if err := chain.QueryJSON(ctx, deps.Querier, tasks, msgs.TasksQueryMsg{CurrentTask: &msgs.Empty{}}, &resp); err != nil {
		return core.TaskInfo{}, err
	}
	if resp.Task == nil {
		return core.TaskInfo{}, core.ErrNoTaskFound
	}
	n := entitled.Stats.NumCronTasks
	if resp.Task.SlotType() == core.SlotBlock {
		n = entitled.Stats.NumBlockTasks
	}
	if n == 0 {
		return core.TaskInfo{}, fmt.Errorf("%w: %s", core.ErrNoTaskForAgent, agent)
	}
	return *resp.Task, nil
}

func eventedTask(ctx context.Context, deps chain.Deps, env chain.Env, tasks, agents, agent, hash string) (core.TaskInfo, error) {
	var ar msgs.AgentResponse
	if err := chain.QueryJSON(ctx, deps.Querier, agents, msgs.AgentsQueryMsg{GetAgent: &msgs.AccountQuery{AccountID: agent}}, &ar); err != nil {
		return core.TaskInfo{}, err
	}
	if ar.Agent == nil {
		return core.TaskInfo{}, fmt.Errorf("%w: %s", core.ErrAgentNotRegistered, agent)
	}
	if ar.Agent.Status != core.AgentActive {
		return core.TaskInfo{}, fmt.Errorf("%w: %s", core.ErrAgentNotActive, agent)
	}
	var resp core.TaskResponse
	if err := chain.QueryJSON(ctx, deps.Querier, tasks, msgs.TasksQueryMsg{Task: &msgs.TaskHashMsg{TaskHash: hash}}, &resp); err != nil {
		return core.TaskInfo{}, err
	}
	if resp.Task == nil {
		return core.TaskInfo{}, fmt.Errorf("%w: %s", core.ErrNoTaskFound, hash)
	}
	if !resp.Task.IsEvented() || !resp.Task.Boundary.IsStarted(env.Block) {
		return core.TaskInfo{}, fmt.Errorf("%w: %s", core.ErrTaskNotReady, hash)
	}
	return *resp.Task, nil
}

// runQueries evaluates the task's queries in order. ready is false when a
// croncat query with CheckResult answered false.
func runQueries(ctx context.Context, deps chain.Deps, task core.Task) (responses []json.RawMessage, ready bool, err error) {
	for i, q := range task.Queries {
		switch {
		case q.Croncat != nil:
			raw, err := deps.Querier.QuerySmart(ctx, q.Croncat.ContractAddr, q.Croncat.Msg)
			if err != nil {
				return nil, false, fmt.Errorf("query %d: %w", i, err)
			}
			var qr core.QueryResult
			if err := json.Unmarshal(raw, &qr); err != nil {
				return nil, false, fmt.Errorf("%w: query %d: %v", core.ErrInvalidQuery, i, err)
			}
			if q.Croncat.CheckResult && !qr.Result {
				return nil, false, nil
			}
			responses = append(responses, qr.Data)
		case q.Wasm != nil:
			raw, err := deps.Querier.QuerySmart(ctx, q.Wasm.ContractAddr, q.Wasm.Msg)
			if err != nil {
				return nil, false, fmt.Errorf("query %d: %w", i, err)
			}
			responses = append(responses, raw)
		default:
			return nil, false, fmt.Errorf("%w: query %d is empty", core.ErrInvalidQuery, i)
		}
	}
	return responses, true, nil
}

// applyTransforms returns a copy of the task's actions with query values
// written into their wasm execute messages.
func applyTransforms(task core.Task, responses []json.RawMessage) ([]core.Action, error) {
	actions := make([]core.Action, len(task.Actions))
	copy(actions, task.Actions)
	for i, t := range task.Transforms {
		if t.QueryIdx >= uint64(len(responses)) || t.ActionIdx >= uint64(len(actions)) {
			return nil, fmt.Errorf("%w: transform %d out of range", core.ErrInvalidQuery, i)
		}
		exec := actions[t.ActionIdx].Msg.Wasm
		if exec == nil || exec.Execute == nil {
			return nil, fmt.Errorf("%w: transform %d targets a non-wasm action", core.ErrInvalidAction, i)
		}
		value, err := valuepath.Get(responses[t.QueryIdx], t.QueryResponsePath)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		updated, err := valuepath.Set(exec.Execute.Msg, t.ActionPath, value)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i, err)
		}
		cp := *exec.Execute
		cp.Msg = updated
		actions[t.ActionIdx].Msg = chain.CosmosMsg{Wasm: &chain.WasmMsg{Execute: &cp}}
	}
	return actions, nil
}

func feeSpend(task core.Task, nativeDenom string) (spend, error) {
	fees, err := task.AmountForOneTask.Fees()
	if err != nil {
		return spend{}, err
	}
	total, err := fees.Total()
	if err != nil {
		return spend{}, err
	}
	return spend{Coins: []chain.Coin{{Denom: nativeDenom, Amount: total}}}, nil
}

// endTask removes a task from Tasks and refunds what is left of it.
func endTask(ctx context.Context, deps chain.Deps, cfg msgs.ManagerConfig, tasks string, task core.TaskInfo, res *chain.Response) (*chain.Response, error) {
	remove, err := chain.ExecuteMsg(tasks, msgs.TasksExecuteMsg{RemoveTaskHook: &msgs.TaskHashMsg{TaskHash: task.TaskHash}})
	if err != nil {
		return nil, err
	}
	refund, err := refundTask(ctx, deps.Storage, cfg, task.TaskHash, ownerOf(ctx, deps.Storage, task.TaskHash, task.Owner))
	if err != nil {
		return nil, err
	}
	return res.AddMessage(remove).AddMessages(refund...), nil
}

func ownerOf(ctx context.Context, kv store.KV, hash, fallback string) string {
	owner, ok, err := taskOwners.May(ctx, kv, hash)
	if err != nil || !ok {
		return fallback
	}
	return owner
}

// Reply collects action results and the Tasks reschedule answer.
func (c *Contract) Reply(ctx context.Context, deps chain.Deps, env chain.Env, reply chain.Reply) (*chain.Response, error) {
	cfg, err := configItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	if reply.ID == rescheduleReplyID {
		return c.rescheduled(ctx, deps, cfg, reply)
	}
	exec, ok, err := inflight.May(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	if !ok || reply.ID != exec.Replied || reply.ID >= uint64(len(exec.Actions)) {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownReplyID, reply.ID)
	}
	res := chain.NewResponse().AddAttribute("action", "action_reply").
		AddAttribute("action_idx", strconv.FormatUint(reply.ID, 10))
	if reply.Result.IsOk() {
		cost, err := core.CostOf(exec.Actions[reply.ID].Msg)
		if err != nil {
			return nil, err
		}
		var s spend
		if err := s.add(cost); err != nil {
			return nil, err
		}
		bal, err := taskBalances.Load(ctx, deps.Storage, exec.TaskHash)
		if err != nil {
			return nil, err
		}
		if err := debitTask(&bal, cfg.NativeDenom, s); err != nil {
			return nil, err
		}
		if err := taskBalances.Save(ctx, deps.Storage, exec.TaskHash, bal); err != nil {
			return nil, err
		}
		if err := releaseAvailable(ctx, deps.Storage, s); err != nil {
			return nil, err
		}
	} else {
		exec.Failed = true
		exec.LastErr = reply.Result.Err
		res.AddAttribute("action_error", reply.Result.Err)
		deps.Logger.Warn("task action failed", "task_hash", exec.TaskHash, "action_idx", reply.ID, "error", reply.Result.Err)
	}
	exec.Replied++
	if exec.Replied < uint64(len(exec.Actions)) {
		return res, inflight.Save(ctx, deps.Storage, exec)
	}
	if err := inflight.Remove(ctx, deps.Storage); err != nil {
		return nil, err
	}
	return c.finalize(ctx, deps, cfg, exec, res)
}

// finalize charges the execution's fees, credits the agent and the
// treasury, and either reschedules or removes the task.
func (c *Contract) finalize(ctx context.Context, deps chain.Deps, cfg msgs.ManagerConfig, exec execution, res *chain.Response) (*chain.Response, error) {
	tasks, agents, err := resolve(ctx, deps, cfg)
	if err != nil {
		return nil, err
	}
	fees, err := exec.Task.AmountForOneTask.Fees()
	if err != nil {
		return nil, err
	}
	total, err := fees.Total()
	if err != nil {
		return nil, err
	}
	bal, err := taskBalances.Load(ctx, deps.Storage, exec.TaskHash)
	if err != nil {
		return nil, err
	}
	if err := debitTask(&bal, cfg.NativeDenom, spend{Coins: []chain.Coin{{Denom: cfg.NativeDenom, Amount: total}}}); err != nil {
		return nil, err
	}
	if err := taskBalances.Save(ctx, deps.Storage, exec.TaskHash, bal); err != nil {
		return nil, err
	}
	reward, err := fees.AgentReward()
	if err != nil {
		return nil, err
	}
	if err := AddBalance(ctx, deps.Storage, agentRewards, exec.Agent, reward); err != nil {
		return nil, err
	}
	if err := addTreasury(ctx, deps.Storage, fees.TreasuryFee); err != nil {
		return nil, err
	}

	completed, err := chain.ExecuteMsg(agents, msgs.AgentsExecuteMsg{OnTaskCompleted: &msgs.OnTaskCompleted{
		AgentID:         exec.Agent,
		IsBlockSlotTask: exec.Task.SlotType() == core.SlotBlock,
	}})
	if err != nil {
		return nil, err
	}
	res.AddMessage(completed).
		AddAttribute("agent_reward", reward.String()).
		AddAttribute("slot_type", string(exec.Task.SlotType())).
		AddAttribute("failed", strconv.FormatBool(exec.Failed))

	owner := ownerOf(ctx, deps.Storage, exec.TaskHash, exec.Task.Owner)
	next, err := perExecution(exec.Task.AmountForOneTask, cfg.NativeDenom)
	if err != nil {
		return nil, err
	}
	keep := exec.Task.IsRecurring() &&
		!(exec.Failed && exec.Task.StopOnFail) &&
		covers(bal, cfg.NativeDenom, next)
	if keep {
		msg, err := chain.ExecuteMsg(tasks, msgs.TasksExecuteMsg{RescheduleTaskHook: &msgs.TaskHashMsg{TaskHash: exec.TaskHash}})
		if err != nil {
			return nil, err
		}
		if err := reschedule.Save(ctx, deps.Storage, pendingReschedule{TaskHash: exec.TaskHash, Owner: owner}); err != nil {
			return nil, err
		}
		return res.AddSubMessage(chain.SubMsg{ID: rescheduleReplyID, Msg: msg, ReplyOn: chain.ReplySuccess}), nil
	}
	info := core.TaskInfo{TaskHash: exec.TaskHash, Task: exec.Task}
	return endTask(ctx, deps, cfg, tasks, info, res.AddAttribute("lifecycle", "task_ended"))
}

// rescheduled refunds a recurring task Tasks could not place again.
func (c *Contract) rescheduled(ctx context.Context, deps chain.Deps, cfg msgs.ManagerConfig, reply chain.Reply) (*chain.Response, error) {
	pending, ok, err := reschedule.May(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: no reschedule pending", core.ErrUnknownReplyID)
	}
	if err := reschedule.Remove(ctx, deps.Storage); err != nil {
		return nil, err
	}
	if !reply.Result.IsOk() {
		return nil, errors.New(reply.Result.Err)
	}
	var out msgs.RescheduleResponse
	if err := json.Unmarshal(reply.Result.Ok.Data, &out); err != nil {
		return nil, fmt.Errorf("decode reschedule reply: %w", err)
	}
	res := chain.NewResponse().
		AddAttribute("action", "reschedule_reply").
		AddAttribute("task_hash", pending.TaskHash)
	if !out.TaskRemoved {
		return res, nil
	}
	refund, err := refundTask(ctx, deps.Storage, cfg, pending.TaskHash, pending.Owner)
	if err != nil {
		return nil, err
	}
	return res.AddAttribute("lifecycle", "task_ended").AddMessages(refund...), nil
}
