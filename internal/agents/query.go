package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

func (c *Contract) Query(ctx context.Context, deps chain.Deps, env chain.Env, raw json.RawMessage) ([]byte, error) {
	var msg msgs.AgentsQueryMsg
	if err := msgs.Decode(raw, &msg); err != nil {
		return nil, err
	}
	cfg, err := configItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	var out any
	switch {
	case msg.Config != nil:
		out = cfg
	case msg.GetAgent != nil:
		out, err = getAgent(ctx, deps, env, cfg, msg.GetAgent.AccountID)
	case msg.GetAgentIDs != nil:
		out, err = getAgentIDs(ctx, deps.Storage, msg.GetAgentIDs)
	case msg.GetAgentTasks != nil:
		out, err = getAgentTasks(ctx, deps, cfg, msg.GetAgentTasks.AccountID)
	default:
		out, err = approvedAgents(ctx, deps.Storage, msg.GetApprovedAgentAddresses)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func getAgent(ctx context.Context, deps chain.Deps, env chain.Env, cfg msgs.AgentsConfig, account string) (msgs.AgentResponse, error) {
	rec, ok, err := agentsMap.May(ctx, deps.Storage, account)
	if err != nil || !ok {
		return msgs.AgentResponse{}, err
	}
	active, err := activeItem.Load(ctx, deps.Storage)
	if err != nil {
		return msgs.AgentResponse{}, err
	}
	status := core.AgentActive
	if indexOf(active, account) < 0 {
		status = core.AgentPending
		pending, err := pendingItem.Load(ctx, deps.Storage)
		if err != nil {
			return msgs.AgentResponse{}, err
		}
		allowed, err := nominatedNow(ctx, deps, cfg, env, uint64(len(active)))
		if err != nil {
			return msgs.AgentResponse{}, err
		}
		if pos := indexOf(pending, account); pos >= 0 && uint64(pos) < allowed {
			status = core.AgentNominated
		}
	}
	stats, _, err := statsMap.May(ctx, deps.Storage, account)
	if err != nil {
		return msgs.AgentResponse{}, err
	}
	manager, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatManagerKey)
	if err != nil {
		return msgs.AgentResponse{}, err
	}
	var reward math.Int
	if err := chain.QueryJSON(ctx, deps.Querier, manager, msgs.ManagerQueryMsg{AgentRewards: &msgs.AgentIDQuery{AgentID: account}}, &reward); err != nil {
		return msgs.AgentResponse{}, err
	}
	return msgs.AgentResponse{Agent: &msgs.AgentInfo{
		Status:              status,
		PayableAccountID:    rec.PayableAccountID,
		Balance:             core.OrZero(reward),
		LastExecutedSlot:    stats.LastExecutedSlot,
		RegisterStart:       rec.RegisterStart,
		CompletedBlockTasks: stats.CompletedBlockTasks,
		CompletedCronTasks:  stats.CompletedCronTasks,
	}}, nil
}

func getAgentIDs(ctx context.Context, kv store.KV, page *msgs.PageQuery) (msgs.GetAgentIDsResponse, error) {
	from, limit := page.Page(defaultLimit, maxLimit)
	active, err := activeItem.Load(ctx, kv)
	if err != nil {
		return msgs.GetAgentIDsResponse{}, err
	}
	pending, err := pendingItem.Load(ctx, kv)
	if err != nil {
		return msgs.GetAgentIDsResponse{}, err
	}
	return msgs.GetAgentIDsResponse{Active: window(active, from, limit), Pending: window(pending, from, limit)}, nil
}

func window(list []string, from, limit uint64) []string {
	if from >= uint64(len(list)) {
		return []string{}
	}
	end := min(uint64(len(list)), from+limit)
	return append([]string{}, list[from:end]...)
}

// getAgentTasks is the balancer entitlement of an active agent for the
// tasks due now.
func getAgentTasks(ctx context.Context, deps chain.Deps, cfg msgs.AgentsConfig, account string) (msgs.AgentTaskResponse, error) {
	if _, err := loadAgent(ctx, deps.Storage, account); err != nil {
		return msgs.AgentTaskResponse{}, err
	}
	active, err := activeItem.Load(ctx, deps.Storage)
	if err != nil {
		return msgs.AgentTaskResponse{}, err
	}
	if indexOf(active, account) < 0 {
		return msgs.AgentTaskResponse{}, fmt.Errorf("%w: %s", core.ErrAgentNotActive, account)
	}
	tasks, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatTasksKey)
	if err != nil {
		return msgs.AgentTaskResponse{}, err
	}
	var due msgs.SlotTasksTotalResponse
	if err := chain.QueryJSON(ctx, deps.Querier, tasks, msgs.TasksQueryMsg{SlotTasksTotal: &msgs.SlotTasksTotal{}}, &due); err != nil {
		return msgs.AgentTaskResponse{}, err
	}
	stats, err := loadStats(ctx, deps.Storage, active)
	if err != nil {
		return msgs.AgentTaskResponse{}, err
	}
	blockBase, blockExtra, err := Equalize(core.SlotBlock, due.BlockTasks, active, stats, account)
	if err != nil {
		return msgs.AgentTaskResponse{}, err
	}
	cronBase, cronExtra, err := Equalize(core.SlotCron, due.CronTasks, active, stats, account)
	if err != nil {
		return msgs.AgentTaskResponse{}, err
	}
	return msgs.AgentTaskResponse{Stats: msgs.AgentTaskStats{
		NumBlockTasks: blockBase + blockExtra,
		NumCronTasks:  cronBase + cronExtra,
	}}, nil
}

func approvedAgents(ctx context.Context, kv store.KV, page *msgs.PageQuery) ([]string, error) {
	from, limit := page.Page(defaultLimit, maxLimit)
	out := []string{}
	var skipped uint64
	err := approved.Range(ctx, kv, store.Bound[string]{}, store.Ascending, func(addr string, _ bool) (bool, error) {
		if skipped < from {
			skipped++
			return true, nil
		}
		out = append(out, addr)
		return uint64(len(out)) < limit, nil
	})
	return out, err
}
