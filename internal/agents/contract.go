// Package agents implements the contract that registers agents, admits
// them from the pending queue and decides how many due tasks each may run.
package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"cosmossdk.io/math"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

// Defaults for a fresh deployment.
const (
	DefaultMinTasksPerAgent             uint64 = 3
	DefaultAgentNominationDuration      uint64 = 360
	DefaultMinCoinsForAgentRegistration uint64 = 1_000_000
	DefaultAgentsEjectThreshold         uint64 = 600
	DefaultMinActiveAgentCount          uint64 = 1

	defaultLimit = 100
	maxLimit     = 250
)

var (
	ErrNotNominated      = errors.New("agent not nominated for check in yet")
	ErrNotEnoughToJoin   = errors.New("not enough native balance to register")
	ErrNotWhitelisted    = errors.New("agent not on the approved list")
	ErrNoFundsAccepted   = errors.New("agent registration does not accept funds")
	ErrAgentAlreadyMoved = errors.New("agent already active")
)

// Contract is the agents code.
type Contract struct{}

func New() *Contract { return &Contract{} }

func orDefault(v *uint64, def uint64) uint64 {
	if v == nil {
		return def
	}
	return *v
}

func (c *Contract) Instantiate(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.AgentsInstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode instantiate msg: %w", err)
	}
	cfg := msgs.AgentsConfig{
		OwnerAddr:                    info.Sender,
		CroncatFactoryAddr:           info.Sender,
		CroncatManagerKey:            msg.CroncatManagerKey,
		CroncatTasksKey:              msg.CroncatTasksKey,
		MinTasksPerAgent:             orDefault(msg.MinTasksPerAgent, DefaultMinTasksPerAgent),
		AgentNominationDuration:      orDefault(msg.AgentNominationDuration, DefaultAgentNominationDuration),
		MinCoinsForAgentRegistration: orDefault(msg.MinCoinsForAgentRegistration, DefaultMinCoinsForAgentRegistration),
		AgentsEjectThreshold:         orDefault(msg.AgentsEjectThreshold, DefaultAgentsEjectThreshold),
		MinActiveAgentCount:          orDefault(msg.MinActiveAgentCount, DefaultMinActiveAgentCount),
		PublicRegistration:           true,
	}
	if msg.PublicRegistration != nil {
		cfg.PublicRegistration = *msg.PublicRegistration
	}
	for _, a := range msg.AllowedAgents {
		addr, err := deps.API.AddrValidate(a)
		if err != nil {
			return nil, err
		}
		if err := approved.Save(ctx, deps.Storage, addr, true); err != nil {
			return nil, err
		}
	}
	if err := configItem.Save(ctx, deps.Storage, cfg); err != nil {
		return nil, err
	}
	if err := activeItem.Save(ctx, deps.Storage, []string{}); err != nil {
		return nil, err
	}
	if err := pendingItem.Save(ctx, deps.Storage, []string{}); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", "instantiate"), nil
}

func (c *Contract) Execute(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.AgentsExecuteMsg
	if err := msgs.Decode(raw, &msg); err != nil {
		return nil, err
	}
	cfg, err := configItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	switch {
	case msg.UpdateConfig != nil:
		return c.updateConfig(ctx, deps, info, cfg, msg.UpdateConfig)
	case msg.AddAgentToWhitelist != nil:
		return c.setApproved(ctx, deps, info, cfg, msg.AddAgentToWhitelist.AgentAddress, true)
	case msg.RemoveAgentFromWhitelist != nil:
		return c.setApproved(ctx, deps, info, cfg, msg.RemoveAgentFromWhitelist.AgentAddress, false)
	case msg.UnregisterAgent != nil:
		// leaving stays possible while paused
		return c.unregister(ctx, deps, info, cfg, msg.UnregisterAgent.FromBehind)
	case msg.OnTaskCompleted != nil:
		return c.onTaskCompleted(ctx, deps, env, info, cfg, msg.OnTaskCompleted)
	}
	if cfg.Paused {
		return nil, core.ErrPaused
	}
	switch {
	case msg.RegisterAgent != nil:
		return c.register(ctx, deps, env, info, cfg, msg.RegisterAgent.PayableAccountID)
	case msg.UpdateAgent != nil:
		return c.updateAgent(ctx, deps, info, msg.UpdateAgent.PayableAccountID)
	case msg.CheckInAgent != nil:
		return c.checkIn(ctx, deps, env, info, cfg)
	case msg.OnTaskCreated != nil:
		return c.onTaskCreated(ctx, deps, env, info, cfg)
	default:
		return c.tick(ctx, deps, env, cfg)
	}
}

func (c *Contract) updateConfig(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.AgentsConfig, msg *msgs.AgentsUpdateConfig) (*chain.Response, error) {
	if info.Sender != cfg.OwnerAddr {
		return nil, core.ErrUnauthorized
	}
	if msg.Paused != nil {
		cfg.Paused = *msg.Paused
	}
	if msg.CroncatManagerKey != nil {
		cfg.CroncatManagerKey = *msg.CroncatManagerKey
	}
	if msg.CroncatTasksKey != nil {
		cfg.CroncatTasksKey = *msg.CroncatTasksKey
	}
	if msg.PublicRegistration != nil {
		cfg.PublicRegistration = *msg.PublicRegistration
	}
	cfg.MinTasksPerAgent = orDefault(msg.MinTasksPerAgent, cfg.MinTasksPerAgent)
	cfg.AgentNominationDuration = orDefault(msg.AgentNominationDuration, cfg.AgentNominationDuration)
	cfg.MinCoinsForAgentRegistration = orDefault(msg.MinCoinsForAgentRegistration, cfg.MinCoinsForAgentRegistration)
	cfg.AgentsEjectThreshold = orDefault(msg.AgentsEjectThreshold, cfg.AgentsEjectThreshold)
	cfg.MinActiveAgentCount = orDefault(msg.MinActiveAgentCount, cfg.MinActiveAgentCount)
	if err := configItem.Save(ctx, deps.Storage, cfg); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "update_config").
		AddAttribute("paused", strconv.FormatBool(cfg.Paused)), nil
}

func (c *Contract) setApproved(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.AgentsConfig, addr string, add bool) (*chain.Response, error) {
	if info.Sender != cfg.OwnerAddr {
		return nil, core.ErrUnauthorized
	}
	addr, err := deps.API.AddrValidate(addr)
	if err != nil {
		return nil, err
	}
	action := "add_agent_to_whitelist"
	if add {
		err = approved.Save(ctx, deps.Storage, addr, true)
	} else {
		action = "remove_agent_from_whitelist"
		err = approved.Remove(ctx, deps.Storage, addr)
	}
	if err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", action).AddAttribute("agent_address", addr), nil
}

func (c *Contract) register(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, cfg msgs.AgentsConfig, payable *string) (*chain.Response, error) {
	if len(info.Funds) > 0 {
		return nil, ErrNoFundsAccepted
	}
	agent := info.Sender
	if !cfg.PublicRegistration {
		ok, err := approved.Has(ctx, deps.Storage, agent)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotWhitelisted, agent)
		}
	}
	exists, err := agentsMap.Has(ctx, deps.Storage, agent)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", core.ErrAgentExists, agent)
	}
	if cfg.MinCoinsForAgentRegistration > 0 {
		if err := checkRegistrationBalance(ctx, deps, cfg, agent); err != nil {
			return nil, err
		}
	}
	account := agent
	if payable != nil {
		if account, err = deps.API.AddrValidate(*payable); err != nil {
			return nil, err
		}
	}
	if err := agentsMap.Save(ctx, deps.Storage, agent, core.Agent{PayableAccountID: account, RegisterStart: env.Block.Time}); err != nil {
		return nil, err
	}

	active, err := activeItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	status := core.AgentPending
	if len(active) == 0 {
		status = core.AgentActive
		if err := activeItem.Save(ctx, deps.Storage, append(active, agent)); err != nil {
			return nil, err
		}
		if err := statsMap.Save(ctx, deps.Storage, agent, core.AgentStats{LastExecutedSlot: env.Block.Height}); err != nil {
			return nil, err
		}
	} else {
		pending, err := pendingItem.Load(ctx, deps.Storage)
		if err != nil {
			return nil, err
		}
		if err := pendingItem.Save(ctx, deps.Storage, append(pending, agent)); err != nil {
			return nil, err
		}
		nom, _, err := nomination.May(ctx, deps.Storage)
		if err != nil {
			return nil, err
		}
		if nom.StartHeight == nil {
			h := env.Block.Height
			nom.StartHeight = &h
			if err := nomination.Save(ctx, deps.Storage, nom); err != nil {
				return nil, err
			}
		}
	}
	deps.Logger.Info("agent registered", "agent", agent, "status", status)
	return chain.NewResponse().
		AddAttribute("action", "register_agent").
		AddAttribute("agent_status", string(status)).
		AddAttribute("register_start", strconv.FormatUint(env.Block.Time, 10)).
		AddAttribute("payable_account_id", account), nil
}

func checkRegistrationBalance(ctx context.Context, deps chain.Deps, cfg msgs.AgentsConfig, agent string) error {
	manager, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatManagerKey)
	if err != nil {
		return err
	}
	var managerCfg msgs.ManagerConfig
	if err := chain.QueryJSON(ctx, deps.Querier, manager, msgs.ManagerQueryMsg{Config: &msgs.Empty{}}, &managerCfg); err != nil {
		return err
	}
	bal, err := deps.Querier.QueryBalance(ctx, agent, managerCfg.NativeDenom)
	if err != nil {
		return err
	}
	need := math.NewIntFromUint64(cfg.MinCoinsForAgentRegistration)
	if core.OrZero(bal.Amount).LT(need) {
		return fmt.Errorf("%w: need %s%s", ErrNotEnoughToJoin, need, managerCfg.NativeDenom)
	}
	return nil
}

func (c *Contract) updateAgent(ctx context.Context, deps chain.Deps, info chain.MessageInfo, payable string) (*chain.Response, error) {
	agent, err := loadAgent(ctx, deps.Storage, info.Sender)
	if err != nil {
		return nil, err
	}
	if agent.PayableAccountID, err = deps.API.AddrValidate(payable); err != nil {
		return nil, err
	}
	if err := agentsMap.Save(ctx, deps.Storage, info.Sender, agent); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "update_agent").
		AddAttribute("payable_account_id", agent.PayableAccountID), nil
}

func (c *Contract) checkIn(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, cfg msgs.AgentsConfig) (*chain.Response, error) {
	agent := info.Sender
	if _, err := loadAgent(ctx, deps.Storage, agent); err != nil {
		return nil, err
	}
	active, err := activeItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	if indexOf(active, agent) >= 0 {
		return nil, fmt.Errorf("%w: %s", ErrAgentAlreadyMoved, agent)
	}
	pending, err := pendingItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	pos := indexOf(pending, agent)
	if pos < 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrAgentNotRegistered, agent)
	}
	allowed, err := nominatedNow(ctx, deps, cfg, env, uint64(len(active)))
	if err != nil {
		return nil, err
	}
	if uint64(pos) >= allowed {
		return nil, fmt.Errorf("%w: position %d, %d admitted", ErrNotNominated, pos, allowed)
	}
	pending = without(pending, pos)
	active = append(active, agent)
	if err := pendingItem.Save(ctx, deps.Storage, pending); err != nil {
		return nil, err
	}
	if err := activeItem.Save(ctx, deps.Storage, active); err != nil {
		return nil, err
	}
	if err := statsMap.Save(ctx, deps.Storage, agent, core.AgentStats{LastExecutedSlot: env.Block.Height}); err != nil {
		return nil, err
	}
	status := nominationStatus{}
	if len(pending) > 0 {
		h := env.Block.Height
		status.StartHeight = &h
	}
	if err := nomination.Save(ctx, deps.Storage, status); err != nil {
		return nil, err
	}
	deps.Logger.Info("agent checked in", "agent", agent, "active", len(active))
	return chain.NewResponse().
		AddAttribute("action", "check_in_agent").
		AddAttribute("agent_status", string(core.AgentActive)), nil
}

// nominatedNow resolves how many pending agents may check in at env.
func nominatedNow(ctx context.Context, deps chain.Deps, cfg msgs.AgentsConfig, env chain.Env, activeCount uint64) (uint64, error) {
	tasks, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatTasksKey)
	if err != nil {
		return 0, err
	}
	var total uint64
	if err := chain.QueryJSON(ctx, deps.Querier, tasks, msgs.TasksQueryMsg{TasksTotal: &msgs.Empty{}}, &total); err != nil {
		return 0, err
	}
	status, _, err := nomination.May(ctx, deps.Storage)
	if err != nil {
		return 0, err
	}
	return nominated(cfg, status, activeCount, total, env.Block.Height), nil
}

func (c *Contract) unregister(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.AgentsConfig, fromBehind *bool) (*chain.Response, error) {
	agent := info.Sender
	rec, err := loadAgent(ctx, deps.Storage, agent)
	if err != nil {
		return nil, err
	}
	if err := removeAgent(ctx, deps.Storage, agent, fromBehind != nil && *fromBehind); err != nil {
		return nil, err
	}
	withdraw, err := withdrawMsg(ctx, deps, cfg, agent, rec.PayableAccountID)
	if err != nil {
		return nil, err
	}
	deps.Logger.Info("agent unregistered", "agent", agent)
	return chain.NewResponse().
		AddAttribute("action", "unregister_agent").
		AddAttribute("account_id", agent).
		AddMessage(withdraw), nil
}

// removeAgent takes agent out of whichever queue holds it and purges its
// record and stats.
func removeAgent(ctx context.Context, kv store.KV, agent string, fromBehind bool) error {
	active, err := activeItem.Load(ctx, kv)
	if err != nil {
		return err
	}
	if i := indexOf(active, agent); i >= 0 {
		if err := activeItem.Save(ctx, kv, without(active, i)); err != nil {
			return err
		}
	} else {
		pending, err := pendingItem.Load(ctx, kv)
		if err != nil {
			return err
		}
		i := indexOf(pending, agent)
		if fromBehind {
			i = lastIndexOf(pending, agent)
		}
		if i >= 0 {
			if err := pendingItem.Save(ctx, kv, without(pending, i)); err != nil {
				return err
			}
		}
	}
	if err := OnAgentUnregistered(ctx, kv, agent); err != nil {
		return err
	}
	return agentsMap.Remove(ctx, kv, agent)
}

func withdrawMsg(ctx context.Context, deps chain.Deps, cfg msgs.AgentsConfig, agent, payable string) (chain.CosmosMsg, error) {
	manager, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatManagerKey)
	if err != nil {
		return chain.CosmosMsg{}, err
	}
	return chain.ExecuteMsg(manager, msgs.ManagerExecuteMsg{AgentWithdraw: &msgs.AgentWithdraw{
		Args: &msgs.AgentWithdrawOnRemoval{AgentID: agent, PayableAccountID: payable},
	}})
}

func (c *Contract) onTaskCreated(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, cfg msgs.AgentsConfig) (*chain.Response, error) {
	tasks, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatTasksKey)
	if err != nil {
		return nil, err
	}
	if info.Sender != tasks {
		return nil, fmt.Errorf("%w: only the tasks contract may report new tasks", core.ErrUnauthorized)
	}
	status, _, err := nomination.May(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	status.TasksCreated++
	pending, err := pendingItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	if status.StartHeight == nil && len(pending) > 0 {
		h := env.Block.Height
		status.StartHeight = &h
	}
	if err := nomination.Save(ctx, deps.Storage, status); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", "on_task_created"), nil
}

func (c *Contract) onTaskCompleted(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, cfg msgs.AgentsConfig, msg *msgs.OnTaskCompleted) (*chain.Response, error) {
	manager, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatManagerKey)
	if err != nil {
		return nil, err
	}
	if info.Sender != manager {
		return nil, fmt.Errorf("%w: only the manager may report completions", core.ErrUnauthorized)
	}
	if _, err := loadAgent(ctx, deps.Storage, msg.AgentID); err != nil {
		return nil, err
	}
	slotType := core.SlotCron
	if msg.IsBlockSlotTask {
		slotType = core.SlotBlock
	}
	if err := OnTaskCompleted(ctx, deps.Storage, msg.AgentID, slotType, env.Block.Height); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "on_task_completed").
		AddAttribute("agent_id", msg.AgentID).
		AddAttribute("slot_kind", string(slotType)), nil
}

// tick ejects active agents that have not executed for longer than the
// eject threshold, keeping at least MinActiveAgentCount.
func (c *Contract) tick(ctx context.Context, deps chain.Deps, env chain.Env, cfg msgs.AgentsConfig) (*chain.Response, error) {
	active, err := activeItem.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	res := chain.NewResponse().AddAttribute("action", "tick")
	remaining := uint64(len(active))
	removed := 0
	for _, agent := range active {
		if remaining <= cfg.MinActiveAgentCount {
			break
		}
		stats, _, err := statsMap.May(ctx, deps.Storage, agent)
		if err != nil {
			return nil, err
		}
		if env.Block.Height <= stats.LastExecutedSlot || env.Block.Height-stats.LastExecutedSlot <= cfg.AgentsEjectThreshold {
			continue
		}
		rec, err := loadAgent(ctx, deps.Storage, agent)
		if err != nil {
			return nil, err
		}
		if err := removeAgent(ctx, deps.Storage, agent, false); err != nil {
			return nil, err
		}
		withdraw, err := withdrawMsg(ctx, deps, cfg, agent, rec.PayableAccountID)
		if err != nil {
			return nil, err
		}
		res.AddMessage(withdraw).AddAttribute("removed_agent", agent)
		deps.Logger.Info("agent ejected", "agent", agent, "last_executed_slot", stats.LastExecutedSlot)
		remaining--
		removed++
	}
	return res.AddAttribute("num_removed", strconv.Itoa(removed)), nil
}

func loadAgent(ctx context.Context, kv store.KV, agent string) (core.Agent, error) {
	rec, err := agentsMap.Load(ctx, kv, agent)
	if errors.Is(err, store.ErrNotFound) {
		return rec, fmt.Errorf("%w: %s", core.ErrAgentNotRegistered, agent)
	}
	return rec, err
}
