// Package tasks implements the contract holding task definitions and the
// slot index that decides which task is due next.
package tasks

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
)

// Defaults for a fresh deployment.
const (
	DefaultSlotGranularityTime uint64 = 10_000_000_000 // 10 seconds
	DefaultGasBaseFee          uint64 = 300_000
	DefaultGasActionFee        uint64 = 130_000
	DefaultGasQueryFee         uint64 = 5_000
	DefaultGasLimit            uint64 = 3_000_000

	hookReplyID = 1

	defaultLimit = 100
	maxLimit     = 250
)

// Contract is the tasks code.
type Contract struct{}

func New() *Contract { return &Contract{} }

func orDefault(v *uint64, def uint64) uint64 {
	if v == nil {
		return def
	}
	return *v
}

func (c *Contract) Instantiate(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.TasksInstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode instantiate msg: %w", err)
	}
	if msg.ChainName == "" {
		return nil, errors.New("chain_name is required")
	}
	version := "0.1"
	if msg.Version != nil {
		version = *msg.Version
	}
	cfg := msgs.TasksConfig{
		OwnerAddr:           info.Sender,
		CroncatFactoryAddr:  info.Sender,
		ChainName:           msg.ChainName,
		Version:             version,
		CroncatManagerKey:   msg.CroncatManagerKey,
		CroncatAgentsKey:    msg.CroncatAgentsKey,
		SlotGranularityTime: orDefault(msg.SlotGranularityTime, DefaultSlotGranularityTime),
		GasBaseFee:          orDefault(msg.GasBaseFee, DefaultGasBaseFee),
		GasActionFee:        orDefault(msg.GasActionFee, DefaultGasActionFee),
		GasQueryFee:         orDefault(msg.GasQueryFee, DefaultGasQueryFee),
		GasLimit:            orDefault(msg.GasLimit, DefaultGasLimit),
	}
	if cfg.SlotGranularityTime == 0 {
		return nil, fmt.Errorf("%w: slot granularity must be positive", core.ErrInvalidInterval)
	}
	if err := configItem.Save(ctx, deps.Storage, cfg); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "instantiate").
		AddAttribute("chain_name", cfg.ChainName).
		AddAttribute("version", cfg.Version), nil
}

func (c *Contract) Execute(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.TasksExecuteMsg
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
	case msg.AddHook != nil:
		return c.setHook(ctx, deps, info, cfg, msg.AddHook.Addr, true)
	case msg.RemoveHook != nil:
		return c.setHook(ctx, deps, info, cfg, msg.RemoveHook.Addr, false)
	}
	if cfg.Paused {
		return nil, core.ErrPaused
	}
	switch {
	case msg.CreateTask != nil:
		return c.createTask(ctx, deps, env, info, cfg, msg.CreateTask.Task)
	case msg.RemoveTask != nil:
		return c.removeTask(ctx, deps, info, cfg, msg.RemoveTask.TaskHash)
	case msg.RemoveTaskHook != nil:
		return c.removeTaskHook(ctx, deps, info, cfg, msg.RemoveTaskHook.TaskHash)
	default:
		return c.rescheduleTaskHook(ctx, deps, env, info, cfg, msg.RescheduleTaskHook.TaskHash)
	}
}

func (c *Contract) updateConfig(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.TasksConfig, msg *msgs.TasksUpdateConfig) (*chain.Response, error) {
	if info.Sender != cfg.OwnerAddr {
		return nil, core.ErrUnauthorized
	}
	if msg.Paused != nil {
		cfg.Paused = *msg.Paused
	}
	if msg.CroncatManagerKey != nil {
		cfg.CroncatManagerKey = *msg.CroncatManagerKey
	}
	if msg.CroncatAgentsKey != nil {
		cfg.CroncatAgentsKey = *msg.CroncatAgentsKey
	}
	if msg.SlotGranularityTime != nil {
		if *msg.SlotGranularityTime == 0 {
			return nil, fmt.Errorf("%w: slot granularity must be positive", core.ErrInvalidInterval)
		}
		cfg.SlotGranularityTime = *msg.SlotGranularityTime
	}
	cfg.GasBaseFee = orDefault(msg.GasBaseFee, cfg.GasBaseFee)
	cfg.GasActionFee = orDefault(msg.GasActionFee, cfg.GasActionFee)
	cfg.GasQueryFee = orDefault(msg.GasQueryFee, cfg.GasQueryFee)
	cfg.GasLimit = orDefault(msg.GasLimit, cfg.GasLimit)
	if err := configItem.Save(ctx, deps.Storage, cfg); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "update_config").
		AddAttribute("paused", strconv.FormatBool(cfg.Paused)), nil
}

func (c *Contract) setHook(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.TasksConfig, addr string, add bool) (*chain.Response, error) {
	if info.Sender != cfg.OwnerAddr {
		return nil, core.ErrUnauthorized
	}
	addr, err := deps.API.AddrValidate(addr)
	if err != nil {
		return nil, err
	}
	action := "add_hook"
	if add {
		err = hooksMap.Save(ctx, deps.Storage, addr, true)
	} else {
		action = "remove_hook"
		err = hooksMap.Remove(ctx, deps.Storage, addr)
	}
	if err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", action).AddAttribute("addr", addr), nil
}

func (c *Contract) createTask(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, cfg msgs.TasksConfig, req core.TaskRequest) (*chain.Response, error) {
	sib, err := resolveSiblings(ctx, deps, env, cfg)
	if err != nil {
		return nil, err
	}
	var managerCfg msgs.ManagerConfig
	if err := chain.QueryJSON(ctx, deps.Querier, sib.manager, msgs.ManagerQueryMsg{Config: &msgs.Empty{}}, &managerCfg); err != nil {
		return nil, err
	}
	task, err := buildTask(deps, env, cfg, sib, managerCfg, info.Sender, req)
	if err != nil {
		return nil, err
	}
	hash := task.Hash(cfg.ChainName)
	exists, err := tasksMap.Has(ctx, deps.Storage, hash)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", core.ErrTaskExists, hash)
	}

	res := chain.NewResponse().
		AddAttribute("action", "create_task").
		AddAttribute("task_hash", hash).
		AddAttribute("task_version", task.Version).
		AddAttribute("owner_addr", task.Owner)
	if task.IsEvented() {
		if err := eventedIndex.Save(ctx, deps.Storage, eventedKey(task.Boundary.Start, hash), true); err != nil {
			return nil, err
		}
		if err := bump(ctx, deps.Storage, eventedTotal, 1); err != nil {
			return nil, err
		}
		res.AddAttribute("slot_kind", "evented")
	} else {
		slot, ok, err := core.NextSlot(task.Interval, task.Boundary, env.Block.Height, env.Block.Time, cfg.SlotGranularityTime)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: task would never run before its end", core.ErrInvalidBoundary)
		}
		task.Slot = &slot
		if err := PushSlot(ctx, deps.Storage, slot, hash); err != nil {
			return nil, err
		}
		res.AddAttribute("slot_id", strconv.FormatUint(slot.Key, 10)).
			AddAttribute("slot_kind", string(slot.Type))
	}
	if err := tasksMap.Save(ctx, deps.Storage, hash, task); err != nil {
		return nil, err
	}
	if err := ownerIndex.Save(ctx, deps.Storage, store.Pair{A: task.Owner, B: hash}, true); err != nil {
		return nil, err
	}
	if err := bump(ctx, deps.Storage, tasksTotal, 1); err != nil {
		return nil, err
	}
	if err := lastCreated.Save(ctx, deps.Storage, env.Block.Time); err != nil {
		return nil, err
	}

	balanceMsg, err := chain.ExecuteMsg(sib.manager, msgs.ManagerExecuteMsg{CreateTaskBalance: &msgs.CreateTaskBalance{
		Sender:           task.Owner,
		TaskHash:         hash,
		Recurring:        task.IsRecurring(),
		Cw20:             req.Cw20,
		AmountForOneTask: task.AmountForOneTask,
	}}, info.Funds...)
	if err != nil {
		return nil, err
	}
	createdMsg, err := chain.ExecuteMsg(sib.agents, msgs.AgentsExecuteMsg{OnTaskCreated: &msgs.Empty{}})
	if err != nil {
		return nil, err
	}
	res.AddMessages(balanceMsg, createdMsg)
	if err := c.notifyHooks(ctx, deps, res, "created", hash); err != nil {
		return nil, err
	}
	data, err := json.Marshal(hash)
	if err != nil {
		return nil, err
	}
	deps.Logger.Info("task created", "task_hash", hash, "owner", task.Owner, "interval", task.Interval.String())
	return res.SetData(data), nil
}

// notifyHooks tells every registered hook contract about a task event.
// A failing hook does not fail the task operation.
func (c *Contract) notifyHooks(ctx context.Context, deps chain.Deps, res *chain.Response, event, hash string) error {
	return hooksMap.Range(ctx, deps.Storage, store.Bound[string]{}, store.Ascending, func(addr string, _ bool) (bool, error) {
		msg, err := chain.ExecuteMsg(addr, msgs.TaskHookMsg{CroncatTaskHook: &msgs.TaskHookEvent{Event: event, TaskHash: hash}})
		if err != nil {
			return false, err
		}
		res.AddSubMessage(chain.SubMsg{ID: hookReplyID, Msg: msg, ReplyOn: chain.ReplyError})
		return true, nil
	})
}

// Reply swallows hook failures.
func (c *Contract) Reply(ctx context.Context, deps chain.Deps, env chain.Env, reply chain.Reply) (*chain.Response, error) {
	if reply.ID != hookReplyID {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownReplyID, reply.ID)
	}
	deps.Logger.Warn("task hook failed", "err", reply.Result.Err)
	return chain.NewResponse().AddAttribute("action", "hook_failed"), nil
}

func (c *Contract) removeTask(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.TasksConfig, hash string) (*chain.Response, error) {
	task, err := loadTask(ctx, deps.Storage, hash)
	if err != nil {
		return nil, err
	}
	if info.Sender != task.Owner {
		return nil, fmt.Errorf("%w: only the task owner may remove it", core.ErrUnauthorized)
	}
	if err := deleteTask(ctx, deps.Storage, hash, task); err != nil {
		return nil, err
	}
	manager, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatManagerKey)
	if err != nil {
		return nil, err
	}
	refund, err := chain.ExecuteMsg(manager, msgs.ManagerExecuteMsg{RemoveTask: &msgs.ManagerRemoveTask{Sender: task.Owner, TaskHash: hash}})
	if err != nil {
		return nil, err
	}
	res := chain.NewResponse().
		AddAttribute("action", "remove_task").
		AddAttribute("task_hash", hash).
		AddMessage(refund)
	if err := c.notifyHooks(ctx, deps, res, "removed", hash); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Contract) requireManager(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.TasksConfig) error {
	manager, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatManagerKey)
	if err != nil {
		return err
	}
	if info.Sender != manager {
		return fmt.Errorf("%w: only the manager may call task hooks", core.ErrUnauthorized)
	}
	return nil
}

func (c *Contract) removeTaskHook(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.TasksConfig, hash string) (*chain.Response, error) {
	if err := c.requireManager(ctx, deps, info, cfg); err != nil {
		return nil, err
	}
	task, err := loadTask(ctx, deps.Storage, hash)
	if err != nil {
		return nil, err
	}
	if err := deleteTask(ctx, deps.Storage, hash, task); err != nil {
		return nil, err
	}
	res := chain.NewResponse().
		AddAttribute("action", "remove_task_hook").
		AddAttribute("task_hash", hash)
	if err := c.notifyHooks(ctx, deps, res, "removed", hash); err != nil {
		return nil, err
	}
	return res, nil
}

// rescheduleTaskHook moves a recurring task to its next slot, or removes
// it when its boundary has closed. The response data says which.
func (c *Contract) rescheduleTaskHook(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, cfg msgs.TasksConfig, hash string) (*chain.Response, error) {
	if err := c.requireManager(ctx, deps, info, cfg); err != nil {
		return nil, err
	}
	task, err := loadTask(ctx, deps.Storage, hash)
	if err != nil {
		return nil, err
	}
	out := msgs.RescheduleResponse{TaskHash: hash}
	res := chain.NewResponse().
		AddAttribute("action", "reschedule_task").
		AddAttribute("task_hash", hash)

	var (
		slot core.Slot
		ok   bool
	)
	if task.IsRecurring() {
		slot, ok, err = core.NextSlot(task.Interval, task.Boundary, env.Block.Height, env.Block.Time, cfg.SlotGranularityTime)
		if err != nil {
			return nil, err
		}
	}
	if !ok {
		if err := deleteTask(ctx, deps.Storage, hash, task); err != nil {
			return nil, err
		}
		out.TaskRemoved = true
		res.AddAttribute("task_removed", "true")
		if err := c.notifyHooks(ctx, deps, res, "removed", hash); err != nil {
			return nil, err
		}
	} else {
		if task.Slot != nil {
			if err := RemoveFromSlot(ctx, deps.Storage, *task.Slot, hash); err != nil {
				return nil, err
			}
		}
		if err := PushSlot(ctx, deps.Storage, slot, hash); err != nil {
			return nil, err
		}
		task.Slot = &slot
		if err := tasksMap.Save(ctx, deps.Storage, hash, task); err != nil {
			return nil, err
		}
		out.NextSlot = &slot
		res.AddAttribute("slot_id", strconv.FormatUint(slot.Key, 10)).
			AddAttribute("slot_kind", string(slot.Type))
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return res.SetData(data), nil
}

func loadTask(ctx context.Context, kv store.KV, hash string) (core.Task, error) {
	task, err := tasksMap.Load(ctx, kv, hash)
	if errors.Is(err, store.ErrNotFound) {
		return task, fmt.Errorf("%w: %s", core.ErrNoTaskFound, hash)
	}
	return task, err
}

// deleteTask drops a task and every index entry pointing at it.
func deleteTask(ctx context.Context, kv store.KV, hash string, task core.Task) error {
	if task.Slot != nil {
		if err := RemoveFromSlot(ctx, kv, *task.Slot, hash); err != nil {
			return err
		}
	}
	if task.IsEvented() {
		if err := eventedIndex.Remove(ctx, kv, eventedKey(task.Boundary.Start, hash)); err != nil {
			return err
		}
		if err := bump(ctx, kv, eventedTotal, -1); err != nil {
			return err
		}
	}
	if err := ownerIndex.Remove(ctx, kv, store.Pair{A: task.Owner, B: hash}); err != nil {
		return err
	}
	if err := tasksMap.Remove(ctx, kv, hash); err != nil {
		return err
	}
	return bump(ctx, kv, tasksTotal, -1)
}

func bump(ctx context.Context, kv store.KV, item store.Item[uint64], delta int) error {
	n, _, err := item.May(ctx, kv)
	if err != nil {
		return err
	}
	switch {
	case delta < 0 && n < uint64(-delta):
		n = 0
	case delta < 0:
		n -= uint64(-delta)
	default:
		n += uint64(delta)
	}
	return item.Save(ctx, kv, n)
}
