package tasks

import (
	"context"
	"fmt"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
)

// siblings are the croncat contracts a task may not call.
type siblings struct {
	factory string
	manager string
	agents  string
	tasks   string
}

func (s siblings) contains(addr string) bool {
	return addr == s.factory || addr == s.manager || addr == s.agents || addr == s.tasks
}

func resolveSiblings(ctx context.Context, deps chain.Deps, env chain.Env, cfg msgs.TasksConfig) (siblings, error) {
	manager, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatManagerKey)
	if err != nil {
		return siblings{}, err
	}
	agents, err := core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatAgentsKey)
	if err != nil {
		return siblings{}, err
	}
	return siblings{
		factory: cfg.CroncatFactoryAddr,
		manager: manager,
		agents:  agents,
		tasks:   env.Contract.Address,
	}, nil
}

// buildTask validates req and prices one execution of it. fees carries
// the manager's fee rates and gas price.
func buildTask(deps chain.Deps, env chain.Env, cfg msgs.TasksConfig, sib siblings, fees msgs.ManagerConfig, owner string, req core.TaskRequest) (core.Task, error) {
	if err := req.Interval.Validate(); err != nil {
		return core.Task{}, err
	}
	boundary, err := core.ValidateBoundary(env.Block, req.Boundary, req.Interval)
	if err != nil {
		return core.Task{}, err
	}
	if len(req.Actions) == 0 {
		return core.Task{}, fmt.Errorf("%w: task has no actions", core.ErrInvalidAction)
	}
	amount := core.AmountForOneTask{
		AgentFee:    fees.AgentFee,
		TreasuryFee: fees.TreasuryFee,
		GasPrice:    fees.GasPrice,
	}
	if err := amount.AddGas(cfg.GasBaseFee); err != nil {
		return core.Task{}, err
	}
	for i, action := range req.Actions {
		if err := addActionCost(deps, cfg, sib, &amount, action); err != nil {
			return core.Task{}, fmt.Errorf("action %d: %w", i, err)
		}
	}
	for i, q := range req.Queries {
		if err := validateQuery(deps, q); err != nil {
			return core.Task{}, fmt.Errorf("query %d: %w", i, err)
		}
		if err := amount.AddGas(cfg.GasQueryFee); err != nil {
			return core.Task{}, err
		}
	}
	for i, t := range req.Transforms {
		if t.ActionIdx >= uint64(len(req.Actions)) {
			return core.Task{}, fmt.Errorf("%w: transform %d targets missing action %d", core.ErrInvalidAction, i, t.ActionIdx)
		}
		if t.QueryIdx >= uint64(len(req.Queries)) {
			return core.Task{}, fmt.Errorf("%w: transform %d reads missing query %d", core.ErrInvalidQuery, i, t.QueryIdx)
		}
	}
	if amount.Gas > cfg.GasLimit {
		return core.Task{}, fmt.Errorf("%w: %d > %d", core.ErrInvalidGas, amount.Gas, cfg.GasLimit)
	}
	return core.Task{
		Owner:            owner,
		Interval:         req.Interval,
		Boundary:         boundary,
		StopOnFail:       req.StopOnFail,
		AmountForOneTask: amount,
		Actions:          req.Actions,
		Queries:          req.Queries,
		Transforms:       req.Transforms,
		Version:          cfg.Version,
	}, nil
}

func addActionCost(deps chain.Deps, cfg msgs.TasksConfig, sib siblings, amount *core.AmountForOneTask, action core.Action) error {
	cost, err := core.CostOf(action.Msg)
	if err != nil {
		return err
	}
	gas := cfg.GasActionFee
	switch {
	case action.Msg.Wasm != nil:
		exec := action.Msg.Wasm.Execute
		if action.GasLimit == nil {
			return core.ErrNoGasLimit
		}
		if _, err := deps.API.AddrValidate(exec.ContractAddr); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidAction, err)
		}
		if sib.contains(exec.ContractAddr) {
			return fmt.Errorf("%w: actions may not call croncat contracts", core.ErrInvalidAction)
		}
		gas = *action.GasLimit
	case action.Msg.Bank != nil:
		if _, err := deps.API.AddrValidate(action.Msg.Bank.Send.ToAddress); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidAction, err)
		}
		if action.GasLimit != nil {
			gas = *action.GasLimit
		}
	}
	if err := amount.AddGas(gas); err != nil {
		return err
	}
	for _, c := range cost.Coins {
		ok, err := amount.AddCoin(c)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: more than two denominations", core.ErrInvalidAction)
		}
	}
	if cost.Cw20 != nil {
		ok, err := amount.AddCw20(*cost.Cw20)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: more than one cw20 token", core.ErrInvalidAction)
		}
	}
	return nil
}

func validateQuery(deps chain.Deps, q core.CosmosQuery) error {
	switch {
	case q.Croncat != nil && q.Wasm == nil:
		_, err := deps.API.AddrValidate(q.Croncat.ContractAddr)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidQuery, err)
		}
	case q.Wasm != nil && q.Croncat == nil:
		_, err := deps.API.AddrValidate(q.Wasm.ContractAddr)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidQuery, err)
		}
	default:
		return fmt.Errorf("%w: exactly one of croncat or wasm must be set", core.ErrInvalidQuery)
	}
	return nil
}
