// Package manager implements the contract that holds task deposits, pays
// agents and drives task execution through proxy calls.
package manager

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"cosmossdk.io/math"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

// Defaults for a fresh deployment.
const (
	DefaultNativeDenom        = "ucron"
	DefaultAgentFee    uint64 = 500 // 5%
	DefaultTreasuryFee uint64 = 500

	defaultLimit = 100
	maxLimit     = 250
)

var ErrCw20NotWhitelisted = errors.New("cw20 token not whitelisted")

// Contract is the manager code.
type Contract struct{}

func New() *Contract { return &Contract{} }

func (c *Contract) Instantiate(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.ManagerInstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode instantiate msg: %w", err)
	}
	cfg := msgs.ManagerConfig{
		OwnerAddr:          info.Sender,
		CroncatFactoryAddr: info.Sender,
		CroncatTasksKey:    msg.CroncatTasksKey,
		CroncatAgentsKey:   msg.CroncatAgentsKey,
		AgentFee:           DefaultAgentFee,
		TreasuryFee:        DefaultTreasuryFee,
		GasPrice:           core.DefaultGasPrice(),
		Cw20Whitelist:      []string{},
		NativeDenom:        DefaultNativeDenom,
		Limit:              defaultLimit,
	}
	if msg.GasPrice != nil {
		if err := msg.GasPrice.Validate(); err != nil {
			return nil, err
		}
		cfg.GasPrice = *msg.GasPrice
	}
	if msg.AgentFee != nil {
		cfg.AgentFee = *msg.AgentFee
	}
	if msg.TreasuryFee != nil {
		cfg.TreasuryFee = *msg.TreasuryFee
	}
	if msg.NativeDenom != nil {
		if *msg.NativeDenom == "" {
			return nil, fmt.Errorf("%w: empty native denom", core.ErrInvalidDenom)
		}
		cfg.NativeDenom = *msg.NativeDenom
	}
	if msg.TreasuryAddr != nil {
		addr, err := deps.API.AddrValidate(*msg.TreasuryAddr)
		if err != nil {
			return nil, err
		}
		cfg.TreasuryAddr = &addr
	}
	for _, a := range msg.Cw20Whitelist {
		addr, err := deps.API.AddrValidate(a)
		if err != nil {
			return nil, err
		}
		cfg.Cw20Whitelist = append(cfg.Cw20Whitelist, addr)
	}
	if err := configItem.Save(ctx, deps.Storage, cfg); err != nil {
		return nil, err
	}
	// funds sent at instantiation seed the treasury
	for _, coin := range info.Funds {
		if err := AddBalance(ctx, deps.Storage, availableNative, coin.Denom, coin.Amount); err != nil {
			return nil, err
		}
		if coin.Denom == cfg.NativeDenom {
			if err := addTreasury(ctx, deps.Storage, coin.Amount); err != nil {
				return nil, err
			}
		}
	}
	return chain.NewResponse().
		AddAttribute("action", "instantiate").
		AddAttribute("native_denom", cfg.NativeDenom), nil
}

func (c *Contract) Execute(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.ManagerExecuteMsg
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
	case msg.OwnerWithdraw != nil:
		return c.ownerWithdraw(ctx, deps, info, cfg)
	case msg.AgentWithdraw != nil:
		return c.agentWithdraw(ctx, deps, info, cfg, msg.AgentWithdraw.Args)
	case msg.WithdrawWalletBalances != nil:
		return c.withdrawWallet(ctx, deps, info, msg.WithdrawWalletBalances.Cw20Amounts)
	case msg.RemoveTask != nil:
		return c.removeTask(ctx, deps, info, cfg, msg.RemoveTask)
	}
	if cfg.Paused {
		return nil, core.ErrPaused
	}
	switch {
	case msg.ProxyCall != nil:
		return c.proxyCall(ctx, deps, env, info, cfg, msg.ProxyCall.TaskHash)
	case msg.Receive != nil:
		return c.receive(ctx, deps, info, cfg, msg.Receive)
	case msg.CreateTaskBalance != nil:
		return c.createTaskBalance(ctx, deps, info, cfg, msg.CreateTaskBalance)
	case msg.RefillTaskBalance != nil:
		return c.refillTaskBalance(ctx, deps, info, cfg, msg.RefillTaskBalance.TaskHash)
	default:
		return c.tick(ctx, deps, cfg)
	}
}

func (c *Contract) updateConfig(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.ManagerConfig, msg *msgs.ManagerUpdateConfig) (*chain.Response, error) {
	if info.Sender != cfg.OwnerAddr {
		return nil, core.ErrUnauthorized
	}
	if msg.Paused != nil {
		cfg.Paused = *msg.Paused
	}
	if msg.OwnerAddr != nil {
		addr, err := deps.API.AddrValidate(*msg.OwnerAddr)
		if err != nil {
			return nil, err
		}
		cfg.OwnerAddr = addr
	}
	if msg.AgentFee != nil {
		cfg.AgentFee = *msg.AgentFee
	}
	if msg.TreasuryFee != nil {
		cfg.TreasuryFee = *msg.TreasuryFee
	}
	if msg.GasPrice != nil {
		if err := msg.GasPrice.Validate(); err != nil {
			return nil, err
		}
		cfg.GasPrice = *msg.GasPrice
	}
	if msg.CroncatTasksKey != nil {
		cfg.CroncatTasksKey = *msg.CroncatTasksKey
	}
	if msg.CroncatAgentsKey != nil {
		cfg.CroncatAgentsKey = *msg.CroncatAgentsKey
	}
	if msg.TreasuryAddr != nil {
		addr, err := deps.API.AddrValidate(*msg.TreasuryAddr)
		if err != nil {
			return nil, err
		}
		cfg.TreasuryAddr = &addr
	}
	for _, a := range msg.Cw20Whitelist {
		addr, err := deps.API.AddrValidate(a)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(cfg.Cw20Whitelist, addr) {
			cfg.Cw20Whitelist = append(cfg.Cw20Whitelist, addr)
		}
	}
	if err := configItem.Save(ctx, deps.Storage, cfg); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "update_config").
		AddAttribute("paused", strconv.FormatBool(cfg.Paused)), nil
}

func resolve(ctx context.Context, deps chain.Deps, cfg msgs.ManagerConfig) (tasks, agents string, err error) {
	if tasks, err = core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatTasksKey); err != nil {
		return "", "", err
	}
	if agents, err = core.ResolveContract(ctx, deps.Querier, cfg.CroncatFactoryAddr, cfg.CroncatAgentsKey); err != nil {
		return "", "", err
	}
	return tasks, agents, nil
}

// createTaskBalance takes the deposit Tasks forwarded for a new task.
// Recurring tasks must cover two executions, others one.
func (c *Contract) createTaskBalance(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.ManagerConfig, msg *msgs.CreateTaskBalance) (*chain.Response, error) {
	tasks, _, err := resolve(ctx, deps, cfg)
	if err != nil {
		return nil, err
	}
	if info.Sender != tasks {
		return nil, fmt.Errorf("%w: only the tasks contract may open task balances", core.ErrUnauthorized)
	}
	if len(info.Funds) == 0 && msg.Cw20 == nil {
		return nil, core.ErrMustAttach
	}
	bal := msgs.TaskBalance{NativeBalance: math.ZeroInt()}
	for _, coin := range info.Funds {
		switch {
		case coin.IsZero():
			continue
		case coin.Denom == cfg.NativeDenom:
			bal.NativeBalance = bal.NativeBalance.Add(coin.Amount)
		case bal.IbcBalance == nil:
			cp := coin
			bal.IbcBalance = &cp
		default:
			return nil, fmt.Errorf("%w: at most one non-native denom, got %s and %s", core.ErrInvalidDenom, bal.IbcBalance.Denom, coin.Denom)
		}
	}
	if msg.Cw20 != nil {
		if !slices.Contains(cfg.Cw20Whitelist, msg.Cw20.Address) {
			return nil, fmt.Errorf("%w: %s", ErrCw20NotWhitelisted, msg.Cw20.Address)
		}
		err := SubBalance(ctx, deps.Storage, userBalances, store.Pair{A: msg.Sender, B: msg.Cw20.Address}, msg.Cw20.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", core.ErrNotEnoughCw20, err)
		}
		cw := *msg.Cw20
		bal.Cw20Balance = &cw
	}

	one, err := perExecution(msg.AmountForOneTask, cfg.NativeDenom)
	if err != nil {
		return nil, err
	}
	mult := uint64(1)
	if msg.Recurring {
		mult = 2
	}
	need, err := one.times(mult)
	if err != nil {
		return nil, err
	}
	if err := debitTask(ptr(cloneBalance(bal)), cfg.NativeDenom, need); err != nil {
		return nil, err
	}

	for _, coin := range info.Funds {
		if err := AddBalance(ctx, deps.Storage, availableNative, coin.Denom, coin.Amount); err != nil {
			return nil, err
		}
	}
	if err := taskBalances.Save(ctx, deps.Storage, msg.TaskHash, bal); err != nil {
		return nil, err
	}
	if err := taskOwners.Save(ctx, deps.Storage, msg.TaskHash, msg.Sender); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "create_task_balance").
		AddAttribute("task_hash", msg.TaskHash).
		AddAttribute("native_balance", bal.NativeBalance.String()), nil
}

func ptr[T any](v T) *T { return &v }

func (c *Contract) refillTaskBalance(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.ManagerConfig, hash string) (*chain.Response, error) {
	if len(info.Funds) == 0 {
		return nil, core.ErrMustAttach
	}
	bal, err := c.ownedBalance(ctx, deps, info.Sender, hash)
	if err != nil {
		return nil, err
	}
	for _, coin := range info.Funds {
		switch {
		case coin.IsZero():
			continue
		case coin.Denom == cfg.NativeDenom:
			bal.NativeBalance = core.OrZero(bal.NativeBalance).Add(coin.Amount)
		case bal.IbcBalance != nil && bal.IbcBalance.Denom == coin.Denom:
			bal.IbcBalance.Amount = bal.IbcBalance.Amount.Add(coin.Amount)
		case bal.IbcBalance == nil:
			cp := coin
			bal.IbcBalance = &cp
		default:
			return nil, fmt.Errorf("%w: task already holds %s", core.ErrInvalidDenom, bal.IbcBalance.Denom)
		}
		if err := AddBalance(ctx, deps.Storage, availableNative, coin.Denom, coin.Amount); err != nil {
			return nil, err
		}
	}
	if err := taskBalances.Save(ctx, deps.Storage, hash, bal); err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "refill_native_balance").
		AddAttribute("task_hash", hash), nil
}

func (c *Contract) ownedBalance(ctx context.Context, deps chain.Deps, sender, hash string) (msgs.TaskBalance, error) {
	owner, ok, err := taskOwners.May(ctx, deps.Storage, hash)
	if err != nil {
		return msgs.TaskBalance{}, err
	}
	if !ok {
		return msgs.TaskBalance{}, fmt.Errorf("%w: %s", core.ErrNoTaskFound, hash)
	}
	if owner != sender {
		return msgs.TaskBalance{}, fmt.Errorf("%w: only the task owner may refill", core.ErrUnauthorized)
	}
	return taskBalances.Load(ctx, deps.Storage, hash)
}

// receive handles tokens sent by a whitelisted cw20 contract.
func (c *Contract) receive(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.ManagerConfig, msg *msgs.Cw20ReceiveMsg) (*chain.Response, error) {
	token := info.Sender
	if !slices.Contains(cfg.Cw20Whitelist, token) {
		return nil, fmt.Errorf("%w: %s", ErrCw20NotWhitelisted, token)
	}
	amount := core.OrZero(msg.Amount)
	if amount.IsZero() {
		return nil, core.ErrMustAttach
	}
	var inner msgs.ManagerReceiveMsg
	if len(msg.Msg) > 0 && string(msg.Msg) != "null" && string(msg.Msg) != "{}" {
		if err := msgs.Decode(msg.Msg, &inner); err != nil {
			return nil, err
		}
	}
	res := chain.NewResponse().AddAttribute("action", "receive_cw20").AddAttribute("cw20_addr", token)
	if inner.RefillTaskBalance != nil {
		hash := inner.RefillTaskBalance.TaskHash
		bal, err := c.ownedBalance(ctx, deps, msg.Sender, hash)
		if err != nil {
			return nil, err
		}
		switch {
		case bal.Cw20Balance == nil:
			bal.Cw20Balance = &core.Cw20Coin{Address: token, Amount: amount}
		case bal.Cw20Balance.Address == token:
			bal.Cw20Balance.Amount = bal.Cw20Balance.Amount.Add(amount)
		default:
			return nil, fmt.Errorf("%w: task already holds %s", core.ErrInvalidDenom, bal.Cw20Balance.Address)
		}
		if err := taskBalances.Save(ctx, deps.Storage, hash, bal); err != nil {
			return nil, err
		}
		res.AddAttribute("task_hash", hash)
	} else {
		if err := AddBalance(ctx, deps.Storage, userBalances, store.Pair{A: msg.Sender, B: token}, amount); err != nil {
			return nil, err
		}
		res.AddAttribute("wallet", msg.Sender)
	}
	if err := AddBalance(ctx, deps.Storage, availableCw20, token, amount); err != nil {
		return nil, err
	}
	return res.AddAttribute("amount", amount.String()), nil
}

func (c *Contract) withdrawWallet(ctx context.Context, deps chain.Deps, info chain.MessageInfo, amounts []core.Cw20Coin) (*chain.Response, error) {
	if len(amounts) == 0 {
		return nil, core.ErrEmptyBalance
	}
	res := chain.NewResponse().AddAttribute("action", "withdraw_wallet_balances")
	for _, cw := range amounts {
		if err := SubBalance(ctx, deps.Storage, userBalances, store.Pair{A: info.Sender, B: cw.Address}, cw.Amount); err != nil {
			return nil, err
		}
		if err := SubBalance(ctx, deps.Storage, availableCw20, cw.Address, cw.Amount); err != nil {
			return nil, err
		}
		transfer, err := chain.ExecuteMsg(cw.Address, msgs.Cw20ExecuteMsg{Transfer: &msgs.Cw20Transfer{Recipient: info.Sender, Amount: cw.Amount}})
		if err != nil {
			return nil, err
		}
		res.AddMessage(transfer)
	}
	return res, nil
}

// removeTask refunds a task its owner removed through Tasks.
func (c *Contract) removeTask(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.ManagerConfig, msg *msgs.ManagerRemoveTask) (*chain.Response, error) {
	tasks, _, err := resolve(ctx, deps, cfg)
	if err != nil {
		return nil, err
	}
	if info.Sender != tasks {
		return nil, fmt.Errorf("%w: only the tasks contract may remove task balances", core.ErrUnauthorized)
	}
	refund, err := refundTask(ctx, deps.Storage, cfg, msg.TaskHash, msg.Sender)
	if err != nil {
		return nil, err
	}
	return chain.NewResponse().
		AddAttribute("action", "remove_task").
		AddAttribute("task_hash", msg.TaskHash).
		AddMessages(refund...), nil
}

// refundTask closes a task balance and returns the messages paying it back
// to owner. A task without a balance refunds nothing.
func refundTask(ctx context.Context, kv store.KV, cfg msgs.ManagerConfig, hash, owner string) ([]chain.CosmosMsg, error) {
	bal, ok, err := taskBalances.May(ctx, kv, hash)
	if err != nil || !ok {
		return nil, err
	}
	if err := taskBalances.Remove(ctx, kv, hash); err != nil {
		return nil, err
	}
	if err := taskOwners.Remove(ctx, kv, hash); err != nil {
		return nil, err
	}
	var (
		out   []chain.CosmosMsg
		coins []chain.Coin
	)
	if native := core.OrZero(bal.NativeBalance); !native.IsZero() {
		coins = append(coins, chain.Coin{Denom: cfg.NativeDenom, Amount: native})
	}
	if bal.IbcBalance != nil && !bal.IbcBalance.IsZero() {
		coins = append(coins, *bal.IbcBalance)
	}
	released := spend{Coins: coins}
	if len(coins) > 0 {
		out = append(out, chain.BankSendMsg(owner, coins...))
	}
	if bal.Cw20Balance != nil && !core.OrZero(bal.Cw20Balance.Amount).IsZero() {
		transfer, err := chain.ExecuteMsg(bal.Cw20Balance.Address, msgs.Cw20ExecuteMsg{Transfer: &msgs.Cw20Transfer{
			Recipient: owner,
			Amount:    bal.Cw20Balance.Amount,
		}})
		if err != nil {
			return nil, err
		}
		out = append(out, transfer)
		released.Cw20 = bal.Cw20Balance
	}
	if err := releaseAvailable(ctx, kv, released); err != nil {
		return nil, err
	}
	return out, nil
}

// agentWithdraw pays out an agent's rewards. Agents passes args when it
// removes an agent; otherwise the sender withdraws its own rewards to its
// payable account.
func (c *Contract) agentWithdraw(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.ManagerConfig, args *msgs.AgentWithdrawOnRemoval) (*chain.Response, error) {
	_, agents, err := resolve(ctx, deps, cfg)
	if err != nil {
		return nil, err
	}
	var agent, payable string
	if args != nil {
		if info.Sender != agents {
			return nil, fmt.Errorf("%w: only the agents contract may withdraw for an agent", core.ErrUnauthorized)
		}
		agent, payable = args.AgentID, args.PayableAccountID
	} else {
		var resp msgs.AgentResponse
		if err := chain.QueryJSON(ctx, deps.Querier, agents, msgs.AgentsQueryMsg{GetAgent: &msgs.AccountQuery{AccountID: info.Sender}}, &resp); err != nil {
			return nil, err
		}
		if resp.Agent == nil {
			return nil, fmt.Errorf("%w: %s", core.ErrAgentNotRegistered, info.Sender)
		}
		agent, payable = info.Sender, resp.Agent.PayableAccountID
	}
	res := chain.NewResponse().
		AddAttribute("action", "withdraw_rewards").
		AddAttribute("agent_id", agent)
	reward, ok, err := agentRewards.May(ctx, deps.Storage, agent)
	if err != nil {
		return nil, err
	}
	if !ok || reward.IsZero() {
		if args != nil {
			return res.AddAttribute("amount", "0"), nil
		}
		return nil, fmt.Errorf("%w: no rewards for %s", core.ErrEmptyBalance, agent)
	}
	if err := agentRewards.Remove(ctx, deps.Storage, agent); err != nil {
		return nil, err
	}
	if err := SubBalance(ctx, deps.Storage, availableNative, cfg.NativeDenom, reward); err != nil {
		return nil, err
	}
	deps.Logger.Info("agent rewards withdrawn", "agent", agent, "amount", reward.String())
	return res.
		AddAttribute("payable_account_id", payable).
		AddAttribute("amount", reward.String()).
		AddMessage(chain.BankSendMsg(payable, chain.Coin{Denom: cfg.NativeDenom, Amount: reward})), nil
}

func (c *Contract) ownerWithdraw(ctx context.Context, deps chain.Deps, info chain.MessageInfo, cfg msgs.ManagerConfig) (*chain.Response, error) {
	if info.Sender != cfg.OwnerAddr {
		return nil, core.ErrUnauthorized
	}
	amount, ok, err := treasury.May(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	if !ok || amount.IsZero() {
		return nil, fmt.Errorf("%w: treasury is empty", core.ErrEmptyBalance)
	}
	if err := treasury.Remove(ctx, deps.Storage); err != nil {
		return nil, err
	}
	if err := SubBalance(ctx, deps.Storage, availableNative, cfg.NativeDenom, amount); err != nil {
		return nil, err
	}
	to := cfg.OwnerAddr
	if cfg.TreasuryAddr != nil {
		to = *cfg.TreasuryAddr
	}
	return chain.NewResponse().
		AddAttribute("action", "owner_withdraw").
		AddAttribute("amount", amount.String()).
		AddMessage(chain.BankSendMsg(to, chain.Coin{Denom: cfg.NativeDenom, Amount: amount})), nil
}

func addTreasury(ctx context.Context, kv store.KV, amount math.Int) error {
	cur, _, err := treasury.May(ctx, kv)
	if err != nil {
		return err
	}
	sum, err := core.CheckedAdd(cur, amount)
	if err != nil {
		return err
	}
	return treasury.Save(ctx, kv, sum)
}

// tick forwards to Agents so anyone can trigger agent ejection.
func (c *Contract) tick(ctx context.Context, deps chain.Deps, cfg msgs.ManagerConfig) (*chain.Response, error) {
	_, agents, err := resolve(ctx, deps, cfg)
	if err != nil {
		return nil, err
	}
	msg, err := chain.ExecuteMsg(agents, msgs.AgentsExecuteMsg{Tick: &msgs.Empty{}})
	if err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", "tick").AddMessage(msg), nil
}
