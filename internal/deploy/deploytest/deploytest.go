// Package deploytest stands up a full croncat stack on an in-memory host
// for contract tests.
package deploytest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/deploy"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

const (
	Owner = "croncat1owner"
	Denom = "ucron"
	Alice = "croncat1alice"
	Bob   = "croncat1bob"
)

// Env is a deployed stack plus helpers.
type Env struct {
	T   *testing.T
	Ctx context.Context
	App *chain.App
	*deploy.Deployment
}

// Option tweaks the instantiate params before bootstrap.
type Option func(*deploy.Params)

// New deploys factory, manager, tasks and agents and funds the well-known
// test accounts.
func New(t *testing.T, opts ...Option) *Env {
	t.Helper()
	ctx := context.Background()
	app, err := chain.NewApp(ctx, store.NewMemoryKV(), chain.Options{})
	require.NoError(t, err)
	codes := deploy.StoreCodes(app)
	minCoins := uint64(1_000)
	p := deploy.Params{
		Owner:  Owner,
		Agents: msgs.AgentsInstantiateMsg{MinCoinsForAgentRegistration: &minCoins},
	}
	for _, o := range opts {
		o(&p)
	}
	d, err := deploy.Bootstrap(ctx, app, codes, p, nil)
	require.NoError(t, err)
	env := &Env{T: t, Ctx: ctx, App: app, Deployment: d}
	for _, acct := range []string{Owner, Alice, Bob} {
		env.Mint(acct, 100_000_000)
	}
	return env
}

func (e *Env) Mint(addr string, amount uint64) {
	e.T.Helper()
	require.NoError(e.T, e.App.Mint(e.Ctx, addr, chain.NewCoin(Denom, amount)))
}

func (e *Env) Balance(addr string) uint64 {
	e.T.Helper()
	c, err := e.App.Balance(e.Ctx, addr, Denom)
	require.NoError(e.T, err)
	return core.OrZero(c.Amount).Uint64()
}

func (e *Env) Execute(sender, contract string, msg any, funds ...chain.Coin) (*chain.TxResult, error) {
	return e.App.Execute(e.Ctx, sender, contract, msg, funds...)
}

func (e *Env) MustExecute(sender, contract string, msg any, funds ...chain.Coin) *chain.TxResult {
	e.T.Helper()
	res, err := e.Execute(sender, contract, msg, funds...)
	require.NoError(e.T, err)
	return res
}

func (e *Env) Query(contract string, msg, out any) {
	e.T.Helper()
	require.NoError(e.T, e.App.QueryJSON(e.Ctx, contract, msg, out))
}

// Advance moves the chain n blocks forward, five seconds apart.
func (e *Env) Advance(n uint64) chain.BlockInfo {
	e.T.Helper()
	b, err := e.App.AdvanceBlocks(e.Ctx, n, 5*time.Second)
	require.NoError(e.T, err)
	return b
}

// CreateTask submits req as owner and returns the new task hash.
func (e *Env) CreateTask(owner string, req core.TaskRequest, funds ...chain.Coin) string {
	e.T.Helper()
	res := e.MustExecute(owner, e.Tasks, msgs.TasksExecuteMsg{CreateTask: &msgs.CreateTask{Task: req}}, funds...)
	var hash string
	require.NoError(e.T, json.Unmarshal(res.Data, &hash))
	return hash
}

// RegisterAgent registers agent with itself as payable account.
func (e *Env) RegisterAgent(agent string) {
	e.T.Helper()
	e.MustExecute(agent, e.Agents, msgs.AgentsExecuteMsg{RegisterAgent: &msgs.RegisterAgent{}})
}

func (e *Env) Task(hash string) *core.TaskInfo {
	e.T.Helper()
	var resp core.TaskResponse
	e.Query(e.Tasks, msgs.TasksQueryMsg{Task: &msgs.TaskHashMsg{TaskHash: hash}}, &resp)
	return resp.Task
}

func (e *Env) TaskBalance(hash string) *msgs.TaskBalance {
	e.T.Helper()
	var resp msgs.TaskBalanceResponse
	e.Query(e.Manager, msgs.ManagerQueryMsg{TaskBalance: &msgs.TaskHashMsg{TaskHash: hash}}, &resp)
	return resp.Balance
}

// BankSend is a single bank send action.
func BankSend(to string, amount uint64) core.Action {
	return core.Action{Msg: chain.BankSendMsg(to, chain.NewCoin(Denom, amount))}
}

func Coins(amount uint64) chain.Coin { return chain.NewCoin(Denom, amount) }

// Admin sends msg to a croncat module through the factory proxy, the way
// the factory owner changes module configuration.
func (e *Env) Admin(contract string, msg any) *chain.TxResult {
	e.T.Helper()
	exec, err := chain.ExecuteMsg(contract, msg)
	require.NoError(e.T, err)
	return e.MustExecute(Owner, e.Factory, msgs.FactoryExecuteMsg{Proxy: &msgs.FactoryProxy{Msg: *exec.Wasm.Execute}})
}
