package tasks

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
)

func testBuild(t *testing.T, req core.TaskRequest) (core.Task, error) {
	t.Helper()
	deps := chain.Deps{API: chain.DefaultAPI(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	env := chain.Env{Block: chain.BlockInfo{Height: 100, Time: 1_000_000_000_000}}
	env.Contract.Address = "croncat1tasks"
	cfg := msgs.TasksConfig{
		Version:             "0.1",
		SlotGranularityTime: DefaultSlotGranularityTime,
		GasBaseFee:          DefaultGasBaseFee,
		GasActionFee:        DefaultGasActionFee,
		GasQueryFee:         DefaultGasQueryFee,
		GasLimit:            DefaultGasLimit,
	}
	sib := siblings{factory: "croncat1factory", manager: "croncat1manager", agents: "croncat1agents", tasks: "croncat1tasks"}
	fees := msgs.ManagerConfig{AgentFee: 500, TreasuryFee: 500, GasPrice: core.DefaultGasPrice()}
	return buildTask(deps, env, cfg, sib, fees, "croncat1alice", req)
}

func wasm(contract string, msg string, gas uint64, funds ...chain.Coin) core.Action {
	return core.Action{
		Msg: chain.CosmosMsg{Wasm: &chain.WasmMsg{Execute: &chain.WasmExecute{
			ContractAddr: contract,
			Msg:          json.RawMessage(msg),
			Funds:        funds,
		}}},
		GasLimit: &gas,
	}
}

func bank(to string, coins ...chain.Coin) core.Action {
	return core.Action{Msg: chain.BankSendMsg(to, coins...)}
}

func TestBuildTaskAcceptsWhitelistedActions(t *testing.T) {
	task, err := testBuild(t, core.TaskRequest{
		Interval: core.BlockInterval(10),
		Actions: []core.Action{
			bank("croncat1bob", chain.NewCoin("ucron", 10)),
			bank("croncat1bob", chain.NewCoin("uatom", 3)),
			wasm("croncat1token", `{"transfer":{"recipient":"croncat1bob","amount":"7"}}`, 150_000),
			wasm("croncat1token", `{"send":{"contract":"croncat1pool","amount":"2","msg":""}}`, 150_000, chain.NewCoin("ucron", 1)),
			wasm("croncat1dex", `{"swap":{}}`, 100_000),
		},
		Queries: []core.CosmosQuery{{Wasm: &core.WasmSmartQuery{ContractAddr: "croncat1dex", Msg: json.RawMessage(`{"price":{}}`)}}},
	})
	require.NoError(t, err)

	amt := task.AmountForOneTask
	want := DefaultGasBaseFee + 2*DefaultGasActionFee + 150_000 + 150_000 + 100_000 + DefaultGasQueryFee
	require.Equal(t, want, amt.Gas)
	require.Equal(t, "ucron", amt.Coin[0].Denom)
	require.Equal(t, int64(11), amt.Coin[0].Amount.Int64())
	require.Equal(t, "uatom", amt.Coin[1].Denom)
	require.Equal(t, core.Cw20Coin{Address: "croncat1token", Amount: math.NewInt(9)}, *amt.Cw20)
	require.Equal(t, uint64(100), task.Boundary.Start)
	require.True(t, task.Boundary.IsBlockBoundary)
}

func TestBuildTaskRejects(t *testing.T) {
	tests := []struct {
		name    string
		actions []core.Action
		queries []core.CosmosQuery
		want    error
	}{
		{"no actions", nil, nil, core.ErrInvalidAction},
		{"bank two coins", []core.Action{bank("croncat1bob", chain.NewCoin("ucron", 1), chain.NewCoin("uatom", 1))}, nil, core.ErrInvalidAction},
		{"bank zero", []core.Action{bank("croncat1bob", chain.NewCoin("ucron", 0))}, nil, core.ErrInvalidAction},
		{"bad address", []core.Action{bank("Not An Address", chain.NewCoin("ucron", 1))}, nil, core.ErrInvalidAction},
		{"third denom", []core.Action{
			bank("croncat1bob", chain.NewCoin("ucron", 1)),
			bank("croncat1bob", chain.NewCoin("uatom", 1)),
			bank("croncat1bob", chain.NewCoin("uosmo", 1)),
		}, nil, core.ErrInvalidAction},
		{"second cw20", []core.Action{
			wasm("croncat1token", `{"transfer":{"recipient":"croncat1bob","amount":"1"}}`, 100_000),
			wasm("croncat1other", `{"transfer":{"recipient":"croncat1bob","amount":"1"}}`, 100_000),
		}, nil, core.ErrInvalidAction},
		{"transfer_from", []core.Action{wasm("croncat1token", `{"transfer_from":{"owner":"croncat1x","recipient":"croncat1bob","amount":"1"}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"increase_allowance", []core.Action{wasm("croncat1token", `{"increase_allowance":{"spender":"croncat1x","amount":"1"}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"cw20 burn", []core.Action{wasm("croncat1token", `{"burn":{"amount":"100"}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"cw20 mint", []core.Action{wasm("croncat1token", `{"mint":{"recipient":"croncat1alice","amount":"100"}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"cw20 transfer without recipient", []core.Action{wasm("croncat1token", `{"transfer":{"amount":"5"}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"cw20 transfer bad amount", []core.Action{wasm("croncat1token", `{"transfer":{"recipient":"croncat1bob","amount":"lots"}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"cw20 send without contract", []core.Action{wasm("croncat1token", `{"send":{"amount":"5","msg":""}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"cw20 transfer zero", []core.Action{wasm("croncat1token", `{"transfer":{"recipient":"croncat1bob","amount":"0"}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"zero wasm funds", []core.Action{wasm("croncat1dex", `{"swap":{}}`, 100_000, chain.NewCoin("ucron", 0))}, nil, core.ErrInvalidAction},
		{"calls manager", []core.Action{wasm("croncat1manager", `{"tick":{}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"calls itself", []core.Action{wasm("croncat1tasks", `{"remove_task":{"task_hash":"x"}}`, 100_000)}, nil, core.ErrInvalidAction},
		{"no gas limit", []core.Action{{Msg: chain.CosmosMsg{Wasm: &chain.WasmMsg{Execute: &chain.WasmExecute{ContractAddr: "croncat1dex", Msg: json.RawMessage(`{}`)}}}}}, nil, core.ErrNoGasLimit},
		{"over gas ceiling", []core.Action{wasm("croncat1dex", `{}`, DefaultGasLimit)}, nil, core.ErrInvalidGas},
		{"instantiate", []core.Action{{Msg: chain.CosmosMsg{Wasm: &chain.WasmMsg{Instantiate: &chain.WasmInstantiate{CodeID: 1, Label: "x"}}}}}, nil, core.ErrInvalidAction},
		{"empty query", []core.Action{bank("croncat1bob", chain.NewCoin("ucron", 1))}, []core.CosmosQuery{{}}, core.ErrInvalidQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := testBuild(t, core.TaskRequest{Interval: core.OnceInterval(), Actions: tt.actions, Queries: tt.queries})
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestBuildTaskRejectsDanglingTransform(t *testing.T) {
	_, err := testBuild(t, core.TaskRequest{
		Interval:   core.OnceInterval(),
		Actions:    []core.Action{wasm("croncat1dex", `{"swap":{}}`, 100_000)},
		Transforms: []core.Transform{{ActionIdx: 0, QueryIdx: 0}},
	})
	require.ErrorIs(t, err, core.ErrInvalidQuery)
}
