package deploytest

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stretchr/testify/require"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/store"
)

var (
	oracleState = store.NewItem[OracleState]("oracle")
	recorded    = store.NewItem[[]json.RawMessage]("recorded")
)

// OracleState is what the oracle answers croncat queries with.
type OracleState struct {
	Ready bool            `json:"ready"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OracleMsg sets the answer, records a value, or fails on purpose.
type OracleMsg struct {
	Set    *OracleState     `json:"set,omitempty"`
	Record *json.RawMessage `json:"record,omitempty"`
	Fail   *struct{}        `json:"fail,omitempty"`
}

type OracleQuery struct {
	Check    *struct{} `json:"check,omitempty"`
	Recorded *struct{} `json:"recorded,omitempty"`
}

// oracle is a tiny contract tasks can query and call.
type oracle struct{}

func (oracle) Instantiate(ctx context.Context, deps chain.Deps, _ chain.Env, _ chain.MessageInfo, _ json.RawMessage) (*chain.Response, error) {
	return chain.NewResponse(), oracleState.Save(ctx, deps.Storage, OracleState{})
}

func (oracle) Execute(ctx context.Context, deps chain.Deps, _ chain.Env, _ chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg OracleMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	switch {
	case msg.Set != nil:
		return chain.NewResponse(), oracleState.Save(ctx, deps.Storage, *msg.Set)
	case msg.Record != nil:
		got, _, err := recorded.May(ctx, deps.Storage)
		if err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttribute("recorded", string(*msg.Record)), recorded.Save(ctx, deps.Storage, append(got, *msg.Record))
	case msg.Fail != nil:
		return nil, errors.New("oracle asked to fail")
	}
	return nil, errors.New("unknown oracle msg")
}

func (oracle) Query(ctx context.Context, deps chain.Deps, _ chain.Env, raw json.RawMessage) ([]byte, error) {
	var q OracleQuery
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, err
	}
	if q.Recorded != nil {
		got, _, err := recorded.May(ctx, deps.Storage)
		if err != nil {
			return nil, err
		}
		return json.Marshal(got)
	}
	st, err := oracleState.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	return json.Marshal(core.QueryResult{Result: st.Ready, Data: st.Data})
}

// Oracle deploys a fresh oracle and returns its address.
func (e *Env) Oracle() string {
	e.T.Helper()
	code := e.App.StoreCode(oracle{})
	addr, err := e.App.Instantiate(e.Ctx, Owner, code, struct{}{}, nil, "oracle", nil)
	require.NoError(e.T, err)
	return addr
}

// Recorded returns every value the oracle was asked to record.
func (e *Env) Recorded(oracleAddr string) []json.RawMessage {
	e.T.Helper()
	var out []json.RawMessage
	e.Query(oracleAddr, OracleQuery{Recorded: &struct{}{}}, &out)
	return out
}

// OracleCall is a wasm action calling the oracle with a gas limit.
func OracleCall(addr string, msg OracleMsg) core.Action {
	raw, _ := json.Marshal(msg)
	gas := uint64(200_000)
	return core.Action{
		Msg:      chain.CosmosMsg{Wasm: &chain.WasmMsg{Execute: &chain.WasmExecute{ContractAddr: addr, Msg: raw, Funds: []chain.Coin{}}}},
		GasLimit: &gas,
	}
}
