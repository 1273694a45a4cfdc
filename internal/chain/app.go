package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"croncat/internal/metrics"
	"croncat/internal/observability"
	"croncat/internal/store"
)

// Defaults mirror a freshly started local chain.
const (
	DefaultChainID     = "croncat-local-1"
	DefaultAddrPrefix  = "croncat"
	DefaultHeight      = 12345
	DefaultGenesisTime = 1571797419879305533
)

var (
	blockItem    = store.NewItem[BlockInfo]("host/block")
	contractSeq  = store.NewItem[uint64]("host/contract_seq")
	contractsMap = store.NewMap[string, ContractInstance]("host/contracts", store.StringKey{})
)

// Options configures an App.
type Options struct {
	ChainID     string
	AddrPrefix  string
	Height      uint64
	GenesisTime uint64
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
	Tracer      *observability.TracerProvider
}

// TxResult is the outcome of a committed transaction.
type TxResult struct {
	Height uint64  `json:"height"`
	Events []Event `json:"events"`
	Data   []byte  `json:"data,omitempty"`
}

// Event returns the first event of the given type carrying attribute key=value.
func (r *TxResult) Event(typ, key, value string) (Event, bool) {
	for _, e := range r.Events {
		if e.Type != typ {
			continue
		}
		if v, ok := e.Attr(key); ok && v == value {
			return e, true
		}
	}
	return Event{}, false
}

// App is the deterministic host: it owns the root store, executes one
// transaction at a time and commits only when the whole call tree succeeds.
type App struct {
	mu    sync.Mutex
	root  store.KV
	codes map[uint64]Contract
	block BlockInfo

	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  *observability.TracerProvider

	listenerMu  sync.RWMutex
	txListeners []func(TxResult)
	blockSubs   []func(BlockInfo)
}

// NewApp opens a host on top of root, resuming the persisted block when present.
func NewApp(ctx context.Context, root store.KV, opts Options) (*App, error) {
	if opts.ChainID == "" {
		opts.ChainID = DefaultChainID
	}
	if opts.AddrPrefix == "" {
		opts.AddrPrefix = DefaultAddrPrefix
	}
	if opts.Height == 0 {
		opts.Height = DefaultHeight
	}
	if opts.GenesisTime == 0 {
		opts.GenesisTime = DefaultGenesisTime
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	a := &App{
		root:    root,
		codes:   make(map[uint64]Contract),
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		tracer:  opts.Tracer,
	}
	block, ok, err := blockItem.May(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("load block: %w", err)
	}
	if !ok {
		block = BlockInfo{Height: opts.Height, Time: opts.GenesisTime, ChainID: opts.ChainID}
		if err := blockItem.Save(ctx, root, block); err != nil {
			return nil, fmt.Errorf("save genesis block: %w", err)
		}
	}
	a.block = block
	a.metrics.SetBlockHeight(block.Height)
	return a, nil
}

// StoreCode registers contract code and returns its code id. Code ids are
// assigned in call order, so a restarted host must register code in the
// same order.
func (a *App) StoreCode(c Contract) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := uint64(len(a.codes) + 1)
	a.codes[id] = c
	return id
}

// Block returns the current block.
func (a *App) Block() BlockInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.block
}

// AdvanceBlocks produces n empty blocks spaced by interval.
func (a *App) AdvanceBlocks(ctx context.Context, n uint64, interval time.Duration) (BlockInfo, error) {
	if n == 0 {
		n = 1
	}
	a.mu.Lock()
	next := a.block
	next.Height += n
	next.Time += n * uint64(interval.Nanoseconds())
	if err := blockItem.Save(ctx, a.root, next); err != nil {
		a.mu.Unlock()
		return a.block, fmt.Errorf("save block: %w", err)
	}
	a.block = next
	a.mu.Unlock()

	a.metrics.SetBlockHeight(next.Height)
	a.listenerMu.RLock()
	subs := append([]func(BlockInfo){}, a.blockSubs...)
	a.listenerMu.RUnlock()
	for _, fn := range subs {
		fn(next)
	}
	return next, nil
}

// OnTx registers fn to observe every committed transaction.
func (a *App) OnTx(fn func(TxResult)) {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	a.txListeners = append(a.txListeners, fn)
}

// OnBlock registers fn to observe every produced block.
func (a *App) OnBlock(fn func(BlockInfo)) {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	a.blockSubs = append(a.blockSubs, fn)
}

// Instantiate deploys a new instance of codeID and returns its address.
func (a *App) Instantiate(ctx context.Context, sender string, codeID uint64, msg any, funds []Coin, label string, admin *string) (string, error) {
	raw, err := encodeMsg(msg)
	if err != nil {
		return "", err
	}
	res, err := a.runTx(ctx, observability.SpanTxInstantiate, "instantiate", sender, "", func(ctx context.Context, kv store.KV) (*SubMsgResponse, error) {
		return a.instantiate(ctx, kv, sender, WasmInstantiate{Admin: admin, CodeID: codeID, Msg: raw, Funds: funds, Label: label})
	})
	if err != nil {
		return "", err
	}
	var out InstantiateResponse
	if err := json.Unmarshal(res.Data, &out); err != nil {
		return "", fmt.Errorf("decode instantiate result: %w", err)
	}
	return out.ContractAddress, nil
}

// Execute runs msg against contract on behalf of sender, attaching funds.
func (a *App) Execute(ctx context.Context, sender, contract string, msg any, funds ...Coin) (*TxResult, error) {
	raw, err := encodeMsg(msg)
	if err != nil {
		return nil, err
	}
	return a.runTx(ctx, observability.SpanTxExecute, "execute", sender, contract, func(ctx context.Context, kv store.KV) (*SubMsgResponse, error) {
		return a.executeContract(ctx, kv, sender, contract, raw, funds)
	})
}

// Send moves native coins between accounts as a standalone transaction.
func (a *App) Send(ctx context.Context, from, to string, coins ...Coin) error {
	_, err := a.runTx(ctx, observability.SpanTxExecute, "bank", from, "", func(ctx context.Context, kv store.KV) (*SubMsgResponse, error) {
		return a.dispatch(ctx, kv, from, BankSendMsg(to, coins...))
	})
	return err
}

// Mint credits coins to addr outside of any transaction; used for genesis.
func (a *App) Mint(ctx context.Context, addr string, coins ...Coin) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := DefaultAPI().AddrValidate(addr); err != nil {
		return err
	}
	for _, c := range coins {
		if err := addBalance(ctx, a.root, addr, c); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) runTx(ctx context.Context, span, kind, sender, contract string, fn func(context.Context, store.KV) (*SubMsgResponse, error)) (*TxResult, error) {
	a.mu.Lock()
	start := time.Now()
	ctx, sp := a.tracer.StartSpan(ctx, span,
		attribute.String(observability.AttrSender, sender),
		attribute.String(observability.AttrContract, contract),
		attribute.Int64(observability.AttrHeight, int64(a.block.Height)),
	)
	cache := store.NewCacheKV(a.root)
	out, err := fn(ctx, cache)
	if err == nil {
		err = cache.Write(ctx)
	}
	observability.EndSpan(sp, err)
	a.metrics.ObserveTx(kind, err, time.Since(start))
	height := a.block.Height
	a.mu.Unlock()

	if err != nil {
		a.logger.Debug("tx failed", "kind", kind, "sender", sender, "contract", contract, "height", height, "err", err)
		return nil, err
	}
	res := TxResult{Height: height, Events: out.Events, Data: out.Data}
	a.listenerMu.RLock()
	listeners := append([]func(TxResult){}, a.txListeners...)
	a.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(res)
	}
	return &res, nil
}

func encodeMsg(msg any) (json.RawMessage, error) {
	switch m := msg.(type) {
	case json.RawMessage:
		return m, nil
	case []byte:
		return json.RawMessage(m), nil
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode msg: %w", err)
	}
	return raw, nil
}

func (a *App) env(contract string) Env {
	return Env{Block: a.block, Contract: ContractInfo{Address: contract}}
}

func (a *App) deps(kv store.KV, contract string) Deps {
	return Deps{
		Storage: store.NewPrefixKV(kv, contractPrefix(contract)),
		Querier: &querier{app: a, kv: kv},
		API:     DefaultAPI(),
		Logger:  a.logger.With("contract", contract),
	}
}

func contractPrefix(addr string) []byte {
	return []byte("state/" + addr + "/")
}

func (a *App) loadCode(ctx context.Context, kv store.KV, addr string) (ContractInstance, Contract, error) {
	inst, ok, err := contractsMap.May(ctx, kv, addr)
	if err != nil {
		return inst, nil, err
	}
	if !ok {
		return inst, nil, fmt.Errorf("%w: %s", ErrContractNotFound, addr)
	}
	code, ok := a.codes[inst.CodeID]
	if !ok {
		return inst, nil, fmt.Errorf("%w: %d", ErrCodeNotFound, inst.CodeID)
	}
	return inst, code, nil
}

func (a *App) executeContract(ctx context.Context, kv store.KV, sender, contract string, msg json.RawMessage, funds []Coin) (*SubMsgResponse, error) {
	_, code, err := a.loadCode(ctx, kv, contract)
	if err != nil {
		return nil, err
	}
	events, err := transfer(ctx, kv, sender, contract, funds)
	if err != nil {
		return nil, err
	}
	res, err := code.Execute(ctx, a.deps(kv, contract), a.env(contract), MessageInfo{Sender: sender, Funds: funds}, msg)
	if err != nil {
		return nil, err
	}
	return a.handleResponse(ctx, kv, contract, res, events)
}

func (a *App) instantiate(ctx context.Context, kv store.KV, sender string, msg WasmInstantiate) (*SubMsgResponse, error) {
	code, ok := a.codes[msg.CodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrCodeNotFound, msg.CodeID)
	}
	seq, _, err := contractSeq.May(ctx, kv)
	if err != nil {
		return nil, err
	}
	seq++
	if err := contractSeq.Save(ctx, kv, seq); err != nil {
		return nil, err
	}
	addr := fmt.Sprintf("%s1contract%d", a.opts.AddrPrefix, seq)
	inst := ContractInstance{Address: addr, CodeID: msg.CodeID, Label: msg.Label, Creator: sender, Admin: msg.Admin}
	if err := contractsMap.Save(ctx, kv, addr, inst); err != nil {
		return nil, err
	}
	events, err := transfer(ctx, kv, sender, addr, msg.Funds)
	if err != nil {
		return nil, err
	}
	events = append(events, Event{Type: "instantiate", Attributes: []Attribute{
		{Key: "_contract_address", Value: addr},
		{Key: "code_id", Value: fmt.Sprint(msg.CodeID)},
	}})
	res, err := code.Instantiate(ctx, a.deps(kv, addr), a.env(addr), MessageInfo{Sender: sender, Funds: msg.Funds}, msg.Msg)
	if err != nil {
		return nil, err
	}
	out, err := a.handleResponse(ctx, kv, addr, res, events)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(InstantiateResponse{ContractAddress: addr, Data: out.Data})
	if err != nil {
		return nil, err
	}
	out.Data = data
	return out, nil
}

func (a *App) reply(ctx context.Context, kv store.KV, contract string, reply Reply) (*SubMsgResponse, error) {
	_, code, err := a.loadCode(ctx, kv, contract)
	if err != nil {
		return nil, err
	}
	replier, ok := code.(Replier)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoReplyHandler, contract)
	}
	res, err := replier.Reply(ctx, a.deps(kv, contract), a.env(contract), reply)
	if err != nil {
		return nil, err
	}
	return a.handleResponse(ctx, kv, contract, res, nil)
}

// handleResponse records the entry point's events and dispatches its
// sub-messages in order, each inside its own cache layer.
func (a *App) handleResponse(ctx context.Context, kv store.KV, contract string, res *Response, events []Event) (*SubMsgResponse, error) {
	if res == nil {
		res = NewResponse()
	}
	events = append(events, wasmEvents(contract, res)...)
	data := res.Data
	for _, sm := range res.Messages {
		sub := store.NewCacheKV(kv)
		subCtx, sp := a.tracer.StartSpan(ctx, observability.SpanSubMsg,
			attribute.String(observability.AttrContract, contract),
			attribute.String(observability.AttrMsgKind, sm.Msg.Kind()),
		)
		out, err := a.dispatch(subCtx, sub, contract, sm.Msg)
		if err == nil {
			err = sub.Write(ctx)
		}
		observability.EndSpan(sp, err)

		var reply *Reply
		switch {
		case err == nil:
			events = append(events, out.Events...)
			if sm.ReplyOn == ReplySuccess || sm.ReplyOn == ReplyAlways {
				reply = &Reply{ID: sm.ID, Result: SubMsgResult{Ok: out}}
			}
		case sm.ReplyOn == ReplyError || sm.ReplyOn == ReplyAlways:
			reply = &Reply{ID: sm.ID, Result: SubMsgResult{Err: err.Error()}}
		default:
			return nil, err
		}
		if reply == nil {
			continue
		}
		rout, err := a.reply(ctx, kv, contract, *reply)
		if err != nil {
			return nil, err
		}
		events = append(events, rout.Events...)
		if rout.Data != nil {
			data = rout.Data
		}
	}
	return &SubMsgResponse{Events: events, Data: data}, nil
}

func wasmEvents(contract string, res *Response) []Event {
	var out []Event
	if len(res.Attributes) > 0 {
		attrs := append([]Attribute{{Key: "_contract_address", Value: contract}}, res.Attributes...)
		out = append(out, Event{Type: "wasm", Attributes: attrs})
	}
	for _, e := range res.Events {
		attrs := append([]Attribute{{Key: "_contract_address", Value: contract}}, e.Attributes...)
		out = append(out, Event{Type: "wasm-" + e.Type, Attributes: attrs})
	}
	return out
}

func (a *App) dispatch(ctx context.Context, kv store.KV, sender string, msg CosmosMsg) (*SubMsgResponse, error) {
	switch {
	case msg.Bank != nil && msg.Bank.Send != nil:
		send := msg.Bank.Send
		if _, err := DefaultAPI().AddrValidate(send.ToAddress); err != nil {
			return nil, err
		}
		events, err := transfer(ctx, kv, sender, send.ToAddress, send.Amount)
		if err != nil {
			return nil, err
		}
		return &SubMsgResponse{Events: events}, nil
	case msg.Bank != nil && msg.Bank.Burn != nil:
		for _, c := range msg.Bank.Burn.Amount {
			if err := subBalance(ctx, kv, sender, c); err != nil {
				return nil, err
			}
		}
		return &SubMsgResponse{Events: []Event{{Type: "burn", Attributes: []Attribute{
			{Key: "burner", Value: sender},
			{Key: "amount", Value: CoinsString(msg.Bank.Burn.Amount)},
		}}}}, nil
	case msg.Wasm != nil && msg.Wasm.Execute != nil:
		exec := msg.Wasm.Execute
		return a.executeContract(ctx, kv, sender, exec.ContractAddr, exec.Msg, exec.Funds)
	case msg.Wasm != nil && msg.Wasm.Instantiate != nil:
		return a.instantiate(ctx, kv, sender, *msg.Wasm.Instantiate)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMsg, msg.Kind())
	}
}

// Query runs a smart query against committed state.
func (a *App) Query(ctx context.Context, contract string, msg any) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := time.Now()
	q := &querier{app: a, kv: a.root}
	out, err := q.QuerySmart(ctx, contract, msg)
	a.metrics.ObserveTx("query", err, time.Since(start))
	return out, err
}

// QueryJSON runs a smart query and decodes the result into out.
func (a *App) QueryJSON(ctx context.Context, contract string, msg, out any) error {
	raw, err := a.Query(ctx, contract, msg)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// QueryRaw reads a raw key from a contract's storage.
func (a *App) QueryRaw(ctx context.Context, contract string, key []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return (&querier{app: a, kv: a.root}).QueryRaw(ctx, contract, key)
}

// Balance returns addr's balance of denom.
func (a *App) Balance(ctx context.Context, addr, denom string) (Coin, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return balance(ctx, a.root, addr, denom)
}

// AllBalances returns every non-zero balance of addr ordered by denom.
func (a *App) AllBalances(ctx context.Context, addr string) ([]Coin, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return allBalances(ctx, a.root, addr)
}

// Contracts lists deployed instances ordered by address.
func (a *App) Contracts(ctx context.Context) ([]ContractInstance, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []ContractInstance
	err := contractsMap.Range(ctx, a.root, store.Bound[string]{}, store.Ascending, func(_ string, inst ContractInstance) (bool, error) {
		out = append(out, inst)
		return true, nil
	})
	return out, err
}

type querier struct {
	app *App
	kv  store.KV
}

func (q *querier) QuerySmart(ctx context.Context, contract string, msg any) ([]byte, error) {
	raw, err := encodeMsg(msg)
	if err != nil {
		return nil, err
	}
	_, code, err := q.app.loadCode(ctx, q.kv, contract)
	if err != nil {
		return nil, err
	}
	ctx, sp := q.app.tracer.StartSpan(ctx, observability.SpanQuery, attribute.String(observability.AttrContract, contract))
	deps := q.app.deps(store.ReadOnly(q.kv), contract)
	out, err := code.Query(ctx, deps, q.app.env(contract), raw)
	observability.EndSpan(sp, err)
	return out, err
}

func (q *querier) QueryRaw(ctx context.Context, contract string, key []byte) ([]byte, error) {
	return store.NewPrefixKV(q.kv, contractPrefix(contract)).Get(ctx, key)
}

func (q *querier) QueryBalance(ctx context.Context, addr, denom string) (Coin, error) {
	return balance(ctx, q.kv, addr, denom)
}

func (q *querier) QueryAllBalances(ctx context.Context, addr string) ([]Coin, error) {
	return allBalances(ctx, q.kv, addr)
}

func (q *querier) QueryContractInfo(ctx context.Context, contract string) (ContractInstance, error) {
	inst, ok, err := contractsMap.May(ctx, q.kv, contract)
	if err != nil {
		return inst, err
	}
	if !ok {
		return inst, fmt.Errorf("%w: %s", ErrContractNotFound, contract)
	}
	return inst, nil
}
