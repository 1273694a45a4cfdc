package chain

import (
	"encoding/json"
	"fmt"
	"strings"

	"cosmossdk.io/math"
)

// Coin is an amount of a native denomination.
type Coin struct {
	Denom  string   `json:"denom"`
	Amount math.Int `json:"amount"`
}

func NewCoin(denom string, amount uint64) Coin {
	return Coin{Denom: denom, Amount: math.NewIntFromUint64(amount)}
}

func (c Coin) String() string {
	if c.Amount.IsNil() {
		return "0" + c.Denom
	}
	return c.Amount.String() + c.Denom
}

// IsZero reports whether the amount is zero or unset.
func (c Coin) IsZero() bool {
	return c.Amount.IsNil() || c.Amount.IsZero()
}

// CoinsString renders coins the way bank events do: "10ucron,5uatom".
func CoinsString(coins []Coin) string {
	parts := make([]string, 0, len(coins))
	for _, c := range coins {
		parts = append(parts, c.String())
	}
	return strings.Join(parts, ",")
}

// ParseCoins reads the CoinsString form back. An empty string is no coins.
func ParseCoins(s string) ([]Coin, error) {
	var out []Coin
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		i := strings.IndexFunc(part, func(r rune) bool { return r < '0' || r > '9' })
		if i <= 0 {
			return nil, fmt.Errorf("invalid coin %q", part)
		}
		amount, ok := math.NewIntFromString(part[:i])
		if !ok {
			return nil, fmt.Errorf("invalid coin amount %q", part)
		}
		out = append(out, Coin{Denom: part[i:], Amount: amount})
	}
	return out, nil
}

// BlockInfo describes the block a transaction executes in. Time is unix nanoseconds.
type BlockInfo struct {
	Height  uint64 `json:"height"`
	Time    uint64 `json:"time"`
	ChainID string `json:"chain_id"`
}

type ContractInfo struct {
	Address string `json:"address"`
}

// Env is the execution environment handed to every contract entry point.
type Env struct {
	Block    BlockInfo    `json:"block"`
	Contract ContractInfo `json:"contract"`
}

// MessageInfo carries the caller and the funds it attached.
type MessageInfo struct {
	Sender string `json:"sender"`
	Funds  []Coin `json:"funds"`
}

// CosmosMsg is the closed set of messages a contract can emit. Exactly one
// field is set. Staking, Distribution, Gov, Ibc and Custom exist so task
// validation can see and refuse them; the host does not execute them.
type CosmosMsg struct {
	Bank         *BankMsg        `json:"bank,omitempty"`
	Wasm         *WasmMsg        `json:"wasm,omitempty"`
	Staking      json.RawMessage `json:"staking,omitempty"`
	Distribution json.RawMessage `json:"distribution,omitempty"`
	Gov          json.RawMessage `json:"gov,omitempty"`
	Ibc          json.RawMessage `json:"ibc,omitempty"`
	Custom       json.RawMessage `json:"custom,omitempty"`
}

type BankMsg struct {
	Send *BankSend `json:"send,omitempty"`
	Burn *BankBurn `json:"burn,omitempty"`
}

type BankSend struct {
	ToAddress string `json:"to_address"`
	Amount    []Coin `json:"amount"`
}

type BankBurn struct {
	Amount []Coin `json:"amount"`
}

type WasmMsg struct {
	Execute     *WasmExecute     `json:"execute,omitempty"`
	Instantiate *WasmInstantiate `json:"instantiate,omitempty"`
}

type WasmExecute struct {
	ContractAddr string          `json:"contract_addr"`
	Msg          json.RawMessage `json:"msg"`
	Funds        []Coin          `json:"funds"`
}

type WasmInstantiate struct {
	Admin  *string         `json:"admin,omitempty"`
	CodeID uint64          `json:"code_id"`
	Msg    json.RawMessage `json:"msg"`
	Funds  []Coin          `json:"funds"`
	Label  string          `json:"label"`
}

// Kind names the populated variant, used for logging and span attributes.
func (m CosmosMsg) Kind() string {
	switch {
	case m.Bank != nil && m.Bank.Send != nil:
		return "bank.send"
	case m.Bank != nil && m.Bank.Burn != nil:
		return "bank.burn"
	case m.Wasm != nil && m.Wasm.Execute != nil:
		return "wasm.execute"
	case m.Wasm != nil && m.Wasm.Instantiate != nil:
		return "wasm.instantiate"
	case m.Staking != nil:
		return "staking"
	case m.Distribution != nil:
		return "distribution"
	case m.Gov != nil:
		return "gov"
	case m.Ibc != nil:
		return "ibc"
	case m.Custom != nil:
		return "custom"
	default:
		return "empty"
	}
}

// BankSendMsg builds a bank send.
func BankSendMsg(to string, coins ...Coin) CosmosMsg {
	return CosmosMsg{Bank: &BankMsg{Send: &BankSend{ToAddress: to, Amount: coins}}}
}

// ExecuteMsg builds a wasm execute, marshalling msg to JSON.
func ExecuteMsg(contract string, msg any, funds ...Coin) (CosmosMsg, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return CosmosMsg{}, fmt.Errorf("encode execute msg: %w", err)
	}
	if funds == nil {
		funds = []Coin{}
	}
	return CosmosMsg{Wasm: &WasmMsg{Execute: &WasmExecute{ContractAddr: contract, Msg: raw, Funds: funds}}}, nil
}

// ReplyOn selects when the host calls the emitting contract back.
type ReplyOn string

const (
	ReplyNever   ReplyOn = "never"
	ReplySuccess ReplyOn = "success"
	ReplyError   ReplyOn = "error"
	ReplyAlways  ReplyOn = "always"
)

// SubMsg is a message dispatched after the emitting entry point returns.
// Each runs against its own cache; a failure discards only its own writes
// when the emitter asked to be replied to on error.
type SubMsg struct {
	ID       uint64    `json:"id"`
	Msg      CosmosMsg `json:"msg"`
	GasLimit *uint64   `json:"gas_limit,omitempty"`
	ReplyOn  ReplyOn   `json:"reply_on"`
}

type Attribute struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type Event struct {
	Type       string      `json:"type"`
	Attributes []Attribute `json:"attributes"`
}

// Attr looks up the first attribute named key.
func (e Event) Attr(key string) (string, bool) {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Response is what an entry point hands back to the host.
type Response struct {
	Messages   []SubMsg    `json:"messages"`
	Attributes []Attribute `json:"attributes"`
	Events     []Event     `json:"events"`
	Data       []byte      `json:"data,omitempty"`
}

func NewResponse() *Response {
	return &Response{}
}

func (r *Response) AddAttribute(key, value string) *Response {
	r.Attributes = append(r.Attributes, Attribute{Key: key, Value: value})
	return r
}

// AddMessage appends a fire-and-forget message; its failure fails the caller.
func (r *Response) AddMessage(msg CosmosMsg) *Response {
	r.Messages = append(r.Messages, SubMsg{Msg: msg, ReplyOn: ReplyNever})
	return r
}

func (r *Response) AddMessages(msgs ...CosmosMsg) *Response {
	for _, m := range msgs {
		r.AddMessage(m)
	}
	return r
}

func (r *Response) AddSubMessage(sm SubMsg) *Response {
	r.Messages = append(r.Messages, sm)
	return r
}

func (r *Response) AddEvent(e Event) *Response {
	r.Events = append(r.Events, e)
	return r
}

func (r *Response) SetData(data []byte) *Response {
	r.Data = data
	return r
}

// SubMsgResponse is the successful result of a sub-message.
type SubMsgResponse struct {
	Events []Event `json:"events"`
	Data   []byte  `json:"data,omitempty"`
}

// SubMsgResult holds either Ok or Err.
type SubMsgResult struct {
	Ok  *SubMsgResponse `json:"ok,omitempty"`
	Err string          `json:"error,omitempty"`
}

func (r SubMsgResult) IsOk() bool { return r.Ok != nil }

type Reply struct {
	ID     uint64       `json:"id"`
	Result SubMsgResult `json:"result"`
}

// InstantiateResponse is the data a successful instantiate returns.
type InstantiateResponse struct {
	ContractAddress string `json:"contract_address"`
	Data            []byte `json:"data,omitempty"`
}

// ParseInstantiateReply extracts the new contract address from a reply.
func ParseInstantiateReply(reply Reply) (InstantiateResponse, error) {
	var out InstantiateResponse
	if !reply.Result.IsOk() {
		return out, fmt.Errorf("instantiate failed: %s", reply.Result.Err)
	}
	if err := json.Unmarshal(reply.Result.Ok.Data, &out); err != nil {
		return out, fmt.Errorf("decode instantiate reply: %w", err)
	}
	return out, nil
}

// ContractInstance is the host's record of a deployed contract.
type ContractInstance struct {
	Address string  `json:"address"`
	CodeID  uint64  `json:"code_id"`
	Label   string  `json:"label"`
	Creator string  `json:"creator"`
	Admin   *string `json:"admin,omitempty"`
}
