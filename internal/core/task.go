package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"croncat/internal/chain"
	"croncat/internal/valuepath"
)

// Action is one message a task sends, with an optional gas limit.
type Action struct {
	Msg      chain.CosmosMsg `json:"msg"`
	GasLimit *uint64         `json:"gas_limit,omitempty"`
}

// CroncatQuery asks a contract a yes/no question. The contract answers
// with QueryResult; when CheckResult is set the task only runs on true.
type CroncatQuery struct {
	ContractAddr string          `json:"contract_addr"`
	Msg          json.RawMessage `json:"msg"`
	CheckResult  bool            `json:"check_result"`
}

// WasmSmartQuery is a plain smart query whose response feeds transforms.
type WasmSmartQuery struct {
	ContractAddr string          `json:"contract_addr"`
	Msg          json.RawMessage `json:"msg"`
}

// CosmosQuery holds exactly one of its variants.
type CosmosQuery struct {
	Croncat *CroncatQuery   `json:"croncat,omitempty"`
	Wasm    *WasmSmartQuery `json:"wasm,omitempty"`
}

// QueryResult is the answer croncat queries return.
type QueryResult struct {
	Result bool            `json:"result"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Transform copies the value at QueryResponsePath of query QueryIdx's
// response into action ActionIdx's message at ActionPath.
type Transform struct {
	ActionIdx         uint64         `json:"action_idx"`
	QueryIdx          uint64         `json:"query_idx"`
	ActionPath        valuepath.Path `json:"action_path"`
	QueryResponsePath valuepath.Path `json:"query_response_path"`
}

// TaskRequest is what an owner submits to create a task.
type TaskRequest struct {
	Interval   Interval      `json:"interval"`
	Boundary   *Boundary     `json:"boundary,omitempty"`
	StopOnFail bool          `json:"stop_on_fail"`
	Actions    []Action      `json:"actions"`
	Queries    []CosmosQuery `json:"queries,omitempty"`
	Transforms []Transform   `json:"transforms,omitempty"`
	Cw20       *Cw20Coin     `json:"cw20,omitempty"`
}

// Task is a stored task definition. Slot records where the task currently
// sits in the slot index; it is not part of the hash.
type Task struct {
	Owner            string            `json:"owner_addr"`
	Interval         Interval          `json:"interval"`
	Boundary         BoundaryValidated `json:"boundary"`
	StopOnFail       bool              `json:"stop_on_fail"`
	AmountForOneTask AmountForOneTask  `json:"amount_for_one_task"`
	Actions          []Action          `json:"actions"`
	Queries          []CosmosQuery     `json:"queries,omitempty"`
	Transforms       []Transform       `json:"transforms,omitempty"`
	Version          string            `json:"version"`
	Slot             *Slot             `json:"slot,omitempty"`
}

// IsEvented reports whether the task waits on queries instead of a slot.
func (t Task) IsEvented() bool {
	return len(t.Queries) > 0 && !t.Interval.IsRecurring()
}

// IsRecurring reports whether the task is rescheduled after running.
func (t Task) IsRecurring() bool {
	return t.Interval.IsRecurring()
}

// SlotType reports which slot map the task belongs to.
func (t Task) SlotType() SlotType {
	if t.Boundary.IsBlockBoundary {
		return SlotBlock
	}
	return SlotCron
}

// hashLength is the length of every task hash including the chain prefix.
const hashLength = 64

// Hash derives the task's identifier: "<prefix>:" followed by the tail of
// the hex SHA-256 of its defining fields, cut so the whole string is 64
// characters.
func (t Task) Hash(prefix string) string {
	var b strings.Builder
	b.WriteString(t.Owner)
	b.WriteString(t.Interval.String())
	writeJSON(&b, t.Boundary)
	writeJSON(&b, t.Actions)
	writeJSON(&b, t.Queries)
	writeJSON(&b, t.Transforms)
	sum := sha256.Sum256([]byte(b.String()))
	encoded := hex.EncodeToString(sum[:])
	cut := len(prefix) + 1
	if cut > hashLength-8 {
		prefix = prefix[:hashLength-9]
		cut = hashLength - 8
	}
	return prefix + ":" + encoded[cut:]
}

func writeJSON(b *strings.Builder, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		// every hashed type is plain data; marshal cannot fail
		b.WriteString("!")
		return
	}
	b.Write(raw)
}

// TaskInfo is a task as returned by queries.
type TaskInfo struct {
	TaskHash string `json:"task_hash"`
	Task
}

// TaskResponse wraps an optional task.
type TaskResponse struct {
	Task *TaskInfo `json:"task"`
}
