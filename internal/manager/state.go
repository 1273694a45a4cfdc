package manager

import (
	"cosmossdk.io/math"

	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

var (
	configItem = store.NewItem[msgs.ManagerConfig]("config")

	// availableNative and availableCw20 track everything the manager holds
	// for tasks, agents, the treasury and user wallets.
	availableNative = store.NewMap[string, math.Int]("available_native_balance", store.StringKey{})
	availableCw20   = store.NewMap[string, math.Int]("available_cw20_balance", store.StringKey{})

	taskBalances = store.NewMap[string, msgs.TaskBalance]("task_balances", store.StringKey{})
	taskOwners   = store.NewMap[string, string]("task_owners", store.StringKey{})
	agentRewards = store.NewMap[string, math.Int]("agent_rewards", store.StringKey{})
	treasury     = store.NewItem[math.Int]("treasury_balance")
	// userBalances is keyed by (wallet, cw20 address).
	userBalances = store.NewMap[store.Pair, math.Int]("users_balances", store.PairKey{})

	inflight   = store.NewItem[execution]("task_execution")
	reschedule = store.NewItem[pendingReschedule]("pending_reschedule")
)

// execution is the proxy call in progress across its action replies.
type execution struct {
	TaskHash string    `json:"task_hash"`
	Task     core.Task `json:"task"`
	Agent    string    `json:"agent"`
	// Actions are the task's actions after transforms were applied.
	Actions []core.Action `json:"actions"`
	Replied uint64        `json:"replied"`
	Failed  bool          `json:"failed"`
	LastErr string        `json:"last_err,omitempty"`
}

type pendingReschedule struct {
	TaskHash string `json:"task_hash"`
	Owner    string `json:"owner"`
}
