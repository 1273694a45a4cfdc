package msgs

import (
	"encoding/json"

	"cosmossdk.io/math"

	"croncat/internal/chain"
	"croncat/internal/core"
)

type ManagerInstantiateMsg struct {
	Version          *string          `json:"version,omitempty"`
	CroncatTasksKey  core.ContractKey `json:"croncat_tasks_key"`
	CroncatAgentsKey core.ContractKey `json:"croncat_agents_key"`
	GasPrice         *core.GasPrice   `json:"gas_price,omitempty"`
	TreasuryAddr     *string          `json:"treasury_addr,omitempty"`
	Cw20Whitelist    []string         `json:"cw20_whitelist,omitempty"`
	AgentFee         *uint64          `json:"agent_fee,omitempty"`
	TreasuryFee      *uint64          `json:"treasury_fee,omitempty"`
	NativeDenom      *string          `json:"native_denom,omitempty"`
}

type ManagerConfig struct {
	Paused             bool             `json:"paused"`
	OwnerAddr          string           `json:"owner_addr"`
	CroncatFactoryAddr string           `json:"croncat_factory_addr"`
	CroncatTasksKey    core.ContractKey `json:"croncat_tasks_key"`
	CroncatAgentsKey   core.ContractKey `json:"croncat_agents_key"`
	AgentFee           uint64           `json:"agent_fee"`
	TreasuryFee        uint64           `json:"treasury_fee"`
	GasPrice           core.GasPrice    `json:"gas_price"`
	Cw20Whitelist      []string         `json:"cw20_whitelist"`
	NativeDenom        string           `json:"native_denom"`
	Limit              uint64           `json:"limit"`
	TreasuryAddr       *string          `json:"treasury_addr,omitempty"`
}

type ManagerUpdateConfig struct {
	Paused           *bool             `json:"paused,omitempty"`
	OwnerAddr        *string           `json:"owner_addr,omitempty"`
	AgentFee         *uint64           `json:"agent_fee,omitempty"`
	TreasuryFee      *uint64           `json:"treasury_fee,omitempty"`
	GasPrice         *core.GasPrice    `json:"gas_price,omitempty"`
	CroncatTasksKey  *core.ContractKey `json:"croncat_tasks_key,omitempty"`
	CroncatAgentsKey *core.ContractKey `json:"croncat_agents_key,omitempty"`
	TreasuryAddr     *string           `json:"treasury_addr,omitempty"`
	Cw20Whitelist    []string          `json:"cw20_whitelist,omitempty"`
}

type ManagerExecuteMsg struct {
	UpdateConfig           *ManagerUpdateConfig    `json:"update_config,omitempty"`
	ProxyCall              *ProxyCall              `json:"proxy_call,omitempty"`
	Receive                *Cw20ReceiveMsg         `json:"receive,omitempty"`
	WithdrawWalletBalances *WithdrawWalletBalances `json:"withdraw_wallet_balances,omitempty"`
	Tick                   *Empty                  `json:"tick,omitempty"`
	CreateTaskBalance      *CreateTaskBalance      `json:"create_task_balance,omitempty"`
	RemoveTask             *ManagerRemoveTask      `json:"remove_task,omitempty"`
	RefillTaskBalance      *TaskHashMsg            `json:"refill_task_balance,omitempty"`
	AgentWithdraw          *AgentWithdraw          `json:"agent_withdraw,omitempty"`
	OwnerWithdraw          *Empty                  `json:"owner_withdraw,omitempty"`
}

// ProxyCall runs the next due task, or the evented task TaskHash.
type ProxyCall struct {
	TaskHash *string `json:"task_hash,omitempty"`
}

// Cw20ReceiveMsg is what a cw20 contract sends on Send.
type Cw20ReceiveMsg struct {
	Sender string          `json:"sender"`
	Amount math.Int        `json:"amount"`
	Msg    json.RawMessage `json:"msg"`
}

// ManagerReceiveMsg is the inner message of a cw20 Send to the manager.
// An empty message credits the sender's wallet.
type ManagerReceiveMsg struct {
	RefillTempBalance *Empty       `json:"refill_temp_balance,omitempty"`
	RefillTaskBalance *TaskHashMsg `json:"refill_task_balance,omitempty"`
}

type WithdrawWalletBalances struct {
	Cw20Amounts []core.Cw20Coin `json:"cw20_amounts"`
}

// CreateTaskBalance is sent by Tasks with the funds the owner attached.
type CreateTaskBalance struct {
	Sender           string                `json:"sender"`
	TaskHash         string                `json:"task_hash"`
	Recurring        bool                  `json:"recurring"`
	Cw20             *core.Cw20Coin        `json:"cw20,omitempty"`
	AmountForOneTask core.AmountForOneTask `json:"amount_for_one_task"`
}

// ManagerRemoveTask is sent by Tasks when an owner removes a task; the
// remaining task balance is refunded to Sender.
type ManagerRemoveTask struct {
	Sender   string `json:"sender"`
	TaskHash string `json:"task_hash"`
}

type AgentWithdraw struct {
	Args *AgentWithdrawOnRemoval `json:"args,omitempty"`
}

// AgentWithdrawOnRemoval is filled in by Agents when it pays out an agent
// it is removing.
type AgentWithdrawOnRemoval struct {
	AgentID          string `json:"agent_id"`
	PayableAccountID string `json:"payable_account_id"`
}

type ManagerQueryMsg struct {
	Config             *Empty              `json:"config,omitempty"`
	Balances           *PageQuery          `json:"balances,omitempty"`
	Cw20WalletBalances *Cw20WalletBalances `json:"cw20_wallet_balances,omitempty"`
	TaskBalance        *TaskHashMsg        `json:"task_balance,omitempty"`
	AgentRewards       *AgentIDQuery       `json:"agent_rewards,omitempty"`
	TreasuryBalance    *Empty              `json:"treasury_balance,omitempty"`
}

type Cw20WalletBalances struct {
	Wallet    string  `json:"wallet"`
	FromIndex *uint64 `json:"from_index,omitempty"`
	Limit     *uint64 `json:"limit,omitempty"`
}

type AgentIDQuery struct {
	AgentID string `json:"agent_id"`
}

// BalancesResponse lists what the manager holds on behalf of tasks,
// agents, the treasury and user wallets.
type BalancesResponse struct {
	Native []chain.Coin    `json:"native"`
	Cw20   []core.Cw20Coin `json:"cw20"`
}

// TaskBalance is what is left to pay for a task's future executions.
type TaskBalance struct {
	NativeBalance math.Int       `json:"native_balance"`
	Cw20Balance   *core.Cw20Coin `json:"cw20_balance,omitempty"`
	IbcBalance    *chain.Coin    `json:"ibc_balance,omitempty"`
}

type TaskBalanceResponse struct {
	Balance *TaskBalance `json:"balance"`
}
