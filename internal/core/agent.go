package core

// AgentStatus is where an agent stands in the registry.
type AgentStatus string

const (
	AgentActive    AgentStatus = "active"
	AgentPending   AgentStatus = "pending"
	AgentNominated AgentStatus = "nominated"
)

// Agent is a registered executor. Rewards are paid to PayableAccountID.
type Agent struct {
	PayableAccountID string `json:"payable_account_id"`
	// RegisterStart is the block time of registration in unix nanoseconds.
	RegisterStart uint64 `json:"register_start"`
}

// AgentStats counts the work an agent has done.
type AgentStats struct {
	CompletedBlockTasks uint64 `json:"completed_block_tasks"`
	CompletedCronTasks  uint64 `json:"completed_cron_tasks"`
	MissedBlockedTasks  uint64 `json:"missed_blocked_tasks"`
	MissedCronTasks     uint64 `json:"missed_cron_tasks"`
	// LastExecutedSlot is the block height of the agent's last execution,
	// or of its activation when it has not executed yet.
	LastExecutedSlot uint64 `json:"last_executed_slot"`
}

// Completed returns the completed counter for slot type t.
func (s AgentStats) Completed(t SlotType) uint64 {
	if t == SlotBlock {
		return s.CompletedBlockTasks
	}
	return s.CompletedCronTasks
}
