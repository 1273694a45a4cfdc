package msgs

import (
	"cosmossdk.io/math"

	"croncat/internal/core"
)

type AgentsInstantiateMsg struct {
	Version                      *string          `json:"version,omitempty"`
	CroncatManagerKey            core.ContractKey `json:"croncat_manager_key"`
	CroncatTasksKey              core.ContractKey `json:"croncat_tasks_key"`
	AgentNominationDuration      *uint64          `json:"agent_nomination_duration,omitempty"`
	MinTasksPerAgent             *uint64          `json:"min_tasks_per_agent,omitempty"`
	MinCoinsForAgentRegistration *uint64          `json:"min_coins_for_agent_registration,omitempty"`
	AgentsEjectThreshold         *uint64          `json:"agents_eject_threshold,omitempty"`
	MinActiveAgentCount          *uint64          `json:"min_active_agent_count,omitempty"`
	PublicRegistration           *bool            `json:"public_registration,omitempty"`
	AllowedAgents                []string         `json:"allowed_agents,omitempty"`
}

type AgentsConfig struct {
	Paused                       bool             `json:"paused"`
	OwnerAddr                    string           `json:"owner_addr"`
	CroncatFactoryAddr           string           `json:"croncat_factory_addr"`
	CroncatManagerKey            core.ContractKey `json:"croncat_manager_key"`
	CroncatTasksKey              core.ContractKey `json:"croncat_tasks_key"`
	MinTasksPerAgent             uint64           `json:"min_tasks_per_agent"`
	AgentNominationDuration      uint64           `json:"agent_nomination_duration"`
	MinCoinsForAgentRegistration uint64           `json:"min_coins_for_agent_registration"`
	AgentsEjectThreshold         uint64           `json:"agents_eject_threshold"`
	MinActiveAgentCount          uint64           `json:"min_active_agent_count"`
	PublicRegistration           bool             `json:"public_registration"`
}

type AgentsUpdateConfig struct {
	Paused                       *bool             `json:"paused,omitempty"`
	CroncatManagerKey            *core.ContractKey `json:"croncat_manager_key,omitempty"`
	CroncatTasksKey              *core.ContractKey `json:"croncat_tasks_key,omitempty"`
	MinTasksPerAgent             *uint64           `json:"min_tasks_per_agent,omitempty"`
	AgentNominationDuration      *uint64           `json:"agent_nomination_duration,omitempty"`
	MinCoinsForAgentRegistration *uint64           `json:"min_coins_for_agent_registration,omitempty"`
	AgentsEjectThreshold         *uint64           `json:"agents_eject_threshold,omitempty"`
	MinActiveAgentCount          *uint64           `json:"min_active_agent_count,omitempty"`
	PublicRegistration           *bool             `json:"public_registration,omitempty"`
}

type AgentsExecuteMsg struct {
	RegisterAgent            *RegisterAgent      `json:"register_agent,omitempty"`
	UpdateAgent              *UpdateAgent        `json:"update_agent,omitempty"`
	CheckInAgent             *Empty              `json:"check_in_agent,omitempty"`
	UnregisterAgent          *UnregisterAgent    `json:"unregister_agent,omitempty"`
	OnTaskCreated            *Empty              `json:"on_task_created,omitempty"`
	OnTaskCompleted          *OnTaskCompleted    `json:"on_task_completed,omitempty"`
	UpdateConfig             *AgentsUpdateConfig `json:"update_config,omitempty"`
	Tick                     *Empty              `json:"tick,omitempty"`
	AddAgentToWhitelist      *AgentAddress       `json:"add_agent_to_whitelist,omitempty"`
	RemoveAgentFromWhitelist *AgentAddress       `json:"remove_agent_from_whitelist,omitempty"`
}

type RegisterAgent struct {
	PayableAccountID *string `json:"payable_account_id,omitempty"`
}

type UpdateAgent struct {
	PayableAccountID string `json:"payable_account_id"`
}

// UnregisterAgent removes the sender. FromBehind hints that the agent sits
// near the back of the pending queue, so the search starts there.
type UnregisterAgent struct {
	FromBehind *bool `json:"from_behind,omitempty"`
}

type OnTaskCompleted struct {
	AgentID         string `json:"agent_id"`
	IsBlockSlotTask bool   `json:"is_block_slot_task"`
}

type AgentAddress struct {
	AgentAddress string `json:"agent_address"`
}

type AgentsQueryMsg struct {
	GetAgent                  *AccountQuery `json:"get_agent,omitempty"`
	GetAgentIDs               *PageQuery    `json:"get_agent_ids,omitempty"`
	GetAgentTasks             *AccountQuery `json:"get_agent_tasks,omitempty"`
	GetApprovedAgentAddresses *PageQuery    `json:"get_approved_agent_addresses,omitempty"`
	Config                    *Empty        `json:"config,omitempty"`
}

type AccountQuery struct {
	AccountID string `json:"account_id"`
}

type AgentInfo struct {
	Status              core.AgentStatus `json:"status"`
	PayableAccountID    string           `json:"payable_account_id"`
	Balance             math.Int         `json:"balance"`
	LastExecutedSlot    uint64           `json:"last_executed_slot"`
	RegisterStart       uint64           `json:"register_start"`
	CompletedBlockTasks uint64           `json:"completed_block_tasks"`
	CompletedCronTasks  uint64           `json:"completed_cron_tasks"`
}

type AgentResponse struct {
	Agent *AgentInfo `json:"agent"`
}

type GetAgentIDsResponse struct {
	Active  []string `json:"active"`
	Pending []string `json:"pending"`
}

// AgentTaskStats is how many due tasks of each slot type an agent may run
// in the current round.
type AgentTaskStats struct {
	NumBlockTasks uint64 `json:"num_block_tasks"`
	NumCronTasks  uint64 `json:"num_cron_tasks"`
}

type AgentTaskResponse struct {
	Stats AgentTaskStats `json:"stats"`
}
