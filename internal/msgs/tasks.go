package msgs

import "croncat/internal/core"

type TasksInstantiateMsg struct {
	ChainName           string           `json:"chain_name"`
	Version             *string          `json:"version,omitempty"`
	CroncatManagerKey   core.ContractKey `json:"croncat_manager_key"`
	CroncatAgentsKey    core.ContractKey `json:"croncat_agents_key"`
	SlotGranularityTime *uint64          `json:"slot_granularity_time,omitempty"`
	GasBaseFee          *uint64          `json:"gas_base_fee,omitempty"`
	GasActionFee        *uint64          `json:"gas_action_fee,omitempty"`
	GasQueryFee         *uint64          `json:"gas_query_fee,omitempty"`
	GasLimit            *uint64          `json:"gas_limit,omitempty"`
}

type TasksConfig struct {
	Paused              bool             `json:"paused"`
	OwnerAddr           string           `json:"owner_addr"`
	CroncatFactoryAddr  string           `json:"croncat_factory_addr"`
	ChainName           string           `json:"chain_name"`
	Version             string           `json:"version"`
	CroncatManagerKey   core.ContractKey `json:"croncat_manager_key"`
	CroncatAgentsKey    core.ContractKey `json:"croncat_agents_key"`
	SlotGranularityTime uint64           `json:"slot_granularity_time"`
	GasBaseFee          uint64           `json:"gas_base_fee"`
	GasActionFee        uint64           `json:"gas_action_fee"`
	GasQueryFee         uint64           `json:"gas_query_fee"`
	GasLimit            uint64           `json:"gas_limit"`
}

type TasksUpdateConfig struct {
	Paused              *bool             `json:"paused,omitempty"`
	CroncatManagerKey   *core.ContractKey `json:"croncat_manager_key,omitempty"`
	CroncatAgentsKey    *core.ContractKey `json:"croncat_agents_key,omitempty"`
	SlotGranularityTime *uint64           `json:"slot_granularity_time,omitempty"`
	GasBaseFee          *uint64           `json:"gas_base_fee,omitempty"`
	GasActionFee        *uint64           `json:"gas_action_fee,omitempty"`
	GasQueryFee         *uint64           `json:"gas_query_fee,omitempty"`
	GasLimit            *uint64           `json:"gas_limit,omitempty"`
}

type TasksExecuteMsg struct {
	UpdateConfig       *TasksUpdateConfig `json:"update_config,omitempty"`
	CreateTask         *CreateTask        `json:"create_task,omitempty"`
	RemoveTask         *TaskHashMsg       `json:"remove_task,omitempty"`
	RemoveTaskHook     *TaskHashMsg       `json:"remove_task_hook,omitempty"`
	RescheduleTaskHook *TaskHashMsg       `json:"reschedule_task_hook,omitempty"`
	AddHook            *HookMsg           `json:"add_hook,omitempty"`
	RemoveHook         *HookMsg           `json:"remove_hook,omitempty"`
}

type CreateTask struct {
	Task core.TaskRequest `json:"task"`
}

type HookMsg struct {
	Addr string `json:"addr"`
}

type TasksQueryMsg struct {
	Config          *Empty           `json:"config,omitempty"`
	TasksTotal      *Empty           `json:"tasks_total,omitempty"`
	CurrentTaskInfo *Empty           `json:"current_task_info,omitempty"`
	CurrentTask     *Empty           `json:"current_task,omitempty"`
	Task            *TaskHashMsg     `json:"task,omitempty"`
	Tasks           *PageQuery       `json:"tasks,omitempty"`
	EventedTasks    *EventedTasks    `json:"evented_tasks,omitempty"`
	TasksByOwner    *TasksByOwner    `json:"tasks_by_owner,omitempty"`
	TaskHash        *TaskHashQuery   `json:"task_hash,omitempty"`
	SlotHashes      *SlotHashesQuery `json:"slot_hashes,omitempty"`
	SlotIDs         *PageQuery       `json:"slot_ids,omitempty"`
	SlotTasksTotal  *SlotTasksTotal  `json:"slot_tasks_total,omitempty"`
	Hooks           *Empty           `json:"hooks,omitempty"`
}

type EventedTasks struct {
	Start     *uint64 `json:"start,omitempty"`
	FromIndex *uint64 `json:"from_index,omitempty"`
	Limit     *uint64 `json:"limit,omitempty"`
}

type TasksByOwner struct {
	OwnerAddr  string  `json:"owner_addr"`
	StartAfter *string `json:"start_after,omitempty"`
	Limit      *uint64 `json:"limit,omitempty"`
}

type TaskHashQuery struct {
	Task core.Task `json:"task"`
}

type SlotHashesQuery struct {
	Slot *uint64 `json:"slot,omitempty"`
}

type SlotTasksTotal struct {
	Offset *uint64 `json:"offset,omitempty"`
}

type CurrentTaskInfoResponse struct {
	Total uint64 `json:"total"`
	// LastCreatedTask is the block time of the latest creation, nanoseconds.
	LastCreatedTask uint64 `json:"last_created_task"`
}

type SlotHashesResponse struct {
	BlockID       uint64   `json:"block_id"`
	BlockTaskHash []string `json:"block_task_hash"`
	TimeID        uint64   `json:"time_id"`
	TimeTaskHash  []string `json:"time_task_hash"`
}

type SlotIDsResponse struct {
	TimeIDs  []uint64 `json:"time_ids"`
	BlockIDs []uint64 `json:"block_ids"`
}

type SlotTasksTotalResponse struct {
	BlockTasks   uint64 `json:"block_tasks"`
	CronTasks    uint64 `json:"cron_tasks"`
	EventedTasks uint64 `json:"evented_tasks"`
}

// RescheduleResponse is the data of reschedule_task_hook.
type RescheduleResponse struct {
	TaskHash    string     `json:"task_hash"`
	TaskRemoved bool       `json:"task_removed"`
	NextSlot    *core.Slot `json:"next_slot,omitempty"`
}

// TaskHookMsg is sent to every registered hook contract when a task is
// created or removed.
type TaskHookMsg struct {
	CroncatTaskHook *TaskHookEvent `json:"croncat_task_hook,omitempty"`
}

type TaskHookEvent struct {
	Event    string `json:"event"`
	TaskHash string `json:"task_hash"`
}
