package agents

import (
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

var (
	configItem  = store.NewItem[msgs.AgentsConfig]("config")
	agentsMap   = store.NewMap[string, core.Agent]("agents", store.StringKey{})
	statsMap    = store.NewMap[string, core.AgentStats]("agent_stats", store.StringKey{})
	activeItem  = store.NewItem[[]string]("active_agents")
	pendingItem = store.NewItem[[]string]("pending_agents")
	nomination  = store.NewItem[nominationStatus]("agent_nomination_status")
	approved    = store.NewMap[string, bool]("approved_agents", store.StringKey{})
)

// nominationStatus tracks how long the pending queue has been waiting.
type nominationStatus struct {
	StartHeight  *uint64 `json:"start_height_of_index,omitempty"`
	TasksCreated uint64  `json:"tasks_created_from_last_nomination"`
}

// agentsToLetIn is how many more agents the current task load needs.
func agentsToLetIn(maxTasks, activeAgents, totalTasks uint64) uint64 {
	if maxTasks == 0 {
		return 0
	}
	covered := activeAgents * maxTasks
	if totalTasks <= covered {
		return 0
	}
	remaining := totalTasks - covered
	return (remaining + maxTasks - 1) / maxTasks
}

// nominated is how many agents from the head of the pending queue may
// check in now: enough to cover the task load, widened by one for every
// nomination duration the queue has waited.
func nominated(cfg msgs.AgentsConfig, status nominationStatus, activeAgents, totalTasks, height uint64) uint64 {
	byTasks := agentsToLetIn(cfg.MinTasksPerAgent, activeAgents, totalTasks)
	var byTime uint64
	if status.StartHeight != nil && cfg.AgentNominationDuration > 0 && height > *status.StartHeight {
		byTime = (height - *status.StartHeight) / cfg.AgentNominationDuration
	}
	return max(byTasks, byTime)
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// lastIndexOf searches from the back, for agents that know they joined late.
func lastIndexOf(list []string, v string) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == v {
			return i
		}
	}
	return -1
}

func without(list []string, i int) []string {
	out := make([]string, 0, len(list)-1)
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}
