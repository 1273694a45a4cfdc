package agents

import (
	"context"
	"fmt"
	"sort"

	"croncat/internal/core"
	"croncat/internal/store"
)

// Equalize splits total due tasks of slotType across the active agents.
// Agents are ranked by completed tasks of that type, fewest first, ties
// broken by address. With no more tasks than agents the first total ranks
// get one task each and no extra. Otherwise every agent gets base tasks and
// the remainder goes one each, as extra, to the first ranks. The caller may
// run base+extra tasks this round.
func Equalize(slotType core.SlotType, total uint64, active []string, stats map[string]core.AgentStats, agent string) (base, extra uint64, err error) {
	if total == 0 {
		return 0, 0, nil
	}
	ranked := append([]string(nil), active...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ci, cj := stats[ranked[i]].Completed(slotType), stats[ranked[j]].Completed(slotType)
		if ci != cj {
			return ci < cj
		}
		return ranked[i] < ranked[j]
	})
	rank := -1
	for i, addr := range ranked {
		if addr == agent {
			rank = i
			break
		}
	}
	if rank < 0 {
		return 0, 0, fmt.Errorf("%w: %s", core.ErrAgentNotRegistered, agent)
	}
	n := uint64(len(ranked))
	r := uint64(rank)
	if total <= n {
		return oneIfWithin(r, total), 0, nil
	}
	return total / n, oneIfWithin(r, total%n), nil
}

// oneIfWithin is 1 - sat(rank - sat(count - 1)): 1 for the first count
// ranks, 0 after them and when count is 0.
func oneIfWithin(rank, count uint64) uint64 {
	if count == 0 {
		return 0
	}
	return 1 - min(1, satSub(rank, count-1))
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// OnTaskCompleted credits agent with one completed task of slotType.
func OnTaskCompleted(ctx context.Context, kv store.KV, agent string, slotType core.SlotType, height uint64) error {
	stats, _, err := statsMap.May(ctx, kv, agent)
	if err != nil {
		return err
	}
	if slotType == core.SlotBlock {
		stats.CompletedBlockTasks++
	} else {
		stats.CompletedCronTasks++
	}
	stats.LastExecutedSlot = height
	return statsMap.Save(ctx, kv, agent, stats)
}

// OnAgentUnregistered purges agent's stats. The agent must already be out
// of the active list.
func OnAgentUnregistered(ctx context.Context, kv store.KV, agent string) error {
	active, _, err := activeItem.May(ctx, kv)
	if err != nil {
		return err
	}
	for _, a := range active {
		if a == agent {
			return fmt.Errorf("%w: %s", core.ErrAgentStillActive, agent)
		}
	}
	return statsMap.Remove(ctx, kv, agent)
}

func loadStats(ctx context.Context, kv store.KV, agents []string) (map[string]core.AgentStats, error) {
	out := make(map[string]core.AgentStats, len(agents))
	for _, a := range agents {
		s, _, err := statsMap.May(ctx, kv, a)
		if err != nil {
			return nil, err
		}
		out[a] = s
	}
	return out, nil
}
