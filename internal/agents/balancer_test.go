package agents

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

func TestEqualizeRoundRobin(t *testing.T) {
	active := []string{"croncat1carol", "croncat1alice", "croncat1bob"}
	stats := map[string]core.AgentStats{}

	got := map[string]uint64{}
	for _, a := range active {
		base, extra, err := Equalize(core.SlotBlock, 5, active, stats, a)
		require.NoError(t, err)
		got[a] = base + extra
	}
	// ties go by address
	require.Equal(t, map[string]uint64{"croncat1alice": 2, "croncat1bob": 2, "croncat1carol": 1}, got)

	// alice and bob ran a task each: carol now ranks first
	stats["croncat1alice"] = core.AgentStats{CompletedBlockTasks: 1}
	stats["croncat1bob"] = core.AgentStats{CompletedBlockTasks: 1}
	base, extra, err := Equalize(core.SlotBlock, 4, active, stats, "croncat1carol")
	require.NoError(t, err)
	require.Equal(t, uint64(2), base+extra)

	// cron counts are ranked separately
	base, extra, err = Equalize(core.SlotCron, 1, active, stats, "croncat1alice")
	require.NoError(t, err)
	require.Equal(t, uint64(1), base+extra)
}

func TestEqualizeConservesTasks(t *testing.T) {
	for n := 1; n <= 6; n++ {
		active := make([]string, n)
		stats := map[string]core.AgentStats{}
		for i := range active {
			active[i] = fmt.Sprintf("croncat1agent%d", i)
			stats[active[i]] = core.AgentStats{CompletedBlockTasks: uint64((i * 7) % 3)}
		}
		for total := uint64(0); total <= 20; total++ {
			var sum, lo, hi uint64
			lo = ^uint64(0)
			for _, a := range active {
				base, extra, err := Equalize(core.SlotBlock, total, active, stats, a)
				require.NoError(t, err)
				require.LessOrEqual(t, extra, uint64(1))
				got := base + extra
				sum += got
				lo, hi = min(lo, got), max(hi, got)
			}
			require.Equal(t, total, sum, "agents=%d total=%d", n, total)
			require.LessOrEqual(t, hi-lo, uint64(1), "agents=%d total=%d", n, total)
		}
	}
}

func TestEqualizeUnknownAgent(t *testing.T) {
	_, _, err := Equalize(core.SlotBlock, 3, []string{"croncat1alice"}, nil, "croncat1bob")
	require.ErrorIs(t, err, core.ErrAgentNotRegistered)

	// nothing due short-circuits before the lookup
	base, extra, err := Equalize(core.SlotBlock, 0, []string{"croncat1alice"}, nil, "croncat1bob")
	require.NoError(t, err)
	require.Zero(t, base+extra)
}

func TestEqualizeSplitsBaseAndExtra(t *testing.T) {
	active := []string{"croncat1alice", "croncat1bob", "croncat1carol"}
	tests := []struct {
		name        string
		total       uint64
		agent       string
		base, extra uint64
	}{
		{"fewer tasks, first rank", 2, "croncat1alice", 1, 0},
		{"fewer tasks, second rank", 2, "croncat1bob", 1, 0},
		{"fewer tasks, last rank", 2, "croncat1carol", 0, 0},
		{"one each", 3, "croncat1carol", 1, 0},
		{"remainder, first rank", 5, "croncat1alice", 1, 1},
		{"remainder, last rank", 5, "croncat1carol", 1, 0},
		{"even split", 6, "croncat1bob", 2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, extra, err := Equalize(core.SlotBlock, tt.total, active, nil, tt.agent)
			require.NoError(t, err)
			require.Equal(t, tt.base, base)
			require.Equal(t, tt.extra, extra)
		})
	}
}

func TestStatsLifecycle(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()
	require.NoError(t, activeItem.Save(ctx, kv, []string{"croncat1alice"}))

	require.NoError(t, OnTaskCompleted(ctx, kv, "croncat1alice", core.SlotBlock, 10))
	require.NoError(t, OnTaskCompleted(ctx, kv, "croncat1alice", core.SlotCron, 12))
	s, err := statsMap.Load(ctx, kv, "croncat1alice")
	require.NoError(t, err)
	require.Equal(t, core.AgentStats{CompletedBlockTasks: 1, CompletedCronTasks: 1, LastExecutedSlot: 12}, s)

	require.ErrorIs(t, OnAgentUnregistered(ctx, kv, "croncat1alice"), core.ErrAgentStillActive)
	require.NoError(t, activeItem.Save(ctx, kv, []string{}))
	require.NoError(t, OnAgentUnregistered(ctx, kv, "croncat1alice"))
	has, err := statsMap.Has(ctx, kv, "croncat1alice")
	require.NoError(t, err)
	require.False(t, has)
}

func TestNominated(t *testing.T) {
	cfg := msgs.AgentsConfig{MinTasksPerAgent: 3, AgentNominationDuration: 10}
	require.Equal(t, uint64(0), agentsToLetIn(3, 1, 3))
	require.Equal(t, uint64(1), agentsToLetIn(3, 1, 4))
	require.Equal(t, uint64(2), agentsToLetIn(3, 1, 9))
	require.Equal(t, uint64(0), agentsToLetIn(0, 1, 9))

	start := uint64(100)
	status := nominationStatus{StartHeight: &start}
	require.Equal(t, uint64(0), nominated(cfg, status, 1, 0, 105))
	require.Equal(t, uint64(1), nominated(cfg, status, 1, 0, 110))
	require.Equal(t, uint64(3), nominated(cfg, status, 1, 0, 130))
	// the task load wins when it asks for more
	require.Equal(t, uint64(2), nominated(cfg, status, 1, 9, 110))
	require.Equal(t, uint64(2), nominated(cfg, nominationStatus{}, 1, 9, 500))
}
