package tasks_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"croncat/internal/core"
	"croncat/internal/deploy/deploytest"
	"croncat/internal/msgs"
)

func TestCreateTaskIndexes(t *testing.T) {
	env := deploytest.New(t)
	h0 := env.App.Block().Height
	blockHash := env.CreateTask(deploytest.Alice, core.TaskRequest{
		Interval: core.BlockInterval(4),
		Actions:  []core.Action{deploytest.BankSend("croncat1carol", 1)},
	}, deploytest.Coins(100_000))
	cronHash := env.CreateTask(deploytest.Alice, core.TaskRequest{
		Interval: core.CronInterval("* * * * *"),
		Actions:  []core.Action{deploytest.BankSend("croncat1carol", 2)},
	}, deploytest.Coins(100_000))
	bobHash := env.CreateTask(deploytest.Bob, core.TaskRequest{
		Interval: core.OnceInterval(),
		Actions:  []core.Action{deploytest.BankSend("croncat1carol", 3)},
	}, deploytest.Coins(100_000))

	var total uint64
	env.Query(env.Tasks, msgs.TasksQueryMsg{TasksTotal: &msgs.Empty{}}, &total)
	require.Equal(t, uint64(3), total)

	var info msgs.CurrentTaskInfoResponse
	env.Query(env.Tasks, msgs.TasksQueryMsg{CurrentTaskInfo: &msgs.Empty{}}, &info)
	require.Equal(t, uint64(3), info.Total)
	require.Equal(t, env.App.Block().Time, info.LastCreatedTask)

	task := env.Task(blockHash)
	require.Equal(t, core.Slot{Key: h0 + 4, Type: core.SlotBlock}, *task.Slot)
	require.Equal(t, deploytest.Alice, task.Owner)
	require.Equal(t, core.SlotCron, env.Task(cronHash).Slot.Type)

	var hash string
	env.Query(env.Tasks, msgs.TasksQueryMsg{TaskHash: &msgs.TaskHashQuery{Task: task.Task}}, &hash)
	require.Equal(t, blockHash, hash)

	var mine []core.TaskInfo
	env.Query(env.Tasks, msgs.TasksQueryMsg{TasksByOwner: &msgs.TasksByOwner{OwnerAddr: deploytest.Alice}}, &mine)
	require.Len(t, mine, 2)
	var bobs []core.TaskInfo
	env.Query(env.Tasks, msgs.TasksQueryMsg{TasksByOwner: &msgs.TasksByOwner{OwnerAddr: deploytest.Bob}}, &bobs)
	require.Len(t, bobs, 1)
	require.Equal(t, bobHash, bobs[0].TaskHash)

	var page []core.TaskInfo
	env.Query(env.Tasks, msgs.TasksQueryMsg{Tasks: &msgs.PageQuery{FromIndex: msgs.Ptr[uint64](1), Limit: msgs.Ptr[uint64](5)}}, &page)
	require.Len(t, page, 2)

	var ids msgs.SlotIDsResponse
	env.Query(env.Tasks, msgs.TasksQueryMsg{SlotIDs: &msgs.PageQuery{}}, &ids)
	require.Equal(t, []uint64{h0 + 1, h0 + 4}, ids.BlockIDs)
	require.Len(t, ids.TimeIDs, 1)

	var slot msgs.SlotHashesResponse
	env.Query(env.Tasks, msgs.TasksQueryMsg{SlotHashes: &msgs.SlotHashesQuery{Slot: msgs.Ptr(h0 + 4)}}, &slot)
	require.Equal(t, []string{blockHash}, slot.BlockTaskHash)

	// nothing is due in the creation block
	var due msgs.SlotTasksTotalResponse
	env.Query(env.Tasks, msgs.TasksQueryMsg{SlotTasksTotal: &msgs.SlotTasksTotal{}}, &due)
	require.Equal(t, msgs.SlotTasksTotalResponse{}, due)
	env.Query(env.Tasks, msgs.TasksQueryMsg{SlotTasksTotal: &msgs.SlotTasksTotal{Offset: msgs.Ptr[uint64](4)}}, &due)
	require.Equal(t, uint64(2), due.BlockTasks)

	env.Advance(1)
	var current core.TaskResponse
	env.Query(env.Tasks, msgs.TasksQueryMsg{CurrentTask: &msgs.Empty{}}, &current)
	require.NotNil(t, current.Task)
	require.Equal(t, bobHash, current.Task.TaskHash)
}

func TestCreateTaskRejectsDuplicates(t *testing.T) {
	env := deploytest.New(t)
	req := core.TaskRequest{Interval: core.OnceInterval(), Actions: []core.Action{deploytest.BankSend("croncat1carol", 1)}}
	env.CreateTask(deploytest.Alice, req, deploytest.Coins(100_000))
	_, err := env.Execute(deploytest.Alice, env.Tasks, msgs.TasksExecuteMsg{CreateTask: &msgs.CreateTask{Task: req}}, deploytest.Coins(100_000))
	require.ErrorIs(t, err, core.ErrTaskExists)

	// another owner hashes differently
	env.CreateTask(deploytest.Bob, req, deploytest.Coins(100_000))
}

func TestCreateTaskRejectsBadBoundary(t *testing.T) {
	env := deploytest.New(t)
	past := env.App.Block().Height
	req := core.TaskRequest{
		Interval: core.BlockInterval(1),
		Boundary: &core.Boundary{Height: &core.BoundaryRange{End: &past}},
		Actions:  []core.Action{deploytest.BankSend("croncat1carol", 1)},
	}
	_, err := env.Execute(deploytest.Alice, env.Tasks, msgs.TasksExecuteMsg{CreateTask: &msgs.CreateTask{Task: req}}, deploytest.Coins(100_000))
	require.ErrorIs(t, err, core.ErrInvalidBoundary)

	req.Boundary = &core.Boundary{Time: &core.BoundaryRange{}}
	_, err = env.Execute(deploytest.Alice, env.Tasks, msgs.TasksExecuteMsg{CreateTask: &msgs.CreateTask{Task: req}}, deploytest.Coins(100_000))
	require.ErrorIs(t, err, core.ErrInvalidBoundary)
}

func TestTaskHooksAreManagerOnly(t *testing.T) {
	env := deploytest.New(t)
	hash := env.CreateTask(deploytest.Alice, core.TaskRequest{
		Interval: core.BlockInterval(2),
		Actions:  []core.Action{deploytest.BankSend("croncat1carol", 1)},
	}, deploytest.Coins(100_000))

	for _, msg := range []msgs.TasksExecuteMsg{
		{RemoveTaskHook: &msgs.TaskHashMsg{TaskHash: hash}},
		{RescheduleTaskHook: &msgs.TaskHashMsg{TaskHash: hash}},
	} {
		_, err := env.Execute(deploytest.Alice, env.Tasks, msg)
		require.ErrorIs(t, err, core.ErrUnauthorized)
	}
	require.NotNil(t, env.Task(hash))
}

func TestPausedTasksRefuseCreation(t *testing.T) {
	env := deploytest.New(t)
	env.Admin(env.Tasks, msgs.TasksExecuteMsg{UpdateConfig: &msgs.TasksUpdateConfig{Paused: msgs.Ptr(true)}})

	req := core.TaskRequest{Interval: core.OnceInterval(), Actions: []core.Action{deploytest.BankSend("croncat1carol", 1)}}
	_, err := env.Execute(deploytest.Alice, env.Tasks, msgs.TasksExecuteMsg{CreateTask: &msgs.CreateTask{Task: req}}, deploytest.Coins(100_000))
	require.ErrorIs(t, err, core.ErrPaused)

	_, err = env.Execute(deploytest.Alice, env.Tasks, msgs.TasksExecuteMsg{UpdateConfig: &msgs.TasksUpdateConfig{Paused: msgs.Ptr(false)}})
	require.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestFailingHookDoesNotBlockTasks(t *testing.T) {
	env := deploytest.New(t)
	hook := env.Oracle()
	env.Admin(env.Tasks, msgs.TasksExecuteMsg{AddHook: &msgs.HookMsg{Addr: hook}})

	var hooks []string
	env.Query(env.Tasks, msgs.TasksQueryMsg{Hooks: &msgs.Empty{}}, &hooks)
	require.Equal(t, []string{hook}, hooks)

	req := core.TaskRequest{Interval: core.OnceInterval(), Actions: []core.Action{deploytest.BankSend("croncat1carol", 1)}}
	res := env.MustExecute(deploytest.Alice, env.Tasks, msgs.TasksExecuteMsg{CreateTask: &msgs.CreateTask{Task: req}}, deploytest.Coins(100_000))
	_, swallowed := res.Event("wasm", "action", "hook_failed")
	require.True(t, swallowed)

	env.Admin(env.Tasks, msgs.TasksExecuteMsg{RemoveHook: &msgs.HookMsg{Addr: hook}})
	env.Query(env.Tasks, msgs.TasksQueryMsg{Hooks: &msgs.Empty{}}, &hooks)
	require.Empty(t, hooks)
}
