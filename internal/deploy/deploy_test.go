package deploy_test

import (
	"encoding/json"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"croncat/internal/core"
	"croncat/internal/deploy"
	"croncat/internal/deploy/deploytest"
	"croncat/internal/msgs"
	"croncat/internal/valuepath"
)

const carol = "croncat1carol"

func TestBootstrapRegistersModules(t *testing.T) {
	env := deploytest.New(t)

	var latest []msgs.ContractMetadataInfo
	env.Query(env.Factory, msgs.FactoryQueryMsg{LatestContracts: &msgs.Empty{}}, &latest)
	require.Len(t, latest, 3)

	loaded, err := deploy.Load(env.Ctx, env.App, env.Codes)
	require.NoError(t, err)
	require.Equal(t, env.Manager, loaded.Manager)
	require.Equal(t, env.Tasks, loaded.Tasks)
	require.Equal(t, env.Agents, loaded.Agents)

	addr, ok := loaded.Addr(core.TasksName)
	require.True(t, ok)
	require.Equal(t, env.Tasks, addr)
	_, ok = loaded.Addr("unknown")
	require.False(t, ok)
}

// A one-shot bank send runs once, pays the agent and treasury, refunds the
// owner and leaves no task state behind.
func TestOnceTaskEndToEnd(t *testing.T) {
	env := deploytest.New(t)
	env.RegisterAgent(deploytest.Bob)

	height := env.App.Block().Height
	end := height + 10
	hash := env.CreateTask(deploytest.Alice, core.TaskRequest{
		Interval: core.OnceInterval(),
		Boundary: &core.Boundary{Height: &core.BoundaryRange{End: &end}},
		Actions:  []core.Action{deploytest.BankSend(carol, 10)},
	}, deploytest.Coins(100_000))
	require.NotNil(t, env.Task(hash))

	var listed []core.TaskInfo
	env.Query(env.Tasks, msgs.TasksQueryMsg{Tasks: &msgs.PageQuery{}}, &listed)
	require.Len(t, listed, 1)
	require.Equal(t, hash, listed[0].TaskHash)
	require.Equal(t, height, listed[0].Boundary.Start)
	require.Equal(t, end, *listed[0].Boundary.End)

	var total uint64
	env.Query(env.Tasks, msgs.TasksQueryMsg{TasksTotal: &msgs.Empty{}}, &total)
	require.Equal(t, uint64(1), total)
	var ids msgs.SlotIDsResponse
	env.Query(env.Tasks, msgs.TasksQueryMsg{SlotIDs: &msgs.PageQuery{}}, &ids)
	require.Equal(t, []uint64{height + 1}, ids.BlockIDs)
	var slot msgs.SlotHashesResponse
	env.Query(env.Tasks, msgs.TasksQueryMsg{SlotHashes: &msgs.SlotHashesQuery{}}, &slot)
	require.Equal(t, height+1, slot.BlockID)
	require.Equal(t, []string{hash}, slot.BlockTaskHash)

	// due next block
	_, err := env.Execute(deploytest.Bob, env.Manager, msgs.ManagerExecuteMsg{ProxyCall: &msgs.ProxyCall{}})
	require.ErrorIs(t, err, core.ErrNoTaskFound)

	env.Advance(1)
	bobBefore := env.Balance(deploytest.Bob)
	env.MustExecute(deploytest.Bob, env.Manager, msgs.ManagerExecuteMsg{ProxyCall: &msgs.ProxyCall{}})

	require.Equal(t, uint64(10), env.Balance(carol))
	require.Nil(t, env.Task(hash))
	require.Nil(t, env.TaskBalance(hash))

	env.Query(env.Tasks, msgs.TasksQueryMsg{TasksTotal: &msgs.Empty{}}, &total)
	require.Zero(t, total)
	ids = msgs.SlotIDsResponse{}
	env.Query(env.Tasks, msgs.TasksQueryMsg{SlotIDs: &msgs.PageQuery{}}, &ids)
	require.Empty(t, ids.BlockIDs)
	require.Empty(t, ids.TimeIDs)
	slot = msgs.SlotHashesResponse{}
	env.Query(env.Tasks, msgs.TasksQueryMsg{SlotHashes: &msgs.SlotHashesQuery{}}, &slot)
	require.Empty(t, slot.BlockTaskHash)

	// gas 430_000: fee 25_800, agent 1_290, treasury 1_290
	require.Equal(t, uint64(100_000_000-28_390), env.Balance(deploytest.Alice))
	var reward math.Int
	env.Query(env.Manager, msgs.ManagerQueryMsg{AgentRewards: &msgs.AgentIDQuery{AgentID: deploytest.Bob}}, &reward)
	require.Equal(t, int64(27_090), reward.Int64())
	var treasury math.Int
	env.Query(env.Manager, msgs.ManagerQueryMsg{TreasuryBalance: &msgs.Empty{}}, &treasury)
	require.Equal(t, int64(1_290), treasury.Int64())

	var agent msgs.AgentResponse
	env.Query(env.Agents, msgs.AgentsQueryMsg{GetAgent: &msgs.AccountQuery{AccountID: deploytest.Bob}}, &agent)
	require.NotNil(t, agent.Agent)
	require.Equal(t, uint64(1), agent.Agent.CompletedBlockTasks)
	require.Equal(t, int64(27_090), agent.Agent.Balance.Int64())

	env.MustExecute(deploytest.Bob, env.Manager, msgs.ManagerExecuteMsg{AgentWithdraw: &msgs.AgentWithdraw{}})
	require.Equal(t, bobBefore+27_090, env.Balance(deploytest.Bob))

	// everything left in the manager is the treasury
	require.Equal(t, uint64(1_290), env.Balance(env.Manager))
	var held msgs.BalancesResponse
	env.Query(env.Manager, msgs.ManagerQueryMsg{Balances: &msgs.PageQuery{}}, &held)
	require.Len(t, held.Native, 1)
	require.Equal(t, int64(1_290), held.Native[0].Amount.Int64())

	env.MustExecute(deploytest.Owner, env.Manager, msgs.ManagerExecuteMsg{OwnerWithdraw: &msgs.Empty{}})
	require.Zero(t, env.Balance(env.Manager))
}

func TestEventedTaskWithTransform(t *testing.T) {
	env := deploytest.New(t)
	env.RegisterAgent(deploytest.Bob)
	oracle := env.Oracle()

	zero := json.RawMessage(`0`)
	check, _ := json.Marshal(deploytest.OracleQuery{Check: &struct{}{}})
	hash := env.CreateTask(deploytest.Alice, core.TaskRequest{
		Interval: core.OnceInterval(),
		Actions:  []core.Action{deploytest.OracleCall(oracle, deploytest.OracleMsg{Record: &zero})},
		Queries: []core.CosmosQuery{{Croncat: &core.CroncatQuery{
			ContractAddr: oracle,
			Msg:          check,
			CheckResult:  true,
		}}},
		Transforms: []core.Transform{{
			ActionIdx:         0,
			QueryIdx:          0,
			ActionPath:        valuepath.Path{valuepath.Key("record")},
			QueryResponsePath: valuepath.Path{valuepath.Key("amount")},
		}},
	}, deploytest.Coins(100_000))

	var evented []core.TaskInfo
	env.Query(env.Tasks, msgs.TasksQueryMsg{EventedTasks: &msgs.EventedTasks{}}, &evented)
	require.Len(t, evented, 1)
	require.Equal(t, hash, evented[0].TaskHash)

	call := msgs.ManagerExecuteMsg{ProxyCall: &msgs.ProxyCall{TaskHash: &hash}}
	_, err := env.Execute(deploytest.Bob, env.Manager, call)
	require.ErrorIs(t, err, core.ErrTaskNotReady)

	_, err = env.Execute(deploytest.Alice, env.Manager, call)
	require.ErrorIs(t, err, core.ErrAgentNotRegistered)

	env.MustExecute(deploytest.Owner, oracle, deploytest.OracleMsg{Set: &deploytest.OracleState{
		Ready: true,
		Data:  json.RawMessage(`{"amount":"42"}`),
	}})
	env.MustExecute(deploytest.Bob, env.Manager, call)

	got := env.Recorded(oracle)
	require.Len(t, got, 1)
	require.JSONEq(t, `"42"`, string(got[0]))
	require.Nil(t, env.Task(hash))
}
