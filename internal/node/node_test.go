package node_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/deploy/deploytest"
	"croncat/internal/logging"
	"croncat/internal/metrics"
	"croncat/internal/node"
)

func newNode(t *testing.T) (*deploytest.Env, *node.Node) {
	env := deploytest.New(t)
	return env, node.New(env.App, env.Deployment, 5*time.Second, logging.Discard())
}

func TestResolve(t *testing.T) {
	env, n := newNode(t)
	addr, err := n.Resolve("manager")
	require.NoError(t, err)
	require.Equal(t, env.Manager, addr)

	addr, err = n.Resolve(env.Agents)
	require.NoError(t, err)
	require.Equal(t, env.Agents, addr)

	_, err = n.Resolve("oracle")
	require.ErrorIs(t, err, node.ErrUnknownContract)
}

func TestTaskLifecycle(t *testing.T) {
	env, n := newNode(t)
	ctx := context.Background()
	_, err := n.Execute(ctx, "agents", deploytest.Bob, json.RawMessage(`{"register_agent":{}}`), nil)
	require.NoError(t, err)

	status, err := n.AgentStatus(ctx, deploytest.Bob)
	require.NoError(t, err)
	require.NotNil(t, status.Agent)
	require.Equal(t, core.AgentActive, status.Agent.Status)
	require.NotNil(t, status.Tasks)
	require.Zero(t, status.Tasks.NumBlockTasks)

	hash, res, err := n.CreateTask(ctx, deploytest.Alice, core.TaskRequest{
		Interval: core.OnceInterval(),
		Actions:  []core.Action{deploytest.BankSend(deploytest.Owner, 10)},
	}, []chain.Coin{deploytest.Coins(100_000)})
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	require.Equal(t, env.App.Block().Height, res.Height)

	task, err := n.Task(ctx, hash)
	require.NoError(t, err)
	require.Equal(t, deploytest.Alice, task.Owner)

	all, err := n.Tasks(ctx, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	mine, err := n.Tasks(ctx, deploytest.Alice, 0, 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	theirs, err := n.Tasks(ctx, deploytest.Bob, 0, 10)
	require.NoError(t, err)
	require.Empty(t, theirs)

	current, err := n.CurrentTask(ctx)
	require.NoError(t, err)
	require.Nil(t, current)

	_, err = n.ProxyCall(ctx, deploytest.Bob, nil)
	require.ErrorIs(t, err, core.ErrNoTaskFound)

	block, err := n.Advance(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, res.Height+1, block.Height)

	current, err = n.CurrentTask(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	require.Equal(t, hash, current.TaskHash)

	_, err = n.ProxyCall(ctx, deploytest.Bob, nil)
	require.NoError(t, err)
	_, err = n.Task(ctx, hash)
	require.ErrorIs(t, err, node.ErrTaskNotFound)

	coins, err := n.Balances(ctx, deploytest.Owner)
	require.NoError(t, err)
	require.Equal(t, "100000010", coins[0].Amount.String())
	empty, err := n.Balances(ctx, "croncat1nobody")
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestRemoveTask(t *testing.T) {
	_, n := newNode(t)
	ctx := context.Background()
	hash, _, err := n.CreateTask(ctx, deploytest.Alice, core.TaskRequest{
		Interval: core.BlockInterval(5),
		Actions:  []core.Action{deploytest.BankSend(deploytest.Owner, 10)},
	}, []chain.Coin{deploytest.Coins(100_000)})
	require.NoError(t, err)

	_, err = n.RemoveTask(ctx, deploytest.Bob, hash)
	require.ErrorIs(t, err, core.ErrUnauthorized)
	_, err = n.RemoveTask(ctx, deploytest.Alice, hash)
	require.NoError(t, err)
	_, err = n.Task(ctx, hash)
	require.ErrorIs(t, err, node.ErrTaskNotFound)
}

func TestAdvanceBounds(t *testing.T) {
	_, n := newNode(t)
	ctx := context.Background()
	before := n.Block()
	after, err := n.Advance(ctx, 3, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, before.Height+3, after.Height)
	require.Equal(t, before.Time+uint64(6*time.Second), after.Time)

	_, err = n.Advance(ctx, 10_001, 0)
	require.Error(t, err)
}

func TestPreviewCron(t *testing.T) {
	_, n := newNode(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 10, 30, 0, 0, time.UTC)

	p, err := n.PreviewCron(ctx, "0 * * * *", 3, base)
	require.NoError(t, err)
	var fired []string
	for _, ts := range p.NextTimes {
		fired = append(fired, ts.UTC().Format(time.RFC3339))
	}
	require.Equal(t, []string{"2024-01-01T11:00:00Z", "2024-01-01T12:00:00Z", "2024-01-01T13:00:00Z"}, fired)
	require.Len(t, p.Slots, 3)
	for i := 1; i < len(p.Slots); i++ {
		require.Greater(t, p.Slots[i], p.Slots[i-1])
	}

	_, err = n.PreviewCron(ctx, "@every 1m", 3, base)
	require.ErrorIs(t, err, core.ErrInvalidInterval)
}

func TestContracts(t *testing.T) {
	_, n := newNode(t)
	entries, err := n.Contracts(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 3)
}

func TestRecordMetrics(t *testing.T) {
	_, n := newNode(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	n.RecordMetrics(metrics.MustNewMetrics(reg))

	_, err := n.Execute(ctx, "agents", deploytest.Bob, json.RawMessage(`{"register_agent":{}}`), nil)
	require.NoError(t, err)
	_, _, err = n.CreateTask(ctx, deploytest.Alice, core.TaskRequest{
		Interval: core.OnceInterval(),
		Actions:  []core.Action{deploytest.BankSend(deploytest.Owner, 10)},
	}, []chain.Coin{deploytest.Coins(100_000)})
	require.NoError(t, err)
	_, err = n.Advance(ctx, 1, 0)
	require.NoError(t, err)
	_, err = n.ProxyCall(ctx, deploytest.Bob, nil)
	require.NoError(t, err)

	expected := `
# HELP croncat_tasks_created_total Tasks created.
# TYPE croncat_tasks_created_total counter
croncat_tasks_created_total 1
# HELP croncat_tasks_removed_total Tasks removed, by reason.
# TYPE croncat_tasks_removed_total counter
croncat_tasks_removed_total{reason="ended"} 1
# HELP croncat_manager_tasks_executed_total Proxy calls finalized, by slot type and outcome.
# TYPE croncat_manager_tasks_executed_total counter
croncat_manager_tasks_executed_total{outcome="success",slot_type="block"} 1
# HELP croncat_agents_active Number of active agents after the latest agents transaction.
# TYPE croncat_agents_active gauge
croncat_agents_active 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"croncat_tasks_created_total",
		"croncat_tasks_removed_total",
		"croncat_manager_tasks_executed_total",
		"croncat_agents_active",
	))
}
