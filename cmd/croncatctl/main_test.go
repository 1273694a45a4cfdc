package main

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"croncat/internal/api"
	"croncat/internal/client"
	"croncat/internal/deploy/deploytest"
	"croncat/internal/logging"
	"croncat/internal/node"
)

func startDaemon(t *testing.T) string {
	env := deploytest.New(t)
	n := node.New(env.App, env.Deployment, 5*time.Second, logging.Discard())
	srv := httptest.NewServer(api.NewServer("", n, logging.Discard(), api.Options{AuthToken: "secret"}).Handler())
	t.Cleanup(srv.Close)
	return srv.URL
}

func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--addr", url, "--token", "secret"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

const bankTask = `{"create_task":{"task":{"interval":"once","actions":[` +
	`{"msg":{"bank":{"send":{"to_address":"croncat1carol","amount":[{"denom":"ucron","amount":"10"}]}}}}]}}}`

func TestAgentFlow(t *testing.T) {
	url := startDaemon(t)

	out, err := run(t, url, "agent", "status", deploytest.Bob)
	require.NoError(t, err)
	require.Contains(t, out, "is not registered")

	out, err = run(t, url, "agent", "register", deploytest.Bob)
	require.NoError(t, err)
	require.Contains(t, out, "action=register_agent")

	out, err = run(t, url, "agent", "status", deploytest.Bob)
	require.NoError(t, err)
	require.Contains(t, out, `"status": "active"`)
	require.Contains(t, out, `"num_block_tasks": 0`)

	out, err = run(t, url, "execute", "tasks", bankTask, "--sender", deploytest.Alice, "--funds", "100000ucron")
	require.NoError(t, err)
	require.Contains(t, out, "action=create_task")

	out, err = run(t, url, "tasks", "list", "--owner", deploytest.Alice)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	hash := strings.Split(lines[0], "\t")[0]

	out, err = run(t, url, "tasks", "get", hash)
	require.NoError(t, err)
	require.Contains(t, out, `"owner_addr": "croncat1alice"`)

	_, err = run(t, url, "advance", "-n", "1")
	require.NoError(t, err)

	out, err = run(t, url, "agent", "proxy-call", deploytest.Bob)
	require.NoError(t, err)
	require.Contains(t, out, "lifecycle=task_ended")

	out, err = run(t, url, "tasks", "list")
	require.NoError(t, err)
	require.Equal(t, "no tasks\n", out)

	_, err = run(t, url, "tasks", "get", hash)
	require.ErrorContains(t, err, "not found")

	out, err = run(t, url, "agent", "unregister", deploytest.Bob)
	require.NoError(t, err)
	require.Contains(t, out, "action=unregister_agent")
}

func TestChainCommands(t *testing.T) {
	url := startDaemon(t)

	out, err := run(t, url, "block")
	require.NoError(t, err)
	require.Contains(t, out, `"chain_id": "croncat-local-1"`)

	out, err = run(t, url, "balances", deploytest.Alice)
	require.NoError(t, err)
	require.Equal(t, "100000000ucron\n", out)

	out, err = run(t, url, "query", "tasks", `{"tasks_total":{}}`)
	require.NoError(t, err)
	require.Equal(t, "0\n", out)

	out, err = run(t, url, "contracts")
	require.NoError(t, err)
	require.Contains(t, out, `"deployment"`)

	_, err = run(t, url, "query", "tasks", `{not json`)
	require.ErrorContains(t, err, "not valid JSON")

	_, err = run(t, url, "execute", "oracle", `{}`, "--sender", deploytest.Alice)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "unknown_contract", apiErr.Code)

	_, err = run(t, url, "execute", "tasks", `{}`)
	require.ErrorContains(t, err, "sender")
}

func TestRejectsBadToken(t *testing.T) {
	url := startDaemon(t)
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", url, "--token", "wrong", "block"})
	err := cmd.Execute()
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, 401, apiErr.Status)
}
