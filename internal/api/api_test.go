package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/require"

	"croncat/internal/chain"
	"croncat/internal/deploy/deploytest"
	"croncat/internal/logging"
	"croncat/internal/metrics"
	"croncat/internal/node"
	"croncat/internal/store"
)

const token = "secret"

type harness struct {
	env *deploytest.Env
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	env := deploytest.New(t)
	n := node.New(env.App, env.Deployment, 5*time.Second, logging.Discard())
	reg := prometheus.NewRegistry()
	metrics.MustNewMetrics(reg).SetBlockHeight(env.App.Block().Height)
	s := NewServer("", n, logging.Discard(), Options{
		AuthToken: token,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{env: env, srv: srv}
}

func (h *harness) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func TestAuth(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/v1/chain/block")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(h.srv.URL + "/v1/chain/block?token=" + token)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.Contains(t, buf.String(), "croncat_host_block_height")
}

func TestChainEndpoints(t *testing.T) {
	h := newHarness(t)

	var block blockResponse
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/chain/block", nil, &block))
	require.Equal(t, chain.DefaultChainID, block.ChainID)
	start := block.Height

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/chain/blocks", advanceRequest{Count: 2, SecondsPerBlock: 1}, &block))
	require.Equal(t, start+2, block.Height)

	// empty body advances one block
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/chain/blocks", nil, &block))
	require.Equal(t, start+3, block.Height)

	var e apiError
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/chain/blocks", advanceRequest{Count: 20_000}, &e))
	require.Equal(t, "invalid_input", e.Error.Code)

	var coins []chain.Coin
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/chain/balances/"+deploytest.Alice, nil, &coins))
	require.Len(t, coins, 1)
	require.Equal(t, deploytest.Denom, coins[0].Denom)
}

func TestExecuteAndQuery(t *testing.T) {
	h := newHarness(t)

	register := map[string]any{"sender": deploytest.Bob, "msg": json.RawMessage(`{"register_agent":{}}`)}
	var res chain.TxResult
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/contracts/agents/execute", register, &res))
	require.NotEmpty(t, res.Events)

	var e apiError
	require.Equal(t, http.StatusUnprocessableEntity, h.do(t, http.MethodPost, "/v1/contracts/agents/execute", register, &e))
	require.Equal(t, "tx_failed", e.Error.Code)

	proxy := map[string]any{"sender": deploytest.Alice, "msg": json.RawMessage(`{"proxy_call":{}}`)}
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/v1/contracts/manager/execute", proxy, &e))
	require.Equal(t, "agent_not_registered", e.Error.Code)

	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/v1/contracts/oracle/execute", proxy, &e))
	require.Equal(t, "unknown_contract", e.Error.Code)

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/contracts/agents/execute", map[string]any{"msg": json.RawMessage(`{}`)}, &e))
	require.Equal(t, "invalid_input", e.Error.Code)

	var total uint64
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/contracts/tasks/query", `{"tasks_total":{}}`, &total))
	require.Zero(t, total)

	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/contracts/tasks/query", `{"bogus":{}}`, &e))
	require.Equal(t, "invalid_msg", e.Error.Code)

	var contracts struct {
		Deployment map[string]any    `json:"deployment"`
		Latest     []json.RawMessage `json:"latest"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/v1/contracts", nil, &contracts))
	require.Len(t, contracts.Latest, 3)
	require.Equal(t, h.env.Manager, contracts.Deployment["manager"])
}

func TestCreateTaskThroughAPI(t *testing.T) {
	h := newHarness(t)
	create := map[string]any{
		"sender": deploytest.Alice,
		"msg": json.RawMessage(`{"create_task":{"task":{"interval":"once","stop_on_fail":false,"actions":[` +
			`{"msg":{"bank":{"send":{"to_address":"croncat1carol","amount":[{"denom":"ucron","amount":"10"}]}}}}]}}}`),
		"funds": []chain.Coin{deploytest.Coins(100_000)},
	}
	var res chain.TxResult
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/contracts/tasks/execute", create, &res))
	ev, ok := res.Event("wasm", "action", "create_task")
	require.True(t, ok)
	hash, _ := ev.Attr("task_hash")
	require.NotEmpty(t, hash)

	var task struct {
		Task *struct {
			TaskHash string `json:"task_hash"`
		} `json:"task"`
	}
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/contracts/tasks/query", `{"task":{"task_hash":"`+hash+`"}}`, &task))
	require.NotNil(t, task.Task)
	require.Equal(t, hash, task.Task.TaskHash)
}

func TestCronPreview(t *testing.T) {
	h := newHarness(t)

	var out cronPreviewResponse
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/cron/preview", cronPreviewRequest{Expr: "*/15 * * * *", From: "2024-03-01T00:00:00Z", Count: 2}, &out))
	require.True(t, out.Valid)
	require.Equal(t, []string{"2024-03-01T00:15:00Z", "2024-03-01T00:30:00Z"}, out.NextTimes)
	require.Len(t, out.Slots, 2)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/cron/preview", cronPreviewRequest{Expr: "not cron"}, &out))
	require.False(t, out.Valid)
	require.Contains(t, out.Message, "invalid interval")

	var apiErr apiError
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/cron/preview", cronPreviewRequest{}, &apiErr))
	require.Equal(t, "invalid_input", apiErr.Error.Code)
	require.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/cron/preview", cronPreviewRequest{Expr: "@daily", From: "yesterday"}, &apiErr))
}

func TestStatusFor(t *testing.T) {
	status, code := statusFor(node.ErrTaskNotFound)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "not_found", code)
}

func TestAuthMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := AuthMiddleware(token)(ok)

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"bearer", "Bearer " + token, "", http.StatusNoContent},
		{"query", "", "?token=" + token, http.StatusNoContent},
		{"wrong bearer", "Bearer nope", "", http.StatusUnauthorized},
		{"basic scheme", "Basic " + token, "", http.StatusUnauthorized},
		{"empty", "", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/chain/block"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusUnauthorized {
				var e apiError
				require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
				require.Equal(t, "unauthenticated", e.Error.Code)
			}
		})
	}

	open := AuthMiddleware("")(ok)
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestListBlocks(t *testing.T) {
	h := newHarness(t)
	var e apiError
	require.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/chain/blocks", nil, &e))

	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	for height := uint64(1); height <= 3; height++ {
		require.NoError(t, st.InsertBlock(ctx, &store.BlockRecord{Height: height, TimeNanos: height * 1000, TxCount: int(height)}))
	}

	n := node.New(h.env.App, h.env.Deployment, 5*time.Second, logging.Discard())
	srv := httptest.NewServer(NewServer("", n, logging.Discard(), Options{Blocks: st}).Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/v1/chain/blocks?limit=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var blocks []store.BlockRecord
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&blocks))
	require.Len(t, blocks, 2)
	require.Equal(t, uint64(3), blocks[0].Height)
	require.Equal(t, 2, blocks[1].TxCount)

	bad, err := http.Get(srv.URL + "/v1/chain/blocks?limit=abc")
	require.NoError(t, err)
	bad.Body.Close()
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
