package notify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"croncat/internal/core"
	"croncat/internal/deploy/deploytest"
	"croncat/internal/logging"
	"croncat/internal/msgs"
	"croncat/internal/notify"
)

type recorder struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (r *recorder) Send(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, n.Title)
	return r.err
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

func TestBarkNotifier(t *testing.T) {
	var query map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		q := r.URL.Query()
		require.Equal(t, "/key", r.URL.Path)
		query = map[string]string{}
		for k := range q {
			query[k] = q.Get(k)
		}
	}))
	defer srv.Close()

	b, err := notify.NewBarkNotifier(srv.URL + "/key/")
	require.NoError(t, err)
	require.NoError(t, b.Send(context.Background(), notify.Notification{
		Kind:     notify.KindActionFailed,
		TaskHash: "croncat-local-1:abc",
		Title:    "hello",
		Body:     "world",
	}))
	require.Equal(t, map[string]string{
		"title": "hello",
		"body":  "world",
		"group": "croncat",
		"level": "timeSensitive",
		"copy":  "croncat-local-1:abc",
	}, query)

	require.NoError(t, b.Send(context.Background(), notify.Notification{Kind: notify.KindTaskEnded, Title: "t"}))
	require.Equal(t, "active", query["level"])
	require.NotContains(t, query, "copy")

	_, err = notify.NewBarkNotifier("")
	require.Error(t, err)
}

func TestBarkNotifierReportsHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	b, err := notify.NewBarkNotifier(srv.URL)
	require.NoError(t, err)
	require.ErrorContains(t, b.Send(context.Background(), notify.Notification{Kind: notify.KindTaskEnded}), "status 502")
}

func TestMultiNotifierTriesEveryone(t *testing.T) {
	boom := errors.New("boom")
	first := &recorder{err: boom}
	second := &recorder{}
	err := notify.NewMultiNotifier(first, second, notify.NoOpNotifier{}).Send(context.Background(), notify.Notification{Title: "t"})
	require.ErrorIs(t, err, boom)
	require.Equal(t, []string{"t"}, second.got())
}

func TestWatcherFollowsTaskLifecycle(t *testing.T) {
	env := deploytest.New(t)
	env.RegisterAgent(deploytest.Bob)

	rec := &recorder{}
	w := notify.NewTaskWatcher(rec, logging.Discard(), 8)
	env.App.OnTx(w.Observe)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	env.CreateTask(deploytest.Alice, core.TaskRequest{
		Interval: core.OnceInterval(),
		Actions:  []core.Action{deploytest.BankSend(deploytest.Owner, 10)},
	}, deploytest.Coins(100_000))
	env.Advance(1)
	env.MustExecute(deploytest.Bob, env.Manager, msgs.ManagerExecuteMsg{ProxyCall: &msgs.ProxyCall{}})

	require.Eventually(t, func() bool { return len(rec.got()) == 2 }, time.Second, 10*time.Millisecond)
	require.Equal(t, []string{"CronCat task created", "CronCat task ended"}, rec.got())

	cancel()
	require.NoError(t, <-done)
}

func TestDescribeFailedAction(t *testing.T) {
	env := deploytest.New(t)
	env.RegisterAgent(deploytest.Bob)
	oracle := env.Oracle()
	env.CreateTask(deploytest.Alice, core.TaskRequest{
		Interval: core.BlockInterval(1),
		Actions:  []core.Action{deploytest.OracleCall(oracle, deploytest.OracleMsg{Fail: &struct{}{}})},
	}, deploytest.Coins(1_000_000))
	env.Advance(1)
	res := env.MustExecute(deploytest.Bob, env.Manager, msgs.ManagerExecuteMsg{ProxyCall: &msgs.ProxyCall{}})

	var kinds []notify.Kind
	for _, n := range notify.Describe(*res) {
		kinds = append(kinds, n.Kind)
		require.Equal(t, res.Height, n.Height)
		require.NotEmpty(t, n.TaskHash)
		require.Contains(t, n.Body, "height")
	}
	require.Equal(t, []notify.Kind{notify.KindActionFailed}, kinds)
}
