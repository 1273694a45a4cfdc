package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"croncat/internal/chain"
)

// TaskWatcher turns task lifecycle events into notifications. Observe is
// registered with chain.App.OnTx and never blocks the host; Run delivers.
type TaskWatcher struct {
	notifier Notifier
	logger   *slog.Logger
	queue    chan Notification
}

func NewTaskWatcher(n Notifier, logger *slog.Logger, buffer int) *TaskWatcher {
	if buffer <= 0 {
		buffer = 64
	}
	return &TaskWatcher{notifier: n, logger: logger, queue: make(chan Notification, buffer)}
}

// Observe queues the notifications of res, dropping them when the queue is full.
func (w *TaskWatcher) Observe(res chain.TxResult) {
	for _, n := range Describe(res) {
		select {
		case w.queue <- n:
		default:
			w.logger.Warn("notification dropped", "title", n.Title, "height", res.Height)
		}
	}
}

// Run sends queued notifications until ctx is done.
func (w *TaskWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-w.queue:
			sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			if err := w.notifier.Send(sendCtx, n); err != nil {
				w.logger.Error("send notification", "title", n.Title, "err", err)
			}
			cancel()
		}
	}
}

// Describe extracts task created, action failed and task ended
// notifications from a transaction's wasm events.
func Describe(res chain.TxResult) []Notification {
	txHash := attrIn(res.Events, "task_hash")
	var out []Notification
	for _, e := range res.Events {
		if e.Type != "wasm" {
			continue
		}
		hash, ok := e.Attr("task_hash")
		if !ok {
			hash = txHash
		}
		if action, _ := e.Attr("action"); action == "create_task" {
			owner, _ := e.Attr("owner_addr")
			out = append(out, Notification{
				Kind:     KindTaskCreated,
				TaskHash: hash,
				Height:   res.Height,
				Title:    "CronCat task created",
				Body:     fmt.Sprintf("task %s by %s at height %d", hash, owner, res.Height),
			})
		}
		if failed, _ := e.Attr("failed"); failed == "true" {
			agent, _ := e.Attr("agent_id")
			if agent == "" {
				agent = attrIn(res.Events, "agent_id")
			}
			out = append(out, Notification{
				Kind:     KindActionFailed,
				TaskHash: hash,
				Height:   res.Height,
				Title:    "CronCat task action failed",
				Body:     fmt.Sprintf("task %s executed by %s at height %d", hash, agent, res.Height),
			})
		}
		if lc, _ := e.Attr("lifecycle"); lc == "task_ended" {
			out = append(out, Notification{
				Kind:     KindTaskEnded,
				TaskHash: hash,
				Height:   res.Height,
				Title:    "CronCat task ended",
				Body:     fmt.Sprintf("task %s ended at height %d", hash, res.Height),
			})
		}
	}
	return out
}

func attrIn(events []chain.Event, key string) string {
	for _, e := range events {
		if v, ok := e.Attr(key); ok {
			return v
		}
	}
	return ""
}
