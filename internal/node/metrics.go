package node

import (
	"context"

	"croncat/internal/chain"
	"croncat/internal/metrics"
	"croncat/internal/msgs"
)

// RecordMetrics feeds task and agent counters from committed transactions.
func (n *Node) RecordMetrics(m *metrics.Metrics) {
	n.app.OnTx(func(res chain.TxResult) {
		agentsTouched := false
		for _, e := range res.Events {
			if e.Type != "wasm" {
				continue
			}
			if addr(e) == n.d.Agents {
				agentsTouched = true
			}
			action, _ := e.Attr("action")
			if action == "create_task" {
				m.TaskCreated()
			}
			if action == "remove_task" && addr(e) == n.d.Tasks {
				m.TaskRemoved("owner")
			}
			if failed, ok := e.Attr("failed"); ok {
				slotType, _ := e.Attr("slot_type")
				outcome := "success"
				if failed == "true" {
					outcome = "failed"
				}
				m.TaskExecuted(slotType, outcome)
			}
			if lc, _ := e.Attr("lifecycle"); lc == "task_ended" {
				m.TaskRemoved("ended")
			}
		}
		if !agentsTouched {
			return
		}
		var ids msgs.GetAgentIDsResponse
		if err := n.app.QueryJSON(context.Background(), n.d.Agents, msgs.AgentsQueryMsg{GetAgentIDs: &msgs.PageQuery{}}, &ids); err != nil {
			n.logger.Warn("count active agents", "err", err)
			return
		}
		m.SetActiveAgents(len(ids.Active))
	})
}

func addr(e chain.Event) string {
	a, _ := e.Attr("_contract_address")
	return a
}
