package tasks

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

func (c *Contract) Query(ctx context.Context, deps chain.Deps, env chain.Env, raw json.RawMessage) ([]byte, error) {
	var msg msgs.TasksQueryMsg
	if err := msgs.Decode(raw, &msg); err != nil {
		return nil, err
	}
	kv := deps.Storage
	var (
		out any
		err error
	)
	switch {
	case msg.Config != nil:
		out, err = configItem.Load(ctx, kv)
	case msg.TasksTotal != nil:
		out, _, err = tasksTotal.May(ctx, kv)
	case msg.CurrentTaskInfo != nil:
		out, err = currentTaskInfo(ctx, kv)
	case msg.CurrentTask != nil:
		out, err = currentTask(ctx, kv, env)
	case msg.Task != nil:
		out, err = taskByHash(ctx, kv, msg.Task.TaskHash)
	case msg.Tasks != nil:
		out, err = listTasks(ctx, kv, msg.Tasks)
	case msg.EventedTasks != nil:
		out, err = listEvented(ctx, kv, msg.EventedTasks)
	case msg.TasksByOwner != nil:
		out, err = listByOwner(ctx, kv, msg.TasksByOwner)
	case msg.TaskHash != nil:
		var cfg msgs.TasksConfig
		if cfg, err = configItem.Load(ctx, kv); err == nil {
			out = msg.TaskHash.Task.Hash(cfg.ChainName)
		}
	case msg.SlotHashes != nil:
		out, err = slotHashes(ctx, kv, msg.SlotHashes.Slot)
	case msg.SlotIDs != nil:
		out, err = slotIDs(ctx, kv, msg.SlotIDs)
	case msg.SlotTasksTotal != nil:
		out, err = slotTasksTotal(ctx, kv, env, msg.SlotTasksTotal.Offset)
	default:
		out, err = listHooks(ctx, kv)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func currentTaskInfo(ctx context.Context, kv store.KV) (msgs.CurrentTaskInfoResponse, error) {
	total, _, err := tasksTotal.May(ctx, kv)
	if err != nil {
		return msgs.CurrentTaskInfoResponse{}, err
	}
	last, _, err := lastCreated.May(ctx, kv)
	return msgs.CurrentTaskInfoResponse{Total: total, LastCreatedTask: last}, err
}

func currentTask(ctx context.Context, kv store.KV, env chain.Env) (core.TaskResponse, error) {
	hash, ok, err := CurrentTaskHash(ctx, kv, env.Block.Height, env.Block.Time)
	if err != nil || !ok {
		return core.TaskResponse{}, err
	}
	return taskByHash(ctx, kv, hash)
}

func taskByHash(ctx context.Context, kv store.KV, hash string) (core.TaskResponse, error) {
	task, ok, err := tasksMap.May(ctx, kv, hash)
	if err != nil || !ok {
		return core.TaskResponse{}, err
	}
	return core.TaskResponse{Task: &core.TaskInfo{TaskHash: hash, Task: task}}, nil
}

func listTasks(ctx context.Context, kv store.KV, page *msgs.PageQuery) ([]core.TaskInfo, error) {
	from, limit := page.Page(defaultLimit, maxLimit)
	out := []core.TaskInfo{}
	var skipped uint64
	err := tasksMap.Range(ctx, kv, store.Bound[string]{}, store.Ascending, func(hash string, task core.Task) (bool, error) {
		if skipped < from {
			skipped++
			return true, nil
		}
		out = append(out, core.TaskInfo{TaskHash: hash, Task: task})
		return uint64(len(out)) < limit, nil
	})
	return out, err
}

// listEvented walks evented tasks ordered by boundary start, beginning at
// start when given.
func listEvented(ctx context.Context, kv store.KV, q *msgs.EventedTasks) ([]core.TaskInfo, error) {
	from, limit := (&msgs.PageQuery{FromIndex: q.FromIndex, Limit: q.Limit}).Page(defaultLimit, maxLimit)
	var start []byte
	if q.Start != nil {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], *q.Start)
		start = store.PairPrefix(string(b[:]))
	}
	out := []core.TaskInfo{}
	var skipped uint64
	err := eventedIndex.RangeRaw(ctx, kv, start, nil, store.Ascending, func(k store.Pair, _ bool) (bool, error) {
		if skipped < from {
			skipped++
			return true, nil
		}
		task, ok, err := tasksMap.May(ctx, kv, k.B)
		if err != nil {
			return false, err
		}
		if ok {
			out = append(out, core.TaskInfo{TaskHash: k.B, Task: task})
		}
		return uint64(len(out)) < limit, nil
	})
	return out, err
}

func listByOwner(ctx context.Context, kv store.KV, q *msgs.TasksByOwner) ([]core.TaskInfo, error) {
	_, limit := (&msgs.PageQuery{Limit: q.Limit}).Page(defaultLimit, maxLimit)
	out := []core.TaskInfo{}
	err := store.PairRange(ctx, kv, ownerIndex, q.OwnerAddr, q.StartAfter, store.Ascending, func(k store.Pair, _ bool) (bool, error) {
		task, ok, err := tasksMap.May(ctx, kv, k.B)
		if err != nil {
			return false, err
		}
		if ok {
			out = append(out, core.TaskInfo{TaskHash: k.B, Task: task})
		}
		return uint64(len(out)) < limit, nil
	})
	return out, err
}

// slotHashes returns the buckets at slot in both maps, or the lowest
// bucket of each when slot is omitted.
func slotHashes(ctx context.Context, kv store.KV, slot *uint64) (msgs.SlotHashesResponse, error) {
	out := msgs.SlotHashesResponse{BlockTaskHash: []string{}, TimeTaskHash: []string{}}
	lookup := func(kind core.SlotType) (uint64, []string, error) {
		m := slotMap(kind)
		if slot != nil {
			hashes, ok, err := m.May(ctx, kv, *slot)
			if err != nil || !ok {
				return 0, []string{}, err
			}
			return *slot, hashes, nil
		}
		var (
			key    uint64
			hashes = []string{}
		)
		err := m.Range(ctx, kv, store.Bound[uint64]{}, store.Ascending, func(k uint64, v []string) (bool, error) {
			key, hashes = k, v
			return false, nil
		})
		return key, hashes, err
	}
	var err error
	if out.BlockID, out.BlockTaskHash, err = lookup(core.SlotBlock); err != nil {
		return out, err
	}
	if out.TimeID, out.TimeTaskHash, err = lookup(core.SlotCron); err != nil {
		return out, err
	}
	return out, nil
}

func slotIDs(ctx context.Context, kv store.KV, page *msgs.PageQuery) (msgs.SlotIDsResponse, error) {
	from, limit := page.Page(defaultLimit, maxLimit)
	blocks, err := SlotKeys(ctx, kv, core.SlotBlock, from, limit)
	if err != nil {
		return msgs.SlotIDsResponse{}, err
	}
	times, err := SlotKeys(ctx, kv, core.SlotCron, from, limit)
	if err != nil {
		return msgs.SlotIDsResponse{}, err
	}
	return msgs.SlotIDsResponse{BlockIDs: blocks, TimeIDs: times}, nil
}

// slotTasksTotal counts tasks due now, or offset blocks (and offset time
// buckets) from now.
func slotTasksTotal(ctx context.Context, kv store.KV, env chain.Env, offset *uint64) (msgs.SlotTasksTotalResponse, error) {
	cfg, err := configItem.Load(ctx, kv)
	if err != nil {
		return msgs.SlotTasksTotalResponse{}, err
	}
	height, now := env.Block.Height, env.Block.Time
	if offset != nil {
		height = saturatingAdd(height, *offset)
		now = saturatingAdd(now, saturatingMul(*offset, cfg.SlotGranularityTime))
	}
	var out msgs.SlotTasksTotalResponse
	if out.BlockTasks, err = DueTaskCount(ctx, kv, core.SlotBlock, height); err != nil {
		return out, err
	}
	if out.CronTasks, err = DueTaskCount(ctx, kv, core.SlotCron, now); err != nil {
		return out, err
	}
	out.EventedTasks, _, err = eventedTotal.May(ctx, kv)
	return out, err
}

func listHooks(ctx context.Context, kv store.KV) ([]string, error) {
	out := []string{}
	err := hooksMap.Range(ctx, kv, store.Bound[string]{}, store.Ascending, func(addr string, _ bool) (bool, error) {
		out = append(out, addr)
		return true, nil
	})
	return out, err
}

func saturatingAdd(a, b uint64) uint64 {
	if a+b < a {
		return ^uint64(0)
	}
	return a + b
}

func saturatingMul(a, b uint64) uint64 {
	if a != 0 && b > ^uint64(0)/a {
		return ^uint64(0)
	}
	return a * b
}
