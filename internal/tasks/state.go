package tasks

import (
	"encoding/binary"

	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

var (
	configItem = store.NewItem[msgs.TasksConfig]("config")
	tasksMap   = store.NewMap[string, core.Task]("tasks", store.StringKey{})
	// ownerIndex is keyed by (owner, task hash).
	ownerIndex = store.NewMap[store.Pair, bool]("tasks_by_owner", store.PairKey{})
	// eventedIndex is keyed by (big-endian boundary start, task hash).
	eventedIndex = store.NewMap[store.Pair, bool]("evented_tasks", store.PairKey{})
	hooksMap     = store.NewMap[string, bool]("hooks", store.StringKey{})

	tasksTotal   = store.NewItem[uint64]("tasks_total")
	eventedTotal = store.NewItem[uint64]("evented_total")
	lastCreated  = store.NewItem[uint64]("last_created_task")
)

func eventedKey(start uint64, hash string) store.Pair {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], start)
	return store.Pair{A: string(b[:]), B: hash}
}
