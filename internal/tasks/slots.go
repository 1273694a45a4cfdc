package tasks

import (
	"context"
	"fmt"
	"slices"

	"croncat/internal/core"
	"croncat/internal/store"
)

// maxSlotScan bounds how many due buckets a single scan visits.
const maxSlotScan = 1000

var (
	blockSlots = store.NewMap[uint64, []string]("block_slots", store.Uint64Key{})
	timeSlots  = store.NewMap[uint64, []string]("time_slots", store.Uint64Key{})
)

func slotMap(kind core.SlotType) store.Map[uint64, []string] {
	if kind == core.SlotBlock {
		return blockSlots
	}
	return timeSlots
}

// PushSlot appends hash to the bucket at slot.
func PushSlot(ctx context.Context, kv store.KV, slot core.Slot, hash string) error {
	m := slotMap(slot.Type)
	hashes, _, err := m.May(ctx, kv, slot.Key)
	if err != nil {
		return err
	}
	return m.Save(ctx, kv, slot.Key, append(hashes, hash))
}

// PopOne removes and returns the last hash pushed into the bucket. The
// bucket is deleted once it is empty.
func PopOne(ctx context.Context, kv store.KV, key uint64, kind core.SlotType) (string, error) {
	m := slotMap(kind)
	hashes, ok, err := m.May(ctx, kv, key)
	if err != nil {
		return "", err
	}
	if !ok || len(hashes) == 0 {
		return "", fmt.Errorf("%w: %s slot %d is empty", core.ErrNoTaskFound, kind, key)
	}
	hash := hashes[len(hashes)-1]
	hashes = hashes[:len(hashes)-1]
	if len(hashes) == 0 {
		err = m.Remove(ctx, kv, key)
	} else {
		err = m.Save(ctx, kv, key, hashes)
	}
	return hash, err
}

// RemoveFromSlot takes hash out of its bucket wherever it sits.
func RemoveFromSlot(ctx context.Context, kv store.KV, slot core.Slot, hash string) error {
	m := slotMap(slot.Type)
	hashes, ok, err := m.May(ctx, kv, slot.Key)
	if err != nil || !ok {
		return err
	}
	if n := len(hashes); n > 0 && hashes[n-1] == hash {
		_, err := PopOne(ctx, kv, slot.Key, slot.Type)
		return err
	}
	hashes = slices.DeleteFunc(hashes, func(h string) bool { return h == hash })
	if len(hashes) == 0 {
		return m.Remove(ctx, kv, slot.Key)
	}
	return m.Save(ctx, kv, slot.Key, hashes)
}

// CurrentDueSlots returns the lowest due key of each slot map, nil when
// nothing is due. Callers prefer the block slot when both are set.
func CurrentDueSlots(ctx context.Context, kv store.KV, height, timeNanos uint64) (block *uint64, time *uint64, err error) {
	first := func(m store.Map[uint64, []string], now uint64) (*uint64, error) {
		var found *uint64
		err := m.Range(ctx, kv, store.Bound[uint64]{Max: &now}, store.Ascending, func(k uint64, _ []string) (bool, error) {
			found = &k
			return false, nil
		})
		return found, err
	}
	if block, err = first(blockSlots, height); err != nil {
		return nil, nil, err
	}
	if time, err = first(timeSlots, timeNanos); err != nil {
		return nil, nil, err
	}
	return block, time, nil
}

// CurrentTaskHash picks the task the next proxy call should run: the tail
// of the lowest due bucket, block slots first.
func CurrentTaskHash(ctx context.Context, kv store.KV, height, timeNanos uint64) (string, bool, error) {
	block, time, err := CurrentDueSlots(ctx, kv, height, timeNanos)
	if err != nil {
		return "", false, err
	}
	var (
		key  uint64
		kind core.SlotType
	)
	switch {
	case block != nil:
		key, kind = *block, core.SlotBlock
	case time != nil:
		key, kind = *time, core.SlotCron
	default:
		return "", false, nil
	}
	hashes, err := slotMap(kind).Load(ctx, kv, key)
	if err != nil {
		return "", false, err
	}
	if len(hashes) == 0 {
		return "", false, nil
	}
	return hashes[len(hashes)-1], true, nil
}

// DueTaskCount counts hashes in buckets with key <= now.
func DueTaskCount(ctx context.Context, kv store.KV, kind core.SlotType, now uint64) (uint64, error) {
	var (
		total   uint64
		visited int
	)
	err := slotMap(kind).Range(ctx, kv, store.Bound[uint64]{Max: &now}, store.Ascending, func(_ uint64, hashes []string) (bool, error) {
		total += uint64(len(hashes))
		visited++
		return visited < maxSlotScan, nil
	})
	return total, err
}

// SlotKeys lists bucket keys in ascending order, skipping from.
func SlotKeys(ctx context.Context, kv store.KV, kind core.SlotType, from, limit uint64) ([]uint64, error) {
	out := []uint64{}
	var skipped uint64
	err := slotMap(kind).Range(ctx, kv, store.Bound[uint64]{}, store.Ascending, func(k uint64, _ []string) (bool, error) {
		if skipped < from {
			skipped++
			return true, nil
		}
		out = append(out, k)
		return uint64(len(out)) < limit, nil
	})
	return out, err
}
