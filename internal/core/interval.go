package core

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"time"
)

type IntervalKind string

const (
	IntervalOnce      IntervalKind = "once"
	IntervalImmediate IntervalKind = "immediate"
	IntervalBlock     IntervalKind = "block"
	IntervalCron      IntervalKind = "cron"
)

// Interval says how often a task repeats. On the wire it is "once",
// "immediate", {"block":n} or {"cron":"expr"}.
type Interval struct {
	Kind  IntervalKind
	Block uint64
	Cron  string
}

func OnceInterval() Interval      { return Interval{Kind: IntervalOnce} }
func ImmediateInterval() Interval { return Interval{Kind: IntervalImmediate} }
func BlockInterval(n uint64) Interval {
	return Interval{Kind: IntervalBlock, Block: n}
}
func CronInterval(expr string) Interval {
	return Interval{Kind: IntervalCron, Cron: expr}
}

// IsRecurring reports whether the task is rescheduled after running.
func (i Interval) IsRecurring() bool {
	return i.Kind == IntervalBlock || i.Kind == IntervalCron
}

// Validate rejects zero block intervals and unparseable cron expressions.
func (i Interval) Validate() error {
	switch i.Kind {
	case IntervalOnce, IntervalImmediate:
		return nil
	case IntervalBlock:
		if i.Block == 0 {
			return fmt.Errorf("%w: block interval must be positive", ErrInvalidInterval)
		}
		return nil
	case IntervalCron:
		_, err := ParseCron(i.Cron)
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInterval, i.Kind)
	}
}

func (i Interval) String() string {
	switch i.Kind {
	case IntervalOnce:
		return "Once"
	case IntervalImmediate:
		return "Immediate"
	case IntervalBlock:
		return "Block(" + strconv.FormatUint(i.Block, 10) + ")"
	case IntervalCron:
		return "Cron(" + strconv.Quote(i.Cron) + ")"
	}
	return "Invalid"
}

func (i Interval) MarshalJSON() ([]byte, error) {
	switch i.Kind {
	case IntervalOnce, IntervalImmediate:
		return json.Marshal(string(i.Kind))
	case IntervalBlock:
		return json.Marshal(map[string]uint64{"block": i.Block})
	case IntervalCron:
		return json.Marshal(map[string]string{"cron": i.Cron})
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInterval, i.Kind)
}

func (i *Interval) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		switch IntervalKind(s) {
		case IntervalOnce, IntervalImmediate:
			*i = Interval{Kind: IntervalKind(s)}
			return nil
		}
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidInterval, s)
	}
	var obj struct {
		Block *uint64 `json:"block"`
		Cron  *string `json:"cron"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInterval, err)
	}
	switch {
	case obj.Block != nil && obj.Cron == nil:
		*i = BlockInterval(*obj.Block)
	case obj.Cron != nil && obj.Block == nil:
		*i = CronInterval(*obj.Cron)
	default:
		return fmt.Errorf("%w: expected exactly one of block or cron", ErrInvalidInterval)
	}
	return nil
}

// SlotType tells which slot map a task sits in. Time-bucketed slots are
// called cron slots regardless of the interval that produced them.
type SlotType string

const (
	SlotBlock SlotType = "block"
	SlotCron  SlotType = "cron"
)

// Slot is a bucket key in one of the two slot maps.
type Slot struct {
	Key  uint64   `json:"key"`
	Type SlotType `json:"type"`
}

// NextSlot resolves the slot a task is next due in. ok is false when the
// due point lies past boundary.End: the task has expired and the caller
// must treat it as finished.
func NextSlot(interval Interval, boundary BoundaryValidated, height, timeNanos, granularity uint64) (slot Slot, ok bool, err error) {
	switch interval.Kind {
	case IntervalOnce, IntervalImmediate:
		if boundary.IsBlockBoundary {
			slot = Slot{Type: SlotBlock, Key: max(height+1, boundary.Start)}
		} else {
			slot = Slot{Type: SlotCron, Key: timeBucketAfter(max(timeNanos, boundary.Start), timeNanos, granularity)}
		}
	case IntervalBlock:
		n := interval.Block
		if n == 0 {
			return Slot{}, false, fmt.Errorf("%w: block interval must be positive", ErrInvalidInterval)
		}
		key := boundary.Start
		if height >= boundary.Start {
			steps := (height-boundary.Start)/n + 1
			hi, lo := bits.Mul64(steps, n)
			sum, carry := bits.Add64(boundary.Start, lo, 0)
			if hi != 0 || carry != 0 {
				return Slot{}, false, nil
			}
			key = sum
		}
		slot = Slot{Type: SlotBlock, Key: key}
	case IntervalCron:
		schedule, err := ParseCron(interval.Cron)
		if err != nil {
			return Slot{}, false, err
		}
		from := timeNanos
		if boundary.Start > 0 && boundary.Start-1 > from {
			from = boundary.Start - 1
		}
		next := schedule.Next(time.Unix(0, int64(from)).UTC())
		if next.IsZero() {
			return Slot{}, false, nil
		}
		slot = Slot{Type: SlotCron, Key: timeBucketAfter(uint64(next.UnixNano()), timeNanos, granularity)}
	default:
		return Slot{}, false, fmt.Errorf("%w: unknown kind %q", ErrInvalidInterval, interval.Kind)
	}
	if boundary.End != nil && slot.Key > *boundary.End {
		return slot, false, nil
	}
	return slot, true, nil
}

// timeBucketAfter quantizes due down to granularity, moving it to the next
// bucket when it would land in or before the bucket now belongs to.
func timeBucketAfter(due, now, granularity uint64) uint64 {
	if granularity == 0 {
		granularity = 1
	}
	key := due - due%granularity
	current := now - now%granularity
	if key <= current {
		key = current + granularity
	}
	return key
}
