package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const granularity = uint64(10 * time.Second)

func u64(v uint64) *uint64 { return &v }

func TestNextSlotBlockBased(t *testing.T) {
	tests := []struct {
		name     string
		interval Interval
		boundary BoundaryValidated
		height   uint64
		want     uint64
		ok       bool
	}{
		{"once no start", OnceInterval(), BoundaryValidated{Start: 100, IsBlockBoundary: true}, 100, 101, true},
		{"once future start", OnceInterval(), BoundaryValidated{Start: 150, IsBlockBoundary: true}, 100, 150, true},
		{"immediate", ImmediateInterval(), BoundaryValidated{Start: 10, IsBlockBoundary: true}, 100, 101, true},
		{"block at start", BlockInterval(5), BoundaryValidated{Start: 100, IsBlockBoundary: true}, 100, 105, true},
		{"block mid period", BlockInterval(5), BoundaryValidated{Start: 100, IsBlockBoundary: true}, 103, 105, true},
		{"block on multiple", BlockInterval(5), BoundaryValidated{Start: 100, IsBlockBoundary: true}, 105, 110, true},
		{"block before start", BlockInterval(5), BoundaryValidated{Start: 120, IsBlockBoundary: true}, 100, 120, true},
		{"block end exact", BlockInterval(5), BoundaryValidated{Start: 100, End: u64(110), IsBlockBoundary: true}, 106, 110, true},
		{"block past end", BlockInterval(5), BoundaryValidated{Start: 100, End: u64(109), IsBlockBoundary: true}, 106, 110, false},
		{"once past end", OnceInterval(), BoundaryValidated{Start: 100, End: u64(100), IsBlockBoundary: true}, 100, 101, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot, ok, err := NextSlot(tt.interval, tt.boundary, tt.height, 0, granularity)
			require.NoError(t, err)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, SlotBlock, slot.Type)
			require.Equal(t, tt.want, slot.Key)
		})
	}
}

func TestNextSlotTimeBased(t *testing.T) {
	// 2024-01-01T00:00:03Z
	now := uint64(time.Date(2024, 1, 1, 0, 0, 3, 0, time.UTC).UnixNano())
	bucket := now - now%granularity

	slot, ok, err := NextSlot(OnceInterval(), BoundaryValidated{Start: now}, 1, now, granularity)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, Slot{Key: bucket + granularity, Type: SlotCron}, slot)

	// every minute: next fire 00:01:00, already on a bucket edge
	slot, ok, err = NextSlot(CronInterval("* * * * *"), BoundaryValidated{Start: now}, 1, now, granularity)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(time.Date(2024, 1, 1, 0, 1, 0, 0, time.UTC).UnixNano()), slot.Key)
	require.Equal(t, SlotCron, slot.Type)

	// start in the future pushes the first fire past it
	start := uint64(time.Date(2024, 1, 1, 6, 0, 0, 0, time.UTC).UnixNano())
	slot, ok, err = NextSlot(CronInterval("0 * * * *"), BoundaryValidated{Start: start}, 1, now, granularity)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, start, slot.Key)

	end := uint64(time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC).UnixNano())
	_, ok, err = NextSlot(CronInterval("* * * * *"), BoundaryValidated{Start: now, End: &end}, 1, now, granularity)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNextSlotQuantizesDown(t *testing.T) {
	g := uint64(time.Minute)
	now := uint64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	// fires every 2nd minute at 00:02; a 1 minute bucket keeps it at 00:02
	slot, _, err := NextSlot(CronInterval("*/2 * * * *"), BoundaryValidated{Start: now}, 1, now, g)
	require.NoError(t, err)
	require.Equal(t, now+2*g, slot.Key)

	// a 5 minute bucket pulls 00:02 down to 00:00, which is the current
	// bucket, so it moves to 00:05
	slot, _, err = NextSlot(CronInterval("*/2 * * * *"), BoundaryValidated{Start: now}, 1, now, 5*g)
	require.NoError(t, err)
	require.Equal(t, now+5*g, slot.Key)
}

func TestNextSlotMonotonic(t *testing.T) {
	intervals := []Interval{OnceInterval(), ImmediateInterval(), BlockInterval(1), BlockInterval(7), BlockInterval(100)}
	for _, interval := range intervals {
		for start := uint64(1); start <= 50; start += 7 {
			for height := start; height < start+120; height += 3 {
				for _, end := range []*uint64{nil, u64(start + 30), u64(start + 200)} {
					b := BoundaryValidated{Start: start, End: end, IsBlockBoundary: true}
					slot, ok, err := NextSlot(interval, b, height, 0, granularity)
					require.NoError(t, err)
					require.GreaterOrEqual(t, slot.Key, height, "%s start=%d height=%d", interval, start, height)
					if ok && end != nil {
						require.LessOrEqual(t, slot.Key, *end)
					}
					if !ok {
						require.NotNil(t, end, "only a bounded task can expire")
						require.Greater(t, slot.Key, *end)
					}
				}
			}
		}
	}

	now := uint64(time.Date(2024, 3, 1, 12, 0, 7, 0, time.UTC).UnixNano())
	for _, expr := range []string{"* * * * *", "*/5 * * * *", "0 0 * * *", "30 2 1 * *"} {
		for step := uint64(0); step < 20; step++ {
			cur := now + step*uint64(37*time.Second)
			slot, ok, err := NextSlot(CronInterval(expr), BoundaryValidated{Start: now}, 1, cur, granularity)
			require.NoError(t, err)
			require.True(t, ok)
			require.Greater(t, slot.Key, cur, expr)
		}
	}
}

func TestNextSlotRejectsBadInterval(t *testing.T) {
	_, _, err := NextSlot(BlockInterval(0), BoundaryValidated{IsBlockBoundary: true}, 1, 0, granularity)
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, _, err = NextSlot(CronInterval("not a cron"), BoundaryValidated{}, 1, 0, granularity)
	require.ErrorIs(t, err, ErrInvalidInterval)

	_, _, err = NextSlot(CronInterval("@every 1m"), BoundaryValidated{}, 1, 0, granularity)
	require.ErrorIs(t, err, ErrInvalidInterval)
}

func TestIntervalJSON(t *testing.T) {
	for raw, want := range map[string]Interval{
		`"once"`:              OnceInterval(),
		`"immediate"`:         ImmediateInterval(),
		`{"block":12}`:        BlockInterval(12),
		`{"cron":"0 * * * *"}`: CronInterval("0 * * * *"),
	} {
		var got Interval
		require.NoError(t, json.Unmarshal([]byte(raw), &got), raw)
		require.Equal(t, want, got)
		out, err := json.Marshal(got)
		require.NoError(t, err)
		require.JSONEq(t, raw, string(out))
	}

	var bad Interval
	require.ErrorIs(t, json.Unmarshal([]byte(`"weekly"`), &bad), ErrInvalidInterval)
	require.ErrorIs(t, json.Unmarshal([]byte(`{"block":1,"cron":"* * * * *"}`), &bad), ErrInvalidInterval)
}

func TestPreviewCronSlots(t *testing.T) {
	now := uint64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).UnixNano())
	slots, err := PreviewCronSlots("*/15 * * * *", now, granularity, 3)
	require.NoError(t, err)
	require.Equal(t, []uint64{
		now + uint64(15*time.Minute),
		now + uint64(30*time.Minute),
		now + uint64(45*time.Minute),
	}, slots)
}
