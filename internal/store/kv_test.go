package store

import (
	"context"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, kv KV, start, end []byte, order Order) []string {
	t.Helper()
	it, err := kv.Iterator(context.Background(), start, end, order)
	require.NoError(t, err)
	defer it.Close()
	var keys []string
	for ; it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.NoError(t, it.Error())
	return keys
}

func seed(t *testing.T, kv KV, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, kv.Set(context.Background(), []byte(k), []byte("v-"+k)))
	}
}

func TestMemoryKVOrderedIteration(t *testing.T) {
	kv := NewMemoryKV()
	seed(t, kv, "c", "a", "e", "b", "d")

	require.Equal(t, []string{"a", "b", "c", "d", "e"}, collect(t, kv, nil, nil, Ascending))
	require.Equal(t, []string{"e", "d", "c", "b", "a"}, collect(t, kv, nil, nil, Descending))
	require.Equal(t, []string{"b", "c"}, collect(t, kv, []byte("b"), []byte("d"), Ascending))
	require.Equal(t, []string{"c", "b"}, collect(t, kv, []byte("b"), []byte("d"), Descending))

	require.NoError(t, kv.Delete(context.Background(), []byte("c")))
	require.Equal(t, 4, kv.Len())
	v, err := kv.Get(context.Background(), []byte("c"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestCacheKVShadowsParent(t *testing.T) {
	ctx := context.Background()
	parent := NewMemoryKV()
	seed(t, parent, "a", "b", "c")

	cache := NewCacheKV(parent)
	require.NoError(t, cache.Delete(ctx, []byte("b")))
	require.NoError(t, cache.Set(ctx, []byte("bb"), []byte("new")))
	require.NoError(t, cache.Set(ctx, []byte("c"), []byte("changed")))

	require.Equal(t, []string{"a", "bb", "c"}, collect(t, cache, nil, nil, Ascending))
	require.Equal(t, []string{"c", "bb", "a"}, collect(t, cache, nil, nil, Descending))

	// parent untouched until Write
	require.Equal(t, []string{"a", "b", "c"}, collect(t, parent, nil, nil, Ascending))

	require.NoError(t, cache.Write(ctx))
	require.Equal(t, []string{"a", "bb", "c"}, collect(t, parent, nil, nil, Ascending))
	v, err := parent.Get(ctx, []byte("c"))
	require.NoError(t, err)
	require.Equal(t, "changed", string(v))
}

func TestCacheKVDiscard(t *testing.T) {
	ctx := context.Background()
	parent := NewMemoryKV()
	seed(t, parent, "a")

	cache := NewCacheKV(parent)
	nested := NewCacheKV(cache)
	require.NoError(t, nested.Set(ctx, []byte("x"), []byte("1")))
	require.NoError(t, nested.Write(ctx))
	require.Equal(t, []string{"a", "x"}, collect(t, cache, nil, nil, Ascending))

	// cache dropped without Write: parent stays as it was
	require.Equal(t, []string{"a"}, collect(t, parent, nil, nil, Ascending))
}

func TestPrefixKVIsolation(t *testing.T) {
	ctx := context.Background()
	root := NewMemoryKV()
	left := NewPrefixKV(root, []byte("left/"))
	right := NewPrefixKV(root, []byte("right/"))
	seed(t, left, "1", "2")
	seed(t, right, "1")

	require.Equal(t, []string{"1", "2"}, collect(t, left, nil, nil, Ascending))
	require.Equal(t, []string{"1"}, collect(t, right, nil, nil, Ascending))
	require.Equal(t, 3, root.Len())

	v, err := right.Get(ctx, []byte("2"))
	require.NoError(t, err)
	require.Nil(t, v)
}

func TestPrefixEnd(t *testing.T) {
	require.Equal(t, []byte("b"), PrefixEnd([]byte("a")))
	require.Equal(t, []byte{0x01}, PrefixEnd([]byte{0x00, 0xff}))
	require.Nil(t, PrefixEnd([]byte{0xff, 0xff}))
	require.Nil(t, PrefixEnd(nil))
}

func TestTypedMapRange(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	slots := NewMap[uint64, []string]("slots", Uint64Key{})
	other := NewMap[uint64, string]("slotsx", Uint64Key{})

	for _, h := range []uint64{300, 5, 42, 1 << 40} {
		require.NoError(t, slots.Save(ctx, kv, h, []string{strconv.FormatUint(h, 10)}))
	}
	require.NoError(t, other.Save(ctx, kv, 1, "noise"))

	var got []uint64
	hi := uint64(300)
	err := slots.Range(ctx, kv, Bound[uint64]{Max: &hi}, Ascending, func(k uint64, _ []string) (bool, error) {
		got = append(got, k)
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{5, 42, 300}, got)

	got = nil
	lo := uint64(5)
	err = slots.Range(ctx, kv, Bound[uint64]{Min: &lo, MinExclusive: true}, Descending, func(k uint64, _ []string) (bool, error) {
		got = append(got, k)
		return len(got) < 2, nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{1 << 40, 300}, got)

	ok, err := slots.Has(ctx, kv, 42)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = slots.Load(ctx, kv, 7)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPairRange(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	byOwner := NewMap[Pair, bool]("owner_tasks", PairKey{})
	require.NoError(t, byOwner.Save(ctx, kv, Pair{A: "alice", B: "h1"}, true))
	require.NoError(t, byOwner.Save(ctx, kv, Pair{A: "alice", B: "h2"}, true))
	require.NoError(t, byOwner.Save(ctx, kv, Pair{A: "alice", B: "h3"}, true))
	require.NoError(t, byOwner.Save(ctx, kv, Pair{A: "alicex", B: "h9"}, true))

	var got []string
	after := "h1"
	err := PairRange(ctx, kv, byOwner, "alice", &after, Ascending, func(p Pair, _ bool) (bool, error) {
		require.Equal(t, "alice", p.A)
		got = append(got, p.B)
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"h2", "h3"}, got)
}

func TestItem(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	cfg := NewItem[map[string]int]("config")

	_, ok, err := cfg.May(ctx, kv)
	require.NoError(t, err)
	require.False(t, ok)
	_, err = cfg.Load(ctx, kv)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, cfg.Save(ctx, kv, map[string]int{"limit": 3}))
	v, err := cfg.Load(ctx, kv)
	require.NoError(t, err)
	require.Equal(t, 3, v["limit"])
}

func TestSQLiteKV(t *testing.T) {
	ctx := context.Background()
	st, err := Open(ctx, t.TempDir())
	require.NoError(t, err)
	defer st.Close()

	keys := make([]string, 0, 150)
	for i := 0; i < 150; i++ {
		keys = append(keys, "k"+strconv.Itoa(1000+i))
	}
	seed(t, st, keys...)

	got := collect(t, st, nil, nil, Ascending)
	require.Len(t, got, 150)
	require.Equal(t, "k1000", got[0])
	require.Equal(t, "k1149", got[149])

	got = collect(t, st, []byte("k1010"), []byte("k1100"), Descending)
	require.Len(t, got, 90)
	require.Equal(t, "k1099", got[0])
	require.Equal(t, "k1010", got[89])

	require.NoError(t, st.InsertBlock(ctx, &BlockRecord{Height: 7, TimeNanos: 99, TxCount: 2}))
	latest, err := st.LatestBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(7), latest.Height)
	require.Equal(t, 2, latest.TxCount)
}

func TestRedisKV(t *testing.T) {
	addr := os.Getenv("CRONCAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CRONCAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	kv := NewRedisKV(addr, "", 0, "croncat-test-"+strconv.Itoa(os.Getpid()))
	defer kv.Close()
	require.NoError(t, kv.Ping(ctx))

	seed(t, kv, "b", "a", "c")
	t.Cleanup(func() {
		for _, k := range []string{"a", "b", "c"} {
			_ = kv.Delete(ctx, []byte(k))
		}
	})
	require.Equal(t, []string{"a", "b", "c"}, collect(t, kv, nil, nil, Ascending))
	require.Equal(t, []string{"c", "b"}, collect(t, kv, []byte("b"), nil, Descending))
}
