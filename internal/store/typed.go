package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// KeyCodec maps typed keys onto order-preserving byte strings.
type KeyCodec[K any] interface {
	Encode(K) []byte
	Decode([]byte) (K, error)
}

// Uint64Key encodes big-endian so byte order equals numeric order.
type Uint64Key struct{}

func (Uint64Key) Encode(k uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, k)
	return out
}

func (Uint64Key) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("uint64 key: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// StringKey stores the raw string bytes.
type StringKey struct{}

func (StringKey) Encode(k string) []byte          { return []byte(k) }
func (StringKey) Decode(b []byte) (string, error) { return string(b), nil }

// Pair is a composite key; all pairs sharing A are contiguous.
type Pair struct {
	A string
	B string
}

// PairKey length-prefixes A with two bytes.
type PairKey struct{}

func (PairKey) Encode(k Pair) []byte {
	out := PairPrefix(k.A)
	return append(out, k.B...)
}

func (PairKey) Decode(b []byte) (Pair, error) {
	if len(b) < 2 {
		return Pair{}, errors.New("pair key: too short")
	}
	n := int(binary.BigEndian.Uint16(b[:2]))
	if len(b) < 2+n {
		return Pair{}, errors.New("pair key: truncated")
	}
	return Pair{A: string(b[2 : 2+n]), B: string(b[2+n:])}, nil
}

// PairPrefix is the encoded prefix shared by every Pair with the given A.
func PairPrefix(a string) []byte {
	out := make([]byte, 2, 2+len(a))
	binary.BigEndian.PutUint16(out, uint16(len(a)))
	return append(out, a...)
}

func namespaceKey(namespace string) []byte {
	out := make([]byte, 2, 2+len(namespace))
	binary.BigEndian.PutUint16(out, uint16(len(namespace)))
	return append(out, namespace...)
}

// Item is a single JSON value stored under a fixed key.
type Item[T any] struct {
	key []byte
}

func NewItem[T any](key string) Item[T] {
	return Item[T]{key: []byte(key)}
}

// Key returns the raw storage key, used by raw cross-contract queries.
func (i Item[T]) Key() []byte { return i.key }

func (i Item[T]) Load(ctx context.Context, kv KV) (T, error) {
	v, ok, err := i.May(ctx, kv)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, fmt.Errorf("item %s: %w", i.key, ErrNotFound)
	}
	return v, nil
}

func (i Item[T]) May(ctx context.Context, kv KV) (T, bool, error) {
	var out T
	raw, err := kv.Get(ctx, i.key)
	if err != nil || raw == nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode item %s: %w", i.key, err)
	}
	return out, true, nil
}

func (i Item[T]) Save(ctx context.Context, kv KV, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", i.key, err)
	}
	return kv.Set(ctx, i.key, raw)
}

func (i Item[T]) Remove(ctx context.Context, kv KV) error {
	return kv.Delete(ctx, i.key)
}

// Map stores JSON values under a namespace with typed keys.
type Map[K, V any] struct {
	prefix []byte
	codec  KeyCodec[K]
}

func NewMap[K, V any](namespace string, codec KeyCodec[K]) Map[K, V] {
	return Map[K, V]{prefix: namespaceKey(namespace), codec: codec}
}

// Key returns the raw storage key for k.
func (m Map[K, V]) Key(k K) []byte {
	enc := m.codec.Encode(k)
	out := make([]byte, 0, len(m.prefix)+len(enc))
	out = append(out, m.prefix...)
	return append(out, enc...)
}

func (m Map[K, V]) Load(ctx context.Context, kv KV, k K) (V, error) {
	v, ok, err := m.May(ctx, kv, k)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, ErrNotFound
	}
	return v, nil
}

func (m Map[K, V]) May(ctx context.Context, kv KV, k K) (V, bool, error) {
	var out V
	raw, err := kv.Get(ctx, m.Key(k))
	if err != nil || raw == nil {
		return out, false, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode map value: %w", err)
	}
	return out, true, nil
}

func (m Map[K, V]) Has(ctx context.Context, kv KV, k K) (bool, error) {
	raw, err := kv.Get(ctx, m.Key(k))
	return raw != nil, err
}

func (m Map[K, V]) Save(ctx context.Context, kv KV, k K, v V) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode map value: %w", err)
	}
	return kv.Set(ctx, m.Key(k), raw)
}

func (m Map[K, V]) Remove(ctx context.Context, kv KV, k K) error {
	return kv.Delete(ctx, m.Key(k))
}

// Bound limits a typed range scan; nil ends are open.
type Bound[K any] struct {
	Min          *K
	MinExclusive bool
	Max          *K
	MaxExclusive bool
}

// Range walks entries within bound. fn returns false to stop early.
func (m Map[K, V]) Range(ctx context.Context, kv KV, bound Bound[K], order Order, fn func(K, V) (bool, error)) error {
	var start, end []byte
	if bound.Min != nil {
		start = m.codec.Encode(*bound.Min)
		if bound.MinExclusive {
			start = Successor(start)
		}
	}
	if bound.Max != nil {
		end = m.codec.Encode(*bound.Max)
		if !bound.MaxExclusive {
			end = Successor(end)
		}
	}
	return m.RangeRaw(ctx, kv, start, end, order, fn)
}

// RangeRaw walks entries whose encoded key (without namespace) lies in
// [start, end). Used for prefix scans over composite keys.
func (m Map[K, V]) RangeRaw(ctx context.Context, kv KV, start, end []byte, order Order, fn func(K, V) (bool, error)) error {
	s := append(append([]byte(nil), m.prefix...), start...)
	var e []byte
	if end != nil {
		e = append(append([]byte(nil), m.prefix...), end...)
	} else {
		e = PrefixEnd(m.prefix)
	}
	it, err := kv.Iterator(ctx, s, e, order)
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		k, err := m.codec.Decode(it.Key()[len(m.prefix):])
		if err != nil {
			return err
		}
		var v V
		if err := json.Unmarshal(it.Value(), &v); err != nil {
			return fmt.Errorf("decode map value: %w", err)
		}
		more, err := fn(k, v)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return it.Error()
}

// Prefix scans every pair whose first component equals a.
func PairRange[V any](ctx context.Context, kv KV, m Map[Pair, V], a string, after *string, order Order, fn func(Pair, V) (bool, error)) error {
	prefix := PairPrefix(a)
	start := prefix
	if after != nil {
		start = Successor(append(append([]byte(nil), prefix...), *after...))
	}
	return m.RangeRaw(ctx, kv, start, PrefixEnd(prefix), order, fn)
}
