package store

import (
	"bytes"
	"context"
	"sort"
)

type cacheEntry struct {
	value   []byte
	deleted bool
}

// CacheKV buffers writes on top of a parent KV. Write flushes the buffer in
// key order; dropping the cache discards every change. Host transactions and
// sub-messages each run inside their own CacheKV.
type CacheKV struct {
	parent KV
	dirty  map[string]cacheEntry
}

func NewCacheKV(parent KV) *CacheKV {
	return &CacheKV{parent: parent, dirty: make(map[string]cacheEntry)}
}

func (c *CacheKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	if e, ok := c.dirty[string(key)]; ok {
		if e.deleted {
			return nil, nil
		}
		return bytes.Clone(e.value), nil
	}
	return c.parent.Get(ctx, key)
}

func (c *CacheKV) Set(_ context.Context, key, value []byte) error {
	c.dirty[string(key)] = cacheEntry{value: bytes.Clone(value)}
	return nil
}

func (c *CacheKV) Delete(_ context.Context, key []byte) error {
	c.dirty[string(key)] = cacheEntry{deleted: true}
	return nil
}

// Write flushes buffered changes into the parent and resets the buffer.
func (c *CacheKV) Write(ctx context.Context) error {
	keys := make([]string, 0, len(c.dirty))
	for k := range c.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e := c.dirty[k]
		var err error
		if e.deleted {
			err = c.parent.Delete(ctx, []byte(k))
		} else {
			err = c.parent.Set(ctx, []byte(k), e.value)
		}
		if err != nil {
			return err
		}
	}
	c.dirty = make(map[string]cacheEntry)
	return nil
}

func (c *CacheKV) Iterator(ctx context.Context, start, end []byte, order Order) (Iterator, error) {
	parent, err := c.parent.Iterator(ctx, start, end, order)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0)
	for k := range c.dirty {
		if inRange([]byte(k), start, end) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if order == Descending {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	it := &mergeIterator{parent: parent, cache: c, keys: keys, order: order}
	it.settle()
	return it, nil
}

// mergeIterator merges the parent iterator with the buffered keys; buffered
// entries shadow the parent and tombstones hide keys.
type mergeIterator struct {
	parent Iterator
	cache  *CacheKV
	keys   []string
	pos    int
	order  Order

	curKey   []byte
	curValue []byte
	valid    bool
}

func (it *mergeIterator) less(a, b []byte) bool {
	if it.order == Descending {
		return bytes.Compare(a, b) > 0
	}
	return bytes.Compare(a, b) < 0
}

func (it *mergeIterator) settle() {
	for {
		parentOK := it.parent.Valid()
		cacheOK := it.pos < len(it.keys)
		if !parentOK && !cacheOK {
			it.valid = false
			return
		}
		var useCache bool
		switch {
		case !parentOK:
			useCache = true
		case !cacheOK:
			useCache = false
		default:
			pk := it.parent.Key()
			ck := []byte(it.keys[it.pos])
			if bytes.Equal(pk, ck) {
				// buffered entry wins, skip the parent's copy
				it.parent.Next()
				useCache = true
			} else {
				useCache = it.less(ck, pk)
			}
		}
		if useCache {
			k := it.keys[it.pos]
			e := it.cache.dirty[k]
			it.pos++
			if e.deleted {
				continue
			}
			it.curKey, it.curValue, it.valid = []byte(k), e.value, true
			return
		}
		it.curKey, it.curValue, it.valid = it.parent.Key(), it.parent.Value(), true
		it.parent.Next()
		return
	}
}

func (it *mergeIterator) Valid() bool   { return it.valid }
func (it *mergeIterator) Next()         { it.settle() }
func (it *mergeIterator) Key() []byte   { return it.curKey }
func (it *mergeIterator) Value() []byte { return it.curValue }
func (it *mergeIterator) Error() error  { return it.parent.Error() }
func (it *mergeIterator) Close() error  { return it.parent.Close() }
