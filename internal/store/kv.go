package store

import (
	"bytes"
	"context"
	"errors"
)

// ErrNotFound is returned by typed accessors when a key has no value.
var ErrNotFound = errors.New("not found")

// Order selects the direction of a range scan.
type Order int

const (
	Ascending Order = iota
	Descending
)

// KV is the ordered key/value region every contract keeps its state in.
// Get returns a nil slice without error when the key is absent. Iterator
// bounds are [start, end); a nil bound is open.
type KV interface {
	Get(ctx context.Context, key []byte) ([]byte, error)
	Set(ctx context.Context, key, value []byte) error
	Delete(ctx context.Context, key []byte) error
	Iterator(ctx context.Context, start, end []byte, order Order) (Iterator, error)
}

// Iterator walks a key range. Callers must Close it.
type Iterator interface {
	Valid() bool
	Next()
	Key() []byte
	Value() []byte
	Error() error
	Close() error
}

// PrefixEnd returns the smallest key greater than every key that starts
// with prefix, or nil when no such key exists.
func PrefixEnd(prefix []byte) []byte {
	if len(prefix) == 0 {
		return nil
	}
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

// Successor returns the immediate successor of key in byte order.
func Successor(key []byte) []byte {
	out := make([]byte, len(key)+1)
	copy(out, key)
	return out
}

func inRange(key, start, end []byte) bool {
	if start != nil && bytes.Compare(key, start) < 0 {
		return false
	}
	if end != nil && bytes.Compare(key, end) >= 0 {
		return false
	}
	return true
}

// sliceIterator iterates over a materialized, already ordered set of pairs.
type sliceIterator struct {
	keys   [][]byte
	values [][]byte
	pos    int
}

func (it *sliceIterator) Valid() bool   { return it.pos < len(it.keys) }
func (it *sliceIterator) Next()         { it.pos++ }
func (it *sliceIterator) Key() []byte   { return it.keys[it.pos] }
func (it *sliceIterator) Value() []byte { return it.values[it.pos] }
func (it *sliceIterator) Error() error  { return nil }
func (it *sliceIterator) Close() error  { return nil }
