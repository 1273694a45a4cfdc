package store

import (
	"context"
	"errors"
)

// ErrReadOnly is returned when a query path tries to write.
var ErrReadOnly = errors.New("store is read-only")

type readOnlyKV struct {
	KV
}

// ReadOnly wraps kv so that Set and Delete fail.
func ReadOnly(kv KV) KV {
	return readOnlyKV{KV: kv}
}

func (readOnlyKV) Set(context.Context, []byte, []byte) error { return ErrReadOnly }
func (readOnlyKV) Delete(context.Context, []byte) error      { return ErrReadOnly }
