package store

import (
	"context"
)

// PrefixKV scopes a parent KV to the keys under prefix. Contracts only ever
// see their own PrefixKV.
type PrefixKV struct {
	parent KV
	prefix []byte
}

func NewPrefixKV(parent KV, prefix []byte) *PrefixKV {
	return &PrefixKV{parent: parent, prefix: append([]byte(nil), prefix...)}
}

func (p *PrefixKV) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	return append(out, k...)
}

func (p *PrefixKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	return p.parent.Get(ctx, p.key(key))
}

func (p *PrefixKV) Set(ctx context.Context, key, value []byte) error {
	return p.parent.Set(ctx, p.key(key), value)
}

func (p *PrefixKV) Delete(ctx context.Context, key []byte) error {
	return p.parent.Delete(ctx, p.key(key))
}

func (p *PrefixKV) Iterator(ctx context.Context, start, end []byte, order Order) (Iterator, error) {
	s := p.key(start)
	var e []byte
	if end != nil {
		e = p.key(end)
	} else {
		e = PrefixEnd(p.prefix)
	}
	it, err := p.parent.Iterator(ctx, s, e, order)
	if err != nil {
		return nil, err
	}
	return &prefixIterator{Iterator: it, strip: len(p.prefix)}, nil
}

type prefixIterator struct {
	Iterator
	strip int
}

func (it *prefixIterator) Key() []byte {
	return it.Iterator.Key()[it.strip:]
}
