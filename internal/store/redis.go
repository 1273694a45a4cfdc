package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisKV keeps values in a hash and the ordered key index in a sorted set
// whose members all share score 0, so ZRANGEBYLEX yields byte order.
type RedisKV struct {
	client    *redis.Client
	namespace string
}

// NewRedisKV connects to addr and scopes every key under namespace.
func NewRedisKV(addr, password string, db int, namespace string) *RedisKV {
	if namespace == "" {
		namespace = "croncat"
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisKV{client: rdb, namespace: namespace}
}

func (r *RedisKV) indexKey() string  { return r.namespace + ":keys" }
func (r *RedisKV) valuesKey() string { return r.namespace + ":values" }

// Ping checks if the Redis connection is alive.
func (r *RedisKV) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisKV) Close() error {
	return r.client.Close()
}

func (r *RedisKV) Get(ctx context.Context, key []byte) ([]byte, error) {
	v, err := r.client.HGet(ctx, r.valuesKey(), string(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, r.indexKey(), &redis.Z{Score: 0, Member: string(key)})
		pipe.HSet(ctx, r.valuesKey(), string(key), value)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, r.indexKey(), string(key))
		pipe.HDel(ctx, r.valuesKey(), string(key))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete: %w", err)
	}
	return nil
}

func (r *RedisKV) Iterator(ctx context.Context, start, end []byte, order Order) (Iterator, error) {
	lo, hi := "-", "+"
	if start != nil {
		lo = "[" + string(start)
	}
	if end != nil {
		hi = "(" + string(end)
	}
	it := &redisIterator{ctx: ctx, kv: r, min: lo, max: hi, order: order}
	it.fetch()
	for !it.page.Valid() && !it.done {
		it.fetch()
	}
	return it, it.err
}

type redisIterator struct {
	ctx    context.Context
	kv     *RedisKV
	min    string
	max    string
	order  Order
	offset int64

	page *sliceIterator
	done bool
	err  error
}

func (it *redisIterator) fetch() {
	by := &redis.ZRangeBy{Min: it.min, Max: it.max, Offset: it.offset, Count: iteratorPage}
	var (
		members []string
		err     error
	)
	if it.order == Ascending {
		members, err = it.kv.client.ZRangeByLex(it.ctx, it.kv.indexKey(), by).Result()
	} else {
		members, err = it.kv.client.ZRevRangeByLex(it.ctx, it.kv.indexKey(), by).Result()
	}
	it.page = &sliceIterator{}
	if err != nil {
		it.err, it.done = fmt.Errorf("redis range: %w", err), true
		return
	}
	if len(members) < iteratorPage {
		it.done = true
	}
	it.offset += int64(len(members))
	if len(members) == 0 {
		return
	}
	values, err := it.kv.client.HMGet(it.ctx, it.kv.valuesKey(), members...).Result()
	if err != nil {
		it.err, it.done = fmt.Errorf("redis values: %w", err), true
		return
	}
	for i, m := range members {
		s, ok := values[i].(string)
		if !ok {
			continue
		}
		it.page.keys = append(it.page.keys, []byte(m))
		it.page.values = append(it.page.values, []byte(s))
	}
}

func (it *redisIterator) Valid() bool {
	return it.page.Valid()
}

func (it *redisIterator) Next() {
	it.page.Next()
	for !it.page.Valid() && !it.done {
		it.fetch()
	}
}

func (it *redisIterator) Key() []byte   { return it.page.Key() }
func (it *redisIterator) Value() []byte { return it.page.Value() }
func (it *redisIterator) Error() error  { return it.err }
func (it *redisIterator) Close() error  { return nil }
