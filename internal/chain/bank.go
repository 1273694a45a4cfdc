package chain

import (
	"context"
	"fmt"

	"cosmossdk.io/math"

	"croncat/internal/store"
)

var balances = store.NewMap[store.Pair, math.Int]("bank/balances", store.PairKey{})

func balance(ctx context.Context, kv store.KV, addr, denom string) (Coin, error) {
	amt, ok, err := balances.May(ctx, kv, store.Pair{A: addr, B: denom})
	if err != nil {
		return Coin{}, err
	}
	if !ok {
		amt = math.ZeroInt()
	}
	return Coin{Denom: denom, Amount: amt}, nil
}

func allBalances(ctx context.Context, kv store.KV, addr string) ([]Coin, error) {
	out := []Coin{}
	err := store.PairRange(ctx, kv, balances, addr, nil, store.Ascending, func(k store.Pair, amt math.Int) (bool, error) {
		out = append(out, Coin{Denom: k.B, Amount: amt})
		return true, nil
	})
	return out, err
}

func addBalance(ctx context.Context, kv store.KV, addr string, c Coin) error {
	if c.IsZero() {
		return nil
	}
	if c.Amount.IsNegative() {
		return fmt.Errorf("negative amount %s", c)
	}
	cur, err := balance(ctx, kv, addr, c.Denom)
	if err != nil {
		return err
	}
	sum, err := cur.Amount.SafeAdd(c.Amount)
	if err != nil {
		return fmt.Errorf("credit %s to %s: %w", c, addr, err)
	}
	return balances.Save(ctx, kv, store.Pair{A: addr, B: c.Denom}, sum)
}

func subBalance(ctx context.Context, kv store.KV, addr string, c Coin) error {
	if c.IsZero() {
		return nil
	}
	cur, err := balance(ctx, kv, addr, c.Denom)
	if err != nil {
		return err
	}
	if cur.Amount.LT(c.Amount) || c.Amount.IsNegative() {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFund, addr, cur, c)
	}
	left := cur.Amount.Sub(c.Amount)
	key := store.Pair{A: addr, B: c.Denom}
	if left.IsZero() {
		return balances.Remove(ctx, kv, key)
	}
	return balances.Save(ctx, kv, key, left)
}

func transfer(ctx context.Context, kv store.KV, from, to string, coins []Coin) ([]Event, error) {
	moved := false
	for _, c := range coins {
		if c.IsZero() {
			continue
		}
		if err := subBalance(ctx, kv, from, c); err != nil {
			return nil, err
		}
		if err := addBalance(ctx, kv, to, c); err != nil {
			return nil, err
		}
		moved = true
	}
	if !moved {
		return nil, nil
	}
	return []Event{{Type: "transfer", Attributes: []Attribute{
		{Key: "recipient", Value: to},
		{Key: "sender", Value: from},
		{Key: "amount", Value: CoinsString(coins)},
	}}}, nil
}
