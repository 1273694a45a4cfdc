package manager

import (
	"context"
	"fmt"

	"cosmossdk.io/math"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

// AddBalance credits amount to m[k].
func AddBalance[K any](ctx context.Context, kv store.KV, m store.Map[K, math.Int], k K, amount math.Int) error {
	if core.OrZero(amount).IsZero() {
		return nil
	}
	cur, _, err := m.May(ctx, kv, k)
	if err != nil {
		return err
	}
	sum, err := core.CheckedAdd(cur, amount)
	if err != nil {
		return err
	}
	return m.Save(ctx, kv, k, sum)
}

// SubBalance debits amount from m[k]. A missing entry is ErrEmptyBalance,
// an amount above the balance is ErrOverflow and leaves it untouched, and
// a zero result removes the entry.
func SubBalance[K any](ctx context.Context, kv store.KV, m store.Map[K, math.Int], k K, amount math.Int) error {
	if core.OrZero(amount).IsZero() {
		return nil
	}
	cur, ok, err := m.May(ctx, kv, k)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %v", core.ErrEmptyBalance, k)
	}
	left, err := core.CheckedSub(cur, amount)
	if err != nil {
		return err
	}
	if left.IsZero() {
		return m.Remove(ctx, kv, k)
	}
	return m.Save(ctx, kv, k, left)
}

// spend is what one execution (or one action) takes out of a task balance.
type spend struct {
	Coins []chain.Coin
	Cw20  *core.Cw20Coin
}

func (s *spend) addCoin(c chain.Coin) error {
	for i := range s.Coins {
		if s.Coins[i].Denom == c.Denom {
			sum, err := core.CheckedAdd(s.Coins[i].Amount, c.Amount)
			if err != nil {
				return err
			}
			s.Coins[i].Amount = sum
			return nil
		}
	}
	s.Coins = append(s.Coins, c)
	return nil
}

func (s *spend) add(cost core.ActionCost) error {
	for _, c := range cost.Coins {
		if err := s.addCoin(c); err != nil {
			return err
		}
	}
	if cost.Cw20 == nil {
		return nil
	}
	if s.Cw20 == nil {
		cw := *cost.Cw20
		s.Cw20 = &cw
		return nil
	}
	if s.Cw20.Address != cost.Cw20.Address {
		return fmt.Errorf("%w: more than one cw20 token", core.ErrInvalidAction)
	}
	sum, err := core.CheckedAdd(s.Cw20.Amount, cost.Cw20.Amount)
	if err != nil {
		return err
	}
	s.Cw20.Amount = sum
	return nil
}

// debitTask takes s out of b in place.
func debitTask(b *msgs.TaskBalance, nativeDenom string, s spend) error {
	for _, c := range s.Coins {
		switch {
		case c.Denom == nativeDenom:
			left, err := core.CheckedSub(b.NativeBalance, c.Amount)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrNotEnoughNative, err)
			}
			b.NativeBalance = left
		case b.IbcBalance != nil && b.IbcBalance.Denom == c.Denom:
			left, err := core.CheckedSub(b.IbcBalance.Amount, c.Amount)
			if err != nil {
				return fmt.Errorf("%w: %v", core.ErrNotEnoughNative, err)
			}
			b.IbcBalance.Amount = left
		default:
			return fmt.Errorf("%w: task holds no %s", core.ErrNotEnoughNative, c.Denom)
		}
	}
	if s.Cw20 != nil {
		if b.Cw20Balance == nil || b.Cw20Balance.Address != s.Cw20.Address {
			return fmt.Errorf("%w: task holds no %s", core.ErrNotEnoughCw20, s.Cw20.Address)
		}
		left, err := core.CheckedSub(b.Cw20Balance.Amount, s.Cw20.Amount)
		if err != nil {
			return fmt.Errorf("%w: %v", core.ErrNotEnoughCw20, err)
		}
		b.Cw20Balance.Amount = left
	}
	return nil
}

// covers reports whether b can pay for s.
func covers(b msgs.TaskBalance, nativeDenom string, s spend) bool {
	cp := cloneBalance(b)
	return debitTask(&cp, nativeDenom, s) == nil
}

func cloneBalance(b msgs.TaskBalance) msgs.TaskBalance {
	out := msgs.TaskBalance{NativeBalance: core.OrZero(b.NativeBalance)}
	if b.Cw20Balance != nil {
		cw := *b.Cw20Balance
		out.Cw20Balance = &cw
	}
	if b.IbcBalance != nil {
		c := *b.IbcBalance
		out.IbcBalance = &c
	}
	return out
}

// releaseAvailable records that s left the manager.
func releaseAvailable(ctx context.Context, kv store.KV, s spend) error {
	for _, c := range s.Coins {
		if err := SubBalance(ctx, kv, availableNative, c.Denom, c.Amount); err != nil {
			return err
		}
	}
	if s.Cw20 != nil {
		return SubBalance(ctx, kv, availableCw20, s.Cw20.Address, s.Cw20.Amount)
	}
	return nil
}

// perExecution prices one execution of task at its declared costs.
func perExecution(task core.AmountForOneTask, nativeDenom string) (spend, error) {
	natives, err := task.RequiredNatives(nativeDenom)
	if err != nil {
		return spend{}, err
	}
	s := spend{Coins: natives}
	if task.Cw20 != nil {
		cw := *task.Cw20
		s.Cw20 = &cw
	}
	return s, nil
}

// times scales s by n.
func (s spend) times(n uint64) (spend, error) {
	out := spend{}
	for _, c := range s.Coins {
		amt, err := core.CheckedMulDiv(c.Amount, n, 1)
		if err != nil {
			return spend{}, err
		}
		out.Coins = append(out.Coins, chain.Coin{Denom: c.Denom, Amount: amt})
	}
	if s.Cw20 != nil {
		amt, err := core.CheckedMulDiv(s.Cw20.Amount, n, 1)
		if err != nil {
			return spend{}, err
		}
		out.Cw20 = &core.Cw20Coin{Address: s.Cw20.Address, Amount: amt}
	}
	return out, nil
}
