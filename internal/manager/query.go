package manager

import (
	"context"
	"encoding/json"

	"cosmossdk.io/math"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

func (c *Contract) Query(ctx context.Context, deps chain.Deps, env chain.Env, raw json.RawMessage) ([]byte, error) {
	var msg msgs.ManagerQueryMsg
	if err := msgs.Decode(raw, &msg); err != nil {
		return nil, err
	}
	var (
		out any
		err error
	)
	switch {
	case msg.Config != nil:
		out, err = configItem.Load(ctx, deps.Storage)
	case msg.Balances != nil:
		out, err = balances(ctx, deps.Storage, msg.Balances)
	case msg.Cw20WalletBalances != nil:
		out, err = walletBalances(ctx, deps.Storage, msg.Cw20WalletBalances)
	case msg.TaskBalance != nil:
		out, err = taskBalance(ctx, deps.Storage, msg.TaskBalance.TaskHash)
	case msg.AgentRewards != nil:
		out, err = amountOr(agentRewards.May(ctx, deps.Storage, msg.AgentRewards.AgentID))
	default:
		out, err = amountOr(treasury.May(ctx, deps.Storage))
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(out)
}

func amountOr(v math.Int, _ bool, err error) (math.Int, error) {
	return core.OrZero(v), err
}

func balances(ctx context.Context, kv store.KV, page *msgs.PageQuery) (msgs.BalancesResponse, error) {
	from, limit := page.Page(defaultLimit, maxLimit)
	out := msgs.BalancesResponse{Native: []chain.Coin{}, Cw20: []core.Cw20Coin{}}
	var seen uint64
	err := availableNative.Range(ctx, kv, store.Bound[string]{}, store.Ascending, func(denom string, amt math.Int) (bool, error) {
		seen++
		if seen <= from {
			return true, nil
		}
		out.Native = append(out.Native, chain.Coin{Denom: denom, Amount: amt})
		return uint64(len(out.Native)) < limit, nil
	})
	if err != nil {
		return out, err
	}
	seen = 0
	err = availableCw20.Range(ctx, kv, store.Bound[string]{}, store.Ascending, func(addr string, amt math.Int) (bool, error) {
		seen++
		if seen <= from {
			return true, nil
		}
		out.Cw20 = append(out.Cw20, core.Cw20Coin{Address: addr, Amount: amt})
		return uint64(len(out.Cw20)) < limit, nil
	})
	return out, err
}

func walletBalances(ctx context.Context, kv store.KV, q *msgs.Cw20WalletBalances) ([]core.Cw20Coin, error) {
	from, limit := (&msgs.PageQuery{FromIndex: q.FromIndex, Limit: q.Limit}).Page(defaultLimit, maxLimit)
	out := []core.Cw20Coin{}
	var seen uint64
	err := store.PairRange(ctx, kv, userBalances, q.Wallet, nil, store.Ascending, func(k store.Pair, amt math.Int) (bool, error) {
		seen++
		if seen <= from {
			return true, nil
		}
		out = append(out, core.Cw20Coin{Address: k.B, Amount: amt})
		return uint64(len(out)) < limit, nil
	})
	return out, err
}

func taskBalance(ctx context.Context, kv store.KV, hash string) (msgs.TaskBalanceResponse, error) {
	bal, ok, err := taskBalances.May(ctx, kv, hash)
	if err != nil || !ok {
		return msgs.TaskBalanceResponse{}, err
	}
	return msgs.TaskBalanceResponse{Balance: &bal}, nil
}
