package manager

import (
	"context"
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

func TestAddSubBalance(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemoryKV()

	require.ErrorIs(t, SubBalance(ctx, kv, agentRewards, "agent", math.NewInt(1)), core.ErrEmptyBalance)
	require.NoError(t, AddBalance(ctx, kv, agentRewards, "agent", math.NewInt(7)))
	require.NoError(t, AddBalance(ctx, kv, agentRewards, "agent", math.Int{}))
	require.ErrorIs(t, SubBalance(ctx, kv, agentRewards, "agent", math.NewInt(8)), core.ErrOverflow)

	v, ok, err := agentRewards.May(ctx, kv, "agent")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(7), v.Int64())

	require.NoError(t, SubBalance(ctx, kv, agentRewards, "agent", math.NewInt(7)))
	_, ok, err = agentRewards.May(ctx, kv, "agent")
	require.NoError(t, err)
	require.False(t, ok, "zero balances are removed")
}

func TestDebitTask(t *testing.T) {
	token := "croncat1token"
	bal := msgs.TaskBalance{
		NativeBalance: math.NewInt(100),
		IbcBalance:    &chain.Coin{Denom: "uatom", Amount: math.NewInt(5)},
		Cw20Balance:   &core.Cw20Coin{Address: token, Amount: math.NewInt(3)},
	}
	s := spend{
		Coins: []chain.Coin{chain.NewCoin("ucron", 40), chain.NewCoin("uatom", 5)},
		Cw20:  &core.Cw20Coin{Address: token, Amount: math.NewInt(3)},
	}
	require.True(t, covers(bal, "ucron", s))
	require.NoError(t, debitTask(&bal, "ucron", s))
	require.Equal(t, int64(60), bal.NativeBalance.Int64())
	require.True(t, bal.IbcBalance.Amount.IsZero())
	require.True(t, bal.Cw20Balance.Amount.IsZero())

	require.False(t, covers(bal, "ucron", spend{Coins: []chain.Coin{chain.NewCoin("ucron", 61)}}))
	require.Equal(t, int64(60), bal.NativeBalance.Int64(), "covers leaves the balance alone")

	err := debitTask(&bal, "ucron", spend{Coins: []chain.Coin{chain.NewCoin("uosmo", 1)}})
	require.ErrorIs(t, err, core.ErrNotEnoughNative)
	err = debitTask(&bal, "ucron", spend{Cw20: &core.Cw20Coin{Address: "croncat1other", Amount: math.NewInt(1)}})
	require.ErrorIs(t, err, core.ErrNotEnoughCw20)
}

func TestSpendAddAndTimes(t *testing.T) {
	var s spend
	require.NoError(t, s.add(core.ActionCost{Coins: []chain.Coin{chain.NewCoin("ucron", 10)}}))
	require.NoError(t, s.add(core.ActionCost{
		Coins: []chain.Coin{chain.NewCoin("ucron", 5), chain.NewCoin("uatom", 1)},
		Cw20:  &core.Cw20Coin{Address: "croncat1token", Amount: math.NewInt(2)},
	}))
	require.Len(t, s.Coins, 2)
	require.Equal(t, int64(15), s.Coins[0].Amount.Int64())

	err := s.add(core.ActionCost{Cw20: &core.Cw20Coin{Address: "croncat1other", Amount: math.NewInt(1)}})
	require.ErrorIs(t, err, core.ErrInvalidAction)

	double, err := s.times(2)
	require.NoError(t, err)
	require.Equal(t, int64(30), double.Coins[0].Amount.Int64())
	require.Equal(t, int64(4), double.Cw20.Amount.Int64())
	require.Equal(t, int64(15), s.Coins[0].Amount.Int64())
}

func TestSpendAddOverflows(t *testing.T) {
	limit, ok := math.NewIntFromString("340282366920938463463374607431768211455")
	require.True(t, ok)

	var s spend
	require.NoError(t, s.add(core.ActionCost{
		Coins: []chain.Coin{{Denom: "ucron", Amount: limit}},
		Cw20:  &core.Cw20Coin{Address: "croncat1token", Amount: limit},
	}))
	err := s.add(core.ActionCost{Coins: []chain.Coin{chain.NewCoin("ucron", 1)}})
	require.ErrorIs(t, err, core.ErrOverflow)
	err = s.add(core.ActionCost{Cw20: &core.Cw20Coin{Address: "croncat1token", Amount: math.OneInt()}})
	require.ErrorIs(t, err, core.ErrOverflow)
	require.Equal(t, limit.String(), s.Coins[0].Amount.String())
	require.Equal(t, limit.String(), s.Cw20.Amount.String())
}

func TestPerExecution(t *testing.T) {
	amount := core.AmountForOneTask{
		AgentFee:    500,
		TreasuryFee: 500,
		GasPrice:    core.DefaultGasPrice(),
	}
	require.NoError(t, amount.AddGas(430_000))
	_, err := amount.AddCoin(chain.NewCoin("ucron", 10))
	require.NoError(t, err)

	s, err := perExecution(amount, "ucron")
	require.NoError(t, err)
	require.Len(t, s.Coins, 1)
	require.Equal(t, int64(28_390), s.Coins[0].Amount.Int64())
}
