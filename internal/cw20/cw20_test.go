package cw20_test

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/stretchr/testify/require"

	"croncat/internal/core"
	"croncat/internal/cw20"
	"croncat/internal/deploy/deploytest"
	"croncat/internal/msgs"
)

func newToken(t *testing.T, env *deploytest.Env) string {
	t.Helper()
	minter := deploytest.Owner
	addr, err := env.App.Instantiate(env.Ctx, deploytest.Owner, env.Codes.Cw20, msgs.Cw20InstantiateMsg{
		Name:     "Test",
		Symbol:   "TST",
		Decimals: 6,
		InitialBalances: []msgs.Cw20Balance{
			{Address: deploytest.Alice, Amount: math.NewInt(100)},
			{Address: deploytest.Bob, Amount: math.NewInt(20)},
		},
		Minter: &minter,
	}, nil, "tst", nil)
	require.NoError(t, err)
	return addr
}

func tokenBalance(env *deploytest.Env, token, addr string) int64 {
	var res msgs.Cw20BalanceResponse
	env.Query(token, msgs.Cw20QueryMsg{Balance: &msgs.Cw20BalanceQuery{Address: addr}}, &res)
	return res.Balance.Int64()
}

func supply(env *deploytest.Env, token string) int64 {
	var info msgs.TokenInfoResponse
	env.Query(token, msgs.Cw20QueryMsg{TokenInfo: &msgs.Empty{}}, &info)
	return info.TotalSupply.Int64()
}

func TestTransfer(t *testing.T) {
	env := deploytest.New(t)
	token := newToken(t, env)
	require.Equal(t, int64(120), supply(env, token))

	env.MustExecute(deploytest.Alice, token, msgs.Cw20ExecuteMsg{Transfer: &msgs.Cw20Transfer{Recipient: deploytest.Bob, Amount: math.NewInt(30)}})
	require.Equal(t, int64(70), tokenBalance(env, token, deploytest.Alice))
	require.Equal(t, int64(50), tokenBalance(env, token, deploytest.Bob))
	require.Equal(t, int64(0), tokenBalance(env, token, "croncat1nobody"))

	_, err := env.Execute(deploytest.Alice, token, msgs.Cw20ExecuteMsg{Transfer: &msgs.Cw20Transfer{Recipient: deploytest.Bob, Amount: math.NewInt(71)}})
	require.ErrorIs(t, err, core.ErrOverflow)
	_, err = env.Execute(deploytest.Alice, token, msgs.Cw20ExecuteMsg{Transfer: &msgs.Cw20Transfer{Recipient: deploytest.Bob, Amount: math.ZeroInt()}})
	require.ErrorIs(t, err, cw20.ErrInvalidZeroAmount)
	// failed transfers leave balances alone
	require.Equal(t, int64(70), tokenBalance(env, token, deploytest.Alice))
}

func TestMintAndBurn(t *testing.T) {
	env := deploytest.New(t)
	token := newToken(t, env)

	_, err := env.Execute(deploytest.Alice, token, msgs.Cw20ExecuteMsg{Mint: &msgs.Cw20Mint{Recipient: deploytest.Alice, Amount: math.NewInt(5)}})
	require.ErrorIs(t, err, core.ErrUnauthorized)

	env.MustExecute(deploytest.Owner, token, msgs.Cw20ExecuteMsg{Mint: &msgs.Cw20Mint{Recipient: deploytest.Alice, Amount: math.NewInt(5)}})
	require.Equal(t, int64(105), tokenBalance(env, token, deploytest.Alice))
	require.Equal(t, int64(125), supply(env, token))

	env.MustExecute(deploytest.Bob, token, msgs.Cw20ExecuteMsg{Burn: &msgs.Cw20Burn{Amount: math.NewInt(20)}})
	require.Equal(t, int64(0), tokenBalance(env, token, deploytest.Bob))
	require.Equal(t, int64(105), supply(env, token))
}

func TestInstantiateRequiresSymbol(t *testing.T) {
	env := deploytest.New(t)
	_, err := env.App.Instantiate(env.Ctx, deploytest.Owner, env.Codes.Cw20, msgs.Cw20InstantiateMsg{Name: "x"}, nil, "x", nil)
	require.Error(t, err)
}
