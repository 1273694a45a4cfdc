// Package cw20 is a minimal fungible token contract used to fund tasks
// with tokens other than the native denom.
package cw20

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cosmossdk.io/math"

	"croncat/internal/chain"
	"croncat/internal/core"
	"croncat/internal/msgs"
	"croncat/internal/store"
)

var ErrInvalidZeroAmount = errors.New("invalid zero amount")

var (
	tokenInfo = store.NewItem[tokenState]("token_info")
	balances  = store.NewMap[string, math.Int]("balance", store.StringKey{})
)

type tokenState struct {
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	TotalSupply math.Int `json:"total_supply"`
	Minter      *string  `json:"minter,omitempty"`
}

type Contract struct{}

func New() *Contract { return &Contract{} }

func (c *Contract) Instantiate(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.Cw20InstantiateMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode instantiate msg: %w", err)
	}
	if msg.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	st := tokenState{Name: msg.Name, Symbol: msg.Symbol, Decimals: msg.Decimals, TotalSupply: math.ZeroInt(), Minter: msg.Minter}
	for _, b := range msg.InitialBalances {
		addr, err := deps.API.AddrValidate(b.Address)
		if err != nil {
			return nil, err
		}
		if err := credit(ctx, deps.Storage, addr, b.Amount); err != nil {
			return nil, err
		}
		if st.TotalSupply, err = core.CheckedAdd(st.TotalSupply, b.Amount); err != nil {
			return nil, err
		}
	}
	if err := tokenInfo.Save(ctx, deps.Storage, st); err != nil {
		return nil, err
	}
	return chain.NewResponse().AddAttribute("action", "instantiate").AddAttribute("symbol", st.Symbol), nil
}

func (c *Contract) Execute(ctx context.Context, deps chain.Deps, env chain.Env, info chain.MessageInfo, raw json.RawMessage) (*chain.Response, error) {
	var msg msgs.Cw20ExecuteMsg
	if err := msgs.Decode(raw, &msg); err != nil {
		return nil, err
	}
	switch {
	case msg.Transfer != nil:
		to, err := deps.API.AddrValidate(msg.Transfer.Recipient)
		if err != nil {
			return nil, err
		}
		if err := move(ctx, deps.Storage, info.Sender, to, msg.Transfer.Amount); err != nil {
			return nil, err
		}
		return chain.NewResponse().
			AddAttribute("action", "transfer").
			AddAttribute("from", info.Sender).
			AddAttribute("to", to).
			AddAttribute("amount", msg.Transfer.Amount.String()), nil
	case msg.Send != nil:
		to, err := deps.API.AddrValidate(msg.Send.Contract)
		if err != nil {
			return nil, err
		}
		if err := move(ctx, deps.Storage, info.Sender, to, msg.Send.Amount); err != nil {
			return nil, err
		}
		hook, err := chain.ExecuteMsg(to, msgs.Cw20ReceiveEnvelope{Receive: &msgs.Cw20ReceiveMsg{
			Sender: info.Sender,
			Amount: msg.Send.Amount,
			Msg:    msg.Send.Msg,
		}})
		if err != nil {
			return nil, err
		}
		return chain.NewResponse().
			AddAttribute("action", "send").
			AddAttribute("from", info.Sender).
			AddAttribute("to", to).
			AddAttribute("amount", msg.Send.Amount.String()).
			AddMessage(hook), nil
	case msg.Burn != nil:
		if err := debit(ctx, deps.Storage, info.Sender, msg.Burn.Amount); err != nil {
			return nil, err
		}
		if err := adjustSupply(ctx, deps.Storage, msg.Burn.Amount, false); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttribute("action", "burn").AddAttribute("amount", msg.Burn.Amount.String()), nil
	default:
		st, err := tokenInfo.Load(ctx, deps.Storage)
		if err != nil {
			return nil, err
		}
		if st.Minter == nil || *st.Minter != info.Sender {
			return nil, core.ErrUnauthorized
		}
		to, err := deps.API.AddrValidate(msg.Mint.Recipient)
		if err != nil {
			return nil, err
		}
		if err := credit(ctx, deps.Storage, to, msg.Mint.Amount); err != nil {
			return nil, err
		}
		if err := adjustSupply(ctx, deps.Storage, msg.Mint.Amount, true); err != nil {
			return nil, err
		}
		return chain.NewResponse().AddAttribute("action", "mint").AddAttribute("to", to).AddAttribute("amount", msg.Mint.Amount.String()), nil
	}
}

func (c *Contract) Query(ctx context.Context, deps chain.Deps, env chain.Env, raw json.RawMessage) ([]byte, error) {
	var msg msgs.Cw20QueryMsg
	if err := msgs.Decode(raw, &msg); err != nil {
		return nil, err
	}
	if msg.Balance != nil {
		bal, _, err := balances.May(ctx, deps.Storage, msg.Balance.Address)
		if err != nil {
			return nil, err
		}
		return json.Marshal(msgs.Cw20BalanceResponse{Balance: core.OrZero(bal)})
	}
	st, err := tokenInfo.Load(ctx, deps.Storage)
	if err != nil {
		return nil, err
	}
	return json.Marshal(msgs.TokenInfoResponse{Name: st.Name, Symbol: st.Symbol, Decimals: st.Decimals, TotalSupply: st.TotalSupply})
}

func move(ctx context.Context, kv store.KV, from, to string, amount math.Int) error {
	if err := debit(ctx, kv, from, amount); err != nil {
		return err
	}
	return credit(ctx, kv, to, amount)
}

func credit(ctx context.Context, kv store.KV, addr string, amount math.Int) error {
	cur, _, err := balances.May(ctx, kv, addr)
	if err != nil {
		return err
	}
	sum, err := core.CheckedAdd(cur, amount)
	if err != nil {
		return err
	}
	return balances.Save(ctx, kv, addr, sum)
}

func debit(ctx context.Context, kv store.KV, addr string, amount math.Int) error {
	if core.OrZero(amount).IsZero() {
		return ErrInvalidZeroAmount
	}
	cur, _, err := balances.May(ctx, kv, addr)
	if err != nil {
		return err
	}
	left, err := core.CheckedSub(cur, amount)
	if err != nil {
		return fmt.Errorf("cannot move %s from %s: %w", amount, addr, err)
	}
	return balances.Save(ctx, kv, addr, left)
}

func adjustSupply(ctx context.Context, kv store.KV, amount math.Int, up bool) error {
	st, err := tokenInfo.Load(ctx, kv)
	if err != nil {
		return err
	}
	if up {
		st.TotalSupply, err = core.CheckedAdd(st.TotalSupply, amount)
	} else {
		st.TotalSupply, err = core.CheckedSub(st.TotalSupply, amount)
	}
	if err != nil {
		return err
	}
	return tokenInfo.Save(ctx, kv, st)
}
