package msgs

import (
	"encoding/json"

	"cosmossdk.io/math"
)

type Cw20Balance struct {
	Address string   `json:"address"`
	Amount  math.Int `json:"amount"`
}

type Cw20InstantiateMsg struct {
	Name            string        `json:"name"`
	Symbol          string        `json:"symbol"`
	Decimals        uint8         `json:"decimals"`
	InitialBalances []Cw20Balance `json:"initial_balances"`
	Minter          *string       `json:"minter,omitempty"`
}

type Cw20ExecuteMsg struct {
	Transfer *Cw20Transfer `json:"transfer,omitempty"`
	Send     *Cw20Send     `json:"send,omitempty"`
	Burn     *Cw20Burn     `json:"burn,omitempty"`
	Mint     *Cw20Mint     `json:"mint,omitempty"`
}

type Cw20Transfer struct {
	Recipient string   `json:"recipient"`
	Amount    math.Int `json:"amount"`
}

// Cw20Send moves tokens to Contract and calls its receive entry point
// with Msg.
type Cw20Send struct {
	Contract string          `json:"contract"`
	Amount   math.Int        `json:"amount"`
	Msg      json.RawMessage `json:"msg"`
}

type Cw20Burn struct {
	Amount math.Int `json:"amount"`
}

type Cw20Mint struct {
	Recipient string   `json:"recipient"`
	Amount    math.Int `json:"amount"`
}

// Cw20ReceiveEnvelope wraps Cw20ReceiveMsg the way the receiving contract
// expects it: {"receive":{...}}.
type Cw20ReceiveEnvelope struct {
	Receive *Cw20ReceiveMsg `json:"receive"`
}

type Cw20QueryMsg struct {
	Balance   *Cw20BalanceQuery `json:"balance,omitempty"`
	TokenInfo *Empty            `json:"token_info,omitempty"`
}

type Cw20BalanceQuery struct {
	Address string `json:"address"`
}

type Cw20BalanceResponse struct {
	Balance math.Int `json:"balance"`
}

type TokenInfoResponse struct {
	Name        string   `json:"name"`
	Symbol      string   `json:"symbol"`
	Decimals    uint8    `json:"decimals"`
	TotalSupply math.Int `json:"total_supply"`
}
