package core

import (
	"encoding/json"
	"fmt"

	"cosmossdk.io/math"

	"croncat/internal/chain"
)

// cw20Variants are the cw20 execute messages. Only transfer and send may
// appear in a task action: the manager is the sender and holds tokens
// owed to every wallet.
var cw20Variants = map[string]bool{
	"transfer":           true,
	"send":               true,
	"burn":               true,
	"mint":               true,
	"transfer_from":      true,
	"send_from":          true,
	"burn_from":          true,
	"increase_allowance": true,
	"decrease_allowance": true,
	"update_minter":      true,
	"update_marketing":   true,
	"upload_logo":        true,
}

type cw20Transfer struct {
	Recipient string   `json:"recipient"`
	Amount    math.Int `json:"amount"`
}

type cw20Send struct {
	Contract string          `json:"contract"`
	Amount   math.Int        `json:"amount"`
	Msg      json.RawMessage `json:"msg"`
}

// ActionCost is what sending one action spends out of the manager.
type ActionCost struct {
	Coins []chain.Coin
	Cw20  *Cw20Coin
}

// CostOf inspects msg and returns what it spends. Only bank sends of a
// single non-zero coin and wasm executes are accepted. A wasm execute
// carrying a cw20 transfer or send also spends that token; any other cw20
// execute is refused.
func CostOf(msg chain.CosmosMsg) (ActionCost, error) {
	switch {
	case msg.Bank != nil && msg.Bank.Send != nil:
		send := msg.Bank.Send
		if len(send.Amount) != 1 {
			return ActionCost{}, fmt.Errorf("%w: bank send must carry exactly one coin, got %d", ErrInvalidAction, len(send.Amount))
		}
		if send.Amount[0].IsZero() || send.Amount[0].Amount.IsNegative() {
			return ActionCost{}, fmt.Errorf("%w: zero amount bank send", ErrInvalidAction)
		}
		return ActionCost{Coins: []chain.Coin{send.Amount[0]}}, nil
	case msg.Wasm != nil && msg.Wasm.Execute != nil:
		exec := msg.Wasm.Execute
		var cost ActionCost
		for _, c := range exec.Funds {
			if c.Amount.IsNil() || c.IsZero() || c.Amount.IsNegative() {
				return ActionCost{}, fmt.Errorf("%w: zero amount %s in wasm funds", ErrInvalidAction, c.Denom)
			}
			cost.Coins = append(cost.Coins, c)
		}
		cw20, err := cw20Spend(exec.ContractAddr, exec.Msg)
		if err != nil {
			return ActionCost{}, err
		}
		cost.Cw20 = cw20
		return cost, nil
	default:
		return ActionCost{}, fmt.Errorf("%w: %s messages are not allowed", ErrInvalidAction, msg.Kind())
	}
}

func cw20Spend(contract string, raw json.RawMessage) (*Cw20Coin, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || len(envelope) != 1 {
		// not an externally tagged message; nothing cw20 about it
		return nil, nil
	}
	for variant, body := range envelope {
		if !cw20Variants[variant] {
			return nil, nil
		}
		var amount math.Int
		switch variant {
		case "transfer":
			var t cw20Transfer
			if err := json.Unmarshal(body, &t); err != nil || t.Recipient == "" {
				return nil, fmt.Errorf("%w: malformed cw20 transfer", ErrInvalidAction)
			}
			amount = t.Amount
		case "send":
			var s cw20Send
			if err := json.Unmarshal(body, &s); err != nil || s.Contract == "" {
				return nil, fmt.Errorf("%w: malformed cw20 send", ErrInvalidAction)
			}
			amount = s.Amount
		default:
			return nil, fmt.Errorf("%w: cw20 %s", ErrInvalidAction, variant)
		}
		if amount.IsNil() || amount.IsZero() || amount.IsNegative() {
			return nil, fmt.Errorf("%w: zero amount cw20 %s", ErrInvalidAction, variant)
		}
		return &Cw20Coin{Address: contract, Amount: amount}, nil
	}
	return nil, nil
}
