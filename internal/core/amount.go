package core

import (
	"fmt"
	"math/bits"

	"cosmossdk.io/math"

	"croncat/internal/chain"
)

// maxAmountBits bounds every ledger amount to the width of a u128.
const maxAmountBits = 128

// Cw20Coin is an amount of a cw20 token identified by its contract address.
type Cw20Coin struct {
	Address string   `json:"address"`
	Amount  math.Int `json:"amount"`
}

func (c Cw20Coin) String() string {
	return OrZero(c.Amount).String() + ":" + c.Address
}

// OrZero maps an unset amount to zero.
func OrZero(i math.Int) math.Int {
	if i.IsNil() {
		return math.ZeroInt()
	}
	return i
}

// CheckedAdd adds two amounts, failing with ErrOverflow past 128 bits.
func CheckedAdd(a, b math.Int) (math.Int, error) {
	sum, err := OrZero(a).SafeAdd(OrZero(b))
	if err != nil || sum.BigInt().BitLen() > maxAmountBits {
		return math.Int{}, fmt.Errorf("%w: %s + %s", ErrOverflow, OrZero(a), OrZero(b))
	}
	return sum, nil
}

// CheckedSub subtracts b from a, failing with ErrOverflow when b > a.
func CheckedSub(a, b math.Int) (math.Int, error) {
	a, b = OrZero(a), OrZero(b)
	if b.GT(a) || b.IsNegative() {
		return math.Int{}, fmt.Errorf("%w: %s - %s", ErrOverflow, a, b)
	}
	return a.Sub(b), nil
}

// CheckedMulDiv returns a*num/den using exact integer arithmetic.
func CheckedMulDiv(a math.Int, num, den uint64) (math.Int, error) {
	if den == 0 {
		return math.Int{}, fmt.Errorf("%w: division by zero", ErrOverflow)
	}
	out := OrZero(a).Mul(math.NewIntFromUint64(num)).Quo(math.NewIntFromUint64(den))
	if out.BigInt().BitLen() > maxAmountBits {
		return math.Int{}, fmt.Errorf("%w: %s * %d / %d", ErrOverflow, a, num, den)
	}
	return out, nil
}

func checkedAddU64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}

func checkedMulU64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, fmt.Errorf("%w: %d * %d", ErrOverflow, a, b)
	}
	return lo, nil
}

// GasPrice converts gas into the native fee denom:
// fee = gas * gas_adjustment_numerator / denominator * numerator / denominator.
type GasPrice struct {
	Numerator              uint64 `json:"numerator"`
	Denominator            uint64 `json:"denominator"`
	GasAdjustmentNumerator uint64 `json:"gas_adjustment_numerator"`
}

func DefaultGasPrice() GasPrice {
	return GasPrice{Numerator: 4, Denominator: 100, GasAdjustmentNumerator: 150}
}

func (g GasPrice) Validate() error {
	if g.Numerator == 0 || g.Denominator == 0 || g.GasAdjustmentNumerator == 0 {
		return fmt.Errorf("%w: gas price fields must be positive", ErrInvalidGas)
	}
	return nil
}

// Calculate returns the fee for gas.
func (g GasPrice) Calculate(gas uint64) (math.Int, error) {
	if g.Denominator == 0 {
		return math.Int{}, fmt.Errorf("%w: zero gas price denominator", ErrInvalidGas)
	}
	adjusted, err := checkedMulU64(gas, g.GasAdjustmentNumerator)
	if err != nil {
		return math.Int{}, err
	}
	adjusted /= g.Denominator
	price, err := checkedMulU64(adjusted, g.Numerator)
	if err != nil {
		return math.Int{}, err
	}
	return math.NewIntFromUint64(price / g.Denominator), nil
}

// bpsDenominator is the basis-point scale for agent and treasury fees.
const bpsDenominator = 10_000

// AmountForOneTask is what a single execution of a task consumes: gas
// converted to the native denom plus fees, up to two native coins and at
// most one cw20 token.
type AmountForOneTask struct {
	Gas         uint64         `json:"gas"`
	Cw20        *Cw20Coin      `json:"cw20,omitempty"`
	Coin        [2]*chain.Coin `json:"coin"`
	AgentFee    uint64         `json:"agent_fee"`
	TreasuryFee uint64         `json:"treasury_fee"`
	GasPrice    GasPrice       `json:"gas_price"`
}

// AddGas accumulates gas, failing on overflow.
func (a *AmountForOneTask) AddGas(gas uint64) error {
	sum, err := checkedAddU64(a.Gas, gas)
	if err != nil {
		return err
	}
	a.Gas = sum
	return nil
}

// AddCoin merges coin into the two coin slots. It reports false when both
// slots already hold other denominations.
func (a *AmountForOneTask) AddCoin(coin chain.Coin) (bool, error) {
	for i := range a.Coin {
		slot := a.Coin[i]
		if slot == nil {
			c := coin
			c.Amount = OrZero(c.Amount)
			a.Coin[i] = &c
			return true, nil
		}
		if slot.Denom == coin.Denom {
			sum, err := CheckedAdd(slot.Amount, coin.Amount)
			if err != nil {
				return false, err
			}
			slot.Amount = sum
			return true, nil
		}
	}
	return false, nil
}

// AddCw20 merges cw20 into the cw20 slot. It reports false when the slot
// holds a different token.
func (a *AmountForOneTask) AddCw20(cw20 Cw20Coin) (bool, error) {
	if a.Cw20 == nil {
		c := cw20
		c.Amount = OrZero(c.Amount)
		a.Cw20 = &c
		return true, nil
	}
	if a.Cw20.Address != cw20.Address {
		return false, nil
	}
	sum, err := CheckedAdd(a.Cw20.Amount, cw20.Amount)
	if err != nil {
		return false, err
	}
	a.Cw20.Amount = sum
	return true, nil
}

// Fees splits the gas cost of one execution.
type Fees struct {
	GasFee      math.Int `json:"gas_fee"`
	AgentFee    math.Int `json:"agent_fee"`
	TreasuryFee math.Int `json:"treasury_fee"`
}

// Total is everything the task pays in the native denom for gas.
func (f Fees) Total() (math.Int, error) {
	sum, err := CheckedAdd(f.GasFee, f.AgentFee)
	if err != nil {
		return math.Int{}, err
	}
	return CheckedAdd(sum, f.TreasuryFee)
}

// AgentReward is the part of the fees owed to the executing agent.
func (f Fees) AgentReward() (math.Int, error) {
	return CheckedAdd(f.GasFee, f.AgentFee)
}

// FeesFor prices gas with the task's gas price and fee rates.
func (a AmountForOneTask) FeesFor(gas uint64) (Fees, error) {
	gasFee, err := a.GasPrice.Calculate(gas)
	if err != nil {
		return Fees{}, err
	}
	agentFee, err := CheckedMulDiv(gasFee, a.AgentFee, bpsDenominator)
	if err != nil {
		return Fees{}, err
	}
	treasuryFee, err := CheckedMulDiv(gasFee, a.TreasuryFee, bpsDenominator)
	if err != nil {
		return Fees{}, err
	}
	return Fees{GasFee: gasFee, AgentFee: agentFee, TreasuryFee: treasuryFee}, nil
}

// Fees prices the task's full gas.
func (a AmountForOneTask) Fees() (Fees, error) {
	return a.FeesFor(a.Gas)
}

// RequiredNatives returns the native coins one execution needs: the
// native denom carries gas fees plus any native coins sent by actions.
func (a AmountForOneTask) RequiredNatives(nativeDenom string) ([]chain.Coin, error) {
	fees, err := a.Fees()
	if err != nil {
		return nil, err
	}
	native, err := fees.Total()
	if err != nil {
		return nil, err
	}
	out := []chain.Coin{}
	for _, c := range a.Coin {
		if c == nil {
			continue
		}
		if c.Denom == nativeDenom {
			if native, err = CheckedAdd(native, c.Amount); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, *c)
	}
	return append([]chain.Coin{{Denom: nativeDenom, Amount: native}}, out...), nil
}
