package quote

import (
	"math/big"

	"github.com/ggonzalez94/swap-engine/internal/model"
)

const bpsDenominator = 10_000

// MinimumAmountOut is the least acceptable output after slippage,
// rounded down so rounding never favors the protocol over the user.
func MinimumAmountOut(q model.Quote, slippageBps int64) *big.Int {
	if q.OutputAmount == nil {
		return big.NewInt(0)
	}
	if slippageBps <= 0 {
		return new(big.Int).Set(q.OutputAmount)
	}
	if slippageBps >= bpsDenominator {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(q.OutputAmount, big.NewInt(bpsDenominator-slippageBps))
	return out.Div(out, big.NewInt(bpsDenominator))
}

// MaximumAmountIn is the most the user will pay after slippage, rounded
// up.
func MaximumAmountIn(q model.Quote, slippageBps int64) *big.Int {
	if q.InputAmount == nil {
		return big.NewInt(0)
	}
	if slippageBps <= 0 {
		return new(big.Int).Set(q.InputAmount)
	}
	num := new(big.Int).Mul(q.InputAmount, big.NewInt(bpsDenominator+slippageBps))
	den := big.NewInt(bpsDenominator)
	out := new(big.Int)
	rem := new(big.Int)
	out.DivMod(num, den, rem)
	if rem.Sign() > 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}

// AdjustForFees supersedes a quote with the fees that will actually be
// charged. The quoter priced each hop at the pool's static fee; when the
// fee-plugin simulation reports different per-hop fees, amounts are
// rescaled by the ratio of fee multipliers. The original quote is left
// untouched.
func AdjustForFees(q model.Quote, effectiveFees []uint32) model.Quote {
	if len(effectiveFees) != len(q.PerHopFees) {
		return q
	}
	changed := false
	for i := range effectiveFees {
		if effectiveFees[i] != q.PerHopFees[i] {
			changed = true
			break
		}
	}
	if !changed {
		return q
	}

	ratio := new(big.Rat).SetInt64(1)
	denom := big.NewRat(model.FeeDenominator, 1)
	for i := range effectiveFees {
		quoted := new(big.Rat).SetInt64(int64(model.FeeDenominator - q.PerHopFees[i]))
		actual := new(big.Rat).SetInt64(int64(model.FeeDenominator - effectiveFees[i]))
		quoted.Quo(quoted, denom)
		actual.Quo(actual, denom)
		if quoted.Sign() <= 0 {
			return q
		}
		ratio.Mul(ratio, new(big.Rat).Quo(actual, quoted))
	}

	adjusted := q
	adjusted.PerHopFees = append([]uint32(nil), effectiveFees...)
	switch q.TradeType {
	case model.TradeExactOutput:
		// More fee means more input required: scale input by the inverse.
		in := new(big.Rat).SetInt(q.InputAmount)
		in.Quo(in, ratio)
		adjusted.InputAmount = ratDivCeil(in)
	default:
		out := new(big.Rat).SetInt(q.OutputAmount)
		out.Mul(out, ratio)
		adjusted.OutputAmount = ratDivFloor(out)
	}
	return adjusted
}

func ratDivFloor(r *big.Rat) *big.Int {
	out := new(big.Int)
	out.Div(r.Num(), r.Denom())
	return out
}

func ratDivCeil(r *big.Rat) *big.Int {
	out := new(big.Int)
	rem := new(big.Int)
	out.DivMod(r.Num(), r.Denom(), rem)
	if rem.Sign() > 0 {
		out.Add(out, big.NewInt(1))
	}
	return out
}
