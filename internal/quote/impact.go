package quote

import (
	"fmt"
	"math/big"

	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
)

// Price impact thresholds in basis points.
const (
	impactLowBps      = 100  // 1%
	impactModerateBps = 300  // 3%
	impactHighBps     = 500  // 5%
	impactExtremeBps  = 1500 // 15%
)

type ImpactSeverity string

const (
	SeverityNone     ImpactSeverity = "none"
	SeverityLow      ImpactSeverity = "low"
	SeverityModerate ImpactSeverity = "moderate"
	SeverityHigh     ImpactSeverity = "high"
	SeverityExtreme  ImpactSeverity = "extreme"
)

// ImpactAction is what a consumer must do before executing at a given
// severity.
type ImpactAction string

const (
	ActionNone    ImpactAction = "none"
	ActionWarn    ImpactAction = "warn"
	ActionConfirm ImpactAction = "confirm"
	ActionBlock   ImpactAction = "block"
)

func SeverityFor(impactBps int64) ImpactSeverity {
	switch {
	case impactBps < impactLowBps:
		return SeverityNone
	case impactBps < impactModerateBps:
		return SeverityLow
	case impactBps < impactHighBps:
		return SeverityModerate
	case impactBps < impactExtremeBps:
		return SeverityHigh
	default:
		return SeverityExtreme
	}
}

func ActionFor(severity ImpactSeverity) ImpactAction {
	switch severity {
	case SeverityNone:
		return ActionNone
	case SeverityLow:
		return ActionWarn
	case SeverityModerate, SeverityHigh:
		return ActionConfirm
	default:
		return ActionBlock
	}
}

// PriceImpactBps measures how far the quote's execution price deviates
// from the route's pre-trade mid price, in basis points. Fees are
// excluded so the number reflects pure depth, not the fee tier. Returns
// false when pool price data is missing.
func PriceImpactBps(q model.Quote) (int64, bool) {
	if q.InputAmount == nil || q.OutputAmount == nil || q.InputAmount.Sign() <= 0 || q.OutputAmount.Sign() <= 0 {
		return 0, false
	}
	mid := q.Route.MidPrice()
	if mid == nil || mid.Sign() <= 0 {
		return 0, false
	}

	// Effective input after fees across all hops.
	effectiveIn := new(big.Rat).SetInt(q.InputAmount)
	for _, fee := range q.PerHopFees {
		if fee >= model.FeeDenominator {
			return 0, false
		}
		effectiveIn.Mul(effectiveIn, big.NewRat(int64(model.FeeDenominator-fee), model.FeeDenominator))
	}
	if effectiveIn.Sign() <= 0 {
		return 0, false
	}

	executed := new(big.Rat).SetInt(q.OutputAmount)
	executed.Quo(executed, effectiveIn)

	// impact = (1 - executed/mid) * 10000, floored at zero for positive
	// slippage.
	ratio := new(big.Rat).Quo(executed, mid)
	if ratio.Cmp(new(big.Rat).SetInt64(1)) >= 0 {
		return 0, true
	}
	impact := new(big.Rat).Sub(new(big.Rat).SetInt64(1), ratio)
	impact.Mul(impact, new(big.Rat).SetInt64(bpsDenominator))
	bps := new(big.Int).Div(impact.Num(), impact.Denom())
	if !bps.IsInt64() {
		return bpsDenominator, true
	}
	return bps.Int64(), true
}

// CheckImpact enforces the severity policy: extreme impact blocks
// execution unless expert mode is set. Lower severities never error;
// they carry their action for the caller to surface.
func CheckImpact(q model.Quote, expertMode bool) (ImpactSeverity, error) {
	bps, ok := PriceImpactBps(q)
	if !ok {
		return SeverityNone, nil
	}
	severity := SeverityFor(bps)
	if ActionFor(severity) == ActionBlock && !expertMode {
		return severity, engerr.New(engerr.CodeBlocked, fmt.Sprintf("price impact %d.%02d%% exceeds the safety limit; rerun with --expert to override", bps/100, bps%100))
	}
	return severity, nil
}
