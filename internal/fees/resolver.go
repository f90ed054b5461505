package fees

import (
	"context"
	"math/big"
	"sync"

	"github.com/ggonzalez94/swap-engine/internal/chain"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/rs/zerolog"
)

// State is the lifecycle of a fee resolution. Consumers act on all
// three: loading means keep showing the static fee, ready means every
// hop carries its simulated fee, degraded means at least one hop fell
// back to its static fee.
type State string

const (
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
)

// HopFee is one hop's resolved fee in pips. Override reports whether the
// value came from the plugin simulation rather than the pool's static
// fee.
type HopFee struct {
	Pool     model.Pool
	FeePips  uint32
	Override bool
}

type Resolution struct {
	State State
	Hops  []HopFee
}

// Fees returns the per-hop fees in route order.
func (r Resolution) Fees() []uint32 {
	fees := make([]uint32, len(r.Hops))
	for i, hop := range r.Hops {
		fees[i] = hop.FeePips
	}
	return fees
}

// Loading is the resolution consumers hold while a Resolve is in
// flight.
func Loading() Resolution {
	return Resolution{State: StateLoading}
}

// Resolver turns a route's static fees into the fees its pools will
// actually charge, by simulating each pool plugin's beforeSwap hook.
type Resolver struct {
	caller chain.Caller
	log    zerolog.Logger
}

func NewResolver(caller chain.Caller, log zerolog.Logger) *Resolver {
	return &Resolver{caller: caller, log: log}
}

// Resolve simulates every plugin hop concurrently with the hop's real
// direction and the amount actually entering that hop, as chained
// through the quoter. A hop without a plugin keeps its static fee and
// does not degrade the result; a failed simulation or a hop with no
// known amount falls back to the static fee and marks the resolution
// degraded. Resolve never returns an error: fee resolution must not
// abort a swap.
func (r *Resolver) Resolve(ctx context.Context, route model.Route, hopAmounts []*big.Int) Resolution {
	hops := make([]HopFee, route.Hops())
	path := route.TokenPath()

	var wg sync.WaitGroup
	var mu sync.Mutex
	degraded := false

	for i, pool := range route.Pools {
		hops[i] = HopFee{Pool: pool, FeePips: pool.FeePips}
		if !pool.HasPlugin() {
			continue
		}
		if i >= len(hopAmounts) || hopAmounts[i] == nil || i >= len(path) {
			mu.Lock()
			degraded = true
			mu.Unlock()
			continue
		}
		amount := hopAmounts[i]
		wg.Add(1)
		go func(i int, pool model.Pool, input model.Token, amount *big.Int) {
			defer wg.Done()
			fee, err := chain.SimulateHookFee(ctx, r.caller, pool, pool.ZeroForOne(input), amount)
			if err != nil {
				r.log.Debug().Err(err).Str("pool", pool.Address.Hex()).Msg("hook simulation failed, using static fee")
				mu.Lock()
				degraded = true
				mu.Unlock()
				return
			}
			mu.Lock()
			hops[i].FeePips = fee
			hops[i].Override = true
			mu.Unlock()
		}(i, pool, path[i], amount)
	}
	wg.Wait()

	state := StateReady
	if degraded {
		state = StateDegraded
	}
	return Resolution{State: state, Hops: hops}
}

// EffectiveFee compounds per-hop fees into the route's total fee in
// pips: 1 - (1-fee_1)...(1-fee_n), rounded down.
func EffectiveFee(perHop []uint32) uint32 {
	kept := new(big.Rat).SetInt64(1)
	for _, fee := range perHop {
		if fee >= model.FeeDenominator {
			return model.FeeDenominator
		}
		kept.Mul(kept, big.NewRat(int64(model.FeeDenominator-fee), model.FeeDenominator))
	}
	lost := new(big.Rat).Sub(new(big.Rat).SetInt64(1), kept)
	lost.Mul(lost, new(big.Rat).SetInt64(model.FeeDenominator))
	return uint32(new(big.Int).Div(lost.Num(), lost.Denom()).Uint64())
}

// Split is one leg of a divided trade: the share of input routed down a
// route and that route's per-hop fees.
type Split struct {
	WeightBps int64
	Fees      []uint32
}

// BlendedFee is the weighted total fee across splits in pips:
// 1 - sum(weight_s * (1-fee_1)...(1-fee_n)). Weights are normalized
// over the provided splits.
func BlendedFee(splits []Split) uint32 {
	var totalWeight int64
	for _, split := range splits {
		if split.WeightBps > 0 {
			totalWeight += split.WeightBps
		}
	}
	if totalWeight == 0 {
		return 0
	}

	kept := new(big.Rat)
	for _, split := range splits {
		if split.WeightBps <= 0 {
			continue
		}
		legKept := new(big.Rat).SetInt64(1)
		for _, fee := range split.Fees {
			if fee >= model.FeeDenominator {
				legKept.SetInt64(0)
				break
			}
			legKept.Mul(legKept, big.NewRat(int64(model.FeeDenominator-fee), model.FeeDenominator))
		}
		legKept.Mul(legKept, big.NewRat(split.WeightBps, totalWeight))
		kept.Add(kept, legKept)
	}

	lost := new(big.Rat).Sub(new(big.Rat).SetInt64(1), kept)
	lost.Mul(lost, new(big.Rat).SetInt64(model.FeeDenominator))
	return uint32(new(big.Int).Div(lost.Num(), lost.Denom()).Uint64())
}
