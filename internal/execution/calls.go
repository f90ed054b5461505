package execution

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/chain"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/ggonzalez94/swap-engine/internal/registry"
)

const DefaultGasMultiplier = 1.2

var routerABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(registry.CLRouterABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// CandidateCall is one encoded router invocation that would execute a
// quoted route. Candidates compete on estimated gas in SelectBest.
type CandidateCall struct {
	Route  model.Route
	Target common.Address
	Data   []byte
	Value  *big.Int
}

type exactInputSingleParams struct {
	TokenIn          common.Address
	TokenOut         common.Address
	Deployer         common.Address
	Recipient        common.Address
	Deadline         *big.Int
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
	LimitSqrtPrice   *big.Int
}

type exactInputParams struct {
	Path             []byte
	Recipient        common.Address
	Deadline         *big.Int
	AmountIn         *big.Int
	AmountOutMinimum *big.Int
}

type exactOutputSingleParams struct {
	TokenIn         common.Address
	TokenOut        common.Address
	Deployer        common.Address
	Recipient       common.Address
	Deadline        *big.Int
	AmountOut       *big.Int
	AmountInMaximum *big.Int
	LimitSqrtPrice  *big.Int
}

// CallBuilder encodes router calldata for quoted routes.
type CallBuilder struct {
	router        common.Address
	wrappedNative common.Address
}

func NewCallBuilder(router, wrappedNative common.Address) *CallBuilder {
	return &CallBuilder{router: router, wrappedNative: wrappedNative}
}

// Build encodes the router call for one quote. Single-hop trades use
// the single-pool entrypoints; multi-hop exact-input uses the packed
// path form. Native input is carried as call value with the wrapped
// token in calldata.
func (b *CallBuilder) Build(q model.Quote, recipient common.Address, bound, deadline *big.Int) (CandidateCall, error) {
	if q.Route.Hops() == 0 {
		return CandidateCall{}, engerr.New(engerr.CodeUsage, "quote has no route")
	}
	if bound == nil || bound.Sign() < 0 {
		return CandidateCall{}, engerr.New(engerr.CodeUsage, "missing slippage bound")
	}

	value := big.NewInt(0)
	if q.Route.Input.Native {
		value = new(big.Int).Set(q.InputAmount)
	}
	path := q.Route.TokenPath()
	if len(path) != q.Route.Hops()+1 {
		return CandidateCall{}, engerr.New(engerr.CodeNoRoute, "route path is disconnected")
	}

	var data []byte
	var err error
	switch {
	case q.TradeType == model.TradeExactOutput && q.Route.Hops() == 1:
		data, err = routerABI.Pack("exactOutputSingle", exactOutputSingleParams{
			TokenIn:         path[0].Wrapped(b.wrappedNative).Address,
			TokenOut:        path[1].Wrapped(b.wrappedNative).Address,
			Deployer:        q.Route.Pools[0].Deployer,
			Recipient:       recipient,
			Deadline:        deadline,
			AmountOut:       new(big.Int).Set(q.OutputAmount),
			AmountInMaximum: bound,
			LimitSqrtPrice:  big.NewInt(0),
		})
		if q.Route.Input.Native {
			// The router pulls up to the maximum and refunds the rest.
			value = new(big.Int).Set(bound)
		}
	case q.TradeType == model.TradeExactOutput:
		return CandidateCall{}, engerr.New(engerr.CodeUnsupported, "exact-output trades support single-hop routes only")
	case q.Route.Hops() == 1:
		data, err = routerABI.Pack("exactInputSingle", exactInputSingleParams{
			TokenIn:          path[0].Wrapped(b.wrappedNative).Address,
			TokenOut:         path[1].Wrapped(b.wrappedNative).Address,
			Deployer:         q.Route.Pools[0].Deployer,
			Recipient:        recipient,
			Deadline:         deadline,
			AmountIn:         new(big.Int).Set(q.InputAmount),
			AmountOutMinimum: bound,
			LimitSqrtPrice:   big.NewInt(0),
		})
	default:
		data, err = routerABI.Pack("exactInput", exactInputParams{
			Path:             b.encodePath(q.Route),
			Recipient:        recipient,
			Deadline:         deadline,
			AmountIn:         new(big.Int).Set(q.InputAmount),
			AmountOutMinimum: bound,
		})
	}
	if err != nil {
		return CandidateCall{}, engerr.Wrap(engerr.CodeInternal, "pack router call", err)
	}
	return CandidateCall{Route: q.Route, Target: b.router, Data: data, Value: value}, nil
}

// encodePath packs the route as token || deployer || token || ... for
// the router's multi-hop entrypoint.
func (b *CallBuilder) encodePath(route model.Route) []byte {
	tokens := route.TokenPath()
	path := make([]byte, 0, 20*(2*len(route.Pools)+1))
	path = append(path, tokens[0].Wrapped(b.wrappedNative).Address.Bytes()...)
	for i, pool := range route.Pools {
		path = append(path, pool.Deployer.Bytes()...)
		path = append(path, tokens[i+1].Wrapped(b.wrappedNative).Address.Bytes()...)
	}
	return path
}

// Selection is the winning candidate with its buffered gas limit. It
// belongs to the selector generation that produced it; a later
// selection pass makes it stale.
type Selection struct {
	Call       CandidateCall
	GasRaw     uint64
	GasLimit   uint64
	generation uint64
}

// Selector races candidate calls through gas estimation and keeps the
// cheapest. Each Select bumps the generation so results from superseded
// passes can be detected and discarded.
type Selector struct {
	caller        chain.Caller
	from          common.Address
	gasMultiplier float64
	generation    atomic.Uint64
}

func NewSelector(caller chain.Caller, from common.Address, gasMultiplier float64) *Selector {
	if gasMultiplier <= 1 {
		gasMultiplier = DefaultGasMultiplier
	}
	return &Selector{caller: caller, from: from, gasMultiplier: gasMultiplier}
}

// Select estimates every candidate concurrently and returns the one
// with the lowest raw gas, its limit inflated by the configured
// multiplier. Zero candidates is a usage error; when every estimation
// fails the last concrete failure is propagated.
func (s *Selector) Select(ctx context.Context, candidates []CandidateCall) (Selection, error) {
	generation := s.generation.Add(1)
	if len(candidates) == 0 {
		return Selection{}, engerr.New(engerr.CodeUsage, "no candidate calls to estimate")
	}

	type outcome struct {
		gas uint64
		err error
	}
	outcomes := make([]outcome, len(candidates))
	var wg sync.WaitGroup
	for i, candidate := range candidates {
		wg.Add(1)
		go func(i int, candidate CandidateCall) {
			defer wg.Done()
			target := candidate.Target
			gas, err := s.caller.EstimateGas(ctx, ethereum.CallMsg{
				From:  s.from,
				To:    &target,
				Value: candidate.Value,
				Data:  candidate.Data,
			})
			outcomes[i] = outcome{gas: gas, err: err}
		}(i, candidate)
	}
	wg.Wait()

	best := -1
	var lastErr error
	for i := range outcomes {
		if outcomes[i].err != nil {
			lastErr = outcomes[i].err
			continue
		}
		if best < 0 || outcomes[i].gas < outcomes[best].gas {
			best = i
		}
	}
	if best < 0 {
		return Selection{}, engerr.Wrap(engerr.CodeSimulation, "every candidate call failed gas estimation", lastErr)
	}
	raw := outcomes[best].gas
	return Selection{
		Call:       candidates[best],
		GasRaw:     raw,
		GasLimit:   uint64(float64(raw) * s.gasMultiplier),
		generation: generation,
	}, nil
}

// Fresh reports whether the selection came from the latest Select pass.
// Stale selections must not be submitted.
func (s *Selector) Fresh(sel Selection) bool {
	return sel.generation == s.generation.Load()
}
