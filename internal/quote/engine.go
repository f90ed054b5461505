package quote

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/chain"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/ggonzalez94/swap-engine/internal/registry"
)

var quoterABI = mustABI(registry.CLQuoterABI)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Engine prices routes against the on-chain quoter. The quoter owns the
// tick math; the engine only chains per-hop amounts through a route.
type Engine struct {
	caller        chain.Caller
	quoter        common.Address
	wrappedNative common.Address
	now           func() time.Time
}

func NewEngine(caller chain.Caller, quoter, wrappedNative common.Address) *Engine {
	return &Engine{caller: caller, quoter: quoter, wrappedNative: wrappedNative, now: time.Now}
}

type exactInputParams struct {
	TokenIn        common.Address
	TokenOut       common.Address
	Deployer       common.Address
	AmountIn       *big.Int
	LimitSqrtPrice *big.Int
}

type exactOutputParams struct {
	TokenIn        common.Address
	TokenOut       common.Address
	Deployer       common.Address
	AmountOut      *big.Int
	LimitSqrtPrice *big.Int
}

// QuoteRoute prices one route. For exact-input trades the amount is the
// input; for exact-output it is the desired output and hops are priced
// back to front. Quotes are immutable: recomputation yields a new value.
func (e *Engine) QuoteRoute(ctx context.Context, route model.Route, amount *big.Int, trade model.TradeType) (model.Quote, error) {
	if route.Hops() == 0 {
		return model.Quote{}, engerr.New(engerr.CodeUsage, "route has no pools")
	}
	if amount == nil || amount.Sign() <= 0 {
		return model.Quote{}, engerr.New(engerr.CodeUsage, "amount must be positive")
	}

	path := route.TokenPath()
	if len(path) != route.Hops()+1 {
		return model.Quote{}, engerr.New(engerr.CodeNoRoute, "route path is disconnected")
	}
	fees := make([]uint32, route.Hops())
	hopAmounts := make([]*big.Int, route.Hops())

	switch trade {
	case model.TradeExactInput:
		hopAmount := new(big.Int).Set(amount)
		for i, pool := range route.Pools {
			hopAmounts[i] = hopAmount
			out, fee, err := e.quoteHopIn(ctx, path[i], path[i+1], pool.Deployer, hopAmount)
			if err != nil {
				return model.Quote{}, err
			}
			fees[i] = fee
			hopAmount = out
		}
		return model.Quote{
			Route:        route,
			TradeType:    trade,
			InputAmount:  new(big.Int).Set(amount),
			OutputAmount: hopAmount,
			HopAmounts:   hopAmounts,
			PerHopFees:   fees,
			FetchedAt:    e.now().UTC().Format(time.RFC3339),
		}, nil

	case model.TradeExactOutput:
		hopAmount := new(big.Int).Set(amount)
		for i := route.Hops() - 1; i >= 0; i-- {
			pool := route.Pools[i]
			in, fee, err := e.quoteHopOut(ctx, path[i], path[i+1], pool.Deployer, hopAmount)
			if err != nil {
				return model.Quote{}, err
			}
			fees[i] = fee
			hopAmounts[i] = in
			hopAmount = in
		}
		return model.Quote{
			Route:        route,
			TradeType:    trade,
			InputAmount:  hopAmount,
			OutputAmount: new(big.Int).Set(amount),
			HopAmounts:   hopAmounts,
			PerHopFees:   fees,
			FetchedAt:    e.now().UTC().Format(time.RFC3339),
		}, nil

	default:
		return model.Quote{}, engerr.New(engerr.CodeUsage, "trade type must be exact-input or exact-output")
	}
}

func (e *Engine) quoteHopIn(ctx context.Context, tokenIn, tokenOut model.Token, deployer common.Address, amountIn *big.Int) (*big.Int, uint32, error) {
	data, err := quoterABI.Pack("quoteExactInputSingle", exactInputParams{
		TokenIn:        tokenIn.Wrapped(e.wrappedNative).Address,
		TokenOut:       tokenOut.Wrapped(e.wrappedNative).Address,
		Deployer:       deployer,
		AmountIn:       amountIn,
		LimitSqrtPrice: big.NewInt(0),
	})
	if err != nil {
		return nil, 0, engerr.Wrap(engerr.CodeInternal, "pack quote call", err)
	}
	out, err := e.caller.CallContract(ctx, ethereum.CallMsg{To: &e.quoter, Data: data})
	if err != nil {
		return nil, 0, engerr.Wrap(engerr.CodeNoRoute, "insufficient liquidity", err)
	}
	values, err := quoterABI.Unpack("quoteExactInputSingle", out)
	if err != nil {
		return nil, 0, engerr.Wrap(engerr.CodeUnavailable, "decode quote result", err)
	}
	amountOut := abi.ConvertType(values[0], new(big.Int)).(*big.Int)
	fee := uint32(abi.ConvertType(values[1], new(big.Int)).(*big.Int).Uint64())
	if amountOut.Sign() <= 0 {
		return nil, 0, engerr.New(engerr.CodeNoRoute, "insufficient liquidity")
	}
	return amountOut, fee, nil
}

func (e *Engine) quoteHopOut(ctx context.Context, tokenIn, tokenOut model.Token, deployer common.Address, amountOut *big.Int) (*big.Int, uint32, error) {
	data, err := quoterABI.Pack("quoteExactOutputSingle", exactOutputParams{
		TokenIn:        tokenIn.Wrapped(e.wrappedNative).Address,
		TokenOut:       tokenOut.Wrapped(e.wrappedNative).Address,
		Deployer:       deployer,
		AmountOut:      amountOut,
		LimitSqrtPrice: big.NewInt(0),
	})
	if err != nil {
		return nil, 0, engerr.Wrap(engerr.CodeInternal, "pack quote call", err)
	}
	out, err := e.caller.CallContract(ctx, ethereum.CallMsg{To: &e.quoter, Data: data})
	if err != nil {
		return nil, 0, engerr.Wrap(engerr.CodeNoRoute, "insufficient liquidity", err)
	}
	values, err := quoterABI.Unpack("quoteExactOutputSingle", out)
	if err != nil {
		return nil, 0, engerr.Wrap(engerr.CodeUnavailable, "decode quote result", err)
	}
	amountIn := abi.ConvertType(values[0], new(big.Int)).(*big.Int)
	fee := uint32(abi.ConvertType(values[1], new(big.Int)).(*big.Int).Uint64())
	if amountIn.Sign() <= 0 {
		return nil, 0, engerr.New(engerr.CodeNoRoute, "insufficient liquidity")
	}
	return amountIn, fee, nil
}

// BestQuote prices every route concurrently and returns the best
// successful quote: highest output for exact-input, lowest input for
// exact-output. When every route fails the last concrete error is
// propagated.
func (e *Engine) BestQuote(ctx context.Context, routes []model.Route, amount *big.Int, trade model.TradeType) (model.Quote, error) {
	if len(routes) == 0 {
		return model.Quote{}, engerr.New(engerr.CodeNoRoute, "no routes to quote")
	}

	type outcome struct {
		quote model.Quote
		err   error
	}
	outcomes := make([]outcome, len(routes))
	var wg sync.WaitGroup
	for i, route := range routes {
		wg.Add(1)
		go func(i int, route model.Route) {
			defer wg.Done()
			q, err := e.QuoteRoute(ctx, route, amount, trade)
			outcomes[i] = outcome{quote: q, err: err}
		}(i, route)
	}
	wg.Wait()

	var best *model.Quote
	var lastErr error
	for i := range outcomes {
		if outcomes[i].err != nil {
			lastErr = outcomes[i].err
			continue
		}
		q := outcomes[i].quote
		if best == nil {
			best = &q
			continue
		}
		switch trade {
		case model.TradeExactOutput:
			if q.InputAmount.Cmp(best.InputAmount) < 0 {
				best = &q
			}
		default:
			if q.OutputAmount.Cmp(best.OutputAmount) > 0 {
				best = &q
			}
		}
	}
	if best == nil {
		if lastErr != nil {
			return model.Quote{}, lastErr
		}
		return model.Quote{}, engerr.New(engerr.CodeNoRoute, "no routes to quote")
	}
	return *best, nil
}
