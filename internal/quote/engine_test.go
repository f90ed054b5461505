package quote

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
)

var (
	quoterAddr    = common.HexToAddress("0x00000000000000000000000000000000000000F1")
	wrappedNative = common.HexToAddress("0x000000000000000000000000000000000000EEe1")
)

func testToken(last byte, symbol string) model.Token {
	var addr common.Address
	addr[19] = last
	return model.Token{ChainID: 167000, Address: addr, Decimals: 18, Symbol: symbol}
}

func testPool(t *testing.T, a, b model.Token, deployer common.Address) model.Pool {
	t.Helper()
	pool, err := model.NewPool(a, b, 3000, deployer)
	if err != nil {
		t.Fatalf("NewPool failed: %v", err)
	}
	return pool
}

// quoterStub answers quoter eth_calls with a fixed per-deployer exchange
// rate, so concurrent quoting stays deterministic.
type quoterStub struct {
	mu          sync.Mutex
	fee         int64
	rates       map[common.Address]int64 // keyed by deployer; zero means fail
	lastTokenIn common.Address
}

func (s *quoterStub) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return 0, errors.New("not a submitter")
}

func (s *quoterStub) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	method, err := quoterABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	values, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "quoteExactInputSingle":
		params := *abi.ConvertType(values[0], new(exactInputParams)).(*exactInputParams)
		s.mu.Lock()
		s.lastTokenIn = params.TokenIn
		rate := s.rates[params.Deployer]
		s.mu.Unlock()
		if rate == 0 {
			return nil, errors.New("execution reverted")
		}
		out := new(big.Int).Mul(params.AmountIn, big.NewInt(rate))
		return method.Outputs.Pack(out, big.NewInt(s.fee))
	case "quoteExactOutputSingle":
		params := *abi.ConvertType(values[0], new(exactOutputParams)).(*exactOutputParams)
		s.mu.Lock()
		rate := s.rates[params.Deployer]
		s.mu.Unlock()
		if rate == 0 {
			return nil, errors.New("execution reverted")
		}
		in := new(big.Int).Div(params.AmountOut, big.NewInt(rate))
		return method.Outputs.Pack(in, big.NewInt(s.fee))
	default:
		return nil, errors.New("unexpected method " + method.Name)
	}
}

func TestQuoteRouteExactInput(t *testing.T) {
	weth := testToken(0x01, "WETH")
	usdc := testToken(0x02, "USDC")
	route := model.Route{
		Pools:  []model.Pool{testPool(t, weth, usdc, common.Address{})},
		Input:  weth,
		Output: usdc,
	}
	stub := &quoterStub{fee: 500, rates: map[common.Address]int64{{}: 2}}
	engine := NewEngine(stub, quoterAddr, wrappedNative)

	q, err := engine.QuoteRoute(context.Background(), route, big.NewInt(1000), model.TradeExactInput)
	if err != nil {
		t.Fatalf("QuoteRoute failed: %v", err)
	}
	if q.OutputAmount.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected output 2000, got %s", q.OutputAmount)
	}
	if q.InputAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected input 1000, got %s", q.InputAmount)
	}
	if len(q.PerHopFees) != 1 || q.PerHopFees[0] != 500 {
		t.Fatalf("expected per-hop fee [500], got %v", q.PerHopFees)
	}
	if q.FetchedAt == "" {
		t.Fatal("expected a fetch timestamp")
	}
}

func TestQuoteRouteChainsHops(t *testing.T) {
	weth := testToken(0x01, "WETH")
	bridge := testToken(0x03, "TAIKO")
	usdc := testToken(0x02, "USDC")
	route := model.Route{
		Pools: []model.Pool{
			testPool(t, weth, bridge, common.Address{}),
			testPool(t, bridge, usdc, common.Address{}),
		},
		Input:  weth,
		Output: usdc,
	}
	stub := &quoterStub{fee: 3000, rates: map[common.Address]int64{{}: 2}}
	engine := NewEngine(stub, quoterAddr, wrappedNative)

	q, err := engine.QuoteRoute(context.Background(), route, big.NewInt(1000), model.TradeExactInput)
	if err != nil {
		t.Fatalf("QuoteRoute failed: %v", err)
	}
	// Two hops at 2x each.
	if q.OutputAmount.Cmp(big.NewInt(4000)) != 0 {
		t.Fatalf("expected output 4000, got %s", q.OutputAmount)
	}
	if len(q.PerHopFees) != 2 {
		t.Fatalf("expected 2 per-hop fees, got %v", q.PerHopFees)
	}
	// The chained amounts entering each hop: 1000 in, 2000 after hop one.
	if len(q.HopAmounts) != 2 {
		t.Fatalf("expected 2 hop amounts, got %v", q.HopAmounts)
	}
	if q.HopAmounts[0].Cmp(big.NewInt(1000)) != 0 || q.HopAmounts[1].Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("unexpected hop amounts: %v", q.HopAmounts)
	}
}

func TestQuoteRouteExactOutputHopAmounts(t *testing.T) {
	weth := testToken(0x01, "WETH")
	bridge := testToken(0x03, "TAIKO")
	usdc := testToken(0x02, "USDC")
	route := model.Route{
		Pools: []model.Pool{
			testPool(t, weth, bridge, common.Address{}),
			testPool(t, bridge, usdc, common.Address{}),
		},
		Input:  weth,
		Output: usdc,
	}
	stub := &quoterStub{fee: 3000, rates: map[common.Address]int64{{}: 2}}
	engine := NewEngine(stub, quoterAddr, wrappedNative)

	q, err := engine.QuoteRoute(context.Background(), route, big.NewInt(4000), model.TradeExactOutput)
	if err != nil {
		t.Fatalf("QuoteRoute failed: %v", err)
	}
	// Priced back to front: hop two needs 2000 in, hop one needs 1000.
	if len(q.HopAmounts) != 2 {
		t.Fatalf("expected 2 hop amounts, got %v", q.HopAmounts)
	}
	if q.HopAmounts[0].Cmp(big.NewInt(1000)) != 0 || q.HopAmounts[1].Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("unexpected hop amounts: %v", q.HopAmounts)
	}
	if q.InputAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected input 1000, got %s", q.InputAmount)
	}
}

func TestQuoteRouteExactOutput(t *testing.T) {
	weth := testToken(0x01, "WETH")
	usdc := testToken(0x02, "USDC")
	route := model.Route{
		Pools:  []model.Pool{testPool(t, weth, usdc, common.Address{})},
		Input:  weth,
		Output: usdc,
	}
	stub := &quoterStub{fee: 500, rates: map[common.Address]int64{{}: 2}}
	engine := NewEngine(stub, quoterAddr, wrappedNative)

	q, err := engine.QuoteRoute(context.Background(), route, big.NewInt(2000), model.TradeExactOutput)
	if err != nil {
		t.Fatalf("QuoteRoute failed: %v", err)
	}
	if q.InputAmount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected input 1000, got %s", q.InputAmount)
	}
	if q.OutputAmount.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected output 2000, got %s", q.OutputAmount)
	}
}

func TestQuoteRouteWrapsNativeInput(t *testing.T) {
	native := model.Token{ChainID: 167000, Address: wrappedNative, Native: true, Decimals: 18, Symbol: "ETH"}
	usdc := testToken(0x02, "USDC")
	route := model.Route{
		Pools:  []model.Pool{testPool(t, model.Token{ChainID: 167000, Address: wrappedNative, Decimals: 18, Symbol: "WETH"}, usdc, common.Address{})},
		Input:  native,
		Output: usdc,
	}
	stub := &quoterStub{fee: 500, rates: map[common.Address]int64{{}: 2}}
	engine := NewEngine(stub, quoterAddr, wrappedNative)

	if _, err := engine.QuoteRoute(context.Background(), route, big.NewInt(1000), model.TradeExactInput); err != nil {
		t.Fatalf("QuoteRoute failed: %v", err)
	}
	if stub.lastTokenIn != wrappedNative {
		t.Fatalf("native input must be quoted as the wrapped token, got %s", stub.lastTokenIn)
	}
}

func TestQuoteRouteRejectsBadArguments(t *testing.T) {
	engine := NewEngine(&quoterStub{}, quoterAddr, wrappedNative)

	_, err := engine.QuoteRoute(context.Background(), model.Route{}, big.NewInt(1), model.TradeExactInput)
	if !engerr.HasCode(err, engerr.CodeUsage) {
		t.Fatalf("expected usage error for empty route, got %v", err)
	}

	weth := testToken(0x01, "WETH")
	usdc := testToken(0x02, "USDC")
	route := model.Route{Pools: []model.Pool{testPool(t, weth, usdc, common.Address{})}, Input: weth, Output: usdc}
	_, err = engine.QuoteRoute(context.Background(), route, big.NewInt(0), model.TradeExactInput)
	if !engerr.HasCode(err, engerr.CodeUsage) {
		t.Fatalf("expected usage error for zero amount, got %v", err)
	}
	_, err = engine.QuoteRoute(context.Background(), route, big.NewInt(1), model.TradeType("both"))
	if !engerr.HasCode(err, engerr.CodeUsage) {
		t.Fatalf("expected usage error for bad trade type, got %v", err)
	}
}

func TestBestQuotePicksHighestOutput(t *testing.T) {
	weth := testToken(0x01, "WETH")
	usdc := testToken(0x02, "USDC")
	slowDeployer := common.HexToAddress("0x00000000000000000000000000000000000000D1")
	routes := []model.Route{
		{Pools: []model.Pool{testPool(t, weth, usdc, common.Address{})}, Input: weth, Output: usdc},
		{Pools: []model.Pool{testPool(t, weth, usdc, slowDeployer)}, Input: weth, Output: usdc},
	}
	stub := &quoterStub{fee: 500, rates: map[common.Address]int64{{}: 2, slowDeployer: 3}}
	engine := NewEngine(stub, quoterAddr, wrappedNative)

	best, err := engine.BestQuote(context.Background(), routes, big.NewInt(1000), model.TradeExactInput)
	if err != nil {
		t.Fatalf("BestQuote failed: %v", err)
	}
	if best.OutputAmount.Cmp(big.NewInt(3000)) != 0 {
		t.Fatalf("expected the 3x route to win with 3000, got %s", best.OutputAmount)
	}
}

func TestBestQuoteSkipsFailingRoutes(t *testing.T) {
	weth := testToken(0x01, "WETH")
	usdc := testToken(0x02, "USDC")
	deadDeployer := common.HexToAddress("0x00000000000000000000000000000000000000D2")
	routes := []model.Route{
		{Pools: []model.Pool{testPool(t, weth, usdc, deadDeployer)}, Input: weth, Output: usdc},
		{Pools: []model.Pool{testPool(t, weth, usdc, common.Address{})}, Input: weth, Output: usdc},
	}
	// deadDeployer has no rate entry: its quote call reverts.
	stub := &quoterStub{fee: 500, rates: map[common.Address]int64{{}: 2}}
	engine := NewEngine(stub, quoterAddr, wrappedNative)

	best, err := engine.BestQuote(context.Background(), routes, big.NewInt(1000), model.TradeExactInput)
	if err != nil {
		t.Fatalf("BestQuote failed: %v", err)
	}
	if best.OutputAmount.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("expected the surviving route's 2000, got %s", best.OutputAmount)
	}
}

func TestBestQuoteAllFailed(t *testing.T) {
	weth := testToken(0x01, "WETH")
	usdc := testToken(0x02, "USDC")
	routes := []model.Route{
		{Pools: []model.Pool{testPool(t, weth, usdc, common.Address{})}, Input: weth, Output: usdc},
	}
	stub := &quoterStub{fee: 500, rates: map[common.Address]int64{}}
	engine := NewEngine(stub, quoterAddr, wrappedNative)

	_, err := engine.BestQuote(context.Background(), routes, big.NewInt(1000), model.TradeExactInput)
	if !engerr.HasCode(err, engerr.CodeNoRoute) {
		t.Fatalf("expected no-route error when every quote fails, got %v", err)
	}
}

func TestBestQuoteNoRoutes(t *testing.T) {
	engine := NewEngine(&quoterStub{}, quoterAddr, wrappedNative)
	_, err := engine.BestQuote(context.Background(), nil, big.NewInt(1), model.TradeExactInput)
	if !engerr.HasCode(err, engerr.CodeNoRoute) {
		t.Fatalf("expected no-route error, got %v", err)
	}
}
