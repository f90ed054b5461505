package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// FeeDenominator is the base for pool fees expressed in pips
// (hundredths of a basis point): 3000 pips = 0.30%.
const FeeDenominator = 1_000_000

// Token identifies an asset on a chain. The chain's native asset is
// marked Native and carries its wrapped ERC20 address in Address, so
// route boundaries can match the pool member it trades through;
// Wrapped converts to the ERC20 form when calldata needs one.
type Token struct {
	ChainID  int64
	Address  common.Address
	Native   bool
	Decimals int
	Symbol   string
}

func (t Token) Equal(other Token) bool {
	if t.ChainID != other.ChainID {
		return false
	}
	if t.Native && other.Native {
		return true
	}
	if t.Native != other.Native {
		// A native token with a known wrapped address matches that
		// wrapped ERC20; without one nothing can match it.
		return t.Address != (common.Address{}) && other.Address != (common.Address{}) && t.Address == other.Address
	}
	return t.Address == other.Address
}

// Wrapped returns the ERC20 counterpart of a native token. Non-native
// tokens are returned unchanged.
func (t Token) Wrapped(wrappedNative common.Address) Token {
	if !t.Native {
		return t
	}
	return Token{
		ChainID:  t.ChainID,
		Address:  wrappedNative,
		Decimals: t.Decimals,
		Symbol:   "W" + t.Symbol,
	}
}

func (t Token) String() string {
	if t.Native {
		return fmt.Sprintf("%d:native(%s)", t.ChainID, t.Symbol)
	}
	return fmt.Sprintf("%d:%s", t.ChainID, strings.ToLower(t.Address.Hex()))
}

// Pool is one concentrated-liquidity pool. Token0 and Token1 are held in
// canonical order (token0 address < token1 address) and Deployer
// distinguishes pool variants sharing the same pair.
type Pool struct {
	Address      common.Address
	Token0       Token
	Token1       Token
	FeePips      uint32
	Liquidity    *big.Int
	SqrtPriceX96 *big.Int
	Tick         int
	TickSpacing  int
	Deployer     common.Address
	Plugin       common.Address
}

// NewPool orders the pair canonically. It returns an error when both
// sides resolve to the same token.
func NewPool(a, b Token, fee uint32, deployer common.Address) (Pool, error) {
	if a.Equal(b) {
		return Pool{}, fmt.Errorf("pool tokens must differ: %s", a)
	}
	t0, t1 := a, b
	if strings.ToLower(t1.Address.Hex()) < strings.ToLower(t0.Address.Hex()) {
		t0, t1 = t1, t0
	}
	return Pool{Token0: t0, Token1: t1, FeePips: fee, Deployer: deployer}, nil
}

// ID is the pool's identity: deterministic from the ordered pair and the
// deployer, independent of where the struct came from.
func (p Pool) ID() string {
	return strings.ToLower(fmt.Sprintf("%s-%s-%s", p.Token0.Address.Hex(), p.Token1.Address.Hex(), p.Deployer.Hex()))
}

func (p Pool) Involves(t Token) bool {
	return p.Token0.Equal(t) || p.Token1.Equal(t)
}

// OtherToken returns the pool token opposite t, and false when t is not
// in the pool.
func (p Pool) OtherToken(t Token) (Token, bool) {
	switch {
	case p.Token0.Equal(t):
		return p.Token1, true
	case p.Token1.Equal(t):
		return p.Token0, true
	default:
		return Token{}, false
	}
}

// ZeroForOne reports the swap direction through the pool for the given
// input token.
func (p Pool) ZeroForOne(input Token) bool {
	return p.Token0.Equal(input)
}

// HasPlugin reports whether a dynamic-fee plugin is attached.
func (p Pool) HasPlugin() bool {
	return p.Plugin != (common.Address{})
}

// Route is an ordered pool path from Input to Output. Consecutive pools
// share exactly one token and no pool identity repeats.
type Route struct {
	Pools  []Pool
	Input  Token
	Output Token
}

func (r Route) Hops() int { return len(r.Pools) }

// TokenPath returns the hop boundary tokens, Input first and Output last.
func (r Route) TokenPath() []Token {
	path := make([]Token, 0, len(r.Pools)+1)
	current := r.Input
	path = append(path, current)
	for _, pool := range r.Pools {
		next, ok := pool.OtherToken(current)
		if !ok {
			return path
		}
		path = append(path, next)
		current = next
	}
	return path
}

func (r Route) String() string {
	parts := make([]string, 0, len(r.Pools)+1)
	for _, t := range r.TokenPath() {
		if t.Symbol != "" {
			parts = append(parts, t.Symbol)
		} else {
			parts = append(parts, t.String())
		}
	}
	return strings.Join(parts, " -> ")
}

// TradeType distinguishes exact-input from exact-output quotes.
type TradeType string

const (
	TradeExactInput  TradeType = "exact-input"
	TradeExactOutput TradeType = "exact-output"
)

// Quote is the priced outcome of one route. Quotes are immutable; a
// recomputation produces a new Quote rather than mutating this one.
type Quote struct {
	Route        Route
	TradeType    TradeType
	InputAmount  *big.Int
	OutputAmount *big.Int
	// HopAmounts holds the amount entering each hop in route order, as
	// chained through the quoter.
	HopAmounts []*big.Int
	PerHopFees []uint32
	FetchedAt  string
}

// MidPrice returns the route's pre-trade execution price as a rational
// (output units per input unit in raw base units), derived from each
// pool's sqrt price. Returns nil when any pool lacks price data.
func (r Route) MidPrice() *big.Rat {
	price := new(big.Rat).SetInt64(1)
	current := r.Input
	for _, pool := range r.Pools {
		if pool.SqrtPriceX96 == nil || pool.SqrtPriceX96.Sign() <= 0 {
			return nil
		}
		num := new(big.Int).Mul(pool.SqrtPriceX96, pool.SqrtPriceX96)
		den := new(big.Int).Lsh(big.NewInt(1), 192)
		hop := new(big.Rat).SetFrac(num, den)
		if !pool.ZeroForOne(current) {
			hop.Inv(hop)
		}
		price.Mul(price, hop)
		next, ok := pool.OtherToken(current)
		if !ok {
			return nil
		}
		current = next
	}
	return price
}
