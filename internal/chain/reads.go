package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/ggonzalez94/swap-engine/internal/registry"
)

var (
	erc20ABI     = mustABI(registry.ERC20MinimalABI)
	poolABI      = mustABI(registry.CLPoolABI)
	pluginABI    = mustABI(registry.CLPluginABI)
	multicallABI = mustABI(registry.Multicall3ABI)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Call is one target invocation inside a multicall batch.
type Call struct {
	Target       common.Address
	CallData     []byte
	AllowFailure bool
}

// CallResult mirrors Multicall3's per-call outcome.
type CallResult struct {
	Success    bool
	ReturnData []byte
}

// BatchCall executes the calls in one Multicall3 aggregate3 round trip.
func BatchCall(ctx context.Context, caller Caller, calls []Call) ([]CallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	type mcCall struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}
	packed := make([]mcCall, 0, len(calls))
	for _, call := range calls {
		packed = append(packed, mcCall{Target: call.Target, AllowFailure: call.AllowFailure, CallData: call.CallData})
	}
	data, err := multicallABI.Pack("aggregate3", packed)
	if err != nil {
		return nil, engerr.Wrap(engerr.CodeInternal, "pack multicall", err)
	}
	target := common.HexToAddress(registry.Multicall3Address)
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &target, Data: data})
	if err != nil {
		return nil, engerr.Wrap(engerr.CodeUnavailable, "multicall", err)
	}
	values, err := multicallABI.Unpack("aggregate3", out)
	if err != nil {
		return nil, engerr.Wrap(engerr.CodeUnavailable, "decode multicall result", err)
	}
	raw := *abi.ConvertType(values[0], new([]CallResult)).(*[]CallResult)
	if len(raw) != len(calls) {
		return nil, engerr.New(engerr.CodeUnavailable, fmt.Sprintf("multicall returned %d results for %d calls", len(raw), len(calls)))
	}
	return raw, nil
}

// Allowance reads the ERC20 allowance granted by owner to spender.
func Allowance(ctx context.Context, caller Caller, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, engerr.Wrap(engerr.CodeInternal, "pack allowance call", err)
	}
	out, err := caller.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return nil, engerr.Wrap(engerr.CodeUnavailable, "read allowance", err)
	}
	values, err := erc20ABI.Unpack("allowance", out)
	if err != nil {
		return nil, engerr.Wrap(engerr.CodeUnavailable, "decode allowance", err)
	}
	return abi.ConvertType(values[0], new(big.Int)).(*big.Int), nil
}

// TokenMetadata reads an ERC20's symbol and decimals in one batch.
// Decimals is mandatory; a token without a readable symbol keeps an
// empty one.
func TokenMetadata(ctx context.Context, caller Caller, token common.Address) (string, int, error) {
	symbolData, err := erc20ABI.Pack("symbol")
	if err != nil {
		return "", 0, engerr.Wrap(engerr.CodeInternal, "pack symbol call", err)
	}
	decimalsData, err := erc20ABI.Pack("decimals")
	if err != nil {
		return "", 0, engerr.Wrap(engerr.CodeInternal, "pack decimals call", err)
	}
	results, err := BatchCall(ctx, caller, []Call{
		{Target: token, CallData: symbolData, AllowFailure: true},
		{Target: token, CallData: decimalsData},
	})
	if err != nil {
		return "", 0, err
	}
	if !results[1].Success {
		return "", 0, engerr.New(engerr.CodeUnavailable, fmt.Sprintf("token %s has no readable decimals", token.Hex()))
	}
	dec, err := erc20ABI.Unpack("decimals", results[1].ReturnData)
	if err != nil {
		return "", 0, engerr.Wrap(engerr.CodeUnavailable, "decode decimals", err)
	}
	decimals := int(*abi.ConvertType(dec[0], new(uint8)).(*uint8))

	symbol := ""
	if results[0].Success {
		if values, err := erc20ABI.Unpack("symbol", results[0].ReturnData); err == nil {
			symbol = *abi.ConvertType(values[0], new(string)).(*string)
		}
	}
	return symbol, decimals, nil
}

// PoolState is the subset of on-chain pool state the engine refreshes on
// demand per pool address.
type PoolState struct {
	SqrtPriceX96 *big.Int
	Tick         int
	FeePips      uint32
	Liquidity    *big.Int
	TickSpacing  int
	Plugin       common.Address
}

// ReadPoolState refreshes a pool's live state in one multicall batch.
func ReadPoolState(ctx context.Context, caller Caller, pool common.Address) (PoolState, error) {
	names := []string{"globalState", "liquidity", "tickSpacing", "plugin"}
	calls := make([]Call, 0, len(names))
	for _, name := range names {
		data, err := poolABI.Pack(name)
		if err != nil {
			return PoolState{}, engerr.Wrap(engerr.CodeInternal, "pack pool read", err)
		}
		calls = append(calls, Call{Target: pool, CallData: data})
	}
	results, err := BatchCall(ctx, caller, calls)
	if err != nil {
		return PoolState{}, err
	}
	for i, result := range results {
		if !result.Success {
			return PoolState{}, engerr.New(engerr.CodeUnavailable, fmt.Sprintf("pool read %s reverted", names[i]))
		}
	}

	var state PoolState
	global, err := poolABI.Unpack("globalState", results[0].ReturnData)
	if err != nil {
		return PoolState{}, engerr.Wrap(engerr.CodeUnavailable, "decode globalState", err)
	}
	state.SqrtPriceX96 = abi.ConvertType(global[0], new(big.Int)).(*big.Int)
	state.Tick = int(abi.ConvertType(global[1], new(big.Int)).(*big.Int).Int64())
	state.FeePips = uint32(*abi.ConvertType(global[2], new(uint16)).(*uint16)) // lastFee, pips

	liq, err := poolABI.Unpack("liquidity", results[1].ReturnData)
	if err != nil {
		return PoolState{}, engerr.Wrap(engerr.CodeUnavailable, "decode liquidity", err)
	}
	state.Liquidity = abi.ConvertType(liq[0], new(big.Int)).(*big.Int)

	spacing, err := poolABI.Unpack("tickSpacing", results[2].ReturnData)
	if err != nil {
		return PoolState{}, engerr.Wrap(engerr.CodeUnavailable, "decode tickSpacing", err)
	}
	state.TickSpacing = int(abi.ConvertType(spacing[0], new(big.Int)).(*big.Int).Int64())

	plugin, err := poolABI.Unpack("plugin", results[3].ReturnData)
	if err != nil {
		return PoolState{}, engerr.Wrap(engerr.CodeUnavailable, "decode plugin", err)
	}
	state.Plugin = *abi.ConvertType(plugin[0], new(common.Address)).(*common.Address)

	return state, nil
}

// ApplyPoolState copies a fresh read into a pool snapshot.
func ApplyPoolState(pool *model.Pool, state PoolState) {
	pool.SqrtPriceX96 = state.SqrtPriceX96
	pool.Tick = state.Tick
	pool.FeePips = state.FeePips
	pool.Liquidity = state.Liquidity
	pool.TickSpacing = state.TickSpacing
	pool.Plugin = state.Plugin
}

// SimulateHookFee simulates the pool plugin's beforeSwap hook with the
// real direction and amount, returning the fee the pool would charge in
// pips. The call is issued as the pool itself since plugins reject other
// senders.
func SimulateHookFee(ctx context.Context, caller Caller, pool model.Pool, zeroToOne bool, amount *big.Int) (uint32, error) {
	if !pool.HasPlugin() {
		return 0, engerr.New(engerr.CodeSimulation, "pool has no fee plugin")
	}
	data, err := pluginABI.Pack("beforeSwap",
		pool.Address,
		common.Address{},
		zeroToOne,
		new(big.Int).Set(amount),
		big.NewInt(0),
		false,
		[]byte{},
	)
	if err != nil {
		return 0, engerr.Wrap(engerr.CodeInternal, "pack beforeSwap", err)
	}
	plugin := pool.Plugin
	out, err := caller.CallContract(ctx, ethereum.CallMsg{From: pool.Address, To: &plugin, Data: data})
	if err != nil {
		return 0, engerr.Wrap(engerr.CodeSimulation, "simulate beforeSwap", err)
	}
	values, err := pluginABI.Unpack("beforeSwap", out)
	if err != nil {
		return 0, engerr.Wrap(engerr.CodeSimulation, "decode beforeSwap result", err)
	}
	override := uint32(abi.ConvertType(values[1], new(big.Int)).(*big.Int).Uint64())
	surcharge := uint32(abi.ConvertType(values[2], new(big.Int)).(*big.Int).Uint64())
	if override == 0 {
		return 0, engerr.New(engerr.CodeSimulation, "plugin returned no fee override")
	}
	return override + surcharge, nil
}
