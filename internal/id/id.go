package id

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/ggonzalez94/swap-engine/internal/registry"
)

// Bootstrap token registry for deterministic symbol resolution. Tokens
// outside it are addressed directly.
var tokenRegistry = map[int64][]model.Token{
	167000: {
		{ChainID: 167000, Address: common.HexToAddress("0xA51894664A773981C6C112C43ce576f315d5b1B6"), Decimals: 18, Symbol: "WETH"},
		{ChainID: 167000, Address: common.HexToAddress("0x07d83526730c7438048D55A4fc0b850e2aaB6f0b"), Decimals: 6, Symbol: "USDC"},
		{ChainID: 167000, Address: common.HexToAddress("0x2DEF195713CF4a606B49D07E520e22C17899a736"), Decimals: 6, Symbol: "USDT"},
		{ChainID: 167000, Address: common.HexToAddress("0xA9d23408b9bA935c230493c40C73824Df71A0975"), Decimals: 18, Symbol: "TAIKO"},
	},
}

var nativeSymbolByChainID = map[int64]string{
	167000: "ETH",
	167013: "ETH",
}

// NativeToken returns the chain's gas asset. Its Address carries the
// wrapped counterpart so the token matches pool members at route
// boundaries.
func NativeToken(chainID int64) model.Token {
	symbol := nativeSymbolByChainID[chainID]
	if symbol == "" {
		symbol = "ETH"
	}
	token := model.Token{ChainID: chainID, Native: true, Decimals: 18, Symbol: symbol}
	if _, _, wrapped, ok := registry.CLContracts(chainID); ok {
		token.Address = common.HexToAddress(wrapped)
	}
	return token
}

// ParseToken resolves a token reference on the given chain. Accepted
// forms: a native symbol ("eth"), a registry symbol ("usdc"), a hex
// address, or a chain-qualified reference ("167000:0x...").
func ParseToken(input string, chainID int64) (model.Token, error) {
	raw := strings.TrimSpace(input)
	if raw == "" {
		return model.Token{}, engerr.New(engerr.CodeUsage, "token is required")
	}

	if i := strings.IndexByte(raw, ':'); i >= 0 {
		prefix, rest := raw[:i], raw[i+1:]
		id, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			return model.Token{}, engerr.New(engerr.CodeUsage, fmt.Sprintf("invalid token reference: %s", input))
		}
		if id != chainID {
			return model.Token{}, engerr.New(engerr.CodeUsage, fmt.Sprintf("token chain %d does not match the selected chain %d", id, chainID))
		}
		raw = rest
	}

	if strings.EqualFold(raw, "native") || strings.EqualFold(raw, nativeSymbolByChainID[chainID]) {
		return NativeToken(chainID), nil
	}

	if common.IsHexAddress(raw) {
		addr := common.HexToAddress(raw)
		for _, token := range tokenRegistry[chainID] {
			if token.Address == addr {
				return token, nil
			}
		}
		// Unknown address: zero decimals marks the metadata as
		// unresolved so callers fetch it on-chain instead of
		// mis-scaling amounts.
		return model.Token{ChainID: chainID, Address: addr}, nil
	}

	for _, token := range tokenRegistry[chainID] {
		if strings.EqualFold(token.Symbol, raw) {
			return token, nil
		}
	}
	return model.Token{}, engerr.New(engerr.CodeUsage, fmt.Sprintf("unknown token %q on chain %d; use an address", input, chainID))
}

// KnownTokens lists the registry tokens for a chain, native first.
func KnownTokens(chainID int64) []model.Token {
	out := make([]model.Token, 0, len(tokenRegistry[chainID])+1)
	out = append(out, NativeToken(chainID))
	out = append(out, tokenRegistry[chainID]...)
	return out
}
