package registry

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

func TestABIFragmentsParse(t *testing.T) {
	fragments := map[string]string{
		"erc20":     ERC20MinimalABI,
		"pool":      CLPoolABI,
		"plugin":    CLPluginABI,
		"quoter":    CLQuoterABI,
		"router":    CLRouterABI,
		"multicall": Multicall3ABI,
	}
	for name, raw := range fragments {
		if _, err := abi.JSON(strings.NewReader(raw)); err != nil {
			t.Fatalf("%s ABI does not parse: %v", name, err)
		}
	}
}

func TestCLContractsKnownChain(t *testing.T) {
	quoter, router, wrapped, ok := CLContracts(167000)
	if !ok {
		t.Fatal("expected taiko contracts")
	}
	for _, addr := range []string{quoter, router, wrapped} {
		if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
			t.Fatalf("malformed contract address: %s", addr)
		}
	}
	if _, _, _, ok := CLContracts(999999); ok {
		t.Fatal("unknown chain must not resolve contracts")
	}
}

func TestResolveRPCURL(t *testing.T) {
	if url, err := ResolveRPCURL(" https://example.org ", 0); err != nil || url != "https://example.org" {
		t.Fatalf("override must win: url=%q err=%v", url, err)
	}
	if _, err := ResolveRPCURL("", 424242); err == nil {
		t.Fatal("expected error for unknown chain without override")
	}
	if url, err := ResolveRPCURL("", 167000); err != nil || url == "" {
		t.Fatalf("expected default taiko rpc, got url=%q err=%v", url, err)
	}
}
