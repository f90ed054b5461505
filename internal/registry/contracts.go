package registry

// Concentrated-liquidity DEX deployments by chain ID. Today this map
// includes Taiko deployments and can be extended chain-by-chain.
var clContractsByChainID = map[int64]struct {
	Quoter        string
	Router        string
	WrappedNative string
}{
	167000: {
		Quoter:        "0xcBa70D57be34aA26557B8E80135a9B7754680aDb",
		Router:        "0x1A0c3a0Cfd1791FAC7798FA2b05208B66aaadfeD",
		WrappedNative: "0xA51894664A773981C6C112C43ce576f315d5b1B6",
	},
	167013: {
		Quoter:        "0xAC8D93657DCc5C0dE9d9AF2772aF9eA3A032a1C6",
		Router:        "0x482233e4DBD56853530fA1918157CE59B60dF230",
		WrappedNative: "0x5a77f1443D16ee5761d310e38b62f77f726bC71c",
	},
}

func CLContracts(chainID int64) (quoter, router, wrappedNative string, ok bool) {
	contracts, ok := clContractsByChainID[chainID]
	if !ok {
		return "", "", "", false
	}
	return contracts.Quoter, contracts.Router, contracts.WrappedNative, true
}

// Multicall3 is deployed at the same address on every supported chain.
const Multicall3Address = "0xcA11bde05977b3631167028862bE2a173976CA11"
