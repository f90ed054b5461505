package registry

// ABI fragments used by quoting, fee resolution and swap execution.
const (
	ERC20MinimalABI = `[
		{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
		{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
		{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
	]`

	// CLPoolABI covers the pool state reads the engine needs: the packed
	// global state (price, tick, current fee), the attached plugin and the
	// static liquidity/spacing fields.
	CLPoolABI = `[
		{"name":"globalState","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"price","type":"uint160"},{"name":"tick","type":"int24"},{"name":"lastFee","type":"uint16"},{"name":"pluginConfig","type":"uint8"},{"name":"communityFee","type":"uint16"},{"name":"unlocked","type":"bool"}]},
		{"name":"plugin","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"name":"liquidity","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint128"}]},
		{"name":"tickSpacing","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int24"}]},
		{"name":"fee","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint24"}]}
	]`

	// CLPluginABI is the pre-swap hook of dynamic-fee plugins. Simulating
	// beforeSwap with the real direction and amount yields the fee the pool
	// will actually charge for this call.
	CLPluginABI = `[
		{"name":"beforeSwap","type":"function","stateMutability":"nonpayable","inputs":[{"name":"sender","type":"address"},{"name":"recipient","type":"address"},{"name":"zeroToOne","type":"bool"},{"name":"amountRequired","type":"int256"},{"name":"limitSqrtPrice","type":"uint160"},{"name":"payInAdvance","type":"bool"},{"name":"data","type":"bytes"}],"outputs":[{"name":"selector","type":"bytes4"},{"name":"feeOverride","type":"uint24"},{"name":"pluginFee","type":"uint24"}]}
	]`

	CLQuoterABI = `[
		{"name":"quoteExactInputSingle","type":"function","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"deployer","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"limitSqrtPrice","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"},{"name":"fee","type":"uint24"}]},
		{"name":"quoteExactOutputSingle","type":"function","stateMutability":"nonpayable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"deployer","type":"address"},{"name":"amountOut","type":"uint256"},{"name":"limitSqrtPrice","type":"uint160"}]}],"outputs":[{"name":"amountIn","type":"uint256"},{"name":"fee","type":"uint24"}]}
	]`

	CLRouterABI = `[
		{"name":"exactInputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"deployer","type":"address"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"limitSqrtPrice","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]},
		{"name":"exactInput","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"path","type":"bytes"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]},
		{"name":"exactOutputSingle","type":"function","stateMutability":"payable","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"deployer","type":"address"},{"name":"recipient","type":"address"},{"name":"deadline","type":"uint256"},{"name":"amountOut","type":"uint256"},{"name":"amountInMaximum","type":"uint256"},{"name":"limitSqrtPrice","type":"uint160"}]}],"outputs":[{"name":"amountIn","type":"uint256"}]}
	]`

	Multicall3ABI = `[
		{"name":"aggregate3","type":"function","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"allowFailure","type":"bool"},{"name":"callData","type":"bytes"}]}],"outputs":[{"name":"returnData","type":"tuple[]","components":[{"name":"success","type":"bool"},{"name":"returnData","type":"bytes"}]}]}
	]`
)
