package app

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/chain"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/fees"
	"github.com/ggonzalez94/swap-engine/internal/graph"
	"github.com/ggonzalez94/swap-engine/internal/id"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/ggonzalez94/swap-engine/internal/quote"
	"github.com/spf13/cobra"
)

type poolView struct {
	Address  string `json:"address"`
	Pair     string `json:"pair"`
	FeePips  uint32 `json:"feePips"`
	Deployer string `json:"deployer"`
	Plugin   string `json:"plugin,omitempty"`
}

func (s *runtimeState) newPoolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "List the chain's known pools",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()

			pools, err := s.loadPools(ctx)
			if err != nil {
				return err
			}
			views := make([]poolView, 0, len(pools))
			for _, pool := range pools {
				view := poolView{
					Address:  pool.Address.Hex(),
					Pair:     pool.Token0.Symbol + "/" + pool.Token1.Symbol,
					FeePips:  pool.FeePips,
					Deployer: pool.Deployer.Hex(),
				}
				if pool.HasPlugin() {
					view.Plugin = pool.Plugin.Hex()
				}
				views = append(views, view)
			}
			return s.emit(views)
		},
	}
}

type routeView struct {
	Path string `json:"path"`
	Hops int    `json:"hops"`
}

func (s *runtimeState) newRoutesCommand() *cobra.Command {
	var inArg, outArg string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Discover candidate routes between two tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()

			input, output, err := s.parsePair(inArg, outArg)
			if err != nil {
				return err
			}
			_, _, wrappedNative, err := s.clContracts()
			if err != nil {
				return err
			}
			pools, err := s.loadPools(ctx)
			if err != nil {
				return err
			}
			routes := discoverRoutes(input, output, wrappedNative, pools, s.settings.MaxHops)
			if len(routes) == 0 {
				return engerr.New(engerr.CodeNoRoute, "no route connects the requested tokens")
			}
			views := make([]routeView, 0, len(routes))
			for _, route := range routes {
				views = append(views, routeView{Path: route.String(), Hops: route.Hops()})
			}
			return s.emit(views)
		},
	}
	cmd.Flags().StringVar(&inArg, "in", "", "Input token (symbol, address, or chainid:address)")
	cmd.Flags().StringVar(&outArg, "out", "", "Output token")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

type quoteView struct {
	Route        string   `json:"route"`
	TradeType    string   `json:"tradeType"`
	AmountIn     string   `json:"amountIn"`
	AmountOut    string   `json:"amountOut"`
	PerHopFees   []uint32 `json:"perHopFees"`
	FeeState     string   `json:"feeState"`
	EffectiveFee uint32   `json:"effectiveFeePips"`
	ImpactBps    int64    `json:"impactBps"`
	Severity     string   `json:"impactSeverity"`
	SlippageBps  int64    `json:"slippageBps"`
	MinimumOut   string   `json:"minimumOut,omitempty"`
	MaximumIn    string   `json:"maximumIn,omitempty"`
}

func (s *runtimeState) newQuoteCommand() *cobra.Command {
	var inArg, outArg, amountArg string
	var exactOut, expert bool
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price a swap across the best discovered route",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := s.commandContext()
			defer cancel()

			q, resolution, err := s.prepareQuote(ctx, inArg, outArg, amountArg, exactOut)
			if err != nil {
				return err
			}
			severity, err := quote.CheckImpact(q, expert)
			if err != nil {
				return err
			}
			return s.emit(s.buildQuoteView(q, resolution, severity))
		},
	}
	cmd.Flags().StringVar(&inArg, "in", "", "Input token")
	cmd.Flags().StringVar(&outArg, "out", "", "Output token")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Trade amount (decimal, or raw:<base units>)")
	cmd.Flags().BoolVar(&exactOut, "exact-out", false, "Treat --amount as the desired output")
	cmd.Flags().BoolVar(&expert, "expert", false, "Override the price impact safety block")
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// prepareQuote runs discovery, best-route quoting, and fee-override
// resolution. The returned quote already reflects resolved fees.
func (s *runtimeState) prepareQuote(ctx context.Context, inArg, outArg, amountArg string, exactOut bool) (model.Quote, fees.Resolution, error) {
	input, output, err := s.parsePair(inArg, outArg)
	if err != nil {
		return model.Quote{}, fees.Resolution{}, err
	}

	quoter, _, wrappedNative, err := s.clContracts()
	if err != nil {
		return model.Quote{}, fees.Resolution{}, err
	}
	client, err := s.dial(ctx)
	if err != nil {
		return model.Quote{}, fees.Resolution{}, err
	}
	if err := s.resolveTokenMetadata(ctx, &input); err != nil {
		return model.Quote{}, fees.Resolution{}, err
	}
	if err := s.resolveTokenMetadata(ctx, &output); err != nil {
		return model.Quote{}, fees.Resolution{}, err
	}

	trade := model.TradeExactInput
	amountToken := input
	if exactOut {
		trade = model.TradeExactOutput
		amountToken = output
	}
	amount, err := id.ParseAmount(amountArg, amountToken)
	if err != nil {
		return model.Quote{}, fees.Resolution{}, err
	}

	pools, err := s.loadPools(ctx)
	if err != nil {
		return model.Quote{}, fees.Resolution{}, err
	}
	routes := discoverRoutes(input, output, wrappedNative, pools, s.settings.MaxHops)

	engine := quote.NewEngine(client, quoter, wrappedNative)
	best, err := engine.BestQuote(ctx, routes, amount, trade)
	if err != nil {
		return model.Quote{}, fees.Resolution{}, err
	}
	s.refreshRouteState(ctx, &best.Route)

	resolution := fees.NewResolver(client, s.log).Resolve(ctx, best.Route, best.HopAmounts)
	adjusted := quote.AdjustForFees(best, resolution.Fees())
	return adjusted, resolution, nil
}

func (s *runtimeState) buildQuoteView(q model.Quote, resolution fees.Resolution, severity quote.ImpactSeverity) quoteView {
	impactBps, _ := quote.PriceImpactBps(q)
	view := quoteView{
		Route:        q.Route.String(),
		TradeType:    string(q.TradeType),
		AmountIn:     id.FormatAmount(q.InputAmount, q.Route.Input.Decimals),
		AmountOut:    id.FormatAmount(q.OutputAmount, q.Route.Output.Decimals),
		PerHopFees:   q.PerHopFees,
		FeeState:     string(resolution.State),
		EffectiveFee: fees.EffectiveFee(q.PerHopFees),
		ImpactBps:    impactBps,
		Severity:     string(severity),
		SlippageBps:  s.settings.SlippageBps,
	}
	if q.TradeType == model.TradeExactOutput {
		view.MaximumIn = id.FormatAmount(quote.MaximumAmountIn(q, s.settings.SlippageBps), q.Route.Input.Decimals)
	} else {
		view.MinimumOut = id.FormatAmount(quote.MinimumAmountOut(q, s.settings.SlippageBps), q.Route.Output.Decimals)
	}
	return view
}

func (s *runtimeState) parsePair(inArg, outArg string) (model.Token, model.Token, error) {
	input, err := id.ParseToken(inArg, s.settings.ChainID)
	if err != nil {
		return model.Token{}, model.Token{}, err
	}
	output, err := id.ParseToken(outArg, s.settings.ChainID)
	if err != nil {
		return model.Token{}, model.Token{}, err
	}
	if input.Equal(output) {
		return model.Token{}, model.Token{}, engerr.New(engerr.CodeUsage, "input and output tokens must differ")
	}
	return input, output, nil
}

// resolveTokenMetadata fills symbol and decimals from the chain for
// addresses the bootstrap registry does not know. Registry and native
// tokens already carry their metadata.
func (s *runtimeState) resolveTokenMetadata(ctx context.Context, token *model.Token) error {
	if token.Native || token.Symbol != "" || token.Decimals > 0 {
		return nil
	}
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	symbol, decimals, err := chain.TokenMetadata(ctx, client, token.Address)
	if err != nil {
		return engerr.Wrap(engerr.CodeUnavailable, fmt.Sprintf("read metadata for token %s", token.Address.Hex()), err)
	}
	token.Symbol = symbol
	token.Decimals = decimals
	return nil
}

// refreshRouteState re-reads each pool's on-chain state so price impact
// is judged against the chain, not the indexer's lagging snapshot. A
// failed read keeps the indexed state.
func (s *runtimeState) refreshRouteState(ctx context.Context, route *model.Route) {
	if s.client == nil {
		return
	}
	for i := range route.Pools {
		state, err := chain.ReadPoolState(ctx, s.client, route.Pools[i].Address)
		if err != nil {
			s.log.Debug().Err(err).Str("pool", route.Pools[i].Address.Hex()).Msg("pool state refresh failed")
			continue
		}
		chain.ApplyPoolState(&route.Pools[i], state)
	}
}

// discoverRoutes searches on wrapped tokens so native endpoints match
// pool members, then restores the caller's tokens on each route so
// value semantics survive.
func discoverRoutes(input, output model.Token, wrappedNative common.Address, pools []model.Pool, maxHops int) []model.Route {
	routes := graph.DiscoverRoutes(input.Wrapped(wrappedNative), output.Wrapped(wrappedNative), pools, maxHops)
	for i := range routes {
		routes[i].Input = input
		routes[i].Output = output
	}
	return routes
}
