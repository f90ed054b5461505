package app

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/chain"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/execution"
	"github.com/ggonzalez94/swap-engine/internal/execution/signer"
	"github.com/ggonzalez94/swap-engine/internal/fees"
	"github.com/ggonzalez94/swap-engine/internal/httpx"
	"github.com/ggonzalez94/swap-engine/internal/id"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/ggonzalez94/swap-engine/internal/policy"
	"github.com/ggonzalez94/swap-engine/internal/quote"
	"github.com/spf13/cobra"
)

// maxCandidateRoutes caps how many viable routes go through gas
// estimation before one call is selected.
const maxCandidateRoutes = 3

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type signerFlags struct {
	keySource  string
	privateKey string
}

func (f *signerFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.keySource, "key-source", "auto", "Key source (auto|env|file|keystore)")
	cmd.Flags().StringVar(&f.privateKey, "private-key", "", "Hex private key override")
}

func (f *signerFlags) open() (signer.Signer, error) {
	local, err := signer.NewLocalSignerFromInputs(f.keySource, f.privateKey)
	if err != nil {
		return nil, err
	}
	return local, nil
}

type feeFlags struct {
	maxFeeGwei         string
	maxPriorityFeeGwei string
}

func (f *feeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.maxFeeGwei, "max-fee-gwei", "", "Max fee per gas in gwei")
	cmd.Flags().StringVar(&f.maxPriorityFeeGwei, "max-priority-fee-gwei", "", "Max priority fee per gas in gwei")
}

func (f *feeFlags) options() execution.SubmitOptions {
	return execution.SubmitOptions{MaxFeeGwei: f.maxFeeGwei, MaxPriorityFeeGwei: f.maxPriorityFeeGwei}
}

func (s *runtimeState) openTxStore() (*execution.Store, error) {
	return execution.OpenStore(s.settings.TxStorePath, s.settings.TxLockPath)
}

func (s *runtimeState) newLifecycleTracker(store *execution.Store) *execution.Tracker {
	tracker := execution.NewTracker(s.client, store, s.log)
	tracker.SetIntervals(execution.DefaultReceiptPollInterval, s.settings.SettlementPoll, s.settings.ReceiptTimeout)
	return tracker
}

type approveView struct {
	Token   string `json:"token"`
	Spender string `json:"spender"`
	State   string `json:"state"`
	Hash    string `json:"hash,omitempty"`
	Status  string `json:"status,omitempty"`
}

func (s *runtimeState) newApproveCommand() *cobra.Command {
	var tokenArg, amountArg, spenderArg string
	var yes, noWait bool
	var sFlags signerFlags
	var fFlags feeFlags
	cmd := &cobra.Command{
		Use:   "approve",
		Short: "Grant the router an ERC20 allowance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := policy.RequireAcknowledgement(yes, trimRootPath(cmd.CommandPath())); err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()

			token, err := id.ParseToken(tokenArg, s.settings.ChainID)
			if err != nil {
				return err
			}
			if token.Native {
				return engerr.New(engerr.CodeUsage, "the native token needs no approval")
			}

			_, router, _, err := s.clContracts()
			if err != nil {
				return err
			}
			spender := router
			if spenderArg != "" {
				if !common.IsHexAddress(spenderArg) {
					return engerr.New(engerr.CodeUsage, "spender must be a hex address")
				}
				spender = common.HexToAddress(spenderArg)
			}

			txSigner, err := sFlags.open()
			if err != nil {
				return err
			}
			client, err := s.dial(ctx)
			if err != nil {
				return err
			}
			if err := s.resolveTokenMetadata(ctx, &token); err != nil {
				return err
			}
			required := maxUint256
			if amountArg != "" && !strings.EqualFold(amountArg, "max") {
				required, err = id.ParseAmount(amountArg, token)
				if err != nil {
					return err
				}
			}

			approvals := execution.NewApprovalTracker(client, s.settings.AllowancePoll, s.log)
			defer approvals.Close()
			state, err := approvals.Refresh(ctx, token, txSigner.Address(), spender, required)
			if err != nil {
				return err
			}
			if state == execution.ApprovalApproved {
				return s.emit(approveView{Token: token.String(), Spender: spender.Hex(), State: string(state)})
			}

			data, err := execution.PackApprove(spender, required)
			if err != nil {
				return engerr.Wrap(engerr.CodeInternal, "encode approve", err)
			}
			selector := execution.NewSelector(client, txSigner.Address(), s.settings.GasMultiplier)
			sel, err := selector.Select(ctx, []execution.CandidateCall{{Target: token.Address, Data: data, Value: new(big.Int)}})
			if err != nil {
				return engerr.Wrap(engerr.CodeApproval, "estimate approval", err)
			}

			hash, err := execution.Submit(ctx, client, txSigner, sel, fFlags.options())
			if err != nil {
				return err
			}

			store, err := s.openTxStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			tracker := s.newLifecycleTracker(store)
			record := model.PendingTransaction{
				Account:        txSigner.Address(),
				Hash:           hash,
				Title:          fmt.Sprintf("Approve %s", token.Symbol),
				Classification: model.TxClassApproval,
				InputToken:     token.String(),
				InputAmount:    required.String(),
				SubmittedAt:    s.runner.now().UTC().Format(time.RFC3339),
			}
			if err := tracker.Record(record); err != nil {
				return err
			}

			view := approveView{Token: token.String(), Spender: spender.Hex(), State: string(execution.ApprovalPending), Hash: hash.Hex()}
			if noWait {
				view.Status = string(model.TxStatusPending)
				return s.emit(view)
			}

			// The allowance observation alone resolves the approval; a
			// receipt is never required. The wait runs on its own
			// deadline, not the RPC timeout.
			waitCtx, cancelWait := context.WithTimeout(context.Background(), s.settings.ReceiptTimeout)
			defer cancelWait()
			approvals.BeginApproval(waitCtx, token, txSigner.Address(), spender, required)
			state = approvals.Await(waitCtx, token.Address, txSigner.Address(), spender)
			if state != execution.ApprovalApproved {
				return engerr.New(engerr.CodeConfirmation, fmt.Sprintf("allowance for %s was not observed before the deadline", token.Symbol))
			}
			record.Status = model.TxStatusConfirmed
			record.ResolvedAt = s.runner.now().UTC().Format(time.RFC3339)
			if err := tracker.Record(record); err != nil {
				return err
			}
			view.State = string(state)
			view.Status = string(record.Status)
			return s.emit(view)
		},
	}
	cmd.Flags().StringVar(&tokenArg, "token", "", "Token to approve")
	cmd.Flags().StringVar(&amountArg, "amount", "max", "Allowance amount (decimal or max)")
	cmd.Flags().StringVar(&spenderArg, "spender", "", "Spender override (defaults to the swap router)")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm transaction submission")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return after broadcast without waiting for the receipt")
	sFlags.register(cmd)
	fFlags.register(cmd)
	_ = cmd.MarkFlagRequired("token")
	return cmd
}

type swapView struct {
	quoteView
	Hash     string `json:"hash"`
	GasLimit uint64 `json:"gasLimit"`
	Status   string `json:"status"`
	Failure  string `json:"failure,omitempty"`
	Settled  bool   `json:"settled,omitempty"`
}

func (s *runtimeState) newSwapCommand() *cobra.Command {
	var inArg, outArg, amountArg, recipientArg, deadlineArg string
	var exactOut, expert, yes, noWait, settle bool
	var sFlags signerFlags
	var fFlags feeFlags
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Execute a swap across the best route",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := policy.RequireAcknowledgement(yes, trimRootPath(cmd.CommandPath())); err != nil {
				return err
			}
			ctx, cancel := s.commandContext()
			defer cancel()

			deadlineIn, err := time.ParseDuration(deadlineArg)
			if err != nil || deadlineIn <= 0 {
				return engerr.New(engerr.CodeUsage, "deadline must be a positive duration")
			}

			txSigner, err := sFlags.open()
			if err != nil {
				return err
			}
			recipient := txSigner.Address()
			if recipientArg != "" {
				if !common.IsHexAddress(recipientArg) {
					return engerr.New(engerr.CodeUsage, "recipient must be a hex address")
				}
				recipient = common.HexToAddress(recipientArg)
			}

			ranked, resolutions, err := s.rankedQuotes(ctx, inArg, outArg, amountArg, exactOut)
			if err != nil {
				return err
			}
			best := ranked[0]
			severity, err := quote.CheckImpact(best, expert)
			if err != nil {
				return err
			}

			_, router, wrappedNative, err := s.clContracts()
			if err != nil {
				return err
			}
			client, err := s.dial(ctx)
			if err != nil {
				return err
			}

			if !best.Route.Input.Native {
				approvals := execution.NewApprovalTracker(client, s.settings.AllowancePoll, s.log)
				defer approvals.Close()
				state, err := approvals.Refresh(ctx, best.Route.Input, txSigner.Address(), router, best.InputAmount)
				if err != nil {
					return err
				}
				if state != execution.ApprovalApproved {
					return engerr.New(engerr.CodeApproval, fmt.Sprintf("allowance for %s is insufficient; run swapctl approve --token %s", best.Route.Input.Symbol, inArg))
				}
			}

			deadline := big.NewInt(s.runner.now().Add(deadlineIn).Unix())
			builder := execution.NewCallBuilder(router, wrappedNative)
			candidates := make([]execution.CandidateCall, 0, len(ranked))
			byRoute := make(map[string]model.Quote, len(ranked))
			for _, q := range ranked {
				bound := quote.MinimumAmountOut(q, s.settings.SlippageBps)
				if q.TradeType == model.TradeExactOutput {
					bound = quote.MaximumAmountIn(q, s.settings.SlippageBps)
				}
				call, err := builder.Build(q, recipient, bound, deadline)
				if err != nil {
					s.log.Debug().Err(err).Str("route", q.Route.String()).Msg("route not executable")
					continue
				}
				candidates = append(candidates, call)
				byRoute[q.Route.String()] = q
			}
			if len(candidates) == 0 {
				return engerr.New(engerr.CodeNoRoute, "no executable route for this trade")
			}

			selector := execution.NewSelector(client, txSigner.Address(), s.settings.GasMultiplier)
			sel, err := selector.Select(ctx, candidates)
			if err != nil {
				return err
			}
			chosen, ok := byRoute[sel.Call.Route.String()]
			if !ok {
				chosen = best
			}

			hash, err := execution.Submit(ctx, client, txSigner, sel, fFlags.options())
			if err != nil {
				return err
			}

			store, err := s.openTxStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			tracker := s.newLifecycleTracker(store)
			record := model.PendingTransaction{
				Account:        txSigner.Address(),
				Hash:           hash,
				Title:          swapTitle(chosen),
				Classification: model.TxClassSwap,
				InputToken:     chosen.Route.Input.String(),
				OutputToken:    chosen.Route.Output.String(),
				InputAmount:    chosen.InputAmount.String(),
				OutputAmount:   chosen.OutputAmount.String(),
			}
			if err := tracker.Record(record); err != nil {
				return err
			}

			view := swapView{
				quoteView: s.buildQuoteView(chosen, resolutions[chosen.Route.String()], severity),
				Hash:      hash.Hex(),
				GasLimit:  sel.GasLimit,
				Status:    string(model.TxStatusPending),
			}
			if noWait {
				return s.emit(view)
			}

			record, err = tracker.AwaitReceipt(context.Background(), record)
			if err != nil {
				if engerr.HasCode(err, engerr.CodeConfirmation) && record.Status == model.TxStatusFailed {
					view.Status = string(record.Status)
					view.Failure = record.FailureReason
					return s.emit(view)
				}
				return err
			}
			view.Status = string(record.Status)
			if settle {
				// The trade is confirmed; the indexer catching up is
				// informational, so a missed settlement only logs.
				check, err := s.indexerSettlementCheck(chosen.Route)
				if err != nil {
					return err
				}
				handle := tracker.PollSettlement(context.Background(), s.settings.ReceiptTimeout, check)
				if waitErr := handle.Wait(); waitErr != nil {
					s.log.Warn().Err(waitErr).Str("hash", hash.Hex()).Msg("indexer has not reflected the trade")
				} else {
					view.Settled = true
				}
			}
			return s.emit(view)
		},
	}
	cmd.Flags().StringVar(&inArg, "in", "", "Input token")
	cmd.Flags().StringVar(&outArg, "out", "", "Output token")
	cmd.Flags().StringVar(&amountArg, "amount", "", "Trade amount (decimal, or raw:<base units>)")
	cmd.Flags().BoolVar(&exactOut, "exact-out", false, "Treat --amount as the desired output")
	cmd.Flags().StringVar(&recipientArg, "recipient", "", "Recipient override (defaults to the signer)")
	cmd.Flags().StringVar(&deadlineArg, "deadline", "10m", "Transaction deadline window")
	cmd.Flags().BoolVar(&expert, "expert", false, "Override the price impact safety block")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm transaction submission")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return after broadcast without waiting for the receipt")
	cmd.Flags().BoolVar(&settle, "settle", false, "After confirmation, wait until the indexer reflects the trade")
	sFlags.register(cmd)
	fFlags.register(cmd)
	_ = cmd.MarkFlagRequired("in")
	_ = cmd.MarkFlagRequired("out")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

// rankedQuotes prices every discovered route, resolves fee overrides for
// the viable ones, and returns the best maxCandidateRoutes quotes with
// their resolutions keyed by route.
func (s *runtimeState) rankedQuotes(ctx context.Context, inArg, outArg, amountArg string, exactOut bool) ([]model.Quote, map[string]fees.Resolution, error) {
	input, output, err := s.parsePair(inArg, outArg)
	if err != nil {
		return nil, nil, err
	}
	quoter, _, wrappedNative, err := s.clContracts()
	if err != nil {
		return nil, nil, err
	}
	client, err := s.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := s.resolveTokenMetadata(ctx, &input); err != nil {
		return nil, nil, err
	}
	if err := s.resolveTokenMetadata(ctx, &output); err != nil {
		return nil, nil, err
	}

	trade := model.TradeExactInput
	amountToken := input
	if exactOut {
		trade = model.TradeExactOutput
		amountToken = output
	}
	amount, err := id.ParseAmount(amountArg, amountToken)
	if err != nil {
		return nil, nil, err
	}

	pools, err := s.loadPools(ctx)
	if err != nil {
		return nil, nil, err
	}
	routes := discoverRoutes(input, output, wrappedNative, pools, s.settings.MaxHops)
	if len(routes) == 0 {
		return nil, nil, engerr.New(engerr.CodeNoRoute, "no route connects the requested tokens")
	}
	engine := quote.NewEngine(client, quoter, wrappedNative)
	quotes := make([]model.Quote, 0, len(routes))
	for _, route := range routes {
		q, err := engine.QuoteRoute(ctx, route, amount, trade)
		if err != nil {
			s.log.Debug().Err(err).Str("route", route.String()).Msg("route quote failed")
			continue
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return nil, nil, engerr.New(engerr.CodeNoRoute, "no route produced a quote")
	}

	sort.SliceStable(quotes, func(i, j int) bool {
		if trade == model.TradeExactOutput {
			return quotes[i].InputAmount.Cmp(quotes[j].InputAmount) < 0
		}
		return quotes[i].OutputAmount.Cmp(quotes[j].OutputAmount) > 0
	})
	if len(quotes) > maxCandidateRoutes {
		quotes = quotes[:maxCandidateRoutes]
	}

	resolver := fees.NewResolver(client, s.log)
	resolutions := make(map[string]fees.Resolution, len(quotes))
	adjusted := make([]model.Quote, 0, len(quotes))
	for _, q := range quotes {
		s.refreshRouteState(ctx, &q.Route)
		resolution := resolver.Resolve(ctx, q.Route, q.HopAmounts)
		resolutions[q.Route.String()] = resolution
		adjusted = append(adjusted, quote.AdjustForFees(q, resolution.Fees()))
	}
	return adjusted, resolutions, nil
}

// indexerSettlementCheck builds a settlement check for the traded
// route: it snapshots each pool's pre-trade price and reports settled
// once the indexer serves a different one for any of them.
func (s *runtimeState) indexerSettlementCheck(route model.Route) (execution.SettlementCheck, error) {
	if strings.TrimSpace(s.settings.IndexerURL) == "" {
		return nil, engerr.New(engerr.CodeUsage, "no indexer configured; set --indexer-url or SWAPCTL_INDEXER_URL")
	}
	before := make(map[common.Address]string, route.Hops())
	for _, pool := range route.Pools {
		if pool.SqrtPriceX96 != nil {
			before[pool.Address] = pool.SqrtPriceX96.String()
		}
	}
	source := chain.NewPoolSource(httpx.New(s.settings.Timeout, s.settings.Retries), s.settings.IndexerURL)
	chainID := s.settings.ChainID
	return func(ctx context.Context) (bool, error) {
		pools, err := source.FetchPools(ctx, chainID)
		if err != nil {
			return false, err
		}
		return poolsDiverged(before, pools), nil
	}, nil
}

// poolsDiverged reports whether any snapshotted pool's indexed price
// moved off its pre-trade value.
func poolsDiverged(before map[common.Address]string, pools []model.Pool) bool {
	for _, pool := range pools {
		prior, ok := before[pool.Address]
		if !ok || pool.SqrtPriceX96 == nil {
			continue
		}
		if pool.SqrtPriceX96.String() != prior {
			return true
		}
	}
	return false
}

func swapTitle(q model.Quote) string {
	in := q.Route.Input.Symbol
	if in == "" {
		in = q.Route.Input.String()
	}
	out := q.Route.Output.Symbol
	if out == "" {
		out = q.Route.Output.String()
	}
	return fmt.Sprintf("Swap %s %s for %s", id.FormatAmount(q.InputAmount, q.Route.Input.Decimals), in, out)
}

func (s *runtimeState) newTxCommand() *cobra.Command {
	root := &cobra.Command{Use: "tx", Short: "Inspect the transaction registry"}

	var listAccount string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List an account's recorded transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := resolveAccount(listAccount)
			if err != nil {
				return err
			}
			store, err := s.openTxStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			records, err := store.List(account, limit)
			if err != nil {
				return err
			}
			return s.emit(records)
		},
	}
	listCmd.Flags().StringVar(&listAccount, "account", "", "Account address (defaults to the configured signer)")
	listCmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to return")

	var statusAccount, hashArg string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show one recorded transaction",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.HasPrefix(hashArg, "0x") || len(hashArg) != 66 {
				return engerr.New(engerr.CodeUsage, "--hash must be a 32-byte hex hash")
			}
			account, err := resolveAccount(statusAccount)
			if err != nil {
				return err
			}
			store, err := s.openTxStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			record, err := store.Get(account, common.HexToHash(hashArg))
			if err != nil {
				return err
			}
			return s.emit(record)
		},
	}
	statusCmd.Flags().StringVar(&statusAccount, "account", "", "Account address (defaults to the configured signer)")
	statusCmd.Flags().StringVar(&hashArg, "hash", "", "Transaction hash")
	_ = statusCmd.MarkFlagRequired("hash")

	root.AddCommand(listCmd)
	root.AddCommand(statusCmd)
	return root
}

// resolveAccount prefers an explicit --account; otherwise it derives the
// address from the configured signer without needing a key for signing.
func resolveAccount(override string) (common.Address, error) {
	if override != "" {
		if !common.IsHexAddress(override) {
			return common.Address{}, engerr.New(engerr.CodeUsage, "account must be a hex address")
		}
		return common.HexToAddress(override), nil
	}
	txSigner, err := signer.NewLocalSignerFromEnv("auto")
	if err != nil {
		return common.Address{}, engerr.Wrap(engerr.CodeUsage, "no --account given and no signer configured", err)
	}
	return txSigner.Address(), nil
}
