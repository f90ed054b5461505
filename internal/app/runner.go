package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/swap-engine/internal/cache"
	"github.com/ggonzalez94/swap-engine/internal/chain"
	"github.com/ggonzalez94/swap-engine/internal/config"
	engerr "github.com/ggonzalez94/swap-engine/internal/errors"
	"github.com/ggonzalez94/swap-engine/internal/httpx"
	"github.com/ggonzalez94/swap-engine/internal/model"
	"github.com/ggonzalez94/swap-engine/internal/out"
	"github.com/ggonzalez94/swap-engine/internal/policy"
	"github.com/ggonzalez94/swap-engine/internal/registry"
	"github.com/ggonzalez94/swap-engine/internal/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner      *Runner
	flags       config.GlobalFlags
	settings    config.Settings
	log         zerolog.Logger
	cache       *cache.Store
	client      *chain.Client
	lastCommand string
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := normalizeRunError(root.Execute())
	state.teardown()
	if err == nil {
		return 0
	}
	state.renderError(err)
	return engerr.ExitCode(err)
}

func (s *runtimeState) teardown() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.client != nil {
		s.client.Close()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Concentrated-liquidity swap engine CLI",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			settings, err := config.Load(s.flags)
			if err != nil {
				return engerr.Wrap(engerr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = newLogger(s.runner.stderr, settings.Verbose)

			path := trimRootPath(cmd.CommandPath())
			s.lastCommand = path
			return policy.CheckCommandAllowed(settings.EnableCommands, path)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return engerr.Wrap(engerr.CodeUsage, "parse flags", err)
	})

	cmd.PersistentFlags().BoolVar(&s.flags.JSON, "json", false, "Output JSON (default)")
	cmd.PersistentFlags().BoolVar(&s.flags.Plain, "plain", false, "Output plain text")
	cmd.PersistentFlags().Int64Var(&s.flags.ChainID, "chain-id", 0, "Target chain ID")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "JSON-RPC endpoint override")
	cmd.PersistentFlags().StringVar(&s.flags.IndexerURL, "indexer-url", "", "Pool indexer base URL")
	cmd.PersistentFlags().Int64Var(&s.flags.SlippageBps, "slippage-bps", 0, "Slippage tolerance in basis points")
	cmd.PersistentFlags().IntVar(&s.flags.MaxHops, "max-hops", 0, "Maximum pools per route")
	cmd.PersistentFlags().Float64Var(&s.flags.GasMultiplier, "gas-multiplier", 0, "Gas limit headroom multiplier")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "RPC/indexer request timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per indexer request")
	cmd.PersistentFlags().BoolVar(&s.flags.NoCache, "no-cache", false, "Disable the pool snapshot cache")
	cmd.PersistentFlags().StringVar(&s.flags.MaxStale, "max-stale", "", "Maximum staleness tolerated for cached pools")
	cmd.PersistentFlags().StringVar(&s.flags.AllowancePoll, "allowance-poll", "", "Poll interval while an approval is in flight")
	cmd.PersistentFlags().StringVar(&s.flags.SettlementPoll, "settlement-poll", "", "Poll interval for indexer settlement checks")
	cmd.PersistentFlags().StringVar(&s.flags.ReceiptTimeout, "receipt-timeout", "", "Deadline for receipt and settlement waits")
	cmd.PersistentFlags().StringVar(&s.flags.EnableCommands, "enable-commands", "", "Allowlist command paths (comma-separated)")
	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().BoolVar(&s.flags.Verbose, "verbose", false, "Enable debug logging")

	cmd.AddCommand(s.newPoolsCommand())
	cmd.AddCommand(s.newRoutesCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newApproveCommand())
	cmd.AddCommand(s.newSwapCommand())
	cmd.AddCommand(s.newTxCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func newLogger(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

// clContracts resolves the chain's quoter/router/wrapped-native set.
func (s *runtimeState) clContracts() (quoter, router, wrappedNative common.Address, err error) {
	q, r, w, ok := registry.CLContracts(s.settings.ChainID)
	if !ok {
		return common.Address{}, common.Address{}, common.Address{}, engerr.New(engerr.CodeUnsupported, fmt.Sprintf("chain %d has no registered contracts", s.settings.ChainID))
	}
	return common.HexToAddress(q), common.HexToAddress(r), common.HexToAddress(w), nil
}

func (s *runtimeState) dial(ctx context.Context) (*chain.Client, error) {
	if s.client != nil {
		return s.client, nil
	}
	rpcURL, err := registry.ResolveRPCURL(s.settings.RPCURL, s.settings.ChainID)
	if err != nil {
		return nil, err
	}
	client, err := chain.Dial(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	s.client = client
	return client, nil
}

// loadPools reads the pool set through the snapshot cache, falling back
// to the indexer on a miss.
func (s *runtimeState) loadPools(ctx context.Context) ([]model.Pool, error) {
	if s.settings.CacheEnabled {
		if s.cache == nil {
			store, err := cache.Open(s.settings.CachePath, s.settings.CacheLockPath)
			if err != nil {
				return nil, engerr.Wrap(engerr.CodeInternal, "open pool cache", err)
			}
			s.cache = store
		}
		if pools, hit, err := s.cache.GetPools(s.settings.ChainID, s.settings.MaxStale); err == nil && hit {
			s.log.Debug().Int("pools", len(pools)).Msg("pool snapshot served from cache")
			return pools, nil
		}
	}

	if strings.TrimSpace(s.settings.IndexerURL) == "" {
		return nil, engerr.New(engerr.CodeUsage, "no indexer configured; set --indexer-url or SWAPCTL_INDEXER_URL")
	}
	source := chain.NewPoolSource(httpx.New(s.settings.Timeout, s.settings.Retries), s.settings.IndexerURL)
	pools, err := source.FetchPools(ctx, s.settings.ChainID)
	if err != nil {
		return nil, err
	}
	if s.settings.CacheEnabled && s.cache != nil {
		if err := s.cache.SetPools(s.settings.ChainID, pools); err != nil {
			s.log.Debug().Err(err).Msg("pool snapshot write failed")
		}
	}
	return pools, nil
}

func (s *runtimeState) commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.settings.Timeout)
}

func (s *runtimeState) emit(data any) error {
	return out.Render(s.runner.stdout, data, s.settings.OutputMode)
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *runtimeState) renderError(err error) {
	mode := s.settings.OutputMode
	if mode == "" {
		mode = "json"
	}
	message := err.Error()
	if cErr, ok := engerr.As(err); ok {
		message = cErr.Message
		if cErr.Cause != nil {
			message = fmt.Sprintf("%s: %v", cErr.Message, cErr.Cause)
		}
	}
	body := map[string]any{"error": errorBody{Code: engerr.ExitCode(err), Message: message}}
	_ = out.Render(s.runner.stderr, body, mode)
}

func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := engerr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return engerr.Wrap(engerr.CodeUsage, "invalid command input", err)
	}
	return engerr.Wrap(engerr.CodeInternal, "execute command", err)
}

func isLikelyUsageError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	patterns := []string{
		"unknown command",
		"unknown flag",
		"required flag(s)",
		"flag needs an argument",
		"requires at least",
		"requires exactly",
		"accepts ",
		"invalid argument",
		"invalid args",
	}
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return path
	}
	return strings.Join(parts[1:], " ")
}
