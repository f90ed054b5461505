package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GlobalFlags are the persistent swapctl flags. Precedence is
// defaults < config file < environment < flags.
type GlobalFlags struct {
	ConfigPath      string
	JSON            bool
	Plain           bool
	ChainID         int64
	RPCURL          string
	IndexerURL      string
	SlippageBps     int64
	MaxHops         int
	GasMultiplier   float64
	Timeout         string
	Retries         int
	NoCache         bool
	MaxStale        string
	AllowancePoll   string
	SettlementPoll  string
	ReceiptTimeout  string
	EnableCommands  string
	Verbose         bool
}

type Settings struct {
	OutputMode     string
	ChainID        int64
	RPCURL         string
	IndexerURL     string
	SlippageBps    int64
	MaxHops        int
	GasMultiplier  float64
	Timeout        time.Duration
	Retries        int
	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	MaxStale       time.Duration
	TxStorePath    string
	TxLockPath     string
	AllowancePoll  time.Duration
	SettlementPoll time.Duration
	ReceiptTimeout time.Duration
	EnableCommands []string
	Verbose        bool
}

type fileConfig struct {
	Output        string   `yaml:"output"`
	ChainID       *int64   `yaml:"chain_id"`
	RPCURL        string   `yaml:"rpc_url"`
	IndexerURL    string   `yaml:"indexer_url"`
	SlippageBps   *int64   `yaml:"slippage_bps"`
	MaxHops       *int     `yaml:"max_hops"`
	GasMultiplier *float64 `yaml:"gas_multiplier"`
	Timeout       string   `yaml:"timeout"`
	Retries       *int     `yaml:"retries"`
	Cache         struct {
		Enabled  *bool  `yaml:"enabled"`
		MaxStale string `yaml:"max_stale"`
		Path     string `yaml:"path"`
		LockPath string `yaml:"lock_path"`
	} `yaml:"cache"`
	Execution struct {
		TxStorePath    string `yaml:"tx_store_path"`
		TxLockPath     string `yaml:"tx_lock_path"`
		AllowancePoll  string `yaml:"allowance_poll"`
		SettlementPoll string `yaml:"settlement_poll"`
		ReceiptTimeout string `yaml:"receipt_timeout"`
	} `yaml:"execution"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.SlippageBps < 0 || settings.SlippageBps >= 10_000 {
		return Settings{}, fmt.Errorf("slippage must be between 0 and 9999 bps")
	}
	if settings.MaxHops <= 0 {
		settings.MaxHops = 2
	}
	if settings.GasMultiplier <= 1 {
		settings.GasMultiplier = 1.2
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	cacheDir := filepath.Dir(cachePath)
	return Settings{
		OutputMode:     "json",
		ChainID:        167000,
		SlippageBps:    50,
		MaxHops:        2,
		GasMultiplier:  1.2,
		Timeout:        10 * time.Second,
		Retries:        2,
		CacheEnabled:   true,
		CachePath:      cachePath,
		CacheLockPath:  lockPath,
		MaxStale:       5 * time.Minute,
		TxStorePath:    filepath.Join(cacheDir, "txs.db"),
		TxLockPath:     filepath.Join(cacheDir, "txs.lock"),
		AllowancePoll:  time.Second,
		SettlementPoll: 2 * time.Second,
		ReceiptTimeout: 2 * time.Minute,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "swapctl", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "swapctl")
	return filepath.Join(dir, "pools.db"), filepath.Join(dir, "pools.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.ChainID != nil {
		settings.ChainID = *cfg.ChainID
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.IndexerURL != "" {
		settings.IndexerURL = cfg.IndexerURL
	}
	if cfg.SlippageBps != nil {
		settings.SlippageBps = *cfg.SlippageBps
	}
	if cfg.MaxHops != nil {
		settings.MaxHops = *cfg.MaxHops
	}
	if cfg.GasMultiplier != nil {
		settings.GasMultiplier = *cfg.GasMultiplier
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.MaxStale != "" {
		d, err := time.ParseDuration(cfg.Cache.MaxStale)
		if err != nil {
			return fmt.Errorf("config cache.max_stale: %w", err)
		}
		settings.MaxStale = d
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Execution.TxStorePath != "" {
		settings.TxStorePath = cfg.Execution.TxStorePath
	}
	if cfg.Execution.TxLockPath != "" {
		settings.TxLockPath = cfg.Execution.TxLockPath
	}
	if cfg.Execution.AllowancePoll != "" {
		d, err := time.ParseDuration(cfg.Execution.AllowancePoll)
		if err != nil {
			return fmt.Errorf("config execution.allowance_poll: %w", err)
		}
		settings.AllowancePoll = d
	}
	if cfg.Execution.SettlementPoll != "" {
		d, err := time.ParseDuration(cfg.Execution.SettlementPoll)
		if err != nil {
			return fmt.Errorf("config execution.settlement_poll: %w", err)
		}
		settings.SettlementPoll = d
	}
	if cfg.Execution.ReceiptTimeout != "" {
		d, err := time.ParseDuration(cfg.Execution.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("config execution.receipt_timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SWAPCTL_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SWAPCTL_CHAIN_ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.ChainID = n
		}
	}
	if v := os.Getenv("SWAPCTL_RPC_URL"); v != "" {
		settings.RPCURL = v
	}
	if v := os.Getenv("SWAPCTL_INDEXER_URL"); v != "" {
		settings.IndexerURL = v
	}
	if v := os.Getenv("SWAPCTL_SLIPPAGE_BPS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			settings.SlippageBps = n
		}
	}
	if v := os.Getenv("SWAPCTL_MAX_HOPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.MaxHops = n
		}
	}
	if v := os.Getenv("SWAPCTL_GAS_MULTIPLIER"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			settings.GasMultiplier = f
		}
	}
	if v := os.Getenv("SWAPCTL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SWAPCTL_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SWAPCTL_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("SWAPCTL_MAX_STALE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.MaxStale = d
		}
	}
	if v := os.Getenv("SWAPCTL_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("SWAPCTL_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("SWAPCTL_TX_STORE_PATH"); v != "" {
		settings.TxStorePath = v
	}
	if v := os.Getenv("SWAPCTL_TX_LOCK_PATH"); v != "" {
		settings.TxLockPath = v
	}
	if v := os.Getenv("SWAPCTL_ALLOWANCE_POLL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.AllowancePoll = d
		}
	}
	if v := os.Getenv("SWAPCTL_SETTLEMENT_POLL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.SettlementPoll = d
		}
	}
	if v := os.Getenv("SWAPCTL_RECEIPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ReceiptTimeout = d
		}
	}
	if v := os.Getenv("SWAPCTL_ENABLE_COMMANDS"); v != "" {
		settings.EnableCommands = splitCSV(v)
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if norm := strings.TrimSpace(part); norm != "" {
			out = append(out, norm)
		}
	}
	return out
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if flags.ChainID > 0 {
		settings.ChainID = flags.ChainID
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.IndexerURL) != "" {
		settings.IndexerURL = strings.TrimSpace(flags.IndexerURL)
	}
	if flags.SlippageBps > 0 {
		settings.SlippageBps = flags.SlippageBps
	}
	if flags.MaxHops > 0 {
		settings.MaxHops = flags.MaxHops
	}
	if flags.GasMultiplier > 1 {
		settings.GasMultiplier = flags.GasMultiplier
	}
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if flags.MaxStale != "" {
		d, err := time.ParseDuration(flags.MaxStale)
		if err != nil {
			return fmt.Errorf("parse --max-stale: %w", err)
		}
		settings.MaxStale = d
	}
	if flags.AllowancePoll != "" {
		d, err := time.ParseDuration(flags.AllowancePoll)
		if err != nil {
			return fmt.Errorf("parse --allowance-poll: %w", err)
		}
		settings.AllowancePoll = d
	}
	if flags.SettlementPoll != "" {
		d, err := time.ParseDuration(flags.SettlementPoll)
		if err != nil {
			return fmt.Errorf("parse --settlement-poll: %w", err)
		}
		settings.SettlementPoll = d
	}
	if flags.ReceiptTimeout != "" {
		d, err := time.ParseDuration(flags.ReceiptTimeout)
		if err != nil {
			return fmt.Errorf("parse --receipt-timeout: %w", err)
		}
		settings.ReceiptTimeout = d
	}
	if flags.EnableCommands != "" {
		settings.EnableCommands = splitCSV(flags.EnableCommands)
	}
	settings.Verbose = settings.Verbose || flags.Verbose

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	return nil
}
