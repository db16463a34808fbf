package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// ErrHelp is returned by ParseFlags when usage was requested.
var ErrHelp = flag.ErrHelp

// Version is the CLI version string.
const Version = "0.1.0"

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Chain RPC
	RPCEndpoint   string
	RPCCommitment string

	// Rates
	RatesEndpoint string
	Currency      string
	Locale        string

	// Refresh
	RefreshTimeout  time.Duration
	RefreshInterval time.Duration

	// Swap
	SwapThreshold    string
	SwapMinFragments int

	// Wallet
	Wallet string

	// Control API
	ServerListen string

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args: the command and its arguments.
	Args []string

	// Explicitly-set flags (for zero-value overrides).
	SetLogJSON          bool
	SetRefreshInterval  bool
	SetSwapMinFragments bool
}

// ParseFlags parses the global options that precede the command.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("klingnet-tray", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Network: mainnet, devnet or simnet")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Chain RPC
	fs.StringVar(&f.RPCEndpoint, "rpc", "", "Chain RPC endpoint URL")
	fs.StringVar(&f.RPCCommitment, "commitment", "", "Commitment: processed, confirmed or finalized")

	// Rates
	fs.StringVar(&f.RatesEndpoint, "rates", "", "Exchange rate endpoint URL")
	fs.StringVar(&f.Currency, "currency", "", "Display currency")
	fs.StringVar(&f.Locale, "locale", "", "Number format of the balance (language tag)")

	// Refresh
	fs.DurationVar(&f.RefreshTimeout, "refresh-timeout", 0, "End-to-end balance refresh timeout")
	fs.DurationVar(&f.RefreshInterval, "refresh-interval", 0, "Automatic refresh interval (0 disables)")

	// Swap
	fs.StringVar(&f.SwapThreshold, "swap-threshold", "", "Consolidate fragments holding this many Kin")
	fs.IntVar(&f.SwapMinFragments, "swap-min-fragments", 0, "Consolidate once this many fragments are non-empty")

	// Wallet
	fs.StringVar(&f.Wallet, "wallet", "", "Keystore wallet name")

	// Control API
	fs.StringVar(&f.ServerListen, "listen", "", "Control API listen address for watch")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	f.Args = fs.Args()
	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.SetRefreshInterval = isFlagSet(fs, "refresh-interval")
	f.SetSwapMinFragments = isFlagSet(fs, "swap-min-fragments")
	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) error {
	// Core
	if f.Network != "" {
		cfg.Network = NetworkType(strings.ToLower(f.Network))
	}
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Chain RPC
	if f.RPCEndpoint != "" {
		cfg.RPC.Endpoint = f.RPCEndpoint
	}
	if f.RPCCommitment != "" {
		cfg.RPC.Commitment = strings.ToLower(f.RPCCommitment)
	}

	// Rates
	if f.RatesEndpoint != "" {
		cfg.Rates.Endpoint = f.RatesEndpoint
	}
	if f.Currency != "" {
		c, err := kin.ParseCurrencyCode(f.Currency)
		if err != nil {
			return err
		}
		cfg.Rates.Currency = c
	}
	if f.Locale != "" {
		cfg.Rates.Locale = f.Locale
	}

	// Refresh
	if f.RefreshTimeout != 0 {
		cfg.Refresh.Timeout = f.RefreshTimeout
	}
	if f.SetRefreshInterval {
		cfg.Refresh.Interval = f.RefreshInterval
	}

	// Swap
	if f.SwapThreshold != "" {
		q, err := parseKin(f.SwapThreshold)
		if err != nil {
			return fmt.Errorf("swap-threshold: %w", err)
		}
		cfg.Swap.Threshold = q
	}
	if f.SetSwapMinFragments {
		cfg.Swap.MinFragments = f.SwapMinFragments
	}

	// Wallet
	if f.Wallet != "" {
		cfg.Wallet.Name = f.Wallet
	}

	// Control API
	if f.ServerListen != "" {
		cfg.Server.Listen = f.ServerListen
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
	return nil
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes the CLI help text.
func PrintUsage(w io.Writer) {
	usage := `Klingnet Tray - privacy wallet tray organizer

Usage:
  klingnet-tray [options] <command> [args]

Commands:
  wallet create           Create a wallet with a new recovery phrase
  wallet import           Import a wallet from a recovery phrase
  wallet list             List keystore wallets
  accounts                Show the derived sub-accounts and vaults
  balance                 Refresh and print the available balance
  watch                   Refresh on an interval and print balance changes
  rates [--days N]        Show the display currency's rate and its history
  rates --clear           Delete the cached exchange rates

Core Options:
  --network       Network: mainnet (default), devnet or simnet
  --datadir       Data directory (default: ~/.klingnet-tray)
  --config, -c    Config file path (default: <datadir>/tray.conf)
  --wallet        Keystore wallet name (default: default)

Chain Options:
  --rpc           Chain RPC endpoint URL
  --commitment    processed, confirmed (default) or finalized

Balance Options:
  --rates               Exchange rate endpoint URL (empty shows Kin)
  --currency            Display currency (default: USD)
  --locale              Number format of the balance (default: en-US)
  --refresh-timeout     End-to-end refresh timeout (default: 15s)
  --refresh-interval    Automatic refresh interval for watch
  --swap-threshold      Consolidate fragments holding this many Kin
  --swap-min-fragments  Consolidate once this many fragments are non-empty

Control API Options:
  --listen        JSON-RPC listen address for watch (e.g. 127.0.0.1:8645)

Logging Options:
  --log-level     Log level: debug, info, warn, error (default: info)
  --log-file      Log file path (default: stdout)
  --log-json      Output logs as JSON

Examples:
  # Create a wallet and check its balance on the in-memory ledger
  klingnet-tray --network=simnet wallet create
  klingnet-tray --network=simnet balance

  # Watch a devnet wallet every 30 seconds
  klingnet-tray --network=devnet --refresh-interval=30s watch

  # Serve the control API while watching
  klingnet-tray --listen=127.0.0.1:8645 watch
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values
// 2. Auto-create data dirs + default config (idempotent)
// 3. Config file
// 4. Command-line flags
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help {
		return nil, flags, ErrHelp
	}

	dataDir := flags.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	configPath := flags.Config
	if configPath == "" {
		configPath = (&Config{DataDir: dataDir}).ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	// Determine network first (needed for defaults): flag, then file.
	network := NetworkType(strings.ToLower(flags.Network))
	if network == "" {
		network = NetworkType(strings.ToLower(fileValues["network"]))
	}
	if network == "" {
		network = Mainnet
	}
	delete(fileValues, "network")

	cfg := Default(network)
	cfg.DataDir = dataDir
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}

	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, nil, fmt.Errorf("applying flags: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory structure and a default config
// file if they don't already exist. This is idempotent and safe to call on
// every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.KeystoreDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := WriteDefaultConfig(configPath, cfg.Network); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
