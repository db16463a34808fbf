// Package config handles application configuration.
//
// Settings come from three layers, lowest precedence first: per-network
// defaults, the conf file in the data directory, and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// NetworkType identifies the cluster the wallet talks to.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Devnet  NetworkType = "devnet"
	// Simnet runs against an in-memory ledger. Nothing leaves the process.
	Simnet NetworkType = "simnet"
)

// Config holds the runtime configuration of the tray engine.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Chain RPC
	RPC RPCConfig

	// Exchange rates
	Rates RatesConfig

	// Balance refresh
	Refresh RefreshConfig

	// Fragment consolidation
	Swap SwapConfig

	// On-chain program parameters
	Program ProgramConfig

	// Wallet
	Wallet WalletConfig

	// Local control API
	Server ServerConfig

	// Logging
	Log LogConfig
}

// RPCConfig holds chain RPC settings.
type RPCConfig struct {
	Endpoint   string `conf:"rpc.endpoint"`
	Commitment string `conf:"rpc.commitment"` // processed, confirmed or finalized
}

// RatesConfig holds exchange rate settings. An empty endpoint disables fiat
// valuation; balances are then shown in Kin.
type RatesConfig struct {
	Endpoint string           `conf:"rates.endpoint"`
	Currency kin.CurrencyCode `conf:"rates.currency"`
	MaxAge   time.Duration    `conf:"rates.maxage"`
	Locale   string           `conf:"rates.locale"` // BCP 47 tag for digit grouping
}

// RefreshConfig bounds and schedules balance refreshes.
type RefreshConfig struct {
	Timeout  time.Duration `conf:"refresh.timeout"`
	Interval time.Duration `conf:"refresh.interval"` // 0 disables auto refresh
}

// SwapConfig is the fragment consolidation policy. A zero field disables
// that trigger.
type SwapConfig struct {
	Threshold    kin.Quarks `conf:"swap.threshold"` // whole Kin in the file
	MinFragments int        `conf:"swap.minfragments"`
}

// ProgramConfig holds on-chain parameters.
type ProgramConfig struct {
	Mint string `conf:"program.mint"`
}

// WalletConfig selects the keystore wallet.
type WalletConfig struct {
	Name string `conf:"wallet.name"`
}

// ServerConfig holds the local JSON-RPC control API settings used by the
// watch command. An empty Listen disables the server.
type ServerConfig struct {
	Listen      string   `conf:"server.listen"`
	AllowedIPs  []string `conf:"server.allowedips"`
	CORSOrigins []string `conf:"server.corsorigins"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// =============================================================================
// Directory helpers
// =============================================================================

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.klingnet-tray
//	macOS:   ~/Library/Application Support/KlingnetTray
//	Windows: %APPDATA%\KlingnetTray
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".klingnet-tray"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "KlingnetTray")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "KlingnetTray")
		}
		return filepath.Join(home, "AppData", "Roaming", "KlingnetTray")
	default:
		return filepath.Join(home, ".klingnet-tray")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// KeystoreDir returns the keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.NetworkDataDir(), "keystore")
}

// CacheDir returns the badger directory holding cached rates.
func (c *Config) CacheDir() string {
	return filepath.Join(c.NetworkDataDir(), "cache")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "tray.conf")
}
