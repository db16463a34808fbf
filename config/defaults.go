package config

import (
	"time"

	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// KinMint is the Kin token mint on mainnet.
const KinMint = "kinXdEcpDQeHPEuQnqmUgtYykqKGVFq6CeVX5iAHJq6"

// DefaultWalletName is used when wallet.name is not set.
const DefaultWalletName = "default"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		RPC: RPCConfig{
			Endpoint:   "https://api.mainnet-beta.solana.com",
			Commitment: "confirmed",
		},
		Rates: RatesConfig{
			Currency: kin.USD,
			MaxAge:   15 * time.Minute,
			Locale:   "en-US",
		},
		Refresh: RefreshConfig{
			Timeout:  15 * time.Second,
			Interval: 0,
		},
		Swap: SwapConfig{
			Threshold:    kin.FromKin(100),
			MinFragments: 2,
		},
		Program: ProgramConfig{
			Mint: KinMint,
		},
		Wallet: WalletConfig{
			Name: DefaultWalletName,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultDevnet returns the default configuration for devnet.
func DefaultDevnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Devnet
	cfg.RPC.Endpoint = "https://api.devnet.solana.com"
	return cfg
}

// DefaultSimnet returns the default configuration for the in-memory
// ledger. Balances are shown in Kin since there is no rate source.
func DefaultSimnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Simnet
	cfg.RPC.Endpoint = ""
	cfg.Rates.Currency = kin.KIN
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network NetworkType) *Config {
	switch network {
	case Devnet:
		return DefaultDevnet()
	case Simnet:
		return DefaultSimnet()
	default:
		return DefaultMainnet()
	}
}
