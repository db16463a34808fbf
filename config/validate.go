package config

import (
	"fmt"
	"net"
	"net/url"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/text/language"

	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
)

// Validate checks the config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case Mainnet, Devnet, Simnet:
	default:
		return fmt.Errorf("network must be %q, %q or %q", Mainnet, Devnet, Simnet)
	}

	if cfg.Network != Simnet {
		if err := validateEndpoint(cfg.RPC.Endpoint, "rpc.endpoint"); err != nil {
			return err
		}
	}
	switch cfg.RPC.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("rpc.commitment must be processed, confirmed or finalized")
	}

	if cfg.Rates.Endpoint != "" {
		if err := validateEndpoint(cfg.Rates.Endpoint, "rates.endpoint"); err != nil {
			return err
		}
	}
	if cfg.Rates.Currency == "" {
		return fmt.Errorf("rates.currency is empty")
	}
	if cfg.Rates.MaxAge < 0 {
		return fmt.Errorf("rates.maxage must not be negative")
	}
	if cfg.Rates.Locale != "" {
		if _, err := language.Parse(cfg.Rates.Locale); err != nil {
			return fmt.Errorf("rates.locale: %w", err)
		}
	}

	if cfg.Refresh.Timeout <= 0 {
		return fmt.Errorf("refresh.timeout must be positive")
	}
	if cfg.Refresh.Interval < 0 {
		return fmt.Errorf("refresh.interval must not be negative")
	}
	if cfg.Refresh.Interval > 0 && cfg.Refresh.Interval < cfg.Refresh.Timeout {
		return fmt.Errorf("refresh.interval (%s) must not be shorter than refresh.timeout (%s)",
			cfg.Refresh.Interval, cfg.Refresh.Timeout)
	}

	if cfg.Swap.MinFragments < 0 {
		return fmt.Errorf("swap.minfragments must not be negative")
	}

	if _, err := solana.PublicKeyFromBase58(cfg.Program.Mint); err != nil {
		return fmt.Errorf("program.mint: %w", err)
	}
	if err := wallet.ValidateName(cfg.Wallet.Name); err != nil {
		return fmt.Errorf("wallet.name: %w", err)
	}

	if cfg.Server.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Server.Listen); err != nil {
			return fmt.Errorf("server.listen: %w", err)
		}
	}
	for _, entry := range cfg.Server.AllowedIPs {
		if _, _, err := net.ParseCIDR(entry); err == nil {
			continue
		}
		if net.ParseIP(entry) == nil {
			return fmt.Errorf("server.allowedips: %q is not an IP or CIDR", entry)
		}
	}
	return nil
}

func validateEndpoint(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must be an http or https URL", field)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host", field)
	}
	return nil
}

// MintKey returns the configured mint as a public key.
func (c *Config) MintKey() (solana.PublicKey, error) {
	return solana.PublicKeyFromBase58(c.Program.Mint)
}
