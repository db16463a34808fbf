package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// LoadFile loads configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(strings.ToLower(value))
	case "datadir":
		cfg.DataDir = value

	// Chain RPC
	case "rpc.endpoint":
		cfg.RPC.Endpoint = value
	case "rpc.commitment":
		cfg.RPC.Commitment = strings.ToLower(value)

	// Rates
	case "rates.endpoint":
		cfg.Rates.Endpoint = value
	case "rates.currency":
		c, err := kin.ParseCurrencyCode(value)
		if err != nil {
			return err
		}
		cfg.Rates.Currency = c
	case "rates.maxage":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Rates.MaxAge = d
	case "rates.locale":
		if _, err := language.Parse(value); err != nil {
			return err
		}
		cfg.Rates.Locale = value

	// Refresh
	case "refresh.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Refresh.Timeout = d
	case "refresh.interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Refresh.Interval = d

	// Swap
	case "swap.threshold":
		q, err := parseKin(value)
		if err != nil {
			return err
		}
		cfg.Swap.Threshold = q
	case "swap.minfragments":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Swap.MinFragments = n

	// Program
	case "program.mint":
		cfg.Program.Mint = value

	// Wallet
	case "wallet.name", "wallet":
		cfg.Wallet.Name = value

	// Control API
	case "server.listen":
		cfg.Server.Listen = value
	case "server.allowedips":
		cfg.Server.AllowedIPs = parseStringList(value)
	case "server.corsorigins":
		cfg.Server.CORSOrigins = parseStringList(value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

// parseKin parses a whole-Kin decimal such as "100" or "12.5".
func parseKin(s string) (kin.Quarks, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return kin.QuarksFromDecimal(d)
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file.
func WriteDefaultConfig(path string, network NetworkType) error {
	def := Default(network)
	content := `# Klingnet Tray Configuration
#
# Format: key = value. Command-line flags take precedence over this file.

# Network: mainnet, devnet or simnet
network = ` + string(network) + `

# Data directory (default: ~/.klingnet-tray)
# datadir = ~/.klingnet-tray

# ============================================================================
# Chain RPC
# ============================================================================

# Defaults per network: api.mainnet-beta.solana.com, api.devnet.solana.com
# rpc.endpoint = ` + def.RPC.Endpoint + `
# Commitment: processed, confirmed or finalized
rpc.commitment = ` + def.RPC.Commitment + `

# ============================================================================
# Exchange Rates
# ============================================================================

# JSON-RPC endpoint serving getExchangeRates. Empty shows balances in Kin.
# rates.endpoint =
rates.currency = ` + string(def.Rates.Currency) + `
rates.maxage = ` + def.Rates.MaxAge.String() + `
# Number format of the balance, as a language tag (en-US, de-DE, ...).
rates.locale = ` + def.Rates.Locale + `

# ============================================================================
# Balance Refresh
# ============================================================================

refresh.timeout = ` + def.Refresh.Timeout.String() + `
# Automatic refresh interval for the watch command (0 disables)
# refresh.interval = 30s

# ============================================================================
# Consolidation
# ============================================================================

# Consolidate fragment accounts once they hold this many Kin...
swap.threshold = ` + def.Swap.Threshold.Decimal().String() + `
# ...or once this many of them are non-empty.
swap.minfragments = ` + strconv.Itoa(def.Swap.MinFragments) + `

# ============================================================================
# Program
# ============================================================================

program.mint = ` + def.Program.Mint + `

# ============================================================================
# Wallet
# ============================================================================

wallet.name = ` + def.Wallet.Name + `

# ============================================================================
# Control API
# ============================================================================

# Local JSON-RPC server started by the watch command (empty disables)
# server.listen = 127.0.0.1:8645
# Comma-separated IPs or CIDRs allowed to connect (empty allows all)
# server.allowedips = 127.0.0.1
# server.corsorigins =

# ============================================================================
# Logging
# ============================================================================

log.level = info
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
