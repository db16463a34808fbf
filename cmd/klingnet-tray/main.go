// klingnet-tray manages a privacy wallet's tray of derived sub-accounts:
// it creates wallets, shows the derived accounts and reconciles the
// on-chain balance.
package main

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/Klingon-tech/klingnet-tray/config"
	"github.com/Klingon-tech/klingnet-tray/internal/log"
)

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		config.PrintUsage(os.Stdout)
		return
	}
	if err != nil {
		fatal("%v", err)
	}
	if flags.Version {
		fmt.Printf("klingnet-tray version %s\n", config.Version)
		return
	}
	if err := log.Init(cfg.Log.Level, cfg.Log.JSON, cfg.Log.File); err != nil {
		fatal("init logging: %v", err)
	}

	args := flags.Args
	if len(args) == 0 {
		config.PrintUsage(os.Stderr)
		os.Exit(1)
	}

	cmd := args[0]
	cmdArgs := args[1:]

	switch cmd {
	case "wallet":
		cmdWallet(cfg, cmdArgs)
	case "accounts":
		cmdAccounts(cfg)
	case "balance":
		cmdBalance(cfg, cmdArgs)
	case "watch":
		cmdWatch(cfg, cmdArgs)
	case "rates":
		cmdRates(cfg, cmdArgs)
	case "help":
		config.PrintUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		config.PrintUsage(os.Stderr)
		os.Exit(1)
	}
}

// ── Password helper ─────────────────────────────────────────────────────

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func readNewPassword() []byte {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	return password
}

// ── Error helper ────────────────────────────────────────────────────────

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
