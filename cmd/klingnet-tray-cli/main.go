// klingnet-tray-cli queries a running "klingnet-tray watch" over its
// control API.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/Klingon-tech/klingnet-tray/internal/rpc"
	"github.com/Klingon-tech/klingnet-tray/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

const defaultRPC = "http://127.0.0.1:8645"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	rpcURL := defaultRPC
	timeout := 30 * time.Second

	args := os.Args[1:]
	for len(args) > 0 {
		switch {
		case args[0] == "--rpc" && len(args) > 1:
			rpcURL = args[1]
			args = args[2:]
		case strings.HasPrefix(args[0], "--rpc="):
			rpcURL = args[0][len("--rpc="):]
			args = args[1:]
		case args[0] == "--timeout" && len(args) > 1:
			timeout = parseTimeout(args[1])
			args = args[2:]
		case strings.HasPrefix(args[0], "--timeout="):
			timeout = parseTimeout(args[0][len("--timeout="):])
			args = args[1:]
		default:
			goto dispatch
		}
	}

dispatch:
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	client := rpcclient.NewWithTimeout(rpcURL, timeout)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	switch args[0] {
	case "balance":
		cmdBalance(ctx, client)
	case "refresh":
		cmdRefresh(ctx, client)
	case "accounts":
		cmdAccounts(ctx, client)
	case "currency":
		cmdCurrency(ctx, client, args[1:])
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: klingnet-tray-cli [global flags] <command> [args]

Global flags:
  --rpc <url>         Control API endpoint (default: %s)
  --timeout <dur>     Request timeout (default: 30s)

Commands:
  balance             Show the last published balance
  refresh             Refresh the balance now and show it
  accounts            List the tray's sub-accounts
  currency <code>     Change the display currency (e.g. usd, eur, kin)
`, defaultRPC)
}

func parseTimeout(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		fatal("invalid --timeout %q", s)
	}
	return d
}

func printBalance(b *rpc.BalanceResult) {
	if b.Display != "" {
		fmt.Printf("Balance:  %s\n", b.Display)
	}
	fmt.Printf("Kin:      %s\n", b.Kin)
	fmt.Printf("Quarks:   %d\n", b.Quarks)
	if !b.Connected {
		fmt.Println("Offline:  last refresh could not reach the network")
	}
}

func cmdBalance(ctx context.Context, client *rpcclient.Client) {
	var b rpc.BalanceResult
	if err := client.Call(ctx, rpc.MethodGetBalance, nil, &b); err != nil {
		fatal("%s: %v", rpc.MethodGetBalance, err)
	}
	printBalance(&b)
}

func cmdRefresh(ctx context.Context, client *rpcclient.Client) {
	var b rpc.BalanceResult
	if err := client.Call(ctx, rpc.MethodRefresh, nil, &b); err != nil {
		fatal("%s: %v", rpc.MethodRefresh, err)
	}
	printBalance(&b)
}

func cmdAccounts(ctx context.Context, client *rpcclient.Client) {
	var res rpc.AccountsResult
	if err := client.Call(ctx, rpc.MethodGetAccounts, nil, &res); err != nil {
		fatal("%s: %v", rpc.MethodGetAccounts, err)
	}
	fmt.Printf("Tray:      %s\n", res.Fingerprint)
	fmt.Printf("Available: %s Kin\n", kin.Quarks(res.Available))
	if res.Total != res.Available {
		fmt.Printf("Pending:   %s Kin\n", kin.Quarks(res.Total-res.Available))
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "KIND\tINDEX\tVAULT\tBALANCE\t")
	for _, a := range res.Accounts {
		bal := kin.Quarks(a.Balance).String()
		if a.PendingMigration {
			bal += " (migration pending)"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t\n", a.Kind, a.Index, a.Vault, bal)
	}
	w.Flush()
}

func cmdCurrency(ctx context.Context, client *rpcclient.Client, args []string) {
	if len(args) != 1 {
		fatal("Usage: klingnet-tray-cli currency <code>")
	}
	var b rpc.BalanceResult
	if err := client.Call(ctx, rpc.MethodSetCurrency, rpc.CurrencyParam{Currency: args[0]}, &b); err != nil {
		fatal("%s: %v", rpc.MethodSetCurrency, err)
	}
	printBalance(&b)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
