package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/text/language"

	"github.com/Klingon-tech/klingnet-tray/config"
	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/rpc"
	"github.com/Klingon-tech/klingnet-tray/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-tray/internal/session"
	"github.com/Klingon-tech/klingnet-tray/internal/simnet"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/internal/workflow"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// DefaultWatchInterval is used by watch when refresh.interval is unset.
const DefaultWatchInterval = 30 * time.Second

type runtime struct {
	engine *session.Engine
	ledger *simnet.Ledger // simnet only
	auth   *session.StaticAuth
	closer func()
}

func (r *runtime) Close() {
	r.auth.Revoke()
	r.engine.Close()
	r.closer()
}

// openEngine wires the engine's collaborators for the configured network
// and logs the wallet in.
func openEngine(cfg *config.Config, interval time.Duration) *runtime {
	ks := openKeystore(cfg)
	root := unlock(cfg, ks)

	mint, err := cfg.MintKey()
	if err != nil {
		fatal("mint: %v", err)
	}
	wfCfg := workflow.DefaultConfig(mint)
	wfCfg.Swap = workflow.SwapPolicy{Threshold: cfg.Swap.Threshold, MinFragments: cfg.Swap.MinFragments}

	rt := &runtime{closer: func() {}}
	deps := session.Deps{Indices: session.KeystoreIndices{Keystore: ks, Name: cfg.Wallet.Name}}

	if cfg.Network == config.Simnet {
		rt.ledger = simnet.New()
		deps.Source, deps.Submitter = rt.ledger, rt.ledger
	} else {
		commitment, err := rpcclient.ParseCommitment(cfg.RPC.Commitment)
		if err != nil {
			fatal("%v", err)
		}
		chain := rpcclient.NewChain(cfg.RPC.Endpoint, commitment, mint)
		deps.Source, deps.Submitter = chain, chain
	}

	currency := cfg.Rates.Currency
	if cfg.Rates.Endpoint != "" {
		ex, closer := openExchange(cfg)
		rt.closer = closer
		deps.Rates = ex
	} else {
		currency = kin.KIN
	}

	locale := language.Und
	if cfg.Rates.Locale != "" {
		if locale, err = language.Parse(cfg.Rates.Locale); err != nil {
			fatal("rates.locale: %v", err)
		}
	}

	engine, err := session.New(session.Config{
		RefreshTimeout:  cfg.Refresh.Timeout,
		RefreshInterval: interval,
		RatesInterval:   cfg.Rates.MaxAge,
		Currency:        currency,
		Locale:          locale,
		Workflow:        wfCfg,
	}, deps)
	if err != nil {
		fatal("create engine: %v", err)
	}
	rt.engine = engine
	rt.auth = session.NewStaticAuth(root)
	if err := engine.Login(rt.auth); err != nil {
		rt.Close()
		fatal("login: %v", err)
	}
	return rt
}

// deposit credits the simnet incoming account so the receive flow can be
// exercised without a chain.
func (r *runtime) deposit(amount string) {
	if amount == "" {
		return
	}
	if r.ledger == nil {
		fatal("--deposit is only available on simnet")
	}
	g, err := kin.ParseGenericAmount(amount)
	if err != nil {
		fatal("deposit: %v", err)
	}
	quote, err := r.engine.Quote(g)
	if err != nil {
		fatal("deposit: %v", err)
	}
	q := quote.Kin
	org := r.engine.Organizer()
	if org == nil {
		fatal("not logged in")
	}
	in, ok := org.Tray().Account(wallet.KindIncomingTemporary)
	if !ok {
		fatal("tray has no incoming account")
	}
	r.ledger.Deposit(in.Vault, q)
	fmt.Printf("Deposited %s Kin to %s\n", q, in.Vault)
}

func (r *runtime) printBalance() {
	if d, ok := r.engine.Balance(); ok {
		fmt.Printf("Balance: %s (%s Kin)\n", d.Text, kin.Quarks(r.engine.AvailableBalanceQuarks()))
		return
	}
	fmt.Printf("Balance: %s Kin\n", kin.Quarks(r.engine.AvailableBalanceQuarks()))
}

func cmdBalance(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	deposit := fs.String("deposit", "", "Simnet: credit this amount (Kin, or \"<value> <currency>\") to the incoming account first")
	fs.Parse(args)

	rt := openEngine(cfg, 0)
	defer rt.Close()

	ctx := context.Background()
	if err := rt.engine.RefreshRates(ctx); err != nil {
		log.Exchange.Warn().Err(err).Msg("Rates unavailable")
	}
	if err := rt.engine.RefreshBalance(ctx); err != nil {
		fatal("refresh balance: %v", err)
	}
	if *deposit != "" {
		rt.deposit(*deposit)
		if err := rt.engine.RefreshBalance(ctx); err != nil {
			fatal("refresh balance: %v", err)
		}
	}
	rt.printBalance()
}

func cmdWatch(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	deposit := fs.String("deposit", "", "Simnet: credit this amount (Kin, or \"<value> <currency>\") to the incoming account on every refresh")
	fs.Parse(args)

	interval := cfg.Refresh.Interval
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := openEngine(cfg, interval)
	defer rt.Close()

	balances, cancelBalances := rt.engine.SubscribeBalance()
	defer cancelBalances()
	evs, cancelEvents := rt.engine.SubscribeEvents()
	defer cancelEvents()

	if cfg.Server.Listen != "" {
		srv := rpc.New(cfg.Server.Listen, rt.engine, rpc.Options{
			AllowedIPs:  cfg.Server.AllowedIPs,
			CORSOrigins: cfg.Server.CORSOrigins,
		})
		if err := srv.Start(); err != nil {
			fatal("control API: %v", err)
		}
		defer srv.Stop()
		fmt.Printf("Control API on http://%s\n", srv.Addr())
	}

	fmt.Printf("Watching %s every %s (Ctrl-C to stop)\n", cfg.Wallet.Name, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-balances:
			if !ok {
				return
			}
			fmt.Printf("%s  balance %s\n", time.Now().Format("15:04:05"), d.Text)
		case e, ok := <-evs:
			if !ok {
				return
			}
			fmt.Printf("%s  %s %s Kin\n", e.Time.Format("15:04:05"), e.Kind, e.Amount)
		case <-ticker.C:
			rt.deposit(*deposit)
		}
	}
}
