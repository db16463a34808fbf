package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/Klingon-tech/klingnet-tray/config"
	"github.com/Klingon-tech/klingnet-tray/internal/exchange"
	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-tray/internal/storage"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

var ratesNamespace = []byte("rates/")

func openRateCache(cfg *config.Config) (*storage.PrefixDB, func()) {
	db, err := storage.NewBadger(cfg.CacheDir())
	if err != nil {
		fatal("open rate cache: %v", err)
	}
	return storage.NewPrefixDB(db, ratesNamespace), func() {
		if err := db.Close(); err != nil {
			log.Storage.Warn().Err(err).Msg("Closing rate cache")
		}
	}
}

// openExchange opens the on-disk rate cache. Without rates.endpoint the
// exchange can only serve what is already cached.
func openExchange(cfg *config.Config) (*exchange.Exchange, func()) {
	db, closer := openRateCache(cfg)
	var source exchange.RateSource
	if cfg.Rates.Endpoint != "" {
		source = exchange.NewRPCSource(rpcclient.New(cfg.Rates.Endpoint))
	}
	ex, err := exchange.New(source, db, cfg.Rates.MaxAge)
	if err != nil {
		closer()
		fatal("open exchange: %v", err)
	}
	return ex, closer
}

func cmdRates(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("rates", flag.ExitOnError)
	clearCache := fs.Bool("clear", false, "Delete every cached rate")
	days := fs.Int("days", 7, "Days of history to show")
	fs.Parse(args)

	if *clearCache {
		db, closer := openRateCache(cfg)
		defer closer()
		if err := db.DeleteAll(); err != nil {
			fatal("clear rate cache: %v", err)
		}
		fmt.Println("Rate cache cleared")
		return
	}

	currency := cfg.Rates.Currency
	if currency == kin.KIN {
		fmt.Println("Balances are shown in Kin; no exchange rate is needed.")
		return
	}

	ex, closer := openExchange(cfg)
	defer closer()
	if cfg.Rates.Endpoint != "" {
		if _, err := ex.FetchRatesIfNeeded(context.Background()); err != nil {
			log.Exchange.Warn().Err(err).Msg("Using cached rates")
		}
	}

	rate, ok := ex.RateFor(currency)
	if !ok {
		fmt.Printf("No %s rate cached", currency)
		if cfg.Rates.Endpoint == "" {
			fmt.Print(" (rates.endpoint is not set)")
		}
		fmt.Println()
		return
	}
	fmt.Printf("1 Kin = %s%s (fetched %s)\n\n", currency.Symbol(), rate.Fx.String(),
		ex.FetchedAt().Local().Format(time.DateTime))

	history, err := ex.History(currency, time.Now().AddDate(0, 0, -*days))
	if err != nil {
		fatal("rate history: %v", err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "FETCHED\tAS OF\tRATE\t")
	for _, p := range history {
		fmt.Fprintf(w, "%s\t%s\t%s\t\n",
			p.FetchedAt.Local().Format(time.DateTime),
			p.AsOf.Local().Format(time.DateTime),
			p.Fx.String())
	}
	w.Flush()
}
