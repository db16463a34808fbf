package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingnet-tray/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-tray/internal/storage"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

type stubSource struct {
	calls atomic.Int32
	rates Rates
	err   error
}

func (s *stubSource) FetchRates(context.Context) (Rates, error) {
	s.calls.Add(1)
	return s.rates, s.err
}

func usdRates(fx string) Rates {
	return Rates{
		AsOf: time.Unix(1_700_000_000, 0).UTC(),
		Fx:   map[kin.CurrencyCode]decimal.Decimal{kin.USD: decimal.RequireFromString(fx)},
	}
}

func TestExchange_FetchRatesIfNeeded(t *testing.T) {
	src := &stubSource{rates: usdRates("0.00001")}
	ex, err := New(src, storage.NewMemory(), time.Minute)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Unix(1_700_000_000, 0)
	ex.now = func() time.Time { return now }

	if _, ok := ex.RateFor(kin.USD); ok {
		t.Fatal("rate available before first fetch")
	}

	fetched, err := ex.FetchRatesIfNeeded(context.Background())
	if err != nil || !fetched {
		t.Fatalf("first fetch = %v, %v", fetched, err)
	}
	fetched, err = ex.FetchRatesIfNeeded(context.Background())
	if err != nil || fetched {
		t.Fatalf("fresh fetch = %v, %v; want no fetch", fetched, err)
	}

	now = now.Add(time.Minute)
	if fetched, _ := ex.FetchRatesIfNeeded(context.Background()); !fetched {
		t.Fatal("stale cache was not refreshed")
	}
	if src.calls.Load() != 2 {
		t.Fatalf("source calls = %d, want 2", src.calls.Load())
	}

	rate, ok := ex.RateFor(kin.USD)
	if !ok || !rate.Fx.Equal(decimal.RequireFromString("0.00001")) || rate.Currency != kin.USD {
		t.Fatalf("RateFor(USD) = %v, %v", rate, ok)
	}
	if _, ok := ex.RateFor(kin.EUR); ok {
		t.Fatal("RateFor(EUR) present")
	}
	if rate, ok := ex.RateFor(kin.KIN); !ok || !rate.Fx.Equal(decimal.NewFromInt(1)) {
		t.Fatalf("RateFor(KIN) = %v, %v", rate, ok)
	}
}

func TestExchange_FailureKeepsPreviousRates(t *testing.T) {
	src := &stubSource{rates: usdRates("0.00002")}
	ex, _ := New(src, storage.NewMemory(), time.Nanosecond)
	if err := ex.FetchRates(context.Background()); err != nil {
		t.Fatalf("FetchRates: %v", err)
	}

	src.err = errors.New("unreachable")
	if _, err := ex.FetchRatesIfNeeded(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if _, ok := ex.RateFor(kin.USD); !ok {
		t.Fatal("previous rate lost after failed fetch")
	}

	src.err = nil
	src.rates = Rates{}
	if err := ex.FetchRates(context.Background()); !errors.Is(err, ErrNoRates) {
		t.Fatalf("err = %v, want ErrNoRates", err)
	}
}

func TestExchange_PersistsAcrossRestart(t *testing.T) {
	db := storage.NewMemory()
	ex, _ := New(&stubSource{rates: usdRates("0.5")}, db, time.Hour)
	if err := ex.FetchRates(context.Background()); err != nil {
		t.Fatalf("FetchRates: %v", err)
	}

	src := &stubSource{}
	reloaded, err := New(src, db, time.Hour)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if reloaded.Stale() {
		t.Fatal("reloaded cache is stale")
	}
	if !reloaded.FetchedAt().Equal(ex.FetchedAt()) {
		t.Fatalf("FetchedAt = %s, want %s", reloaded.FetchedAt(), ex.FetchedAt())
	}
	rate, ok := reloaded.RateFor(kin.USD)
	if !ok || !rate.Fx.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("RateFor(USD) = %v, %v", rate, ok)
	}
	if src.calls.Load() != 0 {
		t.Fatal("reload hit the source")
	}
}

func TestExchange_CacheOnly(t *testing.T) {
	db := storage.NewMemory()
	seed, _ := New(&stubSource{rates: usdRates("0.5")}, db, time.Hour)
	if err := seed.FetchRates(context.Background()); err != nil {
		t.Fatal(err)
	}

	ex, err := New(nil, db, time.Nanosecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := ex.FetchRatesIfNeeded(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
	if _, ok := ex.RateFor(kin.USD); !ok {
		t.Fatal("cached rate unavailable")
	}
}

// plainDB hides the MemoryDB batch support.
type plainDB struct{ storage.DB }

func TestExchange_History(t *testing.T) {
	for _, tc := range []struct {
		name string
		db   storage.DB
	}{
		{"batched", storage.NewMemory()},
		{"unbatched", plainDB{storage.NewMemory()}},
		{"namespaced", storage.NewPrefixDB(storage.NewMemory(), []byte("rates/"))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := &stubSource{}
			ex, err := New(src, tc.db, time.Minute)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			start := time.Unix(1_700_000_000, 0)
			now := start
			ex.now = func() time.Time { return now }

			for i, fx := range []string{"0.1", "0.2", "0.3"} {
				now = start.Add(time.Duration(i) * 24 * time.Hour)
				src.rates = usdRates(fx)
				if err := ex.FetchRates(context.Background()); err != nil {
					t.Fatalf("FetchRates(%s): %v", fx, err)
				}
			}
			now = start.Add(72 * time.Hour)
			src.rates = Rates{Fx: map[kin.CurrencyCode]decimal.Decimal{kin.EUR: decimal.RequireFromString("9")}}
			if err := ex.FetchRates(context.Background()); err != nil {
				t.Fatal(err)
			}

			got, err := ex.History(kin.USD, start.Add(time.Hour))
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			var fx []string
			for _, p := range got {
				fx = append(fx, p.Fx.String())
			}
			if diff := cmp.Diff([]string{"0.2", "0.3"}, fx); diff != "" {
				t.Errorf("history mismatch (-want +got):\n%s", diff)
			}

			// A fetch past the retention window prunes everything older.
			now = start.Add(HistoryRetention + 36*time.Hour)
			src.rates = usdRates("0.4")
			if err := ex.FetchRates(context.Background()); err != nil {
				t.Fatal(err)
			}
			all, _ := ex.History(kin.USD, time.Time{})
			if len(all) != 2 || all[0].Fx.String() != "0.3" || all[1].Fx.String() != "0.4" {
				t.Errorf("after prune = %+v", all)
			}
		})
	}
}

func TestRPCSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     uint64 `json:"id"`
			Method string `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method != MethodGetRates {
			t.Errorf("method = %q", req.Method)
		}
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + jsonNumber(req.ID) +
			`,"result":{"asOf":1700000000,"rates":{"usd":"0.0000123","cad":0.0000167,"xyz":"1"}}}`))
	}))
	defer srv.Close()

	rates, err := NewRPCSource(rpcclient.New(srv.URL)).FetchRates(context.Background())
	if err != nil {
		t.Fatalf("FetchRates: %v", err)
	}

	got := map[kin.CurrencyCode]string{}
	for c, fx := range rates.Fx {
		got[c] = fx.String()
	}
	want := map[kin.CurrencyCode]string{kin.USD: "0.0000123", kin.CAD: "0.0000167"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rates mismatch (-want +got):\n%s", diff)
	}
	if !rates.AsOf.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("AsOf = %s", rates.AsOf)
	}
}

func jsonNumber(n uint64) string {
	b, _ := json.Marshal(n)
	return string(b)
}
