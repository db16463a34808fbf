package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/Klingon-tech/klingnet-tray/internal/events"
	"github.com/Klingon-tech/klingnet-tray/internal/exchange"
	"github.com/Klingon-tech/klingnet-tray/internal/fetcher"
	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/simnet"
	"github.com/Klingon-tech/klingnet-tray/internal/storage"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/internal/workflow"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type testEnv struct {
	engine *Engine
	ledger *simnet.Ledger
	root   *wallet.RootKey
	tray   *organizer.Tray
	auth   *StaticAuth
}

func testRoot(t *testing.T) *wallet.RootKey {
	t.Helper()
	root, err := wallet.RootKeyFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("RootKeyFromMnemonic: %v", err)
	}
	return root
}

func newTestEnv(t *testing.T, mutate func(*Config, *Deps)) *testEnv {
	t.Helper()
	root := testRoot(t)
	tray, err := organizer.DeriveTray(root, nil)
	if err != nil {
		t.Fatalf("DeriveTray: %v", err)
	}
	ledger := simnet.New()

	cfg := Config{
		RefreshTimeout: time.Second,
		Currency:       kin.KIN,
		Workflow:       workflow.DefaultConfig(solana.PublicKey{0x4b}),
	}
	deps := Deps{Source: ledger, Submitter: ledger}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	engine, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(engine.Close)
	return &testEnv{engine: engine, ledger: ledger, root: root, tray: tray, auth: NewStaticAuth(root)}
}

// openAll creates every vault of the tray so a refresh is a single fetch.
func (env *testEnv) openAll() {
	for _, v := range env.tray.Vaults() {
		env.ledger.Open(v)
	}
}

func (env *testEnv) vault(kind wallet.AccountKind) solana.PublicKey {
	a, _ := env.tray.Account(kind)
	return a.Vault
}

func (env *testEnv) login(t *testing.T) {
	t.Helper()
	if err := env.engine.Login(env.auth); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNew_RequiresSource(t *testing.T) {
	if _, err := New(Config{}, Deps{}); !errors.Is(err, ErrNoStateSource) {
		t.Fatalf("err = %v, want ErrNoStateSource", err)
	}
}

func TestRefresh_NotAuthenticatedIsNoop(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	if env.ledger.Fetches() != 0 {
		t.Fatalf("fetches = %d, want 0", env.ledger.Fetches())
	}
	if env.engine.AvailableBalanceQuarks() != 0 {
		t.Fatal("balance without session")
	}
}

func TestRefresh_MissingOrganizer(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.engine.Login(NewStaticAuth(nil)); err == nil {
		t.Fatal("Login with nil root key succeeded")
	}
	err := env.engine.RefreshBalance(context.Background())
	if !errors.Is(err, ErrMissingOrganizer) {
		t.Fatalf("err = %v, want ErrMissingOrganizer", err)
	}
}

func TestRefresh_CreatesAccounts(t *testing.T) {
	env := newTestEnv(t, nil)
	evs, cancel := env.engine.SubscribeEvents()
	defer cancel()
	env.login(t)

	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	if got := env.engine.AvailableBalanceQuarks(); got != 0 {
		t.Fatalf("available = %d, want 0", got)
	}
	for _, v := range env.tray.Vaults() {
		if _, ok := env.ledger.Balance(v); !ok {
			t.Errorf("vault %s not created", v)
		}
	}

	select {
	case e := <-evs:
		if e.Kind != events.AccountsCreated {
			t.Fatalf("event = %s, want AccountsCreated", e.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no AccountsCreated event")
	}

	d, ok := env.engine.Balance()
	if !ok || d.Text != "K 0.00 of Kin" {
		t.Fatalf("display = %+v, %v", d, ok)
	}
}

func TestRefresh_ConcurrentCallsCoalesce(t *testing.T) {
	env := newTestEnv(t, nil)
	env.openAll()
	env.ledger.Deposit(env.vault(wallet.KindPrimaryVault), kin.FromKin(7))
	env.ledger.SetLatency(30 * time.Millisecond)
	env.login(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- env.engine.RefreshBalance(context.Background())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("RefreshBalance: %v", err)
		}
	}

	if n := env.ledger.MaxConcurrentFetches(); n != 1 {
		t.Fatalf("max concurrent fetches = %d, want 1", n)
	}
	if got := env.engine.AvailableBalanceQuarks(); got != uint64(kin.FromKin(7)) {
		t.Fatalf("available = %d, want %d", got, kin.FromKin(7))
	}
}

func TestRefresh_CallerCancelDoesNotCancelFlight(t *testing.T) {
	env := newTestEnv(t, nil)
	env.openAll()
	env.ledger.Deposit(env.vault(wallet.KindPrimaryVault), kin.FromKin(3))
	env.ledger.SetLatency(50 * time.Millisecond)
	env.login(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := env.engine.RefreshBalance(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	// The shared refresh keeps running and lands.
	waitFor(t, func() bool { return env.engine.AvailableBalanceQuarks() == uint64(kin.FromKin(3)) })
}

func TestRefresh_TimeoutLeavesBalance(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Deps) { c.RefreshTimeout = 30 * time.Millisecond })
	env.openAll()
	primary := env.vault(wallet.KindPrimaryVault)
	env.ledger.Deposit(primary, kin.FromKin(5))
	env.login(t)

	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	env.ledger.Deposit(primary, kin.FromKin(5))
	env.ledger.SetLatency(200 * time.Millisecond)
	err := env.engine.RefreshBalance(context.Background())
	if !errors.Is(err, fetcher.ErrFetchTimedOut) {
		t.Fatalf("err = %v, want ErrFetchTimedOut", err)
	}
	if got := env.engine.AvailableBalanceQuarks(); got != uint64(kin.FromKin(5)) {
		t.Fatalf("available = %d, want unchanged %d", got, kin.FromKin(5))
	}
}

func TestLogout_DiscardsLateRefresh(t *testing.T) {
	env := newTestEnv(t, nil)
	env.openAll()
	env.ledger.Deposit(env.vault(wallet.KindPrimaryVault), kin.FromKin(9))
	env.ledger.SetLatency(100 * time.Millisecond)
	env.login(t)
	org := env.engine.Organizer()

	done := make(chan error, 1)
	go func() { done <- env.engine.RefreshBalance(context.Background()) }()
	waitFor(t, func() bool { return env.ledger.Fetches() >= 1 })

	env.engine.Logout()
	if err := <-done; err != nil {
		t.Fatalf("RefreshBalance after logout = %v, want nil", err)
	}
	if !org.Closed() {
		t.Fatal("organizer not closed")
	}
	if org.AvailableBalance() != 0 {
		t.Fatalf("late refresh mutated organizer: %d", org.AvailableBalance())
	}
	if env.engine.LoggedIn() || env.engine.Organizer() != nil {
		t.Fatal("still logged in")
	}
	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("refresh after logout = %v, want nil", err)
	}
}

func TestLogout_ResetsBalanceDisplay(t *testing.T) {
	env := newTestEnv(t, nil)
	env.openAll()
	env.ledger.Deposit(env.vault(wallet.KindPrimaryVault), kin.FromKin(9))
	env.login(t)
	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	if d, ok := env.engine.Balance(); !ok || d.Text != "K 9.00 of Kin" {
		t.Fatalf("balance = %q, %v", d.Text, ok)
	}
	env.engine.mu.Lock()
	old := env.engine.sess
	env.engine.mu.Unlock()

	env.engine.Logout()
	if d, ok := env.engine.Balance(); ok {
		t.Fatalf("balance after logout = %q", d.Text)
	}

	other, err := wallet.RootKeyFromMnemonic(testMnemonic, "other")
	if err != nil {
		t.Fatalf("RootKeyFromMnemonic: %v", err)
	}
	if err := env.engine.Login(NewStaticAuth(other)); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if d, ok := env.engine.Balance(); ok {
		t.Fatalf("new user sees previous balance %q", d.Text)
	}
	ch, cancel := env.engine.SubscribeBalance()
	defer cancel()
	select {
	case d := <-ch:
		t.Fatalf("new subscriber got %q before any refresh", d.Text)
	default:
	}

	// A straggling update from the ended session is dropped.
	env.engine.publish(old, kin.FromKin(9))
	if d, ok := env.engine.Balance(); ok {
		t.Fatalf("ended session published %q", d.Text)
	}

	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	if d, ok := env.engine.Balance(); !ok || d.Text != "K 0.00 of Kin" {
		t.Fatalf("balance of new user = %q, %v", d.Text, ok)
	}
}

func TestQuote(t *testing.T) {
	rates := fixedRates{"0.5"}
	env := newTestEnv(t, func(_ *Config, d *Deps) {
		ex, err := exchange.New(rates, storage.NewMemory(), time.Hour)
		if err != nil {
			t.Fatalf("exchange.New: %v", err)
		}
		d.Rates = ex
	})

	partial := kin.Partial{Fiat: kin.Fiat{Currency: kin.USD, Amount: decimal.NewFromInt(2)}}
	if _, err := env.engine.Quote(partial); !errors.Is(err, ErrNoRate) {
		t.Fatalf("Quote before rates: err = %v, want ErrNoRate", err)
	}
	if err := env.engine.RefreshRates(context.Background()); err != nil {
		t.Fatalf("RefreshRates: %v", err)
	}
	got, err := env.engine.Quote(partial)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if got.Kin != kin.FromKin(4) {
		t.Errorf("quoted kin = %s, want 4", got.Kin)
	}

	exact := kin.Exact{Amount: kin.NewKinAmountFromKin(kin.FromKin(3), kin.OneToOne)}
	if got, err := env.engine.Quote(exact); err != nil || got.Kin != kin.FromKin(3) {
		t.Errorf("Quote(exact) = %s, %v", got.Kin, err)
	}
}

func TestBalance_Locale(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Deps) { c.Locale = language.German })
	env.openAll()
	env.ledger.Deposit(env.vault(wallet.KindPrimaryVault), kin.FromKin(1234))
	env.login(t)
	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	if d, ok := env.engine.Balance(); !ok || d.Text != "K 1.234,00 of Kin" {
		t.Fatalf("balance = %q, %v", d.Text, ok)
	}
}

func TestRevocationLogsOut(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t)
	env.auth.Revoke()
	waitFor(t, func() bool { return !env.engine.LoggedIn() })
	env.auth.Revoke()
}

func TestLogin_PersistsRotatedIndex(t *testing.T) {
	ks, err := wallet.NewKeystore(t.TempDir())
	if err != nil {
		t.Fatalf("NewKeystore: %v", err)
	}
	seed, err := wallet.SeedFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("SeedFromMnemonic: %v", err)
	}
	if err := ks.Create("main", seed, []byte("pw"), wallet.KDFParams{Memory: 64, Iterations: 1, Parallelism: 1}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	store := KeystoreIndices{Keystore: ks, Name: "main"}

	env := newTestEnv(t, func(_ *Config, d *Deps) { d.Indices = store })
	env.openAll()
	env.ledger.Deposit(env.vault(wallet.KindIncomingTemporary), kin.FromKin(2))
	env.login(t)

	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	indices, err := store.Indices()
	if err != nil {
		t.Fatalf("Indices: %v", err)
	}
	if indices[wallet.KindIncomingTemporary] != 1 {
		t.Fatalf("incoming index = %d, want 1", indices[wallet.KindIncomingTemporary])
	}

	// A new session derives the rotated incoming account.
	env.engine.Logout()
	env.login(t)
	in, _ := env.engine.Organizer().Tray().Account(wallet.KindIncomingTemporary)
	if in.Index != 1 {
		t.Fatalf("relogin incoming index = %d, want 1", in.Index)
	}
}

// flakyIndices fails the first SetIndex and then stores in memory.
type flakyIndices struct {
	mu      sync.Mutex
	failed  bool
	indices map[wallet.AccountKind]uint32
}

func (f *flakyIndices) Indices() (map[wallet.AccountKind]uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[wallet.AccountKind]uint32, len(f.indices))
	for k, v := range f.indices {
		out[k] = v
	}
	return out, nil
}

func (f *flakyIndices) SetIndex(kind wallet.AccountKind, index uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.failed {
		f.failed = true
		return errors.New("disk full")
	}
	if f.indices == nil {
		f.indices = make(map[wallet.AccountKind]uint32)
	}
	f.indices[kind] = index
	return nil
}

func TestLogin_RecoversFromUnstoredIndex(t *testing.T) {
	store := &flakyIndices{}
	env := newTestEnv(t, func(_ *Config, d *Deps) { d.Indices = store })
	env.openAll()
	env.ledger.Deposit(env.vault(wallet.KindIncomingTemporary), kin.FromKin(2))
	env.login(t)

	err := env.engine.RefreshBalance(context.Background())
	if !errors.Is(err, workflow.ErrIndexNotStored) {
		t.Fatalf("RefreshBalance = %v, want ErrIndexNotStored", err)
	}
	if !env.engine.Connected() {
		t.Fatal("unstored index marked the engine disconnected")
	}

	// The restarted session derives the stale incoming index 0, whose
	// vault was retired. A deposit to it reopens it.
	env.engine.Logout()
	env.login(t)
	env.ledger.Deposit(env.vault(wallet.KindIncomingTemporary), kin.FromKin(3))
	for i := 0; i < 2; i++ {
		if err := env.engine.RefreshBalance(context.Background()); err != nil {
			t.Fatalf("RefreshBalance #%d: %v", i+1, err)
		}
	}
	if got, want := env.engine.AvailableBalanceQuarks(), uint64(kin.FromKin(5)); got != want {
		t.Fatalf("available = %d, want %d", got, want)
	}
	indices, _ := store.Indices()
	if indices[wallet.KindIncomingTemporary] != 1 {
		t.Fatalf("stored incoming index = %d, want 1", indices[wallet.KindIncomingTemporary])
	}
}

type fixedRates struct{ fx string }

func (f fixedRates) FetchRates(context.Context) (exchange.Rates, error) {
	return exchange.Rates{
		AsOf: time.Now(),
		Fx:   map[kin.CurrencyCode]decimal.Decimal{kin.USD: decimal.RequireFromString(f.fx)},
	}, nil
}

func TestBalanceSubscription_UsesRates(t *testing.T) {
	ex, err := exchange.New(fixedRates{"0.01"}, storage.NewMemory(), time.Hour)
	if err != nil {
		t.Fatalf("exchange.New: %v", err)
	}
	env := newTestEnv(t, func(c *Config, d *Deps) {
		c.Currency = kin.USD
		d.Rates = ex
	})
	env.openAll()
	env.ledger.Deposit(env.vault(wallet.KindPrimaryVault), kin.FromKin(150))

	sub, cancel := env.engine.SubscribeBalance()
	defer cancel()
	env.login(t)

	if err := env.engine.RefreshBalance(context.Background()); err != nil {
		t.Fatalf("RefreshBalance: %v", err)
	}
	if _, ok := env.engine.Balance(); ok {
		t.Fatal("display published before rates")
	}
	if err := env.engine.RefreshRates(context.Background()); err != nil {
		t.Fatalf("RefreshRates: %v", err)
	}

	select {
	case d := <-sub:
		if d.Text != "$1.50 of Kin" {
			t.Fatalf("display = %q", d.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("no balance display")
	}

	env.engine.SetCurrency(kin.KIN)
	if d, _ := env.engine.Balance(); d.Text != "K 150.00 of Kin" {
		t.Fatalf("KIN display = %q", d.Text)
	}
}

func TestAutoRefresh(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Deps) { c.RefreshInterval = 5 * time.Millisecond })
	env.openAll()
	env.login(t)
	waitFor(t, func() bool { return env.ledger.Fetches() >= 2 })

	env.engine.Logout()
	after := env.ledger.Fetches()
	time.Sleep(20 * time.Millisecond)
	if env.ledger.Fetches() != after {
		t.Fatal("auto refresh kept running after logout")
	}
}
