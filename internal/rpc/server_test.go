package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/go-cmp/cmp"

	"github.com/Klingon-tech/klingnet-tray/internal/organizer"
	"github.com/Klingon-tech/klingnet-tray/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-tray/internal/session"
	"github.com/Klingon-tech/klingnet-tray/internal/simnet"
	"github.com/Klingon-tech/klingnet-tray/internal/wallet"
	"github.com/Klingon-tech/klingnet-tray/internal/workflow"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

type testEnv struct {
	engine *session.Engine
	ledger *simnet.Ledger
	tray   *organizer.Tray
	root   *wallet.RootKey
	client *rpcclient.Client
	url    string
}

func setupTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	root, err := wallet.RootKeyFromMnemonic(testMnemonic, "")
	if err != nil {
		t.Fatalf("RootKeyFromMnemonic: %v", err)
	}
	tray, err := organizer.DeriveTray(root, nil)
	if err != nil {
		t.Fatalf("DeriveTray: %v", err)
	}
	ledger := simnet.New()
	engine, err := session.New(session.Config{
		RefreshTimeout: time.Second,
		Currency:       kin.KIN,
		Workflow:       workflow.DefaultConfig(solana.PublicKey{0x4b}),
	}, session.Deps{Source: ledger, Submitter: ledger})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	t.Cleanup(engine.Close)

	srv := New("127.0.0.1:0", engine, opts)
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	url := "http://" + srv.Addr()
	return &testEnv{
		engine: engine,
		ledger: ledger,
		tray:   tray,
		root:   root,
		client: rpcclient.New(url),
		url:    url,
	}
}

func (env *testEnv) login(t *testing.T) {
	t.Helper()
	for _, v := range env.tray.Vaults() {
		env.ledger.Open(v)
	}
	if err := env.engine.Login(session.NewStaticAuth(env.root)); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func rpcCode(err error) int {
	var rpcErr *rpcclient.RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return 0
}

func TestServer_NotLoggedIn(t *testing.T) {
	env := setupTestEnv(t, Options{})
	for _, method := range []string{MethodGetBalance, MethodRefresh, MethodGetAccounts} {
		err := env.client.Call(context.Background(), method, nil, nil)
		if rpcCode(err) != CodeNotFound {
			t.Errorf("%s: err = %v, want code %d", method, err, CodeNotFound)
		}
	}
}

func TestServer_RefreshAndBalance(t *testing.T) {
	env := setupTestEnv(t, Options{})
	env.login(t)
	in, _ := env.tray.Account(wallet.KindIncomingTemporary)
	env.ledger.Deposit(in.Vault, kin.FromKin(3))

	var got BalanceResult
	if err := env.client.Call(context.Background(), MethodRefresh, nil, &got); err != nil {
		t.Fatalf("tray_refresh: %v", err)
	}
	want := BalanceResult{
		Quarks:      uint64(kin.FromKin(3)),
		Kin:         kin.FromKin(3).String(),
		Display:     "K 3.00 of Kin",
		MarketValue: "3",
		Currency:    "KIN",
		Connected:   true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tray_refresh mismatch (-want +got):\n%s", diff)
	}

	var again BalanceResult
	if err := env.client.Call(context.Background(), MethodGetBalance, nil, &again); err != nil {
		t.Fatalf("tray_getBalance: %v", err)
	}
	if diff := cmp.Diff(want, again); diff != "" {
		t.Errorf("tray_getBalance mismatch (-want +got):\n%s", diff)
	}
}

func TestServer_GetAccounts(t *testing.T) {
	env := setupTestEnv(t, Options{})
	env.login(t)

	var got AccountsResult
	if err := env.client.Call(context.Background(), MethodGetAccounts, nil, &got); err != nil {
		t.Fatalf("tray_getAccounts: %v", err)
	}
	if got.Fingerprint != env.tray.Fingerprint().Hex() {
		t.Errorf("fingerprint = %s, want %s", got.Fingerprint, env.tray.Fingerprint().Hex())
	}
	if len(got.Accounts) != env.tray.Len() {
		t.Fatalf("accounts = %d, want %d", len(got.Accounts), env.tray.Len())
	}
	for i, a := range env.tray.Accounts() {
		if got.Accounts[i].Kind != a.Kind.String() || got.Accounts[i].Vault != a.Vault.String() {
			t.Errorf("account %d = %+v, want %s %s", i, got.Accounts[i], a.Kind, a.Vault)
		}
	}

	// Receiving rotates the incoming account and bumps the generation.
	in, _ := env.tray.Account(wallet.KindIncomingTemporary)
	env.ledger.Deposit(in.Vault, kin.FromKin(2))
	if err := env.client.Call(context.Background(), MethodRefresh, nil, nil); err != nil {
		t.Fatalf("tray_refresh: %v", err)
	}
	var after AccountsResult
	if err := env.client.Call(context.Background(), MethodGetAccounts, nil, &after); err != nil {
		t.Fatalf("tray_getAccounts: %v", err)
	}
	if after.Generation != got.Generation+1 {
		t.Errorf("generation = %d, want %d", after.Generation, got.Generation+1)
	}
	if after.Available != uint64(kin.FromKin(2)) || after.Total != after.Available {
		t.Errorf("available = %d, total = %d, want both %d", after.Available, after.Total, kin.FromKin(2))
	}
	if after.Fingerprint == got.Fingerprint {
		t.Error("fingerprint unchanged after rotation")
	}
}

func TestServer_SetCurrency(t *testing.T) {
	env := setupTestEnv(t, Options{})
	env.login(t)

	err := env.client.Call(context.Background(), MethodSetCurrency, CurrencyParam{Currency: "XYZ"}, nil)
	if rpcCode(err) != CodeInvalidParams {
		t.Errorf("unknown currency: err = %v, want code %d", err, CodeInvalidParams)
	}
	err = env.client.Call(context.Background(), MethodSetCurrency, nil, nil)
	if rpcCode(err) != CodeInvalidParams {
		t.Errorf("missing params: err = %v, want code %d", err, CodeInvalidParams)
	}
	if err := env.client.Call(context.Background(), MethodSetCurrency, CurrencyParam{Currency: "kin"}, nil); err != nil {
		t.Fatalf("tray_setCurrency: %v", err)
	}
}

func TestServer_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t, Options{})
	err := env.client.Call(context.Background(), "chain_getInfo", nil, nil)
	if rpcCode(err) != CodeMethodNotFound {
		t.Fatalf("err = %v, want code %d", err, CodeMethodNotFound)
	}
}

func TestServer_RequestValidation(t *testing.T) {
	env := setupTestEnv(t, Options{})
	tests := []struct {
		name   string
		method string
		body   string
		code   int
	}{
		{"get", http.MethodGet, "", CodeInvalidRequest},
		{"bad json", http.MethodPost, "{", CodeParseError},
		{"wrong version", http.MethodPost, `{"jsonrpc":"1.0","method":"tray_getBalance","id":1}`, CodeInvalidRequest},
		{"too large", http.MethodPost, `{"jsonrpc":"2.0","method":"` + string(bytes.Repeat([]byte("x"), maxBodySize)) + `"}`, CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, env.url, bytes.NewBufferString(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			var out Response
			if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.Error == nil || out.Error.Code != tt.code {
				t.Fatalf("error = %+v, want code %d", out.Error, tt.code)
			}
		})
	}
}

func TestServer_IPFilter(t *testing.T) {
	env := setupTestEnv(t, Options{AllowedIPs: []string{"10.0.0.0/8"}})
	resp, err := http.Post(env.url, "application/json", bytes.NewBufferString(`{"jsonrpc":"2.0","method":"tray_getBalance","id":1}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestServer_CORS(t *testing.T) {
	env := setupTestEnv(t, Options{CORSOrigins: []string{"http://localhost:3000"}})
	req, _ := http.NewRequest(http.MethodOptions, env.url, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want 204", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestParseAllowedIPs(t *testing.T) {
	nets := parseAllowedIPs([]string{"127.0.0.1", "::1", "10.0.0.0/8", "bogus"})
	if len(nets) != 3 {
		t.Fatalf("nets = %d, want 3", len(nets))
	}
}
