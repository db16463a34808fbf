package rpc

import "encoding/json"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
	CodeTimeout        = -32001
)

// Control API methods.
const (
	MethodGetBalance  = "tray_getBalance"
	MethodRefresh     = "tray_refresh"
	MethodGetAccounts = "tray_getAccounts"
	MethodSetCurrency = "tray_setCurrency"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      any    `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// CurrencyParam is used by tray_setCurrency.
type CurrencyParam struct {
	Currency string `json:"currency"`
}

// BalanceResult is returned by tray_getBalance, tray_refresh and
// tray_setCurrency. Display fields are empty until a value is published.
type BalanceResult struct {
	Quarks      uint64 `json:"quarks"`
	Kin         string `json:"kin"`
	Display     string `json:"display,omitempty"`
	MarketValue string `json:"market_value,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Connected   bool   `json:"connected"`
}

// AccountResult describes one sub-account for tray_getAccounts.
type AccountResult struct {
	Kind             string `json:"kind"`
	Index            uint32 `json:"index"`
	Authority        string `json:"authority"`
	Vault            string `json:"vault"`
	Balance          uint64 `json:"balance"`
	PendingMigration bool   `json:"pending_migration,omitempty"`
}

// AccountsResult is returned by tray_getAccounts.
type AccountsResult struct {
	Fingerprint string          `json:"fingerprint"`
	Generation  uint64          `json:"generation"`
	Available   uint64          `json:"available"`
	Total       uint64          `json:"total"` // includes balances pending migration
	Accounts    []AccountResult `json:"accounts"`
}
