package rpc

import (
	"encoding/json"
	"testing"
)

// FuzzRequestUnmarshal checks that arbitrary JSON does not panic when
// parsed as a request and its params are decoded.
func FuzzRequestUnmarshal(f *testing.F) {
	f.Add([]byte(`{"jsonrpc":"2.0","method":"tray_getBalance","params":null,"id":1}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"tray_setCurrency","params":{"currency":"usd"},"id":"x"}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"method":"","params":[]}`))

	f.Fuzz(func(t *testing.T, data []byte) {
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return
		}
		var p CurrencyParam
		_ = parseParams(&req, &p)
	})
}
