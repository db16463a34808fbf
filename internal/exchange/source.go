package exchange

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Klingon-tech/klingnet-tray/internal/log"
	"github.com/Klingon-tech/klingnet-tray/internal/rpcclient"
	"github.com/Klingon-tech/klingnet-tray/pkg/kin"
)

// MethodGetRates is the JSON-RPC method served by the rates endpoint.
const MethodGetRates = "getExchangeRates"

type ratesResult struct {
	AsOf  int64                      `json:"asOf"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// RPCSource reads rates from a JSON-RPC endpoint.
type RPCSource struct {
	client *rpcclient.Client
}

// NewRPCSource creates a rate source over client.
func NewRPCSource(client *rpcclient.Client) *RPCSource {
	return &RPCSource{client: client}
}

// FetchRates calls getExchangeRates. Currencies the wallet does not support
// are dropped.
func (s *RPCSource) FetchRates(ctx context.Context) (Rates, error) {
	var res ratesResult
	if err := s.client.Call(ctx, MethodGetRates, nil, &res); err != nil {
		return Rates{}, err
	}

	out := Rates{
		AsOf: time.Unix(res.AsOf, 0).UTC(),
		Fx:   make(map[kin.CurrencyCode]decimal.Decimal, len(res.Rates)),
	}
	for code, fx := range res.Rates {
		c, err := kin.ParseCurrencyCode(code)
		if err != nil {
			log.Exchange.Debug().Str("currency", code).Msg("Skipping unsupported currency")
			continue
		}
		out.Fx[c] = fx
	}
	return out, nil
}
