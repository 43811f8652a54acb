package controller

import (
	"net/http"

	"github.com/canopy-network/ledgerx/pkg/amm"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

// HandleTicker returns the native price in USD plus every pool token priced
// in native and USD from its current reserve ratio.
func (c *Controller) HandleTicker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nativeUSD, err := c.App.Oracle.Price(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	pools, err := c.App.AMM.Pools(ctx, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	tokens := map[string]map[string]decimal.Decimal{}
	for _, pool := range pools {
		if !pool.ReserveToken.IsPositive() {
			continue
		}
		priceNative := pool.ReserveNative.Div(pool.ReserveToken).RoundDown(amm.MoneyPlaces)
		tokens[pool.TokenSymbol] = map[string]decimal.Decimal{
			"price_btc": priceNative,
			"price_usd": priceNative.Mul(nativeUSD).RoundDown(amm.MoneyPlaces),
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		ledger.NativeSymbol: map[string]decimal.Decimal{"price_usd": nativeUSD},
		"tokens":            tokens,
	})
}

func (c *Controller) HandleChart(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	candles, err := c.App.Oracle.Candles(r.Context(), symbol, queryLimit(r, 100, 1000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "candles": candles})
}
