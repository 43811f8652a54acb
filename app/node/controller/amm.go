package controller

import (
	"net/http"

	"github.com/canopy-network/ledgerx/pkg/amm"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func (c *Controller) HandleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TokenSymbol    string          `json:"token_symbol"`
		InitialNative  decimal.Decimal `json:"initial_native"`
		InitialToken   decimal.Decimal `json:"initial_token"`
		CreatorAddress string          `json:"creator_address"`
		Timestamp      int64           `json:"timestamp"`
		Signature      string          `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pool, err := c.App.AMM.CreatePool(r.Context(), amm.CreatePoolRequest{
		TokenSymbol:    req.TokenSymbol,
		InitialNative:  req.InitialNative,
		InitialToken:   req.InitialToken,
		CreatorAddress: req.CreatorAddress,
		Timestamp:      req.Timestamp,
		Signature:      req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

func (c *Controller) HandleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pair         string          `json:"pair"`
		UserAddress  string          `json:"user_address"`
		AmountNative decimal.Decimal `json:"amount_native"`
		Timestamp    int64           `json:"timestamp"`
		Signature    string          `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := c.App.AMM.AddLiquidity(r.Context(), amm.LiquidityRequest{
		Pair:         req.Pair,
		UserAddress:  req.UserAddress,
		AmountNative: req.AmountNative,
		Timestamp:    req.Timestamp,
		Signature:    req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) HandleSwap(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserAddress  string          `json:"user_address"`
		Pair         string          `json:"pair"`
		Direction    string          `json:"direction"`
		AmountIn     decimal.Decimal `json:"amount_in"`
		MinAmountOut decimal.Decimal `json:"min_amount_out"`
		Timestamp    int64           `json:"timestamp"`
		Signature    string          `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := c.App.AMM.Swap(r.Context(), amm.SwapRequest{
		UserAddress:  req.UserAddress,
		Pair:         req.Pair,
		Direction:    req.Direction,
		AmountIn:     req.AmountIn,
		MinAmountOut: req.MinAmountOut,
		Timestamp:    req.Timestamp,
		Signature:    req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) HandlePools(w http.ResponseWriter, r *http.Request) {
	pools, err := c.App.AMM.Pools(r.Context(), queryLimit(r, 100, 1000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": pools})
}

func (c *Controller) HandleMarketStats(w http.ResponseWriter, r *http.Request) {
	volume, err := c.App.AMM.Volume24h(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"volume_24h": volume})
}

func (c *Controller) HandlePairChart(w http.ResponseWriter, r *http.Request) {
	pair := mux.Vars(r)["pair"]
	trades, err := c.App.AMM.PairHistory(r.Context(), pair, queryLimit(r, 100, 1000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pair": pair, "trades": trades})
}
