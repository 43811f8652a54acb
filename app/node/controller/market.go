package controller

import (
	"net/http"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/market"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func (c *Controller) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string          `json:"user_address"`
		Symbol    string          `json:"symbol"`
		Side      string          `json:"side"`
		Price     decimal.Decimal `json:"price"`
		Amount    decimal.Decimal `json:"amount"`
		Timestamp int64           `json:"timestamp"`
		Signature string          `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := c.App.Market.PlaceOrder(r.Context(), market.PlaceRequest{
		Address:   req.Address,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Price:     req.Price,
		Amount:    req.Amount,
		Timestamp: req.Timestamp,
		Signature: req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) HandleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]
	var req struct {
		Address string `json:"user_address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	order, err := c.App.Market.CancelOrder(r.Context(), req.Address, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (c *Controller) HandleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		writeError(w, econ.E(econ.CodeValidation, "symbol query parameter is required"))
		return
	}
	book, err := c.App.Market.Book(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}
