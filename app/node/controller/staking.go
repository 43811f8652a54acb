package controller

import (
	"net/http"

	"github.com/canopy-network/ledgerx/pkg/staking"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func (c *Controller) HandleStakeDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string          `json:"user_address"`
		Symbol    string          `json:"symbol"`
		Amount    decimal.Decimal `json:"amount"`
		Timestamp int64           `json:"timestamp"`
		Signature string          `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	pos, err := c.App.Staking.Deposit(r.Context(), staking.DepositRequest{
		Address:   req.Address,
		Symbol:    req.Symbol,
		Amount:    req.Amount,
		Timestamp: req.Timestamp,
		Signature: req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Staked successfully", "stake": pos})
}

func (c *Controller) HandleStakeWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address   string `json:"user_address"`
		StakeID   string `json:"stake_id"`
		Signature string `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := c.App.Staking.Withdraw(r.Context(), req.Address, req.StakeID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) HandleStakeList(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	positions, err := c.App.Staking.List(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stakes": positions})
}
