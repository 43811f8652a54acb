package controller

import (
	"net/http"

	"github.com/canopy-network/ledgerx/app/node/types"
	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/wallet"
	"github.com/gorilla/mux"
)

func (c *Controller) HandleCreateWallet(w http.ResponseWriter, _ *http.Request) {
	wlt, err := wallet.Generate()
	if err != nil {
		writeError(w, econ.Wrap(econ.CodeInternal, err, "generate wallet"))
		return
	}
	writeJSON(w, http.StatusOK, wlt)
}

func (c *Controller) HandleFaucet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Address == "" {
		writeError(w, econ.E(econ.CodeValidation, "address is required"))
		return
	}
	utxo, err := c.App.UTXOs.CreateUTXO(r.Context(), "faucet", req.Address, types.FaucetAmount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Sent " + utxo.Amount.String() + " coins to " + req.Address,
		"utxo":    utxo,
	})
}

func (c *Controller) HandleBalance(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	native, err := c.App.UTXOs.BalanceOf(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"address": address,
		"balance": native,
	})
}

func (c *Controller) HandleUTXOs(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	utxos, err := c.App.UTXOs.UTXOs(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"utxos": utxos})
}

func (c *Controller) HandleWalletHistory(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	transfers, err := c.App.Tokens.TransfersFor(r.Context(), address, queryLimit(r, 50, 500))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": transfers})
}
