package controller

import (
	"net/http"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func (c *Controller) HandleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name         string          `json:"name"`
		Symbol       string          `json:"symbol"`
		TotalSupply  decimal.Decimal `json:"total_supply"`
		OwnerAddress string          `json:"owner_address"`
		Description  string          `json:"description"`
		Website      string          `json:"website"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token, err := c.App.Tokens.CreateToken(r.Context(), ledger.Token{
		Name:         req.Name,
		Symbol:       req.Symbol,
		TotalSupply:  req.TotalSupply,
		OwnerAddress: req.OwnerAddress,
		Description:  req.Description,
		Website:      req.Website,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (c *Controller) HandleTransfer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sender          string          `json:"sender_address"`
		SenderPublicKey string          `json:"sender_public_key"`
		Receiver        string          `json:"receiver_address"`
		Symbol          string          `json:"symbol"`
		Amount          decimal.Decimal `json:"amount"`
		Timestamp       int64           `json:"timestamp"`
		Signature       string          `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	err := c.App.Tokens.Transfer(r.Context(), ledger.TransferRequest{
		Sender:          req.Sender,
		SenderPublicKey: req.SenderPublicKey,
		Receiver:        req.Receiver,
		Symbol:          req.Symbol,
		Amount:          req.Amount,
		Timestamp:       req.Timestamp,
		Signature:       req.Signature,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Transferred " + req.Amount.String() + " " + req.Symbol,
	})
}

func (c *Controller) HandleBurn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string          `json:"address"`
		Symbol  string          `json:"symbol"`
		Amount  decimal.Decimal `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := c.App.Tokens.Burn(r.Context(), req.Address, req.Symbol, req.Amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Burned " + req.Amount.String() + " " + req.Symbol,
	})
}

func (c *Controller) HandleUpdateToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol      string `json:"symbol"`
		Description string `json:"description"`
		Website     string `json:"website"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := c.App.Tokens.UpdateMetadata(r.Context(), req.Symbol, req.Description, req.Website); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Token updated"})
}

func (c *Controller) HandleListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := c.App.Tokens.ListTokens(r.Context(), queryLimit(r, 100, 1000))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (c *Controller) HandleToken(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	token, err := c.App.Tokens.Token(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token)
}

func (c *Controller) HandleHolders(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	holders, err := c.App.Tokens.Holders(r.Context(), symbol, queryLimit(r, 100, 1000), false)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"holders": holders})
}

// HandleRichList is holders ordered by balance, capped at the top ten by
// default.
func (c *Controller) HandleRichList(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	if symbol == "" {
		writeError(w, econ.E(econ.CodeValidation, "symbol is required"))
		return
	}
	holders, err := c.App.Tokens.Holders(r.Context(), symbol, queryLimit(r, 10, 100), true)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"richlist": holders})
}
