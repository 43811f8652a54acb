package controller

import (
	"net/http"

	"github.com/canopy-network/ledgerx/pkg/chain"
	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/gorilla/mux"
)

func (c *Controller) HandleSendTransaction(w http.ResponseWriter, r *http.Request) {
	var tx chain.Transaction
	if err := decodeBody(r, &tx); err != nil {
		writeError(w, err)
		return
	}
	accepted, err := c.App.Chain.SubmitTransaction(r.Context(), tx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"txid": accepted.TxID, "transaction": accepted})
}

func (c *Controller) HandleMine(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MinerAddress string `json:"miner_address"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	result, err := c.App.Chain.Mine(r.Context(), req.MinerAddress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (c *Controller) HandleBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := c.App.Chain.Blocks(r.Context(), queryLimit(r, 20, 200))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"blocks": blocks})
}

func (c *Controller) HandleBlock(w http.ResponseWriter, r *http.Request) {
	hash := mux.Vars(r)["hash"]
	if hash == "" {
		writeError(w, econ.E(econ.CodeValidation, "block hash is required"))
		return
	}
	block, err := c.App.Chain.BlockByHash(r.Context(), hash)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (c *Controller) HandleMempool(w http.ResponseWriter, r *http.Request) {
	pending, err := c.App.Chain.Mempool(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": pending})
}

func (c *Controller) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	scores, err := c.App.Chain.Leaderboard(r.Context(), queryLimit(r, 10, 100))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": scores})
}
