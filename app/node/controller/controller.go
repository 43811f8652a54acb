// Package controller is the HTTP shell over the engines. It stays thin:
// decode, delegate, encode, map error codes to statuses. No business logic.
package controller

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/canopy-network/ledgerx/app/node/types"
	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

type Controller struct {
	App      *types.App
	upgrader websocket.Upgrader
}

// NewController returns a new controller.
func NewController(app *types.App) *Controller {
	return &Controller{
		App: app,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Same open policy as the CORS wrapper.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// WithCORS is a middleware that adds CORS headers to the response.
func WithCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", http.MethodGet+", "+http.MethodPost+", "+http.MethodPut+", "+http.MethodPatch+", "+http.MethodDelete+", "+http.MethodOptions)

		// Fast-path the preflight
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter returns a new router with all the routes defined in this file.
func (c *Controller) NewRouter() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/health", c.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/api/network/stats", c.HandleNetworkStats).Methods(http.MethodGet)

	// Wallet & native coin
	r.HandleFunc("/api/wallet/create", c.HandleCreateWallet).Methods(http.MethodPost)
	r.HandleFunc("/api/faucet", c.HandleFaucet).Methods(http.MethodPost)
	r.HandleFunc("/api/wallet/{address}/balance", c.HandleBalance).Methods(http.MethodGet)
	r.HandleFunc("/api/wallet/{address}/utxos", c.HandleUTXOs).Methods(http.MethodGet)
	r.HandleFunc("/api/wallet/{address}/history", c.HandleWalletHistory).Methods(http.MethodGet)

	// Chain
	r.HandleFunc("/api/transaction/send", c.HandleSendTransaction).Methods(http.MethodPost)
	r.HandleFunc("/api/mine", c.HandleMine).Methods(http.MethodPost)
	r.HandleFunc("/api/blocks", c.HandleBlocks).Methods(http.MethodGet)
	r.HandleFunc("/api/blocks/{hash}", c.HandleBlock).Methods(http.MethodGet)
	r.HandleFunc("/api/mempool", c.HandleMempool).Methods(http.MethodGet)
	r.HandleFunc("/api/miner/leaderboard", c.HandleLeaderboard).Methods(http.MethodGet)

	// Tokens
	r.HandleFunc("/api/token/create", c.HandleCreateToken).Methods(http.MethodPost)
	r.HandleFunc("/api/token/transfer", c.HandleTransfer).Methods(http.MethodPost)
	r.HandleFunc("/api/token/burn", c.HandleBurn).Methods(http.MethodPost)
	r.HandleFunc("/api/token/update", c.HandleUpdateToken).Methods(http.MethodPost)
	r.HandleFunc("/api/token/list", c.HandleListTokens).Methods(http.MethodGet)
	r.HandleFunc("/api/token/{symbol}", c.HandleToken).Methods(http.MethodGet)
	r.HandleFunc("/api/token/{symbol}/holders", c.HandleHolders).Methods(http.MethodGet)
	r.HandleFunc("/api/token/{symbol}/richlist", c.HandleRichList).Methods(http.MethodGet)

	// AMM
	r.HandleFunc("/api/pool/create", c.HandleCreatePool).Methods(http.MethodPost)
	r.HandleFunc("/api/liquidity/add", c.HandleAddLiquidity).Methods(http.MethodPost)
	r.HandleFunc("/api/swap", c.HandleSwap).Methods(http.MethodPost)
	r.HandleFunc("/api/pools", c.HandlePools).Methods(http.MethodGet)
	r.HandleFunc("/api/market/stats", c.HandleMarketStats).Methods(http.MethodGet)
	r.HandleFunc("/api/market/chart/{pair}", c.HandlePairChart).Methods(http.MethodGet)

	// Staking
	r.HandleFunc("/api/staking/deposit", c.HandleStakeDeposit).Methods(http.MethodPost)
	r.HandleFunc("/api/staking/withdraw", c.HandleStakeWithdraw).Methods(http.MethodPost)
	r.HandleFunc("/api/staking/{address}", c.HandleStakeList).Methods(http.MethodGet)

	// Order book
	r.HandleFunc("/api/order", c.HandlePlaceOrder).Methods(http.MethodPost)
	r.HandleFunc("/api/order/{id}/cancel", c.HandleCancelOrder).Methods(http.MethodPost)
	r.HandleFunc("/api/orderbook", c.HandleOrderbook).Methods(http.MethodGet)

	// Prices
	r.HandleFunc("/api/ticker", c.HandleTicker).Methods(http.MethodGet)
	r.HandleFunc("/api/chart/{symbol}", c.HandleChart).Methods(http.MethodGet)

	// WebSocket live trade feed
	r.HandleFunc("/ws/trades", c.HandleTradesWS).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError renders a coded error. Internal details never leave the
// process; clients get the stable code plus the message the engine chose
// to surface.
func writeError(w http.ResponseWriter, err error) {
	code := econ.CodeOf(err)
	body := map[string]string{"error": string(code), "message": err.Error()}
	if code == econ.CodeInternal {
		body["message"] = "internal error"
	}
	writeJSON(w, statusOf(code), body)
}

func statusOf(code econ.Code) int {
	switch code {
	case econ.CodeValidation, econ.CodeInsufficientBalance, econ.CodeSlippageExceeded,
		econ.CodeChainLinkage, econ.CodeAlreadyWithdrawn:
		return http.StatusBadRequest
	case econ.CodeNotFound:
		return http.StatusNotFound
	case econ.CodeSignatureInvalid:
		return http.StatusUnauthorized
	case econ.CodeHighContention:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	defer func() { _ = r.Body.Close() }()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return econ.E(econ.CodeValidation, "invalid request body: %v", err)
	}
	return nil
}

// queryLimit parses ?limit=N with a default and a hard cap.
func queryLimit(r *http.Request, def, max int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
