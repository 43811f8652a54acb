package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/canopy-network/ledgerx/app/node/controller"
	"github.com/canopy-network/ledgerx/app/node/types"
	"github.com/canopy-network/ledgerx/pkg/amm"
	"github.com/canopy-network/ledgerx/pkg/chain"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/market"
	"github.com/canopy-network/ledgerx/pkg/miner"
	"github.com/canopy-network/ledgerx/pkg/oracle"
	"github.com/canopy-network/ledgerx/pkg/staking"
	"github.com/canopy-network/ledgerx/pkg/store/memory"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestRouter(t *testing.T) (*mux.Router, *types.App) {
	t.Helper()
	t.Setenv("CHAIN_DIFFICULTY", "1")
	t.Setenv("MINER_MAX_ATTEMPTS", "5000")

	st := memory.New()
	logger := zaptest.NewLogger(t)

	utxos := ledger.NewUTXOLedger(st, logger)
	tokens := ledger.NewTokenLedger(st, logger)
	assets := ledger.NewAssets(utxos, tokens)
	orc := oracle.New(st, logger)
	require.NoError(t, orc.Init(context.Background()))
	engine := amm.NewEngine(st, assets, orc, nil, nil, logger)
	pow := miner.New(logger)
	t.Cleanup(pow.Close)
	chainSvc := chain.NewService(st, utxos, pow, engine, nil, logger)
	_, err := chainSvc.Init(context.Background())
	require.NoError(t, err)

	app := &types.App{
		Store:   st,
		UTXOs:   utxos,
		Tokens:  tokens,
		Assets:  assets,
		AMM:     engine,
		Oracle:  orc,
		Staking: staking.NewService(st, assets, logger),
		Market:  market.NewService(st, assets, nil, logger),
		Chain:   chainSvc,
		Miner:   pow,
		Logger:  logger,
	}
	return controller.NewController(app).NewRouter(), app
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "online", body["status"])
}

func TestCreateWalletEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/wallet/create", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["address"], 40)
	assert.NotEmpty(t, body["public_key"])
	assert.NotEmpty(t, body["private_key"])
}

func TestFaucetAndBalanceEndpoints(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/faucet", map[string]string{"address": "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodGet, "/api/wallet/alice/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	balance, err := decimal.NewFromString(fmt.Sprintf("%v", body["balance"]))
	require.NoError(t, err)
	assert.True(t, balance.Equal(types.FaucetAmount), "balance %s", balance)
}

func TestFaucetRequiresAddress(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/faucet", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "validation_error", body["error"])
}

func TestSwapOnMissingPoolMapsToNotFound(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/swap", map[string]any{
		"user_address": "alice",
		"pair":         "BTC-NOPE",
		"direction":    "native_to_token",
		"amount_in":    "1",
		"timestamp":    time.Now().Unix(),
	})
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not_found", body["error"])
}

func TestMalformedBodyMapsToBadRequest(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/faucet", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNetworkStatsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/network/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.EqualValues(t, 1, body["block_height"], "genesis only")
}

func TestMineEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/mine", map[string]string{"miner_address": "miner_addr"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, router, http.MethodGet, "/api/wallet/miner_addr/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	balance, err := decimal.NewFromString(fmt.Sprintf("%v", body["balance"]))
	require.NoError(t, err)
	assert.True(t, balance.Equal(decimal.RequireFromString("50")), "balance %s", balance)
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t)
	handler := controller.WithCORS(router)

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}
