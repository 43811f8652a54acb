// Package types holds the node's application container: every engine and
// client the controllers reach for, wired once at startup.
package types

import (
	"context"
	"net/http"

	"github.com/canopy-network/ledgerx/pkg/amm"
	"github.com/canopy-network/ledgerx/pkg/chain"
	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/market"
	"github.com/canopy-network/ledgerx/pkg/marketdata"
	"github.com/canopy-network/ledgerx/pkg/miner"
	"github.com/canopy-network/ledgerx/pkg/oracle"
	"github.com/canopy-network/ledgerx/pkg/reconcile"
	"github.com/canopy-network/ledgerx/pkg/staking"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AdminAddress receives the bootstrap stablecoin supply and the anchor
// pool's LP shares.
const AdminAddress = "admin_wallet_001"

// FaucetAmount is the fixed per-request faucet payout in native coin.
var FaucetAmount = decimal.RequireFromString("10")

type App struct {
	// Document store (memory or postgres, per STORE_BACKEND)
	Store store.Store

	// Balance ledgers
	UTXOs  *ledger.UTXOLedger
	Tokens *ledger.TokenLedger
	Assets *ledger.Assets

	// Engines
	AMM     *amm.Engine
	Oracle  *oracle.Oracle
	Staking *staking.Service
	Market  *market.Service
	Chain   *chain.Service
	Miner   *miner.Miner

	// Optional sidecars
	Events     *events.Publisher
	MarketData *marketdata.Client
	Sweeper    *reconcile.Sweeper

	// Zap Logger
	Logger *zap.Logger

	// HTTP Server
	Server *http.Server
}

// Start runs the HTTP server until the context is cancelled, then tears the
// sidecars down.
func (a *App) Start(ctx context.Context) {
	go func() { _ = a.Server.ListenAndServe() }()
	<-ctx.Done()

	if a.Sweeper != nil {
		a.Logger.Info("Stopping reconciliation sweeper")
		a.Sweeper.Stop()
	}
	if a.Miner != nil {
		a.Miner.Close()
	}
	if a.Events != nil {
		a.Logger.Info("Closing event publisher")
		if err := a.Events.Close(); err != nil {
			a.Logger.Error("Event publisher close failed", zap.Error(err))
		}
	}
	if a.MarketData != nil {
		a.Logger.Info("Closing market-data mirror")
		if err := a.MarketData.Close(); err != nil {
			a.Logger.Error("Market-data close failed", zap.Error(err))
		}
	}
	if closer, ok := a.Store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Error("Store close failed", zap.Error(err))
		}
	}

	shutdownCtx := context.Background()
	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		a.Logger.Error("Server shutdown failed", zap.Error(err))
	}
}
