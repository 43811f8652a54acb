// Package node wires the economy node together: store backend, ledgers,
// engines, optional Redis/ClickHouse sidecars, and the bootstrap state a
// fresh deployment needs (genesis block, stablecoin, anchor pool).
package node

import (
	"context"
	"errors"
	"time"

	"github.com/canopy-network/ledgerx/app/node/types"
	"github.com/canopy-network/ledgerx/pkg/amm"
	"github.com/canopy-network/ledgerx/pkg/chain"
	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/logging"
	"github.com/canopy-network/ledgerx/pkg/market"
	"github.com/canopy-network/ledgerx/pkg/marketdata"
	"github.com/canopy-network/ledgerx/pkg/miner"
	"github.com/canopy-network/ledgerx/pkg/oracle"
	"github.com/canopy-network/ledgerx/pkg/reconcile"
	"github.com/canopy-network/ledgerx/pkg/staking"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/canopy-network/ledgerx/pkg/store/memory"
	"github.com/canopy-network/ledgerx/pkg/store/postgres"
	"github.com/canopy-network/ledgerx/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Bootstrap constants, mirroring the economy's initial conditions: a
// dollar-pegged stablecoin and a BTC-USDT pool anchoring the native price
// at 50,000.
const (
	StableSymbol = "USDT"
	StableName   = "Tether USD"
	AnchorPair   = "BTC-USDT"
)

var (
	stableSupply = decimal.RequireFromString("1000000000")
	anchorNative = decimal.RequireFromString("10")
	anchorToken  = decimal.RequireFromString("500000")
)

// Initialize builds the full application. Optional sidecars (Redis events,
// ClickHouse mirror, reconciliation cron) degrade to disabled when their
// environment is absent.
func Initialize(ctx context.Context) (*types.App, error) {
	logger, err := logging.New()
	if err != nil {
		panic(err)
	}

	st, err := newStore(ctx, logger)
	if err != nil {
		logger.Error("Unable to initialize store", zap.Error(err))
		return nil, err
	}

	var pub *events.Publisher
	if utils.Env("REDIS_ENABLED", "") != "" {
		pub, err = events.NewPublisher(ctx, logger)
		if err != nil {
			logger.Error("Unable to connect to Redis", zap.Error(err))
			return nil, err
		}
	}

	analyst, err := marketdata.New(ctx, logger)
	if err != nil {
		logger.Error("Unable to connect to ClickHouse", zap.Error(err))
		return nil, err
	}

	utxos := ledger.NewUTXOLedger(st, logger)
	tokens := ledger.NewTokenLedger(st, logger)
	assets := ledger.NewAssets(utxos, tokens)
	orc := oracle.New(st, logger)
	engine := amm.NewEngine(st, assets, orc, pub, analyst, logger)
	pow := miner.New(logger)

	app := &types.App{
		Store:      st,
		UTXOs:      utxos,
		Tokens:     tokens,
		Assets:     assets,
		AMM:        engine,
		Oracle:     orc,
		Staking:    staking.NewService(st, assets, logger),
		Market:     market.NewService(st, assets, pub, logger),
		Chain:      chain.NewService(st, utxos, pow, engine, pub, logger),
		Miner:      pow,
		Events:     pub,
		MarketData: analyst,
		Sweeper:    reconcile.NewSweeper(st, logger),
		Logger:     logger,
	}

	if err := Bootstrap(ctx, app); err != nil {
		logger.Error("Bootstrap failed", zap.Error(err))
		return nil, err
	}

	started, err := app.Sweeper.Start(ctx)
	if err != nil {
		logger.Error("Unable to schedule reconciliation", zap.Error(err))
		return nil, err
	}
	if started {
		logger.Info("Reconciliation sweeper scheduled")
	}

	return app, nil
}

func newStore(ctx context.Context, logger *zap.Logger) (store.Store, error) {
	backend := utils.Env("STORE_BACKEND", "memory")
	switch backend {
	case "postgres":
		return postgres.New(ctx, logger)
	case "memory":
		logger.Info("Using in-memory store")
		return memory.New(), nil
	default:
		return nil, errors.New("unknown STORE_BACKEND " + backend)
	}
}

// Bootstrap seeds a fresh deployment: genesis block, price state, the
// stablecoin minted to the admin wallet, and the anchor pool. Every step is
// idempotent, so restarting against an existing store is a no-op.
func Bootstrap(ctx context.Context, app *types.App) error {
	bootCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	wrote, err := app.Chain.Init(bootCtx)
	if err != nil {
		return err
	}
	if wrote {
		app.Logger.Info("Chain initialized")
	}

	if err := app.Oracle.Init(bootCtx); err != nil {
		return err
	}

	if _, err := app.Tokens.Token(bootCtx, StableSymbol); err != nil {
		if _, err := app.Tokens.CreateToken(bootCtx, ledger.Token{
			Symbol:       StableSymbol,
			Name:         StableName,
			TotalSupply:  stableSupply,
			OwnerAddress: types.AdminAddress,
		}); err != nil {
			return err
		}
		app.Logger.Info("Stablecoin minted", zap.String("symbol", StableSymbol))
	}

	if _, err := app.AMM.Pool(bootCtx, AnchorPair); err == nil {
		return nil
	}
	// The anchor pool's reserves are conjured rather than deposited; it
	// exists to give the economy a starting price, not to track anyone's
	// liquidity. LP shares still go to the admin so share accounting stays
	// consistent.
	pool := amm.Pool{
		ID:            AnchorPair,
		Pair:          AnchorPair,
		TokenSymbol:   StableSymbol,
		ReserveNative: anchorNative,
		ReserveToken:  anchorToken,
		TotalShares:   anchorNative,
		CreatedAt:     time.Now().Unix(),
	}
	doc, err := store.ToDoc(pool)
	if err != nil {
		return err
	}
	if _, err := app.Store.InsertOne(bootCtx, amm.ColPools, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return nil
		}
		return err
	}
	if err := app.Tokens.Credit(bootCtx, types.AdminAddress, amm.LPPrefix+AnchorPair, anchorNative); err != nil {
		return err
	}
	app.Logger.Info("Anchor pool created", zap.String("pair", AnchorPair))
	return nil
}
