package amm

import (
	"context"
	"errors"
	"time"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/marketdata"
	"github.com/canopy-network/ledgerx/pkg/oracle"
	"github.com/canopy-network/ledgerx/pkg/retry"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/canopy-network/ledgerx/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine is the AMM. All reserve mutations run the optimistic protocol:
// snapshot, pure compute, conditional write, bounded retry. Settlement side
// effects run only after a committed reserve change and are never rolled
// back; their failures are logged (the documented eventual-consistency
// boundary).
type Engine struct {
	store   store.Store
	assets  *ledger.Assets
	oracle  *oracle.Oracle
	events  *events.Publisher
	analyst *marketdata.Client
	logger  *zap.Logger
	now     func() time.Time

	feeTotal    decimal.Decimal
	feeOwner    decimal.Decimal
	treasury    string
	maxAttempts int
}

func NewEngine(s store.Store, assets *ledger.Assets, o *oracle.Oracle, pub *events.Publisher, analyst *marketdata.Client, logger *zap.Logger) *Engine {
	return &Engine{
		store:       s,
		assets:      assets,
		oracle:      o,
		events:      pub,
		analyst:     analyst,
		logger:      logger,
		now:         time.Now,
		feeTotal:    utils.EnvDecimal("AMM_FEE_TOTAL", "0.003"),
		feeOwner:    utils.EnvDecimal("AMM_FEE_OWNER", "0.001"),
		treasury:    utils.Env("TREASURY_ADDRESS", "treasury_" + ledger.NativeSymbol),
		maxAttempts: utils.EnvInt("AMM_MAX_ATTEMPTS", retry.DefaultOptimisticAttempts),
	}
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Pool loads one pool by pair.
func (e *Engine) Pool(ctx context.Context, pair string) (*Pool, error) {
	doc, err := e.store.FindOne(ctx, ColPools, store.Filter{"pair": pair})
	if errors.Is(err, store.ErrNoDocuments) {
		return nil, econ.E(econ.CodeNotFound, "pool %s not found", pair)
	}
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load pool %s", pair)
	}
	var pool Pool
	if err := store.Decode(doc, &pool); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "decode pool")
	}
	return &pool, nil
}

// Pools lists all pools.
func (e *Engine) Pools(ctx context.Context, limit int) ([]Pool, error) {
	docs, err := e.store.FindMany(ctx, ColPools, store.Filter{}, &store.Sort{Field: "created_at", Desc: true}, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "list pools")
	}
	out := make([]Pool, 0, len(docs))
	for _, doc := range docs {
		var p Pool
		if err := store.Decode(doc, &p); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode pool")
		}
		out = append(out, p)
	}
	return out, nil
}

// CreatePool opens a pool with its first liquidity. Initial shares equal the
// initial native deposit (1:1 by convention). The pool document id is the
// pair, so two racing creators cannot both win the insert; the loser's
// deposits are refunded.
func (e *Engine) CreatePool(ctx context.Context, req CreatePoolRequest) (*Pool, error) {
	if !req.InitialNative.IsPositive() || !req.InitialToken.IsPositive() {
		return nil, econ.E(econ.CodeValidation, "initial reserves must both be positive")
	}
	if err := econ.CheckFreshness(req.Timestamp, e.now(), econ.FreshnessWindow()); err != nil {
		return nil, err
	}
	if _, err := e.assets.Tokens.Token(ctx, req.TokenSymbol); err != nil {
		return nil, err
	}

	pair := PairPrefix + req.TokenSymbol
	if _, err := e.store.FindOne(ctx, ColPools, store.Filter{"pair": pair}); err == nil {
		return nil, econ.E(econ.CodeValidation, "pool %s already exists", pair)
	} else if !errors.Is(err, store.ErrNoDocuments) {
		return nil, econ.Wrap(econ.CodeInternal, err, "lookup pool %s", pair)
	}

	// Collect the deposits before the pool exists; both debits are
	// conditional, so an underfunded creator changes nothing.
	if err := e.assets.Debit(ctx, req.CreatorAddress, ledger.Native(), req.InitialNative); err != nil {
		return nil, err
	}
	if err := e.assets.Debit(ctx, req.CreatorAddress, ledger.TokenOf(req.TokenSymbol), req.InitialToken); err != nil {
		e.refund(ctx, req.CreatorAddress, ledger.Native(), req.InitialNative)
		return nil, err
	}

	pool := Pool{
		ID:            pair,
		Pair:          pair,
		TokenSymbol:   req.TokenSymbol,
		ReserveNative: req.InitialNative,
		ReserveToken:  req.InitialToken,
		TotalShares:   req.InitialNative,
		CreatedAt:     e.now().Unix(),
	}
	doc, err := store.ToDoc(pool)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "encode pool")
	}
	if _, err := e.store.InsertOne(ctx, ColPools, doc); err != nil {
		e.refund(ctx, req.CreatorAddress, ledger.Native(), req.InitialNative)
		e.refund(ctx, req.CreatorAddress, ledger.TokenOf(req.TokenSymbol), req.InitialToken)
		if errors.Is(err, store.ErrDuplicateID) {
			return nil, econ.E(econ.CodeValidation, "pool %s already exists", pair)
		}
		return nil, econ.Wrap(econ.CodeInternal, err, "insert pool %s", pair)
	}

	if err := e.assets.Tokens.Credit(ctx, req.CreatorAddress, pool.LPSymbol(), pool.TotalShares); err != nil {
		e.logger.Error("Pool created but LP share credit failed",
			zap.String("pair", pair),
			zap.String("creator", req.CreatorAddress),
			zap.Error(err))
	}
	return &pool, nil
}

func (e *Engine) refund(ctx context.Context, address string, asset ledger.Asset, amount decimal.Decimal) {
	if err := e.assets.Credit(ctx, address, asset, amount); err != nil {
		e.logger.Error("Refund failed",
			zap.String("address", address),
			zap.String("asset", asset.Symbol()),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
}

// AddLiquidity deposits native plus the ratio-matched token amount and mints
// shares. The required token amount is recomputed from the live snapshot on
// every retry; the caller's view of the ratio is advisory only.
func (e *Engine) AddLiquidity(ctx context.Context, req LiquidityRequest) (*LiquidityResult, error) {
	if !req.AmountNative.IsPositive() {
		return nil, econ.E(econ.CodeValidation, "amount_native must be positive")
	}
	if err := econ.CheckFreshness(req.Timestamp, e.now(), econ.FreshnessWindow()); err != nil {
		return nil, err
	}

	var quote LiquidityQuote
	committed, err := retry.Optimistic(ctx, e.logger, "add_liquidity", e.maxAttempts,
		func(ctx context.Context) (*Pool, error) {
			return e.Pool(ctx, req.Pair)
		},
		func(ctx context.Context, pool *Pool) (bool, error) {
			quote = QuoteLiquidity(pool.ReserveNative, pool.ReserveToken, pool.TotalShares, req.AmountNative)
			matched, err := e.store.UpdateOne(ctx, ColPools,
				store.Filter{
					"pair":           pool.Pair,
					"reserve_native": pool.ReserveNative,
					"reserve_token":  pool.ReserveToken,
					"total_shares":   pool.TotalShares,
				},
				store.Update{Inc: store.Doc{
					"reserve_native": quote.AmountNative,
					"reserve_token":  quote.RequiredToken,
					"total_shares":   quote.SharesMinted,
				}})
			if err != nil {
				return false, econ.Wrap(econ.CodeInternal, err, "commit liquidity add")
			}
			return matched, nil
		})
	if err != nil {
		if errors.Is(err, retry.ErrContended) {
			return nil, econ.Wrap(econ.CodeHighContention, err, "pool %s contended", req.Pair)
		}
		return nil, err
	}

	e.settleLiquidity(ctx, committed, req.UserAddress, quote)

	return &LiquidityResult{
		Pair:          committed.Pair,
		AmountNative:  quote.AmountNative,
		AmountToken:   quote.RequiredToken,
		SharesMinted:  quote.SharesMinted,
		LPTokenSymbol: committed.LPSymbol(),
	}, nil
}

// settleLiquidity collects the deposits and mints shares after the reserve
// commit. Failures are logged, not rolled back.
func (e *Engine) settleLiquidity(ctx context.Context, pool *Pool, user string, quote LiquidityQuote) {
	if err := e.assets.Debit(ctx, user, ledger.Native(), quote.AmountNative); err != nil {
		e.logger.Error("Liquidity settlement: native debit failed",
			zap.String("pair", pool.Pair), zap.String("user", user), zap.Error(err))
	}
	if err := e.assets.Debit(ctx, user, ledger.TokenOf(pool.TokenSymbol), quote.RequiredToken); err != nil {
		e.logger.Error("Liquidity settlement: token debit failed",
			zap.String("pair", pool.Pair), zap.String("user", user), zap.Error(err))
	}
	if err := e.assets.Tokens.Credit(ctx, user, pool.LPSymbol(), quote.SharesMinted); err != nil {
		e.logger.Error("Liquidity settlement: share mint failed",
			zap.String("pair", pool.Pair), zap.String("user", user), zap.Error(err))
	}
}
