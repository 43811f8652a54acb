package amm

import (
	"context"
	"errors"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/oracle"
	"github.com/canopy-network/ledgerx/pkg/retry"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Swap trades against a pool under the optimistic protocol. The quote,
// including the slippage check, is recomputed from a fresh snapshot on
// every retry; nothing mutates until the conditional reserve write lands.
func (e *Engine) Swap(ctx context.Context, req SwapRequest) (*SwapResult, error) {
	if !req.AmountIn.IsPositive() {
		return nil, econ.E(econ.CodeValidation, "amount_in must be positive")
	}
	if req.Direction != DirNativeToToken && req.Direction != DirTokenToNative {
		return nil, econ.E(econ.CodeValidation, "unknown swap direction %q", req.Direction)
	}
	if req.MinAmountOut.IsNegative() {
		return nil, econ.E(econ.CodeValidation, "min_amount_out must not be negative")
	}
	if err := econ.CheckFreshness(req.Timestamp, e.now(), econ.FreshnessWindow()); err != nil {
		return nil, err
	}

	var quote SwapQuote
	committed, err := retry.Optimistic(ctx, e.logger, "swap", e.maxAttempts,
		func(ctx context.Context) (*Pool, error) {
			return e.Pool(ctx, req.Pair)
		},
		func(ctx context.Context, pool *Pool) (bool, error) {
			reserveIn, reserveOut := pool.ReserveNative, pool.ReserveToken
			inField, outField := "reserve_native", "reserve_token"
			if req.Direction == DirTokenToNative {
				reserveIn, reserveOut = pool.ReserveToken, pool.ReserveNative
				inField, outField = "reserve_token", "reserve_native"
			}

			quote = Quote(reserveIn, reserveOut, req.AmountIn, e.feeTotal, e.feeOwner)
			if quote.AmountOut.LessThan(req.MinAmountOut) {
				return false, econ.E(econ.CodeSlippageExceeded,
					"output %s below floor %s", quote.AmountOut, req.MinAmountOut)
			}

			matched, err := e.store.UpdateOne(ctx, ColPools,
				store.Filter{
					"pair":           pool.Pair,
					"reserve_native": pool.ReserveNative,
					"reserve_token":  pool.ReserveToken,
				},
				store.Update{Inc: store.Doc{
					inField:  quote.AmountInToPool,
					outField: quote.AmountOut.Neg(),
				}})
			if err != nil {
				return false, econ.Wrap(econ.CodeInternal, err, "commit swap")
			}
			return matched, nil
		})
	if err != nil {
		if errors.Is(err, retry.ErrContended) {
			return nil, econ.Wrap(econ.CodeHighContention, err, "pool %s contended", req.Pair)
		}
		return nil, err
	}

	e.settleSwap(ctx, committed, req, quote)

	return &SwapResult{
		Pair:      req.Pair,
		Direction: req.Direction,
		AmountIn:  req.AmountIn,
		AmountOut: quote.AmountOut,
		OwnerFee:  quote.OwnerFee,
	}, nil
}

// settleSwap runs the downstream effects of a committed reserve change:
// counterparty balance moves, owner-fee routing, price impact, candles,
// history, events. None of these roll back the reserve commit; failures are
// logged for reconciliation.
func (e *Engine) settleSwap(ctx context.Context, pool *Pool, req SwapRequest, quote SwapQuote) {
	inAsset, outAsset := ledger.Native(), ledger.TokenOf(pool.TokenSymbol)
	if req.Direction == DirTokenToNative {
		inAsset, outAsset = outAsset, inAsset
	}

	if err := e.assets.Debit(ctx, req.UserAddress, inAsset, quote.AmountIn); err != nil {
		e.logger.Error("Swap settlement: input debit failed",
			zap.String("pair", pool.Pair), zap.String("user", req.UserAddress), zap.Error(err))
	}
	if err := e.assets.Credit(ctx, req.UserAddress, outAsset, quote.AmountOut); err != nil {
		e.logger.Error("Swap settlement: output credit failed",
			zap.String("pair", pool.Pair), zap.String("user", req.UserAddress), zap.Error(err))
	}

	e.routeOwnerFee(ctx, pool, inAsset, quote.OwnerFee)

	// Native sold into the pool pushes the native price down; native bought
	// out of the pool pushes it up. Volume is measured in native coin.
	direction, volume := oracle.DirectionSell, quote.AmountIn
	if req.Direction == DirTokenToNative {
		direction, volume = oracle.DirectionBuy, quote.AmountOut
	}
	if price, err := e.oracle.ApplyMarketImpact(ctx, direction, volume); err != nil {
		e.logger.Warn("Swap settlement: price impact failed",
			zap.String("pair", pool.Pair), zap.Error(err))
	} else {
		e.events.Publish(ctx, events.ChannelPrices, PriceTick{
			Symbol:    ledger.NativeSymbol,
			PriceUSD:  price,
			Timestamp: e.now().Unix(),
		})
	}

	// Token candle at the post-swap reserve ratio (token priced in native).
	newNative, newToken := pool.ReserveNative, pool.ReserveToken
	if req.Direction == DirNativeToToken {
		newNative = newNative.Add(quote.AmountInToPool)
		newToken = newToken.Sub(quote.AmountOut)
	} else {
		newToken = newToken.Add(quote.AmountInToPool)
		newNative = newNative.Sub(quote.AmountOut)
	}
	if newToken.IsPositive() {
		tokenPrice := newNative.Div(newToken).RoundDown(MoneyPlaces)
		c, err := e.oracle.RecordCandle(ctx, pool.TokenSymbol, tokenPrice, volume)
		if err != nil {
			e.logger.Warn("Swap settlement: token candle failed",
				zap.String("pair", pool.Pair), zap.Error(err))
		} else if c != nil {
			e.analyst.InsertCandle(ctx, c.Symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
		}
	}

	trade := TradeRecord{
		Pair:      pool.Pair,
		Direction: req.Direction,
		Price:     quote.AmountOut.Div(quote.AmountIn).RoundDown(MoneyPlaces),
		Volume:    quote.AmountIn,
		Timestamp: e.now().Unix(),
	}
	if doc, err := store.ToDoc(trade); err == nil {
		if _, err := e.store.InsertOne(ctx, ColPoolHistory, doc); err != nil {
			e.logger.Warn("Swap settlement: history record failed",
				zap.String("pair", pool.Pair), zap.Error(err))
		}
	}

	e.events.Publish(ctx, events.ChannelTrades, trade)
	e.events.Append(ctx, events.StreamTrades, map[string]any{
		"pair":      trade.Pair,
		"direction": trade.Direction,
		"price":     trade.Price.String(),
		"volume":    trade.Volume.String(),
		"timestamp": trade.Timestamp,
	})
	e.analyst.InsertTrade(ctx, trade.Pair, trade.Direction, trade.Price, trade.Volume, trade.Timestamp)
}

// routeOwnerFee sends the protocol's cut out of the pool: native fees
// accumulate in the global fee pot (drained into the next coinbase), token
// fees credit the treasury address directly.
func (e *Engine) routeOwnerFee(ctx context.Context, pool *Pool, inAsset ledger.Asset, fee decimal.Decimal) {
	if !fee.IsPositive() {
		return
	}
	if inAsset.IsNative() {
		if err := e.AccrueNativeFee(ctx, fee); err != nil {
			e.logger.Error("Owner fee pot update failed", zap.Error(err))
		}
		return
	}
	if err := e.assets.Tokens.Credit(ctx, e.treasury, inAsset.Symbol(), fee); err != nil {
		e.logger.Error("Owner fee treasury credit failed",
			zap.String("symbol", inAsset.Symbol()), zap.Error(err))
	}
}

// AccrueNativeFee adds native coin to the global fee pot. A plain atomic
// increment suffices: the pot is append-only between drains, so there is no
// precondition to protect.
func (e *Engine) AccrueNativeFee(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return nil
	}
	_, err := e.store.UpdateOne(ctx, ColFeePot,
		store.Filter{store.ID: FeePotID},
		store.Update{Inc: store.Doc{"amount": amount}},
		store.UpdateOptions{Upsert: true})
	if err != nil {
		return econ.Wrap(econ.CodeInternal, err, "accrue fee")
	}
	return nil
}

// FeePot reads the accumulated native owner fees.
func (e *Engine) FeePot(ctx context.Context) (decimal.Decimal, error) {
	doc, err := e.store.FindOne(ctx, ColFeePot, store.Filter{store.ID: FeePotID})
	if errors.Is(err, store.ErrNoDocuments) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, econ.Wrap(econ.CodeInternal, err, "load fee pot")
	}
	amount, _ := store.AsDecimal(doc["amount"])
	return amount, nil
}

// DrainFeePot atomically zeroes the pot and returns what it held, so mined
// fees are paid out exactly once.
func (e *Engine) DrainFeePot(ctx context.Context) (decimal.Decimal, error) {
	drained, err := retry.Optimistic(ctx, e.logger, "drain_fee_pot", e.maxAttempts,
		func(ctx context.Context) (decimal.Decimal, error) {
			return e.FeePot(ctx)
		},
		func(ctx context.Context, amount decimal.Decimal) (bool, error) {
			if amount.IsZero() {
				return true, nil
			}
			matched, err := e.store.UpdateOne(ctx, ColFeePot,
				store.Filter{store.ID: FeePotID, "amount": amount},
				store.Update{Set: store.Doc{"amount": decimal.Zero}})
			if err != nil {
				return false, econ.Wrap(econ.CodeInternal, err, "drain fee pot")
			}
			return matched, nil
		})
	if err != nil {
		if errors.Is(err, retry.ErrContended) {
			return decimal.Zero, econ.Wrap(econ.CodeHighContention, err, "fee pot contended")
		}
		return decimal.Zero, err
	}
	return drained, nil
}

// Volume24h sums trade volume over the trailing day.
func (e *Engine) Volume24h(ctx context.Context) (decimal.Decimal, error) {
	cutoff := e.now().Unix() - 86400
	docs, err := e.store.FindMany(ctx, ColPoolHistory,
		store.Filter{"timestamp": store.Gte(cutoff)}, nil, 0)
	if err != nil {
		return decimal.Zero, econ.Wrap(econ.CodeInternal, err, "load trade history")
	}
	total := decimal.Zero
	for _, doc := range docs {
		v, _ := store.AsDecimal(doc["volume"])
		total = total.Add(v)
	}
	return total, nil
}

// PairHistory returns recent trades for one pair, oldest first.
func (e *Engine) PairHistory(ctx context.Context, pair string, limit int) ([]TradeRecord, error) {
	docs, err := e.store.FindMany(ctx, ColPoolHistory, store.Filter{"pair": pair},
		&store.Sort{Field: "timestamp", Desc: false}, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load pair history")
	}
	out := make([]TradeRecord, 0, len(docs))
	for _, doc := range docs {
		var t TradeRecord
		if err := store.Decode(doc, &t); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode trade record")
		}
		out = append(out, t)
	}
	return out, nil
}
