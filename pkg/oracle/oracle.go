// Package oracle maintains the native coin's market price and per-symbol
// OHLC candles. Both are contended documents mutated by every trade, so all
// writes go through the optimistic conditional-update protocol.
package oracle

import (
	"context"
	"errors"
	"time"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/retry"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/canopy-network/ledgerx/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Collections.
const (
	ColGlobalState  = "global_state"
	ColPriceHistory = "price_history"
)

// PriceStateID keys the singleton native-coin price document.
const PriceStateID = "btc_price"

// CandleWidth is the fixed OHLC bucket width.
const CandleWidth = 60 * time.Second

// Direction of market pressure on the native coin.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// PriceState is the singleton native price document.
type PriceState struct {
	ID          string          `json:"_id"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	LastUpdated int64           `json:"last_updated"`
}

// Candle is one OHLC bucket. Buckets update in place while open and are
// never merged or deleted.
type Candle struct {
	ID        string          `json:"_id"`
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Oracle applies market impact to the native price and aggregates candles.
type Oracle struct {
	store       store.Store
	logger      *zap.Logger
	now         func() time.Time
	sensitivity decimal.Decimal
	floor       decimal.Decimal
	maxAttempts int
}

func New(s store.Store, logger *zap.Logger) *Oracle {
	return &Oracle{
		store:       s,
		logger:      logger,
		now:         time.Now,
		sensitivity: utils.EnvDecimal("PRICE_SENSITIVITY", "0.0001"),
		floor:       utils.EnvDecimal("PRICE_FLOOR", "0.01"),
		maxAttempts: utils.EnvInt("PRICE_MAX_ATTEMPTS", retry.DefaultOptimisticAttempts),
	}
}

// WithClock overrides the oracle clock, for tests.
func (o *Oracle) WithClock(now func() time.Time) *Oracle {
	o.now = now
	return o
}

// Init seeds the singleton price state at a 1.0 peg if absent.
func (o *Oracle) Init(ctx context.Context) error {
	_, err := o.store.FindOne(ctx, ColGlobalState, store.Filter{store.ID: PriceStateID})
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNoDocuments) {
		return econ.Wrap(econ.CodeInternal, err, "load price state")
	}
	doc, err := store.ToDoc(PriceState{ID: PriceStateID, PriceUSD: decimal.NewFromInt(1), LastUpdated: o.now().Unix()})
	if err != nil {
		return econ.Wrap(econ.CodeInternal, err, "encode price state")
	}
	if _, err := o.store.InsertOne(ctx, ColGlobalState, doc); err != nil && !errors.Is(err, store.ErrDuplicateID) {
		return econ.Wrap(econ.CodeInternal, err, "seed price state")
	}
	return nil
}

// Price returns the current native price in USD, defaulting to the 1.0 peg.
func (o *Oracle) Price(ctx context.Context) (decimal.Decimal, error) {
	doc, err := o.store.FindOne(ctx, ColGlobalState, store.Filter{store.ID: PriceStateID})
	if errors.Is(err, store.ErrNoDocuments) {
		return decimal.NewFromInt(1), nil
	}
	if err != nil {
		return decimal.Zero, econ.Wrap(econ.CodeInternal, err, "load price state")
	}
	var state PriceState
	if err := store.Decode(doc, &state); err != nil {
		return decimal.Zero, econ.Wrap(econ.CodeInternal, err, "decode price state")
	}
	return state.PriceUSD, nil
}

// ApplyMarketImpact nudges the native price by volume*sensitivity*price,
// up on buy pressure and down on sell pressure, clamped at the positive
// floor. The write is conditional on the price still being the snapshot
// value; a lost race recomputes against the fresh price.
func (o *Oracle) ApplyMarketImpact(ctx context.Context, direction Direction, volume decimal.Decimal) (decimal.Decimal, error) {
	if direction != DirectionBuy && direction != DirectionSell {
		return decimal.Zero, econ.E(econ.CodeValidation, "unknown direction %q", direction)
	}
	if volume.IsNegative() {
		return decimal.Zero, econ.E(econ.CodeValidation, "negative volume")
	}

	var applied decimal.Decimal
	_, err := retry.Optimistic(ctx, o.logger, "price_impact", o.maxAttempts,
		func(ctx context.Context) (decimal.Decimal, error) {
			return o.Price(ctx)
		},
		func(ctx context.Context, current decimal.Decimal) (bool, error) {
			change := volume.Mul(o.sensitivity).Mul(current)
			next := current.Add(change)
			if direction == DirectionSell {
				next = current.Sub(change)
			}
			if next.LessThan(o.floor) {
				next = o.floor
			}
			// No upsert: the state is seeded by Init, so a miss here means
			// a concurrent writer moved the price and the loop must re-read.
			matched, err := o.store.UpdateOne(ctx, ColGlobalState,
				store.Filter{store.ID: PriceStateID, "price_usd": current},
				store.Update{Set: store.Doc{"price_usd": next, "last_updated": o.now().Unix()}})
			if err != nil {
				return false, econ.Wrap(econ.CodeInternal, err, "commit price update")
			}
			if matched {
				applied = next
			}
			return matched, nil
		})
	if err != nil {
		if errors.Is(err, retry.ErrContended) {
			return decimal.Zero, econ.Wrap(econ.CodeHighContention, err, "price update contended")
		}
		return decimal.Zero, err
	}

	if _, err := o.RecordCandle(ctx, "BTC", applied, volume); err != nil {
		o.logger.Warn("Failed to record native candle", zap.Error(err))
	}
	return applied, nil
}
