package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/retry"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/shopspring/decimal"
)

// BucketID keys a candle document by symbol and minute bucket.
func BucketID(symbol string, bucket int64) string {
	return fmt.Sprintf("%s_%d", symbol, bucket)
}

// Bucket floors a unix timestamp to its candle window.
func Bucket(unix int64) int64 {
	width := int64(CandleWidth.Seconds())
	return unix / width * width
}

// RecordCandle folds one price/volume sample into the open bucket. The first
// sample in a bucket creates it with open=high=low=close=price; later
// samples move close, stretch high/low, and accumulate volume. Concurrent
// samples serialize through a conditional write keyed on the bucket's
// current volume.
func (o *Oracle) RecordCandle(ctx context.Context, symbol string, price, volume decimal.Decimal) (*Candle, error) {
	bucket := Bucket(o.now().Unix())
	id := BucketID(symbol, bucket)

	var result *Candle
	_, err := retry.Optimistic(ctx, o.logger, "record_candle", o.maxAttempts,
		func(ctx context.Context) (*Candle, error) {
			doc, err := o.store.FindOne(ctx, ColPriceHistory, store.Filter{store.ID: id})
			if errors.Is(err, store.ErrNoDocuments) {
				return nil, nil
			}
			if err != nil {
				return nil, econ.Wrap(econ.CodeInternal, err, "load candle %s", id)
			}
			var c Candle
			if err := store.Decode(doc, &c); err != nil {
				return nil, econ.Wrap(econ.CodeInternal, err, "decode candle")
			}
			return &c, nil
		},
		func(ctx context.Context, snapshot *Candle) (bool, error) {
			if snapshot == nil {
				fresh := Candle{
					ID: id, Symbol: symbol, Timestamp: bucket,
					Open: price, High: price, Low: price, Close: price, Volume: volume,
				}
				doc, err := store.ToDoc(fresh)
				if err != nil {
					return false, econ.Wrap(econ.CodeInternal, err, "encode candle")
				}
				_, err = o.store.InsertOne(ctx, ColPriceHistory, doc)
				if errors.Is(err, store.ErrDuplicateID) {
					// Another sample opened the bucket first; fold into it.
					return false, nil
				}
				if err != nil {
					return false, econ.Wrap(econ.CodeInternal, err, "insert candle")
				}
				result = &fresh
				return true, nil
			}

			high := snapshot.High
			if price.GreaterThan(high) {
				high = price
			}
			low := snapshot.Low
			if price.LessThan(low) {
				low = price
			}
			matched, err := o.store.UpdateOne(ctx, ColPriceHistory,
				store.Filter{store.ID: id, "volume": snapshot.Volume},
				store.Update{Set: store.Doc{
					"close":  price,
					"high":   high,
					"low":    low,
					"volume": snapshot.Volume.Add(volume),
				}})
			if err != nil {
				return false, econ.Wrap(econ.CodeInternal, err, "commit candle update")
			}
			if matched {
				result = &Candle{
					ID: id, Symbol: symbol, Timestamp: bucket,
					Open: snapshot.Open, High: high, Low: low, Close: price,
					Volume: snapshot.Volume.Add(volume),
				}
			}
			return matched, nil
		})
	if err != nil {
		if errors.Is(err, retry.ErrContended) {
			return nil, econ.Wrap(econ.CodeHighContention, err, "candle update contended")
		}
		return nil, err
	}
	return result, nil
}

// Candles returns up to limit most recent buckets for symbol in
// chronological order.
func (o *Oracle) Candles(ctx context.Context, symbol string, limit int) ([]Candle, error) {
	docs, err := o.store.FindMany(ctx, ColPriceHistory, store.Filter{"symbol": symbol},
		&store.Sort{Field: "timestamp", Desc: true}, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load candles for %s", symbol)
	}
	out := make([]Candle, len(docs))
	for i, doc := range docs {
		var c Candle
		if err := store.Decode(doc, &c); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode candle")
		}
		// Newest-first query, chronological response.
		out[len(docs)-1-i] = c
	}
	return out, nil
}
