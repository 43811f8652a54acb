package market

import (
	"context"
	"sort"

	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// match runs one pass for a freshly placed taker against the opposite side
// of the book. Execution is at the maker's limit price. Each maker fill is
// claimed with a conditional decrement of the maker's remaining quantity;
// a missed claim means another taker got there first and the maker is
// simply skipped. The taker belongs to this call, but its own decrements
// are conditional too so a concurrent cancel is honored.
func (s *Service) match(ctx context.Context, taker *Order) []Fill {
	makers, err := s.crossingMakers(ctx, taker)
	if err != nil {
		s.logger.Error("Matching scan failed", zap.String("order", taker.ID), zap.Error(err))
		return nil
	}

	var fills []Fill
	for _, maker := range makers {
		if !taker.Remaining.IsPositive() {
			break
		}
		qty := decimal.Min(taker.Remaining, maker.Remaining)

		if !s.claim(ctx, &maker, qty) {
			continue
		}
		if !s.claim(ctx, taker, qty) {
			// Taker was cancelled mid-pass. Return the claimed maker
			// quantity and stop.
			s.restore(ctx, &maker, qty)
			break
		}

		fill := s.settleFill(ctx, taker, &maker, qty)
		fills = append(fills, fill)
	}
	return fills
}

// crossingMakers returns open opposite-side orders whose price crosses the
// taker's limit, best price first and oldest first within a price.
func (s *Service) crossingMakers(ctx context.Context, taker *Order) ([]Order, error) {
	opposite := SideSell
	if taker.Side == SideSell {
		opposite = SideBuy
	}
	docs, err := s.store.FindMany(ctx, ColOrders,
		store.Filter{"symbol": taker.Symbol, "side": opposite, "status": StatusOpen}, nil, 0)
	if err != nil {
		return nil, err
	}
	all, err := decodeOrders(docs)
	if err != nil {
		return nil, err
	}

	makers := all[:0]
	for _, m := range all {
		crosses := m.Price.LessThanOrEqual(taker.Price)
		if taker.Side == SideSell {
			crosses = m.Price.GreaterThanOrEqual(taker.Price)
		}
		if crosses && m.Remaining.IsPositive() {
			makers = append(makers, m)
		}
	}
	sortMakers(makers, taker.Side)
	return makers, nil
}

func sortMakers(makers []Order, takerSide string) {
	sort.Slice(makers, func(i, j int) bool {
		a, b := makers[i], makers[j]
		if !a.Price.Equal(b.Price) {
			if takerSide == SideBuy {
				return a.Price.LessThan(b.Price) // cheapest ask first
			}
			return a.Price.GreaterThan(b.Price) // highest bid first
		}
		return a.CreatedAt < b.CreatedAt
	})
}

// claim conditionally decrements an order's remaining quantity, flipping it
// to filled when it reaches zero. Reports whether the claim won.
func (s *Service) claim(ctx context.Context, order *Order, qty decimal.Decimal) bool {
	left := order.Remaining.Sub(qty)
	set := store.Doc{"remaining": left}
	if left.IsZero() {
		set["status"] = StatusFilled
	}
	matched, err := s.store.UpdateOne(ctx, ColOrders,
		store.Filter{store.ID: order.ID, "remaining": order.Remaining, "status": StatusOpen},
		store.Update{Set: set})
	if err != nil {
		s.logger.Error("Order claim failed", zap.String("order", order.ID), zap.Error(err))
		return false
	}
	if !matched {
		return false
	}
	order.Remaining = left
	if left.IsZero() {
		order.Status = StatusFilled
	}
	return true
}

func (s *Service) restore(ctx context.Context, order *Order, qty decimal.Decimal) {
	_, err := s.store.UpdateOne(ctx, ColOrders,
		store.Filter{store.ID: order.ID},
		store.Update{
			Set: store.Doc{"status": StatusOpen},
			Inc: store.Doc{"remaining": qty},
		})
	if err != nil {
		s.logger.Error("Order restore failed", zap.String("order", order.ID), zap.Error(err))
	}
}

// settleFill moves balances for one executed match and records it. Both
// sides were funding-checked at placement; a balance move that still fails
// here is logged for reconciliation, the fill itself stands.
func (s *Service) settleFill(ctx context.Context, taker, maker *Order, qty decimal.Decimal) Fill {
	buyer, seller := taker, maker
	if taker.Side == SideSell {
		buyer, seller = maker, taker
	}
	cost := maker.Price.Mul(qty).RoundDown(MoneyPlaces)
	token := ledger.TokenOf(taker.Symbol)
	native := ledger.Native()

	if err := s.assets.Debit(ctx, buyer.Address, native, cost); err != nil {
		s.logger.Error("Fill settlement: buyer debit failed",
			zap.String("buyer", buyer.Address), zap.Error(err))
	}
	if err := s.assets.Debit(ctx, seller.Address, token, qty); err != nil {
		s.logger.Error("Fill settlement: seller debit failed",
			zap.String("seller", seller.Address), zap.Error(err))
	}
	if err := s.assets.Credit(ctx, buyer.Address, token, qty); err != nil {
		s.logger.Error("Fill settlement: buyer credit failed",
			zap.String("buyer", buyer.Address), zap.Error(err))
	}
	if err := s.assets.Credit(ctx, seller.Address, native, cost); err != nil {
		s.logger.Error("Fill settlement: seller credit failed",
			zap.String("seller", seller.Address), zap.Error(err))
	}

	fill := Fill{
		ID:           "fill_" + uuid.NewString(),
		Symbol:       taker.Symbol,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		Price:        maker.Price,
		Amount:       qty,
		Timestamp:    s.now().Unix(),
	}
	if doc, err := store.ToDoc(fill); err == nil {
		if _, err := s.store.InsertOne(ctx, ColFills, doc); err != nil {
			s.logger.Warn("Fill record insert failed", zap.String("fill", fill.ID), zap.Error(err))
		}
	}
	s.events.Publish(ctx, events.ChannelTrades, fill)
	return fill
}
