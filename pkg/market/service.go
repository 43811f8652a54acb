package market

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/events"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Service owns order placement, matching, and book queries.
type Service struct {
	store  store.Store
	assets *ledger.Assets
	events *events.Publisher
	logger *zap.Logger
	now    func() time.Time
}

func NewService(s store.Store, assets *ledger.Assets, pub *events.Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:  s,
		assets: assets,
		events: pub,
		logger: logger.Named("market"),
		now:    time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// PlaceOrder validates, rests the order, then runs one immediate matching
// pass against the opposite side. Balances are checked up front but not
// escrowed; fills settle balance moves at execution time.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceRequest) (*PlaceResult, error) {
	if req.Side != SideBuy && req.Side != SideSell {
		return nil, econ.E(econ.CodeValidation, "unknown order side %q", req.Side)
	}
	if !req.Price.IsPositive() || !req.Amount.IsPositive() {
		return nil, econ.E(econ.CodeValidation, "price and amount must be positive")
	}
	if req.Symbol == ledger.NativeSymbol {
		return nil, econ.E(econ.CodeValidation, "orders trade tokens against %s, not %s itself",
			ledger.NativeSymbol, ledger.NativeSymbol)
	}
	if err := econ.CheckFreshness(req.Timestamp, s.now(), econ.FreshnessWindow()); err != nil {
		return nil, err
	}

	if err := s.checkFunding(ctx, req); err != nil {
		return nil, err
	}

	order := Order{
		ID:        "order_" + uuid.NewString(),
		Address:   req.Address,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Price:     req.Price,
		Amount:    req.Amount,
		Remaining: req.Amount,
		Status:    StatusOpen,
		CreatedAt: s.now().Unix(),
	}
	doc, err := store.ToDoc(order)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "encode order")
	}
	if _, err := s.store.InsertOne(ctx, ColOrders, doc); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "insert order")
	}

	fills := s.match(ctx, &order)
	return &PlaceResult{Order: &order, Fills: fills}, nil
}

func (s *Service) checkFunding(ctx context.Context, req PlaceRequest) error {
	var asset ledger.Asset
	var needed decimal.Decimal
	if req.Side == SideSell {
		asset, needed = ledger.TokenOf(req.Symbol), req.Amount
	} else {
		asset, needed = ledger.Native(), req.Price.Mul(req.Amount).RoundUp(MoneyPlaces)
	}
	balance, err := s.assets.Balance(ctx, req.Address, asset)
	if err != nil {
		return econ.Wrap(econ.CodeInternal, err, "check funding")
	}
	if balance.LessThan(needed) {
		return econ.E(econ.CodeInsufficientBalance,
			"need %s %s, have %s", needed, asset.Symbol(), balance)
	}
	return nil
}

// CancelOrder flips an open order to cancelled. The conditional status flip
// means a cancel racing a fill resolves cleanly: one of them wins.
func (s *Service) CancelOrder(ctx context.Context, address, orderID string) (*Order, error) {
	order, err := s.Order(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Address != address {
		return nil, econ.E(econ.CodeValidation, "order %s does not belong to %s", orderID, address)
	}
	matched, err := s.store.UpdateOne(ctx, ColOrders,
		store.Filter{store.ID: orderID, "status": StatusOpen},
		store.Update{Set: store.Doc{"status": StatusCancelled}})
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "cancel order")
	}
	if !matched {
		return nil, econ.E(econ.CodeValidation, "order %s is not open", orderID)
	}
	order.Status = StatusCancelled
	return order, nil
}

// Order loads one order by id.
func (s *Service) Order(ctx context.Context, orderID string) (*Order, error) {
	doc, err := s.store.FindOne(ctx, ColOrders, store.Filter{store.ID: orderID})
	if errors.Is(err, store.ErrNoDocuments) {
		return nil, econ.E(econ.CodeNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load order")
	}
	var order Order
	if err := store.Decode(doc, &order); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "decode order")
	}
	return &order, nil
}

// OpenOrders lists an address's open orders, newest first.
func (s *Service) OpenOrders(ctx context.Context, address string) ([]Order, error) {
	docs, err := s.store.FindMany(ctx, ColOrders,
		store.Filter{"address": address, "status": StatusOpen}, nil, 0)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load open orders")
	}
	orders, err := decodeOrders(docs)
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt > orders[j].CreatedAt })
	return orders, nil
}

// Book aggregates the resting book for a symbol: bids descending, asks
// ascending.
func (s *Service) Book(ctx context.Context, symbol string) (*Orderbook, error) {
	docs, err := s.store.FindMany(ctx, ColOrders,
		store.Filter{"symbol": symbol, "status": StatusOpen}, nil, 0)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load book")
	}
	orders, err := decodeOrders(docs)
	if err != nil {
		return nil, err
	}

	bids := map[string]BookLevel{}
	asks := map[string]BookLevel{}
	for _, o := range orders {
		side := bids
		if o.Side == SideSell {
			side = asks
		}
		key := o.Price.String()
		level := side[key]
		level.Price = o.Price
		level.Amount = level.Amount.Add(o.Remaining)
		side[key] = level
	}

	book := &Orderbook{Symbol: symbol, Bids: levels(bids), Asks: levels(asks)}
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].Price.GreaterThan(book.Bids[j].Price) })
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].Price.LessThan(book.Asks[j].Price) })
	return book, nil
}

// Fills returns recent fills for a symbol, newest first.
func (s *Service) Fills(ctx context.Context, symbol string, limit int) ([]Fill, error) {
	docs, err := s.store.FindMany(ctx, ColFills, store.Filter{"symbol": symbol},
		&store.Sort{Field: "timestamp", Desc: true}, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load fills")
	}
	out := make([]Fill, 0, len(docs))
	for _, doc := range docs {
		var f Fill
		if err := store.Decode(doc, &f); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode fill")
		}
		out = append(out, f)
	}
	return out, nil
}

func decodeOrders(docs []store.Doc) ([]Order, error) {
	out := make([]Order, 0, len(docs))
	for _, doc := range docs {
		var o Order
		if err := store.Decode(doc, &o); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode order")
		}
		out = append(out, o)
	}
	return out, nil
}

func levels(m map[string]BookLevel) []BookLevel {
	out := make([]BookLevel, 0, len(m))
	for _, l := range m {
		out = append(out, l)
	}
	return out
}
