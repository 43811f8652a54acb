// Package market implements a limit order book alongside the AMM. Orders
// rest in the document store; matching is a scan over the opposite side
// with conditional fills, so concurrent takers cannot consume the same
// maker liquidity twice.
package market

import (
	"github.com/shopspring/decimal"
)

// Collections.
const (
	ColOrders = "orders"
	ColFills  = "order_fills"
)

// Order sides.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// Order statuses.
const (
	StatusOpen      = "open"
	StatusFilled    = "filled"
	StatusCancelled = "cancelled"
)

// MoneyPlaces mirrors the ledger's decimal precision.
const MoneyPlaces = 8

// Order is one resting limit order. Price is quoted in native coin per
// token unit; Remaining tracks the unfilled quantity and is the field the
// matcher's conditional updates key on.
type Order struct {
	ID        string          `json:"_id"`
	Address   string          `json:"address"`
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining decimal.Decimal `json:"remaining"`
	Status    string          `json:"status"`
	CreatedAt int64           `json:"created_at"`
}

// Fill is one executed match, priced at the maker's limit.
type Fill struct {
	ID           string          `json:"_id"`
	Symbol       string          `json:"symbol"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`
	Timestamp    int64           `json:"timestamp"`
}

// PlaceRequest submits a limit order.
type PlaceRequest struct {
	Address   string
	Symbol    string
	Side      string
	Price     decimal.Decimal
	Amount    decimal.Decimal
	Timestamp int64
	Signature string
}

// PlaceResult reports the order after the immediate matching pass.
type PlaceResult struct {
	Order *Order `json:"order"`
	Fills []Fill `json:"fills"`
}

// BookLevel aggregates resting quantity at one price.
type BookLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// Orderbook is the resting book for one symbol: bids descending, asks
// ascending.
type Orderbook struct {
	Symbol string      `json:"symbol"`
	Bids   []BookLevel `json:"bids"`
	Asks   []BookLevel `json:"asks"`
}
