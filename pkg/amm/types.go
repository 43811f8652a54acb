// Package amm implements the constant-product exchange: pool bookkeeping,
// swap pricing, liquidity shares, and the optimistic-concurrency protocol
// that keeps reserve mutations race-free without locks or transactions.
package amm

import (
	"github.com/shopspring/decimal"
)

// Collections.
const (
	ColPools       = "pools"
	ColPoolHistory = "pool_history"
	ColFeePot      = "miner_fee_pot"
)

// PairPrefix derives pool pairs as "BTC-{symbol}".
const PairPrefix = "BTC-"

// LPPrefix namespaces liquidity shares inside the token-balance ledger:
// shares for pool P live under symbol "LP-P" like any other token balance.
const LPPrefix = "LP-"

// FeePotID keys the global owner-fee pot document.
const FeePotID = "global_pot"

// Swap directions.
const (
	DirNativeToToken = "native_to_token"
	DirTokenToNative = "token_to_native"
)

// Pool is one constant-product liquidity pool. The document id is the pair,
// which is what makes pool creation race-safe.
type Pool struct {
	ID            string          `json:"_id"`
	Pair          string          `json:"pair"`
	TokenSymbol   string          `json:"token_symbol"`
	ReserveNative decimal.Decimal `json:"reserve_native"`
	ReserveToken  decimal.Decimal `json:"reserve_token"`
	TotalShares   decimal.Decimal `json:"total_shares"`
	CreatedAt     int64           `json:"created_at"`
}

// LPSymbol is the synthetic token symbol holding a pool's shares.
func (p Pool) LPSymbol() string { return LPPrefix + p.Pair }

// PriceTick is the payload published on the prices channel after a swap's
// market impact lands.
type PriceTick struct {
	Symbol    string          `json:"symbol"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Timestamp int64           `json:"timestamp"`
}

// TradeRecord is the append-only per-swap history row feeding volume stats
// and pair charts.
type TradeRecord struct {
	Pair      string          `json:"pair"`
	Direction string          `json:"direction"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

// CreatePoolRequest opens a new pool with its first liquidity.
type CreatePoolRequest struct {
	TokenSymbol    string
	InitialNative  decimal.Decimal
	InitialToken   decimal.Decimal
	CreatorAddress string
	Timestamp      int64
	Signature      string
}

// LiquidityRequest adds liquidity to an existing pool.
type LiquidityRequest struct {
	Pair         string
	UserAddress  string
	AmountNative decimal.Decimal
	Timestamp    int64
	Signature    string
}

// SwapRequest trades one side of a pair for the other.
type SwapRequest struct {
	UserAddress  string
	Pair         string
	Direction    string
	AmountIn     decimal.Decimal
	MinAmountOut decimal.Decimal
	Timestamp    int64
	Signature    string
}

// SwapResult reports the committed trade.
type SwapResult struct {
	Pair      string          `json:"pair"`
	Direction string          `json:"direction"`
	AmountIn  decimal.Decimal `json:"amount_in"`
	AmountOut decimal.Decimal `json:"amount_out"`
	OwnerFee  decimal.Decimal `json:"owner_fee"`
}

// LiquidityResult reports a committed liquidity add.
type LiquidityResult struct {
	Pair          string          `json:"pair"`
	AmountNative  decimal.Decimal `json:"amount_native"`
	AmountToken   decimal.Decimal `json:"amount_token"`
	SharesMinted  decimal.Decimal `json:"shares_minted"`
	LPTokenSymbol string          `json:"lp_token_symbol"`
}
