// Package ledger tracks who owns what: native coin as unspent transaction
// outputs, fungible tokens as (address, symbol) balance rows. Every mutation
// goes through the store's conditional-update primitive; there are no locks.
package ledger

import (
	"github.com/shopspring/decimal"
)

// Collections.
const (
	ColUTXOs          = "utxos"
	ColTokens         = "tokens"
	ColTokenBalances  = "token_balances"
	ColTokenTransfers = "token_transfers"
)

// NativeSymbol is the chain's native coin ticker.
const NativeSymbol = "BTC"

// UTXO is a discrete spendable unit of native coin. Live UTXOs are the only
// source of truth for native balances.
type UTXO struct {
	TxID    string          `json:"txid"`
	Vout    int             `json:"vout"`
	Amount  decimal.Decimal `json:"amount"`
	Address string          `json:"address"`
}

// Input references a UTXO consumed by a transaction.
type Input struct {
	TxID      string `json:"txid"`
	Vout      int    `json:"vout"`
	Signature string `json:"signature,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// Output is a value assignment created by a transaction.
type Output struct {
	Amount  decimal.Decimal `json:"amount"`
	Address string          `json:"address"`
}

// Token is fungible-token metadata. TotalSupply is set at creation and only
// ever decreases (burn).
type Token struct {
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	TotalSupply  decimal.Decimal `json:"total_supply"`
	OwnerAddress string          `json:"owner_address"`
	Description  string          `json:"description,omitempty"`
	Website      string          `json:"website,omitempty"`
	CreatedAt    int64           `json:"created_at"`
}

// TokenBalance is one row per (address, symbol); balance never goes below
// zero and rows are never deleted.
type TokenBalance struct {
	Address string          `json:"address"`
	Symbol  string          `json:"symbol"`
	Balance decimal.Decimal `json:"balance"`
}

// TokenTransferRecord is the append-only transfer history entry.
type TokenTransferRecord struct {
	Sender    string          `json:"sender_address"`
	Receiver  string          `json:"receiver_address"`
	Symbol    string          `json:"symbol"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp int64           `json:"timestamp"`
}

// Asset is the uniform handle over the two balance paths: the native UTXO
// set and token balance rows.
type Asset struct {
	symbol string
}

// Native is the native-coin asset.
func Native() Asset { return Asset{symbol: NativeSymbol} }

// TokenOf wraps a token symbol as an asset.
func TokenOf(symbol string) Asset { return Asset{symbol: symbol} }

// AssetOf maps a ticker onto native or token handling.
func AssetOf(symbol string) Asset {
	if symbol == NativeSymbol {
		return Native()
	}
	return TokenOf(symbol)
}

func (a Asset) IsNative() bool { return a.symbol == NativeSymbol }
func (a Asset) Symbol() string { return a.symbol }
