package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Assets gives every engine one credit/debit surface over both balance
// paths. The symbol decides the dispatch: NativeSymbol routes to the UTXO
// set, anything else to token balance rows.
type Assets struct {
	UTXO   *UTXOLedger
	Tokens *TokenLedger
}

func NewAssets(utxo *UTXOLedger, tokens *TokenLedger) *Assets {
	return &Assets{UTXO: utxo, Tokens: tokens}
}

// Credit pays amount of asset to address. Native credits mint a UTXO,
// token credits upsert the balance row.
func (a *Assets) Credit(ctx context.Context, address string, asset Asset, amount decimal.Decimal) error {
	if asset.IsNative() {
		_, err := a.UTXO.CreateUTXO(ctx, "credit", address, amount)
		return err
	}
	return a.Tokens.Credit(ctx, address, asset.Symbol(), amount)
}

// Debit withdraws amount of asset from address, failing with an
// insufficient-balance error and no net effect when funds do not cover it.
func (a *Assets) Debit(ctx context.Context, address string, asset Asset, amount decimal.Decimal) error {
	if asset.IsNative() {
		return a.UTXO.DebitNative(ctx, address, amount)
	}
	return a.Tokens.DebitIfSufficient(ctx, address, asset.Symbol(), amount)
}

// Balance reads the spendable amount of asset held by address.
func (a *Assets) Balance(ctx context.Context, address string, asset Asset) (decimal.Decimal, error) {
	if asset.IsNative() {
		return a.UTXO.BalanceOf(ctx, address)
	}
	return a.Tokens.Balance(ctx, address, asset.Symbol())
}
