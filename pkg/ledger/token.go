package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/canopy-network/ledgerx/pkg/wallet"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TokenLedger tracks fungible balances keyed by (address, symbol).
type TokenLedger struct {
	store  store.Store
	logger *zap.Logger
	now    func() time.Time
}

func NewTokenLedger(s store.Store, logger *zap.Logger) *TokenLedger {
	return &TokenLedger{store: s, logger: logger, now: time.Now}
}

// WithClock overrides the ledger clock, for tests.
func (l *TokenLedger) WithClock(now func() time.Time) *TokenLedger {
	l.now = now
	return l
}

// CreateToken registers a token and mints its full supply to the owner.
// There is no further minting after creation.
func (l *TokenLedger) CreateToken(ctx context.Context, token Token) (*Token, error) {
	if token.Symbol == "" || token.Symbol == NativeSymbol {
		return nil, econ.E(econ.CodeValidation, "invalid token symbol %q", token.Symbol)
	}
	if !token.TotalSupply.IsPositive() {
		return nil, econ.E(econ.CodeValidation, "total supply must be positive")
	}

	if _, err := l.store.FindOne(ctx, ColTokens, store.Filter{"symbol": token.Symbol}); err == nil {
		return nil, econ.E(econ.CodeValidation, "token symbol %s already exists", token.Symbol)
	} else if !errors.Is(err, store.ErrNoDocuments) {
		return nil, econ.Wrap(econ.CodeInternal, err, "lookup token %s", token.Symbol)
	}

	token.CreatedAt = l.now().Unix()
	doc, err := store.ToDoc(token)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "encode token")
	}
	if _, err := l.store.InsertOne(ctx, ColTokens, doc); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "insert token %s", token.Symbol)
	}

	if err := l.Credit(ctx, token.OwnerAddress, token.Symbol, token.TotalSupply); err != nil {
		return nil, err
	}
	return &token, nil
}

// Credit adds amount to (address, symbol), creating the row on first credit.
// Unconditional: concurrent credits cannot conflict.
func (l *TokenLedger) Credit(ctx context.Context, address, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return econ.E(econ.CodeValidation, "credit amount must be positive")
	}
	_, err := l.store.UpdateOne(ctx, ColTokenBalances,
		store.Filter{"address": address, "symbol": symbol},
		store.Update{Inc: store.Doc{"balance": amount}},
		store.UpdateOptions{Upsert: true})
	if err != nil {
		return econ.Wrap(econ.CodeInternal, err, "credit %s %s to %s", amount, symbol, address)
	}
	return nil
}

// DebitIfSufficient decrements the balance only if it currently covers
// amount. The precondition rides in the update filter, so two concurrent
// spenders of the same funds cannot both succeed.
func (l *TokenLedger) DebitIfSufficient(ctx context.Context, address, symbol string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return econ.E(econ.CodeValidation, "debit amount must be positive")
	}
	matched, err := l.store.UpdateOne(ctx, ColTokenBalances,
		store.Filter{"address": address, "symbol": symbol, "balance": store.Gte(amount)},
		store.Update{Inc: store.Doc{"balance": amount.Neg()}})
	if err != nil {
		return econ.Wrap(econ.CodeInternal, err, "debit %s %s from %s", amount, symbol, address)
	}
	if !matched {
		return econ.E(econ.CodeInsufficientBalance, "insufficient %s balance for %s", symbol, address)
	}
	return nil
}

// TransferRequest is a signed, replay-protected token transfer.
type TransferRequest struct {
	Sender          string
	SenderPublicKey string
	Receiver        string
	Symbol          string
	Amount          decimal.Decimal
	Timestamp       int64
	Signature       string
}

// Transfer moves tokens between two addresses. The debit is conditional, so
// a failed transfer has no partial effect; the credit that follows a
// successful debit is unconditional.
func (l *TokenLedger) Transfer(ctx context.Context, req TransferRequest) error {
	if !req.Amount.IsPositive() {
		return econ.E(econ.CodeValidation, "transfer amount must be positive")
	}
	if err := econ.CheckFreshness(req.Timestamp, l.now(), econ.FreshnessWindow()); err != nil {
		return err
	}

	derived, err := wallet.DeriveAddressHex(req.SenderPublicKey)
	if err != nil || derived != req.Sender {
		return econ.E(econ.CodeSignatureInvalid, "public key does not own sender address")
	}
	msg := wallet.TransferMessage(req.Sender, req.Receiver, req.Symbol, req.Amount, req.Timestamp)
	if !wallet.Verify(req.SenderPublicKey, msg, req.Signature) {
		return econ.E(econ.CodeSignatureInvalid, "invalid transfer signature")
	}

	if err := l.DebitIfSufficient(ctx, req.Sender, req.Symbol, req.Amount); err != nil {
		return err
	}
	if err := l.Credit(ctx, req.Receiver, req.Symbol, req.Amount); err != nil {
		return err
	}

	record, err := store.ToDoc(TokenTransferRecord{
		Sender:    req.Sender,
		Receiver:  req.Receiver,
		Symbol:    req.Symbol,
		Amount:    req.Amount,
		Timestamp: req.Timestamp,
	})
	if err == nil {
		if _, err := l.store.InsertOne(ctx, ColTokenTransfers, record); err != nil {
			l.logger.Warn("Failed to record token transfer", zap.Error(err))
		}
	}
	return nil
}

// Burn debits amount from the holder and then shrinks the token's total
// supply. The supply decrement is best-effort: a crash between the two steps
// leaves supply overstated until reconciliation.
func (l *TokenLedger) Burn(ctx context.Context, address, symbol string, amount decimal.Decimal) error {
	if err := l.DebitIfSufficient(ctx, address, symbol, amount); err != nil {
		return err
	}
	matched, err := l.store.UpdateOne(ctx, ColTokens,
		store.Filter{"symbol": symbol},
		store.Update{Inc: store.Doc{"total_supply": amount.Neg()}})
	if err != nil || !matched {
		l.logger.Warn("Burn debited holder but could not shrink total supply",
			zap.String("symbol", symbol),
			zap.String("amount", amount.String()),
			zap.Error(err))
	}
	return nil
}

// Balance returns the current balance for (address, symbol); zero when the
// row does not exist yet.
func (l *TokenLedger) Balance(ctx context.Context, address, symbol string) (decimal.Decimal, error) {
	doc, err := l.store.FindOne(ctx, ColTokenBalances, store.Filter{"address": address, "symbol": symbol})
	if errors.Is(err, store.ErrNoDocuments) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, econ.Wrap(econ.CodeInternal, err, "load balance %s/%s", address, symbol)
	}
	var row TokenBalance
	if err := store.Decode(doc, &row); err != nil {
		return decimal.Zero, econ.Wrap(econ.CodeInternal, err, "decode balance row")
	}
	return row.Balance, nil
}

// Token loads token metadata by symbol.
func (l *TokenLedger) Token(ctx context.Context, symbol string) (*Token, error) {
	doc, err := l.store.FindOne(ctx, ColTokens, store.Filter{"symbol": symbol})
	if errors.Is(err, store.ErrNoDocuments) {
		return nil, econ.E(econ.CodeNotFound, "token %s not found", symbol)
	}
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load token %s", symbol)
	}
	var token Token
	if err := store.Decode(doc, &token); err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "decode token")
	}
	return &token, nil
}

// ListTokens returns all registered tokens.
func (l *TokenLedger) ListTokens(ctx context.Context, limit int) ([]Token, error) {
	docs, err := l.store.FindMany(ctx, ColTokens, store.Filter{}, &store.Sort{Field: "created_at", Desc: true}, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "list tokens")
	}
	out := make([]Token, 0, len(docs))
	for _, doc := range docs {
		var t Token
		if err := store.Decode(doc, &t); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode token")
		}
		out = append(out, t)
	}
	return out, nil
}

// Holders lists balance rows for a symbol, richest first when byBalance.
func (l *TokenLedger) Holders(ctx context.Context, symbol string, limit int, byBalance bool) ([]TokenBalance, error) {
	var sortBy *store.Sort
	if byBalance {
		sortBy = &store.Sort{Field: "balance", Desc: true}
	}
	docs, err := l.store.FindMany(ctx, ColTokenBalances, store.Filter{"symbol": symbol}, sortBy, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "list holders of %s", symbol)
	}
	out := make([]TokenBalance, 0, len(docs))
	for _, doc := range docs {
		var row TokenBalance
		if err := store.Decode(doc, &row); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode balance row")
		}
		out = append(out, row)
	}
	return out, nil
}

// UpdateMetadata sets owner-editable token fields.
func (l *TokenLedger) UpdateMetadata(ctx context.Context, symbol, description, website string) error {
	matched, err := l.store.UpdateOne(ctx, ColTokens,
		store.Filter{"symbol": symbol},
		store.Update{Set: store.Doc{"description": description, "website": website}})
	if err != nil {
		return econ.Wrap(econ.CodeInternal, err, "update token %s", symbol)
	}
	if !matched {
		return econ.E(econ.CodeNotFound, "token %s not found", symbol)
	}
	return nil
}

// TransfersFor returns recent transfer history touching an address.
func (l *TokenLedger) TransfersFor(ctx context.Context, address string, limit int) ([]TokenTransferRecord, error) {
	// The store has no OR filter; merge the two directions.
	sent, err := l.store.FindMany(ctx, ColTokenTransfers, store.Filter{"sender_address": address},
		&store.Sort{Field: "timestamp", Desc: true}, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load sent transfers")
	}
	received, err := l.store.FindMany(ctx, ColTokenTransfers, store.Filter{"receiver_address": address},
		&store.Sort{Field: "timestamp", Desc: true}, limit)
	if err != nil {
		return nil, econ.Wrap(econ.CodeInternal, err, "load received transfers")
	}

	out := make([]TokenTransferRecord, 0, len(sent)+len(received))
	for _, doc := range append(sent, received...) {
		var rec TokenTransferRecord
		if err := store.Decode(doc, &rec); err != nil {
			return nil, econ.Wrap(econ.CodeInternal, err, "decode transfer record")
		}
		out = append(out, rec)
	}
	sortTransfers(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortTransfers(records []TokenTransferRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].Timestamp > records[j].Timestamp })
}
