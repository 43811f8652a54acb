package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/store/memory"
	"github.com/canopy-network/ledgerx/pkg/wallet"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTokenLedger(t *testing.T) *ledger.TokenLedger {
	t.Helper()
	return ledger.NewTokenLedger(memory.New(), zaptest.NewLogger(t))
}

func TestCreateTokenMintsSupplyToOwner(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)

	created, err := l.CreateToken(ctx, ledger.Token{
		Symbol:       "GLD",
		Name:         "Gold",
		TotalSupply:  d("1000000"),
		OwnerAddress: "alice",
	})
	require.NoError(t, err)
	assert.NotZero(t, created.CreatedAt)

	balance, err := l.Balance(ctx, "alice", "GLD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("1000000")))
}

func TestCreateTokenRejectsNativeAndDuplicateSymbols(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)

	_, err := l.CreateToken(ctx, ledger.Token{Symbol: "BTC", TotalSupply: d("1"), OwnerAddress: "a"})
	assert.True(t, econ.IsCode(err, econ.CodeValidation))

	_, err = l.CreateToken(ctx, ledger.Token{Symbol: "GLD", TotalSupply: d("1"), OwnerAddress: "a"})
	require.NoError(t, err)
	_, err = l.CreateToken(ctx, ledger.Token{Symbol: "GLD", TotalSupply: d("1"), OwnerAddress: "b"})
	assert.True(t, econ.IsCode(err, econ.CodeValidation))
}

func TestDebitIfSufficient(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)
	require.NoError(t, l.Credit(ctx, "alice", "GLD", d("10")))

	require.NoError(t, l.DebitIfSufficient(ctx, "alice", "GLD", d("4")))

	err := l.DebitIfSufficient(ctx, "alice", "GLD", d("7"))
	assert.True(t, econ.IsCode(err, econ.CodeInsufficientBalance))

	// Failed debit left the balance untouched.
	balance, err := l.Balance(ctx, "alice", "GLD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("6")))
}

func signedTransfer(t *testing.T, w *wallet.Wallet, receiver, symbol string, amount decimal.Decimal, ts int64) ledger.TransferRequest {
	t.Helper()
	msg := wallet.TransferMessage(w.Address, receiver, symbol, amount, ts)
	sig, err := wallet.Sign(w.PrivateKey, msg)
	require.NoError(t, err)
	return ledger.TransferRequest{
		Sender:          w.Address,
		SenderPublicKey: w.PublicKey,
		Receiver:        receiver,
		Symbol:          symbol,
		Amount:          amount,
		Timestamp:       ts,
		Signature:       sig,
	}
}

func TestTransferConservesBalances(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)

	alice, err := wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, l.Credit(ctx, alice.Address, "GLD", d("100")))

	req := signedTransfer(t, alice, "bob", "GLD", d("30"), time.Now().Unix())
	require.NoError(t, l.Transfer(ctx, req))

	senderBal, err := l.Balance(ctx, alice.Address, "GLD")
	require.NoError(t, err)
	assert.True(t, senderBal.Equal(d("70")))

	receiverBal, err := l.Balance(ctx, "bob", "GLD")
	require.NoError(t, err)
	assert.True(t, receiverBal.Equal(d("30")))

	history, err := l.TransfersFor(ctx, alice.Address, 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "bob", history[0].Receiver)
}

func TestTransferRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)

	alice, err := wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, l.Credit(ctx, alice.Address, "GLD", d("100")))

	req := signedTransfer(t, alice, "bob", "GLD", d("30"), time.Now().Unix())
	req.Amount = d("99") // signature no longer covers the payload

	err = l.Transfer(ctx, req)
	assert.True(t, econ.IsCode(err, econ.CodeSignatureInvalid))

	balance, err := l.Balance(ctx, alice.Address, "GLD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("100")))
}

func TestTransferRejectsForeignPublicKey(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)

	alice, err := wallet.Generate()
	require.NoError(t, err)
	mallory, err := wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, l.Credit(ctx, alice.Address, "GLD", d("100")))

	// Mallory signs correctly with their own key but claims Alice's address.
	ts := time.Now().Unix()
	msg := wallet.TransferMessage(alice.Address, "bob", "GLD", d("30"), ts)
	sig, err := wallet.Sign(mallory.PrivateKey, msg)
	require.NoError(t, err)

	err = l.Transfer(ctx, ledger.TransferRequest{
		Sender:          alice.Address,
		SenderPublicKey: mallory.PublicKey,
		Receiver:        "bob",
		Symbol:          "GLD",
		Amount:          d("30"),
		Timestamp:       ts,
		Signature:       sig,
	})
	assert.True(t, econ.IsCode(err, econ.CodeSignatureInvalid))
}

func TestTransferRejectsStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)

	alice, err := wallet.Generate()
	require.NoError(t, err)
	require.NoError(t, l.Credit(ctx, alice.Address, "GLD", d("100")))

	stale := time.Now().Add(-5 * time.Minute).Unix()
	req := signedTransfer(t, alice, "bob", "GLD", d("30"), stale)
	err = l.Transfer(ctx, req)
	assert.True(t, econ.IsCode(err, econ.CodeValidation))
}

func TestBurnShrinksSupply(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)

	_, err := l.CreateToken(ctx, ledger.Token{
		Symbol: "GLD", Name: "Gold", TotalSupply: d("100"), OwnerAddress: "alice",
	})
	require.NoError(t, err)

	require.NoError(t, l.Burn(ctx, "alice", "GLD", d("40")))

	balance, err := l.Balance(ctx, "alice", "GLD")
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("60")))

	token, err := l.Token(ctx, "GLD")
	require.NoError(t, err)
	assert.True(t, token.TotalSupply.Equal(d("60")))
}

func TestHoldersRichestFirst(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)
	require.NoError(t, l.Credit(ctx, "a", "GLD", d("5")))
	require.NoError(t, l.Credit(ctx, "b", "GLD", d("50")))
	require.NoError(t, l.Credit(ctx, "c", "GLD", d("20")))

	holders, err := l.Holders(ctx, "GLD", 2, true)
	require.NoError(t, err)
	require.Len(t, holders, 2)
	assert.Equal(t, "b", holders[0].Address)
	assert.Equal(t, "c", holders[1].Address)
}

func TestUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	l := newTokenLedger(t)
	_, err := l.CreateToken(ctx, ledger.Token{Symbol: "GLD", TotalSupply: d("1"), OwnerAddress: "a"})
	require.NoError(t, err)

	require.NoError(t, l.UpdateMetadata(ctx, "GLD", "shiny", "https://gold.example"))

	token, err := l.Token(ctx, "GLD")
	require.NoError(t, err)
	assert.Equal(t, "shiny", token.Description)
	assert.Equal(t, "https://gold.example", token.Website)

	err = l.UpdateMetadata(ctx, "NOPE", "", "")
	assert.True(t, econ.IsCode(err, econ.CodeNotFound))
}
