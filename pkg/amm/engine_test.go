package amm_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/ledgerx/pkg/amm"
	"github.com/canopy-network/ledgerx/pkg/econ"
	"github.com/canopy-network/ledgerx/pkg/ledger"
	"github.com/canopy-network/ledgerx/pkg/oracle"
	"github.com/canopy-network/ledgerx/pkg/store/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type ammFixture struct {
	store  *memory.Store
	assets *ledger.Assets
	oracle *oracle.Oracle
	engine *amm.Engine
}

func newAMMFixture(t *testing.T) *ammFixture {
	t.Helper()
	ctx := context.Background()
	st := memory.New()
	logger := zaptest.NewLogger(t)

	utxos := ledger.NewUTXOLedger(st, logger)
	tokens := ledger.NewTokenLedger(st, logger)
	assets := ledger.NewAssets(utxos, tokens)
	orc := oracle.New(st, logger)
	require.NoError(t, orc.Init(ctx))

	return &ammFixture{
		store:  st,
		assets: assets,
		oracle: orc,
		engine: amm.NewEngine(st, assets, orc, nil, nil, logger),
	}
}

// fund seeds an address with native coin and a freshly created token.
func (f *ammFixture) fund(t *testing.T, address string, native, tokenSupply decimal.Decimal, symbol string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.assets.UTXO.CreateUTXO(ctx, "faucet", address, native)
	require.NoError(t, err)
	_, err = f.assets.Tokens.CreateToken(ctx, ledger.Token{
		Symbol:       symbol,
		Name:         symbol + " Token",
		TotalSupply:  tokenSupply,
		OwnerAddress: address,
	})
	require.NoError(t, err)
}

func (f *ammFixture) createPool(t *testing.T, creator, symbol string, native, token decimal.Decimal) *amm.Pool {
	t.Helper()
	pool, err := f.engine.CreatePool(context.Background(), amm.CreatePoolRequest{
		TokenSymbol:    symbol,
		InitialNative:  native,
		InitialToken:   token,
		CreatorAddress: creator,
		Timestamp:      time.Now().Unix(),
	})
	require.NoError(t, err)
	return pool
}

func TestCreatePool(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	f.fund(t, "alice", d("1000"), d("1000000"), "GLD")

	pool := f.createPool(t, "alice", "GLD", d("100"), d("100"))

	assert.Equal(t, "BTC-GLD", pool.Pair)
	assert.True(t, pool.ReserveNative.Equal(d("100")))
	assert.True(t, pool.ReserveToken.Equal(d("100")))
	assert.True(t, pool.TotalShares.Equal(d("100")))

	// Creator paid both deposits and holds all shares.
	native, err := f.assets.Balance(ctx, "alice", ledger.Native())
	require.NoError(t, err)
	assert.True(t, native.Equal(d("900")), "native %s", native)

	tokens, err := f.assets.Balance(ctx, "alice", ledger.TokenOf("GLD"))
	require.NoError(t, err)
	assert.True(t, tokens.Equal(d("999900")))

	shares, err := f.assets.Tokens.Balance(ctx, "alice", pool.LPSymbol())
	require.NoError(t, err)
	assert.True(t, shares.Equal(d("100")))
}

func TestCreatePoolDuplicateRefunds(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	f.fund(t, "alice", d("1000"), d("1000000"), "GLD")
	f.createPool(t, "alice", "GLD", d("100"), d("100"))

	_, err := f.engine.CreatePool(ctx, amm.CreatePoolRequest{
		TokenSymbol:    "GLD",
		InitialNative:  d("50"),
		InitialToken:   d("50"),
		CreatorAddress: "alice",
		Timestamp:      time.Now().Unix(),
	})
	require.Error(t, err)
	assert.True(t, econ.IsCode(err, econ.CodeValidation))

	// No funds lost to the failed attempt.
	native, err := f.assets.Balance(ctx, "alice", ledger.Native())
	require.NoError(t, err)
	assert.True(t, native.Equal(d("900")), "native %s", native)
}

func TestCreatePoolInsufficientFunds(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	f.fund(t, "alice", d("10"), d("1000000"), "GLD")

	_, err := f.engine.CreatePool(ctx, amm.CreatePoolRequest{
		TokenSymbol:    "GLD",
		InitialNative:  d("100"),
		InitialToken:   d("100"),
		CreatorAddress: "alice",
		Timestamp:      time.Now().Unix(),
	})
	require.Error(t, err)
	assert.True(t, econ.IsCode(err, econ.CodeInsufficientBalance))

	native, err := f.assets.Balance(ctx, "alice", ledger.Native())
	require.NoError(t, err)
	assert.True(t, native.Equal(d("10")))
}

func TestAddLiquidity(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	f.fund(t, "alice", d("1000"), d("1000000"), "GLD")
	f.createPool(t, "alice", "GLD", d("100"), d("200"))

	res, err := f.engine.AddLiquidity(ctx, amm.LiquidityRequest{
		Pair:         "BTC-GLD",
		UserAddress:  "alice",
		AmountNative: d("50"),
		Timestamp:    time.Now().Unix(),
	})
	require.NoError(t, err)

	// Ratio is 2 tokens per native; shares mint pro rata off a 100-share base.
	assert.True(t, res.AmountToken.Equal(d("100")), "token %s", res.AmountToken)
	assert.True(t, res.SharesMinted.Equal(d("50")))
	assert.Equal(t, "LP-BTC-GLD", res.LPTokenSymbol)

	pool, err := f.engine.Pool(ctx, "BTC-GLD")
	require.NoError(t, err)
	assert.True(t, pool.ReserveNative.Equal(d("150")))
	assert.True(t, pool.ReserveToken.Equal(d("300")))
	assert.True(t, pool.TotalShares.Equal(d("150")))

	shares, err := f.assets.Tokens.Balance(ctx, "alice", "LP-BTC-GLD")
	require.NoError(t, err)
	assert.True(t, shares.Equal(d("150")))
}

func TestSwapNativeToToken(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	f.fund(t, "alice", d("1000"), d("1000000"), "GLD")
	f.createPool(t, "alice", "GLD", d("100"), d("100"))

	res, err := f.engine.Swap(ctx, amm.SwapRequest{
		UserAddress: "alice",
		Pair:        "BTC-GLD",
		Direction:   amm.DirNativeToToken,
		AmountIn:    d("10"),
		Timestamp:   time.Now().Unix(),
	})
	require.NoError(t, err)
	assert.True(t, res.AmountOut.Equal(d("9.06610893")), "out %s", res.AmountOut)
	assert.True(t, res.OwnerFee.Equal(d("0.01")))

	pool, err := f.engine.Pool(ctx, "BTC-GLD")
	require.NoError(t, err)
	assert.True(t, pool.ReserveNative.Equal(d("109.99")), "native %s", pool.ReserveNative)
	assert.True(t, pool.ReserveToken.Equal(d("90.93389107")), "token %s", pool.ReserveToken)

	// Trader paid 10 native and received the quoted tokens.
	native, err := f.assets.Balance(ctx, "alice", ledger.Native())
	require.NoError(t, err)
	assert.True(t, native.Equal(d("890")), "native %s", native)

	tokens, err := f.assets.Balance(ctx, "alice", ledger.TokenOf("GLD"))
	require.NoError(t, err)
	assert.True(t, tokens.Equal(d("999909.06610893")), "tokens %s", tokens)

	// Native owner fee landed in the miner pot.
	pot, err := f.engine.FeePot(ctx)
	require.NoError(t, err)
	assert.True(t, pot.Equal(d("0.01")), "pot %s", pot)

	// Selling native pushed the oracle price below the 1.0 peg.
	price, err := f.oracle.Price(ctx)
	require.NoError(t, err)
	assert.True(t, price.LessThan(d("1")), "price %s", price)
}

func TestSwapTokenToNativeRoutesFeeToTreasury(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	f.fund(t, "alice", d("1000"), d("1000000"), "GLD")
	f.createPool(t, "alice", "GLD", d("100"), d("100"))

	res, err := f.engine.Swap(ctx, amm.SwapRequest{
		UserAddress: "alice",
		Pair:        "BTC-GLD",
		Direction:   amm.DirTokenToNative,
		AmountIn:    d("10"),
		Timestamp:   time.Now().Unix(),
	})
	require.NoError(t, err)
	assert.True(t, res.AmountOut.Equal(d("9.06610893")))

	treasury, err := f.assets.Tokens.Balance(ctx, "treasury_BTC", "GLD")
	require.NoError(t, err)
	assert.True(t, treasury.Equal(d("0.01")), "treasury %s", treasury)

	pot, err := f.engine.FeePot(ctx)
	require.NoError(t, err)
	assert.True(t, pot.IsZero())
}

func TestSwapSlippageGuard(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	f.fund(t, "alice", d("1000"), d("1000000"), "GLD")
	f.createPool(t, "alice", "GLD", d("100"), d("100"))

	_, err := f.engine.Swap(ctx, amm.SwapRequest{
		UserAddress:  "alice",
		Pair:         "BTC-GLD",
		Direction:    amm.DirNativeToToken,
		AmountIn:     d("10"),
		MinAmountOut: d("9.5"),
		Timestamp:    time.Now().Unix(),
	})
	require.Error(t, err)
	assert.True(t, econ.IsCode(err, econ.CodeSlippageExceeded))

	// Nothing committed.
	pool, err := f.engine.Pool(ctx, "BTC-GLD")
	require.NoError(t, err)
	assert.True(t, pool.ReserveNative.Equal(d("100")))
	native, err := f.assets.Balance(ctx, "alice", ledger.Native())
	require.NoError(t, err)
	assert.True(t, native.Equal(d("900")))
}

func TestSwapUnknownPool(t *testing.T) {
	f := newAMMFixture(t)
	_, err := f.engine.Swap(context.Background(), amm.SwapRequest{
		UserAddress: "alice",
		Pair:        "BTC-NOPE",
		Direction:   amm.DirNativeToToken,
		AmountIn:    d("1"),
		Timestamp:   time.Now().Unix(),
	})
	require.Error(t, err)
	assert.True(t, econ.IsCode(err, econ.CodeNotFound))
}

func TestSwapStaleTimestamp(t *testing.T) {
	f := newAMMFixture(t)
	_, err := f.engine.Swap(context.Background(), amm.SwapRequest{
		UserAddress: "alice",
		Pair:        "BTC-GLD",
		Direction:   amm.DirNativeToToken,
		AmountIn:    d("1"),
		Timestamp:   time.Now().Add(-10 * time.Minute).Unix(),
	})
	require.Error(t, err)
	assert.True(t, econ.IsCode(err, econ.CodeValidation))
}

func TestConcurrentSwapsSerialize(t *testing.T) {
	ctx := context.Background()
	t.Setenv("AMM_MAX_ATTEMPTS", "50")
	f := newAMMFixture(t)
	f.fund(t, "alice", d("1000"), d("1000000"), "GLD")
	f.createPool(t, "alice", "GLD", d("100"), d("100"))

	const swappers = 4
	var wg sync.WaitGroup
	outs := make(chan decimal.Decimal, swappers)
	for i := 0; i < swappers; i++ {
		addr := fmt.Sprintf("trader%d", i)
		_, err := f.assets.UTXO.CreateUTXO(ctx, "faucet", addr, d("10"))
		require.NoError(t, err)
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			res, err := f.engine.Swap(ctx, amm.SwapRequest{
				UserAddress: addr,
				Pair:        "BTC-GLD",
				Direction:   amm.DirNativeToToken,
				AmountIn:    d("10"),
				Timestamp:   time.Now().Unix(),
			})
			if assert.NoError(t, err) {
				outs <- res.AmountOut
			}
		}(addr)
	}
	wg.Wait()
	close(outs)

	// Replay the same four trades sequentially. Identical input amounts make
	// every execution order produce the same reserve trajectory, so the live
	// pool must land exactly on the replayed reserves and the traders'
	// outputs must be the replayed outputs in some order.
	reserveNative, reserveToken := d("100"), d("100")
	want := map[string]int{}
	for i := 0; i < swappers; i++ {
		q := amm.Quote(reserveNative, reserveToken, d("10"), d("0.003"), d("0.001"))
		reserveNative = reserveNative.Add(q.AmountInToPool)
		reserveToken = reserveToken.Sub(q.AmountOut)
		want[q.AmountOut.String()]++
	}

	pool, err := f.engine.Pool(ctx, "BTC-GLD")
	require.NoError(t, err)
	assert.True(t, pool.ReserveNative.Equal(reserveNative), "native %s want %s", pool.ReserveNative, reserveNative)
	assert.True(t, pool.ReserveToken.Equal(reserveToken), "token %s want %s", pool.ReserveToken, reserveToken)

	got := map[string]int{}
	for out := range outs {
		got[out.String()]++
	}
	assert.Equal(t, want, got)
}

func TestAccrueNativeFeeCreatesPot(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)

	// The first accrual runs against an empty collection; the pot document
	// must come into existence under its well-known id and stay readable.
	require.NoError(t, f.engine.AccrueNativeFee(ctx, d("0.01")))

	pot, err := f.engine.FeePot(ctx)
	require.NoError(t, err)
	assert.True(t, pot.Equal(d("0.01")), "pot %s", pot)
}

func TestDrainFeePot(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	require.NoError(t, f.engine.AccrueNativeFee(ctx, d("0.25")))
	require.NoError(t, f.engine.AccrueNativeFee(ctx, d("0.75")))

	drained, err := f.engine.DrainFeePot(ctx)
	require.NoError(t, err)
	assert.True(t, drained.Equal(d("1")), "drained %s", drained)

	// Second drain finds nothing.
	drained, err = f.engine.DrainFeePot(ctx)
	require.NoError(t, err)
	assert.True(t, drained.IsZero())
}

func TestVolumeAndHistory(t *testing.T) {
	ctx := context.Background()
	f := newAMMFixture(t)
	f.fund(t, "alice", d("1000"), d("1000000"), "GLD")
	f.createPool(t, "alice", "GLD", d("100"), d("100"))

	for i := 0; i < 3; i++ {
		_, err := f.engine.Swap(ctx, amm.SwapRequest{
			UserAddress: "alice",
			Pair:        "BTC-GLD",
			Direction:   amm.DirNativeToToken,
			AmountIn:    d("1"),
			Timestamp:   time.Now().Unix(),
		})
		require.NoError(t, err)
	}

	volume, err := f.engine.Volume24h(ctx)
	require.NoError(t, err)
	assert.True(t, volume.Equal(d("3")), "volume %s", volume)

	history, err := f.engine.PairHistory(ctx, "BTC-GLD", 10)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	for _, trade := range history {
		assert.Equal(t, "BTC-GLD", trade.Pair)
		assert.Equal(t, amm.DirNativeToToken, trade.Direction)
	}
}
