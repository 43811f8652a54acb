package amm_test

import (
	"testing"

	"github.com/canopy-network/ledgerx/pkg/amm"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuoteReferenceScenario(t *testing.T) {
	// 10 in against 100/100 reserves at 0.3% total fee, 0.1% owner cut.
	q := amm.Quote(d("100"), d("100"), d("10"), d("0.003"), d("0.001"))

	assert.True(t, q.AmountInNet.Equal(d("9.97")), "net %s", q.AmountInNet)
	assert.True(t, q.AmountOut.Equal(d("9.06610893")), "out %s", q.AmountOut)
	assert.True(t, q.OwnerFee.Equal(d("0.01")), "owner fee %s", q.OwnerFee)
	assert.True(t, q.AmountInToPool.Equal(d("9.99")), "to pool %s", q.AmountInToPool)
}

func TestQuoteNeverDecreasesProduct(t *testing.T) {
	cases := []struct {
		rIn, rOut, in string
	}{
		{"100", "100", "10"},
		{"10", "500000", "0.00000001"},
		{"123.456", "789.012", "55.5"},
		{"1000000", "3", "999"},
	}
	for _, tc := range cases {
		q := amm.Quote(d(tc.rIn), d(tc.rOut), d(tc.in), d("0.003"), d("0.001"))
		before := d(tc.rIn).Mul(d(tc.rOut))
		after := d(tc.rIn).Add(q.AmountInToPool).Mul(d(tc.rOut).Sub(q.AmountOut))
		assert.True(t, after.Cmp(before) >= 0,
			"product shrank for in=%s: %s -> %s", tc.in, before, after)
	}
}

func TestQuoteOutputTruncatesTowardPool(t *testing.T) {
	// Raw output here has more than eight decimal places; the ninth digit
	// must be dropped, never rounded up.
	q := amm.Quote(d("100"), d("100"), d("10"), d("0.003"), d("0.001"))
	raw := d("9.97").Mul(d("100")).Div(d("109.97"))
	assert.True(t, q.AmountOut.Cmp(raw) < 0)
	assert.True(t, q.AmountOut.Exponent() >= -8)
}

func TestQuoteZeroFees(t *testing.T) {
	q := amm.Quote(d("100"), d("100"), d("10"), decimal.Zero, decimal.Zero)
	assert.True(t, q.AmountInNet.Equal(d("10")))
	assert.True(t, q.AmountInToPool.Equal(d("10")))
	assert.True(t, q.OwnerFee.IsZero())
	assert.True(t, q.AmountOut.Equal(d("9.09090909")), "out %s", q.AmountOut)
}

func TestQuoteLiquidityRoundsAgainstDepositor(t *testing.T) {
	// Ratio 3 tokens per native; a deposit of 1e-8 native requires a token
	// amount that rounds UP while shares round DOWN.
	q := amm.QuoteLiquidity(d("3"), d("10"), d("7"), d("0.00000001"))

	// 0.00000001 * 10 / 3 = 0.0000000333.. -> up to 0.00000004
	assert.True(t, q.RequiredToken.Equal(d("0.00000004")), "token %s", q.RequiredToken)
	// 0.00000001 * 7 / 3 = 0.0000000233.. -> down to 0.00000002
	assert.True(t, q.SharesMinted.Equal(d("0.00000002")), "shares %s", q.SharesMinted)
}

func TestQuoteLiquidityProRata(t *testing.T) {
	q := amm.QuoteLiquidity(d("10"), d("500000"), d("10"), d("5"))
	assert.True(t, q.RequiredToken.Equal(d("250000")))
	assert.True(t, q.SharesMinted.Equal(d("5")))
}
