package amm

import (
	"github.com/shopspring/decimal"
)

// MoneyPlaces is the payout precision. Any division result paid OUT of a
// pool is truncated (rounded toward the pool) at this scale, so remainders
// always favor the protocol.
const MoneyPlaces = 8

var one = decimal.NewFromInt(1)

// SwapQuote is the full intended mutation of one swap, computed purely from
// a pool snapshot. Nothing here touches the store.
type SwapQuote struct {
	AmountIn       decimal.Decimal
	AmountInNet    decimal.Decimal // amount_in * (1 - fee_total)
	AmountOut      decimal.Decimal // constant-product output, truncated toward the pool
	AmountInToPool decimal.Decimal // amount_in - owner fee cut
	OwnerFee       decimal.Decimal // amount_in * fee_owner, routed out of the pool
}

// Quote prices amountIn against the snapshot reserves under the
// constant-product rule with a total fee and an owner fee carved out of it.
// The pool retains fee_total - fee_owner implicitly: AmountInToPool exceeds
// AmountInNet whenever fee_owner < fee_total, which is what makes
// reserve_in*reserve_out grow on every swap.
func Quote(reserveIn, reserveOut, amountIn, feeTotal, feeOwner decimal.Decimal) SwapQuote {
	net := amountIn.Mul(one.Sub(feeTotal))
	rawOut := net.Mul(reserveOut).Div(reserveIn.Add(net))
	ownerFee := amountIn.Mul(feeOwner)
	return SwapQuote{
		AmountIn:       amountIn,
		AmountInNet:    net,
		AmountOut:      rawOut.RoundDown(MoneyPlaces),
		AmountInToPool: amountIn.Sub(ownerFee),
		OwnerFee:       ownerFee,
	}
}

// LiquidityQuote is the intended mutation of one liquidity add.
type LiquidityQuote struct {
	AmountNative  decimal.Decimal
	RequiredToken decimal.Decimal // paired deposit at the live reserve ratio, rounded up (toward the pool)
	SharesMinted  decimal.Decimal // rounded down (toward the pool)
}

// QuoteLiquidity computes the paired-token requirement and share mint for a
// native deposit against the snapshot. The caller's requested token amount
// is advisory; the pool ratio at commit time always wins.
func QuoteLiquidity(reserveNative, reserveToken, totalShares, amountNative decimal.Decimal) LiquidityQuote {
	return LiquidityQuote{
		AmountNative:  amountNative,
		RequiredToken: amountNative.Mul(reserveToken).Div(reserveNative).RoundUp(MoneyPlaces),
		SharesMinted:  amountNative.Mul(totalShares).Div(reserveNative).RoundDown(MoneyPlaces),
	}
}
