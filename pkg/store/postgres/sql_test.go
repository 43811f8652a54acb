package postgres

import (
	"testing"

	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhereClauseEqualityAndID(t *testing.T) {
	a := &argList{}
	sql := whereClause("pools", store.Filter{store.ID: "BTC-USDT"}, a)

	assert.Equal(t, "collection = $1 AND id = $2", sql)
	assert.Equal(t, []any{"pools", "BTC-USDT"}, a.args)
}

func TestWhereClauseNumericComparesThroughCast(t *testing.T) {
	a := &argList{}
	sql := whereClause("pools", store.Filter{"reserve_native": decimal.RequireFromString("10.5")}, a)

	assert.Equal(t, "collection = $1 AND (doc->>'reserve_native')::numeric = $2::numeric", sql)
	assert.Equal(t, "10.5", a.args[1])
}

func TestWhereClauseTextField(t *testing.T) {
	a := &argList{}
	sql := whereClause("orders", store.Filter{"status": "open"}, a)

	assert.Equal(t, "collection = $1 AND doc->>'status' = $2", sql)
}

func TestWhereClauseNumericLookingStringStaysText(t *testing.T) {
	a := &argList{}
	sql := whereClause("tokens", store.Filter{"symbol": "123"}, a)

	assert.Equal(t, "collection = $1 AND doc->>'symbol' = $2", sql)
	assert.Equal(t, "123", a.args[1])
}

func TestWhereClauseGte(t *testing.T) {
	a := &argList{}
	sql := whereClause("pool_history", store.Filter{"timestamp": store.Gte(1700000000)}, a)

	assert.Equal(t, "collection = $1 AND (doc->>'timestamp')::numeric >= $2::numeric", sql)
}

func TestWhereClauseInOnID(t *testing.T) {
	a := &argList{}
	sql := whereClause("mempool", store.Filter{store.ID: store.In("tx1", "tx2")}, a)

	assert.Equal(t, "collection = $1 AND id = ANY($2)", sql)
	assert.Equal(t, []string{"tx1", "tx2"}, a.args[1])
}

func TestWhereClauseInOnField(t *testing.T) {
	a := &argList{}
	sql := whereClause("orders", store.Filter{"side": store.In("buy", "sell")}, a)

	assert.Equal(t, "collection = $1 AND doc->>'side' = ANY($2)", sql)
}

func TestUpdateExprSetOnly(t *testing.T) {
	a := &argList{}
	expr, err := updateExpr("doc", store.Update{Set: store.Doc{"status": "filled"}}, a)
	require.NoError(t, err)

	assert.Equal(t, "(doc || $1::jsonb)", expr)
	assert.JSONEq(t, `{"status":"filled"}`, a.args[0].(string))
}

func TestUpdateExprIncWrapsSet(t *testing.T) {
	a := &argList{}
	expr, err := updateExpr("doc", store.Update{
		Set: store.Doc{"status": "open"},
		Inc: store.Doc{"remaining": decimal.NewFromInt(3)},
	}, a)
	require.NoError(t, err)

	assert.Equal(t,
		"jsonb_set((doc || $1::jsonb), '{remaining}', to_jsonb((COALESCE(doc->>'remaining','0'))::numeric + $2::numeric))",
		expr)
	assert.Equal(t, "3", a.args[1])
}

func TestUpdateExprRejectsNonNumericInc(t *testing.T) {
	a := &argList{}
	_, err := updateExpr("doc", store.Update{Inc: store.Doc{"remaining": struct{}{}}}, a)
	assert.Error(t, err)
}

func TestUpdateExprDecimalSetTravelsAsString(t *testing.T) {
	raw, err := jsonObject(store.Doc{"balance": decimal.RequireFromString("12.34567890")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"balance":"12.3456789"}`, raw)
}

func TestUpsertSeedKeepsExplicitID(t *testing.T) {
	seed := upsertSeed(
		store.Filter{store.ID: "global_pot"},
		store.Update{Inc: store.Doc{"amount": decimal.RequireFromString("0.25")}})

	assert.Equal(t, "global_pot", seed[store.ID])
	amount, ok := store.AsDecimal(seed["amount"])
	require.True(t, ok)
	assert.True(t, amount.Equal(decimal.RequireFromString("0.25")))
}

func TestUpsertSeedGeneratesIDWhenFilterHasNone(t *testing.T) {
	seed := upsertSeed(
		store.Filter{"address": "alice", "symbol": "USDT"},
		store.Update{Inc: store.Doc{"balance": decimal.NewFromInt(2)}})

	assert.NotEmpty(t, seed[store.ID])
	assert.Equal(t, "alice", seed["address"])
	assert.Equal(t, "USDT", seed["symbol"])
}
