package postgres

import (
	"fmt"
	"strings"

	"github.com/canopy-network/ledgerx/pkg/store"
	"github.com/shopspring/decimal"
)

// argList accumulates positional SQL parameters.
type argList struct {
	args []any
}

func (a *argList) add(v any) string {
	a.args = append(a.args, sqlValue(v))
	return fmt.Sprintf("$%d", len(a.args))
}

// sqlValue converts filter/update values to driver-friendly types. Decimals
// travel as strings and are cast back to numeric in the statement.
func sqlValue(v any) any {
	if d, ok := v.(decimal.Decimal); ok {
		return d.String()
	}
	return v
}

// numericFilterValue admits filter values whose Go type is numeric. Strings
// always compare as text, even when they parse as numbers: a field holding
// "123" must match its own value, and a ::numeric cast over rows whose field
// holds non-numeric text would abort the whole statement.
func numericFilterValue(v any) (decimal.Decimal, bool) {
	if _, isString := v.(string); isString {
		return decimal.Decimal{}, false
	}
	return store.AsDecimal(v)
}

// whereClause renders a filter into SQL conditions over the doc column.
// Decimal and integer values compare through a ::numeric cast so 10, 10.0
// and a stored "10" all match; string values compare as text. The _id field
// maps to the id column.
func whereClause(collection string, filter store.Filter, a *argList) string {
	conds := []string{fmt.Sprintf("collection = %s", a.add(collection))}
	for field, cond := range filter {
		if op, isOp := cond.(store.Op); isOp {
			conds = append(conds, opCondition(field, op, a))
			continue
		}
		if field == store.ID {
			conds = append(conds, fmt.Sprintf("id = %s", a.add(fmt.Sprintf("%v", cond))))
			continue
		}
		if d, ok := numericFilterValue(cond); ok {
			conds = append(conds, fmt.Sprintf("(doc->>'%s')::numeric = %s::numeric", field, a.add(d)))
		} else {
			conds = append(conds, fmt.Sprintf("doc->>'%s' = %s", field, a.add(cond)))
		}
	}
	return strings.Join(conds, " AND ")
}

func opCondition(field string, op store.Op, a *argList) string {
	switch op.Kind() {
	case store.OpGte:
		d, _ := store.AsDecimal(op.Value())
		return fmt.Sprintf("(doc->>'%s')::numeric >= %s::numeric", field, a.add(d))
	case store.OpIn:
		vals := make([]string, 0, len(op.Values()))
		for _, v := range op.Values() {
			vals = append(vals, fmt.Sprintf("%v", v))
		}
		if field == store.ID {
			return fmt.Sprintf("id = ANY(%s)", a.add(vals))
		}
		return fmt.Sprintf("doc->>'%s' = ANY(%s)", field, a.add(vals))
	default:
		return "FALSE"
	}
}

// updateExpr renders an Update as a JSONB expression over a document column
// reference (either "doc" or "documents.doc" in upsert conflict arms).
func updateExpr(docRef string, update store.Update, a *argList) (string, error) {
	expr := docRef
	if len(update.Set) > 0 {
		raw, err := jsonObject(update.Set)
		if err != nil {
			return "", err
		}
		expr = fmt.Sprintf("(%s || %s::jsonb)", expr, a.add(raw))
	}
	for field, delta := range update.Inc {
		d, ok := store.AsDecimal(delta)
		if !ok {
			return "", fmt.Errorf("non-numeric increment for field %q", field)
		}
		expr = fmt.Sprintf(
			"jsonb_set(%s, '{%s}', to_jsonb((COALESCE(%s->>'%s','0'))::numeric + %s::numeric))",
			expr, field, docRef, field, a.add(d))
	}
	return expr, nil
}
