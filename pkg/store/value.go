package store

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// AsDecimal coerces any numeric-ish value (decimal, string, float, int,
// json.Number) into a decimal. Reports false for non-numeric values.
func AsDecimal(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case string:
		d, err := decimal.NewFromString(t)
		return d, err == nil
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int64:
		return decimal.NewFromInt(t), true
	case uint64:
		return decimal.NewFromUint64(t), true
	default:
		return decimal.Decimal{}, false
	}
}

// valuesEqual compares numerically when both sides are numeric, otherwise by
// string form. Decimal "10" therefore equals float 10 and string "10".
func valuesEqual(a, b any) bool {
	da, aok := AsDecimal(a)
	db, bok := AsDecimal(b)
	if aok && bok {
		return da.Equal(db)
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// CompareNumeric orders two values for sorting; non-numeric values sort as
// zero.
func CompareNumeric(a, b any) int {
	da, _ := AsDecimal(a)
	db, _ := AsDecimal(b)
	return da.Cmp(db)
}

// Matches reports whether doc satisfies every condition in filter.
func Matches(doc Doc, filter Filter) bool {
	for field, cond := range filter {
		have, ok := doc[field]
		if op, isOp := cond.(Op); isOp {
			switch op.kind {
			case OpGte:
				if !ok {
					return false
				}
				dh, hok := AsDecimal(have)
				dw, wok := AsDecimal(op.value)
				if !hok || !wok || dh.Cmp(dw) < 0 {
					return false
				}
			case OpIn:
				found := false
				for _, want := range op.values {
					if ok && valuesEqual(have, want) {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
			continue
		}
		if !ok || !valuesEqual(have, cond) {
			return false
		}
	}
	return true
}

// ApplyUpdate returns a copy of doc with the update applied. Inc on a missing
// or non-numeric field treats the current value as zero.
func ApplyUpdate(doc Doc, update Update) Doc {
	next := make(Doc, len(doc)+len(update.Set)+len(update.Inc))
	for k, v := range doc {
		next[k] = v
	}
	for k, v := range update.Set {
		next[k] = v
	}
	for k, delta := range update.Inc {
		cur, _ := AsDecimal(next[k])
		d, ok := AsDecimal(delta)
		if !ok {
			continue
		}
		next[k] = cur.Add(d)
	}
	return next
}
