package engine

import (
	"reflect"

	"github.com/google/cel-go/common/types/ref"

	"github.com/tollgate-dev/tollgate/internal/rules"
)

// PriceOutcome is the normalized result of one pricing script: the unit
// price after the script ran, plus the rule text when the script supplied
// one. UnitPrice equals the input price when the script declined to change
// it (or its result was malformed).
type PriceOutcome struct {
	UnitPrice float64
	Rule      string
}

var anyMapType = reflect.TypeOf(map[string]any{})

// decisionFromValue interprets a gate script result.
//
// Contract: scripts return {"allow": bool, "message": string} or a bare
// bool. Anything else - including a missing allow field - is treated as an
// implicit allow, never as an error.
func decisionFromValue(v ref.Val, scriptID string) rules.Decision {
	if v == nil {
		return rules.Allow()
	}

	if b, ok := v.Value().(bool); ok {
		if b {
			return rules.Allow()
		}
		return rules.Decision{Allowed: false, ScriptID: scriptID}
	}

	m, ok := asStringMap(v)
	if !ok {
		return rules.Allow()
	}
	allow, ok := m["allow"].(bool)
	if !ok || allow {
		return rules.Allow()
	}
	msg, _ := m["message"].(string)
	return rules.Decision{Allowed: false, Message: msg, ScriptID: scriptID}
}

// outcomeFromValue interprets a pricing script result against the current
// working product.
//
// Contract: a bare number is the new unit price; a map carries "unitPrice"
// and optionally "pricingRule" and "sku". A map whose sku does not match the
// working product, a map without a numeric unitPrice, or any other value
// means "no change".
func outcomeFromValue(v ref.Val, product rules.Product) PriceOutcome {
	unchanged := PriceOutcome{UnitPrice: product.UnitPrice()}
	if v == nil {
		return unchanged
	}

	if n, ok := asNumber(v.Value()); ok {
		return PriceOutcome{UnitPrice: n}
	}

	m, ok := asStringMap(v)
	if !ok {
		return unchanged
	}
	if sku, ok := m[rules.FieldSKU].(string); ok && sku != product.SKU() {
		return unchanged
	}
	raw, ok := m[rules.FieldUnitPrice]
	if !ok {
		return unchanged
	}
	price, ok := asNumber(raw)
	if !ok {
		return unchanged
	}
	rule, _ := m[rules.FieldPricingRule].(string)
	return PriceOutcome{UnitPrice: price, Rule: rule}
}

func asStringMap(v ref.Val) (map[string]any, bool) {
	native, err := v.ConvertToNative(anyMapType)
	if err != nil {
		return nil, false
	}
	m, ok := native.(map[string]any)
	return m, ok
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}
