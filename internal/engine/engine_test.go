package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-dev/tollgate/internal/rules"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	return e
}

func gateScript(id, expr string) rules.LogicScript {
	return rules.LogicScript{
		ID:         id,
		TenantID:   "acme",
		Trigger:    rules.TriggerSubmit,
		Expression: expr,
		Active:     true,
		UpdatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func pricingScript(id, expr string) rules.LogicScript {
	sc := gateScript(id, expr)
	sc.Trigger = rules.TriggerStorefrontLoad
	return sc
}

func TestRunGate_AllowAndBlock(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	act := GateActivation{
		Cart:          map[string]any{"subtotal": 50.0},
		DistributorID: "acme",
	}

	allow := e.RunGate(ctx, gateScript("s1", `cart.subtotal >= 10.0 ? {"allow": true} : {"allow": false}`), act)
	assert.True(t, allow.Allowed)

	block := e.RunGate(ctx, gateScript("s2", `cart.subtotal >= 100.0 ? {"allow": true} : {"allow": false, "message": "Minimum order is $100"}`), act)
	assert.False(t, block.Allowed)
	assert.Equal(t, "Minimum order is $100", block.Message)
	assert.Equal(t, "s2", block.ScriptID)
}

func TestRunGate_BareBoolResult(t *testing.T) {
	e := newTestEngine(t)
	act := GateActivation{Cart: map[string]any{"subtotal": 50.0}}

	dec := e.RunGate(context.Background(), gateScript("s1", `cart.subtotal >= 100.0`), act)
	assert.False(t, dec.Allowed)
	assert.Empty(t, dec.Message)
}

func TestRunGate_MalformedResultIsImplicitAllow(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	act := GateActivation{}

	for _, expr := range []string{
		`"not a decision"`,
		`42`,
		`{"message": "no allow field"}`,
		`{"allow": "yes"}`,
	} {
		dec := e.RunGate(ctx, gateScript("s1", expr), act)
		assert.True(t, dec.Allowed, "expr %q must degrade to allow", expr)
	}
}

func TestRunGate_CompileErrorFailsOpen(t *testing.T) {
	e := newTestEngine(t)

	dec := e.RunGate(context.Background(), gateScript("broken", `cart.subtotal >=`), GateActivation{})
	assert.True(t, dec.Allowed)
}

func TestRunGate_RuntimeErrorFailsOpen(t *testing.T) {
	e := newTestEngine(t)
	act := GateActivation{Cart: map[string]any{}}

	// Missing key at runtime: compiles fine, errors on live data.
	dec := e.RunGate(context.Background(), gateScript("s1", `cart.no_such_field == true`), act)
	assert.True(t, dec.Allowed)
}

func TestRunGate_ExtraFieldsMergeIntoCart(t *testing.T) {
	e := newTestEngine(t)
	act := GateActivation{
		Cart:  map[string]any{"subtotal": 500.0},
		Extra: map[string]any{"po_number": ""},
	}

	dec := e.RunGate(context.Background(), gateScript("s1",
		`cart.po_number != "" ? {"allow": true} : {"allow": false, "message": "PO number required"}`), act)
	assert.False(t, dec.Allowed)
	assert.Equal(t, "PO number required", dec.Message)
}

func TestRunPricing_MapResult(t *testing.T) {
	e := newTestEngine(t)
	act := PricingActivation{
		Product: rules.Product{"sku": "OIL-1", "unitPrice": 1000.0},
	}

	out := e.RunPricing(context.Background(), pricingScript("p1",
		`{"unitPrice": product.unitPrice - 200.0, "pricingRule": "$200 off"}`), act)
	assert.InDelta(t, 800.0, out.UnitPrice, 1e-9)
	assert.Equal(t, "$200 off", out.Rule)
}

func TestRunPricing_BareNumberResult(t *testing.T) {
	e := newTestEngine(t)
	act := PricingActivation{
		Product: rules.Product{"sku": "OIL-1", "unitPrice": 1000.0},
	}

	out := e.RunPricing(context.Background(), pricingScript("p1", `product.unitPrice * 0.5`), act)
	assert.InDelta(t, 500.0, out.UnitPrice, 1e-9)
	assert.Empty(t, out.Rule)
}

func TestRunPricing_SKUMismatchMeansNoChange(t *testing.T) {
	e := newTestEngine(t)
	act := PricingActivation{
		Product: rules.Product{"sku": "OIL-1", "unitPrice": 1000.0},
	}

	out := e.RunPricing(context.Background(), pricingScript("p1",
		`{"sku": "OTHER", "unitPrice": 1.0}`), act)
	assert.InDelta(t, 1000.0, out.UnitPrice, 1e-9)
	assert.Empty(t, out.Rule)
}

func TestRunPricing_MalformedResultMeansNoChange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	act := PricingActivation{
		Product: rules.Product{"sku": "OIL-1", "unitPrice": 1000.0},
	}

	for _, expr := range []string{
		`"free!"`,
		`{"pricingRule": "no price here"}`,
		`{"unitPrice": "cheap"}`,
		`true`,
	} {
		out := e.RunPricing(ctx, pricingScript("p1", expr), act)
		assert.InDelta(t, 1000.0, out.UnitPrice, 1e-9, "expr %q must mean no change", expr)
	}
}

func TestRunPricing_RuntimeErrorFailsOpen(t *testing.T) {
	e := newTestEngine(t)
	act := PricingActivation{
		Product: rules.Product{"sku": "OIL-1", "unitPrice": 1000.0},
		Cart:    map[string]any{},
	}

	out := e.RunPricing(context.Background(), pricingScript("p1",
		`{"unitPrice": product.unitPrice - cart.missing_discount}`), act)
	assert.InDelta(t, 1000.0, out.UnitPrice, 1e-9)
}

func TestCheck(t *testing.T) {
	e := newTestEngine(t)

	assert.NoError(t, e.Check(rules.TriggerSubmit, `cart.subtotal >= 100.0`))
	assert.NoError(t, e.Check(rules.TriggerStorefrontLoad, `{"unitPrice": product.unitPrice * 0.9}`))

	err := e.Check(rules.TriggerSubmit, `cart.subtotal >=`)
	require.Error(t, err)
	var se *ScriptError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeCompileFailed, se.Code)

	// product is a pricing variable; gate scripts must not see it.
	assert.Error(t, e.Check(rules.TriggerSubmit, `product.unitPrice > 0.0`))
}

func TestProgramCache_RecompilesOnRevisionChange(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	act := GateActivation{Cart: map[string]any{"subtotal": 50.0}}

	sc := gateScript("s1", `{"allow": false, "message": "v1"}`)
	dec := e.RunGate(ctx, sc, act)
	assert.Equal(t, "v1", dec.Message)

	// Same id, new revision: the edit must take effect.
	sc.Expression = `{"allow": false, "message": "v2"}`
	sc.UpdatedAt = sc.UpdatedAt.Add(time.Minute)
	dec = e.RunGate(ctx, sc, act)
	assert.Equal(t, "v2", dec.Message)
}
