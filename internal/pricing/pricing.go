// Package pricing applies a tenant's storefront_load script chain to
// products and cart items, producing final prices with an applied-rule audit
// trail.
package pricing

import (
	"context"
	"log/slog"

	"github.com/tollgate-dev/tollgate/internal/cache"
	"github.com/tollgate-dev/tollgate/internal/engine"
	"github.com/tollgate-dev/tollgate/internal/rules"
)

// Runner is the engine dependency, narrowed to what pricing needs.
// Tests substitute a recording fake to observe per-script invocations.
type Runner interface {
	RunPricing(ctx context.Context, script rules.LogicScript, act engine.PricingActivation) engine.PriceOutcome
}

// Orchestrator prices products by folding a tenant's pricing scripts over a
// working copy of each product.
//
// Ordering is significant and strictly sequential: script N+1 sees the price
// script N produced, so rules compose rather than override. No conflict
// detection is attempted between rules.
//
// Prices are plain float64 currency values. The engine enforces no rounding
// policy; clamping and rounding are the script author's responsibility
// (a documented authoring convention, not an engine check).
type Orchestrator struct {
	scripts cache.ScriptCache
	runner  Runner
	logger  *slog.Logger
}

// New creates an Orchestrator.
func New(scripts cache.ScriptCache, runner Runner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{scripts: scripts, runner: runner, logger: logger}
}

// PriceProduct prices a single product with no cart context.
// With zero active pricing scripts the result is the input price unchanged.
func (o *Orchestrator) PriceProduct(ctx context.Context, tenantID string, product rules.Product, customer map[string]any) rules.PricingResult {
	chain := o.scripts.ActiveScripts(ctx, tenantID).At(rules.TriggerStorefrontLoad)
	return o.runChain(ctx, tenantID, chain, product, customer, nil)
}

// PriceProducts prices each product independently. No product sees another
// product's results, and no cross-item quantity context exists here; rules
// that need the whole cart belong in PriceCartItems.
func (o *Orchestrator) PriceProducts(ctx context.Context, tenantID string, products []rules.Product, customer map[string]any) []rules.PricingResult {
	// One cache read for the whole list; every product sees the same chain.
	chain := o.scripts.ActiveScripts(ctx, tenantID).At(rules.TriggerStorefrontLoad)

	results := make([]rules.PricingResult, len(products))
	for i, p := range products {
		results[i] = o.runChain(ctx, tenantID, chain, p, customer, nil)
	}
	return results
}

// PriceCartItems prices cart line items with a shared aggregate cart context,
// built before any rule runs: total quantity, item count, subtotal from
// pre-rule unit prices, and per-category quantity totals. Quantity-threshold
// rules ("4+ units of category Oil across the cart") read the aggregate
// while each item still gets its own independent chain.
func (o *Orchestrator) PriceCartItems(ctx context.Context, tenantID string, items []rules.Product, customer map[string]any) []rules.PricingResult {
	chain := o.scripts.ActiveScripts(ctx, tenantID).At(rules.TriggerStorefrontLoad)
	cart := aggregateCart(items)

	results := make([]rules.PricingResult, len(items))
	for i, item := range items {
		results[i] = o.runChain(ctx, tenantID, chain, item, customer, cart)
	}
	return results
}

// runChain folds the script chain over a working copy of the product.
// An audit entry is appended whenever a script's outcome price differs from
// the prior step's price; the last entry drives the "on sale" badge.
func (o *Orchestrator) runChain(ctx context.Context, tenantID string, chain []rules.LogicScript, product rules.Product, customer, cart map[string]any) rules.PricingResult {
	working := product.Clone()
	original := working.UnitPrice()

	result := rules.PricingResult{
		SKU:           working.SKU(),
		OriginalPrice: original,
		UnitPrice:     original,
	}

	for _, script := range chain {
		prior := working.UnitPrice()
		out := o.runner.RunPricing(ctx, script, engine.PricingActivation{
			Customer:      customer,
			Product:       working,
			Cart:          cart,
			DistributorID: tenantID,
		})
		if out.UnitPrice == prior {
			continue
		}

		// The working copy carries forward: the next script prices against
		// this script's output.
		working[rules.FieldUnitPrice] = out.UnitPrice

		desc := out.Rule
		if desc == "" {
			desc = script.Description
		}
		working[rules.FieldPricingRule] = desc
		result.AppliedRules = append(result.AppliedRules, rules.AppliedRule{
			ScriptID:    script.ID,
			Description: desc,
			RuleType:    rules.RuleTypePricing,
			OldPrice:    prior,
			NewPrice:    out.UnitPrice,
		})
	}

	result.Product = working
	result.UnitPrice = working.UnitPrice()
	if n := len(result.AppliedRules); n > 0 {
		result.OnSale = true
		result.RuleDescription = result.AppliedRules[n-1].Description
	}
	return result
}

// aggregateCart builds the shared cart context from the pre-rule state of
// all line items. Subtotal intentionally uses pre-rule prices: rules see the
// cart as the customer built it, not as earlier items were re-priced.
func aggregateCart(items []rules.Product) map[string]any {
	totalQuantity := 0
	subtotal := 0.0
	byCategory := map[string]any{}
	quantities := map[string]int{}

	lines := make([]any, len(items))
	for i, item := range items {
		qty := item.Quantity()
		totalQuantity += qty
		subtotal += item.UnitPrice() * float64(qty)
		if cat := item.Category(); cat != "" {
			quantities[cat] += qty
		}
		lines[i] = map[string]any(item)
	}
	for cat, qty := range quantities {
		byCategory[cat] = qty
	}

	return map[string]any{
		"items":              lines,
		"itemCount":          len(items),
		"totalQuantity":      totalQuantity,
		"subtotal":           subtotal,
		"quantityByCategory": byCategory,
	}
}
