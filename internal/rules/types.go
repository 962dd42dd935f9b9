// Package rules defines the domain types shared by the script store, the
// execution engine, the pricing orchestrator, and the business-rule gate:
// tenant-authored logic scripts, the trigger points they attach to, and the
// schema-less context bags they are evaluated against.
package rules

import (
	"fmt"
	"time"
)

// TriggerPoint names a moment in the storefront interaction flow at which
// tenant scripts may run. The string values are part of the stored-script
// contract: they match the trigger_point column exactly.
type TriggerPoint string

const (
	// TriggerStorefrontLoad runs pricing scripts when products are rendered.
	// It is the only trigger evaluated by the pricing orchestrator; the gate
	// never evaluates it.
	TriggerStorefrontLoad TriggerPoint = "storefront_load"

	// TriggerAddToCart runs gate scripts before a line item enters the cart.
	TriggerAddToCart TriggerPoint = "add_to_cart"

	// TriggerQuantityChange runs gate scripts when a line item quantity changes.
	TriggerQuantityChange TriggerPoint = "quantity_change"

	// TriggerSubmit runs gate scripts before order submission.
	TriggerSubmit TriggerPoint = "submit"
)

// TriggerPoints lists every recognized trigger in flow order.
var TriggerPoints = []TriggerPoint{
	TriggerStorefrontLoad,
	TriggerAddToCart,
	TriggerQuantityChange,
	TriggerSubmit,
}

// ParseTriggerPoint validates a raw trigger string.
// Unknown triggers are an authoring error; at evaluation time an unknown
// trigger simply has no scripts and is a no-op.
func ParseTriggerPoint(s string) (TriggerPoint, error) {
	for _, tp := range TriggerPoints {
		if string(tp) == s {
			return tp, nil
		}
	}
	return "", fmt.Errorf("unknown trigger point %q", s)
}

// IsPricing reports whether scripts at this trigger use the pricing context
// (customer, product, cart, customTables, orderHistory, distributor_id)
// rather than the gate context (customer, cart, products, distributor_id).
func (tp TriggerPoint) IsPricing() bool {
	return tp == TriggerStorefrontLoad
}

// LogicScript is a tenant-authored rule: a CEL expression bound to one tenant
// and one trigger point. Scripts at a trigger execute in ascending
// SequenceOrder; ties are broken by CreatedAt, then ID, so evaluation order
// is deterministic even though sequence collisions are not prevented.
type LogicScript struct {
	ID             string       `json:"id"`
	TenantID       string       `json:"tenant_id"`
	Trigger        TriggerPoint `json:"trigger_point"`
	Expression     string       `json:"script_content"`
	Description    string       `json:"description"`
	SequenceOrder  int          `json:"sequence_order"`
	Active         bool         `json:"active"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	OriginalPrompt string       `json:"original_prompt,omitempty"`
}

// ScriptSet groups a tenant's active scripts by trigger point, each list in
// evaluation order. This is the unit the cache stores and the orchestrator
// and gate consume.
type ScriptSet map[TriggerPoint][]LogicScript

// At returns the ordered scripts for a trigger. A missing trigger yields nil,
// which evaluators treat as "no rules".
func (s ScriptSet) At(tp TriggerPoint) []LogicScript {
	if s == nil {
		return nil
	}
	return s[tp]
}

// Len returns the total script count across all triggers.
func (s ScriptSet) Len() int {
	n := 0
	for _, scripts := range s {
		n += len(scripts)
	}
	return n
}

// Product is a schema-less product record. Tenants attach arbitrary fields;
// the engine itself reads only sku, unitPrice, quantity, and category, via
// the typed accessors below. Everything else passes through untouched.
type Product map[string]any

// Well-known product field names. These are part of the script/host contract:
// stored tenant scripts reference them by exact name.
const (
	FieldSKU         = "sku"
	FieldUnitPrice   = "unitPrice"
	FieldQuantity    = "quantity"
	FieldCategory    = "category"
	FieldPricingRule = "pricingRule"
)

// SKU returns the product's identity key, or "" when absent.
func (p Product) SKU() string {
	s, _ := p[FieldSKU].(string)
	return s
}

// UnitPrice returns the current unit price as a float64.
// Integer-typed prices (common in hand-written JSON fixtures) are widened.
func (p Product) UnitPrice() float64 {
	return toFloat(p[FieldUnitPrice])
}

// Quantity returns the line quantity, or 0 when absent.
func (p Product) Quantity() int {
	switch v := p[FieldQuantity].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Category returns the product category, or "" when absent.
func (p Product) Category() string {
	s, _ := p[FieldCategory].(string)
	return s
}

// Clone returns a shallow copy. The pricing orchestrator clones the caller's
// product before the rule chain so scripts compose against a working copy
// and the input is never mutated.
func (p Product) Clone() Product {
	out := make(Product, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

// Decision is the outcome of a business-rule gate evaluation.
// ScriptID identifies the blocking script when Allowed is false.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Message  string `json:"message,omitempty"`
	ScriptID string `json:"script_id,omitempty"`
}

// Allow is the zero-rules and fail-open decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// AppliedRule is one audit entry in a pricing result: a single script changed
// the working price from OldPrice to NewPrice.
type AppliedRule struct {
	ScriptID    string  `json:"script_id"`
	Description string  `json:"description"`
	RuleType    string  `json:"rule_type"`
	OldPrice    float64 `json:"old_price"`
	NewPrice    float64 `json:"new_price"`
}

// RuleTypePricing is the only rule type the orchestrator emits today.
const RuleTypePricing = "pricing"

// PricingResult is the per-product outcome of a pricing chain. It is computed
// per request and attached to the API response; it is never persisted.
//
// Product is the working copy after all rules ran, so callers see the final
// unitPrice in place. OnSale and RuleDescription drive the storefront "sale"
// badge; AppliedRules is the full audit trail in execution order.
type PricingResult struct {
	Product         Product       `json:"product"`
	SKU             string        `json:"sku"`
	OriginalPrice   float64       `json:"original_price"`
	UnitPrice       float64       `json:"unit_price"`
	OnSale          bool          `json:"on_sale"`
	RuleDescription string        `json:"rule_description,omitempty"`
	AppliedRules    []AppliedRule `json:"applied_rules,omitempty"`
}
