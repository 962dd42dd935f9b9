// Package engine turns stored script text into an isolated, context-bound
// computation and normalizes its result.
//
// Tenant scripts are CEL expressions, not general-purpose code: CEL is
// side-effect free, non-Turing-complete, and evaluates under a bounded cost
// model, so a tenant expression cannot loop forever, reach the host process,
// or mutate its inputs. A price change is expressed as a returned value, not
// an in-place mutation. No further CPU or memory quota is layered on top.
//
// The variable names scripts are bound to are a stored contract: renaming
// them breaks every tenant script already in the database.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/tollgate-dev/tollgate/internal/rules"
)

// Engine compiles and evaluates tenant scripts. Compiled programs are cached
// by script id and revision, so the per-request cost on the hot path is one
// map lookup plus evaluation.
//
// Thread-safety: safe for concurrent use; the program cache is guarded by an
// RWMutex with a double-checked populate.
type Engine struct {
	gateEnv    *cel.Env
	pricingEnv *cel.Env
	logger     *slog.Logger

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// GateActivation carries the context a gate script is bound to:
// customer, cart, products, distributor_id.
//
// Extra holds tenant-defined dynamic fields (e.g. checkout form values);
// they are merged into the cart map by field name, which is how the
// storefront has always surfaced them to scripts.
type GateActivation struct {
	Customer      map[string]any
	Cart          map[string]any
	Products      []rules.Product
	DistributorID string
	Extra         map[string]any
}

// PricingActivation carries the context a pricing script is bound to:
// customer, product, cart, customTables, orderHistory, distributor_id.
type PricingActivation struct {
	Customer      map[string]any
	Product       rules.Product
	Cart          map[string]any
	CustomTables  map[string]any
	OrderHistory  []any
	DistributorID string
}

// New creates an Engine with one environment per script kind.
func New(logger *slog.Logger) (*Engine, error) {
	gateEnv, err := cel.NewEnv(
		cel.Variable("customer", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("cart", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("products", cel.ListType(cel.DynType)),
		cel.Variable("distributor_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create gate environment: %w", err)
	}

	pricingEnv, err := cel.NewEnv(
		cel.Variable("customer", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("product", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("cart", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("customTables", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("orderHistory", cel.ListType(cel.DynType)),
		cel.Variable("distributor_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create pricing environment: %w", err)
	}

	return &Engine{
		gateEnv:    gateEnv,
		pricingEnv: pricingEnv,
		logger:     logger,
		programs:   make(map[string]cel.Program),
	}, nil
}

// RunGate evaluates one gate script and normalizes its result to a Decision.
//
// Fail-open per rule: a compile or runtime error is logged and yields an
// implicit allow, so one broken validation rule never blocks every checkout.
// The chain-level semantics (short-circuit on the first block) live in the
// gate, not here.
func (e *Engine) RunGate(ctx context.Context, script rules.LogicScript, act GateActivation) rules.Decision {
	prg, err := e.program(e.gateEnv, script)
	if err != nil {
		e.logFailure(script, err)
		return rules.Allow()
	}

	val, _, err := prg.ContextEval(ctx, act.vars())
	if err != nil {
		e.logFailure(script, &ScriptError{Code: ErrCodeEvalFailed, ScriptID: script.ID, TenantID: script.TenantID, Err: err})
		return rules.Allow()
	}

	return decisionFromValue(val, script.ID)
}

// RunPricing evaluates one pricing script against the current working copy
// of a product and normalizes its result to a price outcome.
//
// Fail-open per rule: any failure is logged and yields the unchanged price.
func (e *Engine) RunPricing(ctx context.Context, script rules.LogicScript, act PricingActivation) PriceOutcome {
	unchanged := PriceOutcome{UnitPrice: act.Product.UnitPrice()}

	prg, err := e.program(e.pricingEnv, script)
	if err != nil {
		e.logFailure(script, err)
		return unchanged
	}

	val, _, err := prg.ContextEval(ctx, act.vars())
	if err != nil {
		e.logFailure(script, &ScriptError{Code: ErrCodeEvalFailed, ScriptID: script.ID, TenantID: script.TenantID, Err: err})
		return unchanged
	}

	return outcomeFromValue(val, act.Product)
}

// Check compile-checks an expression against the trigger's context without
// storing or evaluating it. Used by the authoring surfaces (dry-run endpoint,
// CLI check, rule-pack import).
func (e *Engine) Check(tp rules.TriggerPoint, expr string) error {
	env := e.gateEnv
	if tp.IsPricing() {
		env = e.pricingEnv
	}
	if _, iss := env.Compile(expr); iss != nil && iss.Err() != nil {
		return &ScriptError{Code: ErrCodeCompileFailed, Err: iss.Err()}
	}
	return nil
}

// program returns the compiled program for a script, compiling and caching
// on first use. The cache key includes the revision (updated_at), so an
// edited script never evaluates stale compiled code.
func (e *Engine) program(env *cel.Env, script rules.LogicScript) (cel.Program, error) {
	key := script.ID + "@" + strconv.FormatInt(script.UpdatedAt.UnixNano(), 10)

	e.mu.RLock()
	prg, hit := e.programs[key]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	ast, iss := env.Compile(script.Expression)
	if iss != nil && iss.Err() != nil {
		return nil, &ScriptError{Code: ErrCodeCompileFailed, ScriptID: script.ID, TenantID: script.TenantID, Err: iss.Err()}
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, &ScriptError{Code: ErrCodeCompileFailed, ScriptID: script.ID, TenantID: script.TenantID, Err: err}
	}

	e.mu.Lock()
	// Double check: a concurrent compile of the same script may have won.
	if cached, hit := e.programs[key]; hit {
		prg = cached
	} else {
		e.programs[key] = prg
	}
	e.mu.Unlock()

	return prg, nil
}

func (e *Engine) logFailure(script rules.LogicScript, err error) {
	e.logger.Warn("script failed, applying safe default",
		"tenant_id", script.TenantID,
		"script_id", script.ID,
		"trigger", string(script.Trigger),
		"error", err,
	)
}

func (a GateActivation) vars() map[string]any {
	cart := mergeCart(a.Cart, a.Extra)
	products := make([]any, len(a.Products))
	for i, p := range a.Products {
		products[i] = map[string]any(p)
	}
	return map[string]any{
		"customer":       orEmpty(a.Customer),
		"cart":           cart,
		"products":       products,
		"distributor_id": a.DistributorID,
	}
}

func (a PricingActivation) vars() map[string]any {
	var history []any
	if a.OrderHistory != nil {
		history = a.OrderHistory
	} else {
		history = []any{}
	}
	return map[string]any{
		"customer":       orEmpty(a.Customer),
		"product":        orEmpty(a.Product),
		"cart":           orEmpty(a.Cart),
		"customTables":   orEmpty(a.CustomTables),
		"orderHistory":   history,
		"distributor_id": a.DistributorID,
	}
}

// mergeCart overlays tenant-defined extra fields onto the cart by name.
// Extra never wins over a structural cart field of the same name.
func mergeCart(cart, extra map[string]any) map[string]any {
	merged := make(map[string]any, len(cart)+len(extra))
	for k, v := range extra {
		merged[k] = v
	}
	for k, v := range cart {
		merged[k] = v
	}
	return merged
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
