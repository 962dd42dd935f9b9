// Package gate allows or blocks a storefront action based on a tenant's
// validation scripts, independent of pricing.
package gate

import (
	"context"
	"log/slog"

	"github.com/tollgate-dev/tollgate/internal/cache"
	"github.com/tollgate-dev/tollgate/internal/engine"
	"github.com/tollgate-dev/tollgate/internal/rules"
)

// Runner is the engine dependency, narrowed to what the gate needs.
// Tests substitute a recording fake to prove short-circuiting: a blocked
// chain must not invoke later scripts at all.
type Runner interface {
	RunGate(ctx context.Context, script rules.LogicScript, act engine.GateActivation) rules.Decision
}

// Input is the caller-supplied context for one gate evaluation.
type Input struct {
	Customer map[string]any
	Cart     map[string]any
	Products []rules.Product
	// Extra holds tenant-defined dynamic fields, merged into the cart map
	// by field name before scripts see it.
	Extra map[string]any
}

// Gate evaluates ordered script chains at discrete trigger points.
//
// The chain is a short-circuiting AND: scripts run strictly in stored order,
// and the first one deciding allow=false stops evaluation immediately with
// that script's message. No state persists across calls.
type Gate struct {
	scripts cache.ScriptCache
	runner  Runner
	logger  *slog.Logger
}

// New creates a Gate.
func New(scripts cache.ScriptCache, runner Runner, logger *slog.Logger) *Gate {
	return &Gate{scripts: scripts, runner: runner, logger: logger}
}

// Evaluate runs the tenant's chain for a trigger point.
//
// A trigger with no scripts - including an unrecognized trigger - allows.
// A script whose evaluation fails is an implicit allow for that script only
// (handled inside the engine); the chain continues, so one broken rule never
// blocks every checkout.
func (g *Gate) Evaluate(ctx context.Context, tp rules.TriggerPoint, tenantID string, in Input) rules.Decision {
	chain := g.scripts.ActiveScripts(ctx, tenantID).At(tp)

	act := engine.GateActivation{
		Customer:      in.Customer,
		Cart:          in.Cart,
		Products:      in.Products,
		DistributorID: tenantID,
		Extra:         in.Extra,
	}

	for _, script := range chain {
		dec := g.runner.RunGate(ctx, script, act)
		if !dec.Allowed {
			g.logger.Info("action blocked by rule",
				"tenant_id", tenantID,
				"trigger", string(tp),
				"script_id", script.ID,
				"message", dec.Message,
			)
			return dec
		}
	}
	return rules.Allow()
}
