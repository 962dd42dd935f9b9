package gate

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-dev/tollgate/internal/engine"
	"github.com/tollgate-dev/tollgate/internal/rules"
)

// staticScripts is a ScriptCache serving a fixed set, bypassing store and TTL.
type staticScripts struct {
	set rules.ScriptSet
}

func (s *staticScripts) ActiveScripts(context.Context, string) rules.ScriptSet { return s.set }
func (s *staticScripts) Invalidate(string)                                     {}
func (s *staticScripts) InvalidateAll()                                        {}

// recordingRunner records which scripts ran. Used to prove short-circuiting.
type recordingRunner struct {
	inner Runner
	ran   []string
}

func (r *recordingRunner) RunGate(ctx context.Context, script rules.LogicScript, act engine.GateActivation) rules.Decision {
	r.ran = append(r.ran, script.ID)
	return r.inner.RunGate(ctx, script, act)
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	e, err := engine.New(testLogger())
	require.NoError(t, err)
	return e
}

func submitScript(id, expr string, seq int) rules.LogicScript {
	return rules.LogicScript{
		ID:            id,
		TenantID:      "acme",
		Trigger:       rules.TriggerSubmit,
		Expression:    expr,
		SequenceOrder: seq,
		Active:        true,
		UpdatedAt:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestEvaluate_ZeroScriptsAllows(t *testing.T) {
	g := New(&staticScripts{set: rules.ScriptSet{}}, newTestEngine(t), testLogger())

	dec := g.Evaluate(context.Background(), rules.TriggerSubmit, "acme", Input{})
	assert.True(t, dec.Allowed)
}

func TestEvaluate_UnknownTriggerIsNoOp(t *testing.T) {
	set := rules.ScriptSet{rules.TriggerSubmit: {submitScript("s1", `{"allow": false}`, 0)}}
	g := New(&staticScripts{set: set}, newTestEngine(t), testLogger())

	dec := g.Evaluate(context.Background(), rules.TriggerPoint("no_such_trigger"), "acme", Input{})
	assert.True(t, dec.Allowed)
}

func TestEvaluate_FirstBlockShortCircuits(t *testing.T) {
	set := rules.ScriptSet{rules.TriggerSubmit: {
		submitScript("first-allow", `{"allow": true}`, 0),
		submitScript("min-total", `cart.subtotal >= 100.0 ? {"allow": true} : {"allow": false, "message": "min $100"}`, 1),
		submitScript("never-reached", `{"allow": true}`, 2),
	}}
	rec := &recordingRunner{inner: newTestEngine(t)}
	g := New(&staticScripts{set: set}, rec, testLogger())

	dec := g.Evaluate(context.Background(), rules.TriggerSubmit, "acme", Input{
		Cart: map[string]any{"subtotal": 50.0},
	})

	require.False(t, dec.Allowed)
	assert.Equal(t, "min $100", dec.Message)
	assert.Equal(t, "min-total", dec.ScriptID)
	assert.Equal(t, []string{"first-allow", "min-total"}, rec.ran,
		"the third script must not be invoked after a block")
}

func TestEvaluate_AllAllowRunsWholeChain(t *testing.T) {
	set := rules.ScriptSet{rules.TriggerSubmit: {
		submitScript("a", `{"allow": true}`, 0),
		submitScript("b", `cart.subtotal >= 100.0`, 1),
		submitScript("c", `{"allow": true}`, 2),
	}}
	rec := &recordingRunner{inner: newTestEngine(t)}
	g := New(&staticScripts{set: set}, rec, testLogger())

	dec := g.Evaluate(context.Background(), rules.TriggerSubmit, "acme", Input{
		Cart: map[string]any{"subtotal": 250.0},
	})

	assert.True(t, dec.Allowed)
	assert.Equal(t, []string{"a", "b", "c"}, rec.ran)
}

func TestEvaluate_FailingScriptDoesNotStopChain(t *testing.T) {
	set := rules.ScriptSet{rules.TriggerSubmit: {
		submitScript("broken", `cart.no_such_field == true`, 0),
		submitScript("blocker", `{"allow": false, "message": "blocked"}`, 1),
	}}
	rec := &recordingRunner{inner: newTestEngine(t)}
	g := New(&staticScripts{set: set}, rec, testLogger())

	dec := g.Evaluate(context.Background(), rules.TriggerSubmit, "acme", Input{
		Cart: map[string]any{"subtotal": 10.0},
	})

	// The broken script is an implicit allow; the later blocker still runs.
	require.False(t, dec.Allowed)
	assert.Equal(t, "blocked", dec.Message)
	assert.Equal(t, []string{"broken", "blocker"}, rec.ran)
}

func TestEvaluate_DifferentTriggersAreIndependent(t *testing.T) {
	set := rules.ScriptSet{
		rules.TriggerAddToCart: {{
			ID: "cap", TenantID: "acme", Trigger: rules.TriggerAddToCart, Active: true,
			Expression: `cart.totalQuantity < 100 ? {"allow": true} : {"allow": false, "message": "quantity cap"}`,
			UpdatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		}},
	}
	g := New(&staticScripts{set: set}, newTestEngine(t), testLogger())
	ctx := context.Background()
	in := Input{Cart: map[string]any{"totalQuantity": 500}}

	assert.False(t, g.Evaluate(ctx, rules.TriggerAddToCart, "acme", in).Allowed)
	assert.True(t, g.Evaluate(ctx, rules.TriggerSubmit, "acme", in).Allowed,
		"submit has no scripts and must allow")
}
