package httpapi_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tollgate-dev/tollgate/internal/cache"
	"github.com/tollgate-dev/tollgate/internal/engine"
	"github.com/tollgate-dev/tollgate/internal/gate"
	"github.com/tollgate-dev/tollgate/internal/httpapi"
	"github.com/tollgate-dev/tollgate/internal/pricing"
	"github.com/tollgate-dev/tollgate/internal/rules"
	"github.com/tollgate-dev/tollgate/internal/scripts"
	"github.com/tollgate-dev/tollgate/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "tollgate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.DiscardHandler)
	eng, err := engine.New(logger)
	require.NoError(t, err)

	mem := cache.NewMemory(st, logger)
	svc := scripts.New(st, mem, eng, logger)
	orch := pricing.New(mem, eng, logger)
	g := gate.New(mem, eng, logger)

	srv := httptest.NewServer(httpapi.NewServer(svc, orch, g, eng, logger).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, tenantID string, body any) (int, []byte) {
	t.Helper()

	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, buf)
	require.NoError(t, err)
	if tenantID != "" {
		req.Header.Set("X-Tenant-ID", tenantID)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestMissingTenantHeader(t *testing.T) {
	srv := newTestServer(t)

	status, raw := do(t, srv, http.MethodGet, "/api/scripts", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, string(raw), "X-Tenant-ID")
}

type itemResponse struct {
	Item rules.LogicScript `json:"item"`
}

type listResponse struct {
	Items []rules.LogicScript `json:"items"`
}

func TestScriptLifecycle(t *testing.T) {
	srv := newTestServer(t)

	status, raw := do(t, srv, http.MethodPost, "/api/scripts", "acme", scripts.CreateInput{
		Trigger:       "submit",
		Expression:    `cart.total >= 50.0`,
		Description:   "Minimum order value",
		SequenceOrder: 1,
	})
	require.Equal(t, http.StatusCreated, status, string(raw))
	var created itemResponse
	require.NoError(t, json.Unmarshal(raw, &created))
	require.NotEmpty(t, created.Item.ID)
	assert.Equal(t, "acme", created.Item.TenantID)
	assert.True(t, created.Item.Active)

	status, raw = do(t, srv, http.MethodGet, "/api/scripts/"+created.Item.ID, "acme", nil)
	require.Equal(t, http.StatusOK, status)
	var got itemResponse
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, created.Item.ID, got.Item.ID)

	desc := "Minimum order value, updated"
	status, raw = do(t, srv, http.MethodPut, "/api/scripts/"+created.Item.ID, "acme", scripts.UpdateInput{
		Description: &desc,
	})
	require.Equal(t, http.StatusOK, status, string(raw))
	var updated itemResponse
	require.NoError(t, json.Unmarshal(raw, &updated))
	assert.Equal(t, desc, updated.Item.Description)

	status, _ = do(t, srv, http.MethodPost, "/api/scripts/"+created.Item.ID+"/deactivate", "acme", nil)
	require.Equal(t, http.StatusOK, status)

	status, raw = do(t, srv, http.MethodGet, "/api/scripts", "acme", nil)
	require.Equal(t, http.StatusOK, status)
	var list listResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list.Items, 1)
	assert.False(t, list.Items[0].Active)

	status, _ = do(t, srv, http.MethodDelete, "/api/scripts/"+created.Item.ID, "acme", nil)
	require.Equal(t, http.StatusNoContent, status)

	status, _ = do(t, srv, http.MethodGet, "/api/scripts/"+created.Item.ID, "acme", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestScriptTenantScoping(t *testing.T) {
	srv := newTestServer(t)

	status, raw := do(t, srv, http.MethodPost, "/api/scripts", "acme", scripts.CreateInput{
		Trigger:    "submit",
		Expression: "true",
	})
	require.Equal(t, http.StatusCreated, status)
	var created itemResponse
	require.NoError(t, json.Unmarshal(raw, &created))

	status, _ = do(t, srv, http.MethodGet, "/api/scripts/"+created.Item.ID, "globex", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

type pricingResponse struct {
	Items []rules.PricingResult `json:"items"`
}

func TestPricingSeesNewScriptImmediately(t *testing.T) {
	srv := newTestServer(t)

	products := []rules.Product{
		{"sku": "WID-1", "unitPrice": 25.0, "quantity": 1},
	}

	// Prime the cache with an empty rule set.
	status, raw := do(t, srv, http.MethodPost, "/api/pricing/products", "acme", map[string]any{
		"products": products,
	})
	require.Equal(t, http.StatusOK, status, string(raw))
	var before pricingResponse
	require.NoError(t, json.Unmarshal(raw, &before))
	require.Len(t, before.Items, 1)
	assert.InDelta(t, 25.0, before.Items[0].UnitPrice, 1e-9)
	assert.False(t, before.Items[0].OnSale)

	status, _ = do(t, srv, http.MethodPost, "/api/scripts", "acme", scripts.CreateInput{
		Trigger:     "storefront_load",
		Expression:  `{"unitPrice": product.unitPrice * 0.9, "pricingRule": "Ten percent off"}`,
		Description: "Ten percent off",
	})
	require.Equal(t, http.StatusCreated, status)

	// The create invalidated the cache, so the next read must see the rule.
	status, raw = do(t, srv, http.MethodPost, "/api/pricing/products", "acme", map[string]any{
		"products": products,
	})
	require.Equal(t, http.StatusOK, status)
	var after pricingResponse
	require.NoError(t, json.Unmarshal(raw, &after))
	require.Len(t, after.Items, 1)
	assert.InDelta(t, 22.5, after.Items[0].UnitPrice, 1e-9)
	assert.True(t, after.Items[0].OnSale)
	assert.Equal(t, "Ten percent off", after.Items[0].RuleDescription)
}

func TestGateBlocksSubmit(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodPost, "/api/scripts", "acme", scripts.CreateInput{
		Trigger:     "submit",
		Expression:  `{"allow": cart.total >= 50.0, "message": "Minimum order is $50"}`,
		Description: "Minimum order value",
	})
	require.Equal(t, http.StatusCreated, status)

	status, raw := do(t, srv, http.MethodPost, "/api/gate/submit", "acme", map[string]any{
		"cart": map[string]any{"total": 30.0},
	})
	require.Equal(t, http.StatusOK, status)
	var blocked rules.Decision
	require.NoError(t, json.Unmarshal(raw, &blocked))
	assert.False(t, blocked.Allowed)
	assert.Equal(t, "Minimum order is $50", blocked.Message)

	status, raw = do(t, srv, http.MethodPost, "/api/gate/submit", "acme", map[string]any{
		"cart": map[string]any{"total": 80.0},
	})
	require.Equal(t, http.StatusOK, status)
	var allowed rules.Decision
	require.NoError(t, json.Unmarshal(raw, &allowed))
	assert.True(t, allowed.Allowed)
}

func TestGateUnknownTrigger(t *testing.T) {
	srv := newTestServer(t)

	status, _ := do(t, srv, http.MethodPost, "/api/gate/checkout_start", "acme", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestCheckScript(t *testing.T) {
	srv := newTestServer(t)

	status, raw := do(t, srv, http.MethodPost, "/api/scripts/check", "acme", map[string]any{
		"trigger_point":  "submit",
		"script_content": "cart.total >= 50.0",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"ok":true`)

	status, raw = do(t, srv, http.MethodPost, "/api/scripts/check", "acme", map[string]any{
		"trigger_point":  "submit",
		"script_content": "cart.total >=",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"ok":false`)
}

func TestImportPack(t *testing.T) {
	srv := newTestServer(t)

	pack := `version: "1"
description: starter rules
scripts:
  - trigger: storefront_load
    expression: '{"unitPrice": product.unitPrice * 0.95, "pricingRule": "Member discount"}'
    description: Member discount
    sequence: 1
  - trigger: submit
    expression: cart.total >= 25.0
    description: Minimum order value
    sequence: 1
`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/scripts/import", bytes.NewBufferString(pack))
	require.NoError(t, err)
	req.Header.Set("X-Tenant-ID", "acme")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))

	var list listResponse
	status, rawList := do(t, srv, http.MethodGet, "/api/scripts", "acme", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(rawList, &list))
	assert.Len(t, list.Items, 2)
}

func TestImportPackRejectsBrokenScripts(t *testing.T) {
	srv := newTestServer(t)

	pack := `version: "1"
scripts:
  - trigger: submit
    expression: 'cart.total >='
    sequence: 1
`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/scripts/import", bytes.NewBufferString(pack))
	require.NoError(t, err)
	req.Header.Set("X-Tenant-ID", "acme")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	status, raw := do(t, srv, http.MethodGet, "/api/scripts", "acme", nil)
	require.Equal(t, http.StatusOK, status)
	var list listResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	assert.Empty(t, list.Items)
}
