// Package httpapi exposes pricing, gating, and script management over HTTP.
//
// Every tenant-scoped route reads the tenant from the X-Tenant-ID header; a
// missing header is a 400. Handlers are thin: decode, delegate to the
// service layer, encode. Evaluation routes never fail on rule errors, so
// their only failure modes are malformed requests.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tollgate-dev/tollgate/internal/gate"
	"github.com/tollgate-dev/tollgate/internal/pricing"
	"github.com/tollgate-dev/tollgate/internal/rules"
	"github.com/tollgate-dev/tollgate/internal/scripts"
)

// Checker compile-checks an expression for a trigger point.
type Checker interface {
	Check(tp rules.TriggerPoint, expr string) error
}

// Server bundles the handlers and their dependencies.
type Server struct {
	scripts *scripts.Service
	pricing *pricing.Orchestrator
	gate    *gate.Gate
	checker Checker
	logger  *slog.Logger
}

// NewServer wires the HTTP surface over the service layer.
func NewServer(svc *scripts.Service, orch *pricing.Orchestrator, g *gate.Gate, checker Checker, logger *slog.Logger) *Server {
	return &Server{
		scripts: svc,
		pricing: orch,
		gate:    g,
		checker: checker,
		logger:  logger,
	}
}

// Routes builds the request mux. Literal segments win over the {id}
// wildcard, so /api/scripts/reorder and friends route correctly.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /api/pricing/products", s.handlePriceProducts)
	mux.HandleFunc("POST /api/pricing/cart", s.handlePriceCart)
	mux.HandleFunc("POST /api/gate/{trigger}", s.handleGate)

	mux.HandleFunc("GET /api/scripts", s.handleListScripts)
	mux.HandleFunc("POST /api/scripts", s.handleCreateScript)
	mux.HandleFunc("POST /api/scripts/reorder", s.handleReorderScripts)
	mux.HandleFunc("POST /api/scripts/check", s.handleCheckScript)
	mux.HandleFunc("POST /api/scripts/import", s.handleImportPack)
	mux.HandleFunc("GET /api/scripts/{id}", s.handleGetScript)
	mux.HandleFunc("PUT /api/scripts/{id}", s.handleUpdateScript)
	mux.HandleFunc("DELETE /api/scripts/{id}", s.handleDeleteScript)
	mux.HandleFunc("POST /api/scripts/{id}/activate", s.handleSetActive(true))
	mux.HandleFunc("POST /api/scripts/{id}/deactivate", s.handleSetActive(false))

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// tenant extracts the tenant id and writes the error response itself when
// the header is missing.
func tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get("X-Tenant-ID"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing X-Tenant-ID header")
		return "", false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)).Decode(dst)
}
