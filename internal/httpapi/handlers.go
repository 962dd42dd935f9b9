package httpapi

import (
	"errors"
	"io"
	"net/http"

	"github.com/tollgate-dev/tollgate/internal/gate"
	"github.com/tollgate-dev/tollgate/internal/rulefile"
	"github.com/tollgate-dev/tollgate/internal/rules"
	"github.com/tollgate-dev/tollgate/internal/scripts"
	"github.com/tollgate-dev/tollgate/internal/store"
)

type priceProductsRequest struct {
	Customer map[string]any  `json:"customer"`
	Products []rules.Product `json:"products"`
}

func (s *Server) handlePriceProducts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req priceProductsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results := s.pricing.PriceProducts(r.Context(), tenantID, req.Products, req.Customer)
	writeJSON(w, http.StatusOK, map[string]any{"items": results})
}

type priceCartRequest struct {
	Customer map[string]any  `json:"customer"`
	Items    []rules.Product `json:"items"`
}

func (s *Server) handlePriceCart(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req priceCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	results := s.pricing.PriceCartItems(r.Context(), tenantID, req.Items, req.Customer)
	writeJSON(w, http.StatusOK, map[string]any{"items": results})
}

type gateRequest struct {
	Customer map[string]any  `json:"customer"`
	Cart     map[string]any  `json:"cart"`
	Products []rules.Product `json:"products"`
	Extra    map[string]any  `json:"extra"`
}

func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	tp, err := rules.ParseTriggerPoint(r.PathValue("trigger"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req gateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	dec := s.gate.Evaluate(r.Context(), tp, tenantID, gate.Input{
		Customer: req.Customer,
		Cart:     req.Cart,
		Products: req.Products,
		Extra:    req.Extra,
	})
	writeJSON(w, http.StatusOK, dec)
}

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	items, err := s.scripts.List(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleCreateScript(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var in scripts.CreateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := s.scripts.Create(r.Context(), tenantID, in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": sc})
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	sc, err := s.scripts.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		writeScriptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": sc})
}

func (s *Server) handleUpdateScript(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var in scripts.UpdateInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sc, err := s.scripts.Update(r.Context(), tenantID, r.PathValue("id"), in)
	if err != nil {
		writeScriptError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": sc})
}

func (s *Server) handleDeleteScript(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	if err := s.scripts.Delete(r.Context(), tenantID, r.PathValue("id")); err != nil {
		writeScriptError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := tenant(w, r)
		if !ok {
			return
		}
		if err := s.scripts.SetActive(r.Context(), tenantID, r.PathValue("id"), active); err != nil {
			writeScriptError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"active": active})
	}
}

type reorderRequest struct {
	Trigger string   `json:"trigger_point"`
	IDs     []string `json:"ids"`
}

func (s *Server) handleReorderScripts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tp, err := rules.ParseTriggerPoint(req.Trigger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.scripts.Reorder(r.Context(), tenantID, tp, req.IDs); err != nil {
		writeScriptError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkRequest struct {
	Trigger    string `json:"trigger_point"`
	Expression string `json:"script_content"`
}

type checkResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) handleCheckScript(w http.ResponseWriter, r *http.Request) {
	if _, ok := tenant(w, r); !ok {
		return
	}
	var req checkRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tp, err := rules.ParseTriggerPoint(req.Trigger)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.checker.Check(tp, req.Expression); err != nil {
		writeJSON(w, http.StatusOK, checkResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, checkResponse{OK: true})
}

// handleImportPack imports a YAML rule pack posted as the request body.
// Validation is all-or-nothing: a pack with any blocking issue creates no
// scripts.
func (s *Server) handleImportPack(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenant(w, r)
	if !ok {
		return
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pack, err := rulefile.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.scripts.ImportPack(r.Context(), tenantID, pack)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"items": created})
}

func writeScriptError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
