package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/inflow/internal/inbound"
)

const maxDocumentSize = 1 << 20

// identityParam reads the process key from the URL and the tenant from the
// "tenant" query parameter.
func identityParam(r *http.Request) inbound.ProcessIdentity {
	tenant := r.URL.Query().Get("tenant")
	if tenant == "" {
		tenant = inbound.DefaultTenantID
	}
	return inbound.ProcessIdentity{ProcessKey: chi.URLParam(r, "process"), TenantID: tenant}
}

// deployDefinition stores a YAML process document as a new version.
// POST /api/definitions
func (s *Server) deployDefinition(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxDocumentSize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	def, err := s.definitionSvc.Deploy(r.Context(), body)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

// listDefinitions returns the latest version of every process.
// GET /api/definitions
func (s *Server) listDefinitions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.definitionSvc.ListLatest(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if defs == nil {
		defs = []*inbound.ProcessDefinition{}
	}
	writeJSON(w, http.StatusOK, defs)
}

// listDefinitionVersions returns every version of a process.
// GET /api/definitions/{process}?tenant=
func (s *Server) listDefinitionVersions(w http.ResponseWriter, r *http.Request) {
	defs, err := s.definitionSvc.ListVersions(r.Context(), identityParam(r))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if len(defs) == 0 {
		writeError(w, http.StatusNotFound, "process not found")
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// getDefinition returns one version of a process.
// GET /api/definitions/{process}/{version}?tenant=
func (s *Server) getDefinition(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.ParseInt(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid version")
		return
	}
	def, err := s.definitionSvc.Get(r.Context(), identityParam(r), version)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// deleteDefinition removes every version of a process.
// DELETE /api/definitions/{process}?tenant=
func (s *Server) deleteDefinition(w http.ResponseWriter, r *http.Request) {
	if err := s.definitionSvc.Delete(r.Context(), identityParam(r)); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type subscriptionRequest struct {
	ProcessKey string `json:"process_key"`
	TenantID   string `json:"tenant_id"`
	Version    int64  `json:"version"`
	ElementID  string `json:"element_id"`
}

// listSubscriptions returns every tracked subscription.
// GET /api/subscriptions
func (s *Server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.subscriptions.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if subs == nil {
		subs = []*inbound.Subscription{}
	}
	writeJSON(w, http.StatusOK, subs)
}

// putSubscription records that a process instance waits on an element.
// PUT /api/subscriptions/{id}
func (s *Server) putSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProcessKey == "" || req.Version <= 0 {
		writeError(w, http.StatusBadRequest, "process_key and a positive version are required")
		return
	}
	if req.TenantID == "" {
		req.TenantID = inbound.DefaultTenantID
	}

	sub := &inbound.Subscription{
		ProcessInstanceID: chi.URLParam(r, "id"),
		Identity:          inbound.ProcessIdentity{ProcessKey: req.ProcessKey, TenantID: req.TenantID},
		Version:           req.Version,
		ElementID:         req.ElementID,
		CreatedAt:         time.Now(),
	}
	if err := s.subscriptions.Put(r.Context(), sub); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.rescan(r)
	writeJSON(w, http.StatusOK, sub)
}

// deleteSubscription forgets a finished process instance.
// DELETE /api/subscriptions/{id}
func (s *Server) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	if err := s.subscriptions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.rescan(r)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rescan(r *http.Request) {
	if s.importer == nil {
		return
	}
	if err := s.importer.ScanSubscriptions(r.Context()); err != nil {
		slog.Warn("api: subscription scan failed", "err", err)
	}
}
