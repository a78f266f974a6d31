package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
)

const maxWebhookBody = 1 << 20

// handleInbound routes an external HTTP POST to the webhook listener
// registered for the path.
// POST /inbound/{path}
func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	if s.webhooks == nil {
		writeError(w, http.StatusServiceUnavailable, inbound.ErrWebhooksDisabled.Error())
		return
	}

	path := chi.URLParam(r, "*")
	listener, key, ok := s.webhooks.Lookup(path)
	if !ok {
		writeError(w, http.StatusNotFound, "no listener for path")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(body) > maxWebhookBody {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	resp, err := listener.Handle(r.Context(), ports.WebhookRequest{
		Method: r.Method,
		Header: r.Header,
		Query:  r.URL.Query(),
		Body:   body,
	})
	if err != nil {
		slog.Error("api: webhook failed", "listener", key.String(), "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusAccepted
	}
	if resp.Body == nil {
		w.WriteHeader(status)
		return
	}
	writeJSON(w, status, resp.Body)
}

// listListeners returns the active listeners matching the query filters
// process, tenant, element and type.
// GET /api/inbound
func (s *Server) listListeners(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	param := func(name string) *string {
		if !q.Has(name) {
			return nil
		}
		v := q.Get(name)
		return &v
	}
	views := s.listeners.Query(inbound.ListenerFilter{
		ProcessKey: param("process"),
		TenantID:   param("tenant"),
		ElementID:  param("element"),
		Type:       param("type"),
	})
	if views == nil {
		views = []inbound.ActiveListenerView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// getMetrics returns lifecycle counters and the last health of every listener.
// GET /api/inbound/metrics
func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not available")
		return
	}
	writeJSON(w, http.StatusOK, s.recorder.Snapshot())
}

// listWebhooks returns the registered webhook paths.
// GET /api/inbound/webhooks
func (s *Server) listWebhooks(w http.ResponseWriter, r *http.Request) {
	paths := []string{}
	if s.webhooks != nil {
		paths = append(paths, s.webhooks.Paths()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{"paths": paths})
}
