// Package api exposes the inbound runtime over HTTP: webhook ingress,
// listener inspection, process definitions and subscriptions.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/soochol/inflow/internal/inbound"
	"github.com/soochol/inflow/internal/inbound/ports"
	"github.com/soochol/inflow/internal/metrics"
	"github.com/soochol/inflow/internal/repository"
	"github.com/soochol/inflow/internal/services"
)

type Server struct {
	listeners     ports.ListenerQuery
	webhooks      *services.WebhookRouter
	recorder      *metrics.Recorder
	definitionSvc *services.DefinitionService
	subscriptions repository.SubscriptionRepository
	importer      *services.ImportService
	corsOrigins   []string
}

func NewServer(listeners ports.ListenerQuery) *Server {
	return &Server{
		listeners:   listeners,
		corsOrigins: []string{"*"},
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Webhook-Signature"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", s.healthz)
	r.Post("/inbound/*", s.handleInbound)

	r.Route("/api", func(r chi.Router) {
		r.Route("/inbound", func(r chi.Router) {
			r.Get("/", s.listListeners)
			r.Get("/metrics", s.getMetrics)
			r.Get("/webhooks", s.listWebhooks)
		})
		if s.definitionSvc != nil {
			r.Route("/definitions", func(r chi.Router) {
				r.Post("/", s.deployDefinition)
				r.Get("/", s.listDefinitions)
				r.Get("/{process}", s.listDefinitionVersions)
				r.Get("/{process}/{version}", s.getDefinition)
				r.Delete("/{process}", s.deleteDefinition)
			})
		}
		if s.subscriptions != nil {
			r.Route("/subscriptions", func(r chi.Router) {
				r.Get("/", s.listSubscriptions)
				r.Put("/{id}", s.putSubscription)
				r.Delete("/{id}", s.deleteSubscription)
			})
		}
	})
	return r
}

// SetWebhookRouter enables the webhook ingress.
func (s *Server) SetWebhookRouter(router *services.WebhookRouter) {
	s.webhooks = router
}

// SetMetricsRecorder exposes lifecycle counters and listener health.
func (s *Server) SetMetricsRecorder(rec *metrics.Recorder) {
	s.recorder = rec
}

// SetDefinitionService enables the definition endpoints.
func (s *Server) SetDefinitionService(svc *services.DefinitionService) {
	s.definitionSvc = svc
}

// SetSubscriptionRepository enables the subscription endpoints.
func (s *Server) SetSubscriptionRepository(repo repository.SubscriptionRepository) {
	s.subscriptions = repo
}

// SetImportService makes subscription changes take effect immediately
// instead of on the next scheduled scan.
func (s *Server) SetImportService(importer *services.ImportService) {
	s.importer = importer
}

// SetCORSOrigins restricts cross-origin access. Empty keeps "*".
func (s *Server) SetCORSOrigins(origins []string) {
	if len(origins) > 0 {
		s.corsOrigins = origins
	}
}

// healthz reports liveness and the number of active listeners.
// GET /healthz
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	listeners := s.listeners.Query(inbound.ListenerFilter{})
	down := 0
	for _, l := range listeners {
		if l.Health.Status == inbound.HealthStatusDown {
			down++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"listeners":      len(listeners),
		"listeners_down": down,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, inbound.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, inbound.ErrVersionExists):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidDocument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
