package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/antoniostano/memvault/internal/config"
	"github.com/antoniostano/memvault/internal/integrator"
	"github.com/antoniostano/memvault/internal/memory"
	"github.com/antoniostano/memvault/internal/notify"
	"github.com/antoniostano/memvault/internal/observability"
)

// Deps are the in-process components the API fronts.
type Deps struct {
	Vault      *memory.Vault
	Integrator *integrator.Integrator
	Hub        *notify.Hub
	Metrics    *observability.Metrics
	Gatherer   prometheus.Gatherer
	Logger     *slog.Logger
}

type Server struct {
	cfg        config.Config
	vault      *memory.Vault
	integrator *integrator.Integrator
	hub        *notify.Hub
	metrics    *observability.Metrics
	gatherer   prometheus.Gatherer
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		cfg:        cfg,
		vault:      deps.Vault,
		integrator: deps.Integrator,
		hub:        deps.Hub,
		metrics:    deps.Metrics,
		gatherer:   gatherer,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may subscribe unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler(s.gatherer).ServeHTTP(w, r)
	})
	r.Get("/v1/perf/ingest", s.handlePerfIngest)

	r.Route("/v1/owners/{owner}", func(r chi.Router) {
		r.Post("/memories", s.handleIngest)
		r.Get("/memories", s.handleQuery)
		r.Get("/memories/{id}", s.handleGetMemory)
		r.Put("/memories/{id}", s.handleReconcile)
		r.Post("/prune", s.handlePrune)
		r.Get("/preferences", s.handleGetPreferences)
		r.Patch("/preferences", s.handlePatchPreferences)
		r.Get("/notifications/ws", s.handleNotificationsWS)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.cfg.StoreMode(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.vault == nil || s.integrator == nil {
		respondError(w, http.StatusServiceUnavailable, "not_ready", "vault not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"store_mode":         s.cfg.StoreMode(),
		"embedding_provider": s.cfg.EmbeddingProvider,
		"extractor_provider": s.cfg.ExtractorProvider,
	})
}

func (s *Server) handleNotificationsWS(w http.ResponseWriter, r *http.Request) {
	owner := ownerParam(r)
	if owner == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "owner is required")
		return
	}
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "notifications not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.logger.Info("notification stream opened", "owner_id", owner)
	if err := s.hub.Stream(r.Context(), conn, owner); err != nil {
		s.logger.Debug("notification stream ended", "owner_id", owner, "err", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

// respondVaultError maps core errors to HTTP statuses.
func (s *Server) respondVaultError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, integrator.ErrMissingOwner), errors.Is(err, memory.ErrInvalidRecord):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, memory.ErrStoreUnavailable):
		s.logger.Error("store unavailable", "path", r.URL.Path, "err", err)
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "memory store unavailable")
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
		respondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func ownerParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "owner"))
}
