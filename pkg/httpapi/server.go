package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/mls-relay/pkg/auxstore"
	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/eventstore"
	"github.com/cuemby/mls-relay/pkg/extension"
	"github.com/cuemby/mls-relay/pkg/log"
	"github.com/cuemby/mls-relay/pkg/metrics"
	"github.com/cuemby/mls-relay/pkg/security"
	"github.com/cuemby/mls-relay/pkg/subscription"
	"github.com/gorilla/mux"
)

// Server exposes the relay's REST mailbox surface alongside the
// operational endpoints, backed by the same Event Store, Auxiliary Store
// and extension chain the WebSocket transport uses.
type Server struct {
	router *mux.Router
	store  eventstore.Store
	aux    auxstore.Store
	chain  *extension.Chain
	subs   *subscription.Registry
	cfg    config.Config
	jwks   *security.JWKSCache
}

// New builds the REST router. jwks may be nil if cfg.Auth.Enabled is false.
// Unlike pkg/wsserver, which checks a bearer only when RequireAppAttestation
// is also set, these routes require one whenever cfg.Auth.Enabled is true.
func New(store eventstore.Store, aux auxstore.Store, chain *extension.Chain, subs *subscription.Registry, cfg config.Config, jwks *security.JWKSCache) *Server {
	s := &Server{store: store, aux: aux, chain: chain, subs: subs, cfg: cfg, jwks: jwks}

	r := mux.NewRouter()
	r.HandleFunc("/health", metrics.HealthHandler()).Methods(http.MethodGet)
	r.HandleFunc("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.HandleFunc("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", s.requireBearer(metrics.Handler())).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.bearerMiddleware)
	api.HandleFunc("/keypackages", s.postKeyPackage).Methods(http.MethodPost)
	api.HandleFunc("/keypackages", s.getKeyPackages).Methods(http.MethodGet)
	api.HandleFunc("/keypackages/{id}/ack", s.ackKeyPackage).Methods(http.MethodPost)
	api.HandleFunc("/welcome", s.postWelcome).Methods(http.MethodPost)
	api.HandleFunc("/welcome", s.getWelcomes).Methods(http.MethodGet)
	api.HandleFunc("/welcome/{id}/ack", s.ackWelcome).Methods(http.MethodPost)
	api.HandleFunc("/messages/missed", s.postMissedMessages).Methods(http.MethodPost)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

var (
	errMissingJWKS   = errors.New("bearer enforcement is enabled but no JWKS source is configured")
	errMissingBearer = errors.New("missing bearer token")
)

// bearerMiddleware enforces bearer authentication on every /api/v1/* route.
func (s *Server) bearerMiddleware(next http.Handler) http.Handler {
	return s.requireBearer(next)
}

// requireBearer wraps next so it only runs once the request carries a
// valid bearer token, using the same token check as
// pkg/wsserver.Server.checkBearer's upgrade gate but applied per-request
// instead of per-connection and gated on cfg.Auth.Enabled alone.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.Auth.Enabled {
			next.ServeHTTP(w, r)
			return
		}
		if err := s.checkBearer(r); err != nil {
			writeError(w, http.StatusUnauthorized, "not-authenticated", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkBearer(r *http.Request) error {
	if s.jwks == nil {
		return errMissingJWKS
	}
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return errMissingBearer
	}
	token := strings.TrimPrefix(header, prefix)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	_, err := security.VerifyBearerToken(ctx, s.jwks, token, s.cfg.Auth.BearerAudience)
	return err
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithComponent("httpapi").Warn().Err(err).Msg("failed to encode response body")
	}
}

func parseIntQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
