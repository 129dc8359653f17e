// Package httpapi wires Flux's HTTP surface: ingestion, query, history,
// namespace, and admin endpoints, plus the WebSocket upgrade.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/fluxlabs/flux/infrastructure/errors"
	"github.com/fluxlabs/flux/infrastructure/httputil"
	"github.com/fluxlabs/flux/infrastructure/logging"
	"github.com/fluxlabs/flux/infrastructure/metrics"
	"github.com/fluxlabs/flux/infrastructure/redaction"
	"github.com/fluxlabs/flux/infrastructure/resilience"
	"github.com/fluxlabs/flux/infrastructure/security"
	"github.com/fluxlabs/flux/internal/eventlog"
	"github.com/fluxlabs/flux/internal/namespace"
	"github.com/fluxlabs/flux/internal/ratelimit"
	"github.com/fluxlabs/flux/internal/runtimeconfig"
	"github.com/fluxlabs/flux/internal/stateengine"
	"github.com/fluxlabs/flux/internal/ws"
)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	router *mux.Router

	registry    *namespace.Registry
	engine      *stateengine.Engine
	log         eventlog.Log
	cfg         *runtimeconfig.Store
	limiter     *ratelimit.Limiter
	hub         *ws.Hub
	logger      *logging.Logger
	metrics     *metrics.Metrics
	authEnabled bool
	adminToken  string
	redactor    *redaction.Redactor
	logBreaker  *resilience.CircuitBreaker
	dedupe      *security.ReplayProtection
}

// Config bundles the dependencies a Server is built from.
type Config struct {
	Registry    *namespace.Registry
	Engine      *stateengine.Engine
	Log         eventlog.Log
	RuntimeCfg  *runtimeconfig.Store
	Limiter     *ratelimit.Limiter
	Hub         *ws.Hub
	Logger      *logging.Logger
	Metrics     *metrics.Metrics
	AuthEnabled bool
	AdminToken  string
}

// NewServer builds a Server and registers its routes.
func NewServer(cfg Config) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		registry:    cfg.Registry,
		engine:      cfg.Engine,
		log:         cfg.Log,
		cfg:         cfg.RuntimeCfg,
		limiter:     cfg.Limiter,
		hub:         cfg.Hub,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		authEnabled: cfg.AuthEnabled,
		adminToken:  cfg.AdminToken,
		redactor:    redaction.NewRedactor(redaction.DefaultConfig()),
		logBreaker:  resilience.New(resilience.DefaultConfig()),
		dedupe:      security.NewReplayProtectionWithMaxSize(5*time.Minute, 100000, cfg.Logger),
	}
	s.registerRoutes()
	return s
}

// Router returns the underlying mux.Router for middleware chaining and
// embedding into an *http.Server.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) registerRoutes() {
	r := s.router
	r.HandleFunc("/api/events", s.handleIngestSingle).Methods(http.MethodPost)
	r.HandleFunc("/api/events/batch", s.handleIngestBatch).Methods(http.MethodPost)
	r.HandleFunc("/api/events", s.handleHistory).Methods(http.MethodGet)

	r.HandleFunc("/api/state/entities", s.handleListEntities).Methods(http.MethodGet)
	r.HandleFunc("/api/state/entities/delete", s.handleBatchDelete).Methods(http.MethodPost)
	r.HandleFunc("/api/state/entities/{id:.+}", s.handleGetEntity).Methods(http.MethodGet)
	r.HandleFunc("/api/state/entities/{id:.+}", s.handleDeleteEntity).Methods(http.MethodDelete)

	r.HandleFunc("/api/namespaces", s.handleRegisterNamespace).Methods(http.MethodPost)
	r.HandleFunc("/api/namespaces/{name}", s.handleGetNamespace).Methods(http.MethodGet)
	r.HandleFunc("/api/namespaces/{name}", s.handleDeleteNamespace).Methods(http.MethodDelete)

	r.HandleFunc("/api/admin/config", s.handleGetConfig).Methods(http.MethodGet)
	r.HandleFunc("/api/admin/config", s.handlePutConfig).Methods(http.MethodPut)

	r.HandleFunc("/api/ws", s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeHTTP(w, r)
}

func writeError(w http.ResponseWriter, r *http.Request, svcErr *errors.ServiceError) {
	httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
