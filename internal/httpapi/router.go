// Package httpapi is the HTTP surface of the totem: the kiosk flow, the
// catalog, the authenticated dashboard and the ops endpoints.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/supercopa/totem/internal/analytics"
	"github.com/supercopa/totem/internal/auth"
	"github.com/supercopa/totem/internal/kiosk"
	"github.com/supercopa/totem/internal/logging"
	"github.com/supercopa/totem/internal/metrics"
	"github.com/supercopa/totem/internal/middleware"
)

const serviceName = "totem"

// Config holds the services behind the router. Kiosk is required; a nil
// Analytics or Live disables the dashboard routes.
type Config struct {
	Kiosk     *kiosk.Service
	Analytics *analytics.Service
	Live      *LiveFeed
	Auth      *auth.Handler
	// AuthMiddleware guards the dashboard. When nil every dashboard call
	// answers 503.
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	CORSOrigins    []string
	Diagnostics    *Diagnostics
	Readiness      []Check
	Metrics        *metrics.Metrics
	Logger         *logging.Logger
}

type server struct {
	kiosk     *kiosk.Service
	analytics *analytics.Service
	live      *LiveFeed
	diag      *Diagnostics
	readiness []Check
	logger    *logging.Logger
}

// NewRouter builds the full handler chain.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New("")
	}
	if cfg.AuthMiddleware == nil {
		cfg.AuthMiddleware = middleware.NewAuthMiddleware(nil, nil, cfg.Logger, nil)
	}

	s := &server{
		kiosk:     cfg.Kiosk,
		analytics: cfg.Analytics,
		live:      cfg.Live,
		diag:      cfg.Diagnostics,
		readiness: cfg.Readiness,
		logger:    cfg.Logger,
	}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(cfg.Logger), middleware.MetricsMiddleware(serviceName, cfg.Metrics))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)
	r.Handle("/metrics", cfg.Metrics.Handler()).Methods(http.MethodGet)

	kioskRouter := r.PathPrefix("/api/kiosk").Subrouter()
	catalogRouter := r.PathPrefix("/api/catalog").Subrouter()
	if cfg.RateLimiter != nil {
		kioskRouter.Use(cfg.RateLimiter.Handler)
		catalogRouter.Use(cfg.RateLimiter.Handler)
	}
	s.registerKioskRoutes(kioskRouter)
	s.registerCatalogRoutes(catalogRouter)

	if cfg.Auth != nil {
		cfg.Auth.Register(r, cfg.AuthMiddleware.Handler)
	}

	dashboard := r.PathPrefix("/api").Subrouter()
	dashboard.Use(cfg.AuthMiddleware.Handler)
	dashboard.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
	dashboard.HandleFunc("/dashboard/live", s.handleLive).Methods(http.MethodGet)
	dashboard.HandleFunc("/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)

	tracing := middleware.NewTracingMiddleware(cfg.Logger)
	cors := middleware.NewCORSMiddleware(cfg.CORSOrigins)
	return tracing.Handler(cors.Handler(r))
}
