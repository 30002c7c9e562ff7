// Package api wires the REST surface: chi routing
// composed the way gateway/routes/router.go composes its route groups,
// a static X-Api-Key authenticator, CORS, rate limiting, and combined
// Prometheus/OTel observability.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apimw "cryptogateway/internal/api/middleware"
	"cryptogateway/internal/orchestrator"
	"cryptogateway/internal/store"
)

// Config bundles the dependencies and tunables the router needs, mirroring
// gateway/routes/router.go's Config shape.
type Config struct {
	Store         store.Store
	Orchestrator  *orchestrator.Orchestrator
	APIKey        string
	CORSOrigins   []string
	RateLimit     apimw.RateLimit
	Observability apimw.ObservabilityConfig
	Logger        *slog.Logger
}

// Server holds the dependencies every handler needs.
type Server struct {
	store  store.Store
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
}

// New builds the gateway's http.Handler: CORS first, then observability,
// an unauthenticated /health and /public group, and an authenticated +
// rate-limited group for every admin/merchant route.
func New(cfg Config) (http.Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{store: cfg.Store, orch: cfg.Orchestrator, logger: cfg.Logger}

	obs := apimw.NewObservability(cfg.Observability, cfg.Logger)
	limiter := apimw.NewRateLimiter(cfg.RateLimit)
	cors := apimw.CORS(apimw.CORSConfig{AllowedOrigins: cfg.CORSOrigins})

	r := chi.NewRouter()
	r.Use(cors)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", obs.MetricsHandler())

	r.Route("/public", func(pr chi.Router) {
		pr.Use(obs.Middleware("public"))
		pr.Get("/invoice/{id}", s.handlePublicInvoiceGet)
		pr.Get("/invoice/{id}/payments", s.handlePublicInvoicePayments)
	})

	r.Group(func(ar chi.Router) {
		ar.Use(apimw.Auth(cfg.APIKey))
		ar.Use(limiter.Middleware)
		ar.Use(obs.Middleware("admin"))

		ar.Route("/invoice", func(rt chi.Router) {
			rt.Post("/", s.handleInvoiceCreate)
			rt.Get("/", s.handleInvoiceList)
			rt.Get("/{id}", s.handleInvoiceGet)
			rt.Delete("/{id}", s.handleInvoiceCancel)
		})

		ar.Route("/chain", func(rt chi.Router) {
			rt.Post("/", s.handleChainCreate)
			rt.Get("/", s.handleChainList)
			rt.Get("/{name}", s.handleChainGet)
			rt.Patch("/{name}", s.handleChainUpdate)
			rt.Delete("/{name}", s.handleChainDelete)

			rt.Post("/{name}/token", s.handleTokenCreate)
			rt.Get("/{name}/token", s.handleTokenList)
			rt.Get("/{name}/token/{symbol}", s.handleTokenGet)
			rt.Delete("/{name}/token/{symbol}", s.handleTokenDelete)
		})

		ar.Route("/payment", func(rt chi.Router) {
			rt.Get("/", s.handlePaymentList)
			rt.Get("/{id}", s.handlePaymentGet)
			rt.Delete("/{id}", s.handlePaymentCancel)
		})

		ar.Route("/webhook", func(rt chi.Router) {
			rt.Get("/", s.handleWebhookList)
			rt.Get("/{id}", s.handleWebhookGet)
			rt.Delete("/{id}", s.handleWebhookCancel)
		})
	})

	return r, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
