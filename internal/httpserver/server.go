package httpserver

import (
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
	"github.com/vitrine-auto/inventory-web/internal/completion"
	"github.com/vitrine-auto/inventory-web/internal/config"
	"github.com/vitrine-auto/inventory-web/internal/gate"
	"github.com/vitrine-auto/inventory-web/internal/metrics"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Deps are the components the server routes requests to.
type Deps struct {
	Gate       *gate.Gatekeeper
	Completion *completion.Handler

	// SSO starts provider flows; nil disables the SSO route.
	SSO authsvc.SSOStarter

	Metrics *metrics.Metrics

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer
	Gatherer prometheus.Gatherer

	Version string
}

// Server is the HTTP front of the inventory application: auth endpoints,
// health and metrics, and the gated proxy to the UI server.
type Server struct {
	cfg        *config.Config
	deps       Deps
	httpServer *http.Server
	router     chi.Router
	templates  *template.Template
	limiter    *IPRateLimiter
	proxy      *httputil.ReverseProxy
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, deps Deps) (*Server, error) {
	// Parse templates
	templates, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, err
	}

	if deps.Gate == nil {
		deps.Gate = gate.New(nil, gate.Options{})
	}
	if deps.Completion == nil {
		deps.Completion = completion.New(nil, completion.Options{})
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		templates: templates,
		limiter:   newIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst),
	}

	if cfg.App.Upstream != "" {
		s.proxy, err = newUpstreamProxy(cfg.App.Upstream)
		if err != nil {
			return nil, fmt.Errorf("failed to create upstream proxy: %w", err)
		}
	}

	s.router = s.routes()

	// Wrap with middleware
	var handler http.Handler = s.router
	handler = loggingMiddleware(handler)
	handler = recoveryMiddleware(handler)
	handler = middleware.RequestID(handler)
	handler = securityHeadersMiddleware(handler)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         cfg.Listen.HTTP,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Configure TLS if enabled
	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
			CipherSuites: []uint16{
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			},
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	// Auth endpoints are rate limited and never gated.
	r.Group(func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		r.Method(http.MethodGet, s.cfg.Routes.Callback, s.deps.Completion)
		r.Get(s.cfg.Routes.SSO, s.handleSSO)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.deps.Gate.Middleware)
		r.Handle("/*", http.HandlerFunc(s.handleApp))
	})

	return r
}

// Handler returns the fully wrapped request handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting HTTP server",
		"addr", s.cfg.Listen.HTTP,
		"tls", s.cfg.TLS.Enabled,
		"gating", s.deps.Gate.Enabled(),
		"upstream", s.cfg.App.Upstream,
	)

	if s.cfg.TLS.Enabled {
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down HTTP server")
	s.limiter.Stop()
	return s.httpServer.Shutdown(ctx)
}
