// Package app wires the auth service adapter, the session gatekeeper, the
// completion handler and the HTTP server together and runs them until the
// process is told to stop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
	"github.com/vitrine-auto/inventory-web/internal/completion"
	"github.com/vitrine-auto/inventory-web/internal/config"
	"github.com/vitrine-auto/inventory-web/internal/gate"
	"github.com/vitrine-auto/inventory-web/internal/gotrue"
	"github.com/vitrine-auto/inventory-web/internal/httpserver"
	"github.com/vitrine-auto/inventory-web/internal/metrics"
	"github.com/vitrine-auto/inventory-web/internal/oidc"
)

// shutdownTimeout bounds how long in-flight requests may take to drain.
const shutdownTimeout = 30 * time.Second

// App is the running application.
type App struct {
	cfg        *config.Config
	service    authsvc.Service
	gate       *gate.Gatekeeper
	httpServer *httpserver.Server
}

// New creates the application with all components initialized. Missing auth
// settings disable gating instead of failing.
func New(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(metrics.WithRegistry(registry))

	svc, err := NewService(ctx, cfg, m)
	if err != nil {
		return nil, err
	}

	g := gate.New(svc, GateOptions(cfg, m))
	c := completion.New(svc, completion.Options{
		LoginPath: cfg.Routes.Login,
		HomePath:  cfg.Routes.Home,
		Metrics:   m,
	})

	deps := httpserver.Deps{
		Gate:       g,
		Completion: c,
		Metrics:    m,
		Gatherer:   registry,
		Version:    version,
	}
	if starter, ok := svc.(authsvc.SSOStarter); ok {
		deps.SSO = starter
	}

	httpServer, err := httpserver.NewServer(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	slog.Info("HTTP server initialized",
		"listen", cfg.Listen.HTTP,
		"tls", cfg.TLS.Enabled,
	)

	return &App{
		cfg:        cfg,
		service:    svc,
		gate:       g,
		httpServer: httpServer,
	}, nil
}

// NewService builds the auth service adapter named by auth.provider. It
// returns a nil service when the auth URL or public key is not configured.
func NewService(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (authsvc.Service, error) {
	if !cfg.AuthEnabled() {
		slog.Warn("auth url or public key not configured, running without session gating")
		return nil, nil
	}

	timeout := time.Duration(cfg.Auth.Timeout) * time.Second
	cookie := CookieOptions(cfg)

	switch cfg.Auth.Provider {
	case config.ProviderOIDC:
		// Tokens never need to be read by browser scripts.
		cookie.HTTPOnly = true

		discoveryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		provider, err := oidc.NewProvider(discoveryCtx, oidc.Options{
			Issuer:        cfg.Auth.URL,
			ClientID:      cfg.Auth.PublicKey,
			ClientSecret:  cfg.OIDC.ClientSecret,
			RedirectURL:   cfg.CallbackURL(),
			Scopes:        cfg.OIDC.Scopes,
			RequiredRoles: cfg.OIDC.RequiredRoles,
			RoleClaim:     cfg.OIDC.RoleClaim,
			EmailClaim:    cfg.OIDC.EmailClaim,
			CookieName:    cfg.Cookie.Name,
			Cookie:        cookie,
			Timeout:       timeout,
			Metrics:       m,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}

		slog.Info("OIDC provider initialized",
			"issuer", cfg.Auth.URL,
			"client_id", cfg.Auth.PublicKey,
			"cookie", provider.CookieName(),
		)
		return provider, nil

	case config.ProviderGoTrue:
		client, err := gotrue.New(gotrue.Options{
			URL:        cfg.Auth.URL,
			APIKey:     cfg.Auth.PublicKey,
			CookieName: cfg.Cookie.Name,
			Cookie:     cookie,
			Timeout:    timeout,
			Metrics:    m,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize auth client: %w", err)
		}

		slog.Info("auth client initialized",
			"url", cfg.Auth.URL,
			"cookie", client.CookieName(),
		)
		return client, nil

	default:
		return nil, fmt.Errorf("unknown auth provider %q", cfg.Auth.Provider)
	}
}

// CookieOptions maps the cookie section of cfg to the attributes adapters
// write session cookies with.
func CookieOptions(cfg *config.Config) authsvc.CookieOptions {
	return authsvc.CookieOptions{
		Path:     "/",
		Domain:   cfg.Cookie.Domain,
		MaxAge:   cfg.Cookie.MaxAge,
		Secure:   cfg.Cookie.Secure,
		SameSite: cfg.Cookie.SameSiteMode(),
	}
}

// GateOptions maps the routes section of cfg to gatekeeper options. The
// completion and SSO endpoints are always skipped.
func GateOptions(cfg *config.Config, m *metrics.Metrics) gate.Options {
	skip := make([]string, 0, len(cfg.Routes.Skip)+2)
	skip = append(skip, cfg.Routes.Skip...)
	skip = append(skip, cfg.Routes.Callback, cfg.Routes.SSO)

	return gate.Options{
		Protected: cfg.Routes.Protected,
		AuthOnly:  cfg.Routes.AuthOnly,
		Skip:      skip,
		LoginPath: cfg.Routes.Login,
		HomePath:  cfg.Routes.Home,
		Metrics:   m,
	}
}

// Handler returns the application's HTTP handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler()
}

// Gatekeeper returns the session gatekeeper.
func (a *App) Gatekeeper() *gate.Gatekeeper {
	return a.gate
}

// Run serves requests until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	slog.Info("starting inventory web server", "gating", a.gate.Enabled())

	// Start HTTP server in a goroutine (it blocks on ListenAndServe)
	httpErrCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested", "reason", context.Cause(ctx))
	case err := <-httpErrCh:
		if err != nil {
			slog.Error("HTTP server failed to start", "error", err)
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	}

	// Shutdown gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error stopping HTTP server", "error", err)
		return err
	}

	slog.Info("shutdown complete")
	return nil
}
