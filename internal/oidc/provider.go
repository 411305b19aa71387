// Package oidc implements authsvc.Service on top of a generic OpenID Connect
// provider using the authorization code flow with PKCE. Tokens are kept in
// the caller's cookies; the provider holds no per-session state.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
	"github.com/vitrine-auto/inventory-web/internal/metrics"
)

// DefaultCookieName is the session cookie name used when none is configured.
const DefaultCookieName = "inventory-session"

var (
	_ authsvc.Service    = (*Provider)(nil)
	_ authsvc.SSOStarter = (*Provider)(nil)
)

// Options configures a Provider.
type Options struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// RequiredRoles, when non-empty, refuses sessions whose RoleClaim holds
	// none of these roles.
	RequiredRoles []string
	RoleClaim     string
	EmailClaim    string

	CookieName string
	Cookie     authsvc.CookieOptions

	// Timeout bounds each HTTP call when HTTPClient is nil.
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Metrics

	// Now is used for expiry checks; defaults to time.Now.
	Now func() time.Time
}

// Provider wraps the OIDC provider and OAuth2 configuration.
// It handles provider discovery, token exchange and refresh, and ID token
// verification.
type Provider struct {
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	validator    *Validator
	emailClaim   string
	cookieName   string
	cookie       authsvc.CookieOptions
	httpClient   *http.Client
	metrics      *metrics.Metrics
	now          func() time.Time
}

// NewProvider creates a new OIDC provider using the specified options.
// It performs OIDC discovery via /.well-known/openid-configuration
// and sets up the OAuth2 configuration and ID token verifier.
func NewProvider(ctx context.Context, opts Options) (*Provider, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	// Discover OIDC configuration from issuer
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), opts.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	// Expiry is governed by the access token, which GetUser refreshes; an
	// expired ID token from the last refresh is still proof of identity.
	verifier := provider.Verifier(&oidc.Config{
		ClientID:        opts.ClientID,
		SkipExpiryCheck: true,
		Now:             now,
	})

	return newProvider(opts, provider.Endpoint(), verifier, httpClient, now), nil
}

func newProvider(opts Options, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier, httpClient *http.Client, now func() time.Time) *Provider {
	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	emailClaim := opts.EmailClaim
	if emailClaim == "" {
		emailClaim = "email"
	}

	return &Provider{
		oauth2Config: &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  opts.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       opts.Scopes,
		},
		verifier:   verifier,
		validator:  NewValidator(opts.RequiredRoles, opts.RoleClaim),
		emailClaim: emailClaim,
		cookieName: cookieName,
		cookie:     opts.Cookie,
		httpClient: httpClient,
		metrics:    opts.Metrics,
		now:        now,
	}
}

// CookieName returns the name of the session cookie.
func (p *Provider) CookieName() string {
	return p.cookieName
}

func (p *Provider) flowCookieName() string {
	return p.cookieName + "-flow"
}

// clientContext attaches the provider's HTTP client for oauth2 and go-oidc.
func (p *Provider) clientContext(ctx context.Context) context.Context {
	return oidc.ClientContext(ctx, p.httpClient)
}

// observe returns a function recording the duration of operation op.
func (p *Provider) observe(op string) func(error) {
	start := p.now()
	return func(err error) {
		if errors.Is(err, authsvc.ErrNoSession) {
			err = nil
		}
		p.metrics.ServiceCall(op, err, p.now().Sub(start))
	}
}
