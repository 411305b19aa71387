// Package gate implements the session gatekeeper: it runs ahead of every
// matching request, validates (and refreshes) the caller's session through
// the auth service and keeps anonymous callers out of protected pages and
// signed-in callers out of the login pages.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
	"github.com/vitrine-auto/inventory-web/internal/logsanitize"
	"github.com/vitrine-auto/inventory-web/internal/metrics"
)

// Action is what the gatekeeper does with a request.
type Action int

const (
	// Continue passes the request on, with any cookie mutations attached.
	Continue Action = iota
	// Redirect answers the request with a redirect to Decision.Location.
	Redirect
)

// Decision is the outcome of gating one request.
type Decision struct {
	Action    Action
	Location  string
	Class     Class
	Identity  authsvc.Identity
	Mutations authsvc.Mutations
}

// Options configures a Gatekeeper.
type Options struct {
	Protected []string
	AuthOnly  []string

	// Skip lists prefixes the middleware passes through untouched.
	Skip []string

	LoginPath string
	HomePath  string

	Metrics *metrics.Metrics
}

// Gatekeeper decides, per request, whether to continue or redirect.
type Gatekeeper struct {
	svc        authsvc.Service
	classifier *Classifier
	skip       []string
	loginPath  string
	homePath   string
	metrics    *metrics.Metrics
}

// New creates a gatekeeper. A nil svc disables gating: every request
// continues unmodified.
func New(svc authsvc.Service, opts Options) *Gatekeeper {
	if svc == nil {
		slog.Warn("auth service not configured, session gating disabled")
	}

	login := opts.LoginPath
	if login == "" {
		login = "/login"
	}
	home := opts.HomePath
	if home == "" {
		home = "/dashboard"
	}

	return &Gatekeeper{
		svc:        svc,
		classifier: NewClassifier(opts.Protected, opts.AuthOnly),
		skip:       normalizePrefixes(opts.Skip),
		loginPath:  login,
		homePath:   home,
		metrics:    opts.Metrics,
	}
}

// Enabled reports whether an auth service is configured.
func (g *Gatekeeper) Enabled() bool {
	return g.svc != nil
}

// Classifier returns the path classifier in use.
func (g *Gatekeeper) Classifier() *Classifier {
	return g.classifier
}

// Skipped reports whether path bypasses the gatekeeper.
func (g *Gatekeeper) Skipped(path string) bool {
	return matchAny(CleanPath(path), g.skip)
}

// Decide gates a request for path carrying cookies. The session is
// validated before the path is classified, so refreshed cookies reach
// public pages as well. Any auth service failure counts as anonymous.
func (g *Gatekeeper) Decide(ctx context.Context, path string, cookies []*http.Cookie) Decision {
	if g.svc == nil {
		slog.Debug("session gating disabled", "path", logsanitize.Sanitize(path))
		d := Decision{Action: Continue, Class: g.classifier.Classify(path)}
		g.metrics.GateDecision(d.Class.String(), "disabled")
		return d
	}

	id, muts, err := g.svc.GetUser(ctx, cookies)
	if err != nil {
		if errors.Is(err, authsvc.ErrNoSession) {
			slog.Debug("no session on request", "path", logsanitize.Sanitize(path))
		} else {
			slog.Warn("session validation failed", // #nosec G706 -- values sanitized
				"path", logsanitize.Sanitize(path),
				"error", logsanitize.Sanitize(err.Error()),
			)
		}
		id = authsvc.Anonymous
	}

	d := Decision{
		Action:    Continue,
		Class:     g.classifier.Classify(path),
		Identity:  id,
		Mutations: muts,
	}

	switch {
	case d.Class == Protected && !id.Authenticated():
		d.Action = Redirect
		d.Location = g.loginPath + "?" + url.Values{"redirectTo": {path}}.Encode()
		g.metrics.GateDecision(d.Class.String(), "redirect_login")

	case d.Class == AuthOnly && id.Authenticated():
		d.Action = Redirect
		d.Location = g.homePath
		g.metrics.GateDecision(d.Class.String(), "redirect_home")

	default:
		g.metrics.GateDecision(d.Class.String(), "continue")
	}

	return d
}

// Middleware applies Decide to every request not under a skip prefix.
// Requests for a non-canonical path are first redirected to its CleanPath
// form, so the path that is classified is the path that is served. Cookie
// mutations are written in every branch and mirrored into the forwarded
// request; the resolved identity is available downstream through
// IdentityFromContext.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if clean := CleanPath(r.URL.Path); clean != r.URL.Path {
			u := *r.URL
			u.Path = clean
			u.RawPath = ""
			g.metrics.GateDecision(g.classifier.Classify(clean).String(), "redirect_canonical")
			http.Redirect(w, r, u.RequestURI(), http.StatusMovedPermanently)
			return
		}

		if g.Skipped(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		d := g.Decide(r.Context(), r.URL.Path, r.Cookies())

		// Cancelled requests get no cookies.
		if r.Context().Err() != nil {
			return
		}

		d.Mutations.Apply(w)

		if d.Action == Redirect {
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		}

		r = r.WithContext(WithIdentity(r.Context(), d.Identity))
		d.Mutations.ApplyToRequest(r)
		next.ServeHTTP(w, r)
	})
}
