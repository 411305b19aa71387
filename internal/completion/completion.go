// Package completion implements the endpoint an auth flow lands on: it
// redeems the authorization code or one-time token hash carried by the
// query string, establishes the session cookies and redirects the caller
// to where they were going.
package completion

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
	"github.com/vitrine-auto/inventory-web/internal/logsanitize"
	"github.com/vitrine-auto/inventory-web/internal/metrics"
)

// ErrorCode is the only failure signal shown to the user.
const ErrorCode = "auth_code_error"

// Options configures a Handler.
type Options struct {
	LoginPath string
	HomePath  string
	Metrics   *metrics.Metrics
}

// Handler serves the completion endpoint.
type Handler struct {
	svc     authsvc.Service
	login   string
	home    string
	metrics *metrics.Metrics
}

// New creates a completion handler. A nil svc makes every completion fail.
func New(svc authsvc.Service, opts Options) *Handler {
	login := opts.LoginPath
	if login == "" {
		login = "/login"
	}
	home := opts.HomePath
	if home == "" {
		home = "/dashboard"
	}
	return &Handler{
		svc:     svc,
		login:   login,
		home:    home,
		metrics: opts.Metrics,
	}
}

// Outcome is the result of one completion request.
type Outcome struct {
	// Location is the redirect target: the destination on success, the
	// login error page otherwise.
	Location  string
	Mutations authsvc.Mutations
	Identity  authsvc.Identity
	// Method names the attempt that succeeded, empty on failure.
	Method string
}

// Succeeded reports whether an attempt established a session.
func (o Outcome) Succeeded() bool {
	return o.Method != ""
}

// attempt tries one kind of completion artifact. attempted is false when the
// query does not carry the artifact, in which case the service is not called.
type attempt struct {
	method string
	run    func(ctx context.Context, svc authsvc.Service, q url.Values, cookies []*http.Cookie) (id authsvc.Identity, muts authsvc.Mutations, attempted bool, err error)
}

var attempts = []attempt{
	{method: "code", run: exchangeCode},
	{method: "token_hash", run: verifyToken},
}

func exchangeCode(ctx context.Context, svc authsvc.Service, q url.Values, cookies []*http.Cookie) (authsvc.Identity, authsvc.Mutations, bool, error) {
	code := q.Get("code")
	if code == "" {
		return authsvc.Anonymous, nil, false, nil
	}
	id, muts, err := svc.ExchangeCode(ctx, cookies, code)
	return id, muts, true, err
}

func verifyToken(ctx context.Context, svc authsvc.Service, q url.Values, cookies []*http.Cookie) (authsvc.Identity, authsvc.Mutations, bool, error) {
	tokenHash := q.Get("token_hash")
	if tokenHash == "" {
		return authsvc.Anonymous, nil, false, nil
	}
	typ, err := authsvc.ParseVerifyType(q.Get("type"))
	if err != nil {
		return authsvc.Anonymous, nil, false, nil
	}
	id, muts, err := svc.VerifyToken(ctx, cookies, tokenHash, typ)
	return id, muts, true, err
}

// Complete runs the attempts in order and stops at the first success.
// Mutations from failed attempts are kept.
func (h *Handler) Complete(ctx context.Context, q url.Values, cookies []*http.Cookie) Outcome {
	dest := h.destination(q)

	if providerErr := q.Get("error"); providerErr != "" {
		slog.Warn("auth provider returned an error", // #nosec G706 -- values sanitized
			"error", logsanitize.Sanitize(providerErr),
			"description", logsanitize.Sanitize(q.Get("error_description")),
		)
	}

	failed := Outcome{Location: h.ErrorLocation()}

	if h.svc == nil {
		slog.Warn("auth completion requested but auth service is not configured")
		h.metrics.Completion("none", "unconfigured")
		return failed
	}

	var muts authsvc.Mutations
	tried := false
	for _, a := range attempts {
		if ctx.Err() != nil {
			break
		}

		id, m, attempted, err := a.run(ctx, h.svc, q, cookies)
		if !attempted {
			continue
		}
		tried = true
		muts = muts.Merge(m)

		if err != nil {
			slog.Info("auth completion attempt failed",
				"method", a.method,
				"error", logsanitize.Sanitize(err.Error()),
			)
			h.metrics.Completion(a.method, "failure")
			continue
		}

		slog.Info("auth completed", "method", a.method, "user_id", id.UserID)
		h.metrics.Completion(a.method, "success")
		return Outcome{Location: dest, Mutations: muts, Identity: id, Method: a.method}
	}

	if !tried {
		slog.Info("auth completion request carried no usable artifact")
		h.metrics.Completion("none", "missing")
	}

	failed.Mutations = muts
	return failed
}

// ServeHTTP answers every completion request with a redirect.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	outcome := h.Complete(r.Context(), r.URL.Query(), r.Cookies())

	if r.Context().Err() != nil {
		slog.Debug("auth completion cancelled", "path", logsanitize.Sanitize(r.URL.Path))
		return
	}

	outcome.Mutations.Apply(w)
	http.Redirect(w, r, outcome.Location, http.StatusFound)
}

// ErrorLocation is the login page carrying the generic failure code.
func (h *Handler) ErrorLocation() string {
	return h.login + "?" + url.Values{"error": {ErrorCode}}.Encode()
}

// destination picks redirectTo, then next, then the home page. Only local
// paths are honoured.
func (h *Handler) destination(q url.Values) string {
	dest := q.Get("redirectTo")
	if dest == "" {
		dest = q.Get("next")
	}
	if !IsLocalPath(dest) {
		return h.home
	}
	return dest
}

// IsLocalPath reports whether p is a path on this origin, rejecting
// protocol-relative and backslash forms browsers treat as another host.
func IsLocalPath(p string) bool {
	if !strings.HasPrefix(p, "/") {
		return false
	}
	if strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return false
	}
	return !strings.ContainsFunc(p, func(r rune) bool {
		return r < 0x20 || r == 0x7f
	})
}
