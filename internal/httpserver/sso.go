package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/vitrine-auto/inventory-web/internal/completion"
	"github.com/vitrine-auto/inventory-web/internal/logsanitize"
)

// handleSSO starts a provider sign-in. The provider sends the browser back
// to the completion endpoint with a code; a local redirectTo is carried on
// the callback URL so completion can land the user where they were going.
func (s *Server) handleSSO(w http.ResponseWriter, r *http.Request) {
	if s.deps.SSO == nil {
		s.renderError(w, http.StatusNotFound, "Single sign-on is not available.")
		return
	}

	q := r.URL.Query()
	callback := s.callbackURL(r)
	if dest := q.Get("redirectTo"); completion.IsLocalPath(dest) {
		callback += "?" + url.Values{"redirectTo": {dest}}.Encode()
	}

	location, muts, err := s.deps.SSO.StartSSO(r.Context(), q.Get("provider"), callback)
	if r.Context().Err() != nil {
		return
	}

	muts.Apply(w)

	if err != nil {
		slog.Warn("failed to start sso", // #nosec G706 -- values sanitized
			"provider", logsanitize.Sanitize(q.Get("provider")),
			"error", logsanitize.Sanitize(err.Error()),
		)
		http.Redirect(w, r, s.deps.Completion.ErrorLocation(), http.StatusFound)
		return
	}

	http.Redirect(w, r, location, http.StatusFound)
}

// callbackURL is the absolute completion URL. Without a configured public
// URL it is derived from the request.
func (s *Server) callbackURL(r *http.Request) string {
	if u := s.cfg.CallbackURL(); u != "" {
		return u
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return (&url.URL{Scheme: scheme, Host: r.Host, Path: s.cfg.Routes.Callback}).String()
}
