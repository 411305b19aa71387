package httpserver

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vitrine-auto/inventory-web/internal/gate"
	"github.com/vitrine-auto/inventory-web/internal/logsanitize"
)

// Identity headers set on requests forwarded to the UI server.
const (
	HeaderUserID    = "X-Auth-User-Id"
	HeaderUserEmail = "X-Auth-User-Email"
)

func newUpstreamProxy(upstream string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(upstream)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = target.Host

		// Identity headers come from the gatekeeper only.
		req.Header.Del(HeaderUserID)
		req.Header.Del(HeaderUserEmail)

		if id := gate.IdentityFromContext(req.Context()); id.Authenticated() {
			req.Header.Set(HeaderUserID, id.UserID)
			req.Header.Set(HeaderUserEmail, id.Email)
		}
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		slog.Error("upstream request failed", // #nosec G706 -- values sanitized
			"request_id", middleware.GetReqID(r.Context()),
			"path", logsanitize.Sanitize(r.URL.Path),
			"error", err,
		)
		w.WriteHeader(http.StatusBadGateway)
	}

	return proxy, nil
}

// handleApp forwards gated requests to the UI server.
func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	if s.proxy == nil {
		s.renderError(w, http.StatusNotFound, "Page not found.")
		return
	}
	s.proxy.ServeHTTP(w, r)
}
