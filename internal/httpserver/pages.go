package httpserver

import (
	"log/slog"
	"net/http"
)

// renderError renders the error page with the given status
func (s *Server) renderError(w http.ResponseWriter, status int, message string) {
	data := map[string]string{
		"Title":   http.StatusText(status),
		"Message": message,
		"Login":   s.cfg.Routes.Login,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := s.templates.ExecuteTemplate(w, "error.html", data); err != nil {
		slog.Error("failed to render error template", "error", err)
	}
}
