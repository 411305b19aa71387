package httpserver

import (
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/vitrine-auto/inventory-web/internal/logsanitize"
)

// loggingMiddleware logs HTTP requests
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Info("http request", // #nosec G706 -- values sanitized
			"request_id", middleware.GetReqID(r.Context()),
			"method", logsanitize.Sanitize(r.Method),
			"path", logsanitize.Sanitize(r.URL.Path),
			"status", ww.Status(),
			"remote_addr", logsanitize.Sanitize(r.RemoteAddr),
			"user_agent", logsanitize.Sanitize(r.Header.Get("User-Agent")),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// recoveryMiddleware recovers from panics
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				slog.Error("panic recovered",
					"request_id", middleware.GetReqID(r.Context()),
					"error", err,
					"stack", string(debug.Stack()),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// ipEntry stores a rate limiter and the last time it was accessed.
type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter implements per-IP rate limiting with TTL-based eviction.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipEntry
	rate     rate.Limit
	burst    int
	ttl      time.Duration // entries are evicted after this duration of inactivity
	maxSize  int           // maximum number of tracked IPs
	stop     chan struct{}
	stopOnce sync.Once
}

func newIPRateLimiter(rps float64, burst int) *IPRateLimiter {
	rl := &IPRateLimiter{
		limiters: make(map[string]*ipEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		ttl:      5 * time.Minute,
		maxSize:  10000,
		stop:     make(chan struct{}),
	}

	// Start background eviction goroutine
	go rl.evictLoop()

	return rl
}

// Allow reports whether a request from ip may proceed.
func (i *IPRateLimiter) Allow(ip string) bool {
	return i.getLimiter(ip).Allow()
}

// Stop ends the eviction goroutine.
func (i *IPRateLimiter) Stop() {
	i.stopOnce.Do(func() { close(i.stop) })
}

func (i *IPRateLimiter) getLimiter(ip string) *rate.Limiter {
	i.mu.Lock()
	defer i.mu.Unlock()

	entry, exists := i.limiters[ip]
	if exists {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	// Evict oldest entries if at capacity
	if len(i.limiters) >= i.maxSize {
		i.evictOldest()
	}

	limiter := rate.NewLimiter(i.rate, i.burst)
	i.limiters[ip] = &ipEntry{
		limiter:  limiter,
		lastSeen: time.Now(),
	}

	return limiter
}

// evictLoop periodically removes stale entries.
func (i *IPRateLimiter) evictLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-i.stop:
			return
		case <-ticker.C:
			i.evictStale(time.Now())
		}
	}
}

func (i *IPRateLimiter) evictStale(now time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()

	for ip, entry := range i.limiters {
		if now.Sub(entry.lastSeen) > i.ttl {
			delete(i.limiters, ip)
		}
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (i *IPRateLimiter) evictOldest() {
	var oldestIP string
	var oldestTime time.Time

	for ip, entry := range i.limiters {
		if oldestIP == "" || entry.lastSeen.Before(oldestTime) {
			oldestIP = ip
			oldestTime = entry.lastSeen
		}
	}

	if oldestIP != "" {
		delete(i.limiters, oldestIP)
	}
}

// rateLimitMiddleware limits the auth endpoints per client IP.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractIP(r)

		if !s.limiter.Allow(ip) {
			slog.Warn("rate limit exceeded", // #nosec G706 -- values sanitized
				"ip", logsanitize.Sanitize(ip),
				"path", logsanitize.Sanitize(r.URL.Path),
			)
			s.deps.Metrics.RateLimited(r.URL.Path)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractIP extracts the client IP from the request.
// Only uses RemoteAddr to prevent spoofing via X-Forwarded-For.
func extractIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// securityHeadersMiddleware adds security headers to responses
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Prevent clickjacking
		w.Header().Set("X-Frame-Options", "DENY")

		// Prevent MIME sniffing
		w.Header().Set("X-Content-Type-Options", "nosniff")

		// Referrer policy; the completion query carries one-time credentials
		w.Header().Set("Referrer-Policy", "no-referrer")

		// HTTPS strict transport security (if using TLS)
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}
