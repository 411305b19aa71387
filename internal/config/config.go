package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Auth service providers understood by the application.
const (
	ProviderGoTrue = "gotrue"
	ProviderOIDC   = "oidc"
)

// Config represents the complete application configuration
type Config struct {
	Listen    ListenConfig    `yaml:"listen"`
	Auth      AuthConfig      `yaml:"auth"`
	OIDC      OIDCConfig      `yaml:"oidc"`
	Cookie    CookieConfig    `yaml:"cookie"`
	Routes    RoutesConfig    `yaml:"routes"`
	App       AppConfig       `yaml:"app"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	TLS       TLSConfig       `yaml:"tls"`
	Log       LogConfig       `yaml:"log"`
}

// ListenConfig defines where the server listens for requests
type ListenConfig struct {
	HTTP string `yaml:"http"` // HTTP server address (e.g., ":8080")
}

// AuthConfig defines how the external auth service is reached.
// URL and PublicKey are both required for session gating; when either is
// empty the application runs with gating disabled.
type AuthConfig struct {
	Provider  string `yaml:"provider"`   // gotrue or oidc
	URL       string `yaml:"url"`        // service endpoint (GoTrue base URL or OIDC issuer)
	PublicKey string `yaml:"public_key"` // public API key (GoTrue anon key or OIDC client ID)
	Timeout   int    `yaml:"timeout"`    // per-call HTTP timeout in seconds
}

// OIDCConfig holds settings only used by the oidc provider
type OIDCConfig struct {
	ClientSecret  string   `yaml:"client_secret"`  // empty for public clients
	Scopes        []string `yaml:"scopes"`         // OIDC scopes
	RequiredRoles []string `yaml:"required_roles"` // any of these roles grants a session
	RoleClaim     string   `yaml:"role_claim"`     // dot path to roles in token
	EmailClaim    string   `yaml:"email_claim"`    // claim holding the user email
}

// CookieConfig defines attributes of the session cookies written on behalf
// of the auth service
type CookieConfig struct {
	Name     string `yaml:"name"`      // overrides the provider's default cookie name
	Domain   string `yaml:"domain"`    // cookie domain (empty = host only)
	Secure   bool   `yaml:"secure"`    // set the Secure attribute
	SameSite string `yaml:"same_site"` // lax, strict, none
	MaxAge   int    `yaml:"max_age"`   // cookie lifetime in seconds
}

// RoutesConfig partitions the path space and names the auth pages
type RoutesConfig struct {
	Protected []string `yaml:"protected"` // prefixes requiring a session
	AuthOnly  []string `yaml:"auth_only"` // login/registration pages
	Skip      []string `yaml:"skip"`      // prefixes the gatekeeper never sees
	Login     string   `yaml:"login"`     // login page
	Home      string   `yaml:"home"`      // authenticated home page
	Callback  string   `yaml:"callback"`  // auth completion endpoint
	SSO       string   `yaml:"sso"`       // SSO start endpoint
}

// AppConfig describes the UI application sitting behind the gatekeeper
type AppConfig struct {
	Upstream  string `yaml:"upstream"`   // UI server to proxy allowed requests to
	PublicURL string `yaml:"public_url"` // externally visible base URL of this server
}

// RateLimitConfig limits auth endpoints per client IP
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TLSConfig defines TLS settings for the HTTP server
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LogConfig defines logging settings
type LogConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, text
	File       string `yaml:"file"`        // optional rotating log file
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotate after this size
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads and parses the configuration file. An empty path loads the
// defaults, so the server can be configured from the environment alone.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// IsNotExist reports whether err comes from a missing config file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			HTTP: ":8080",
		},
		Auth: AuthConfig{
			Provider: ProviderGoTrue,
			Timeout:  10,
		},
		OIDC: OIDCConfig{
			Scopes:     []string{"openid", "profile", "email"},
			RoleClaim:  "realm_access.roles",
			EmailClaim: "email",
		},
		Cookie: CookieConfig{
			Secure:   true,
			SameSite: "lax",
			MaxAge:   400 * 24 * 60 * 60, // 400 days
		},
		Routes: RoutesConfig{
			Protected: []string{"/dashboard"},
			AuthOnly:  []string{"/login", "/register"},
			Skip:      []string{"/static/", "/_next/", "/favicon.ico"},
			Login:     "/login",
			Home:      "/dashboard",
			Callback:  "/auth/callback",
			SSO:       "/auth/sso",
		},
		RateLimit: RateLimitConfig{
			RPS:   10,
			Burst: 50,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// Auth overrides
	if v := os.Getenv("INVENTORY_AUTH_PROVIDER"); v != "" {
		c.Auth.Provider = v
	}
	if v := os.Getenv("INVENTORY_AUTH_URL"); v != "" {
		c.Auth.URL = v
	}
	if v := os.Getenv("INVENTORY_AUTH_PUBLIC_KEY"); v != "" {
		c.Auth.PublicKey = v
	}
	if v := os.Getenv("INVENTORY_OIDC_CLIENT_SECRET"); v != "" {
		c.OIDC.ClientSecret = v
	}

	// Cookie overrides
	if v := os.Getenv("INVENTORY_COOKIE_SECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Cookie.Secure = b
		}
	}

	// App overrides
	if v := os.Getenv("INVENTORY_APP_UPSTREAM"); v != "" {
		c.App.Upstream = v
	}
	if v := os.Getenv("INVENTORY_APP_PUBLIC_URL"); v != "" {
		c.App.PublicURL = v
	}

	// Log overrides
	if v := os.Getenv("INVENTORY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("INVENTORY_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}

	// Listen overrides
	if v := os.Getenv("INVENTORY_LISTEN_HTTP"); v != "" {
		c.Listen.HTTP = v
	}
}

// AuthEnabled reports whether both values required to reach the auth
// service are present.
func (c *Config) AuthEnabled() bool {
	return c.Auth.URL != "" && c.Auth.PublicKey != ""
}

// CallbackURL returns the absolute URL of the completion endpoint, or an
// empty string when no public URL is configured.
func (c *Config) CallbackURL() string {
	if c.App.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(c.App.PublicURL, "/") + c.Routes.Callback
}

// SameSiteMode maps the configured same_site value to its net/http constant.
func (c *CookieConfig) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Validate auth config
	if c.Auth.Provider != ProviderGoTrue && c.Auth.Provider != ProviderOIDC {
		return fmt.Errorf("auth.provider must be one of: %s, %s", ProviderGoTrue, ProviderOIDC)
	}
	if c.Auth.URL != "" && !isHTTPURL(c.Auth.URL) {
		return fmt.Errorf("auth.url must be a valid HTTP(S) URL")
	}
	if c.Auth.Timeout <= 0 {
		return fmt.Errorf("auth.timeout must be positive")
	}

	// Validate OIDC config, only relevant when gating through an OIDC provider
	if c.Auth.Provider == ProviderOIDC && c.AuthEnabled() {
		if c.App.PublicURL == "" {
			return fmt.Errorf("app.public_url is required for the oidc provider")
		}
		hasOpenID := false
		for _, scope := range c.OIDC.Scopes {
			if scope == "openid" {
				hasOpenID = true
				break
			}
		}
		if !hasOpenID {
			return fmt.Errorf("oidc.scopes must include 'openid'")
		}
		if c.OIDC.EmailClaim == "" {
			return fmt.Errorf("oidc.email_claim is required")
		}
	}

	// Validate cookie config
	validSameSite := map[string]bool{
		"lax":    true,
		"strict": true,
		"none":   true,
	}
	if !validSameSite[strings.ToLower(c.Cookie.SameSite)] {
		return fmt.Errorf("cookie.same_site must be one of: lax, strict, none")
	}
	if strings.EqualFold(c.Cookie.SameSite, "none") && !c.Cookie.Secure {
		return fmt.Errorf("cookie.same_site=none requires cookie.secure")
	}
	if c.Cookie.MaxAge <= 0 {
		return fmt.Errorf("cookie.max_age must be positive")
	}

	// Validate routes
	for name, p := range map[string]string{
		"routes.login":    c.Routes.Login,
		"routes.home":     c.Routes.Home,
		"routes.callback": c.Routes.Callback,
		"routes.sso":      c.Routes.SSO,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("%s must be an absolute path", name)
		}
	}
	for _, list := range [][]string{c.Routes.Protected, c.Routes.AuthOnly, c.Routes.Skip} {
		for _, p := range list {
			if !strings.HasPrefix(p, "/") {
				return fmt.Errorf("route %q must be an absolute path", p)
			}
		}
	}

	// Validate app config
	if c.App.Upstream != "" && !isHTTPURL(c.App.Upstream) {
		return fmt.Errorf("app.upstream must be a valid HTTP(S) URL")
	}
	if c.App.PublicURL != "" && !isHTTPURL(c.App.PublicURL) {
		return fmt.Errorf("app.public_url must be a valid HTTP(S) URL")
	}

	// Validate rate limit config
	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("rate_limit.rps and rate_limit.burst must be positive")
	}

	// Validate TLS config
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}

		if _, err := os.Stat(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file not found: %w", err)
		}
		if _, err := os.Stat(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file not found: %w", err)
		}
	}

	// Validate log config
	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
	}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: json, text")
	}

	// Validate listen config
	if c.Listen.HTTP == "" {
		return fmt.Errorf("listen.http is required")
	}

	return nil
}

// Redact returns a deep-enough copy of the config with secrets redacted for safe logging
func (c *Config) Redact() *Config {
	redacted := *c
	// Deep copy slices to avoid sharing underlying arrays with the original
	redacted.OIDC.Scopes = cloneStrings(c.OIDC.Scopes)
	redacted.OIDC.RequiredRoles = cloneStrings(c.OIDC.RequiredRoles)
	redacted.Routes.Protected = cloneStrings(c.Routes.Protected)
	redacted.Routes.AuthOnly = cloneStrings(c.Routes.AuthOnly)
	redacted.Routes.Skip = cloneStrings(c.Routes.Skip)

	if redacted.OIDC.ClientSecret != "" {
		redacted.OIDC.ClientSecret = "[REDACTED]"
	}
	if redacted.Auth.PublicKey != "" {
		redacted.Auth.PublicKey = "[SET]"
	}
	return &redacted
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
