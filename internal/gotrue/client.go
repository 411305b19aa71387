// Package gotrue implements authsvc.Service against a GoTrue-compatible auth
// REST API, keeping the session in a chunked cookie set.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
	"github.com/vitrine-auto/inventory-web/internal/metrics"
)

const (
	apiPrefix = "/auth/v1"

	// maxResponseBytes bounds how much of a response body is read.
	maxResponseBytes = 1 << 20
)

var tracer = otel.Tracer("github.com/vitrine-auto/inventory-web/internal/gotrue")

var (
	_ authsvc.Service    = (*Client)(nil)
	_ authsvc.SSOStarter = (*Client)(nil)
)

// Options configures a Client.
type Options struct {
	// URL is the project base URL, e.g. https://abcd.supabase.co.
	URL string

	// APIKey is the public (anon) API key.
	APIKey string

	// CookieName overrides the default sb-<project-ref>-auth-token name.
	CookieName string

	// Cookie holds the attributes of every cookie the client asks to write.
	Cookie authsvc.CookieOptions

	// Timeout bounds each HTTP call when HTTPClient is nil.
	Timeout time.Duration

	HTTPClient *http.Client
	Metrics    *metrics.Metrics

	// Now is used for expiry checks; defaults to time.Now.
	Now func() time.Time
}

// Client talks to the GoTrue REST API.
type Client struct {
	baseURL    *url.URL
	apiKey     string
	cookieName string
	cookie     authsvc.CookieOptions
	httpClient *http.Client
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New creates a client for the service at opts.URL.
func New(opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid auth url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid auth url: scheme must be http or https")
	}
	if opts.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	name := opts.CookieName
	if name == "" {
		name = DefaultCookieName(u)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	u.Path = strings.TrimRight(u.Path, "/")

	return &Client{
		baseURL:    u,
		apiKey:     opts.APIKey,
		cookieName: name,
		cookie:     opts.Cookie,
		httpClient: httpClient,
		metrics:    opts.Metrics,
		now:        now,
	}, nil
}

// DefaultCookieName derives the session cookie name from the project URL:
// sb-<first host label>-auth-token.
func DefaultCookieName(u *url.URL) string {
	ref := strings.SplitN(u.Hostname(), ".", 2)[0]
	return "sb-" + ref + "-auth-token"
}

// CookieName returns the name of the session cookie.
func (c *Client) CookieName() string {
	return c.cookieName
}

// APIError is an error response from the auth API.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth api: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("auth api: %d: %s", e.Status, e.Message)
}

// IsRejection reports whether err is a definitive refusal by the auth API,
// as opposed to a transport failure or a retryable server error.
func IsRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != http.StatusTooManyRequests
}

type apiErrorBody struct {
	ErrorCode        string `json:"error_code"`
	Error            string `json:"error"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
}

func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))

	apiErr := &APIError{Status: resp.StatusCode}

	var parsed apiErrorBody
	if err := json.Unmarshal(body, &parsed); err == nil {
		apiErr.Code = firstNonEmpty(parsed.ErrorCode, parsed.Error)
		apiErr.Message = firstNonEmpty(parsed.Msg, parsed.Message, parsed.ErrorDescription)
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return apiErr
}

// do sends a request to the auth API and decodes a JSON response into out.
// bearer defaults to the API key when empty.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + apiPrefix + path
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	if bearer == "" {
		bearer = c.apiKey
	}
	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}

// observe starts a span for operation op and returns a function that ends
// it, recording the call duration.
func (c *Client) observe(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "gotrue."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("auth.operation", op)),
	)
	start := c.now()

	return ctx, func(err error) {
		if errors.Is(err, authsvc.ErrNoSession) {
			err = nil
		}
		c.metrics.ServiceCall(op, err, c.now().Sub(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
