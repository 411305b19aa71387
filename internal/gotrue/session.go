package gotrue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
)

// refreshMargin is how close to expiry an access token may get before
// GetUser refreshes it.
const refreshMargin = 90 * time.Second

// verifierMaxAge bounds how long a started SSO flow may take.
const verifierMaxAge = int(time.Hour / time.Second)

// Session is the token set persisted in the session cookie.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// User is the subset of the auth user record the application needs.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (u *User) identity() authsvc.Identity {
	if u == nil {
		return authsvc.Anonymous
	}
	return authsvc.Identity{UserID: u.ID, Email: u.Email}
}

func (s *Session) expiresWithin(now time.Time, d time.Duration) bool {
	if s.ExpiresAt == 0 {
		return false
	}
	return !now.Add(d).Before(time.Unix(s.ExpiresAt, 0))
}

// GetUser validates the session cookie against the auth API, refreshing it
// first when the access token is within refreshMargin of expiry.
func (c *Client) GetUser(ctx context.Context, cookies []*http.Cookie) (id authsvc.Identity, muts authsvc.Mutations, err error) {
	ctx, done := c.observe(ctx, "get_user")
	defer func() { done(err) }()

	raw := authsvc.ReadChunked(cookies, c.cookieName)
	if raw == "" {
		return authsvc.Anonymous, nil, authsvc.ErrNoSession
	}

	var sess Session
	if err := decodeValue(raw, &sess); err != nil || sess.AccessToken == "" {
		return authsvc.Anonymous, authsvc.ClearChunked(cookies, c.cookieName, c.cookie),
			fmt.Errorf("malformed session cookie")
	}

	if sess.expiresWithin(c.now(), refreshMargin) {
		refreshed, err := c.refresh(ctx, sess.RefreshToken)
		if err != nil {
			if IsRejection(err) {
				muts = authsvc.ClearChunked(cookies, c.cookieName, c.cookie)
			}
			return authsvc.Anonymous, muts, fmt.Errorf("refresh session: %w", err)
		}
		sess = *refreshed
		muts, err = c.storeSession(cookies, &sess)
		if err != nil {
			return authsvc.Anonymous, nil, err
		}
	}

	var user User
	if err := c.do(ctx, http.MethodGet, "/user", nil, nil, sess.AccessToken, &user); err != nil {
		return authsvc.Anonymous, muts, fmt.Errorf("get user: %w", err)
	}
	if user.ID == "" {
		return authsvc.Anonymous, muts, fmt.Errorf("get user: response has no user id")
	}

	return user.identity(), muts, nil
}

// ExchangeCode trades an authorization code and the PKCE verifier stored
// at flow start for a session. The verifier cookie is cleared whatever the
// outcome.
func (c *Client) ExchangeCode(ctx context.Context, cookies []*http.Cookie, code string) (id authsvc.Identity, muts authsvc.Mutations, err error) {
	ctx, done := c.observe(ctx, "exchange_code")
	defer func() { done(err) }()

	verifierName := c.cookieName + verifierSuffix
	muts = authsvc.ClearChunked(cookies, verifierName, c.cookie)

	verifier := decodeVerifier(authsvc.ReadChunked(cookies, verifierName))
	if verifier == "" {
		return authsvc.Anonymous, muts, authsvc.ErrCodeVerifierMissing
	}

	var sess Session
	body := map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	}
	query := url.Values{"grant_type": {"pkce"}}
	if err := c.do(ctx, http.MethodPost, "/token", query, body, "", &sess); err != nil {
		return authsvc.Anonymous, muts, fmt.Errorf("exchange code: %w", err)
	}

	stored, err := c.storeSession(cookies, &sess)
	if err != nil {
		return authsvc.Anonymous, muts, err
	}
	return sess.User.identity(), muts.Merge(stored), nil
}

// VerifyToken redeems a one-time token hash from an email link.
func (c *Client) VerifyToken(ctx context.Context, cookies []*http.Cookie, tokenHash string, typ authsvc.VerifyType) (id authsvc.Identity, muts authsvc.Mutations, err error) {
	ctx, done := c.observe(ctx, "verify_token")
	defer func() { done(err) }()

	var sess Session
	body := map[string]string{
		"type":       string(typ),
		"token_hash": tokenHash,
	}
	if err := c.do(ctx, http.MethodPost, "/verify", nil, body, "", &sess); err != nil {
		return authsvc.Anonymous, nil, fmt.Errorf("verify token: %w", err)
	}
	if sess.AccessToken == "" {
		return authsvc.Anonymous, nil, fmt.Errorf("verify token: response has no session")
	}

	muts, err = c.storeSession(cookies, &sess)
	if err != nil {
		return authsvc.Anonymous, nil, err
	}
	return sess.User.identity(), muts, nil
}

// StartSSO returns the authorize URL for provider and the mutation storing
// the PKCE verifier that ExchangeCode later consumes.
func (c *Client) StartSSO(ctx context.Context, provider, callbackURL string) (location string, muts authsvc.Mutations, err error) {
	_, done := c.observe(ctx, "start_sso")
	defer func() { done(err) }()

	if provider == "" {
		return "", nil, fmt.Errorf("sso provider is required")
	}

	verifier := oauth2.GenerateVerifier()

	value, err := encodeValue(verifier)
	if err != nil {
		return "", nil, err
	}

	u := *c.baseURL
	u.Path = c.baseURL.Path + apiPrefix + "/authorize"
	u.RawQuery = url.Values{
		"provider":              {provider},
		"redirect_to":           {callbackURL},
		"code_challenge":        {oauth2.S256ChallengeFromVerifier(verifier)},
		"code_challenge_method": {"s256"},
	}.Encode()

	opts := c.cookie
	opts.MaxAge = verifierMaxAge
	return u.String(), authsvc.Mutations{authsvc.SetCookie(c.cookieName+verifierSuffix, value, opts)}, nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*Session, error) {
	if refreshToken == "" {
		return nil, &APIError{Status: http.StatusBadRequest, Code: "refresh_token_not_found", Message: "session has no refresh token"}
	}

	var sess Session
	query := url.Values{"grant_type": {"refresh_token"}}
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/token", query, body, "", &sess); err != nil {
		return nil, err
	}
	if sess.AccessToken == "" {
		return nil, errors.New("refresh response has no access token")
	}
	return &sess, nil
}

// storeSession encodes sess into the session cookie set.
func (c *Client) storeSession(cookies []*http.Cookie, sess *Session) (authsvc.Mutations, error) {
	if sess.ExpiresAt == 0 && sess.ExpiresIn > 0 {
		sess.ExpiresAt = c.now().Unix() + sess.ExpiresIn
	}
	value, err := encodeValue(sess)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return authsvc.WriteChunked(cookies, c.cookieName, value, c.cookie), nil
}

// decodeVerifier accepts the verifier as written by StartSSO, as a bare
// string, or with a trailing /<flow type> marker.
func decodeVerifier(raw string) string {
	if raw == "" {
		return ""
	}
	var verifier string
	if err := decodeValue(raw, &verifier); err != nil {
		verifier = raw
	}
	verifier, _, _ = strings.Cut(verifier, "/")
	return verifier
}
