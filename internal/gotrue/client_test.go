package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
)

const (
	testAPIKey     = "anon-key"
	testCookieName = "sb-test-auth-token"
)

var testNow = time.Unix(1_700_000_000, 0)

// fakeAuthAPI is an in-memory stand-in for the auth REST API.
type fakeAuthAPI struct {
	t *testing.T

	mu            sync.Mutex
	calls         []string
	users         map[string]User    // access token -> user
	refreshTokens map[string]Session // refresh token -> new session
	codes         map[string]Session // code + "|" + verifier -> session
	tokenHashes   map[string]Session // type + "|" + token hash -> session
	refreshStatus int                // forced status for refresh calls
	lastBody      map[string]string
}

func newFakeAuthAPI(t *testing.T) (*fakeAuthAPI, *httptest.Server) {
	t.Helper()
	f := &fakeAuthAPI{
		t:             t,
		users:         map[string]User{},
		refreshTokens: map[string]Session{},
		codes:         map[string]Session{},
		tokenHashes:   map[string]Session{},
	}
	ts := httptest.NewServer(http.HandlerFunc(f.serveHTTP))
	t.Cleanup(ts.Close)
	return f, ts
}

func (f *fakeAuthAPI) serveHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, r.Method+" "+r.URL.Path+"?"+r.URL.RawQuery)

	if r.Header.Get("apikey") != testAPIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid api key"})
		return
	}

	var body map[string]string
	if r.Body != nil && r.Method == http.MethodPost {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.lastBody = body

	switch {
	case r.URL.Path == "/auth/v1/user":
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		user, ok := f.users[token]
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": 401, "error_code": "bad_jwt", "msg": "invalid JWT"})
			return
		}
		writeJSON(w, http.StatusOK, user)

	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		if f.refreshStatus != 0 {
			writeJSON(w, f.refreshStatus, map[string]string{"error": "refresh_failed", "error_description": "forced"})
			return
		}
		sess, ok := f.refreshTokens[body["refresh_token"]]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "refresh_token_not_found", "msg": "Invalid Refresh Token"})
			return
		}
		writeJSON(w, http.StatusOK, sess)

	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "pkce":
		sess, ok := f.codes[body["auth_code"]+"|"+body["code_verifier"]]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error_code": "flow_state_not_found", "msg": "invalid flow state"})
			return
		}
		writeJSON(w, http.StatusOK, sess)

	case r.URL.Path == "/auth/v1/verify":
		sess, ok := f.tokenHashes[body["type"]+"|"+body["token_hash"]]
		if !ok {
			writeJSON(w, http.StatusForbidden, map[string]string{"error_code": "otp_expired", "msg": "Email link is invalid or has expired"})
			return
		}
		writeJSON(w, http.StatusOK, sess)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAuthAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Options{
		URL:        baseURL,
		APIKey:     testAPIKey,
		CookieName: testCookieName,
		Cookie:     authsvc.CookieOptions{Path: "/", HTTPOnly: true, SameSite: http.SameSiteLaxMode},
		Now:        func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return c
}

func sessionCookies(t *testing.T, sess Session) []*http.Cookie {
	t.Helper()
	value, err := encodeValue(sess)
	require.NoError(t, err)
	return authsvc.WriteChunked(nil, testCookieName, value, authsvc.CookieOptions{})
}

func findCookie(muts authsvc.Mutations, name string) *http.Cookie {
	for _, c := range muts {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeSessionCookie(t *testing.T, muts authsvc.Mutations) Session {
	t.Helper()
	var sess Session
	require.NoError(t, decodeValue(authsvc.ReadChunked(muts, testCookieName), &sess))
	return sess
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "valid", opts: Options{URL: "https://abcd.supabase.co", APIKey: "k"}},
		{name: "bad scheme", opts: Options{URL: "ftp://abcd", APIKey: "k"}, wantErr: "scheme"},
		{name: "missing key", opts: Options{URL: "https://abcd.supabase.co"}, wantErr: "api key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.opts)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "sb-abcd-auth-token", c.CookieName())
		})
	}
}

func TestDefaultCookieName(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: "https://xyzcompany.supabase.co", want: "sb-xyzcompany-auth-token"},
		{raw: "http://localhost:54321", want: "sb-localhost-auth-token"},
		{raw: "https://auth.example.com/base", want: "sb-auth-auth-token"},
	}

	for _, tt := range tests {
		u, err := url.Parse(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, DefaultCookieName(u), tt.raw)
	}
}

func TestGetUser_NoSessionCookie(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	c := newTestClient(t, ts.URL)

	id, muts, err := c.GetUser(context.Background(), []*http.Cookie{{Name: "other", Value: "x"}})

	assert.ErrorIs(t, err, authsvc.ErrNoSession)
	assert.False(t, id.Authenticated())
	assert.Empty(t, muts)
	assert.Zero(t, fake.callCount())
}

func TestGetUser_ValidSession(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	fake.users["access-1"] = User{ID: "user-1", Email: "dealer@example.com"}
	c := newTestClient(t, ts.URL)

	cookies := sessionCookies(t, Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    testNow.Add(time.Hour).Unix(),
	})

	first, muts, err := c.GetUser(context.Background(), cookies)
	require.NoError(t, err)
	assert.Empty(t, muts)
	assert.Equal(t, authsvc.Identity{UserID: "user-1", Email: "dealer@example.com"}, first)

	second, _, err := c.GetUser(context.Background(), cookies)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGetUser_ChunkedSession(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	longToken := strings.Repeat("a", 5000)
	fake.users[longToken] = User{ID: "user-1"}
	c := newTestClient(t, ts.URL)

	cookies := sessionCookies(t, Session{
		AccessToken: longToken,
		ExpiresAt:   testNow.Add(time.Hour).Unix(),
	})
	require.Greater(t, len(cookies), 1)
	assert.Equal(t, testCookieName+".0", cookies[0].Name)

	id, _, err := c.GetUser(context.Background(), cookies)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
}

func TestGetUser_RefreshesNearExpiry(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	fake.refreshTokens["refresh-1"] = Session{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresIn:    3600,
		User:         &User{ID: "user-1"},
	}
	fake.users["access-2"] = User{ID: "user-1", Email: "dealer@example.com"}
	c := newTestClient(t, ts.URL)

	cookies := sessionCookies(t, Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    testNow.Add(30 * time.Second).Unix(),
	})

	id, muts, err := c.GetUser(context.Background(), cookies)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)

	stored := decodeSessionCookie(t, muts)
	assert.Equal(t, "access-2", stored.AccessToken)
	assert.Equal(t, "refresh-2", stored.RefreshToken)
	assert.Equal(t, testNow.Unix()+3600, stored.ExpiresAt)
}

func TestGetUser_Idempotent(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	fake.refreshTokens["refresh-1"] = Session{
		AccessToken:  "access-2",
		RefreshToken: "refresh-2",
		ExpiresIn:    3600,
		User:         &User{ID: "user-1"},
	}
	fake.users["access-2"] = User{ID: "user-1", Email: "dealer@example.com"}
	c := newTestClient(t, ts.URL)

	cookies := sessionCookies(t, Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    testNow.Add(30 * time.Second).Unix(),
	})

	first, firstMuts, err := c.GetUser(context.Background(), cookies)
	require.NoError(t, err)
	second, secondMuts, err := c.GetUser(context.Background(), cookies)
	require.NoError(t, err)

	assert.Equal(t, authsvc.Identity{UserID: "user-1", Email: "dealer@example.com"}, first)
	assert.Equal(t, first, second)

	require.NotEmpty(t, firstMuts)
	require.NotEmpty(t, secondMuts)
	assert.Equal(t, firstMuts.Names(), secondMuts.Names())
	assert.Equal(t, decodeSessionCookie(t, firstMuts), decodeSessionCookie(t, secondMuts))

	// The input cookies are read-only.
	assert.Equal(t, sessionCookies(t, Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    testNow.Add(30 * time.Second).Unix(),
	}), cookies)
}

func TestGetUser_RefreshRejectedClearsSession(t *testing.T) {
	_, ts := newFakeAuthAPI(t)
	c := newTestClient(t, ts.URL)

	cookies := sessionCookies(t, Session{
		AccessToken:  "access-1",
		RefreshToken: "revoked",
		ExpiresAt:    testNow.Add(-time.Minute).Unix(),
	})

	id, muts, err := c.GetUser(context.Background(), cookies)
	require.Error(t, err)
	assert.True(t, IsRejection(err))
	assert.False(t, id.Authenticated())

	deleted := findCookie(muts, testCookieName)
	require.NotNil(t, deleted)
	assert.Equal(t, -1, deleted.MaxAge)
}

func TestGetUser_RefreshUnavailableKeepsSession(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	fake.refreshStatus = http.StatusServiceUnavailable
	c := newTestClient(t, ts.URL)

	cookies := sessionCookies(t, Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresAt:    testNow.Add(-time.Minute).Unix(),
	})

	_, muts, err := c.GetUser(context.Background(), cookies)
	require.Error(t, err)
	assert.False(t, IsRejection(err))
	assert.Empty(t, muts)
}

func TestGetUser_InvalidAccessToken(t *testing.T) {
	_, ts := newFakeAuthAPI(t)
	c := newTestClient(t, ts.URL)

	cookies := sessionCookies(t, Session{
		AccessToken: "forged",
		ExpiresAt:   testNow.Add(time.Hour).Unix(),
	})

	id, muts, err := c.GetUser(context.Background(), cookies)
	require.Error(t, err)
	assert.False(t, id.Authenticated())
	assert.Empty(t, muts)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "bad_jwt", apiErr.Code)
	assert.Equal(t, "invalid JWT", apiErr.Message)
}

func TestGetUser_MalformedCookieIsCleared(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	c := newTestClient(t, ts.URL)

	_, muts, err := c.GetUser(context.Background(), []*http.Cookie{{Name: testCookieName, Value: "base64-!!!"}})
	require.Error(t, err)
	require.NotNil(t, findCookie(muts, testCookieName))
	assert.Zero(t, fake.callCount())
}

func TestGetUser_TransportFailure(t *testing.T) {
	_, ts := newFakeAuthAPI(t)
	c := newTestClient(t, ts.URL)
	ts.Close()

	cookies := sessionCookies(t, Session{AccessToken: "access-1", ExpiresAt: testNow.Add(time.Hour).Unix()})

	id, muts, err := c.GetUser(context.Background(), cookies)
	require.Error(t, err)
	assert.False(t, id.Authenticated())
	assert.Empty(t, muts)
}

func TestExchangeCode(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	fake.codes["good-code|verifier-1"] = Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    3600,
		User:         &User{ID: "user-1", Email: "dealer@example.com"},
	}
	c := newTestClient(t, ts.URL)

	verifierValue, err := encodeValue("verifier-1")
	require.NoError(t, err)
	cookies := []*http.Cookie{{Name: testCookieName + verifierSuffix, Value: verifierValue}}

	t.Run("valid code", func(t *testing.T) {
		id, muts, err := c.ExchangeCode(context.Background(), cookies, "good-code")
		require.NoError(t, err)
		assert.Equal(t, authsvc.Identity{UserID: "user-1", Email: "dealer@example.com"}, id)

		verifier := findCookie(muts, testCookieName+verifierSuffix)
		require.NotNil(t, verifier)
		assert.Equal(t, -1, verifier.MaxAge)

		stored := decodeSessionCookie(t, muts)
		assert.Equal(t, "access-1", stored.AccessToken)
	})

	t.Run("invalid code clears verifier", func(t *testing.T) {
		id, muts, err := c.ExchangeCode(context.Background(), cookies, "bad-code")
		require.Error(t, err)
		assert.False(t, id.Authenticated())
		require.Len(t, muts, 1)
		assert.Equal(t, testCookieName+verifierSuffix, muts[0].Name)
		assert.Equal(t, -1, muts[0].MaxAge)
	})

	t.Run("missing verifier", func(t *testing.T) {
		before := fake.callCount()
		_, muts, err := c.ExchangeCode(context.Background(), nil, "good-code")
		assert.ErrorIs(t, err, authsvc.ErrCodeVerifierMissing)
		assert.Empty(t, muts)
		assert.Equal(t, before, fake.callCount())
	})
}

func TestVerifyToken(t *testing.T) {
	fake, ts := newFakeAuthAPI(t)
	fake.tokenHashes["recovery|abc"] = Session{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		ExpiresIn:    3600,
		User:         &User{ID: "user-1"},
	}
	c := newTestClient(t, ts.URL)

	id, muts, err := c.VerifyToken(context.Background(), nil, "abc", authsvc.VerifyRecovery)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.NotNil(t, findCookie(muts, testCookieName))
	assert.Equal(t, map[string]string{"type": "recovery", "token_hash": "abc"}, fake.lastBody)

	_, muts, err = c.VerifyToken(context.Background(), nil, "abc", authsvc.VerifyEmail)
	require.Error(t, err)
	assert.True(t, IsRejection(err))
	assert.Empty(t, muts)
}

func TestStartSSO(t *testing.T) {
	_, ts := newFakeAuthAPI(t)
	c := newTestClient(t, ts.URL)

	location, muts, err := c.StartSSO(context.Background(), "google", "https://app.example.com/auth/callback")
	require.NoError(t, err)

	u, err := url.Parse(location)
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "google", q.Get("provider"))
	assert.Equal(t, "https://app.example.com/auth/callback", q.Get("redirect_to"))
	assert.Equal(t, "s256", q.Get("code_challenge_method"))

	require.Len(t, muts, 1)
	assert.Equal(t, testCookieName+verifierSuffix, muts[0].Name)
	assert.Equal(t, verifierMaxAge, muts[0].MaxAge)

	verifier := decodeVerifier(muts[0].Value)
	require.NotEmpty(t, verifier)
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), q.Get("code_challenge"))

	_, _, err = c.StartSSO(context.Background(), "", "https://app.example.com/auth/callback")
	assert.Error(t, err)
}

func TestIsRejection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "bad request", err: &APIError{Status: 400}, want: true},
		{name: "wrapped unauthorized", err: errors.Join(errors.New("ctx"), &APIError{Status: 401}), want: true},
		{name: "rate limited", err: &APIError{Status: 429}, want: false},
		{name: "server error", err: &APIError{Status: 502}, want: false},
		{name: "transport", err: errors.New("connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRejection(tt.err))
		})
	}
}
