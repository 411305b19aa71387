package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
)

// flowMaxAge bounds how long a started flow may take, in seconds.
const flowMaxAge = 3600

// StartSSO initiates an authorization flow with PKCE. The verifier is
// returned as a cookie mutation and consumed by ExchangeCode. A non-empty
// provider is forwarded as an identity provider hint for brokering issuers.
func (p *Provider) StartSSO(ctx context.Context, provider, callbackURL string) (location string, muts authsvc.Mutations, err error) {
	done := p.observe("start_sso")
	defer func() { done(err) }()

	if callbackURL != "" && !sameEndpoint(callbackURL, p.oauth2Config.RedirectURL) {
		return "", nil, fmt.Errorf("callback url %q does not match the registered redirect url", callbackURL)
	}

	verifier := oauth2.GenerateVerifier()

	// The issuer echoes state back but the verifier cookie is what binds
	// the callback to this browser.
	state := oauth2.GenerateVerifier()

	params := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	if provider != "" {
		params = append(params, oauth2.SetAuthURLParam("kc_idp_hint", provider))
	}

	opts := p.cookie
	opts.MaxAge = flowMaxAge
	muts = authsvc.Mutations{authsvc.SetCookie(p.flowCookieName(), verifier, opts)}

	return p.oauth2Config.AuthCodeURL(state, params...), muts, nil
}

// sameEndpoint compares two URLs ignoring their query. The issuer only
// accepts the registered redirect URL, so a destination carried in the
// callback query cannot survive an OIDC round trip.
func sameEndpoint(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}
	ub, err := url.Parse(b)
	if err != nil {
		return false
	}
	return ua.Scheme == ub.Scheme && ua.Host == ub.Host && ua.Path == ub.Path
}

// ExchangeCode exchanges an authorization code for tokens using the PKCE
// verifier stored by StartSSO, which is cleared whatever the outcome.
// The ID token is verified before the session cookie is written.
func (p *Provider) ExchangeCode(ctx context.Context, cookies []*http.Cookie, code string) (id authsvc.Identity, muts authsvc.Mutations, err error) {
	done := p.observe("exchange_code")
	defer func() { done(err) }()

	muts = authsvc.ClearChunked(cookies, p.flowCookieName(), p.cookie)

	verifier := authsvc.ReadChunked(cookies, p.flowCookieName())
	if verifier == "" {
		return authsvc.Anonymous, muts, authsvc.ErrCodeVerifierMissing
	}

	// Exchange authorization code for tokens
	token, err := p.oauth2Config.Exchange(p.clientContext(ctx), code,
		oauth2.VerifierOption(verifier),
	)
	if err != nil {
		return authsvc.Anonymous, muts, fmt.Errorf("failed to exchange code: %w", err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return authsvc.Anonymous, muts, fmt.Errorf("no id_token in token response")
	}

	tokens := tokensFrom(token, rawIDToken)
	id, err = p.identify(ctx, tokens)
	if err != nil {
		return authsvc.Anonymous, muts, err
	}

	stored, err := p.storeTokens(cookies, tokens)
	if err != nil {
		return authsvc.Anonymous, muts, err
	}
	return id, muts.Merge(stored), nil
}

// VerifyToken is not part of the OpenID Connect protocol.
func (p *Provider) VerifyToken(_ context.Context, _ []*http.Cookie, _ string, _ authsvc.VerifyType) (authsvc.Identity, authsvc.Mutations, error) {
	return authsvc.Anonymous, nil, authsvc.ErrUnsupported
}

// mergeAccessTokenClaims decodes a JWT access token's payload and merges
// role-related claims into the destination claims map.
// Only claims not already present in dst are merged (ID token takes precedence).
// This is best-effort: not all access tokens are JWTs.
func mergeAccessTokenClaims(accessToken string, dst map[string]interface{}) {
	if accessToken == "" {
		return
	}

	atClaims, err := decodeJWTPayload(accessToken)
	if err != nil {
		slog.Debug("could not decode access token as JWT (may be opaque)", "error", err)
		return
	}

	// Keycloak-style issuers put realm and client roles in the access token only.
	mergeKeys := []string{"resource_access", "realm_access", "groups"}

	for _, key := range mergeKeys {
		if _, exists := dst[key]; !exists {
			if val, ok := atClaims[key]; ok {
				dst[key] = val
			}
		}
	}
}

// decodeJWTPayload extracts and decodes the payload (second segment) of a JWT.
// It does NOT verify the signature; the access token arrives over the
// token endpoint's TLS connection next to a verified ID token.
func decodeJWTPayload(token string) (map[string]interface{}, error) {
	parts := strings.SplitN(token, ".", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("not a valid JWT: expected 3 parts, got %d", len(parts))
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("failed to decode JWT payload: %w", err)
	}

	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse JWT payload: %w", err)
	}

	return claims, nil
}
