package oidc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
)

// refreshMargin is how close to expiry an access token may get before
// GetUser refreshes it.
const refreshMargin = 90 * time.Second

var errInvalidIDToken = errors.New("invalid id token")

// tokenSet is the session persisted in the cookie.
type tokenSet struct {
	Access  string    `json:"access"`
	Refresh string    `json:"refresh,omitempty"`
	IDToken string    `json:"id_token"`
	Expiry  time.Time `json:"expiry,omitempty"`
}

func tokensFrom(token *oauth2.Token, rawIDToken string) *tokenSet {
	return &tokenSet{
		Access:  token.AccessToken,
		Refresh: token.RefreshToken,
		IDToken: rawIDToken,
		Expiry:  token.Expiry,
	}
}

func (t *tokenSet) expiresWithin(now time.Time, d time.Duration) bool {
	if t.Expiry.IsZero() {
		return false
	}
	return !now.Add(d).Before(t.Expiry)
}

func encodeTokens(t *tokenSet) (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeTokens(raw string) (*tokenSet, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode session cookie: %w", err)
	}
	var t tokenSet
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse session cookie: %w", err)
	}
	if t.IDToken == "" {
		return nil, fmt.Errorf("session cookie has no id token")
	}
	return &t, nil
}

// GetUser verifies the session cookie, refreshing the tokens through the
// token endpoint when the access token is within refreshMargin of expiry.
func (p *Provider) GetUser(ctx context.Context, cookies []*http.Cookie) (id authsvc.Identity, muts authsvc.Mutations, err error) {
	done := p.observe("get_user")
	defer func() { done(err) }()

	raw := authsvc.ReadChunked(cookies, p.cookieName)
	if raw == "" {
		return authsvc.Anonymous, nil, authsvc.ErrNoSession
	}

	tokens, err := decodeTokens(raw)
	if err != nil {
		return authsvc.Anonymous, authsvc.ClearChunked(cookies, p.cookieName, p.cookie), err
	}

	if tokens.expiresWithin(p.now(), refreshMargin) {
		if tokens.Refresh == "" {
			return authsvc.Anonymous, authsvc.ClearChunked(cookies, p.cookieName, p.cookie),
				fmt.Errorf("session expired and cannot be refreshed")
		}

		fresh, err := p.refresh(ctx, tokens.Refresh)
		if err != nil {
			if IsRejection(err) {
				muts = authsvc.ClearChunked(cookies, p.cookieName, p.cookie)
			}
			return authsvc.Anonymous, muts, fmt.Errorf("refresh session: %w", err)
		}

		rawIDToken, _ := fresh.Extra("id_token").(string)
		if rawIDToken == "" {
			rawIDToken = tokens.IDToken
		}
		tokens = tokensFrom(fresh, rawIDToken)

		muts, err = p.storeTokens(cookies, tokens)
		if err != nil {
			return authsvc.Anonymous, nil, err
		}
	}

	id, err = p.identify(ctx, tokens)
	if err != nil {
		if errors.Is(err, errInvalidIDToken) {
			muts = muts.Merge(authsvc.ClearChunked(cookies, p.cookieName, p.cookie))
		}
		return authsvc.Anonymous, muts, err
	}
	return id, muts, nil
}

func (p *Provider) refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	// A token without an access token is never valid, so the source goes
	// straight to the refresh grant.
	src := p.oauth2Config.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, err
	}
	if token.RefreshToken == "" {
		token.RefreshToken = refreshToken
	}
	return token, nil
}

// identify verifies the ID token and derives the caller identity from it.
func (p *Provider) identify(ctx context.Context, tokens *tokenSet) (authsvc.Identity, error) {
	idToken, err := p.verifier.Verify(p.clientContext(ctx), tokens.IDToken)
	if err != nil {
		return authsvc.Anonymous, fmt.Errorf("%w: %v", errInvalidIDToken, err)
	}

	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return authsvc.Anonymous, fmt.Errorf("failed to parse claims: %w", err)
	}

	mergeAccessTokenClaims(tokens.Access, claims)

	if err := p.validator.ValidateRoles(claims); err != nil {
		return authsvc.Anonymous, err
	}

	email, _ := getClaimString(claims, p.emailClaim)
	return authsvc.Identity{UserID: idToken.Subject, Email: email}, nil
}

// storeTokens encodes tokens into the session cookie set.
func (p *Provider) storeTokens(cookies []*http.Cookie, tokens *tokenSet) (authsvc.Mutations, error) {
	value, err := encodeTokens(tokens)
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	return authsvc.WriteChunked(cookies, p.cookieName, value, p.cookie), nil
}

// IsRejection reports whether err is a definitive refusal by the token
// endpoint, as opposed to a transport failure or a retryable server error.
func IsRejection(err error) bool {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return false
	}
	status := re.Response.StatusCode
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}
