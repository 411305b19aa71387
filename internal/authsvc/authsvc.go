// Package authsvc defines the contract this application consumes from the
// external auth service: session validation/refresh, authorization-code
// exchange and one-time token verification.
//
// Every operation returns the cookie mutations the service wants applied to
// the outgoing response next to its result. Callers must apply them even
// when the error is non-nil.
package authsvc

import (
	"context"
	"errors"
	"net/http"
)

var (
	// ErrNoSession is returned by GetUser when the request carries no
	// session credential at all.
	ErrNoSession = errors.New("no session credential")

	// ErrUnsupported is returned by adapters that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by auth service")

	// ErrCodeVerifierMissing is returned by ExchangeCode when the PKCE
	// verifier cookie written at flow start is absent.
	ErrCodeVerifierMissing = errors.New("pkce code verifier cookie missing")
)

// Identity is the caller identity derived from a session credential.
// The zero value is the anonymous caller.
type Identity struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
}

// Anonymous is the identity of a caller without a valid session.
var Anonymous = Identity{}

// Authenticated reports whether the identity belongs to a signed-in user.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// Service is the auth service as seen by the gatekeeper and the completion
// handler. Implementations must treat the cookie slice as read-only.
type Service interface {
	// GetUser validates the session carried by cookies, refreshing it when
	// the access token is near or past expiry.
	GetUser(ctx context.Context, cookies []*http.Cookie) (Identity, Mutations, error)

	// ExchangeCode finalizes an authorization-code flow.
	ExchangeCode(ctx context.Context, cookies []*http.Cookie, code string) (Identity, Mutations, error)

	// VerifyToken finalizes a one-time token flow (email links).
	VerifyToken(ctx context.Context, cookies []*http.Cookie, tokenHash string, typ VerifyType) (Identity, Mutations, error)
}

// SSOStarter is implemented by services able to begin an OAuth-style flow
// that later lands on the completion endpoint with a code.
type SSOStarter interface {
	StartSSO(ctx context.Context, provider, callbackURL string) (string, Mutations, error)
}
