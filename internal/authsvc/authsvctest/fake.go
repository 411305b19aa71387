// Package authsvctest provides a scriptable authsvc.Service for tests.
package authsvctest

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/vitrine-auto/inventory-web/internal/authsvc"
)

// ErrRejected is returned by the default ExchangeCode and VerifyToken.
var ErrRejected = errors.New("authsvctest: rejected")

// Call records one invocation of the fake.
type Call struct {
	Method    string
	Code      string
	TokenHash string
	Type      authsvc.VerifyType
	Cookies   []*http.Cookie
}

// Service is a fake authsvc.Service. Nil funcs fall back to: GetUser
// returns ErrNoSession, ExchangeCode and VerifyToken return ErrRejected.
type Service struct {
	GetUserFunc      func(ctx context.Context, cookies []*http.Cookie) (authsvc.Identity, authsvc.Mutations, error)
	ExchangeCodeFunc func(ctx context.Context, code string) (authsvc.Identity, authsvc.Mutations, error)
	VerifyTokenFunc  func(ctx context.Context, tokenHash string, typ authsvc.VerifyType) (authsvc.Identity, authsvc.Mutations, error)

	mu    sync.Mutex
	calls []Call
}

var _ authsvc.Service = (*Service)(nil)

// Signed returns a fake whose GetUser always yields id.
func Signed(id authsvc.Identity) *Service {
	return &Service{
		GetUserFunc: func(context.Context, []*http.Cookie) (authsvc.Identity, authsvc.Mutations, error) {
			return id, nil, nil
		},
	}
}

func (s *Service) record(c Call) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

// Calls returns the invocations so far, in order.
func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times method was invoked.
func (s *Service) CallCount(method string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (s *Service) GetUser(ctx context.Context, cookies []*http.Cookie) (authsvc.Identity, authsvc.Mutations, error) {
	s.record(Call{Method: "GetUser", Cookies: cookies})
	if s.GetUserFunc == nil {
		return authsvc.Anonymous, nil, authsvc.ErrNoSession
	}
	return s.GetUserFunc(ctx, cookies)
}

func (s *Service) ExchangeCode(ctx context.Context, cookies []*http.Cookie, code string) (authsvc.Identity, authsvc.Mutations, error) {
	s.record(Call{Method: "ExchangeCode", Code: code, Cookies: cookies})
	if s.ExchangeCodeFunc == nil {
		return authsvc.Anonymous, nil, ErrRejected
	}
	return s.ExchangeCodeFunc(ctx, code)
}

func (s *Service) VerifyToken(ctx context.Context, cookies []*http.Cookie, tokenHash string, typ authsvc.VerifyType) (authsvc.Identity, authsvc.Mutations, error) {
	s.record(Call{Method: "VerifyToken", TokenHash: tokenHash, Type: typ, Cookies: cookies})
	if s.VerifyTokenFunc == nil {
		return authsvc.Anonymous, nil, ErrRejected
	}
	return s.VerifyTokenFunc(ctx, tokenHash, typ)
}
