// Package auth defines the collaborator interface for identity
// verification at connection-handshake time, plus a static-token
// implementation for deployments without an external identity service.
package auth

import (
	"context"
	"os"
	"strings"
)

// Result is the outcome of verifying a bearer credential. Unauthenticated
// results yield anonymous connections, which are permitted unless the
// deployment requires auth.
type Result struct {
	Authenticated bool
	Identity      string
}

// Authenticator verifies a bearer credential. Called once per handshake.
type Authenticator interface {
	Verify(ctx context.Context, credential string) (Result, error)
}

// AnonymousAuthenticator accepts every handshake as anonymous.
type AnonymousAuthenticator struct{}

func (AnonymousAuthenticator) Verify(context.Context, string) (Result, error) {
	return Result{}, nil
}

// StaticTokenAuthenticator maps known bearer tokens to identities.
type StaticTokenAuthenticator struct {
	tokens map[string]string
}

// NewStaticTokenAuthenticator builds an authenticator from a token to
// identity map.
func NewStaticTokenAuthenticator(tokens map[string]string) *StaticTokenAuthenticator {
	return &StaticTokenAuthenticator{tokens: tokens}
}

// FromEnv reads REALTIME_AUTH_TOKENS ("token:identity,token:identity").
// With the variable unset every handshake is anonymous.
func FromEnv() Authenticator {
	raw := os.Getenv("REALTIME_AUTH_TOKENS")
	if raw == "" {
		return AnonymousAuthenticator{}
	}
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		token, identity, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && token != "" && identity != "" {
			tokens[token] = identity
		}
	}
	return NewStaticTokenAuthenticator(tokens)
}

// Verify resolves the credential against the static token table. Unknown
// tokens are anonymous, not errors; rejection is the caller's policy.
func (a *StaticTokenAuthenticator) Verify(_ context.Context, credential string) (Result, error) {
	identity, ok := a.tokens[credential]
	if !ok {
		return Result{}, nil
	}
	return Result{Authenticated: true, Identity: identity}, nil
}
