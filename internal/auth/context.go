// Package auth provides authentication context helpers and API tokens.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/formwell/internal/domain"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const principalContextKey contextKey = "principal"

// GetPrincipal retrieves the authenticated principal from the context.
//
// Returns nil if the request is unauthenticated.
//
// Usage:
//
//	p := auth.GetPrincipal(r.Context())
//	if p == nil {
//	    // Handle unauthenticated request
//	}
func GetPrincipal(ctx context.Context) *domain.Principal {
	p, ok := ctx.Value(principalContextKey).(*domain.Principal)
	if !ok {
		return nil
	}
	return p
}

// GetPrincipalFromRequest retrieves the principal from the request context.
func GetPrincipalFromRequest(r *http.Request) *domain.Principal {
	return GetPrincipal(r.Context())
}

// SetPrincipal stores a principal in the context.
func SetPrincipal(ctx context.Context, p *domain.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}
