// Package middleware contains HTTP middleware for the formwell API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using Stack.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/DukeRupert/formwell/internal/auth"
	"github.com/DukeRupert/formwell/internal/domain"
	"github.com/DukeRupert/formwell/internal/handler"
)

// TokenVerifier resolves a bearer token to a principal.
// *auth.Tokens satisfies it.
type TokenVerifier interface {
	Verify(token string) (*domain.Principal, error)
}

// AuthMiddleware resolves the request principal from a bearer token.
type AuthMiddleware struct {
	tokens TokenVerifier
	logger *slog.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware.
func NewAuthMiddleware(tokens TokenVerifier, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		logger: logger,
	}
}

// WithPrincipal stores the principal named by the Authorization header in
// the request context. Requests without a valid token continue
// unauthenticated; RequirePrincipal decides whether that is allowed.
func (m *AuthMiddleware) WithPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := auth.BearerToken(r.Header.Get("Authorization"))
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		p, err := m.tokens.Verify(token)
		if err != nil {
			m.logger.Debug("rejected bearer token", "path", r.URL.Path, "error", err)
			next.ServeHTTP(w, r)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetPrincipal(r.Context(), p)))
	})
}

// RequirePrincipal responds 401 unless WithPrincipal resolved a principal.
//
// Usage:
//
//	requirePrincipal := middleware.Stack(authMw.WithPrincipal, authMw.RequirePrincipal)
//	mux.Handle("GET /api/usage", requirePrincipal(usageHandler))
func (m *AuthMiddleware) RequirePrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetPrincipal(r.Context()) == nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="formwell"`)
			handler.UnauthorizedResponse(w, r, m.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stack composes middlewares so the first one listed runs first.
//
// Usage:
//
//	stack := middleware.Stack(logging.Handler, authMw.WithPrincipal)
//	http.ListenAndServe(":8080", stack(mux))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
