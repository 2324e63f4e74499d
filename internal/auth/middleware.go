package auth

import (
	"context"
	"net/http"
	"strings"

	pkghttp "github.com/pellmont/signet/pkg/http"
)

type contextKey string

const claimsContextKey contextKey = "token_claims"

// ClaimsFromContext returns the access-token claims stored by
// RequireAccessToken, or nil.
func ClaimsFromContext(ctx context.Context) *TokenClaims {
	claims, _ := ctx.Value(claimsContextKey).(*TokenClaims)
	return claims
}

// RequireAccessToken authenticates requests with a bearer access token and
// stores the claims in the request context. Used by the second-factor
// management endpoints.
func RequireAccessToken(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				pkghttp.WriteUnauthorized(w, "missing bearer token")
				return
			}
			claims, err := tm.ValidateTokenOfType(strings.TrimPrefix(header, "Bearer "), TokenTypeAccess)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
