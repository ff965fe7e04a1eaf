package auth

import (
	"context"
	"net/http"
	"strings"

	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

type contextKey string

// ClaimsContextKey stores the caller's ServiceClaims in the request context
const ClaimsContextKey contextKey = "service_claims"

// BearerMiddleware validates the Authorization bearer token and stores its claims
func BearerMiddleware(tm *TokenManager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				pkghttp.WriteUnauthorized(w, "missing authorization header")
				return
			}

			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
				pkghttp.WriteUnauthorized(w, "invalid authorization header format")
				return
			}

			claims, err := tm.ValidateToken(token)
			if err != nil {
				pkghttp.WriteUnauthorized(w, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClaims returns the claims stored by BearerMiddleware, or nil
func GetClaims(r *http.Request) *ServiceClaims {
	claims, ok := r.Context().Value(ClaimsContextKey).(*ServiceClaims)
	if !ok {
		return nil
	}
	return claims
}

// Subject returns the authenticated subject, or "" when unauthenticated
func Subject(r *http.Request) string {
	if c := GetClaims(r); c != nil {
		return c.Subject
	}
	return ""
}
