package auth

import (
	"net/http"

	pkghttp "github.com/BradenHooton/otpdesk/pkg/http"
)

// RequireScope rejects callers whose token lacks scope. It must run after BearerMiddleware.
func RequireScope(scope string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if claims == nil {
				pkghttp.WriteUnauthorized(w, "unauthorized")
				return
			}
			if !claims.HasScope(scope) {
				pkghttp.WriteForbidden(w, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
