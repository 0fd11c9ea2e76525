package middleware

import (
	"crypto/subtle"
	"net/http"
	"slices"
	"strings"
)

// Auth requires "Authorization: Bearer <token>" on every path except the
// public ones. The gateway's /ws endpoint authenticates in-band and is
// usually listed as public.
func Auth(token string, public ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(public, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			scheme, credential, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if subtle.ConstantTimeCompare([]byte(credential), []byte(token)) != 1 {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
