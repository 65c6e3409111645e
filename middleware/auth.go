// Package middleware holds HTTP middleware shared by the server routes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// publicPaths skip bearer auth. The websocket authenticates with its
// first JSON-RPC request instead.
var publicPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
	"/ws":      true,
}

// Auth requires "Authorization: Bearer <token>" on every non-public path.
// An empty token disables auth, which the CLI only allows in dev mode.
func Auth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			scheme, cred, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" {
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}

			if !TokenMatches(cred, token) {
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenMatches compares in constant time.
func TokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
