// Package middleware holds the HTTP middleware the router (internal/api)
// composes around the REST surface: auth, CORS, rate limiting, and
// observability, adapted from gateway/middleware's per-concern split.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const apiKeyHeader = "X-Api-Key"

// Auth compares the X-Api-Key header against a single configured key. The
// gateway has no staff RBAC to protect, so it carries the simplest
// authenticator shape rather than a JWT/WebAuthn stack.
func Auth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := strings.TrimSpace(r.Header.Get(apiKeyHeader))
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"status":"error","message":"invalid or missing X-Api-Key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
