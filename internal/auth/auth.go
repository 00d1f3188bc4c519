// Package auth implements the gateway's shared API key check (spec.md
// §4.10): a single configured key compared against the request's
// X-Api-Key header. No per-key identity, tiers, or JWT — the source system
// carries none of that, and spec.md's surface is a single shared secret.
package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/agentmesh/mesh/internal/metrics"
)

// Middleware enforces a shared API key on every request whose path is not
// in publicPaths. If apiKey is empty, the check is disabled entirely
// (spec.md: "Enforce API key when configured").
func Middleware(apiKey string, publicPaths []string) func(http.Handler) http.Handler {
	publicSet := make(map[string]bool, len(publicPaths))
	for _, p := range publicPaths {
		publicSet[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" || isPublicPath(r.URL.Path, publicSet) {
				next.ServeHTTP(w, r)
				return
			}

			if !Check(apiKey, r.Header.Get("X-Api-Key")) {
				metrics.Global().RecordAuthRejection()
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized","message":"missing or invalid api key"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Check reports whether provided matches configured, in constant time.
func Check(configured, provided string) bool {
	if configured == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) == 1
}

func isPublicPath(path string, publicSet map[string]bool) bool {
	if publicSet[path] {
		return true
	}
	for p := range publicSet {
		if strings.HasSuffix(p, "/*") {
			prefix := strings.TrimSuffix(p, "*")
			if strings.HasPrefix(path, prefix) {
				return true
			}
		}
	}
	return false
}
