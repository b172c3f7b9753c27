package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// AuthConfig configures API key authentication. Set at most one of APIKey
// and APIKeyHash; with both empty, authentication is disabled.
type AuthConfig struct {
	APIKey string
	// APIKeyHash is a bcrypt hash of the key, for deployments that keep the
	// plaintext out of config.
	APIKeyHash string
	// PublicPaths are served without a token (exact match on URL path).
	PublicPaths []string
}

// Auth returns middleware that validates requests using either a Bearer token
// in the Authorization header or the X-API-Key header.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(cfg.PublicPaths))
	for _, p := range cfg.PublicPaths {
		public[p] = true
	}
	verify := keyVerifier(cfg)

	return func(next http.Handler) http.Handler {
		if verify == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if public[r.URL.Path] || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := extractToken(r)
			if token == "" {
				writeUnauthorized(w, "missing authentication token")
				return
			}
			if !verify(token) {
				writeUnauthorized(w, "invalid authentication token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// keyVerifier returns nil when authentication is disabled.
func keyVerifier(cfg AuthConfig) func(token string) bool {
	switch {
	case cfg.APIKeyHash != "":
		hash := []byte(cfg.APIKeyHash)
		return func(token string) bool {
			return bcrypt.CompareHashAndPassword(hash, []byte(token)) == nil
		}
	case cfg.APIKey != "":
		key := []byte(cfg.APIKey)
		return func(token string) bool {
			return subtle.ConstantTimeCompare([]byte(token), key) == 1
		}
	default:
		return nil
	}
}

// extractToken looks for a token in the Authorization header (Bearer scheme)
// or in the X-API-Key header.
func extractToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="poolregistry"`)
	writeError(w, http.StatusUnauthorized, "unauthorized", msg)
}
