// Package auth guards machine-to-machine endpoints with shared secrets.
package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ignite/leadmap-mailflow/internal/pkg/logger"
)

// SecretAuth authenticates callers holding a shared secret. Requests must
// carry "Authorization: Bearer <secret>".
type SecretAuth struct {
	scope  string
	secret []byte
}

// NewCronAuth returns the verifier for the external cron trigger. An empty
// secret rejects every request.
func NewCronAuth(secret string) *SecretAuth {
	return &SecretAuth{scope: "cron", secret: []byte(secret)}
}

// NewAdminAuth returns the verifier for the management API (lists,
// webhooks, inbound reports, backups and scheduling). An empty secret
// rejects every request.
func NewAdminAuth(secret string) *SecretAuth {
	return &SecretAuth{scope: "admin", secret: []byte(secret)}
}

// Verify reports whether r carries the secret. The comparison runs in
// constant time.
func (a *SecretAuth) Verify(r *http.Request) bool {
	if len(a.secret) == 0 {
		return false
	}
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), a.secret) == 1
}

// Require rejects unauthenticated requests with 401.
func (a *SecretAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Verify(r) {
			logger.Warn("auth rejected", "scope", a.scope, "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}
