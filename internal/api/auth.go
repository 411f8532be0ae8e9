package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// requireToken guards the versioned read routes. Callers authenticate with
// "Authorization: Bearer <server.token>"; the comparison is constant-time.
func requireToken(token string) func(http.Handler) http.Handler {
	expect := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearerToken(r)
			if !ok {
				httpError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), expect) != 1 {
				httpError(w, http.StatusUnauthorized, "unauthorized", "bearer token does not match")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, rest, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	rest = strings.TrimSpace(rest)
	return rest, rest != ""
}
