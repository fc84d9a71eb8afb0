package api

import (
	"crypto/subtle"
	"net/http"
)

const authHeader = "X-Auth-Token"

// TokenAuth rejects requests whose X-Auth-Token header does not match the
// configured token. The comparison is constant time.
func TokenAuth(token string, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(authHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				if metrics != nil {
					metrics.authRejects.Inc()
				}
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing auth token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
