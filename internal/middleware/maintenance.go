package middleware

import (
	"net/http"
)

// ReadOnly rejects every mutating request while isEnabled reports true.
// isEnabled is evaluated per request.
func ReadOnly(isEnabled func() bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			if isEnabled() {
				w.Header().Set("Retry-After", "3600")
				writeError(w, http.StatusServiceUnavailable, "The gateway is in read-only mode. Only read operations are allowed.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
