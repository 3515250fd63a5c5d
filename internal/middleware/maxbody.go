package middleware

import "net/http"

// MaxBodySize caps the inbound request body. Reads past the limit fail with
// http.MaxBytesError, which JSON decoding surfaces as a client error.
func MaxBodySize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
