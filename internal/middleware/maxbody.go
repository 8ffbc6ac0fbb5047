package middleware

import "net/http"

// MaxBody caps the request body at limit bytes. Reads past the cap fail
// with *http.MaxBytesError, which the handlers turn into 413.
func MaxBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}
