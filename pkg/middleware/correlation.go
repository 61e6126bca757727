package middleware

import (
	"net/http"

	"shortlink/pkg/logging"
)

// CorrelationID attaches a correlation id to every request context so log
// lines across the request can be tied together.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithCorrelationID(r.Context())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
