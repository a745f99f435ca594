package middleware

import (
	"net/http"

	"github.com/bryanwahyu/automaton-pipeline/internal/observability"
)

// Metrics tracks request counts and in-flight requests.
func Metrics(m *observability.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.InFlight(1)
			defer m.InFlight(-1)

			wrapped := wrapWriter(w)
			next.ServeHTTP(wrapped, r)
			m.ObserveRequest(r.Method, wrapped.statusCode)
		})
	}
}
