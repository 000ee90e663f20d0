package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/jobgate/jobgate/pkg/contextkeys"
)

// RequestIDHeader carries the correlation ID in and out of the service
const RequestIDHeader = "X-Request-ID"

// RequestID assigns each request a correlation ID. An incoming
// X-Request-ID is honored so IDs survive proxy hops; otherwise a fresh
// UUID is generated. The ID is echoed on the response and stored on the
// context for logging and the audit trail.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(RequestIDHeader, id)
		ctx := contextkeys.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
