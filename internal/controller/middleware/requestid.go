package middleware

import (
	"net/http"

	"snapops/internal/logger"

	"github.com/google/uuid"
)

// RequestIDHeader echoes the correlation ID back to the caller.
const RequestIDHeader = "X-Request-ID"

// RequestID attaches a correlation ID to the request context so every log
// line of the request carries it. An incoming header is reused, otherwise a
// new ID is generated.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set(RequestIDHeader, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
