// Package request provides middleware for request identity. Every request
// gets an ID that travels through the context, every log line, and every
// audit record, so a single request can be traced across all three.
package request

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"warden/pkg/requestcontext"
)

// HeaderName is the request ID header, read from the inbound request when
// a gateway already assigned one and always set on the response.
const HeaderName = "X-Request-ID"

// Middleware assigns the request ID. An inbound X-Request-ID is trusted
// as-is; otherwise a fresh UUID is generated.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(HeaderName)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		w.Header().Set(HeaderName, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return requestcontext.RequestID(ctx)
}
