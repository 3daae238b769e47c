// Package requesttime provides middleware for request-scoped time.
// Every operation within a single HTTP request observes the same "now",
// which keeps audit records, token expiry checks, and stored timestamps
// consistent with each other.
package requesttime

import (
	"net/http"
	"time"

	"warden/pkg/requestcontext"
)

// Middleware captures the current time at the start of the request and
// stores it in the context for every downstream time reference.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), time.Now())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
