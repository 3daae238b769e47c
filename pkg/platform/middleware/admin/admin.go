// Package admin guards operational endpoints (metrics, pprof) behind a
// shared token. Deployments that keep those endpoints on a private
// listener leave the token unset and the middleware passes everything.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	request "warden/pkg/platform/middleware/request"
)

func RequireOpsToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if expectedToken == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Ops-Token")
			// Use constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				requestID := request.GetRequestID(ctx)
				logger.WarnContext(ctx, "ops token mismatch",
					"request_id", requestID,
				)
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"ops token required"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
