// Package tenant provides middleware that resolves the tenant a request
// operates in. The tenant arrives as an opaque UUID header set by the edge
// proxy; single-tenant deployments configure a default instead.
package tenant

import (
	"log/slog"
	"net/http"

	id "warden/pkg/domain"
	"warden/pkg/requestcontext"
)

// Resolve maps the request onto a tenant and stores it in the context.
// Resolution order: the named header, then the default. A request that
// resolves to neither is rejected; nothing downstream may run without a
// tenant scope.
func Resolve(headerName, defaultTenant string, logger *slog.Logger) func(http.Handler) http.Handler {
	var defaultID id.TenantID
	if defaultTenant != "" {
		parsed, err := id.ParseTenantID(defaultTenant)
		if err != nil {
			logger.Error("configured default tenant is not a UUID, ignoring",
				"value", defaultTenant,
			)
		} else {
			defaultID = parsed
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if raw := r.Header.Get(headerName); raw != "" {
				tenantID, err := id.ParseTenantID(raw)
				if err != nil {
					logger.WarnContext(ctx, "rejected malformed tenant header",
						"request_id", requestcontext.RequestID(ctx),
					)
					writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed tenant identifier")
					return
				}
				next.ServeHTTP(w, r.WithContext(requestcontext.WithTenantID(ctx, tenantID)))
				return
			}

			if !defaultID.IsNil() {
				next.ServeHTTP(w, r.WithContext(requestcontext.WithTenantID(ctx, defaultID)))
				return
			}

			logger.WarnContext(ctx, "rejected request without tenant",
				"request_id", requestcontext.RequestID(ctx),
			)
			writeJSONError(w, http.StatusBadRequest, "bad_request", "tenant identifier required")
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + errCode + `","error_description":"` + errDesc + `"}`))
}
