package handler

import (
	"net/http"
	"strings"

	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

type codeRequest struct {
	Code string `json:"code"`
}

func (r *codeRequest) Normalize() {
	r.Code = strings.TrimSpace(r.Code)
}

func (r *codeRequest) Validate() error {
	if r.Code == "" {
		return dErrors.New(dErrors.CodeValidation, "code is required")
	}
	return nil
}

type successResponse struct {
	Success bool `json:"success"`
}

type recoverResponse struct {
	Success   bool `json:"success"`
	Remaining int  `json:"remaining"`
}

// writeError logs server-side failures with the request id before handing
// the error to the shared JSON writer.
func (h *Handler) writeError(r *http.Request, w http.ResponseWriter, err error) {
	ctx := r.Context()
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		h.logger.ErrorContext(ctx, "mfa request failed",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
