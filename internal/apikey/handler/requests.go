package handler

import (
	"net/http"
	"strings"
	"time"

	"warden/internal/apikey/models"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

type createRequest struct {
	Name      string     `json:"name"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (r *createRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
}

func (r *createRequest) Validate() error {
	if r.Name == "" {
		return dErrors.New(dErrors.CodeValidation, "name is required")
	}
	return nil
}

// keyResponse is the answer to create and rotate. Token is the plaintext
// and this response is the only place it ever appears.
type keyResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Token     string     `json:"token"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func toKeyResponse(result *models.KeyResult) keyResponse {
	return keyResponse{
		ID:        result.KeyID.String(),
		Name:      result.Name,
		Token:     result.Token,
		CreatedAt: result.CreatedAt,
		ExpiresAt: result.ExpiresAt,
	}
}

type keyListResponse struct {
	Keys []models.Summary `json:"keys"`
}

// writeError logs server-side failures with the request id before handing
// the error to the shared JSON writer.
func (h *Handler) writeError(r *http.Request, w http.ResponseWriter, err error) {
	ctx := r.Context()
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		h.logger.ErrorContext(ctx, "apikey request failed",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}
