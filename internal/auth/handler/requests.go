package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"warden/internal/auth/models"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

// Cookie names. The __Host- prefix pins the login state cookie to this
// host over HTTPS; the refresh cookie is scoped to the auth routes so it
// never rides along on API calls.
const (
	pkceCookie    = "__Host-pkce"
	refreshCookie = "warden_refresh"
)

const maxBodyBytes = 1 << 20

type loginStartResponse struct {
	URL string `json:"url"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type sessionResponse struct {
	SessionID   string    `json:"session_id"`
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	MFAPending  bool      `json:"mfa_pending"`
}

type sessionListResponse struct {
	Sessions []models.Summary `json:"sessions"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type revokedResponse struct {
	Revoked int `json:"revoked"`
}

func toSessionResponse(result *models.SessionResult) sessionResponse {
	return sessionResponse{
		SessionID:   result.SessionID.String(),
		AccessToken: result.AccessToken,
		TokenType:   "Bearer",
		ExpiresAt:   result.ExpiresAt,
		MFAPending:  result.MFAPending,
	}
}

// maybeDecodeBody decodes an optional JSON body. An absent or empty body
// is not an error; the refresh endpoint falls back to its cookie.
func maybeDecodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return dErrors.New(dErrors.CodeBadRequest, "malformed request body")
	}
	return nil
}

// writeError logs server-side failures with the request id before handing
// the error to the shared JSON writer.
func (h *Handler) writeError(r *http.Request, w http.ResponseWriter, err error) {
	ctx := r.Context()
	if code := dErrors.CodeOf(err); code == dErrors.CodeInternal || code == dErrors.CodeUnavailable {
		h.logger.ErrorContext(ctx, "auth request failed",
			"request_id", requestcontext.RequestID(ctx),
			"path", r.URL.Path,
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
