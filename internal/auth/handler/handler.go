// Package handler exposes the authentication flows over HTTP: the OAuth
// round-trip, token refresh, and session management. It also adapts the
// auth service to the bearer middleware contract so the server can gate
// other route groups on the same session check.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"warden/internal/auth/service"
	"warden/internal/pkce"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

// Handler serves the authentication endpoints.
type Handler struct {
	auth       *service.Service
	logger     *slog.Logger
	refreshTTL time.Duration
}

type Option func(h *Handler)

// WithRefreshCookieTTL sets the refresh cookie lifetime. It should match
// the refresh TTL the service was configured with.
func WithRefreshCookieTTL(ttl time.Duration) Option {
	return func(h *Handler) {
		h.refreshTTL = ttl
	}
}

func New(auth *service.Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		auth:       auth,
		logger:     logger,
		refreshTTL: service.DefaultRefreshTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the authentication routes. The router must be rooted at
// /auth: the refresh cookie is scoped to that path. The OAuth round-trip
// and refresh are public; session management sits behind the supplied
// session gate.
func (h *Handler) Register(r chi.Router, requireSession func(http.Handler) http.Handler) {
	r.Get("/oauth/{provider}", h.handleBeginLogin)
	r.Get("/oauth/{provider}/callback", h.handleCallback)
	r.Post("/refresh", h.handleRefresh)

	r.Group(func(r chi.Router) {
		r.Use(requireSession)
		r.Post("/logout", h.handleLogout)
		r.Get("/sessions", h.handleListSessions)
		r.Delete("/sessions", h.handleLogoutOthers)
		r.Delete("/sessions/{sessionID}", h.handleRevokeSession)
	})
}

func (h *Handler) handleBeginLogin(w http.ResponseWriter, r *http.Request) {
	providerName, err := id.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.writeError(r, w, dErrors.New(dErrors.CodeBadRequest, "unknown provider"))
		return
	}

	start, err := h.auth.BeginLogin(r.Context(), providerName)
	if err != nil {
		h.writeError(r, w, err)
		return
	}

	// The sealed round-trip state rides in a host-locked cookie; the
	// client never handles it directly.
	http.SetCookie(w, &http.Cookie{
		Name:     pkceCookie,
		Value:    start.State,
		Path:     "/",
		MaxAge:   int(pkce.DefaultTTL.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteJSON(w, http.StatusOK, loginStartResponse{URL: start.URL})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerName, err := id.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		h.writeError(r, w, dErrors.New(dErrors.CodeBadRequest, "unknown provider"))
		return
	}

	clearCookie(w, pkceCookie, "/")

	// The provider reports user cancellation through the error query
	// parameter instead of a code. Same opaque answer as any other
	// failed login.
	if r.URL.Query().Get("error") != "" {
		h.writeError(r, w, dErrors.New(dErrors.CodeUnauthorized, "login failed"))
		return
	}

	sealed := ""
	if cookie, err := r.Cookie(pkceCookie); err == nil {
		sealed = cookie.Value
	}

	result, err := h.auth.Login(r.Context(), service.LoginParams{
		Provider:  providerName,
		Code:      r.URL.Query().Get("code"),
		State:     r.URL.Query().Get("state"),
		PKCEToken: sealed,
	})
	if err != nil {
		h.writeError(r, w, err)
		return
	}

	h.setRefreshCookie(w, result.RefreshToken)
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(result))
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := maybeDecodeBody(w, r, &req); err != nil {
		h.writeError(r, w, err)
		return
	}

	token := req.RefreshToken
	if token == "" {
		if cookie, err := r.Cookie(refreshCookie); err == nil {
			token = cookie.Value
		}
	}

	result, err := h.auth.Refresh(r.Context(), token)
	if err != nil {
		// A rejected token never works again; drop the cookie so the
		// client falls back to a fresh login instead of retrying.
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) {
			clearCookie(w, refreshCookie, "/auth")
		}
		h.writeError(r, w, err)
		return
	}

	h.setRefreshCookie(w, result.RefreshToken)
	httputil.WriteJSON(w, http.StatusOK, toSessionResponse(result))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	err := h.auth.Logout(ctx, requestcontext.UserID(ctx), requestcontext.SessionID(ctx))
	if err != nil {
		h.writeError(r, w, err)
		return
	}

	clearCookie(w, refreshCookie, "/auth")
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summaries, err := h.auth.ListSessions(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessionListResponse{Sessions: summaries})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID, err := id.ParseSessionID(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(r, w, dErrors.New(dErrors.CodeBadRequest, "invalid session id"))
		return
	}

	if err := h.auth.RevokeSession(ctx, requestcontext.UserID(ctx), sessionID); err != nil {
		h.writeError(r, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutOthers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	revoked, err := h.auth.LogoutOthers(ctx, requestcontext.UserID(ctx), requestcontext.SessionID(ctx))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, revokedResponse{Revoked: revoked})
}

func (h *Handler) setRefreshCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookie,
		Value:    token,
		Path:     "/auth",
		MaxAge:   int(h.refreshTTL.Seconds()),
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
