// Package handler exposes MFA enrollment and verification over HTTP. All
// routes sit behind session auth; disable additionally requires a verified
// session so a stolen pending token cannot strip the account's factor.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	authmodels "warden/internal/auth/models"
	"warden/internal/mfa/service"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/sentinel"
	"warden/pkg/requestcontext"
)

// UserDirectory supplies the account email shown in authenticator apps.
// The auth user store satisfies it.
type UserDirectory interface {
	FindByID(ctx context.Context, userID id.UserID) (*authmodels.User, error)
}

type Handler struct {
	mfa    *service.Service
	users  UserDirectory
	logger *slog.Logger
}

func New(mfa *service.Service, users UserDirectory, logger *slog.Logger) *Handler {
	return &Handler{mfa: mfa, users: users, logger: logger}
}

// Register mounts the MFA routes on a router rooted at /auth. Every route
// requires a session; disable requires the session to already be verified.
func (h *Handler) Register(r chi.Router, requireSession, requireVerified func(http.Handler) http.Handler) {
	r.Route("/mfa", func(r chi.Router) {
		r.Use(requireSession)

		r.Get("/status", h.handleStatus)
		r.Post("/enroll", h.handleEnroll)
		r.Post("/verify", h.handleVerify)
		r.Post("/recover", h.handleRecover)

		r.Group(func(r chi.Router) {
			r.Use(requireVerified)
			r.Post("/disable", h.handleDisable)
		})
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status, err := h.mfa.Status(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, status)
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := requestcontext.UserID(ctx)

	user, err := h.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The session outlived its user; treat like any dead credential.
			h.writeError(r, w, dErrors.New(dErrors.CodeUnauthorized, "unauthorized"))
			return
		}
		h.writeError(r, w, dErrors.Wrap(err, dErrors.CodeInternal, "load user"))
		return
	}

	enrollment, err := h.mfa.Enroll(ctx, userID, user.Email)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, enrollment)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[codeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	err := h.mfa.Verify(ctx, requestcontext.UserID(ctx), requestcontext.SessionID(ctx), req.Code)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleRecover(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[codeRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	remaining, err := h.mfa.UseRecoveryCode(ctx, requestcontext.UserID(ctx), requestcontext.SessionID(ctx), req.Code)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, recoverResponse{Success: true, Remaining: remaining})
}

func (h *Handler) handleDisable(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.mfa.Disable(ctx, requestcontext.UserID(ctx)); err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, successResponse{Success: true})
}
