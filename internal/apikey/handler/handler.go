// Package handler exposes API key management over HTTP. Every route sits
// behind the verified session gate: a key authenticates with its owner's
// full standing and no further challenge, so minting, rotating, and
// revoking one demands the stronger tier up front.
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"warden/internal/apikey/service"
	id "warden/pkg/domain"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/requestcontext"
)

// Handler serves the API key endpoints.
type Handler struct {
	keys   *service.Service
	logger *slog.Logger
}

func New(keys *service.Service, logger *slog.Logger) *Handler {
	return &Handler{keys: keys, logger: logger}
}

// Register mounts the key management routes. The router is expected to be
// the /auth router; both bearer gates run on every route.
func (h *Handler) Register(r chi.Router, requireSession, requireVerified func(http.Handler) http.Handler) {
	r.Route("/apikeys", func(r chi.Router) {
		r.Use(requireSession)
		r.Use(requireVerified)
		r.Get("/", h.handleList)
		r.Post("/", h.handleCreate)
		r.Post("/{keyID}/rotate", h.handleRotate)
		r.Delete("/{keyID}", h.handleRevoke)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := httputil.DecodeAndPrepare[createRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}

	result, err := h.keys.Create(ctx, requestcontext.UserID(ctx), req.Name, req.ExpiresAt)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toKeyResponse(result))
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID, err := id.ParseAPIKeyID(chi.URLParam(r, "keyID"))
	if err != nil {
		h.writeError(r, w, dErrors.New(dErrors.CodeBadRequest, "invalid api key id"))
		return
	}

	result, err := h.keys.Rotate(ctx, requestcontext.UserID(ctx), keyID)
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toKeyResponse(result))
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID, err := id.ParseAPIKeyID(chi.URLParam(r, "keyID"))
	if err != nil {
		h.writeError(r, w, dErrors.New(dErrors.CodeBadRequest, "invalid api key id"))
		return
	}

	if err := h.keys.Revoke(ctx, requestcontext.UserID(ctx), keyID); err != nil {
		h.writeError(r, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	summaries, err := h.keys.List(ctx, requestcontext.UserID(ctx))
	if err != nil {
		h.writeError(r, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, keyListResponse{Keys: summaries})
}
