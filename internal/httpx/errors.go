package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haukened/linkvault/internal/domain"
)

type errorBody struct {
	Error            string `json:"error"`
	RequiresPassword bool   `json:"requiresPassword,omitempty"`
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body with given status code.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, code int, msg string) {
	h.writeErrorBody(ctx, w, code, errorBody{Error: msg})
}

func (h *Handler) writeErrorBody(ctx context.Context, w http.ResponseWriter, code int, body errorBody) {
	writeJSON(w, code, body)
	if cid, ok := GetCorrelationID(ctx); ok {
		h.log().Debug("wrote error response", "cid", cid, "status", code, "msg", body.Error)
	}
}

// mapServiceError maps domain/store/service errors to HTTP responses.
func (h *Handler) mapServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	cid, _ := GetCorrelationID(ctx)
	log := h.log().With("domain", "http", "cid", cid)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		log.Info("service error", "code", "not_found")
		h.writeError(ctx, w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrExpired):
		log.Info("service error", "code", "expired")
		h.writeError(ctx, w, http.StatusGone, "this link has expired")
	case errors.Is(err, domain.ErrExhausted):
		log.Info("service error", "code", "exhausted")
		h.writeError(ctx, w, http.StatusGone, "this link has reached its maximum view count")
	case errors.Is(err, domain.ErrSecretRequired):
		h.writeErrorBody(ctx, w, http.StatusUnauthorized, errorBody{Error: "password required", RequiresPassword: true})
	case errors.Is(err, domain.ErrBadSecret):
		log.Info("service error", "code", "bad_secret")
		h.writeError(ctx, w, http.StatusUnauthorized, "incorrect password")
	case errors.Is(err, domain.ErrForbidden):
		log.Warn("service error", "code", "forbidden")
		h.writeError(ctx, w, http.StatusForbidden, "forbidden")
	case errors.Is(err, domain.ErrInvalid):
		log.Warn("service error", "code", "invalid")
		h.writeError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTransient):
		log.Error("service error", "code", "transient", "error", err)
		h.writeError(ctx, w, http.StatusServiceUnavailable, "temporarily unavailable")
	case errors.Is(err, context.Canceled):
		log.Info("request canceled")
	default:
		// do not echo raw errors, they may carry ids or paths.
		log.Error("unhandled service error", "code", "unhandled", "error", err)
		h.writeError(ctx, w, http.StatusInternalServerError, "internal")
	}
}
