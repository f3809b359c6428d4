package admin

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/session"
)

// Handler exposes the administrative endpoints. Every route expects a
// session bound by the router middleware.
type Handler struct {
	svc    *Service
	logger *zap.SugaredLogger
}

func NewHandler(svc *Service, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger}
}

// MarkRequest is the body of mark-bad / mark-good.
type MarkRequest struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

func (h *Handler) Accounts(w http.ResponseWriter, r *http.Request) {
	_, m, _ := session.FromContext(r.Context())
	actor, err := m.Refresh(r.Context())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	out, err := h.svc.Accounts(r.Context(), actor)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) BadList(w http.ResponseWriter, r *http.Request) {
	_, m, _ := session.FromContext(r.Context())
	actor, err := m.Refresh(r.Context())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	out, err := h.svc.BadList(r.Context(), actor)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, map[string][]string{"bad_users": out})
}

func (h *Handler) MarkBad(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, true)
}

func (h *Handler) MarkGood(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, false)
}

func (h *Handler) mark(w http.ResponseWriter, r *http.Request, bad bool) {
	var req MarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.logger.Debugw("invalid mark payload", "err", err)
		apperr.WriteStatus(w, http.StatusBadRequest, "INVALID_PAYLOAD", "email is required")
		return
	}
	_, m, _ := session.FromContext(r.Context())
	actor, err := m.Refresh(r.Context())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	if bad {
		err = h.svc.MarkBad(r.Context(), actor, req.Email, req.Reason)
	} else {
		err = h.svc.MarkGood(r.Context(), actor, req.Email)
	}
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
