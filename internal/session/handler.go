package session

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/auth"
)

// Handler exposes signup, login and the session endpoints.
type Handler struct {
	registry *Registry
	tokens   *auth.TokenService
	logger   *zap.SugaredLogger
}

func NewHandler(registry *Registry, tokens *auth.TokenService, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{registry: registry, tokens: tokens, logger: logger}
}

// CredentialsRequest is the body of signup and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenResponse carries the bearer token bound to a new client context.
type TokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Account   entity.View `json:"account"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, true)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.authenticate(w, r, false)
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request, signup bool) {
	var req CredentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid credentials payload", "err", err)
		apperr.WriteStatus(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	id, m := h.registry.Open()
	var (
		v   entity.View
		err error
	)
	if signup {
		v, err = m.Signup(r.Context(), req.Email, req.Password)
	} else {
		v, err = m.Login(r.Context(), req.Email, req.Password)
	}
	if err != nil {
		h.registry.Close(id)
		apperr.WriteError(w, err)
		return
	}
	tok, exp, err := h.tokens.Issue(id, m.Email())
	if err != nil {
		h.registry.Close(id)
		h.logger.Errorw("issue token failed", "err", err)
		apperr.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if signup {
		status = http.StatusCreated
	}
	apperr.WriteJSON(w, status, TokenResponse{Token: tok, ExpiresAt: exp, Account: v})
}

// Logout ends the bound client context. It succeeds even when the session
// is already gone.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if id, _, ok := FromContext(r.Context()); ok {
		h.registry.Close(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	_, m, ok := FromContext(r.Context())
	if !ok {
		apperr.WriteError(w, ErrNoSession)
		return
	}
	v, err := m.Refresh(r.Context())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	_, m, ok := FromContext(r.Context())
	if !ok {
		apperr.WriteError(w, ErrNoSession)
		return
	}
	var p entity.Profile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		apperr.WriteStatus(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	v, err := m.UpdateProfile(r.Context(), p)
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, v)
}
