package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/plan"
	"github.com/ovaphlow/pitchfork/service-trust/internal/session"
	"github.com/ovaphlow/pitchfork/service-trust/internal/trust"
)

// Handler exposes plans, eligibility, quotes and checkout.
type Handler struct {
	sim    *Simulator
	engine *trust.Engine
	logger *zap.SugaredLogger
}

func NewHandler(sim *Simulator, engine *trust.Engine, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{sim: sim, engine: engine, logger: logger}
}

// TermsRequest is CreditTerms with the return date as YYYY-MM-DD or RFC 3339.
type TermsRequest struct {
	Kind       TermsKind `json:"kind"`
	ReturnDate string    `json:"return_date"`
	Period     int       `json:"period"`
}

func (t TermsRequest) terms() (CreditTerms, error) {
	c := CreditTerms{Kind: t.Kind, Period: t.Period}
	if t.ReturnDate == "" {
		return c, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if d, err := time.Parse(layout, t.ReturnDate); err == nil {
			c.ReturnDate = d
			return c, nil
		}
	}
	return c, fmt.Errorf("return date %q: %w", t.ReturnDate, ErrInvalidTerms)
}

type QuoteRequest struct {
	Plan  string       `json:"plan"`
	Terms TermsRequest `json:"terms"`
}

type PayRequest struct {
	Plan   string        `json:"plan"`
	Method Method        `json:"method"`
	Card   CardDetails   `json:"card"`
	Wallet WalletDetails `json:"wallet"`
	Credit TermsRequest  `json:"credit"`
}

// PayFailure is the body of a rejected checkout.
type PayFailure struct {
	apperr.Body
	Result
}

func (h *Handler) Plans(w http.ResponseWriter, r *http.Request) {
	apperr.WriteJSON(w, http.StatusOK, plan.All())
}

func (h *Handler) Eligibility(w http.ResponseWriter, r *http.Request) {
	_, m, ok := session.FromContext(r.Context())
	if !ok || m.Email() == "" {
		apperr.WriteError(w, session.ErrNoSession)
		return
	}
	el, err := h.engine.EvaluateEligibility(r.Context(), m.Email())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, el)
}

func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteStatus(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	p, err := plan.Lookup(req.Plan)
	if err != nil {
		apperr.WriteStatus(w, http.StatusBadRequest, "UNKNOWN_PLAN", err.Error())
		return
	}
	terms, err := req.Terms.terms()
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	q, err := Price(p, terms, h.sim.Now())
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	apperr.WriteJSON(w, http.StatusOK, q)
}

// Pay runs a whole checkout inside the request. A client that disconnects
// during processing cancels the transaction.
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	_, m, ok := session.FromContext(r.Context())
	if !ok || m.Email() == "" {
		apperr.WriteError(w, session.ErrNoSession)
		return
	}
	var req PayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperr.WriteStatus(w, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid payload")
		return
	}
	p, err := plan.Lookup(req.Plan)
	if err != nil {
		apperr.WriteStatus(w, http.StatusBadRequest, "UNKNOWN_PLAN", err.Error())
		return
	}
	terms, err := req.Credit.terms()
	if err != nil {
		apperr.WriteError(w, err)
		return
	}
	email := m.Email()
	d := Details{Card: req.Card, Wallet: req.Wallet, Credit: terms}
	res, err := h.sim.Pay(r.Context(), email, p, req.Method, d, func(pct int) {
		h.logger.Debugw("payment progress", "email", email, "progress", pct)
	})
	if err != nil {
		status := apperr.HTTPStatus(err)
		switch {
		case errors.Is(err, ErrInvalidState):
			status = http.StatusConflict
		case errors.Is(err, ErrUnknownMethod):
			status = http.StatusBadRequest
		}
		apperr.WriteJSON(w, status, PayFailure{Body: apperr.Body{Error: apperr.Code(err), Message: apperr.Message(err)}, Result: res})
		return
	}
	apperr.WriteJSON(w, http.StatusCreated, res)
}
