package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/repo"
	"github.com/ovaphlow/pitchfork/service-trust/internal/admin"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/auth"
	"github.com/ovaphlow/pitchfork/service-trust/internal/payment"
	"github.com/ovaphlow/pitchfork/service-trust/internal/session"
	"github.com/ovaphlow/pitchfork/service-trust/internal/trust"
	"github.com/ovaphlow/pitchfork/service-trust/pkg/utilities"
)

type server struct {
	t       *testing.T
	handler http.Handler
	ready   error
	shared  *repo.MemoryRepo
}

func newServer(t *testing.T) *server {
	t.Helper()
	logger := zap.NewNop().Sugar()
	shared := repo.NewMemoryRepo()
	store := account.NewStore(shared, account.BcryptHasher{Cost: bcrypt.MinCost})
	store.AdminEmail = "admin@example.com"
	registry := session.NewRegistry(store, nil, logger)
	engine := trust.NewEngine(store, registry, logger)
	ids, err := utilities.NewIDGen(1)
	require.NoError(t, err)
	sim := payment.NewSimulator(store, engine, registry, ids, logger)
	sim.StepDelay = 0
	tokens, err := auth.NewTokenService(auth.Config{Secret: []byte("s3cret"), Issuer: "test", TTL: time.Hour})
	require.NoError(t, err)

	s := &server{t: t, shared: shared}
	s.handler = RegisterRoutes(logger, Deps{
		Registry:  registry,
		Tokens:    tokens,
		Engine:    engine,
		Simulator: sim,
		Admin:     admin.NewService(engine, logger),
		Ready:     func() error { return s.ready },
	})
	return s
}

func (s *server) do(method, path, token string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, Prefix+path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) signup(email string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/signup", "", session.CredentialsRequest{Email: email, Password: "pw"})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var out session.TokenResponse
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(s.t, out.Token)
	return out.Token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var b apperr.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b), rec.Body.String())
	return b.Error
}

func TestHealth(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36, "generated uuid")

	req := httptest.NewRequest(http.MethodGet, Prefix+"/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	s.ready = errors.New("db down")
	rec = s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSignupLoginFlow(t *testing.T) {
	s := newServer(t)
	token := s.signup("a@x.com")

	rec := s.do(http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"a@x.com"`)
	assert.NotContains(t, rec.Body.String(), "credential")

	rec = s.do(http.MethodPost, "/signup", "", session.CredentialsRequest{Email: "A@x.com", Password: "pw2"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "DUPLICATE", errorCode(t, rec))

	rec = s.do(http.MethodPost, "/login", "", session.CredentialsRequest{Email: "a@x.com", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CREDENTIAL", errorCode(t, rec))

	rec = s.do(http.MethodPost, "/login", "", session.CredentialsRequest{Email: "nobody@x.com", Password: "pw"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/login", "", session.CredentialsRequest{Email: "a@x.com", Password: "pw"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(http.MethodPost, "/signup", "", session.CredentialsRequest{Email: "", Password: "pw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_CREDENTIAL", errorCode(t, rec))
}

func TestLogoutEndsContext(t *testing.T) {
	s := newServer(t)
	token := s.signup("a@x.com")

	rec := s.do(http.MethodPost, "/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoutesNeedToken(t *testing.T) {
	s := newServer(t)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/me", "garbage", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodPost, "/payments", "", nil).Code)
}

func TestUpdateProfile(t *testing.T) {
	s := newServer(t)
	token := s.signup("a@x.com")
	rec := s.do(http.MethodPatch, "/me/profile", token, map[string]string{"name": "Ann", "phone": "555"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"Ann"`)
}

func TestPlansAndQuote(t *testing.T) {
	s := newServer(t)
	rec := s.do(http.MethodGet, "/plans", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Standard Plan")

	rec = s.do(http.MethodPost, "/payments/quote", "", payment.QuoteRequest{
		Plan:  "standard",
		Terms: payment.TermsRequest{Kind: payment.TermsInstallment, Period: 3},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var q payment.Quote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &q))
	assert.Equal(t, "4.00", q.Amount)

	rec = s.do(http.MethodPost, "/payments/quote", "", payment.QuoteRequest{
		Terms: payment.TermsRequest{Kind: payment.TermsInstallment, Period: 7},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/payments/quote", "", payment.QuoteRequest{Plan: "gold"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayments(t *testing.T) {
	s := newServer(t)
	token := s.signup("a@x.com")
	card := payment.CardDetails{Number: "4242424242424242", Name: "A", Expiry: "12/30", CVV: "123"}

	rec := s.do(http.MethodPost, "/payments", token, payment.PayRequest{Plan: "premium", Method: payment.MethodCard, Card: card})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res payment.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, payment.StateSucceeded, res.State)
	assert.Equal(t, "14.99", res.Amount)

	card.Number = payment.FraudCardNumber
	rec = s.do(http.MethodPost, "/payments", token, payment.PayRequest{Method: payment.MethodCard, Card: card})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.Equal(t, "FLAGGED_INSTRUMENT", errorCode(t, rec))
	assert.Contains(t, rec.Body.String(), `"state":"REJECTED"`)

	rec = s.do(http.MethodPost, "/payments", token, payment.PayRequest{Method: "cash"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"risk_score":30`)
	assert.Contains(t, rec.Body.String(), "Premium Plan")
}

func TestEligibilityAndCreditRejection(t *testing.T) {
	s := newServer(t)
	adminTok := s.signup("admin@example.com")
	token := s.signup("a@x.com")

	rec := s.do(http.MethodGet, "/eligibility", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"allowed":true}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/admin/accounts/mark-bad", adminTok, admin.MarkRequest{Email: "a@x.com"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "mark bad ends live sessions")

	rec = s.do(http.MethodPost, "/login", "", session.CredentialsRequest{Email: "a@x.com", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var login session.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec = s.do(http.MethodGet, "/eligibility", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "flagged for suspicious payment activity")

	rec = s.do(http.MethodPost, "/payments", login.Token, payment.PayRequest{
		Method: payment.MethodCredit,
		Credit: payment.TermsRequest{Kind: payment.TermsInstallment, Period: 6},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "TRUST_REJECTED", errorCode(t, rec))
}

func TestAdminRoutes(t *testing.T) {
	s := newServer(t)
	adminTok := s.signup("Admin@Example.com")
	userTok := s.signup("a@x.com")

	rec := s.do(http.MethodGet, "/admin/accounts", userTok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	rec = s.do(http.MethodGet, "/admin/accounts", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []admin.AccountSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)
	assert.NotContains(t, rec.Body.String(), "credential")

	rec = s.do(http.MethodPost, "/admin/accounts/mark-bad", adminTok, admin.MarkRequest{Email: "a@x.com", Reason: "chargeback"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodGet, "/admin/bad-list", adminTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"bad_users":["a@x.com"]}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/admin/accounts/mark-good", adminTok, admin.MarkRequest{Email: "a@x.com"})
	require.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(http.MethodGet, "/admin/bad-list", adminTok, nil)
	assert.JSONEq(t, `{"bad_users":[]}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/admin/accounts/mark-good", adminTok, admin.MarkRequest{Email: "ghost@x.com"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/admin/accounts/mark-bad", adminTok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSuspensionFromAnotherProcessEndsSession(t *testing.T) {
	s := newServer(t)
	token := s.signup("a@x.com")
	require.Equal(t, http.StatusOK, s.do(http.MethodGet, "/me", token, nil).Code)

	// a second process, such as the admin CLI, sharing the same backend
	cli := trust.NewEngine(account.NewStore(s.shared, account.BcryptHasher{Cost: bcrypt.MinCost}), nil, nil)
	ok, err := cli.MarkBad(context.Background(), "a@x.com", "chargeback")
	require.NoError(t, err)
	require.True(t, ok)

	rec := s.do(http.MethodGet, "/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHENTICATED", errorCode(t, rec))
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/me", token, nil).Code, "context stays closed")

	rec = s.do(http.MethodPost, "/login", "", session.CredentialsRequest{Email: "a@x.com", Password: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var out session.TokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/me", out.Token, nil).Code, "a bad account may log in again")
}
