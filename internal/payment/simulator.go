// Package payment simulates the subscription checkout. A Transaction walks
//
//	IDLE -> SELECTING_METHOD -> VALIDATING -> PROCESSING -> SUCCEEDED | REJECTED
//
// asking the trust engine for advisory eligibility when the credit
// instrument is chosen and enforcing the account status only after
// processing completes.
package payment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/plan"
	"github.com/ovaphlow/pitchfork/service-trust/internal/trust"
	"github.com/ovaphlow/pitchfork/service-trust/pkg/utilities"
)

type State string

const (
	StateIdle            State = "IDLE"
	StateSelectingMethod State = "SELECTING_METHOD"
	StateValidating      State = "VALIDATING"
	StateProcessing      State = "PROCESSING"
	StateSucceeded       State = "SUCCEEDED"
	StateRejected        State = "REJECTED"
)

type Method string

const (
	MethodCard   Method = "card"
	MethodWallet Method = "paypal"
	MethodCredit Method = "rocket"
)

// TermsKind selects how a credit-instrument payment is repaid.
type TermsKind string

const (
	TermsCredit      TermsKind = "credit"
	TermsInstallment TermsKind = "installment"
)

// FraudCardNumber is the card identifier known to be compromised.
const FraudCardNumber = "1111222233334444"

// FraudRiskPoints is added to the account when the fraud card is used.
const FraudRiskPoints = 30

const (
	progressStep  = 20
	progressLimit = 100
)

var (
	ErrInvalidState  = errors.New("payment: operation not allowed in current state")
	ErrUnknownMethod = errors.New("payment: unknown method")
)

type CardDetails struct {
	Number string `json:"card_number"`
	Name   string `json:"card_name"`
	Expiry string `json:"expiry_date"`
	CVV    string `json:"cvv"`
}

type WalletDetails struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type CreditTerms struct {
	Kind       TermsKind `json:"kind"`
	ReturnDate time.Time `json:"return_date,omitempty"`
	Period     int       `json:"period,omitempty"`
}

// Details carries the method-specific input of a submission; only the part
// matching the selected method is read.
type Details struct {
	Card   CardDetails   `json:"card"`
	Wallet WalletDetails `json:"wallet"`
	Credit CreditTerms   `json:"credit"`
}

// Result describes a finished transaction.
type Result struct {
	TransactionID string                `json:"transaction_id"`
	State         State                 `json:"state"`
	Method        Method                `json:"method"`
	Amount        string                `json:"amount,omitempty"`
	Record        *entity.PaymentRecord `json:"record,omitempty"`
	Subscription  *entity.Subscription  `json:"subscription,omitempty"`
	Advisory      string                `json:"advisory,omitempty"`
}

type Config struct {
	StepDelay time.Duration
}

// ConfigFromEnv reads PAYMENT_STEP_DELAY_MS (default 600).
func ConfigFromEnv() Config {
	delay := 600 * time.Millisecond
	if v := os.Getenv("PAYMENT_STEP_DELAY_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			delay = time.Duration(ms) * time.Millisecond
		}
	}
	return Config{StepDelay: delay}
}

// Simulator creates transactions and owns their collaborators.
type Simulator struct {
	store    *account.Store
	engine   *trust.Engine
	observer trust.Observer
	ids      *utilities.IDGen
	logger   *zap.SugaredLogger
	// configuration knobs
	StepDelay time.Duration
	Now       func() time.Time
}

func NewSimulator(store *account.Store, engine *trust.Engine, observer trust.Observer, ids *utilities.IDGen, logger *zap.SugaredLogger) *Simulator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Simulator{
		store:     store,
		engine:    engine,
		observer:  observer,
		ids:       ids,
		logger:    logger,
		StepDelay: 600 * time.Millisecond,
		Now:       time.Now,
	}
}

// Transaction is one checkout attempt by one account for one plan.
type Transaction struct {
	sim   *Simulator
	id    string
	email string
	plan  plan.Plan

	mu       sync.Mutex
	state    State
	method   Method
	advisory string
	progress int
}

// Begin starts a transaction in IDLE.
func (s *Simulator) Begin(email string, p plan.Plan) *Transaction {
	return &Transaction{sim: s, id: s.ids.Next(), email: email, plan: p, state: StateIdle}
}

func (t *Transaction) ID() string { return t.id }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Progress returns the last reported processing percentage.
func (t *Transaction) Progress() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// SelectMethod moves the transaction to SELECTING_METHOD. Choosing the
// credit instrument consults eligibility first: a refusal leaves the state
// and the previous method unchanged and returns the eligibility message in
// the error, an allowed result with a message is returned as advisory.
// A rejected attempt may select again to retry with another method.
func (t *Transaction) SelectMethod(ctx context.Context, m Method) (string, error) {
	switch m {
	case MethodCard, MethodWallet, MethodCredit:
	default:
		return "", fmt.Errorf("%q: %w", m, ErrUnknownMethod)
	}

	t.mu.Lock()
	st := t.state
	t.mu.Unlock()
	if st != StateIdle && st != StateSelectingMethod && st != StateRejected {
		return "", fmt.Errorf("select method in %s: %w", st, ErrInvalidState)
	}

	advisory := ""
	if m == MethodCredit {
		el, err := t.sim.engine.EvaluateEligibility(ctx, t.email)
		if err != nil {
			return "", err
		}
		if !el.Allowed {
			t.sim.logger.Infow("credit instrument refused", "tx", t.id, "email", t.email, "message", el.Message)
			return el.Message, fmt.Errorf("%s: %w", el.Message, apperr.ErrNotFound)
		}
		advisory = el.Message
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != st {
		return "", fmt.Errorf("select method: %w", ErrInvalidState)
	}
	t.state = StateSelectingMethod
	t.method = m
	t.advisory = advisory
	t.progress = 0
	return advisory, nil
}

// Submit validates the details, runs the processing delay and commits the
// payment. progress, if non-nil, receives 0, 20, ... 100. Cancelling ctx
// during processing rejects the transaction; side effects already
// committed, such as a fraud risk increase, are kept.
func (t *Transaction) Submit(ctx context.Context, d Details, progress func(int)) (Result, error) {
	t.mu.Lock()
	if t.state != StateSelectingMethod {
		st := t.state
		t.mu.Unlock()
		return Result{}, fmt.Errorf("submit in %s: %w", st, ErrInvalidState)
	}
	t.state = StateValidating
	method, advisory := t.method, t.advisory
	t.mu.Unlock()

	res := Result{TransactionID: t.id, Method: method, Advisory: advisory}
	log := t.sim.logger.With("tx", t.id, "email", t.email, "method", method)

	now := t.sim.Now()
	amount, terms, err := t.validate(method, d, now)
	if err != nil {
		log.Debugw("payment details rejected", "err", err)
		return t.reject(res, err)
	}
	res.Amount = amount

	if method == MethodCard && normalizeCard(d.Card.Number) == FraudCardNumber {
		if _, err := t.sim.engine.IncreaseRisk(ctx, t.email, FraudRiskPoints); err != nil {
			log.Warnw("fraud risk increase failed", "err", err)
			return t.reject(res, err)
		}
		log.Infow("flagged card submitted", "risk_points", FraudRiskPoints)
		return t.reject(res, fmt.Errorf("card %s: %w", maskCard(d.Card.Number), apperr.ErrFlaggedInstrument))
	}

	t.setState(StateProcessing)
	if err := t.process(ctx, progress); err != nil {
		log.Infow("payment processing abandoned", "err", err, "progress", t.Progress())
		return t.reject(res, fmt.Errorf("processing: %w", err))
	}

	rec := entity.PaymentRecord{
		ID:     t.sim.ids.Next(),
		Date:   now.UTC(),
		Type:   t.plan.Name,
		Method: string(method),
		Amount: amount,
		Status: "completed",
	}
	sub := entity.Subscription{
		Plan:      t.plan.Name,
		Price:     t.plan.Price,
		Method:    string(method),
		Terms:     terms,
		StartedAt: now.UTC(),
	}
	// The credit check and the commit are one write, so a suspension can
	// never land between them.
	a, err := t.sim.store.Update(ctx, t.email, func(a *entity.Account) error {
		if method == MethodCredit && a.IsBad() {
			return fmt.Errorf("credit for %s: %w", a.Key, apperr.ErrTrustRejected)
		}
		a.PaymentHistory = append(a.PaymentHistory, rec)
		s := sub
		a.Subscription = &s
		return nil
	})
	if errors.Is(err, apperr.ErrTrustRejected) {
		log.Infow("credit instrument rejected after processing", "err", err)
		return t.reject(res, err)
	}
	if err != nil {
		log.Warnw("payment commit failed", "err", err)
		return t.reject(res, err)
	}
	if t.sim.observer != nil {
		t.sim.observer.AccountChanged(a, false)
	}

	t.setState(StateSucceeded)
	res.State = StateSucceeded
	res.Record = &rec
	res.Subscription = &sub
	log.Infow("payment succeeded", "plan", t.plan.Name, "amount", amount)
	return res, nil
}

// validate checks the required fields of the method and prices the
// payment. It has no side effects.
func (t *Transaction) validate(m Method, d Details, now time.Time) (amount, terms string, err error) {
	switch m {
	case MethodCard:
		c := d.Card
		if blank(c.Number, c.Name, c.Expiry, c.CVV) {
			return "", "", fmt.Errorf("card details: %w", apperr.ErrIncompleteDetails)
		}
		return t.plan.Price, "", nil
	case MethodWallet:
		w := d.Wallet
		if blank(w.Email, w.Password) {
			return "", "", fmt.Errorf("paypal details: %w", apperr.ErrIncompleteDetails)
		}
		return t.plan.Price, "", nil
	case MethodCredit:
		q, err := Price(t.plan, d.Credit, now)
		if err != nil {
			return "", "", err
		}
		return q.Amount, q.Terms, nil
	}
	return "", "", fmt.Errorf("%q: %w", m, ErrUnknownMethod)
}

func (t *Transaction) process(ctx context.Context, progress func(int)) error {
	timer := time.NewTimer(t.sim.StepDelay)
	defer timer.Stop()
	for p := 0; p <= progressLimit; p += progressStep {
		if p > 0 {
			timer.Reset(t.sim.StepDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		t.mu.Lock()
		t.progress = p
		t.mu.Unlock()
		if progress != nil {
			progress(p)
		}
	}
	return nil
}

func (t *Transaction) reject(res Result, err error) (Result, error) {
	t.setState(StateRejected)
	res.State = StateRejected
	return res, err
}

func (t *Transaction) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Pay runs a whole transaction: begin, select, submit.
func (s *Simulator) Pay(ctx context.Context, email string, p plan.Plan, m Method, d Details, progress func(int)) (Result, error) {
	tx := s.Begin(email, p)
	advisory, err := tx.SelectMethod(ctx, m)
	if err != nil {
		return Result{TransactionID: tx.ID(), State: tx.State(), Method: m, Advisory: advisory}, err
	}
	return tx.Submit(ctx, d, progress)
}

func blank(fields ...string) bool {
	for _, f := range fields {
		if strings.TrimSpace(f) == "" {
			return true
		}
	}
	return false
}

func normalizeCard(n string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(n)
}

func maskCard(n string) string {
	n = normalizeCard(n)
	if len(n) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(n)-4) + n[len(n)-4:]
}
