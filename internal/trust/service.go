// Package trust holds the rules that move an account between the good and
// bad states and accumulate its risk score.
//
// State machine per account:
//
//	GOOD --MarkBad / riskScore>=80--> BAD
//	BAD  --MarkGood-----------------> GOOD
//
// Every mutation is one atomic Update on the account store. Observers (the
// session registry) are notified synchronously before a call returns, so a
// caller reading session state right after never sees a stale projection.
package trust

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-trust/internal/account"
	"github.com/ovaphlow/pitchfork/service-trust/internal/account/entity"
	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
)

// Reasons stamped on suspensions the caller did not explain.
const (
	DefaultBadReason    = "Suspicious activity"
	AutoEscalatedReason = "Risk score threshold exceeded"
)

// Advisory messages attached by EvaluateEligibility.
const (
	MsgFlagged     = "Your account has been flagged for suspicious payment activity. Rocket Credits can reject your application."
	MsgHighRisk    = "Due to your account's risk assessment, Rocket Credits can reject your application."
	MsgUnknownUser = "User not found."
)

// Observer receives the committed account after every trust mutation.
// forceLogout is set when the account just became bad.
type Observer interface {
	AccountChanged(a *entity.Account, forceLogout bool)
}

// Eligibility is the advisory result of a credit instrument pre-check.
type Eligibility struct {
	Allowed bool   `json:"allowed"`
	Message string `json:"message,omitempty"`
}

// Engine applies trust rules through the account store.
type Engine struct {
	store    *account.Store
	observer Observer
	logger   *zap.SugaredLogger
}

func NewEngine(store *account.Store, observer Observer, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Engine{store: store, observer: observer, logger: logger}
}

// EvaluateEligibility never blocks a known account: bad status or a risk
// score above 70 only attach a warning. Final enforcement happens after
// payment processing. Only an unknown account is refused.
func (e *Engine) EvaluateEligibility(ctx context.Context, email string) (Eligibility, error) {
	a, err := e.store.Find(ctx, email)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Eligibility{Allowed: false, Message: MsgUnknownUser}, nil
		}
		return Eligibility{}, err
	}
	switch {
	case a.IsBad():
		return Eligibility{Allowed: true, Message: MsgFlagged}, nil
	case a.RiskScore > entity.WarningScore:
		return Eligibility{Allowed: true, Message: MsgHighRisk}, nil
	}
	return Eligibility{Allowed: true}, nil
}

// MarkBad suspends the account with risk 100. An empty reason falls back to
// DefaultBadReason. Marking an already bad account re-stamps reason and date.
// Returns false without error when the account does not exist.
func (e *Engine) MarkBad(ctx context.Context, email, reason string) (bool, error) {
	if reason == "" {
		reason = DefaultBadReason
	}
	a, err := e.store.Update(ctx, email, func(a *entity.Account) error {
		e.suspend(a, reason)
		a.RiskScore = entity.MaxRiskScore
		return nil
	})
	if err != nil {
		return e.missing(err)
	}
	e.logger.Infow("account marked bad", "email", a.Key, "reason", reason)
	e.notify(a, true)
	return true, nil
}

// MarkGood reinstates the account, lowers its risk by 50 (never below 0) and
// clears the suspension. Live sessions are refreshed, not logged out.
func (e *Engine) MarkGood(ctx context.Context, email string) (bool, error) {
	a, err := e.store.Update(ctx, email, func(a *entity.Account) error {
		a.Status = entity.StatusGood
		a.RiskScore = clamp(a.RiskScore - entity.GoodMarkDecrement)
		a.SuspensionReason = nil
		a.SuspensionDate = nil
		return nil
	})
	if err != nil {
		return e.missing(err)
	}
	e.logger.Infow("account marked good", "email", a.Key, "risk_score", a.RiskScore)
	e.notify(a, false)
	return true, nil
}

// IncreaseRisk adds points (negative values count as zero) and escalates a
// good account to bad once the score reaches 80.
func (e *Engine) IncreaseRisk(ctx context.Context, email string, points int) (bool, error) {
	if points < 0 {
		points = 0
	}
	var escalated bool
	a, err := e.store.Update(ctx, email, func(a *entity.Account) error {
		escalated = false
		a.RiskScore = clamp(a.RiskScore + points)
		if a.RiskScore >= entity.EscalationScore && !a.IsBad() {
			e.suspend(a, AutoEscalatedReason)
			escalated = true
		}
		return nil
	})
	if err != nil {
		return e.missing(err)
	}
	if escalated {
		e.logger.Infow("account auto-escalated to bad", "email", a.Key, "risk_score", a.RiskScore)
	} else {
		e.logger.Debugw("risk score increased", "email", a.Key, "points", points, "risk_score", a.RiskScore)
	}
	e.notify(a, escalated)
	return true, nil
}

// BadList returns the keys of all bad accounts.
func (e *Engine) BadList(ctx context.Context) ([]string, error) {
	return e.store.BadList(ctx)
}

// Accounts lists every account for administrative read access.
func (e *Engine) Accounts(ctx context.Context) ([]*entity.Account, error) {
	return e.store.List(ctx)
}

func (e *Engine) suspend(a *entity.Account, reason string) {
	now := e.store.Now().UTC()
	a.Status = entity.StatusBad
	a.SuspensionReason = &reason
	a.SuspensionDate = &now
}

func (e *Engine) notify(a *entity.Account, forceLogout bool) {
	if e.observer != nil {
		e.observer.AccountChanged(a, forceLogout)
	}
}

// missing turns NOT_FOUND into a silent false; other failures propagate.
func (e *Engine) missing(err error) (bool, error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	e.logger.Warnw("trust mutation failed", "err", err)
	return false, err
}

func clamp(score int) int {
	if score < entity.MinRiskScore {
		return entity.MinRiskScore
	}
	if score > entity.MaxRiskScore {
		return entity.MaxRiskScore
	}
	return score
}
