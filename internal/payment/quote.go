package payment

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-trust/internal/plan"
)

// Quote is the priced outcome of credit terms for a plan.
type Quote struct {
	Plan       string    `json:"plan"`
	Price      string    `json:"price"`
	Kind       TermsKind `json:"kind"`
	Amount     string    `json:"amount"`
	Period     int       `json:"period,omitempty"`
	Days       int       `json:"days,omitempty"`
	Multiplier string    `json:"multiplier"`
	Terms      string    `json:"terms"`
}

// Price evaluates credit terms against a plan. For an installment Amount is
// the monthly charge; for a credit it is the sum owed on the return date.
func Price(p plan.Plan, c CreditTerms, now time.Time) (Quote, error) {
	q := Quote{Plan: p.Name, Price: p.Price, Kind: c.Kind}
	switch c.Kind {
	case TermsInstallment:
		amount, err := InstallmentMonthly(p.Price, c.Period)
		if err != nil {
			return Quote{}, err
		}
		q.Amount = amount
		q.Period = c.Period
		q.Multiplier = longSurcharge.Text('f')
		if c.Period <= 3 {
			q.Multiplier = shortSurcharge.Text('f')
		}
		q.Terms = string(TermsInstallment) + ":" + strconv.Itoa(c.Period)
	case TermsCredit:
		if err := CheckReturnDate(now, c.ReturnDate); err != nil {
			return Quote{}, err
		}
		amount, err := ReturnAmount(p.Price, now, c.ReturnDate)
		if err != nil {
			return Quote{}, err
		}
		q.Amount = amount
		q.Days = DaysBetween(now, c.ReturnDate)
		q.Multiplier = ReturnMultiplier(q.Days)
		q.Terms = string(TermsCredit) + ":" + c.ReturnDate.Format(time.DateOnly)
	default:
		return Quote{}, fmt.Errorf("credit terms %q: %w", c.Kind, apperr.ErrIncompleteDetails)
	}
	return q, nil
}
