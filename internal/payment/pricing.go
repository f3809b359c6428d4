package payment

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/ovaphlow/pitchfork/service-trust/internal/apperr"
)

// ErrInvalidTerms marks credit terms outside the offered range.
var ErrInvalidTerms = fmt.Errorf("invalid credit terms: %w", apperr.ErrIncompleteDetails)

// InstallmentPeriods lists the offered installment lengths in months.
var InstallmentPeriods = []int{3, 6, 12}

// MaxReturnWindow bounds how far out a credit return date may be.
const MaxReturnWindow = 1 // years

var (
	shortSurcharge = apd.New(12, -1) // 1.2 for periods up to 3 months
	longSurcharge  = apd.New(14, -1) // 1.4 beyond
)

// returnTiers maps the days until the return date onto the multiplier of
// the plan price owed.
var returnTiers = []struct {
	maxDays int
	mult    *apd.Decimal
}{
	{30, apd.New(11, -1)},
	{60, apd.New(15, -1)},
	{90, apd.New(17, -1)},
	{math.MaxInt, apd.New(20, -1)},
}

func decimalContext() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}

// ValidPeriod reports whether months is an offered installment length.
func ValidPeriod(months int) bool {
	for _, p := range InstallmentPeriods {
		if p == months {
			return true
		}
	}
	return false
}

// InstallmentMonthly returns round(price*mult/period, 2), mult being 1.2 for
// periods up to 3 months and 1.4 otherwise.
func InstallmentMonthly(price string, period int) (string, error) {
	if !ValidPeriod(period) {
		return "", fmt.Errorf("period %d months: %w", period, ErrInvalidTerms)
	}
	p, err := parsePrice(price)
	if err != nil {
		return "", err
	}
	mult := shortSurcharge
	if period > 3 {
		mult = longSurcharge
	}
	c := decimalContext()
	var r apd.Decimal
	if _, err := c.Mul(&r, p, mult); err != nil {
		return "", err
	}
	if _, err := c.Quo(&r, &r, apd.New(int64(period), 0)); err != nil {
		return "", err
	}
	return round2(c, &r)
}

// DaysBetween returns ceil(|b-a| / 24h).
func DaysBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		d = -d
	}
	return int(math.Ceil(d.Hours() / 24))
}

// ReturnMultiplier returns the tier multiplier for the given day count.
func ReturnMultiplier(days int) string {
	for _, t := range returnTiers {
		if days <= t.maxDays {
			return t.mult.Text('f')
		}
	}
	return returnTiers[len(returnTiers)-1].mult.Text('f')
}

// ReturnAmount returns round(price*tier, 2) for a credit repaid on
// returnDate. Shorter windows carry a smaller multiplier.
func ReturnAmount(price string, today, returnDate time.Time) (string, error) {
	p, err := parsePrice(price)
	if err != nil {
		return "", err
	}
	days := DaysBetween(today, returnDate)
	var mult *apd.Decimal
	for _, t := range returnTiers {
		if days <= t.maxDays {
			mult = t.mult
			break
		}
	}
	c := decimalContext()
	var r apd.Decimal
	if _, err := c.Mul(&r, p, mult); err != nil {
		return "", err
	}
	return round2(c, &r)
}

// CheckReturnDate rejects dates before today or more than a year out.
func CheckReturnDate(today, returnDate time.Time) error {
	if returnDate.IsZero() {
		return fmt.Errorf("return date required: %w", ErrInvalidTerms)
	}
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, today.Location())
	if returnDate.Before(start) {
		return fmt.Errorf("return date %s is in the past: %w", returnDate.Format(time.DateOnly), ErrInvalidTerms)
	}
	if returnDate.After(today.AddDate(MaxReturnWindow, 0, 0)) {
		return fmt.Errorf("return date %s is more than a year out: %w", returnDate.Format(time.DateOnly), ErrInvalidTerms)
	}
	return nil
}

func parsePrice(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("price %q: %w", s, err)
	}
	if d.Form != apd.Finite || d.Sign() <= 0 {
		return nil, fmt.Errorf("price %q must be positive", s)
	}
	return d, nil
}

func round2(c *apd.Context, d *apd.Decimal) (string, error) {
	var out apd.Decimal
	if _, err := c.Quantize(&out, d, -2); err != nil {
		return "", err
	}
	return out.Text('f'), nil
}
