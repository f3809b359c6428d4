package entity

import (
	"strings"
	"time"
)

// Status is the trust classification of an account.
type Status string

const (
	StatusGood Status = "good"
	StatusBad  Status = "bad"
)

// Role grants capabilities to outer surfaces (admin dashboard / CLI); the
// trust core never reads it.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Score bounds and thresholds of the trust state.
const (
	MinRiskScore      = 0
	MaxRiskScore      = 100
	EscalationScore   = 80 // riskScore >= 80 forces status bad
	WarningScore      = 70 // riskScore > 70 attaches an eligibility warning
	GoodMarkDecrement = 50
	DefaultRiskPoints = 10
)

// Profile holds free-form contact fields owned by the account holder.
type Profile struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// Subscription is the plan the account currently pays for.
type Subscription struct {
	Plan      string    `json:"plan"`
	Price     string    `json:"price"`
	Method    string    `json:"method"`
	Terms     string    `json:"terms,omitempty"`
	StartedAt time.Time `json:"started_at"`
}

// PaymentRecord is one entry of the append-only payment history.
type PaymentRecord struct {
	ID     string    `json:"id"`
	Date   time.Time `json:"date"`
	Type   string    `json:"type"`
	Method string    `json:"method"`
	Amount string    `json:"amount"`
	Status string    `json:"status"`
}

// Account is the full stored record. The trust state is
// {Status, RiskScore, SuspensionReason, SuspensionDate}.
type Account struct {
	Key              string          `json:"key"`
	Email            string          `json:"email"`
	CredentialHash   string          `json:"credential_hash"`
	CredentialAlgo   string          `json:"credential_algo"`
	Role             Role            `json:"role"`
	Status           Status          `json:"status"`
	RiskScore        int             `json:"risk_score"`
	SuspensionReason *string         `json:"suspension_reason,omitempty"`
	SuspensionDate   *time.Time      `json:"suspension_date,omitempty"`
	Subscription     *Subscription   `json:"subscription,omitempty"`
	PaymentHistory   []PaymentRecord `json:"payment_history"`
	Profile          Profile         `json:"profile"`
	Version          int64           `json:"version"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// View is the session projection of an account: everything except the
// credential fields.
type View struct {
	Email            string          `json:"email"`
	Role             Role            `json:"role"`
	Status           Status          `json:"status"`
	RiskScore        int             `json:"risk_score"`
	SuspensionReason *string         `json:"suspension_reason,omitempty"`
	SuspensionDate   *time.Time      `json:"suspension_date,omitempty"`
	Subscription     *Subscription   `json:"subscription,omitempty"`
	PaymentHistory   []PaymentRecord `json:"payment_history"`
	Profile          Profile         `json:"profile"`
	CreatedAt        time.Time       `json:"created_at"`
}

// NormalizeEmail returns the identity key for an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// IsBad reports whether the account is classified bad.
func (a *Account) IsBad() bool { return a.Status == StatusBad }

// IsAdmin reports whether the account carries the admin role.
func (a *Account) IsAdmin() bool { return a.Role == RoleAdmin }

// Clone returns a deep copy so callers never share slices or pointers with
// the store.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.SuspensionReason != nil {
		r := *a.SuspensionReason
		c.SuspensionReason = &r
	}
	if a.SuspensionDate != nil {
		d := *a.SuspensionDate
		c.SuspensionDate = &d
	}
	if a.Subscription != nil {
		s := *a.Subscription
		c.Subscription = &s
	}
	c.PaymentHistory = append([]PaymentRecord(nil), a.PaymentHistory...)
	return &c
}

// View projects the account for a session, stripping credential fields.
func (a *Account) View() View {
	c := a.Clone()
	return View{
		Email:            c.Email,
		Role:             c.Role,
		Status:           c.Status,
		RiskScore:        c.RiskScore,
		SuspensionReason: c.SuspensionReason,
		SuspensionDate:   c.SuspensionDate,
		Subscription:     c.Subscription,
		PaymentHistory:   c.PaymentHistory,
		Profile:          c.Profile,
		CreatedAt:        c.CreatedAt,
	}
}
