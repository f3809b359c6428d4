// Package apperr holds the failure taxonomy shared by the account, trust,
// session and payment packages, plus helpers that map a failure to the
// user-facing message and HTTP status the outer surfaces report.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

// sentinel errors; wrap with fmt.Errorf("...: %w", err) and test with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicate         = errors.New("duplicate")
	ErrInvalidCredential = errors.New("invalid credential")
	ErrIncompleteDetails = errors.New("incomplete details")
	ErrMissingCredential = errors.New("missing credential")
	ErrFlaggedInstrument = errors.New("flagged instrument")
	ErrTrustRejected     = errors.New("trust rejected")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrForbidden         = errors.New("forbidden")
	ErrUnauthenticated   = errors.New("unauthenticated")
)

type entry struct {
	err     error
	code    string
	message string
	status  int
}

var table = []entry{
	{ErrNotFound, "NOT_FOUND", "User not found.", http.StatusNotFound},
	{ErrDuplicate, "DUPLICATE", "User already exists.", http.StatusConflict},
	{ErrInvalidCredential, "INVALID_CREDENTIAL", "Invalid password.", http.StatusUnauthorized},
	{ErrIncompleteDetails, "INCOMPLETE_DETAILS", "Please fill in all payment details.", http.StatusBadRequest},
	{ErrMissingCredential, "MISSING_CREDENTIAL", "Please enter your email and password.", http.StatusBadRequest},
	{ErrFlaggedInstrument, "FLAGGED_INSTRUMENT", "This card has been flagged for suspicious activity. Your account risk score has been increased.", http.StatusPaymentRequired},
	{ErrTrustRejected, "TRUST_REJECTED", "We apologize, but we cannot provide Rocket Credits at this time due to your payment history. Please try another payment method.", http.StatusForbidden},
	{ErrStoreUnavailable, "STORE_UNAVAILABLE", "Something went wrong. Please try again.", http.StatusServiceUnavailable},
	{ErrForbidden, "FORBIDDEN", "Administrator access required.", http.StatusForbidden},
	{ErrUnauthenticated, "UNAUTHENTICATED", "Please log in.", http.StatusUnauthorized},
}

func lookup(err error) (entry, bool) {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e, true
		}
	}
	return entry{}, false
}

// Code returns the taxonomy name of err, "CANCELED" for context errors and
// "INTERNAL" for anything unclassified. A nil error yields "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := lookup(err); ok {
		return e.code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "CANCELED"
	}
	return "INTERNAL"
}

// Message returns the text shown to the end user for err.
func Message(err error) string {
	if e, ok := lookup(err); ok {
		return e.message
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "The payment was interrupted. Please try again."
	}
	return "An error occurred. Please try again."
}

// HTTPStatus maps err onto the status code used by the HTTP handlers.
func HTTPStatus(err error) int {
	if e, ok := lookup(err); ok {
		return e.status
	}
	return http.StatusInternalServerError
}

// Terminal reports whether err ends a payment attempt without ending the
// session: the user may retry with another method.
func Terminal(err error) bool {
	return errors.Is(err, ErrFlaggedInstrument) || errors.Is(err, ErrTrustRejected)
}
