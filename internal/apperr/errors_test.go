package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCode_WrappedSentinels(t *testing.T) {
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("find a@x.com: %w", ErrNotFound), "NOT_FOUND"},
		{fmt.Errorf("signup: %w", ErrDuplicate), "DUPLICATE"},
		{ErrInvalidCredential, "INVALID_CREDENTIAL"},
		{ErrIncompleteDetails, "INCOMPLETE_DETAILS"},
		{fmt.Errorf("signup: %w", ErrMissingCredential), "MISSING_CREDENTIAL"},
		{ErrFlaggedInstrument, "FLAGGED_INSTRUMENT"},
		{ErrTrustRejected, "TRUST_REJECTED"},
		{fmt.Errorf("set: %w", ErrStoreUnavailable), "STORE_UNAVAILABLE"},
		{fmt.Errorf("processing: %w", context.Canceled), "CANCELED"},
		{errors.New("boom"), "INTERNAL"},
		{nil, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, Code(tc.err), "err=%v", tc.err)
	}
}

func TestHTTPStatusAndMessage(t *testing.T) {
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrDuplicate))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("x")))
	assert.Equal(t, "User not found.", Message(fmt.Errorf("w: %w", ErrNotFound)))
	assert.Contains(t, Message(ErrStoreUnavailable), "try again")
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(ErrMissingCredential))
	assert.Equal(t, "Please enter your email and password.", Message(ErrMissingCredential))
}

func TestTerminal(t *testing.T) {
	assert.True(t, Terminal(ErrFlaggedInstrument))
	assert.True(t, Terminal(fmt.Errorf("x: %w", ErrTrustRejected)))
	assert.False(t, Terminal(ErrIncompleteDetails))
}

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("admin: %w", ErrForbidden))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "FORBIDDEN", body.Error)
	assert.Equal(t, "Administrator access required.", body.Message)
}
