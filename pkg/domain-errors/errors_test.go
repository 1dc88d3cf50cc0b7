package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	err := New(CodeVersionConflict, "expected version 2")
	assert.True(t, HasCode(err, CodeVersionConflict))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(nil, CodeVersionConflict))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
}

func TestHasCode_Wrapped(t *testing.T) {
	inner := New(CodeConsentNotActive, "consent is revoked")
	outer := Wrap(inner, CodeInternal, "record usage failed")

	assert.True(t, HasCode(outer, CodeInternal))
	assert.True(t, HasCode(outer, CodeConsentNotActive))

	// fmt wrapping keeps codes reachable too.
	wrapped := fmt.Errorf("handler: %w", outer)
	assert.True(t, HasCode(wrapped, CodeConsentNotActive))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeAlreadyRevoked, CodeOf(New(CodeAlreadyRevoked, "x")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "directory unreachable")
	require.ErrorIs(t, err, cause)
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(CodeVersionConflict))
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(CodeValidation))
	assert.Equal(t, http.StatusNotFound, ToHTTPStatus(CodeNotFound))
	assert.Equal(t, http.StatusBadGateway, ToHTTPStatus(CodeParticipantValidation))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(CodeInternal))
}
