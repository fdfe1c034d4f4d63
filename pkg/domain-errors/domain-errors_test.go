package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCarriesCodeAndMessage(t *testing.T) {
	err := New(CodeUnknownSchema, "schema does not resolve")

	var dErr *Error
	assert.True(t, errors.As(err, &dErr))
	assert.Equal(t, CodeUnknownSchema, dErr.Code)
	assert.Equal(t, "schema does not resolve", err.Error())
}

func TestWrapPreservesExistingCode(t *testing.T) {
	inner := New(CodeDuplicateRestriction, "pair already restricted")
	wrapped := Wrap(inner, CodeInternal, "add restriction failed")

	assert.True(t, HasCode(wrapped, CodeDuplicateRestriction))
	assert.False(t, HasCode(wrapped, CodeInternal))
	assert.True(t, errors.Is(wrapped, inner))
}

func TestWrapAssignsCodeToPlainErrors(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	wrapped := Wrap(inner, CodeInternal, "store unavailable")

	assert.True(t, HasCode(wrapped, CodeInternal))
	assert.True(t, errors.Is(wrapped, inner))
	assert.Equal(t, "store unavailable", wrapped.Error())
}

func TestHasCodeOnNilAndForeignErrors(t *testing.T) {
	assert.False(t, HasCode(nil, CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeNotFound))
}

func TestIsMatchesByCode(t *testing.T) {
	a := New(CodeIllegalTransition, "complete cannot regress")
	b := New(CodeIllegalTransition, "different message")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, New(CodeInvalidState, "x")))
}
