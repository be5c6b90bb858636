package chat

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStringIncludesCodeAndCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrUpstreamError, "dial upstream").WithCause(cause)

	assert.Contains(t, err.Error(), "UPSTREAM_ERROR")
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestCodeOfUnwrapsThroughFmtErrorf(t *testing.T) {
	inner := NewError(ErrCircuitOpen, "agent down").WithVendor("fastgpt")
	wrapped := fmt.Errorf("calling agent: %w", inner)

	assert.Equal(t, ErrCircuitOpen, CodeOf(wrapped))

	var ce *Error
	require.ErrorAs(t, wrapped, &ce)
	assert.Equal(t, "fastgpt", ce.Vendor)
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, ErrorCode(""), CodeOf(errors.New("plain")))
	assert.Equal(t, ErrorCode(""), CodeOf(nil))
}

func TestBuilderChain(t *testing.T) {
	err := NewError(ErrUpstreamError, "bad gateway").
		WithHTTPStatus(502).
		WithVendor("dify").
		WithRetryable(true)

	assert.Equal(t, 502, err.HTTPStatus)
	assert.Equal(t, "dify", err.Vendor)
	assert.True(t, err.Retryable)
}

func TestPredicates(t *testing.T) {
	assert.True(t, IsValidation(NewError(ErrInvalidRequest, "x")))
	assert.True(t, IsVendorApp(NewError(ErrVendorApp, "x")))
	assert.True(t, IsCanceled(NewError(ErrCanceled, "x")))
	assert.False(t, IsValidation(NewError(ErrUpstreamError, "x")))
}
