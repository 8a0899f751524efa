package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestX402Error_IsMatchesCode(t *testing.T) {
	err := NewError(CodeFieldMismatch, "recipient differs", nil)

	assert.True(t, errors.Is(err, ErrFieldMismatch))
	assert.False(t, errors.Is(err, ErrInsufficientAmount))

	wrapped := fmt.Errorf("verify: %w", err)
	assert.True(t, errors.Is(wrapped, ErrFieldMismatch))
	assert.Equal(t, CodeFieldMismatch, CodeOf(wrapped))
}

func TestX402Error_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(CodeNetworkUnavailable, "node unreachable", cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, errors.Is(err, ErrNetworkUnavailable))
	assert.Equal(t, "NETWORK_UNAVAILABLE: node unreachable: connection refused", err.Error())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.Equal(t, CodePaymentExpired, CodeOf(ErrPaymentExpired))
	assert.Equal(t, CodeMissingTransaction, CodeOf(ErrMissingTransaction))
}
