package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("normalize: %w", ErrOversized.WithDetail("limit", 5000))

	assert.True(t, stderrors.Is(err, ErrOversized))
	assert.False(t, stderrors.Is(err, ErrEmptyContent))
	assert.True(t, IsOversized(err))
}

func TestError_Retryability(t *testing.T) {
	assert.True(t, ErrServiceUnavailable.IsRetryable())
	assert.False(t, ErrValidation.IsRetryable())
	assert.True(t, ErrOversized.IsFatal())
	assert.False(t, ErrTimeout.IsFatal())

	assert.True(t, ErrValidation.AsRetryable().IsRetryable())
	assert.True(t, ErrTimeout.AsFatal().IsFatal())
}

func TestError_WithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrRateLimited.WithDetail("chat_id", "1")
	assert.Empty(t, ErrRateLimited.Details)
}

func TestError_Message(t *testing.T) {
	err := ErrConfig.WithMessage("rule set is empty")
	assert.Equal(t, "CONFIG_ERROR: rule set is empty", err.Error())

	wrapped := Wrap(stderrors.New("boom"), ErrInternal)
	assert.Equal(t, "INTERNAL_ERROR: internal server error (caused by: boom)", wrapped.Error())
	assert.Nil(t, Wrap(nil, ErrInternal))
}

func TestError_CodePredicates(t *testing.T) {
	oversized := fmt.Errorf("image: %w", ErrOversized.WithDetail("size", 11))
	invalid := fmt.Errorf("image: %w", ErrValidation.WithMessage("image dimensions exceed limit"))

	assert.True(t, IsOversized(oversized))
	assert.False(t, IsValidation(oversized))
	assert.True(t, IsValidation(invalid))
	assert.False(t, IsOversized(invalid))
	assert.False(t, IsOversized(stderrors.New("plain")))
	assert.True(t, ErrEmptyContent.IsFatal())
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, ToHTTPStatus(ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(stderrors.New("x")))
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("kaboom")
	var appErr *Error
	assert.True(t, stderrors.As(err, &appErr))
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, true, appErr.Details["panic"])
}
