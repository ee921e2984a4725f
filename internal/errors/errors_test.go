package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrMailboxNotFound, "mailbox test@example.com not found", CodeNotFound)
	assert.Equal(t, "mailbox test@example.com not found", err.Error())

	err = NewAppError(ErrMailboxNotFound, "", CodeNotFound)
	assert.Equal(t, "mailbox not found", err.Error())
}

func TestAppError_Unwrap(t *testing.T) {
	err := NewAppError(ErrMailboxExpired, "expired", CodeMailboxExpired)
	assert.True(t, errors.Is(err, ErrMailboxExpired))
}

func TestWrap(t *testing.T) {
	assert.NoError(t, Wrap(nil, "context"))

	wrapped := Wrap(ErrMailboxNotFound, "fetching inbox")
	assert.True(t, errors.Is(wrapped, ErrMailboxNotFound))
	assert.Contains(t, wrapped.Error(), "fetching inbox")
}

func TestStore(t *testing.T) {
	assert.NoError(t, Store(nil))

	err := Store(errors.New("connection refused"))
	assert.True(t, IsStore(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsValidation(t *testing.T) {
	assert.True(t, IsValidation(ErrInvalidInput))
	assert.True(t, IsValidation(ErrInvalidAddress))
	assert.True(t, IsValidation(ErrProtectedAddress))
	assert.True(t, IsValidation(ErrInvalidRetention))
	assert.True(t, IsValidation(ErrInvalidWhitelistRule))
	assert.False(t, IsValidation(ErrMailboxNotFound))
	assert.False(t, IsValidation(ErrStore))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(ErrNotFound))
	assert.True(t, IsNotFound(ErrMailboxNotFound))
	assert.True(t, IsNotFound(ErrMessageNotFound))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", ErrMailboxNotFound)))
	assert.False(t, IsNotFound(ErrMailboxExists))
}

func TestIsState(t *testing.T) {
	assert.True(t, IsState(ErrMailboxExpired))
	assert.True(t, IsState(ErrMailboxDisabled))
	assert.False(t, IsState(ErrMailboxNotFound))
}

func TestGetErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not found", ErrMailboxNotFound, CodeNotFound},
		{"message not found", ErrMessageNotFound, CodeNotFound},
		{"invalid input", ErrInvalidInput, CodeInvalidInput},
		{"protected address", ErrProtectedAddress, CodeProtectedAddress},
		{"invalid retention", ErrInvalidRetention, CodeInvalidRetention},
		{"conflict", ErrMailboxExists, CodeMailboxExists},
		{"expired", ErrMailboxExpired, CodeMailboxExpired},
		{"disabled", ErrMailboxDisabled, CodeMailboxDisabled},
		{"invalid key", ErrInvalidKey, CodeInvalidKey},
		{"unauthorized", ErrUnauthorized, CodeUnauthorized},
		{"forbidden", ErrForbidden, CodeForbidden},
		{"store", Store(errors.New("disk full")), CodeStoreError},
		{"wrapped", fmt.Errorf("create: %w", ErrMailboxExists), CodeMailboxExists},
		{"unknown", errors.New("boom"), CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, GetErrorCode(tt.err))
		})
	}
}
