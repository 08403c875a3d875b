package auth_test

import (
	"errors"
	"fmt"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/goliatone/go-wallet-auth"
)

func TestIsTokenExpiredError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured token expired error",
			err:      auth.ErrTokenExpired,
			expected: true,
		},
		{
			name:     "Legacy token expired error (string match)",
			err:      errors.New("some wrapper: token is expired"),
			expected: true,
		},
		{
			name:     "Different structured error",
			err:      auth.ErrIdentityNotFound,
			expected: false,
		},
		{
			name:     "Different legacy error",
			err:      errors.New("invalid token"),
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsTokenExpiredError(tt.err))
		})
	}
}

func TestIsMalformedError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Structured malformed error",
			err:      auth.ErrTokenMalformed,
			expected: true,
		},
		{
			name:     "Legacy malformed error",
			err:      errors.New("token is malformed: could not base64 decode header"),
			expected: true,
		},
		{
			name:     "Missing JWT",
			err:      fmt.Errorf("wrap: %w", errors.New("missing or malformed JWT")),
			expected: true,
		},
		{
			name:     "Other error",
			err:      auth.ErrSessionRevoked,
			expected: false,
		},
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, auth.IsMalformedError(tt.err))
		})
	}
}

func TestStructuredErrorProperties(t *testing.T) {
	tests := []struct {
		err      *goerrors.Error
		category goerrors.Category
		textCode string
	}{
		{auth.ErrEmailTaken, goerrors.CategoryConflict, auth.TextCodeEmailTaken},
		{auth.ErrUsernameTaken, goerrors.CategoryConflict, auth.TextCodeUsernameTaken},
		{auth.ErrWalletTaken, goerrors.CategoryConflict, auth.TextCodeWalletTaken},
		{auth.ErrInvalidCredentials, goerrors.CategoryAuth, auth.TextCodeInvalidCredentials},
		{auth.ErrInvalidWalletProof, goerrors.CategoryAuth, auth.TextCodeInvalidWalletProof},
		{auth.ErrInvalidOrExpiredToken, goerrors.CategoryAuth, auth.TextCodeInvalidToken},
		{auth.ErrNotAuthenticated, goerrors.CategoryAuth, auth.TextCodeNotAuthenticated},
		{auth.ErrSessionRevoked, goerrors.CategoryAuth, auth.TextCodeSessionRevoked},
		{auth.ErrIdentityNotFound, goerrors.CategoryNotFound, auth.TextCodeIdentityNotFound},
		{auth.ErrAlreadyVerified, goerrors.CategoryBadInput, auth.TextCodeAlreadyVerified},
	}

	for _, tt := range tests {
		t.Run(tt.textCode, func(t *testing.T) {
			assert.Equal(t, tt.category, tt.err.Category)
			assert.Equal(t, tt.textCode, tt.err.TextCode)
			assert.True(t, auth.HasTextCode(tt.err, tt.textCode))
		})
	}
}

func TestNewValidationErrorFields(t *testing.T) {
	err := auth.NewValidationError(validation.Errors{
		"username": errors.New("Username is required"),
		"email":    errors.New("Please provide a valid email"),
	})

	assert.Equal(t, goerrors.CategoryValidation, err.Category)
	fields, ok := err.Metadata["fields"].([]auth.FieldError)
	require.True(t, ok)
	assert.Equal(t, []auth.FieldError{
		{Field: "email", Message: "Please provide a valid email"},
		{Field: "username", Message: "Username is required"},
	}, fields)
}

func TestValidationFieldsPlainError(t *testing.T) {
	fields := auth.ValidationFields(errors.New("unexpected EOF"))
	assert.Equal(t, []auth.FieldError{{Field: "", Message: "unexpected EOF"}}, fields)
	assert.Nil(t, auth.ValidationFields(nil))
}

func TestMailDispatchErrorMasksRecipient(t *testing.T) {
	err := auth.NewMailDispatchError(errors.New("down"), "alice@x.io")
	assert.Equal(t, "a***@x.io", err.Metadata["to"])
	assert.Equal(t, goerrors.CategoryOperation, err.Category)
}
